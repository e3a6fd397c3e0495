package aggregate

import (
	"cmp"
	"fmt"
	"slices"

	"marketscan/internal/fetcher"
)

// FailureEntry is one line of a failure report.
type FailureEntry struct {
	Key    string
	Type   fetcher.ErrorType
	Reason string
}

// Report summarizes a run's failures for the caller.
type Report struct {
	Source     string
	Dispatched int
	Succeeded  int
	Failed     int
	Causes     map[fetcher.ErrorType]int
	Failures   []FailureEntry
}

// Report builds the failure report for o. Entries follow key order.
func (o *Outcome[K, V]) Report() Report {
	failures := slices.Clone(o.Failures)
	slices.SortFunc(failures, func(a, b Failure[K]) int {
		return cmp.Compare(a.Index, b.Index)
	})

	r := Report{
		Source:     o.Source,
		Dispatched: o.Dispatched,
		Succeeded:  len(o.Records),
		Failed:     len(o.Failures),
		Causes:     make(map[fetcher.ErrorType]int),
	}
	for _, f := range failures {
		class := fetcher.TypeOf(f.Err)
		r.Causes[class]++
		r.Failures = append(r.Failures, FailureEntry{
			Key:    fmt.Sprint(f.Key),
			Type:   class,
			Reason: f.Err.Error(),
		})
	}
	return r
}

// DominantCause returns the most common failure class and its count. Ties
// resolve to the alphabetically first class.
func (r Report) DominantCause() (fetcher.ErrorType, int) {
	var (
		best  fetcher.ErrorType
		count int
	)
	for class, n := range r.Causes {
		if n > count || (n == count && class < best) {
			best, count = class, n
		}
	}
	return best, count
}

// SystemicError reports that a run produced nothing and most keys failed
// for the same reason, so no partial result is achievable.
type SystemicError struct {
	Source string
	Type   fetcher.ErrorType
	Count  int
	Total  int
}

func (e *SystemicError) Error() string {
	return fmt.Sprintf("%s: %d of %d keys failed with %s errors and none succeeded", e.Source, e.Count, e.Total, e.Type)
}

// Systemic returns a *SystemicError when no key succeeded and a single
// failure class covers more than half the failures. Scattered failures, or
// any success at all, return nil.
func (r Report) Systemic() error {
	if r.Dispatched == 0 || r.Succeeded > 0 || r.Failed == 0 {
		return nil
	}
	class, n := r.DominantCause()
	if n*2 <= r.Failed {
		return nil
	}
	return &SystemicError{Source: r.Source, Type: class, Count: n, Total: r.Dispatched}
}
