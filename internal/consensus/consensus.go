// Package consensus picks one candidate value that every key of a run can
// share, such as a common options expiration date.
package consensus

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrInvalidCoverage is returned when the coverage fraction is outside (0, 1].
var ErrInvalidCoverage = errors.New("coverage fraction must be in (0, 1]")

// Method records how a decision was reached.
type Method string

const (
	// MethodIntersection means every key with candidates lists the value.
	MethodIntersection Method = "intersection"
	// MethodCoverage means the value met the coverage threshold.
	MethodCoverage Method = "coverage"
	// MethodNone means no value qualified; keys fall back individually.
	MethodNone Method = "none"
)

// Set is the candidate set surfaced by one key.
type Set[C cmp.Ordered] map[C]struct{}

// NewSet builds a Set from values.
func NewSet[C cmp.Ordered](values ...C) Set[C] {
	s := make(Set[C], len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Has reports whether v is in the set.
func (s Set[C]) Has(v C) bool {
	_, ok := s[v]
	return ok
}

// Max returns the largest candidate, or false for an empty set.
func (s Set[C]) Max() (C, bool) {
	var (
		best  C
		found bool
	)
	for v := range s {
		if !found || v > best {
			best, found = v, true
		}
	}
	return best, found
}

// Sorted returns the candidates in ascending order.
func (s Set[C]) Sorted() []C {
	values := make([]C, 0, len(s))
	for v := range s {
		values = append(values, v)
	}
	slices.Sort(values)
	return values
}

// Decision is the outcome of one selection. When Found is false there is no
// shared value and Value is the zero value; callers must fall back per key.
type Decision[C cmp.Ordered] struct {
	Value     C
	Found     bool
	Method    Method
	Support   int
	Threshold int
	TotalKeys int
}

// Options parameterizes Select.
type Options struct {
	// Coverage is the minimum fraction of keys that must list a candidate
	// when the intersection is empty.
	Coverage float64

	// TotalKeys is the number of keys in the run, including keys whose
	// candidate gathering failed. Values below len(sets) are raised to it.
	TotalKeys int
}

// Threshold returns ceil(coverage * totalKeys).
func Threshold(coverage float64, totalKeys int) int {
	// The epsilon keeps products like 0.6*5 from rounding up past an
	// exact integer.
	t := int(math.Ceil(coverage*float64(totalKeys) - 1e-9))
	if t < 1 && totalKeys > 0 {
		t = 1
	}
	return t
}

// Select chooses the shared value for sets.
//
//  1. The maximum of the intersection of all non-empty sets.
//  2. Otherwise the maximum candidate listed by at least
//     Threshold(Coverage, TotalKeys) keys.
//  3. Otherwise no decision (Found is false).
//
// Keys with an empty set do not take part in the intersection but still
// count toward TotalKeys, so they make the coverage threshold harder to
// meet.
func Select[K comparable, C cmp.Ordered](sets map[K]Set[C], opts Options) (Decision[C], error) {
	if opts.Coverage <= 0 || opts.Coverage > 1 || math.IsNaN(opts.Coverage) {
		return Decision[C]{}, fmt.Errorf("%w: got %v", ErrInvalidCoverage, opts.Coverage)
	}

	total := max(opts.TotalKeys, len(sets))
	decision := Decision[C]{Method: MethodNone, TotalKeys: total}

	var nonEmpty []Set[C]
	counts := make(map[C]int)
	for _, s := range sets {
		if len(s) == 0 {
			continue
		}
		nonEmpty = append(nonEmpty, s)
		for v := range s {
			counts[v]++
		}
	}

	if len(nonEmpty) > 0 {
		shared := make(Set[C])
		for v, n := range counts {
			if n == len(nonEmpty) {
				shared[v] = struct{}{}
			}
		}
		if v, ok := shared.Max(); ok {
			decision.Value = v
			decision.Found = true
			decision.Method = MethodIntersection
			decision.Support = len(nonEmpty)
			return decision, nil
		}
	}

	decision.Threshold = Threshold(opts.Coverage, total)
	eligible := make(Set[C])
	for v, n := range counts {
		if n >= decision.Threshold {
			eligible[v] = struct{}{}
		}
	}
	if v, ok := eligible.Max(); ok {
		decision.Value = v
		decision.Found = true
		decision.Method = MethodCoverage
		decision.Support = counts[v]
	}

	return decision, nil
}

// PerKeyMax is the fallback when Select finds nothing: each key uses the
// largest value of its own set.
func PerKeyMax[C cmp.Ordered](own Set[C]) (C, bool) {
	return own.Max()
}

// Resolve returns the value a single key should use: the shared value when
// the key lists it, otherwise the key's own maximum. The bool reports
// whether the shared value was used.
func Resolve[C cmp.Ordered](d Decision[C], own Set[C]) (value C, shared bool, ok bool) {
	if d.Found && own.Has(d.Value) {
		return d.Value, true, true
	}
	v, ok := PerKeyMax(own)
	return v, false, ok
}
