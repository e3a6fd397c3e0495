package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"marketscan/internal/fetcher"
)

// Tracker wraps a fetch function and records how many calls are in flight,
// the peak in-flight count, and every key it was called with.
type Tracker[K comparable, V any] struct {
	inFlight atomic.Int64
	peak     atomic.Int64
	calls    atomic.Int64

	mu   sync.Mutex
	keys map[K]int

	Delay time.Duration
	Fetch fetcher.Func[K, V]
}

// NewTracker creates a Tracker around fetch. Each call sleeps for delay
// before invoking fetch so that calls overlap.
func NewTracker[K comparable, V any](delay time.Duration, fetch fetcher.Func[K, V]) *Tracker[K, V] {
	return &Tracker[K, V]{
		Delay: delay,
		Fetch: fetch,
		keys:  make(map[K]int),
	}
}

// Func returns the instrumented fetch function.
func (t *Tracker[K, V]) Func() fetcher.Func[K, V] {
	return func(ctx context.Context, key K) (V, error) {
		t.calls.Add(1)
		t.mu.Lock()
		t.keys[key]++
		t.mu.Unlock()

		now := t.inFlight.Add(1)
		defer t.inFlight.Add(-1)
		for {
			peak := t.peak.Load()
			if now <= peak || t.peak.CompareAndSwap(peak, now) {
				break
			}
		}

		if t.Delay > 0 {
			select {
			case <-time.After(t.Delay):
			case <-ctx.Done():
				var zero V
				return zero, ctx.Err()
			}
		}
		return t.Fetch(ctx, key)
	}
}

// Peak returns the highest number of concurrent calls observed.
func (t *Tracker[K, V]) Peak() int {
	return int(t.peak.Load())
}

// Calls returns the total number of calls.
func (t *Tracker[K, V]) Calls() int {
	return int(t.calls.Load())
}

// CallsFor returns how many times key was fetched.
func (t *Tracker[K, V]) CallsFor(key K) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keys[key]
}

// StaticFetch returns a fetch function that looks each key up in values
// and fails with errs[key] when present. Unknown keys fail validation.
func StaticFetch[K comparable, V any](values map[K]V, errs map[K]error) fetcher.Func[K, V] {
	return func(ctx context.Context, key K) (V, error) {
		if err, ok := errs[key]; ok {
			var zero V
			return zero, err
		}
		v, ok := values[key]
		if !ok {
			var zero V
			return zero, fetcher.NewValidationError("no record for %v", key)
		}
		return v, nil
	}
}
