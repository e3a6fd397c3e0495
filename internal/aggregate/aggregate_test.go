package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketscan/internal/fetcher"
	"marketscan/internal/retry"
	"marketscan/internal/testutil"
)

func tickers(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("T%03d", i)
	}
	return keys
}

func TestNew_Validation(t *testing.T) {
	fetch := testutil.StaticFetch[string, int](nil, nil)

	_, err := New(fetch, Config{Workers: 0})
	require.Error(t, err)

	_, err = New[string, int](nil, Config{Workers: 1})
	require.Error(t, err)

	agg, err := New(fetch, Config{Workers: 3})
	require.NoError(t, err)
	assert.Equal(t, "fetch", agg.cfg.Source)
	assert.Equal(t, 1, agg.cfg.Retry.MaxAttempts)
}

func TestRun_NoKeys(t *testing.T) {
	agg, err := New(testutil.StaticFetch[string, int](nil, nil), Config{Workers: 2})
	require.NoError(t, err)

	_, err = agg.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoKeys)
}

func TestRun_EveryKeyResolvesExactlyOnce(t *testing.T) {
	keys := tickers(40)
	values := make(map[string]int)
	errs := make(map[string]error)
	for i, k := range keys {
		if i%3 == 0 {
			errs[k] = fetcher.NewValidationError("missing price for %s", k)
			continue
		}
		values[k] = i
	}

	tracker := testutil.NewTracker(time.Millisecond, testutil.StaticFetch(values, errs))
	agg, err := New(tracker.Func(), Config{Workers: 5})
	require.NoError(t, err)

	out, err := agg.Run(context.Background(), keys)
	require.NoError(t, err)

	assert.Equal(t, len(keys), out.Dispatched)
	assert.Equal(t, len(keys), len(out.Records)+len(out.Failures))
	assert.Len(t, out.Failures, len(errs))
	assert.Equal(t, len(keys), agg.Progress())

	seen := make(map[string]int)
	for _, r := range out.Records {
		seen[r.Key]++
		assert.Equal(t, values[r.Key], r.Value)
	}
	for _, f := range out.Failures {
		seen[f.Key]++
		_, failed := errs[f.Key]
		assert.True(t, failed, "unexpected failure for %s", f.Key)
	}
	for _, k := range keys {
		assert.Equal(t, 1, seen[k], "key %s", k)
		assert.Equal(t, 1, tracker.CallsFor(k), "logical failures must not be retried")
	}
}

func TestRun_RespectsWorkerLimit(t *testing.T) {
	for _, workers := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("workers_%d", workers), func(t *testing.T) {
			keys := tickers(30)
			values := make(map[string]int)
			for i, k := range keys {
				values[k] = i
			}

			tracker := testutil.NewTracker(5*time.Millisecond, testutil.StaticFetch(values, nil))
			agg, err := New(tracker.Func(), Config{Workers: workers})
			require.NoError(t, err)

			_, err = agg.Run(context.Background(), keys)
			require.NoError(t, err)

			assert.LessOrEqual(t, tracker.Peak(), workers)
			assert.Equal(t, len(keys), tracker.Calls())
		})
	}
}

func TestRun_DuplicateKeysAreFetchedEachTime(t *testing.T) {
	tracker := testutil.NewTracker(0, testutil.StaticFetch(map[string]int{"AAPL": 1}, nil))
	agg, err := New(tracker.Func(), Config{Workers: 2})
	require.NoError(t, err)

	out, err := agg.Run(context.Background(), []string{"AAPL", "AAPL"})
	require.NoError(t, err)

	assert.Len(t, out.Records, 2)
	assert.Equal(t, 2, tracker.CallsFor("AAPL"))
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	var mu sync.Mutex
	attempts := make(map[string]int)
	fetch := func(ctx context.Context, key string) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts[key]++
		if key == "FLAKY" && attempts[key] < 3 {
			return 0, fetcher.NewServerError(503)
		}
		if key == "DOWN" {
			return 0, fetcher.NewServerError(502)
		}
		return 1, nil
	}

	agg, err := New(fetch, Config{
		Workers: 2,
		Retry:   retry.Policy{MaxAttempts: 4, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1},
	})
	require.NoError(t, err)

	out, err := agg.Run(context.Background(), []string{"FLAKY", "DOWN", "OK"})
	require.NoError(t, err)

	assert.Len(t, out.Records, 2)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "DOWN", out.Failures[0].Key)
	assert.Equal(t, 3, attempts["FLAKY"])
	assert.Equal(t, 4, attempts["DOWN"])
	assert.Equal(t, 1, attempts["OK"])
}

func TestRun_DeadlineAbandonsSlowKeys(t *testing.T) {
	fetch := func(ctx context.Context, key string) (int, error) {
		if key == "SLOW" {
			// Ignores ctx on purpose: the aggregator must not wait for it.
			time.Sleep(2 * time.Second)
		}
		return 1, nil
	}

	agg, err := New(fetch, Config{Workers: 4})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	out, err := agg.Run(ctx, []string{"A", "SLOW", "B"})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, out.Records, 2)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "SLOW", out.Failures[0].Key)
	assert.Equal(t, fetcher.ErrorTypeCanceled, fetcher.TypeOf(out.Failures[0].Err))
}

func TestRun_CanceledBeforeStartFailsEveryKey(t *testing.T) {
	tracker := testutil.NewTracker(0, testutil.StaticFetch(map[string]int{"A": 1, "B": 2}, nil))
	agg, err := New(tracker.Func(), Config{Workers: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := agg.Run(ctx, []string{"A", "B"})
	require.NoError(t, err)

	assert.Empty(t, out.Records)
	assert.Len(t, out.Failures, 2)
	assert.Equal(t, 0, tracker.Calls())
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	fetch := func(ctx context.Context, key string) (int, error) {
		if key == "BAD" {
			panic("nil option chain")
		}
		return 1, nil
	}

	agg, err := New(fetch, Config{Workers: 2})
	require.NoError(t, err)

	out, err := agg.Run(context.Background(), []string{"BAD", "GOOD"})
	require.NoError(t, err)

	assert.Len(t, out.Records, 1)
	require.Len(t, out.Failures, 1)
	assert.Contains(t, out.Failures[0].Err.Error(), "nil option chain")
}

func TestRun_ProgressIsMonotonic(t *testing.T) {
	keys := tickers(12)
	var seen []int
	agg, err := New(testutil.StaticFetch[string, int](nil, nil), Config{
		Workers:    4,
		OnProgress: func(done, total int) { seen = append(seen, done) },
	})
	require.NoError(t, err)

	_, err = agg.Run(context.Background(), keys)
	require.NoError(t, err)

	require.Len(t, seen, len(keys))
	assert.True(t, sort.IntsAreSorted(seen))
	assert.Equal(t, len(keys), seen[len(seen)-1])
}

func TestOutcome_Report(t *testing.T) {
	out := &Outcome[string, int]{
		Source:     "yahoo",
		Dispatched: 4,
		Records:    []Record[string, int]{{Key: "A", Index: 0, Value: 1}},
		Failures: []Failure[string]{
			{Key: "D", Index: 3, Err: fetcher.NewServerError(500)},
			{Key: "B", Index: 1, Err: fetcher.NewValidationError("no calls")},
			{Key: "C", Index: 2, Err: fetcher.NewServerError(503)},
		},
	}

	r := out.Report()
	assert.Equal(t, 4, r.Dispatched)
	assert.Equal(t, 1, r.Succeeded)
	assert.Equal(t, 3, r.Failed)
	assert.Equal(t, 2, r.Causes[fetcher.ErrorTypeServer])
	require.Len(t, r.Failures, 3)
	assert.Equal(t, []string{"B", "C", "D"}, []string{r.Failures[0].Key, r.Failures[1].Key, r.Failures[2].Key})
	assert.NoError(t, r.Systemic(), "a run with a success is never systemic")

	class, n := r.DominantCause()
	assert.Equal(t, fetcher.ErrorTypeServer, class)
	assert.Equal(t, 2, n)
}

func TestReport_Systemic(t *testing.T) {
	sameCause := &Outcome[string, int]{
		Source:     "yahoo",
		Dispatched: 3,
		Failures: []Failure[string]{
			{Key: "A", Index: 0, Err: fetcher.NewNetworkError(errors.New("no such host"))},
			{Key: "B", Index: 1, Err: fetcher.NewNetworkError(errors.New("no such host"))},
			{Key: "C", Index: 2, Err: fetcher.NewValidationError("empty chain")},
		},
	}
	err := sameCause.Report().Systemic()
	require.Error(t, err)
	var sys *SystemicError
	require.ErrorAs(t, err, &sys)
	assert.Equal(t, fetcher.ErrorTypeNetwork, sys.Type)
	assert.Equal(t, 2, sys.Count)
	assert.Equal(t, 3, sys.Total)

	scattered := &Outcome[string, int]{
		Source:     "yahoo",
		Dispatched: 2,
		Failures: []Failure[string]{
			{Key: "A", Index: 0, Err: fetcher.NewNetworkError(nil)},
			{Key: "B", Index: 1, Err: fetcher.NewValidationError("empty chain")},
		},
	}
	assert.NoError(t, scattered.Report().Systemic())
}
