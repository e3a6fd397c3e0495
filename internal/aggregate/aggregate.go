// Package aggregate fans one fetch per key out over a bounded worker pool
// and collects successes and per-key failures.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"marketscan/internal/fetcher"
	"marketscan/internal/retry"
)

// ErrNoKeys is returned when a run is started with an empty key sequence.
var ErrNoKeys = errors.New("no keys to fetch")

// Config controls one aggregator.
type Config struct {
	// Source names the data source in logs and reports.
	Source string

	// Workers is the maximum number of fetches in flight.
	Workers int

	// Retry is applied to every fetch call.
	Retry retry.Policy

	// OnProgress, if set, is called from the collecting goroutine after
	// each key resolves.
	OnProgress func(done, total int)
}

// Record is a successful fetch tagged with its key.
type Record[K comparable, V any] struct {
	Key   K
	Index int
	Value V
}

// Failure is a failed fetch tagged with its key.
type Failure[K comparable] struct {
	Key   K
	Index int
	Err   error
}

// Outcome holds everything one run produced. Records are in completion
// order; callers sort them.
type Outcome[K comparable, V any] struct {
	Source     string
	Dispatched int
	Records    []Record[K, V]
	Failures   []Failure[K]
}

// Values returns the record values in their current order.
func (o *Outcome[K, V]) Values() []V {
	values := make([]V, len(o.Records))
	for i, r := range o.Records {
		values[i] = r.Value
	}
	return values
}

// Succeeded reports whether key produced a record.
func (o *Outcome[K, V]) Succeeded(key K) bool {
	for _, r := range o.Records {
		if r.Key == key {
			return true
		}
	}
	return false
}

// Aggregator runs one fetch function over many keys.
type Aggregator[K comparable, V any] struct {
	cfg       Config
	fetch     fetcher.Func[K, V]
	completed atomic.Int64
}

// New creates an Aggregator for fetch.
func New[K comparable, V any](fetch fetcher.Func[K, V], cfg Config) (*Aggregator[K, V], error) {
	if fetch == nil {
		return nil, fmt.Errorf("aggregate: nil fetch function")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("aggregate: workers must be positive, got %d", cfg.Workers)
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.None()
	}
	if cfg.Source == "" {
		cfg.Source = "fetch"
	}
	return &Aggregator[K, V]{cfg: cfg, fetch: fetch}, nil
}

// Progress returns the number of keys resolved so far across all runs.
func (a *Aggregator[K, V]) Progress() int {
	return int(a.completed.Load())
}

// Run fetches every key with at most cfg.Workers fetches in flight. Each
// dispatched key yields exactly one record or one failure. When ctx ends,
// fetches still running are abandoned and keys not yet started fail without
// being fetched; Run still returns every key's result.
func (a *Aggregator[K, V]) Run(ctx context.Context, keys []K) (*Outcome[K, V], error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	resultChan := make(chan fetcher.Result[K, V], len(keys))

	go func() {
		p := pool.New().WithMaxGoroutines(a.cfg.Workers)
		for i, key := range keys {
			p.Go(func() {
				resultChan <- a.fetchOne(ctx, i, key)
			})
		}
		p.Wait()
		close(resultChan)
	}()

	outcome := &Outcome[K, V]{
		Source:     a.cfg.Source,
		Dispatched: len(keys),
	}
	done := 0
	for result := range resultChan {
		done++
		a.completed.Add(1)

		if result.Error != nil {
			zap.L().Warn("fetch failed",
				zap.String("source", a.cfg.Source),
				zap.Any("key", result.Key),
				zap.String("error_type", string(fetcher.TypeOf(result.Error))),
				zap.Error(result.Error),
			)
			outcome.Failures = append(outcome.Failures, Failure[K]{
				Key:   result.Key,
				Index: result.Index,
				Err:   result.Error,
			})
		} else {
			outcome.Records = append(outcome.Records, Record[K, V]{
				Key:   result.Key,
				Index: result.Index,
				Value: result.Value,
			})
		}

		zap.L().Debug("fetch progress",
			zap.String("source", a.cfg.Source),
			zap.Int("done", done),
			zap.Int("total", len(keys)),
		)
		if a.cfg.OnProgress != nil {
			a.cfg.OnProgress(done, len(keys))
		}
	}

	return outcome, nil
}

func (a *Aggregator[K, V]) fetchOne(ctx context.Context, index int, key K) fetcher.Result[K, V] {
	result := fetcher.Result[K, V]{Key: key, Index: index}

	if err := ctx.Err(); err != nil {
		result.Error = fetcher.NewCanceledError(err)
		return result
	}

	type attempt struct {
		value V
		err   error
	}
	ch := make(chan attempt, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- attempt{err: fmt.Errorf("fetch panicked: %v", r)}
			}
		}()

		policy := a.cfg.Retry
		if policy.OnRetry == nil {
			policy.OnRetry = retry.Logger(a.cfg.Source)
		}
		value, err := retry.Do(ctx, policy, func(ctx context.Context) (V, error) {
			return a.fetch(ctx, key)
		})
		ch <- attempt{value: value, err: err}
	}()

	select {
	case got := <-ch:
		result.Value, result.Error = got.value, got.err
	case <-ctx.Done():
		select {
		case got := <-ch:
			result.Value, result.Error = got.value, got.err
		default:
			result.Error = fetcher.NewCanceledError(ctx.Err())
		}
	}

	return result
}
