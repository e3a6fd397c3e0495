// Package pipeline runs the gather-agree-fetch pattern: collect candidate
// values per key, agree on one shared value, then fetch full records with it.
package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"marketscan/internal/aggregate"
	"marketscan/internal/consensus"
	"marketscan/internal/fetcher"
	"marketscan/internal/retry"
)

// ErrNoKeys is returned when Run is called with an empty key sequence.
var ErrNoKeys = aggregate.ErrNoKeys

// State is the pipeline's position in a run.
type State int32

const (
	StateIdle State = iota
	StateCollecting
	StateConsensus
	StateFetching
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateConsensus:
		return "consensus"
	case StateFetching:
		return "fetching"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Config controls a pipeline. Nothing here has a built-in default; callers
// pass the values they loaded from configuration.
type Config struct {
	Source string

	// CollectWorkers and FetchWorkers bound concurrency per phase.
	CollectWorkers int
	FetchWorkers   int

	// Coverage is the consensus threshold fraction.
	Coverage float64

	// CollectTimeout and FetchTimeout bound each phase. Zero means the phase
	// is bounded only by the run's context.
	CollectTimeout time.Duration
	FetchTimeout   time.Duration

	Retry retry.Policy

	OnTransition func(from, to State)
	OnProgress   func(state State, done, total int)
}

// Plan is what the full-record fetch receives for one key.
type Plan[C cmp.Ordered] struct {
	// Decision is the run-wide consensus, shared by every key.
	Decision consensus.Decision[C]

	// Own holds the key's candidates; empty when collection failed.
	Own consensus.Set[C]

	// Collected reports whether candidate collection succeeded for the key.
	Collected bool
}

// Choose returns the value the key should use: the shared value when the
// key lists it, otherwise the key's own maximum. When collection failed for
// the key the shared value is returned unverified. ok is false when neither
// exists and the fetch must apply its own default.
func (p Plan[C]) Choose() (value C, shared bool, ok bool) {
	if !p.Collected {
		if p.Decision.Found {
			return p.Decision.Value, true, true
		}
		var zero C
		return zero, false, false
	}
	return consensus.Resolve(p.Decision, p.Own)
}

// CollectFunc gathers one key's candidate set.
type CollectFunc[K comparable, C cmp.Ordered] func(ctx context.Context, key K) (consensus.Set[C], error)

// FetchFunc fetches one key's full record under plan.
type FetchFunc[K comparable, C cmp.Ordered, V any] func(ctx context.Context, key K, plan Plan[C]) (V, error)

// Result is the finalized output of a run.
type Result[K cmp.Ordered, C cmp.Ordered, V any] struct {
	Decision   consensus.Decision[C]
	Candidates map[K]consensus.Set[C]

	// Records is the result table, sorted.
	Records []aggregate.Record[K, V]

	Collect aggregate.Report
	Fetch   aggregate.Report
}

// Values returns the sorted record values.
func (r *Result[K, C, V]) Values() []V {
	values := make([]V, len(r.Records))
	for i, rec := range r.Records {
		values[i] = rec.Value
	}
	return values
}

// Systemic reports a run-level failure: the fetch phase produced nothing
// and most keys failed for one reason.
func (r *Result[K, C, V]) Systemic() error {
	return r.Fetch.Systemic()
}

// Pipeline is a two-phase fetch over one key type.
type Pipeline[K cmp.Ordered, C cmp.Ordered, V any] struct {
	cfg     Config
	collect CollectFunc[K, C]
	fetch   FetchFunc[K, C, V]
	less    func(a, b V) bool
	state   atomic.Int32
}

// New creates a Pipeline. less orders the final table; ties are broken by
// key ascending.
func New[K cmp.Ordered, C cmp.Ordered, V any](
	collect CollectFunc[K, C],
	fetch FetchFunc[K, C, V],
	less func(a, b V) bool,
	cfg Config,
) (*Pipeline[K, C, V], error) {
	if collect == nil || fetch == nil {
		return nil, fmt.Errorf("pipeline: collect and fetch functions are required")
	}
	if cfg.CollectWorkers <= 0 || cfg.FetchWorkers <= 0 {
		return nil, fmt.Errorf("pipeline: workers must be positive (collect=%d, fetch=%d)", cfg.CollectWorkers, cfg.FetchWorkers)
	}
	if cfg.Coverage <= 0 || cfg.Coverage > 1 {
		return nil, fmt.Errorf("pipeline: %w: got %v", consensus.ErrInvalidCoverage, cfg.Coverage)
	}
	if cfg.Source == "" {
		cfg.Source = "pipeline"
	}
	return &Pipeline[K, C, V]{cfg: cfg, collect: collect, fetch: fetch, less: less}, nil
}

// State returns the current state.
func (p *Pipeline[K, C, V]) State() State {
	return State(p.state.Load())
}

func (p *Pipeline[K, C, V]) transition(to State) {
	from := State(p.state.Swap(int32(to)))
	zap.L().Info("pipeline state change",
		zap.String("source", p.cfg.Source),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	if p.cfg.OnTransition != nil {
		p.cfg.OnTransition(from, to)
	}
}

func (p *Pipeline[K, C, V]) progress(state State) func(done, total int) {
	if p.cfg.OnProgress == nil {
		return nil
	}
	return func(done, total int) {
		p.cfg.OnProgress(state, done, total)
	}
}

func phaseContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// Run executes both phases over keys. Key failures never fail the run;
// they are reported in Result.Collect and Result.Fetch. Every key enters
// the fetch phase, including keys whose collection failed.
func (p *Pipeline[K, C, V]) Run(ctx context.Context, keys []K) (*Result[K, C, V], error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	p.transition(StateCollecting)
	collectAgg, err := aggregate.New(fetcher.Func[K, consensus.Set[C]](p.collect), aggregate.Config{
		Source:     p.cfg.Source + ":collect",
		Workers:    p.cfg.CollectWorkers,
		Retry:      p.cfg.Retry,
		OnProgress: p.progress(StateCollecting),
	})
	if err != nil {
		return nil, err
	}

	collectCtx, cancelCollect := phaseContext(ctx, p.cfg.CollectTimeout)
	collected, err := collectAgg.Run(collectCtx, keys)
	cancelCollect()
	if err != nil {
		return nil, err
	}

	p.transition(StateConsensus)
	candidates := make(map[K]consensus.Set[C], len(collected.Records))
	for _, rec := range collected.Records {
		candidates[rec.Key] = rec.Value
	}
	decision, err := consensus.Select(candidates, consensus.Options{
		Coverage:  p.cfg.Coverage,
		TotalKeys: distinct(keys),
	})
	if err != nil {
		return nil, err
	}
	if decision.Found {
		zap.L().Info("consensus selected",
			zap.String("source", p.cfg.Source),
			zap.Any("value", decision.Value),
			zap.String("method", string(decision.Method)),
			zap.Int("support", decision.Support),
			zap.Int("total_keys", decision.TotalKeys),
		)
	} else {
		zap.L().Warn("no consensus value, keys fall back to their own candidates",
			zap.String("source", p.cfg.Source),
			zap.Float64("coverage", p.cfg.Coverage),
			zap.Int("threshold", decision.Threshold),
			zap.Int("total_keys", decision.TotalKeys),
		)
	}

	p.transition(StateFetching)
	fetchAgg, err := aggregate.New(func(ctx context.Context, key K) (V, error) {
		own, ok := candidates[key]
		return p.fetch(ctx, key, Plan[C]{Decision: decision, Own: own, Collected: ok})
	}, aggregate.Config{
		Source:     p.cfg.Source + ":fetch",
		Workers:    p.cfg.FetchWorkers,
		Retry:      p.cfg.Retry,
		OnProgress: p.progress(StateFetching),
	})
	if err != nil {
		return nil, err
	}

	fetchCtx, cancelFetch := phaseContext(ctx, p.cfg.FetchTimeout)
	fetched, err := fetchAgg.Run(fetchCtx, keys)
	cancelFetch()
	if err != nil {
		return nil, err
	}

	aggregate.SortRecords(fetched.Records, p.less)
	p.transition(StateDone)

	return &Result[K, C, V]{
		Decision:   decision,
		Candidates: candidates,
		Records:    fetched.Records,
		Collect:    collected.Report(),
		Fetch:      fetched.Report(),
	}, nil
}

func distinct[K comparable](keys []K) int {
	seen := make(map[K]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	return len(seen)
}
