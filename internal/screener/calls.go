package screener

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketscan/internal/aggregate"
	"marketscan/internal/fetcher"
	"marketscan/internal/table"
	"marketscan/internal/yahoo"
)

// ChainSource is the market data the calls job reads.
type ChainSource interface {
	Options(ctx context.Context, ticker, expiration string) (*yahoo.Chain, error)
}

// CallsConfig bounds the per-ticker chain scan.
type CallsConfig struct {
	// MaxExpirations caps how many expirations are read per ticker.
	MaxExpirations int

	// LowerBand and UpperBand bound strikes as fractions of the price.
	LowerBand float64
	UpperBand float64

	// StrikeCoverage is the fraction of a ticker's expirations a strike
	// must appear in to be kept.
	StrikeCoverage float64

	// ChainWorkers bounds concurrent chain requests per ticker.
	ChainWorkers int
}

func (c CallsConfig) validate() error {
	if c.MaxExpirations <= 0 {
		return fmt.Errorf("calls: max expirations must be positive, got %d", c.MaxExpirations)
	}
	if c.LowerBand <= 0 || c.UpperBand < c.LowerBand {
		return fmt.Errorf("calls: invalid strike band [%v, %v]", c.LowerBand, c.UpperBand)
	}
	if c.StrikeCoverage < 0 || c.StrikeCoverage > 1 {
		return fmt.Errorf("calls: strike coverage must be in [0, 1], got %v", c.StrikeCoverage)
	}
	if c.ChainWorkers <= 0 {
		return fmt.Errorf("calls: chain workers must be positive, got %d", c.ChainWorkers)
	}
	return nil
}

// CallRow is one call contract with the ticker's current price.
type CallRow struct {
	Ticker            string
	Contract          yahoo.Contract
	CurrentPrice      float64
	Breakeven         float64
	BreakevenIncrease float64
}

func (r CallRow) volume() float64 {
	return r.Contract.Volume.Or(0)
}

// CollectCalls reads up to cfg.MaxExpirations chains for ticker and keeps
// the in-band calls whose strike is listed in enough expirations. A chain
// that fails is logged and skipped.
func CollectCalls(ctx context.Context, src ChainSource, ticker string, cfg CallsConfig) ([]CallRow, error) {
	first, err := src.Options(ctx, ticker, "")
	if err != nil {
		return nil, err
	}
	expirations := first.Expirations
	if len(expirations) > cfg.MaxExpirations {
		expirations = expirations[:cfg.MaxExpirations]
	}
	if len(expirations) == 0 {
		return nil, fetcher.NewValidationError("no option expirations for %s", ticker)
	}

	price := first.Quote.Price
	lo, hi := StrikeBand(price, cfg.LowerBand, cfg.UpperBand)

	var (
		mu   sync.Mutex
		rows []CallRow
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.ChainWorkers)

	for _, exp := range expirations {
		g.Go(func() error {
			chain := first
			if exp != first.Expiration {
				var err error
				chain, err = src.Options(gctx, ticker, exp)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					zap.L().Warn("option chain unavailable",
						zap.String("ticker", ticker),
						zap.String("expiration", exp),
						zap.Error(err),
					)
					return nil
				}
			}

			var kept []CallRow
			for _, c := range chain.Calls {
				if !InBand(c.Strike, lo, hi) {
					continue
				}
				increase, err := Breakeven(c.LastPrice, c.Strike, price)
				if err != nil {
					continue
				}
				kept = append(kept, CallRow{
					Ticker:            ticker,
					Contract:          c,
					CurrentPrice:      price,
					Breakeven:         c.Strike + c.LastPrice,
					BreakevenIncrease: increase,
				})
			}

			mu.Lock()
			rows = append(rows, kept...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows = FilterStrikes(rows, MinExpirations(len(expirations), cfg.StrikeCoverage))
	if len(rows) == 0 {
		return nil, fetcher.NewValidationError("no in-band calls for %s", ticker)
	}

	slices.SortStableFunc(rows, compareCalls)
	return rows, nil
}

// MinExpirations is how many expirations a strike must appear in:
// floor(total * coverage).
func MinExpirations(total int, coverage float64) int {
	return int(float64(total) * coverage)
}

// FilterStrikes keeps rows whose strike is listed in at least minCount
// distinct expirations.
func FilterStrikes(rows []CallRow, minCount int) []CallRow {
	seen := make(map[float64]map[string]struct{})
	for _, r := range rows {
		if seen[r.Contract.Strike] == nil {
			seen[r.Contract.Strike] = make(map[string]struct{})
		}
		seen[r.Contract.Strike][r.Contract.Expiration] = struct{}{}
	}

	var kept []CallRow
	for _, r := range rows {
		if len(seen[r.Contract.Strike]) >= minCount {
			kept = append(kept, r)
		}
	}
	return kept
}

// compareCalls orders by ticker ascending, volume descending, then
// expiration and strike ascending.
func compareCalls(a, b CallRow) int {
	return cmp.Or(
		cmp.Compare(a.Ticker, b.Ticker),
		cmp.Compare(b.volume(), a.volume()),
		cmp.Compare(a.Contract.Expiration, b.Contract.Expiration),
		cmp.Compare(a.Contract.Strike, b.Contract.Strike),
		cmp.Compare(a.Contract.Symbol, b.Contract.Symbol),
	)
}

// SortCalls sorts rows by ticker ascending and volume descending.
func SortCalls(rows []CallRow) {
	slices.SortStableFunc(rows, compareCalls)
}

// LatestCommonDate is the earliest of the tickers' latest expirations: the
// last date every ticker still has contracts for.
func LatestCommonDate(rows []CallRow) (string, bool) {
	latest := make(map[string]string)
	for _, r := range rows {
		if r.Contract.Expiration > latest[r.Ticker] {
			latest[r.Ticker] = r.Contract.Expiration
		}
	}

	var (
		common string
		found  bool
	)
	for _, d := range latest {
		if !found || d < common {
			common, found = d, true
		}
	}
	return common, found
}

// ClosestAt picks, per ticker, the call expiring on date whose strike is
// nearest the current price. Tickers without a call on date are skipped.
func ClosestAt(rows []CallRow, date string) []CallRow {
	best := make(map[string]CallRow)
	for _, r := range rows {
		if r.Contract.Expiration != date {
			continue
		}
		cur, ok := best[r.Ticker]
		if !ok || closer(r, cur) {
			best[r.Ticker] = r
		}
	}

	out := make([]CallRow, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b CallRow) int { return cmp.Compare(a.Ticker, b.Ticker) })
	return out
}

func closer(a, b CallRow) bool {
	da, db := math.Abs(a.Contract.Strike-a.CurrentPrice), math.Abs(b.Contract.Strike-b.CurrentPrice)
	if da != db {
		return da < db
	}
	return a.Contract.Strike < b.Contract.Strike
}

// CallsResult is the outcome of a calls run.
type CallsResult struct {
	Rows       []CallRow
	CommonDate string
	Closest    []CallRow
	Report     aggregate.Report
}

// CallsJob scans every ticker's call chains.
type CallsJob struct {
	src ChainSource
	cfg CallsConfig
	agg *aggregate.Aggregator[string, []CallRow]
}

// NewCallsJob creates a calls job. aggCfg bounds the per-ticker fan-out;
// cfg bounds each ticker's chain scan.
func NewCallsJob(src ChainSource, cfg CallsConfig, aggCfg aggregate.Config) (*CallsJob, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if aggCfg.Source == "" {
		aggCfg.Source = "calls"
	}

	job := &CallsJob{src: src, cfg: cfg}
	agg, err := aggregate.New(func(ctx context.Context, ticker string) ([]CallRow, error) {
		return CollectCalls(ctx, job.src, ticker, job.cfg)
	}, aggCfg)
	if err != nil {
		return nil, err
	}
	job.agg = agg
	return job, nil
}

// Run executes the job over tickers.
func (j *CallsJob) Run(ctx context.Context, tickers []string) (*CallsResult, error) {
	out, err := j.agg.Run(ctx, tickers)
	if err != nil {
		return nil, err
	}

	res := &CallsResult{Report: out.Report()}
	for _, rec := range out.Records {
		res.Rows = append(res.Rows, rec.Value...)
	}
	SortCalls(res.Rows)

	if date, ok := LatestCommonDate(res.Rows); ok {
		res.CommonDate = date
		res.Closest = ClosestAt(res.Rows, date)
	}
	return res, nil
}

var callColumns = []string{
	"contractSymbol", "strike", "lastPrice", "bid", "ask", "volume",
	"openInterest", "impliedVolatility", "expirationDate", "ticker",
	"currentPrice", "breakeven", "breakeven_increase",
}

// CallsTables renders the all-calls sheet and the closest-call sheet.
func CallsTables(res *CallsResult) []*table.Table {
	all := table.New("All Call Options", callColumns...)
	appendCalls(all, res.Rows)

	name := "Closest to Current Price"
	if res.CommonDate != "" {
		name = fmt.Sprintf("Closest (%s)", res.CommonDate)
	}
	closest := table.New(name, callColumns...)
	appendCalls(closest, res.Closest)

	return []*table.Table{all, closest}
}

func appendCalls(t *table.Table, rows []CallRow) {
	for _, r := range rows {
		c := r.Contract
		t.MustAppend(
			table.Text(c.Symbol),
			table.Number(c.Strike),
			table.Number(c.LastPrice),
			table.Opt(c.Bid, 2),
			table.Opt(c.Ask, 2),
			table.Opt(c.Volume, 0),
			table.Opt(c.OpenInterest, 0),
			table.Opt(c.ImpliedVolatility, 4),
			table.Text(c.Expiration),
			table.Text(r.Ticker),
			table.Fixed(r.CurrentPrice, 2),
			table.Number(r.Breakeven),
			table.Fixed(r.BreakevenIncrease, 4),
		)
	}
}
