// Package screener builds the options tables: one call per ticker at a
// shared future expiration, and every in-band call across expirations.
package screener

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"marketscan/internal/consensus"
	"marketscan/internal/fetcher"
	"marketscan/internal/field"
	"marketscan/internal/pipeline"
	"marketscan/internal/table"
	"marketscan/internal/yahoo"
)

// Sort orders for the options table.
const (
	SortBreakeven  = "breakeven"
	SortExpiration = "expiration"
)

// OptionsSource is the market data the options job reads.
type OptionsSource interface {
	Expirations(ctx context.Context, ticker string) ([]string, error)
	Options(ctx context.Context, ticker, expiration string) (*yahoo.Chain, error)
	Summary(ctx context.Context, ticker string) (*yahoo.Summary, error)
}

// OptionRecord is one row of the options table.
type OptionRecord struct {
	Ticker           string
	StockPrice       float64
	CallPrice        float64
	Strike           float64
	Expiration       string
	SharedExpiration bool
	Breakeven        float64

	Description      field.Opt[string]
	TrailingPE       field.Opt[float64]
	ForwardPE        field.Opt[float64]
	MarketCap        field.Opt[float64]
	FiftyTwoWeekHigh field.Opt[float64]
	HighUpside       field.Opt[float64]
	TargetMean       field.Opt[float64]
	TargetUpside     field.Opt[float64]
	DividendYield    field.Opt[float64]
	Attractive       bool
}

// OptionsLess returns the table order for sortBy.
func OptionsLess(sortBy string) (func(a, b OptionRecord) bool, error) {
	switch sortBy {
	case "", SortBreakeven:
		return func(a, b OptionRecord) bool { return a.Breakeven < b.Breakeven }, nil
	case SortExpiration:
		return func(a, b OptionRecord) bool {
			if a.Expiration != b.Expiration {
				return a.Expiration > b.Expiration
			}
			return a.Breakeven < b.Breakeven
		}, nil
	default:
		return nil, fmt.Errorf("unknown sort order %q (want %s or %s)", sortBy, SortBreakeven, SortExpiration)
	}
}

// OptionsJob finds, for every ticker, the call nearest the money at an
// expiration shared by as many tickers as possible.
type OptionsJob struct {
	src  OptionsSource
	pipe *pipeline.Pipeline[string, string, OptionRecord]
}

// NewOptionsJob creates an options job over src.
func NewOptionsJob(src OptionsSource, sortBy string, cfg pipeline.Config) (*OptionsJob, error) {
	less, err := OptionsLess(sortBy)
	if err != nil {
		return nil, err
	}
	if cfg.Source == "" {
		cfg.Source = "options"
	}

	job := &OptionsJob{src: src}
	job.pipe, err = pipeline.New(job.collect, job.fetch, less, cfg)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Run executes the job over tickers.
func (j *OptionsJob) Run(ctx context.Context, tickers []string) (*pipeline.Result[string, string, OptionRecord], error) {
	return j.pipe.Run(ctx, tickers)
}

func (j *OptionsJob) collect(ctx context.Context, ticker string) (consensus.Set[string], error) {
	dates, err := j.src.Expirations(ctx, ticker)
	if err != nil {
		return nil, err
	}
	return consensus.NewSet(dates...), nil
}

func (j *OptionsJob) fetch(ctx context.Context, ticker string, plan pipeline.Plan[string]) (OptionRecord, error) {
	expiration, shared, ok := plan.Choose()
	if !ok {
		// Neither a shared date nor this ticker's own dates are known yet.
		dates, err := j.src.Expirations(ctx, ticker)
		if err != nil {
			return OptionRecord{}, err
		}
		if expiration, ok = consensus.NewSet(dates...).Max(); !ok {
			return OptionRecord{}, fetcher.NewValidationError("no option expirations for %s", ticker)
		}
	}

	chain, err := j.src.Options(ctx, ticker, expiration)
	if err != nil {
		return OptionRecord{}, err
	}
	if shared && !plan.Collected && !slices.Contains(chain.Expirations, expiration) {
		// The shared date was never verified for this ticker and it does
		// not list it; use its own latest date instead.
		latest, ok := consensus.NewSet(chain.Expirations...).Max()
		if !ok {
			return OptionRecord{}, fetcher.NewValidationError("no option expirations for %s", ticker)
		}
		expiration, shared = latest, false
		if chain, err = j.src.Options(ctx, ticker, expiration); err != nil {
			return OptionRecord{}, err
		}
	}

	price := chain.Quote.Price
	call, ok := ClosestCall(chain.Calls, price)
	if !ok {
		return OptionRecord{}, fetcher.NewValidationError("no calls for %s expiring %s", ticker, expiration)
	}
	breakeven, err := Breakeven(call.LastPrice, call.Strike, price)
	if err != nil {
		return OptionRecord{}, fetcher.NewValidationError("%s: %v", ticker, err)
	}

	summary, err := j.src.Summary(ctx, ticker)
	if err != nil {
		if fetcher.IsTransient(err) {
			return OptionRecord{}, err
		}
		zap.L().Warn("company summary unavailable",
			zap.String("ticker", ticker),
			zap.Error(err),
		)
		summary = &yahoo.Summary{}
	}

	rec := OptionRecord{
		Ticker:           ticker,
		StockPrice:       price,
		CallPrice:        call.LastPrice,
		Strike:           call.Strike,
		Expiration:       expiration,
		SharedExpiration: shared,
		Breakeven:        breakeven,
		Description:      summary.BusinessSummary,
		TrailingPE:       firstPresent(summary.TrailingPE, chain.Quote.TrailingPE),
		ForwardPE:        firstPresent(summary.ForwardPE, chain.Quote.ForwardPE),
		MarketCap:        firstPresent(summary.MarketCap, chain.Quote.MarketCap),
		FiftyTwoWeekHigh: firstPresent(chain.Quote.FiftyTwoWeekHigh, summary.FiftyTwoWeekHigh),
		TargetMean:       summary.TargetMeanPrice,
		DividendYield:    summary.DividendYield,
	}
	rec.HighUpside = Upside(rec.FiftyTwoWeekHigh, price)
	rec.TargetUpside = Upside(rec.TargetMean, price)
	rec.Attractive = Attractive(rec.HighUpside, rec.TargetUpside, breakeven)
	return rec, nil
}

func firstPresent[T any](opts ...field.Opt[T]) field.Opt[T] {
	for _, o := range opts {
		if o.Present() {
			return o
		}
	}
	return field.None[T]()
}

// OptionsTable renders records in their current order.
func OptionsTable(records []OptionRecord) *table.Table {
	t := table.New("Options",
		"Ticker", "Stock Price", "Call Contract Price", "Strike Price",
		"Expiration Date", "Shared Expiration", "Breakeven increase",
		"Company Description", "P/E Ratio", "Forward P/E", "Market Cap",
		"52 Week High", "52-week-upside", "1y Target Est", "1y-target-upside",
		"Dividend Yield", "Attractiveness",
	)
	for _, r := range records {
		t.MustAppend(
			table.Text(r.Ticker),
			table.Fixed(r.StockPrice, 2),
			table.Fixed(r.CallPrice, 2),
			table.Fixed(r.Strike, 2),
			table.Text(r.Expiration),
			table.Bool(r.SharedExpiration),
			table.Fixed(r.Breakeven, 4),
			table.OptText(r.Description),
			table.Opt(r.TrailingPE, 2),
			table.Opt(r.ForwardPE, 2),
			table.OptText(field.Map(r.MarketCap, FormatMarketCap)),
			table.Opt(r.FiftyTwoWeekHigh, 2),
			table.OptText(Percent(r.HighUpside, 1)),
			table.Opt(r.TargetMean, 2),
			table.OptText(Percent(r.TargetUpside, 1)),
			table.OptText(Percent(r.DividendYield, 2)),
			table.Bool(r.Attractive),
		)
	}
	return t
}
