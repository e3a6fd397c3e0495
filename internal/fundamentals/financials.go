package fundamentals

import (
	"context"
	"fmt"

	"github.com/jmhodges/clock"

	"marketscan/internal/aggregate"
	"marketscan/internal/alphavantage"
)

// IncomeSource returns a ticker's quarterly income statements.
type IncomeSource interface {
	IncomeStatement(ctx context.Context, ticker string) ([]alphavantage.Quarter, error)
}

// FinancialsResult is the outcome of a financials run.
type FinancialsResult struct {
	// Quarters is the merged history.
	Quarters []alphavantage.Quarter
	Fetched  int
	Report   aggregate.Report
}

// FinancialsJob refreshes the income history for a ticker list.
type FinancialsJob struct {
	agg   *aggregate.Aggregator[string, []alphavantage.Quarter]
	years int
	clock clock.Clock
}

// NewFinancialsJob creates a job keeping the last years years of quarters.
func NewFinancialsJob(src IncomeSource, years int, clk clock.Clock, cfg aggregate.Config) (*FinancialsJob, error) {
	if years <= 0 {
		return nil, fmt.Errorf("fundamentals: years must be positive, got %d", years)
	}
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Source == "" {
		cfg.Source = "financials"
	}
	agg, err := aggregate.New(src.IncomeStatement, cfg)
	if err != nil {
		return nil, err
	}
	return &FinancialsJob{agg: agg, years: years, clock: clk}, nil
}

// Run fetches every ticker and merges the result into existing.
func (j *FinancialsJob) Run(ctx context.Context, tickers []string, existing []alphavantage.Quarter) (*FinancialsResult, error) {
	out, err := j.agg.Run(ctx, tickers)
	if err != nil {
		return nil, err
	}

	cutoff := j.clock.Now().UTC().AddDate(-j.years, 0, 0)
	var fetched []alphavantage.Quarter
	for _, rec := range out.Records {
		fetched = append(fetched, alphavantage.Since(rec.Value, cutoff)...)
	}

	return &FinancialsResult{
		Quarters: Merge(existing, fetched),
		Fetched:  len(fetched),
		Report:   out.Report(),
	}, nil
}
