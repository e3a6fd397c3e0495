package fundamentals

import (
	"cmp"
	"context"
	"errors"
	"math"
	"slices"
	"time"

	"marketscan/internal/aggregate"
	"marketscan/internal/alphavantage"
	"marketscan/internal/field"
	"marketscan/internal/table"
	"marketscan/internal/yahoo"
)

// ErrNoHistory is returned when there is nothing to summarize.
var ErrNoHistory = errors.New("no complete quarters in history")

// Fit is a least-squares line through a series.
type Fit struct {
	Slope    float64
	RSquared float64
}

// Regress fits y against x. It reports false when x has no spread. A flat
// y yields a zero slope and zero R².
func Regress(x, y []float64) (Fit, bool) {
	sxx, syy, sxy, ok := moments(x, y)
	if !ok || sxx == 0 {
		return Fit{}, false
	}
	fit := Fit{Slope: sxy / sxx}
	if syy > 0 {
		r := sxy / math.Sqrt(sxx*syy)
		fit.RSquared = r * r
	}
	return fit, true
}

// Correlation is the Pearson correlation of x and y, absent when either
// series is flat.
func Correlation(x, y []float64) field.Opt[float64] {
	sxx, syy, sxy, ok := moments(x, y)
	if !ok || sxx == 0 || syy == 0 {
		return field.None[float64]()
	}
	return field.Some(sxy / math.Sqrt(sxx*syy))
}

// moments returns the centered sums of squares and cross products.
func moments(x, y []float64) (sxx, syy, sxy float64, ok bool) {
	n := len(x)
	if n < 2 || n != len(y) {
		return 0, 0, 0, false
	}
	var mx, my float64
	for i := range x {
		mx += x[i]
		my += y[i]
	}
	mx /= float64(n)
	my /= float64(n)
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}
	return sxx, syy, sxy, true
}

// Trend summarizes one ticker's history.
type Trend struct {
	Ticker        string
	Quarters      int
	OldestDate    time.Time
	OldestRevenue float64
	NewestDate    time.Time
	NewestRevenue float64

	// RevenueChange is the percent change from oldest to newest revenue.
	RevenueChange field.Opt[float64]

	// DividendYield is a fraction, filled in by PivotJob.
	DividendYield field.Opt[float64]

	RevenueSlope field.Opt[float64]
	RevenueR2    field.Opt[float64]
	IncomeSlope  field.Opt[float64]
	IncomeR2     field.Opt[float64]
	CombinedR2   field.Opt[float64]
	Correlation  field.Opt[float64]
}

// Trends computes a Trend per ticker from the complete quarters of history.
// The x axis is days since the ticker's first report. Trends are sorted by
// combined R² descending with absent values last, then ticker ascending.
func Trends(history []alphavantage.Quarter) []Trend {
	byTicker := make(map[string][]alphavantage.Quarter)
	for _, q := range history {
		if q.Complete() {
			byTicker[q.Ticker] = append(byTicker[q.Ticker], q)
		}
	}

	trends := make([]Trend, 0, len(byTicker))
	for ticker, quarters := range byTicker {
		trends = append(trends, trend(ticker, quarters))
	}
	SortTrends(trends)
	return trends
}

func trend(ticker string, quarters []alphavantage.Quarter) Trend {
	slices.SortFunc(quarters, func(a, b alphavantage.Quarter) int {
		return a.FiscalDateEnding.Compare(b.FiscalDateEnding)
	})

	first := quarters[0].FiscalDateEnding
	days := make([]float64, len(quarters))
	revenue := make([]float64, len(quarters))
	income := make([]float64, len(quarters))
	for i, q := range quarters {
		days[i] = math.Floor(q.FiscalDateEnding.Sub(first).Hours() / 24)
		revenue[i] = q.TotalRevenue.Or(0)
		income[i] = q.NetIncome.Or(0)
	}

	oldest, newest := quarters[0], quarters[len(quarters)-1]
	t := Trend{
		Ticker:        ticker,
		Quarters:      len(quarters),
		OldestDate:    oldest.FiscalDateEnding,
		OldestRevenue: revenue[0],
		NewestDate:    newest.FiscalDateEnding,
		NewestRevenue: revenue[len(revenue)-1],
		Correlation:   Correlation(revenue, income),
	}
	if t.OldestRevenue != 0 {
		t.RevenueChange = field.Some((t.NewestRevenue - t.OldestRevenue) / t.OldestRevenue * 100)
	}

	revFit, revOK := Regress(days, revenue)
	incFit, incOK := Regress(days, income)
	if revOK {
		t.RevenueSlope = field.Some(revFit.Slope)
		t.RevenueR2 = field.Some(revFit.RSquared)
	}
	if incOK {
		t.IncomeSlope = field.Some(incFit.Slope)
		t.IncomeR2 = field.Some(incFit.RSquared)
	}
	if revOK && incOK {
		t.CombinedR2 = field.Some(revFit.RSquared * incFit.RSquared)
	}
	return t
}

// SortTrends orders trends by combined R² descending, then ticker.
func SortTrends(trends []Trend) {
	slices.SortFunc(trends, func(a, b Trend) int {
		ar, aok := a.CombinedR2.Get()
		br, bok := b.CombinedR2.Get()
		switch {
		case aok && bok && ar != br:
			return cmp.Compare(br, ar)
		case aok != bok:
			if aok {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.Ticker, b.Ticker)
	})
}

// YieldSource returns the company summary carrying the dividend yield.
type YieldSource interface {
	Summary(ctx context.Context, ticker string) (*yahoo.Summary, error)
}

// PivotResult is the outcome of a pivot run.
type PivotResult struct {
	Trends []Trend
	Report aggregate.Report
}

// PivotJob computes trends and looks up dividend yields concurrently.
type PivotJob struct {
	agg *aggregate.Aggregator[string, field.Opt[float64]]
}

// NewPivotJob creates a pivot job reading yields from src.
func NewPivotJob(src YieldSource, cfg aggregate.Config) (*PivotJob, error) {
	if cfg.Source == "" {
		cfg.Source = "pivot"
	}
	agg, err := aggregate.New(func(ctx context.Context, ticker string) (field.Opt[float64], error) {
		s, err := src.Summary(ctx, ticker)
		if err != nil {
			return field.None[float64](), err
		}
		return s.DividendYield, nil
	}, cfg)
	if err != nil {
		return nil, err
	}
	return &PivotJob{agg: agg}, nil
}

// Run summarizes history. A ticker whose yield lookup fails keeps an
// absent yield; the failure is listed in the report.
func (j *PivotJob) Run(ctx context.Context, history []alphavantage.Quarter) (*PivotResult, error) {
	trends := Trends(history)
	if len(trends) == 0 {
		return nil, ErrNoHistory
	}

	tickers := make([]string, len(trends))
	for i, t := range trends {
		tickers[i] = t.Ticker
	}
	out, err := j.agg.Run(ctx, tickers)
	if err != nil {
		return nil, err
	}
	for _, rec := range out.Records {
		trends[rec.Index].DividendYield = rec.Value
	}
	return &PivotResult{Trends: trends, Report: out.Report()}, nil
}

// PivotTable renders trends in their current order.
func PivotTable(trends []Trend) *table.Table {
	t := table.New("Financials Summary",
		"Ticker", "Oldest Date", "Oldest Revenue", "Newest Date", "Newest Revenue",
		"%Change Revenue", "%Dividend Yield", "Revenue Slope", "Revenue R²",
		"Net Income Slope", "Net Income R²", "Combined R²", "Revenue-Income Correlation",
	)
	for _, tr := range trends {
		t.MustAppend(
			table.Text(tr.Ticker),
			table.Text(tr.OldestDate.Format(time.DateOnly)),
			table.Fixed(tr.OldestRevenue, 0),
			table.Text(tr.NewestDate.Format(time.DateOnly)),
			table.Fixed(tr.NewestRevenue, 0),
			table.Opt(tr.RevenueChange, 2),
			table.Opt(field.Map(tr.DividendYield, func(v float64) float64 { return v * 100 }), 2),
			table.Opt(tr.RevenueSlope, 2),
			table.Opt(tr.RevenueR2, 4),
			table.Opt(tr.IncomeSlope, 2),
			table.Opt(tr.IncomeR2, 4),
			table.Opt(tr.CombinedR2, 4),
			table.Opt(tr.Correlation, 4),
		)
	}
	return t
}
