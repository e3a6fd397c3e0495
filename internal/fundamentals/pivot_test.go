package fundamentals

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketscan/internal/aggregate"
	"marketscan/internal/alphavantage"
	"marketscan/internal/fetcher"
	"marketscan/internal/field"
	"marketscan/internal/yahoo"
)

func TestRegress(t *testing.T) {
	fit, ok := Regress([]float64{0, 1, 2, 3}, []float64{1, 3, 5, 7})
	require.True(t, ok)
	assert.InDelta(t, 2, fit.Slope, 1e-12)
	assert.InDelta(t, 1, fit.RSquared, 1e-12)

	fit, ok = Regress([]float64{0, 1, 2}, []float64{4, 4, 4})
	require.True(t, ok)
	assert.Equal(t, 0.0, fit.Slope)
	assert.Equal(t, 0.0, fit.RSquared)

	_, ok = Regress([]float64{5, 5}, []float64{1, 2})
	assert.False(t, ok)

	_, ok = Regress([]float64{1}, []float64{1})
	assert.False(t, ok)

	fit, ok = Regress([]float64{0, 1, 2, 3}, []float64{1, 2, 2, 4})
	require.True(t, ok)
	assert.InDelta(t, 0.9, fit.Slope, 1e-12)
	assert.InDelta(t, 20.25/23.75, fit.RSquared, 1e-12)
}

func TestCorrelation(t *testing.T) {
	assert.InDelta(t, 1, Correlation([]float64{1, 2, 3}, []float64{2, 4, 6}).Or(0), 1e-12)
	assert.InDelta(t, -1, Correlation([]float64{1, 2, 3}, []float64{3, 2, 1}).Or(0), 1e-12)
	assert.False(t, Correlation([]float64{1, 2, 3}, []float64{7, 7, 7}).Present())
}

func sampleHistory() []alphavantage.Quarter {
	return []alphavantage.Quarter{
		quarter("AAA", date(2024, 7, 1), 300, 30),
		quarter("AAA", date(2024, 1, 1), 100, 10),
		quarter("AAA", date(2024, 4, 1), 200, 20),
		quarter("BBB", date(2024, 1, 1), 100, 10),
		quarter("BBB", date(2024, 4, 1), 300, 10),
		quarter("BBB", date(2024, 7, 1), 200, 10),
		quarter("CCC", date(2024, 7, 1), 50, 5),
		{Ticker: "DDD", FiscalDateEnding: date(2024, 7, 1), TotalRevenue: field.Some(1.0)},
	}
}

func TestTrends(t *testing.T) {
	trends := Trends(sampleHistory())
	require.Len(t, trends, 3, "tickers without complete quarters are skipped")
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, []string{trends[0].Ticker, trends[1].Ticker, trends[2].Ticker})

	aaa := trends[0]
	assert.Equal(t, 3, aaa.Quarters)
	assert.Equal(t, date(2024, 1, 1), aaa.OldestDate)
	assert.Equal(t, 100.0, aaa.OldestRevenue)
	assert.Equal(t, date(2024, 7, 1), aaa.NewestDate)
	assert.Equal(t, 300.0, aaa.NewestRevenue)
	assert.InDelta(t, 200, aaa.RevenueChange.Or(0), 1e-9)
	assert.InDelta(t, 1, aaa.CombinedR2.Or(0), 1e-9)
	assert.InDelta(t, 1, aaa.Correlation.Or(0), 1e-9)

	bbb := trends[1]
	assert.Equal(t, 0.0, bbb.IncomeR2.Or(-1))
	assert.Equal(t, 0.0, bbb.CombinedR2.Or(-1))
	assert.False(t, bbb.Correlation.Present())

	ccc := trends[2]
	assert.False(t, ccc.CombinedR2.Present())
	assert.InDelta(t, 0, ccc.RevenueChange.Or(-1), 1e-9)
}

type summaryFunc func(ctx context.Context, ticker string) (*yahoo.Summary, error)

func (f summaryFunc) Summary(ctx context.Context, ticker string) (*yahoo.Summary, error) {
	return f(ctx, ticker)
}

func TestPivotJob_Run(t *testing.T) {
	src := summaryFunc(func(ctx context.Context, ticker string) (*yahoo.Summary, error) {
		if ticker == "AAA" {
			return &yahoo.Summary{DividendYield: field.Some(0.0123)}, nil
		}
		return nil, fetcher.NewClientError(404, "Quote not found")
	})

	job, err := NewPivotJob(src, aggregate.Config{Workers: 2})
	require.NoError(t, err)

	res, err := job.Run(context.Background(), sampleHistory())
	require.NoError(t, err)
	require.Len(t, res.Trends, 3)
	assert.Equal(t, 2, res.Report.Failed)

	assert.InDelta(t, 0.0123, res.Trends[0].DividendYield.Or(0), 1e-12)
	assert.False(t, res.Trends[1].DividendYield.Present())

	rows := PivotTable(res.Trends).Strings()
	require.Len(t, rows, 3)
	assert.Equal(t, []string{
		"AAA", "2024-01-01", "100", "2024-07-01", "300", "200.00", "1.23",
		"1.10", "1.0000", "0.11", "1.0000", "1.0000", "1.0000",
	}, rows[0])
	assert.Equal(t, "N/A", rows[2][7])
}

func TestPivotJob_EmptyHistory(t *testing.T) {
	job, err := NewPivotJob(summaryFunc(nil), aggregate.Config{Workers: 1})
	require.NoError(t, err)

	_, err = job.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoHistory)
}
