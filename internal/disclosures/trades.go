// Package disclosures collects paged public disclosures: politician trade
// listings and institutional holdings filings.
package disclosures

import (
	"cmp"
	"context"
	"slices"
	"time"

	"marketscan/internal/aggregate"
	"marketscan/internal/capitoltrades"
	"marketscan/internal/field"
	"marketscan/internal/table"
)

// TradePager fetches one listing page. An empty page is not an error.
type TradePager interface {
	Page(ctx context.Context, page int) ([]capitoltrades.Trade, error)
}

// TradesResult is the outcome of a trades run.
type TradesResult struct {
	Trades []capitoltrades.Trade
	Report aggregate.Report
}

// TradesJob fetches the first pages of the trade listing concurrently.
type TradesJob struct {
	agg      *aggregate.Aggregator[int, []capitoltrades.Trade]
	maxPages int
}

// NewTradesJob creates a trades job reading pages 1..maxPages.
func NewTradesJob(src TradePager, maxPages int, cfg aggregate.Config) (*TradesJob, error) {
	if maxPages <= 0 {
		return nil, errPages(maxPages)
	}
	if cfg.Source == "" {
		cfg.Source = "trades"
	}
	agg, err := aggregate.New(src.Page, cfg)
	if err != nil {
		return nil, err
	}
	return &TradesJob{agg: agg, maxPages: maxPages}, nil
}

// Run fetches every page and returns the trades newest first.
func (j *TradesJob) Run(ctx context.Context) (*TradesResult, error) {
	out, err := j.agg.Run(ctx, PageNumbers(j.maxPages))
	if err != nil {
		return nil, err
	}

	res := &TradesResult{Report: out.Report()}
	for _, rec := range out.Records {
		res.Trades = append(res.Trades, rec.Value...)
	}
	SortTrades(res.Trades)
	return res, nil
}

// PageNumbers returns 1..n.
func PageNumbers(n int) []int {
	pages := make([]int, n)
	for i := range pages {
		pages[i] = i + 1
	}
	return pages
}

// SortTrades orders trades by published date descending, then by their
// position in the listing. Trades without a published date sort last.
func SortTrades(trades []capitoltrades.Trade) {
	slices.SortStableFunc(trades, func(a, b capitoltrades.Trade) int {
		return cmp.Or(
			newestFirst(a.Published, b.Published),
			cmp.Compare(a.Page, b.Page),
			cmp.Compare(a.Row, b.Row),
		)
	})
}

// newestFirst orders present times descending with absent values last.
func newestFirst(a, b field.Opt[time.Time]) int {
	at, aok := a.Get()
	bt, bok := b.Get()
	switch {
	case aok && bok:
		return bt.Compare(at)
	case aok:
		return -1
	case bok:
		return 1
	default:
		return 0
	}
}

// TradesTable renders trades in their current order.
func TradesTable(trades []capitoltrades.Trade) *table.Table {
	t := table.New("Trades",
		"Politician", "Traded Issuer", "Ticker", "Published", "Traded",
		"Filed After (days)", "Owner", "Type", "Size", "Price",
	)
	for _, tr := range trades {
		t.MustAppend(
			table.Text(tr.Politician),
			table.Text(tr.Issuer),
			table.Text(tr.Ticker),
			dateCell(tr.Published.Get()),
			dateCell(tr.Traded.Get()),
			table.Opt(tr.FiledAfterDays, 0),
			table.Text(tr.Owner),
			table.Text(tr.TradeType),
			table.Text(tr.TradeSize),
			table.Text(tr.Price),
		)
	}
	return t
}

func dateCell(t time.Time, ok bool) table.Cell {
	if !ok {
		return table.Missing()
	}
	return table.Text(t.Format(time.DateOnly))
}
