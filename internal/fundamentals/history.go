// Package fundamentals keeps a quarterly revenue and net income history and
// derives per-ticker trend metrics from it.
package fundamentals

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"marketscan/internal/alphavantage"
	"marketscan/internal/field"
	"marketscan/internal/table"
)

// HistoryRow is one line of the history CSV. Values stay as text so that
// hand-edited files with currency symbols or other date layouts still load.
type HistoryRow struct {
	FiscalDateEnding string `csv:"fiscalDateEnding"`
	TotalRevenue     string `csv:"totalRevenue"`
	NetIncome        string `csv:"netIncome"`
	Ticker           string `csv:"ticker"`
}

var fiscalDateLayouts = []string{
	time.DateOnly,
	"02/01/2006",
	time.DateTime,
}

// ParseFiscalDate accepts YYYY-MM-DD, DD/MM/YYYY and a timestamp form.
func ParseFiscalDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range fiscalDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized fiscal date %q", s)
}

// ParseAmount reads a money amount such as "$1,234" or "None".
func ParseAmount(s string) field.Opt[float64] {
	return field.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), "$", ""))
}

// ReadHistory decodes a history CSV. Rows without a ticker or with an
// unreadable date are skipped.
func ReadHistory(r io.Reader) ([]alphavantage.Quarter, error) {
	var rows []*HistoryRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("fundamentals: read history: %w", err)
	}

	quarters := make([]alphavantage.Quarter, 0, len(rows))
	for i, row := range rows {
		ticker := strings.TrimSpace(row.Ticker)
		date, err := ParseFiscalDate(row.FiscalDateEnding)
		if ticker == "" || err != nil {
			zap.L().Warn("skipping history row",
				zap.Int("line", i+2),
				zap.String("ticker", ticker),
				zap.String("fiscal_date", row.FiscalDateEnding),
			)
			continue
		}
		quarters = append(quarters, alphavantage.Quarter{
			Ticker:           ticker,
			FiscalDateEnding: date,
			TotalRevenue:     ParseAmount(row.TotalRevenue),
			NetIncome:        ParseAmount(row.NetIncome),
		})
	}
	return quarters, nil
}

// LoadHistory reads the history file at path. A missing file is an empty
// history.
func LoadHistory(path string) ([]alphavantage.Quarter, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fundamentals: open history: %w", err)
	}
	defer f.Close()
	return ReadHistory(f)
}

type quarterKey struct {
	ticker string
	date   time.Time
}

// Merge combines an existing history with freshly fetched quarters. A
// fetched quarter replaces the stored one for the same ticker and date.
// Quarters missing revenue or net income are dropped. The result is sorted
// by ticker ascending, then date descending.
func Merge(existing, fetched []alphavantage.Quarter) []alphavantage.Quarter {
	byKey := make(map[quarterKey]alphavantage.Quarter, len(existing)+len(fetched))
	for _, batch := range [][]alphavantage.Quarter{existing, fetched} {
		for _, q := range batch {
			if !q.Complete() {
				continue
			}
			byKey[quarterKey{q.Ticker, q.FiscalDateEnding}] = q
		}
	}

	merged := make([]alphavantage.Quarter, 0, len(byKey))
	for _, q := range byKey {
		merged = append(merged, q)
	}
	SortHistory(merged)
	return merged
}

// SortHistory orders quarters by ticker ascending, then date descending.
func SortHistory(quarters []alphavantage.Quarter) {
	slices.SortFunc(quarters, func(a, b alphavantage.Quarter) int {
		return cmp.Or(
			cmp.Compare(a.Ticker, b.Ticker),
			b.FiscalDateEnding.Compare(a.FiscalDateEnding),
		)
	})
}

// HistoryTable renders quarters with the history CSV's columns.
func HistoryTable(quarters []alphavantage.Quarter) *table.Table {
	t := table.New("Financials", "fiscalDateEnding", "totalRevenue", "netIncome", "ticker")
	for _, q := range quarters {
		t.MustAppend(
			table.Text(q.FiscalDateEnding.Format(time.DateOnly)),
			table.Opt(q.TotalRevenue, 0),
			table.Opt(q.NetIncome, 0),
			table.Text(q.Ticker),
		)
	}
	return t
}
