package screener

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"marketscan/internal/fetcher"
	"marketscan/internal/field"
	"marketscan/internal/yahoo"
)

// fakeMarket serves chains and summaries from memory.
type fakeMarket struct {
	mu sync.Mutex

	prices    map[string]float64
	chains    map[string]map[string][]yahoo.Contract
	summaries map[string]*yahoo.Summary
	errs      map[string]error
	expErrs   map[string]error
	chainErrs map[string]error

	requests []string
}

// requested reports whether a chain was read for key ("TICKER@date").
func (m *fakeMarket) requested(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.requests, key)
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		prices:    make(map[string]float64),
		chains:    make(map[string]map[string][]yahoo.Contract),
		summaries: make(map[string]*yahoo.Summary),
		errs:      make(map[string]error),
		expErrs:   make(map[string]error),
		chainErrs: make(map[string]error),
	}
}

func (m *fakeMarket) addCall(ticker, exp string, strike, last, volume float64) {
	if m.chains[ticker] == nil {
		m.chains[ticker] = make(map[string][]yahoo.Contract)
	}
	m.chains[ticker][exp] = append(m.chains[ticker][exp], yahoo.Contract{
		Symbol:     fmt.Sprintf("%s%sC%g", ticker, exp, strike),
		Strike:     strike,
		LastPrice:  last,
		Volume:     field.Some(volume),
		Expiration: exp,
	})
}

func (m *fakeMarket) dates(ticker string) []string {
	var dates []string
	for d := range m.chains[ticker] {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

func (m *fakeMarket) Expirations(ctx context.Context, ticker string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.errs[ticker]; ok {
		return nil, err
	}
	if err, ok := m.expErrs[ticker]; ok {
		return nil, err
	}
	if _, ok := m.prices[ticker]; !ok {
		return nil, fetcher.NewClientError(404, "unknown ticker "+ticker)
	}
	return m.dates(ticker), nil
}

func (m *fakeMarket) Options(ctx context.Context, ticker, expiration string) (*yahoo.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, ticker+"@"+expiration)

	if err, ok := m.errs[ticker]; ok {
		return nil, err
	}
	if err, ok := m.chainErrs[ticker+"@"+expiration]; ok {
		return nil, err
	}
	price, ok := m.prices[ticker]
	if !ok {
		return nil, fetcher.NewClientError(404, "unknown ticker "+ticker)
	}

	dates := m.dates(ticker)
	if expiration == "" && len(dates) > 0 {
		expiration = dates[0]
	}
	return &yahoo.Chain{
		Quote:       yahoo.Quote{Symbol: ticker, Price: price, FiftyTwoWeekHigh: field.Some(price * 1.5)},
		Expirations: dates,
		Expiration:  expiration,
		Calls:       m.chains[ticker][expiration],
	}, nil
}

func (m *fakeMarket) Summary(ctx context.Context, ticker string) (*yahoo.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.summaries[ticker]; ok {
		return s, nil
	}
	return nil, fetcher.NewValidationError("no summary for %s", ticker)
}
