// Package capitoltrades scrapes congressional trade disclosures from
// capitoltrades.com.
package capitoltrades

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jmhodges/clock"
	"resty.dev/v3"

	"marketscan/internal/fetcher"
	"marketscan/internal/field"
	"marketscan/internal/ratelimit"
)

const (
	// DefaultBaseURL is the Capitol Trades site.
	DefaultBaseURL = "https://www.capitoltrades.com"
	// DefaultPageSize matches the largest page the site serves.
	DefaultPageSize = 1000
)

// Trade is one disclosed transaction.
type Trade struct {
	Politician     string
	Issuer         string
	Ticker         string
	TradeType      string
	Published      field.Opt[time.Time]
	Traded         field.Opt[time.Time]
	FiledAfterDays field.Opt[float64]
	Owner          string
	Price          string
	TradeSize      string

	// Page and Row locate the trade in the listing.
	Page int
	Row  int
}

// Client fetches trade listing pages
type Client struct {
	client   *resty.Client
	limiter  *ratelimit.Limiter
	clock    clock.Clock
	pageSize int
}

// NewClient creates a new Capitol Trades client. clk resolves relative
// dates such as "Today".
func NewClient(baseURL string, pageSize int, pool fetcher.PoolSettings, limiter *ratelimit.Limiter, clk clock.Clock) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Client{
		client:   fetcher.NewHTTPClient(baseURL, pool),
		limiter:  limiter,
		clock:    clk,
		pageSize: pageSize,
	}
}

// Close releases the client's idle connections.
func (c *Client) Close() error {
	return c.client.Close()
}

// Page fetches and parses one listing page. A page past the end of the
// listing yields no trades and no error.
func (c *Client) Page(ctx context.Context, page int) ([]Trade, error) {
	if err := c.limiter.Wait(ctx, ratelimit.APICapitolTrades); err != nil {
		return nil, fetcher.Classify(err)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "text/html").
		SetQueryParams(map[string]string{
			"pageSize": strconv.Itoa(c.pageSize),
			"page":     strconv.Itoa(page),
		}).
		Get("/trades")
	if err := fetcher.CheckResponse(resp, err); err != nil {
		return nil, fmt.Errorf("failed to fetch trades page %d: %w", page, err)
	}

	return ParsePage(bytes.NewReader(resp.Bytes()), c.clock.Now(), page)
}

// ParsePage extracts the trades table from a listing page. now anchors
// relative dates.
func ParsePage(r io.Reader, now time.Time, page int) ([]Trade, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fetcher.NewValidationError("failed to parse trades page %d: %v", page, err)
	}

	var trades []Trade
	doc.Find("table.q-table tbody tr").Each(func(i int, row *goquery.Selection) {
		trades = append(trades, Trade{
			Politician:     text(row, ".q-column--politician h2 a"),
			Issuer:         text(row, ".q-column--issuer h3 a"),
			Ticker:         NormalizeTicker(text(row, ".q-column--issuer span")),
			TradeType:      text(row, ".q-column--txType .tx-type"),
			Published:      ParseDate(dateText(row, ".q-column--pubDate"), now),
			Traded:         ParseDate(dateText(row, ".q-column--txDate"), now),
			FiledAfterDays: field.ParseFloat(text(row, ".q-column--reportingGap .q-value span")),
			Owner:          text(row, ".q-column--owner .q-label"),
			Price:          text(row, ".q-column--price .q-field"),
			TradeSize:      NormalizeSize(text(row, ".q-column--value .text-size-2")),
			Page:           page,
			Row:            i,
		})
	})
	return trades, nil
}

func text(row *goquery.Selection, selector string) string {
	return strings.TrimSpace(row.Find(selector).First().Text())
}

// dateText joins the two lines a date cell is split into, e.g. "12 Jan"
// and "2025".
func dateText(row *goquery.Selection, selector string) string {
	cell := row.Find(selector).First()
	upper := strings.TrimSpace(cell.Find(".text-size-3").First().Text())
	lower := strings.TrimSpace(cell.Find(".text-size-2").First().Text())
	if upper == "" && lower == "" {
		return strings.TrimSpace(cell.Text())
	}
	return strings.TrimSpace(upper + " " + lower)
}

// NormalizeTicker strips the exchange suffix: "NVDA:US" becomes "NVDA".
func NormalizeTicker(s string) string {
	if i := strings.Index(s, ":"); i >= 0 {
		return s[:i]
	}
	return s
}

// NormalizeSize replaces the en dash in ranges like "1K–15K" with "-".
func NormalizeSize(s string) string {
	return strings.ReplaceAll(s, "–", "-")
}

var dateLayouts = []string{
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"Jan 2 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006-01-02",
	"01/02/2006",
}

// ParseDate reads a listing date. "Today" and "Yesterday" resolve against
// now; anything unparseable is absent.
func ParseDate(s string, now time.Time) field.Opt[time.Time] {
	s = strings.TrimSpace(s)
	if s == "" {
		return field.None[time.Time]()
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch {
	case strings.Contains(s, "Today"):
		return field.Some(today)
	case strings.Contains(s, "Yesterday"):
		return field.Some(today.AddDate(0, 0, -1))
	}

	candidates := []string{s}
	if parts := strings.Fields(s); len(parts) > 3 {
		// Drop a leading time of day such as "17:05".
		candidates = append(candidates, strings.Join(parts[1:], " "))
	}
	for _, c := range candidates {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				return field.Some(t)
			}
		}
	}
	return field.None[time.Time]()
}
