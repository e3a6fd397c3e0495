// Package edgar lists recent filings from the SEC EDGAR company browser.
package edgar

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmhodges/clock"
	"golang.org/x/net/html/charset"
	"resty.dev/v3"

	"marketscan/internal/fetcher"
	"marketscan/internal/field"
	"marketscan/internal/ratelimit"
)

const (
	// DefaultBaseURL is the EDGAR host.
	DefaultBaseURL = "https://www.sec.gov"
	// DefaultForm is the institutional holdings report.
	DefaultForm = "13F-HR"
	// DefaultCount is the largest page EDGAR serves.
	DefaultCount = 100
)

// feed is the Atom document EDGAR returns for output=atom.
type feed struct {
	XMLName xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	Entries []feedEntry `xml:"entry"`
}

type feedEntry struct {
	Title   string `xml:"title"`
	Updated string `xml:"updated"`
	Link    struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
	Category struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

// Filing is one entry of the filings feed.
type Filing struct {
	Title   string
	Link    string
	Form    string
	Updated field.Opt[time.Time]

	// Start is the feed offset of the page the filing came from.
	Start int
	Row   int
}

// Options configure a Client.
type Options struct {
	BaseURL string

	// UserAgent is required by SEC policy and should name the operator and
	// a contact address.
	UserAgent string

	Form  string
	Count int
	Pool  fetcher.PoolSettings

	Limiter *ratelimit.Limiter
	Clock   clock.Clock
}

// Client fetches filing feed pages
type Client struct {
	client  *resty.Client
	limiter *ratelimit.Limiter
	clock   clock.Clock
	form    string
	count   int
}

// NewClient creates an EDGAR client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.UserAgent) == "" {
		return nil, fmt.Errorf("edgar: a User-Agent naming the operator is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Form == "" {
		opts.Form = DefaultForm
	}
	if opts.Count <= 0 || opts.Count > DefaultCount {
		opts.Count = DefaultCount
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	pool := opts.Pool
	pool.UserAgent = opts.UserAgent

	return &Client{
		client: fetcher.NewHTTPClient(opts.BaseURL, pool).
			SetHeader("Accept", "application/atom+xml"),
		limiter: opts.Limiter,
		clock:   opts.Clock,
		form:    opts.Form,
		count:   opts.Count,
	}, nil
}

// Close releases the client's idle connections.
func (c *Client) Close() error {
	return c.client.Close()
}

// Count is the number of entries per page.
func (c *Client) Count() int {
	return c.count
}

// Offsets returns the feed offsets for the first pages pages.
func (c *Client) Offsets(pages int) []int {
	offsets := make([]int, 0, pages)
	for i := 0; i < pages; i++ {
		offsets = append(offsets, i*c.count)
	}
	return offsets
}

// Page fetches filings made before today, starting at offset start.
func (c *Client) Page(ctx context.Context, start int) ([]Filing, error) {
	if err := c.limiter.Wait(ctx, ratelimit.APIEdgar); err != nil {
		return nil, fetcher.Classify(err)
	}

	yesterday := c.clock.Now().AddDate(0, 0, -1).Format("20060102")
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"action": "getcompany",
			"type":   c.form,
			"dateb":  yesterday,
			"owner":  "include",
			"start":  strconv.Itoa(start),
			"count":  strconv.Itoa(c.count),
			"output": "atom",
		}).
		Get("/cgi-bin/browse-edgar")
	if err := fetcher.CheckResponse(resp, err); err != nil {
		return nil, fmt.Errorf("failed to fetch %s filings at offset %d: %w", c.form, start, err)
	}

	return ParseFeed(resp.Bytes(), start)
}

// ParseFeed decodes an EDGAR Atom feed. EDGAR declares ISO-8859-1, so the
// decoder converts through the declared charset.
func ParseFeed(body []byte, start int) ([]Filing, error) {
	var f feed
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.CharsetReader = charset.NewReaderLabel
	if err := decoder.Decode(&f); err != nil {
		return nil, fetcher.NewValidationError("failed to decode filings feed at offset %d: %v", start, err)
	}

	filings := make([]Filing, 0, len(f.Entries))
	for i, e := range f.Entries {
		filing := Filing{
			Title: strings.TrimSpace(e.Title),
			Link:  strings.TrimSpace(e.Link.Href),
			Form:  e.Category.Term,
			Start: start,
			Row:   i,
		}
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Updated)); err == nil {
			filing.Updated = field.Some(t)
		}
		filings = append(filings, filing)
	}
	return filings, nil
}
