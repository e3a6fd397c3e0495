package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/tidwall/gjson"
	"resty.dev/v3"

	"marketscan/internal/fetcher"
	"marketscan/internal/field"
	"marketscan/internal/ratelimit"
)

// DefaultBaseURL is the AlphaVantage query endpoint.
const DefaultBaseURL = "https://www.alphavantage.co/query"

// IncomeStatementResponse represents the AlphaVantage INCOME_STATEMENT response
type IncomeStatementResponse struct {
	Symbol           string         `json:"symbol"`
	QuarterlyReports []ReportFields `json:"quarterlyReports"`
}

// ReportFields are the raw fields of one quarterly report. AlphaVantage
// sends every number as a string and uses "None" for missing values.
type ReportFields struct {
	FiscalDateEnding string `json:"fiscalDateEnding"`
	ReportedCurrency string `json:"reportedCurrency"`
	TotalRevenue     string `json:"totalRevenue"`
	NetIncome        string `json:"netIncome"`
}

// Quarter is one parsed quarterly report.
type Quarter struct {
	Ticker           string
	FiscalDateEnding time.Time
	TotalRevenue     field.Opt[float64]
	NetIncome        field.Opt[float64]
}

// Complete reports whether both revenue and net income are present.
func (q Quarter) Complete() bool {
	return q.TotalRevenue.Present() && q.NetIncome.Present()
}

// Client fetches fundamentals from AlphaVantage
type Client struct {
	apiKey  string
	client  *resty.Client
	limiter *ratelimit.Limiter
}

// NewClient creates a new AlphaVantage client
func NewClient(apiKey, baseURL string, pool fetcher.PoolSettings, limiter *ratelimit.Limiter) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		client:  fetcher.NewHTTPClient(baseURL, pool),
		limiter: limiter,
	}
}

// Close releases the client's idle connections.
func (c *Client) Close() error {
	return c.client.Close()
}

// IncomeStatement retrieves the quarterly income statements for ticker,
// newest first.
func (c *Client) IncomeStatement(ctx context.Context, ticker string) ([]Quarter, error) {
	if err := c.limiter.Wait(ctx, ratelimit.APIAlphaVantage); err != nil {
		return nil, fetcher.Classify(err)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"apikey":   c.apiKey,
			"function": "INCOME_STATEMENT",
			"symbol":   ticker,
		}).
		Get("")
	if err := fetcher.CheckResponse(resp, err); err != nil {
		return nil, fmt.Errorf("failed to fetch income statement for %s: %w", ticker, err)
	}

	body := resp.Bytes()
	if err := providerError(body); err != nil {
		return nil, fmt.Errorf("income statement for %s: %w", ticker, err)
	}

	var result IncomeStatementResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fetcher.NewValidationError("failed to decode income statement for %s: %v", ticker, err)
	}
	if len(result.QuarterlyReports) == 0 {
		return nil, fetcher.NewValidationError("no quarterly reports for %s", ticker)
	}

	quarters := make([]Quarter, 0, len(result.QuarterlyReports))
	for _, r := range result.QuarterlyReports {
		date, err := time.Parse(time.DateOnly, r.FiscalDateEnding)
		if err != nil {
			// A report without a usable date cannot be placed in the history.
			continue
		}
		quarters = append(quarters, Quarter{
			Ticker:           ticker,
			FiscalDateEnding: date,
			TotalRevenue:     field.ParseFloat(r.TotalRevenue),
			NetIncome:        field.ParseFloat(r.NetIncome),
		})
	}

	slices.SortFunc(quarters, func(a, b Quarter) int {
		return b.FiscalDateEnding.Compare(a.FiscalDateEnding)
	})
	return quarters, nil
}

// providerError inspects a 200 body for AlphaVantage's in-band errors.
// "Note" and "Information" are throttle notices; "Error Message" means the
// request itself was wrong.
func providerError(body []byte) error {
	res := gjson.GetManyBytes(body, "Note", "Information", "Error Message")
	if res[0].Exists() {
		return fetcher.NewThrottleError(res[0].String())
	}
	if res[1].Exists() {
		return fetcher.NewThrottleError(res[1].String())
	}
	if res[2].Exists() {
		return fetcher.NewClientError(0, res[2].String())
	}
	return nil
}

// Since keeps quarters that ended strictly after cutoff.
func Since(quarters []Quarter, cutoff time.Time) []Quarter {
	var kept []Quarter
	for _, q := range quarters {
		if q.FiscalDateEnding.After(cutoff) {
			kept = append(kept, q)
		}
	}
	return kept
}
