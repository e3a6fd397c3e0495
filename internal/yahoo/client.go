// Package yahoo reads option chains and company summaries from Yahoo
// Finance's public JSON endpoints.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"github.com/tidwall/gjson"
	"resty.dev/v3"

	"marketscan/internal/fetcher"
	"marketscan/internal/field"
	"marketscan/internal/ratelimit"
)

// DefaultBaseURL is Yahoo's query host.
const DefaultBaseURL = "https://query2.finance.yahoo.com"

const summaryModules = "assetProfile,financialData,summaryDetail"

// Client fetches options data from Yahoo Finance
type Client struct {
	client  *resty.Client
	limiter *ratelimit.Limiter
}

// NewClient creates a new Yahoo Finance client
func NewClient(baseURL string, pool fetcher.PoolSettings, limiter *ratelimit.Limiter) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		client:  fetcher.NewHTTPClient(baseURL, pool),
		limiter: limiter,
	}
}

// Close releases the client's idle connections.
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx, ratelimit.APIYahoo); err != nil {
		return nil, fetcher.Classify(err)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return nil, fetcher.Classify(err)
	}

	body := resp.Bytes()
	if !resp.IsSuccess() {
		fe := fetcher.ClassifyHTTPError(resp.StatusCode())
		if desc := errorDescription(body); desc != "" {
			fe.Message = desc
		}
		return nil, fe
	}
	if desc := errorDescription(body); desc != "" {
		return nil, fetcher.NewValidationError("%s", desc)
	}
	return body, nil
}

// errorDescription pulls Yahoo's error text out of any of its envelopes.
func errorDescription(body []byte) string {
	for _, path := range []string{
		"optionChain.error.description",
		"quoteSummary.error.description",
		"finance.error.description",
	} {
		if r := gjson.GetBytes(body, path); r.Exists() && r.String() != "" {
			return r.String()
		}
	}
	return ""
}

// Options fetches the call chain for ticker at expiration (YYYY-MM-DD). An
// empty expiration asks for the nearest one.
func (c *Client) Options(ctx context.Context, ticker, expiration string) (*Chain, error) {
	query := map[string]string{}
	if expiration != "" {
		unix, err := Unix(expiration)
		if err != nil {
			return nil, fetcher.NewValidationError("invalid expiration %q for %s", expiration, ticker)
		}
		query["date"] = strconv.FormatInt(unix, 10)
	}

	body, err := c.get(ctx, "/v7/finance/options/"+url.PathEscape(ticker), query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch options for %s: %w", ticker, err)
	}

	var result OptionsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fetcher.NewValidationError("failed to decode options for %s: %v", ticker, err)
	}
	if len(result.OptionChain.Result) == 0 {
		return nil, fetcher.NewValidationError("no option chain for %s", ticker)
	}

	return parseChain(ticker, result.OptionChain.Result[0])
}

// Expirations returns the ticker's expiration dates, ascending.
func (c *Client) Expirations(ctx context.Context, ticker string) ([]string, error) {
	chain, err := c.Options(ctx, ticker, "")
	if err != nil {
		return nil, err
	}
	return chain.Expirations, nil
}

func parseChain(ticker string, r optionResult) (*Chain, error) {
	q := r.Quote
	if q.RegularMarketPrice == nil || *q.RegularMarketPrice <= 0 {
		return nil, fetcher.NewValidationError("no market price for %s", ticker)
	}

	chain := &Chain{
		Quote: Quote{
			Symbol:           ticker,
			Name:             q.LongName,
			Price:            *q.RegularMarketPrice,
			FiftyTwoWeekHigh: field.FromPtr(q.FiftyTwoWeekHigh),
			TrailingPE:       field.FromPtr(q.TrailingPE),
			ForwardPE:        field.FromPtr(q.ForwardPE),
			MarketCap:        field.FromPtr(q.MarketCap),
		},
	}

	for _, unix := range r.ExpirationDates {
		chain.Expirations = append(chain.Expirations, Date(unix))
	}
	slices.Sort(chain.Expirations)
	chain.Expirations = slices.Compact(chain.Expirations)

	if len(r.Options) == 0 {
		return chain, nil
	}

	set := r.Options[0]
	chain.Expiration = Date(set.ExpirationDate)
	for _, cf := range set.Calls {
		if cf.Strike == nil || cf.LastPrice == nil {
			continue
		}
		exp := chain.Expiration
		if cf.Expiration != 0 {
			exp = Date(cf.Expiration)
		}
		chain.Calls = append(chain.Calls, Contract{
			Symbol:            cf.ContractSymbol,
			Strike:            *cf.Strike,
			LastPrice:         *cf.LastPrice,
			Bid:               field.FromPtr(cf.Bid),
			Ask:               field.FromPtr(cf.Ask),
			Volume:            field.FromPtr(cf.Volume),
			OpenInterest:      field.FromPtr(cf.OpenInterest),
			ImpliedVolatility: field.FromPtr(cf.ImpliedVolatility),
			Expiration:        exp,
		})
	}
	return chain, nil
}

// Summary fetches the company profile, analyst target and dividend yield.
func (c *Client) Summary(ctx context.Context, ticker string) (*Summary, error) {
	body, err := c.get(ctx, "/v10/finance/quoteSummary/"+url.PathEscape(ticker), map[string]string{
		"modules": summaryModules,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch summary for %s: %w", ticker, err)
	}

	var result SummaryResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fetcher.NewValidationError("failed to decode summary for %s: %v", ticker, err)
	}
	if len(result.QuoteSummary.Result) == 0 {
		return nil, fetcher.NewValidationError("no summary for %s", ticker)
	}

	r := result.QuoteSummary.Result[0]
	s := &Summary{
		TargetMeanPrice:  r.FinancialData.TargetMeanPrice.opt(),
		DividendYield:    r.SummaryDetail.DividendYield.opt(),
		TrailingPE:       r.SummaryDetail.TrailingPE.opt(),
		ForwardPE:        r.SummaryDetail.ForwardPE.opt(),
		MarketCap:        r.SummaryDetail.MarketCap.opt(),
		FiftyTwoWeekHigh: r.SummaryDetail.FiftyTwoWeekHigh.opt(),
	}
	if desc := r.AssetProfile.LongBusinessSummary; desc != "" {
		s.BusinessSummary = field.Some(desc)
	}
	return s, nil
}
