package yahoo

import (
	"time"

	"marketscan/internal/field"
)

// OptionsResponse represents the v7 options endpoint response
type OptionsResponse struct {
	OptionChain struct {
		Result []optionResult `json:"result"`
	} `json:"optionChain"`
}

type optionResult struct {
	UnderlyingSymbol string       `json:"underlyingSymbol"`
	ExpirationDates  []int64      `json:"expirationDates"`
	Quote            quoteFields  `json:"quote"`
	Options          []optionsSet `json:"options"`
}

type quoteFields struct {
	Symbol             string   `json:"symbol"`
	LongName           string   `json:"longName"`
	RegularMarketPrice *float64 `json:"regularMarketPrice"`
	FiftyTwoWeekHigh   *float64 `json:"fiftyTwoWeekHigh"`
	TrailingPE         *float64 `json:"trailingPE"`
	ForwardPE          *float64 `json:"forwardPE"`
	MarketCap          *float64 `json:"marketCap"`
}

type optionsSet struct {
	ExpirationDate int64            `json:"expirationDate"`
	Calls          []contractFields `json:"calls"`
}

type contractFields struct {
	ContractSymbol    string   `json:"contractSymbol"`
	Strike            *float64 `json:"strike"`
	LastPrice         *float64 `json:"lastPrice"`
	Bid               *float64 `json:"bid"`
	Ask               *float64 `json:"ask"`
	Volume            *float64 `json:"volume"`
	OpenInterest      *float64 `json:"openInterest"`
	ImpliedVolatility *float64 `json:"impliedVolatility"`
	Expiration        int64    `json:"expiration"`
}

// SummaryResponse represents the v10 quoteSummary endpoint response
type SummaryResponse struct {
	QuoteSummary struct {
		Result []summaryResult `json:"result"`
	} `json:"quoteSummary"`
}

type summaryResult struct {
	AssetProfile struct {
		LongBusinessSummary string `json:"longBusinessSummary"`
	} `json:"assetProfile"`
	FinancialData struct {
		TargetMeanPrice rawValue `json:"targetMeanPrice"`
		CurrentPrice    rawValue `json:"currentPrice"`
	} `json:"financialData"`
	SummaryDetail struct {
		DividendYield    rawValue `json:"dividendYield"`
		TrailingPE       rawValue `json:"trailingPE"`
		ForwardPE        rawValue `json:"forwardPE"`
		MarketCap        rawValue `json:"marketCap"`
		FiftyTwoWeekHigh rawValue `json:"fiftyTwoWeekHigh"`
	} `json:"summaryDetail"`
}

// rawValue is Yahoo's {"raw": 1.5, "fmt": "1.50"} number wrapper.
type rawValue struct {
	Raw *float64 `json:"raw"`
}

func (v rawValue) opt() field.Opt[float64] {
	return field.FromPtr(v.Raw)
}

// Quote is the underlying's market data as reported with an option chain.
type Quote struct {
	Symbol           string
	Name             string
	Price            float64
	FiftyTwoWeekHigh field.Opt[float64]
	TrailingPE       field.Opt[float64]
	ForwardPE        field.Opt[float64]
	MarketCap        field.Opt[float64]
}

// Contract is one call option.
type Contract struct {
	Symbol            string
	Strike            float64
	LastPrice         float64
	Bid               field.Opt[float64]
	Ask               field.Opt[float64]
	Volume            field.Opt[float64]
	OpenInterest      field.Opt[float64]
	ImpliedVolatility field.Opt[float64]
	Expiration        string
}

// Chain is the call side of one expiration plus the underlying's quote.
type Chain struct {
	Quote Quote

	// Expirations lists every expiration the ticker trades, ascending, as
	// YYYY-MM-DD.
	Expirations []string

	// Expiration is the date Calls belong to.
	Expiration string
	Calls      []Contract
}

// Summary holds the company fields not carried by the options quote.
type Summary struct {
	BusinessSummary  field.Opt[string]
	TargetMeanPrice  field.Opt[float64]
	DividendYield    field.Opt[float64]
	TrailingPE       field.Opt[float64]
	ForwardPE        field.Opt[float64]
	MarketCap        field.Opt[float64]
	FiftyTwoWeekHigh field.Opt[float64]
}

// Date formats a Yahoo unix timestamp as a YYYY-MM-DD expiration.
func Date(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.DateOnly)
}

// Unix parses a YYYY-MM-DD expiration into the timestamp Yahoo expects.
func Unix(date string) (int64, error) {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}
