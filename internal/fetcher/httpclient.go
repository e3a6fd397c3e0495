package fetcher

import (
	"time"

	"resty.dev/v3"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultUserAgent      = "marketscan/1.0"
)

// PoolSettings sizes the outbound connection pool shared by every request a
// client makes. MaxConnsPerHost should be at least the aggregator's worker
// count so workers never queue on connection setup.
type PoolSettings struct {
	MaxConnsPerHost int
	RequestTimeout  time.Duration
	UserAgent       string
}

// NewHTTPClient creates a resty client for one provider. Retries are not
// configured here: the aggregator's retry policy owns them so attempts are
// counted in one place.
func NewHTTPClient(baseURL string, pool PoolSettings) *resty.Client {
	maxConns := pool.MaxConnsPerHost
	if maxConns <= 0 {
		maxConns = 10
	}
	timeout := pool.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	userAgent := pool.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	client := resty.NewWithTransportSettings(&resty.TransportSettings{
		MaxIdleConns:        maxConns * 2,
		MaxIdleConnsPerHost: maxConns,
	}).
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)

	return client
}

// CheckResponse turns a resty outcome into a classified error. A nil return
// means the response was received with a 2xx status.
func CheckResponse(resp *resty.Response, err error) error {
	if err != nil {
		return Classify(err)
	}

	if resp == nil {
		return NewNetworkError(nil)
	}

	if !resp.IsSuccess() {
		return ClassifyHTTPError(resp.StatusCode())
	}

	return nil
}
