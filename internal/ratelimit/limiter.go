package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// API represents the different external APIs we interact with
type API string

const (
	// APIYahoo represents the Yahoo Finance options and quote endpoints
	APIYahoo API = "yahoo"
	// APIAlphaVantage represents the AlphaVantage API
	APIAlphaVantage API = "alphavantage"
	// APICapitolTrades represents the Capitol Trades site
	APICapitolTrades API = "capitoltrades"
	// APIEdgar represents SEC EDGAR
	APIEdgar API = "edgar"
)

// Limit is a sustained request rate plus a burst allowance. A rate of zero
// or less means unlimited.
type Limit struct {
	PerSecond float64
	Burst     int
}

// PerMinute returns a Limit of n requests per minute with no burst.
func PerMinute(n float64) Limit {
	return Limit{PerSecond: n / 60, Burst: 1}
}

// Interval returns the spacing between requests at the sustained rate.
func (l Limit) Interval() time.Duration {
	if l.PerSecond <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(time.Second) / l.PerSecond))
}

// Defaults returns conservative production limits.
func Defaults() map[API]Limit {
	return map[API]Limit{
		// Yahoo has no published limit; this stays well below where it
		// starts answering 429.
		APIYahoo: {PerSecond: 20, Burst: 5},
		// AlphaVantage: 5 requests per minute on the free tier
		APIAlphaVantage:  PerMinute(5),
		APICapitolTrades: {PerSecond: 2, Burst: 1},
		// SEC fair access policy: 10 requests per second
		APIEdgar: {PerSecond: 10, Burst: 1},
	}
}

// Limiter manages rate limits for different APIs
type Limiter struct {
	limiters map[API]*rate.Limiter
	mu       sync.RWMutex
}

// New creates a Limiter with one token bucket per API in limits.
func New(limits map[API]Limit) *Limiter {
	l := &Limiter{limiters: make(map[API]*rate.Limiter, len(limits))}
	for api, limit := range limits {
		l.Set(api, limit)
	}
	return l
}

// Unlimited returns a Limiter that never blocks. Used in tests.
func Unlimited() *Limiter {
	return &Limiter{limiters: make(map[API]*rate.Limiter)}
}

// Set replaces the limit for api.
func (l *Limiter) Set(api API, limit Limit) {
	r := rate.Inf
	if limit.PerSecond > 0 {
		r = rate.Limit(limit.PerSecond)
	}
	burst := limit.Burst
	if burst < 1 {
		burst = 1
	}

	l.mu.Lock()
	l.limiters[api] = rate.NewLimiter(r, burst)
	l.mu.Unlock()
}

// Wait blocks until the rate limiter permits an event for the given API
// It returns an error if the context is canceled before the event can proceed
func (l *Limiter) Wait(ctx context.Context, api API) error {
	if l == nil {
		return nil
	}

	l.mu.RLock()
	limiter, exists := l.limiters[api]
	l.mu.RUnlock()

	if !exists {
		// If no limiter exists for this API, allow the request without limiting
		return nil
	}

	if err := limiter.Wait(ctx); err != nil {
		// rate.Limiter reports a wait longer than the deadline with its own
		// error; surface the context's error when it has one.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if _, ok := ctx.Deadline(); ok {
			return fmt.Errorf("rate limit wait for %s: %w", api, context.DeadlineExceeded)
		}
		return fmt.Errorf("rate limit wait for %s: %w", api, err)
	}
	return nil
}

// Allow reports whether an event for the given API may happen now
func (l *Limiter) Allow(api API) bool {
	if l == nil {
		return true
	}

	l.mu.RLock()
	limiter, exists := l.limiters[api]
	l.mu.RUnlock()

	if !exists {
		// If no limiter exists for this API, allow the request
		return true
	}

	return limiter.Allow()
}
