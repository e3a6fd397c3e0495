// Package retry holds the single retry policy every fetch runs under.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"marketscan/internal/fetcher"
)

// Policy controls retry behavior with exponential backoff and jitter.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// A value of 1 disables retries.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration

	// Multiplier scales the delay after each attempt. A multiplier of 1
	// gives fixed backoff.
	Multiplier float64

	// Jitter randomizes each delay by ±Jitter of its value (0 disables).
	Jitter float64

	// ShouldRetry overrides the transient-error check. If nil,
	// fetcher.IsTransient is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// None returns a policy that makes exactly one attempt.
func None() Policy {
	return Policy{MaxAttempts: 1}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff < p.InitialBackoff {
		maxBackoff = p.InitialBackoff
	}

	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialBackoff),
		backoff.WithMaxInterval(maxBackoff),
		backoff.WithMultiplier(multiplier),
		backoff.WithRandomizationFactor(p.Jitter),
		// Attempts, not elapsed time, bound the loop.
		backoff.WithMaxElapsedTime(0),
	)

	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Do runs fn until it succeeds, returns a non-transient error, the attempts
// run out, or ctx ends. The error of the last attempt is returned.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = fetcher.IsTransient
	}

	attempt := 0
	op := func() (T, error) {
		attempt++
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil || !shouldRetry(err) {
			return val, backoff.Permanent(err)
		}
		return val, err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = func(err error, wait time.Duration) {
			p.OnRetry(attempt, err, wait)
		}
	}

	return backoff.RetryNotifyWithData(op, p.backOff(ctx), notify)
}

// Logger returns an OnRetry callback that logs each retry attempt.
func Logger(source string) func(int, error, time.Duration) {
	return func(attempt int, err error, wait time.Duration) {
		zap.L().Warn("retrying fetch",
			zap.String("source", source),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
}
