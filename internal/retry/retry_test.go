package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketscan/internal/fetcher"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(4), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", fetcher.NewServerError(503)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsAtMaxAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, fetcher.NewNetworkError(errors.New("connection refused"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, fetcher.ErrorTypeNetwork, fetcher.TypeOf(err))
}

func TestDo_LogicalErrorsAreNotRetried(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, fetcher.NewValidationError("no expiration dates for %s", "XYZ")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, fetcher.ErrorTypeValidation, fetcher.TypeOf(err))
}

func TestDo_NoneMakesOneAttempt(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), None(), func(ctx context.Context) (int, error) {
		calls++
		return 0, fetcher.NewServerError(500)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryCalledBeforeEachRetry(t *testing.T) {
	var attempts []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		attempts = append(attempts, attempt)
	}

	_, _ = Do(context.Background(), p, func(ctx context.Context) (int, error) {
		return 0, fetcher.NewRateLimitError(429)
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_ContextCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 10, InitialBackoff: time.Hour, MaxBackoff: time.Hour, Multiplier: 1}

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, p, func(ctx context.Context) (int, error) {
			calls++
			return 0, fetcher.NewServerError(500)
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Do() did not return after cancellation")
	}
}

func TestDo_CustomShouldRetry(t *testing.T) {
	calls := 0
	p := fastPolicy(3)
	p.ShouldRetry = func(err error) bool { return false }

	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		return 0, fetcher.NewServerError(500)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
