package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlimited_NeverBlocks(t *testing.T) {
	l := Unlimited()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), APIYahoo))
	}
	assert.True(t, l.Allow(APIEdgar))
}

func TestNilLimiter(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background(), APIYahoo))
	assert.True(t, l.Allow(APIYahoo))
}

func TestLimiter_EnforcesBurst(t *testing.T) {
	l := New(map[API]Limit{APIAlphaVantage: PerMinute(5)})

	assert.True(t, l.Allow(APIAlphaVantage))
	assert.False(t, l.Allow(APIAlphaVantage), "second request inside 12s must be refused")
	assert.True(t, l.Allow(APIYahoo), "unconfigured APIs are not limited")
}

func TestLimiter_WaitRespectsContext(t *testing.T) {
	l := New(map[API]Limit{APIAlphaVantage: PerMinute(5)})
	require.NoError(t, l.Wait(context.Background(), APIAlphaVantage))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Wait(ctx, APIAlphaVantage)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLimiter_ZeroRateIsUnlimited(t *testing.T) {
	l := New(map[API]Limit{APIEdgar: {PerSecond: 0}})
	for i := 0; i < 20; i++ {
		assert.True(t, l.Allow(APIEdgar))
	}
}

func TestLimit_Interval(t *testing.T) {
	assert.Equal(t, 12*time.Second, PerMinute(5).Interval())
	assert.Equal(t, 100*time.Millisecond, Limit{PerSecond: 10}.Interval())
	assert.Equal(t, time.Duration(0), Limit{}.Interval())
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.Contains(t, d, APIYahoo)
	assert.Contains(t, d, APIAlphaVantage)
	assert.Contains(t, d, APICapitolTrades)
	assert.Contains(t, d, APIEdgar)
}
