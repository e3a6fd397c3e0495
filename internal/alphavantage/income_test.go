package alphavantage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketscan/internal/fetcher"
	"marketscan/internal/ratelimit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewClient("test_key", server.URL, fetcher.PoolSettings{MaxConnsPerHost: 2}, ratelimit.Unlimited())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestIncomeStatement_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "INCOME_STATEMENT", r.URL.Query().Get("function"))
		assert.Equal(t, "NU", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test_key", r.URL.Query().Get("apikey"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"symbol": "NU",
			"quarterlyReports": [
				{"fiscalDateEnding": "2024-03-31", "totalRevenue": "2740000000", "netIncome": "378800000"},
				{"fiscalDateEnding": "2024-06-30", "totalRevenue": "2850000000", "netIncome": "487300000"},
				{"fiscalDateEnding": "2023-12-31", "totalRevenue": "None", "netIncome": "360900000"},
				{"fiscalDateEnding": "not a date", "totalRevenue": "1", "netIncome": "1"}
			]
		}`))
	})

	quarters, err := c.IncomeStatement(context.Background(), "NU")
	require.NoError(t, err)
	require.Len(t, quarters, 3)

	assert.Equal(t, "2024-06-30", quarters[0].FiscalDateEnding.Format(time.DateOnly))
	assert.Equal(t, 2850000000.0, quarters[0].TotalRevenue.Or(0))
	assert.True(t, quarters[0].Complete())

	assert.Equal(t, "2023-12-31", quarters[2].FiscalDateEnding.Format(time.DateOnly))
	assert.False(t, quarters[2].TotalRevenue.Present())
	assert.False(t, quarters[2].Complete())
}

func TestIncomeStatement_ThrottleNoteIsTransient(t *testing.T) {
	for _, key := range []string{"Note", "Information"} {
		t.Run(key, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"` + key + `": "Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`))
			})

			_, err := c.IncomeStatement(context.Background(), "NU")
			require.Error(t, err)
			assert.Equal(t, fetcher.ErrorTypeRateLimit, fetcher.TypeOf(err))
			assert.True(t, fetcher.IsTransient(err))
		})
	}
}

func TestIncomeStatement_ErrorMessageIsLogical(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Error Message": "Invalid API call."}`))
	})

	_, err := c.IncomeStatement(context.Background(), "ZZZZ")
	require.Error(t, err)
	assert.Equal(t, fetcher.ErrorTypeClient, fetcher.TypeOf(err))
	assert.False(t, fetcher.IsTransient(err))
	assert.Contains(t, err.Error(), "Invalid API call.")
}

func TestIncomeStatement_EmptyReports(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol": "NU", "quarterlyReports": []}`))
	})

	_, err := c.IncomeStatement(context.Background(), "NU")
	require.Error(t, err)
	assert.Equal(t, fetcher.ErrorTypeValidation, fetcher.TypeOf(err))
}

func TestIncomeStatement_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.IncomeStatement(context.Background(), "NU")
	require.Error(t, err)
	assert.Equal(t, fetcher.ErrorTypeServer, fetcher.TypeOf(err))
	assert.True(t, fetcher.IsTransient(err))
}

func TestSince(t *testing.T) {
	day := func(s string) time.Time {
		d, _ := time.Parse(time.DateOnly, s)
		return d
	}
	quarters := []Quarter{
		{FiscalDateEnding: day("2024-06-30")},
		{FiscalDateEnding: day("2020-06-30")},
		{FiscalDateEnding: day("2019-03-31")},
	}

	kept := Since(quarters, day("2020-06-30"))
	require.Len(t, kept, 1)
	assert.Equal(t, day("2024-06-30"), kept[0].FiscalDateEnding)
}
