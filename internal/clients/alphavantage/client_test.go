package alphavantage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/internal/clients/guard"
	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/telemetry"
)

func testGuard(retries int) *guard.Guard {
	return guard.New(guard.Config{
		Name:              "alphavantage",
		RequestsPerWindow: 1000,
		WindowSeconds:     1,
		MaxRetries:        retries,
		BackoffBase:       time.Millisecond,
	}, telemetry.NewMetricsRegistry(), zerolog.Nop())
}

func TestDailySentiment_AggregatesPerDay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		assert.Equal(t, "NEWS_SENTIMENT", r.URL.Query().Get("function"))
		assert.Equal(t, "AAPL", r.URL.Query().Get("tickers"))
		assert.Equal(t, "20260302T0000", r.URL.Query().Get("time_from"))
		assert.Equal(t, "20260303T2359", r.URL.Query().Get("time_to"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"feed":[
			{"time_published":"20260302T093000","overall_sentiment_score":0.9,
			 "ticker_sentiment":[{"ticker":"AAPL","ticker_sentiment_score":"0.5"}]},
			{"time_published":"20260302T150000","overall_sentiment_score":0.1,
			 "ticker_sentiment":[{"ticker":"MSFT","ticker_sentiment_score":"0.8"}]},
			{"time_published":"20260303T110000","overall_sentiment_score":-0.2,
			 "ticker_sentiment":[{"ticker":"AAPL","ticker_sentiment_score":"-0.4"}]}
		]}`))
	}))
	defer server.Close()

	client := NewClient("test-key", testGuard(0), zerolog.Nop())
	client.baseURL = server.URL

	quotes, err := client.DailySentiment(context.Background(), "AAPL", "2026-03-02", "2026-03-03")
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	// March 2nd: the AAPL article contributes its ticker score, the MSFT
	// article its overall score. (0.5 + 0.1) / 2.
	assert.Equal(t, "2026-03-02", quotes[0].Date)
	assert.InDelta(t, 0.3, quotes[0].Score, 1e-9)
	assert.Equal(t, 2, quotes[0].Articles)
	assert.Equal(t, "AAPL", quotes[0].SecurityID)
	assert.Equal(t, "alphavantage", quotes[0].Source)

	assert.Equal(t, "2026-03-03", quotes[1].Date)
	assert.InDelta(t, -0.4, quotes[1].Score, 1e-9)
	assert.Equal(t, 1, quotes[1].Articles)
}

func TestDailySentiment_EmptyFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"feed":[]}`))
	}))
	defer server.Close()

	client := NewClient("test-key", testGuard(0), zerolog.Nop())
	client.baseURL = server.URL

	quotes, err := client.DailySentiment(context.Background(), "AAPL", "2026-03-01", "2026-03-02")
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestDailySentiment_QuotaNoteIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note":"Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`))
	}))
	defer server.Close()

	client := NewClient("test-key", testGuard(0), zerolog.Nop())
	client.baseURL = server.URL

	_, err := client.DailySentiment(context.Background(), "AAPL", "2026-03-02", "2026-03-02")
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestDailySentiment_ServerErrorRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"feed":[{"time_published":"20260302T093000","overall_sentiment_score":0.2,"ticker_sentiment":[]}]}`))
	}))
	defer server.Close()

	client := NewClient("test-key", testGuard(3), zerolog.Nop())
	client.baseURL = server.URL

	quotes, err := client.DailySentiment(context.Background(), "AAPL", "2026-03-02", "2026-03-02")
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.InDelta(t, 0.2, quotes[0].Score, 1e-9)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
