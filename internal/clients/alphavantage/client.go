// Package alphavantage provides the news sentiment provider.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/clients/guard"
	"github.com/aristath/meridian/internal/domain"
)

// Client for www.alphavantage.co
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	guard   *guard.Guard
	log     zerolog.Logger
}

// NewClient creates a new Alpha Vantage client. Calls route through the
// guard.
func NewClient(apiKey string, g *guard.Guard, log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://www.alphavantage.co",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		guard:   g,
		log:     log.With().Str("client", "alphavantage").Logger(),
	}
}

// Name identifies this provider in sources manifests and logs.
func (c *Client) Name() string {
	return "alphavantage"
}

// article is one feed item of the NEWS_SENTIMENT response. Per-ticker
// scores arrive as strings.
type article struct {
	TimePublished   string  `json:"time_published"` // 20260302T143000
	OverallScore    float64 `json:"overall_sentiment_score"`
	TickerSentiment []struct {
		Ticker string `json:"ticker"`
		Score  string `json:"ticker_sentiment_score"`
	} `json:"ticker_sentiment"`
}

// DailySentiment fetches news sentiment for a security between start and
// end dates inclusive (YYYY-MM-DD) and averages article scores per day,
// oldest first. Days without coverage are absent.
func (c *Client) DailySentiment(ctx context.Context, securityID, start, end string) ([]domain.SentimentQuote, error) {
	var quotes []domain.SentimentQuote

	err := c.guard.Do(ctx, func(ctx context.Context) error {
		url := fmt.Sprintf(
			"%s/query?function=NEWS_SENTIMENT&tickers=%s&time_from=%sT0000&time_to=%sT2359&sort=EARLIEST&limit=1000&apikey=%s",
			c.baseURL, securityID, compactDate(start), compactDate(end), c.apiKey)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return domain.Transient("alphavantage news sentiment", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return domain.Transient("alphavantage news sentiment",
				fmt.Errorf("API returned status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("API returned status %d", resp.StatusCode)
		}

		// Alpha Vantage reports quota exhaustion as HTTP 200 with a Note
		// or Information field instead of a feed.
		var result struct {
			Feed        []article `json:"feed"`
			Note        string    `json:"Note"`
			Information string    `json:"Information"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		if result.Note != "" || result.Information != "" {
			return domain.Transient("alphavantage news sentiment",
				fmt.Errorf("API rate limited: %s%s", result.Note, result.Information))
		}

		quotes = c.aggregate(securityID, result.Feed)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("security", securityID).
		Int("days", len(quotes)).
		Msg("Fetched news sentiment")

	return quotes, nil
}

// aggregate averages article scores per publication day. The ticker-specific
// score is preferred; articles that never mention the ticker fall back to
// their overall score.
func (c *Client) aggregate(securityID string, feed []article) []domain.SentimentQuote {
	type bucket struct {
		sum      float64
		articles int
	}
	days := make(map[string]*bucket)

	for _, a := range feed {
		date := publishedDate(a.TimePublished)
		if date == "" {
			continue
		}

		score := a.OverallScore
		for _, ts := range a.TickerSentiment {
			if ts.Ticker != securityID {
				continue
			}
			if v, err := strconv.ParseFloat(ts.Score, 64); err == nil {
				score = v
			}
			break
		}

		b := days[date]
		if b == nil {
			b = &bucket{}
			days[date] = b
		}
		b.sum += score
		b.articles++
	}

	quotes := make([]domain.SentimentQuote, 0, len(days))
	for date, b := range days {
		quotes = append(quotes, domain.SentimentQuote{
			SecurityID: securityID,
			Date:       date,
			Score:      clamp(b.sum/float64(b.articles), -1, 1),
			Articles:   b.articles,
			Source:     c.Name(),
		})
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Date < quotes[j].Date })

	return quotes
}

// publishedDate converts the feed's 20260302T143000 stamps to YYYY-MM-DD.
func publishedDate(timePublished string) string {
	if len(timePublished) < 8 {
		return ""
	}
	t, err := time.Parse("20060102", timePublished[:8])
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// compactDate converts YYYY-MM-DD to the YYYYMMDD form the API expects.
func compactDate(date string) string {
	return strings.ReplaceAll(date, "-", "")
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
