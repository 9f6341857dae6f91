// Package fred provides macro series observations from the St. Louis Fed
// FRED API: the risk-free rate series and any series referenced by macro
// alert conditions. Observation values keep FRED's native unit (percent
// for rate series); consumers convert.
package fred

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/clients/guard"
	"github.com/aristath/meridian/internal/domain"
)

// Client for api.stlouisfed.org
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	guard   *guard.Guard
	log     zerolog.Logger
}

// NewClient creates a new FRED client. Calls route through the guard.
func NewClient(apiKey string, g *guard.Guard, log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://api.stlouisfed.org/fred",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		guard:   g,
		log:     log.With().Str("client", "fred").Logger(),
	}
}

// Name identifies this provider in sources manifests and logs.
func (c *Client) Name() string {
	return "fred"
}

// Series fetches observations for a series between start and end dates
// inclusive (YYYY-MM-DD), oldest first. FRED marks unavailable days with
// value "."; those observations are skipped.
func (c *Client) Series(ctx context.Context, series, start, end string) ([]domain.MacroObservation, error) {
	var observations []domain.MacroObservation

	err := c.guard.Do(ctx, func(ctx context.Context) error {
		url := fmt.Sprintf(
			"%s/series/observations?series_id=%s&api_key=%s&file_type=json&observation_start=%s&observation_end=%s&sort_order=asc",
			c.baseURL, series, c.apiKey, start, end)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return domain.Transient("fred series", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return domain.Transient("fred series",
				fmt.Errorf("API returned status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("API returned status %d", resp.StatusCode)
		}

		var result struct {
			Observations []struct {
				Date  string `json:"date"`
				Value string `json:"value"`
			} `json:"observations"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		observations = observations[:0]
		for _, obs := range result.Observations {
			if obs.Value == "." {
				continue
			}
			value, err := strconv.ParseFloat(obs.Value, 64)
			if err != nil {
				c.log.Warn().
					Str("series", series).
					Str("date", obs.Date).
					Str("value", obs.Value).
					Msg("Skipping unparseable observation")
				continue
			}
			observations = append(observations, domain.MacroObservation{
				Series: series,
				Date:   obs.Date,
				Value:  value,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("series", series).
		Int("count", len(observations)).
		Msg("Fetched observations")

	return observations, nil
}
