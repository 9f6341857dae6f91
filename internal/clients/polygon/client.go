// Package polygon provides the primary daily close price provider.
package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/clients/guard"
	"github.com/aristath/meridian/internal/domain"
)

// Client for api.polygon.io
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	guard   *guard.Guard
	log     zerolog.Logger
}

// NewClient creates a new Polygon client. Calls route through the guard.
func NewClient(apiKey string, g *guard.Guard, log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://api.polygon.io",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		guard:   g,
		log:     log.With().Str("client", "polygon").Logger(),
	}
}

// Name identifies this provider in sources manifests and logs.
func (c *Client) Name() string {
	return "polygon"
}

// DailyClose fetches the adjusted close for a security on the given date
// (YYYY-MM-DD). A date with no data (market holiday, unknown ticker)
// returns (nil, nil).
func (c *Client) DailyClose(ctx context.Context, securityID, date string) (*domain.PriceQuote, error) {
	var quote *domain.PriceQuote

	err := c.guard.Do(ctx, func(ctx context.Context) error {
		url := fmt.Sprintf("%s/v1/open-close/%s/%s?adjusted=true&apiKey=%s",
			c.baseURL, securityID, date, c.apiKey)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return domain.Transient("polygon daily close", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			// fall through to decode
		case resp.StatusCode == http.StatusNotFound:
			// No bar for this (ticker, date). Absence is data.
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return domain.Transient("polygon daily close",
				fmt.Errorf("API returned status %d", resp.StatusCode))
		default:
			return fmt.Errorf("API returned status %d", resp.StatusCode)
		}

		var result struct {
			Status string  `json:"status"`
			Symbol string  `json:"symbol"`
			Close  float64 `json:"close"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		if result.Status != "OK" {
			c.log.Debug().
				Str("security", securityID).
				Str("date", date).
				Str("status", result.Status).
				Msg("No close for date")
			return nil
		}

		quote = &domain.PriceQuote{
			SecurityID: securityID,
			Close:      result.Close,
			Source:     c.Name(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return quote, nil
}
