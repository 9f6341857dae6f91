// Package exchangerate provides FX rates for the pack builder's required
// currency pairs.
package exchangerate

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

// Client for exchangerate-api.com
type Client struct {
	baseURL string
	client  *http.Client
	guard   *guard.Guard
	log     zerolog.Logger
}

// NewClient creates a new exchangerate-api.com client. Calls route through
// the guard.
func NewClient(g *guard.Guard, log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://api.exchangerate-api.com/v4/latest",
		client:  &http.Client{Timeout: 10 * time.Second},
		guard:   g,
		log:     log.With().Str("client", "exchangerate-api").Logger(),
	}
}

// Name identifies this provider in sources manifests and logs.
func (c *Client) Name() string {
	return "exchangerate-api"
}

// Rate fetches the base/quote rate at the fixing window. The endpoint
// serves the latest daily fixing; AsOf records the provider's fixing
// timestamp, not the requested date.
func (c *Client) Rate(ctx context.Context, base, quote, date string) (*domain.FXQuote, error) {
	if base == quote {
		return &domain.FXQuote{
			Base:   base,
			Quote:  quote,
			Rate:   1.0,
			Source: c.Name(),
			AsOf:   time.Now().Unix(),
		}, nil
	}

	var fx *domain.FXQuote

	err := c.guard.Do(ctx, func(ctx context.Context) error {
		url := fmt.Sprintf("%s/%s", c.baseURL, base)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return domain.Transient("exchangerate fetch", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return domain.Transient("exchangerate fetch",
				fmt.Errorf("API returned status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("API returned status %d", resp.StatusCode)
		}

		var result struct {
			Rates       map[string]float64 `json:"rates"`
			TimeLastUpd int64              `json:"time_last_updated"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		rate, exists := result.Rates[quote]
		if !exists {
			return fmt.Errorf("rate not found for %s/%s", base, quote)
		}

		asOf := result.TimeLastUpd
		if asOf == 0 {
			asOf = time.Now().Unix()
		}

		fx = &domain.FXQuote{
			Base:   base,
			Quote:  quote,
			Rate:   rate,
			Source: c.Name(),
			AsOf:   asOf,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("base", base).
		Str("quote", quote).
		Float64("rate", fx.Rate).
		Str("date", date).
		Msg("Fetched rate")

	return fx, nil
}
