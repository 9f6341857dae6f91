// Package stooq provides the secondary daily close price provider. The
// endpoint is keyless CSV; the pack builder falls back to it per security
// when the primary has no data.
package stooq

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/clients/guard"
	"github.com/aristath/meridian/internal/domain"
)

// Client for stooq.com
type Client struct {
	baseURL string
	client  *http.Client
	guard   *guard.Guard
	log     zerolog.Logger
}

// NewClient creates a new Stooq client. Calls route through the guard.
func NewClient(g *guard.Guard, log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://stooq.com/q/d/l/",
		client:  &http.Client{Timeout: 10 * time.Second},
		guard:   g,
		log:     log.With().Str("client", "stooq").Logger(),
	}
}

// Name identifies this provider in sources manifests and logs.
func (c *Client) Name() string {
	return "stooq"
}

// DailyClose fetches the close for a security on the given date
// (YYYY-MM-DD). Stooq answers an empty CSV (or "No data") for dates it has
// nothing for; that returns (nil, nil).
func (c *Client) DailyClose(ctx context.Context, securityID, date string) (*domain.PriceQuote, error) {
	var quote *domain.PriceQuote

	err := c.guard.Do(ctx, func(ctx context.Context) error {
		compact := strings.ReplaceAll(date, "-", "")
		url := fmt.Sprintf("%s?s=%s&d1=%s&d2=%s&i=d",
			c.baseURL, stooqSymbol(securityID), compact, compact)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return domain.Transient("stooq daily close", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return domain.Transient("stooq daily close",
				fmt.Errorf("API returned status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("API returned status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return domain.Transient("stooq daily close", err)
		}

		closePrice, found, err := parseDailyCSV(string(body), date)
		if err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		if !found {
			c.log.Debug().
				Str("security", securityID).
				Str("date", date).
				Msg("No close for date")
			return nil
		}

		quote = &domain.PriceQuote{
			SecurityID: securityID,
			Close:      closePrice,
			Source:     c.Name(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return quote, nil
}

// stooqSymbol maps a security id to stooq's notation: lowercase, with the
// ".us" market suffix for plain US tickers. Ids carrying a market suffix
// or an index prefix pass through unchanged.
func stooqSymbol(securityID string) string {
	s := strings.ToLower(securityID)
	if !strings.Contains(s, ".") && !strings.HasPrefix(s, "^") {
		s += ".us"
	}
	return s
}

// parseDailyCSV extracts the Close column for the requested date from a
// "Date,Open,High,Low,Close,Volume" payload.
func parseDailyCSV(body, date string) (float64, bool, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" || strings.HasPrefix(trimmed, "No data") {
		return 0, false, nil
	}

	reader := csv.NewReader(strings.NewReader(trimmed))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return 0, false, err
	}
	if len(records) < 2 {
		return 0, false, nil
	}

	header := records[0]
	closeIdx := -1
	for i, col := range header {
		if strings.EqualFold(col, "Close") {
			closeIdx = i
		}
	}
	if closeIdx == -1 {
		return 0, false, fmt.Errorf("close column missing in header %v", header)
	}

	for _, row := range records[1:] {
		if len(row) <= closeIdx || row[0] != date {
			continue
		}
		closePrice, err := strconv.ParseFloat(row[closeIdx], 64)
		if err != nil {
			return 0, false, fmt.Errorf("bad close %q: %w", row[closeIdx], err)
		}
		return closePrice, true, nil
	}

	return 0, false, nil
}
