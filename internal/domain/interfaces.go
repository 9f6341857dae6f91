package domain

import "context"

// PriceQuote is a single closing price as fetched from a provider.
type PriceQuote struct {
	SecurityID string
	Close      float64
	Currency   string
	Source     string
}

// FXQuote is a single base/quote rate at the policy fixing window.
type FXQuote struct {
	Base   string
	Quote  string
	Rate   float64
	Source string
	AsOf   int64 // Unix timestamp of the fixing observation
}

// MacroObservation is one point of a named macro series.
type MacroObservation struct {
	Series string
	Date   string // YYYY-MM-DD
	Value  float64
}

// PriceProvider fetches a security's closing price for a date.
// This interface abstracts away provider-specific implementations (Polygon,
// Stooq, dev-mode stubs); the pack builder works against it so the
// primary/secondary fallback stays provider-agnostic.
type PriceProvider interface {
	// Name identifies the provider in sources manifests and logs.
	Name() string

	// DailyClose returns the close for the security on the given date
	// (YYYY-MM-DD). A missing price returns (nil, nil): absence is data,
	// not failure.
	DailyClose(ctx context.Context, securityID, date string) (*PriceQuote, error)
}

// FXProvider fetches exchange rates at the policy's fixing window.
type FXProvider interface {
	Name() string

	// Rate returns the base/quote rate observed for the given date.
	Rate(ctx context.Context, base, quote, date string) (*FXQuote, error)
}

// MacroProvider fetches observations of named macro series (risk-free
// rate, treasury yields) used by the metrics engine and alert conditions.
type MacroProvider interface {
	Name() string

	// Series returns observations for the named series between start and
	// end dates inclusive (YYYY-MM-DD), oldest first.
	Series(ctx context.Context, series, start, end string) ([]MacroObservation, error)
}

// SentimentQuote is one day's aggregated news sentiment for a security.
// Scores are article averages in [-1, 1].
type SentimentQuote struct {
	SecurityID string
	Date       string // YYYY-MM-DD
	Score      float64
	Articles   int
	Source     string
}

// SentimentProvider fetches aggregated news sentiment, feeding the
// sentiment history that news_sentiment alert conditions read.
type SentimentProvider interface {
	Name() string

	// DailySentiment returns per-day aggregate scores for the security
	// between start and end inclusive (YYYY-MM-DD), oldest first. Days
	// with no coverage are absent; absence is data, not failure.
	DailySentiment(ctx context.Context, securityID, start, end string) ([]SentimentQuote, error)
}
