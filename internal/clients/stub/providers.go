// Package stub provides deterministic offline providers for development
// mode. When DEV_MODE is set and a provider's API key is missing, the
// wiring substitutes these; every result is source-tagged "stub" so it can
// never masquerade as market data.
package stub

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"github.com/aristath/meridian/internal/domain"
)

// Source is the provenance tag carried by every stub result.
const Source = "stub"

// seed maps a key to a stable fraction in [0, 1).
func seed(key string) float64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return float64(h.Sum64()%100000) / 100000.0
}

// PriceProvider returns deterministic daily closes. The same
// (security, date) always yields the same price.
type PriceProvider struct{}

// NewPriceProvider creates a stub price provider.
func NewPriceProvider() *PriceProvider {
	return &PriceProvider{}
}

// Name identifies this provider in sources manifests and logs.
func (p *PriceProvider) Name() string {
	return Source
}

// DailyClose derives a stable price in [10, 510) from the security id,
// wiggled per date so return series are non-degenerate.
func (p *PriceProvider) DailyClose(ctx context.Context, securityID, date string) (*domain.PriceQuote, error) {
	base := 10 + 500*seed(securityID)
	wiggle := 1 + 0.02*math.Sin(2*math.Pi*seed(securityID+date))

	return &domain.PriceQuote{
		SecurityID: securityID,
		Close:      round4(base * wiggle),
		Source:     Source,
	}, nil
}

// FXProvider returns deterministic exchange rates.
type FXProvider struct{}

// NewFXProvider creates a stub FX provider.
func NewFXProvider() *FXProvider {
	return &FXProvider{}
}

// Name identifies this provider in sources manifests and logs.
func (p *FXProvider) Name() string {
	return Source
}

// Rate derives a stable rate in [0.5, 2.0) from the pair, wiggled per date.
// Same-currency pairs are exactly 1.
func (p *FXProvider) Rate(ctx context.Context, base, quote, date string) (*domain.FXQuote, error) {
	rate := 1.0
	if base != quote {
		level := 0.5 + 1.5*seed(base+"/"+quote)
		wiggle := 1 + 0.005*math.Sin(2*math.Pi*seed(base+quote+date))
		rate = round4(level * wiggle)
	}

	return &domain.FXQuote{
		Base:   base,
		Quote:  quote,
		Rate:   rate,
		Source: Source,
		AsOf:   time.Now().Unix(),
	}, nil
}

// MacroProvider returns deterministic macro series observations.
type MacroProvider struct{}

// NewMacroProvider creates a stub macro provider.
func NewMacroProvider() *MacroProvider {
	return &MacroProvider{}
}

// Name identifies this provider in sources manifests and logs.
func (p *MacroProvider) Name() string {
	return Source
}

// Series yields one observation per calendar day in [start, end], levels
// around 2-6 (percent scale, matching rate series).
func (p *MacroProvider) Series(ctx context.Context, series, start, end string) ([]domain.MacroObservation, error) {
	startDate, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, err
	}
	endDate, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, err
	}

	level := 2 + 4*seed(series)

	var observations []domain.MacroObservation
	for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
		date := d.Format("2006-01-02")
		wiggle := 0.1 * math.Sin(2*math.Pi*seed(series+date))
		observations = append(observations, domain.MacroObservation{
			Series: series,
			Date:   date,
			Value:  round4(level + wiggle),
		})
	}

	return observations, nil
}

// SentimentProvider returns deterministic news sentiment.
type SentimentProvider struct{}

// NewSentimentProvider creates a stub sentiment provider.
func NewSentimentProvider() *SentimentProvider {
	return &SentimentProvider{}
}

// Name identifies this provider in sources manifests and logs.
func (p *SentimentProvider) Name() string {
	return Source
}

// DailySentiment yields one score per calendar day in [start, end], stable
// per (security, date) and bounded well inside [-1, 1].
func (p *SentimentProvider) DailySentiment(ctx context.Context, securityID, start, end string) ([]domain.SentimentQuote, error) {
	startDate, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, err
	}
	endDate, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, err
	}

	var quotes []domain.SentimentQuote
	for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
		date := d.Format("2006-01-02")
		quotes = append(quotes, domain.SentimentQuote{
			SecurityID: securityID,
			Date:       date,
			Score:      round4(0.8 * math.Sin(2*math.Pi*seed(securityID+date))),
			Articles:   1 + int(10*seed(date+securityID)),
			Source:     Source,
		})
	}

	return quotes, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
