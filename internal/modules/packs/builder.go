package packs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/events"
	"github.com/aristath/meridian/internal/utils"
)

// Builder produces pricing packs from the provider clients.
type Builder struct {
	repo      *Repository
	primary   domain.PriceProvider
	secondary domain.PriceProvider
	fx        domain.FXProvider
	pairs     []Pair
	bus       *events.Manager
	log       zerolog.Logger
}

// NewBuilder creates a pack builder. The secondary provider may be nil;
// fallback is then disabled. The event manager may be nil in tests.
func NewBuilder(
	repo *Repository,
	primary domain.PriceProvider,
	secondary domain.PriceProvider,
	fx domain.FXProvider,
	pairs []Pair,
	bus *events.Manager,
	log zerolog.Logger,
) *Builder {
	return &Builder{
		repo:      repo,
		primary:   primary,
		secondary: secondary,
		fx:        fx,
		pairs:     pairs,
		bus:       bus,
		log:       log.With().Str("service", "pack_builder").Logger(),
	}
}

// Build produces the pack for (date, policy) and returns its id.
//
// Without a reason, Build is idempotent: an existing non-superseded pack for
// the key is returned unchanged. With a reason, a new pack is always built
// and the previous pack's superseded_by is set to the new id, forming an
// explicit restatement chain.
//
// A missing price is a warning and the pack is still producible; a total
// provider outage, or any FX failure, aborts with no pack row.
func (b *Builder) Build(ctx context.Context, date, policy, reason string) (string, error) {
	asOfDate, err := utils.DateToUnix(date)
	if err != nil {
		return "", domain.Validation("date", "invalid date %q (expected YYYY-MM-DD)", date)
	}

	existing, err := b.repo.GetCurrent(asOfDate, policy)
	if err != nil {
		return "", fmt.Errorf("failed to look up current pack: %w", err)
	}

	if existing != nil && reason == "" {
		b.log.Info().
			Str("pack_id", existing.ID).
			Str("date", date).
			Str("policy", policy).
			Msg("Pack already exists for date and policy")
		return existing.ID, nil
	}

	securities, err := b.repo.ListActiveSecurities()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate securities: %w", err)
	}

	prices, missing, sources, err := b.fetchPrices(ctx, securities, date)
	if err != nil {
		return "", err
	}

	rates, fxSources, err := b.fetchRates(ctx, date)
	if err != nil {
		return "", err
	}

	manifest, err := json.Marshal(map[string]interface{}{
		"prices":  sources,
		"fx":      fxSources,
		"missing": missing,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode sources manifest: %w", err)
	}

	now := time.Now().Unix()
	pack := &Pack{
		ID:          "pk_" + uuid.New().String(),
		AsOfDate:    asOfDate,
		Policy:      policy,
		Hash:        ContentHash(prices, rates),
		Status:      StatusWarming,
		SourcesJSON: string(manifest),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	supersedes := ""
	if existing != nil {
		// reason != "" here: idempotent return already handled above.
		pack.RestatementReason = &reason
		supersedes = existing.ID
	} else if reason != "" {
		pack.RestatementReason = &reason
	}

	if err := b.repo.CreateWithRows(pack, prices, rates, supersedes); err != nil {
		return "", fmt.Errorf("failed to persist pack: %w", err)
	}

	b.log.Info().
		Str("pack_id", pack.ID).
		Str("date", date).
		Str("policy", policy).
		Str("hash", pack.Hash).
		Int("prices", len(prices)).
		Int("fx_rates", len(rates)).
		Int("missing", len(missing)).
		Str("supersedes", supersedes).
		Msg("Pack built")

	if b.bus != nil {
		b.bus.EmitTyped(events.PackBuilt, "packs", &events.PackBuiltData{
			PackID:      pack.ID,
			AsOfDate:    date,
			ContentHash: pack.Hash,
			PriceCount:  len(prices),
			FXCount:     len(rates),
			Superseded:  supersedes,
		})
	}

	return pack.ID, nil
}

// MarkFresh promotes a pack to fresh, making it visible to the freshness
// gate. Idempotent for already-fresh packs.
func (b *Builder) MarkFresh(ctx context.Context, packID string) error {
	if err := b.repo.MarkFresh(packID); err != nil {
		return err
	}

	pack, err := b.repo.GetByID(packID)
	if err != nil {
		return err
	}

	b.log.Info().Str("pack_id", packID).Msg("Pack marked fresh")

	if b.bus != nil && pack != nil {
		b.bus.EmitTyped(events.PackFresh, "packs", &events.PackFreshData{
			PackID:   packID,
			AsOfDate: utils.UnixToDate(pack.AsOfDate),
		})
	}

	return nil
}

// fetchPrices pulls a close per security: primary first, then the secondary
// per security on missing data or error. The error return fires only on
// total outage (every security failed with a provider error and nothing was
// priced).
func (b *Builder) fetchPrices(ctx context.Context, securities []domain.Security, date string) ([]PriceRow, []string, map[string]int, error) {
	prices := make([]PriceRow, 0, len(securities))
	missing := make([]string, 0)
	sources := make(map[string]int)
	errored := 0

	for _, sec := range securities {
		quote, err := b.fetchOne(ctx, sec.ID, date)
		if err != nil {
			errored++
			b.log.Warn().Err(err).Str("security", sec.ID).Msg("Price fetch failed on all providers")
			missing = append(missing, sec.ID)
			continue
		}
		if quote == nil {
			b.log.Warn().Str("security", sec.ID).Str("date", date).Msg("No close available, leaving security out of pack")
			missing = append(missing, sec.ID)
			continue
		}

		prices = append(prices, PriceRow{
			SecurityID: sec.ID,
			Close:      quote.Close,
			Currency:   sec.Currency,
			Source:     quote.Source,
		})
		sources[quote.Source]++
	}

	if len(securities) > 0 && len(prices) == 0 && errored > 0 {
		return nil, nil, nil, domain.Transient("build pack",
			fmt.Errorf("total provider outage: %d securities errored, none priced", errored))
	}

	return prices, missing, sources, nil
}

// fetchOne tries the primary, then the secondary. (nil, nil) means neither
// provider has data for the date.
func (b *Builder) fetchOne(ctx context.Context, securityID, date string) (*domain.PriceQuote, error) {
	quote, primaryErr := b.primary.DailyClose(ctx, securityID, date)
	if primaryErr == nil && quote != nil {
		return quote, nil
	}

	if primaryErr != nil {
		b.log.Debug().Err(primaryErr).Str("security", securityID).Msg("Primary provider failed, trying secondary")
	}

	if b.secondary == nil {
		return nil, primaryErr
	}

	quote, secondaryErr := b.secondary.DailyClose(ctx, securityID, date)
	if secondaryErr == nil {
		// Secondary answered: either a quote or a confirmed absence.
		return quote, nil
	}
	if primaryErr != nil {
		return nil, fmt.Errorf("primary: %v; secondary: %w", primaryErr, secondaryErr)
	}
	return nil, secondaryErr
}

// fetchRates pulls every policy pair. Any failure is fatal for the pack:
// a pack that cannot convert currencies cannot value portfolios.
func (b *Builder) fetchRates(ctx context.Context, date string) ([]FXRow, map[string]int, error) {
	rates := make([]FXRow, 0, len(b.pairs))
	sources := make(map[string]int)

	for _, pair := range b.pairs {
		fx, err := b.fx.Rate(ctx, pair.Base, pair.Quote, date)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch %s/%s rate: %w", pair.Base, pair.Quote, err)
		}
		rates = append(rates, FXRow{
			Base:   fx.Base,
			Quote:  fx.Quote,
			Rate:   fx.Rate,
			Source: fx.Source,
			AsOf:   fx.AsOf,
		})
		sources[fx.Source]++
	}

	return rates, sources, nil
}
