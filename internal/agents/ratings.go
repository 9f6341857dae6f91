package agents

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/modules/ratings"
	"github.com/aristath/meridian/internal/runtime"
	"github.com/aristath/meridian/internal/utils"
)

// RatingsAgent serves the pre-warmed quality scores. The pre-warm is a
// non-blocking pipeline step, so a score may be missing for the pinned
// pack; the latest stored score is served in its place with provenance
// pointing at the pack it actually came from.
type RatingsAgent struct {
	repo  *ratings.Repository
	packs *packs.Repository
	log   zerolog.Logger
}

// NewRatingsAgent creates the ratings agent.
func NewRatingsAgent(repo *ratings.Repository, packsRepo *packs.Repository, log zerolog.Logger) *RatingsAgent {
	return &RatingsAgent{
		repo:  repo,
		packs: packsRepo,
		log:   log.With().Str("agent", "ratings").Logger(),
	}
}

// Name implements runtime.Agent.
func (a *RatingsAgent) Name() string { return "ratings" }

// Capabilities implements runtime.Agent.
func (a *RatingsAgent) Capabilities() []runtime.Capability {
	return []runtime.Capability{
		{
			Name:        "ratings.score",
			Description: "A security's quality score, preferring the pinned pack's pre-warm.",
			Params: []runtime.Param{
				{Name: "security_id", Kind: runtime.KindString, Required: true},
				{Name: "rating", Kind: runtime.KindString},
			},
			Handler: a.score,
		},
	}
}

func (a *RatingsAgent) score(ctx context.Context, rc *runtime.RequestContext, _ runtime.State, args runtime.Args) (*runtime.Result, error) {
	securityID, _ := args.String("security_id")
	rating := args.StringOr("rating", ratings.RatingPriceCoverage)
	if !ratings.IsRatingName(rating) {
		return nil, domain.Validation("rating", "unknown rating %q", rating)
	}

	sec, err := a.packs.GetSecurity(securityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load security %s: %w", securityID, err)
	}
	if sec == nil {
		return nil, domain.Validation("security_id", "unknown security %q", securityID)
	}

	pack, err := pinnedPack(a.packs, rc)
	if err != nil {
		return nil, err
	}

	row, err := a.findScore(securityID, rating, pack)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("no %s score stored for %s", rating, securityID)
	}

	return &runtime.Result{
		Data: map[string]interface{}{
			"security_id": row.SecurityID,
			"rating":      row.Rating,
			"score":       row.Score,
			"asof_date":   utils.UnixToDate(row.AsOfDate),
		},
		Provenance: runtime.Provenance{
			Source:     "pricing_pack:" + row.PricingPackID,
			AsOf:       utils.UnixToDate(row.AsOfDate),
			TTLSeconds: ttlPackDerived,
		},
	}, nil
}

func (a *RatingsAgent) findScore(securityID, rating string, pack *packs.Pack) (*ratings.RatingRow, error) {
	rows, err := a.repo.GetRatings(securityID, pack.AsOfDate, pack.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ratings for %s: %w", securityID, err)
	}
	for i := range rows {
		if rows[i].Rating == rating {
			return &rows[i], nil
		}
	}

	row, err := a.repo.GetLatestScore(securityID, rating)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest %s score for %s: %w", rating, securityID, err)
	}
	return row, nil
}
