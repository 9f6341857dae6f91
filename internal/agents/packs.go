package agents

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/runtime"
	"github.com/aristath/meridian/internal/utils"
)

// PacksAgent serves the pinned pricing pack itself: identity, prices, and
// FX fixings.
type PacksAgent struct {
	repo *packs.Repository
	log  zerolog.Logger
}

// NewPacksAgent creates the packs agent.
func NewPacksAgent(repo *packs.Repository, log zerolog.Logger) *PacksAgent {
	return &PacksAgent{
		repo: repo,
		log:  log.With().Str("agent", "packs").Logger(),
	}
}

// Name implements runtime.Agent.
func (a *PacksAgent) Name() string { return "packs" }

// Capabilities implements runtime.Agent.
func (a *PacksAgent) Capabilities() []runtime.Capability {
	return []runtime.Capability{
		{
			Name:        "packs.current",
			Description: "Identity of the pricing pack pinned to this request.",
			Handler:     a.current,
		},
		{
			Name:        "packs.prices",
			Description: "Closing prices from the pinned pack, one security or the whole universe.",
			Params: []runtime.Param{
				{Name: "security_id", Kind: runtime.KindString},
			},
			Handler: a.prices,
		},
		{
			Name:        "packs.fx_rate",
			Description: "One FX fixing from the pinned pack, inverse pair consulted when needed.",
			Params: []runtime.Param{
				{Name: "base", Kind: runtime.KindString, Required: true},
				{Name: "quote", Kind: runtime.KindString, Required: true},
			},
			Handler: a.fxRate,
		},
	}
}

func (a *PacksAgent) current(ctx context.Context, rc *runtime.RequestContext, _ runtime.State, _ runtime.Args) (*runtime.Result, error) {
	pack, err := pinnedPack(a.repo, rc)
	if err != nil {
		return nil, err
	}

	data := map[string]interface{}{
		"id":           pack.ID,
		"asof_date":    utils.UnixToDate(pack.AsOfDate),
		"policy":       pack.Policy,
		"status":       string(pack.Status),
		"hash":         pack.Hash,
		"prewarm_done": pack.PrewarmDone,
	}
	if pack.LedgerCommitHash != nil {
		data["ledger_commit_hash"] = *pack.LedgerCommitHash
	}
	return &runtime.Result{
		Data:       data,
		Provenance: runtime.Provenance{TTLSeconds: ttlPackDerived},
	}, nil
}

func (a *PacksAgent) prices(ctx context.Context, rc *runtime.RequestContext, _ runtime.State, args runtime.Args) (*runtime.Result, error) {
	if securityID, ok := args.String("security_id"); ok {
		row, err := a.repo.GetPrice(rc.PricingPackID, securityID)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, domain.Validation("security_id", "pack %s has no price for %q", rc.PricingPackID, securityID)
		}
		return &runtime.Result{
			Data: map[string]interface{}{
				"security_id": row.SecurityID,
				"close":       row.Close,
				"currency":    row.Currency,
				"source":      row.Source,
			},
			Provenance: runtime.Provenance{TTLSeconds: ttlPackDerived},
		}, nil
	}

	rows, err := a.repo.GetPrices(rc.PricingPackID)
	if err != nil {
		return nil, err
	}
	return &runtime.Result{
		Data: map[string]interface{}{
			"prices": rows,
			"count":  len(rows),
		},
		Provenance: runtime.Provenance{TTLSeconds: ttlPackDerived},
	}, nil
}

func (a *PacksAgent) fxRate(ctx context.Context, rc *runtime.RequestContext, _ runtime.State, args runtime.Args) (*runtime.Result, error) {
	base, _ := args.String("base")
	quote, _ := args.String("quote")

	fx, err := a.repo.GetFXRate(rc.PricingPackID, base, quote)
	if err != nil {
		return nil, err
	}
	if fx == nil {
		return nil, domain.Validation("base", "pack %s has no fx rate for %s/%s", rc.PricingPackID, base, quote)
	}
	return &runtime.Result{
		Data: map[string]interface{}{
			"base":   fx.Base,
			"quote":  fx.Quote,
			"rate":   fx.Rate,
			"source": fx.Source,
		},
		Provenance: runtime.Provenance{TTLSeconds: ttlPackDerived},
	}, nil
}
