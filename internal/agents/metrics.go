package agents

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/modules/metrics"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/modules/portfolio"
	"github.com/aristath/meridian/internal/runtime"
	"github.com/aristath/meridian/internal/utils"
)

// MetricsAgent serves the derived analytics the nightly pipeline stored
// under the pinned pack: the metrics row and the currency attribution.
type MetricsAgent struct {
	repo       *metrics.Repository
	portfolios *portfolio.Repository
	packs      *packs.Repository
	log        zerolog.Logger
}

// NewMetricsAgent creates the metrics agent.
func NewMetricsAgent(repo *metrics.Repository, portfolios *portfolio.Repository, packsRepo *packs.Repository, log zerolog.Logger) *MetricsAgent {
	return &MetricsAgent{
		repo:       repo,
		portfolios: portfolios,
		packs:      packsRepo,
		log:        log.With().Str("agent", "metrics").Logger(),
	}
}

// Name implements runtime.Agent.
func (a *MetricsAgent) Name() string { return "metrics" }

// Capabilities implements runtime.Agent.
func (a *MetricsAgent) Capabilities() []runtime.Capability {
	return []runtime.Capability{
		{
			Name:        "metrics.summary",
			Description: "Performance and risk metrics stored for the portfolio under the pinned pack.",
			Params: []runtime.Param{
				{Name: "portfolio_id", Kind: runtime.KindString, Required: true},
			},
			Handler: a.summary,
		},
		{
			Name:        "metrics.attribution",
			Description: "Currency decomposition of the portfolio's daily return under the pinned pack.",
			Params: []runtime.Param{
				{Name: "portfolio_id", Kind: runtime.KindString, Required: true},
			},
			Handler: a.attribution,
		},
	}
}

func (a *MetricsAgent) summary(ctx context.Context, rc *runtime.RequestContext, _ runtime.State, args runtime.Args) (*runtime.Result, error) {
	pf, pack, err := a.resolve(rc, args)
	if err != nil {
		return nil, err
	}

	row, err := a.repo.GetMetrics(pf.ID, pack.AsOfDate, pack.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics for %s: %w", pf.ID, err)
	}
	if row == nil {
		return nil, fmt.Errorf("no metrics stored for portfolio %s under pack %s", pf.ID, pack.ID)
	}

	// Nil columns (short history, missing benchmark) are omitted rather
	// than served as zeros.
	values := make(map[string]interface{}, len(metrics.MetricNames))
	for _, name := range metrics.MetricNames {
		if v, ok := row.Metric(name); ok && v != nil {
			values[name] = *v
		}
	}

	return &runtime.Result{
		Data: map[string]interface{}{
			"portfolio_id": row.PortfolioID,
			"asof_date":    utils.UnixToDate(row.AsOfDate),
			"metrics":      values,
		},
		Provenance: runtime.Provenance{TTLSeconds: ttlPackDerived},
	}, nil
}

func (a *MetricsAgent) attribution(ctx context.Context, rc *runtime.RequestContext, _ runtime.State, args runtime.Args) (*runtime.Result, error) {
	pf, pack, err := a.resolve(rc, args)
	if err != nil {
		return nil, err
	}

	rows, err := a.repo.GetAttribution(pf.ID, pack.AsOfDate, pack.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attribution for %s: %w", pf.ID, err)
	}

	// The "*" row holds the portfolio-level totals; the rest are currency
	// buckets. The first pack ever has no prior state to diff against and
	// stores nothing, which serves as an empty decomposition.
	currencies := make([]metrics.AttributionRow, 0, len(rows))
	data := map[string]interface{}{
		"portfolio_id": pf.ID,
		"asof_date":    utils.UnixToDate(pack.AsOfDate),
	}
	for _, row := range rows {
		if row.Currency == metrics.PortfolioCurrency {
			data["r_base"] = row.RBase
			data["r_local"] = row.RLocal
			data["r_fx"] = row.RFX
			data["r_interaction"] = row.RInteraction
			continue
		}
		currencies = append(currencies, row)
	}
	data["currencies"] = currencies

	return &runtime.Result{
		Data:       data,
		Provenance: runtime.Provenance{TTLSeconds: ttlPackDerived},
	}, nil
}

func (a *MetricsAgent) resolve(rc *runtime.RequestContext, args runtime.Args) (*domain.Portfolio, *packs.Pack, error) {
	id, _ := args.String("portfolio_id")
	pf, err := a.portfolios.GetPortfolio(id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load portfolio %s: %w", id, err)
	}
	if pf == nil {
		return nil, nil, domain.Validation("portfolio_id", "unknown portfolio %q", id)
	}
	pack, err := pinnedPack(a.packs, rc)
	if err != nil {
		return nil, nil, err
	}
	return pf, pack, nil
}
