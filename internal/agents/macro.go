package agents

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/modules/macro"
	"github.com/aristath/meridian/internal/runtime"
)

// MacroAgent serves macro series levels from the history store. The
// risk-free read is a self-edge: it goes back through the runtime to
// macro.series_level, so it shares the request cache with direct reads
// of the same series.
type MacroAgent struct {
	store          *macro.Store
	runtime        *runtime.Runtime
	riskFreeSeries string
	series         []string
	log            zerolog.Logger
}

// NewMacroAgent creates the macro agent. series is the configured
// vocabulary; riskFreeSeries must be one of them.
func NewMacroAgent(store *macro.Store, rt *runtime.Runtime, riskFreeSeries string, series []string, log zerolog.Logger) *MacroAgent {
	return &MacroAgent{
		store:          store,
		runtime:        rt,
		riskFreeSeries: riskFreeSeries,
		series:         series,
		log:            log.With().Str("agent", "macro").Logger(),
	}
}

// Name implements runtime.Agent.
func (a *MacroAgent) Name() string { return "macro" }

// Capabilities implements runtime.Agent.
func (a *MacroAgent) Capabilities() []runtime.Capability {
	return []runtime.Capability{
		{
			Name:        "macro.series_level",
			Description: "Latest observation of a macro series at or before the pinned as-of date.",
			Params: []runtime.Param{
				{Name: "series", Kind: runtime.KindString, Required: true},
			},
			Handler: a.seriesLevel,
		},
		{
			Name:        "macro.risk_free",
			Description: "The configured risk-free rate, read through macro.series_level.",
			Handler:     a.riskFree,
		},
	}
}

func (a *MacroAgent) seriesLevel(ctx context.Context, rc *runtime.RequestContext, _ runtime.State, args runtime.Args) (*runtime.Result, error) {
	series, _ := args.String("series")
	if !a.knownSeries(series) {
		return nil, domain.Validation("series", "unknown macro series %q", series)
	}

	obs, err := a.store.LatestAtOrBefore(series, rc.AsOfDate)
	if err != nil {
		return nil, fmt.Errorf("failed to read series %s: %w", series, err)
	}
	if obs == nil {
		return nil, fmt.Errorf("no observation for %s at or before %s", series, rc.AsOfDate)
	}

	return &runtime.Result{
		Data: map[string]interface{}{
			"series": obs.Series,
			"date":   obs.Date,
			"value":  obs.Value,
		},
		Provenance: runtime.Provenance{
			Source:     "fred:" + series,
			AsOf:       obs.Date,
			TTLSeconds: ttlMacro,
		},
	}, nil
}

// riskFree substitutes the configured series and terminates in a plain
// series read; no further capability calls follow.
func (a *MacroAgent) riskFree(ctx context.Context, rc *runtime.RequestContext, state runtime.State, _ runtime.Args) (*runtime.Result, error) {
	level, err := a.runtime.Invoke(ctx, "macro.series_level", rc, state, runtime.Args{"series": a.riskFreeSeries})
	if err != nil {
		return nil, err
	}

	// Rate series are quoted in annual percent; the decimal form is what
	// the Sharpe arithmetic consumes.
	pct, _ := level.Data["value"].(float64)
	return &runtime.Result{
		Data: map[string]interface{}{
			"series":          a.riskFreeSeries,
			"date":            level.Data["date"],
			"annual_rate_pct": pct,
			"annual_rate":     pct / 100,
		},
		Provenance: level.Provenance,
	}, nil
}

func (a *MacroAgent) knownSeries(series string) bool {
	for _, s := range a.series {
		if s == series {
			return true
		}
	}
	return false
}
