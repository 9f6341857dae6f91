package packs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/telemetry"
)

// RunEstimator predicts when the next nightly run will have produced a
// fresh pack. The scheduler side supplies the cron fire time, the ops store
// the average run duration.
type RunEstimator interface {
	NextRunTime(now time.Time) time.Time
	AverageRunDuration() time.Duration
}

// Gate is the freshness gate: the single decision consulted before any
// pattern executes. Strict by default; the warming override is honored only
// in development mode and must be explicit per request.
type Gate struct {
	repo      *Repository
	estimator RunEstimator
	devMode   bool
	metrics   *telemetry.MetricsRegistry
	log       zerolog.Logger
}

// NewGate creates a freshness gate.
func NewGate(repo *Repository, estimator RunEstimator, devMode bool, metrics *telemetry.MetricsRegistry, log zerolog.Logger) *Gate {
	return &Gate{
		repo:      repo,
		estimator: estimator,
		devMode:   devMode,
		metrics:   metrics,
		log:       log.With().Str("service", "freshness_gate").Logger(),
	}
}

// Check admits the request when the latest non-superseded pack for the
// policy is fresh, returning the pack reference to pin the request to.
// Otherwise it rejects with GateClosedError carrying the estimated ready
// time. allowWarming admits a warming pack, but only in development mode.
func (g *Gate) Check(ctx context.Context, policy string, allowWarming bool) (*PackRef, error) {
	pack, err := g.repo.GetLatestCurrent(policy)
	if err != nil {
		return nil, err
	}

	if pack == nil {
		return nil, g.closed(policy, "missing")
	}

	admit := pack.Status == StatusFresh
	if !admit && pack.Status == StatusWarming && allowWarming && g.devMode {
		g.log.Warn().
			Str("pack_id", pack.ID).
			Msg("Admitting warming pack under development override")
		admit = true
	}

	if !admit {
		return nil, g.closed(policy, string(pack.Status))
	}

	if g.metrics != nil {
		g.metrics.SetGateOpen(true)
	}

	ref := &PackRef{ID: pack.ID}
	if pack.LedgerCommitHash != nil {
		ref.LedgerCommitHash = *pack.LedgerCommitHash
	}
	return ref, nil
}

func (g *Gate) closed(policy, status string) error {
	if g.metrics != nil {
		g.metrics.SetGateOpen(false)
		g.metrics.RecordGateDenial(policy)
	}

	estimated := time.Time{}
	if g.estimator != nil {
		now := time.Now()
		estimated = g.estimator.NextRunTime(now).Add(g.estimator.AverageRunDuration())
	}

	g.log.Info().
		Str("policy", policy).
		Str("pack_status", status).
		Time("estimated_ready", estimated).
		Msg("Freshness gate closed")

	return &domain.GateClosedError{
		Policy:         policy,
		PackStatus:     status,
		EstimatedReady: estimated,
	}
}
