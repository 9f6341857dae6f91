// Package pipeline runs the nightly sequence that takes the platform from
// raw provider data to a servable state: build the pricing pack, prove it
// against the ledger, derive analytics, then open the pack to readers.
//
// The order is fixed and serial. Build, reconcile, and mark-fresh block: a
// failure stops the run and the freshness gate stays closed. The derivation
// steps (metrics, factor pre-warm, ratings pre-warm, alerts) only warn: a
// failure is recorded and the run carries on, because a proven pack with a
// missing derived table still beats no pack at all.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/events"
	"github.com/aristath/meridian/internal/modules/ledger"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/telemetry"
)

// ErrRunInProgress is returned when Run is called while another run holds
// the pipeline.
var ErrRunInProgress = errors.New("nightly run already in progress")

// PackBuilder builds pricing packs and promotes them to fresh.
type PackBuilder interface {
	Build(ctx context.Context, date, policy, reason string) (string, error)
	MarkFresh(ctx context.Context, packID string) error
}

// LedgerReconciler proves a pack against the ledger snapshot. Breaks land in
// the report; the error fires only when the reconciliation could not run.
type LedgerReconciler interface {
	Reconcile(ctx context.Context, packID, ledgerPath string) (*ledger.Report, error)
}

// MetricsEngine computes daily values and metric rows for every portfolio.
type MetricsEngine interface {
	Run(ctx context.Context, packID string) (int, error)
}

// Prewarmer precomputes one derived table for a pack. The factor and ratings
// services both have this shape.
type Prewarmer interface {
	Prewarm(ctx context.Context, packID string) (int, error)
}

// AlertEvaluator evaluates alert rules against the finished pack.
type AlertEvaluator interface {
	Run(ctx context.Context, packID string) (int, error)
}

// Pipeline owns the nightly run. Construct once and call Run per date; the
// scheduler and cmd/nightly are the only callers.
type Pipeline struct {
	builder    PackBuilder
	reconciler LedgerReconciler
	engine     MetricsEngine
	factors    Prewarmer
	ratings    Prewarmer
	alerts     AlertEvaluator
	packs      *packs.Repository
	reports    *Repository
	bus        *events.Manager
	metrics    *telemetry.MetricsRegistry
	ledgerPath string
	log        zerolog.Logger

	runMu sync.Mutex
}

// New creates the nightly pipeline. The event manager and metrics registry
// may be nil in tests.
func New(
	builder PackBuilder,
	reconciler LedgerReconciler,
	engine MetricsEngine,
	factors Prewarmer,
	ratings Prewarmer,
	alerts AlertEvaluator,
	packsRepo *packs.Repository,
	reports *Repository,
	bus *events.Manager,
	metrics *telemetry.MetricsRegistry,
	ledgerPath string,
	log zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		builder:    builder,
		reconciler: reconciler,
		engine:     engine,
		factors:    factors,
		ratings:    ratings,
		alerts:     alerts,
		packs:      packsRepo,
		reports:    reports,
		bus:        bus,
		metrics:    metrics,
		ledgerPath: ledgerPath,
		log:        log.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes the nightly sequence for one date and policy. Reason is empty
// for scheduled runs; restatements pass the reason recorded on the new pack.
//
// Runs never overlap: a second caller gets ErrRunInProgress while one is in
// flight. For a run that starts, the returned report is always non-nil,
// blocked runs included, and the error reports report-persistence problems
// only, never step failures: a blocked run with a saved report returns
// (report, nil).
func (p *Pipeline) Run(ctx context.Context, date, policy, reason string) (*RunReport, error) {
	if !p.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.runMu.Unlock()

	start := time.Now()
	report := &RunReport{RunDate: date, StartedAt: start.Unix(), Success: true}

	p.log.Info().
		Str("run_date", date).
		Str("policy", policy).
		Str("reason", reason).
		Msg("Nightly run starting")

	var packID string

	p.step(report, StepBuildPack, true, func() error {
		id, err := p.builder.Build(ctx, date, policy, reason)
		if err != nil {
			return err
		}
		packID = id
		report.PricingPackID = id
		return nil
	})

	p.step(report, StepReconcile, true, func() error {
		rec, err := p.reconciler.Reconcile(ctx, packID, p.ledgerPath)
		if err != nil {
			return err
		}
		if !rec.Passed() {
			return fmt.Errorf("reconciliation failed with %d breaks", len(rec.Breaks))
		}
		return nil
	})

	p.step(report, StepMetrics, false, func() error {
		_, err := p.engine.Run(ctx, packID)
		return err
	})

	factorsOK := p.step(report, StepFactors, false, func() error {
		n, err := p.factors.Prewarm(ctx, packID)
		if err != nil {
			return err
		}
		if p.bus != nil {
			p.bus.Emit(events.FactorsPrewarmed, "pipeline", map[string]interface{}{
				"pack_id":    packID,
				"portfolios": n,
			})
		}
		return nil
	})

	ratingsOK := p.step(report, StepRatings, false, func() error {
		n, err := p.ratings.Prewarm(ctx, packID)
		if err != nil {
			return err
		}
		if p.bus != nil {
			p.bus.Emit(events.RatingsPrewarmed, "pipeline", map[string]interface{}{
				"pack_id":    packID,
				"securities": n,
			})
		}
		return nil
	})

	// The flag gates nothing downstream but tells operators both caches are
	// hot. It stays unset when either pre-warm failed.
	if factorsOK && ratingsOK {
		if err := p.packs.SetPrewarmDone(packID); err != nil {
			p.log.Warn().Err(err).Str("pack_id", packID).Msg("Failed to record pre-warm completion")
		}
	}

	p.step(report, StepMarkFresh, true, func() error {
		return p.builder.MarkFresh(ctx, packID)
	})

	p.step(report, StepAlerts, false, func() error {
		_, err := p.alerts.Run(ctx, packID)
		return err
	})

	return p.finish(report, start)
}

// step runs one pipeline step, timing it and recording the outcome. Once a
// blocking step has failed, every later step is recorded as skipped without
// running. Returns whether the step ran and succeeded.
func (p *Pipeline) step(report *RunReport, name string, blocking bool, fn func() error) bool {
	if report.BlockedAt != "" {
		report.Steps = append(report.Steps, StepReport{Name: name, Skipped: true})
		if p.metrics != nil {
			p.metrics.StartStepTimer(name).Stop("skipped")
		}
		return false
	}

	var timer *telemetry.StepTimer
	if p.metrics != nil {
		timer = p.metrics.StartStepTimer(name)
	}
	stepStart := time.Now()
	err := fn()
	duration := time.Since(stepStart)

	if err != nil {
		if timer != nil {
			timer.Stop("failed")
		}
		report.Steps = append(report.Steps, StepReport{
			Name:       name,
			DurationMs: duration.Milliseconds(),
			Error:      err.Error(),
		})
		if blocking {
			report.Success = false
			report.BlockedAt = name
			p.log.Error().Err(err).Str("step", name).Msg("Blocking step failed, run stops")
		} else {
			p.log.Warn().Err(err).Str("step", name).Msg("Step failed, run continues")
		}
		return false
	}

	if timer != nil {
		timer.Stop("ok")
	}
	report.Steps = append(report.Steps, StepReport{
		Name:       name,
		Success:    true,
		DurationMs: duration.Milliseconds(),
	})
	p.log.Info().Str("step", name).Dur("duration", duration).Msg("Step done")
	return true
}

// finish closes out the report, persists it, and announces the terminal
// status. A blocked run leaves its pack in warming: the freshness gate only
// serves fresh packs, so nothing unproven ever reaches a reader.
func (p *Pipeline) finish(report *RunReport, start time.Time) (*RunReport, error) {
	finished := time.Now()
	report.FinishedAt = finished.Unix()
	report.DurationMs = finished.Sub(start).Milliseconds()
	status := report.Status()

	if p.metrics != nil {
		p.metrics.RecordRun(status)
	}

	event := p.log.Info()
	if report.BlockedAt != "" {
		event = p.log.Error()
	}
	event.
		Str("run_date", report.RunDate).
		Str("status", status).
		Str("blocked_at", report.BlockedAt).
		Strs("warnings", report.Warnings()).
		Int64("duration_ms", report.DurationMs).
		Msg("Nightly run finished")

	if err := p.reports.Save(report); err != nil {
		return report, fmt.Errorf("failed to persist run report: %w", err)
	}

	if p.bus != nil {
		data := &events.RunCompletedData{
			RunID:      report.RunDate,
			Status:     status,
			BlockedAt:  report.BlockedAt,
			DurationMs: report.DurationMs,
		}
		p.bus.EmitTyped(data.EventType(), "pipeline", data)
	}
	return report, nil
}
