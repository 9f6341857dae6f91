// Package main runs the nightly pipeline once and exits. It exists for
// operators: re-running a night that blocked after the cause is fixed, and
// restating a past date after a ledger correction. Scheduled nights go
// through the long-running server's cron roster, not this binary.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/aristath/meridian/internal/config"
	"github.com/aristath/meridian/internal/di"
	"github.com/aristath/meridian/internal/utils"
	"github.com/aristath/meridian/pkg/logger"
)

func main() {
	os.Exit(run())
}

// run wires the container, executes one pipeline run, and reports the
// outcome through the exit code: 0 for a completed run, 1 for a blocked run
// or a startup failure. Warning-step failures are in the report but do not
// fail the run.
func run() int {
	date := flag.String("date", utils.Yesterday(), "as-of date to run for (YYYY-MM-DD)")
	policy := flag.String("policy", "", "pricing policy (defaults to PRICING_POLICY)")
	reason := flag.String("reason", "manual", "reason recorded on the pack; restatements should say why")
	syncFirst := flag.Bool("sync", false, "run the macro and sentiment syncs before the pipeline")
	timeout := flag.Duration("timeout", 2*time.Hour, "overall run timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
		Dir:    cfg.DataDir,
	})

	if *policy == "" {
		*policy = cfg.PricingPolicy
	}
	if _, err := utils.DateToUnix(*date); err != nil {
		log.Error().Err(err).Str("date", *date).Msg("Invalid run date")
		return 1
	}

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to wire dependencies")
		return 1
	}
	defer container.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// The syncs are best effort here, same as on the cron roster: a failed
	// sync degrades the night, it does not abort it.
	if *syncFirst {
		if err := container.MacroSync.Sync(ctx); err != nil {
			log.Warn().Err(err).Msg("Macro sync failed, pipeline runs on existing history")
		}
		if err := container.SentimentSync.Sync(ctx); err != nil {
			log.Warn().Err(err).Msg("Sentiment sync failed, news alerts evaluate against stale scores")
		}
	}

	report, err := container.Pipeline.Run(ctx, *date, *policy, *reason)
	if err != nil {
		log.Error().Err(err).Msg("Nightly run failed before a report could be saved")
		return 1
	}

	for _, step := range report.Steps {
		ev := log.Info()
		switch {
		case step.Skipped:
			ev = log.Warn().Bool("skipped", true)
		case !step.Success:
			ev = log.Warn().Str("error", step.Error)
		}
		ev.Str("step", step.Name).
			Int64("duration_ms", step.DurationMs).
			Msg("Step finished")
	}

	if !report.Success {
		log.Error().
			Str("run_date", report.RunDate).
			Str("blocked_at", report.BlockedAt).
			Msg("Nightly run blocked")
		return 1
	}

	summary := log.Info().
		Str("run_date", report.RunDate).
		Str("pack_id", report.PricingPackID).
		Int64("duration_ms", report.DurationMs)
	if warnings := report.Warnings(); len(warnings) > 0 {
		summary = summary.Strs("warnings", warnings)
	}
	summary.Msg("Nightly run completed")
	return 0
}
