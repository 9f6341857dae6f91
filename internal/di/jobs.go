// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"

	"github.com/aristath/meridian/internal/config"
	"github.com/aristath/meridian/internal/reliability"
	"github.com/aristath/meridian/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the scheduler, registers every recurring job on its
// configured cron expression, and stores the scheduler in the container.
// The caller starts it once startup completes.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	sched := scheduler.New(log)

	type entry struct {
		schedule string
		job      scheduler.Job
	}

	entries := []entry{
		// Nightly analytics run: build, prove, compute, pre-warm, evaluate.
		{cfg.NightlySchedule, scheduler.NewNightlyRunJob(container.Pipeline, cfg.PricingPolicy, log)},

		// Provider data refreshes, scheduled ahead of the nightly run so the
		// pack builder and the engines read a warm history store.
		{cfg.MacroSyncSchedule, scheduler.NewMacroSyncJob(container.MacroSync, log)},
		{cfg.SentimentSyncSchedule, scheduler.NewSentimentSyncJob(container.SentimentSync, log)},

		// Hourly delivery DLQ replay.
		{cfg.ReplaySchedule, scheduler.NewReplayJob(container.Replayer, log)},

		// Store maintenance: daily checkpoint and prune, weekly integrity
		// sweep with pack hash verification.
		{cfg.MaintenanceSchedule, reliability.NewDailyMaintenanceJob(container.Databases, container.FactorsCache, cfg.DataDir, log)},
		{cfg.WeeklyMaintenanceSchedule, reliability.NewWeeklyMaintenanceJob(container.Databases, container.PackRepo, []string{cfg.PricingPolicy}, log)},
	}

	if container.BackupService != nil {
		entries = append(entries, entry{cfg.BackupSchedule, reliability.NewBackupJob(container.BackupService)})
	}

	for _, e := range entries {
		if err := sched.AddJob(e.schedule, e.job); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", e.job.Name(), err)
		}
	}

	container.Scheduler = sched
	log.Info().Int("jobs", len(entries)).Msg("All scheduler jobs registered")

	return nil
}
