package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/pipeline"
	"github.com/aristath/meridian/internal/utils"
)

// NightlyRunner is the pipeline surface the nightly job drives.
type NightlyRunner interface {
	Run(ctx context.Context, date, policy, reason string) (*pipeline.RunReport, error)
}

// NightlyRunJob runs the full nightly pipeline for the day that just closed.
type NightlyRunJob struct {
	pipeline NightlyRunner
	policy   string
	timeout  time.Duration
	log      zerolog.Logger
}

// NewNightlyRunJob creates the nightly pipeline job.
func NewNightlyRunJob(p NightlyRunner, policy string, log zerolog.Logger) *NightlyRunJob {
	return &NightlyRunJob{
		pipeline: p,
		policy:   policy,
		timeout:  2 * time.Hour,
		log:      log.With().Str("job", "nightly_run").Logger(),
	}
}

// Name implements Job.
func (j *NightlyRunJob) Name() string { return "nightly_run" }

// Run executes the pipeline for yesterday's date. A blocked run is an error
// here: step failures are already in the run report, but the scheduler log
// should carry the blocker too.
func (j *NightlyRunJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	report, err := j.pipeline.Run(ctx, utils.Yesterday(), j.policy, "")
	if err != nil {
		return err
	}
	if !report.Success {
		return fmt.Errorf("nightly run blocked at %s", report.BlockedAt)
	}
	return nil
}

// DLQReplayer drains due dead-letter jobs.
type DLQReplayer interface {
	Replay(ctx context.Context) (delivered, failed int, err error)
}

// ReplayJob replays due DLQ jobs every hour. Strictly best effort: its own
// failure is logged by the scheduler and escalates nowhere.
type ReplayJob struct {
	replayer DLQReplayer
	timeout  time.Duration
	log      zerolog.Logger
}

// NewReplayJob creates the hourly DLQ replay job.
func NewReplayJob(replayer DLQReplayer, log zerolog.Logger) *ReplayJob {
	return &ReplayJob{
		replayer: replayer,
		timeout:  5 * time.Minute,
		log:      log.With().Str("job", "dlq_replay").Logger(),
	}
}

// Name implements Job.
func (j *ReplayJob) Name() string { return "dlq_replay" }

// Run implements Job.
func (j *ReplayJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	delivered, failed, err := j.replayer.Replay(ctx)
	if err != nil {
		return err
	}
	if delivered+failed > 0 {
		j.log.Info().
			Int("delivered", delivered).
			Int("failed", failed).
			Msg("DLQ replay finished")
	}
	return nil
}

// MacroSyncer pulls macro series observations from the provider.
type MacroSyncer interface {
	Sync(ctx context.Context) error
}

// MacroSyncJob refreshes the macro history ahead of the nightly run.
type MacroSyncJob struct {
	syncer  MacroSyncer
	timeout time.Duration
	log     zerolog.Logger
}

// NewMacroSyncJob creates the macro sync job.
func NewMacroSyncJob(syncer MacroSyncer, log zerolog.Logger) *MacroSyncJob {
	return &MacroSyncJob{
		syncer:  syncer,
		timeout: 10 * time.Minute,
		log:     log.With().Str("job", "macro_sync").Logger(),
	}
}

// Name implements Job.
func (j *MacroSyncJob) Name() string { return "macro_sync" }

// Run implements Job.
func (j *MacroSyncJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.syncer.Sync(ctx)
}

// SentimentSyncJob refreshes news sentiment for held securities ahead of
// the nightly run.
type SentimentSyncJob struct {
	syncer  MacroSyncer
	timeout time.Duration
	log     zerolog.Logger
}

// NewSentimentSyncJob creates the sentiment sync job.
func NewSentimentSyncJob(syncer MacroSyncer, log zerolog.Logger) *SentimentSyncJob {
	return &SentimentSyncJob{
		syncer:  syncer,
		timeout: 10 * time.Minute,
		log:     log.With().Str("job", "sentiment_sync").Logger(),
	}
}

// Name implements Job.
func (j *SentimentSyncJob) Name() string { return "sentiment_sync" }

// Run implements Job.
func (j *SentimentSyncJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.syncer.Sync(ctx)
}
