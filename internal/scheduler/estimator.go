package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/pipeline"
)

const (
	// fallbackRunDuration stands in while no successful run exists yet.
	fallbackRunDuration = 15 * time.Minute
	durationSampleSize  = 10
)

// Estimator predicts when the next nightly run will have produced a fresh
// pack: the next cron fire plus the average duration of recent successful
// runs. The freshness gate puts this on 503 responses.
type Estimator struct {
	schedule cron.Schedule
	reports  *pipeline.Repository
	log      zerolog.Logger
}

// NewEstimator parses the nightly cron spec and wires the run report store.
func NewEstimator(spec string, reports *pipeline.Repository, log zerolog.Logger) (*Estimator, error) {
	parser := cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse nightly schedule %q: %w", spec, err)
	}
	return &Estimator{
		schedule: schedule,
		reports:  reports,
		log:      log.With().Str("component", "run_estimator").Logger(),
	}, nil
}

// NextRunTime returns the first nightly fire strictly after now.
func (e *Estimator) NextRunTime(now time.Time) time.Time {
	return e.schedule.Next(now)
}

// AverageRunDuration averages the recent successful runs, falling back to a
// fixed window when history is empty or unreadable.
func (e *Estimator) AverageRunDuration() time.Duration {
	durations, err := e.reports.RecentDurations(durationSampleSize)
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to read run durations, using fallback")
		return fallbackRunDuration
	}
	if len(durations) == 0 {
		return fallbackRunDuration
	}

	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return total / time.Duration(len(durations))
}
