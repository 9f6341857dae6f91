package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/events"
	"github.com/aristath/meridian/internal/telemetry"
)

// Replayer drains the dead letter queue on an hourly cadence. It never
// escalates: a job that keeps failing goes terminal after its third retry
// and stays visible in the table.
type Replayer struct {
	repo     *Repository
	notifier *Notifier
	bus      *events.Manager
	metrics  *telemetry.MetricsRegistry
	log      zerolog.Logger
}

// NewReplayer creates a DLQ replayer.
func NewReplayer(repo *Repository, notifier *Notifier, bus *events.Manager, metrics *telemetry.MetricsRegistry, log zerolog.Logger) *Replayer {
	return &Replayer{
		repo:     repo,
		notifier: notifier,
		bus:      bus,
		metrics:  metrics,
		log:      log.With().Str("service", "dlq_replayer").Logger(),
	}
}

// Replay pops every job whose rest period has elapsed and re-attempts its
// delivery. Returns how many were delivered and how many failed again.
func (r *Replayer) Replay(ctx context.Context) (delivered, failed int, err error) {
	now := time.Now().Unix()
	jobs, err := r.repo.ListReplayable(now)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list replayable jobs: %w", err)
	}
	if len(jobs) == 0 {
		return 0, 0, nil
	}

	for i := range jobs {
		if err := ctx.Err(); err != nil {
			return delivered, failed, err
		}
		job := &jobs[i]

		var payload DeliveryPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
			// An unreadable payload can never deliver; retire it now.
			r.log.Error().Err(err).Str("job", job.ID).Msg("DLQ payload is unreadable")
			if err := r.repo.RecordFailedAttempt(job.ID, maxRetries, "unreadable payload: "+err.Error(), now); err != nil {
				r.log.Error().Err(err).Str("job", job.ID).Msg("Failed to retire DLQ job")
			}
			failed++
			r.metrics.RecordDLQReplay(DLQFailed)
			continue
		}

		if sendErr := r.notifier.deliverChannel(job.Kind, payload); sendErr != nil {
			retryCount := job.RetryCount + 1
			if err := r.repo.RecordFailedAttempt(job.ID, retryCount, sendErr.Error(), now); err != nil {
				return delivered, failed, fmt.Errorf("failed to record dlq attempt: %w", err)
			}
			failed++
			result := DLQPending
			if retryCount >= maxRetries {
				result = DLQFailed
				r.log.Error().
					Err(sendErr).
					Str("job", job.ID).
					Str("channel", job.Kind).
					Msg("DLQ job exhausted its retries")
			} else {
				r.log.Warn().
					Err(sendErr).
					Str("job", job.ID).
					Str("channel", job.Kind).
					Int("retry", retryCount).
					Msg("DLQ replay failed")
			}
			r.metrics.RecordDLQReplay(result)
			r.emit(job, retryCount, result)
			continue
		}

		if err := r.repo.MarkDelivered(job.ID, now); err != nil {
			return delivered, failed, fmt.Errorf("failed to mark dlq job delivered: %w", err)
		}
		delivered++
		r.log.Info().
			Str("job", job.ID).
			Str("channel", job.Kind).
			Int("retry", job.RetryCount).
			Msg("DLQ job delivered")
		r.metrics.RecordDLQReplay(DLQDelivered)
		r.emit(job, job.RetryCount, DLQDelivered)
	}

	r.log.Info().
		Int("jobs", len(jobs)).
		Int("delivered", delivered).
		Int("failed", failed).
		Msg("DLQ replay complete")
	return delivered, failed, nil
}

func (r *Replayer) emit(job *DLQJob, attempts int, result string) {
	if r.bus == nil {
		return
	}
	r.bus.EmitTyped(events.DeadLetterReplayed, "alerts", &events.DeadLetterData{
		JobID:    job.ID,
		Channel:  job.Kind,
		Attempts: attempts,
		Result:   result,
	})
}
