package alerts

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/events"
	"github.com/aristath/meridian/internal/modules/macro"
	"github.com/aristath/meridian/internal/modules/metrics"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/modules/ratings"
	"github.com/aristath/meridian/internal/telemetry"
	"github.com/aristath/meridian/internal/utils"
)

// Evaluator runs every active alert against a pack's derived data. It is
// the last step of the nightly pipeline and never blocks it.
type Evaluator struct {
	repo      *Repository
	notifier  *Notifier
	packs     *packs.Repository
	metrics   *metrics.Repository
	ratings   *ratings.Repository
	macro     *macro.Store
	bus       *events.Manager
	telemetry *telemetry.MetricsRegistry
	log       zerolog.Logger
}

// NewEvaluator creates the alert evaluator.
func NewEvaluator(
	repo *Repository,
	notifier *Notifier,
	packsRepo *packs.Repository,
	metricsRepo *metrics.Repository,
	ratingsRepo *ratings.Repository,
	macroStore *macro.Store,
	bus *events.Manager,
	registry *telemetry.MetricsRegistry,
	log zerolog.Logger,
) *Evaluator {
	return &Evaluator{
		repo:      repo,
		notifier:  notifier,
		packs:     packsRepo,
		metrics:   metricsRepo,
		ratings:   ratingsRepo,
		macro:     macroStore,
		bus:       bus,
		telemetry: registry,
		log:       log.With().Str("service", "alert_evaluator").Logger(),
	}
}

// Run evaluates every active alert at the pack's as-of date. Returns the
// number of alerts that fired, i.e. delivered on at least one channel.
func (e *Evaluator) Run(ctx context.Context, packID string) (int, error) {
	pack, err := e.packs.GetByID(packID)
	if err != nil {
		return 0, fmt.Errorf("failed to load pack %s: %w", packID, err)
	}
	if pack == nil {
		return 0, fmt.Errorf("unknown pricing pack %s", packID)
	}

	alerts, err := e.repo.ListActive()
	if err != nil {
		return 0, fmt.Errorf("failed to list active alerts: %w", err)
	}

	now := time.Now().Unix()
	day := utils.UnixToDate(pack.AsOfDate)

	fired := 0
	var failed []string
	for i := range alerts {
		if err := ctx.Err(); err != nil {
			return fired, err
		}
		a := &alerts[i]

		value, err := e.currentValue(&a.Condition, pack)
		if err != nil {
			e.log.Warn().Err(err).Str("alert", a.ID).Msg("Alert evaluation failed")
			failed = append(failed, a.ID)
			continue
		}
		if value == nil {
			// Nothing to compare yet: short history, unknown security in
			// this pack, or a series with no observations.
			e.log.Debug().Str("alert", a.ID).Str("subject", a.Condition.Subject()).Msg("No value to evaluate")
			continue
		}
		if !satisfied(*value, a.Condition.Operator, a.Condition.Threshold) {
			continue
		}
		if !cooldownElapsed(a, now) {
			e.log.Debug().Str("alert", a.ID).Msg("Condition met but alert is cooling down")
			continue
		}

		title, body, playbook := composeMessage(&a.Condition, *value, day)
		delivered := e.notifier.Deliver(a.Channels, DeliveryPayload{
			AlertID:  a.ID,
			UserID:   a.UserID,
			Title:    title,
			Body:     body,
			Playbook: playbook,
			Day:      day,
		})
		if delivered == 0 {
			continue
		}

		if err := e.repo.SetLastFired(a.ID, now); err != nil {
			e.log.Error().Err(err).Str("alert", a.ID).Msg("Failed to stamp last_fired_at")
			failed = append(failed, a.ID)
		}
		fired++
		e.telemetry.RecordAlertFired(a.Condition.Type)
		e.log.Info().
			Str("alert", a.ID).
			Str("subject", a.Condition.Subject()).
			Float64("value", *value).
			Msg("Alert fired")
		if e.bus != nil {
			e.bus.EmitTyped(events.AlertFired, "alerts", &events.AlertFiredData{
				AlertID:       a.ID,
				ConditionType: a.Condition.Type,
				PortfolioID:   a.Condition.PortfolioID,
				Message:       body,
			})
		}
	}

	e.log.Info().
		Str("pack", pack.ID).
		Int("alerts", len(alerts)).
		Int("fired", fired).
		Msg("Alert evaluation complete")

	if len(failed) > 0 {
		return fired, fmt.Errorf("alert evaluation failed for %d of %d alerts: %v", len(failed), len(alerts), failed)
	}
	return fired, nil
}

// currentValue reads the condition's subject from the derived table it
// watches. A nil value means the subject has no observation at the as-of
// date; the alert is skipped, not failed.
func (e *Evaluator) currentValue(c *Condition, pack *packs.Pack) (*float64, error) {
	day := utils.UnixToDate(pack.AsOfDate)

	switch c.Type {
	case ConditionMacro:
		obs, err := e.macro.LatestAtOrBefore(c.Series, day)
		if err != nil || obs == nil {
			return nil, err
		}
		return &obs.Value, nil

	case ConditionMetric:
		row, err := e.metrics.GetMetrics(c.PortfolioID, pack.AsOfDate, pack.ID)
		if err != nil || row == nil {
			return nil, err
		}
		value, ok := row.Metric(c.Metric)
		if !ok {
			return nil, fmt.Errorf("unknown metric %q", c.Metric)
		}
		return value, nil

	case ConditionRating:
		rows, err := e.ratings.GetRatings(c.SecurityID, pack.AsOfDate, pack.ID)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			if rows[i].Rating == c.Rating {
				return &rows[i].Score, nil
			}
		}
		return nil, nil

	case ConditionPrice:
		price, err := e.packs.GetPrice(pack.ID, c.SecurityID)
		if err != nil || price == nil {
			return nil, err
		}
		if c.Mode != PriceModePercentChange {
			return &price.Close, nil
		}
		prev, err := e.packs.GetLatestCurrentBefore(pack.AsOfDate, pack.Policy)
		if err != nil || prev == nil {
			return nil, err
		}
		prevPrice, err := e.packs.GetPrice(prev.ID, c.SecurityID)
		if err != nil || prevPrice == nil || prevPrice.Close == 0 {
			return nil, err
		}
		change := price.Close/prevPrice.Close - 1
		return &change, nil

	case ConditionNewsSentiment:
		score, err := e.macro.LatestSentimentAtOrBefore(c.SecurityID, day)
		if err != nil || score == nil {
			return nil, err
		}
		return &score.Score, nil
	}
	return nil, fmt.Errorf("unknown condition type %q", c.Type)
}

// satisfied applies the condition's comparison.
func satisfied(value float64, operator string, threshold float64) bool {
	switch operator {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	case "!=":
		return value != threshold
	}
	return false
}

// cooldownElapsed reports whether the alert may fire again. A never-fired
// alert always may.
func cooldownElapsed(a *Alert, now int64) bool {
	if a.LastFiredAt == nil {
		return true
	}
	return now-*a.LastFiredAt >= int64(a.CooldownHours)*3600
}

// composeMessage builds the human-readable notification and, where one
// exists, an actionable playbook.
func composeMessage(c *Condition, value float64, day string) (title, body, playbook string) {
	subject := c.Subject()
	title = "Alert: " + subject
	body = fmt.Sprintf("%s is %s (%s %s) as of %s.",
		subject, formatValue(value), c.Operator, formatValue(c.Threshold), day)

	switch c.Type {
	case ConditionMacro:
		playbook = "Compare against the portfolio's rate sensitivity and revisit cash allocations if the level persists."
	case ConditionMetric:
		playbook = fmt.Sprintf("Open the attribution for %s on %s to find the driving currency bucket.", c.PortfolioID, day)
	case ConditionRating:
		playbook = "Check the price history feed for gaps; a low coverage score usually means a stale or missing source."
	case ConditionPrice:
		playbook = fmt.Sprintf("Review position sizing and standing orders on %s.", c.SecurityID)
	case ConditionNewsSentiment:
		playbook = "Read the underlying stories before trading; sentiment swings lead headlines, not fundamentals."
	}
	return title, body, playbook
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
