package server

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/events"
	"github.com/aristath/meridian/internal/modules/alerts"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/telemetry"
)

// StatusMonitor periodically derives a composite system status from the
// current pack and the dead letter queue, and emits an event when it changes.
type StatusMonitor struct {
	eventManager *events.Manager
	packRepo     *packs.Repository
	alertRepo    *alerts.Repository
	policy       string
	metrics      *telemetry.MetricsRegistry
	log          zerolog.Logger

	stop     chan struct{}
	stopOnce sync.Once

	lastStatus string
}

// NewStatusMonitor creates a new status monitor.
func NewStatusMonitor(
	eventManager *events.Manager,
	packRepo *packs.Repository,
	alertRepo *alerts.Repository,
	policy string,
	metrics *telemetry.MetricsRegistry,
	log zerolog.Logger,
) *StatusMonitor {
	return &StatusMonitor{
		eventManager: eventManager,
		packRepo:     packRepo,
		alertRepo:    alertRepo,
		policy:       policy,
		metrics:      metrics,
		log:          log.With().Str("component", "status_monitor").Logger(),
		stop:         make(chan struct{}),
	}
}

// Start begins periodic status monitoring.
func (m *StatusMonitor) Start(interval time.Duration) {
	go m.monitor(interval)
}

// Stop halts the monitoring loop. Safe to call more than once.
func (m *StatusMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *StatusMonitor) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.checkStatus()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.checkStatus()
		}
	}
}

// checkStatus recomputes the composite status and emits SystemStatusChanged
// when it differs from the last observation. Only the monitor goroutine
// touches lastStatus.
func (m *StatusMonitor) checkStatus() {
	pack, err := m.packRepo.GetLatestCurrent(m.policy)
	if err != nil {
		m.log.Warn().Err(err).Msg("Status check failed to read current pack")
		return
	}

	pending, err := m.alertRepo.CountPending()
	if err != nil {
		m.log.Warn().Err(err).Msg("Status check failed to count dead letters")
		pending = 0
	}
	m.metrics.SetDLQDepth(pending)

	packStatus := "missing"
	if pack != nil {
		packStatus = string(pack.Status)
	}

	status := "healthy"
	switch {
	case pack == nil:
		status = "initializing"
	case pack.Status == packs.StatusError:
		status = "degraded"
	case pack.Status == packs.StatusWarming:
		status = "warming"
	}
	if pending > 0 {
		status = "degraded"
	}

	if status == m.lastStatus {
		return
	}

	m.log.Info().
		Str("from", m.lastStatus).
		Str("to", status).
		Str("pack_status", packStatus).
		Int("dead_letters", pending).
		Msg("System status changed")

	if m.eventManager != nil {
		m.eventManager.Emit(events.SystemStatusChanged, "status_monitor", map[string]interface{}{
			"status":       status,
			"pack_status":  packStatus,
			"dead_letters": pending,
			"timestamp":    time.Now().Format(time.RFC3339),
		})
	}

	m.lastStatus = status
}
