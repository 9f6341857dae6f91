package pipeline

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Step names as they appear in run reports, logs, and the step duration
// histogram. The order here is the execution order.
const (
	StepBuildPack = "build_pricing_pack"
	StepReconcile = "reconcile_ledger"
	StepMetrics   = "compute_daily_metrics"
	StepFactors   = "prewarm_factors"
	StepRatings   = "prewarm_ratings"
	StepMarkFresh = "mark_pack_fresh"
	StepAlerts    = "evaluate_alerts"
)

// Terminal run statuses.
const (
	RunCompleted = "completed"
	RunBlocked   = "blocked"
)

// StepReport records the outcome of one pipeline step. Steps after a
// blocking failure are recorded as skipped and never run.
type StepReport struct {
	Name       string `json:"name"`
	Success    bool   `json:"success"`
	Skipped    bool   `json:"skipped,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// RunReport is the full record of one nightly run. Success means no blocking
// step failed; warning steps can fail without clearing it. BlockedAt names
// the first blocking step that failed, empty otherwise.
type RunReport struct {
	RunDate       string       `json:"run_date"`
	PricingPackID string       `json:"pricing_pack_id,omitempty"`
	StartedAt     int64        `json:"started_at"`
	FinishedAt    int64        `json:"finished_at"`
	DurationMs    int64        `json:"duration_ms"`
	Success       bool         `json:"success"`
	BlockedAt     string       `json:"blocked_at,omitempty"`
	Steps         []StepReport `json:"steps"`
}

// Status returns the terminal status string for the report.
func (r *RunReport) Status() string {
	if r.BlockedAt != "" {
		return RunBlocked
	}
	return RunCompleted
}

// Warnings returns the names of non-skipped steps that failed without
// blocking the run.
func (r *RunReport) Warnings() []string {
	var warned []string
	for _, step := range r.Steps {
		if !step.Success && !step.Skipped && step.Name != r.BlockedAt {
			warned = append(warned, step.Name)
		}
	}
	return warned
}

// Repository persists run reports in ops.db, one row per run date. Re-running
// a date replaces the earlier report.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a run report repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "run_reports").Logger(),
	}
}

// Save upserts the report keyed by run date.
func (r *Repository) Save(report *RunReport) error {
	blob, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}

	success := 0
	if report.Success {
		success = 1
	}

	_, err = r.db.Exec(`INSERT INTO run_reports
		(run_date, started_at, finished_at, success, blocked_at, report_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_date) DO UPDATE SET
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			success = excluded.success,
			blocked_at = excluded.blocked_at,
			report_json = excluded.report_json`,
		report.RunDate, report.StartedAt, report.FinishedAt, success,
		report.BlockedAt, string(blob))
	if err != nil {
		return fmt.Errorf("failed to save run report: %w", err)
	}
	return nil
}

// Get returns the report for a run date, or nil when absent.
func (r *Repository) Get(runDate string) (*RunReport, error) {
	row := r.db.QueryRow(`SELECT report_json FROM run_reports WHERE run_date = ?`, runDate)
	return scanRunReport(row)
}

// GetLatest returns the most recent report by run date, or nil when none
// exist yet.
func (r *Repository) GetLatest() (*RunReport, error) {
	row := r.db.QueryRow(`SELECT report_json FROM run_reports ORDER BY run_date DESC LIMIT 1`)
	return scanRunReport(row)
}

func scanRunReport(row *sql.Row) (*RunReport, error) {
	var blob string
	err := row.Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run report: %w", err)
	}
	var report RunReport
	if err := json.Unmarshal([]byte(blob), &report); err != nil {
		return nil, fmt.Errorf("failed to decode run report: %w", err)
	}
	return &report, nil
}

// RecentDurations returns wall-clock durations of the most recent successful
// runs, newest first. The scheduler averages these to estimate when a run in
// progress will finish.
func (r *Repository) RecentDurations(limit int) ([]time.Duration, error) {
	rows, err := r.db.Query(`SELECT finished_at - started_at FROM run_reports
		WHERE success = 1 ORDER BY run_date DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run durations: %w", err)
	}
	defer rows.Close()

	var durations []time.Duration
	for rows.Next() {
		var seconds int64
		if err := rows.Scan(&seconds); err != nil {
			return nil, fmt.Errorf("failed to scan run duration: %w", err)
		}
		durations = append(durations, time.Duration(seconds)*time.Second)
	}
	return durations, rows.Err()
}
