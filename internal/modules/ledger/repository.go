package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Repository persists reconciliation reports in ops.db. Reports are append
// only; a pack reconciled twice keeps both reports.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a reconciliation report repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "reconciliation").Logger(),
	}
}

const selectReport = `SELECT id, pricing_pack_id, ledger_commit_hash, status, errors_json, created_at
	FROM reconciliation_reports`

// Save inserts a report with its breaks serialized to JSON.
func (r *Repository) Save(report *Report) error {
	breaks := report.Breaks
	if breaks == nil {
		breaks = []Break{}
	}
	errorsJSON, err := json.Marshal(breaks)
	if err != nil {
		return fmt.Errorf("failed to encode breaks: %w", err)
	}

	_, err = r.db.Exec(`INSERT INTO reconciliation_reports
		(id, pricing_pack_id, ledger_commit_hash, status, errors_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		report.ID, report.PricingPackID, report.LedgerCommitHash,
		report.Status, string(errorsJSON), report.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation report: %w", err)
	}
	return nil
}

// GetByID returns a report by id, or nil when absent.
func (r *Repository) GetByID(id string) (*Report, error) {
	row := r.db.QueryRow(selectReport+` WHERE id = ?`, id)
	return scanReport(row)
}

// GetLatestForPack returns the most recent report for a pack, or nil.
func (r *Repository) GetLatestForPack(packID string) (*Report, error) {
	row := r.db.QueryRow(selectReport+` WHERE pricing_pack_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, packID)
	return scanReport(row)
}

func scanReport(row *sql.Row) (*Report, error) {
	var report Report
	var errorsJSON string
	err := row.Scan(&report.ID, &report.PricingPackID, &report.LedgerCommitHash,
		&report.Status, &errorsJSON, &report.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan reconciliation report: %w", err)
	}
	if err := json.Unmarshal([]byte(errorsJSON), &report.Breaks); err != nil {
		return nil, fmt.Errorf("failed to decode breaks: %w", err)
	}
	return &report, nil
}
