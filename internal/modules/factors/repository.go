package factors

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// ExposureRow is one portfolio-level factor exposure.
type ExposureRow struct {
	PortfolioID   string  `json:"portfolio_id"`
	AsOfDate      int64   `json:"asof_date"`
	PricingPackID string  `json:"pricing_pack_id"`
	Factor        string  `json:"factor"`
	Exposure      float64 `json:"exposure"`
	CreatedAt     int64   `json:"created_at"`
	UpdatedAt     int64   `json:"updated_at"`
}

// Repository persists factor exposures in the derived store.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a factor exposure repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "factors").Logger(),
	}
}

// UpsertExposures writes exposure rows in one transaction.
func (r *Repository) UpsertExposures(rows []ExposureRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO factor_exposures
		(portfolio_id, asof_date, pricing_pack_id, factor, exposure, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(portfolio_id, asof_date, pricing_pack_id, factor) DO UPDATE SET
			exposure = excluded.exposure,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare exposure upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.Exec(row.PortfolioID, row.AsOfDate, row.PricingPackID,
			row.Factor, row.Exposure, row.CreatedAt, row.UpdatedAt); err != nil {
			return fmt.Errorf("failed to upsert exposure %s/%s: %w", row.PortfolioID, row.Factor, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit exposures: %w", err)
	}
	return nil
}

// GetExposures returns the portfolio's exposures for a pack, ordered by
// factor name.
func (r *Repository) GetExposures(portfolioID string, asOfDate int64, packID string) ([]ExposureRow, error) {
	rows, err := r.db.Query(`SELECT portfolio_id, asof_date, pricing_pack_id, factor, exposure, created_at, updated_at
		FROM factor_exposures
		WHERE portfolio_id = ? AND asof_date = ? AND pricing_pack_id = ?
		ORDER BY factor`, portfolioID, asOfDate, packID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exposures: %w", err)
	}
	defer rows.Close()

	var out []ExposureRow
	for rows.Next() {
		var row ExposureRow
		if err := rows.Scan(&row.PortfolioID, &row.AsOfDate, &row.PricingPackID,
			&row.Factor, &row.Exposure, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exposure: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exposures: %w", err)
	}
	return out, nil
}
