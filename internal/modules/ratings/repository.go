// Package ratings pre-warms per-security quality scores each night and
// serves them to the ratings capability and the alert evaluator. The only
// score computed today is price coverage over the trailing year; richer
// content plugs into the same table and vocabulary.
package ratings

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// RatingPriceCoverage scores how complete a security's trailing-year price
// history is, in [0, 1].
const RatingPriceCoverage = "price_coverage_1y"

// RatingNames enumerates the scores the pre-warm produces. Alert conditions
// validate against this list.
var RatingNames = []string{RatingPriceCoverage}

// IsRatingName reports whether name is a known rating.
func IsRatingName(name string) bool {
	for _, n := range RatingNames {
		if n == name {
			return true
		}
	}
	return false
}

// RatingRow is one persisted score of one security under one pricing pack.
type RatingRow struct {
	SecurityID    string  `json:"security_id"`
	AsOfDate      int64   `json:"asof_date"`
	PricingPackID string  `json:"pricing_pack_id"`
	Rating        string  `json:"rating"`
	Score         float64 `json:"score"`
	CreatedAt     int64   `json:"created_at"`
	UpdatedAt     int64   `json:"updated_at"`
}

// Repository provides access to security_ratings in derived.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a ratings repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "ratings").Logger(),
	}
}

// UpsertRatings writes a batch of scores, replacing same-key rows.
func (r *Repository) UpsertRatings(rows []RatingRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO security_ratings
		(security_id, asof_date, pricing_pack_id, rating, score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(security_id, asof_date, pricing_pack_id, rating)
		DO UPDATE SET score = excluded.score, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.Exec(row.SecurityID, row.AsOfDate, row.PricingPackID,
			row.Rating, row.Score, row.CreatedAt, row.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert rating: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ratings: %w", err)
	}
	return nil
}

// GetRatings returns all scores of a security under one pack and date,
// ordered by rating name.
func (r *Repository) GetRatings(securityID string, asOfDate int64, packID string) ([]RatingRow, error) {
	rows, err := r.db.Query(`SELECT security_id, asof_date, pricing_pack_id, rating, score, created_at, updated_at
		FROM security_ratings
		WHERE security_id = ? AND asof_date = ? AND pricing_pack_id = ?
		ORDER BY rating`, securityID, asOfDate, packID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ratings: %w", err)
	}
	defer rows.Close()

	var ratings []RatingRow
	for rows.Next() {
		var row RatingRow
		if err := rows.Scan(&row.SecurityID, &row.AsOfDate, &row.PricingPackID,
			&row.Rating, &row.Score, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		ratings = append(ratings, row)
	}
	return ratings, rows.Err()
}

// GetLatestScore returns a security's most recent score of one rating, or
// nil when none exists. Restated dates resolve to the latest write.
func (r *Repository) GetLatestScore(securityID, rating string) (*RatingRow, error) {
	var row RatingRow
	err := r.db.QueryRow(`SELECT security_id, asof_date, pricing_pack_id, rating, score, created_at, updated_at
		FROM security_ratings
		WHERE security_id = ? AND rating = ?
		ORDER BY asof_date DESC, rowid DESC LIMIT 1`, securityID, rating).
		Scan(&row.SecurityID, &row.AsOfDate, &row.PricingPackID,
			&row.Rating, &row.Score, &row.CreatedAt, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest score: %w", err)
	}
	return &row, nil
}
