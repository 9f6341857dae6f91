// Package macro owns history.db: macro series, benchmark prices, trailing
// daily closes, and sentiment scores. The store is read at valuation,
// metrics, factor, and alert time; the sync service refreshes it ahead of
// the nightly run.
package macro

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/utils"
)

// BenchmarkPrice is one close of a benchmark series.
type BenchmarkPrice struct {
	Date     string  `json:"date"`
	Close    float64 `json:"close"`
	Currency string  `json:"currency"`
}

// DailyClose is one trailing close of a security, kept for factor pre-warm.
type DailyClose struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// SentimentScore is one news-sentiment observation in [-1, 1].
type SentimentScore struct {
	SecurityID string  `json:"security_id"`
	Date       string  `json:"date"`
	Score      float64 `json:"score"`
}

// Store provides access to history.db.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a history store accessor.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "history_store").Logger(),
	}
}

// --- macro series ---

// UpsertSeries writes observations of one series, replacing same-date rows.
func (s *Store) UpsertSeries(series string, observations []domain.MacroObservation) error {
	if len(observations) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO macro_series (series, date, value)
		VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, obs := range observations {
		date, err := utils.DateToUnix(obs.Date)
		if err != nil {
			return fmt.Errorf("invalid observation date %q: %w", obs.Date, err)
		}
		if _, err := stmt.Exec(series, date, obs.Value); err != nil {
			return fmt.Errorf("failed to upsert observation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit observations: %w", err)
	}
	return nil
}

// LatestAtOrBefore returns the most recent observation of a series at or
// before the given date, or nil when the series has no history there.
// Macro series publish with a lag, so as-of reads always look backwards.
func (s *Store) LatestAtOrBefore(series, date string) (*domain.MacroObservation, error) {
	cutoff, err := utils.DateToUnix(date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	var obs domain.MacroObservation
	var dateUnix int64
	err = s.db.QueryRow(`SELECT series, date, value FROM macro_series
		WHERE series = ? AND date <= ?
		ORDER BY date DESC LIMIT 1`, series, cutoff).
		Scan(&obs.Series, &dateUnix, &obs.Value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query series %s: %w", series, err)
	}
	obs.Date = utils.UnixToDate(dateUnix)
	return &obs, nil
}

// SeriesRange returns observations in [from, to] inclusive, oldest first.
func (s *Store) SeriesRange(series, from, to string) ([]domain.MacroObservation, error) {
	fromUnix, err := utils.DateToUnix(from)
	if err != nil {
		return nil, fmt.Errorf("invalid from date %q: %w", from, err)
	}
	toUnix, err := utils.DateToUnix(to)
	if err != nil {
		return nil, fmt.Errorf("invalid to date %q: %w", to, err)
	}

	rows, err := s.db.Query(`SELECT series, date, value FROM macro_series
		WHERE series = ? AND date >= ? AND date <= ?
		ORDER BY date`, series, fromUnix, toUnix)
	if err != nil {
		return nil, fmt.Errorf("failed to query series %s: %w", series, err)
	}
	defer rows.Close()

	var observations []domain.MacroObservation
	for rows.Next() {
		var obs domain.MacroObservation
		var dateUnix int64
		if err := rows.Scan(&obs.Series, &dateUnix, &obs.Value); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		obs.Date = utils.UnixToDate(dateUnix)
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating observations: %w", err)
	}
	return observations, nil
}

// --- benchmark prices ---

// UpsertBenchmarkPrices writes closes of one benchmark symbol.
func (s *Store) UpsertBenchmarkPrices(symbol string, prices []BenchmarkPrice) error {
	if len(prices) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO benchmark_prices (symbol, date, close, currency)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range prices {
		date, err := utils.DateToUnix(p.Date)
		if err != nil {
			return fmt.Errorf("invalid benchmark date %q: %w", p.Date, err)
		}
		if _, err := stmt.Exec(symbol, date, p.Close, p.Currency); err != nil {
			return fmt.Errorf("failed to upsert benchmark price: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit benchmark prices: %w", err)
	}
	return nil
}

// BenchmarkCloses returns a benchmark's closes in [from, to] inclusive,
// oldest first.
func (s *Store) BenchmarkCloses(symbol, from, to string) ([]BenchmarkPrice, error) {
	fromUnix, err := utils.DateToUnix(from)
	if err != nil {
		return nil, fmt.Errorf("invalid from date %q: %w", from, err)
	}
	toUnix, err := utils.DateToUnix(to)
	if err != nil {
		return nil, fmt.Errorf("invalid to date %q: %w", to, err)
	}

	rows, err := s.db.Query(`SELECT date, close, currency FROM benchmark_prices
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date`, symbol, fromUnix, toUnix)
	if err != nil {
		return nil, fmt.Errorf("failed to query benchmark prices: %w", err)
	}
	defer rows.Close()

	var prices []BenchmarkPrice
	for rows.Next() {
		var p BenchmarkPrice
		var dateUnix int64
		if err := rows.Scan(&dateUnix, &p.Close, &p.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan benchmark price: %w", err)
		}
		p.Date = utils.UnixToDate(dateUnix)
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating benchmark prices: %w", err)
	}
	return prices, nil
}

// --- trailing daily closes ---

// UpsertDailyCloses appends one day of security closes to the trailing
// history, replacing same-day rows. The nightly pipeline feeds it from each
// night's pack so factor pre-warm always has a contiguous series.
func (s *Store) UpsertDailyCloses(date string, closes map[string]float64) error {
	if len(closes) == 0 {
		return nil
	}
	dateUnix, err := utils.DateToUnix(date)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", date, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO daily_prices (security_id, date, close)
		VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for securityID, closePrice := range closes {
		if _, err := stmt.Exec(securityID, dateUnix, closePrice); err != nil {
			return fmt.Errorf("failed to upsert daily close: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit daily closes: %w", err)
	}
	return nil
}

// DailyCloses returns up to limit trailing closes of a security at or
// before the given date, oldest first.
func (s *Store) DailyCloses(securityID, date string, limit int) ([]DailyClose, error) {
	cutoff, err := utils.DateToUnix(date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	rows, err := s.db.Query(`SELECT date, close FROM daily_prices
		WHERE security_id = ? AND date <= ?
		ORDER BY date DESC LIMIT ?`, securityID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily closes: %w", err)
	}
	defer rows.Close()

	var closes []DailyClose
	for rows.Next() {
		var c DailyClose
		var dateUnix int64
		if err := rows.Scan(&dateUnix, &c.Close); err != nil {
			return nil, fmt.Errorf("failed to scan daily close: %w", err)
		}
		c.Date = utils.UnixToDate(dateUnix)
		closes = append(closes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily closes: %w", err)
	}

	// Query is newest-first for the LIMIT; callers want oldest-first.
	for i, j := 0, len(closes)-1; i < j; i, j = i+1, j-1 {
		closes[i], closes[j] = closes[j], closes[i]
	}
	return closes, nil
}

// CountDailyCloses returns how many closes a security has in [from, to]
// inclusive. The ratings pre-warm scores price coverage with it.
func (s *Store) CountDailyCloses(securityID, from, to string) (int, error) {
	fromUnix, err := utils.DateToUnix(from)
	if err != nil {
		return 0, fmt.Errorf("invalid from date %q: %w", from, err)
	}
	toUnix, err := utils.DateToUnix(to)
	if err != nil {
		return 0, fmt.Errorf("invalid to date %q: %w", to, err)
	}

	var count int
	err = s.db.QueryRow(`SELECT COUNT(*) FROM daily_prices
		WHERE security_id = ? AND date >= ? AND date <= ?`,
		securityID, fromUnix, toUnix).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count daily closes: %w", err)
	}
	return count, nil
}

// --- sentiment ---

// UpsertSentiment writes one sentiment score. SQLite enforces the [-1, 1]
// bound via the table CHECK.
func (s *Store) UpsertSentiment(score SentimentScore) error {
	dateUnix, err := utils.DateToUnix(score.Date)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", score.Date, err)
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO sentiment_scores (security_id, date, score)
		VALUES (?, ?, ?)`, score.SecurityID, dateUnix, score.Score)
	if err != nil {
		return fmt.Errorf("failed to upsert sentiment: %w", err)
	}
	return nil
}

// LatestSentimentAtOrBefore returns the most recent sentiment score at or
// before the given date, or nil.
func (s *Store) LatestSentimentAtOrBefore(securityID, date string) (*SentimentScore, error) {
	cutoff, err := utils.DateToUnix(date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	var score SentimentScore
	var dateUnix int64
	err = s.db.QueryRow(`SELECT security_id, date, score FROM sentiment_scores
		WHERE security_id = ? AND date <= ?
		ORDER BY date DESC LIMIT 1`, securityID, cutoff).
		Scan(&score.SecurityID, &dateUnix, &score.Score)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sentiment: %w", err)
	}
	score.Date = utils.UnixToDate(dateUnix)
	return &score, nil
}
