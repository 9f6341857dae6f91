package packs

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
)

// Repository handles pricing pack persistence in packs.db. Pack rows and
// their price/rate content are written once, inside one transaction; later
// writes touch only the status, prewarm flag, ledger commit hash, and the
// one-shot superseded_by pointer.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new pricing pack repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "packs").Logger(),
	}
}

// CreateWithRows inserts a pack and its price/FX content in one transaction.
// When supersedes names an existing pack, that pack's superseded_by is
// written (write-once) inside the same transaction, before the insert, so
// the partial unique index on non-superseded (date, policy) never sees two
// current packs. Foreign key checks are deferred to commit because the
// superseded_by pointer references the row inserted afterwards.
func (r *Repository) CreateWithRows(pack *Pack, prices []PriceRow, rates []FXRow, supersedes string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("PRAGMA defer_foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to defer foreign keys: %w", err)
	}

	if supersedes != "" {
		result, err := tx.Exec(
			`UPDATE pricing_packs SET superseded_by = ?, updated_at = ? WHERE id = ? AND superseded_by IS NULL`,
			pack.ID, time.Now().Unix(), supersedes,
		)
		if err != nil {
			return fmt.Errorf("failed to supersede pack %s: %w", supersedes, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check supersede result: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("pack %s is already superseded or missing", supersedes)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO pricing_packs (
			id, asof_date, policy, hash, status, prewarm_done,
			restatement_reason, sources_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		pack.ID,
		pack.AsOfDate,
		pack.Policy,
		pack.Hash,
		string(StatusWarming),
		pack.RestatementReason,
		pack.SourcesJSON,
		pack.CreatedAt,
		pack.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pack: %w", err)
	}

	priceStmt, err := tx.Prepare(
		`INSERT INTO prices (security_id, pricing_pack_id, close, currency, source) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare price insert: %w", err)
	}
	defer priceStmt.Close()

	for _, p := range prices {
		if _, err := priceStmt.Exec(p.SecurityID, pack.ID, p.Close, p.Currency, p.Source); err != nil {
			return fmt.Errorf("failed to insert price for %s: %w", p.SecurityID, err)
		}
	}

	fxStmt, err := tx.Prepare(
		`INSERT INTO fx_rates (base_ccy, quote_ccy, pricing_pack_id, rate, source, asof_ts) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare fx insert: %w", err)
	}
	defer fxStmt.Close()

	for _, fx := range rates {
		if _, err := fxStmt.Exec(fx.Base, fx.Quote, pack.ID, fx.Rate, fx.Source, fx.AsOf); err != nil {
			return fmt.Errorf("failed to insert fx rate %s/%s: %w", fx.Base, fx.Quote, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pack: %w", err)
	}

	return nil
}

// GetByID returns a pack by id, or nil when it does not exist.
func (r *Repository) GetByID(id string) (*Pack, error) {
	row := r.db.QueryRow(selectPack+` WHERE id = ?`, id)
	return scanPack(row)
}

// GetCurrent returns the non-superseded pack for (date, policy), or nil.
func (r *Repository) GetCurrent(asOfDate int64, policy string) (*Pack, error) {
	row := r.db.QueryRow(
		selectPack+` WHERE asof_date = ? AND policy = ? AND superseded_by IS NULL`,
		asOfDate, policy,
	)
	return scanPack(row)
}

// GetLatestCurrent returns the newest non-superseded pack for a policy, or
// nil when no pack has ever been built.
func (r *Repository) GetLatestCurrent(policy string) (*Pack, error) {
	row := r.db.QueryRow(
		selectPack+` WHERE policy = ? AND superseded_by IS NULL ORDER BY asof_date DESC LIMIT 1`,
		policy,
	)
	return scanPack(row)
}

// GetLatestCurrentBefore returns the newest non-superseded pack for a policy
// dated strictly before asOfDate, or nil when none exists. Attribution uses
// it to find the start-of-day prices for a return decomposition.
func (r *Repository) GetLatestCurrentBefore(asOfDate int64, policy string) (*Pack, error) {
	row := r.db.QueryRow(
		selectPack+` WHERE policy = ? AND asof_date < ? AND superseded_by IS NULL ORDER BY asof_date DESC LIMIT 1`,
		policy, asOfDate,
	)
	return scanPack(row)
}

// MarkFresh promotes a warming pack to fresh. Marking an already-fresh pack
// is a no-op; marking an errored or missing pack is an error.
func (r *Repository) MarkFresh(id string) error {
	result, err := r.db.Exec(
		`UPDATE pricing_packs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(StatusFresh), time.Now().Unix(), id, string(StatusWarming),
	)
	if err != nil {
		return fmt.Errorf("failed to mark pack fresh: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check mark fresh result: %w", err)
	}
	if affected == 1 {
		return nil
	}

	pack, err := r.GetByID(id)
	if err != nil {
		return err
	}
	if pack == nil {
		return fmt.Errorf("pack %s not found", id)
	}
	if pack.Status == StatusFresh {
		return nil
	}
	return fmt.Errorf("pack %s is %s, cannot mark fresh", id, pack.Status)
}

// SetPrewarmDone records that factor and rating pre-warm completed for the
// pack.
func (r *Repository) SetPrewarmDone(id string) error {
	_, err := r.db.Exec(
		`UPDATE pricing_packs SET prewarm_done = 1, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set prewarm done: %w", err)
	}
	return nil
}

// SetStatusError parks a pack in the error state.
func (r *Repository) SetStatusError(id string) error {
	_, err := r.db.Exec(
		`UPDATE pricing_packs SET status = ?, updated_at = ? WHERE id = ?`,
		string(StatusError), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set pack error status: %w", err)
	}
	return nil
}

// SetLedgerCommitHash stamps the pack with the hash of the ledger snapshot
// it reconciled against.
func (r *Repository) SetLedgerCommitHash(id, hash string) error {
	_, err := r.db.Exec(
		`UPDATE pricing_packs SET ledger_commit_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set ledger commit hash: %w", err)
	}
	return nil
}

// GetPrices returns every price row in a pack, sorted by security id.
func (r *Repository) GetPrices(packID string) ([]PriceRow, error) {
	rows, err := r.db.Query(
		`SELECT security_id, close, currency, source FROM prices WHERE pricing_pack_id = ? ORDER BY security_id`,
		packID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	var prices []PriceRow
	for rows.Next() {
		var p PriceRow
		if err := rows.Scan(&p.SecurityID, &p.Close, &p.Currency, &p.Source); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// GetPrice returns one security's price in a pack, or nil when the pack has
// no row for it.
func (r *Repository) GetPrice(packID, securityID string) (*PriceRow, error) {
	var p PriceRow
	err := r.db.QueryRow(
		`SELECT security_id, close, currency, source FROM prices WHERE pricing_pack_id = ? AND security_id = ?`,
		packID, securityID,
	).Scan(&p.SecurityID, &p.Close, &p.Currency, &p.Source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query price: %w", err)
	}
	return &p, nil
}

// GetFXRates returns every rate row in a pack, sorted by (base, quote).
func (r *Repository) GetFXRates(packID string) ([]FXRow, error) {
	rows, err := r.db.Query(
		`SELECT base_ccy, quote_ccy, rate, source, asof_ts FROM fx_rates WHERE pricing_pack_id = ? ORDER BY base_ccy, quote_ccy`,
		packID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query fx rates: %w", err)
	}
	defer rows.Close()

	var rates []FXRow
	for rows.Next() {
		var fx FXRow
		if err := rows.Scan(&fx.Base, &fx.Quote, &fx.Rate, &fx.Source, &fx.AsOf); err != nil {
			return nil, fmt.Errorf("failed to scan fx rate: %w", err)
		}
		rates = append(rates, fx)
	}
	return rates, rows.Err()
}

// GetFXRate returns the base/quote rate in a pack. The inverse pair is
// consulted when the direct pair is absent. Returns nil when neither
// direction exists.
func (r *Repository) GetFXRate(packID, base, quote string) (*FXRow, error) {
	if base == quote {
		return &FXRow{Base: base, Quote: quote, Rate: 1.0, Source: "identity"}, nil
	}

	var fx FXRow
	err := r.db.QueryRow(
		`SELECT base_ccy, quote_ccy, rate, source, asof_ts FROM fx_rates WHERE pricing_pack_id = ? AND base_ccy = ? AND quote_ccy = ?`,
		packID, base, quote,
	).Scan(&fx.Base, &fx.Quote, &fx.Rate, &fx.Source, &fx.AsOf)
	if err == nil {
		return &fx, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query fx rate: %w", err)
	}

	// Inverse direction.
	err = r.db.QueryRow(
		`SELECT base_ccy, quote_ccy, rate, source, asof_ts FROM fx_rates WHERE pricing_pack_id = ? AND base_ccy = ? AND quote_ccy = ?`,
		packID, quote, base,
	).Scan(&fx.Base, &fx.Quote, &fx.Rate, &fx.Source, &fx.AsOf)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query inverse fx rate: %w", err)
	}
	if fx.Rate == 0 {
		return nil, fmt.Errorf("zero rate stored for %s/%s in pack %s", quote, base, packID)
	}

	return &FXRow{
		Base:   base,
		Quote:  quote,
		Rate:   1 / fx.Rate,
		Source: fx.Source,
		AsOf:   fx.AsOf,
	}, nil
}

// ListActiveSecurities returns the active pricing universe, sorted by id.
func (r *Repository) ListActiveSecurities() ([]domain.Security, error) {
	rows, err := r.db.Query(
		`SELECT id, name, currency, active FROM securities WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query securities: %w", err)
	}
	defer rows.Close()

	var securities []domain.Security
	for rows.Next() {
		var s domain.Security
		var active int
		if err := rows.Scan(&s.ID, &s.Name, &s.Currency, &active); err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		s.Active = active == 1
		securities = append(securities, s)
	}
	return securities, rows.Err()
}

// GetSecurity returns one security by id, or nil when unknown.
func (r *Repository) GetSecurity(id string) (*domain.Security, error) {
	var s domain.Security
	var active int
	err := r.db.QueryRow(
		`SELECT id, name, currency, active FROM securities WHERE id = ?`, id).
		Scan(&s.ID, &s.Name, &s.Currency, &active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query security %s: %w", id, err)
	}
	s.Active = active == 1
	return &s, nil
}

// UpsertSecurity inserts or updates one security in the pricing universe.
func (r *Repository) UpsertSecurity(s domain.Security) error {
	active := 0
	if s.Active {
		active = 1
	}
	_, err := r.db.Exec(
		`INSERT INTO securities (id, name, currency, active) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, currency = excluded.currency, active = excluded.active`,
		s.ID, s.Name, s.Currency, active,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert security %s: %w", s.ID, err)
	}
	return nil
}

const selectPack = `
	SELECT id, asof_date, policy, hash, status, prewarm_done, superseded_by,
	       restatement_reason, sources_json, ledger_commit_hash, created_at, updated_at
	FROM pricing_packs`

// scanPack reads one pack row. A missing row returns (nil, nil).
func scanPack(row *sql.Row) (*Pack, error) {
	var p Pack
	var status string
	var prewarm int

	err := row.Scan(
		&p.ID, &p.AsOfDate, &p.Policy, &p.Hash, &status, &prewarm,
		&p.SupersededBy, &p.RestatementReason, &p.SourcesJSON,
		&p.LedgerCommitHash, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan pack: %w", err)
	}

	p.Status = Status(status)
	p.PrewarmDone = prewarm == 1
	return &p, nil
}
