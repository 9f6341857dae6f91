// Package packs builds and serves immutable pricing packs: content-addressed
// snapshots of closing prices and FX rates for one date under one policy.
// A pack is the sole pricing basis for every downstream valuation, and the
// freshness gate over packs is the only door into the online executor.
package packs

// Status is the lifecycle state of a pack. Packs are born warming, promoted
// to fresh by the nightly pipeline's final blocking step, or parked in error.
type Status string

const (
	StatusWarming Status = "warming"
	StatusFresh   Status = "fresh"
	StatusError   Status = "error"
)

// Pack is one immutable pricing snapshot. After insert, only status, the
// prewarm flag, the ledger commit hash stamp, and the one-shot superseded_by
// write may change.
type Pack struct {
	ID                string  `json:"id"`
	AsOfDate          int64   `json:"asof_date"` // Unix ts, midnight UTC
	Policy            string  `json:"policy"`
	Hash              string  `json:"hash"`
	Status            Status  `json:"status"`
	PrewarmDone       bool    `json:"prewarm_done"`
	SupersededBy      *string `json:"superseded_by,omitempty"`
	RestatementReason *string `json:"restatement_reason,omitempty"`
	SourcesJSON       string  `json:"sources_json"`
	LedgerCommitHash  *string `json:"ledger_commit_hash,omitempty"`
	CreatedAt         int64   `json:"created_at"`
	UpdatedAt         int64   `json:"updated_at"`
}

// PriceRow is one security's close inside a pack, in the security's native
// currency.
type PriceRow struct {
	SecurityID string  `json:"security_id"`
	Close      float64 `json:"close"`
	Currency   string  `json:"currency"`
	Source     string  `json:"source"`
}

// FXRow is one base/quote rate inside a pack.
type FXRow struct {
	Base   string  `json:"base_ccy"`
	Quote  string  `json:"quote_ccy"`
	Rate   float64 `json:"rate"`
	Source string  `json:"source"`
	AsOf   int64   `json:"asof_ts"`
}

// PackRef is what the freshness gate hands to the request context: enough
// to pin every read in the request to one pack and one ledger state.
type PackRef struct {
	ID               string `json:"pricing_pack_id"`
	LedgerCommitHash string `json:"ledger_commit_hash"`
}

// Pair is one currency pair required by a pricing policy.
type Pair struct {
	Base  string
	Quote string
}
