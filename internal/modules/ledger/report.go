package ledger

// Report status values. A report FAILs when it carries at least one break.
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
)

// BreakType classifies one reconciliation break.
type BreakType string

const (
	BreakQuantity  BreakType = "QUANTITY_MISMATCH"
	BreakCost      BreakType = "COST_MISMATCH"
	BreakCash      BreakType = "CASH_MISMATCH"
	BreakValuation BreakType = "VALUATION_MISMATCH"
	BreakMissing   BreakType = "MISSING_POSITION"
	BreakSystem    BreakType = "SYSTEM"
)

// Break is one structured reconciliation finding. Breaks are report values,
// never errors: the orchestrator reads the report status, nothing is raised.
type Break struct {
	Type     BreakType `json:"type"`
	Account  string    `json:"account,omitempty"`
	Security string    `json:"security,omitempty"`
	Currency string    `json:"currency,omitempty"`
	DBValue  float64   `json:"db_value"`
	Ledger   float64   `json:"ledger_value"`
	// BasisPoints carries the relative error for valuation breaks.
	BasisPoints float64 `json:"basis_points,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// Report is the outcome of reconciling one pricing pack against one ledger
// commit.
type Report struct {
	ID               string  `json:"id"`
	PricingPackID    string  `json:"pricing_pack_id"`
	LedgerCommitHash string  `json:"ledger_commit_hash"`
	Status           string  `json:"status"`
	Breaks           []Break `json:"breaks"`
	CreatedAt        int64   `json:"created_at"`
}

// Passed reports whether the reconciliation was clean.
func (r *Report) Passed() bool {
	return r.Status == StatusPass
}
