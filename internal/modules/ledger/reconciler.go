package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/events"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/modules/portfolio"
)

const (
	// quantityEpsilon absorbs float summation noise when aggregating lot
	// quantities. Anything larger is a real break.
	quantityEpsilon = 1e-9

	// costTolerancePerLot is one cent per lot line.
	costTolerancePerLot = 0.01

	// cashTolerance is one cent per account and currency.
	cashTolerance = 0.01

	// valuationToleranceBP bounds the relative valuation error. The
	// quantity check bounds absolute drift; this bounds proportional
	// drift, which matters on tiny positions the epsilon cannot see.
	valuationToleranceBP = 1.0
)

// Reconciler proves the database's derived positions match the external
// book, or produces a structured explanation of the mismatch. Its report is
// the nightly pipeline's second blocker.
type Reconciler struct {
	packs     *packs.Repository
	portfolio *portfolio.Repository
	reports   *Repository
	bus       *events.Manager
	log       zerolog.Logger
}

// NewReconciler creates a reconciler. The event manager may be nil in tests.
func NewReconciler(
	packsRepo *packs.Repository,
	portfolioRepo *portfolio.Repository,
	reports *Repository,
	bus *events.Manager,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		packs:     packsRepo,
		portfolio: portfolioRepo,
		reports:   reports,
		bus:       bus,
		log:       log.With().Str("service", "reconciler").Logger(),
	}
}

// Reconcile loads the book at ledgerPath and compares every active
// portfolio against its ledger account using the pack's prices. All
// findings, including internal failures, land in the report as breaks; the
// returned error is non-nil only when the report itself could not be
// persisted. On PASS the pack is stamped with the ledger commit hash,
// binding pack and book for every downstream request.
func (r *Reconciler) Reconcile(ctx context.Context, packID, ledgerPath string) (*Report, error) {
	report := &Report{
		ID:            "rc_" + uuid.New().String(),
		PricingPackID: packID,
		Status:        StatusPass,
		CreatedAt:     time.Now().Unix(),
	}

	snapshot, err := Load(ledgerPath)
	if err != nil {
		r.systemBreak(report, fmt.Sprintf("failed to load ledger: %v", err))
		return r.finish(report)
	}
	report.LedgerCommitHash = snapshot.CommitHash

	pack, err := r.packs.GetByID(packID)
	if err != nil {
		r.systemBreak(report, fmt.Sprintf("failed to load pack: %v", err))
		return r.finish(report)
	}
	if pack == nil {
		r.systemBreak(report, fmt.Sprintf("pricing pack %s not found", packID))
		return r.finish(report)
	}

	prices, err := r.packPrices(packID)
	if err != nil {
		r.systemBreak(report, fmt.Sprintf("failed to load pack prices: %v", err))
		return r.finish(report)
	}

	portfolios, err := r.portfolio.ListActive()
	if err != nil {
		r.systemBreak(report, fmt.Sprintf("failed to list portfolios: %v", err))
		return r.finish(report)
	}

	for i := range portfolios {
		if err := ctx.Err(); err != nil {
			r.systemBreak(report, fmt.Sprintf("reconciliation canceled: %v", err))
			return r.finish(report)
		}
		if err := r.reconcilePortfolio(&portfolios[i], snapshot, prices, report); err != nil {
			r.systemBreak(report, fmt.Sprintf("portfolio %s: %v", portfolios[i].ID, err))
			return r.finish(report)
		}
	}

	if len(report.Breaks) == 0 {
		if err := r.packs.SetLedgerCommitHash(packID, snapshot.CommitHash); err != nil {
			r.systemBreak(report, fmt.Sprintf("failed to stamp ledger commit on pack: %v", err))
		}
	}

	return r.finish(report)
}

// reconcilePortfolio compares one portfolio against its ledger account. An
// account absent from the book compares as empty: every open position
// becomes MISSING_POSITION and cash compares against zero.
func (r *Reconciler) reconcilePortfolio(
	pf *domain.Portfolio,
	snapshot *Snapshot,
	prices map[string]float64,
	report *Report,
) error {
	account := snapshot.Accounts[pf.Account]

	lots, err := r.portfolio.GetOpenLots(pf.ID)
	if err != nil {
		return err
	}

	dbQty := make(map[string]float64)
	dbCost := make(map[string]float64)
	dbLots := make(map[string]int)
	for _, lot := range lots {
		dbQty[lot.SecurityID] += lot.QuantityOpen
		dbCost[lot.SecurityID] += lot.QuantityOpen * lot.CostPerUnit
		dbLots[lot.SecurityID]++
	}

	ledgerQty := make(map[string]float64)
	ledgerCost := make(map[string]float64)
	ledgerLines := make(map[string]int)
	if account != nil {
		for _, h := range account.Holdings {
			ledgerQty[h.Security] += h.Quantity
			ledgerCost[h.Security] += h.Quantity * h.CostPerUnit
			ledgerLines[h.Security]++
		}
	}

	for _, sec := range unionKeys(dbQty, ledgerQty) {
		dq, inDB := dbQty[sec]
		lq, inLedger := ledgerQty[sec]

		switch {
		case !inLedger:
			report.Breaks = append(report.Breaks, Break{
				Type: BreakMissing, Account: pf.Account, Security: sec,
				DBValue: dq, Ledger: 0,
				Message: "position absent from ledger",
			})
		case !inDB:
			report.Breaks = append(report.Breaks, Break{
				Type: BreakMissing, Account: pf.Account, Security: sec,
				DBValue: 0, Ledger: lq,
				Message: "position absent from database",
			})
		case math.Abs(dq-lq) > quantityEpsilon:
			// Cost and valuation of a security whose quantity already
			// broke would only restate the same problem.
			report.Breaks = append(report.Breaks, Break{
				Type: BreakQuantity, Account: pf.Account, Security: sec,
				DBValue: dq, Ledger: lq,
			})
		default:
			tolerance := costTolerancePerLot * float64(maxInt(dbLots[sec], ledgerLines[sec]))
			if math.Abs(dbCost[sec]-ledgerCost[sec]) > tolerance {
				report.Breaks = append(report.Breaks, Break{
					Type: BreakCost, Account: pf.Account, Security: sec,
					DBValue: dbCost[sec], Ledger: ledgerCost[sec],
				})
			}

			price, priced := prices[sec]
			if priced && price != 0 && lq != 0 {
				dbValue := dq * price
				ledgerValue := lq * price
				bp := math.Abs(dbValue-ledgerValue) / math.Abs(ledgerValue) * 10000
				if bp > valuationToleranceBP {
					report.Breaks = append(report.Breaks, Break{
						Type: BreakValuation, Account: pf.Account, Security: sec,
						DBValue: dbValue, Ledger: ledgerValue, BasisPoints: bp,
					})
				}
			}
		}
	}

	balances, err := r.portfolio.GetCashBalances(pf.ID)
	if err != nil {
		return err
	}
	dbCash := make(map[string]float64, len(balances))
	for _, cb := range balances {
		dbCash[cb.Currency] = cb.Balance
	}
	ledgerCash := map[string]float64{}
	if account != nil {
		ledgerCash = account.Cash
	}

	for _, ccy := range unionKeys(dbCash, ledgerCash) {
		db := dbCash[ccy]
		book := ledgerCash[ccy]
		if math.Abs(db-book) > cashTolerance {
			report.Breaks = append(report.Breaks, Break{
				Type: BreakCash, Account: pf.Account, Currency: ccy,
				DBValue: db, Ledger: book,
			})
		}
	}

	return nil
}

func (r *Reconciler) packPrices(packID string) (map[string]float64, error) {
	rows, err := r.packs.GetPrices(packID)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]float64, len(rows))
	for _, row := range rows {
		prices[row.SecurityID] = row.Close
	}
	return prices, nil
}

func (r *Reconciler) systemBreak(report *Report, message string) {
	r.log.Error().Str("pack_id", report.PricingPackID).Msg(message)
	report.Breaks = append(report.Breaks, Break{Type: BreakSystem, Message: message})
}

// finish fixes the status, persists the report, and announces the outcome.
func (r *Reconciler) finish(report *Report) (*Report, error) {
	if len(report.Breaks) > 0 {
		report.Status = StatusFail
	}

	if err := r.reports.Save(report); err != nil {
		return nil, fmt.Errorf("failed to persist reconciliation report: %w", err)
	}

	r.log.Info().
		Str("report_id", report.ID).
		Str("pack_id", report.PricingPackID).
		Str("status", report.Status).
		Int("breaks", len(report.Breaks)).
		Msg("Reconciliation finished")

	if r.bus != nil {
		r.bus.EmitTyped(events.ReconcileCompleted, "ledger", &events.ReconcileCompletedData{
			PackID:     report.PricingPackID,
			Status:     report.Status,
			BreakCount: len(report.Breaks),
		})
	}

	return report, nil
}

// unionKeys returns the sorted union of both maps' keys so break ordering
// is deterministic.
func unionKeys(a, b map[string]float64) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
