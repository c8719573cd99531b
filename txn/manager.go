/*
Package txn implements generic edit and delete of ledger entries.

PURPOSE:
  Deleting or editing a single entry is never local: a repayment and its
  same-day accrual form one logical step, structural entries have causally
  dependent successors, and the loan's cached terms must be restored to
  the state captured before the entry was written. This package owns those
  cascades so direct calls and undoable commands behave identically.

DELETE SEQUENCE:
  1. Entries without a loan reference delete unconditionally.
  2. Sibling detection: a Repayment and an InterestEarned dated the same
     day and adjacent in sorted order are one logical step.
  3. Snapshot resolution: the entry's own previous state, else the sibling's.
  4. Structural cascade: issuance/top-up/restructure deletions first remove
     every later-id entry on the loan (they are causally dependent).
  5. Revert cascade: deleting a Repayment unlocks later accrual anchors so
     they re-enter auto healing on the next replay.
  6. Deletions execute (entry + sibling + buyoff-adjacent accrual).
  7. The loan is restored from the snapshot verbatim, or by a best-effort
     legacy recompute when no snapshot exists.
  8. History replay, balance replay, default deduction refresh.
*/
package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/lending-engine/ledger"
)

// Manager performs entry-level edits and deletes with their cascades.
type Manager struct {
	store  ledger.Store
	recalc *ledger.Recalculator
	log    *zap.Logger
}

// NewManager builds a transaction manager. The recalculator must be bound
// to the same store.
func NewManager(store ledger.Store, recalc *ledger.Recalculator, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: store, recalc: recalc, log: log}
}

// WithStore returns a copy of the manager bound to another store.
func (m *Manager) WithStore(store ledger.Store) *Manager {
	return &Manager{store: store, recalc: m.recalc.WithStore(store), log: m.log}
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteEntry removes an entry with full cascade and state restoration.
func (m *Manager) DeleteEntry(ctx context.Context, id ledger.IndividualID, entryID int64) error {
	e, err := m.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if e.IndividualID != id {
		return fmt.Errorf("entry %d does not belong to %s: %w", entryID, id, ledger.ErrEntryNotFound)
	}

	// No loan reference: nothing depends on it.
	if e.LoanRef == "" {
		return m.store.DeleteEntry(ctx, e.ID)
	}

	entries, err := m.store.EntriesByLoan(ctx, id, e.LoanRef)
	if err != nil {
		return fmt.Errorf("failed to load loan entries: %w", err)
	}

	// Structural cascade: later-id entries are causally dependent.
	if e.Event.IsStructural() {
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].ID > e.ID {
				if err := m.store.DeleteEntry(ctx, entries[i].ID); err != nil {
					return fmt.Errorf("failed to cascade delete entry %d: %w", entries[i].ID, err)
				}
			}
		}
	}

	// Deleting the issuance removes the loan itself.
	if e.Event == ledger.EventLoanIssued {
		if err := m.store.DeleteEntry(ctx, e.ID); err != nil {
			return fmt.Errorf("failed to delete issuance entry: %w", err)
		}
		if err := m.store.DeleteLoan(ctx, id, e.LoanRef); err != nil && !ledger.IsNotFound(err) {
			return fmt.Errorf("failed to delete loan %s: %w", e.LoanRef, err)
		}
		if err := m.recalc.RecalculateBalances(ctx, id); err != nil {
			return err
		}
		return m.recalc.RecalculateDefaultDeduction(ctx, id)
	}

	sibling := resolveSibling(entries, e)

	// Snapshot resolution: prefer the entry's own previous state.
	snap, err := ledger.DecodeLoanSnapshot(e.PreviousState)
	if err != nil {
		return err
	}
	if snap == nil && sibling != nil {
		if snap, err = ledger.DecodeLoanSnapshot(sibling.PreviousState); err != nil {
			return err
		}
	}

	// Revert cascade: later accruals re-enter auto healing.
	if e.Event == ledger.EventRepayment {
		for _, later := range entries {
			if later.ID > e.ID && later.Event == ledger.EventInterestEarned && later.Anchor.Set {
				later.Anchor = ledger.Anchor{}
				if err := m.store.UpdateEntry(ctx, later); err != nil {
					return fmt.Errorf("failed to unlock accrual %d: %w", later.ID, err)
				}
			}
		}
	}

	if err := m.store.DeleteEntry(ctx, e.ID); err != nil {
		return fmt.Errorf("failed to delete entry %d: %w", e.ID, err)
	}
	if sibling != nil {
		if err := m.store.DeleteEntry(ctx, sibling.ID); err != nil {
			return fmt.Errorf("failed to delete sibling %d: %w", sibling.ID, err)
		}
	}

	loan, err := m.store.GetLoan(ctx, id, e.LoanRef)
	if err != nil {
		return err
	}
	if snap != nil {
		snap.RestoreTo(loan)
	} else {
		m.legacyRevert(loan, e)
		if sibling != nil {
			m.legacyRevert(loan, sibling)
		}
	}
	if err := m.store.UpdateLoan(ctx, loan); err != nil {
		return fmt.Errorf("failed to restore loan: %w", err)
	}

	if err := m.recalc.RecalculateLoanHistory(ctx, id, e.LoanRef); err != nil {
		return err
	}
	if err := m.recalc.RecalculateBalances(ctx, id); err != nil {
		return err
	}
	if err := m.recalc.RecalculateDefaultDeduction(ctx, id); err != nil {
		return err
	}

	m.log.Info("entry deleted",
		zap.Int64("entry", entryID),
		zap.String("individual", string(id)),
		zap.String("ref", e.LoanRef),
		zap.Bool("with_sibling", sibling != nil),
	)
	return nil
}

// ResolveSibling returns the entry forming one logical step with e, if any:
// a Repayment's same-day preceding accrual, an accrual's same-day following
// Repayment, or a buyoff's same-day realization accrual.
func (m *Manager) ResolveSibling(ctx context.Context, e *ledger.Entry) (*ledger.Entry, error) {
	if e.LoanRef == "" {
		return nil, nil
	}
	entries, err := m.store.EntriesByLoan(ctx, e.IndividualID, e.LoanRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load loan entries: %w", err)
	}
	return resolveSibling(entries, e), nil
}

func resolveSibling(entries []*ledger.Entry, e *ledger.Entry) *ledger.Entry {
	idx := -1
	for i, cand := range entries {
		if cand.ID == e.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	switch e.Event {
	case ledger.EventRepayment, ledger.EventLoanBuyoff:
		if idx > 0 {
			prev := entries[idx-1]
			if prev.Event == ledger.EventInterestEarned && ledger.SameDay(prev.Date, e.Date) {
				return prev
			}
		}
	case ledger.EventInterestEarned:
		if idx+1 < len(entries) {
			next := entries[idx+1]
			if (next.Event == ledger.EventRepayment || next.Event == ledger.EventLoanBuyoff) && ledger.SameDay(next.Date, e.Date) {
				return next
			}
		}
	}
	return nil
}

// legacyRevert undoes the entry's direct effect on the loan's cached terms.
// Best-effort fallback for rows written before snapshots existed.
func (m *Manager) legacyRevert(loan *ledger.Loan, e *ledger.Entry) {
	switch e.Event {
	case ledger.EventLoanTopUp:
		loan.Balance = ledger.Clamp(loan.Balance.Sub(e.Added))
		loan.UnearnedInterest = ledger.Clamp(loan.UnearnedInterest.Sub(e.InterestAmount))
	case ledger.EventInterestEarned:
		loan.UnearnedInterest = loan.UnearnedInterest.Add(e.Added)
		loan.InterestBalance = ledger.Clamp(loan.InterestBalance.Sub(e.Added))
	case ledger.EventRepayment, ledger.EventLoanBuyoff:
		loan.Balance = loan.Balance.Add(e.PrincipalPortion)
		loan.InterestBalance = loan.InterestBalance.Add(e.InterestPortion)
		if loan.Status == ledger.StatusPaid && loan.Balance.IsPositive() {
			loan.Status = ledger.StatusActive
		}
	case ledger.EventLoanRestructure:
		// Terms-only event; nothing reliable to reverse without a snapshot.
	}
}

// =============================================================================
// EDIT
// =============================================================================

// EditInput holds the editable fields of an entry. Nil fields are left
// unchanged. A changed amount marks the entry as an anchor.
type EditInput struct {
	Date   *time.Time
	Amount *decimal.Decimal
	Notes  *string
}

// EditEntry mutates an entry, marks it anchored if its amount changed, and
// re-runs the smart replay followed by the balance replay.
func (m *Manager) EditEntry(ctx context.Context, id ledger.IndividualID, entryID int64, in EditInput) error {
	e, err := m.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if e.IndividualID != id {
		return fmt.Errorf("entry %d does not belong to %s: %w", entryID, id, ledger.ErrEntryNotFound)
	}

	if in.Date != nil && !in.Date.IsZero() {
		e.Date = *in.Date
	}
	if in.Notes != nil {
		e.Notes = *in.Notes
	}
	if in.Amount != nil {
		amt := *in.Amount
		if amt.IsNegative() {
			return ledger.Validationf("amount", "must not be negative, got %s", amt)
		}
		switch e.Event {
		case ledger.EventRepayment, ledger.EventLoanBuyoff:
			if !amt.Equal(e.Deducted) {
				e.Deducted = amt
				e.Anchor = ledger.AnchorAt(amt)
			}
		default:
			if !amt.Equal(e.Added) {
				e.Added = amt
				if e.Event == ledger.EventInterestEarned {
					e.Anchor = ledger.AnchorAt(amt)
				}
			}
		}
	}

	if err := m.store.UpdateEntry(ctx, e); err != nil {
		return fmt.Errorf("failed to update entry %d: %w", entryID, err)
	}
	if e.LoanRef == "" {
		return nil
	}
	return m.replayAfterEdit(ctx, id, e.LoanRef)
}

// UpdateRepaymentAmount anchors a repayment to a new amount and settles the
// ledger around it. The smart replay adopts the anchored amount as the new
// installment and heals future accrual rows immediately so the ledger never
// displays a stale rate window; one bounded second pass settles the split
// after the rate change.
func (m *Manager) UpdateRepaymentAmount(ctx context.Context, id ledger.IndividualID, entryID int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ledger.Validationf("amount", "must not be negative, got %s", amount)
	}

	e, err := m.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if e.IndividualID != id {
		return fmt.Errorf("entry %d does not belong to %s: %w", entryID, id, ledger.ErrEntryNotFound)
	}
	if e.Event != ledger.EventRepayment {
		return ledger.Validationf("entry", "entry %d is %s, not a repayment", entryID, e.Event)
	}

	e.Deducted = amount
	e.Anchor = ledger.AnchorAt(amount)
	if err := m.store.UpdateEntry(ctx, e); err != nil {
		return fmt.Errorf("failed to update entry %d: %w", entryID, err)
	}

	// First pass adopts the anchored installment and heals future rows;
	// the second settles splits against the adjusted rate. Bounded, not
	// looping.
	if err := m.recalc.RecalculateSmartLedger(ctx, id, e.LoanRef); err != nil {
		return err
	}
	return m.replayAfterEdit(ctx, id, e.LoanRef)
}

func (m *Manager) replayAfterEdit(ctx context.Context, id ledger.IndividualID, ref string) error {
	if err := m.recalc.RecalculateSmartLedger(ctx, id, ref); err != nil {
		return err
	}
	if err := m.recalc.RecalculateBalances(ctx, id); err != nil {
		return err
	}
	return m.recalc.RecalculateDefaultDeduction(ctx, id)
}
