/*
recalc.go - Balance replay pass

PURPOSE:
  RecalculateBalances replays each loan's entries in (date, id) order and
  writes running principal/interest/gross/total-debt snapshots back onto
  every entry, then refreshes the loan's status and next due date.

  This pass runs after every mutation. It never fails on well-formed
  input: when an invariant would be violated it clamps rather than
  erroring, so the ledger always ends in a consistent, inspectable state.

REPLAY RULES:
  LoanIssued/LoanTopUp   principal += added; gross += added + interest
                         obligation (memoized on the entry, or derived
                         from the configured default rate on legacy rows)
  InterestEarned         interest += added
  Repayment/LoanBuyoff   principal -= principal portion;
                         interest -= interest portion; gross -= deducted
  LoanRestructure        no balance movement

  After the loop: status becomes Paid iff principal reached zero, and the
  next due date advances one period from the later of the last repayment
  or the issue date (offset by the same-month deduction option).
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Recalculator owns the replay passes. It is injected explicitly into the
// lifecycle service and the transaction manager.
type Recalculator struct {
	Store Store

	// DefaultRate backs interest derivation for legacy rows that carry no
	// memoized interest amount.
	DefaultRate decimal.Decimal

	// DeductSameMonth controls whether a loan's first due date is the
	// issue month or the following month.
	DeductSameMonth bool
}

// NewRecalculator builds a Recalculator bound to a store.
func NewRecalculator(store Store, defaultRate decimal.Decimal, deductSameMonth bool) *Recalculator {
	return &Recalculator{Store: store, DefaultRate: defaultRate, DeductSameMonth: deductSameMonth}
}

// rebind returns a copy of the recalculator bound to another store. Used by
// callers running inside a store transaction.
func (r *Recalculator) rebind(store Store) *Recalculator {
	c := *r
	c.Store = store
	return &c
}

// WithStore returns a copy of the recalculator bound to the given store.
func (r *Recalculator) WithStore(store Store) *Recalculator { return r.rebind(store) }

// RecalculateBalances replays every loan of the individual and writes the
// derived balances back onto entries and loans.
func (r *Recalculator) RecalculateBalances(ctx context.Context, id IndividualID) error {
	entries, err := r.Store.EntriesByIndividual(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load entries: %w", err)
	}

	// Group by loan reference, preserving (date, id) order within groups.
	groups := make(map[string][]*Entry)
	var refs []string
	for _, e := range entries {
		if e.LoanRef == "" {
			continue
		}
		if _, seen := groups[e.LoanRef]; !seen {
			refs = append(refs, e.LoanRef)
		}
		groups[e.LoanRef] = append(groups[e.LoanRef], e)
	}

	for _, ref := range refs {
		if err := r.replayBalances(ctx, id, ref, groups[ref]); err != nil {
			return err
		}
	}
	return nil
}

// replayBalances walks one loan's entries and writes running balances.
func (r *Recalculator) replayBalances(ctx context.Context, id IndividualID, ref string, entries []*Entry) error {
	var (
		principal = decimal.Zero
		interest  = decimal.Zero
		gross     = decimal.Zero

		issueDate time.Time
		lastRepay time.Time
	)

	one := decimal.NewFromInt(1)

	for _, e := range entries {
		switch e.Event {
		case EventLoanIssued, EventLoanTopUp:
			principal = principal.Add(e.Added)
			if e.InterestAmount.IsPositive() {
				gross = gross.Add(e.Added).Add(e.InterestAmount)
			} else {
				gross = gross.Add(e.Added.Mul(one.Add(r.DefaultRate)))
			}
			if e.Event == EventLoanIssued && issueDate.IsZero() {
				issueDate = e.Date
			}
		case EventInterestEarned:
			interest = interest.Add(e.Added)
		case EventRepayment, EventLoanBuyoff:
			principal = principal.Sub(e.PrincipalPortion)
			interest = interest.Sub(e.InterestPortion)
			gross = gross.Sub(e.Deducted)
			lastRepay = e.Date
		case EventLoanRestructure:
			// Terms change only; no balance movement.
		}

		principal = Clamp(principal)
		interest = Clamp(interest)
		gross = Clamp(gross)

		e.PrincipalBalance = principal
		e.InterestBalance = interest
		e.GrossBalance = gross
		e.Balance = Clamp(principal.Add(interest))

		if err := r.Store.UpdateEntry(ctx, e); err != nil {
			return fmt.Errorf("failed to write back entry %d: %w", e.ID, err)
		}
	}

	loan, err := r.Store.GetLoan(ctx, id, ref)
	if err != nil {
		if IsNotFound(err) {
			// Orphaned group mid-delete; nothing to refresh.
			return nil
		}
		return fmt.Errorf("failed to load loan %s: %w", ref, err)
	}

	loan.Balance = principal
	loan.InterestBalance = interest
	if principal.LessThanOrEqual(decimal.Zero) {
		loan.Status = StatusPaid
	} else {
		loan.Status = StatusActive
	}
	loan.NextDueDate = r.nextDueDate(issueDate, lastRepay)

	if err := r.Store.UpdateLoan(ctx, loan); err != nil {
		return fmt.Errorf("failed to refresh loan %s: %w", ref, err)
	}
	return nil
}

// nextDueDate advances one period from the later of the last repayment or
// the issue date, the latter offset by the same-month deduction option.
func (r *Recalculator) nextDueDate(issueDate, lastRepay time.Time) time.Time {
	base := issueDate
	if !r.DeductSameMonth {
		base = base.AddDate(0, 1, 0)
	}
	if !lastRepay.IsZero() {
		if next := lastRepay.AddDate(0, 1, 0); next.After(base) {
			base = next
		}
	}
	return base
}

// FirstDueDate returns the initial due date for a loan issued on the given
// date under the same-month deduction option.
func (r *Recalculator) FirstDueDate(issued time.Time) time.Time {
	if r.DeductSameMonth {
		return issued
	}
	return issued.AddDate(0, 1, 0)
}

// RecalculateDefaultDeduction refreshes the individual's materialized
// default deduction: the sum of installments of its active loans. It is
// recomputed explicitly after every loan mutation, never implicitly.
func (r *Recalculator) RecalculateDefaultDeduction(ctx context.Context, id IndividualID) error {
	ind, err := r.Store.GetIndividual(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load individual: %w", err)
	}

	loans, err := r.Store.LoansByIndividual(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load loans: %w", err)
	}

	total := decimal.Zero
	for _, l := range loans {
		if l.Status == StatusActive {
			total = total.Add(l.Installment)
		}
	}

	ind.DefaultDeduction = total
	if err := r.Store.UpdateIndividual(ctx, ind); err != nil {
		return fmt.Errorf("failed to update default deduction: %w", err)
	}
	return nil
}
