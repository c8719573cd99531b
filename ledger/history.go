/*
history.go - Split and accrual replay pass

PURPOSE:
  RecalculateLoanHistory owns split and accrual correctness, not balances.
  It rebuilds unearned_interest and monthly_interest from scratch by
  walking issuance/top-up events, recomputes each accrual amount as
  min(monthly_interest, unearned) unless anchored, and recomputes each
  repayment's principal/interest split interest-first unless the entry
  carries a manually-set, anchored split. The final monthly/unearned land
  on the Loan so downstream operations see consistent terms.

DURATION INFERENCE:
  Duration is a first-class field on issuance/top-up/restructure entries
  and is authoritative when set. Legacy/imported rows fall back, in order:
  a note pattern match, the memoized installment column, the first
  following repayment's amount, then a default of 12 periods. The chain is
  order-sensitive for rows where several legacy fields are populated;
  storing Duration going forward avoids it entirely.
*/
package ledger

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"
)

// defaultDuration is the last-resort period count for legacy rows.
const defaultDuration = 12

var durationNotePattern = regexp.MustCompile(`(?i)(\d+)\s*(?:months?|mos?)\b`)

// RecalculateLoanHistory rebuilds splits and accruals for one loan.
func (r *Recalculator) RecalculateLoanHistory(ctx context.Context, id IndividualID, ref string) error {
	entries, err := r.Store.EntriesByLoan(ctx, id, ref)
	if err != nil {
		return fmt.Errorf("failed to load loan entries: %w", err)
	}

	var (
		unearned    = decimal.Zero
		monthly     = decimal.Zero
		interestRun = decimal.Zero // recognized but not yet paid
		duration    = 0
	)

	for i, e := range entries {
		switch e.Event {
		case EventLoanIssued, EventLoanTopUp:
			duration = r.inferDuration(e, entries[i+1:])
			unearned = unearned.Add(r.interestObligation(e))
			monthly = CeilMoney(unearned.Div(decimal.NewFromInt(int64(duration))))

		case EventLoanRestructure:
			if e.InterestAmount.IsPositive() {
				// Rate-changing restructure: the memoized pool replaces the
				// remaining obligation.
				unearned = e.InterestAmount
			}
			if e.Duration > 0 {
				duration = e.Duration
			}
			if duration > 0 {
				monthly = CeilMoney(unearned.Div(decimal.NewFromInt(int64(duration))))
			}

		case EventInterestEarned:
			amt := e.Added
			if !e.Anchor.Set {
				amt = MinD(monthly, unearned)
				if amt.IsNegative() {
					amt = decimal.Zero
				}
				if !amt.Equal(e.Added) {
					e.Added = amt
					if err := r.Store.UpdateEntry(ctx, e); err != nil {
						return fmt.Errorf("failed to heal accrual %d: %w", e.ID, err)
					}
				}
			}
			unearned = Clamp(unearned.Sub(amt))
			interestRun = interestRun.Add(amt)

		case EventRepayment, EventLoanBuyoff:
			if e.Anchor.Set && e.PrincipalPortion.Add(e.InterestPortion).Equal(e.Deducted) && e.Deducted.IsPositive() {
				// Manually-set split on an anchored entry: preserved.
				interestRun = Clamp(interestRun.Sub(e.InterestPortion))
				continue
			}
			ip := MinD(interestRun, e.Deducted)
			if ip.IsNegative() {
				ip = decimal.Zero
			}
			pp := e.Deducted.Sub(ip)
			if !ip.Equal(e.InterestPortion) || !pp.Equal(e.PrincipalPortion) {
				e.InterestPortion = ip
				e.PrincipalPortion = pp
				if err := r.Store.UpdateEntry(ctx, e); err != nil {
					return fmt.Errorf("failed to write split for entry %d: %w", e.ID, err)
				}
			}
			interestRun = Clamp(interestRun.Sub(ip))
		}
	}

	loan, err := r.Store.GetLoan(ctx, id, ref)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to load loan %s: %w", ref, err)
	}

	loan.MonthlyInterest = monthly
	loan.UnearnedInterest = unearned
	if err := r.Store.UpdateLoan(ctx, loan); err != nil {
		return fmt.Errorf("failed to persist loan terms: %w", err)
	}
	return nil
}

// interestObligation returns the interest created by an issuance/top-up:
// the memoized amount when present, otherwise derived from the default
// rate (legacy rows).
func (r *Recalculator) interestObligation(e *Entry) decimal.Decimal {
	if e.InterestAmount.IsPositive() {
		return e.InterestAmount
	}
	return e.Added.Mul(r.DefaultRate)
}

// inferDuration resolves the period count for an issuance/top-up entry.
// The first-class Duration field wins; the legacy fallback chain applies
// only when it is unset.
func (r *Recalculator) inferDuration(e *Entry, following []*Entry) int {
	if e.Duration > 0 {
		return e.Duration
	}

	if m := durationNotePattern.FindStringSubmatch(e.Notes); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}

	gross := e.Added.Add(r.interestObligation(e))
	if e.Installment.IsPositive() {
		if d := periodsFor(gross, e.Installment); d > 0 {
			return d
		}
	}

	for _, f := range following {
		if f.Event == EventRepayment && f.Deducted.IsPositive() {
			if d := periodsFor(gross, f.Deducted); d > 0 {
				return d
			}
			break
		}
	}

	return defaultDuration
}

// periodsFor derives a period count from a gross obligation and a periodic
// payment amount.
func periodsFor(gross, payment decimal.Decimal) int {
	if !payment.IsPositive() || !gross.IsPositive() {
		return 0
	}
	d := int(CeilMoney(gross.Div(payment)).IntPart())
	if d <= 0 {
		return 0
	}
	return d
}
