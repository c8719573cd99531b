/*
smart.go - Anchor-aware healing replay pass

PURPOSE:
  RecalculateSmartLedger runs after any edit that changes an installment
  amount. It distinguishes Auto entries, which are healed to the currently
  computed installment/rate, from Anchor entries, which are fixed truth
  that DRIVES recomputation of the subsequent rate and installment.

RULES, IN ORDER:
  1. Issuance/top-up: infer duration, rebuild monthly interest and the
     current installment.
  2. Accruals: system-owned; overwritten to the current monthly interest.
  3. Repayments: anchored entries keep their target amount; auto entries
     heal to min(installment, total debt). Every payment is capped at
     total debt ("a payment can never exceed what is owed"), and forced
     to zero once total debt is zero. An anchored positive payment is
     adopted as the new installment; monthly interest is re-derived
     proportionally, and a same-date preceding accrual is retroactively
     corrected so the transition period does not double-count interest.
  4. Splits persist per entry using interest-then-principal allocation.

  On completion the final principal, installment, monthly interest and
  unearned interest land on the Loan. The loan's interest balance is NOT
  touched here: accrued-but-unpaid interest is owned by the balance pass.
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// RecalculateSmartLedger heals one loan's ledger around its anchors.
func (r *Recalculator) RecalculateSmartLedger(ctx context.Context, id IndividualID, ref string) error {
	entries, err := r.Store.EntriesByLoan(ctx, id, ref)
	if err != nil {
		return fmt.Errorf("failed to load loan entries: %w", err)
	}

	var (
		principal   = decimal.Zero
		interestBal = decimal.Zero
		unearned    = decimal.Zero
		monthly     = decimal.Zero
		installment = decimal.Zero
		duration    = 0

		lastAccrual *Entry
	)

	for i, e := range entries {
		switch e.Event {
		case EventLoanIssued, EventLoanTopUp:
			duration = r.inferDuration(e, entries[i+1:])
			d := decimal.NewFromInt(int64(duration))

			principal = principal.Add(e.Added)
			unearned = unearned.Add(r.interestObligation(e))
			monthly = CeilMoney(unearned.Div(d))
			if e.Installment.IsPositive() {
				installment = e.Installment
			} else {
				installment = CeilMoney(principal.Add(unearned).Add(interestBal).Div(d))
			}

		case EventLoanRestructure:
			if e.InterestAmount.IsPositive() {
				unearned = e.InterestAmount
			}
			if e.Duration > 0 {
				duration = e.Duration
			}
			if duration > 0 {
				d := decimal.NewFromInt(int64(duration))
				monthly = CeilMoney(unearned.Div(d))
				installment = CeilMoney(principal.Add(unearned).Add(interestBal).Div(d))
			}

		case EventInterestEarned:
			// Accruals are system-owned; an anchor here never survives.
			e.Anchor = Anchor{}
			amt := MinD(monthly, unearned)
			if amt.IsNegative() {
				amt = decimal.Zero
			}
			unearned = Clamp(unearned.Sub(amt))
			interestBal = interestBal.Add(amt)

			e.Added = amt
			e.PrincipalBalance = principal
			e.InterestBalance = interestBal
			if err := r.Store.UpdateEntry(ctx, e); err != nil {
				return fmt.Errorf("failed to heal accrual %d: %w", e.ID, err)
			}
			lastAccrual = e

		case EventRepayment, EventLoanBuyoff:
			total := Clamp(principal.Add(interestBal))

			var pay decimal.Decimal
			switch {
			case e.Event == EventLoanBuyoff:
				pay = MinD(e.Deducted, total)
			case e.Anchor.Set:
				pay = e.Anchor.Target
			default:
				pay = MinD(installment, total)
			}

			// Physics enforcement: a payment can never exceed total debt.
			if pay.GreaterThan(total) {
				pay = total
			}
			// Zombie neutralization: nothing owed, nothing paid.
			if total.IsZero() {
				pay = decimal.Zero
			}

			if e.Event == EventRepayment && e.Anchor.Set && pay.IsPositive() {
				installment = pay
				base := principal.Add(unearned)
				if base.IsPositive() && unearned.IsPositive() {
					monthly = CeilMoney(installment.Mul(unearned).Div(base))
				}
				if lastAccrual != nil && SameDay(lastAccrual.Date, e.Date) {
					// Lookback fix: re-run the same-date accrual at the
					// new rate so the transition period does not
					// double-count interest.
					old := lastAccrual.Added
					unearned = unearned.Add(old)
					interestBal = Clamp(interestBal.Sub(old))

					healed := MinD(monthly, unearned)
					if healed.IsNegative() {
						healed = decimal.Zero
					}
					unearned = Clamp(unearned.Sub(healed))
					interestBal = interestBal.Add(healed)

					lastAccrual.Added = healed
					lastAccrual.InterestBalance = interestBal
					if err := r.Store.UpdateEntry(ctx, lastAccrual); err != nil {
						return fmt.Errorf("failed to correct accrual %d: %w", lastAccrual.ID, err)
					}

					// Recap against the corrected totals.
					total = Clamp(principal.Add(interestBal))
					if pay.GreaterThan(total) {
						pay = total
					}
				}
			}

			ip := MinD(interestBal, pay)
			pp := pay.Sub(ip)
			principal = Clamp(principal.Sub(pp))
			interestBal = Clamp(interestBal.Sub(ip))

			e.Deducted = pay
			e.InterestPortion = ip
			e.PrincipalPortion = pp
			e.PrincipalBalance = principal
			e.InterestBalance = interestBal
			if err := r.Store.UpdateEntry(ctx, e); err != nil {
				return fmt.Errorf("failed to heal payment %d: %w", e.ID, err)
			}
		}
	}

	loan, err := r.Store.GetLoan(ctx, id, ref)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to load loan %s: %w", ref, err)
	}

	loan.Balance = principal
	loan.Installment = installment
	loan.MonthlyInterest = monthly
	loan.UnearnedInterest = unearned
	// loan.InterestBalance is owned by RecalculateBalances.
	if err := r.Store.UpdateLoan(ctx, loan); err != nil {
		return fmt.Errorf("failed to persist loan terms: %w", err)
	}
	return nil
}
