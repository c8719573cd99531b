// savings.go - Savings replay. Savings are simpler than loans: a single
// running balance with no principal/interest split, replayed independently.
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// RecalculateSavings replays an individual's savings entries in (date, id)
// order and writes the running balance back onto each entry.
func (r *Recalculator) RecalculateSavings(ctx context.Context, id IndividualID) error {
	entries, err := r.Store.SavingsByIndividual(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load savings: %w", err)
	}

	balance := decimal.Zero
	for _, e := range entries {
		switch e.Type {
		case SavingsDeposit, SavingsInterest:
			balance = balance.Add(e.Amount)
		case SavingsWithdrawal:
			balance = balance.Sub(e.Amount)
		}
		balance = Clamp(balance)

		if !e.Balance.Equal(balance) {
			e.Balance = balance
			if err := r.Store.UpdateSavings(ctx, e); err != nil {
				return fmt.Errorf("failed to write back savings entry %d: %w", e.ID, err)
			}
		}
	}
	return nil
}

// SavingsBalance returns the current replayed savings balance.
func (r *Recalculator) SavingsBalance(ctx context.Context, id IndividualID) (decimal.Decimal, error) {
	entries, err := r.Store.SavingsByIndividual(ctx, id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load savings: %w", err)
	}

	balance := decimal.Zero
	for _, e := range entries {
		switch e.Type {
		case SavingsDeposit, SavingsInterest:
			balance = balance.Add(e.Amount)
		case SavingsWithdrawal:
			balance = balance.Sub(e.Amount)
		}
	}
	return Clamp(balance), nil
}
