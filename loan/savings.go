// savings.go - Savings operations: deposits, withdrawals and periodic
// interest catch-up. Savings replay independently of loans.
package loan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/lending-engine/ledger"
)

// Deposit records a savings deposit.
func (s *Service) Deposit(ctx context.Context, id ledger.IndividualID, amount decimal.Decimal, date time.Time) (*ledger.SavingsEntry, error) {
	return s.appendSavings(ctx, id, ledger.SavingsDeposit, amount, date, "")
}

// Withdraw records a savings withdrawal. The balance may not go negative.
func (s *Service) Withdraw(ctx context.Context, id ledger.IndividualID, amount decimal.Decimal, date time.Time) (*ledger.SavingsEntry, error) {
	if !amount.IsPositive() {
		return nil, ledger.Validationf("amount", "must be positive, got %s", amount)
	}
	balance, err := s.recalc.SavingsBalance(ctx, id)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(balance) {
		return nil, ledger.Validationf("amount", "exceeds savings balance %s", balance)
	}
	return s.appendSavings(ctx, id, ledger.SavingsWithdrawal, amount, date, "")
}

// SavingsCatchUp accrues monthly interest on the running balance from the
// last accrual (or the first entry) up to the target date. All entries
// share one batch id; the cancel callback aborts the whole batch.
func (s *Service) SavingsCatchUp(ctx context.Context, id ledger.IndividualID, rate decimal.Decimal, target time.Time, cancel func() error) (string, int, error) {
	return s.SavingsCatchUpBatch(ctx, id, rate, target, uuid.NewString(), cancel)
}

// SavingsCatchUpBatch is SavingsCatchUp with a caller-supplied batch id.
func (s *Service) SavingsCatchUpBatch(ctx context.Context, id ledger.IndividualID, rate decimal.Decimal, target time.Time, batchID string, cancel func() error) (string, int, error) {
	if rate.IsNegative() {
		return "", 0, ledger.Validationf("rate", "must not be negative, got %s", rate)
	}

	entries, err := s.store.SavingsByIndividual(ctx, id)
	if err != nil {
		return "", 0, fmt.Errorf("failed to load savings: %w", err)
	}
	if len(entries) == 0 {
		return batchID, 0, nil
	}

	// Resume from the last interest accrual, or the first entry.
	last := entries[0].Date
	balance := decimal.Zero
	for _, e := range entries {
		switch e.Type {
		case ledger.SavingsDeposit:
			balance = balance.Add(e.Amount)
		case ledger.SavingsInterest:
			balance = balance.Add(e.Amount)
			last = e.Date
		case ledger.SavingsWithdrawal:
			balance = balance.Sub(e.Amount)
		}
	}

	periods := 0
	for next := last.AddDate(0, 1, 0); !next.After(target); next = next.AddDate(0, 1, 0) {
		if cancel != nil {
			if cerr := cancel(); cerr != nil {
				return "", 0, fmt.Errorf("%w: %v", ledger.ErrCancelled, cerr)
			}
		}
		interest := ledger.Clamp(balance.Mul(rate))
		if interest.IsPositive() {
			if _, err := s.appendSavings(ctx, id, ledger.SavingsInterest, interest, next, batchID); err != nil {
				return "", 0, err
			}
			balance = balance.Add(interest)
		}
		periods++
	}

	s.log.Info("savings caught up",
		zap.String("individual", string(id)),
		zap.Int("periods", periods),
		zap.String("batch", batchID),
	)
	return batchID, periods, nil
}

func (s *Service) appendSavings(ctx context.Context, id ledger.IndividualID, typ ledger.SavingsType, amount decimal.Decimal, date time.Time, batchID string) (*ledger.SavingsEntry, error) {
	if !amount.IsPositive() {
		return nil, ledger.Validationf("amount", "must be positive, got %s", amount)
	}
	if date.IsZero() {
		return nil, ledger.Validationf("date", "is required")
	}
	if _, err := s.store.GetIndividual(ctx, id); err != nil {
		return nil, err
	}

	entry := &ledger.SavingsEntry{
		IndividualID: id,
		Date:         date,
		Type:         typ,
		Amount:       amount,
		BatchID:      batchID,
	}
	if _, err := s.store.InsertSavings(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to insert savings entry: %w", err)
	}
	if err := s.recalc.RecalculateSavings(ctx, id); err != nil {
		return nil, err
	}

	// Return the entry with its replayed balance.
	all, err := s.store.SavingsByIndividual(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload savings: %w", err)
	}
	for _, e := range all {
		if e.ID == entry.ID {
			return e, nil
		}
	}
	return entry, nil
}
