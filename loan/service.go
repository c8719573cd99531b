/*
Package loan implements the loan lifecycle service.

PURPOSE:
  Issuance, scheduled deduction and catch-up, top-up, restructure, buyoff
  and deletion. Every operation emits ledger entries, captures a loan
  snapshot BEFORE mutation into the entries it writes (so later deletion
  restores exact state without a separate replay), and finishes with the
  replay passes so derived state is always consistent.

DEPENDENCIES:
  The Recalculator is injected at construction - no lazy service cycles.

SEE ALSO:
  - ledger/recalc.go, ledger/history.go: replay passes run after mutations
  - txn: generic entry edit/delete with cascades
  - undo: reversible wrappers around these operations
*/
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

// Service is the loan lifecycle service.
type Service struct {
	store  ledger.Store
	recalc *ledger.Recalculator
	log    *zap.Logger
}

// NewService builds a lifecycle service. The recalculator must be bound to
// the same store.
func NewService(store ledger.Store, recalc *ledger.Recalculator, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, recalc: recalc, log: log}
}

// WithStore returns a copy of the service bound to another store. Used by
// batch commands running inside a store transaction.
func (s *Service) WithStore(store ledger.Store) *Service {
	return &Service{store: store, recalc: s.recalc.WithStore(store), log: s.log}
}

// =============================================================================
// ISSUANCE
// =============================================================================

// IssueInput describes a new flat-rate loan.
type IssueInput struct {
	IndividualID ledger.IndividualID
	Principal    decimal.Decimal
	Duration     int // periods
	Rate         decimal.Decimal
	Date         time.Time
	Notes        string
}

// Issue creates a loan with flat-rate interest amortized linearly:
// interest total = principal * rate, installment = ceil((principal +
// interest) / duration), monthly interest = ceil(interest / duration).
func (s *Service) Issue(ctx context.Context, in IssueInput) (*ledger.Loan, error) {
	if !in.Principal.IsPositive() {
		return nil, ledger.Validationf("principal", "must be positive, got %s", in.Principal)
	}
	if in.Duration <= 0 {
		return nil, ledger.Validationf("duration", "must be positive, got %d", in.Duration)
	}
	if in.Rate.IsNegative() {
		return nil, ledger.Validationf("rate", "must not be negative, got %s", in.Rate)
	}
	if in.Date.IsZero() {
		return nil, ledger.Validationf("date", "is required")
	}

	if _, err := s.store.GetIndividual(ctx, in.IndividualID); err != nil {
		return nil, err
	}

	loans, err := s.store.LoansByIndividual(ctx, in.IndividualID)
	if err != nil {
		return nil, fmt.Errorf("failed to load loans: %w", err)
	}

	d := decimal.NewFromInt(int64(in.Duration))
	interestTotal := in.Principal.Mul(in.Rate)
	installment := ledger.CeilMoney(in.Principal.Add(interestTotal).Div(d))
	monthly := ledger.CeilMoney(interestTotal.Div(d))

	l := &ledger.Loan{
		IndividualID:     in.IndividualID,
		Ref:              ledger.NextRef(loans),
		Principal:        in.Principal,
		TotalAmount:      in.Principal.Add(interestTotal),
		Balance:          in.Principal,
		Installment:      installment,
		MonthlyInterest:  monthly,
		UnearnedInterest: interestTotal,
		InterestBalance:  decimal.Zero,
		NextDueDate:      s.recalc.FirstDueDate(in.Date),
		Status:           ledger.StatusActive,
	}
	if _, err := s.store.InsertLoan(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to insert loan: %w", err)
	}

	entry := &ledger.Entry{
		IndividualID:   in.IndividualID,
		LoanRef:        l.Ref,
		Date:           in.Date,
		Event:          ledger.EventLoanIssued,
		Added:          in.Principal,
		InterestAmount: interestTotal,
		Installment:    installment,
		Duration:       in.Duration,
		Notes:          in.Notes,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := s.store.InsertEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to insert issuance entry: %w", err)
	}

	if err := s.replayAfterMutation(ctx, in.IndividualID, l.Ref); err != nil {
		return nil, err
	}

	s.log.Info("loan issued",
		zap.String("individual", string(in.IndividualID)),
		zap.String("ref", l.Ref),
		zap.String("principal", in.Principal.String()),
		zap.Int("duration", in.Duration),
	)
	return s.store.GetLoan(ctx, in.IndividualID, l.Ref)
}

// =============================================================================
// SCHEDULED DEDUCTION
// =============================================================================

// AccrueAndCollect runs one period: accrues min(monthly, unearned) into
// the interest balance, then applies one installment interest-first.
func (s *Service) AccrueAndCollect(ctx context.Context, id ledger.IndividualID, ref string) error {
	loan, err := s.store.GetLoan(ctx, id, ref)
	if err != nil {
		return err
	}
	if err := s.accrueAndCollectStep(ctx, loan, ""); err != nil {
		return err
	}
	return s.replayAfterMutation(ctx, id, ref)
}

// accrueAndCollectStep performs the single-period primitive without replay.
// The catch-up loop calls it repeatedly and replays once at the end.
func (s *Service) accrueAndCollectStep(ctx context.Context, loan *ledger.Loan, batchID string) error {
	if loan.Status != ledger.StatusActive {
		return fmt.Errorf("loan %s: %w", loan.Ref, ledger.ErrLoanInactive)
	}

	date := loan.NextDueDate
	prev := ledger.SnapshotLoan(loan).MustEncode()
	now := time.Now().UTC()

	// Step 1: accrue.
	accrual := ledger.MinD(loan.MonthlyInterest, loan.UnearnedInterest)
	if accrual.IsPositive() {
		entry := &ledger.Entry{
			IndividualID:  loan.IndividualID,
			LoanRef:       loan.Ref,
			Date:          date,
			Event:         ledger.EventInterestEarned,
			Added:         accrual,
			PreviousState: prev,
			BatchID:       batchID,
			CreatedAt:     now,
		}
		if _, err := s.store.InsertEntry(ctx, entry); err != nil {
			return fmt.Errorf("failed to insert accrual: %w", err)
		}
		loan.UnearnedInterest = ledger.Clamp(loan.UnearnedInterest.Sub(accrual))
		loan.InterestBalance = loan.InterestBalance.Add(accrual)
	}

	// Step 2: collect one installment, interest-first.
	pay := ledger.MinD(loan.Installment, loan.TotalDebt())
	if pay.IsNegative() {
		pay = decimal.Zero
	}
	ip := ledger.MinD(loan.InterestBalance, pay)
	pp := pay.Sub(ip)

	entry := &ledger.Entry{
		IndividualID:     loan.IndividualID,
		LoanRef:          loan.Ref,
		Date:             date,
		Event:            ledger.EventRepayment,
		Deducted:         pay,
		PrincipalPortion: pp,
		InterestPortion:  ip,
		PreviousState:    prev,
		BatchID:          batchID,
		CreatedAt:        now,
	}
	if _, err := s.store.InsertEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert repayment: %w", err)
	}

	loan.Balance = ledger.Clamp(loan.Balance.Sub(pp))
	loan.InterestBalance = ledger.Clamp(loan.InterestBalance.Sub(ip))
	loan.NextDueDate = date.AddDate(0, 1, 0)
	if loan.Balance.IsZero() && loan.InterestBalance.IsZero() {
		loan.Status = ledger.StatusPaid
	}
	if err := s.store.UpdateLoan(ctx, loan); err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return nil
}

// CatchUp repeats the single-period step while the loan's next due date is
// not past the target date. All entries share one batch id so the batch
// reverts atomically. The cancel callback is invoked before each period;
// a non-nil return aborts the whole batch - the caller's surrounding store
// transaction rolls back any partial entries.
func (s *Service) CatchUp(ctx context.Context, id ledger.IndividualID, ref string, target time.Time, cancel func() error) (string, int, error) {
	return s.CatchUpBatch(ctx, id, ref, target, uuid.NewString(), cancel)
}

// CatchUpBatch is CatchUp with a caller-supplied batch id, so a mass
// operation can tag several loans' entries as one undo unit.
func (s *Service) CatchUpBatch(ctx context.Context, id ledger.IndividualID, ref string, target time.Time, batchID string, cancel func() error) (string, int, error) {
	loan, err := s.store.GetLoan(ctx, id, ref)
	if err != nil {
		return "", 0, err
	}
	if loan.Status != ledger.StatusActive {
		return "", 0, fmt.Errorf("loan %s: %w", ref, ledger.ErrLoanInactive)
	}

	periods := 0
	for loan.Status == ledger.StatusActive && !loan.NextDueDate.After(target) {
		if cancel != nil {
			if cerr := cancel(); cerr != nil {
				return "", 0, fmt.Errorf("%w: %v", ledger.ErrCancelled, cerr)
			}
		}
		if err := s.accrueAndCollectStep(ctx, loan, batchID); err != nil {
			return "", 0, err
		}
		periods++
	}

	if periods > 0 {
		if err := s.replayAfterMutation(ctx, id, ref); err != nil {
			return "", 0, err
		}
	}

	s.log.Info("loan caught up",
		zap.String("individual", string(id)),
		zap.String("ref", ref),
		zap.Int("periods", periods),
		zap.String("batch", batchID),
	)
	return batchID, periods, nil
}

// =============================================================================
// TOP-UP
// =============================================================================

// TopUp adds capital to an active loan and respreads the obligation over a
// new duration. Unearned interest is rebuilt fresh from the ledger history
// to avoid drift before the top-up's own interest is added.
func (s *Service) TopUp(ctx context.Context, id ledger.IndividualID, ref string, amount decimal.Decimal, newDuration int, date time.Time) (*ledger.Loan, error) {
	if !amount.IsPositive() {
		return nil, ledger.Validationf("amount", "must be positive, got %s", amount)
	}
	if newDuration <= 0 {
		return nil, ledger.Validationf("duration", "must be positive, got %d", newDuration)
	}

	loan, err := s.store.GetLoan(ctx, id, ref)
	if err != nil {
		return nil, err
	}
	if loan.Status != ledger.StatusActive {
		return nil, fmt.Errorf("loan %s: %w", ref, ledger.ErrLoanInactive)
	}

	rate, err := s.effectiveRate(ctx, id, ref)
	if err != nil {
		return nil, err
	}
	unearned, err := s.unearnedFromHistory(ctx, id, ref)
	if err != nil {
		return nil, err
	}

	prev := ledger.SnapshotLoan(loan).MustEncode()
	topUpInterest := amount.Mul(rate)
	unearned = unearned.Add(topUpInterest)

	d := decimal.NewFromInt(int64(newDuration))
	loan.Balance = loan.Balance.Add(amount)
	loan.UnearnedInterest = unearned
	loan.Installment = ledger.CeilMoney(loan.Balance.Add(unearned).Add(loan.InterestBalance).Div(d))
	loan.MonthlyInterest = ledger.CeilMoney(unearned.Div(d))

	entry := &ledger.Entry{
		IndividualID:   id,
		LoanRef:        ref,
		Date:           date,
		Event:          ledger.EventLoanTopUp,
		Added:          amount,
		InterestAmount: topUpInterest,
		Installment:    loan.Installment,
		Duration:       newDuration,
		PreviousState:  prev,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := s.store.InsertEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to insert top-up entry: %w", err)
	}
	if err := s.store.UpdateLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}

	if err := s.replayAfterMutation(ctx, id, ref); err != nil {
		return nil, err
	}

	s.log.Info("loan topped up",
		zap.String("individual", string(id)),
		zap.String("ref", ref),
		zap.String("amount", amount.String()),
		zap.Int("duration", newDuration),
	)
	return s.store.GetLoan(ctx, id, ref)
}

// =============================================================================
// RESTRUCTURE
// =============================================================================

// Restructure respreads the current balance over a new duration without
// changing principal. An optional new rate recomputes the interest pool.
func (s *Service) Restructure(ctx context.Context, id ledger.IndividualID, ref string, newDuration int, newRate *decimal.Decimal, date time.Time) (*ledger.Loan, error) {
	if newDuration <= 0 {
		return nil, ledger.Validationf("duration", "must be positive, got %d", newDuration)
	}

	loan, err := s.store.GetLoan(ctx, id, ref)
	if err != nil {
		return nil, err
	}
	if loan.Status != ledger.StatusActive {
		return nil, fmt.Errorf("loan %s: %w", ref, ledger.ErrLoanInactive)
	}

	prev := ledger.SnapshotLoan(loan).MustEncode()

	if newRate != nil {
		if newRate.IsNegative() {
			return nil, ledger.Validationf("rate", "must not be negative, got %s", newRate)
		}
		loan.UnearnedInterest = loan.Balance.Mul(*newRate)
	}

	d := decimal.NewFromInt(int64(newDuration))
	loan.Installment = ledger.CeilMoney(loan.Balance.Add(loan.UnearnedInterest).Add(loan.InterestBalance).Div(d))
	loan.MonthlyInterest = ledger.CeilMoney(loan.UnearnedInterest.Div(d))

	// A rate change replaces the interest pool; memoize the new pool on the
	// entry so the replay passes adopt it instead of rebuilding from the
	// original obligations.
	pool := decimal.Zero
	if newRate != nil {
		pool = loan.UnearnedInterest
	}

	entry := &ledger.Entry{
		IndividualID:   id,
		LoanRef:        ref,
		Date:           date,
		Event:          ledger.EventLoanRestructure,
		InterestAmount: pool,
		Installment:    loan.Installment,
		Duration:       newDuration,
		PreviousState:  prev,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := s.store.InsertEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to insert restructure entry: %w", err)
	}
	if err := s.store.UpdateLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}

	if err := s.replayAfterMutation(ctx, id, ref); err != nil {
		return nil, err
	}
	return s.store.GetLoan(ctx, id, ref)
}

// =============================================================================
// BUYOFF
// =============================================================================

// Buyoff settles a loan in full: all unearned interest is realized into
// the interest balance, then principal plus interest is paid off. The
// default date is the loan's next due date, never "today", so buyoff
// timing is deterministic against schedule rather than wall-clock.
func (s *Service) Buyoff(ctx context.Context, id ledger.IndividualID, ref string, date *time.Time) (*ledger.Loan, error) {
	loan, err := s.store.GetLoan(ctx, id, ref)
	if err != nil {
		return nil, err
	}
	if loan.Status != ledger.StatusActive {
		return nil, fmt.Errorf("loan %s: %w", ref, ledger.ErrLoanInactive)
	}

	when := loan.NextDueDate
	if date != nil && !date.IsZero() {
		when = *date
	}

	prev := ledger.SnapshotLoan(loan).MustEncode()
	now := time.Now().UTC()

	// Realize the remaining unearned interest. The realization is anchored:
	// it is a deliberate lump recognition, not a periodic accrual, and must
	// survive the healing pass.
	if loan.UnearnedInterest.IsPositive() {
		entry := &ledger.Entry{
			IndividualID:  id,
			LoanRef:       ref,
			Date:          when,
			Event:         ledger.EventInterestEarned,
			Added:         loan.UnearnedInterest,
			Anchor:        ledger.AnchorAt(loan.UnearnedInterest),
			PreviousState: prev,
			CreatedAt:     now,
		}
		if _, err := s.store.InsertEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("failed to insert realization entry: %w", err)
		}
		loan.InterestBalance = loan.InterestBalance.Add(loan.UnearnedInterest)
		loan.UnearnedInterest = decimal.Zero
	}

	total := loan.TotalDebt()
	entry := &ledger.Entry{
		IndividualID:     id,
		LoanRef:          ref,
		Date:             when,
		Event:            ledger.EventLoanBuyoff,
		Deducted:         total,
		PrincipalPortion: loan.Balance,
		InterestPortion:  loan.InterestBalance,
		PreviousState:    prev,
		CreatedAt:        now,
	}
	if _, err := s.store.InsertEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to insert buyoff entry: %w", err)
	}

	loan.Balance = decimal.Zero
	loan.InterestBalance = decimal.Zero
	loan.UnearnedInterest = decimal.Zero
	loan.Status = ledger.StatusPaid
	if err := s.store.UpdateLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}

	if err := s.replayAfterMutation(ctx, id, ref); err != nil {
		return nil, err
	}

	s.log.Info("loan bought off",
		zap.String("individual", string(id)),
		zap.String("ref", ref),
		zap.String("total", total.String()),
	)
	return s.store.GetLoan(ctx, id, ref)
}

// =============================================================================
// DELETION
// =============================================================================

// Delete removes a loan and all its entries, then refreshes the
// individual's remaining balances and default deduction.
func (s *Service) Delete(ctx context.Context, id ledger.IndividualID, ref string) error {
	if _, err := s.store.GetLoan(ctx, id, ref); err != nil {
		return err
	}

	entries, err := s.store.EntriesByLoan(ctx, id, ref)
	if err != nil {
		return fmt.Errorf("failed to load loan entries: %w", err)
	}
	for _, e := range entries {
		if err := s.store.DeleteEntry(ctx, e.ID); err != nil {
			return fmt.Errorf("failed to delete entry %d: %w", e.ID, err)
		}
	}
	if err := s.store.DeleteLoan(ctx, id, ref); err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}

	if err := s.recalc.RecalculateBalances(ctx, id); err != nil {
		return err
	}
	return s.recalc.RecalculateDefaultDeduction(ctx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

// replayAfterMutation runs the standard post-mutation passes.
func (s *Service) replayAfterMutation(ctx context.Context, id ledger.IndividualID, ref string) error {
	if err := s.recalc.RecalculateLoanHistory(ctx, id, ref); err != nil {
		return err
	}
	if err := s.recalc.RecalculateBalances(ctx, id); err != nil {
		return err
	}
	return s.recalc.RecalculateDefaultDeduction(ctx, id)
}

// effectiveRate derives the loan's flat rate from its issuance entry.
// Falls back to the configured default for legacy rows.
func (s *Service) effectiveRate(ctx context.Context, id ledger.IndividualID, ref string) (decimal.Decimal, error) {
	entries, err := s.store.EntriesByLoan(ctx, id, ref)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load loan entries: %w", err)
	}
	for _, e := range entries {
		if e.Event == ledger.EventLoanIssued && e.Added.IsPositive() && e.InterestAmount.IsPositive() {
			return e.InterestAmount.Div(e.Added), nil
		}
	}
	return s.recalc.DefaultRate, nil
}

// unearnedFromHistory rebuilds the unearned interest pool from the ledger:
// obligations created by issuance/top-up minus interest already accrued.
func (s *Service) unearnedFromHistory(ctx context.Context, id ledger.IndividualID, ref string) (decimal.Decimal, error) {
	entries, err := s.store.EntriesByLoan(ctx, id, ref)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load loan entries: %w", err)
	}

	unearned := decimal.Zero
	for _, e := range entries {
		switch e.Event {
		case ledger.EventLoanIssued, ledger.EventLoanTopUp:
			if e.InterestAmount.IsPositive() {
				unearned = unearned.Add(e.InterestAmount)
			} else {
				unearned = unearned.Add(e.Added.Mul(s.recalc.DefaultRate))
			}
		case ledger.EventInterestEarned:
			unearned = unearned.Sub(e.Added)
		}
	}
	if unearned.IsNegative() {
		unearned = decimal.Zero
	}
	return ledger.Clamp(unearned), nil
}
