package loan_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/ledger/store"
	"github.com/warp/lending-engine/loan"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newService(t *testing.T) (*loan.Service, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	recalc := ledger.NewRecalculator(st, d("0.15"), false)
	require.NoError(t, st.InsertIndividual(context.Background(), &ledger.Individual{
		ID:   "ind-1",
		Name: "Test Borrower",
	}))
	return loan.NewService(st, recalc, nil), st
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

// issueStandard issues the reference loan used across tests: 10000 over 10
// periods at 15% flat, installment 1150, monthly interest 150.
func issueStandard(t *testing.T, svc *loan.Service) *ledger.Loan {
	t.Helper()
	l, err := svc.Issue(context.Background(), loan.IssueInput{
		IndividualID: "ind-1",
		Principal:    d("10000"),
		Duration:     10,
		Rate:         d("0.15"),
		Date:         day(2025, time.January, 15),
	})
	require.NoError(t, err)
	return l
}

// =============================================================================
// ISSUANCE
// =============================================================================

func TestIssue_FlatRateTerms(t *testing.T) {
	// GIVEN: a borrower with no loans
	// WHEN: 10000 is issued over 10 periods at 15% flat
	// THEN: installment is ceil(11500/10) = 1150, monthly interest 150, and
	//       the first due date is one month after issuance

	svc, st := newService(t)
	ctx := context.Background()

	l := issueStandard(t, svc)

	assert.Equal(t, "L-001", l.Ref)
	assert.True(t, l.Balance.Equal(d("10000")))
	assert.True(t, l.Installment.Equal(d("1150")))
	assert.True(t, l.MonthlyInterest.Equal(d("150")))
	assert.True(t, l.UnearnedInterest.Equal(d("1500")))
	assert.True(t, l.InterestBalance.IsZero())
	assert.Equal(t, day(2025, time.February, 15), l.NextDueDate)
	assert.Equal(t, ledger.StatusActive, l.Status)

	// The issuance entry memoizes the terms for later replays.
	entries, err := st.EntriesByLoan(ctx, "ind-1", "L-001")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EventLoanIssued, entries[0].Event)
	assert.True(t, entries[0].Added.Equal(d("10000")))
	assert.True(t, entries[0].InterestAmount.Equal(d("1500")))
	assert.Equal(t, 10, entries[0].Duration)

	// The default deduction reflects the new installment.
	ind, err := st.GetIndividual(ctx, "ind-1")
	require.NoError(t, err)
	assert.True(t, ind.DefaultDeduction.Equal(d("1150")))
}

func TestIssue_RefsAreMonotonic(t *testing.T) {
	// GIVEN: an existing loan L-001
	// WHEN: a second loan is issued
	// THEN: it gets L-002

	svc, _ := newService(t)
	issueStandard(t, svc)

	l2, err := svc.Issue(context.Background(), loan.IssueInput{
		IndividualID: "ind-1",
		Principal:    d("500"),
		Duration:     5,
		Rate:         d("0.15"),
		Date:         day(2025, time.March, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, "L-002", l2.Ref)
}

func TestIssue_RejectsInvalidInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, loan.IssueInput{
		IndividualID: "ind-1", Principal: d("0"), Duration: 10, Rate: d("0.15"),
		Date: day(2025, time.January, 15),
	})
	assert.True(t, ledger.IsClientError(err), "zero principal: %v", err)

	_, err = svc.Issue(ctx, loan.IssueInput{
		IndividualID: "ind-1", Principal: d("1000"), Duration: 0, Rate: d("0.15"),
		Date: day(2025, time.January, 15),
	})
	assert.True(t, ledger.IsClientError(err), "zero duration: %v", err)

	_, err = svc.Issue(ctx, loan.IssueInput{
		IndividualID: "unknown", Principal: d("1000"), Duration: 10, Rate: d("0.15"),
		Date: day(2025, time.January, 15),
	})
	assert.True(t, ledger.IsNotFound(err), "unknown borrower: %v", err)
}

// =============================================================================
// SCHEDULED DEDUCTION
// =============================================================================

func TestAccrueAndCollect_OnePeriod(t *testing.T) {
	// GIVEN: the standard 10000/10/15% loan
	// WHEN: one period runs
	// THEN: 150 accrues and 1150 is collected interest-first (150/1000),
	//       leaving balance 9000 and the due date advanced one month

	svc, st := newService(t)
	ctx := context.Background()
	issueStandard(t, svc)

	require.NoError(t, svc.AccrueAndCollect(ctx, "ind-1", "L-001"))

	entries, err := st.EntriesByLoan(ctx, "ind-1", "L-001")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	accrual, repay := entries[1], entries[2]
	assert.Equal(t, ledger.EventInterestEarned, accrual.Event)
	assert.True(t, accrual.Added.Equal(d("150")))
	assert.Equal(t, day(2025, time.February, 15), accrual.Date)
	assert.NotEmpty(t, accrual.PreviousState, "entries carry the pre-mutation loan snapshot")

	assert.Equal(t, ledger.EventRepayment, repay.Event)
	assert.True(t, repay.Deducted.Equal(d("1150")))
	assert.True(t, repay.InterestPortion.Equal(d("150")))
	assert.True(t, repay.PrincipalPortion.Equal(d("1000")))

	l, err := st.GetLoan(ctx, "ind-1", "L-001")
	require.NoError(t, err)
	assert.True(t, l.Balance.Equal(d("9000")))
	assert.True(t, l.InterestBalance.IsZero())
	assert.True(t, l.UnearnedInterest.Equal(d("1350")))
	assert.Equal(t, day(2025, time.March, 15), l.NextDueDate)
}

func TestCatchUp_RunsDuePeriods(t *testing.T) {
	// GIVEN: the standard loan issued Jan 15, due dates Feb/Mar/Apr 15
	// WHEN: catching up through Apr 15
	// THEN: exactly 3 periods run under one batch id

	svc, st := newService(t)
	ctx := context.Background()
	issueStandard(t, svc)

	batchID, periods, err := svc.CatchUp(ctx, "ind-1", "L-001", day(2025, time.April, 15), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, periods)
	assert.NotEmpty(t, batchID)

	batch, err := st.EntriesByBatch(ctx, batchID)
	require.NoError(t, err)
	assert.Len(t, batch, 6, "one accrual and one repayment per period")

	l, err := st.GetLoan(ctx, "ind-1", "L-001")
	require.NoError(t, err)
	assert.True(t, l.Balance.Equal(d("7000")))
	assert.Equal(t, day(2025, time.May, 15), l.NextDueDate)
}

func TestCatchUp_NothingDue(t *testing.T) {
	// GIVEN: the standard loan with the first due date on Feb 15
	// WHEN: catching up to a target before that
	// THEN: zero periods run

	svc, _ := newService(t)
	issueStandard(t, svc)

	_, periods, err := svc.CatchUp(context.Background(), "ind-1", "L-001", day(2025, time.February, 1), nil)
	require.NoError(t, err)
	assert.Zero(t, periods)
}

func TestCatchUp_CancellationAborts(t *testing.T) {
	// GIVEN: a catch-up whose cancel callback trips after the first period
	// WHEN: the batch runs
	// THEN: it aborts with the cancellation sentinel

	svc, _ := newService(t)
	issueStandard(t, svc)

	calls := 0
	cancel := func() error {
		calls++
		if calls > 1 {
			return errors.New("shutting down")
		}
		return nil
	}

	_, _, err := svc.CatchUp(context.Background(), "ind-1", "L-001", day(2025, time.December, 15), cancel)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrCancelled))
}

func TestCatchUp_InactiveLoan(t *testing.T) {
	// GIVEN: a bought-off loan
	// WHEN: a catch-up is requested
	// THEN: it is rejected as inactive

	svc, _ := newService(t)
	ctx := context.Background()
	issueStandard(t, svc)
	_, err := svc.Buyoff(ctx, "ind-1", "L-001", nil)
	require.NoError(t, err)

	_, _, err = svc.CatchUp(ctx, "ind-1", "L-001", day(2025, time.December, 15), nil)
	assert.True(t, errors.Is(err, ledger.ErrLoanInactive))
}

// =============================================================================
// TOP-UP
// =============================================================================

func TestTopUp_RespreadsObligation(t *testing.T) {
	// GIVEN: the standard loan
	// WHEN: 5000 is added over a fresh 10 periods
	// THEN: the obligation is respread: balance 15000, unearned 2250,
	//       installment ceil(17250/10) = 1725, monthly ceil(2250/10) = 225

	svc, st := newService(t)
	ctx := context.Background()
	issueStandard(t, svc)

	l, err := svc.TopUp(ctx, "ind-1", "L-001", d("5000"), 10, day(2025, time.February, 1))
	require.NoError(t, err)

	assert.True(t, l.Balance.Equal(d("15000")))
	assert.True(t, l.UnearnedInterest.Equal(d("2250")))
	assert.True(t, l.Installment.Equal(d("1725")))
	assert.True(t, l.MonthlyInterest.Equal(d("225")))

	ind, err := st.GetIndividual(ctx, "ind-1")
	require.NoError(t, err)
	assert.True(t, ind.DefaultDeduction.Equal(d("1725")))
}

func TestTopUp_InactiveLoan(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	issueStandard(t, svc)
	_, err := svc.Buyoff(ctx, "ind-1", "L-001", nil)
	require.NoError(t, err)

	_, err = svc.TopUp(ctx, "ind-1", "L-001", d("5000"), 10, day(2025, time.March, 1))
	assert.True(t, errors.Is(err, ledger.ErrLoanInactive))
}

// =============================================================================
// RESTRUCTURE
// =============================================================================

func TestRestructure_RespreadsOverNewDuration(t *testing.T) {
	// GIVEN: the standard loan
	// WHEN: restructured over 5 periods without a rate change
	// THEN: installment becomes ceil(11500/5) = 2300, monthly 300, and the
	//       terms survive a subsequent replay

	svc, st := newService(t)
	ctx := context.Background()
	issueStandard(t, svc)

	l, err := svc.Restructure(ctx, "ind-1", "L-001", 5, nil, day(2025, time.February, 1))
	require.NoError(t, err)
	assert.True(t, l.Installment.Equal(d("2300")))
	assert.True(t, l.MonthlyInterest.Equal(d("300")))
	assert.True(t, l.UnearnedInterest.Equal(d("1500")))

	l, err = st.GetLoan(ctx, "ind-1", "L-001")
	require.NoError(t, err)
	assert.True(t, l.MonthlyInterest.Equal(d("300")))
}

func TestRestructure_NewRateReplacesPool(t *testing.T) {
	// GIVEN: the standard loan at 15%
	// WHEN: restructured over 5 periods at 10%
	// THEN: the interest pool is rebuilt from the current balance and the
	//       new pool survives the replay passes

	svc, st := newService(t)
	ctx := context.Background()
	issueStandard(t, svc)

	rate := d("0.10")
	l, err := svc.Restructure(ctx, "ind-1", "L-001", 5, &rate, day(2025, time.February, 1))
	require.NoError(t, err)

	assert.True(t, l.UnearnedInterest.Equal(d("1000")))
	assert.True(t, l.Installment.Equal(d("2200")))
	assert.True(t, l.MonthlyInterest.Equal(d("200")))

	// An explicit history replay must not resurrect the old 1500 pool.
	recalc := ledger.NewRecalculator(st, d("0.15"), false)
	require.NoError(t, recalc.RecalculateLoanHistory(ctx, "ind-1", "L-001"))

	l, err = st.GetLoan(ctx, "ind-1", "L-001")
	require.NoError(t, err)
	assert.True(t, l.UnearnedInterest.Equal(d("1000")), "pool after replay: %s", l.UnearnedInterest)
	assert.True(t, l.MonthlyInterest.Equal(d("200")))
}

// =============================================================================
// BUYOFF
// =============================================================================

func TestBuyoff_SettlesInFull(t *testing.T) {
	// GIVEN: the standard loan after two collected periods (balance 8000,
	//        unearned 1200)
	// WHEN: the loan is bought off
	// THEN: the remaining unearned interest is realized in one anchored
	//       lump and principal plus interest is paid: 9200 total

	svc, st := newService(t)
	ctx := context.Background()
	issueStandard(t, svc)
	require.NoError(t, svc.AccrueAndCollect(ctx, "ind-1", "L-001"))
	require.NoError(t, svc.AccrueAndCollect(ctx, "ind-1", "L-001"))

	l, err := svc.Buyoff(ctx, "ind-1", "L-001", nil)
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusPaid, l.Status)
	assert.True(t, l.Balance.IsZero())
	assert.True(t, l.InterestBalance.IsZero())
	assert.True(t, l.UnearnedInterest.IsZero())

	entries, err := st.EntriesByLoan(ctx, "ind-1", "L-001")
	require.NoError(t, err)
	require.Len(t, entries, 7)

	realization, buyoff := entries[5], entries[6]
	assert.Equal(t, ledger.EventInterestEarned, realization.Event)
	assert.True(t, realization.Added.Equal(d("1200")))
	assert.True(t, realization.Anchor.Set, "realization must survive the healing pass")

	assert.Equal(t, ledger.EventLoanBuyoff, buyoff.Event)
	assert.True(t, buyoff.Deducted.Equal(d("9200")))
	assert.True(t, buyoff.PrincipalPortion.Equal(d("8000")))
	assert.True(t, buyoff.InterestPortion.Equal(d("1200")))

	// Both entries land on the scheduled due date, not wall-clock today.
	assert.Equal(t, day(2025, time.April, 15), buyoff.Date)
}

func TestBuyoff_AlreadyPaid(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	issueStandard(t, svc)
	_, err := svc.Buyoff(ctx, "ind-1", "L-001", nil)
	require.NoError(t, err)

	_, err = svc.Buyoff(ctx, "ind-1", "L-001", nil)
	assert.True(t, errors.Is(err, ledger.ErrLoanInactive))
}

// =============================================================================
// DELETION
// =============================================================================

func TestDelete_RemovesLoanAndEntries(t *testing.T) {
	// GIVEN: a loan with history
	// WHEN: the loan is deleted
	// THEN: the loan and all of its entries are gone and the default
	//       deduction drops to zero

	svc, st := newService(t)
	ctx := context.Background()
	issueStandard(t, svc)
	require.NoError(t, svc.AccrueAndCollect(ctx, "ind-1", "L-001"))

	require.NoError(t, svc.Delete(ctx, "ind-1", "L-001"))

	_, err := st.GetLoan(ctx, "ind-1", "L-001")
	assert.True(t, ledger.IsNotFound(err))

	entries, err := st.EntriesByIndividual(ctx, "ind-1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	ind, err := st.GetIndividual(ctx, "ind-1")
	require.NoError(t, err)
	assert.True(t, ind.DefaultDeduction.IsZero())
}

// =============================================================================
// SAVINGS
// =============================================================================

func TestSavings_DepositWithdrawAndGuard(t *testing.T) {
	// GIVEN: a deposit of 500
	// WHEN: withdrawing 100, then attempting 600
	// THEN: the first succeeds at balance 400 and the second is rejected

	svc, _ := newService(t)
	ctx := context.Background()

	dep, err := svc.Deposit(ctx, "ind-1", d("500"), day(2025, time.January, 1))
	require.NoError(t, err)
	assert.True(t, dep.Balance.Equal(d("500")))

	wd, err := svc.Withdraw(ctx, "ind-1", d("100"), day(2025, time.February, 1))
	require.NoError(t, err)
	assert.True(t, wd.Balance.Equal(d("400")))

	_, err = svc.Withdraw(ctx, "ind-1", d("600"), day(2025, time.March, 1))
	assert.True(t, ledger.IsClientError(err), "overdraw: %v", err)
}

func TestSavingsCatchUp_AccruesMonthlyInterest(t *testing.T) {
	// GIVEN: a deposit of 1000 on Jan 1
	// WHEN: catching up at 1% monthly through Mar 1
	// THEN: two interest entries: 10 on Feb 1, then 10.1 on Mar 1

	svc, st := newService(t)
	ctx := context.Background()
	_, err := svc.Deposit(ctx, "ind-1", d("1000"), day(2025, time.January, 1))
	require.NoError(t, err)

	batchID, periods, err := svc.SavingsCatchUp(ctx, "ind-1", d("0.01"), day(2025, time.March, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, periods)

	batch, err := st.SavingsByBatch(ctx, batchID)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.True(t, batch[0].Amount.Equal(d("10")))
	assert.True(t, batch[1].Amount.Equal(d("10.1")))
}
