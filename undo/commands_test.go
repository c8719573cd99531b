package undo_test

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
	"github.com/warp/lending-engine/txn"
	"github.com/warp/lending-engine/undo"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	store  *store.TxMemory
	recalc *ledger.Recalculator
	svc    *loan.Service
	txm    *txn.Manager
}

func newFixture(t *testing.T, individuals ...ledger.IndividualID) *fixture {
	t.Helper()
	st := store.NewTxMemory()
	recalc := ledger.NewRecalculator(st, d("0.15"), false)
	for _, id := range individuals {
		require.NoError(t, st.InsertIndividual(context.Background(), &ledger.Individual{
			ID:   id,
			Name: "Borrower " + string(id),
		}))
	}
	return &fixture{
		store:  st,
		recalc: recalc,
		svc:    loan.NewService(st, recalc, nil),
		txm:    txn.NewManager(st, recalc, nil),
	}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

func (f *fixture) issue(t *testing.T, id ledger.IndividualID) *ledger.Loan {
	t.Helper()
	l, err := f.svc.Issue(context.Background(), loan.IssueInput{
		IndividualID: id,
		Principal:    d("10000"),
		Duration:     10,
		Rate:         d("0.15"),
		Date:         day(2025, time.January, 15),
	})
	require.NoError(t, err)
	return l
}

// =============================================================================
// DELETE ENTRY COMMAND
// =============================================================================

func TestDeleteEntryCommand_UndoRestoresExactState(t *testing.T) {
	// GIVEN: a loan with one collected period
	// WHEN: the repayment is deleted through the command and then undone
	// THEN: every entry and the loan are restored verbatim, ids included

	f := newFixture(t, "ind-1")
	ctx := context.Background()
	f.issue(t, "ind-1")
	require.NoError(t, f.svc.AccrueAndCollect(ctx, "ind-1", "L-001"))

	before, err := f.store.EntriesByIndividual(ctx, "ind-1")
	require.NoError(t, err)
	require.Len(t, before, 3)
	loanBefore, err := f.store.GetLoan(ctx, "ind-1", "L-001")
	require.NoError(t, err)

	repayID := before[2].ID
	cmd := undo.NewDeleteEntryCommand(f.store, f.txm, f.recalc, "ind-1", repayID)
	require.NoError(t, cmd.Execute(ctx))

	mid, err := f.store.EntriesByIndividual(ctx, "ind-1")
	require.NoError(t, err)
	require.Len(t, mid, 1, "the period pair is gone")

	require.NoError(t, cmd.Undo(ctx))

	after, err := f.store.EntriesByIndividual(ctx, "ind-1")
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i], after[i])
	}

	loanAfter, err := f.store.GetLoan(ctx, "ind-1", "L-001")
	require.NoError(t, err)
	assert.Equal(t, loanBefore, loanAfter)
}

func TestDeleteEntryCommand_RedoRecaptures(t *testing.T) {
	// GIVEN: a delete that was undone
	// WHEN: it is redone
	// THEN: the deletion applies again and a further undo still restores

	f := newFixture(t, "ind-1")
	ctx := context.Background()
	f.issue(t, "ind-1")
	require.NoError(t, f.svc.AccrueAndCollect(ctx, "ind-1", "L-001"))

	entries, err := f.store.EntriesByIndividual(ctx, "ind-1")
	require.NoError(t, err)
	cmd := undo.NewDeleteEntryCommand(f.store, f.txm, f.recalc, "ind-1", entries[2].ID)

	require.NoError(t, cmd.Execute(ctx))
	require.NoError(t, cmd.Undo(ctx))
	require.NoError(t, cmd.Redo(ctx))

	mid, err := f.store.EntriesByIndividual(ctx, "ind-1")
	require.NoError(t, err)
	assert.Len(t, mid, 1)

	require.NoError(t, cmd.Undo(ctx))
	after, err := f.store.EntriesByIndividual(ctx, "ind-1")
	require.NoError(t, err)
	assert.Len(t, after, 3)
}

func TestDeleteEntryCommand_IssuanceUndoRevivesLoan(t *testing.T) {
	// GIVEN: a deleted issuance (which removes the loan itself)
	// WHEN: the command is undone
	// THEN: the loan is re-inserted along with its entries

	f := newFixture(t, "ind-1")
	ctx := context.Background()
	f.issue(t, "ind-1")
	require.NoError(t, f.svc.AccrueAndCollect(ctx, "ind-1", "L-001"))

	entries, err := f.store.EntriesByIndividual(ctx, "ind-1")
	require.NoError(t, err)
	cmd := undo.NewDeleteEntryCommand(f.store, f.txm, f.recalc, "ind-1", entries[0].ID)

	require.NoError(t, cmd.Execute(ctx))
	_, err = f.store.GetLoan(ctx, "ind-1", "L-001")
	require.True(t, ledger.IsNotFound(err))

	require.NoError(t, cmd.Undo(ctx))

	l, err := f.store.GetLoan(ctx, "ind-1", "L-001")
	require.NoError(t, err)
	assert.True(t, l.Balance.Equal(d("9000")))

	after, err := f.store.EntriesByIndividual(ctx, "ind-1")
	require.NoError(t, err)
	assert.Len(t, after, 3)
}

// =============================================================================
// MASS LOAN CATCH-UP COMMAND
// =============================================================================

func TestMassLoanCatchUpCommand_ExecuteAndUndo(t *testing.T) {
	// GIVEN: two borrowers with active loans issued Jan 15
	// WHEN: a mass catch-up through Mar 15 executes and is undone
	// THEN: both ledgers advance two periods and return to issuance state

	f := newFixture(t, "ind-1", "ind-2")
	ctx := context.Background()
	f.issue(t, "ind-1")
	f.issue(t, "ind-2")

	cmd := undo.NewMassLoanCatchUpCommand(f.store, f.svc, f.recalc, day(2025, time.March, 15), nil, nil)
	require.NoError(t, cmd.Execute(ctx))

	for _, id := range []ledger.IndividualID{"ind-1", "ind-2"} {
		l, err := f.store.GetLoan(ctx, id, "L-001")
		require.NoError(t, err)
		assert.True(t, l.Balance.Equal(d("8000")), "%s after two periods: %s", id, l.Balance)

		entries, err := f.store.EntriesByIndividual(ctx, id)
		require.NoError(t, err)
		assert.Len(t, entries, 5)
	}

	require.NoError(t, cmd.Undo(ctx))

	for _, id := range []ledger.IndividualID{"ind-1", "ind-2"} {
		l, err := f.store.GetLoan(ctx, id, "L-001")
		require.NoError(t, err)
		assert.True(t, l.Balance.Equal(d("10000")))
		assert.True(t, l.UnearnedInterest.Equal(d("1500")))
		assert.Equal(t, day(2025, time.February, 15), l.NextDueDate)

		entries, err := f.store.EntriesByIndividual(ctx, id)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "only the issuance remains")
	}
}

func TestMassLoanCatchUpCommand_SkipsPaidLoans(t *testing.T) {
	f := newFixture(t, "ind-1")
	ctx := context.Background()
	f.issue(t, "ind-1")
	_, err := f.svc.Buyoff(ctx, "ind-1", "L-001", nil)
	require.NoError(t, err)
	before, err := f.store.EntriesByIndividual(ctx, "ind-1")
	require.NoError(t, err)

	cmd := undo.NewMassLoanCatchUpCommand(f.store, f.svc, f.recalc, day(2025, time.December, 15), nil, nil)
	require.NoError(t, cmd.Execute(ctx))

	after, err := f.store.EntriesByIndividual(ctx, "ind-1")
	require.NoError(t, err)
	assert.Len(t, after, len(before), "a settled loan must not accrue")
}

func TestMassLoanCatchUpCommand_CancellationRollsBack(t *testing.T) {
	// GIVEN: a cancel callback that trips mid-batch
	// WHEN: the mass catch-up executes
	// THEN: it fails with the cancellation sentinel and the surrounding
	//       transaction leaves no partial entries behind

	f := newFixture(t, "ind-1", "ind-2")
	ctx := context.Background()
	f.issue(t, "ind-1")
	f.issue(t, "ind-2")

	calls := 0
	cancel := func() error {
		calls++
		if calls > 2 {
			return errors.New("shutting down")
		}
		return nil
	}

	cmd := undo.NewMassLoanCatchUpCommand(f.store, f.svc, f.recalc, day(2025, time.June, 15), cancel, nil)
	err := cmd.Execute(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrCancelled))

	for _, id := range []ledger.IndividualID{"ind-1", "ind-2"} {
		entries, err := f.store.EntriesByIndividual(ctx, id)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "%s: partial batch must roll back", id)

		l, err := f.store.GetLoan(ctx, id, "L-001")
		require.NoError(t, err)
		assert.True(t, l.Balance.Equal(d("10000")))
	}
}

// =============================================================================
// MASS SAVINGS CATCH-UP COMMAND
// =============================================================================

func TestMassSavingsCatchUpCommand_ExecuteAndUndo(t *testing.T) {
	// GIVEN: two savers with deposits on Jan 1
	// WHEN: a mass interest catch-up at 1% through Mar 1 runs and is undone
	// THEN: interest appears for both and disappears again with correct
	//       replayed balances

	f := newFixture(t, "ind-1", "ind-2")
	ctx := context.Background()
	for _, id := range []ledger.IndividualID{"ind-1", "ind-2"} {
		_, err := f.svc.Deposit(ctx, id, d("1000"), day(2025, time.January, 1))
		require.NoError(t, err)
	}

	cmd := undo.NewMassSavingsCatchUpCommand(f.store, f.svc, f.recalc, d("0.01"), day(2025, time.March, 1), nil, nil)
	require.NoError(t, cmd.Execute(ctx))

	for _, id := range []ledger.IndividualID{"ind-1", "ind-2"} {
		entries, err := f.store.SavingsByIndividual(ctx, id)
		require.NoError(t, err)
		assert.Len(t, entries, 3, "deposit plus two interest periods")

		balance, err := f.recalc.SavingsBalance(ctx, id)
		require.NoError(t, err)
		assert.True(t, balance.Equal(d("1020.1")), "%s: %s", id, balance)
	}

	require.NoError(t, cmd.Undo(ctx))

	for _, id := range []ledger.IndividualID{"ind-1", "ind-2"} {
		entries, err := f.store.SavingsByIndividual(ctx, id)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, entries[0].Balance.Equal(d("1000")))
	}
}
