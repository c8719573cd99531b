package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

func seedBorrower(t *testing.T, st *sqlite.Store, id ledger.IndividualID) {
	t.Helper()
	require.NoError(t, st.InsertIndividual(context.Background(), &ledger.Individual{
		ID:               id,
		Name:             "Test Borrower",
		Phone:            "555-0100",
		DefaultDeduction: decimal.Zero,
	}))
}

// =============================================================================
// ENTRIES
// =============================================================================

func TestEntryRoundTrip(t *testing.T) {
	// GIVEN: an entry exercising every column, snapshot blob included
	// WHEN: it is inserted and read back
	// THEN: all fields survive with exact decimal precision

	st := newTestStore(t)
	ctx := context.Background()
	seedBorrower(t, st, "ind-1")

	e := &ledger.Entry{
		IndividualID:     "ind-1",
		LoanRef:          "L-001",
		Date:             day(2025, time.January, 15),
		Event:            ledger.EventRepayment,
		Added:            d("0"),
		Deducted:         d("1150.25"),
		Balance:          d("9000.75"),
		PrincipalBalance: d("8850.50"),
		InterestBalance:  d("150.25"),
		GrossBalance:     d("10350"),
		PrincipalPortion: d("1000.25"),
		InterestPortion:  d("150"),
		InterestAmount:   d("0"),
		Installment:      d("1150.25"),
		Duration:         10,
		Anchor:           ledger.AnchorAt(d("1150.25")),
		Notes:            "manual adjustment",
		PreviousState:    []byte(`{"version":1}`),
		BatchID:          "batch-7",
	}
	id, err := st.InsertEntry(ctx, e)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := st.GetEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.IndividualID("ind-1"), got.IndividualID)
	assert.Equal(t, "L-001", got.LoanRef)
	assert.True(t, got.Date.Equal(day(2025, time.January, 15)))
	assert.Equal(t, ledger.EventRepayment, got.Event)
	assert.True(t, got.Deducted.Equal(d("1150.25")))
	assert.True(t, got.PrincipalBalance.Equal(d("8850.50")))
	assert.True(t, got.PrincipalPortion.Equal(d("1000.25")))
	assert.Equal(t, 10, got.Duration)
	assert.True(t, got.Anchor.Set)
	assert.True(t, got.Anchor.Target.Equal(d("1150.25")))
	assert.Equal(t, "manual adjustment", got.Notes)
	assert.Equal(t, []byte(`{"version":1}`), got.PreviousState)
	assert.Equal(t, "batch-7", got.BatchID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestEntriesOrderedByDateThenID(t *testing.T) {
	// GIVEN: entries inserted out of date order, with a same-date tie
	// WHEN: they are listed
	// THEN: the order is (date, id) - the replay contract

	st := newTestStore(t)
	ctx := context.Background()
	seedBorrower(t, st, "ind-1")

	mar := &ledger.Entry{IndividualID: "ind-1", LoanRef: "L-001", Date: day(2025, time.March, 1), Event: ledger.EventRepayment}
	jan := &ledger.Entry{IndividualID: "ind-1", LoanRef: "L-001", Date: day(2025, time.January, 1), Event: ledger.EventLoanIssued}
	feb2 := &ledger.Entry{IndividualID: "ind-1", LoanRef: "L-001", Date: day(2025, time.February, 1), Event: ledger.EventInterestEarned}
	feb1 := &ledger.Entry{IndividualID: "ind-1", LoanRef: "L-001", Date: day(2025, time.February, 1), Event: ledger.EventRepayment}

	for _, e := range []*ledger.Entry{mar, jan, feb2, feb1} {
		_, err := st.InsertEntry(ctx, e)
		require.NoError(t, err)
	}

	entries, err := st.EntriesByIndividual(ctx, "ind-1")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, jan.ID, entries[0].ID)
	assert.Equal(t, feb2.ID, entries[1].ID, "same-date tie breaks on id")
	assert.Equal(t, feb1.ID, entries[2].ID)
	assert.Equal(t, mar.ID, entries[3].ID)

	byLoan, err := st.EntriesByLoan(ctx, "ind-1", "L-001")
	require.NoError(t, err)
	require.Len(t, byLoan, 4)
	assert.Equal(t, jan.ID, byLoan[0].ID)
}

func TestInsertEntry_HonorsPresetID(t *testing.T) {
	// GIVEN: a deleted entry
	// WHEN: it is re-inserted with its original id (undo restoration)
	// THEN: the id survives and fresh inserts still get higher ids

	st := newTestStore(t)
	ctx := context.Background()
	seedBorrower(t, st, "ind-1")

	e := &ledger.Entry{IndividualID: "ind-1", LoanRef: "L-001", Date: day(2025, time.January, 1), Event: ledger.EventLoanIssued}
	origID, err := st.InsertEntry(ctx, e)
	require.NoError(t, err)
	require.NoError(t, st.DeleteEntry(ctx, origID))

	restored := e.Clone()
	id, err := st.InsertEntry(ctx, restored)
	require.NoError(t, err)
	assert.Equal(t, origID, id)

	fresh := &ledger.Entry{IndividualID: "ind-1", LoanRef: "L-001", Date: day(2025, time.February, 1), Event: ledger.EventRepayment}
	freshID, err := st.InsertEntry(ctx, fresh)
	require.NoError(t, err)
	assert.Greater(t, freshID, origID)
}

func TestEntriesByBatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedBorrower(t, st, "ind-1")

	in := &ledger.Entry{IndividualID: "ind-1", LoanRef: "L-001", Date: day(2025, time.January, 1), Event: ledger.EventRepayment, BatchID: "batch-1"}
	out := &ledger.Entry{IndividualID: "ind-1", LoanRef: "L-001", Date: day(2025, time.January, 2), Event: ledger.EventRepayment}
	for _, e := range []*ledger.Entry{in, out} {
		_, err := st.InsertEntry(ctx, e)
		require.NoError(t, err)
	}

	batch, err := st.EntriesByBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, in.ID, batch[0].ID)

	// The empty batch id never matches anything.
	none, err := st.EntriesByBatch(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// LOANS
// =============================================================================

func TestLoanRoundTripAndUniqueRef(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedBorrower(t, st, "ind-1")

	l := &ledger.Loan{
		IndividualID:     "ind-1",
		Ref:              "L-001",
		Principal:        d("10000"),
		TotalAmount:      d("11500"),
		Balance:          d("10000"),
		Installment:      d("1150"),
		MonthlyInterest:  d("150"),
		UnearnedInterest: d("1500"),
		InterestBalance:  d("0"),
		NextDueDate:      day(2025, time.February, 15),
		Status:           ledger.StatusActive,
	}
	_, err := st.InsertLoan(ctx, l)
	require.NoError(t, err)

	got, err := st.GetLoan(ctx, "ind-1", "L-001")
	require.NoError(t, err)
	assert.True(t, got.Principal.Equal(d("10000")))
	assert.True(t, got.Installment.Equal(d("1150")))
	assert.True(t, got.NextDueDate.Equal(day(2025, time.February, 15)))
	assert.Equal(t, ledger.StatusActive, got.Status)

	// The (individual, ref) pair is unique.
	_, err = st.InsertLoan(ctx, l.Clone())
	assert.Error(t, err)

	got.Balance = d("9000")
	got.Status = ledger.StatusPaid
	require.NoError(t, st.UpdateLoan(ctx, got))

	got, err = st.GetLoan(ctx, "ind-1", "L-001")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(d("9000")))
	assert.Equal(t, ledger.StatusPaid, got.Status)
}

// =============================================================================
// INDIVIDUALS
// =============================================================================

func TestInsertIndividual_UpsertsProfile(t *testing.T) {
	// GIVEN: an existing borrower with a materialized deduction
	// WHEN: the same id is inserted with new profile fields
	// THEN: name and phone update but the deduction is left alone

	st := newTestStore(t)
	ctx := context.Background()
	seedBorrower(t, st, "ind-1")

	ind, err := st.GetIndividual(ctx, "ind-1")
	require.NoError(t, err)
	ind.DefaultDeduction = d("1150")
	require.NoError(t, st.UpdateIndividual(ctx, ind))

	require.NoError(t, st.InsertIndividual(ctx, &ledger.Individual{
		ID:    "ind-1",
		Name:  "Renamed Borrower",
		Phone: "555-0199",
	}))

	got, err := st.GetIndividual(ctx, "ind-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed Borrower", got.Name)
	assert.Equal(t, "555-0199", got.Phone)
	assert.True(t, got.DefaultDeduction.Equal(d("1150")))
}

// =============================================================================
// SAVINGS
// =============================================================================

func TestSavingsRoundTripAndBatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedBorrower(t, st, "ind-1")

	dep := &ledger.SavingsEntry{
		IndividualID: "ind-1", Date: day(2025, time.January, 1),
		Type: ledger.SavingsDeposit, Amount: d("500.50"),
	}
	interest := &ledger.SavingsEntry{
		IndividualID: "ind-1", Date: day(2025, time.February, 1),
		Type: ledger.SavingsInterest, Amount: d("5"), BatchID: "batch-1",
	}
	for _, s := range []*ledger.SavingsEntry{dep, interest} {
		_, err := st.InsertSavings(ctx, s)
		require.NoError(t, err)
	}

	all, err := st.SavingsByIndividual(ctx, "ind-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Amount.Equal(d("500.50")))
	assert.Equal(t, ledger.SavingsDeposit, all[0].Type)

	batch, err := st.SavingsByBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, interest.ID, batch[0].ID)

	require.NoError(t, st.DeleteSavings(ctx, interest.ID))
	all, err = st.SavingsByIndividual(ctx, "ind-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// =============================================================================
// SENTINELS
// =============================================================================

func TestMissingRecordsMapToSentinels(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetEntry(ctx, 42)
	assert.True(t, errors.Is(err, ledger.ErrEntryNotFound))
	assert.True(t, errors.Is(st.DeleteEntry(ctx, 42), ledger.ErrEntryNotFound))

	_, err = st.GetLoan(ctx, "ind-1", "L-404")
	assert.True(t, errors.Is(err, ledger.ErrLoanNotFound))
	assert.True(t, errors.Is(st.DeleteLoan(ctx, "ind-1", "L-404"), ledger.ErrLoanNotFound))

	_, err = st.GetIndividual(ctx, "nobody")
	assert.True(t, errors.Is(err, ledger.ErrIndividualNotFound))

	assert.True(t, errors.Is(st.DeleteSavings(ctx, 42), ledger.ErrSavingsNotFound))

	err = st.UpdateEntry(ctx, &ledger.Entry{ID: 42, IndividualID: "ind-1", Event: ledger.EventRepayment, Date: day(2025, time.January, 1)})
	assert.True(t, errors.Is(err, ledger.ErrEntryNotFound))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: a transaction that inserts and then fails
	// WHEN: WithTx returns the error
	// THEN: nothing is persisted

	st := newTestStore(t)
	ctx := context.Background()
	seedBorrower(t, st, "ind-1")

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx ledger.Store) error {
		e := &ledger.Entry{IndividualID: "ind-1", LoanRef: "L-001", Date: day(2025, time.January, 1), Event: ledger.EventLoanIssued}
		if _, err := tx.InsertEntry(ctx, e); err != nil {
			return err
		}
		return boom
	})
	require.True(t, errors.Is(err, boom))

	entries, err := st.EntriesByIndividual(ctx, "ind-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedBorrower(t, st, "ind-1")

	err := st.WithTx(ctx, func(tx ledger.Store) error {
		e := &ledger.Entry{IndividualID: "ind-1", LoanRef: "L-001", Date: day(2025, time.January, 1), Event: ledger.EventLoanIssued}
		_, err := tx.InsertEntry(ctx, e)
		return err
	})
	require.NoError(t, err)

	entries, err := st.EntriesByIndividual(ctx, "ind-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
