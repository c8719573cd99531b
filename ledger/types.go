/*
Package ledger provides the core loan ledger replay engine.

PURPOSE:
  This package contains the types and replay algorithms that derive
  authoritative loan state purely from an ordered history of entries.
  Balances, loan terms, and due dates are never trusted from cached
  fields alone - they are recomputed by replaying the ledger.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: A ledger record with monotonic id (tie-breaker for same-date ordering)
  - Anchor: A user-intended target amount that survives automatic healing
  - Loan: Principal/interest/unearned decomposition of outstanding debt
  - Individual: Borrower identity with a cached default deduction
  - SavingsEntry: Simpler savings record with its own independent replay

DESIGN PRINCIPLES:
  1. Replay: Derived state is recomputed from ordered entries, from scratch
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Anchors over flags: A deliberate user edit stores its target amount
     explicitly, so healing passes can never silently overwrite it
  4. Reversibility: Entries carry a versioned snapshot of the loan state
     taken immediately before they were written

SEE ALSO:
  - recalc.go: Balance replay pass
  - history.go: Split/accrual replay pass
  - smart.go: Anchor-aware healing replay pass
  - store.go: Persistence contract the engine needs
*/
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type IndividualID string

// =============================================================================
// EVENT TYPES
// =============================================================================

type EventType string

const (
	EventLoanIssued      EventType = "loan_issued"
	EventLoanTopUp       EventType = "loan_top_up"
	EventInterestEarned  EventType = "interest_earned"
	EventRepayment       EventType = "repayment"
	EventLoanBuyoff      EventType = "loan_buyoff"
	EventLoanRestructure EventType = "loan_restructure"
)

// IsStructural reports whether an event changes loan terms in a way that
// later entries causally depend on. Deleting a structural entry cascades.
func (e EventType) IsStructural() bool {
	return e == EventLoanIssued || e == EventLoanTopUp || e == EventLoanRestructure
}

// IsCapital reports whether an event moves principal.
func (e EventType) IsCapital() bool {
	switch e {
	case EventLoanIssued, EventLoanTopUp, EventRepayment, EventLoanBuyoff:
		return true
	}
	return false
}

// =============================================================================
// ANCHOR - Auto vs deliberately edited amounts
// =============================================================================

// Anchor marks an entry amount as deliberately set by a user. The target
// amount is stored explicitly so replay passes heal around it instead of
// overwriting it. An unset Anchor means the entry is Auto: the replay owns
// its amount and re-derives it from current loan terms.
type Anchor struct {
	Set    bool
	Target decimal.Decimal
}

// AnchorAt returns an anchor fixed to the given target amount.
func AnchorAt(target decimal.Decimal) Anchor {
	return Anchor{Set: true, Target: target}
}

// =============================================================================
// LEDGER ENTRY
// =============================================================================

// Entry is a single ledger record. Entries are ordered by (Date, ID); the
// monotonic ID breaks ties between same-date entries.
type Entry struct {
	ID           int64
	IndividualID IndividualID
	LoanRef      string // empty for entries not tied to a loan
	Date         time.Time
	Event        EventType

	// Gross deltas.
	Added    decimal.Decimal
	Deducted decimal.Decimal

	// Running snapshots written back by the balance replay.
	Balance          decimal.Decimal // total debt after this entry
	PrincipalBalance decimal.Decimal
	InterestBalance  decimal.Decimal
	GrossBalance     decimal.Decimal // principal + full original interest obligation

	// Repayment split (interest-first allocation).
	PrincipalPortion decimal.Decimal
	InterestPortion  decimal.Decimal

	// Memoized terms at time of write, used to re-derive state without
	// guessing. InterestAmount is the interest obligation created by an
	// issuance/top-up; Installment is the periodic payment then in force.
	InterestAmount decimal.Decimal
	Installment    decimal.Decimal
	Duration       int // periods; 0 on legacy rows, inferred on replay

	Anchor Anchor
	Notes  string

	// PreviousState holds a versioned LoanSnapshot blob captured
	// immediately before this entry was written.
	PreviousState []byte

	// BatchID groups entries created by one mass operation so the whole
	// batch can be reverted atomically.
	BatchID string

	CreatedAt time.Time
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.PreviousState != nil {
		c.PreviousState = append([]byte(nil), e.PreviousState...)
	}
	return &c
}

// SortEntries orders entries by (date, id) in place.
func SortEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].ID < entries[j].ID
	})
}

// =============================================================================
// LOAN
// =============================================================================

type LoanStatus string

const (
	StatusActive LoanStatus = "active"
	StatusPaid   LoanStatus = "paid"
)

// Loan holds the current terms and balances of one loan. All of its mutable
// fields are derived: the replay passes are authoritative.
type Loan struct {
	ID           int64
	IndividualID IndividualID
	Ref          string // business reference, "L-###", unique per individual

	Principal   decimal.Decimal // original amount
	TotalAmount decimal.Decimal // principal + interest at issuance, informational

	Balance          decimal.Decimal // principal outstanding, not total debt
	Installment      decimal.Decimal
	MonthlyInterest  decimal.Decimal
	UnearnedInterest decimal.Decimal // charged but not yet recognized
	InterestBalance  decimal.Decimal // recognized but not yet paid

	NextDueDate time.Time
	Status      LoanStatus
}

// TotalDebt returns the net outstanding debt: principal plus recognized
// unpaid interest. Distinct from the gross (contractual) balance.
func (l *Loan) TotalDebt() decimal.Decimal {
	return l.Balance.Add(l.InterestBalance)
}

// Clone returns a copy of the loan.
func (l *Loan) Clone() *Loan {
	c := *l
	return &c
}

// NextRef computes the next monotonic loan reference for an individual.
func NextRef(loans []*Loan) string {
	max := 0
	for _, l := range loans {
		var n int
		if _, err := fmt.Sscanf(l.Ref, "L-%d", &n); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("L-%03d", max+1)
}

// =============================================================================
// INDIVIDUAL
// =============================================================================

// Individual is a borrower. DefaultDeduction is a materialized view: the sum
// of installments of its active loans, recomputed after every loan mutation.
type Individual struct {
	ID               IndividualID
	Name             string
	Phone            string
	DefaultDeduction decimal.Decimal
	CreatedAt        time.Time
}

// =============================================================================
// SAVINGS
// =============================================================================

type SavingsType string

const (
	SavingsDeposit    SavingsType = "deposit"
	SavingsWithdrawal SavingsType = "withdrawal"
	SavingsInterest   SavingsType = "interest"
)

// SavingsEntry is a savings record. Savings replay independently of loans
// and carry no principal/interest split.
type SavingsEntry struct {
	ID           int64
	IndividualID IndividualID
	Date         time.Time
	Type         SavingsType
	Amount       decimal.Decimal
	Balance      decimal.Decimal
	BatchID      string
}

// SortSavings orders savings entries by (date, id) in place.
func SortSavings(entries []*SavingsEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].ID < entries[j].ID
	})
}

// =============================================================================
// MONEY HELPERS
// =============================================================================

var clampThreshold = decimal.NewFromFloat(0.01)

// Clamp absorbs accumulated floating error: magnitudes under 0.01 become
// exactly zero.
func Clamp(d decimal.Decimal) decimal.Decimal {
	if d.Abs().LessThan(clampThreshold) {
		return decimal.Zero
	}
	return d
}

// CeilMoney rounds up to the next whole currency unit.
func CeilMoney(d decimal.Decimal) decimal.Decimal {
	return d.Ceil()
}

func MinD(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func MaxD(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// SameDay reports whether two timestamps fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
