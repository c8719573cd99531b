/*
snapshot.go - Typed, versioned snapshots for exact reversal

PURPOSE:
  Every mutating operation that touches loan terms captures a LoanSnapshot
  BEFORE mutation and embeds it in the entry it writes. Deleting that entry
  later restores the loan verbatim without a separate replay.

  TransactionSnapshot is the undo layer's full copy of an entry, owned
  exclusively by the command that captured it and discarded when the
  command is evicted from the undo stack.

VERSIONING:
  Snapshots serialize to a JSON blob with an explicit Version field so
  future schema additions do not break older stored snapshots.
*/
package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotVersion is the current LoanSnapshot schema version.
const SnapshotVersion = 1

// =============================================================================
// LOAN SNAPSHOT
// =============================================================================

// LoanSnapshot is a full copy of a loan's mutable fields.
type LoanSnapshot struct {
	Version int `json:"version"`

	Ref              string          `json:"ref"`
	Principal        decimal.Decimal `json:"principal"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Balance          decimal.Decimal `json:"balance"`
	Installment      decimal.Decimal `json:"installment"`
	MonthlyInterest  decimal.Decimal `json:"monthly_interest"`
	UnearnedInterest decimal.Decimal `json:"unearned_interest"`
	InterestBalance  decimal.Decimal `json:"interest_balance"`
	NextDueDate      time.Time       `json:"next_due_date"`
	Status           LoanStatus      `json:"status"`
}

// SnapshotLoan captures the loan's current mutable fields.
func SnapshotLoan(l *Loan) LoanSnapshot {
	return LoanSnapshot{
		Version:          SnapshotVersion,
		Ref:              l.Ref,
		Principal:        l.Principal,
		TotalAmount:      l.TotalAmount,
		Balance:          l.Balance,
		Installment:      l.Installment,
		MonthlyInterest:  l.MonthlyInterest,
		UnearnedInterest: l.UnearnedInterest,
		InterestBalance:  l.InterestBalance,
		NextDueDate:      l.NextDueDate,
		Status:           l.Status,
	}
}

// Encode serializes the snapshot to its opaque blob form.
func (s LoanSnapshot) Encode() ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode loan snapshot: %w", err)
	}
	return b, nil
}

// MustEncode serializes the snapshot, returning nil on failure. Snapshots
// are plain data so marshaling cannot realistically fail; callers that
// need the error use Encode.
func (s LoanSnapshot) MustEncode() []byte {
	b, _ := json.Marshal(s)
	return b
}

// DecodeLoanSnapshot parses a stored snapshot blob. Returns nil (no error)
// for an empty blob: older rows may carry no snapshot.
func DecodeLoanSnapshot(blob []byte) (*LoanSnapshot, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var s LoanSnapshot
	if err := json.Unmarshal(blob, &s); err != nil {
		return nil, fmt.Errorf("failed to decode loan snapshot: %w", err)
	}
	return &s, nil
}

// RestoreTo writes the snapshot back onto the loan verbatim.
func (s *LoanSnapshot) RestoreTo(l *Loan) {
	l.Principal = s.Principal
	l.TotalAmount = s.TotalAmount
	l.Balance = s.Balance
	l.Installment = s.Installment
	l.MonthlyInterest = s.MonthlyInterest
	l.UnearnedInterest = s.UnearnedInterest
	l.InterestBalance = s.InterestBalance
	l.NextDueDate = s.NextDueDate
	l.Status = s.Status
}

// =============================================================================
// TRANSACTION SNAPSHOT
// =============================================================================

// TransactionSnapshot is a full copy of a ledger entry, captured by an undo
// command before the entry is deleted so it can be re-inserted with its
// original id.
type TransactionSnapshot struct {
	Entry Entry
}

// CaptureEntry copies the entry into a snapshot.
func CaptureEntry(e *Entry) TransactionSnapshot {
	return TransactionSnapshot{Entry: *e.Clone()}
}

// Restore returns a fresh entry copy ready for re-insertion.
func (ts TransactionSnapshot) Restore() *Entry {
	return ts.Entry.Clone()
}
