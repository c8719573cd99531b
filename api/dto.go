/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  All amounts cross the wire as decimal strings ("1150", "0.15"), never as
  floats. shopspring/decimal marshals to a JSON number-in-string form that
  clients parse exactly.

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Router setup and middleware
*/
package api

import (
	"time"

	"github.com/warp/lending-engine/ledger"
)

// =============================================================================
// INDIVIDUALS
// =============================================================================

// IndividualDTO represents a borrower in API responses.
type IndividualDTO struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Phone            string `json:"phone,omitempty"`
	DefaultDeduction string `json:"default_deduction"`
	CreatedAt        string `json:"created_at,omitempty"`
}

func toIndividualDTO(ind *ledger.Individual) IndividualDTO {
	dto := IndividualDTO{
		ID:               string(ind.ID),
		Name:             ind.Name,
		Phone:            ind.Phone,
		DefaultDeduction: ind.DefaultDeduction.String(),
	}
	if !ind.CreatedAt.IsZero() {
		dto.CreatedAt = ind.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// CreateIndividualRequest is the request to create or update a borrower.
type CreateIndividualRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// =============================================================================
// LOANS
// =============================================================================

// LoanDTO represents a loan in API responses.
type LoanDTO struct {
	Ref              string `json:"ref"`
	IndividualID     string `json:"individual_id"`
	Principal        string `json:"principal"`
	TotalAmount      string `json:"total_amount"`
	Balance          string `json:"balance"`
	Installment      string `json:"installment"`
	MonthlyInterest  string `json:"monthly_interest"`
	UnearnedInterest string `json:"unearned_interest"`
	InterestBalance  string `json:"interest_balance"`
	TotalDebt        string `json:"total_debt"`
	NextDueDate      string `json:"next_due_date"`
	Status           string `json:"status"`
}

func toLoanDTO(l *ledger.Loan) LoanDTO {
	return LoanDTO{
		Ref:              l.Ref,
		IndividualID:     string(l.IndividualID),
		Principal:        l.Principal.String(),
		TotalAmount:      l.TotalAmount.String(),
		Balance:          l.Balance.String(),
		Installment:      l.Installment.String(),
		MonthlyInterest:  l.MonthlyInterest.String(),
		UnearnedInterest: l.UnearnedInterest.String(),
		InterestBalance:  l.InterestBalance.String(),
		TotalDebt:        l.TotalDebt().String(),
		NextDueDate:      l.NextDueDate.Format("2006-01-02"),
		Status:           string(l.Status),
	}
}

// IssueLoanRequest is the request to issue a loan.
type IssueLoanRequest struct {
	Principal string `json:"principal"`
	Duration  int    `json:"duration"`
	Rate      string `json:"rate"`
	Date      string `json:"date"` // YYYY-MM-DD
	Notes     string `json:"notes,omitempty"`
}

// TopUpRequest is the request to add capital to a loan.
type TopUpRequest struct {
	Amount   string `json:"amount"`
	Duration int    `json:"duration"`
	Date     string `json:"date"`
}

// RestructureRequest is the request to respread a loan.
type RestructureRequest struct {
	Duration int     `json:"duration"`
	Rate     *string `json:"rate,omitempty"`
	Date     string  `json:"date"`
}

// BuyoffRequest is the request to settle a loan in full. An empty date
// defaults to the loan's next due date.
type BuyoffRequest struct {
	Date string `json:"date,omitempty"`
}

// CatchUpRequest is the request to advance a loan (or all loans) through
// its missed periods.
type CatchUpRequest struct {
	Target string `json:"target"` // YYYY-MM-DD
}

// CatchUpResponse reports the outcome of a catch-up.
type CatchUpResponse struct {
	BatchID string `json:"batch_id"`
	Periods int    `json:"periods"`
}

// =============================================================================
// ENTRIES
// =============================================================================

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID               int64  `json:"id"`
	IndividualID     string `json:"individual_id"`
	LoanRef          string `json:"loan_ref,omitempty"`
	Date             string `json:"date"`
	Event            string `json:"event"`
	Added            string `json:"added"`
	Deducted         string `json:"deducted"`
	Balance          string `json:"balance"`
	PrincipalBalance string `json:"principal_balance"`
	InterestBalance  string `json:"interest_balance"`
	GrossBalance     string `json:"gross_balance"`
	PrincipalPortion string `json:"principal_portion"`
	InterestPortion  string `json:"interest_portion"`
	Installment      string `json:"installment"`
	Duration         int    `json:"duration,omitempty"`
	Anchored         bool   `json:"anchored"`
	Notes            string `json:"notes,omitempty"`
	BatchID          string `json:"batch_id,omitempty"`
}

func toEntryDTO(e *ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:               e.ID,
		IndividualID:     string(e.IndividualID),
		LoanRef:          e.LoanRef,
		Date:             e.Date.Format("2006-01-02"),
		Event:            string(e.Event),
		Added:            e.Added.String(),
		Deducted:         e.Deducted.String(),
		Balance:          e.Balance.String(),
		PrincipalBalance: e.PrincipalBalance.String(),
		InterestBalance:  e.InterestBalance.String(),
		GrossBalance:     e.GrossBalance.String(),
		PrincipalPortion: e.PrincipalPortion.String(),
		InterestPortion:  e.InterestPortion.String(),
		Installment:      e.Installment.String(),
		Duration:         e.Duration,
		Anchored:         e.Anchor.Set,
		Notes:            e.Notes,
		BatchID:          e.BatchID,
	}
}

// EditEntryRequest is the request to edit an entry. Omitted fields are
// left unchanged; a changed amount anchors the entry.
type EditEntryRequest struct {
	Date   *string `json:"date,omitempty"`
	Amount *string `json:"amount,omitempty"`
	Notes  *string `json:"notes,omitempty"`
}

// UpdateAmountRequest is the request to anchor a repayment to a new amount.
type UpdateAmountRequest struct {
	Amount string `json:"amount"`
}

// =============================================================================
// SAVINGS
// =============================================================================

// SavingsEntryDTO represents a savings record in API responses.
type SavingsEntryDTO struct {
	ID           int64  `json:"id"`
	IndividualID string `json:"individual_id"`
	Date         string `json:"date"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	Balance      string `json:"balance"`
	BatchID      string `json:"batch_id,omitempty"`
}

func toSavingsDTO(s *ledger.SavingsEntry) SavingsEntryDTO {
	return SavingsEntryDTO{
		ID:           s.ID,
		IndividualID: string(s.IndividualID),
		Date:         s.Date.Format("2006-01-02"),
		Type:         string(s.Type),
		Amount:       s.Amount.String(),
		Balance:      s.Balance.String(),
		BatchID:      s.BatchID,
	}
}

// SavingsMutationRequest is the request for a deposit or withdrawal.
type SavingsMutationRequest struct {
	Amount string `json:"amount"`
	Date   string `json:"date"`
}

// SavingsCatchUpRequest is the request to accrue monthly savings interest.
type SavingsCatchUpRequest struct {
	Rate   string `json:"rate"`
	Target string `json:"target"`
}

// =============================================================================
// SUMMARY / UNDO
// =============================================================================

// SummaryDTO aggregates a borrower's position.
type SummaryDTO struct {
	Individual       IndividualDTO `json:"individual"`
	Loans            []LoanDTO     `json:"loans"`
	TotalOutstanding string        `json:"total_outstanding"`
	SavingsBalance   string        `json:"savings_balance"`
	FYInterestEarned string        `json:"fy_interest_earned"`
	FYStart          string        `json:"fy_start"`
}

// UndoStateDTO describes what undo/redo would do next.
type UndoStateDTO struct {
	CanUndo bool   `json:"can_undo"`
	CanRedo bool   `json:"can_redo"`
	Undo    string `json:"undo,omitempty"`
	Redo    string `json:"redo,omitempty"`
}

// UndoResultDTO reports an executed undo/redo.
type UndoResultDTO struct {
	Command string `json:"command"`
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
