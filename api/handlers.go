/*
handlers.go - HTTP API handlers for the lending ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Individuals:
    GET    /api/individuals                    List borrowers
    POST   /api/individuals                    Create borrower
    GET    /api/individuals/{id}               Get borrower
    PUT    /api/individuals/{id}               Update borrower
    DELETE /api/individuals/{id}               Delete borrower
    GET    /api/individuals/{id}/summary       Position summary
    POST   /api/individuals/{id}/recalculate   Force full replay

  Loans:
    GET    /api/individuals/{id}/loans             List loans
    POST   /api/individuals/{id}/loans             Issue loan
    GET    /api/individuals/{id}/loans/{ref}       Get loan
    DELETE /api/individuals/{id}/loans/{ref}       Delete loan and entries
    POST   /api/individuals/{id}/loans/{ref}/topup
    POST   /api/individuals/{id}/loans/{ref}/restructure
    POST   /api/individuals/{id}/loans/{ref}/buyoff
    POST   /api/individuals/{id}/loans/{ref}/deduct    One period
    POST   /api/individuals/{id}/loans/{ref}/catchup   Through target date

  Entries:
    GET    /api/individuals/{id}/entries               History (?loan_ref=)
    PUT    /api/individuals/{id}/entries/{entryID}     Edit (anchors amount)
    DELETE /api/individuals/{id}/entries/{entryID}     Undoable delete
    PUT    /api/individuals/{id}/entries/{entryID}/amount  Anchor repayment

  Savings:
    GET    /api/individuals/{id}/savings
    POST   /api/individuals/{id}/savings/deposit
    POST   /api/individuals/{id}/savings/withdraw
    POST   /api/individuals/{id}/savings/catchup

  Admin:
    POST   /api/admin/catchup           Mass loan catch-up (undoable)
    POST   /api/admin/savings-catchup   Mass savings catch-up (undoable)

  Undo:
    GET    /api/undo/state
    POST   /api/undo
    POST   /api/redo

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Inactive loan, cancelled batch
  - 500: Internal errors

CANCELLATION:
  Batch endpoints poll the request context between periods: a client
  disconnect aborts the batch before commit, leaving zero partial writes.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - undo: the command layer behind delete and mass catch-up
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/loan"
	"github.com/warp/lending-engine/txn"
	"github.com/warp/lending-engine/undo"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   ledger.TxStore
	Recalc  *ledger.Recalculator
	Loans   *loan.Service
	Txn     *txn.Manager
	Undo    *undo.Manager
	Metrics *Metrics

	// FYStartMonth is the first month of the financial year (1-12), used
	// by the summary endpoint's interest-earned figure.
	FYStartMonth int

	Log *zap.Logger

	// currentScenario tracks the last demo scenario loaded, if any.
	currentScenario string
}

// NewHandler creates a handler over fully-constructed services.
func NewHandler(store ledger.TxStore, recalc *ledger.Recalculator, loans *loan.Service, txm *txn.Manager, undoMgr *undo.Manager, metrics *Metrics, fyStartMonth int, log *zap.Logger) *Handler {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if fyStartMonth < 1 || fyStartMonth > 12 {
		fyStartMonth = 1
	}
	return &Handler{
		Store:        store,
		Recalc:       recalc,
		Loans:        loans,
		Txn:          txm,
		Undo:         undoMgr,
		Metrics:      metrics,
		FYStartMonth: fyStartMonth,
		Log:          log,
	}
}

// =============================================================================
// INDIVIDUAL HANDLERS
// =============================================================================

// ListIndividuals returns all borrowers.
func (h *Handler) ListIndividuals(w http.ResponseWriter, r *http.Request) {
	individuals, err := h.Store.ListIndividuals(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list individuals", err)
		return
	}
	dtos := make([]IndividualDTO, len(individuals))
	for i, ind := range individuals {
		dtos[i] = toIndividualDTO(ind)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateIndividual creates a borrower.
func (h *Handler) CreateIndividual(w http.ResponseWriter, r *http.Request) {
	var req CreateIndividualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	ind := &ledger.Individual{
		ID:               ledger.IndividualID(req.ID),
		Name:             req.Name,
		Phone:            req.Phone,
		DefaultDeduction: decimal.Zero,
	}
	if err := h.Store.InsertIndividual(r.Context(), ind); err != nil {
		writeDomainError(w, "Failed to create individual", err)
		return
	}
	writeJSON(w, http.StatusCreated, toIndividualDTO(ind))
}

// GetIndividual returns a single borrower.
func (h *Handler) GetIndividual(w http.ResponseWriter, r *http.Request) {
	ind, err := h.Store.GetIndividual(r.Context(), pathID(r))
	if err != nil {
		writeDomainError(w, "Failed to get individual", err)
		return
	}
	writeJSON(w, http.StatusOK, toIndividualDTO(ind))
}

// UpdateIndividual updates a borrower's identity fields.
func (h *Handler) UpdateIndividual(w http.ResponseWriter, r *http.Request) {
	var req CreateIndividualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ind, err := h.Store.GetIndividual(r.Context(), pathID(r))
	if err != nil {
		writeDomainError(w, "Failed to get individual", err)
		return
	}
	if req.Name != "" {
		ind.Name = req.Name
	}
	ind.Phone = req.Phone
	if err := h.Store.UpdateIndividual(r.Context(), ind); err != nil {
		writeDomainError(w, "Failed to update individual", err)
		return
	}
	writeJSON(w, http.StatusOK, toIndividualDTO(ind))
}

// DeleteIndividual removes a borrower record.
func (h *Handler) DeleteIndividual(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteIndividual(r.Context(), pathID(r)); err != nil {
		writeDomainError(w, "Failed to delete individual", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSummary aggregates a borrower's position, including interest earned
// in the current financial year.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := pathID(r)

	ind, err := h.Store.GetIndividual(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to get individual", err)
		return
	}
	loans, err := h.Store.LoansByIndividual(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to load loans", err)
		return
	}
	savings, err := h.Recalc.SavingsBalance(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to load savings", err)
		return
	}

	fyStart := financialYearStart(time.Now().UTC(), h.FYStartMonth)
	fyInterest, err := h.interestEarnedSince(ctx, id, fyStart)
	if err != nil {
		writeDomainError(w, "Failed to sum interest", err)
		return
	}

	outstanding := decimal.Zero
	dtos := make([]LoanDTO, len(loans))
	for i, l := range loans {
		dtos[i] = toLoanDTO(l)
		outstanding = outstanding.Add(l.TotalDebt())
	}

	writeJSON(w, http.StatusOK, SummaryDTO{
		Individual:       toIndividualDTO(ind),
		Loans:            dtos,
		TotalOutstanding: outstanding.String(),
		SavingsBalance:   savings.String(),
		FYInterestEarned: fyInterest.String(),
		FYStart:          fyStart.Format("2006-01-02"),
	})
}

// Recalculate forces the full replay chain for one borrower.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := pathID(r)
	started := time.Now()

	err := func() error {
		loans, err := h.Store.LoansByIndividual(ctx, id)
		if err != nil {
			return err
		}
		for _, l := range loans {
			if err := h.Recalc.RecalculateLoanHistory(ctx, id, l.Ref); err != nil {
				return err
			}
		}
		if err := h.Recalc.RecalculateBalances(ctx, id); err != nil {
			return err
		}
		if err := h.Recalc.RecalculateSavings(ctx, id); err != nil {
			return err
		}
		return h.Recalc.RecalculateDefaultDeduction(ctx, id)
	}()
	h.Metrics.RecordOperation("recalculate", err, time.Since(started))
	if err != nil {
		writeDomainError(w, "Failed to recalculate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// ListLoans returns all loans of a borrower.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.Store.LoansByIndividual(r.Context(), pathID(r))
	if err != nil {
		writeDomainError(w, "Failed to list loans", err)
		return
	}
	dtos := make([]LoanDTO, len(loans))
	for i, l := range loans {
		dtos[i] = toLoanDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// IssueLoan issues a new flat-rate loan.
func (h *Handler) IssueLoan(w http.ResponseWriter, r *http.Request) {
	var req IssueLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	principal, err := parseDecimal(req.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid principal", err)
		return
	}
	rate, err := parseDecimal(req.Rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rate", err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	started := time.Now()
	l, err := h.Loans.Issue(r.Context(), loan.IssueInput{
		IndividualID: pathID(r),
		Principal:    principal,
		Duration:     req.Duration,
		Rate:         rate,
		Date:         date,
		Notes:        req.Notes,
	})
	h.Metrics.RecordOperation("issue", err, time.Since(started))
	if err != nil {
		writeDomainError(w, "Failed to issue loan", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanDTO(l))
}

// GetLoan returns one loan.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	l, err := h.Store.GetLoan(r.Context(), pathID(r), chi.URLParam(r, "ref"))
	if err != nil {
		writeDomainError(w, "Failed to get loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// DeleteLoan removes a loan and all of its entries.
func (h *Handler) DeleteLoan(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	err := h.Loans.Delete(r.Context(), pathID(r), chi.URLParam(r, "ref"))
	h.Metrics.RecordOperation("delete_loan", err, time.Since(started))
	if err != nil {
		writeDomainError(w, "Failed to delete loan", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TopUpLoan adds capital to an active loan.
func (h *Handler) TopUpLoan(w http.ResponseWriter, r *http.Request) {
	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseDecimal(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	started := time.Now()
	l, err := h.Loans.TopUp(r.Context(), pathID(r), chi.URLParam(r, "ref"), amount, req.Duration, date)
	h.Metrics.RecordOperation("top_up", err, time.Since(started))
	if err != nil {
		writeDomainError(w, "Failed to top up loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// RestructureLoan respreads a loan over a new duration.
func (h *Handler) RestructureLoan(w http.ResponseWriter, r *http.Request) {
	var req RestructureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	var rate *decimal.Decimal
	if req.Rate != nil {
		d, err := parseDecimal(*req.Rate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid rate", err)
			return
		}
		rate = &d
	}

	started := time.Now()
	l, err := h.Loans.Restructure(r.Context(), pathID(r), chi.URLParam(r, "ref"), req.Duration, rate, date)
	h.Metrics.RecordOperation("restructure", err, time.Since(started))
	if err != nil {
		writeDomainError(w, "Failed to restructure loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// BuyoffLoan settles a loan in full.
func (h *Handler) BuyoffLoan(w http.ResponseWriter, r *http.Request) {
	var req BuyoffRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	var date *time.Time
	if req.Date != "" {
		d, err := parseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		date = &d
	}

	started := time.Now()
	l, err := h.Loans.Buyoff(r.Context(), pathID(r), chi.URLParam(r, "ref"), date)
	h.Metrics.RecordOperation("buyoff", err, time.Since(started))
	if err != nil {
		writeDomainError(w, "Failed to buy off loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// DeductLoan runs one scheduled period: accrue, then collect one
// installment.
func (h *Handler) DeductLoan(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	ref := chi.URLParam(r, "ref")

	started := time.Now()
	err := h.Loans.AccrueAndCollect(r.Context(), id, ref)
	h.Metrics.RecordOperation("deduct", err, time.Since(started))
	if err != nil {
		writeDomainError(w, "Failed to run deduction", err)
		return
	}

	l, err := h.Store.GetLoan(r.Context(), id, ref)
	if err != nil {
		writeDomainError(w, "Failed to reload loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// CatchUpLoan advances one loan through all periods up to the target date.
func (h *Handler) CatchUpLoan(w http.ResponseWriter, r *http.Request) {
	var req CatchUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	target, err := parseDate(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid target date (use YYYY-MM-DD)", err)
		return
	}

	ctx := r.Context()
	started := time.Now()
	var (
		batchID string
		periods int
	)
	// One transaction for the whole batch: a cancelled or failed run
	// commits nothing.
	err = h.Store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		batchID, periods, err = h.Loans.WithStore(tx).CatchUp(ctx, pathID(r), chi.URLParam(r, "ref"), target, cancelFromContext(ctx))
		return err
	})
	h.Metrics.RecordOperation("catch_up", err, time.Since(started))
	if err != nil {
		writeDomainError(w, "Failed to catch up loan", err)
		return
	}
	writeJSON(w, http.StatusOK, CatchUpResponse{BatchID: batchID, Periods: periods})
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// ListEntries returns a borrower's ledger history, optionally filtered to
// one loan via ?loan_ref=.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	var (
		entries []*ledger.Entry
		err     error
	)
	if ref := r.URL.Query().Get("loan_ref"); ref != "" {
		entries, err = h.Store.EntriesByLoan(r.Context(), pathID(r), ref)
	} else {
		entries, err = h.Store.EntriesByIndividual(r.Context(), pathID(r))
	}
	if err != nil {
		writeDomainError(w, "Failed to list entries", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// EditEntry mutates an entry. A changed amount anchors the entry and
// triggers the anchor-aware replay.
func (h *Handler) EditEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := pathEntryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry id", err)
		return
	}
	var req EditEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var in txn.EditInput
	if req.Date != nil {
		d, err := parseDate(*req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		in.Date = &d
	}
	if req.Amount != nil {
		a, err := parseDecimal(*req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount", err)
			return
		}
		in.Amount = &a
	}
	in.Notes = req.Notes

	started := time.Now()
	err = h.Txn.EditEntry(r.Context(), pathID(r), entryID, in)
	h.Metrics.RecordOperation("edit_entry", err, time.Since(started))
	if err != nil {
		writeDomainError(w, "Failed to edit entry", err)
		return
	}

	e, err := h.Store.GetEntry(r.Context(), entryID)
	if err != nil {
		writeDomainError(w, "Failed to reload entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(e))
}

// DeleteEntry deletes an entry through the undoable command layer.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := pathEntryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry id", err)
		return
	}

	cmd := undo.NewDeleteEntryCommand(h.Store, h.Txn, h.Recalc, pathID(r), entryID)
	started := time.Now()
	err = h.Undo.Execute(r.Context(), cmd)
	h.Metrics.RecordOperation("delete_entry", err, time.Since(started))
	h.Metrics.SetUndoDepth(h.Undo.Depth())
	if err != nil {
		writeDomainError(w, "Failed to delete entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateRepaymentAmount anchors a repayment to a new amount and settles
// the ledger around it.
func (h *Handler) UpdateRepaymentAmount(w http.ResponseWriter, r *http.Request) {
	entryID, err := pathEntryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry id", err)
		return
	}
	var req UpdateAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseDecimal(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	started := time.Now()
	err = h.Txn.UpdateRepaymentAmount(r.Context(), pathID(r), entryID, amount)
	h.Metrics.RecordOperation("update_repayment_amount", err, time.Since(started))
	if err != nil {
		writeDomainError(w, "Failed to update repayment amount", err)
		return
	}

	e, err := h.Store.GetEntry(r.Context(), entryID)
	if err != nil {
		writeDomainError(w, "Failed to reload entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(e))
}

// =============================================================================
// SAVINGS HANDLERS
// =============================================================================

// ListSavings returns a borrower's savings history.
func (h *Handler) ListSavings(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.SavingsByIndividual(r.Context(), pathID(r))
	if err != nil {
		writeDomainError(w, "Failed to list savings", err)
		return
	}
	dtos := make([]SavingsEntryDTO, len(entries))
	for i, s := range entries {
		dtos[i] = toSavingsDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Deposit records a savings deposit.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.savingsMutation(w, r, h.Loans.Deposit)
}

// Withdraw records a savings withdrawal.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.savingsMutation(w, r, h.Loans.Withdraw)
}

func (h *Handler) savingsMutation(w http.ResponseWriter, r *http.Request, op func(context.Context, ledger.IndividualID, decimal.Decimal, time.Time) (*ledger.SavingsEntry, error)) {
	var req SavingsMutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseDecimal(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	started := time.Now()
	entry, err := op(r.Context(), pathID(r), amount, date)
	h.Metrics.RecordOperation("savings_mutation", err, time.Since(started))
	if err != nil {
		writeDomainError(w, "Failed to record savings entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSavingsDTO(entry))
}

// SavingsCatchUp accrues monthly savings interest for one borrower.
func (h *Handler) SavingsCatchUp(w http.ResponseWriter, r *http.Request) {
	var req SavingsCatchUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rate, err := parseDecimal(req.Rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rate", err)
		return
	}
	target, err := parseDate(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid target date (use YYYY-MM-DD)", err)
		return
	}

	ctx := r.Context()
	started := time.Now()
	var (
		batchID string
		periods int
	)
	err = h.Store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		batchID, periods, err = h.Loans.WithStore(tx).SavingsCatchUp(ctx, pathID(r), rate, target, cancelFromContext(ctx))
		return err
	})
	h.Metrics.RecordOperation("savings_catch_up", err, time.Since(started))
	if err != nil {
		writeDomainError(w, "Failed to catch up savings", err)
		return
	}
	writeJSON(w, http.StatusOK, CatchUpResponse{BatchID: batchID, Periods: periods})
}

// =============================================================================
// ADMIN HANDLERS (mass operations, undoable)
// =============================================================================

// MassCatchUp advances every active loan of every borrower to the target
// date as one undoable batch.
func (h *Handler) MassCatchUp(w http.ResponseWriter, r *http.Request) {
	var req CatchUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	target, err := parseDate(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid target date (use YYYY-MM-DD)", err)
		return
	}

	ctx := r.Context()
	cmd := undo.NewMassLoanCatchUpCommand(h.Store, h.Loans, h.Recalc, target, cancelFromContext(ctx), h.Log)
	started := time.Now()
	err = h.Undo.Execute(ctx, cmd)
	h.Metrics.RecordOperation("mass_catch_up", err, time.Since(started))
	h.Metrics.SetUndoDepth(h.Undo.Depth())
	if err != nil {
		writeDomainError(w, "Failed to run mass catch-up", err)
		return
	}
	writeJSON(w, http.StatusOK, UndoResultDTO{Command: cmd.Description()})
}

// MassSavingsCatchUp accrues savings interest for every borrower as one
// undoable batch.
func (h *Handler) MassSavingsCatchUp(w http.ResponseWriter, r *http.Request) {
	var req SavingsCatchUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rate, err := parseDecimal(req.Rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rate", err)
		return
	}
	target, err := parseDate(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid target date (use YYYY-MM-DD)", err)
		return
	}

	ctx := r.Context()
	cmd := undo.NewMassSavingsCatchUpCommand(h.Store, h.Loans, h.Recalc, rate, target, cancelFromContext(ctx), h.Log)
	started := time.Now()
	err = h.Undo.Execute(ctx, cmd)
	h.Metrics.RecordOperation("mass_savings_catch_up", err, time.Since(started))
	h.Metrics.SetUndoDepth(h.Undo.Depth())
	if err != nil {
		writeDomainError(w, "Failed to run mass savings catch-up", err)
		return
	}
	writeJSON(w, http.StatusOK, UndoResultDTO{Command: cmd.Description()})
}

// =============================================================================
// UNDO HANDLERS
// =============================================================================

// UndoState reports what undo/redo would do next.
func (h *Handler) UndoState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, UndoStateDTO{
		CanUndo: h.Undo.CanUndo(),
		CanRedo: h.Undo.CanRedo(),
		Undo:    h.Undo.UndoDescription(),
		Redo:    h.Undo.RedoDescription(),
	})
}

// UndoLast reverses the most recent undoable command.
func (h *Handler) UndoLast(w http.ResponseWriter, r *http.Request) {
	desc, err := h.Undo.Undo(r.Context())
	h.Metrics.SetUndoDepth(h.Undo.Depth())
	if err != nil {
		if errors.Is(err, undo.ErrNothingToUndo) {
			writeError(w, http.StatusConflict, "Nothing to undo", nil)
			return
		}
		writeDomainError(w, "Failed to undo", err)
		return
	}
	writeJSON(w, http.StatusOK, UndoResultDTO{Command: desc})
}

// RedoLast re-applies the most recently undone command.
func (h *Handler) RedoLast(w http.ResponseWriter, r *http.Request) {
	desc, err := h.Undo.Redo(r.Context())
	h.Metrics.SetUndoDepth(h.Undo.Depth())
	if err != nil {
		if errors.Is(err, undo.ErrNothingToRedo) {
			writeError(w, http.StatusConflict, "Nothing to redo", nil)
			return
		}
		writeDomainError(w, "Failed to redo", err)
		return
	}
	writeJSON(w, http.StatusOK, UndoResultDTO{Command: desc})
}

// =============================================================================
// HELPERS
// =============================================================================

func pathID(r *http.Request) ledger.IndividualID {
	return ledger.IndividualID(chi.URLParam(r, "id"))
}

func pathEntryID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// cancelFromContext adapts a request context into the batch cancel
// callback: a client disconnect aborts the batch before commit.
func cancelFromContext(ctx context.Context) func() error {
	return func() error {
		return ctx.Err()
	}
}

// financialYearStart returns the start of the financial year containing t.
func financialYearStart(t time.Time, startMonth int) time.Time {
	year := t.Year()
	if int(t.Month()) < startMonth {
		year--
	}
	return time.Date(year, time.Month(startMonth), 1, 0, 0, 0, 0, time.UTC)
}

// interestEarnedSince sums recognized interest accruals from the given date.
func (h *Handler) interestEarnedSince(ctx context.Context, id ledger.IndividualID, since time.Time) (decimal.Decimal, error) {
	entries, err := h.Store.EntriesByIndividual(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range entries {
		if e.Event == ledger.EventInterestEarned && !e.Date.Before(since) {
			total = total.Add(e.Added)
		}
	}
	return total, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrLoanInactive), errors.Is(err, ledger.ErrCancelled):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
