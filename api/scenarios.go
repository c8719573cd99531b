/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates borrowers, loans,
	ledger entries and savings that demonstrate specific features.

AVAILABLE SCENARIOS:

	fresh-portfolio:   Two borrowers with recently issued loans + savings
	seasoned-borrower: Loan serviced for months, then topped up mid-term
	edited-ledger:     A repayment anchored to a custom amount, terms re-derived
	settled-loan:      A loan bought off early alongside an active one

HOW SCENARIOS WORK:
 1. Reset database (clear all data, drop the undo history)
 2. Create borrowers
 3. Issue loans through the service layer so every entry is replay-derived
 4. Optionally advance periods, top up, anchor amounts or buy off

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "seasoned-borrower"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: route handlers the scenarios feed
  - loan/service.go: the operations scenarios are built from
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/loan"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-portfolio",
		Name:        "Fresh Portfolio",
		Description: "Two borrowers with newly issued loans and a savings account",
		Category:    "loans",
	},
	{
		ID:          "seasoned-borrower",
		Name:        "Seasoned Borrower",
		Description: "Months of deductions followed by a mid-term top-up",
		Category:    "loans",
	},
	{
		ID:          "edited-ledger",
		Name:        "Edited Ledger",
		Description: "A repayment anchored to a custom amount with re-derived terms",
		Category:    "loans",
	},
	{
		ID:          "settled-loan",
		Name:        "Settled Loan",
		Description: "An early buyoff next to a still-active loan",
		Category:    "loans",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	// Scenario ID exists but not in list (shouldn't happen)
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.resetAll(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.Undo.Clear()
	h.currentScenario = "" // Clear current scenario on reset

	var err error
	switch req.ScenarioID {
	case "fresh-portfolio":
		err = h.loadFreshPortfolioScenario(ctx)
	case "seasoned-borrower":
		err = h.loadSeasonedBorrowerScenario(ctx)
	case "edited-ledger":
		err = h.loadEditedLedgerScenario(ctx)
	case "settled-loan":
		err = h.loadSettledLoanScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// resetAll wipes every borrower with their loans, entries and savings in
// one transaction.
func (h *Handler) resetAll(ctx context.Context) error {
	return h.Store.WithTx(ctx, func(s ledger.Store) error {
		individuals, err := s.ListIndividuals(ctx)
		if err != nil {
			return err
		}
		for _, ind := range individuals {
			entries, err := s.EntriesByIndividual(ctx, ind.ID)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if err := s.DeleteEntry(ctx, e.ID); err != nil {
					return err
				}
			}

			loans, err := s.LoansByIndividual(ctx, ind.ID)
			if err != nil {
				return err
			}
			for _, l := range loans {
				if err := s.DeleteLoan(ctx, ind.ID, l.Ref); err != nil {
					return err
				}
			}

			savings, err := s.SavingsByIndividual(ctx, ind.ID)
			if err != nil {
				return err
			}
			for _, sv := range savings {
				if err := s.DeleteSavings(ctx, sv.ID); err != nil {
					return err
				}
			}

			if err := s.DeleteIndividual(ctx, ind.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// monthsAgo returns midnight UTC n months before today. Scenario dates are
// relative so demo data always looks current.
func monthsAgo(n int) time.Time {
	now := time.Now().UTC()
	t := time.Date(now.Year(), now.Month(), 15, 0, 0, 0, 0, time.UTC)
	return t.AddDate(0, -n, 0)
}

func (h *Handler) createBorrower(ctx context.Context, id, name, phone string) error {
	return h.Store.InsertIndividual(ctx, &ledger.Individual{
		ID:               ledger.IndividualID(id),
		Name:             name,
		Phone:            phone,
		DefaultDeduction: decimal.Zero,
	})
}

func (h *Handler) loadFreshPortfolioScenario(ctx context.Context) error {
	if err := h.createBorrower(ctx, "b-alice", "Alice Johnson", "555-0101"); err != nil {
		return err
	}
	if err := h.createBorrower(ctx, "b-brian", "Brian Okafor", "555-0102"); err != nil {
		return err
	}

	// Alice: 10,000 over 10 months at 15%, issued last month, one
	// deduction already taken.
	_, err := h.Loans.Issue(ctx, loan.IssueInput{
		IndividualID: "b-alice",
		Principal:    decimal.NewFromInt(10000),
		Duration:     10,
		Rate:         decimal.NewFromFloat(0.15),
		Date:         monthsAgo(1),
		Notes:        "Working capital",
	})
	if err != nil {
		return err
	}
	if err := h.Loans.AccrueAndCollect(ctx, "b-alice", "L-001"); err != nil {
		return err
	}

	// Brian: smaller loan issued this month, nothing collected yet.
	_, err = h.Loans.Issue(ctx, loan.IssueInput{
		IndividualID: "b-brian",
		Principal:    decimal.NewFromInt(4000),
		Duration:     6,
		Rate:         decimal.NewFromFloat(0.15),
		Date:         monthsAgo(0),
		Notes:        "School fees over 6 months",
	})
	if err != nil {
		return err
	}

	// Brian also saves.
	if _, err := h.Loans.Deposit(ctx, "b-brian", decimal.NewFromInt(500), monthsAgo(1)); err != nil {
		return err
	}
	_, err = h.Loans.Deposit(ctx, "b-brian", decimal.NewFromInt(250), monthsAgo(0))
	return err
}

func (h *Handler) loadSeasonedBorrowerScenario(ctx context.Context) error {
	if err := h.createBorrower(ctx, "b-carol", "Carol Davis", "555-0103"); err != nil {
		return err
	}

	// Issued eight months ago, serviced up to four months ago, then
	// topped up and serviced again to the present.
	_, err := h.Loans.Issue(ctx, loan.IssueInput{
		IndividualID: "b-carol",
		Principal:    decimal.NewFromInt(12000),
		Duration:     12,
		Rate:         decimal.NewFromFloat(0.15),
		Date:         monthsAgo(8),
	})
	if err != nil {
		return err
	}
	if _, _, err := h.Loans.CatchUp(ctx, "b-carol", "L-001", monthsAgo(4), nil); err != nil {
		return err
	}
	if _, err := h.Loans.TopUp(ctx, "b-carol", "L-001", decimal.NewFromInt(5000), 10, monthsAgo(4)); err != nil {
		return err
	}
	_, _, err = h.Loans.CatchUp(ctx, "b-carol", "L-001", monthsAgo(0), nil)
	return err
}

func (h *Handler) loadEditedLedgerScenario(ctx context.Context) error {
	if err := h.createBorrower(ctx, "b-dan", "Dan Wilson", "555-0104"); err != nil {
		return err
	}

	_, err := h.Loans.Issue(ctx, loan.IssueInput{
		IndividualID: "b-dan",
		Principal:    decimal.NewFromInt(10000),
		Duration:     10,
		Rate:         decimal.NewFromFloat(0.15),
		Date:         monthsAgo(3),
	})
	if err != nil {
		return err
	}
	if _, _, err := h.Loans.CatchUp(ctx, "b-dan", "L-001", monthsAgo(1), nil); err != nil {
		return err
	}

	// Dan paid extra on his last installment: anchor the repayment so
	// the new amount survives every future replay and the remaining
	// schedule is re-derived around it.
	entries, err := h.Store.EntriesByLoan(ctx, "b-dan", "L-001")
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Event == ledger.EventRepayment {
			return h.Txn.UpdateRepaymentAmount(ctx, "b-dan", entries[i].ID, decimal.NewFromInt(2000))
		}
	}
	return fmt.Errorf("edited-ledger: no repayment to anchor")
}

func (h *Handler) loadSettledLoanScenario(ctx context.Context) error {
	if err := h.createBorrower(ctx, "b-eve", "Eve Martinez", "555-0105"); err != nil {
		return err
	}

	// First loan: serviced for two months, then bought off early. The
	// buyoff realizes the remaining unearned interest on its date.
	_, err := h.Loans.Issue(ctx, loan.IssueInput{
		IndividualID: "b-eve",
		Principal:    decimal.NewFromInt(6000),
		Duration:     6,
		Rate:         decimal.NewFromFloat(0.15),
		Date:         monthsAgo(5),
	})
	if err != nil {
		return err
	}
	if _, _, err := h.Loans.CatchUp(ctx, "b-eve", "L-001", monthsAgo(3), nil); err != nil {
		return err
	}
	buyoffDate := monthsAgo(2)
	if _, err := h.Loans.Buyoff(ctx, "b-eve", "L-001", &buyoffDate); err != nil {
		return err
	}

	// Second loan issued after settlement, still active.
	_, err = h.Loans.Issue(ctx, loan.IssueInput{
		IndividualID: "b-eve",
		Principal:    decimal.NewFromInt(8000),
		Duration:     8,
		Rate:         decimal.NewFromFloat(0.15),
		Date:         monthsAgo(1),
	})
	return err
}
