package api_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/api"
)

func loadScenario(t *testing.T, ts *testServer, id string) {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{
		"scenario_id": id,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListScenarios(t *testing.T) {
	ts := newTestServer(t)

	var list []api.ScenarioDTO
	resp := ts.do(t, http.MethodGet, "/api/scenarios", nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, list)
	for _, s := range list {
		assert.NotEmpty(t, s.ID)
		assert.NotEmpty(t, s.Description)
	}
}

func TestLoadScenario_Unknown(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{
		"scenario_id": "does-not-exist",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoadScenario_FreshPortfolio(t *testing.T) {
	// GIVEN: an empty server
	// WHEN: the fresh-portfolio scenario loads
	// THEN: both borrowers exist with replay-derived loan state

	ts := newTestServer(t)
	loadScenario(t, ts, "fresh-portfolio")

	var individuals []api.IndividualDTO
	resp := ts.do(t, http.MethodGet, "/api/individuals", nil, &individuals)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, individuals, 2)

	var l api.LoanDTO
	resp = ts.do(t, http.MethodGet, "/api/individuals/b-alice/loans/L-001", nil, &l)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "9000", l.Balance, "one installment collected")
	assert.Equal(t, "active", l.Status)

	var current api.ScenarioDTO
	resp = ts.do(t, http.MethodGet, "/api/scenarios/current", nil, &current)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fresh-portfolio", current.ID)
}

func TestLoadScenario_ResetsExistingData(t *testing.T) {
	// GIVEN: a server with live data and undo history
	// WHEN: any scenario loads
	// THEN: prior borrowers are gone and the undo stack is empty

	ts := newTestServer(t)
	ts.createBorrower(t, "ind-1", "Preexisting Borrower")
	ts.issueLoan(t, "ind-1")
	resp := ts.do(t, http.MethodPost, "/api/individuals/ind-1/loans/L-001/deduct", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []api.EntryDTO
	ts.do(t, http.MethodGet, "/api/individuals/ind-1/entries", nil, &entries)
	require.Len(t, entries, 3)
	resp = ts.do(t, http.MethodDelete, "/api/individuals/ind-1/entries/2", nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	loadScenario(t, ts, "fresh-portfolio")

	resp = ts.do(t, http.MethodGet, "/api/individuals/ind-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var state api.UndoStateDTO
	ts.do(t, http.MethodGet, "/api/undo/state", nil, &state)
	assert.False(t, state.CanUndo, "stale captures must not survive a reset")
	assert.False(t, state.CanRedo)
}

func TestLoadScenario_SettledLoan(t *testing.T) {
	ts := newTestServer(t)
	loadScenario(t, ts, "settled-loan")

	var loans []api.LoanDTO
	resp := ts.do(t, http.MethodGet, "/api/individuals/b-eve/loans", nil, &loans)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, loans, 2)
	assert.Equal(t, "paid", loans[0].Status)
	assert.Equal(t, "0", loans[0].Balance)
	assert.Equal(t, "active", loans[1].Status)
}

func TestLoadScenario_EditedLedger(t *testing.T) {
	// The anchored repayment is adopted as the new installment.

	ts := newTestServer(t)
	loadScenario(t, ts, "edited-ledger")

	var l api.LoanDTO
	resp := ts.do(t, http.MethodGet, "/api/individuals/b-dan/loans/L-001", nil, &l)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2000", l.Installment)

	var entries []api.EntryDTO
	ts.do(t, http.MethodGet, "/api/individuals/b-dan/entries", nil, &entries)
	anchored := 0
	for _, e := range entries {
		if e.Anchored {
			anchored++
		}
	}
	assert.Equal(t, 1, anchored)
}
