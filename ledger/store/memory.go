// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/lending-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	entries     map[int64]*ledger.Entry
	loans       map[loanKey]*ledger.Loan
	individuals map[ledger.IndividualID]*ledger.Individual
	savings     map[int64]*ledger.SavingsEntry

	nextEntryID   int64
	nextLoanID    int64
	nextSavingsID int64
}

type loanKey struct {
	Individual ledger.IndividualID
	Ref        string
}

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[int64]*ledger.Entry),
		loans:       make(map[loanKey]*ledger.Loan),
		individuals: make(map[ledger.IndividualID]*ledger.Individual),
		savings:     make(map[int64]*ledger.SavingsEntry),
	}
}

// =============================================================================
// ENTRIES
// =============================================================================

// InsertEntry assigns a fresh monotonic id when e.ID == 0 and honors a
// pre-set id otherwise (undo re-insertion).
func (m *Memory) InsertEntry(_ context.Context, e *ledger.Entry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertEntryLocked(e)
}

func (m *Memory) insertEntryLocked(e *ledger.Entry) (int64, error) {
	if e.ID == 0 {
		m.nextEntryID++
		e.ID = m.nextEntryID
	} else if e.ID > m.nextEntryID {
		m.nextEntryID = e.ID
	}
	m.entries[e.ID] = e.Clone()
	return e.ID, nil
}

func (m *Memory) UpdateEntry(_ context.Context, e *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.ID]; !ok {
		return ledger.ErrEntryNotFound
	}
	m.entries[e.ID] = e.Clone()
	return nil
}

func (m *Memory) DeleteEntry(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return ledger.ErrEntryNotFound
	}
	delete(m.entries, id)
	return nil
}

func (m *Memory) GetEntry(_ context.Context, id int64) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ledger.ErrEntryNotFound
	}
	return e.Clone(), nil
}

func (m *Memory) EntriesByIndividual(_ context.Context, id ledger.IndividualID) ([]*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*ledger.Entry
	for _, e := range m.entries {
		if e.IndividualID == id {
			result = append(result, e.Clone())
		}
	}
	ledger.SortEntries(result)
	return result, nil
}

func (m *Memory) EntriesByLoan(_ context.Context, id ledger.IndividualID, ref string) ([]*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*ledger.Entry
	for _, e := range m.entries {
		if e.IndividualID == id && e.LoanRef == ref {
			result = append(result, e.Clone())
		}
	}
	ledger.SortEntries(result)
	return result, nil
}

func (m *Memory) EntriesByBatch(_ context.Context, batchID string) ([]*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*ledger.Entry
	for _, e := range m.entries {
		if batchID != "" && e.BatchID == batchID {
			result = append(result, e.Clone())
		}
	}
	ledger.SortEntries(result)
	return result, nil
}

// =============================================================================
// LOANS
// =============================================================================

func (m *Memory) InsertLoan(_ context.Context, l *ledger.Loan) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == 0 {
		m.nextLoanID++
		l.ID = m.nextLoanID
	} else if l.ID > m.nextLoanID {
		m.nextLoanID = l.ID
	}
	m.loans[loanKey{l.IndividualID, l.Ref}] = l.Clone()
	return l.ID, nil
}

func (m *Memory) UpdateLoan(_ context.Context, l *ledger.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := loanKey{l.IndividualID, l.Ref}
	if _, ok := m.loans[k]; !ok {
		return ledger.ErrLoanNotFound
	}
	m.loans[k] = l.Clone()
	return nil
}

func (m *Memory) DeleteLoan(_ context.Context, id ledger.IndividualID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := loanKey{id, ref}
	if _, ok := m.loans[k]; !ok {
		return ledger.ErrLoanNotFound
	}
	delete(m.loans, k)
	return nil
}

func (m *Memory) GetLoan(_ context.Context, id ledger.IndividualID, ref string) (*ledger.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loans[loanKey{id, ref}]
	if !ok {
		return nil, ledger.ErrLoanNotFound
	}
	return l.Clone(), nil
}

func (m *Memory) LoansByIndividual(_ context.Context, id ledger.IndividualID) ([]*ledger.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*ledger.Loan
	for _, l := range m.loans {
		if l.IndividualID == id {
			result = append(result, l.Clone())
		}
	}
	sortLoans(result)
	return result, nil
}

func sortLoans(loans []*ledger.Loan) {
	sort.Slice(loans, func(i, j int) bool {
		return loans[i].Ref < loans[j].Ref
	})
}

// =============================================================================
// INDIVIDUALS
// =============================================================================

func (m *Memory) InsertIndividual(_ context.Context, ind *ledger.Individual) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ind
	m.individuals[ind.ID] = &cp
	return nil
}

func (m *Memory) UpdateIndividual(_ context.Context, ind *ledger.Individual) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.individuals[ind.ID]; !ok {
		return ledger.ErrIndividualNotFound
	}
	cp := *ind
	m.individuals[ind.ID] = &cp
	return nil
}

func (m *Memory) DeleteIndividual(_ context.Context, id ledger.IndividualID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.individuals[id]; !ok {
		return ledger.ErrIndividualNotFound
	}
	delete(m.individuals, id)
	return nil
}

func (m *Memory) GetIndividual(_ context.Context, id ledger.IndividualID) (*ledger.Individual, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ind, ok := m.individuals[id]
	if !ok {
		return nil, ledger.ErrIndividualNotFound
	}
	cp := *ind
	return &cp, nil
}

func (m *Memory) ListIndividuals(_ context.Context) ([]*ledger.Individual, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*ledger.Individual
	for _, ind := range m.individuals {
		cp := *ind
		result = append(result, &cp)
	}
	return result, nil
}

// =============================================================================
// SAVINGS
// =============================================================================

func (m *Memory) InsertSavings(_ context.Context, s *ledger.SavingsEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		m.nextSavingsID++
		s.ID = m.nextSavingsID
	} else if s.ID > m.nextSavingsID {
		m.nextSavingsID = s.ID
	}
	cp := *s
	m.savings[s.ID] = &cp
	return s.ID, nil
}

func (m *Memory) UpdateSavings(_ context.Context, s *ledger.SavingsEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.savings[s.ID]; !ok {
		return ledger.ErrSavingsNotFound
	}
	cp := *s
	m.savings[s.ID] = &cp
	return nil
}

func (m *Memory) DeleteSavings(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.savings[id]; !ok {
		return ledger.ErrSavingsNotFound
	}
	delete(m.savings, id)
	return nil
}

func (m *Memory) SavingsByIndividual(_ context.Context, id ledger.IndividualID) ([]*ledger.SavingsEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*ledger.SavingsEntry
	for _, s := range m.savings {
		if s.IndividualID == id {
			cp := *s
			result = append(result, &cp)
		}
	}
	ledger.SortSavings(result)
	return result, nil
}

func (m *Memory) SavingsByBatch(_ context.Context, batchID string) ([]*ledger.SavingsEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*ledger.SavingsEntry
	for _, s := range m.savings {
		if batchID != "" && s.BatchID == batchID {
			cp := *s
			result = append(result, &cp)
		}
	}
	ledger.SortSavings(result)
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support: WithTx snapshots the
// whole store and restores it if fn fails.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	snapshot := tm.snapshot()
	if err := fn(tm.Memory); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	entries     map[int64]*ledger.Entry
	loans       map[loanKey]*ledger.Loan
	individuals map[ledger.IndividualID]*ledger.Individual
	savings     map[int64]*ledger.SavingsEntry

	nextEntryID, nextLoanID, nextSavingsID int64
}

func (tm *TxMemory) snapshot() memorySnapshot {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	s := memorySnapshot{
		entries:       make(map[int64]*ledger.Entry, len(tm.entries)),
		loans:         make(map[loanKey]*ledger.Loan, len(tm.loans)),
		individuals:   make(map[ledger.IndividualID]*ledger.Individual, len(tm.individuals)),
		savings:       make(map[int64]*ledger.SavingsEntry, len(tm.savings)),
		nextEntryID:   tm.nextEntryID,
		nextLoanID:    tm.nextLoanID,
		nextSavingsID: tm.nextSavingsID,
	}
	for k, v := range tm.entries {
		s.entries[k] = v.Clone()
	}
	for k, v := range tm.loans {
		s.loans[k] = v.Clone()
	}
	for k, v := range tm.individuals {
		cp := *v
		s.individuals[k] = &cp
	}
	for k, v := range tm.savings {
		cp := *v
		s.savings[k] = &cp
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.entries = s.entries
	tm.loans = s.loans
	tm.individuals = s.individuals
	tm.savings = s.savings
	tm.nextEntryID = s.nextEntryID
	tm.nextLoanID = s.nextLoanID
	tm.nextSavingsID = s.nextSavingsID
}
