/*
store.go - Persistence contract the replay engine needs

PURPOSE:
  Defines the interface between the engine and the database: insert,
  point update, point delete, and "all entries for an individual, ordered
  by (date, id)" queries, for entries, loans, individuals and savings.

ORDERING CONTRACT:
  EntriesByIndividual and EntriesByLoan MUST return entries ordered by
  (date, id). Replay correctness depends on it.

ID CONTRACT:
  InsertEntry assigns a fresh monotonic id when e.ID == 0 and honors a
  pre-set id otherwise. The undo layer relies on the latter to re-insert
  deleted entries with their original ids.

TRANSACTIONS:
  Every single Store call is assumed atomic. Multi-call operations
  (mass catch-up, cascading deletes) are wrapped by the caller through
  TxStore.WithTx so an error mid-way leaves zero partial writes.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store (WAL, single writer)
  - ledger/store: in-memory store for tests and dev
*/
package ledger

import "context"

// Store handles persistence of ledger entries, loans, individuals and
// savings. The engine assumes exclusive access for the duration of a call;
// single-writer enforcement is the store's responsibility.
type Store interface {
	// Entries.
	InsertEntry(ctx context.Context, e *Entry) (int64, error)
	UpdateEntry(ctx context.Context, e *Entry) error
	DeleteEntry(ctx context.Context, id int64) error
	GetEntry(ctx context.Context, id int64) (*Entry, error)
	EntriesByIndividual(ctx context.Context, id IndividualID) ([]*Entry, error)
	EntriesByLoan(ctx context.Context, id IndividualID, ref string) ([]*Entry, error)
	EntriesByBatch(ctx context.Context, batchID string) ([]*Entry, error)

	// Loans.
	InsertLoan(ctx context.Context, l *Loan) (int64, error)
	UpdateLoan(ctx context.Context, l *Loan) error
	DeleteLoan(ctx context.Context, id IndividualID, ref string) error
	GetLoan(ctx context.Context, id IndividualID, ref string) (*Loan, error)
	LoansByIndividual(ctx context.Context, id IndividualID) ([]*Loan, error)

	// Individuals.
	InsertIndividual(ctx context.Context, ind *Individual) error
	UpdateIndividual(ctx context.Context, ind *Individual) error
	DeleteIndividual(ctx context.Context, id IndividualID) error
	GetIndividual(ctx context.Context, id IndividualID) (*Individual, error)
	ListIndividuals(ctx context.Context) ([]*Individual, error)

	// Savings.
	InsertSavings(ctx context.Context, s *SavingsEntry) (int64, error)
	UpdateSavings(ctx context.Context, s *SavingsEntry) error
	DeleteSavings(ctx context.Context, id int64) error
	SavingsByIndividual(ctx context.Context, id IndividualID) ([]*SavingsEntry, error)
	SavingsByBatch(ctx context.Context, batchID string) ([]*SavingsEntry, error)
}

// TxStore wraps Store with transaction support. Use it for operations that
// span multiple writes: if fn returns an error the whole transaction is
// rolled back, otherwise it is committed.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
