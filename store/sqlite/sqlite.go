/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Production persistence for entries, loans, individuals and savings. The
  same SQL applies nearly unchanged to PostgreSQL - only minor dialect
  differences.

KEY TABLES:
  entries:     The loan ledger. Decimals stored as TEXT to keep exact
               precision; previous_state is an opaque snapshot BLOB.
  loans:       Cached terms per loan, UNIQUE(individual_id, ref). All
               mutable columns are derived - the replay passes own them.
  individuals: Borrower records with the materialized default deduction.
  savings:     Independent savings ledger.

ORDERING:
  Every list query orders by (date, id). Replay correctness depends on it.

ID HANDLING:
  InsertEntry writes an explicit id when the caller pre-set one (undo
  re-insertion) and lets SQLite assign the rowid otherwise.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definition and contracts
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/lending-engine/ledger"
)

// runner abstracts *sql.DB and *sql.Tx so every query works both inside
// and outside a transaction.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// querier implements ledger.Store against any runner.
type querier struct {
	db runner
}

// Store is the SQLite-backed ledger.TxStore.
type Store struct {
	querier
	sqlDB *sql.DB

	// Serializes WithTx blocks: SQLite allows one writer and the engine's
	// multi-statement operations must not interleave.
	txMu sync.Mutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{querier: querier{db: db}, sqlDB: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Individuals (borrowers)
	CREATE TABLE IF NOT EXISTS individuals (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		default_deduction TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	-- Loans (cached terms; replay passes are authoritative)
	CREATE TABLE IF NOT EXISTS loans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		individual_id TEXT NOT NULL,
		ref TEXT NOT NULL,
		principal TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		balance TEXT NOT NULL,
		installment TEXT NOT NULL,
		monthly_interest TEXT NOT NULL,
		unearned_interest TEXT NOT NULL,
		interest_balance TEXT NOT NULL,
		next_due_date TEXT NOT NULL,
		status TEXT NOT NULL,
		UNIQUE(individual_id, ref)
	);

	CREATE INDEX IF NOT EXISTS idx_loans_individual
		ON loans(individual_id);

	-- Entries (the loan ledger)
	CREATE TABLE IF NOT EXISTS entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		individual_id TEXT NOT NULL,
		loan_ref TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		event TEXT NOT NULL,
		added TEXT NOT NULL DEFAULT '0',
		deducted TEXT NOT NULL DEFAULT '0',
		balance TEXT NOT NULL DEFAULT '0',
		principal_balance TEXT NOT NULL DEFAULT '0',
		interest_balance TEXT NOT NULL DEFAULT '0',
		gross_balance TEXT NOT NULL DEFAULT '0',
		principal_portion TEXT NOT NULL DEFAULT '0',
		interest_portion TEXT NOT NULL DEFAULT '0',
		interest_amount TEXT NOT NULL DEFAULT '0',
		installment TEXT NOT NULL DEFAULT '0',
		duration INTEGER NOT NULL DEFAULT 0,
		anchor_set BOOLEAN NOT NULL DEFAULT FALSE,
		anchor_target TEXT NOT NULL DEFAULT '0',
		notes TEXT NOT NULL DEFAULT '',
		previous_state BLOB,
		batch_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Replay hot path: all entries of an individual in (date, id) order
	CREATE INDEX IF NOT EXISTS idx_entries_individual_date
		ON entries(individual_id, date, id);
	CREATE INDEX IF NOT EXISTS idx_entries_loan
		ON entries(individual_id, loan_ref, date, id);
	CREATE INDEX IF NOT EXISTS idx_entries_batch
		ON entries(batch_id) WHERE batch_id != '';

	-- Savings (independent ledger)
	CREATE TABLE IF NOT EXISTS savings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		individual_id TEXT NOT NULL,
		date TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		batch_id TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_savings_individual_date
		ON savings(individual_id, date, id);
	CREATE INDEX IF NOT EXISTS idx_savings_batch
		ON savings(batch_id) WHERE batch_id != '';
	`

	_, err := s.sqlDB.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (ledger.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. fn's store argument
// routes every query through the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&querier{db: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// ENTRIES
// =============================================================================

const entryColumns = `id, individual_id, loan_ref, date, event, added, deducted,
	balance, principal_balance, interest_balance, gross_balance,
	principal_portion, interest_portion, interest_amount, installment,
	duration, anchor_set, anchor_target, notes, previous_state, batch_id, created_at`

func (q *querier) InsertEntry(ctx context.Context, e *ledger.Entry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	args := []any{
		string(e.IndividualID), e.LoanRef, e.Date.Format(time.RFC3339), string(e.Event),
		e.Added.String(), e.Deducted.String(),
		e.Balance.String(), e.PrincipalBalance.String(), e.InterestBalance.String(), e.GrossBalance.String(),
		e.PrincipalPortion.String(), e.InterestPortion.String(), e.InterestAmount.String(), e.Installment.String(),
		e.Duration, e.Anchor.Set, e.Anchor.Target.String(), e.Notes,
		e.PreviousState, e.BatchID, e.CreatedAt.Format(time.RFC3339),
	}

	if e.ID != 0 {
		// Explicit id: undo re-insertion restoring the original ordering.
		query := `INSERT INTO entries (` + entryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := q.db.ExecContext(ctx, query, append([]any{e.ID}, args...)...); err != nil {
			return 0, fmt.Errorf("failed to insert entry %d: %w", e.ID, err)
		}
		return e.ID, nil
	}

	query := `
		INSERT INTO entries (individual_id, loan_ref, date, event, added, deducted,
			balance, principal_balance, interest_balance, gross_balance,
			principal_portion, interest_portion, interest_amount, installment,
			duration, anchor_set, anchor_target, notes, previous_state, batch_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted entry id: %w", err)
	}
	e.ID = id
	return id, nil
}

func (q *querier) UpdateEntry(ctx context.Context, e *ledger.Entry) error {
	query := `
		UPDATE entries SET
			individual_id = ?, loan_ref = ?, date = ?, event = ?,
			added = ?, deducted = ?,
			balance = ?, principal_balance = ?, interest_balance = ?, gross_balance = ?,
			principal_portion = ?, interest_portion = ?, interest_amount = ?, installment = ?,
			duration = ?, anchor_set = ?, anchor_target = ?, notes = ?,
			previous_state = ?, batch_id = ?
		WHERE id = ?
	`
	res, err := q.db.ExecContext(ctx, query,
		string(e.IndividualID), e.LoanRef, e.Date.Format(time.RFC3339), string(e.Event),
		e.Added.String(), e.Deducted.String(),
		e.Balance.String(), e.PrincipalBalance.String(), e.InterestBalance.String(), e.GrossBalance.String(),
		e.PrincipalPortion.String(), e.InterestPortion.String(), e.InterestAmount.String(), e.Installment.String(),
		e.Duration, e.Anchor.Set, e.Anchor.Target.String(), e.Notes,
		e.PreviousState, e.BatchID,
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry %d: %w", e.ID, err)
	}
	return requireRow(res, ledger.ErrEntryNotFound)
}

func (q *querier) DeleteEntry(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete entry %d: %w", id, err)
	}
	return requireRow(res, ledger.ErrEntryNotFound)
}

func (q *querier) GetEntry(ctx context.Context, id int64) (*ledger.Entry, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry %d: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ledger.ErrEntryNotFound
	}
	return scanEntry(rows)
}

func (q *querier) EntriesByIndividual(ctx context.Context, id ledger.IndividualID) ([]*ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE individual_id = ? ORDER BY date ASC, id ASC`
	return q.queryEntries(ctx, query, string(id))
}

func (q *querier) EntriesByLoan(ctx context.Context, id ledger.IndividualID, ref string) ([]*ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE individual_id = ? AND loan_ref = ? ORDER BY date ASC, id ASC`
	return q.queryEntries(ctx, query, string(id), ref)
}

func (q *querier) EntriesByBatch(ctx context.Context, batchID string) ([]*ledger.Entry, error) {
	if batchID == "" {
		return nil, nil
	}
	query := `SELECT ` + entryColumns + ` FROM entries WHERE batch_id = ? ORDER BY date ASC, id ASC`
	return q.queryEntries(ctx, query, batchID)
}

func (q *querier) queryEntries(ctx context.Context, query string, args ...any) ([]*ledger.Entry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (*ledger.Entry, error) {
	var (
		e             ledger.Entry
		individualID  string
		date, created string
		event         string

		added, deducted, balance, principalBal, interestBal, grossBal string
		principalPortion, interestPortion, interestAmount, inst       string
		anchorTarget                                                  string
	)

	err := rows.Scan(
		&e.ID, &individualID, &e.LoanRef, &date, &event,
		&added, &deducted,
		&balance, &principalBal, &interestBal, &grossBal,
		&principalPortion, &interestPortion, &interestAmount, &inst,
		&e.Duration, &e.Anchor.Set, &anchorTarget, &e.Notes,
		&e.PreviousState, &e.BatchID, &created,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.IndividualID = ledger.IndividualID(individualID)
	e.Event = ledger.EventType(event)
	e.Date, _ = time.Parse(time.RFC3339, date)
	e.CreatedAt, _ = time.Parse(time.RFC3339, created)

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&e.Added, added}, {&e.Deducted, deducted},
		{&e.Balance, balance}, {&e.PrincipalBalance, principalBal},
		{&e.InterestBalance, interestBal}, {&e.GrossBalance, grossBal},
		{&e.PrincipalPortion, principalPortion}, {&e.InterestPortion, interestPortion},
		{&e.InterestAmount, interestAmount}, {&e.Installment, inst},
		{&e.Anchor.Target, anchorTarget},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse decimal %q: %w", f.src, err)
		}
		*f.dst = d
	}
	return &e, nil
}

// =============================================================================
// LOANS
// =============================================================================

const loanColumns = `id, individual_id, ref, principal, total_amount, balance,
	installment, monthly_interest, unearned_interest, interest_balance,
	next_due_date, status`

func (q *querier) InsertLoan(ctx context.Context, l *ledger.Loan) (int64, error) {
	query := `
		INSERT INTO loans (individual_id, ref, principal, total_amount, balance,
			installment, monthly_interest, unearned_interest, interest_balance,
			next_due_date, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := q.db.ExecContext(ctx, query,
		string(l.IndividualID), l.Ref,
		l.Principal.String(), l.TotalAmount.String(), l.Balance.String(),
		l.Installment.String(), l.MonthlyInterest.String(),
		l.UnearnedInterest.String(), l.InterestBalance.String(),
		l.NextDueDate.Format(time.RFC3339), string(l.Status),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, fmt.Errorf("loan %s already exists for %s: %w", l.Ref, l.IndividualID, err)
		}
		return 0, fmt.Errorf("failed to insert loan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted loan id: %w", err)
	}
	l.ID = id
	return id, nil
}

func (q *querier) UpdateLoan(ctx context.Context, l *ledger.Loan) error {
	query := `
		UPDATE loans SET
			principal = ?, total_amount = ?, balance = ?,
			installment = ?, monthly_interest = ?, unearned_interest = ?,
			interest_balance = ?, next_due_date = ?, status = ?
		WHERE individual_id = ? AND ref = ?
	`
	res, err := q.db.ExecContext(ctx, query,
		l.Principal.String(), l.TotalAmount.String(), l.Balance.String(),
		l.Installment.String(), l.MonthlyInterest.String(), l.UnearnedInterest.String(),
		l.InterestBalance.String(), l.NextDueDate.Format(time.RFC3339), string(l.Status),
		string(l.IndividualID), l.Ref,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan %s: %w", l.Ref, err)
	}
	return requireRow(res, ledger.ErrLoanNotFound)
}

func (q *querier) DeleteLoan(ctx context.Context, id ledger.IndividualID, ref string) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM loans WHERE individual_id = ? AND ref = ?", string(id), ref)
	if err != nil {
		return fmt.Errorf("failed to delete loan %s: %w", ref, err)
	}
	return requireRow(res, ledger.ErrLoanNotFound)
}

func (q *querier) GetLoan(ctx context.Context, id ledger.IndividualID, ref string) (*ledger.Loan, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE individual_id = ? AND ref = ?`,
		string(id), ref,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query loan %s: %w", ref, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ledger.ErrLoanNotFound
	}
	return scanLoan(rows)
}

func (q *querier) LoansByIndividual(ctx context.Context, id ledger.IndividualID) ([]*ledger.Loan, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE individual_id = ? ORDER BY ref ASC`,
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var loans []*ledger.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

func scanLoan(rows *sql.Rows) (*ledger.Loan, error) {
	var (
		l            ledger.Loan
		individualID string
		nextDue      string
		status       string

		principal, totalAmount, balance, inst, monthly, unearned, interestBal string
	)

	err := rows.Scan(
		&l.ID, &individualID, &l.Ref,
		&principal, &totalAmount, &balance,
		&inst, &monthly, &unearned, &interestBal,
		&nextDue, &status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan loan: %w", err)
	}

	l.IndividualID = ledger.IndividualID(individualID)
	l.Status = ledger.LoanStatus(status)
	l.NextDueDate, _ = time.Parse(time.RFC3339, nextDue)

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&l.Principal, principal}, {&l.TotalAmount, totalAmount}, {&l.Balance, balance},
		{&l.Installment, inst}, {&l.MonthlyInterest, monthly},
		{&l.UnearnedInterest, unearned}, {&l.InterestBalance, interestBal},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse decimal %q: %w", f.src, err)
		}
		*f.dst = d
	}
	return &l, nil
}

// =============================================================================
// INDIVIDUALS
// =============================================================================

func (q *querier) InsertIndividual(ctx context.Context, ind *ledger.Individual) error {
	if ind.CreatedAt.IsZero() {
		ind.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO individuals (id, name, phone, default_deduction, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone
	`
	_, err := q.db.ExecContext(ctx, query,
		string(ind.ID), ind.Name, ind.Phone,
		ind.DefaultDeduction.String(),
		ind.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert individual %s: %w", ind.ID, err)
	}
	return nil
}

func (q *querier) UpdateIndividual(ctx context.Context, ind *ledger.Individual) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE individuals SET name = ?, phone = ?, default_deduction = ? WHERE id = ?",
		ind.Name, ind.Phone, ind.DefaultDeduction.String(), string(ind.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update individual %s: %w", ind.ID, err)
	}
	return requireRow(res, ledger.ErrIndividualNotFound)
}

func (q *querier) DeleteIndividual(ctx context.Context, id ledger.IndividualID) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM individuals WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("failed to delete individual %s: %w", id, err)
	}
	return requireRow(res, ledger.ErrIndividualNotFound)
}

func (q *querier) GetIndividual(ctx context.Context, id ledger.IndividualID) (*ledger.Individual, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT id, name, phone, default_deduction, created_at FROM individuals WHERE id = ?",
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query individual %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ledger.ErrIndividualNotFound
	}
	return scanIndividual(rows)
}

func (q *querier) ListIndividuals(ctx context.Context) ([]*ledger.Individual, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT id, name, phone, default_deduction, created_at FROM individuals ORDER BY name ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query individuals: %w", err)
	}
	defer rows.Close()

	var individuals []*ledger.Individual
	for rows.Next() {
		ind, err := scanIndividual(rows)
		if err != nil {
			return nil, err
		}
		individuals = append(individuals, ind)
	}
	return individuals, rows.Err()
}

func scanIndividual(rows *sql.Rows) (*ledger.Individual, error) {
	var (
		ind       ledger.Individual
		id        string
		deduction string
		createdAt string
	)
	if err := rows.Scan(&id, &ind.Name, &ind.Phone, &deduction, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to scan individual: %w", err)
	}
	ind.ID = ledger.IndividualID(id)
	ind.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	d, err := decimal.NewFromString(deduction)
	if err != nil {
		return nil, fmt.Errorf("failed to parse decimal %q: %w", deduction, err)
	}
	ind.DefaultDeduction = d
	return &ind, nil
}

// =============================================================================
// SAVINGS
// =============================================================================

func (q *querier) InsertSavings(ctx context.Context, s *ledger.SavingsEntry) (int64, error) {
	if s.ID != 0 {
		query := `INSERT INTO savings (id, individual_id, date, type, amount, balance, batch_id) VALUES (?, ?, ?, ?, ?, ?, ?)`
		if _, err := q.db.ExecContext(ctx, query,
			s.ID, string(s.IndividualID), s.Date.Format(time.RFC3339),
			string(s.Type), s.Amount.String(), s.Balance.String(), s.BatchID,
		); err != nil {
			return 0, fmt.Errorf("failed to insert savings entry %d: %w", s.ID, err)
		}
		return s.ID, nil
	}

	query := `INSERT INTO savings (individual_id, date, type, amount, balance, batch_id) VALUES (?, ?, ?, ?, ?, ?)`
	res, err := q.db.ExecContext(ctx, query,
		string(s.IndividualID), s.Date.Format(time.RFC3339),
		string(s.Type), s.Amount.String(), s.Balance.String(), s.BatchID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert savings entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted savings id: %w", err)
	}
	s.ID = id
	return id, nil
}

func (q *querier) UpdateSavings(ctx context.Context, s *ledger.SavingsEntry) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE savings SET date = ?, type = ?, amount = ?, balance = ?, batch_id = ? WHERE id = ?",
		s.Date.Format(time.RFC3339), string(s.Type), s.Amount.String(), s.Balance.String(), s.BatchID, s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update savings entry %d: %w", s.ID, err)
	}
	return requireRow(res, ledger.ErrSavingsNotFound)
}

func (q *querier) DeleteSavings(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM savings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete savings entry %d: %w", id, err)
	}
	return requireRow(res, ledger.ErrSavingsNotFound)
}

func (q *querier) SavingsByIndividual(ctx context.Context, id ledger.IndividualID) ([]*ledger.SavingsEntry, error) {
	return q.querySavings(ctx,
		"SELECT id, individual_id, date, type, amount, balance, batch_id FROM savings WHERE individual_id = ? ORDER BY date ASC, id ASC",
		string(id),
	)
}

func (q *querier) SavingsByBatch(ctx context.Context, batchID string) ([]*ledger.SavingsEntry, error) {
	if batchID == "" {
		return nil, nil
	}
	return q.querySavings(ctx,
		"SELECT id, individual_id, date, type, amount, balance, batch_id FROM savings WHERE batch_id = ? ORDER BY date ASC, id ASC",
		batchID,
	)
}

func (q *querier) querySavings(ctx context.Context, query string, args ...any) ([]*ledger.SavingsEntry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query savings: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.SavingsEntry
	for rows.Next() {
		var (
			s               ledger.SavingsEntry
			individualID    string
			date            string
			typ             string
			amount, balance string
		)
		if err := rows.Scan(&s.ID, &individualID, &date, &typ, &amount, &balance, &s.BatchID); err != nil {
			return nil, fmt.Errorf("failed to scan savings entry: %w", err)
		}
		s.IndividualID = ledger.IndividualID(individualID)
		s.Type = ledger.SavingsType(typ)
		s.Date, _ = time.Parse(time.RFC3339, date)
		if s.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse decimal %q: %w", amount, err)
		}
		if s.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("failed to parse decimal %q: %w", balance, err)
		}
		entries = append(entries, &s)
	}
	return entries, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"entries", "savings", "loans", "individuals"}
	for _, table := range tables {
		if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// requireRow maps a zero-row update/delete to the given sentinel.
func requireRow(res sql.Result, sentinel error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
