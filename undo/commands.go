// commands.go - Concrete reversible commands: single-entry deletion and the
// mass catch-up batches. Each command runs its writes inside one store
// transaction so a mid-way failure leaves zero partial state.
package undo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/loan"
	"github.com/warp/lending-engine/txn"
)

// =============================================================================
// DELETE ENTRY
// =============================================================================

// DeleteEntryCommand deletes a ledger entry through the transaction
// manager's full cascade. Before executing it captures the owning loan and
// every entry on it, because a delete can ripple beyond the target row:
// same-day siblings go with it, structural deletes cascade to later
// entries, and repayment deletes unlock later accrual anchors. Undo
// restores all of it verbatim, original ids included.
type DeleteEntryCommand struct {
	store   ledger.TxStore
	txm     *txn.Manager
	recalc  *ledger.Recalculator
	id      ledger.IndividualID
	entryID int64

	// Captured state, refreshed before each (re-)execution.
	ref     string
	loan    *ledger.Loan
	entries []ledger.TransactionSnapshot
}

// NewDeleteEntryCommand builds the command without touching the store;
// capture happens on Execute.
func NewDeleteEntryCommand(store ledger.TxStore, txm *txn.Manager, recalc *ledger.Recalculator, id ledger.IndividualID, entryID int64) *DeleteEntryCommand {
	return &DeleteEntryCommand{store: store, txm: txm, recalc: recalc, id: id, entryID: entryID}
}

func (c *DeleteEntryCommand) Description() string {
	return fmt.Sprintf("delete entry %d", c.entryID)
}

func (c *DeleteEntryCommand) Execute(ctx context.Context) error {
	if err := c.capture(ctx); err != nil {
		return err
	}
	return c.store.WithTx(ctx, func(tx ledger.Store) error {
		return c.txm.WithStore(tx).DeleteEntry(ctx, c.id, c.entryID)
	})
}

// Redo recaptures before deleting again: the ledger may have been replayed
// since the original execution and the captured copies must match what the
// next Undo should restore.
func (c *DeleteEntryCommand) Redo(ctx context.Context) error {
	return c.Execute(ctx)
}

func (c *DeleteEntryCommand) Undo(ctx context.Context) error {
	return c.store.WithTx(ctx, func(tx ledger.Store) error {
		if c.loan != nil {
			if _, err := tx.GetLoan(ctx, c.id, c.ref); err != nil {
				if !ledger.IsNotFound(err) {
					return err
				}
				if _, err := tx.InsertLoan(ctx, c.loan.Clone()); err != nil {
					return fmt.Errorf("failed to re-insert loan %s: %w", c.ref, err)
				}
			} else if err := tx.UpdateLoan(ctx, c.loan.Clone()); err != nil {
				return fmt.Errorf("failed to restore loan %s: %w", c.ref, err)
			}
		}

		for _, snap := range c.entries {
			restored := snap.Restore()
			if _, err := tx.GetEntry(ctx, restored.ID); err != nil {
				if !ledger.IsNotFound(err) {
					return err
				}
				// Pre-set id re-insertion restores the original ordering.
				if _, err := tx.InsertEntry(ctx, restored); err != nil {
					return fmt.Errorf("failed to re-insert entry %d: %w", restored.ID, err)
				}
			} else if err := tx.UpdateEntry(ctx, restored); err != nil {
				return fmt.Errorf("failed to restore entry %d: %w", restored.ID, err)
			}
		}

		if c.ref == "" {
			return nil
		}
		recalc := c.recalc.WithStore(tx)
		if err := recalc.RecalculateLoanHistory(ctx, c.id, c.ref); err != nil {
			return err
		}
		if err := recalc.RecalculateBalances(ctx, c.id); err != nil {
			return err
		}
		return recalc.RecalculateDefaultDeduction(ctx, c.id)
	})
}

// capture copies the target entry, its loan, and the loan's full entry
// list. Entries are kept in ascending id order for re-insertion.
func (c *DeleteEntryCommand) capture(ctx context.Context) error {
	e, err := c.store.GetEntry(ctx, c.entryID)
	if err != nil {
		return err
	}

	c.ref = e.LoanRef
	c.loan = nil
	c.entries = nil

	if e.LoanRef == "" {
		c.entries = []ledger.TransactionSnapshot{ledger.CaptureEntry(e)}
		return nil
	}

	l, err := c.store.GetLoan(ctx, c.id, e.LoanRef)
	if err != nil {
		return err
	}
	c.loan = l.Clone()

	entries, err := c.store.EntriesByLoan(ctx, c.id, e.LoanRef)
	if err != nil {
		return fmt.Errorf("failed to load loan entries: %w", err)
	}
	for _, cand := range entries {
		c.entries = append(c.entries, ledger.CaptureEntry(cand))
	}
	sort.Slice(c.entries, func(i, j int) bool {
		return c.entries[i].Entry.ID < c.entries[j].Entry.ID
	})
	return nil
}

// =============================================================================
// MASS LOAN CATCH-UP
// =============================================================================

// MassLoanCatchUpCommand advances every active loan of every individual to
// the target date. All entries written share one batch id; Undo deletes the
// batch, restores each loan from the batch's first snapshot and replays.
type MassLoanCatchUpCommand struct {
	store  ledger.TxStore
	svc    *loan.Service
	recalc *ledger.Recalculator
	target time.Time
	cancel func() error
	log    *zap.Logger

	batchID string
	loans   int
	periods int
}

// NewMassLoanCatchUpCommand builds the command. The cancel callback is
// polled before every period of every loan; a non-nil return aborts the
// whole batch with nothing committed.
func NewMassLoanCatchUpCommand(store ledger.TxStore, svc *loan.Service, recalc *ledger.Recalculator, target time.Time, cancel func() error, log *zap.Logger) *MassLoanCatchUpCommand {
	if log == nil {
		log = zap.NewNop()
	}
	return &MassLoanCatchUpCommand{store: store, svc: svc, recalc: recalc, target: target, cancel: cancel, log: log}
}

func (c *MassLoanCatchUpCommand) Description() string {
	return fmt.Sprintf("catch up all loans through %s", c.target.Format("2006-01-02"))
}

func (c *MassLoanCatchUpCommand) Execute(ctx context.Context) error {
	return c.run(ctx, uuid.NewString())
}

// Redo runs the catch-up again under a fresh batch id rather than
// re-inserting captured rows: the replay engine guarantees the same result
// and the fresh id keeps batch membership unambiguous.
func (c *MassLoanCatchUpCommand) Redo(ctx context.Context) error {
	return c.run(ctx, uuid.NewString())
}

func (c *MassLoanCatchUpCommand) run(ctx context.Context, batchID string) error {
	c.loans = 0
	c.periods = 0

	err := c.store.WithTx(ctx, func(tx ledger.Store) error {
		svc := c.svc.WithStore(tx)

		individuals, err := tx.ListIndividuals(ctx)
		if err != nil {
			return fmt.Errorf("failed to list individuals: %w", err)
		}
		for _, ind := range individuals {
			loans, err := tx.LoansByIndividual(ctx, ind.ID)
			if err != nil {
				return fmt.Errorf("failed to load loans for %s: %w", ind.ID, err)
			}
			for _, l := range loans {
				if l.Status != ledger.StatusActive {
					continue
				}
				_, periods, err := svc.CatchUpBatch(ctx, ind.ID, l.Ref, c.target, batchID, c.cancel)
				if err != nil {
					return err
				}
				if periods > 0 {
					c.loans++
					c.periods += periods
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.batchID = batchID
	c.log.Info("mass loan catch-up",
		zap.String("batch", batchID),
		zap.Int("loans", c.loans),
		zap.Int("periods", c.periods),
	)
	return nil
}

func (c *MassLoanCatchUpCommand) Undo(ctx context.Context) error {
	if c.batchID == "" {
		return nil
	}
	return c.store.WithTx(ctx, func(tx ledger.Store) error {
		entries, err := tx.EntriesByBatch(ctx, c.batchID)
		if err != nil {
			return fmt.Errorf("failed to load batch %s: %w", c.batchID, err)
		}

		type loanKey struct {
			id  ledger.IndividualID
			ref string
		}
		first := make(map[loanKey]*ledger.Entry)
		for _, e := range entries {
			k := loanKey{e.IndividualID, e.LoanRef}
			if cur, ok := first[k]; !ok || e.ID < cur.ID {
				first[k] = e
			}
			if err := tx.DeleteEntry(ctx, e.ID); err != nil {
				return fmt.Errorf("failed to delete batch entry %d: %w", e.ID, err)
			}
		}

		recalc := c.recalc.WithStore(tx)
		individuals := make(map[ledger.IndividualID]bool)
		for k, e := range first {
			// The batch's first entry carries the loan state from before
			// the first period.
			snap, err := ledger.DecodeLoanSnapshot(e.PreviousState)
			if err != nil {
				return err
			}
			l, err := tx.GetLoan(ctx, k.id, k.ref)
			if err != nil {
				return err
			}
			if snap != nil {
				snap.RestoreTo(l)
				if err := tx.UpdateLoan(ctx, l); err != nil {
					return fmt.Errorf("failed to restore loan %s: %w", k.ref, err)
				}
			}
			if err := recalc.RecalculateLoanHistory(ctx, k.id, k.ref); err != nil {
				return err
			}
			individuals[k.id] = true
		}
		for id := range individuals {
			if err := recalc.RecalculateBalances(ctx, id); err != nil {
				return err
			}
			if err := recalc.RecalculateDefaultDeduction(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// MASS SAVINGS CATCH-UP
// =============================================================================

// MassSavingsCatchUpCommand accrues monthly savings interest for every
// individual up to the target date, as one undoable batch.
type MassSavingsCatchUpCommand struct {
	store  ledger.TxStore
	svc    *loan.Service
	recalc *ledger.Recalculator
	rate   decimal.Decimal
	target time.Time
	cancel func() error
	log    *zap.Logger

	batchID string
}

func NewMassSavingsCatchUpCommand(store ledger.TxStore, svc *loan.Service, recalc *ledger.Recalculator, rate decimal.Decimal, target time.Time, cancel func() error, log *zap.Logger) *MassSavingsCatchUpCommand {
	if log == nil {
		log = zap.NewNop()
	}
	return &MassSavingsCatchUpCommand{store: store, svc: svc, recalc: recalc, rate: rate, target: target, cancel: cancel, log: log}
}

func (c *MassSavingsCatchUpCommand) Description() string {
	return fmt.Sprintf("catch up all savings through %s", c.target.Format("2006-01-02"))
}

func (c *MassSavingsCatchUpCommand) Execute(ctx context.Context) error {
	return c.run(ctx, uuid.NewString())
}

func (c *MassSavingsCatchUpCommand) Redo(ctx context.Context) error {
	return c.run(ctx, uuid.NewString())
}

func (c *MassSavingsCatchUpCommand) run(ctx context.Context, batchID string) error {
	err := c.store.WithTx(ctx, func(tx ledger.Store) error {
		svc := c.svc.WithStore(tx)

		individuals, err := tx.ListIndividuals(ctx)
		if err != nil {
			return fmt.Errorf("failed to list individuals: %w", err)
		}
		for _, ind := range individuals {
			if _, _, err := svc.SavingsCatchUpBatch(ctx, ind.ID, c.rate, c.target, batchID, c.cancel); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.batchID = batchID
	return nil
}

func (c *MassSavingsCatchUpCommand) Undo(ctx context.Context) error {
	if c.batchID == "" {
		return nil
	}
	return c.store.WithTx(ctx, func(tx ledger.Store) error {
		entries, err := tx.SavingsByBatch(ctx, c.batchID)
		if err != nil {
			return fmt.Errorf("failed to load batch %s: %w", c.batchID, err)
		}

		affected := make(map[ledger.IndividualID]bool)
		for _, e := range entries {
			if err := tx.DeleteSavings(ctx, e.ID); err != nil {
				return fmt.Errorf("failed to delete savings entry %d: %w", e.ID, err)
			}
			affected[e.IndividualID] = true
		}

		recalc := c.recalc.WithStore(tx)
		for id := range affected {
			if err := recalc.RecalculateSavings(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
}
