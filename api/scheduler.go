/*
scheduler.go - Automated deduction scheduler

PURPOSE:
  Periodically advances every active loan through its overdue periods
  (accrue interest, collect the installment) without manual intervention.
  This is the automated counterpart of POST /api/admin/catchup.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - A loan is due when its next due date is on or before today
  - Loans that are paid, or not yet due, are skipped
  - Each loan's catch-up runs in its own transaction; one failing
    borrower does not block the rest

NOT UNDOABLE:
  Scheduler runs bypass the undo stack. Automated deductions would
  otherwise evict the operator's own undo history every night.

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewCatchUpScheduler(store, loans, metrics, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: MassCatchUp endpoint (manual, undoable)
  - loan/service.go: CatchUp
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/loan"
)

// CatchUpScheduler advances overdue loans on a timer.
type CatchUpScheduler struct {
	Store         ledger.TxStore
	Loans         *loan.Service
	Metrics       *Metrics
	CheckInterval time.Duration
	Enabled       bool

	// Now is the clock. Overridable in tests.
	Now func() time.Time

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCatchUpScheduler creates a scheduler with defaults.
func NewCatchUpScheduler(store ledger.TxStore, loans *loan.Service, metrics *Metrics, log *zap.Logger) *CatchUpScheduler {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CatchUpScheduler{
		Store:         store,
		Loans:         loans,
		Metrics:       metrics,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
		log:           log,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (cs *CatchUpScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		cs.log.Info("scheduler disabled, not starting")
		return
	}

	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.wg.Add(1)

	go cs.run()

	cs.log.Info("scheduler started", zap.Duration("check_interval", cs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (cs *CatchUpScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		cs.log.Info("scheduler stopped")
	}
}

func (cs *CatchUpScheduler) run() {
	defer cs.wg.Done()

	// Run immediately on start
	cs.checkAndProcess()

	for {
		select {
		case <-cs.ticker.C:
			cs.checkAndProcess()
		case <-cs.stop:
			return
		}
	}
}

func (cs *CatchUpScheduler) checkAndProcess() {
	ctx := context.Background()
	now := cs.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	started := time.Now()

	individuals, err := cs.Store.ListIndividuals(ctx)
	if err != nil {
		cs.log.Error("scheduler: listing individuals failed", zap.Error(err))
		return
	}

	processed := 0
	periods := 0
	failed := 0

	for _, ind := range individuals {
		loans, err := cs.Store.LoansByIndividual(ctx, ind.ID)
		if err != nil {
			cs.log.Error("scheduler: loading loans failed",
				zap.String("individual", string(ind.ID)), zap.Error(err))
			failed++
			continue
		}

		for _, l := range loans {
			if l.Status != ledger.StatusActive || l.NextDueDate.After(today) {
				continue
			}

			var n int
			err := cs.Store.WithTx(ctx, func(tx ledger.Store) error {
				var err error
				_, n, err = cs.Loans.WithStore(tx).CatchUp(ctx, ind.ID, l.Ref, today, nil)
				return err
			})
			if err != nil {
				cs.log.Error("scheduler: catch-up failed",
					zap.String("individual", string(ind.ID)),
					zap.String("loan", l.Ref),
					zap.Error(err))
				failed++
				continue
			}
			processed++
			periods += n
		}
	}

	cs.Metrics.RecordOperation("scheduler_catch_up", nil, time.Since(started))
	if processed > 0 || failed > 0 {
		cs.log.Info("scheduler run completed",
			zap.Int("loans_processed", processed),
			zap.Int("periods_collected", periods),
			zap.Int("failed", failed))
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (cs *CatchUpScheduler) RunNow() {
	cs.checkAndProcess()
}

// NextRunTime returns when the next scheduled check will occur.
func (cs *CatchUpScheduler) NextRunTime() time.Time {
	return cs.Now().Add(cs.CheckInterval)
}
