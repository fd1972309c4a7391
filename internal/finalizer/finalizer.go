// Package finalizer implements the periodic sweep that reconciles WAL
// entries left walState=PENDING against the Operation state machine:
// the Runtime's crash between write_ahead and finalize is the gap this
// sweep closes.
package finalizer

import (
	"context"
	"sync/atomic"
	"time"

	"orchestrator/internal/core/apperror"
	"orchestrator/internal/core/orc"
	"orchestrator/internal/core/store"
	"orchestrator/pkg/logger"
)

// Config tunes the sweep's cadence and batch size.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultConfig sweeps every 2s in batches of 50.
func DefaultConfig() Config {
	return Config{Interval: 2 * time.Second, BatchSize: 50}
}

// Finalizer periodically scans for WAL entries stuck PENDING and drives
// them to a terminal Operation state.
type Finalizer struct {
	store store.Store
	cfg   Config

	reconciled atomic.Int64
	scanErrors atomic.Int64
}

// New builds a Finalizer over s.
func New(s store.Store, cfg Config) *Finalizer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Finalizer{store: s, cfg: cfg}
}

// ReconciledCount returns the number of WAL entries this Finalizer has
// driven to a terminal Operation state.
func (f *Finalizer) ReconciledCount() int64 { return f.reconciled.Load() }

// Run sweeps on cfg.Interval until ctx is cancelled.
func (f *Finalizer) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep cycle: scan WAL-pending opIds, finalize
// each according to its recorded Outcome, and return how many were
// reconciled. Exposed directly so callers (including tests) can drive
// sweeps deterministically instead of waiting on the ticker.
func (f *Finalizer) SweepOnce(ctx context.Context) int {
	opIDs, err := f.store.ScanWA(ctx, orc.WalPending, f.cfg.BatchSize)
	if err != nil {
		f.scanErrors.Add(1)
		logger.Error(ctx, "finalizer: scan_wa failed", "error", err)
		return 0
	}

	reconciled := 0
	for _, opID := range opIDs {
		if f.finalizeOne(ctx, opID) {
			reconciled++
		}
	}
	return reconciled
}

func (f *Finalizer) finalizeOne(ctx context.Context, opID orc.OpId) bool {
	outcome, err := f.store.GetWriteAheadOutcome(ctx, opID)
	if err != nil {
		logger.Error(ctx, "finalizer: get_write_ahead_outcome failed", "op_id", opID, "error", err)
		return false
	}

	if !outcome.IsTerminal() {
		// A Retry outcome never finalizes; the Runtime is responsible
		// for its re-publish. Nothing to reconcile here.
		return false
	}

	if err := f.store.Finalize(ctx, opID, outcome.TerminalState()); err != nil {
		if apperror.IsAlreadyTerminal(err) {
			// Another sweep (or the Runtime itself) already finalized
			// this opId; I1 makes that a success, not a conflict.
			f.reconciled.Add(1)
			return true
		}
		logger.Error(ctx, "finalizer: finalize failed", "op_id", opID, "error", err)
		return false
	}

	f.reconciled.Add(1)
	return true
}
