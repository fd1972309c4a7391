// Package reaper implements the periodic sweep that detects Operations
// stuck IN_PROGRESS past a timeout threshold — the Runtime process that
// picked them up died before writing ahead — and republishes their
// Envelope so another Runtime picks the work back up.
package reaper

import (
	"context"
	"sync/atomic"
	"time"

	busport "orchestrator/internal/core/bus"
	"orchestrator/internal/core/orc"
	"orchestrator/internal/core/store"
	"orchestrator/pkg/logger"
)

// Config tunes the sweep's cadence, batch size, and stuck-operation
// threshold. ThresholdMs defaults to 10 minutes, a reasonable middle of
// the 5-60 minute range operators typically configure this at.
type Config struct {
	Interval    time.Duration
	BatchSize   int
	ThresholdMs int64
}

// DefaultConfig sweeps every 30s, batches of 50, a 10-minute threshold.
func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second, BatchSize: 50, ThresholdMs: 10 * 60 * 1000}
}

// Reaper periodically reclaims Operations abandoned mid-flight.
type Reaper struct {
	store store.Store
	bus   busport.Bus
	cfg   Config

	reaped     atomic.Int64
	scanErrors atomic.Int64
}

// New builds a Reaper over s and b.
func New(s store.Store, b busport.Bus, cfg Config) *Reaper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ThresholdMs <= 0 {
		cfg.ThresholdMs = 10 * 60 * 1000
	}
	return &Reaper{store: s, bus: b, cfg: cfg}
}

// ReapedCount returns the number of stuck Operations this Reaper has
// republished.
func (r *Reaper) ReapedCount() int64 { return r.reaped.Load() }

// Run sweeps on cfg.Interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep cycle and returns how many stuck
// Operations were republished.
func (r *Reaper) SweepOnce(ctx context.Context) int {
	opIDs, err := r.store.ScanInProgress(ctx, r.cfg.ThresholdMs, r.cfg.BatchSize)
	if err != nil {
		r.scanErrors.Add(1)
		logger.Error(ctx, "reaper: scan_in_progress failed", "error", err)
		return 0
	}

	reaped := 0
	for _, opID := range opIDs {
		if r.reapOne(ctx, opID) {
			reaped++
		}
	}
	return reaped
}

func (r *Reaper) reapOne(ctx context.Context, opID orc.OpId) bool {
	env, err := r.store.GetEnvelope(ctx, opID)
	if err != nil {
		logger.Error(ctx, "reaper: get_envelope failed", "op_id", opID, "error", err)
		return false
	}

	if err := r.bus.Publish(ctx, env, 0); err != nil {
		logger.Error(ctx, "reaper: republish failed", "op_id", opID, "error", err)
		return false
	}

	logger.Warn(ctx, "reaper: republished stuck in-progress operation", "op_id", opID)
	r.reaped.Add(1)
	return true
}
