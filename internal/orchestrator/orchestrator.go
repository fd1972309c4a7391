// Package orchestrator implements the submit path: resolving a Command
// to an OpId, enqueueing its Envelope, and soft-polling for a fast-path
// completion before handing the caller an async handle.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"orchestrator/internal/core/apperror"
	"orchestrator/internal/core/bus"
	"orchestrator/internal/core/idempotency"
	"orchestrator/internal/core/orc"
	"orchestrator/internal/core/store"
	"orchestrator/pkg/logger"
)

const (
	minTimeBudgetMs = 50
	maxTimeBudgetMs = 5000
	minPollMs       = 5
)

// Config tunes the submit path's soft-poll behavior.
type Config struct {
	// PollIntervalMs is the soft-poll cadence; floored at minPollMs.
	PollIntervalMs int64
}

// DefaultConfig returns the spec's default 10ms poll interval.
func DefaultConfig() Config {
	return Config{PollIntervalMs: 10}
}

// Handle is the immutable result of Submit: either a fast-completed
// handle carrying the terminal Outcome, or an async handle carrying a
// status-query locator. Exactly one of Outcome/StatusLocator is set,
// mirrored by Completed.
type Handle struct {
	Completed     bool
	OpId          orc.OpId
	Outcome       *orc.Outcome
	StatusLocator string
}

// Orchestrator accepts Commands and drives the submit path.
type Orchestrator struct {
	store    store.Store
	resolver idempotency.Resolver
	bus      bus.Bus
	cfg      Config
}

// New builds an Orchestrator over the given Store, idempotency
// Resolver and Bus.
func New(s store.Store, resolver idempotency.Resolver, b bus.Bus, cfg Config) *Orchestrator {
	if cfg.PollIntervalMs < minPollMs {
		cfg.PollIntervalMs = minPollMs
	}
	return &Orchestrator{store: s, resolver: resolver, bus: b, cfg: cfg}
}

// Submit accepts cmd, bounded by timeBudgetMs in [50, 5000].
func (o *Orchestrator) Submit(ctx context.Context, cmd orc.Command, timeBudgetMs int) (Handle, error) {
	if timeBudgetMs < minTimeBudgetMs || timeBudgetMs > maxTimeBudgetMs {
		return Handle{}, apperror.NewInvalidInput(
			fmt.Sprintf("timeBudgetMs must be in [%d, %d], got %d", minTimeBudgetMs, maxTimeBudgetMs, timeBudgetMs))
	}
	if err := cmd.Validate(); err != nil {
		return Handle{}, err
	}

	key := cmd.IdempotencyKey()
	opID, err := o.resolver.GetOrCreate(ctx, key)
	if err != nil {
		return Handle{}, apperror.NewStoreIO(fmt.Errorf("resolve idempotency key: %w", err))
	}

	env := orc.Envelope{OpId: opID, Command: cmd, AcceptedAt: orc.NowMillis()}
	if err := env.Validate(); err != nil {
		return Handle{}, err
	}

	state, err := o.store.GetState(ctx, opID)
	switch {
	case err != nil && apperror.IsNotFound(err):
		// First sight of this OpId: persist PENDING and enqueue.
		if err := o.store.CreatePending(ctx, env); err != nil {
			return Handle{}, err
		}
		if err := o.bus.Publish(ctx, env, 0); err != nil {
			return Handle{}, apperror.NewBusIO(fmt.Errorf("publish envelope: %w", err))
		}
	case err != nil:
		return Handle{}, err
	case state.IsTerminal():
		// Idempotent replay after completion: fast-completed handle
		// from the recorded Outcome.
		outcome, err := o.store.GetWriteAheadOutcome(ctx, opID)
		if err != nil {
			return Handle{}, err
		}
		return Handle{Completed: true, OpId: opID, Outcome: &outcome}, nil
	default:
		// Already enqueued by a prior submit of the same key (I5);
		// fall through to soft-poll without re-publishing.
	}

	return o.softPoll(ctx, opID, timeBudgetMs)
}

func (o *Orchestrator) softPoll(ctx context.Context, opID orc.OpId, timeBudgetMs int) (Handle, error) {
	deadline := time.Now().Add(time.Duration(timeBudgetMs) * time.Millisecond)
	interval := time.Duration(o.cfg.PollIntervalMs) * time.Millisecond

	for {
		state, err := o.store.GetState(ctx, opID)
		if err != nil && !apperror.IsNotFound(err) {
			return Handle{}, err
		}
		if err == nil && state.IsTerminal() {
			outcome, err := o.store.GetWriteAheadOutcome(ctx, opID)
			if err != nil {
				return Handle{}, err
			}
			return Handle{Completed: true, OpId: opID, Outcome: &outcome}, nil
		}

		if !time.Now().Add(interval).Before(deadline) {
			logger.Debug(ctx, "orchestrator: time budget exhausted, handing off async", "op_id", opID)
			return Handle{Completed: false, OpId: opID, StatusLocator: "/v1/operations/" + string(opID)}, nil
		}

		select {
		case <-ctx.Done():
			return Handle{}, ctx.Err()
		case <-time.After(interval):
		}
	}
}
