// Package runtime implements the pump loop: dequeuing Envelopes, driving
// them through the Protection chain and Executor, and dispatching the
// resulting Outcome to the Store and Bus.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"orchestrator/internal/core/apperror"
	busport "orchestrator/internal/core/bus"
	"orchestrator/internal/core/executor"
	"orchestrator/internal/core/orc"
	"orchestrator/internal/core/protection"
	"orchestrator/internal/core/store"
	"orchestrator/pkg/logger"
)

// RetryPolicy bounds retries by the AttemptCount a Retry Outcome reports:
// once it reaches MaxAttempts, the Retry is converted to a permanent Fail.
// The Runtime does not count attempts itself.
type RetryPolicy struct {
	MaxAttempts int
}

// DefaultRetryPolicy allows 5 attempts before converting to Fail.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5}
}

// Config tunes the pump loop's batching, concurrency, and shutdown
// behavior.
type Config struct {
	BatchSize         int
	ConcurrencyLimit  int
	DequeueInterval   time.Duration // how often to re-poll an empty Bus
	VisibilityTimeout time.Duration
	ShutdownGrace     time.Duration
	RetryPolicy       RetryPolicy
	DLQOnFail         bool
	// MaxBusDelay bounds a single Bus.Publish delay; a Retry's
	// nextRetryAfterMillis exceeding it is walked down in successive
	// redeliveries rather than slept in-process, see republish.
	MaxBusDelay time.Duration
}

// DefaultConfig returns the spec's defaults: batch 1-10 (5), visibility
// timeout 30s, concurrency 5.
func DefaultConfig() Config {
	return Config{
		BatchSize:         5,
		ConcurrencyLimit:  5,
		DequeueInterval:   200 * time.Millisecond,
		VisibilityTimeout: 30 * time.Second,
		ShutdownGrace:     10 * time.Second,
		RetryPolicy:       DefaultRetryPolicy(),
		DLQOnFail:         true,
		MaxBusDelay:       15 * time.Minute,
	}
}

// Runtime drives the pump loop.
type Runtime struct {
	store store.Store
	bus   busport.Bus
	chain *protection.Chain
	exec  executor.Executor
	cfg   Config

	completed  atomic.Int64
	failed     atomic.Int64
	retried    atomic.Int64
	reenqueued atomic.Int64
}

// New builds a Runtime. chain may be protection.NewChain() for an
// entirely NoOp pipeline.
func New(s store.Store, b busport.Bus, chain *protection.Chain, exec executor.Executor, cfg Config) *Runtime {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 5
	}
	return &Runtime{store: s, bus: b, chain: chain, exec: exec, cfg: cfg}
}

// CompletedCount returns the number of operations this Runtime has
// finalized as COMPLETED.
func (r *Runtime) CompletedCount() int64 { return r.completed.Load() }

// FailedCount returns the number of operations this Runtime has
// finalized as FAILED.
func (r *Runtime) FailedCount() int64 { return r.failed.Load() }

// RetriedCount returns the number of Retry outcomes processed.
func (r *Runtime) RetriedCount() int64 { return r.retried.Load() }

// ReenqueuedChunkCount returns the number of extra Bus.Publish calls the
// chunked-requeue path (republish) has issued for delays exceeding
// cfg.MaxBusDelay.
func (r *Runtime) ReenqueuedChunkCount() int64 { return r.reenqueued.Load() }

// Run drives the pump loop until ctx is cancelled, then drains
// in-flight work for up to cfg.ShutdownGrace before returning.
func (r *Runtime) Run(ctx context.Context) {
	sem := make(chan struct{}, r.cfg.ConcurrencyLimit)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			r.drain(&wg)
			return
		default:
		}

		deliveries, err := r.bus.Dequeue(ctx, r.cfg.BatchSize)
		if err != nil {
			logger.Error(ctx, "runtime: dequeue failed, backing off", "error", err)
			time.Sleep(r.cfg.DequeueInterval)
			continue
		}
		if len(deliveries) == 0 {
			time.Sleep(r.cfg.DequeueInterval)
			continue
		}

		for _, d := range deliveries {
			sem <- struct{}{}
			wg.Add(1)
			go func(d busport.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				r.process(ctx, d)
			}(d)
		}
	}
}

func (r *Runtime) drain(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(r.cfg.ShutdownGrace):
		logger.Warn(context.Background(), "runtime: shutdown grace period elapsed with in-flight work remaining")
	}
}

// process runs a single pump cycle for one delivery.
func (r *Runtime) process(ctx context.Context, d busport.Delivery) {
	if d.Envelope.ChunkRemainingMillis > 0 {
		r.continueChunk(ctx, d)
		return
	}

	opID := d.Envelope.OpId

	state, err := r.store.GetState(ctx, opID)
	if err == nil && state.IsTerminal() {
		// Replayed delivery for an already-terminal operation: no-op,
		// ack and move on.
		r.ackOrLog(ctx, d)
		return
	}
	if err != nil {
		logger.Error(ctx, "runtime: get_state failed", "op_id", opID, "error", err)
		r.nackOrLog(ctx, d)
		return
	}

	if err := r.store.TransitionToInProgress(ctx, opID); err != nil {
		logger.Error(ctx, "runtime: transition to in_progress failed", "op_id", opID, "error", err)
		r.nackOrLog(ctx, d)
		return
	}

	outcome := r.invoke(ctx, d.Envelope)

	outcome.Match(
		func(o orc.Outcome) { r.handleOk(ctx, d, o) },
		func(o orc.Outcome) { r.handleRetry(ctx, d, o) },
		func(o orc.Outcome) { r.handleFail(ctx, d, o) },
	)
}

// invoke drives the Envelope's Command through the Protection chain and
// Executor, converting panics and escaping errors into
// Fail(EXECUTOR_UNCAUGHT).
func (r *Runtime) invoke(ctx context.Context, env orc.Envelope) (outcome orc.Outcome) {
	resourceKey := string(env.Command.Domain) + ":" + string(env.Command.EventType)

	defer func() {
		if p := recover(); p != nil {
			outcome = orc.ExecutorUncaught(fmt.Errorf("panic: %v", p))
		}
	}()

	o, err := r.chain.Execute(ctx, resourceKey, env.Command, r.exec)
	if err != nil {
		return orc.ExecutorUncaught(err)
	}
	return o
}

func (r *Runtime) handleOk(ctx context.Context, d busport.Delivery, o orc.Outcome) {
	opID := d.Envelope.OpId
	if err := r.store.WriteAhead(ctx, opID, o); err != nil {
		logger.Error(ctx, "runtime: write_ahead(Ok) failed", "op_id", opID, "error", err)
		r.nackOrLog(ctx, d)
		return
	}
	if err := r.store.Finalize(ctx, opID, orc.StateCompleted); err != nil && !apperror.IsAlreadyTerminal(err) {
		logger.Error(ctx, "runtime: finalize(COMPLETED) failed", "op_id", opID, "error", err)
		r.nackOrLog(ctx, d)
		return
	}
	r.completed.Add(1)
	r.ackOrLog(ctx, d)
}

func (r *Runtime) handleFail(ctx context.Context, d busport.Delivery, o orc.Outcome) {
	opID := d.Envelope.OpId
	if err := r.store.WriteAhead(ctx, opID, o); err != nil {
		logger.Error(ctx, "runtime: write_ahead(Fail) failed", "op_id", opID, "error", err)
		r.nackOrLog(ctx, d)
		return
	}
	if err := r.store.Finalize(ctx, opID, orc.StateFailed); err != nil && !apperror.IsAlreadyTerminal(err) {
		logger.Error(ctx, "runtime: finalize(FAILED) failed", "op_id", opID, "error", err)
		r.nackOrLog(ctx, d)
		return
	}
	r.failed.Add(1)

	if r.cfg.DLQOnFail {
		if err := r.bus.PublishToDLQ(ctx, d.Envelope, o); err != nil {
			logger.Error(ctx, "runtime: publish to dlq failed", "op_id", opID, "error", err)
		}
	}
	r.ackOrLog(ctx, d)
}

func (r *Runtime) handleRetry(ctx context.Context, d busport.Delivery, o orc.Outcome) {
	opID := d.Envelope.OpId
	if err := r.store.WriteAhead(ctx, opID, o); err != nil {
		logger.Error(ctx, "runtime: write_ahead(Retry) failed", "op_id", opID, "error", err)
		r.nackOrLog(ctx, d)
		return
	}
	r.retried.Add(1)

	if o.AttemptCount >= r.cfg.RetryPolicy.MaxAttempts {
		exhausted := orc.Fail("RETRY_EXHAUSTED", fmt.Sprintf("retry budget of %d attempts exhausted: %s", r.cfg.RetryPolicy.MaxAttempts, o.Reason), nil)
		r.handleFail(ctx, d, exhausted)
		return
	}

	delay := time.Duration(o.NextRetryAfterMillis) * time.Millisecond
	if err := r.republish(ctx, d.Envelope, delay); err != nil {
		logger.Error(ctx, "runtime: republish retry failed", "op_id", opID, "error", err)
		r.nackOrLog(ctx, d)
		return
	}
	r.ackOrLog(ctx, d)
}

// republish re-queues env after delay. A delay longer than cfg.MaxBusDelay
// is never handed to a single Bus.Publish call; instead the envelope is
// published after cfg.MaxBusDelay with ChunkRemainingMillis set to
// whatever of the delay is left. process recognizes a redelivered
// envelope with ChunkRemainingMillis > 0 and hands it straight back to
// continueChunk instead of invoking the Executor, so the operation is
// only ever actually re-attempted once the full delay has elapsed.
func (r *Runtime) republish(ctx context.Context, env orc.Envelope, delay time.Duration) error {
	if r.cfg.MaxBusDelay <= 0 || delay <= r.cfg.MaxBusDelay {
		env.ChunkRemainingMillis = 0
		return r.bus.Publish(ctx, env, delay)
	}

	r.reenqueued.Add(1)
	env.ChunkRemainingMillis = int64((delay - r.cfg.MaxBusDelay) / time.Millisecond)
	return r.bus.Publish(ctx, env, r.cfg.MaxBusDelay)
}

// continueChunk handles redelivery of an envelope that is still walking
// down a chunked retry delay: it never calls the Executor or touches
// Operation state, it only republishes the next chunk (or, once the
// remaining delay fits within cfg.MaxBusDelay, the final one) and acks
// the current delivery.
func (r *Runtime) continueChunk(ctx context.Context, d busport.Delivery) {
	env := d.Envelope
	remaining := time.Duration(env.ChunkRemainingMillis) * time.Millisecond
	env.ChunkRemainingMillis = 0

	if err := r.republish(ctx, env, remaining); err != nil {
		logger.Error(ctx, "runtime: republish chunk continuation failed", "op_id", env.OpId, "error", err)
		r.nackOrLog(ctx, d)
		return
	}
	r.ackOrLog(ctx, d)
}

func (r *Runtime) ackOrLog(ctx context.Context, d busport.Delivery) {
	if err := r.bus.Ack(ctx, d); err != nil {
		logger.Error(ctx, "runtime: ack failed", "op_id", d.Envelope.OpId, "error", err)
	}
}

func (r *Runtime) nackOrLog(ctx context.Context, d busport.Delivery) {
	if err := r.bus.Nack(ctx, d); err != nil {
		logger.Error(ctx, "runtime: nack failed", "op_id", d.Envelope.OpId, "error", err)
	}
}
