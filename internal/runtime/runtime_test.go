package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	busport "orchestrator/internal/core/bus"
	"orchestrator/internal/core/executor"
	"orchestrator/internal/core/orc"
	"orchestrator/internal/core/protection"
	"orchestrator/internal/infrastructure/bus/busmemory"
	"orchestrator/internal/infrastructure/storage/memory"
)

func seedPending(t *testing.T, st *memory.Store, b *busmemory.Bus, opID orc.OpId) {
	t.Helper()
	cmd := orc.Command{Domain: "ORDER", EventType: "CREATE", BizKey: "biz-1", IdemKey: orc.IdemKey(opID), Payload: orc.Payload("p")}
	env := orc.Envelope{OpId: opID, Command: cmd, AcceptedAt: orc.NowMillis()}
	require.NoError(t, st.CreatePending(context.Background(), env))
	require.NoError(t, b.Publish(context.Background(), env, 0))
}

func drainOnce(t *testing.T, rt *Runtime, b *busmemory.Bus, n int) {
	t.Helper()
	deliveries, err := b.Dequeue(context.Background(), n)
	require.NoError(t, err)
	for _, d := range deliveries {
		rt.process(context.Background(), d)
	}
}

func TestRuntime_ProcessOk_FinalizesCompletedAndAcks(t *testing.T) {
	st := memory.NewStore()
	b := busmemory.NewBus(time.Minute)
	opID := orc.OpId("op-1")
	seedPending(t, st, b, opID)

	exec := executor.Func(func(ctx context.Context, cmd orc.Command) (orc.Outcome, error) {
		return orc.Ok("done", "txn-1", nil), nil
	})
	rt := New(st, b, protection.NewChain(), exec, DefaultConfig())

	drainOnce(t, rt, b, 1)

	state, err := st.GetState(context.Background(), opID)
	require.NoError(t, err)
	assert.Equal(t, orc.StateCompleted, state)
	assert.Equal(t, int64(1), rt.CompletedCount())

	remaining, err := b.Dequeue(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRuntime_ProcessFail_FinalizesFailedAndPublishesDLQ(t *testing.T) {
	st := memory.NewStore()
	b := busmemory.NewBus(time.Minute)
	opID := orc.OpId("op-2")
	seedPending(t, st, b, opID)

	exec := executor.Func(func(ctx context.Context, cmd orc.Command) (orc.Outcome, error) {
		return orc.Fail("PROVIDER_ERROR", "rejected", errors.New("rejected")), nil
	})
	cfg := DefaultConfig()
	cfg.DLQOnFail = true
	rt := New(st, b, protection.NewChain(), exec, cfg)

	drainOnce(t, rt, b, 1)

	state, err := st.GetState(context.Background(), opID)
	require.NoError(t, err)
	assert.Equal(t, orc.StateFailed, state)
	assert.Equal(t, int64(1), rt.FailedCount())

	entries, err := b.ListDLQ(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, opID, entries[0].Envelope.OpId)
}

func TestRuntime_ProcessRetry_ReenqueuesAndCountsRetry(t *testing.T) {
	st := memory.NewStore()
	b := busmemory.NewBus(time.Minute)
	opID := orc.OpId("op-3")
	seedPending(t, st, b, opID)

	exec := executor.Func(func(ctx context.Context, cmd orc.Command) (orc.Outcome, error) {
		return orc.Retry("try again", 1, 0), nil
	})
	rt := New(st, b, protection.NewChain(), exec, DefaultConfig())

	drainOnce(t, rt, b, 1)

	state, err := st.GetState(context.Background(), opID)
	require.NoError(t, err)
	assert.False(t, state.IsTerminal())
	assert.Equal(t, int64(1), rt.RetriedCount())

	requeued, err := b.Dequeue(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, requeued, 1)
	assert.Equal(t, opID, requeued[0].Envelope.OpId)
}

func TestRuntime_RetryBudgetExhausted_ConvertsToFail(t *testing.T) {
	st := memory.NewStore()
	b := busmemory.NewBus(time.Minute)
	opID := orc.OpId("op-4")
	seedPending(t, st, b, opID)

	exec := executor.Func(func(ctx context.Context, cmd orc.Command) (orc.Outcome, error) {
		return orc.Retry("still failing", 5, 0), nil
	})
	cfg := DefaultConfig()
	cfg.RetryPolicy = RetryPolicy{MaxAttempts: 5}
	rt := New(st, b, protection.NewChain(), exec, cfg)

	drainOnce(t, rt, b, 1)

	state, err := st.GetState(context.Background(), opID)
	require.NoError(t, err)
	assert.Equal(t, orc.StateFailed, state)
	assert.Equal(t, int64(1), rt.FailedCount())
}

func TestRuntime_Process_AlreadyTerminalDeliveryIsAckedAsNoOp(t *testing.T) {
	st := memory.NewStore()
	b := busmemory.NewBus(time.Minute)
	opID := orc.OpId("op-5")
	seedPending(t, st, b, opID)
	require.NoError(t, st.TransitionToInProgress(context.Background(), opID))
	require.NoError(t, st.WriteAhead(context.Background(), opID, orc.Ok("done", "txn", nil)))
	require.NoError(t, st.Finalize(context.Background(), opID, orc.StateCompleted))

	var calls atomic.Int32
	exec := executor.Func(func(ctx context.Context, cmd orc.Command) (orc.Outcome, error) {
		calls.Add(1)
		return orc.Ok("should not run again", "", nil), nil
	})
	rt := New(st, b, protection.NewChain(), exec, DefaultConfig())

	drainOnce(t, rt, b, 1)

	assert.Equal(t, int32(0), calls.Load())
	remaining, err := b.Dequeue(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRuntime_Invoke_PanicConvertsToExecutorUncaught(t *testing.T) {
	st := memory.NewStore()
	b := busmemory.NewBus(time.Minute)
	opID := orc.OpId("op-6")
	seedPending(t, st, b, opID)

	exec := executor.Func(func(ctx context.Context, cmd orc.Command) (orc.Outcome, error) {
		panic("boom")
	})
	rt := New(st, b, protection.NewChain(), exec, DefaultConfig())

	drainOnce(t, rt, b, 1)

	outcome, err := st.GetWriteAheadOutcome(context.Background(), opID)
	require.NoError(t, err)
	assert.Equal(t, orc.OutcomeFail, outcome.Kind)
	assert.Equal(t, "EXECUTOR_UNCAUGHT", outcome.ErrorCode)
}

func TestRuntime_Republish_ChunksDelayExceedingMaxBusDelay(t *testing.T) {
	st := memory.NewStore()
	b := busmemory.NewBus(time.Minute)
	rt := New(st, b, protection.NewChain(), executor.Func(nil), DefaultConfig())
	rt.cfg.MaxBusDelay = 100 * time.Millisecond

	env := orc.Envelope{OpId: orc.OpId("op-7"), Command: orc.Command{Domain: "ORDER", EventType: "CREATE", BizKey: "b", IdemKey: "i"}, AcceptedAt: orc.NowMillis()}
	err := rt.republish(context.Background(), env, 350*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rt.ReenqueuedChunkCount())

	d := waitDequeue(t, b, 500*time.Millisecond)
	assert.Equal(t, int64(250*time.Millisecond/time.Millisecond), d.Envelope.ChunkRemainingMillis)
}

// waitDequeue polls b.Dequeue until it returns exactly one delivery or
// timeout elapses, standing in for the Bus's own visibility-timeout
// clock advancing in a live deployment.
func waitDequeue(t *testing.T, b *busmemory.Bus, timeout time.Duration) busport.Delivery {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		deliveries, err := b.Dequeue(context.Background(), 1)
		require.NoError(t, err)
		if len(deliveries) == 1 {
			return deliveries[0]
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a delivery")
	return busport.Delivery{}
}

// TestRuntime_ChunkedRetry_DoesNotInvokeExecutorUntilFullDelayElapses
// drives a chunked retry delay end-to-end through repeated
// Dequeue/process cycles (rather than asserting on the reenqueued
// counter alone) to confirm the Executor is only re-invoked once the
// full delay has actually elapsed, and not on every intermediate chunk
// redelivery.
func TestRuntime_ChunkedRetry_DoesNotInvokeExecutorUntilFullDelayElapses(t *testing.T) {
	st := memory.NewStore()
	b := busmemory.NewBus(time.Minute)

	var invocations atomic.Int32
	exec := executor.Func(func(ctx context.Context, cmd orc.Command) (orc.Outcome, error) {
		invocations.Add(1)
		return orc.Ok("done", "txn-chunked", nil), nil
	})

	cfg := DefaultConfig()
	cfg.MaxBusDelay = 20 * time.Millisecond
	rt := New(st, b, protection.NewChain(), exec, cfg)

	opID := orc.OpId("op-chunked-retry")
	cmd := orc.Command{Domain: "ORDER", EventType: "CREATE", BizKey: "biz-1", IdemKey: orc.IdemKey(opID)}
	env := orc.Envelope{OpId: opID, Command: cmd, AcceptedAt: orc.NowMillis()}
	require.NoError(t, st.CreatePending(context.Background(), env))

	// Simulate the tail of handleRetry: a Retry Outcome whose delay (70ms)
	// exceeds cfg.MaxBusDelay (20ms) gets chunked instead of published in
	// one call.
	require.NoError(t, rt.republish(context.Background(), env, 70*time.Millisecond))

	start := time.Now()
	chunkDeliveries := 0
	for {
		d := waitDequeue(t, b, time.Second)
		assert.Equal(t, int32(0), invocations.Load(), "executor must not run before the chunked delay fully elapses")

		if d.Envelope.ChunkRemainingMillis == 0 {
			rt.process(context.Background(), d)
			break
		}
		chunkDeliveries++
		rt.process(context.Background(), d)
	}

	assert.Equal(t, 3, chunkDeliveries, "expected 3 intermediate chunk redeliveries before the final one")
	assert.Equal(t, int64(3), rt.ReenqueuedChunkCount())
	assert.Equal(t, int32(1), invocations.Load())
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)

	state, err := st.GetState(context.Background(), opID)
	require.NoError(t, err)
	assert.Equal(t, orc.StateCompleted, state)
}

func TestRuntime_Run_ProcessesDeliveryThenStopsOnCancel(t *testing.T) {
	st := memory.NewStore()
	b := busmemory.NewBus(time.Minute)
	opID := orc.OpId("op-8")
	seedPending(t, st, b, opID)

	exec := executor.Func(func(ctx context.Context, cmd orc.Command) (orc.Outcome, error) {
		return orc.Ok("done", "txn", nil), nil
	})
	cfg := DefaultConfig()
	cfg.DequeueInterval = 5 * time.Millisecond
	cfg.ShutdownGrace = time.Second
	rt := New(st, b, protection.NewChain(), exec, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rt.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return rt.CompletedCount() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
