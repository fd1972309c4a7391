package busmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/core/orc"
)

func testEnvelope(opID orc.OpId) orc.Envelope {
	return orc.Envelope{
		OpId:       opID,
		Command:    orc.Command{Domain: "ORDER", EventType: "CREATE", BizKey: "biz-1", IdemKey: "idem-1"},
		AcceptedAt: orc.NowMillis(),
	}
}

func TestBus_PublishDequeueAck(t *testing.T) {
	ctx := context.Background()
	b := NewBus(time.Minute)

	require.NoError(t, b.Publish(ctx, testEnvelope("op-1"), 0))

	deliveries, err := b.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, orc.OpId("op-1"), deliveries[0].Envelope.OpId)

	require.NoError(t, b.Ack(ctx, deliveries[0]))

	again, err := b.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestBus_DelayedPublishNotImmediatelyVisible(t *testing.T) {
	ctx := context.Background()
	b := NewBus(time.Minute)

	require.NoError(t, b.Publish(ctx, testEnvelope("op-1"), time.Hour))

	deliveries, err := b.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestBus_Nack_ReturnsToPendingImmediately(t *testing.T) {
	ctx := context.Background()
	b := NewBus(time.Minute)
	require.NoError(t, b.Publish(ctx, testEnvelope("op-1"), 0))

	deliveries, err := b.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	require.NoError(t, b.Nack(ctx, deliveries[0]))

	redelivered, err := b.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, orc.OpId("op-1"), redelivered[0].Envelope.OpId)
}

func TestBus_ExpiredClaimIsReclaimed(t *testing.T) {
	ctx := context.Background()
	b := NewBus(1 * time.Millisecond)
	require.NoError(t, b.Publish(ctx, testEnvelope("op-1"), 0))

	deliveries, err := b.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	time.Sleep(5 * time.Millisecond)

	redelivered, err := b.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
}

func TestBus_BatchSizeIsRespected(t *testing.T) {
	ctx := context.Background()
	b := NewBus(time.Minute)
	for _, id := range []orc.OpId{"op-1", "op-2", "op-3"} {
		require.NoError(t, b.Publish(ctx, testEnvelope(id), 0))
	}

	deliveries, err := b.Dequeue(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, deliveries, 2)
}

func TestBus_DLQ_PublishAndList(t *testing.T) {
	ctx := context.Background()
	b := NewBus(time.Minute)
	env := testEnvelope("op-1")
	fail := orc.Fail("BOOM", "permanent", nil)

	require.NoError(t, b.PublishToDLQ(ctx, env, fail))

	entries, err := b.ListDLQ(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, orc.OpId("op-1"), entries[0].Envelope.OpId)
	assert.Equal(t, "BOOM", entries[0].Fail.ErrorCode)
}
