// Package busredis provides a Redis Streams Bus adapter. A consumer
// group's pending-entries list stands in for the Bus port's visibility
// timeout (XAUTOCLAIM reclaims entries idle longer than the timeout); a
// sorted set holds delayed envelopes until their delivery time arrives.
package busredis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"orchestrator/internal/core/bus"
	"orchestrator/internal/core/orc"
	"orchestrator/pkg/logger"
)

// Config configures the Redis Streams Bus adapter.
type Config struct {
	Stream            string
	DLQStream         string
	DelayedSet        string
	Group             string
	Consumer          string
	VisibilityTimeout time.Duration
}

// DefaultConfig returns sensible defaults for a single logical queue.
func DefaultConfig(name string) Config {
	return Config{
		Stream:            "orchestrator:" + name,
		DLQStream:         "orchestrator:" + name + ":dlq",
		DelayedSet:        "orchestrator:" + name + ":delayed",
		Group:             "orchestrator-pump",
		Consumer:          "pump-" + uuid.New().String()[:8],
		VisibilityTimeout: 30 * time.Second,
	}
}

// Bus is the Redis Streams Bus adapter.
type Bus struct {
	client *redis.Client
	cfg    Config
}

type envelopeWire struct {
	OpId                 string `json:"op_id"`
	Domain               string `json:"domain"`
	EventType            string `json:"event_type"`
	BizKey               string `json:"biz_key"`
	IdemKey              string `json:"idem_key"`
	Payload              []byte `json:"payload,omitempty"`
	AcceptedAt           int64  `json:"accepted_at"`
	ChunkRemainingMillis int64  `json:"chunk_remaining_millis,omitempty"`
}

func toWire(env orc.Envelope) envelopeWire {
	return envelopeWire{
		OpId:                 string(env.OpId),
		Domain:               string(env.Command.Domain),
		EventType:            string(env.Command.EventType),
		BizKey:               string(env.Command.BizKey),
		IdemKey:              string(env.Command.IdemKey),
		Payload:              env.Command.Payload,
		AcceptedAt:           env.AcceptedAt,
		ChunkRemainingMillis: env.ChunkRemainingMillis,
	}
}

func (w envelopeWire) toEnvelope() orc.Envelope {
	return orc.Envelope{
		OpId: orc.OpId(w.OpId),
		Command: orc.Command{
			Domain:    orc.Domain(w.Domain),
			EventType: orc.EventType(w.EventType),
			BizKey:    orc.BizKey(w.BizKey),
			IdemKey:   orc.IdemKey(w.IdemKey),
			Payload:   w.Payload,
		},
		AcceptedAt:           w.AcceptedAt,
		ChunkRemainingMillis: w.ChunkRemainingMillis,
	}
}

// New builds a Bus against an existing *redis.Client and ensures the
// consumer group exists.
func New(ctx context.Context, client *redis.Client, cfg Config) (*Bus, error) {
	b := &Bus{client: client, cfg: cfg}

	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return b, nil
}

func (b *Bus) Publish(ctx context.Context, env orc.Envelope, delay time.Duration) error {
	payload, err := json.Marshal(toWire(env))
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if delay <= 0 {
		return b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: b.cfg.Stream,
			Values: map[string]any{"data": payload},
		}).Err()
	}

	executeAt := float64(time.Now().Add(delay).UnixMilli())
	member := uuid.New().String() + ":" + string(payload)
	return b.client.ZAdd(ctx, b.cfg.DelayedSet, redis.Z{Score: executeAt, Member: member}).Err()
}

// promoteDue moves delayed envelopes whose execute time has arrived
// into the live stream.
func (b *Bus) promoteDue(ctx context.Context) {
	now := float64(time.Now().UnixMilli())
	due, err := b.client.ZRangeByScore(ctx, b.cfg.DelayedSet, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		logger.Error(ctx, "busredis: scan delayed set failed", "error", err)
		return
	}

	for _, member := range due {
		parts := strings.SplitN(member, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if err := b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: b.cfg.Stream,
			Values: map[string]any{"data": parts[1]},
		}).Err(); err != nil {
			logger.Error(ctx, "busredis: promote delayed envelope failed", "error", err)
			continue
		}
		if err := b.client.ZRem(ctx, b.cfg.DelayedSet, member).Err(); err != nil {
			logger.Error(ctx, "busredis: remove promoted delayed envelope failed", "error", err)
		}
	}
}

func (b *Bus) decode(values map[string]any) (orc.Envelope, bool) {
	raw, ok := values["data"].(string)
	if !ok {
		return orc.Envelope{}, false
	}
	var wire envelopeWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return orc.Envelope{}, false
	}
	return wire.toEnvelope(), true
}

func (b *Bus) Dequeue(ctx context.Context, batchSize int) ([]bus.Delivery, error) {
	b.promoteDue(ctx)

	deliveries := make([]bus.Delivery, 0, batchSize)

	// Reclaim entries idle longer than the visibility timeout first.
	claimed, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   b.cfg.Stream,
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		MinIdle:  b.cfg.VisibilityTimeout,
		Start:    "0",
		Count:    int64(batchSize),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	for _, msg := range claimed {
		if env, ok := b.decode(msg.Values); ok {
			deliveries = append(deliveries, bus.Delivery{Envelope: env, Token: msg.ID})
		}
	}

	if len(deliveries) >= batchSize {
		return deliveries, nil
	}

	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		Streams:  []string{b.cfg.Stream, ">"},
		Count:    int64(batchSize - len(deliveries)),
		Block:    1 * time.Millisecond,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if env, ok := b.decode(msg.Values); ok {
				deliveries = append(deliveries, bus.Delivery{Envelope: env, Token: msg.ID})
			}
		}
	}

	return deliveries, nil
}

func (b *Bus) Ack(ctx context.Context, d bus.Delivery) error {
	return b.client.XAck(ctx, b.cfg.Stream, b.cfg.Group, d.Token).Err()
}

func (b *Bus) Nack(ctx context.Context, d bus.Delivery) error {
	if err := b.Publish(ctx, d.Envelope, 0); err != nil {
		return err
	}
	return b.Ack(ctx, d)
}

func (b *Bus) PublishToDLQ(ctx context.Context, env orc.Envelope, fail orc.Outcome) error {
	payload, err := json.Marshal(toWire(env))
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.DLQStream,
		Values: map[string]any{
			"data":       payload,
			"error_code": fail.ErrorCode,
			"message":    fail.Message,
			"moved_at":   time.Now().UnixMilli(),
		},
	}).Err()
}

// ListDLQ implements bus.Inspectable.
func (b *Bus) ListDLQ(ctx context.Context, limit int) ([]bus.DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := b.client.XRevRangeN(ctx, b.cfg.DLQStream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange dlq: %w", err)
	}

	entries := make([]bus.DLQEntry, 0, len(msgs))
	for _, msg := range msgs {
		env, ok := b.decode(msg.Values)
		if !ok {
			continue
		}
		entry := bus.DLQEntry{Envelope: env}
		if code, ok := msg.Values["error_code"].(string); ok {
			entry.Fail.ErrorCode = code
		}
		if m, ok := msg.Values["message"].(string); ok {
			entry.Fail.Message = m
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

var (
	_ bus.Bus         = (*Bus)(nil)
	_ bus.Inspectable = (*Bus)(nil)
)
