// Package busmemory provides an in-process Bus adapter: pending messages
// are scanned by visibility, claimed into an in-flight set for a
// visibility timeout, and returned to pending on nack or timeout expiry.
package busmemory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"orchestrator/internal/core/bus"
	"orchestrator/internal/core/orc"
)

type message struct {
	env       orc.Envelope
	visibleAt time.Time
}

type claim struct {
	env       orc.Envelope
	expiresAt time.Time
}

// Bus is an in-memory Bus adapter for tests and the no-database demo
// binaries. Not safe to share across OS processes.
type Bus struct {
	mu                sync.Mutex
	pending           []*message
	inFlight          map[string]*claim
	dlq               []bus.DLQEntry
	visibilityTimeout time.Duration
}

// NewBus builds a Bus with the given visibility timeout (default 30s
// if zero is passed).
func NewBus(visibilityTimeout time.Duration) *Bus {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 30 * time.Second
	}
	return &Bus{
		inFlight:          make(map[string]*claim),
		visibilityTimeout: visibilityTimeout,
	}
}

func (b *Bus) Publish(ctx context.Context, env orc.Envelope, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, &message{env: env, visibleAt: time.Now().Add(delay)})
	return nil
}

func (b *Bus) Dequeue(ctx context.Context, batchSize int) ([]bus.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reclaimExpiredLocked()

	now := time.Now()
	deliveries := make([]bus.Delivery, 0, batchSize)
	remaining := b.pending[:0]

	for _, m := range b.pending {
		if len(deliveries) >= batchSize || now.Before(m.visibleAt) {
			remaining = append(remaining, m)
			continue
		}
		token := uuid.New().String()
		b.inFlight[token] = &claim{env: m.env, expiresAt: now.Add(b.visibilityTimeout)}
		deliveries = append(deliveries, bus.Delivery{Envelope: m.env, Token: token})
	}
	b.pending = remaining
	return deliveries, nil
}

func (b *Bus) reclaimExpiredLocked() {
	now := time.Now()
	for token, c := range b.inFlight {
		if now.After(c.expiresAt) {
			b.pending = append(b.pending, &message{env: c.env, visibleAt: now})
			delete(b.inFlight, token)
		}
	}
}

func (b *Bus) Ack(ctx context.Context, d bus.Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.inFlight, d.Token)
	return nil
}

func (b *Bus) Nack(ctx context.Context, d bus.Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.inFlight[d.Token]; ok {
		b.pending = append(b.pending, &message{env: c.env, visibleAt: time.Now()})
		delete(b.inFlight, d.Token)
		return nil
	}
	b.pending = append(b.pending, &message{env: d.Envelope, visibleAt: time.Now()})
	return nil
}

func (b *Bus) PublishToDLQ(ctx context.Context, env orc.Envelope, fail orc.Outcome) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dlq = append(b.dlq, bus.DLQEntry{Envelope: env, Fail: fail, MovedAt: time.Now()})
	return nil
}

// ListDLQ implements bus.Inspectable.
func (b *Bus) ListDLQ(ctx context.Context, limit int) ([]bus.DLQEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit <= 0 || limit > len(b.dlq) {
		limit = len(b.dlq)
	}
	start := len(b.dlq) - limit
	out := make([]bus.DLQEntry, limit)
	copy(out, b.dlq[start:])
	return out, nil
}

var (
	_ bus.Bus         = (*Bus)(nil)
	_ bus.Inspectable = (*Bus)(nil)
)
