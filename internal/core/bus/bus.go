// Package bus defines the message-transport port the Runtime,
// Orchestrator, Finalizer, and Reaper publish to and consume from.
package bus

import (
	"context"
	"time"

	"orchestrator/internal/core/orc"
)

// Delivery wraps an Envelope dequeued from the Bus together with the
// handle a consumer needs to Ack or Nack it before its visibility
// timeout expires.
type Delivery struct {
	Envelope orc.Envelope
	// Token identifies this specific delivery attempt to the adapter
	// (e.g. a Redis Streams message ID); opaque to callers.
	Token string
}

// Bus is the abstract message-transport port. Delivery semantics
// are at-least-once: a dequeued message stays invisible to other
// consumers for the adapter's visibility timeout, after which it is
// redelivered unless acked.
type Bus interface {
	// Publish enqueues env, postponing visibility by delay (delay=0 is
	// immediate delivery; negative is rejected by the caller).
	Publish(ctx context.Context, env orc.Envelope, delay time.Duration) error

	// Dequeue returns up to batchSize deliveries, each invisible to
	// other consumers for the Bus's configured visibility timeout.
	Dequeue(ctx context.Context, batchSize int) ([]Delivery, error)

	// Ack idempotently and permanently removes the delivery.
	Ack(ctx context.Context, d Delivery) error

	// Nack returns the delivery for immediate redelivery.
	Nack(ctx context.Context, d Delivery) error

	// PublishToDLQ routes env to the dead-letter destination together
	// with the Fail Outcome it was finalized with: a permanent Fail, or
	// the one that replaced a Retry whose budget was exhausted.
	PublishToDLQ(ctx context.Context, env orc.Envelope, fail orc.Outcome) error
}

// DLQEntry is a message parked in the dead-letter destination, exposed
// for operator inspection.
type DLQEntry struct {
	Envelope  orc.Envelope
	Fail      orc.Outcome
	MovedAt   time.Time
}

// Inspectable is implemented by Bus adapters that expose their DLQ for
// debugging; not every adapter needs to support it.
type Inspectable interface {
	ListDLQ(ctx context.Context, limit int) ([]DLQEntry, error)
}
