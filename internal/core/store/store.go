// Package store defines the durable Store port: the operation state
// machine, its write-ahead log, and the envelope record Reaper replays
// from. Adapters live under internal/infrastructure/storage.
package store

import (
	"context"

	"orchestrator/internal/core/orc"
)

// Operation is the storage-side record backing an OpId's state machine.
// version is the monotonic optimistic-concurrency counter bumped on every
// finalize.
type Operation struct {
	OpId           orc.OpId
	CurrentState   orc.OperationState
	Version        int64
	CreatedAt      int64 // epoch millis
	UpdatedAt      int64 // epoch millis
	IdempotencyKey orc.IdempotencyKey
}

// WalEntry is the write-ahead record for a single OpId. Exactly one
// exists per OpId; write_ahead overwrites it in place.
type WalEntry struct {
	OpId       orc.OpId
	Outcome    orc.Outcome
	WalState   orc.WalState
	OccurredAt int64 // epoch millis
}

// EnvelopeRecord is the persisted form of an Envelope, kept so the Reaper
// can republish it after a stuck IN_PROGRESS is detected.
type EnvelopeRecord struct {
	Envelope orc.Envelope
}

// Store is the abstract persistence port every core component depends
// on. Implementations MUST satisfy the transactional guarantees:
// finalize is a single atomic unit; write_ahead is its own atomic unit;
// concurrent finalizations of the same opId resolve via the Operation's
// version column, the loser observing the already-terminal state.
type Store interface {
	// WriteAhead inserts or overwrites the WAL entry for opId with
	// walState=PENDING, the given outcome, and occurredAt=now. Must
	// never touch a WAL entry whose walState is already COMPLETED —
	// the Runtime is required to check GetState first.
	WriteAhead(ctx context.Context, opID orc.OpId, outcome orc.Outcome) error

	// Finalize transactionally asserts the Operation is non-terminal,
	// advances it to terminalState with a version bump, and marks the
	// WAL entry walState=COMPLETED. If the Operation is already
	// terminal this returns ErrAlreadyTerminal, which callers MUST
	// treat as success per I1.
	Finalize(ctx context.Context, opID orc.OpId, terminalState orc.OperationState) error

	// ScanWA returns up to batchSize opIds whose WAL entry matches
	// walState, ordered by occurredAt ascending.
	ScanWA(ctx context.Context, walState orc.WalState, batchSize int) ([]orc.OpId, error)

	// GetWriteAheadOutcome returns the Outcome stored in opId's WAL
	// entry.
	GetWriteAheadOutcome(ctx context.Context, opID orc.OpId) (orc.Outcome, error)

	// ScanInProgress returns up to batchSize opIds whose state is
	// IN_PROGRESS and whose envelope acceptedAt is older than
	// timeoutThresholdMs, ordered by acceptedAt ascending.
	ScanInProgress(ctx context.Context, timeoutThresholdMs int64, batchSize int) ([]orc.OpId, error)

	// GetEnvelope returns the persisted Envelope for opId.
	GetEnvelope(ctx context.Context, opID orc.OpId) (orc.Envelope, error)

	// GetState returns the current OperationState for opId.
	GetState(ctx context.Context, opID orc.OpId) (orc.OperationState, error)

	// CreatePending inserts the Operation record and its Envelope for a
	// freshly resolved OpId with state PENDING. Called once by the
	// Orchestrator's submit path; idempotent re-submits of an existing
	// OpId must leave the stored Operation untouched.
	CreatePending(ctx context.Context, env orc.Envelope) error

	// TransitionToInProgress moves opId PENDING -> IN_PROGRESS,
	// idempotently succeeding if it is already IN_PROGRESS.
	TransitionToInProgress(ctx context.Context, opID orc.OpId) error
}
