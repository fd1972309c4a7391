// Package idempotency defines the IdempotencyManager port: the
// IdempotencyKey -> OpId mapping every submit path resolves through.
package idempotency

import (
	"context"

	"orchestrator/internal/core/orc"
)

// Resolver maintains the IdempotencyKey -> OpId mapping. Implementations
// MUST satisfy I5: get_or_create is atomic under concurrency and never
// reassigns an existing key to a new OpId; it fails only on storage I/O
// errors, never on duplicates.
type Resolver interface {
	// GetOrCreate returns the OpId bound to key, minting one with a
	// collision-resistant scheme (>=122 bits entropy) on first sight.
	// Concurrent callers racing on the same unseen key all observe the
	// same OpId.
	GetOrCreate(ctx context.Context, key orc.IdempotencyKey) (orc.OpId, error)

	// Find returns the OpId bound to key, or ok=false if unseen.
	Find(ctx context.Context, key orc.IdempotencyKey) (id orc.OpId, ok bool, err error)
}
