// Package memory provides in-process Store and Idempotency Resolver
// adapters, backed by a concurrent compute-if-absent map. Used by tests
// and by cmd/ binaries running without a database.
package memory

import (
	"context"
	"sync"

	"orchestrator/internal/core/id"
	"orchestrator/internal/core/orc"
)

// IdempotencyResolver is an in-memory IdempotencyKey -> OpId resolver
// satisfying I5 via sync.Map's LoadOrStore compute-if-absent primitive.
type IdempotencyResolver struct {
	keys sync.Map // map[string]orc.OpId
}

// NewIdempotencyResolver builds an empty resolver.
func NewIdempotencyResolver() *IdempotencyResolver {
	return &IdempotencyResolver{}
}

// GetOrCreate implements idempotency.Resolver.
func (r *IdempotencyResolver) GetOrCreate(ctx context.Context, key orc.IdempotencyKey) (orc.OpId, error) {
	if existing, ok := r.keys.Load(key.String()); ok {
		return existing.(orc.OpId), nil
	}

	candidate := orc.OpId(id.New().String())
	actual, _ := r.keys.LoadOrStore(key.String(), candidate)
	return actual.(orc.OpId), nil
}

// Find implements idempotency.Resolver.
func (r *IdempotencyResolver) Find(ctx context.Context, key orc.IdempotencyKey) (orc.OpId, bool, error) {
	v, ok := r.keys.Load(key.String())
	if !ok {
		return "", false, nil
	}
	return v.(orc.OpId), true, nil
}
