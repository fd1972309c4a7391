package memory

import (
	"orchestrator/internal/core/idempotency"
	"orchestrator/internal/core/store"
)

var (
	_ store.Store                = (*Store)(nil)
	_ idempotency.Resolver       = (*IdempotencyResolver)(nil)
)
