package protection

import (
	"context"

	"orchestrator/internal/core/orc"
)

// NoOpTimeout disables the TimeoutPolicy guard.
type NoOpTimeout struct{}

func (NoOpTimeout) Execute(ctx context.Context, resourceKey string, next Call) (orc.Outcome, error) {
	return next(ctx)
}

// NoOpCircuitBreaker disables the CircuitBreaker guard.
type NoOpCircuitBreaker struct{}

func (NoOpCircuitBreaker) Execute(ctx context.Context, resourceKey string, next Call) (orc.Outcome, error) {
	return next(ctx)
}

// NoOpBulkhead disables the Bulkhead guard.
type NoOpBulkhead struct{}

func (NoOpBulkhead) Execute(ctx context.Context, resourceKey string, next Call) (orc.Outcome, error) {
	return next(ctx)
}

// NoOpRateLimiter disables the RateLimiter guard.
type NoOpRateLimiter struct{}

func (NoOpRateLimiter) Execute(ctx context.Context, resourceKey string, next Call) (orc.Outcome, error) {
	return next(ctx)
}

// NoOpHedge disables the HedgePolicy wrapper.
type NoOpHedge struct{}

func (NoOpHedge) Execute(ctx context.Context, resourceKey string, next Call) (orc.Outcome, error) {
	return next(ctx)
}
