package protection

import (
	"context"

	"orchestrator/internal/core/executor"
	"orchestrator/internal/core/orc"
)

// Chain wires the fixed-order guard chain: Timeout -> CircuitBreaker ->
// Bulkhead -> RateLimiter -> Executor, with Hedge wrapping the Executor
// call from inside rather than sitting in series.
// Every field defaults to its NoOp implementation via NewChain.
type Chain struct {
	Timeout        TimeoutPolicy
	CircuitBreaker CircuitBreaker
	Bulkhead       Bulkhead
	RateLimiter    RateLimiter
	Hedge          HedgePolicy
}

// NewChain builds a Chain with every guard defaulted to its NoOp
// implementation; callers override the fields they need gated.
func NewChain() *Chain {
	return &Chain{
		Timeout:        NoOpTimeout{},
		CircuitBreaker: NoOpCircuitBreaker{},
		Bulkhead:       NoOpBulkhead{},
		RateLimiter:    NoOpRateLimiter{},
		Hedge:          NoOpHedge{},
	}
}

// Execute drives cmd through the chain and the given Executor in the
// fixed order (outermost first): Timeout(CircuitBreaker(Bulkhead(
// RateLimiter(Hedge(Executor))))). resourceKey scopes each guard's
// per-process state.
func (c *Chain) Execute(ctx context.Context, resourceKey string, cmd orc.Command, exec executor.Executor) (orc.Outcome, error) {
	innermost := func(ctx context.Context) (orc.Outcome, error) {
		return c.Hedge.Execute(ctx, resourceKey, func(ctx context.Context) (orc.Outcome, error) {
			return exec.Execute(ctx, cmd)
		})
	}
	withRateLimit := func(ctx context.Context) (orc.Outcome, error) {
		return c.RateLimiter.Execute(ctx, resourceKey, innermost)
	}
	withBulkhead := func(ctx context.Context) (orc.Outcome, error) {
		return c.Bulkhead.Execute(ctx, resourceKey, withRateLimit)
	}
	withBreaker := func(ctx context.Context) (orc.Outcome, error) {
		return c.CircuitBreaker.Execute(ctx, resourceKey, withBulkhead)
	}
	return c.Timeout.Execute(ctx, resourceKey, withBreaker)
}
