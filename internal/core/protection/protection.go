// Package protection defines the Protection pipeline's guard SPIs:
// TimeoutPolicy, CircuitBreaker, Bulkhead, RateLimiter, and HedgePolicy.
// Each has a NoOp default that disables the guard and each is scoped by
// a resource key, since guard state is process-local and shared across
// calls for that key.
package protection

import (
	"context"

	"orchestrator/internal/core/orc"
)

// Call is the signature every guard wraps: the next step of the chain,
// ultimately bottoming out at the Executor.
type Call func(ctx context.Context) (orc.Outcome, error)

// TimeoutExpiryAction selects what a TimeoutPolicy reports on expiry.
type TimeoutExpiryAction string

const (
	TimeoutActionRetry TimeoutExpiryAction = "RETRY"
	TimeoutActionFail  TimeoutExpiryAction = "FAIL"
)

// TimeoutConfig configures TimeoutPolicy.
type TimeoutConfig struct {
	PerAttemptMs int64 // 0 = unlimited (NoOp)
	OnExpiry     TimeoutExpiryAction
}

// DefaultTimeoutConfig returns the NoOp configuration.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{PerAttemptMs: 0, OnExpiry: TimeoutActionRetry}
}

// TimeoutPolicy imposes a per-attempt wall-clock limit on next.
type TimeoutPolicy interface {
	Execute(ctx context.Context, resourceKey string, next Call) (orc.Outcome, error)
}

// CircuitBreakerConfig configures CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureRateThreshold     float64 // 0-100
	SlidingWindowSize        int
	MinimumCalls             int
	WaitDurationInOpenMs     int64
	PermittedCallsInHalfOpen int
}

// DefaultCircuitBreakerConfig returns conservative production defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureRateThreshold:     50,
		SlidingWindowSize:        20,
		MinimumCalls:             10,
		WaitDurationInOpenMs:     30_000,
		PermittedCallsInHalfOpen: 5,
	}
}

// CircuitBreaker tracks failure ratio over a sliding window and
// short-circuits with Fail(CB_OPEN) while OPEN.
type CircuitBreaker interface {
	Execute(ctx context.Context, resourceKey string, next Call) (orc.Outcome, error)
}

// BulkheadConfig configures Bulkhead.
type BulkheadConfig struct {
	MaxConcurrent int
	MaxWaitMs     int64
}

// DefaultBulkheadConfig returns conservative production defaults.
func DefaultBulkheadConfig() BulkheadConfig {
	return BulkheadConfig{MaxConcurrent: 10, MaxWaitMs: 1000}
}

// Bulkhead limits concurrent in-flight Executor calls per resource key.
type Bulkhead interface {
	Execute(ctx context.Context, resourceKey string, next Call) (orc.Outcome, error)
}

// RateLimiterConfig configures RateLimiter.
type RateLimiterConfig struct {
	PermitsPerSecond float64
	MaxBurst         int
	AcquireTimeoutMs int64
}

// DefaultRateLimiterConfig returns conservative production defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{PermitsPerSecond: 50, MaxBurst: 50, AcquireTimeoutMs: 1000}
}

// RateLimiter admits at most R calls per time window per resource key.
type RateLimiter interface {
	Execute(ctx context.Context, resourceKey string, next Call) (orc.Outcome, error)
}

// HedgeConfig configures HedgePolicy.
type HedgeConfig struct {
	Enabled      bool
	HedgeDelayMs int64
	MaxHedges    int
}

// DefaultHedgeConfig returns the disabled configuration.
func DefaultHedgeConfig() HedgeConfig {
	return HedgeConfig{Enabled: false, HedgeDelayMs: 0, MaxHedges: 0}
}

// HedgePolicy launches additional attempts after a delay; the first
// response wins and the rest are cancelled. It wraps the Executor call
// from within, not as a chain link.
type HedgePolicy interface {
	Execute(ctx context.Context, resourceKey string, next Call) (orc.Outcome, error)
}
