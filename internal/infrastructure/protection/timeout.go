// Package protection provides the default, non-NoOp Protection guards:
// a context-deadline TimeoutPolicy, a gobreaker-backed CircuitBreaker,
// a semaphore-backed Bulkhead, and a token-bucket RateLimiter.
package protection

import (
	"context"
	"time"

	coreprotection "orchestrator/internal/core/protection"
	"orchestrator/internal/core/orc"
)

// Timeout is the default TimeoutPolicy: it imposes cfg.PerAttemptMs as a
// context deadline around next and converts expiry into the configured
// Outcome. PerAttemptMs=0 behaves as NoOp.
type Timeout struct {
	cfg coreprotection.TimeoutConfig
}

// NewTimeout builds a Timeout guard from cfg.
func NewTimeout(cfg coreprotection.TimeoutConfig) *Timeout {
	return &Timeout{cfg: cfg}
}

func (t *Timeout) Execute(ctx context.Context, resourceKey string, next coreprotection.Call) (orc.Outcome, error) {
	if t.cfg.PerAttemptMs <= 0 {
		return next(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(t.cfg.PerAttemptMs)*time.Millisecond)
	defer cancel()

	type result struct {
		outcome orc.Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := next(callCtx)
		done <- result{outcome, err}
	}()

	select {
	case r := <-done:
		return r.outcome, r.err
	case <-callCtx.Done():
		if t.cfg.OnExpiry == coreprotection.TimeoutActionFail {
			return orc.Fail("TIMEOUT", "executor call exceeded per-attempt timeout", callCtx.Err()), nil
		}
		return orc.Retry("timeout", 1, 0), nil
	}
}
