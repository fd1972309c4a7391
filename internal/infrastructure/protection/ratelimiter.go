package protection

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"orchestrator/internal/core/apperror"
	"orchestrator/internal/core/orc"
	coreprotection "orchestrator/internal/core/protection"
)

// RateLimiter is the default RateLimiter guard: a token-bucket limiter
// (golang.org/x/time/rate) admitting at most cfg.PermitsPerSecond calls
// per second per resource key, waiting up to cfg.AcquireTimeoutMs for a
// permit before failing fast with Fail(RATE_LIMITED).
type RateLimiter struct {
	cfg      coreprotection.RateLimiterConfig
	limiters sync.Map // map[string]*rate.Limiter
}

// NewRateLimiter builds a RateLimiter guard from cfg.
func NewRateLimiter(cfg coreprotection.RateLimiterConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg}
}

func (r *RateLimiter) limiterFor(resourceKey string) *rate.Limiter {
	if l, ok := r.limiters.Load(resourceKey); ok {
		return l.(*rate.Limiter)
	}
	fresh := rate.NewLimiter(rate.Limit(r.cfg.PermitsPerSecond), r.cfg.MaxBurst)
	actual, _ := r.limiters.LoadOrStore(resourceKey, fresh)
	return actual.(*rate.Limiter)
}

func (r *RateLimiter) Execute(ctx context.Context, resourceKey string, next coreprotection.Call) (orc.Outcome, error) {
	limiter := r.limiterFor(resourceKey)

	waitCtx := ctx
	if r.cfg.AcquireTimeoutMs > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.AcquireTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	if err := limiter.Wait(waitCtx); err != nil {
		return orc.Fail(apperror.CodeRateLimited, "rate limit exceeded for "+resourceKey, err), nil
	}

	return next(ctx)
}
