package protection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	coreprotection "orchestrator/internal/core/protection"
	"orchestrator/internal/core/apperror"
	"orchestrator/internal/core/orc"
)

// CircuitBreaker is the default CircuitBreaker guard, backed by
// sony/gobreaker/v2. State is lazily initialized per resourceKey and
// held in a concurrent map, since breaker state is process-local.
//
// The failure ratio is computed from gobreaker's counts, which cover every
// call since the breaker last changed state (no Interval is set, so they
// are not cleared while CLOSED). cfg.SlidingWindowSize is not read: there
// is no fixed-size window of recent calls.
type CircuitBreaker struct {
	cfg       coreprotection.CircuitBreakerConfig
	breakers  sync.Map // map[string]*gobreaker.TwoStepCircuitBreaker[orc.Outcome]
}

// NewCircuitBreaker builds a CircuitBreaker guard from cfg.
func NewCircuitBreaker(cfg coreprotection.CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg}
}

func (c *CircuitBreaker) breakerFor(resourceKey string) *gobreaker.TwoStepCircuitBreaker[orc.Outcome] {
	if b, ok := c.breakers.Load(resourceKey); ok {
		return b.(*gobreaker.TwoStepCircuitBreaker[orc.Outcome])
	}

	settings := gobreaker.Settings{
		Name:        resourceKey,
		MaxRequests: uint32(c.cfg.PermittedCallsInHalfOpen),
		Timeout:     time.Duration(c.cfg.WaitDurationInOpenMs) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(c.cfg.MinimumCalls) {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			return failureRatio >= c.cfg.FailureRateThreshold
		},
	}
	fresh := gobreaker.NewTwoStepCircuitBreaker[orc.Outcome](settings)
	actual, _ := c.breakers.LoadOrStore(resourceKey, fresh)
	return actual.(*gobreaker.TwoStepCircuitBreaker[orc.Outcome])
}

func (c *CircuitBreaker) Execute(ctx context.Context, resourceKey string, next coreprotection.Call) (orc.Outcome, error) {
	breaker := c.breakerFor(resourceKey)

	done, err := breaker.Allow()
	if err != nil {
		return orc.Fail(apperror.CodeCircuitOpen, "circuit breaker open for "+resourceKey, err), nil
	}

	outcome, callErr := next(ctx)
	var doneErr error
	if callErr != nil {
		doneErr = callErr
	} else if outcome.Kind == orc.OutcomeFail {
		doneErr = outcome.Cause
		if doneErr == nil {
			doneErr = errors.New(outcome.ErrorCode)
		}
	}
	done(doneErr)
	return outcome, callErr
}
