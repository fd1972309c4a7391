package protection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/core/orc"
	coreprotection "orchestrator/internal/core/protection"
)

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	g := NewCircuitBreaker(coreprotection.CircuitBreakerConfig{
		FailureRateThreshold:     50,
		SlidingWindowSize:        10,
		MinimumCalls:             2,
		WaitDurationInOpenMs:     60_000,
		PermittedCallsInHalfOpen: 1,
	})

	failing := func(ctx context.Context) (orc.Outcome, error) {
		return orc.Fail("BOOM", "nope", errors.New("boom")), nil
	}

	for i := 0; i < 3; i++ {
		_, _ = g.Execute(context.Background(), "res", failing)
	}

	outcome, err := g.Execute(context.Background(), "res", func(ctx context.Context) (orc.Outcome, error) {
		return orc.Ok("should not run", "", nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, orc.OutcomeFail, outcome.Kind)
	assert.Equal(t, "CB_OPEN", outcome.ErrorCode)
}

func TestCircuitBreaker_StaysClosedOnSuccess(t *testing.T) {
	g := NewCircuitBreaker(coreprotection.CircuitBreakerConfig{
		FailureRateThreshold:     50,
		SlidingWindowSize:        10,
		MinimumCalls:             2,
		WaitDurationInOpenMs:     60_000,
		PermittedCallsInHalfOpen: 1,
	})

	for i := 0; i < 5; i++ {
		outcome, err := g.Execute(context.Background(), "res", func(ctx context.Context) (orc.Outcome, error) {
			return orc.Ok("done", "", nil), nil
		})
		require.NoError(t, err)
		assert.Equal(t, orc.OutcomeOk, outcome.Kind)
	}
}
