package protection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/core/orc"
	coreprotection "orchestrator/internal/core/protection"
)

func TestTimeout_PassesThroughWhenDisabled(t *testing.T) {
	g := NewTimeout(coreprotection.TimeoutConfig{PerAttemptMs: 0})
	outcome, err := g.Execute(context.Background(), "res", func(ctx context.Context) (orc.Outcome, error) {
		return orc.Ok("fast", "", nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, orc.OutcomeOk, outcome.Kind)
}

func TestTimeout_ExpiryConvertsToRetryByDefault(t *testing.T) {
	g := NewTimeout(coreprotection.TimeoutConfig{PerAttemptMs: 10, OnExpiry: coreprotection.TimeoutActionRetry})
	outcome, err := g.Execute(context.Background(), "res", func(ctx context.Context) (orc.Outcome, error) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
		}
		return orc.Ok("too slow", "", nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, orc.OutcomeRetry, outcome.Kind)
}

func TestTimeout_ExpiryConvertsToFailWhenConfigured(t *testing.T) {
	g := NewTimeout(coreprotection.TimeoutConfig{PerAttemptMs: 10, OnExpiry: coreprotection.TimeoutActionFail})
	outcome, err := g.Execute(context.Background(), "res", func(ctx context.Context) (orc.Outcome, error) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
		}
		return orc.Ok("too slow", "", nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, orc.OutcomeFail, outcome.Kind)
	assert.Equal(t, "TIMEOUT", outcome.ErrorCode)
}
