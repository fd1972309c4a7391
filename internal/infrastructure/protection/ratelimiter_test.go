package protection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/core/orc"
	coreprotection "orchestrator/internal/core/protection"
)

func TestRateLimiter_AdmitsWithinBurst(t *testing.T) {
	g := NewRateLimiter(coreprotection.RateLimiterConfig{PermitsPerSecond: 100, MaxBurst: 5, AcquireTimeoutMs: 1000})

	for i := 0; i < 5; i++ {
		outcome, err := g.Execute(context.Background(), "res", func(ctx context.Context) (orc.Outcome, error) {
			return orc.Ok("done", "", nil), nil
		})
		require.NoError(t, err)
		assert.Equal(t, orc.OutcomeOk, outcome.Kind)
	}
}

func TestRateLimiter_RejectsWhenExhaustedWithZeroWait(t *testing.T) {
	g := NewRateLimiter(coreprotection.RateLimiterConfig{PermitsPerSecond: 0.001, MaxBurst: 1, AcquireTimeoutMs: 1})

	first, err := g.Execute(context.Background(), "res", func(ctx context.Context) (orc.Outcome, error) {
		return orc.Ok("done", "", nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, orc.OutcomeOk, first.Kind)

	second, err := g.Execute(context.Background(), "res", func(ctx context.Context) (orc.Outcome, error) {
		return orc.Ok("should not run", "", nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, orc.OutcomeFail, second.Kind)
	assert.Equal(t, "RATE_LIMITED", second.ErrorCode)
}
