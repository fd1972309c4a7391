package protection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/core/executor"
	"orchestrator/internal/core/orc"
)

type recordingGuard struct {
	name  string
	trace *[]string
}

func (g recordingGuard) Execute(ctx context.Context, resourceKey string, next Call) (orc.Outcome, error) {
	*g.trace = append(*g.trace, "enter:"+g.name)
	outcome, err := next(ctx)
	*g.trace = append(*g.trace, "exit:"+g.name)
	return outcome, err
}

func TestChain_NewChain_DefaultsToAllNoOp(t *testing.T) {
	c := NewChain()
	exec := executor.Func(func(ctx context.Context, cmd orc.Command) (orc.Outcome, error) {
		return orc.Ok("done", "", nil), nil
	})

	outcome, err := c.Execute(context.Background(), "res", orc.Command{}, exec)
	require.NoError(t, err)
	assert.Equal(t, orc.OutcomeOk, outcome.Kind)
}

func TestChain_Execute_FixedOrder(t *testing.T) {
	var trace []string
	c := &Chain{
		Timeout:        recordingGuard{"timeout", &trace},
		CircuitBreaker: recordingGuard{"breaker", &trace},
		Bulkhead:       recordingGuard{"bulkhead", &trace},
		RateLimiter:    recordingGuard{"ratelimit", &trace},
		Hedge:          recordingGuard{"hedge", &trace},
	}

	exec := executor.Func(func(ctx context.Context, cmd orc.Command) (orc.Outcome, error) {
		trace = append(trace, "executor")
		return orc.Ok("done", "", nil), nil
	})

	_, err := c.Execute(context.Background(), "res", orc.Command{}, exec)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"enter:timeout", "enter:breaker", "enter:bulkhead", "enter:ratelimit", "enter:hedge",
		"executor",
		"exit:hedge", "exit:ratelimit", "exit:bulkhead", "exit:breaker", "exit:timeout",
	}, trace)
}
