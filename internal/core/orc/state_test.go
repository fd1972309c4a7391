package orc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationState_IsTerminal(t *testing.T) {
	assert.False(t, StatePending.IsTerminal())
	assert.False(t, StateInProgress.IsTerminal())
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
}

func TestOperationState_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from OperationState
		to   OperationState
		want bool
	}{
		{StatePending, StateInProgress, true},
		{StatePending, StateCompleted, false},
		{StatePending, StateFailed, false},
		{StateInProgress, StateInProgress, true},
		{StateInProgress, StateCompleted, true},
		{StateInProgress, StateFailed, true},
		{StateCompleted, StateInProgress, false},
		{StateFailed, StateInProgress, false},
		{StateCompleted, StateCompleted, false},
	}

	for _, tc := range cases {
		got := tc.from.CanTransitionTo(tc.to)
		assert.Equalf(t, tc.want, got, "%s -> %s", tc.from, tc.to)
	}
}
