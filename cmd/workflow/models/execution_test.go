package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecutionStatusTerminal(t *testing.T) {
	terminal := []ExecutionStatus{
		ExecutionSucceeded,
		ExecutionFailed,
		ExecutionErrored,
		ExecutionCanceled,
	}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}

	for _, s := range []ExecutionStatus{ExecutionNew, ExecutionScheduled, ExecutionRunning} {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestExecutionStatusTransitions(t *testing.T) {
	cases := []struct {
		from    ExecutionStatus
		to      ExecutionStatus
		allowed bool
	}{
		{ExecutionNew, ExecutionScheduled, true},
		{ExecutionNew, ExecutionRunning, true},
		{ExecutionNew, ExecutionSucceeded, true},
		{ExecutionScheduled, ExecutionRunning, true},
		{ExecutionRunning, ExecutionSucceeded, true},
		{ExecutionRunning, ExecutionFailed, true},
		{ExecutionRunning, ExecutionCanceled, true},

		// never backwards
		{ExecutionRunning, ExecutionScheduled, false},
		{ExecutionScheduled, ExecutionNew, false},

		// terminal states absorb
		{ExecutionSucceeded, ExecutionFailed, false},
		{ExecutionFailed, ExecutionRunning, false},
		{ExecutionCanceled, ExecutionSucceeded, false},
		{ExecutionErrored, ExecutionCanceled, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransition(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestExecutionUpdateTimestamp(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	e := &Execution{
		History: []StatusEntry{
			{Status: ExecutionNew, Timestamp: base},
			{Status: ExecutionRunning, Timestamp: base.Add(time.Minute)},
			{Status: ExecutionSucceeded, Timestamp: base.Add(2 * time.Minute)},
		},
	}

	assert.Equal(t, base.Add(2*time.Minute), e.UpdateTimestamp())
}

func TestExecutionUpdateTimestampEmpty(t *testing.T) {
	e := &Execution{}
	assert.True(t, e.UpdateTimestamp().IsZero())
}

func TestWorkflowStatusTerminal(t *testing.T) {
	assert.False(t, WorkflowNew.Terminal())
	assert.False(t, WorkflowRunning.Terminal())
	assert.True(t, WorkflowSucceeded.Terminal())
	assert.True(t, WorkflowCanceled.Terminal())
}
