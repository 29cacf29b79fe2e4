package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents one state of an execution's lifecycle
type ExecutionStatus string

const (
	ExecutionNew       ExecutionStatus = "new"
	ExecutionScheduled ExecutionStatus = "scheduled"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionErrored   ExecutionStatus = "errored"
	ExecutionCanceled  ExecutionStatus = "canceled"
)

// Terminal reports whether the status is absorbing
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionSucceeded, ExecutionFailed, ExecutionErrored, ExecutionCanceled:
		return true
	}
	return false
}

// statusRank orders the non-terminal progression; a transition may never move
// backwards and never leave a terminal state.
var statusRank = map[ExecutionStatus]int{
	ExecutionNew:       0,
	ExecutionScheduled: 1,
	ExecutionRunning:   2,
	ExecutionSucceeded: 3,
	ExecutionFailed:    3,
	ExecutionErrored:   3,
	ExecutionCanceled:  3,
}

// CanTransition reports whether moving from s to next is legal
func (s ExecutionStatus) CanTransition(next ExecutionStatus) bool {
	if s.Terminal() {
		return false
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// StatusEntry is one append-only entry of an execution's status history
// Maps to: execution_status_history table
type StatusEntry struct {
	Status    ExecutionStatus `db:"status" json:"status"`
	Timestamp time.Time       `db:"timestamp" json:"timestamp"`
}

// Execution records one invocation of a method at a particular color
// Maps to: execution table
type Execution struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	WorkflowID  uuid.UUID       `db:"workflow_id" json:"workflow_id"`
	NodeID      int64           `db:"node_id" json:"node_id"`
	MethodID    int64           `db:"method_id" json:"method_id"`
	Color       int             `db:"color" json:"color"`
	ParentColor *int            `db:"parent_color" json:"parent_color,omitempty"`
	Status      ExecutionStatus `db:"status" json:"status"`

	// Data holds callback-supplied metadata such as the external job id
	Data map[string]interface{} `db:"data" json:"data,omitempty"`

	History []StatusEntry `json:"status_history,omitempty"`
}

// UpdateTimestamp returns the newest history timestamp, or the zero time for
// an execution without history.
func (e *Execution) UpdateTimestamp() time.Time {
	var max time.Time
	for _, entry := range e.History {
		if entry.Timestamp.After(max) {
			max = entry.Timestamp
		}
	}
	return max
}
