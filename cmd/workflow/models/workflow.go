package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus represents the status of a workflow
type WorkflowStatus string

const (
	WorkflowNew       WorkflowStatus = "new"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowSucceeded WorkflowStatus = "succeeded"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCanceled  WorkflowStatus = "canceled"
	WorkflowErrored   WorkflowStatus = "errored"
)

// Terminal reports whether the status absorbs further transitions
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowSucceeded, WorkflowFailed, WorkflowCanceled, WorkflowErrored:
		return true
	}
	return false
}

// Workflow is the root entity; it exclusively owns its nodes, links, outputs,
// executions, jobs and color groups.
// Maps to: workflow table
type Workflow struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	Name      *string        `db:"name" json:"name,omitempty"`
	Status    WorkflowStatus `db:"status" json:"status"`
	NetKey    string         `db:"net_key" json:"-"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// NetKeyFor derives the Petri net key from the workflow id. The derivation
// is deterministic so a re-submit lands on the same net.
func NetKeyFor(id uuid.UUID) string {
	return "wf-" + strings.ReplaceAll(id.String(), "-", "")
}
