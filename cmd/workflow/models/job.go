package models

import "github.com/google/uuid"

// Job correlates a shell-command method execution with the external
// executor's job id. The (method, external job id) pair is unique so
// simultaneous ended callbacks for one job collapse onto one row.
// Maps to: job table
type Job struct {
	ID            uuid.UUID `db:"id" json:"id"`
	WorkflowID    uuid.UUID `db:"workflow_id" json:"workflow_id"`
	NodeID        int64     `db:"node_id" json:"node_id"`
	MethodID      int64     `db:"method_id" json:"method_id"`
	Color         int       `db:"color" json:"color"`
	ExternalJobID string    `db:"external_job_id" json:"external_job_id"`

	ResponseLinks map[string]string `json:"response_links,omitempty"`
}

// ResponseLink is a one-shot URL on the Petri engine, PUT to acknowledge an
// action when the external job completes.
// Maps to: response_link table
type ResponseLink struct {
	ID    int64     `db:"id" json:"id"`
	JobID uuid.UUID `db:"job_id" json:"job_id"`
	Name  string    `db:"name" json:"name"`
	URL   string    `db:"url" json:"url"`
}

// Webhook subscribes a URL to a lifecycle event of a node or method.
// Delivery is at-least-once; failures are logged and dropped.
// Maps to: webhook table
type Webhook struct {
	ID         int64     `db:"id" json:"id"`
	WorkflowID uuid.UUID `db:"workflow_id" json:"workflow_id"`
	NodeID     *int64    `db:"node_id" json:"node_id,omitempty"`
	MethodID   *int64    `db:"method_id" json:"method_id,omitempty"`
	Event      string    `db:"event" json:"event"`
	URL        string    `db:"url" json:"url"`
}
