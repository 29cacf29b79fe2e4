package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// MethodService names the strategy backing a method
type MethodService string

const (
	ServiceShellCommand MethodService = "shell_command"
	ServiceDAG          MethodService = "dag"
	ServiceWorkflow     MethodService = "workflow"
)

// Method is one alternative implementation of a task. Methods are tried in
// index order with fall-through on failure. A method knows its parent task
// by id but not the workflow graph.
// Maps to: method table
type Method struct {
	ID         int64         `db:"id" json:"id"`
	WorkflowID uuid.UUID     `db:"workflow_id" json:"workflow_id"`
	NodeID     int64         `db:"node_id" json:"node_id"`
	Name       string        `db:"name" json:"name"`
	Index      int           `db:"method_index" json:"index"`
	Service    MethodService `db:"service" json:"service"`

	// SerializedCommandLine holds the JSON command line for shell_command
	// methods, nil otherwise.
	SerializedCommandLine []byte `db:"command_line" json:"-"`

	// DAGNodeID points at the subgraph node for dag and workflow methods,
	// nil otherwise.
	DAGNodeID *int64 `db:"dag_node_id" json:"dag_node_id,omitempty"`
}

// CommandLine decodes the stored command line
func (m *Method) CommandLine() ([]string, error) {
	if len(m.SerializedCommandLine) == 0 {
		return nil, nil
	}
	var cmd []string
	if err := json.Unmarshal(m.SerializedCommandLine, &cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// SetCommandLine encodes and stores the command line
func (m *Method) SetCommandLine(cmd []string) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	m.SerializedCommandLine = data
	return nil
}
