package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NodeKind discriminates the node variants stored in the single node table
type NodeKind string

const (
	KindTask            NodeKind = "task"
	KindDAG             NodeKind = "dag"
	KindInputHolder     NodeKind = "input_holder"
	KindInputConnector  NodeKind = "input_connector"
	KindOutputConnector NodeKind = "output_connector"
)

// Reserved child names for a composite task's interior boundary
const (
	InputConnectorName  = "input connector"
	OutputConnectorName = "output connector"
)

// Node is one vertex of the workflow graph. Parent and link relations are
// stored as ids and resolved through the repositories, never as object
// references.
// Maps to: node table (single-table polymorphism on kind)
type Node struct {
	ID               int64     `db:"id" json:"id"`
	WorkflowID       uuid.UUID `db:"workflow_id" json:"workflow_id"`
	ParentID         *int64    `db:"parent_id" json:"parent_id,omitempty"`
	Name             string    `db:"name" json:"name"`
	Kind             NodeKind  `db:"kind" json:"kind"`
	TopologicalIndex int       `db:"topological_index" json:"topological_index"`
	ParallelBy       *string   `db:"parallel_by" json:"parallel_by,omitempty"`
	Status           string    `db:"status" json:"status"`
}

// UniqueName is the stable identity embedded in every Petri place name.
// Embedding the primary id keeps names collision-free across the workflow.
func (n *Node) UniqueName() string {
	return fmt.Sprintf("node-%d-%s", n.ID, strings.ReplaceAll(n.Name, " ", "_"))
}

// IsParallel reports whether the node fans out over a parallel-by property
func (n *Node) IsParallel() bool {
	return n.ParallelBy != nil && *n.ParallelBy != ""
}

// IsConnector reports whether the node is a synthetic boundary node
func (n *Node) IsConnector() bool {
	return n.Kind == KindInputConnector || n.Kind == KindOutputConnector
}

// Link is a directed data-flow edge between two nodes
// Maps to: link table
type Link struct {
	ID            int64     `db:"id" json:"id"`
	WorkflowID    uuid.UUID `db:"workflow_id" json:"workflow_id"`
	SourceID      int64     `db:"source_id" json:"source_id"`
	DestinationID int64     `db:"destination_id" json:"destination_id"`
}

// DataFlowEntry maps one source property onto one destination property of a
// link. A (destination, destination_property) pair appears at most once
// across all incoming links of a node.
// Maps to: data_flow_entry table
type DataFlowEntry struct {
	ID                  int64  `db:"id" json:"id"`
	LinkID              int64  `db:"link_id" json:"link_id"`
	SourceProperty      string `db:"source_property" json:"source_property"`
	DestinationProperty string `db:"destination_property" json:"destination_property"`
}
