package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/petriflow/workflow/cmd/workflow/models"
)

// NodeRepository handles database operations for nodes, links and data flow
// entries
type NodeRepository struct{}

// NewNodeRepository creates a new node repository
func NewNodeRepository() *NodeRepository {
	return &NodeRepository{}
}

// CreateNode inserts a node and fills in its generated id
func (r *NodeRepository) CreateNode(ctx context.Context, q Querier, n *models.Node) error {
	query := `
		INSERT INTO node (workflow_id, parent_id, name, kind, topological_index, parallel_by, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := q.QueryRow(
		ctx,
		query,
		n.WorkflowID,
		n.ParentID,
		n.Name,
		n.Kind,
		n.TopologicalIndex,
		n.ParallelBy,
		n.Status,
	).Scan(&n.ID)
	if err != nil {
		if _, integrity := pgErr(err); integrity {
			return &models.UnknownIntegrityError{Cause: err}
		}
		return fmt.Errorf("failed to create node: %w", err)
	}

	return nil
}

// GetNode retrieves a node by id
func (r *NodeRepository) GetNode(ctx context.Context, q Querier, id int64) (*models.Node, error) {
	query := `
		SELECT id, workflow_id, parent_id, name, kind, topological_index, parallel_by, status
		FROM node
		WHERE id = $1
	`

	n := &models.Node{}
	err := q.QueryRow(ctx, query, id).Scan(
		&n.ID,
		&n.WorkflowID,
		&n.ParentID,
		&n.Name,
		&n.Kind,
		&n.TopologicalIndex,
		&n.ParallelBy,
		&n.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &models.NoSuchEntityError{Kind: "task", ID: strconv.FormatInt(id, 10)}
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	return n, nil
}

// ListNodes retrieves all nodes of a workflow
func (r *NodeRepository) ListNodes(ctx context.Context, q Querier, workflowID uuid.UUID) ([]*models.Node, error) {
	query := `
		SELECT id, workflow_id, parent_id, name, kind, topological_index, parallel_by, status
		FROM node
		WHERE workflow_id = $1
		ORDER BY id
	`

	rows, err := q.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.Node
	for rows.Next() {
		n := &models.Node{}
		err := rows.Scan(
			&n.ID,
			&n.WorkflowID,
			&n.ParentID,
			&n.Name,
			&n.Kind,
			&n.TopologicalIndex,
			&n.ParallelBy,
			&n.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return nodes, nil
}

// UpdateNodeStatus updates a node's lifecycle status
func (r *NodeRepository) UpdateNodeStatus(ctx context.Context, q Querier, id int64, status string) error {
	if _, err := q.Exec(ctx, `UPDATE node SET status = $2 WHERE id = $1`, id, status); err != nil {
		return fmt.Errorf("failed to update node status: %w", err)
	}
	return nil
}

// CreateLink inserts a link and fills in its generated id
func (r *NodeRepository) CreateLink(ctx context.Context, q Querier, l *models.Link) error {
	query := `
		INSERT INTO link (workflow_id, source_id, destination_id)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	err := q.QueryRow(ctx, query, l.WorkflowID, l.SourceID, l.DestinationID).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("failed to create link: %w", err)
	}

	return nil
}

// CreateEntry inserts one data flow entry
func (r *NodeRepository) CreateEntry(ctx context.Context, q Querier, e *models.DataFlowEntry) error {
	query := `
		INSERT INTO data_flow_entry (link_id, source_property, destination_property)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	err := q.QueryRow(ctx, query, e.LinkID, e.SourceProperty, e.DestinationProperty).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to create data flow entry: %w", err)
	}

	return nil
}

// ListLinks retrieves all links of a workflow
func (r *NodeRepository) ListLinks(ctx context.Context, q Querier, workflowID uuid.UUID) ([]*models.Link, error) {
	query := `
		SELECT id, workflow_id, source_id, destination_id
		FROM link
		WHERE workflow_id = $1
		ORDER BY id
	`

	rows, err := q.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var links []*models.Link
	for rows.Next() {
		l := &models.Link{}
		if err := rows.Scan(&l.ID, &l.WorkflowID, &l.SourceID, &l.DestinationID); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}

	return links, nil
}

// ListEntries retrieves all data flow entries of a workflow keyed by link id
func (r *NodeRepository) ListEntries(ctx context.Context, q Querier, workflowID uuid.UUID) (map[int64][]*models.DataFlowEntry, error) {
	query := `
		SELECT e.id, e.link_id, e.source_property, e.destination_property
		FROM data_flow_entry e
		JOIN link l ON l.id = e.link_id
		WHERE l.workflow_id = $1
		ORDER BY e.id
	`

	rows, err := q.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list data flow entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[int64][]*models.DataFlowEntry)
	for rows.Next() {
		e := &models.DataFlowEntry{}
		if err := rows.Scan(&e.ID, &e.LinkID, &e.SourceProperty, &e.DestinationProperty); err != nil {
			return nil, fmt.Errorf("failed to scan data flow entry: %w", err)
		}
		entries[e.LinkID] = append(entries[e.LinkID], e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating data flow entries: %w", err)
	}

	return entries, nil
}
