package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/petriflow/workflow/cmd/workflow/models"
)

// ColorGroupRepository handles database operations for color groups
type ColorGroupRepository struct{}

// NewColorGroupRepository creates a new color group repository
func NewColorGroupRepository() *ColorGroupRepository {
	return &ColorGroupRepository{}
}

// Create inserts a color group and fills in its generated id. The unique
// constraint on (workflow, begin) makes a concurrent duplicate allocation
// fail rather than overlap.
func (r *ColorGroupRepository) Create(ctx context.Context, q Querier, g *models.ColorGroup) error {
	query := `
		INSERT INTO color_group (workflow_id, node_id, begin_color, end_color, parent_color)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := q.QueryRow(
		ctx,
		query,
		g.WorkflowID,
		g.NodeID,
		g.Begin,
		g.End,
		g.ParentColor,
	).Scan(&g.ID)
	if err != nil {
		if _, integrity := pgErr(err); integrity {
			return &models.UnknownIntegrityError{Cause: err}
		}
		return fmt.Errorf("failed to create color group: %w", err)
	}

	return nil
}

// NextBegin returns the first free color in the workflow's color space.
// Colors start at 1; color 0 is the implicit root color.
func (r *ColorGroupRepository) NextBegin(ctx context.Context, q Querier, workflowID uuid.UUID) (int, error) {
	query := `SELECT COALESCE(MAX(end_color), 1) FROM color_group WHERE workflow_id = $1`

	var next int
	if err := q.QueryRow(ctx, query, workflowID).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to compute next color: %w", err)
	}

	return next, nil
}

// Containing returns the group enclosing color; ok is false for the root
// color 0 or any color outside every group.
func (r *ColorGroupRepository) Containing(ctx context.Context, q Querier, workflowID uuid.UUID, color int) (*models.ColorGroup, bool, error) {
	query := `
		SELECT id, workflow_id, node_id, begin_color, end_color, parent_color
		FROM color_group
		WHERE workflow_id = $1 AND begin_color <= $2 AND end_color > $2
	`

	g := &models.ColorGroup{}
	err := q.QueryRow(ctx, query, workflowID, color).Scan(
		&g.ID,
		&g.WorkflowID,
		&g.NodeID,
		&g.Begin,
		&g.End,
		&g.ParentColor,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to find color group: %w", err)
	}

	return g, true, nil
}

// ForNodeAtParent returns the group a node allocated under a parent color;
// ok is false when the node has not fanned out at that color.
func (r *ColorGroupRepository) ForNodeAtParent(ctx context.Context, q Querier, nodeID int64, parentColor int) (*models.ColorGroup, bool, error) {
	query := `
		SELECT id, workflow_id, node_id, begin_color, end_color, parent_color
		FROM color_group
		WHERE node_id = $1 AND parent_color = $2
	`

	g := &models.ColorGroup{}
	err := q.QueryRow(ctx, query, nodeID, parentColor).Scan(
		&g.ID,
		&g.WorkflowID,
		&g.NodeID,
		&g.Begin,
		&g.End,
		&g.ParentColor,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to find color group for node: %w", err)
	}

	return g, true, nil
}
