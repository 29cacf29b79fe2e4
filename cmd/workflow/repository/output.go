package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/petriflow/workflow/cmd/workflow/models"
)

// OutputRepository handles database operations for outputs
type OutputRepository struct{}

// NewOutputRepository creates a new output repository
func NewOutputRepository() *OutputRepository {
	return &OutputRepository{}
}

// Write inserts an output. An output is never modified after write: a
// conflicting insert at the same (node, name, color) is a no-op, which makes
// redelivered ended callbacks idempotent.
func (r *OutputRepository) Write(ctx context.Context, q Querier, o *models.Output) error {
	query := `
		INSERT INTO output (workflow_id, node_id, name, color, value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (node_id, name, color) DO NOTHING
	`

	_, err := q.Exec(ctx, query, o.WorkflowID, o.NodeID, o.Name, o.Color, o.SerializedValue)
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	return nil
}

// Get retrieves the output at exactly (node, name, color); ok is false when
// no row exists.
func (r *OutputRepository) Get(ctx context.Context, q Querier, nodeID int64, name string, color int) (*models.Output, bool, error) {
	query := `
		SELECT id, workflow_id, node_id, name, color, value
		FROM output
		WHERE node_id = $1 AND name = $2 AND color = $3
	`

	o := &models.Output{}
	err := q.QueryRow(ctx, query, nodeID, name, color).Scan(
		&o.ID,
		&o.WorkflowID,
		&o.NodeID,
		&o.Name,
		&o.Color,
		&o.SerializedValue,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get output: %w", err)
	}

	return o, true, nil
}

// ListInRange retrieves outputs of one (node, name) with colors in
// [begin, end), ordered by color ascending. This is the aggregation order
// seen by consumers at the parent color.
func (r *OutputRepository) ListInRange(ctx context.Context, q Querier, nodeID int64, name string, begin, end int) ([]*models.Output, error) {
	query := `
		SELECT id, workflow_id, node_id, name, color, value
		FROM output
		WHERE node_id = $1 AND name = $2 AND color >= $3 AND color < $4
		ORDER BY color
	`

	return r.list(ctx, q, query, nodeID, name, begin, end)
}

// ListByNode retrieves all outputs of a node ordered by name then color
func (r *OutputRepository) ListByNode(ctx context.Context, q Querier, nodeID int64) ([]*models.Output, error) {
	query := `
		SELECT id, workflow_id, node_id, name, color, value
		FROM output
		WHERE node_id = $1
		ORDER BY name, color
	`

	return r.list(ctx, q, query, nodeID)
}

func (r *OutputRepository) list(ctx context.Context, q Querier, query string, args ...any) ([]*models.Output, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list outputs: %w", err)
	}
	defer rows.Close()

	var outputs []*models.Output
	for rows.Next() {
		o := &models.Output{}
		err := rows.Scan(&o.ID, &o.WorkflowID, &o.NodeID, &o.Name, &o.Color, &o.SerializedValue)
		if err != nil {
			return nil, fmt.Errorf("failed to scan output: %w", err)
		}
		outputs = append(outputs, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outputs: %w", err)
	}

	return outputs, nil
}
