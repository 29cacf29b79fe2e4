package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/petriflow/workflow/cmd/workflow/models"
)

// WorkflowRepository handles database operations for workflows
type WorkflowRepository struct{}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository() *WorkflowRepository {
	return &WorkflowRepository{}
}

// Create inserts a new workflow. A name collision surfaces as
// NonUniqueNameError; any other integrity violation as
// UnknownIntegrityError.
func (r *WorkflowRepository) Create(ctx context.Context, q Querier, wf *models.Workflow) error {
	query := `
		INSERT INTO workflow (id, name, status, net_key)
		VALUES ($1, $2, $3, $4)
	`

	_, err := q.Exec(ctx, query, wf.ID, wf.Name, wf.Status, wf.NetKey)
	if err != nil {
		if isUniqueViolation(err, "workflow_name_key") {
			name := ""
			if wf.Name != nil {
				name = *wf.Name
			}
			return &models.NonUniqueNameError{Name: name}
		}
		if _, integrity := pgErr(err); integrity {
			return &models.UnknownIntegrityError{Cause: err}
		}
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	return nil
}

// GetByID retrieves a workflow by its id
func (r *WorkflowRepository) GetByID(ctx context.Context, q Querier, id uuid.UUID) (*models.Workflow, error) {
	return r.get(ctx, q, `WHERE id = $1`, id)
}

// GetByName retrieves a workflow by its unique name
func (r *WorkflowRepository) GetByName(ctx context.Context, q Querier, name string) (*models.Workflow, error) {
	wf, err := r.get(ctx, q, `WHERE name = $1`, name)
	if err != nil {
		var missing *models.NoSuchEntityError
		if errors.As(err, &missing) {
			return nil, &models.NoSuchEntityError{Kind: "workflow", ID: name}
		}
		return nil, err
	}
	return wf, nil
}

func (r *WorkflowRepository) get(ctx context.Context, q Querier, where string, arg any) (*models.Workflow, error) {
	query := `
		SELECT id, name, status, net_key, created_at
		FROM workflow
	` + where

	wf := &models.Workflow{}
	err := q.QueryRow(ctx, query, arg).Scan(
		&wf.ID,
		&wf.Name,
		&wf.Status,
		&wf.NetKey,
		&wf.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &models.NoSuchEntityError{Kind: "workflow", ID: fmt.Sprintf("%v", arg)}
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return wf, nil
}

// UpdateStatus moves the workflow to a new status. Terminal statuses are
// absorbing: an update away from one is a silent no-op so late callbacks
// cannot resurrect a finished workflow.
func (r *WorkflowRepository) UpdateStatus(ctx context.Context, q Querier, id uuid.UUID, status models.WorkflowStatus) error {
	query := `
		UPDATE workflow
		SET status = $2
		WHERE id = $1
		  AND status NOT IN ('succeeded', 'failed', 'canceled', 'errored')
	`

	if _, err := q.Exec(ctx, query, id, status); err != nil {
		return fmt.Errorf("failed to update workflow status: %w", err)
	}

	return nil
}

// Delete removes the workflow; owned rows cascade
func (r *WorkflowRepository) Delete(ctx context.Context, q Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM workflow WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return &models.NoSuchEntityError{Kind: "workflow", ID: id.String()}
	}

	return nil
}
