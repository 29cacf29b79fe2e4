package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/petriflow/workflow/cmd/workflow/models"
)

// ExecutionRepository handles database operations for executions and their
// status history
type ExecutionRepository struct{}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository() *ExecutionRepository {
	return &ExecutionRepository{}
}

const executionColumns = `id, workflow_id, node_id, method_id, color, parent_color, status, data`

// Create inserts a new execution with its first history entry. When an
// execution already exists at (method, color) the insert is suppressed and
// the existing row is returned with created=false, making redelivered
// execute callbacks idempotent.
func (r *ExecutionRepository) Create(ctx context.Context, q Querier, e *models.Execution) (created bool, err error) {
	query := `
		INSERT INTO execution (id, workflow_id, node_id, method_id, color, parent_color, status, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (method_id, color) DO NOTHING
	`

	tag, err := q.Exec(
		ctx,
		query,
		e.ID,
		e.WorkflowID,
		e.NodeID,
		e.MethodID,
		e.Color,
		e.ParentColor,
		e.Status,
		e.Data,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create execution: %w", err)
	}

	if tag.RowsAffected() == 0 {
		existing, err := r.GetForUpdate(ctx, q, e.MethodID, e.Color)
		if err != nil {
			return false, err
		}
		*e = *existing
		return false, nil
	}

	if err := r.appendHistory(ctx, q, e.ID, e.Status); err != nil {
		return false, err
	}

	return true, nil
}

// GetForUpdate loads the execution at (method, color) holding a row-level
// exclusive lock for the rest of the transaction. All state transitions for
// one (node, color) serialize on this lock.
func (r *ExecutionRepository) GetForUpdate(ctx context.Context, q Querier, methodID int64, color int) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM execution WHERE method_id = $1 AND color = $2 FOR UPDATE`

	e := &models.Execution{}
	err := scanExecution(q.QueryRow(ctx, query, methodID, color), e)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &models.NoSuchEntityError{
				Kind: "execution",
				ID:   fmt.Sprintf("method %d color %d", methodID, color),
			}
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return e, nil
}

// Get retrieves an execution by id, with history
func (r *ExecutionRepository) Get(ctx context.Context, q Querier, id uuid.UUID) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM execution WHERE id = $1`

	e := &models.Execution{}
	err := scanExecution(q.QueryRow(ctx, query, id), e)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &models.NoSuchEntityError{Kind: "execution", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	if err := r.loadHistory(ctx, q, []*models.Execution{e}); err != nil {
		return nil, err
	}

	return e, nil
}

// Transition appends a status to an execution's history and updates its
// current status. Illegal transitions return UpdateError; the caller is
// expected to hold the row lock.
func (r *ExecutionRepository) Transition(ctx context.Context, q Querier, e *models.Execution, next models.ExecutionStatus) error {
	if e.Status == next {
		return nil
	}
	if !e.Status.CanTransition(next) {
		return &models.UpdateError{From: e.Status, To: next}
	}

	if _, err := q.Exec(ctx, `UPDATE execution SET status = $2 WHERE id = $1`, e.ID, next); err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}

	if err := r.appendHistory(ctx, q, e.ID, next); err != nil {
		return err
	}

	e.Status = next
	return nil
}

// UpdateData merges callback-supplied metadata into the execution's data blob
func (r *ExecutionRepository) UpdateData(ctx context.Context, q Querier, id uuid.UUID, data map[string]interface{}) error {
	query := `UPDATE execution SET data = data || $2 WHERE id = $1`

	if _, err := q.Exec(ctx, query, id, data); err != nil {
		return fmt.Errorf("failed to update execution data: %w", err)
	}

	return nil
}

// ListByWorkflow retrieves a workflow's executions with history. When since
// is non-nil only executions having a history entry after it are returned.
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, q Querier, workflowID uuid.UUID, since *time.Time) ([]*models.Execution, error) {
	var (
		query string
		args  []any
	)

	if since != nil {
		query = `
			SELECT DISTINCT e.id, e.workflow_id, e.node_id, e.method_id, e.color, e.parent_color, e.status, e.data
			FROM execution e
			JOIN execution_status_history h ON h.execution_id = e.id
			WHERE e.workflow_id = $1 AND h.timestamp > $2
			ORDER BY e.id
		`
		args = []any{workflowID, *since}
	} else {
		query = `SELECT ` + executionColumns + ` FROM execution WHERE workflow_id = $1 ORDER BY id`
		args = []any{workflowID}
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		e := &models.Execution{}
		if err := scanExecution(rows, e); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	if err := r.loadHistory(ctx, q, executions); err != nil {
		return nil, err
	}

	return executions, nil
}

// ListNonTerminal retrieves the executions of a workflow that have not yet
// reached an absorbing status, locking the rows.
func (r *ExecutionRepository) ListNonTerminal(ctx context.Context, q Querier, workflowID uuid.UUID) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM execution
		WHERE workflow_id = $1
		  AND status NOT IN ('succeeded', 'failed', 'errored', 'canceled')
		ORDER BY id
		FOR UPDATE
	`

	rows, err := q.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list non-terminal executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		e := &models.Execution{}
		if err := scanExecution(rows, e); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) appendHistory(ctx context.Context, q Querier, executionID uuid.UUID, status models.ExecutionStatus) error {
	query := `INSERT INTO execution_status_history (execution_id, status) VALUES ($1, $2)`

	if _, err := q.Exec(ctx, query, executionID, status); err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) loadHistory(ctx context.Context, q Querier, executions []*models.Execution) error {
	if len(executions) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*models.Execution, len(executions))
	ids := make([]uuid.UUID, 0, len(executions))
	for _, e := range executions {
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}

	query := `
		SELECT execution_id, status, timestamp
		FROM execution_status_history
		WHERE execution_id = ANY($1)
		ORDER BY id
	`

	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to load status history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    uuid.UUID
			entry models.StatusEntry
		)
		if err := rows.Scan(&id, &entry.Status, &entry.Timestamp); err != nil {
			return fmt.Errorf("failed to scan status history: %w", err)
		}
		if e, ok := byID[id]; ok {
			e.History = append(e.History, entry)
		}
	}

	return rows.Err()
}

func scanExecution(row pgx.Row, e *models.Execution) error {
	return row.Scan(
		&e.ID,
		&e.WorkflowID,
		&e.NodeID,
		&e.MethodID,
		&e.Color,
		&e.ParentColor,
		&e.Status,
		&e.Data,
	)
}
