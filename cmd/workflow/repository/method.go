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

// MethodRepository handles database operations for methods and webhooks
type MethodRepository struct{}

// NewMethodRepository creates a new method repository
func NewMethodRepository() *MethodRepository {
	return &MethodRepository{}
}

const methodColumns = `id, workflow_id, node_id, name, method_index, service, command_line, dag_node_id`

// CreateMethod inserts a method and fills in its generated id
func (r *MethodRepository) CreateMethod(ctx context.Context, q Querier, m *models.Method) error {
	query := `
		INSERT INTO method (workflow_id, node_id, name, method_index, service, command_line, dag_node_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := q.QueryRow(
		ctx,
		query,
		m.WorkflowID,
		m.NodeID,
		m.Name,
		m.Index,
		m.Service,
		m.SerializedCommandLine,
		m.DAGNodeID,
	).Scan(&m.ID)
	if err != nil {
		if _, integrity := pgErr(err); integrity {
			return &models.UnknownIntegrityError{Cause: err}
		}
		return fmt.Errorf("failed to create method: %w", err)
	}

	return nil
}

// GetMethod retrieves a method by id
func (r *MethodRepository) GetMethod(ctx context.Context, q Querier, id int64) (*models.Method, error) {
	query := `SELECT ` + methodColumns + ` FROM method WHERE id = $1`

	m := &models.Method{}
	err := scanMethod(q.QueryRow(ctx, query, id), m)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &models.NoSuchEntityError{Kind: "method", ID: strconv.FormatInt(id, 10)}
		}
		return nil, fmt.Errorf("failed to get method: %w", err)
	}

	return m, nil
}

// GetMethodByName retrieves a task's method by name
func (r *MethodRepository) GetMethodByName(ctx context.Context, q Querier, nodeID int64, name string) (*models.Method, error) {
	query := `SELECT ` + methodColumns + ` FROM method WHERE node_id = $1 AND name = $2`

	m := &models.Method{}
	err := scanMethod(q.QueryRow(ctx, query, nodeID, name), m)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &models.NoSuchEntityError{Kind: "method", ID: name}
		}
		return nil, fmt.Errorf("failed to get method by name: %w", err)
	}

	return m, nil
}

// ListMethods retrieves all methods of a workflow keyed by owning node id,
// ordered by method index.
func (r *MethodRepository) ListMethods(ctx context.Context, q Querier, workflowID uuid.UUID) (map[int64][]*models.Method, error) {
	query := `SELECT ` + methodColumns + ` FROM method WHERE workflow_id = $1 ORDER BY node_id, method_index`

	rows, err := q.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list methods: %w", err)
	}
	defer rows.Close()

	methods := make(map[int64][]*models.Method)
	for rows.Next() {
		m := &models.Method{}
		if err := scanMethod(rows, m); err != nil {
			return nil, fmt.Errorf("failed to scan method: %w", err)
		}
		methods[m.NodeID] = append(methods[m.NodeID], m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating methods: %w", err)
	}

	return methods, nil
}

func scanMethod(row pgx.Row, m *models.Method) error {
	return row.Scan(
		&m.ID,
		&m.WorkflowID,
		&m.NodeID,
		&m.Name,
		&m.Index,
		&m.Service,
		&m.SerializedCommandLine,
		&m.DAGNodeID,
	)
}

// CreateWebhook inserts a webhook subscription
func (r *MethodRepository) CreateWebhook(ctx context.Context, q Querier, w *models.Webhook) error {
	query := `
		INSERT INTO webhook (workflow_id, node_id, method_id, event, url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := q.QueryRow(ctx, query, w.WorkflowID, w.NodeID, w.MethodID, w.Event, w.URL).Scan(&w.ID)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}

	return nil
}

// ListWebhooks retrieves the webhook subscriptions for an event on a node or
// method. Either nodeID or methodID may be nil.
func (r *MethodRepository) ListWebhooks(ctx context.Context, q Querier, nodeID, methodID *int64, event string) ([]*models.Webhook, error) {
	query := `
		SELECT id, workflow_id, node_id, method_id, event, url
		FROM webhook
		WHERE event = $1
		  AND ($2::bigint IS NULL OR node_id = $2)
		  AND ($3::bigint IS NULL OR method_id = $3)
		ORDER BY id
	`

	rows, err := q.Query(ctx, query, event, nodeID, methodID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []*models.Webhook
	for rows.Next() {
		w := &models.Webhook{}
		if err := rows.Scan(&w.ID, &w.WorkflowID, &w.NodeID, &w.MethodID, &w.Event, &w.URL); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		hooks = append(hooks, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhooks: %w", err)
	}

	return hooks, nil
}
