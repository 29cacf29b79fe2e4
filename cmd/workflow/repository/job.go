package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/petriflow/workflow/cmd/workflow/models"
)

// JobRepository handles database operations for jobs and response links
type JobRepository struct{}

// NewJobRepository creates a new job repository
func NewJobRepository() *JobRepository {
	return &JobRepository{}
}

// Create inserts a job together with its response links. The unique
// constraint on (method, color) suppresses a duplicate submit for a
// redelivered execute callback; created is false in that case.
func (r *JobRepository) Create(ctx context.Context, q Querier, j *models.Job) (created bool, err error) {
	query := `
		INSERT INTO job (id, workflow_id, node_id, method_id, color, external_job_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (method_id, color) DO NOTHING
	`

	tag, err := q.Exec(ctx, query, j.ID, j.WorkflowID, j.NodeID, j.MethodID, j.Color, j.ExternalJobID)
	if err != nil {
		if isUniqueViolation(err, "") {
			return false, nil
		}
		return false, fmt.Errorf("failed to create job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return false, nil
	}

	for name, url := range j.ResponseLinks {
		linkQuery := `
			INSERT INTO response_link (job_id, name, url)
			VALUES ($1, $2, $3)
			ON CONFLICT (job_id, name) DO NOTHING
		`
		if _, err := q.Exec(ctx, linkQuery, j.ID, name, url); err != nil {
			return false, fmt.Errorf("failed to create response link: %w", err)
		}
	}

	return true, nil
}

// GetByExternalID retrieves the job for a method's external job id, with its
// response links.
func (r *JobRepository) GetByExternalID(ctx context.Context, q Querier, methodID int64, externalJobID string) (*models.Job, error) {
	query := `
		SELECT id, workflow_id, node_id, method_id, color, external_job_id
		FROM job
		WHERE method_id = $1 AND external_job_id = $2
	`

	j := &models.Job{}
	err := q.QueryRow(ctx, query, methodID, externalJobID).Scan(
		&j.ID,
		&j.WorkflowID,
		&j.NodeID,
		&j.MethodID,
		&j.Color,
		&j.ExternalJobID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &models.NoSuchEntityError{Kind: "job", ID: externalJobID}
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if err := r.loadResponseLinks(ctx, q, j); err != nil {
		return nil, err
	}

	return j, nil
}

// GetByColor retrieves the job for (method, color); ok is false when no job
// was submitted yet.
func (r *JobRepository) GetByColor(ctx context.Context, q Querier, methodID int64, color int) (*models.Job, bool, error) {
	query := `
		SELECT id, workflow_id, node_id, method_id, color, external_job_id
		FROM job
		WHERE method_id = $1 AND color = $2
	`

	j := &models.Job{}
	err := q.QueryRow(ctx, query, methodID, color).Scan(
		&j.ID,
		&j.WorkflowID,
		&j.NodeID,
		&j.MethodID,
		&j.Color,
		&j.ExternalJobID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get job: %w", err)
	}

	if err := r.loadResponseLinks(ctx, q, j); err != nil {
		return nil, false, err
	}

	return j, true, nil
}

// ListByWorkflow retrieves all jobs of a workflow
func (r *JobRepository) ListByWorkflow(ctx context.Context, q Querier, workflowID uuid.UUID) ([]*models.Job, error) {
	query := `
		SELECT id, workflow_id, node_id, method_id, color, external_job_id
		FROM job
		WHERE workflow_id = $1
		ORDER BY id
	`

	rows, err := q.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j := &models.Job{}
		err := rows.Scan(&j.ID, &j.WorkflowID, &j.NodeID, &j.MethodID, &j.Color, &j.ExternalJobID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

func (r *JobRepository) loadResponseLinks(ctx context.Context, q Querier, j *models.Job) error {
	query := `SELECT name, url FROM response_link WHERE job_id = $1`

	rows, err := q.Query(ctx, query, j.ID)
	if err != nil {
		return fmt.Errorf("failed to load response links: %w", err)
	}
	defer rows.Close()

	j.ResponseLinks = make(map[string]string)
	for rows.Next() {
		var name, url string
		if err := rows.Scan(&name, &url); err != nil {
			return fmt.Errorf("failed to scan response link: %w", err)
		}
		j.ResponseLinks[name] = url
	}

	return rows.Err()
}
