package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/petriflow/workflow/cmd/workflow/models"
	"github.com/petriflow/workflow/cmd/workflow/repository"
	"github.com/petriflow/workflow/common/config"
	"github.com/petriflow/workflow/common/db"
)

// TimestampLayout is the wire format of report cursors
const TimestampLayout = "2006-01-02 15:04:05.000000"

// ReportService answers the workflow reports: status, skeleton, details,
// outputs and the executions feed.
type ReportService struct {
	db  *db.DB
	cfg *config.Config

	executions *repository.ExecutionRepository
	loader     *GraphLoader
	colors     *ColorStore
}

// NewReportService creates the report service
func NewReportService(
	database *db.DB,
	cfg *config.Config,
	executions *repository.ExecutionRepository,
	loader *GraphLoader,
	colors *ColorStore,
) *ReportService {
	return &ReportService{
		db:         database,
		cfg:        cfg,
		executions: executions,
		loader:     loader,
		colors:     colors,
	}
}

// Status returns the workflow's current status
func (s *ReportService) Status(ctx context.Context, workflowID uuid.UUID) (map[string]interface{}, error) {
	g, err := s.loader.Load(ctx, s.db.Pool, workflowID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"workflow_id": workflowID,
		"status":      g.Workflow.Status,
	}, nil
}

// Skeleton returns the workflow's shape without executions
func (s *ReportService) Skeleton(ctx context.Context, workflowID uuid.UUID) (map[string]interface{}, error) {
	return s.shape(ctx, workflowID, false)
}

// Details returns the workflow's shape with executions
func (s *ReportService) Details(ctx context.Context, workflowID uuid.UUID) (map[string]interface{}, error) {
	return s.shape(ctx, workflowID, true)
}

func (s *ReportService) shape(ctx context.Context, workflowID uuid.UUID, detailed bool) (map[string]interface{}, error) {
	g, err := s.loader.Load(ctx, s.db.Pool, workflowID)
	if err != nil {
		return nil, err
	}

	var executionsByMethod map[int64][]*models.Execution
	if detailed {
		all, err := s.executions.ListByWorkflow(ctx, s.db.Pool, workflowID, nil)
		if err != nil {
			return nil, err
		}
		executionsByMethod = make(map[int64][]*models.Execution)
		for _, e := range all {
			executionsByMethod[e.MethodID] = append(executionsByMethod[e.MethodID], e)
		}
	}

	root := g.Root()
	if root == nil {
		return nil, fmt.Errorf("workflow %s has no root task", workflowID)
	}

	result := map[string]interface{}{
		"id":     g.Workflow.ID,
		"status": g.Workflow.Status,
	}
	if g.Workflow.Name != nil {
		result["name"] = *g.Workflow.Name
	}

	// The interesting shape starts below the root method's subgraph.
	for _, m := range g.MethodsOf(root.ID) {
		if dag := g.DAGOf(m); dag != nil {
			result["tasks"] = s.taskShapes(g, dag, executionsByMethod)
		}
	}

	return result, nil
}

func (s *ReportService) taskShapes(g *models.Graph, dag *models.Node, executionsByMethod map[int64][]*models.Execution) map[string]interface{} {
	tasks := make(map[string]interface{})

	for _, child := range g.RealChildren(dag.ID) {
		shape := map[string]interface{}{
			"id":     child.ID,
			"status": child.Status,
		}
		if child.IsParallel() {
			shape["parallel_by"] = *child.ParallelBy
		}

		var methodShapes []map[string]interface{}
		for _, m := range g.MethodsOf(child.ID) {
			methodShape := map[string]interface{}{
				"name":    m.Name,
				"service": m.Service,
			}
			if sub := g.DAGOf(m); sub != nil {
				methodShape["tasks"] = s.taskShapes(g, sub, executionsByMethod)
			}
			if executionsByMethod != nil {
				methodShape["executions"] = executionReports(executionsByMethod[m.ID])
			}
			methodShapes = append(methodShapes, methodShape)
		}
		shape["methods"] = methodShapes

		tasks[child.Name] = shape
	}

	return tasks
}

// Outputs returns the workflow's outputs: the root subgraph's output
// connector resolved at the root color.
func (s *ReportService) Outputs(ctx context.Context, workflowID uuid.UUID) (map[string]interface{}, error) {
	g, err := s.loader.Load(ctx, s.db.Pool, workflowID)
	if err != nil {
		return nil, err
	}

	root := g.Root()
	if root == nil {
		return nil, fmt.Errorf("workflow %s has no root task", workflowID)
	}

	outputs := make(map[string]json.RawMessage)
	for _, m := range g.MethodsOf(root.ID) {
		dag := g.DAGOf(m)
		if dag == nil {
			continue
		}
		oc := g.Connector(dag.ID, models.OutputConnectorName)
		if oc == nil {
			continue
		}
		resolved, err := s.colors.GetInputs(ctx, s.db.Pool, g, oc, 0)
		if err != nil {
			return nil, err
		}
		for name, value := range resolved {
			outputs[name] = value
		}
	}

	return map[string]interface{}{
		"workflow_id": workflowID,
		"outputs":     outputs,
	}, nil
}

// ExecutionsReport is the executions feed with its continuation cursor
type ExecutionsReport struct {
	UpdateURL  string                   `json:"updateUrl"`
	Executions []map[string]interface{} `json:"executions"`
}

// Executions returns every execution with history activity after since (or
// all when since is nil), plus the cursor URL for the next call. An empty
// result carries no cursor: its URL has no since parameter.
func (s *ReportService) Executions(ctx context.Context, workflowID uuid.UUID, since *time.Time) (*ExecutionsReport, error) {
	executions, err := s.executions.ListByWorkflow(ctx, s.db.Pool, workflowID, since)
	if err != nil {
		return nil, err
	}

	var cursor *time.Time
	for _, e := range executions {
		ts := e.UpdateTimestamp()
		if cursor == nil || ts.After(*cursor) {
			cursor = &ts
		}
	}

	query := url.Values{"workflow_id": []string{workflowID.String()}}
	if cursor != nil {
		query.Set("since", cursor.UTC().Format(TimestampLayout))
	}

	return &ExecutionsReport{
		UpdateURL:  fmt.Sprintf("%s/v1/reports/workflow-executions?%s", s.cfg.SelfURL(), query.Encode()),
		Executions: executionReports(executions),
	}, nil
}

func executionReports(executions []*models.Execution) []map[string]interface{} {
	reports := make([]map[string]interface{}, 0, len(executions))
	for _, e := range executions {
		history := make([]map[string]interface{}, 0, len(e.History))
		for _, entry := range e.History {
			history = append(history, map[string]interface{}{
				"status":    entry.Status,
				"timestamp": entry.Timestamp.UTC().Format(TimestampLayout),
			})
		}

		report := map[string]interface{}{
			"id":             e.ID,
			"node_id":        e.NodeID,
			"method_id":      e.MethodID,
			"color":          e.Color,
			"status":         e.Status,
			"status_history": history,
			"data":           e.Data,
		}
		if e.ParentColor != nil {
			report["parent_color"] = *e.ParentColor
		}
		reports = append(reports, report)
	}
	return reports
}
