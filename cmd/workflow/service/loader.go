package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/petriflow/workflow/cmd/workflow/models"
	"github.com/petriflow/workflow/cmd/workflow/repository"
)

// GraphLoader materializes a workflow's full node graph from the store.
// Nodes hold ids, never object references; the Graph resolves them.
type GraphLoader struct {
	workflows *repository.WorkflowRepository
	nodes     *repository.NodeRepository
	methods   *repository.MethodRepository
}

// NewGraphLoader creates a graph loader
func NewGraphLoader(
	workflows *repository.WorkflowRepository,
	nodes *repository.NodeRepository,
	methods *repository.MethodRepository,
) *GraphLoader {
	return &GraphLoader{
		workflows: workflows,
		nodes:     nodes,
		methods:   methods,
	}
}

// Load fetches the workflow and every node, link, entry and method in five
// queries.
func (l *GraphLoader) Load(ctx context.Context, q repository.Querier, workflowID uuid.UUID) (*models.Graph, error) {
	wf, err := l.workflows.GetByID(ctx, q, workflowID)
	if err != nil {
		return nil, err
	}

	nodes, err := l.nodes.ListNodes(ctx, q, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}

	links, err := l.nodes.ListLinks(ctx, q, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}

	entries, err := l.nodes.ListEntries(ctx, q, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}

	methods, err := l.methods.ListMethods(ctx, q, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}

	nodeMap := make(map[int64]*models.Node, len(nodes))
	for _, n := range nodes {
		nodeMap[n.ID] = n
	}

	return &models.Graph{
		Workflow: wf,
		Nodes:    nodeMap,
		Methods:  methods,
		Links:    links,
		Entries:  entries,
	}, nil
}
