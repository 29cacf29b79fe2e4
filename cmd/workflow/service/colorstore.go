package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/petriflow/workflow/cmd/workflow/models"
	"github.com/petriflow/workflow/cmd/workflow/repository"
	"github.com/tidwall/gjson"
)

// ColorStore owns color group allocation and per-color data access. It is
// the single place that knows how a color resolves to a concrete value:
// exact row, parallel-by element, aggregated fan-in array, or a value at an
// enclosing color.
type ColorStore struct {
	outputs *repository.OutputRepository
	groups  *repository.ColorGroupRepository
}

// NewColorStore creates a color store
func NewColorStore(outputs *repository.OutputRepository, groups *repository.ColorGroupRepository) *ColorStore {
	return &ColorStore{
		outputs: outputs,
		groups:  groups,
	}
}

// AllocateGroup creates the color group for a node's fan-out under a parent
// color. Re-creating an existing group is a no-op returning the committed
// row, so redelivered color_group_created callbacks are idempotent.
func (s *ColorStore) AllocateGroup(ctx context.Context, q repository.Querier, g *models.Graph, node *models.Node, parentColor, size int) (*models.ColorGroup, error) {
	if existing, ok, err := s.groups.ForNodeAtParent(ctx, q, node.ID, parentColor); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}

	begin, err := s.groups.NextBegin(ctx, q, g.Workflow.ID)
	if err != nil {
		return nil, err
	}

	group := &models.ColorGroup{
		WorkflowID:  g.Workflow.ID,
		NodeID:      node.ID,
		Begin:       begin,
		End:         begin + size,
		ParentColor: &parentColor,
	}
	if err := s.groups.Create(ctx, q, group); err != nil {
		return nil, err
	}

	return group, nil
}

// GetInputs resolves every destination property of a node at a color. For a
// parallel task reading its parallel-by property at a fanned-out color, the
// color's offset indexes into the source array; every other property reads
// at the enclosing color.
func (s *ColorStore) GetInputs(ctx context.Context, q repository.Querier, g *models.Graph, node *models.Node, color int) (map[string]json.RawMessage, error) {
	inputs := make(map[string]json.RawMessage)

	for _, link := range g.LinksInto(node.ID) {
		src, ok := g.Nodes[link.SourceID]
		if !ok {
			continue
		}
		for _, entry := range g.Entries[link.ID] {
			value, err := s.GetOutput(ctx, q, g, src, entry.SourceProperty, color)
			if err != nil {
				return nil, err
			}

			if node.IsParallel() && entry.DestinationProperty == *node.ParallelBy {
				value, err = s.indexParallel(ctx, q, g, node, value, color)
				if err != nil {
					return nil, err
				}
			}

			inputs[entry.DestinationProperty] = value
		}
	}

	return inputs, nil
}

// GetInput resolves one destination property of a node at a color
func (s *ColorStore) GetInput(ctx context.Context, q repository.Querier, g *models.Graph, node *models.Node, name string, color int) (json.RawMessage, error) {
	for _, link := range g.LinksInto(node.ID) {
		src, ok := g.Nodes[link.SourceID]
		if !ok {
			continue
		}
		for _, entry := range g.Entries[link.ID] {
			if entry.DestinationProperty != name {
				continue
			}
			value, err := s.GetOutput(ctx, q, g, src, entry.SourceProperty, color)
			if err != nil {
				return nil, err
			}
			if node.IsParallel() && name == *node.ParallelBy {
				return s.indexParallel(ctx, q, g, node, value, color)
			}
			return value, nil
		}
	}

	return nil, fmt.Errorf("node %s has no input named %s", node.Name, name)
}

// GetOutput resolves one output of a node at a color, dispatching on kind:
// connectors and dags forward, input holders and tasks read rows.
func (s *ColorStore) GetOutput(ctx context.Context, q repository.Querier, g *models.Graph, node *models.Node, name string, color int) (json.RawMessage, error) {
	switch node.Kind {
	case models.KindInputHolder:
		// Submission inputs are written at color 0 and readable anywhere.
		o, ok, err := s.outputs.Get(ctx, q, node.ID, name, 0)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("input %s was not supplied", name)
		}
		return o.SerializedValue, nil

	case models.KindInputConnector:
		// The connector reads its owning task's inputs: parent is the dag,
		// the dag's parent the task.
		dag, ok := g.Nodes[derefID(node.ParentID)]
		if !ok {
			return nil, fmt.Errorf("input connector %d has no parent", node.ID)
		}
		task, ok := g.Nodes[derefID(dag.ParentID)]
		if !ok {
			return nil, fmt.Errorf("dag %d has no owning task", dag.ID)
		}
		return s.GetInput(ctx, q, g, task, name, color)

	case models.KindOutputConnector:
		return s.GetInput(ctx, q, g, node, name, color)

	case models.KindDAG:
		oc := g.Connector(node.ID, models.OutputConnectorName)
		if oc == nil {
			return nil, fmt.Errorf("dag %s has no output connector", node.Name)
		}
		return s.GetOutput(ctx, q, g, oc, name, color)

	case models.KindTask:
		return s.taskOutput(ctx, q, g, node, name, color)

	default:
		return nil, fmt.Errorf("node %s has unknown kind %s", node.Name, node.Kind)
	}
}

// taskOutput reads a task's own output rows. Resolution order: the exact
// color, the aggregated fan-in array when the task fanned out under this
// color, then the enclosing color.
func (s *ColorStore) taskOutput(ctx context.Context, q repository.Querier, g *models.Graph, node *models.Node, name string, color int) (json.RawMessage, error) {
	if node.Kind == models.KindTask {
		// A composite task's outputs live on its method's subgraph.
		if dag := s.methodDAG(g, node); dag != nil {
			if value, err := s.GetOutput(ctx, q, g, dag, name, color); err == nil {
				return value, nil
			}
		}
	}

	o, ok, err := s.outputs.Get(ctx, q, node.ID, name, color)
	if err != nil {
		return nil, err
	}
	if ok {
		return o.SerializedValue, nil
	}

	if node.IsParallel() {
		if group, found, err := s.groups.ForNodeAtParent(ctx, q, node.ID, color); err != nil {
			return nil, err
		} else if found {
			return s.aggregate(ctx, q, node, name, group)
		}
	}

	group, found, err := s.groups.Containing(ctx, q, g.Workflow.ID, color)
	if err != nil {
		return nil, err
	}
	if found && group.ParentColor != nil {
		return s.taskOutput(ctx, q, g, node, name, *group.ParentColor)
	}

	return nil, fmt.Errorf("task %s has no output %s at color %d", node.Name, name, color)
}

// aggregate collects a parallel task's per-color outputs into one array
// ordered by color ascending.
func (s *ColorStore) aggregate(ctx context.Context, q repository.Querier, node *models.Node, name string, group *models.ColorGroup) (json.RawMessage, error) {
	rows, err := s.outputs.ListInRange(ctx, q, node.ID, name, group.Begin, group.End)
	if err != nil {
		return nil, err
	}

	values := make([]json.RawMessage, 0, len(rows))
	for _, o := range rows {
		values = append(values, o.SerializedValue)
	}

	combined, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("aggregate outputs of %s: %w", node.Name, err)
	}

	return combined, nil
}

// indexParallel picks the color's element out of the source array when color
// belongs to a group this node created; at the parent color the array passes
// through whole.
func (s *ColorStore) indexParallel(ctx context.Context, q repository.Querier, g *models.Graph, node *models.Node, value json.RawMessage, color int) (json.RawMessage, error) {
	group, found, err := s.groups.Containing(ctx, q, g.Workflow.ID, color)
	if err != nil {
		return nil, err
	}
	if !found || group.NodeID != node.ID {
		return value, nil
	}

	element := gjson.GetBytes(value, strconv.Itoa(group.Index(color)))
	if !element.Exists() {
		return nil, fmt.Errorf(
			"parallel input of %s has no element %d at color %d",
			node.Name, group.Index(color), color,
		)
	}

	return json.RawMessage(element.Raw), nil
}

// SplitSize resolves the parallel-by array at the parent color and returns
// its length.
func (s *ColorStore) SplitSize(ctx context.Context, q repository.Querier, g *models.Graph, node *models.Node, color int) (int, error) {
	if !node.IsParallel() {
		return 0, fmt.Errorf("task %s is not parallel", node.Name)
	}

	for _, link := range g.LinksInto(node.ID) {
		src, ok := g.Nodes[link.SourceID]
		if !ok {
			continue
		}
		for _, entry := range g.Entries[link.ID] {
			if entry.DestinationProperty != *node.ParallelBy {
				continue
			}
			value, err := s.GetOutput(ctx, q, g, src, entry.SourceProperty, color)
			if err != nil {
				return 0, err
			}
			parsed := gjson.ParseBytes(value)
			if !parsed.IsArray() {
				return 0, fmt.Errorf("parallel-by property %s of %s is not an array", *node.ParallelBy, node.Name)
			}
			return len(parsed.Array()), nil
		}
	}

	return 0, fmt.Errorf("task %s has no input for parallel-by property %s", node.Name, *node.ParallelBy)
}

// methodDAG returns the subgraph node of a task's dag-backed method, or nil
func (s *ColorStore) methodDAG(g *models.Graph, task *models.Node) *models.Node {
	for _, m := range g.MethodsOf(task.ID) {
		if m.DAGNodeID != nil {
			return g.DAGOf(m)
		}
	}
	return nil
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
