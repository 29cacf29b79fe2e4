package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/petriflow/workflow/cmd/workflow/models"
	"github.com/petriflow/workflow/cmd/workflow/repository"
)

// graphBuilder persists a declarative workflow definition as a node graph.
// All inserts run in the caller's transaction so a failed validation leaves
// no partial workflow state.
type graphBuilder struct {
	nodes   *repository.NodeRepository
	methods *repository.MethodRepository
	outputs *repository.OutputRepository

	q  repository.Querier
	wf *models.Workflow
}

// build persists the whole graph: root task with its workflow method, the
// input holder carrying the submission inputs, the dummy output sink, and
// the nested task tree with all links.
func (b *graphBuilder) build(ctx context.Context, def *models.WorkflowDefinition) (*models.Node, error) {
	root := &models.Node{
		WorkflowID:       b.wf.ID,
		Name:             "root",
		Kind:             models.KindTask,
		TopologicalIndex: -1,
		Status:           string(models.ExecutionNew),
	}
	if err := b.nodes.CreateNode(ctx, b.q, root); err != nil {
		return nil, err
	}

	rootDAG, err := b.buildDAG(ctx, root.ID, "root", def.Tasks, def.Links)
	if err != nil {
		return nil, err
	}

	rootMethod := &models.Method{
		WorkflowID: b.wf.ID,
		NodeID:     root.ID,
		Name:       "root",
		Index:      0,
		Service:    models.ServiceWorkflow,
		DAGNodeID:  &rootDAG.ID,
	}
	if err := b.methods.CreateMethod(ctx, b.q, rootMethod); err != nil {
		return nil, err
	}

	for event, url := range def.Webhooks {
		hook := &models.Webhook{
			WorkflowID: b.wf.ID,
			NodeID:     &root.ID,
			Event:      event,
			URL:        url,
		}
		if err := b.methods.CreateWebhook(ctx, b.q, hook); err != nil {
			return nil, err
		}
	}

	if err := b.buildInputHolder(ctx, root, def.Inputs); err != nil {
		return nil, err
	}

	if err := b.buildDummySink(ctx, root, def.Links); err != nil {
		return nil, err
	}

	return root, nil
}

// buildDAG persists a subgraph node with its connectors, child tasks and
// links. Children are indexed in sorted-name order, which fixes the
// topological enumeration the translator relies on.
func (b *graphBuilder) buildDAG(
	ctx context.Context,
	parentID int64,
	name string,
	tasks map[string]*models.TaskDefinition,
	links []*models.LinkDefinition,
) (*models.Node, error) {
	dag := &models.Node{
		WorkflowID: b.wf.ID,
		ParentID:   &parentID,
		Name:       name,
		Kind:       models.KindDAG,
		Status:     string(models.ExecutionNew),
	}
	if err := b.nodes.CreateNode(ctx, b.q, dag); err != nil {
		return nil, err
	}

	byName := map[string]*models.Node{}

	for i, connectorName := range []string{models.InputConnectorName, models.OutputConnectorName} {
		kind := models.KindInputConnector
		if connectorName == models.OutputConnectorName {
			kind = models.KindOutputConnector
		}
		connector := &models.Node{
			WorkflowID:       b.wf.ID,
			ParentID:         &dag.ID,
			Name:             connectorName,
			Kind:             kind,
			TopologicalIndex: i,
			Status:           string(models.ExecutionNew),
		}
		if err := b.nodes.CreateNode(ctx, b.q, connector); err != nil {
			return nil, err
		}
		byName[connectorName] = connector
	}

	taskNames := make([]string, 0, len(tasks))
	for taskName := range tasks {
		taskNames = append(taskNames, taskName)
	}
	sort.Strings(taskNames)

	for i, taskName := range taskNames {
		task, err := b.buildTask(ctx, dag.ID, taskName, tasks[taskName], i+2)
		if err != nil {
			return nil, err
		}
		byName[taskName] = task
	}

	for _, link := range links {
		if err := b.buildLink(ctx, byName, link); err != nil {
			return nil, err
		}
	}

	return dag, nil
}

// buildTask persists one task with its ordered method list
func (b *graphBuilder) buildTask(
	ctx context.Context,
	parentID int64,
	name string,
	def *models.TaskDefinition,
	topologicalIndex int,
) (*models.Node, error) {
	var parallelBy *string
	if def.ParallelBy != "" {
		parallelBy = &def.ParallelBy
	}

	task := &models.Node{
		WorkflowID:       b.wf.ID,
		ParentID:         &parentID,
		Name:             name,
		Kind:             models.KindTask,
		TopologicalIndex: topologicalIndex,
		ParallelBy:       parallelBy,
		Status:           string(models.ExecutionNew),
	}
	if err := b.nodes.CreateNode(ctx, b.q, task); err != nil {
		return nil, err
	}

	for event, url := range def.Webhooks {
		hook := &models.Webhook{
			WorkflowID: b.wf.ID,
			NodeID:     &task.ID,
			Event:      event,
			URL:        url,
		}
		if err := b.methods.CreateWebhook(ctx, b.q, hook); err != nil {
			return nil, err
		}
	}

	if len(def.Methods) == 0 {
		return nil, fmt.Errorf("task %s has no methods", name)
	}

	for i, mdef := range def.Methods {
		if err := b.buildMethod(ctx, task, mdef, i); err != nil {
			return nil, err
		}
	}

	return task, nil
}

func (b *graphBuilder) buildMethod(ctx context.Context, task *models.Node, def *models.MethodDefinition, index int) error {
	m := &models.Method{
		WorkflowID: b.wf.ID,
		NodeID:     task.ID,
		Name:       def.Name,
		Index:      index,
	}

	switch def.Service {
	case "shell-command", "job":
		m.Service = models.ServiceShellCommand
		if def.Parameters == nil || len(def.Parameters.CommandLine) == 0 {
			return fmt.Errorf("method %s of task %s has no command line", def.Name, task.Name)
		}
		if err := m.SetCommandLine(def.Parameters.CommandLine); err != nil {
			return err
		}

	case "workflow", "dag":
		m.Service = models.ServiceDAG
		if def.Parameters == nil {
			return fmt.Errorf("method %s of task %s has no subgraph", def.Name, task.Name)
		}
		dag, err := b.buildDAG(ctx, task.ID, def.Name, def.Parameters.Tasks, def.Parameters.Links)
		if err != nil {
			return err
		}
		m.DAGNodeID = &dag.ID

	default:
		return fmt.Errorf("method %s has unknown service %s", def.Name, def.Service)
	}

	if err := b.methods.CreateMethod(ctx, b.q, m); err != nil {
		return err
	}

	for event, url := range def.Webhooks {
		hook := &models.Webhook{
			WorkflowID: b.wf.ID,
			MethodID:   &m.ID,
			Event:      event,
			URL:        url,
		}
		if err := b.methods.CreateWebhook(ctx, b.q, hook); err != nil {
			return err
		}
	}

	return nil
}

func (b *graphBuilder) buildLink(ctx context.Context, byName map[string]*models.Node, def *models.LinkDefinition) error {
	source, ok := byName[def.Source]
	if !ok {
		return fmt.Errorf("link references unknown source %s", def.Source)
	}
	destination, ok := byName[def.Destination]
	if !ok {
		return fmt.Errorf("link references unknown destination %s", def.Destination)
	}

	link := &models.Link{
		WorkflowID:    b.wf.ID,
		SourceID:      source.ID,
		DestinationID: destination.ID,
	}
	if err := b.nodes.CreateLink(ctx, b.q, link); err != nil {
		return err
	}

	properties := make([]string, 0, len(def.DataFlow))
	for sp := range def.DataFlow {
		properties = append(properties, sp)
	}
	sort.Strings(properties)

	for _, sp := range properties {
		for _, dp := range def.DataFlow[sp] {
			entry := &models.DataFlowEntry{
				LinkID:              link.ID,
				SourceProperty:      sp,
				DestinationProperty: dp,
			}
			if err := b.nodes.CreateEntry(ctx, b.q, entry); err != nil {
				return err
			}
		}
	}

	return nil
}

// buildInputHolder persists the synthetic source node, writes the submission
// inputs as its color-0 outputs, and links it into the root task.
func (b *graphBuilder) buildInputHolder(ctx context.Context, root *models.Node, inputs map[string]json.RawMessage) error {
	holder := &models.Node{
		WorkflowID: b.wf.ID,
		Name:       models.InputHolderName,
		Kind:       models.KindInputHolder,
		Status:     string(models.ExecutionNew),
	}
	if err := b.nodes.CreateNode(ctx, b.q, holder); err != nil {
		return err
	}

	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		output := &models.Output{
			WorkflowID:      b.wf.ID,
			NodeID:          holder.ID,
			Name:            name,
			Color:           0,
			SerializedValue: inputs[name],
		}
		if err := b.outputs.Write(ctx, b.q, output); err != nil {
			return err
		}
	}

	link := &models.Link{
		WorkflowID:    b.wf.ID,
		SourceID:      holder.ID,
		DestinationID: root.ID,
	}
	if err := b.nodes.CreateLink(ctx, b.q, link); err != nil {
		return err
	}

	for _, name := range names {
		entry := &models.DataFlowEntry{
			LinkID:              link.ID,
			SourceProperty:      name,
			DestinationProperty: name,
		}
		if err := b.nodes.CreateEntry(ctx, b.q, entry); err != nil {
			return err
		}
	}

	return nil
}

// buildDummySink persists the root-level output sink and the link that
// carries the workflow outputs into it. The entries mirror every property
// landing on the top-level output connector.
func (b *graphBuilder) buildDummySink(ctx context.Context, root *models.Node, links []*models.LinkDefinition) error {
	sink := &models.Node{
		WorkflowID: b.wf.ID,
		Name:       models.DummySinkName,
		Kind:       models.KindInputHolder,
		Status:     string(models.ExecutionNew),
	}
	if err := b.nodes.CreateNode(ctx, b.q, sink); err != nil {
		return err
	}

	link := &models.Link{
		WorkflowID:    b.wf.ID,
		SourceID:      root.ID,
		DestinationID: sink.ID,
	}
	if err := b.nodes.CreateLink(ctx, b.q, link); err != nil {
		return err
	}

	for _, linkDef := range links {
		if linkDef.Destination != models.OutputConnectorName {
			continue
		}

		var properties []string
		for _, targets := range linkDef.DataFlow {
			properties = append(properties, targets...)
		}
		sort.Strings(properties)

		for _, property := range properties {
			entry := &models.DataFlowEntry{
				LinkID:              link.ID,
				SourceProperty:      property,
				DestinationProperty: property,
			}
			if err := b.nodes.CreateEntry(ctx, b.q, entry); err != nil {
				return err
			}
		}
	}

	return nil
}
