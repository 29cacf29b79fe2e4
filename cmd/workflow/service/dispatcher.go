package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/petriflow/workflow/cmd/workflow/models"
	"github.com/petriflow/workflow/cmd/workflow/petri"
	"github.com/petriflow/workflow/cmd/workflow/repository"
	"github.com/petriflow/workflow/common/clients"
	"github.com/petriflow/workflow/common/config"
	"github.com/petriflow/workflow/common/db"
	"github.com/petriflow/workflow/common/logger"
	"github.com/petriflow/workflow/common/queue"
)

// CallbackPayload is the body of a Petri engine callback. Color identifies
// the execution instance, Group its enclosing color group, and
// ResponseLinks the one-shot URLs to PUT when the action completes.
type CallbackPayload struct {
	Color         int               `json:"color"`
	ParentColor   *int              `json:"parent_color,omitempty"`
	Group         *GroupPayload     `json:"group,omitempty"`
	ResponseLinks map[string]string `json:"response_links,omitempty"`

	// ended fields
	JobID    string `json:"job_id,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`

	// color group creation fields
	ColorGroupSize *int          `json:"color_group_size,omitempty"`
	ColorGroup     *GroupPayload `json:"color_group,omitempty"`
}

// GroupPayload describes a color group on the wire
type GroupPayload struct {
	Begin       *int `json:"begin,omitempty"`
	End         *int `json:"end,omitempty"`
	ParentColor *int `json:"parent_color,omitempty"`
}

// EffectiveParentColor resolves the parent color from either the top-level
// field or the group block.
func (p *CallbackPayload) EffectiveParentColor() *int {
	if p.ParentColor != nil {
		return p.ParentColor
	}
	if p.Group != nil {
		return p.Group.ParentColor
	}
	return nil
}

// followUp is an outbound call deferred until after the transaction commits.
// All state mutations commit before any response-link PUT.
type followUp func(ctx context.Context) error

// Dispatcher applies remote events to node and method state. Each callback
// runs as one transaction; on failure the handler returns an error, the HTTP
// layer answers non-2xx, and the Petri engine redelivers.
type Dispatcher struct {
	db    *db.DB
	log   *logger.Logger
	cfg   *config.Config
	queue queue.Queue

	petriClient *clients.PetriClient
	forkClient  *clients.ForkClient

	workflows  *repository.WorkflowRepository
	nodes      *repository.NodeRepository
	methods    *repository.MethodRepository
	executions *repository.ExecutionRepository
	outputs    *repository.OutputRepository
	jobs       *repository.JobRepository

	loader *GraphLoader
	colors *ColorStore
	urls   petri.URLBuilder
}

// NewDispatcher creates the callback dispatcher
func NewDispatcher(
	database *db.DB,
	log *logger.Logger,
	cfg *config.Config,
	q queue.Queue,
	petriClient *clients.PetriClient,
	forkClient *clients.ForkClient,
	workflows *repository.WorkflowRepository,
	nodes *repository.NodeRepository,
	methods *repository.MethodRepository,
	executions *repository.ExecutionRepository,
	outputs *repository.OutputRepository,
	jobs *repository.JobRepository,
	loader *GraphLoader,
	colors *ColorStore,
) *Dispatcher {
	return &Dispatcher{
		db:          database,
		log:         log,
		cfg:         cfg,
		queue:       q,
		petriClient: petriClient,
		forkClient:  forkClient,
		workflows:   workflows,
		nodes:       nodes,
		methods:     methods,
		executions:  executions,
		outputs:     outputs,
		jobs:        jobs,
		loader:      loader,
		colors:      colors,
		urls:        petri.URLBuilder{Base: cfg.SelfURL()},
	}
}

// lifecycleEvents are forwarded to subscriber webhooks and, where an
// execution is identifiable, recorded in its status history.
var lifecycleEvents = map[string]models.ExecutionStatus{
	"new":       models.ExecutionNew,
	"scheduled": models.ExecutionScheduled,
	"running":   models.ExecutionRunning,
	"succeeded": models.ExecutionSucceeded,
	"failed":    models.ExecutionFailed,
	"errored":   models.ExecutionErrored,
	"canceled":  models.ExecutionCanceled,
}

// HandleNodeEvent applies a node-level callback
func (d *Dispatcher) HandleNodeEvent(ctx context.Context, nodeID int64, event string, payload *CallbackPayload, methodName string) error {
	var followUps []followUp

	err := d.db.WithTx(ctx, func(tx pgx.Tx) error {
		node, err := d.nodes.GetNode(ctx, tx, nodeID)
		if err != nil {
			return err
		}

		g, err := d.loader.Load(ctx, tx, node.WorkflowID)
		if err != nil {
			return err
		}

		switch event {
		case "execute":
			followUps, err = d.execute(ctx, tx, g, node, methodName, payload)
		case "get_split_size":
			followUps, err = d.getSplitSize(ctx, tx, g, node, payload)
		case "color_group_created":
			followUps, err = d.colorGroupCreated(ctx, tx, g, node, payload)
		case "done":
			followUps, err = d.dagDone(ctx, tx, g, node, payload)
		case "failed":
			followUps, err = d.taskFailed(ctx, tx, g, node, payload)
		default:
			if _, ok := lifecycleEvents[event]; ok {
				followUps, err = d.forwardNodeLifecycle(ctx, tx, node, event, payload)
			} else {
				err = fmt.Errorf("unknown node event %s", event)
			}
		}
		return err
	})
	if err != nil {
		return err
	}

	return d.runFollowUps(ctx, followUps)
}

// HandleMethodEvent applies a method-level callback
func (d *Dispatcher) HandleMethodEvent(ctx context.Context, methodID int64, event string, payload *CallbackPayload) error {
	var followUps []followUp

	err := d.db.WithTx(ctx, func(tx pgx.Tx) error {
		method, err := d.methods.GetMethod(ctx, tx, methodID)
		if err != nil {
			return err
		}

		node, err := d.nodes.GetNode(ctx, tx, method.NodeID)
		if err != nil {
			return err
		}

		switch event {
		case "ended":
			followUps, err = d.jobEnded(ctx, tx, node, method, payload)
		default:
			if status, ok := lifecycleEvents[event]; ok {
				followUps, err = d.methodLifecycle(ctx, tx, method, event, status, payload)
			} else {
				err = fmt.Errorf("unknown method event %s", event)
			}
		}
		return err
	})
	if err != nil {
		return err
	}

	return d.runFollowUps(ctx, followUps)
}

// execute handles the execute notification for one of a task's methods.
// Creating the execution and the job is idempotent per (method, color), so
// a redelivered callback re-submits nothing.
func (d *Dispatcher) execute(ctx context.Context, tx pgx.Tx, g *models.Graph, node *models.Node, methodName string, payload *CallbackPayload) ([]followUp, error) {
	if methodName == "" {
		return nil, fmt.Errorf("execute on node %d without method query parameter", node.ID)
	}

	method, err := d.methods.GetMethodByName(ctx, tx, node.ID, methodName)
	if err != nil {
		return nil, err
	}
	if method.Service != models.ServiceShellCommand {
		return nil, fmt.Errorf("method %s of node %d is not executable", methodName, node.ID)
	}

	execution := &models.Execution{
		ID:          uuid.New(),
		WorkflowID:  g.Workflow.ID,
		NodeID:      node.ID,
		MethodID:    method.ID,
		Color:       payload.Color,
		ParentColor: payload.EffectiveParentColor(),
		Status:      models.ExecutionNew,
		Data:        map[string]interface{}{},
	}
	if _, err := d.executions.Create(ctx, tx, execution); err != nil {
		return nil, err
	}

	if g.Workflow.Status == models.WorkflowCanceled {
		if execution.Status.CanTransition(models.ExecutionCanceled) {
			if err := d.executions.Transition(ctx, tx, execution, models.ExecutionCanceled); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	if execution.Status.Terminal() {
		return nil, nil
	}

	if err := d.workflows.UpdateStatus(ctx, tx, g.Workflow.ID, models.WorkflowRunning); err != nil {
		return nil, err
	}

	if _, exists, err := d.jobs.GetByColor(ctx, tx, method.ID, payload.Color); err != nil {
		return nil, err
	} else if exists {
		return nil, nil
	}

	inputs, err := d.colors.GetInputs(ctx, tx, g, node, payload.Color)
	if err != nil {
		return nil, err
	}
	stdin, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("marshal stdin: %w", err)
	}

	commandLine, err := method.CommandLine()
	if err != nil {
		return nil, fmt.Errorf("decode command line: %w", err)
	}

	externalID, submitErr := d.forkClient.SubmitJob(ctx, &clients.JobRequest{
		CommandLine: commandLine,
		User:        d.cfg.Service.User,
		Stdin:       string(stdin),
		Callbacks: map[string]string{
			"ended": d.urls.MethodEvent(method.ID, "ended"),
		},
	})
	if submitErr != nil {
		// A submit failure is a method failure: record it and let the net
		// fall through to the next method.
		d.log.Warn("job submit failed",
			"workflow_id", g.Workflow.ID,
			"method_id", method.ID,
			"error", submitErr,
		)
		if err := d.executions.Transition(ctx, tx, execution, models.ExecutionFailed); err != nil {
			return nil, err
		}
		failure := payload.ResponseLinks["failure"]
		return []followUp{func(ctx context.Context) error {
			return d.petriClient.Respond(ctx, failure, nil)
		}}, nil
	}

	job := &models.Job{
		ID:            uuid.New(),
		WorkflowID:    g.Workflow.ID,
		NodeID:        node.ID,
		MethodID:      method.ID,
		Color:         payload.Color,
		ExternalJobID: externalID,
		ResponseLinks: payload.ResponseLinks,
	}
	if _, err := d.jobs.Create(ctx, tx, job); err != nil {
		return nil, err
	}

	if err := d.executions.UpdateData(ctx, tx, execution.ID, map[string]interface{}{
		"job_id": externalID,
	}); err != nil {
		return nil, err
	}

	if err := d.executions.Transition(ctx, tx, execution, models.ExecutionRunning); err != nil {
		return nil, err
	}

	return d.collectWebhooks(ctx, tx, g, nil, &method.ID, "running", payload), nil
}

// jobEnded handles the executor's completion callback. On exit 0 the stdout
// JSON map becomes one output per key at the job's color; the matching
// response link is PUT only after commit.
func (d *Dispatcher) jobEnded(ctx context.Context, tx pgx.Tx, node *models.Node, method *models.Method, payload *CallbackPayload) ([]followUp, error) {
	if payload.JobID == "" {
		return nil, fmt.Errorf("ended on method %d without job_id", method.ID)
	}

	job, err := d.jobs.GetByExternalID(ctx, tx, method.ID, payload.JobID)
	if err != nil {
		return nil, err
	}

	execution, err := d.executions.GetForUpdate(ctx, tx, method.ID, job.Color)
	if err != nil {
		return nil, err
	}

	g, err := d.loader.Load(ctx, tx, node.WorkflowID)
	if err != nil {
		return nil, err
	}

	// Redelivery after a committed terminal state: repeat the response PUT,
	// change nothing.
	if execution.Status.Terminal() {
		return d.respondForStatus(job, execution.Status), nil
	}

	if g.Workflow.Status == models.WorkflowCanceled {
		if err := d.executions.Transition(ctx, tx, execution, models.ExecutionCanceled); err != nil {
			return nil, err
		}
		return d.respondForStatus(job, models.ExecutionCanceled), nil
	}

	exitCode := -1
	if payload.ExitCode != nil {
		exitCode = *payload.ExitCode
	}

	if err := d.executions.UpdateData(ctx, tx, execution.ID, map[string]interface{}{
		"exit_code": exitCode,
	}); err != nil {
		return nil, err
	}

	if exitCode == 0 {
		var outputs map[string]json.RawMessage
		if err := json.Unmarshal([]byte(payload.Stdout), &outputs); err != nil {
			return nil, fmt.Errorf("job %s stdout is not a JSON map: %w", payload.JobID, err)
		}

		for name, value := range outputs {
			output := &models.Output{
				WorkflowID:      g.Workflow.ID,
				NodeID:          node.ID,
				Name:            name,
				Color:           job.Color,
				SerializedValue: value,
			}
			if err := d.outputs.Write(ctx, tx, output); err != nil {
				return nil, err
			}
		}

		if err := d.executions.Transition(ctx, tx, execution, models.ExecutionSucceeded); err != nil {
			return nil, err
		}

		followUps := d.respondForStatus(job, models.ExecutionSucceeded)
		followUps = append(followUps, d.collectWebhooks(ctx, tx, g, nil, &method.ID, "succeeded", payload)...)
		return followUps, nil
	}

	if err := d.executions.Transition(ctx, tx, execution, models.ExecutionFailed); err != nil {
		return nil, err
	}

	followUps := d.respondForStatus(job, models.ExecutionFailed)
	followUps = append(followUps, d.collectWebhooks(ctx, tx, g, nil, &method.ID, "failed", payload)...)
	return followUps, nil
}

// respondForStatus picks the response link matching a terminal status
func (d *Dispatcher) respondForStatus(job *models.Job, status models.ExecutionStatus) []followUp {
	name := "failure"
	if status == models.ExecutionSucceeded {
		name = "success"
	}

	url, ok := job.ResponseLinks[name]
	if !ok {
		d.log.Warn("job has no response link", "job_id", job.ExternalJobID, "name", name)
		return nil
	}

	return []followUp{func(ctx context.Context) error {
		return d.petriClient.Respond(ctx, url, nil)
	}}
}

// getSplitSize answers the parallel-by fan-out size for a color
func (d *Dispatcher) getSplitSize(ctx context.Context, tx pgx.Tx, g *models.Graph, node *models.Node, payload *CallbackPayload) ([]followUp, error) {
	size, err := d.colors.SplitSize(ctx, tx, g, node, payload.Color)
	if err != nil {
		return nil, err
	}

	url, ok := payload.ResponseLinks["send_data"]
	if !ok {
		return nil, fmt.Errorf("get_split_size on node %d without send_data response link", node.ID)
	}

	return []followUp{func(ctx context.Context) error {
		return d.petriClient.Respond(ctx, url, map[string]interface{}{
			"color_group_size": size,
		})
	}}, nil
}

// colorGroupCreated allocates the color group row for a fan-out. The engine
// either dictates the interval or just the width; both land on the same
// committed row on redelivery.
func (d *Dispatcher) colorGroupCreated(ctx context.Context, tx pgx.Tx, g *models.Graph, node *models.Node, payload *CallbackPayload) ([]followUp, error) {
	var group *models.ColorGroup

	if payload.ColorGroup != nil && payload.ColorGroup.Begin != nil && payload.ColorGroup.End != nil {
		if existing, ok, err := d.colors.groups.ForNodeAtParent(ctx, tx, node.ID, payload.Color); err != nil {
			return nil, err
		} else if ok {
			group = existing
		} else {
			parentColor := payload.Color
			group = &models.ColorGroup{
				WorkflowID:  g.Workflow.ID,
				NodeID:      node.ID,
				Begin:       *payload.ColorGroup.Begin,
				End:         *payload.ColorGroup.End,
				ParentColor: &parentColor,
			}
			if err := d.colors.groups.Create(ctx, tx, group); err != nil {
				return nil, err
			}
		}
	} else {
		size := 0
		if payload.ColorGroupSize != nil {
			size = *payload.ColorGroupSize
		}
		if size <= 0 {
			var err error
			size, err = d.colors.SplitSize(ctx, tx, g, node, payload.Color)
			if err != nil {
				return nil, err
			}
		}

		var err error
		group, err = d.colors.AllocateGroup(ctx, tx, g, node, payload.Color, size)
		if err != nil {
			return nil, err
		}
	}

	url, ok := payload.ResponseLinks["created"]
	if !ok {
		url, ok = payload.ResponseLinks["success"]
	}
	if !ok {
		return nil, nil
	}

	begin, end := group.Begin, group.End
	return []followUp{func(ctx context.Context) error {
		return d.petriClient.Respond(ctx, url, map[string]interface{}{
			"color_group": map[string]int{"begin": begin, "end": end},
		})
	}}, nil
}

// dagDone handles a subgraph's completion: the owning method's execution
// succeeds, and when the subgraph is the root method's, so does the
// workflow.
func (d *Dispatcher) dagDone(ctx context.Context, tx pgx.Tx, g *models.Graph, dag *models.Node, payload *CallbackPayload) ([]followUp, error) {
	if dag.Kind != models.KindDAG {
		return nil, fmt.Errorf("done on non-dag node %d", dag.ID)
	}

	task, ok := g.Nodes[derefID(dag.ParentID)]
	if !ok {
		return nil, fmt.Errorf("dag %d has no owning task", dag.ID)
	}

	var method *models.Method
	for _, m := range g.MethodsOf(task.ID) {
		if m.DAGNodeID != nil && *m.DAGNodeID == dag.ID {
			method = m
			break
		}
	}
	if method == nil {
		return nil, fmt.Errorf("dag %d has no owning method", dag.ID)
	}

	execution := &models.Execution{
		ID:          uuid.New(),
		WorkflowID:  g.Workflow.ID,
		NodeID:      task.ID,
		MethodID:    method.ID,
		Color:       payload.Color,
		ParentColor: payload.EffectiveParentColor(),
		Status:      models.ExecutionNew,
		Data:        map[string]interface{}{},
	}
	if _, err := d.executions.Create(ctx, tx, execution); err != nil {
		return nil, err
	}

	if !execution.Status.Terminal() {
		if err := d.executions.Transition(ctx, tx, execution, models.ExecutionSucceeded); err != nil {
			return nil, err
		}
	}

	if err := d.nodes.UpdateNodeStatus(ctx, tx, dag.ID, string(models.ExecutionSucceeded)); err != nil {
		return nil, err
	}
	if err := d.nodes.UpdateNodeStatus(ctx, tx, task.ID, string(models.ExecutionSucceeded)); err != nil {
		return nil, err
	}

	var followUps []followUp
	if url, ok := payload.ResponseLinks["success"]; ok {
		followUps = append(followUps, func(ctx context.Context) error {
			return d.petriClient.Respond(ctx, url, nil)
		})
	}

	if task.ParentID == nil {
		// Root method finished: the workflow is done.
		if err := d.workflows.UpdateStatus(ctx, tx, g.Workflow.ID, models.WorkflowSucceeded); err != nil {
			return nil, err
		}
		followUps = append(followUps, d.collectWebhooks(ctx, tx, g, &task.ID, nil, "succeeded", payload)...)
	}

	followUps = append(followUps, d.collectWebhooks(ctx, tx, g, nil, &method.ID, "succeeded", payload)...)
	return followUps, nil
}

// taskFailed handles an exhausted method chain: every method failed at this
// color, so the task and the workflow fail.
func (d *Dispatcher) taskFailed(ctx context.Context, tx pgx.Tx, g *models.Graph, node *models.Node, payload *CallbackPayload) ([]followUp, error) {
	if err := d.nodes.UpdateNodeStatus(ctx, tx, node.ID, string(models.ExecutionFailed)); err != nil {
		return nil, err
	}

	if err := d.workflows.UpdateStatus(ctx, tx, g.Workflow.ID, models.WorkflowFailed); err != nil {
		return nil, err
	}

	followUps := d.collectWebhooks(ctx, tx, g, &node.ID, nil, "failed", payload)

	if root := g.Root(); root != nil && root.ID != node.ID {
		followUps = append(followUps, d.collectWebhooks(ctx, tx, g, &root.ID, nil, "failed", payload)...)
	}

	return followUps, nil
}

// methodLifecycle records a lifecycle event on a method's execution and
// forwards it to subscribers.
func (d *Dispatcher) methodLifecycle(ctx context.Context, tx pgx.Tx, method *models.Method, event string, status models.ExecutionStatus, payload *CallbackPayload) ([]followUp, error) {
	execution, err := d.executions.GetForUpdate(ctx, tx, method.ID, payload.Color)
	if err == nil {
		if execution.Status != status {
			if err := d.executions.Transition(ctx, tx, execution, status); err != nil {
				return nil, err
			}
		}
	} else {
		var missing *models.NoSuchEntityError
		if !errors.As(err, &missing) {
			return nil, err
		}
	}

	g, err := d.loader.Load(ctx, tx, method.WorkflowID)
	if err != nil {
		return nil, err
	}

	return d.collectWebhooks(ctx, tx, g, nil, &method.ID, event, payload), nil
}

// forwardNodeLifecycle forwards a node-level lifecycle event to subscribers
func (d *Dispatcher) forwardNodeLifecycle(ctx context.Context, tx pgx.Tx, node *models.Node, event string, payload *CallbackPayload) ([]followUp, error) {
	g, err := d.loader.Load(ctx, tx, node.WorkflowID)
	if err != nil {
		return nil, err
	}

	return d.collectWebhooks(ctx, tx, g, &node.ID, nil, event, payload), nil
}

// collectWebhooks looks up the subscriptions for an event and returns
// deferred enqueue actions for them.
func (d *Dispatcher) collectWebhooks(ctx context.Context, tx pgx.Tx, g *models.Graph, nodeID, methodID *int64, event string, payload *CallbackPayload) []followUp {
	hooks, err := d.methods.ListWebhooks(ctx, tx, nodeID, methodID, event)
	if err != nil {
		d.log.Error("webhook lookup failed", "event", event, "error", err)
		return nil
	}

	color := payload.Color
	var followUps []followUp
	for _, hook := range hooks {
		hook := hook
		followUps = append(followUps, func(ctx context.Context) error {
			enqueueWebhook(ctx, d.queue, d.log, hook, &clients.WebhookEnvelope{
				Event:      event,
				WorkflowID: g.Workflow.ID.String(),
				Color:      &color,
			})
			return nil
		})
	}
	return followUps
}

// runFollowUps executes deferred outbound calls after commit. An error here
// surfaces as a non-2xx response so the Petri engine redelivers; the
// committed state makes the replay idempotent.
func (d *Dispatcher) runFollowUps(ctx context.Context, followUps []followUp) error {
	for _, f := range followUps {
		if err := f(ctx); err != nil {
			return err
		}
	}
	return nil
}
