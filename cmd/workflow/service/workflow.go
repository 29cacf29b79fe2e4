package service

import (
	"context"
	"encoding/json"
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

// SubmitNetJob is the queue message that triggers asynchronous translation
// and submission of a created workflow.
type SubmitNetJob struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
}

// WorkflowService owns the workflow lifecycle: create, submit, cancel,
// delete and the basic queries.
type WorkflowService struct {
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

	loader     *GraphLoader
	translator *petri.Translator
}

// NewWorkflowService creates the workflow lifecycle service
func NewWorkflowService(
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
) *WorkflowService {
	return &WorkflowService{
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
		translator:  petri.NewTranslator(cfg.SelfURL()),
	}
}

// Create validates and persists a workflow, then enqueues the asynchronous
// net submission. Validation failures and name collisions roll the whole
// transaction back, leaving no partial state.
func (s *WorkflowService) Create(ctx context.Context, def *models.WorkflowDefinition) (*models.Workflow, error) {
	if err := def.ValidateInputs(); err != nil {
		return nil, err
	}
	if err := validateLinks(def); err != nil {
		return nil, err
	}

	wf := &models.Workflow{
		ID:     uuid.New(),
		Status: models.WorkflowNew,
	}
	wf.NetKey = models.NetKeyFor(wf.ID)
	if def.Name != "" {
		wf.Name = &def.Name
	}

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.workflows.Create(ctx, tx, wf); err != nil {
			return err
		}

		builder := &graphBuilder{
			nodes:   s.nodes,
			methods: s.methods,
			outputs: s.outputs,
			q:       tx,
			wf:      wf,
		}

		root, err := builder.build(ctx, def)
		if err != nil {
			return err
		}

		rootMethod, err := s.methods.GetMethodByName(ctx, tx, root.ID, "root")
		if err != nil {
			return err
		}

		rootExecution := &models.Execution{
			ID:         uuid.New(),
			WorkflowID: wf.ID,
			NodeID:     root.ID,
			MethodID:   rootMethod.ID,
			Color:      0,
			Status:     models.ExecutionNew,
			Data:       map[string]interface{}{},
		}
		if _, err := s.executions.Create(ctx, tx, rootExecution); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	job, err := json.Marshal(SubmitNetJob{WorkflowID: wf.ID})
	if err != nil {
		return nil, fmt.Errorf("marshal submit job: %w", err)
	}
	if err := s.queue.Publish(ctx, queue.TopicSubmitNet, job); err != nil {
		// The workflow is committed; submission can be retried out of band.
		s.log.Error("failed to enqueue net submission", "workflow_id", wf.ID, "error", err)
	}

	return wf, nil
}

// validateLinks checks link uniqueness at every nesting level
func validateLinks(def *models.WorkflowDefinition) error {
	if err := models.ValidateUniqueLinks(def.Links); err != nil {
		return err
	}
	return validateTaskLinks(def.Tasks)
}

func validateTaskLinks(tasks map[string]*models.TaskDefinition) error {
	for _, task := range tasks {
		for _, m := range task.Methods {
			if m.Parameters == nil {
				continue
			}
			if err := models.ValidateUniqueLinks(m.Parameters.Links); err != nil {
				return err
			}
			if err := validateTaskLinks(m.Parameters.Tasks); err != nil {
				return err
			}
		}
	}
	return nil
}

// SubmitNet translates the workflow and uploads the program to the Petri
// engine under the workflow's net key.
func (s *WorkflowService) SubmitNet(ctx context.Context, workflowID uuid.UUID) error {
	g, err := s.loader.Load(ctx, s.db.Pool, workflowID)
	if err != nil {
		return err
	}

	program, err := s.translator.Translate(g)
	if err != nil {
		return fmt.Errorf("translate workflow %s: %w", workflowID, err)
	}

	if err := s.petriClient.SubmitNet(ctx, g.Workflow.NetKey, program); err != nil {
		return err
	}

	s.log.Info("net submitted",
		"workflow_id", workflowID,
		"net_key", g.Workflow.NetKey,
		"places", len(program.Places),
		"transitions", len(program.Transitions),
	)
	return nil
}

// Get returns a workflow by id
func (s *WorkflowService) Get(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	return s.workflows.GetByID(ctx, s.db.Pool, id)
}

// GetByName returns a workflow by its unique name
func (s *WorkflowService) GetByName(ctx context.Context, name string) (*models.Workflow, error) {
	return s.workflows.GetByName(ctx, s.db.Pool, name)
}

// Cancel marks the workflow canceled and cancels its non-terminal
// executions. Outbound job cancels are best effort; the Petri net is not
// unwound, so terminal webhooks fire as the net finishes draining.
func (s *WorkflowService) Cancel(ctx context.Context, id uuid.UUID) error {
	var (
		canceledJobs []string
		hooks        []*models.Webhook
	)

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		wf, err := s.workflows.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if wf.Status.Terminal() {
			return nil
		}

		if err := s.workflows.UpdateStatus(ctx, tx, id, models.WorkflowCanceled); err != nil {
			return err
		}

		executions, err := s.executions.ListNonTerminal(ctx, tx, id)
		if err != nil {
			return err
		}

		for _, e := range executions {
			if err := s.executions.Transition(ctx, tx, e, models.ExecutionCanceled); err != nil {
				return err
			}

			if job, ok, err := s.jobs.GetByColor(ctx, tx, e.MethodID, e.Color); err != nil {
				return err
			} else if ok {
				canceledJobs = append(canceledJobs, job.ExternalJobID)
			}

			methodHooks, err := s.methods.ListWebhooks(ctx, tx, nil, &e.MethodID, "canceled")
			if err != nil {
				return err
			}
			hooks = append(hooks, methodHooks...)

			nodeHooks, err := s.methods.ListWebhooks(ctx, tx, &e.NodeID, nil, "canceled")
			if err != nil {
				return err
			}
			hooks = append(hooks, nodeHooks...)
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, jobID := range canceledJobs {
		if err := s.forkClient.CancelJob(ctx, jobID); err != nil {
			s.log.Warn("job cancel failed", "workflow_id", id, "job_id", jobID, "error", err)
		}
	}

	for _, hook := range hooks {
		enqueueWebhook(ctx, s.queue, s.log, hook, &clients.WebhookEnvelope{
			Event:      "canceled",
			WorkflowID: id.String(),
		})
	}

	return nil
}

// Delete removes the workflow and everything it owns
func (s *WorkflowService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.workflows.Delete(ctx, s.db.Pool, id)
}

// enqueueWebhook publishes one delivery job; failures are logged and
// dropped, matching the at-least-once, best-effort delivery contract.
func enqueueWebhook(ctx context.Context, q queue.Queue, log *logger.Logger, hook *models.Webhook, envelope *clients.WebhookEnvelope) {
	envelope.Event = hook.Event
	if hook.NodeID != nil {
		envelope.NodeID = *hook.NodeID
	}
	if hook.MethodID != nil {
		envelope.MethodID = *hook.MethodID
	}

	payload, err := json.Marshal(WebhookJob{URL: hook.URL, Envelope: envelope})
	if err != nil {
		log.Error("failed to marshal webhook job", "url", hook.URL, "error", err)
		return
	}

	if err := q.Publish(ctx, queue.TopicDeliverWebhook, payload); err != nil {
		log.Error("failed to enqueue webhook", "url", hook.URL, "error", err)
	}
}

// WebhookJob is the queue message for one webhook delivery
type WebhookJob struct {
	URL      string                   `json:"url"`
	Envelope *clients.WebhookEnvelope `json:"envelope"`
}
