package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/petriflow/workflow/cmd/workflow/service"
	"github.com/petriflow/workflow/common/clients"
	"github.com/petriflow/workflow/common/logger"
	"github.com/petriflow/workflow/common/queue"
)

// Worker consumes the async queue: net submissions and webhook deliveries.
// It runs in-process next to the HTTP server, one goroutine per topic.
type Worker struct {
	log       *logger.Logger
	queue     queue.Queue
	workflows *service.WorkflowService
	webhooks  *clients.WebhookClient
}

// New creates a worker
func New(log *logger.Logger, q queue.Queue, workflows *service.WorkflowService, webhooks *clients.WebhookClient) *Worker {
	return &Worker{
		log:       log,
		queue:     q,
		workflows: workflows,
		webhooks:  webhooks,
	}
}

// Start launches the consumers; they run until ctx is canceled
func (w *Worker) Start(ctx context.Context) {
	go func() {
		if err := w.queue.Subscribe(ctx, queue.TopicSubmitNet, w.handleSubmitNet); err != nil && ctx.Err() == nil {
			w.log.Error("submit-net consumer stopped", "error", err)
		}
	}()

	go func() {
		if err := w.queue.Subscribe(ctx, queue.TopicDeliverWebhook, w.handleWebhook); err != nil && ctx.Err() == nil {
			w.log.Error("webhook consumer stopped", "error", err)
		}
	}()
}

// handleSubmitNet translates and uploads a created workflow's net. On error
// the Redis queue requeues the job so submission is retried; the in-memory
// queue logs the error and drops the job.
func (w *Worker) handleSubmitNet(ctx context.Context, payload []byte) error {
	var job service.SubmitNetJob
	if err := json.Unmarshal(payload, &job); err != nil {
		w.log.Error("dropping malformed submit-net job", "error", err)
		return nil
	}

	if err := w.workflows.SubmitNet(ctx, job.WorkflowID); err != nil {
		return fmt.Errorf("submit net for %s: %w", job.WorkflowID, err)
	}

	return nil
}

// handleWebhook posts one envelope. Delivery failures are logged and
// dropped: webhooks are at-least-once with idempotency on the receiver, not
// guaranteed.
func (w *Worker) handleWebhook(ctx context.Context, payload []byte) error {
	var job service.WebhookJob
	if err := json.Unmarshal(payload, &job); err != nil {
		w.log.Error("dropping malformed webhook job", "error", err)
		return nil
	}

	if err := w.webhooks.Deliver(ctx, job.URL, job.Envelope); err != nil {
		w.log.Warn("webhook delivery failed", "url", job.URL, "event", job.Envelope.Event, "error", err)
	}

	return nil
}
