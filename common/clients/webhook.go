package clients

import (
	"context"
	"net/http"
)

// WebhookClient posts lifecycle event envelopes to subscriber URLs.
// Delivery is at-least-once; subscribers are expected to be idempotent.
type WebhookClient struct {
	http *HTTPClient
}

// WebhookEnvelope is the body delivered to subscribers
type WebhookEnvelope struct {
	Event       string                 `json:"event"`
	WorkflowID  string                 `json:"workflow_id"`
	NodeID      int64                  `json:"node_id,omitempty"`
	MethodID    int64                  `json:"method_id,omitempty"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Color       *int                   `json:"color,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// NewWebhookClient creates a webhook delivery client
func NewWebhookClient(httpClient *HTTPClient) *WebhookClient {
	return &WebhookClient{http: httpClient}
}

// Deliver posts the envelope to the subscriber URL
func (c *WebhookClient) Deliver(ctx context.Context, url string, envelope *WebhookEnvelope) error {
	return c.http.DoJSON(ctx, http.MethodPost, url, envelope, nil)
}
