package clients

import (
	"context"
	"fmt"
	"net/http"
)

// PetriClient talks to the external Petri engine. The engine owns event
// ordering; this service only submits compiled nets and acknowledges actions
// through one-shot response links.
type PetriClient struct {
	http    *HTTPClient
	baseURL string
}

// NewPetriClient creates a Petri engine client
func NewPetriClient(httpClient *HTTPClient, baseURL string) *PetriClient {
	return &PetriClient{
		http:    httpClient,
		baseURL: baseURL,
	}
}

// SubmitNet uploads a compiled Petri program under its net key. Submitting
// the same program under the same key is idempotent on the engine side.
func (c *PetriClient) SubmitNet(ctx context.Context, netKey string, program interface{}) error {
	url := fmt.Sprintf("%s/v1/nets/%s", c.baseURL, netKey)
	if err := c.http.DoJSON(ctx, http.MethodPut, url, program, nil); err != nil {
		return fmt.Errorf("submit net %s: %w", netKey, err)
	}
	return nil
}

// Respond PUTs to a response link, optionally carrying requested data such as
// a color group size.
func (c *PetriClient) Respond(ctx context.Context, responseURL string, data map[string]interface{}) error {
	var body interface{}
	if len(data) > 0 {
		body = data
	}
	if err := c.http.DoJSON(ctx, http.MethodPut, responseURL, body, nil); err != nil {
		return fmt.Errorf("respond to petri: %w", err)
	}
	return nil
}
