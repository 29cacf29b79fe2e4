package clients

import (
	"context"
	"fmt"
	"net/http"
)

// ForkClient submits command lines to the external shell-command executor.
type ForkClient struct {
	http    *HTTPClient
	baseURL string
}

// JobRequest is the executor submission body. Stdin carries the serialized
// task inputs at the submitting color; the ended callback reports exit code
// and stdout back to this service.
type JobRequest struct {
	CommandLine []string          `json:"command_line"`
	User        string            `json:"user"`
	Stdin       string            `json:"stdin"`
	Callbacks   map[string]string `json:"callbacks"`
}

// JobResponse is the executor's acknowledgement
type JobResponse struct {
	JobID string `json:"job_id"`
}

// NewForkClient creates a shell-command executor client
func NewForkClient(httpClient *HTTPClient, baseURL string) *ForkClient {
	return &ForkClient{
		http:    httpClient,
		baseURL: baseURL,
	}
}

// SubmitJob posts a job and returns the executor-assigned job id
func (c *ForkClient) SubmitJob(ctx context.Context, req *JobRequest) (string, error) {
	url := fmt.Sprintf("%s/v1/jobs", c.baseURL)

	var resp JobResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, url, req, &resp); err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}

	if resp.JobID == "" {
		return "", fmt.Errorf("submit job: executor returned empty job_id")
	}

	return resp.JobID, nil
}

// CancelJob asks the executor to stop a running job. Best effort; the job's
// ended callback still fires and observes the canceled workflow.
func (c *ForkClient) CancelJob(ctx context.Context, jobID string) error {
	url := fmt.Sprintf("%s/v1/jobs/%s", c.baseURL, jobID)
	if err := c.http.DoJSON(ctx, http.MethodDelete, url, nil, nil); err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	return nil
}
