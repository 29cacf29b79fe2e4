package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/petriflow/workflow/cmd/workflow/models"
	"github.com/petriflow/workflow/cmd/workflow/repository"
	"github.com/petriflow/workflow/cmd/workflow/service"
	"github.com/petriflow/workflow/cmd/workflow/worker"
	"github.com/petriflow/workflow/common/clients"
	"github.com/petriflow/workflow/common/config"
	"github.com/petriflow/workflow/common/db"
	"github.com/petriflow/workflow/common/logger"
	"github.com/petriflow/workflow/common/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collaborators fakes the Petri engine and the job executor with one test
// server, recording everything they receive.
type collaborators struct {
	server *httptest.Server

	mu            sync.Mutex
	netPrograms   map[string]json.RawMessage
	responsePuts  []string
	jobSubmits    []clients.JobRequest
	canceledJobs  []string
	webhookEvents []string
}

func newCollaborators() *collaborators {
	c := &collaborators{
		netPrograms: map[string]json.RawMessage{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/nets/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.netPrograms[strings.TrimPrefix(r.URL.Path, "/v1/nets/")] = body
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/resp/", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.responsePuts = append(c.responsePuts, strings.TrimPrefix(r.URL.Path, "/resp/"))
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		var req clients.JobRequest
		json.NewDecoder(r.Body).Decode(&req)
		c.mu.Lock()
		c.jobSubmits = append(c.jobSubmits, req)
		c.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"job_id": "job-1"})
	})
	mux.HandleFunc("/v1/jobs/", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.canceledJobs = append(c.canceledJobs, strings.TrimPrefix(r.URL.Path, "/v1/jobs/"))
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/hooks/", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.webhookEvents = append(c.webhookEvents, strings.TrimPrefix(r.URL.Path, "/hooks/"))
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	c.server = httptest.NewServer(mux)
	return c
}

type testEnv struct {
	db         *db.DB
	collab     *collaborators
	queue      *queue.MemoryQueue
	workflows  *service.WorkflowService
	reports    *service.ReportService
	dispatcher *service.Dispatcher
	loader     *service.GraphLoader
	executions *repository.ExecutionRepository
	jobs       *repository.JobRepository
}

// setupTestEnv connects to a local Postgres; the suite is skipped when none
// is reachable.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	cfg, err := config.Load("workflow-test")
	require.NoError(t, err)
	cfg.Database.Database = "workflow_test"
	cfg.Service.Host = "localhost"
	cfg.Service.Port = 7272

	log := logger.New("error", "text")

	database, err := db.New(ctx, cfg, log)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(database.Close)

	require.NoError(t, repository.Migrate(database))

	collab := newCollaborators()
	t.Cleanup(collab.server.Close)

	httpClient := clients.NewHTTPClient(&http.Client{Timeout: 5 * time.Second}, log)
	petriClient := clients.NewPetriClient(httpClient, collab.server.URL)
	forkClient := clients.NewForkClient(httpClient, collab.server.URL)

	q := queue.NewMemoryQueue(log)

	workflowRepo := repository.NewWorkflowRepository()
	nodeRepo := repository.NewNodeRepository()
	methodRepo := repository.NewMethodRepository()
	executionRepo := repository.NewExecutionRepository()
	outputRepo := repository.NewOutputRepository()
	colorGroupRepo := repository.NewColorGroupRepository()
	jobRepo := repository.NewJobRepository()

	loader := service.NewGraphLoader(workflowRepo, nodeRepo, methodRepo)
	colors := service.NewColorStore(outputRepo, colorGroupRepo)

	workflows := service.NewWorkflowService(
		database, log, cfg, q, petriClient, forkClient,
		workflowRepo, nodeRepo, methodRepo, executionRepo, outputRepo, jobRepo,
		loader,
	)
	reports := service.NewReportService(database, cfg, executionRepo, loader, colors)
	dispatcher := service.NewDispatcher(
		database, log, cfg, q, petriClient, forkClient,
		workflowRepo, nodeRepo, methodRepo, executionRepo, outputRepo, jobRepo,
		loader, colors,
	)

	return &testEnv{
		db:         database,
		collab:     collab,
		queue:      q,
		workflows:  workflows,
		reports:    reports,
		dispatcher: dispatcher,
		loader:     loader,
		executions: executionRepo,
		jobs:       jobRepo,
	}
}

func linearDefinition(name string, command []string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Name: name,
		Tasks: map[string]*models.TaskDefinition{
			"A": {
				Methods: []*models.MethodDefinition{
					{
						Name:    "execute",
						Service: "shell-command",
						Parameters: &models.MethodParameters{
							CommandLine: command,
						},
					},
				},
			},
		},
		Links: []*models.LinkDefinition{
			{
				Source:      models.InputConnectorName,
				Destination: "A",
				DataFlow:    map[string]models.Targets{"in_a": {"param"}},
			},
			{
				Source:      "A",
				Destination: models.OutputConnectorName,
				DataFlow:    map[string]models.Targets{"result": {"out_a"}},
			},
		},
		Inputs: map[string]json.RawMessage{
			"in_a": json.RawMessage(`"kittens"`),
		},
	}
}

func TestLinearWorkflowLifecycle(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	wf, err := env.workflows.Create(ctx, linearDefinition("", []string{"true"}))
	require.NoError(t, err)
	t.Cleanup(func() { env.workflows.Delete(ctx, wf.ID) })

	assert.Equal(t, models.WorkflowNew, wf.Status)

	// Submit the net and check the program landed under the net key
	require.NoError(t, env.workflows.SubmitNet(ctx, wf.ID))

	env.collab.mu.Lock()
	program, ok := env.collab.netPrograms[wf.NetKey]
	env.collab.mu.Unlock()
	require.True(t, ok, "no net submitted under %s", wf.NetKey)

	var net struct {
		Places      []string                 `json:"places"`
		Transitions []map[string]interface{} `json:"transitions"`
	}
	require.NoError(t, json.Unmarshal(program, &net))
	assert.NotEmpty(t, net.Places)
	assert.NotEmpty(t, net.Transitions)

	// Find task A for the callback simulation
	g, err := env.loader.Load(ctx, env.db.Pool, wf.ID)
	require.NoError(t, err)

	var taskA *models.Node
	for _, n := range g.Nodes {
		if n.Name == "A" && n.Kind == models.KindTask {
			taskA = n
		}
	}
	require.NotNil(t, taskA)

	// The engine fires execute for method "execute" at color 0
	payload := &service.CallbackPayload{
		Color: 0,
		ResponseLinks: map[string]string{
			"success": env.collab.server.URL + "/resp/success",
			"failure": env.collab.server.URL + "/resp/failure",
		},
	}
	require.NoError(t, env.dispatcher.HandleNodeEvent(ctx, taskA.ID, "execute", payload, "execute"))

	env.collab.mu.Lock()
	require.Len(t, env.collab.jobSubmits, 1)
	submitted := env.collab.jobSubmits[0]
	env.collab.mu.Unlock()

	assert.Equal(t, []string{"true"}, submitted.CommandLine)
	assert.Contains(t, submitted.Stdin, "kittens")
	assert.Contains(t, submitted.Callbacks["ended"], "/events/ended")

	// Redelivery submits nothing new
	require.NoError(t, env.dispatcher.HandleNodeEvent(ctx, taskA.ID, "execute", payload, "execute"))
	env.collab.mu.Lock()
	assert.Len(t, env.collab.jobSubmits, 1)
	env.collab.mu.Unlock()

	// The executor reports success; the output lands and the success
	// response link is PUT.
	method, err := repository.NewMethodRepository().GetMethodByName(ctx, env.db.Pool, taskA.ID, "execute")
	require.NoError(t, err)

	exitCode := 0
	ended := &service.CallbackPayload{
		JobID:    "job-1",
		ExitCode: &exitCode,
		Stdout:   `{"result": "kittens"}`,
	}
	require.NoError(t, env.dispatcher.HandleMethodEvent(ctx, method.ID, "ended", ended))

	env.collab.mu.Lock()
	assert.Contains(t, env.collab.responsePuts, "success")
	env.collab.mu.Unlock()

	// Outputs resolve through the output connector
	outputs, err := env.reports.Outputs(ctx, wf.ID)
	require.NoError(t, err)
	resolved := outputs["outputs"].(map[string]json.RawMessage)
	assert.JSONEq(t, `"kittens"`, string(resolved["out_a"]))

	// Executions feed carries a cursor
	report, err := env.reports.Executions(ctx, wf.ID, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Executions)
	assert.Contains(t, report.UpdateURL, "since=")
}

func TestDuplicateNameRejected(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	name := "dup-" + time.Now().Format("150405.000000")

	first, err := env.workflows.Create(ctx, linearDefinition(name, []string{"true"}))
	require.NoError(t, err)
	t.Cleanup(func() { env.workflows.Delete(ctx, first.ID) })

	_, err = env.workflows.Create(ctx, linearDefinition(name, []string{"true"}))
	require.Error(t, err)

	var nonUnique *models.NonUniqueNameError
	assert.True(t, errors.As(err, &nonUnique))

	// The name still resolves to the workflow created first
	_, err = env.workflows.GetByName(ctx, name)
	require.NoError(t, err)
}

func TestMissingInputsRejected(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	def := linearDefinition("", []string{"true"})
	def.Inputs = map[string]json.RawMessage{}

	_, err := env.workflows.Create(ctx, def)
	require.Error(t, err)

	var missing *models.MissingInputsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"in_a"}, missing.Missing)
}

func TestCancelWorkflow(t *testing.T) {
	env := setupTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// Run the queue consumer so webhook deliveries actually go out
	httpClient := clients.NewHTTPClient(&http.Client{Timeout: 5 * time.Second}, logger.New("error", "text"))
	w := worker.New(logger.New("error", "text"), env.queue, env.workflows, clients.NewWebhookClient(httpClient))
	w.Start(ctx)

	def := linearDefinition("", []string{"sleep", "12345"})
	def.Tasks["A"].Methods[0].Webhooks = map[string]string{
		"canceled": env.collab.server.URL + "/hooks/canceled",
	}

	wf, err := env.workflows.Create(ctx, def)
	require.NoError(t, err)
	t.Cleanup(func() { env.workflows.Delete(ctx, wf.ID) })

	// Start the job so there is a running execution to cancel
	g, err := env.loader.Load(ctx, env.db.Pool, wf.ID)
	require.NoError(t, err)

	var taskA *models.Node
	for _, n := range g.Nodes {
		if n.Name == "A" && n.Kind == models.KindTask {
			taskA = n
		}
	}
	require.NotNil(t, taskA)

	payload := &service.CallbackPayload{
		Color: 0,
		ResponseLinks: map[string]string{
			"success": env.collab.server.URL + "/resp/success",
			"failure": env.collab.server.URL + "/resp/failure",
		},
	}
	require.NoError(t, env.dispatcher.HandleNodeEvent(ctx, taskA.ID, "execute", payload, "execute"))

	require.NoError(t, env.workflows.Cancel(ctx, wf.ID))

	got, err := env.workflows.Get(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowCanceled, got.Status)

	// The running job was asked to stop
	env.collab.mu.Lock()
	assert.Contains(t, env.collab.canceledJobs, "job-1")
	env.collab.mu.Unlock()

	// The canceled webhook fires exactly once
	assert.Eventually(t, func() bool {
		env.collab.mu.Lock()
		defer env.collab.mu.Unlock()
		return len(env.collab.webhookEvents) == 1 && env.collab.webhookEvents[0] == "canceled"
	}, 3*time.Second, 50*time.Millisecond)

	// Cancel is idempotent and delivers nothing new
	require.NoError(t, env.workflows.Cancel(ctx, wf.ID))
}
