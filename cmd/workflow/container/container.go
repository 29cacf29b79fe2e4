package container

import (
	"net/http"
	"time"

	"github.com/petriflow/workflow/cmd/workflow/repository"
	"github.com/petriflow/workflow/cmd/workflow/service"
	"github.com/petriflow/workflow/common/bootstrap"
	"github.com/petriflow/workflow/common/clients"
)

// Container holds all initialized services and repositories (singleton
// pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Clients
	HTTPClient    *clients.HTTPClient
	PetriClient   *clients.PetriClient
	ForkClient    *clients.ForkClient
	WebhookClient *clients.WebhookClient

	// Repositories
	WorkflowRepo   *repository.WorkflowRepository
	NodeRepo       *repository.NodeRepository
	MethodRepo     *repository.MethodRepository
	ExecutionRepo  *repository.ExecutionRepository
	OutputRepo     *repository.OutputRepository
	ColorGroupRepo *repository.ColorGroupRepository
	JobRepo        *repository.JobRepository

	// Services
	Loader          *service.GraphLoader
	Colors          *service.ColorStore
	WorkflowService *service.WorkflowService
	ReportService   *service.ReportService
	Dispatcher      *service.Dispatcher
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	// Clients
	httpClient := clients.NewHTTPClient(&http.Client{Timeout: 30 * time.Second}, log)
	petriClient := clients.NewPetriClient(httpClient, cfg.PetriURL())
	forkClient := clients.NewForkClient(httpClient, cfg.ForkURL())
	webhookClient := clients.NewWebhookClient(httpClient)

	// Repositories
	workflowRepo := repository.NewWorkflowRepository()
	nodeRepo := repository.NewNodeRepository()
	methodRepo := repository.NewMethodRepository()
	executionRepo := repository.NewExecutionRepository()
	outputRepo := repository.NewOutputRepository()
	colorGroupRepo := repository.NewColorGroupRepository()
	jobRepo := repository.NewJobRepository()

	// Services (bottom-up: dependencies first)
	loader := service.NewGraphLoader(workflowRepo, nodeRepo, methodRepo)
	colors := service.NewColorStore(outputRepo, colorGroupRepo)

	workflowService := service.NewWorkflowService(
		components.DB,
		log,
		cfg,
		components.Queue,
		petriClient,
		forkClient,
		workflowRepo,
		nodeRepo,
		methodRepo,
		executionRepo,
		outputRepo,
		jobRepo,
		loader,
	)

	reportService := service.NewReportService(
		components.DB,
		cfg,
		executionRepo,
		loader,
		colors,
	)

	dispatcher := service.NewDispatcher(
		components.DB,
		log,
		cfg,
		components.Queue,
		petriClient,
		forkClient,
		workflowRepo,
		nodeRepo,
		methodRepo,
		executionRepo,
		outputRepo,
		jobRepo,
		loader,
		colors,
	)

	return &Container{
		Components:      components,
		HTTPClient:      httpClient,
		PetriClient:     petriClient,
		ForkClient:      forkClient,
		WebhookClient:   webhookClient,
		WorkflowRepo:    workflowRepo,
		NodeRepo:        nodeRepo,
		MethodRepo:      methodRepo,
		ExecutionRepo:   executionRepo,
		OutputRepo:      outputRepo,
		ColorGroupRepo:  colorGroupRepo,
		JobRepo:         jobRepo,
		Loader:          loader,
		Colors:          colors,
		WorkflowService: workflowService,
		ReportService:   reportService,
		Dispatcher:      dispatcher,
	}, nil
}
