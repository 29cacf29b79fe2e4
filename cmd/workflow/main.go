package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/petriflow/workflow/cmd/workflow/container"
	"github.com/petriflow/workflow/cmd/workflow/repository"
	"github.com/petriflow/workflow/cmd/workflow/routes"
	"github.com/petriflow/workflow/cmd/workflow/worker"
	"github.com/petriflow/workflow/common/bootstrap"
	"github.com/petriflow/workflow/common/server"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap common components (config, logger, DB, queue)
	components, err := bootstrap.Setup(ctx, "workflow",
		bootstrap.WithDBInitHook(repository.Migrate),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap workflow service: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	// Initialize Echo server
	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	// Start the queue consumers (net submission, webhook delivery)
	w := worker.New(
		components.Logger,
		components.Queue,
		serviceContainer.WorkflowService,
		serviceContainer.WebhookClient,
	)
	w.Start(ctx)

	// Start server with graceful shutdown
	srv := server.New("workflow", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(503, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"service": "workflow",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterWorkflowRoutes(e, serviceContainer)
	routes.RegisterReportRoutes(e, serviceContainer)
	routes.RegisterCallbackRoutes(e, serviceContainer)
}
