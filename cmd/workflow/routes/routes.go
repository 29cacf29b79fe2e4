package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/petriflow/workflow/cmd/workflow/container"
	"github.com/petriflow/workflow/cmd/workflow/handlers"
)

// RegisterWorkflowRoutes registers the workflow lifecycle routes
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWorkflowHandler(c.Components.Logger, c.Components.Config, c.WorkflowService)

	wf := e.Group("/v1/workflows")
	{
		wf.POST("", h.CreateWorkflow)       // POST /v1/workflows
		wf.GET("", h.ListWorkflows)         // GET /v1/workflows?name=x
		wf.GET("/:id", h.GetWorkflow)       // GET /v1/workflows/:id
		wf.PATCH("", h.PatchWorkflow)       // PATCH /v1/workflows?name=x
		wf.PATCH("/:id", h.PatchWorkflow)   // PATCH /v1/workflows/:id
		wf.DELETE("/:id", h.DeleteWorkflow) // DELETE /v1/workflows/:id
	}
}

// RegisterReportRoutes registers the report routes
func RegisterReportRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewReportHandler(c.Components.Logger, c.ReportService)

	e.GET("/v1/reports/:report", h.GetReport)
}

// RegisterCallbackRoutes registers the Petri engine callback routes
func RegisterCallbackRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewCallbackHandler(c.Components.Logger, c.Dispatcher)

	e.PUT("/v1/callbacks/nodes/:id/events/:event", h.NodeEvent)
	e.PUT("/v1/callbacks/methods/:id/events/:event", h.MethodEvent)
}
