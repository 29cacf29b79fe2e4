package handlers

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/petriflow/workflow/cmd/workflow/models"
	"github.com/petriflow/workflow/cmd/workflow/service"
	"github.com/petriflow/workflow/common/config"
	"github.com/petriflow/workflow/common/logger"
)

// WorkflowHandler handles the workflow lifecycle endpoints
type WorkflowHandler struct {
	log       *logger.Logger
	cfg       *config.Config
	workflows *service.WorkflowService
}

// NewWorkflowHandler creates a workflow handler
func NewWorkflowHandler(log *logger.Logger, cfg *config.Config, workflows *service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{
		log:       log,
		cfg:       cfg,
		workflows: workflows,
	}
}

// CreateWorkflow creates a new workflow
// POST /v1/workflows
func (h *WorkflowHandler) CreateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var def models.WorkflowDefinition
	if err := c.Bind(&def); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	if len(def.Tasks) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "tasks are required",
		})
	}

	wf, err := h.workflows.Create(ctx, &def)
	if err != nil {
		h.log.Error("failed to create workflow", "error", err)
		return writeError(c, err)
	}

	c.Response().Header().Set("Location", fmt.Sprintf("/v1/workflows/%s", wf.ID))

	body := map[string]interface{}{
		"id":      wf.ID,
		"status":  wf.Status,
		"reports": h.reportURLs(wf.ID),
	}
	if wf.Name != nil {
		body["name"] = *wf.Name
	}

	return c.JSON(http.StatusCreated, body)
}

// GetWorkflow retrieves a workflow by id
// GET /v1/workflows/:id
func (h *WorkflowHandler) GetWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid workflow id",
		})
	}

	wf, err := h.workflows.Get(ctx, id)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, workflowBody(wf))
}

// ListWorkflows retrieves a workflow by name
// GET /v1/workflows?name=<n>
func (h *WorkflowHandler) ListWorkflows(c echo.Context) error {
	ctx := c.Request().Context()

	name := c.QueryParam("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "name query parameter is required",
		})
	}

	wf, err := h.workflows.GetByName(ctx, name)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, workflowBody(wf))
}

// PatchWorkflow cancels a workflow
// PATCH /v1/workflows/:id with {"is_canceled": true}
func (h *WorkflowHandler) PatchWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := h.resolveID(c)
	if err != nil {
		return writeError(c, err)
	}

	var body struct {
		IsCanceled bool `json:"is_canceled"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	if !body.IsCanceled {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "is_canceled is the only supported field",
		})
	}

	if err := h.workflows.Cancel(ctx, id); err != nil {
		h.log.Error("failed to cancel workflow", "workflow_id", id, "error", err)
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": models.WorkflowCanceled,
	})
}

// DeleteWorkflow removes a workflow and everything it owns
// DELETE /v1/workflows/:id
func (h *WorkflowHandler) DeleteWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid workflow id",
		})
	}

	if err := h.workflows.Delete(ctx, id); err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"deleted": true,
	})
}

// resolveID resolves the workflow from the path id or, for collection-level
// calls, the name query parameter.
func (h *WorkflowHandler) resolveID(c echo.Context) (uuid.UUID, error) {
	if raw := c.Param("id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, &models.NoSuchEntityError{Kind: "workflow", ID: raw}
		}
		return id, nil
	}

	name := c.QueryParam("name")
	if name == "" {
		return uuid.Nil, &models.NoSuchEntityError{Kind: "workflow", ID: ""}
	}

	wf, err := h.workflows.GetByName(c.Request().Context(), name)
	if err != nil {
		return uuid.Nil, err
	}
	return wf.ID, nil
}

func (h *WorkflowHandler) reportURLs(id uuid.UUID) map[string]string {
	base := h.cfg.SelfURL()
	reports := make(map[string]string)
	for _, name := range []string{
		"workflow-status",
		"workflow-details",
		"workflow-skeleton",
		"workflow-outputs",
		"workflow-executions",
	} {
		reports[name] = fmt.Sprintf("%s/v1/reports/%s?workflow_id=%s", base, name, id)
	}
	return reports
}

func workflowBody(wf *models.Workflow) map[string]interface{} {
	body := map[string]interface{}{
		"id":     wf.ID,
		"status": wf.Status,
	}
	if wf.Name != nil {
		body["name"] = *wf.Name
	}
	return body
}
