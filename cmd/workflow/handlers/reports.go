package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/petriflow/workflow/cmd/workflow/service"
	"github.com/petriflow/workflow/common/logger"
)

// ReportHandler handles the report endpoints
type ReportHandler struct {
	log     *logger.Logger
	reports *service.ReportService
}

// NewReportHandler creates a report handler
func NewReportHandler(log *logger.Logger, reports *service.ReportService) *ReportHandler {
	return &ReportHandler{
		log:     log,
		reports: reports,
	}
}

// GetReport answers one of the named reports
// GET /v1/reports/:report?workflow_id=<id>[&since=<timestamp>]
func (h *ReportHandler) GetReport(c echo.Context) error {
	ctx := c.Request().Context()

	workflowID, err := uuid.Parse(c.QueryParam("workflow_id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "workflow_id query parameter is required",
		})
	}

	switch c.Param("report") {
	case "workflow-status":
		result, err := h.reports.Status(ctx, workflowID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, result)

	case "workflow-skeleton":
		result, err := h.reports.Skeleton(ctx, workflowID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, result)

	case "workflow-details":
		result, err := h.reports.Details(ctx, workflowID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, result)

	case "workflow-outputs":
		result, err := h.reports.Outputs(ctx, workflowID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, result)

	case "workflow-executions":
		var since *time.Time
		if raw := c.QueryParam("since"); raw != "" {
			parsed, err := time.Parse(service.TimestampLayout, raw)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]interface{}{
					"error": "since must use the format " + service.TimestampLayout,
				})
			}
			since = &parsed
		}

		result, err := h.reports.Executions(ctx, workflowID, since)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, result)

	default:
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "unknown report",
		})
	}
}
