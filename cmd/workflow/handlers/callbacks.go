package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/petriflow/workflow/cmd/workflow/service"
	"github.com/petriflow/workflow/common/logger"
)

// CallbackHandler receives the Petri engine's and the executor's callbacks.
// A non-2xx response makes the engine redeliver, so any failure after the
// bind step returns an error status.
type CallbackHandler struct {
	log        *logger.Logger
	dispatcher *service.Dispatcher
}

// NewCallbackHandler creates a callback handler
func NewCallbackHandler(log *logger.Logger, dispatcher *service.Dispatcher) *CallbackHandler {
	return &CallbackHandler{
		log:        log,
		dispatcher: dispatcher,
	}
}

// NodeEvent applies a node-level event
// PUT /v1/callbacks/nodes/:id/events/:event
func (h *CallbackHandler) NodeEvent(c echo.Context) error {
	nodeID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid node id",
		})
	}
	event := c.Param("event")

	var payload service.CallbackPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid callback payload",
		})
	}

	methodName := c.QueryParam("method")

	if err := h.dispatcher.HandleNodeEvent(c.Request().Context(), nodeID, event, &payload, methodName); err != nil {
		h.log.Error("node callback failed",
			"node_id", nodeID,
			"event", event,
			"color", payload.Color,
			"error", err,
		)
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"handled": event,
	})
}

// MethodEvent applies a method-level event
// PUT /v1/callbacks/methods/:id/events/:event
func (h *CallbackHandler) MethodEvent(c echo.Context) error {
	methodID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid method id",
		})
	}
	event := c.Param("event")

	var payload service.CallbackPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid callback payload",
		})
	}

	if err := h.dispatcher.HandleMethodEvent(c.Request().Context(), methodID, event, &payload); err != nil {
		h.log.Error("method callback failed",
			"method_id", methodID,
			"event", event,
			"color", payload.Color,
			"error", err,
		)
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"handled": event,
	})
}
