package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/petriflow/workflow/cmd/workflow/models"
)

// writeError maps the typed error taxonomy onto HTTP statuses
func writeError(c echo.Context, err error) error {
	var (
		nonUnique *models.NonUniqueNameError
		missing   *models.MissingInputsError
		invalid   *models.InvalidLinksError
		noEntity  *models.NoSuchEntityError
		update    *models.UpdateError
		integrity *models.UnknownIntegrityError
	)

	switch {
	case errors.As(err, &nonUnique):
		return c.JSON(http.StatusConflict, errorBody(err))
	case errors.As(err, &missing):
		return c.JSON(http.StatusBadRequest, errorBody(err))
	case errors.As(err, &invalid):
		return c.JSON(http.StatusBadRequest, errorBody(err))
	case errors.As(err, &noEntity):
		return c.JSON(http.StatusNotFound, errorBody(err))
	case errors.As(err, &update):
		return c.JSON(http.StatusConflict, errorBody(err))
	case errors.As(err, &integrity):
		return c.JSON(http.StatusInternalServerError, errorBody(err))
	default:
		return c.JSON(http.StatusInternalServerError, errorBody(err))
	}
}

func errorBody(err error) map[string]interface{} {
	return map[string]interface{}{
		"error": err.Error(),
	}
}
