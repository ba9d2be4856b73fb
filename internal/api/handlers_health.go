// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version  string
	endpoint string
	forms    FormManager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version, endpoint string, forms FormManager) HealthHandler {
	return &HealthHandlerImpl{
		version:  version,
		endpoint: endpoint,
		forms:    forms,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":             "ok",
		"version":            h.version,
		"endpointConfigured": h.endpoint != "",
	}
	if h.forms != nil {
		resp["forms"] = h.forms.Count()
	}
	return c.JSON(http.StatusOK, resp)
}
