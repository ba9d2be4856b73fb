// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"io"

	"github.com/labstack/echo/v4"
	"github.com/predictform/server/internal/models"
)

// FormHandler handles upload form operations
type FormHandler interface {
	HandleMount(c echo.Context) error
	HandleGetState(c echo.Context) error
	HandleGetStateMsgpack(c echo.Context) error
	HandleSelectFile(c echo.Context) error
	HandlePreview(c echo.Context) error
	HandleSubmit(c echo.Context) error
	HandleUnmount(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// StateStreamHandler pushes form state over a websocket
type StateStreamHandler interface {
	HandleStateStream(c echo.Context) error
}

// FormManager defines the interface for form management
// This allows mocking in tests
type FormManager interface {
	Mount() (*models.FormState, error)
	State(id string) (*models.FormState, error)
	Touch(id string) bool
	Count() int
	SelectFile(id, name, contentType string, r io.Reader) (*models.FormState, error)
	Submit(ctx context.Context, id string) (*models.FormState, error)
	Preview(id, ref string) (io.ReadCloser, *models.FileInfo, error)
	Unmount(id string) error
	Subscribe(id string) (<-chan models.FormState, func(), error)
}
