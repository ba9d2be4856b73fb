// handlers_form.go - Upload form operation handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/predictform/server/internal/predict"
	"github.com/vmihailenco/msgpack/v5"
)

// FormHandlerImpl implements the FormHandler interface
type FormHandlerImpl struct {
	forms FormManager
}

// NewFormHandler creates a new form handler instance
func NewFormHandler(forms FormManager) FormHandler {
	return &FormHandlerImpl{forms: forms}
}

// HandleMount creates a new form for a freshly loaded page
func (h *FormHandlerImpl) HandleMount(c echo.Context) error {
	state, err := h.forms.Mount()
	if err != nil {
		return formError(err, "")
	}
	return c.JSON(http.StatusCreated, state)
}

// HandleGetState returns the current form snapshot
func (h *FormHandlerImpl) HandleGetState(c echo.Context) error {
	id := c.Param("id")
	state, err := h.forms.State(id)
	if err != nil {
		return formError(err, id)
	}
	return c.JSON(http.StatusOK, state)
}

// HandleGetStateMsgpack returns the current form snapshot as msgpack
func (h *FormHandlerImpl) HandleGetStateMsgpack(c echo.Context) error {
	id := c.Param("id")
	state, err := h.forms.State(id)
	if err != nil {
		return formError(err, id)
	}

	data, err := msgpack.Marshal(state)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleSelectFile accepts the chosen image (multipart/form-data, field "image")
func (h *FormHandlerImpl) HandleSelectFile(c echo.Context) error {
	id := c.Param("id")

	file, err := c.FormFile(predict.FieldName)
	if err != nil {
		return NewValidationError(predict.FieldName)
	}

	src, err := file.Open()
	if err != nil {
		return NewBadRequestError("failed to open uploaded file", err)
	}
	defer src.Close()

	state, err := h.forms.SelectFile(id, file.Filename, file.Header.Get(echo.HeaderContentType), src)
	if err != nil {
		return formError(err, id)
	}
	return c.JSON(http.StatusOK, state)
}

// HandlePreview streams the bytes behind a live preview reference
func (h *FormHandlerImpl) HandlePreview(c echo.Context) error {
	id := c.Param("id")
	ref := c.Param("ref")

	rc, info, err := h.forms.Preview(id, ref)
	if err != nil {
		return formError(err, ref)
	}
	defer rc.Close()

	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Stream(http.StatusOK, info.ContentType, rc)
}

// HandleSubmit sends the selected file to the prediction API. Prediction
// failures are reported in the returned snapshot, not as HTTP errors.
func (h *FormHandlerImpl) HandleSubmit(c echo.Context) error {
	id := c.Param("id")
	state, err := h.forms.Submit(c.Request().Context(), id)
	if err != nil {
		return formError(err, id)
	}
	return c.JSON(http.StatusOK, state)
}

// HandleUnmount revokes the preview and forgets the form
func (h *FormHandlerImpl) HandleUnmount(c echo.Context) error {
	id := c.Param("id")
	if err := h.forms.Unmount(id); err != nil {
		return formError(err, id)
	}
	return c.NoContent(http.StatusNoContent)
}
