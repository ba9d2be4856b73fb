// handlers_form_test.go - Tests for form handlers
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/predictform/server/internal/form"
	"github.com/predictform/server/internal/models"
	"github.com/predictform/server/internal/predict"
	"github.com/predictform/server/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type testEnv struct {
	e      *echo.Echo
	forms  *form.Manager
	store  *testutil.MockStorage
	server *testutil.PredictServer
}

func newTestEnv(t *testing.T, handler http.HandlerFunc) *testEnv {
	t.Helper()
	server := testutil.NewPredictServer(handler)
	t.Cleanup(server.Close)

	client, err := predict.New(predict.Config{Endpoint: server.Endpoint()})
	require.NoError(t, err)

	store := testutil.NewMockStorage()
	forms := form.NewManager(form.Config{Store: store, Predictor: client})

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	RegisterRoutes(e, NewHandlers(&Dependencies{
		Forms:    forms,
		Endpoint: client.Endpoint(),
		Version:  "test",
	}))

	return &testEnv{e: e, forms: forms, store: store, server: server}
}

func (env *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) mount(t *testing.T) models.FormState {
	t.Helper()
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/forms", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	return decodeState(t, rec)
}

func (env *testEnv) selectFile(t *testing.T, id, field, name, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, name))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	part.Write(data)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/forms/"+id+"/file", body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	return env.do(req)
}

func (env *testEnv) submit(t *testing.T, id string) models.FormState {
	t.Helper()
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/forms/"+id+"/submit", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeState(t, rec)
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) models.FormState {
	t.Helper()
	var state models.FormState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	return state
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D}

func TestFormHandler_Mount(t *testing.T) {
	env := newTestEnv(t, testutil.RespondJSON(http.StatusOK, `{}`))

	state := env.mount(t)

	assert.NotEmpty(t, state.ID)
	assert.Equal(t, models.FormStatusIdle, state.Status)
	assert.Equal(t, "No response yet...", state.ResponseText)
	assert.Nil(t, state.Preview)
	assert.Equal(t, 1, env.forms.Count())
}

func TestFormHandler_SubmitWithoutFile(t *testing.T) {
	env := newTestEnv(t, testutil.RespondJSON(http.StatusOK, `{"digit": 3}`))
	state := env.mount(t)

	state = env.submit(t, state.ID)

	assert.Equal(t, "Please select a file first.", state.ResponseText)
	assert.Equal(t, 0, env.server.Requests())
}

func TestFormHandler_SelectPreviewSubmit(t *testing.T) {
	var gotName, gotType string
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("image")
		if assert.NoError(t, err) {
			gotName = header.Filename
			gotType = header.Header.Get("Content-Type")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"prediction":7,"confidence":0.93}`))
	})
	state := env.mount(t)

	rec := env.selectFile(t, state.ID, "image", "seven.png", "image/png", pngBytes)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	state = decodeState(t, rec)
	require.NotNil(t, state.Preview)
	require.NotNil(t, state.File)
	assert.Equal(t, "seven.png", state.File.Name)
	assert.Equal(t, fmt.Sprintf("/api/forms/%s/preview/%s", state.ID, state.Preview.Ref), state.Preview.URL)

	// Preview serves the selected bytes
	rec = env.do(httptest.NewRequest(http.MethodGet, state.Preview.URL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, pngBytes, rec.Body.Bytes())

	state = env.submit(t, state.ID)
	assert.Equal(t, models.FormStatusSuccess, state.Status)
	assert.Equal(t, "{\n  \"prediction\": 7,\n  \"confidence\": 0.93\n}", state.ResponseText)
	assert.Equal(t, models.ShapeObject, state.ResponseShape)
	assert.Equal(t, "seven.png", gotName)
	assert.Equal(t, "image/png", gotType)
	assert.Equal(t, 1, env.server.Requests())
}

func TestFormHandler_SubmitServerError(t *testing.T) {
	env := newTestEnv(t, testutil.RespondJSON(http.StatusInternalServerError, `{"error":"boom"}`))
	state := env.mount(t)
	env.selectFile(t, state.ID, "image", "a.png", "image/png", pngBytes)

	state = env.submit(t, state.ID)

	assert.Equal(t, models.FormStatusFailure, state.Status)
	assert.Equal(t, "Error: Error: 500", state.ResponseText)
}

func TestFormHandler_SubmitConnectionReset(t *testing.T) {
	env := newTestEnv(t, testutil.ResetConnection)
	state := env.mount(t)
	env.selectFile(t, state.ID, "image", "a.png", "image/png", pngBytes)

	state = env.submit(t, state.ID)

	assert.Equal(t, models.FormStatusFailure, state.Status)
	assert.Contains(t, state.ResponseText, "Error: ")
	assert.NotEqual(t, "Error: ", state.ResponseText)
}

func TestFormHandler_ReselectRevokesPreview(t *testing.T) {
	env := newTestEnv(t, testutil.RespondJSON(http.StatusOK, `{}`))
	state := env.mount(t)

	first := decodeState(t, env.selectFile(t, state.ID, "image", "a.png", "image/png", pngBytes))
	second := decodeState(t, env.selectFile(t, state.ID, "image", "b.jpg", "image/jpeg", []byte{0xFF, 0xD8, 0xFF}))

	rec := env.do(httptest.NewRequest(http.MethodGet, first.Preview.URL, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, second.Preview.URL, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.store.GetFileCount())
}

func TestFormHandler_SelectFileErrors(t *testing.T) {
	env := newTestEnv(t, testutil.RespondJSON(http.StatusOK, `{}`))
	state := env.mount(t)

	tests := []struct {
		name       string
		id         string
		field      string
		wantStatus int
		wantCode   string
	}{
		{"wrong field", state.ID, "file", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown form", "missing", "image", http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.selectFile(t, tt.id, tt.field, "a.png", "image/png", pngBytes)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeAPIError(t, rec).Code)
		})
	}
}

func TestFormHandler_Unmount(t *testing.T) {
	env := newTestEnv(t, testutil.RespondJSON(http.StatusOK, `{}`))
	state := env.mount(t)
	state = decodeState(t, env.selectFile(t, state.ID, "image", "a.png", "image/png", pngBytes))

	rec := env.do(httptest.NewRequest(http.MethodDelete, "/api/forms/"+state.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, state.Preview.URL, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/forms/"+state.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeAPIError(t, rec).Code)

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/forms/"+state.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, env.store.GetFileCount())
}

func TestFormHandler_StateMsgpack(t *testing.T) {
	env := newTestEnv(t, testutil.RespondJSON(http.StatusOK, `[1, 2]`))
	state := env.mount(t)
	env.selectFile(t, state.ID, "image", "a.png", "image/png", pngBytes)
	env.submit(t, state.ID)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/forms/"+state.ID+"/state/msgpack", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get(echo.HeaderContentType))

	var decoded models.FormState
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, state.ID, decoded.ID)
	assert.Equal(t, "[\n  1,\n  2\n]", decoded.ResponseText)
	assert.Equal(t, models.ShapeArray, decoded.ResponseShape)
}

func TestHealthHandler(t *testing.T) {
	t.Run("endpoint configured", func(t *testing.T) {
		env := newTestEnv(t, testutil.RespondJSON(http.StatusOK, `{}`))
		env.mount(t)

		rec := env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "test", body["version"])
		assert.Equal(t, true, body["endpointConfigured"])
		assert.Equal(t, float64(1), body["forms"])
	})

	t.Run("no endpoint", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		require.NoError(t, NewHealthHandler("dev", "", nil).HandleHealth(c))

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, false, body["endpointConfigured"])
		assert.NotContains(t, body, "forms")
	})
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"api error", NewNotFoundError("form", "x"), http.StatusNotFound, "NOT_FOUND"},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, "HTTP_ERROR"},
		{"plain error", io.ErrUnexpectedEOF, http.StatusInternalServerError, "UNKNOWN_ERROR"},
		{"too many forms", formError(form.ErrTooManyForms, ""), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			ErrorHandler(tt.err, c)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeAPIError(t, rec).Code)
		})
	}
}
