package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	e := echo.New()
	require.NoError(t, RegisterStaticRoutes(e))
	return e
}

func TestHasEmbeddedFiles(t *testing.T) {
	assert.True(t, HasEmbeddedFiles())
}

func TestIndexPage(t *testing.T) {
	e := newTestServer(t)

	for _, path := range []string{"/", "/index.html", "/some/client/route"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

			require.Equal(t, http.StatusOK, rec.Code)
			body := rec.Body.String()
			assert.Contains(t, body, "Number Prediction")
			assert.Contains(t, body, "Upload an image:")
			assert.Contains(t, body, `accept="image/*" required`)
			assert.Contains(t, body, "Predict</button>")
			assert.Contains(t, body, "Image Preview")
			assert.Contains(t, body, `<pre id="response">No response yet...</pre>`)
			assert.Contains(t, body, `<p id="shape-note" class="shape-note" hidden></p>`)
		})
	}
}

func TestStaticAssets(t *testing.T) {
	e := newTestServer(t)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "'/api/forms'")
}

func TestScriptShowsShapeNote(t *testing.T) {
	e := newTestServer(t)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "getElementById('shape-note')")
	assert.Contains(t, body, "renderShape(state.responseShape)")
	assert.Contains(t, body, "shape === 'array' || shape === 'scalar'")
	assert.Contains(t, body, "'Unexpected response shape: '")
}

func TestUnknownAPIPathIsNotFound(t *testing.T) {
	e := newTestServer(t)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
