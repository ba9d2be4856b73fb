// routes.go - Route registration helpers
package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/predictform/server/internal/config"
	"github.com/predictform/server/internal/metrics"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Forms    FormManager
	Endpoint string
	Version  string
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Form   FormHandler
	Stream StateStreamHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health: NewHealthHandler(deps.Version, deps.Endpoint, deps.Forms),
		Form:   NewFormHandler(deps.Forms),
		Stream: NewWebSocketHandler(deps.Forms),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Form routes
	formGroup := apiGroup.Group("/forms")
	formGroup.POST("", handlers.Form.HandleMount)
	formGroup.GET("/:id", handlers.Form.HandleGetState)
	formGroup.GET("/:id/state/msgpack", handlers.Form.HandleGetStateMsgpack)
	formGroup.POST("/:id/file", handlers.Form.HandleSelectFile)
	formGroup.GET("/:id/preview/:ref", handlers.Form.HandlePreview)
	formGroup.POST("/:id/submit", handlers.Form.HandleSubmit)
	formGroup.DELETE("/:id", handlers.Form.HandleUnmount)

	// WebSocket state stream
	formGroup.GET("/:id/ws", handlers.Stream.HandleStateStream)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg *config.AppConfig) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" || path == "/metrics" || strings.HasSuffix(path, "/ws")
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
	}))

	// Body limit middleware
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}

// RegisterMetricsRoute exposes Prometheus metrics
func RegisterMetricsRoute(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}
