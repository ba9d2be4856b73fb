package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/predictform/server/internal/api"
	"github.com/predictform/server/internal/config"
	"github.com/predictform/server/internal/form"
	"github.com/predictform/server/internal/predict"
	"github.com/predictform/server/internal/storage"
	"github.com/predictform/server/internal/web"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	exeDir := filepath.Dir(exePath)

	configPath := flag.String("config", filepath.Join(exeDir, config.DefaultFileName), "path to YAML or XML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level := parseLogLevel(cfg.Advanced.LogLevel)
	log.SetLevel(level)
	api.ShowErrorDetails = level == log.DEBUG

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	// Initialize storage
	fileStore, err := storage.NewLocalStore(cfg.GetUploadDir())
	if err != nil {
		fmt.Printf("Failed to initialize storage: %v\n", err)
		os.Exit(1)
	}

	client, err := predict.New(predict.Config{
		Endpoint: cfg.Predict.Endpoint,
		Timeout:  cfg.RequestTimeout(),
	})
	if err != nil {
		fmt.Printf("Invalid prediction endpoint: %v\n", err)
		os.Exit(1)
	}
	if client.Endpoint() == "" {
		log.Warnf("no prediction endpoint configured; set predict.endpoint or PREDICT_API_URL")
	}

	forms := form.NewManager(form.Config{
		Store:     fileStore,
		Predictor: client,
		MaxForms:  cfg.Forms.MaxForms,
	})

	// Start background form cleanup
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval())
		defer ticker.Stop()
		for range ticker.C {
			if n := forms.CleanupIdle(cfg.IdleTimeout()); n > 0 {
				log.Infof("cleaned up %d idle forms", n)
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(level)

	api.SetupMiddleware(e, cfg)
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Forms:    forms,
		Endpoint: client.Endpoint(),
		Version:  Version,
	}))

	if cfg.Advanced.EnableMetrics {
		api.RegisterMetricsRoute(e)
	}

	embeddedMode := web.HasEmbeddedFiles()
	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			fmt.Printf("Warning: failed to register static routes: %v\n", err)
		}
	}

	// Configure server with settings from config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	endpoint := client.Endpoint()
	if endpoint == "" {
		endpoint = "(not configured)"
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Number Prediction Server                        ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", *configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("║  Predict:   %-46s║\n", endpoint)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	if embeddedMode {
		fmt.Printf("Open http://localhost:%d in your browser\n\n", cfg.Server.Port)
	}

	e.Logger.Fatal(e.StartServer(s))
}

func parseLogLevel(s string) log.Lvl {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}
