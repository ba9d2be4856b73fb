// Package config provides file-based configuration with environment overrides.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file looked up next to the executable.
const DefaultFileName = "predictform.yaml"

// AppConfig represents the root configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"PredictForm" yaml:"-"`

	// Server configuration
	Server ServerConfig `xml:"Server" yaml:"server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage" yaml:"storage"`

	// Form lifecycle configuration
	Forms FormsConfig `xml:"Forms" yaml:"forms"`

	// Prediction API configuration
	Predict PredictConfig `xml:"Predict" yaml:"predict"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced" yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port" yaml:"port"`
	BindAddress  string `xml:"BindAddress" yaml:"bind_address"`
	EnableCORS   bool   `xml:"EnableCORS" yaml:"enable_cors"`
	AllowOrigins string `xml:"AllowOrigins" yaml:"allow_origins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds" yaml:"read_timeout_seconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds" yaml:"write_timeout_seconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds" yaml:"idle_timeout_seconds"`
	BodyLimit    string `xml:"BodyLimit" yaml:"body_limit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `xml:"DataDirectory" yaml:"data_directory"`
	UploadsDirectory string `xml:"UploadsDirectory" yaml:"uploads_directory"`
}

// FormsConfig controls how long mounted forms live
type FormsConfig struct {
	MaxForms               int `xml:"MaxForms" yaml:"max_forms"`
	IdleTimeoutMinutes     int `xml:"IdleTimeoutMinutes" yaml:"idle_timeout_minutes"`
	CleanupIntervalMinutes int `xml:"CleanupIntervalMinutes" yaml:"cleanup_interval_minutes"`
}

// PredictConfig points at the remote prediction API
type PredictConfig struct {
	Endpoint string `xml:"Endpoint" yaml:"endpoint"`
	// RequestTimeoutSeconds of 0 leaves the HTTP transport default.
	RequestTimeoutSeconds int `xml:"RequestTimeoutSeconds" yaml:"request_timeout_seconds"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel" yaml:"log_level"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging" yaml:"enable_request_logging"`
	EnableMetrics        bool   `xml:"EnableMetrics" yaml:"enable_metrics"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   false,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 0,
			IdleTimeout:  120,
			BodyLimit:    "32M",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
		},
		Forms: FormsConfig{
			MaxForms:               100,
			IdleTimeoutMinutes:     30,
			CleanupIntervalMinutes: 5,
		},
		Predict: PredictConfig{
			Endpoint:              "",
			RequestTimeoutSeconds: 0,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
			EnableMetrics:        true,
		},
	}
}

// LoadConfig loads configuration from a YAML or XML file, chosen by
// extension. A missing file is created with defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := unmarshal(configPath, data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func isXML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xml")
}

func unmarshal(path string, data []byte, c *AppConfig) error {
	if isXML(path) {
		return xml.Unmarshal(data, c)
	}
	return yaml.Unmarshal(data, c)
}

// Save saves the configuration to a YAML or XML file
func (c *AppConfig) Save(configPath string) error {
	var content []byte
	if isXML(configPath) {
		output, err := xml.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		header := []byte(xml.Header + "\n<!-- PredictForm Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
		content = append(header, output...)
	} else {
		output, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		header := []byte("# PredictForm configuration\n# This file is auto-generated on first run\n\n")
		content = append(header, output...)
	}

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PREDICT_API_URL is the deploy-time endpoint
	if endpoint := os.Getenv("PREDICT_API_URL"); endpoint != "" {
		c.Predict.Endpoint = endpoint
	}

	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR moves uploads along with it
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads")
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if !filepath.IsAbs(c.Storage.UploadsDirectory) {
		c.Storage.UploadsDirectory = filepath.Join(configDir, c.Storage.UploadsDirectory)
	}
}

// Validate rejects values the server cannot run with. All problems are
// reported together.
func (c *AppConfig) Validate() error {
	var errs error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}
	if c.Forms.IdleTimeoutMinutes <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("forms idle timeout must be positive, got %d", c.Forms.IdleTimeoutMinutes))
	}
	if c.Forms.CleanupIntervalMinutes <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("forms cleanup interval must be positive, got %d", c.Forms.CleanupIntervalMinutes))
	}
	if c.Predict.RequestTimeoutSeconds < 0 {
		errs = multierror.Append(errs, fmt.Errorf("request timeout cannot be negative, got %d", c.Predict.RequestTimeoutSeconds))
	}
	return errs
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// RequestTimeout returns the outbound prediction timeout
func (c *AppConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Predict.RequestTimeoutSeconds) * time.Second
}

// IdleTimeout returns how long an untouched form stays mounted
func (c *AppConfig) IdleTimeout() time.Duration {
	return time.Duration(c.Forms.IdleTimeoutMinutes) * time.Minute
}

// CleanupInterval returns how often idle forms are swept
func (c *AppConfig) CleanupInterval() time.Duration {
	return time.Duration(c.Forms.CleanupIntervalMinutes) * time.Minute
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
