package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical service defaults file.
const DefaultConfigPath = "config/calibration.defaults.json"

// ServiceConfig is the root configuration for the calibration service. All
// fields are pointers so a partial JSON file only overrides what it names;
// the Get* accessors supply defaults for anything left unset.
type ServiceConfig struct {
	// HTTP server params
	Listen *string `json:"listen,omitempty"`

	// Storage params
	DatabasePath *string `json:"database_path,omitempty"`

	// Calibration params
	Units        *string `json:"units,omitempty"`
	LimitToRange *bool   `json:"limit_to_range,omitempty"`

	// Serial capture params (optional; capture is off when no port is set)
	CapturePort  *string `json:"capture_port,omitempty"`
	CaptureBaud  *int    `json:"capture_baud,omitempty"`
	CaptureTable *string `json:"capture_table,omitempty"`
}

// EmptyServiceConfig returns a ServiceConfig with all fields set to nil.
func EmptyServiceConfig() *ServiceConfig {
	return &ServiceConfig{}
}

// LoadServiceConfig loads a ServiceConfig from a JSON file. The file must
// have a .json extension and be under the max file size. Fields omitted from
// the JSON retain their defaults, so partial configs are safe.
func LoadServiceConfig(path string) (*ServiceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyServiceConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *ServiceConfig) Validate() error {
	if c.Listen != nil && *c.Listen == "" {
		return fmt.Errorf("listen must not be empty when set")
	}

	if c.DatabasePath != nil && *c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty when set")
	}

	if c.CaptureBaud != nil {
		if *c.CaptureBaud <= 0 {
			return fmt.Errorf("capture_baud must be positive, got %d", *c.CaptureBaud)
		}
	}

	// A capture table only makes sense together with a capture port
	if c.CaptureTable != nil && *c.CaptureTable != "" {
		if c.CapturePort == nil || *c.CapturePort == "" {
			return fmt.Errorf("capture_table set but capture_port is not")
		}
	}

	return nil
}

// GetListen returns the HTTP listen address or the default.
func (c *ServiceConfig) GetListen() string {
	if c.Listen == nil {
		return ":8080" // default
	}
	return *c.Listen
}

// GetDatabasePath returns the sqlite database path or the default.
func (c *ServiceConfig) GetDatabasePath() string {
	if c.DatabasePath == nil {
		return "calibration.db" // default
	}
	return *c.DatabasePath
}

// GetUnits returns the display units label or the default.
func (c *ServiceConfig) GetUnits() string {
	if c.Units == nil || *c.Units == "" {
		return "raw" // default
	}
	return *c.Units
}

// GetLimitToRange returns whether new tables clamp to the calibration range
// by default instead of extrapolating.
func (c *ServiceConfig) GetLimitToRange() bool {
	if c.LimitToRange == nil {
		return false // default: extrapolate
	}
	return *c.LimitToRange
}

// GetCapturePort returns the serial capture port, or "" when capture is off.
func (c *ServiceConfig) GetCapturePort() string {
	if c.CapturePort == nil {
		return ""
	}
	return *c.CapturePort
}

// GetCaptureBaud returns the serial capture baud rate or the default.
func (c *ServiceConfig) GetCaptureBaud() int {
	if c.CaptureBaud == nil {
		return 115200 // default
	}
	return *c.CaptureBaud
}

// GetCaptureTable returns the name of the table capture samples append to.
func (c *ServiceConfig) GetCaptureTable() string {
	if c.CaptureTable == nil || *c.CaptureTable == "" {
		return "capture" // default
	}
	return *c.CaptureTable
}
