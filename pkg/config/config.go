// Package config provides configuration loading and management for dasannotate.
// It handles loading configuration from YAML or TOML files, applies
// environment overrides and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"dasannotate/internal/logging"
	"dasannotate/internal/models"
	"dasannotate/pkg/annotation"
)

// Environment variables that override file settings
const (
	EnvLogfile  = "DASANNOTATE_LOGFILE"
	EnvLogLevel = "DASANNOTATE_LOG_LEVEL"
	EnvWorkers  = "DASANNOTATE_WORKERS"
)

// Config represents the application configuration
type Config struct {
	// Display parameters applied when rendering sample data
	Display struct {
		// Abs renders sample magnitudes
		Abs bool `yaml:"abs" toml:"abs"`

		// Log applies sign-preserving log compression
		Log bool `yaml:"log" toml:"log"`

		// Heatmap selects the heatmap palette instead of inverted grayscale
		Heatmap bool `yaml:"heatmap" toml:"heatmap"`

		// MinValue and MaxValue are fractions of the element type's range
		MinValue float64 `yaml:"minValue" toml:"minValue"`
		MaxValue float64 `yaml:"maxValue" toml:"maxValue"`
	} `yaml:"display" toml:"display"`

	// Render parameters
	Render struct {
		// Workers is how many goroutines share a render
		Workers int `yaml:"workers" toml:"workers"`

		// WindowCols is the number of time samples per preview window
		WindowCols int `yaml:"windowCols" toml:"windowCols"`
	} `yaml:"render" toml:"render"`

	// Logging destination and verbosity
	Logging struct {
		Logfile string `yaml:"logfile" toml:"logfile"`
		MaxSize int    `yaml:"maxSize" toml:"max_log_size"`
		MaxAge  int    `yaml:"maxAge" toml:"max_log_age"`
		Level   string `yaml:"level" toml:"level"`
	} `yaml:"logging" toml:"logging"`

	// Annotation file parameters
	Annotation struct {
		// Version is written into saved label files
		Version string `yaml:"version" toml:"version"`
	} `yaml:"annotation" toml:"annotation"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	defaults := models.DefaultDisplayParameters()
	cfg.Display.Abs = defaults.TakeAbsoluteValue
	cfg.Display.Log = defaults.ApplyLogCompression
	cfg.Display.Heatmap = defaults.UseHeatmapPalette
	cfg.Display.MinValue = defaults.MinValue
	cfg.Display.MaxValue = defaults.MaxValue

	cfg.Render.Workers = runtime.NumCPU() // Use all available cores by default
	cfg.Render.WindowCols = 2000

	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 30
	cfg.Logging.Level = "info"

	cfg.Annotation.Version = annotation.Version

	return cfg
}

// DisplayParameters converts the display section for rendering
func (c *Config) DisplayParameters() models.DisplayParameters {
	return models.DisplayParameters{
		TakeAbsoluteValue:   c.Display.Abs,
		ApplyLogCompression: c.Display.Log,
		UseHeatmapPalette:   c.Display.Heatmap,
		MinValue:            c.Display.MinValue,
		MaxValue:            c.Display.MaxValue,
	}
}

// LogConfig converts the logging section
func (c *Config) LogConfig() logging.Config {
	return logging.Config{
		Logfile: c.Logging.Logfile,
		MaxSize: c.Logging.MaxSize,
		MaxAge:  c.Logging.MaxAge,
		Level:   c.Logging.Level,
	}
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	if err := c.DisplayParameters().Validate(); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	if c.Render.Workers < 1 {
		return fmt.Errorf("render: workers must be positive, got %d", c.Render.Workers)
	}
	if c.Render.WindowCols < 1 {
		return fmt.Errorf("render: windowCols must be positive, got %d", c.Render.WindowCols)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// isTOML reports whether the path should be read as TOML
func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by
// extension. If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides settings from environment variables
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvLogfile); ok {
		c.Logging.Logfile = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.Logging.Level = v
	}
	if v, ok := os.LookupEnv(EnvWorkers); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		c.Render.Workers = n
	}
	return nil
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	defer f.Close()

	if isTOML(configPath) {
		err = toml.NewEncoder(f).Encode(cfg)
	} else {
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		if err = enc.Encode(cfg); err == nil {
			err = enc.Close()
		}
	}
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	return f.Close()
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
