// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the lspengine YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/lspengine/pkg/logging"
)

// ErrConfigNotFound is returned by Load when an explicit path does not exist.
var ErrConfigNotFound = errors.New("config file not found")

// =============================================================================
// Shared Validator Instance
// =============================================================================

// configValidate is the validator instance for Config.
// Initialized in init() with custom validators.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("loglevel", validateLogLevel)
}

// validateLogLevel accepts any name understood by logging.ParseLevel.
func validateLogLevel(fl validator.FieldLevel) bool {
	_, err := logging.ParseLevel(fl.Field().String())
	return err == nil
}

// =============================================================================
// Types
// =============================================================================

// Config is the full lspengine configuration.
type Config struct {
	// Server selects and launches the language server.
	Server ServerConfig `yaml:"server"`

	// Engine tunes the protocol engine.
	Engine EngineConfig `yaml:"engine"`

	// Logging configures the log sink.
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry configures tracing and metrics exporters.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// HTTP configures the serve command.
	HTTP HTTPConfig `yaml:"http"`

	// Watch configures the watch command.
	Watch WatchConfig `yaml:"watch"`
}

// ServerConfig describes the language server process. When Command is
// empty the preset for LanguageID is used.
type ServerConfig struct {
	LanguageID    string   `yaml:"language_id" validate:"required_without=Command"`
	Command       string   `yaml:"command,omitempty"`
	Args          []string `yaml:"args,omitempty"`
	WorkingDir    string   `yaml:"working_dir,omitempty"`
	Env           []string `yaml:"env,omitempty"`
	RootDirectory string   `yaml:"root_directory,omitempty"`
}

// EngineConfig mirrors the tunables of lsp.ClientConfig.
type EngineConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	MaxFrameSize   int           `yaml:"max_frame_size" validate:"gte=0"`
	MaxBufferSize  int           `yaml:"max_buffer_size" validate:"gte=0"`
	QueueSize      int           `yaml:"queue_size" validate:"gte=1"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"loglevel"`
	JSON   bool   `yaml:"json"`
	LogDir string `yaml:"log_dir,omitempty"`
	Quiet  bool   `yaml:"quiet"`
}

// TelemetryConfig selects OpenTelemetry exporters.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" validate:"required"`
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty" validate:"required_if=TraceExporter otlp"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
}

// HTTPConfig configures the HTTP host surface.
type HTTPConfig struct {
	Addr  string `yaml:"addr" validate:"required,hostname_port"`
	Debug bool   `yaml:"debug"`
}

// WatchConfig configures the file watcher.
type WatchConfig struct {
	Debounce          time.Duration `yaml:"debounce" validate:"gte=0"`
	Ignore            []string      `yaml:"ignore,omitempty"`
	Extensions        []string      `yaml:"extensions,omitempty"`
	MaxSyncsPerSecond float64       `yaml:"max_syncs_per_second" validate:"gt=0"`
	Burst             int           `yaml:"burst" validate:"gte=1"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			LanguageID: "go",
		},
		Engine: EngineConfig{
			RequestTimeout: 10 * time.Second,
			MaxFrameSize:   64 << 20,
			MaxBufferSize:  128 << 20,
			QueueSize:      256,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "lspengine",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:12230",
		},
		Watch: WatchConfig{
			Debounce:          200 * time.Millisecond,
			Ignore:            []string{".git", "node_modules", "vendor", "target", "dist", "build"},
			MaxSyncsPerSecond: 20,
			Burst:             10,
		},
	}
}

// DefaultPath returns ~/.lspengine/lspengine.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".lspengine", "lspengine.yaml"), nil
}

// =============================================================================
// Loading
// =============================================================================

// Load reads and validates a configuration file.
//
// Description:
//
//	Values in the file override DefaultConfig field by field. An empty path
//	uses DefaultPath and falls back to the defaults when that file does not
//	exist. An explicit path that does not exist is an error.
//
// Outputs:
//
//	Config - The merged configuration
//	error - ErrConfigNotFound, a YAML error or a validation error
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return cfg, nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read the config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks every field against its validate tag.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LogLevel returns the parsed logging level.
func (c Config) LogLevel() logging.Level {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}

// LoggerConfig converts the logging section into a logging.Config.
func (c Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:   c.LogLevel(),
		LogDir:  c.Logging.LogDir,
		Service: c.Telemetry.ServiceName,
		JSON:    c.Logging.JSON,
		Quiet:   c.Logging.Quiet,
	}
}
