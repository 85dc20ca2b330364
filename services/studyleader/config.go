// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package studyleader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/studyleader/services/studyleader/telemetry"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds the study leader service configuration.
//
// # Description
//
// Values are layered: DefaultConfig, then an optional YAML file, then the
// environment. LoadConfig validates the result; New only fills defaults.
//
// # Examples
//
//	port: 3000
//	public_url: https://study.example.com
//	assistant:
//	  name: Daan-GPT
//	  model: gpt-4
//	poll:
//	  interval: 5s
//	  timeout: 5m
type Config struct {
	// Port is the HTTP listen port. Default: 3000
	Port int `yaml:"port" validate:"gte=1,lte=65535"`

	// PublicURL prefixes the session URLs handed to clients.
	// Default: http://localhost:<port>
	PublicURL string `yaml:"public_url" validate:"required,url"`

	// GinMode is "debug", "release" or "test". Empty keeps gin's default.
	GinMode string `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`

	// ShutdownTimeout bounds the HTTP drain on shutdown. Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	OpenAI    OpenAIConfig    `yaml:"openai"`
	Assistant AssistantConfig `yaml:"assistant"`
	Poll      PollConfig      `yaml:"poll"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// OpenAIConfig configures the remote assistants API.
type OpenAIConfig struct {
	// APIKey is normally supplied through OPENAI_API_KEY or a secret file.
	APIKey string `yaml:"api_key" validate:"required"`

	// BaseURL overrides the API root, e.g. for a proxy.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// RequestsPerSecond caps outbound calls. 0 disables the limit.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`

	// Burst is the limiter burst size. Default: 1 when limited.
	Burst int `yaml:"burst" validate:"gte=0"`
}

// AssistantConfig is the template for every session's remote agent.
type AssistantConfig struct {
	Name  string `yaml:"name" validate:"required"`
	Model string `yaml:"model" validate:"required"`
}

// PollConfig controls run polling.
type PollConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
	Timeout  time.Duration `yaml:"timeout" validate:"gtfield=Interval"`
}

// TelemetryConfig selects OpenTelemetry exporters.
type TelemetryConfig struct {
	TracesExporter  string `yaml:"traces_exporter" validate:"oneof=none otlp stdout"`
	MetricsExporter string `yaml:"metrics_exporter" validate:"oneof=none prometheus stdout"`
	OTLPEndpoint    string `yaml:"otlp_endpoint" validate:"required_if=TracesExporter otlp"`
	Environment     string `yaml:"environment"`
}

// LoggingConfig controls pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`

	// JSON forces JSON output even on a terminal.
	JSON bool `yaml:"json"`

	// Dir enables a daily JSON log file in this directory.
	Dir string `yaml:"dir"`
}

// DefaultConfig returns the built-in defaults. PublicURL and the API key
// have no default. Telemetry defaults come from telemetry.DefaultConfig.
func DefaultConfig() Config {
	td := telemetry.DefaultConfig()
	return Config{
		Port:            3000,
		ShutdownTimeout: 15 * time.Second,
		Assistant: AssistantConfig{
			Name:  "Daan-GPT",
			Model: "gpt-4",
		},
		Poll: PollConfig{
			Interval: 5 * time.Second,
			Timeout:  5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			TracesExporter:  td.TraceExporter,
			MetricsExporter: td.MetricExporter,
			OTLPEndpoint:    td.OTLPEndpoint,
			Environment:     td.Environment,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// applyConfigDefaults fills zero-valued fields from DefaultConfig.
func applyConfigDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = d.Port
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
	if cfg.Assistant.Name == "" {
		cfg.Assistant.Name = d.Assistant.Name
	}
	if cfg.Assistant.Model == "" {
		cfg.Assistant.Model = d.Assistant.Model
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = d.Poll.Interval
	}
	if cfg.Poll.Timeout == 0 {
		cfg.Poll.Timeout = d.Poll.Timeout
	}
	if cfg.Telemetry.TracesExporter == "" {
		cfg.Telemetry.TracesExporter = d.Telemetry.TracesExporter
	}
	if cfg.Telemetry.MetricsExporter == "" {
		cfg.Telemetry.MetricsExporter = d.Telemetry.MetricsExporter
	}
	if cfg.Telemetry.OTLPEndpoint == "" {
		cfg.Telemetry.OTLPEndpoint = d.Telemetry.OTLPEndpoint
	}
	if cfg.Telemetry.Environment == "" {
		cfg.Telemetry.Environment = d.Telemetry.Environment
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	return cfg
}

// =============================================================================
// Loading
// =============================================================================

// ErrInvalidConfig wraps every validation failure from LoadConfig.
var ErrInvalidConfig = errors.New("invalid configuration")

// apiKeySecretPath is where container deployments mount the API key.
var apiKeySecretPath = "/run/secrets/openai_api_key"

var configValidate = validator.New()

// LoadConfig builds a validated Config.
//
// # Description
//
// Starts from DefaultConfig, decodes path as YAML when path is non-empty
// (unknown keys are rejected), overlays the environment, reads the API
// key from /run/secrets/openai_api_key when no other source set it, and
// validates the result.
//
// # Inputs
//
//   - path: YAML file path. Empty skips the file.
//
// # Outputs
//
//   - Config: Ready for New.
//   - error: File, parse or ErrInvalidConfig errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}

	if cfg.OpenAI.APIKey == "" {
		if secret, err := os.ReadFile(apiKeySecretPath); err == nil {
			cfg.OpenAI.APIKey = strings.TrimSpace(string(secret))
		}
	}

	cfg = applyConfigDefaults(cfg)

	if err := configValidate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config, getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	setString("OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	setString("OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)
	setString("PROJECT_URL", &cfg.PublicURL)
	setString("STUDYLEADER_MODEL", &cfg.Assistant.Model)
	setString("STUDYLEADER_ASSISTANT_NAME", &cfg.Assistant.Name)
	setString("OTEL_TRACES_EXPORTER", &cfg.Telemetry.TracesExporter)
	setString("OTEL_METRICS_EXPORTER", &cfg.Telemetry.MetricsExporter)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	setString("GIN_MODE", &cfg.GinMode)
	setString("STUDYLEADER_LOG_LEVEL", &cfg.Logging.Level)
	setString("STUDYLEADER_LOG_DIR", &cfg.Logging.Dir)

	if v := getenv("STUDYLEADER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STUDYLEADER_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := getenv("STUDYLEADER_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STUDYLEADER_POLL_INTERVAL: %w", err)
		}
		cfg.Poll.Interval = d
	}
	if v := getenv("STUDYLEADER_POLL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STUDYLEADER_POLL_TIMEOUT: %w", err)
		}
		cfg.Poll.Timeout = d
	}
	if v := getenv("STUDYLEADER_REMOTE_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("STUDYLEADER_REMOTE_RPS: %w", err)
		}
		cfg.OpenAI.RequestsPerSecond = rps
	}
	if v := getenv("STUDYLEADER_LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STUDYLEADER_LOG_JSON: %w", err)
		}
		cfg.Logging.JSON = b
	}
	return nil
}
