// Package common provides shared configuration loading for the standalone
// binaries (reportsrv, tracectl).
package common

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Co-Epi/coepi-core/core"
	"github.com/Co-Epi/coepi-core/protocol"
	"github.com/Co-Epi/coepi-core/server"
)

// Config is the combined configuration file schema for the binaries. Each
// binary reads the sections it needs.
type Config struct {
	// HTTPAddr is the listen address for reportsrv.
	HTTPAddr string `yaml:"http_addr"`

	// EnablePprof enables the pprof debugging API on reportsrv.
	EnablePprof bool `yaml:"enable_pprof"`

	// LogLevel is the minimum log level ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level"`

	// InMemory makes reportsrv use the in-memory report store instead of
	// PostgreSQL; for local development only.
	InMemory bool `yaml:"in_memory"`

	// Postgres configures the reportsrv database.
	Postgres server.PostgresConfig `yaml:"postgres"`

	// Device configures the tracectl core.
	Device core.Config `yaml:"device"`

	// Trace overrides the protocol defaults when set.
	Trace *protocol.TraceConfig `yaml:"trace"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		Postgres: server.PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "coepi",
			Database: "coepi",
		},
		Device: core.Config{
			StoragePath:    "coepi-data",
			ServiceURL:     "http://localhost:8080",
			LogLevel:       "info",
			RequestTimeout: 30 * time.Second,
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(body, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the structured logger the binaries share.
func NewLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// TraceConfig resolves the protocol configuration, falling back to defaults.
func (c *Config) TraceConfig() *protocol.TraceConfig {
	if c.Trace != nil {
		return c.Trace
	}
	return protocol.DefaultTraceConfig()
}
