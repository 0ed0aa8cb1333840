/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package config carries the tunables of the query core: traversal depth,
// transaction bounds, and log level. Values load from a YAML file or from the
// environment, with .env support for local development.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables.
type Config struct {
	// MaxTraversalDepth caps how deeply relation shapes may nest.
	MaxTraversalDepth int `yaml:"max_traversal_depth"`
	// TxMaxWait bounds how long a write waits to start a transaction.
	TxMaxWait time.Duration `yaml:"tx_max_wait"`
	// TxTimeout bounds a transaction's lifetime after it starts.
	TxTimeout time.Duration `yaml:"tx_timeout"`
	// LogLevel is a zerolog level name: trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when nothing is supplied.
func Default() Config {
	return Config{
		MaxTraversalDepth: 10,
		TxMaxWait:         2 * time.Second,
		TxTimeout:         10 * time.Second,
		LogLevel:          "info",
	}
}

// Load reads a YAML config file, filling unset values from Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a Config from QUERYCORE_* environment variables, loading a
// .env file first when one is present.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if v := os.Getenv("QUERYCORE_MAX_TRAVERSAL_DEPTH"); v != "" {
		var d int
		if _, err := fmt.Sscanf(v, "%d", &d); err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid QUERYCORE_MAX_TRAVERSAL_DEPTH %q", v)
		}
		cfg.MaxTraversalDepth = d
	}
	if v := os.Getenv("QUERYCORE_TX_MAX_WAIT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid QUERYCORE_TX_MAX_WAIT %q", v)
		}
		cfg.TxMaxWait = d
	}
	if v := os.Getenv("QUERYCORE_TX_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid QUERYCORE_TX_TIMEOUT %q", v)
		}
		cfg.TxTimeout = d
	}
	if v := os.Getenv("QUERYCORE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

// Logger builds a zerolog logger at the configured level writing to w.
// Unknown level names fall back to info.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
