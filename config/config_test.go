/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 10, cfg.MaxTraversalDepth)
	assert.Equal(t, 2*time.Second, cfg.TxMaxWait)
	assert.Equal(t, 10*time.Second, cfg.TxTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "querycore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_traversal_depth: 4\ntx_max_wait: 500ms\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxTraversalDepth)
	assert.Equal(t, 500*time.Millisecond, cfg.TxMaxWait)
	assert.Equal(t, 10*time.Second, cfg.TxTimeout, "unset key keeps its default")
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})
	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("max_traversal_depth: [oops"), 0o644))
		_, err := Load(path)
		require.Error(t, err)
	})
}

func TestFromEnv(t *testing.T) {
	t.Setenv("QUERYCORE_MAX_TRAVERSAL_DEPTH", "6")
	t.Setenv("QUERYCORE_TX_MAX_WAIT", "250ms")
	t.Setenv("QUERYCORE_TX_TIMEOUT", "3s")
	t.Setenv("QUERYCORE_LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.MaxTraversalDepth)
	assert.Equal(t, 250*time.Millisecond, cfg.TxMaxWait)
	assert.Equal(t, 3*time.Second, cfg.TxTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Run("non-positive depth", func(t *testing.T) {
		t.Setenv("QUERYCORE_MAX_TRAVERSAL_DEPTH", "0")
		_, err := FromEnv()
		require.Error(t, err)
	})
	t.Run("unparseable duration", func(t *testing.T) {
		t.Setenv("QUERYCORE_TX_MAX_WAIT", "soon")
		_, err := FromEnv()
		require.Error(t, err)
	})
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Default().Logger(&buf)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())

	logger.Debug().Msg("hidden")
	assert.Empty(t, buf.String(), "debug suppressed at info level")
	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")

	t.Run("unknown level falls back to info", func(t *testing.T) {
		cfg := Default()
		cfg.LogLevel = "shouty"
		assert.Equal(t, zerolog.InfoLevel, cfg.Logger(&buf).GetLevel())
	})
}
