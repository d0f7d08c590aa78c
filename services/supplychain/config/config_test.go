// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "chaintrace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), `
server:
  listen_addr: ":9000"
  read_timeout: 10s
store:
  engine: badger
  path: /var/lib/chaintrace
  decay_half_life: 720h
ingest:
  batch_size: 500
  workers: 2
  write_rate_per_sec: 100
  write_burst: 10
analyzer:
  max_hops: 4
  traversal_timeout: 2s
analytics:
  ttl: 10m
  max_concurrency: 16
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout.Std())
	assert.Equal(t, EngineBadger, cfg.Store.Engine)
	assert.Equal(t, 720*time.Hour, cfg.Store.DecayHalfLife.Std())

	pipeline := cfg.Ingest.Runtime()
	assert.Equal(t, 500, pipeline.BatchSize)
	assert.Equal(t, 2, pipeline.Workers)
	assert.Equal(t, float64(100), float64(pipeline.WriteRate))

	az := cfg.Analyzer.Runtime()
	assert.Equal(t, 4, az.MaxHops)
	assert.Equal(t, 2*time.Second, az.TraversalTimeout)
	// Unset sections fall back to defaults.
	assert.Equal(t, 8, az.MaxPaths)

	an := cfg.Analytics.Runtime()
	assert.Equal(t, 10*time.Minute, an.TTL)
	assert.Equal(t, int64(16), an.MaxConcurrency)
	assert.True(t, an.RetryTimeouts)
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8844", cfg.Server.ListenAddr)
	assert.Equal(t, EngineMemory, cfg.Store.Engine)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_Rejections(t *testing.T) {
	dir := t.TempDir()

	t.Run("unknown field", func(t *testing.T) {
		path := writeFile(t, dir, "server:\n  listne_addr: \":9000\"\n")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("badger without path", func(t *testing.T) {
		path := writeFile(t, dir, "store:\n  engine: badger\n")
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("unknown engine", func(t *testing.T) {
		path := writeFile(t, dir, "store:\n  engine: postgres\n")
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("bad duration", func(t *testing.T) {
		path := writeFile(t, dir, "analytics:\n  ttl: soon\n")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "logging:\n  level: info\n  format: json\n")

	reloaded := make(chan *Config, 4)
	w, err := Watch(path, func(cfg *Config) { reloaded <- cfg }, slog.Default())
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n  format: json\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never delivered the reloaded config")
	}
}

func TestWatcher_KeepsOldConfigOnBadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "logging:\n  level: info\n  format: json\n")

	reloaded := make(chan *Config, 4)
	w, err := Watch(path, func(cfg *Config) { reloaded <- cfg }, slog.Default())
	require.NoError(t, err)
	defer w.Stop()

	// Broken yaml must not reach the handler.
	require.NoError(t, os.WriteFile(path, []byte(":::not yaml"), 0o644))

	select {
	case cfg := <-reloaded:
		t.Fatalf("handler called with %+v for an invalid file", cfg)
	case <-time.After(time.Second):
	}
}
