// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging configures structured logging for chaintrace components.
//
// The package is a thin layer over Go's standard slog: it parses the
// configured level and format, builds the handler, and installs the result
// as the process default so library code using slog.Default() inherits it.
//
// # Basic Usage
//
//	logger := logging.Setup(logging.Config{Level: "info", Format: "json"})
//	logger.Info("batch ingested", "accepted", 95, "rejected", 5)
//
// # Log Levels
//
// Four levels are supported, matching slog conventions:
//
//   - debug: development troubleshooting, verbose output
//   - info: normal operations (request start/end, state changes)
//   - warn: recoverable issues (retry attempts, degraded mode)
//   - error: operation failures (but system continues)
//
// # Thread Safety
//
// The returned logger is safe for concurrent use.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config configures the process logger.
type Config struct {
	// Level is "debug", "info", "warn", or "error". Unknown values fall
	// back to "info".
	Level string

	// Format is "json" or "text". Unknown values fall back to "json".
	Format string

	// Service is attached to every record when non-empty.
	Service string

	// Output defaults to stderr, following Unix conventions for CLI
	// compatibility.
	Output io.Writer
}

// Setup builds a logger from the config and installs it as the slog
// default.
func Setup(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name onto a slog.Level. Unknown names map to
// Info rather than failing: a misconfigured level should never take
// logging down with it.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
