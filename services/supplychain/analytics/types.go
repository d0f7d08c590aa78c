// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/chaintrace/services/supplychain/analyzer"
)

// Sentinel errors for the analytics orchestrator.
var (
	// ErrOrchestratorClosed is returned after Stop.
	ErrOrchestratorClosed = errors.New("analytics: orchestrator closed")

	// ErrInvalidConfiguration is returned for invalid orchestrator config.
	ErrInvalidConfiguration = errors.New("analytics: invalid configuration")
)

// Config configures the analytics orchestrator.
type Config struct {
	// TTL is how long a completed report stays cached. Default: 5m.
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// SweepInterval is how often expired entries are removed in the
	// background. Expired entries are also dropped lazily on read.
	// Default: 1m.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`

	// MaxConcurrency bounds how many analyses run at once across all
	// callers, batch and single alike. Default: 8.
	MaxConcurrency int64 `yaml:"max_concurrency" json:"max_concurrency"`

	// RetryTimeouts retries an analysis once when it fails with a
	// traversal timeout. Default: true.
	RetryTimeouts bool `yaml:"retry_timeouts" json:"retry_timeouts"`
}

// DefaultConfig returns documented orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		TTL:            5 * time.Minute,
		SweepInterval:  time.Minute,
		MaxConcurrency: 8,
		RetryTimeouts:  true,
	}
}

// Validate rejects non-positive limits.
func (c Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidConfiguration)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%w: sweep_interval must be positive", ErrInvalidConfiguration)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("%w: max_concurrency must be positive", ErrInvalidConfiguration)
	}
	return nil
}

// Stats is a point-in-time snapshot of orchestrator counters.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	SharedFlights int64 `json:"shared_flights"`
	Analyses      int64 `json:"analyses"`
	Failures      int64 `json:"failures"`
	Retries       int64 `json:"retries"`
	Evictions     int64 `json:"evictions"`
	Entries       int   `json:"entries"`
}

// Future is a handle to an in-flight asynchronous analysis.
type Future struct {
	// RequestID uniquely identifies the request, for log correlation.
	RequestID string

	ch chan futureResult
}

type futureResult struct {
	report *analyzer.RiskReport
	err    error
}

// Wait blocks until the analysis completes or the context is done.
func (f *Future) Wait(ctx context.Context) (*analyzer.RiskReport, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-f.ch:
		return res.report, res.err
	}
}

// BatchItem is one organization's outcome within a batch analysis.
type BatchItem struct {
	Report *analyzer.RiskReport `json:"report,omitempty"`
	Err    error                `json:"-"`

	// Error is the Err string, for serialization.
	Error string `json:"error,omitempty"`
}
