// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analytics coordinates risk analyses on top of the analyzer.
//
// The orchestrator deduplicates identical concurrent requests with
// singleflight, caches completed reports under a TTL, bounds global
// analysis concurrency with a weighted semaphore, and invalidates cached
// reports automatically when the graph version advances (the version is
// part of the cache key). Failed analyses are never cached.
package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/chaintrace/services/supplychain/analyzer"
	"github.com/AleutianAI/chaintrace/services/supplychain/store"
)

// RiskAnalyzer is the analysis surface the orchestrator drives. Satisfied
// by *analyzer.Analyzer; narrowed to an interface so tests can count calls.
type RiskAnalyzer interface {
	AnalyzeOrganizationRisk(ctx context.Context, orgKey string, params analyzer.Params) (*analyzer.RiskReport, error)
	PredictDisruption(ctx context.Context, orgKey string, scenario analyzer.Scenario) (*analyzer.DisruptionForecast, error)
}

type cacheEntry struct {
	report  *analyzer.RiskReport
	expires time.Time
}

// Orchestrator serializes, deduplicates, and caches risk analyses.
//
// Thread Safety: safe for concurrent use.
type Orchestrator struct {
	az     RiskAnalyzer
	store  store.Adapter
	cfg    Config
	logger *slog.Logger

	flight singleflight.Group
	sem    *semaphore.Weighted

	mu      sync.RWMutex
	entries map[string]cacheEntry

	hits      atomic.Int64
	misses    atomic.Int64
	shared    atomic.Int64
	analyses  atomic.Int64
	failures  atomic.Int64
	retries   atomic.Int64
	evictions atomic.Int64

	closed atomic.Bool
	stop   chan struct{}
	done   chan struct{}
}

// New creates an Orchestrator and starts its background sweeper.
func New(az RiskAnalyzer, s store.Adapter, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		az:      az,
		store:   s,
		cfg:     cfg,
		logger:  logger,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrency),
		entries: make(map[string]cacheEntry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go o.sweep()
	return o, nil
}

// Stop shuts down the background sweeper. In-flight analyses finish on
// their own contexts; new requests are rejected.
func (o *Orchestrator) Stop() {
	if o.closed.CompareAndSwap(false, true) {
		close(o.stop)
		<-o.done
	}
}

// Analyze runs (or reuses) a risk analysis for one organization.
//
// Description:
//
//	The cache key folds in the current graph version, so any committed
//	write yields a fresh key and cached reports for older versions simply
//	stop being addressable; the sweeper reclaims them. Identical
//	concurrent requests collapse into a single analyzer call via
//	singleflight. Timeout failures are retried once when configured.
func (o *Orchestrator) Analyze(ctx context.Context, orgKey string, params analyzer.Params) (*analyzer.RiskReport, error) {
	if o.closed.Load() {
		return nil, ErrOrchestratorClosed
	}

	version, err := o.store.CurrentGraphVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("analytics: resolving graph version: %w", err)
	}
	key := fingerprint(orgKey, params, version)

	if report, ok := o.cached(key); ok {
		o.hits.Add(1)
		cacheHitsTotal.Inc()
		return report, nil
	}
	o.misses.Add(1)
	cacheMissesTotal.Inc()

	result, err, sharedFlight := o.flight.Do(key, func() (any, error) {
		return o.runAnalysis(ctx, orgKey, params, key)
	})
	if sharedFlight {
		o.shared.Add(1)
		sharedFlightsTotal.Inc()
	}

	report, _ := result.(*analyzer.RiskReport)
	return report, err
}

// AnalyzeAsync starts an analysis in the background and returns a handle.
// The supplied context governs the whole analysis, not just the wait.
func (o *Orchestrator) AnalyzeAsync(ctx context.Context, orgKey string, params analyzer.Params) *Future {
	f := &Future{
		RequestID: uuid.NewString(),
		ch:        make(chan futureResult, 1),
	}
	go func() {
		report, err := o.Analyze(ctx, orgKey, params)
		f.ch <- futureResult{report: report, err: err}
	}()
	return f
}

// BatchAnalyze analyzes many organizations, bounded by the configured
// concurrency limit. One organization failing does not stop the rest.
func (o *Orchestrator) BatchAnalyze(ctx context.Context, orgKeys []string, params analyzer.Params) map[string]*BatchItem {
	out := make(map[string]*BatchItem, len(orgKeys))
	var mu sync.Mutex
	var wg sync.WaitGroup

	seen := make(map[string]bool, len(orgKeys))
	for _, orgKey := range orgKeys {
		if seen[orgKey] {
			continue
		}
		seen[orgKey] = true

		wg.Add(1)
		go func(orgKey string) {
			defer wg.Done()
			report, err := o.Analyze(ctx, orgKey, params)
			item := &BatchItem{Report: report, Err: err}
			if err != nil {
				item.Error = err.Error()
			}
			mu.Lock()
			out[orgKey] = item
			mu.Unlock()
		}(orgKey)
	}
	wg.Wait()
	return out
}

// Simulate evaluates a disruption scenario. Simulations are not cached;
// scenarios rarely repeat and stale what-ifs are worse than slow ones.
func (o *Orchestrator) Simulate(ctx context.Context, orgKey string, scenario analyzer.Scenario) (*analyzer.DisruptionForecast, error) {
	if o.closed.Load() {
		return nil, ErrOrchestratorClosed
	}
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer o.sem.Release(1)

	ctx, span := tracer.Start(ctx, "analytics.simulate",
		trace.WithAttributes(attribute.String("org", orgKey)))
	defer span.End()

	start := time.Now()
	forecast, err := o.az.PredictDisruption(ctx, orgKey, scenario)
	analysisDuration.WithLabelValues("simulate").Observe(time.Since(start).Seconds())
	return forecast, err
}

// Stats returns a snapshot of the orchestrator counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	entries := len(o.entries)
	o.mu.RUnlock()

	return Stats{
		Hits:          o.hits.Load(),
		Misses:        o.misses.Load(),
		SharedFlights: o.shared.Load(),
		Analyses:      o.analyses.Load(),
		Failures:      o.failures.Load(),
		Retries:       o.retries.Load(),
		Evictions:     o.evictions.Load(),
		Entries:       entries,
	}
}

// runAnalysis executes one analyzer call under the concurrency limit,
// retrying a timeout failure once, and caches successful reports.
func (o *Orchestrator) runAnalysis(ctx context.Context, orgKey string, params analyzer.Params, key string) (*analyzer.RiskReport, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer o.sem.Release(1)

	ctx, span := tracer.Start(ctx, "analytics.analyze",
		trace.WithAttributes(attribute.String("org", orgKey)))
	defer span.End()

	start := time.Now()
	o.analyses.Add(1)

	report, err := o.az.AnalyzeOrganizationRisk(ctx, orgKey, params)
	if err != nil && o.cfg.RetryTimeouts && isTimeoutFailure(report) && ctx.Err() == nil {
		o.retries.Add(1)
		o.logger.Warn("retrying timed-out analysis", "org", orgKey)
		report, err = o.az.AnalyzeOrganizationRisk(ctx, orgKey, params)
	}

	analysisDuration.WithLabelValues("analyze").Observe(time.Since(start).Seconds())
	if err != nil {
		o.failures.Add(1)
		analysesTotal.WithLabelValues("failure").Inc()
		return report, err
	}
	analysesTotal.WithLabelValues("success").Inc()

	o.mu.Lock()
	o.entries[key] = cacheEntry{report: report, expires: time.Now().Add(o.cfg.TTL)}
	o.mu.Unlock()
	return report, nil
}

// cached looks up a live cache entry, dropping it lazily when expired.
func (o *Orchestrator) cached(key string) (*analyzer.RiskReport, bool) {
	o.mu.RLock()
	entry, ok := o.entries[key]
	o.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		o.mu.Lock()
		if cur, still := o.entries[key]; still && time.Now().After(cur.expires) {
			delete(o.entries, key)
			o.evictions.Add(1)
		}
		o.mu.Unlock()
		return nil, false
	}
	return entry.report, true
}

// sweep periodically removes expired entries, including entries keyed to
// graph versions that no request will ever ask for again.
func (o *Orchestrator) sweep() {
	defer close(o.done)
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			now := time.Now()
			o.mu.Lock()
			for key, entry := range o.entries {
				if now.After(entry.expires) {
					delete(o.entries, key)
					o.evictions.Add(1)
				}
			}
			o.mu.Unlock()
		}
	}
}

// isTimeoutFailure reports whether a failed analysis ended in a traversal
// timeout, the one failure class worth a second attempt.
func isTimeoutFailure(report *analyzer.RiskReport) bool {
	return report != nil && report.FailureReason == analyzer.FailureTimeout
}

// fingerprint derives the cache key for one request at one graph version.
func fingerprint(orgKey string, params analyzer.Params, version int64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d", orgKey, params.Fingerprint(), version)
	return hex.EncodeToString(h.Sum(nil))
}
