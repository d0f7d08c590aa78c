// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package supplychain wires the supply chain graph service together.
//
// The service exposes endpoints for:
//   - Ingesting raw supply chain events into the graph
//   - Analyzing structural risk for organizations
//   - Simulating disruption scenarios
package supplychain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/chaintrace/services/supplychain/analytics"
	"github.com/AleutianAI/chaintrace/services/supplychain/analyzer"
	"github.com/AleutianAI/chaintrace/services/supplychain/config"
	"github.com/AleutianAI/chaintrace/services/supplychain/graph"
	"github.com/AleutianAI/chaintrace/services/supplychain/ingest"
	"github.com/AleutianAI/chaintrace/services/supplychain/store"
)

// Service owns the store, pipeline, analyzer, and orchestrator.
//
// Thread Safety: safe for concurrent use.
type Service struct {
	store        store.Adapter
	pipeline     *ingest.Pipeline
	analyzer     *analyzer.Analyzer
	orchestrator *analytics.Orchestrator
	engine       string
	logger       *slog.Logger
}

// NewService builds a Service from the loaded configuration.
func NewService(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	adapter, err := openStore(cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	az, err := analyzer.New(adapter, cfg.Analyzer.Runtime(), logger)
	if err != nil {
		adapter.Close()
		return nil, err
	}
	orch, err := analytics.New(az, adapter, cfg.Analytics.Runtime(), logger)
	if err != nil {
		adapter.Close()
		return nil, err
	}

	return &Service{
		store:        adapter,
		pipeline:     ingest.New(adapter, cfg.Ingest.Runtime(), logger),
		analyzer:     az,
		orchestrator: orch,
		engine:       cfg.Store.Engine,
		logger:       logger,
	}, nil
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (store.Adapter, error) {
	switch cfg.Engine {
	case config.EngineBadger:
		bcfg := store.DefaultBadgerConfig(cfg.Path)
		bcfg.SyncWrites = cfg.SyncWrites
		bcfg.DecayHalfLife = cfg.DecayHalfLife.Std()
		bcfg.Logger = logger
		b, err := store.OpenBadger(bcfg)
		if err != nil {
			return nil, fmt.Errorf("supplychain: opening badger store: %w", err)
		}
		return b, nil
	case config.EngineMemory:
		return store.NewMemory(graph.WithDecayHalfLife(cfg.DecayHalfLife.Std())), nil
	default:
		return nil, fmt.Errorf("supplychain: unknown store engine %q", cfg.Engine)
	}
}

// Ingest runs one batch through the pipeline.
func (s *Service) Ingest(ctx context.Context, events []ingest.RawEvent) (ingest.IngestResult, error) {
	return s.pipeline.Ingest(ctx, events)
}

// Analyze runs (or reuses) a risk analysis.
func (s *Service) Analyze(ctx context.Context, orgKey string, params analyzer.Params) (*analyzer.RiskReport, error) {
	return s.orchestrator.Analyze(ctx, orgKey, params)
}

// BatchAnalyze analyzes many organizations under the concurrency limit.
func (s *Service) BatchAnalyze(ctx context.Context, orgKeys []string, params analyzer.Params) map[string]*analytics.BatchItem {
	return s.orchestrator.BatchAnalyze(ctx, orgKeys, params)
}

// Simulate evaluates a disruption scenario.
func (s *Service) Simulate(ctx context.Context, orgKey string, scenario analyzer.Scenario) (*analyzer.DisruptionForecast, error) {
	return s.orchestrator.Simulate(ctx, orgKey, scenario)
}

// Stats reports the graph version and orchestrator counters.
func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	version, err := s.store.CurrentGraphVersion(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsResponse{
		GraphVersion: version,
		Analytics:    s.orchestrator.Stats(),
	}, nil
}

// Health probes the store.
func (s *Service) Health(ctx context.Context) (*HealthResponse, error) {
	version, err := s.store.CurrentGraphVersion(ctx)
	if err != nil {
		return nil, err
	}
	return &HealthResponse{
		Status:       "ok",
		StoreEngine:  s.engine,
		GraphVersion: version,
	}, nil
}

// ApplyConfig applies a hot-reloaded configuration. Only the analyzer
// section takes effect live; store, server, and pipeline changes need a
// restart and are logged when they differ.
func (s *Service) ApplyConfig(cfg *config.Config) {
	if err := s.analyzer.UpdateConfig(cfg.Analyzer.Runtime()); err != nil {
		s.logger.Warn("rejected reloaded analyzer configuration", "error", err)
	}
	if cfg.Store.Engine != s.engine {
		s.logger.Warn("store engine change requires a restart",
			"running", s.engine, "configured", cfg.Store.Engine)
	}
}

// Close stops the orchestrator and closes the store.
func (s *Service) Close() error {
	s.orchestrator.Stop()
	return s.store.Close()
}
