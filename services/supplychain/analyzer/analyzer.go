// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/chaintrace/services/supplychain/graph"
	"github.com/AleutianAI/chaintrace/services/supplychain/store"
)

// Analyzer computes structural risk reports over the supply graph.
//
// Description:
//
//	The analyzer is read-only: every request runs against the store
//	through bounded traversal queries and never mutates graph state.
//	Configuration is held behind an atomic pointer so a hot reload swaps
//	the whole config at once; in-flight requests keep the snapshot they
//	started with.
//
// Thread Safety: safe for concurrent use.
type Analyzer struct {
	store  store.Adapter
	cfg    atomic.Pointer[Config]
	logger *slog.Logger
}

// New creates an Analyzer. The configuration is validated up front;
// invalid weights or limits are a construction error, not a per-request
// failure.
func New(s store.Adapter, cfg Config, logger *slog.Logger) (*Analyzer, error) {
	if s == nil {
		return nil, fmt.Errorf("analyzer: store adapter is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Analyzer{store: s, logger: logger}
	a.cfg.Store(&cfg)
	return a, nil
}

// UpdateConfig atomically replaces the analyzer configuration. Invalid
// configurations are rejected and the previous configuration stays active.
func (a *Analyzer) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg.Store(&cfg)
	a.logger.Info("analyzer configuration updated")
	return nil
}

func (a *Analyzer) config() *Config {
	return a.cfg.Load()
}

// AnalyzeOrganizationRisk produces a risk report for one organization.
//
// Description:
//
//	Walks the analysis state machine: path diversity toward each target
//	counterparty, counterparty concentration, sub-score composition, and
//	optionally a disruption simulation of the worst single point of
//	failure. An organization with zero SUPPLIES relationships yields the
//	UNKNOWN tier; absence of data is never reported as low risk. A
//	traversal failure terminates the machine in the FAILED stage with the
//	stage name and a machine-readable reason recorded on the report.
//
// Outputs:
//
//	The report, plus a non-nil error when the analysis failed or the
//	organization does not exist. A FAILED report and its error are
//	returned together so callers can log one and serve the other.
func (a *Analyzer) AnalyzeOrganizationRisk(ctx context.Context, orgKey string, params Params) (*RiskReport, error) {
	start := time.Now()
	cfg := a.config()
	report := &RiskReport{OrgKey: orgKey, Stage: StageStarted}

	if err := a.checkOrganization(ctx, orgKey); err != nil {
		return nil, err
	}

	maxHops := cfg.MaxHops
	if params.MaxHops > 0 && params.MaxHops < maxHops {
		maxHops = params.MaxHops
	}
	maxPaths := cfg.MaxPaths
	if params.MaxPaths > 0 && params.MaxPaths < maxPaths {
		maxPaths = params.MaxPaths
	}

	v := a.baseView()
	direct, err := v.supplies(ctx, orgKey, graph.DirBoth)
	if err != nil {
		return a.fail(report, StagePathAnalysis, err)
	}

	version, verr := a.store.CurrentGraphVersion(ctx)
	if verr != nil {
		return a.fail(report, StagePathAnalysis, verr)
	}
	report.GeneratedAtGraphVersion = version

	// No relationships at all: the graph knows nothing about this
	// organization's supply structure.
	if len(direct) == 0 {
		report.Tier = TierUnknown
		report.TierName = TierUnknown.String()
		report.Stage = StageCompleted
		report.StageName = StageCompleted.String()
		report.GeneratedAt = time.Now().UTC()
		return report, nil
	}

	targetWeights := counterpartyWeights(direct, orgKey)
	targets := params.Targets
	if len(targets) == 0 {
		targets = topCounterparties(targetWeights, cfg.TopCounterparties)
	}

	// PATH_ANALYSIS: vertex-disjoint paths toward each target.
	report.Stage = StagePathAnalysis
	budget := cfg.MaxVisited
	diversity := make(map[string]PathDiversity, len(targets))
	interior := make(map[string]bool)
	visited := make(map[string]bool)

	for _, target := range targets {
		search, err := v.countDisjointPaths(ctx, orgKey, target, maxHops, maxPaths, &budget)
		if err != nil {
			return a.fail(report, StagePathAnalysis, err)
		}
		diversity[target] = PathDiversity{
			TargetKey:             target,
			DisjointPaths:         search.count,
			PathCountIsLowerBound: search.lowerBound,
		}
		for k := range search.interior {
			interior[k] = true
		}
		for k := range search.visited {
			visited[k] = true
		}
	}
	report.PathDiversityByTarget = diversity

	// Target importance drives SPOF severity. Targets beyond the direct
	// neighborhood have no observed weight and count as neutral.
	importance := make(map[string]float64, len(targets))
	for _, target := range targets {
		w := targetWeights[target]
		if w <= 0 {
			w = 1
		}
		importance[target] = w
	}

	spofs, err := a.detectSPOFs(ctx, v, orgKey, targets, diversity, interior, importance)
	if err != nil {
		return a.fail(report, StagePathAnalysis, err)
	}
	report.SPOFs = spofs

	// CONCENTRATION_ANALYSIS.
	report.Stage = StageConcentrationAnalysis
	hhi := concentrationHHI(targetWeights)
	geo, err := a.geographicRisk(ctx, visited)
	if err != nil {
		return a.fail(report, StageConcentrationAnalysis, err)
	}

	// SCORING.
	report.Stage = StageScoring
	report.SubScores = SubScores{
		PathDiversity: diversitySubScore(diversity),
		Concentration: hhi,
		Geographic:    geo,
		SPOF:          spofSubScore(spofs),
	}
	report.Score, report.Tier = composeScore(cfg, report.SubScores)
	report.TierName = report.Tier.String()

	// SIMULATION (optional): what happens if the worst SPOF goes down.
	if params.IncludeSimulation && len(spofs) > 0 {
		report.Stage = StageSimulation
		forecast, err := a.PredictDisruption(ctx, orgKey, Scenario{RemoveNodes: []string{spofs[0].NodeKey}})
		if err != nil {
			return a.fail(report, StageSimulation, err)
		}
		report.Forecast = forecast
	}

	report.Stage = StageCompleted
	report.StageName = StageCompleted.String()
	report.GeneratedAt = time.Now().UTC()

	a.logger.Debug("risk analysis completed",
		"org", orgKey,
		"score", report.Score,
		"tier", report.TierName,
		"targets", len(targets),
		"spofs", len(spofs),
		"duration", time.Since(start))
	return report, nil
}

// checkOrganization verifies the node exists and carries the Organization
// label.
func (a *Analyzer) checkOrganization(ctx context.Context, key string) error {
	rows, err := a.store.RunTraversal(ctx, store.TraversalQuery{
		Op:      store.OpNode,
		Key:     key,
		Timeout: a.config().TraversalTimeout,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 || rows[0].Node == nil {
		return fmt.Errorf("%w: %s", ErrUnknownOrganization, key)
	}
	if rows[0].Node.Label != graph.LabelOrganization {
		return fmt.Errorf("%w: %s has label %s", ErrUnknownOrganization, key, rows[0].Node.Label)
	}
	return nil
}

// fail marks the report FAILED at the given stage and classifies the error.
func (a *Analyzer) fail(report *RiskReport, stage Stage, err error) (*RiskReport, error) {
	report.Stage = StageFailed
	report.StageName = StageFailed.String()
	report.FailedStage = stage.String()
	report.GeneratedAt = time.Now().UTC()

	switch {
	case errors.Is(err, store.ErrTraversalTimeout),
		errors.Is(err, context.DeadlineExceeded):
		report.FailureReason = FailureTimeout
	case errors.Is(err, ErrInvariantViolation):
		report.FailureReason = FailureInvariantViolation
	default:
		report.FailureReason = FailureStoreUnavailable
	}

	a.logger.Warn("risk analysis failed",
		"org", report.OrgKey,
		"stage", report.FailedStage,
		"reason", report.FailureReason,
		"error", err)
	return report, err
}

// topCounterparties returns up to k counterparty keys ordered by descending
// SUPPLIES weight, breaking ties on key for determinism.
func topCounterparties(weights map[string]float64, k int) []string {
	keys := make([]string, 0, len(weights))
	for key := range weights {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if weights[keys[i]] != weights[keys[j]] {
			return weights[keys[i]] > weights[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > k {
		keys = keys[:k]
	}
	return keys
}
