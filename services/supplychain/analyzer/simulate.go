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

	"github.com/AleutianAI/chaintrace/services/supplychain/graph"
)

// PredictDisruption evaluates a what-if scenario against the live graph.
//
// Description:
//
//	Computes reachability and volume metrics twice, once on the baseline
//	view and once on a view with the scenario's nodes and edges excluded,
//	then reports the delta. A partial capacity reduction keeps the nodes
//	traversable but scales down the weight of every edge touching them.
//	The stored graph is never mutated; both views are exclusion filters
//	over the same store.
//
// Thread Safety: safe for concurrent use.
func (a *Analyzer) PredictDisruption(ctx context.Context, orgKey string, scenario Scenario) (*DisruptionForecast, error) {
	cfg := a.config()

	if err := a.checkOrganization(ctx, orgKey); err != nil {
		return nil, err
	}

	base := a.baseView()
	perturbed := a.perturbedView(scenario)

	direct, err := base.supplies(ctx, orgKey, graph.DirBoth)
	if err != nil {
		return nil, err
	}
	targets := topCounterparties(counterpartyWeights(direct, orgKey), cfg.TopCounterparties)

	forecast := &DisruptionForecast{Scenario: scenario}

	degraded := map[string]bool{}
	if scenario.CapacityReductionPct > 0 && scenario.CapacityReductionPct < 100 {
		for _, key := range scenario.RemoveNodes {
			degraded[key] = true
		}
	}

	forecast.Baseline, err = a.viewMetrics(ctx, base, orgKey, targets, nil, 0, &forecast.BoundsFlags)
	if err != nil {
		return nil, err
	}
	forecast.Perturbed, err = a.viewMetrics(ctx, perturbed, orgKey, targets, degraded, scenario.CapacityReductionPct, &forecast.BoundsFlags)
	if err != nil {
		return nil, err
	}

	// Dependents of the perturbed elements, found by walking outgoing
	// SUPPLIES edges on the baseline view.
	dependents := make(map[string]bool)
	for _, key := range scenario.RemoveNodes {
		down, err := base.downstream(ctx, key, cfg.MaxHops)
		if err != nil {
			return nil, err
		}
		for k := range down {
			dependents[k] = true
		}
	}
	for _, e := range scenario.RemoveEdges {
		down, err := base.downstream(ctx, e.To, cfg.MaxHops)
		if err != nil {
			return nil, err
		}
		dependents[e.To] = true
		for k := range down {
			dependents[k] = true
		}
	}
	forecast.AffectedNodeCount = len(dependents)

	// A dependent is affected when the scenario leaves it with no inbound
	// supply at all.
	affected := 0
	for key := range dependents {
		if perturbed.excludeNodes[key] {
			affected++
			continue
		}
		inbound, err := perturbed.supplies(ctx, key, graph.DirIncoming)
		if err != nil {
			return nil, err
		}
		if len(inbound) == 0 {
			affected++
		}
	}
	if len(dependents) > 0 {
		forecast.AffectedPercentage = float64(affected) / float64(len(dependents)) * 100
	}

	forecast.SeverityTier = severityFromPercentage(cfg, forecast.AffectedPercentage)
	forecast.SeverityTierName = forecast.SeverityTier.String()
	return forecast, nil
}

// viewMetrics computes reachability and volume for one view. degraded
// nodes keep their edges but contribute scaled-down weight.
func (a *Analyzer) viewMetrics(
	ctx context.Context,
	v *view,
	orgKey string,
	targets []string,
	degraded map[string]bool,
	capacityReductionPct float64,
	boundsFlag *bool,
) (Metrics, error) {
	cfg := a.config()
	var m Metrics

	budget := cfg.MaxVisited
	for _, target := range targets {
		if v.excludeNodes[target] {
			continue
		}
		search, err := v.countDisjointPaths(ctx, orgKey, target, cfg.MaxHops, cfg.MaxPaths, &budget)
		if err != nil {
			return m, err
		}
		if search.count > 0 {
			m.ReachableTargets++
		}
		m.TotalDisjointPaths += search.count
		if search.lowerBound {
			*boundsFlag = true
		}
	}

	direct, err := v.supplies(ctx, orgKey, graph.DirBoth)
	if err != nil {
		return m, err
	}
	scale := 1 - capacityReductionPct/100
	for _, r := range direct {
		w := r.Weight
		if degraded[r.FromKey] || degraded[r.ToKey] {
			w *= scale
		}
		m.TotalVolume += w
	}
	return m, nil
}

// severityFromPercentage reuses the tier thresholds on the 0-100 affected
// percentage scale.
func severityFromPercentage(cfg *Config, pct float64) RiskTier {
	t := cfg.Thresholds
	switch {
	case pct >= t.Critical:
		return TierCritical
	case pct >= t.High:
		return TierHigh
	case pct >= t.Medium:
		return TierMedium
	default:
		return TierLow
	}
}
