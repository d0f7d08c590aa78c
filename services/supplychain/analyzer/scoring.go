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
	"github.com/AleutianAI/chaintrace/services/supplychain/store"
)

// geoLookupCap bounds how many node fetches geographic scoring performs
// for a single report. Visited sets are already budget-limited, this is
// a second line against pathological neighborhoods.
const geoLookupCap = 256

// concentrationHHI computes a Herfindahl index over counterparty weight
// shares. 1.0 means a single counterparty carries all volume, values near
// zero mean volume is spread across many counterparties.
func concentrationHHI(weights map[string]float64) float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0
	}
	hhi := 0.0
	for _, w := range weights {
		share := w / total
		hhi += share * share
	}
	return clamp01(hhi)
}

// diversitySubScore converts per-target disjoint path counts into a 0..1
// risk contribution. Each target contributes 1/paths, so a target with a
// single route is maximal risk and extra routes decay it hyperbolically.
func diversitySubScore(diversity map[string]PathDiversity) float64 {
	if len(diversity) == 0 {
		return 1
	}
	sum := 0.0
	for _, d := range diversity {
		if d.DisjointPaths <= 0 {
			sum += 1
			continue
		}
		sum += 1 / float64(d.DisjointPaths)
	}
	return clamp01(sum / float64(len(diversity)))
}

// spofSubScore is the severity of the worst single point of failure. The
// list is sorted most-severe-first by detectSPOFs.
func spofSubScore(spofs []SPOF) float64 {
	if len(spofs) == 0 {
		return 0
	}
	return clamp01(spofs[0].Severity)
}

// geographicRisk averages the "geopolitical" property over the nodes
// touched during path analysis. Nodes without the property are neutral
// and excluded from the average.
func (a *Analyzer) geographicRisk(ctx context.Context, visited map[string]bool) (float64, error) {
	sum := 0.0
	count := 0
	looked := 0

	for key := range visited {
		if looked >= geoLookupCap {
			break
		}
		looked++

		rows, err := a.store.RunTraversal(ctx, store.TraversalQuery{
			Op:      store.OpNode,
			Key:     key,
			Timeout: a.config().TraversalTimeout,
		})
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 || rows[0].Node == nil {
			continue
		}
		if v, ok := propFloat(rows[0].Node.Props, "geopolitical"); ok {
			sum += clamp01(v)
			count++
		}
	}

	if count == 0 {
		return 0, nil
	}
	return sum / float64(count), nil
}

// propFloat pulls a numeric property out of a props map. Values arrive
// as float64 after a JSON round trip through the badger engine but may
// still be native ints on the in-memory engine.
func propFloat(props map[string]any, key string) (float64, bool) {
	raw, ok := props[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// composeScore blends the sub-scores into a 0-100 risk score and maps it
// onto a tier using the configured thresholds.
func composeScore(cfg *Config, sub SubScores) (float64, RiskTier) {
	w := cfg.Weights
	raw := sub.PathDiversity*w.PathDiversity +
		sub.Concentration*w.Concentration +
		sub.Geographic*w.Geographic +
		sub.SPOF*w.SPOF

	score := clamp01(raw) * 100

	t := cfg.Thresholds
	switch {
	case score >= t.Critical:
		return score, TierCritical
	case score >= t.High:
		return score, TierHigh
	case score >= t.Medium:
		return score, TierMedium
	default:
		return score, TierLow
	}
}

// counterpartyWeights collects SUPPLIES weights incident to org, keyed
// by counterparty. Both directions count: suppliers and customers are
// both concentration exposure.
func counterpartyWeights(rels []graph.Relationship, org string) map[string]float64 {
	weights := make(map[string]float64, len(rels))
	for _, r := range rels {
		other := r.ToKey
		if other == org {
			other = r.FromKey
		}
		if other == org {
			continue
		}
		weights[other] += r.Weight
	}
	return weights
}
