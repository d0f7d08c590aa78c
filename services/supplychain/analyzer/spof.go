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
	"sort"
)

// detectSPOFs flags intermediate nodes whose removal disconnects the
// organization from at least one counterparty.
//
// Description:
//
//	For every interior node discovered during path analysis, the search is
//	re-run on a view with that node excluded. A target that was reachable
//	at baseline and becomes unreachable marks the node as a single point
//	of failure. Severity is the summed weight share of the affected
//	counterparties, so losing the top customer scores higher than losing a
//	marginal one.
func (a *Analyzer) detectSPOFs(
	ctx context.Context,
	v *view,
	org string,
	targets []string,
	diversity map[string]PathDiversity,
	candidates map[string]bool,
	targetWeights map[string]float64,
) ([]SPOF, error) {
	cfg := a.config()

	totalWeight := 0.0
	for _, w := range targetWeights {
		totalWeight += w
	}

	var spofs []SPOF
	for candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return spofs, err
		}

		removed := v.withoutNode(candidate)
		var affected []string
		severity := 0.0

		for _, target := range targets {
			if target == candidate {
				continue
			}
			base, ok := diversity[target]
			if !ok || base.DisjointPaths == 0 {
				continue
			}

			budget := cfg.MaxVisited
			path, _, err := removed.shortestPath(ctx, org, target, cfg.MaxHops, map[string]bool{}, false, &budget, map[string]bool{})
			if err != nil {
				return spofs, err
			}
			if path == nil {
				affected = append(affected, target)
				if totalWeight > 0 {
					severity += targetWeights[target] / totalWeight
				}
			}
		}

		if len(affected) > 0 {
			if totalWeight <= 0 {
				severity = float64(len(affected)) / float64(len(targets))
			}
			sort.Strings(affected)
			spofs = append(spofs, SPOF{
				NodeKey:         candidate,
				Severity:        clamp01(severity),
				AffectedTargets: affected,
			})
		}
	}

	// Most severe first; ties break on node key for determinism.
	sort.Slice(spofs, func(i, j int) bool {
		if spofs[i].Severity != spofs[j].Severity {
			return spofs[i].Severity > spofs[j].Severity
		}
		return spofs[i].NodeKey < spofs[j].NodeKey
	})
	return spofs, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
