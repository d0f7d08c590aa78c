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
	"fmt"

	"github.com/AleutianAI/chaintrace/services/supplychain/graph"
	"github.com/AleutianAI/chaintrace/services/supplychain/store"
)

// view is a read-only traversal lens over the store, optionally perturbed
// by node/edge exclusion sets. Perturbation never touches the stored graph;
// excluded elements are simply filtered out of traversal results.
type view struct {
	a            *Analyzer
	excludeNodes map[string]bool
	excludeEdges map[string]bool // keyed "from>to"
}

func (a *Analyzer) baseView() *view {
	return &view{a: a}
}

func (a *Analyzer) perturbedView(s Scenario) *view {
	v := &view{
		a:            a,
		excludeNodes: make(map[string]bool, len(s.RemoveNodes)),
		excludeEdges: make(map[string]bool, len(s.RemoveEdges)),
	}
	// A partial capacity reduction keeps the nodes in the view; only a
	// full reduction (or none specified, meaning removal) excludes them.
	removeNodes := s.CapacityReductionPct <= 0 || s.CapacityReductionPct >= 100
	if removeNodes {
		for _, key := range s.RemoveNodes {
			v.excludeNodes[key] = true
		}
	}
	for _, e := range s.RemoveEdges {
		v.excludeEdges[e.From+">"+e.To] = true
	}
	return v
}

// withoutNode returns a copy of the view that additionally excludes one
// node. Used by SPOF detection.
func (v *view) withoutNode(key string) *view {
	out := &view{
		a:            v.a,
		excludeNodes: make(map[string]bool, len(v.excludeNodes)+1),
		excludeEdges: v.excludeEdges,
	}
	for k := range v.excludeNodes {
		out.excludeNodes[k] = true
	}
	out.excludeNodes[key] = true
	return out
}

// supplies returns the SUPPLIES relationships adjacent to key in the given
// direction, with exclusions applied.
func (v *view) supplies(ctx context.Context, key string, dir graph.Direction) ([]graph.Relationship, error) {
	rows, err := v.a.store.RunTraversal(ctx, store.TraversalQuery{
		Op:        store.OpNeighbors,
		Key:       key,
		Direction: dir,
		RelTypes:  []graph.RelType{graph.RelSupplies},
		Timeout:   v.a.config().TraversalTimeout,
	})
	if err != nil {
		return nil, err
	}

	out := make([]graph.Relationship, 0, len(rows))
	for _, row := range rows {
		r := row.Relationship
		if r == nil {
			return nil, fmt.Errorf("%w: neighbors query returned non-relationship row", ErrInvariantViolation)
		}
		if v.excludeEdges[r.FromKey+">"+r.ToKey] {
			continue
		}
		if v.excludeNodes[r.FromKey] || v.excludeNodes[r.ToKey] {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// adjacent returns the org keys adjacent to key over SUPPLIES edges,
// treating the supply graph as undirected for connectivity analysis.
func (v *view) adjacent(ctx context.Context, key string) ([]string, error) {
	rels, err := v.supplies(ctx, key, graph.DirBoth)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rels))
	seen := make(map[string]bool, len(rels))
	for _, r := range rels {
		other := r.ToKey
		if other == key {
			other = r.FromKey
		}
		if !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	return out, nil
}

// pathSearch is the outcome of disjoint-path counting toward one target.
type pathSearch struct {
	// count is the number of vertex-disjoint paths found.
	count int

	// lowerBound is true when a hop, path, or work cap truncated the
	// search, so the true count may be higher.
	lowerBound bool

	// interior holds the intermediate nodes of every discovered path.
	// These are the SPOF candidates.
	interior map[string]bool

	// visited holds every node expanded during the search, for
	// geographic scoring.
	visited map[string]bool
}

// countDisjointPaths counts vertex-disjoint paths from src to dst.
//
// Description:
//
//	Uses max-flow-style path peeling: repeatedly find a shortest path with
//	bounded BFS, then ban its interior vertices and search again. Each
//	banned set guarantees the next path is vertex-disjoint from all
//	previous ones. The search is bounded three ways: the hop cap, the
//	disjoint-path cap, and a shared node-expansion budget. Hitting any cap
//	marks the result as a lower bound rather than an exact count.
func (v *view) countDisjointPaths(ctx context.Context, src, dst string, maxHops, maxPaths int, budget *int) (pathSearch, error) {
	result := pathSearch{
		interior: make(map[string]bool),
		visited:  make(map[string]bool),
	}
	banned := make(map[string]bool)
	skipDirect := false

	for result.count < maxPaths {
		path, truncated, err := v.shortestPath(ctx, src, dst, maxHops, banned, skipDirect, budget, result.visited)
		if err != nil {
			return result, err
		}
		if path == nil {
			if truncated {
				result.lowerBound = true
			}
			return result, nil
		}

		result.count++
		for _, key := range path {
			result.visited[key] = true
		}
		if len(path) == 2 {
			// A direct edge has no interior to ban. Skip it on later
			// iterations so the search moves on to indirect routes.
			skipDirect = true
			continue
		}
		for _, key := range path[1 : len(path)-1] {
			banned[key] = true
			result.interior[key] = true
		}
	}

	// Path cap reached with paths still being found.
	result.lowerBound = true
	return result, nil
}

// shortestPath runs a bounded BFS and returns the node keys from src to dst
// inclusive, or nil when no path exists within the bounds. truncated
// reports whether the hop cap or work budget cut the search short.
func (v *view) shortestPath(ctx context.Context, src, dst string, maxHops int, banned map[string]bool, skipDirect bool, budget *int, visited map[string]bool) ([]string, bool, error) {
	if src == dst {
		return []string{src}, false, nil
	}

	parent := map[string]string{src: ""}
	frontier := []string{src}
	truncated := false

	for depth := 0; depth < maxHops && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, true, err
		}

		var next []string
		for _, key := range frontier {
			if *budget <= 0 {
				return nil, true, nil
			}
			*budget--
			visited[key] = true

			adj, err := v.adjacent(ctx, key)
			if err != nil {
				return nil, false, err
			}
			for _, other := range adj {
				if other == dst {
					if skipDirect && key == src {
						continue
					}
					parent[other] = key
					return reconstructPath(parent, src, dst), false, nil
				}
				if banned[other] {
					continue
				}
				if _, seen := parent[other]; seen {
					continue
				}
				parent[other] = key
				next = append(next, other)
			}
		}
		frontier = next
	}

	// Anything left in the frontier was cut off by the hop cap.
	if len(frontier) > 0 {
		truncated = true
	}
	return nil, truncated, nil
}

func reconstructPath(parent map[string]string, src, dst string) []string {
	var rev []string
	for key := dst; key != ""; key = parent[key] {
		rev = append(rev, key)
		if key == src {
			break
		}
	}
	path := make([]string, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	return path
}

// downstream returns the organizations reachable from src following
// outgoing SUPPLIES edges, bounded by the hop cap. These are the
// organizations that depend on src for supply.
func (v *view) downstream(ctx context.Context, src string, maxHops int) (map[string]bool, error) {
	out := make(map[string]bool)
	frontier := []string{src}

	for depth := 0; depth < maxHops && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		var next []string
		for _, key := range frontier {
			rels, err := v.supplies(ctx, key, graph.DirOutgoing)
			if err != nil {
				return out, err
			}
			for _, r := range rels {
				if r.ToKey == src || out[r.ToKey] {
					continue
				}
				out[r.ToKey] = true
				next = append(next, r.ToKey)
			}
		}
		frontier = next
	}
	return out, nil
}
