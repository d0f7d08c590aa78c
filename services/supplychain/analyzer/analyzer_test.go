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
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chaintrace/services/supplychain/graph"
	"github.com/AleutianAI/chaintrace/services/supplychain/store"
)

// supplyEdge seeds one SUPPLIES relationship with a synthetic observation
// so the derived weight equals qty.
type supplyEdge struct {
	from, to string
	qty      float64
}

func seedStore(t *testing.T, edges []supplyEdge) *store.Memory {
	t.Helper()
	s := store.NewMemory()

	var muts []graph.Mutation
	seen := map[string]bool{}
	addOrg := func(key string) {
		if seen[key] {
			return
		}
		seen[key] = true
		muts = append(muts, graph.Mutation{Node: &graph.NodeUpsert{
			Label: graph.LabelOrganization,
			Key:   key,
		}})
	}

	for _, e := range edges {
		addOrg(e.from)
		addOrg(e.to)
		muts = append(muts, graph.Mutation{Relationship: &graph.RelationshipUpsert{
			Type:    graph.RelSupplies,
			FromKey: e.from,
			ToKey:   e.to,
			Observation: &graph.Observation{
				EventID:  "evt:" + e.from + ">" + e.to,
				Quantity: e.qty,
			},
		}})
	}

	_, err := s.RunWriteTransaction(context.Background(), muts)
	require.NoError(t, err)
	return s
}

func newAnalyzer(t *testing.T, s store.Adapter) *Analyzer {
	t.Helper()
	a, err := New(s, DefaultConfig(), slog.Default())
	require.NoError(t, err)
	return a
}

func TestAnalyzer_PathDiversityAndSPOF(t *testing.T) {
	ctx := context.Background()

	t.Run("redundant routes have no SPOF", func(t *testing.T) {
		// org:a -> org:b -> org:c and org:a -> org:d -> org:c.
		s := seedStore(t, []supplyEdge{
			{"org:a", "org:b", 5},
			{"org:b", "org:c", 5},
			{"org:a", "org:d", 5},
			{"org:d", "org:c", 5},
		})
		a := newAnalyzer(t, s)

		report, err := a.AnalyzeOrganizationRisk(ctx, "org:a", Params{Targets: []string{"org:c"}})
		require.NoError(t, err)

		require.Equal(t, StageCompleted, report.Stage)
		div := report.PathDiversityByTarget["org:c"]
		assert.Equal(t, 2, div.DisjointPaths)
		assert.False(t, div.PathCountIsLowerBound)
		assert.Empty(t, report.SPOFs, "neither intermediary alone disconnects org:c")
	})

	t.Run("single route pins the SPOF", func(t *testing.T) {
		s := seedStore(t, []supplyEdge{
			{"org:a", "org:b", 5},
			{"org:b", "org:c", 5},
		})
		a := newAnalyzer(t, s)

		report, err := a.AnalyzeOrganizationRisk(ctx, "org:a", Params{Targets: []string{"org:c"}})
		require.NoError(t, err)

		div := report.PathDiversityByTarget["org:c"]
		assert.Equal(t, 1, div.DisjointPaths)
		require.Len(t, report.SPOFs, 1)
		assert.Equal(t, "org:b", report.SPOFs[0].NodeKey)
		assert.Equal(t, []string{"org:c"}, report.SPOFs[0].AffectedTargets)
		assert.Greater(t, report.SPOFs[0].Severity, 0.0)
	})
}

func TestAnalyzer_ScoreMonotonicWithRedundancy(t *testing.T) {
	ctx := context.Background()
	target := "org:dst"

	buildFan := func(routes int) *store.Memory {
		var edges []supplyEdge
		for i := 0; i < routes; i++ {
			mid := "org:mid" + string(rune('a'+i))
			edges = append(edges,
				supplyEdge{"org:src", mid, 3},
				supplyEdge{mid, target, 3},
			)
		}
		return seedStore(t, edges)
	}

	one := newAnalyzer(t, buildFan(1))
	five := newAnalyzer(t, buildFan(5))

	rOne, err := one.AnalyzeOrganizationRisk(ctx, "org:src", Params{Targets: []string{target}})
	require.NoError(t, err)
	rFive, err := five.AnalyzeOrganizationRisk(ctx, "org:src", Params{Targets: []string{target}})
	require.NoError(t, err)

	assert.Equal(t, 1, rOne.PathDiversityByTarget[target].DisjointPaths)
	assert.Equal(t, 5, rFive.PathDiversityByTarget[target].DisjointPaths)
	assert.Less(t, rFive.Score, rOne.Score,
		"five disjoint routes must score lower risk than one")
}

func TestAnalyzer_BoundedSearchFlagsLowerBound(t *testing.T) {
	ctx := context.Background()

	t.Run("path cap", func(t *testing.T) {
		s := seedStore(t, []supplyEdge{
			{"org:a", "org:b", 1},
			{"org:b", "org:c", 1},
			{"org:a", "org:d", 1},
			{"org:d", "org:c", 1},
		})
		a := newAnalyzer(t, s)

		report, err := a.AnalyzeOrganizationRisk(ctx, "org:a", Params{
			Targets:  []string{"org:c"},
			MaxPaths: 1,
		})
		require.NoError(t, err)

		div := report.PathDiversityByTarget["org:c"]
		assert.Equal(t, 1, div.DisjointPaths)
		assert.True(t, div.PathCountIsLowerBound,
			"hitting the path cap with routes remaining must flag a lower bound")
	})

	t.Run("hop cap", func(t *testing.T) {
		// org:c is three hops out; a two-hop cap cuts the search off with
		// the frontier still live.
		s := seedStore(t, []supplyEdge{
			{"org:a", "org:m1", 1},
			{"org:m1", "org:m2", 1},
			{"org:m2", "org:c", 1},
		})
		a := newAnalyzer(t, s)

		report, err := a.AnalyzeOrganizationRisk(ctx, "org:a", Params{
			Targets: []string{"org:c"},
			MaxHops: 2,
		})
		require.NoError(t, err)

		div := report.PathDiversityByTarget["org:c"]
		assert.Zero(t, div.DisjointPaths)
		assert.True(t, div.PathCountIsLowerBound,
			"a hop-capped search that found nothing is still only a lower bound")
	})
}

func TestAnalyzer_UnknownTierForIsolatedOrg(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	_, err := s.RunWriteTransaction(ctx, []graph.Mutation{
		{Node: &graph.NodeUpsert{Label: graph.LabelOrganization, Key: "org:island"}},
	})
	require.NoError(t, err)

	a := newAnalyzer(t, s)
	report, err := a.AnalyzeOrganizationRisk(ctx, "org:island", Params{})
	require.NoError(t, err)

	assert.Equal(t, TierUnknown, report.Tier)
	assert.Equal(t, "UNKNOWN", report.TierName)
	assert.Equal(t, StageCompleted, report.Stage)
	assert.Zero(t, report.Score)
}

func TestAnalyzer_UnknownOrganization(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t, []supplyEdge{{"org:a", "org:b", 1}})
	a := newAnalyzer(t, s)

	_, err := a.AnalyzeOrganizationRisk(ctx, "org:nope", Params{})
	assert.ErrorIs(t, err, ErrUnknownOrganization)

	// A key that exists but is not an organization is equally unknown.
	_, err = s.RunWriteTransaction(ctx, []graph.Mutation{
		{Node: &graph.NodeUpsert{Label: graph.LabelLocation, Key: "loc:x"}},
	})
	require.NoError(t, err)
	_, err = a.AnalyzeOrganizationRisk(ctx, "loc:x", Params{})
	assert.ErrorIs(t, err, ErrUnknownOrganization)
}

func TestAnalyzer_ConcentrationReflectsDominance(t *testing.T) {
	ctx := context.Background()

	// One dominant supplier versus evenly spread volume.
	concentrated := seedStore(t, []supplyEdge{
		{"org:big", "org:hub", 97},
		{"org:s1", "org:hub", 1},
		{"org:s2", "org:hub", 1},
		{"org:s3", "org:hub", 1},
	})
	spread := seedStore(t, []supplyEdge{
		{"org:s1", "org:hub", 25},
		{"org:s2", "org:hub", 25},
		{"org:s3", "org:hub", 25},
		{"org:s4", "org:hub", 25},
	})

	rc, err := newAnalyzer(t, concentrated).AnalyzeOrganizationRisk(ctx, "org:hub", Params{})
	require.NoError(t, err)
	rs, err := newAnalyzer(t, spread).AnalyzeOrganizationRisk(ctx, "org:hub", Params{})
	require.NoError(t, err)

	assert.Greater(t, rc.SubScores.Concentration, rs.SubScores.Concentration)
	assert.InDelta(t, 0.25, rs.SubScores.Concentration, 0.001,
		"four equal shares give an HHI of 0.25")
}

func TestAnalyzer_GeographicRiskFromProps(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	_, err := s.RunWriteTransaction(ctx, []graph.Mutation{
		{Node: &graph.NodeUpsert{Label: graph.LabelOrganization, Key: "org:a"}},
		{Node: &graph.NodeUpsert{
			Label: graph.LabelOrganization,
			Key:   "org:risky",
			Props: map[string]any{"geopolitical": 0.9},
		}},
		{Relationship: &graph.RelationshipUpsert{
			Type: graph.RelSupplies, FromKey: "org:risky", ToKey: "org:a",
			Observation: &graph.Observation{EventID: "evt:1", Quantity: 10},
		}},
	})
	require.NoError(t, err)

	report, err := newAnalyzer(t, s).AnalyzeOrganizationRisk(ctx, "org:a", Params{})
	require.NoError(t, err)
	assert.Greater(t, report.SubScores.Geographic, 0.0)
}

func TestPredictDisruption_RemovedHub(t *testing.T) {
	ctx := context.Background()

	// org:src supplies everything through org:hub, which fans out to two
	// buyers.
	s := seedStore(t, []supplyEdge{
		{"org:src", "org:hub", 10},
		{"org:hub", "org:buy1", 6},
		{"org:hub", "org:buy2", 4},
	})
	a := newAnalyzer(t, s)

	forecast, err := a.PredictDisruption(ctx, "org:src", Scenario{
		RemoveNodes: []string{"org:hub"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, forecast.Baseline.ReachableTargets)
	assert.Zero(t, forecast.Perturbed.ReachableTargets)
	assert.InDelta(t, 10.0, forecast.Baseline.TotalVolume, 0.001)
	assert.Zero(t, forecast.Perturbed.TotalVolume)

	// buy1 and buy2 sit downstream of the removed hub and both lose every
	// inbound supply path.
	assert.Equal(t, 2, forecast.AffectedNodeCount)
	assert.InDelta(t, 100.0, forecast.AffectedPercentage, 0.001)
	assert.Equal(t, TierCritical, forecast.SeverityTier)
}

func TestPredictDisruption_CapacityReductionKeepsPaths(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t, []supplyEdge{
		{"org:src", "org:hub", 10},
		{"org:hub", "org:buy", 10},
	})
	a := newAnalyzer(t, s)

	forecast, err := a.PredictDisruption(ctx, "org:src", Scenario{
		RemoveNodes:          []string{"org:hub"},
		CapacityReductionPct: 50,
	})
	require.NoError(t, err)

	// A degraded hub still routes supply, at half the volume.
	assert.Equal(t, forecast.Baseline.ReachableTargets, forecast.Perturbed.ReachableTargets)
	assert.InDelta(t, forecast.Baseline.TotalVolume/2, forecast.Perturbed.TotalVolume, 0.001)
	assert.Zero(t, forecast.AffectedPercentage)
}

func TestPredictDisruption_NeverMutatesGraph(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t, []supplyEdge{
		{"org:src", "org:hub", 10},
		{"org:hub", "org:buy", 10},
	})
	a := newAnalyzer(t, s)

	before, err := s.CurrentGraphVersion(ctx)
	require.NoError(t, err)

	_, err = a.PredictDisruption(ctx, "org:src", Scenario{RemoveNodes: []string{"org:hub"}})
	require.NoError(t, err)

	after, err := s.CurrentGraphVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 3, s.Graph().NodeCount())
}

// timeoutStore wraps an adapter and fails every traversal with a timeout.
type timeoutStore struct {
	store.Adapter
}

func (f *timeoutStore) RunTraversal(ctx context.Context, q store.TraversalQuery) ([]store.Row, error) {
	if q.Op == store.OpNode {
		return f.Adapter.RunTraversal(ctx, q)
	}
	return nil, store.ErrTraversalTimeout
}

func TestAnalyzer_TimeoutYieldsFailedStage(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t, []supplyEdge{{"org:a", "org:b", 1}})
	a, err := New(&timeoutStore{Adapter: s}, DefaultConfig(), slog.Default())
	require.NoError(t, err)

	report, err := a.AnalyzeOrganizationRisk(ctx, "org:a", Params{})
	require.Error(t, err)
	require.NotNil(t, report)

	assert.Equal(t, StageFailed, report.Stage)
	assert.Equal(t, "PATH_ANALYSIS", report.FailedStage)
	assert.Equal(t, FailureTimeout, report.FailureReason)
}

// corruptStore wraps an adapter and answers neighbor traversals with a row
// that has no relationship attached.
type corruptStore struct {
	store.Adapter
}

func (c *corruptStore) RunTraversal(ctx context.Context, q store.TraversalQuery) ([]store.Row, error) {
	if q.Op == store.OpNode {
		return c.Adapter.RunTraversal(ctx, q)
	}
	return []store.Row{{Node: &graph.Node{Key: "org:b"}}}, nil
}

func TestAnalyzer_InvariantViolationYieldsDistinctReason(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t, []supplyEdge{{"org:a", "org:b", 1}})
	a, err := New(&corruptStore{Adapter: s}, DefaultConfig(), slog.Default())
	require.NoError(t, err)

	report, err := a.AnalyzeOrganizationRisk(ctx, "org:a", Params{})
	require.ErrorIs(t, err, ErrInvariantViolation)
	require.NotNil(t, report)

	assert.Equal(t, StageFailed, report.Stage)
	assert.Equal(t, FailureInvariantViolation, report.FailureReason,
		"corrupt graph data is not a store outage")
}

func TestConfig_Validate(t *testing.T) {
	t.Run("defaults pass", func(t *testing.T) {
		assert.NoError(t, DefaultConfig().Validate())
	})
	t.Run("weights must sum to one", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Weights.SPOF = 0.5
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)
	})
	t.Run("thresholds must be ordered", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Thresholds.High = 10
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)
	})
	t.Run("limits must be positive", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxVisited = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)
	})
}

func TestParams_Fingerprint(t *testing.T) {
	a := Params{Targets: []string{"org:b", "org:a"}, MaxHops: 3}
	b := Params{Targets: []string{"org:a", "org:b"}, MaxHops: 3}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "target order must not matter")

	c := Params{Targets: []string{"org:a", "org:b"}, MaxHops: 4}
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
