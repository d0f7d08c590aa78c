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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chaintrace/services/supplychain/analyzer"
	"github.com/AleutianAI/chaintrace/services/supplychain/graph"
	"github.com/AleutianAI/chaintrace/services/supplychain/store"
)

// fakeAnalyzer counts calls and lets tests control outcomes and pacing.
type fakeAnalyzer struct {
	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	// gate, when non-nil, blocks every call until closed.
	gate chan struct{}

	// respond overrides the default success response when non-nil. The
	// argument is the 1-based call number.
	respond func(call int32) (*analyzer.RiskReport, error)
}

func (f *fakeAnalyzer) AnalyzeOrganizationRisk(ctx context.Context, orgKey string, _ analyzer.Params) (*analyzer.RiskReport, error) {
	call := f.calls.Add(1)

	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.respond != nil {
		return f.respond(call)
	}
	return &analyzer.RiskReport{OrgKey: orgKey, Tier: analyzer.TierLow}, nil
}

func (f *fakeAnalyzer) PredictDisruption(ctx context.Context, orgKey string, _ analyzer.Scenario) (*analyzer.DisruptionForecast, error) {
	return &analyzer.DisruptionForecast{}, nil
}

func newOrchestrator(t *testing.T, fa *fakeAnalyzer, s store.Adapter, mutate func(*Config)) *Orchestrator {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(fa, s, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(o.Stop)
	return o
}

func TestOrchestrator_SingleFlightDeduplicates(t *testing.T) {
	ctx := context.Background()
	fa := &fakeAnalyzer{gate: make(chan struct{})}
	o := newOrchestrator(t, fa, store.NewMemory(), nil)

	const callers = 10
	var wg sync.WaitGroup
	reports := make([]*analyzer.RiskReport, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i], errs[i] = o.Analyze(ctx, "org:acme", analyzer.Params{})
		}(i)
	}

	// Give all callers time to join the flight, then release it.
	time.Sleep(50 * time.Millisecond)
	close(fa.gate)
	wg.Wait()

	assert.Equal(t, int32(1), fa.calls.Load(),
		"concurrent identical requests must collapse into one analysis")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, reports[0], reports[i])
	}
	assert.Greater(t, o.Stats().SharedFlights, int64(0))
}

func TestOrchestrator_CachesCompletedReports(t *testing.T) {
	ctx := context.Background()
	fa := &fakeAnalyzer{}
	o := newOrchestrator(t, fa, store.NewMemory(), nil)

	first, err := o.Analyze(ctx, "org:acme", analyzer.Params{})
	require.NoError(t, err)
	second, err := o.Analyze(ctx, "org:acme", analyzer.Params{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), fa.calls.Load())
	assert.Same(t, first, second)
	assert.Equal(t, int64(1), o.Stats().Hits)
}

func TestOrchestrator_GraphVersionInvalidates(t *testing.T) {
	ctx := context.Background()
	fa := &fakeAnalyzer{}
	s := store.NewMemory()
	o := newOrchestrator(t, fa, s, nil)

	_, err := o.Analyze(ctx, "org:acme", analyzer.Params{})
	require.NoError(t, err)

	// A committed write advances the graph version and with it the cache
	// key; the old report is no longer addressable.
	_, err = s.RunWriteTransaction(ctx, []graph.Mutation{
		{Node: &graph.NodeUpsert{Label: graph.LabelOrganization, Key: "org:new"}},
	})
	require.NoError(t, err)

	_, err = o.Analyze(ctx, "org:acme", analyzer.Params{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), fa.calls.Load())
}

func TestOrchestrator_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	fa := &fakeAnalyzer{}
	o := newOrchestrator(t, fa, store.NewMemory(), func(c *Config) {
		c.TTL = time.Millisecond
	})

	_, err := o.Analyze(ctx, "org:acme", analyzer.Params{})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = o.Analyze(ctx, "org:acme", analyzer.Params{})
	require.NoError(t, err)

	assert.Equal(t, int32(2), fa.calls.Load())
}

func TestOrchestrator_FailedAnalysesNotCached(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("traversal broke")
	fa := &fakeAnalyzer{respond: func(int32) (*analyzer.RiskReport, error) {
		return nil, boom
	}}
	o := newOrchestrator(t, fa, store.NewMemory(), func(c *Config) {
		c.RetryTimeouts = false
	})

	_, err := o.Analyze(ctx, "org:acme", analyzer.Params{})
	assert.ErrorIs(t, err, boom)
	_, err = o.Analyze(ctx, "org:acme", analyzer.Params{})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, int32(2), fa.calls.Load(), "failures must not be served from cache")
	assert.Equal(t, int64(2), o.Stats().Failures)
	assert.Zero(t, o.Stats().Entries)
}

func TestOrchestrator_RetriesTimeoutOnce(t *testing.T) {
	ctx := context.Background()
	fa := &fakeAnalyzer{respond: func(call int32) (*analyzer.RiskReport, error) {
		if call == 1 {
			return &analyzer.RiskReport{
				OrgKey:        "org:acme",
				FailureReason: analyzer.FailureTimeout,
			}, store.ErrTraversalTimeout
		}
		return &analyzer.RiskReport{OrgKey: "org:acme", Tier: analyzer.TierLow}, nil
	}}
	o := newOrchestrator(t, fa, store.NewMemory(), nil)

	report, err := o.Analyze(ctx, "org:acme", analyzer.Params{})
	require.NoError(t, err)
	assert.Equal(t, analyzer.TierLow, report.Tier)
	assert.Equal(t, int32(2), fa.calls.Load())
	assert.Equal(t, int64(1), o.Stats().Retries)
}

func TestOrchestrator_BatchBoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	fa := &fakeAnalyzer{respond: func(int32) (*analyzer.RiskReport, error) {
		time.Sleep(20 * time.Millisecond)
		return &analyzer.RiskReport{}, nil
	}}
	o := newOrchestrator(t, fa, store.NewMemory(), func(c *Config) {
		c.MaxConcurrency = 2
	})

	orgs := []string{"org:a", "org:b", "org:c", "org:d", "org:e", "org:f"}
	out := o.BatchAnalyze(ctx, orgs, analyzer.Params{})

	require.Len(t, out, len(orgs))
	for _, org := range orgs {
		require.NoError(t, out[org].Err)
		assert.NotNil(t, out[org].Report)
	}
	assert.LessOrEqual(t, fa.maxInFlight.Load(), int32(2))
}

func TestOrchestrator_BatchCollectsPartialFailures(t *testing.T) {
	ctx := context.Background()
	fa := &fakeAnalyzer{respond: func(call int32) (*analyzer.RiskReport, error) {
		if call == 1 {
			return nil, analyzer.ErrUnknownOrganization
		}
		return &analyzer.RiskReport{}, nil
	}}
	o := newOrchestrator(t, fa, store.NewMemory(), func(c *Config) {
		c.MaxConcurrency = 1 // deterministic call ordering
	})

	out := o.BatchAnalyze(ctx, []string{"org:a", "org:b"}, analyzer.Params{})
	require.Len(t, out, 2)

	failed := 0
	for _, item := range out {
		if item.Err != nil {
			failed++
			assert.NotEmpty(t, item.Error)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestOrchestrator_AsyncFuture(t *testing.T) {
	ctx := context.Background()
	fa := &fakeAnalyzer{}
	o := newOrchestrator(t, fa, store.NewMemory(), nil)

	f := o.AnalyzeAsync(ctx, "org:acme", analyzer.Params{})
	assert.NotEmpty(t, f.RequestID)

	report, err := f.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "org:acme", report.OrgKey)
}

func TestOrchestrator_SimulateRecordsDuration(t *testing.T) {
	ctx := context.Background()
	fa := &fakeAnalyzer{}
	o := newOrchestrator(t, fa, store.NewMemory(), nil)

	before := histogramSamples(t, analysisDuration.WithLabelValues("simulate"))

	_, err := o.Simulate(ctx, "org:acme", analyzer.Scenario{})
	require.NoError(t, err)

	after := histogramSamples(t, analysisDuration.WithLabelValues("simulate"))
	assert.Equal(t, before+1, after,
		"every simulation must land in the typed duration histogram")
}

func histogramSamples(t *testing.T, obs prometheus.Observer) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, obs.(prometheus.Histogram).Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestOrchestrator_StopRejectsNewWork(t *testing.T) {
	fa := &fakeAnalyzer{}
	o, err := New(fa, store.NewMemory(), DefaultConfig(), nil)
	require.NoError(t, err)
	o.Stop()

	_, err = o.Analyze(context.Background(), "org:acme", analyzer.Params{})
	assert.ErrorIs(t, err, ErrOrchestratorClosed)

	_, err = o.Simulate(context.Background(), "org:acme", analyzer.Scenario{})
	assert.ErrorIs(t, err, ErrOrchestratorClosed)
}
