// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chaintrace/services/supplychain/graph"
	"github.com/AleutianAI/chaintrace/services/supplychain/store"
)

// validEvent returns a well-formed transaction event.
func validEvent(i int) RawEvent {
	return RawEvent{
		EventType:       "transaction",
		Timestamp:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
		LocationRef:     fmt.Sprintf("fac-%d", i%3),
		AssetRefs:       []string{fmt.Sprintf("sku-%d", i)},
		OrganizationRef: fmt.Sprintf("supplier-%d", i%5),
		CounterpartyRef: "buyer-1",
		BusinessStep:    "shipping",
		Quantity:        2,
	}
}

func TestPipeline_PartialFailure(t *testing.T) {
	s := store.NewMemory()
	defer s.Close()
	p := New(s, DefaultConfig(), nil)

	batch := make([]RawEvent, 0, 100)
	for i := 0; i < 100; i++ {
		ev := validEvent(i)
		switch i {
		case 3:
			ev.Timestamp = "yesterday-ish"
		case 17:
			ev.EventType = "teleportation"
		case 42:
			ev.LocationRef = ""
		case 60:
			ev.AssetRefs = nil
		case 88:
			ev.CounterpartyRef = ""
		}
		batch = append(batch, ev)
	}

	result, err := p.Ingest(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, 95, result.Accepted)
	assert.Equal(t, 5, result.Rejected)
	require.Len(t, result.Rejections, 5)

	byIndex := make(map[int]string)
	for _, r := range result.Rejections {
		byIndex[r.Index] = r.Reason
	}
	assert.Equal(t, ReasonBadTimestamp, byIndex[3])
	assert.Equal(t, ReasonUnknownEventType, byIndex[17])
	assert.True(t, strings.HasPrefix(byIndex[42], ReasonMissingField), byIndex[42])
	assert.True(t, strings.HasPrefix(byIndex[60], ReasonMissingField), byIndex[60])
	assert.Equal(t, ReasonMissingCounterparty, byIndex[88])

	assert.Greater(t, result.GraphVersion, int64(0))
}

func TestPipeline_IdempotentReplay(t *testing.T) {
	s := store.NewMemory()
	defer s.Close()
	p := New(s, DefaultConfig(), nil)
	ctx := context.Background()

	batch := []RawEvent{validEvent(0), validEvent(1), validEvent(2)}

	first, err := p.Ingest(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 3, first.Accepted)

	nodes := s.Graph().NodeCount()
	rels := s.Graph().RelationshipCount()
	versionAfterFirst := first.GraphVersion

	second, err := p.Ingest(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Accepted, "replayed records still count as accepted")

	assert.Equal(t, nodes, s.Graph().NodeCount(), "replay must not create nodes")
	assert.Equal(t, rels, s.Graph().RelationshipCount(), "replay must not create relationships")
	assert.Equal(t, versionAfterFirst, second.GraphVersion, "no-op batch must not advance version")

	r, ok := s.Graph().GetRelationship(graph.RelSupplies, OrgKey("supplier-0"), OrgKey("buyer-1"))
	require.True(t, ok)
	assert.Equal(t, 2.0, r.Weight, "replay must not double-count weight")
}

func TestPipeline_NestedPropsReplay(t *testing.T) {
	s := store.NewMemory()
	defer s.Close()
	p := New(s, DefaultConfig(), nil)
	ctx := context.Background()

	ev := validEvent(0)
	ev.LocationProps = map[string]any{
		"coordinates": map[string]any{"lat": 37.8, "lon": -122.3},
	}
	ev.Extra = map[string]any{
		"lot_numbers": []any{"lot-18", "lot-19"},
	}

	first, err := p.Ingest(ctx, []RawEvent{ev})
	require.NoError(t, err)
	require.Equal(t, 1, first.Accepted)

	second, err := p.Ingest(ctx, []RawEvent{ev})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Accepted)
	assert.Equal(t, 0, second.Rejected)
	assert.Equal(t, first.GraphVersion, second.GraphVersion,
		"replay with nested props must not advance version")
}

func TestPipeline_MonotonicVersion(t *testing.T) {
	s := store.NewMemory()
	defer s.Close()
	p := New(s, DefaultConfig(), nil)
	ctx := context.Background()

	before, err := s.CurrentGraphVersion(ctx)
	require.NoError(t, err)

	result, err := p.Ingest(ctx, []RawEvent{validEvent(0)})
	require.NoError(t, err)
	assert.Greater(t, result.GraphVersion, before)

	// A batch that rejects everything leaves the version alone.
	empty, err := p.Ingest(ctx, []RawEvent{{EventType: "nope"}})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Accepted)
	assert.Equal(t, result.GraphVersion, empty.GraphVersion)
}

// flakyStore wraps an adapter and fails the first failures commits.
type flakyStore struct {
	store.Adapter
	failures int32
}

func (f *flakyStore) RunWriteTransaction(ctx context.Context, muts []graph.Mutation) (store.TxResult, error) {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return store.TxResult{}, fmt.Errorf("%w: injected", store.ErrStoreUnavailable)
	}
	return f.Adapter.RunWriteTransaction(ctx, muts)
}

func TestPipeline_RetriesTransientFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Workers = 1

	t.Run("recovers within retry budget", func(t *testing.T) {
		s := store.NewMemory()
		defer s.Close()
		p := New(&flakyStore{Adapter: s, failures: 2}, cfg, nil)

		result, err := p.Ingest(context.Background(), []RawEvent{validEvent(0)})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Accepted)
		assert.Equal(t, 0, result.Rejected)
	})

	t.Run("exhausted retries reject the sub-batch", func(t *testing.T) {
		s := store.NewMemory()
		defer s.Close()
		p := New(&flakyStore{Adapter: s, failures: 100}, cfg, nil)

		result, err := p.Ingest(context.Background(), []RawEvent{validEvent(0), validEvent(1)})
		require.NoError(t, err)
		assert.Equal(t, 0, result.Accepted)
		assert.Equal(t, 2, result.Rejected)
		for _, r := range result.Rejections {
			assert.Equal(t, ReasonStoreUnavailable, r.Reason)
		}
	})
}

// rejectingStore fails every commit with a permanent graph validation error.
type rejectingStore struct {
	store.Adapter
}

func (r *rejectingStore) RunWriteTransaction(ctx context.Context, muts []graph.Mutation) (store.TxResult, error) {
	return store.TxResult{}, fmt.Errorf("apply mutations: %w", graph.ErrLabelMismatch)
}

func TestPipeline_PermanentCommitFailureReason(t *testing.T) {
	s := store.NewMemory()
	defer s.Close()
	cfg := DefaultConfig()
	cfg.Retry.InitialBackoff = time.Millisecond
	p := New(&rejectingStore{Adapter: s}, cfg, nil)

	result, err := p.Ingest(context.Background(), []RawEvent{validEvent(0), validEvent(1)})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Accepted)
	require.Len(t, result.Rejections, 2)
	for _, r := range result.Rejections {
		assert.Equal(t, ReasonCommitRejected, r.Reason,
			"a validation rejection is not a store outage")
	}
}

func TestPipeline_SubBatchBoundaries(t *testing.T) {
	// Tiny batch size forces one transaction per event; every event's
	// mutations must still commit together.
	s := store.NewMemory()
	defer s.Close()
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	p := New(s, cfg, nil)

	batch := []RawEvent{validEvent(0), validEvent(1), validEvent(2)}
	result, err := p.Ingest(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Accepted)

	// Every relationship endpoint must exist.
	for _, key := range []string{OrgKey("supplier-0"), OrgKey("buyer-1"), LocationKey("fac-0")} {
		_, ok := s.Graph().GetNode(key)
		assert.True(t, ok, "missing node %s", key)
	}
}

func TestEventID_Deterministic(t *testing.T) {
	a := validEvent(7)
	b := validEvent(7)
	// Asset order must not matter.
	a.AssetRefs = []string{"x", "y"}
	b.AssetRefs = []string{"y", "x"}
	assert.Equal(t, a.EventID(), b.EventID())

	c := validEvent(7)
	c.Timestamp = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)
	assert.NotEqual(t, a.EventID(), c.EventID())
}
