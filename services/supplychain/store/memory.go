// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"sync/atomic"

	"github.com/AleutianAI/chaintrace/services/supplychain/graph"
)

// Memory is the in-memory store engine.
//
// Thread Safety:
//
//	Safe for concurrent use. Write serialization and read snapshots are
//	provided by the underlying graph.
type Memory struct {
	g      *graph.Graph
	closed atomic.Bool
}

// NewMemory creates an in-memory engine. Graph options (capacity limits,
// weight decay) are forwarded to the underlying graph.
func NewMemory(opts ...graph.Option) *Memory {
	return &Memory{g: graph.New(opts...)}
}

// Graph exposes the underlying graph. Intended for tests that need to seed
// state directly.
func (m *Memory) Graph() *graph.Graph {
	return m.g
}

// UpsertNode applies a single node mutation.
func (m *Memory) UpsertNode(ctx context.Context, u graph.NodeUpsert) error {
	_, err := m.RunWriteTransaction(ctx, []graph.Mutation{{Node: &u}})
	return err
}

// UpsertRelationship applies a single relationship mutation.
func (m *Memory) UpsertRelationship(ctx context.Context, u graph.RelationshipUpsert) error {
	_, err := m.RunWriteTransaction(ctx, []graph.Mutation{{Relationship: &u}})
	return err
}

// RunWriteTransaction atomically applies a batch of mutations.
func (m *Memory) RunWriteTransaction(ctx context.Context, muts []graph.Mutation) (TxResult, error) {
	if m.closed.Load() {
		return TxResult{}, ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return TxResult{}, err
	}
	changed, version, err := m.g.ApplyMutations(muts)
	if err != nil {
		return TxResult{}, err
	}
	return TxResult{Changed: changed, GraphVersion: version}, nil
}

// RunTraversal executes a bounded read query against the in-memory graph.
func (m *Memory) RunTraversal(ctx context.Context, q TraversalQuery) ([]Row, error) {
	if m.closed.Load() {
		return nil, ErrStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout(q))
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, ErrTraversalTimeout
	}

	switch q.Op {
	case OpNode:
		n, ok := m.g.GetNode(q.Key)
		if !ok {
			return nil, nil
		}
		return []Row{{Node: &n}}, nil

	case OpNeighbors:
		rels := m.g.Neighbors(q.Key, q.Direction, q.RelTypes)
		rows := make([]Row, 0, len(rels))
		for i := range rels {
			if q.Limit > 0 && len(rows) >= q.Limit {
				break
			}
			rows = append(rows, Row{Relationship: &rels[i]})
		}
		return rows, nil

	case OpNodesByLabel:
		keys := m.g.NodeKeysByLabel(q.Label)
		rows := make([]Row, 0, len(keys))
		for _, key := range keys {
			if q.Limit > 0 && len(rows) >= q.Limit {
				break
			}
			if n, ok := m.g.GetNode(key); ok {
				rows = append(rows, Row{Node: &n})
			}
		}
		return rows, nil

	default:
		return nil, ErrUnsupportedQuery
	}
}

// CurrentGraphVersion returns the version of the last state-changing commit.
func (m *Memory) CurrentGraphVersion(ctx context.Context) (int64, error) {
	if m.closed.Load() {
		return 0, ErrStoreClosed
	}
	return m.g.Version(), nil
}

// Close marks the engine closed. Subsequent calls fail with ErrStoreClosed.
func (m *Memory) Close() error {
	m.closed.Store(true)
	return nil
}
