// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store defines the graph store adapter boundary and its engines.
//
// The adapter abstracts the underlying graph-capable storage so that the
// ingestion pipeline and the risk analyzer are expressed against an abstract
// upsert/traversal capability rather than a vendor query dialect. Two
// engines are provided:
//
//   - Memory: in-memory engine over the graph model. Default for tests and
//     single-process deployments.
//   - Badger: BadgerDB-backed engine for embedded persistence with
//     low-latency access.
//
// All operations are context-aware; traversals additionally honor a bounded
// per-query timeout.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/chaintrace/services/supplychain/graph"
)

// Sentinel errors for store operations.
var (
	// ErrStoreUnavailable indicates a transient store failure. Callers may
	// retry with backoff.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrTraversalTimeout indicates a traversal exceeded its bounded time
	// budget.
	ErrTraversalTimeout = errors.New("traversal timed out")

	// ErrUnsupportedQuery indicates a traversal op the engine does not
	// implement.
	ErrUnsupportedQuery = errors.New("unsupported traversal query")

	// ErrStoreClosed indicates the engine has been closed.
	ErrStoreClosed = errors.New("store closed")
)

// DefaultTraversalTimeout bounds a single traversal query when the caller
// does not specify one.
const DefaultTraversalTimeout = 5 * time.Second

// TraversalOp selects the kind of read a traversal performs.
type TraversalOp int

const (
	// OpNode fetches a single node by key.
	OpNode TraversalOp = iota

	// OpNeighbors fetches the relationships adjacent to a node, filtered
	// by direction and relationship types.
	OpNeighbors

	// OpNodesByLabel fetches all nodes with a given label.
	OpNodesByLabel
)

// String returns the string representation of the TraversalOp.
func (op TraversalOp) String() string {
	switch op {
	case OpNode:
		return "node"
	case OpNeighbors:
		return "neighbors"
	case OpNodesByLabel:
		return "nodes_by_label"
	default:
		return "unknown"
	}
}

// TraversalQuery describes a single bounded read against the store.
type TraversalQuery struct {
	// Op is the traversal kind.
	Op TraversalOp

	// Key is the node key for OpNode and OpNeighbors.
	Key string

	// Label is the node label for OpNodesByLabel.
	Label graph.NodeLabel

	// Direction filters adjacency for OpNeighbors.
	Direction graph.Direction

	// RelTypes filters relationship types for OpNeighbors. Nil matches all.
	RelTypes []graph.RelType

	// Limit caps the number of rows returned. Zero means no cap.
	Limit int

	// Timeout bounds the query. Zero applies DefaultTraversalTimeout.
	Timeout time.Duration
}

// Row is a single traversal result. Exactly one of Node or Relationship is
// set, depending on the query op.
type Row struct {
	Node         *graph.Node
	Relationship *graph.Relationship
}

// TxResult reports the outcome of a committed write transaction.
type TxResult struct {
	// Changed is the number of mutations that changed state.
	Changed int

	// GraphVersion is the graph version after the transaction. Unchanged
	// if Changed is zero.
	GraphVersion int64
}

// Adapter is the graph store boundary.
//
// Implementations must guarantee that a write transaction applies atomically
// (all mutations or none) and that mutations for the same node or
// relationship key serialize across concurrent transactions. Traversals are
// read-only and safe to run concurrently with writes.
type Adapter interface {
	// UpsertNode applies a single idempotent node mutation.
	UpsertNode(ctx context.Context, u graph.NodeUpsert) error

	// UpsertRelationship applies a single idempotent relationship mutation.
	// Both endpoints must already exist.
	UpsertRelationship(ctx context.Context, u graph.RelationshipUpsert) error

	// RunWriteTransaction atomically applies a batch of mutations and
	// advances the graph version if state changed.
	RunWriteTransaction(ctx context.Context, muts []graph.Mutation) (TxResult, error)

	// RunTraversal executes a bounded read query.
	RunTraversal(ctx context.Context, q TraversalQuery) ([]Row, error)

	// CurrentGraphVersion returns the version after the last committed
	// transaction that changed state.
	CurrentGraphVersion(ctx context.Context) (int64, error)

	// Close releases engine resources.
	Close() error
}

// queryTimeout resolves the effective timeout for a traversal.
func queryTimeout(q TraversalQuery) time.Duration {
	if q.Timeout > 0 {
		return q.Timeout
	}
	return DefaultTraversalTimeout
}
