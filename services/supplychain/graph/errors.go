// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the supply-chain relationship graph model.
//
// The graph package contains types for representing a supply chain as a
// directed graph where nodes are organizations, locations, assets, and
// traceability events, and relationships capture supply flows, custody,
// aggregation, and transformation.
//
// # Identity Model
//
// Every node carries a globally unique, deterministic key derived from its
// source identifiers. Upserts are keyed on that identity, so replaying the
// same observation never creates duplicate nodes or relationships.
//
// # Weight Model
//
// SUPPLIES relationship weights are never incremented imperatively. Each
// relationship accumulates the set of observations (keyed by event ID) that
// support it, and the weight is recomputed as a pure function of that set.
// Replaying an already-recorded observation is a no-op.
//
// # Thread Safety
//
// Graph is safe for concurrent use. Writes serialize on an internal mutex;
// reads proceed concurrently.
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrInvalidKey is returned when a node or relationship references an
	// empty identity key.
	ErrInvalidKey = errors.New("invalid identity key")

	// ErrNodeNotFound is returned when a relationship references a node
	// that does not exist. Both endpoints must exist before a relationship
	// can be created.
	ErrNodeNotFound = errors.New("node not found")

	// ErrUnknownLabel is returned when a node upsert carries an
	// unrecognized node label.
	ErrUnknownLabel = errors.New("unknown node label")

	// ErrUnknownRelType is returned when a relationship upsert carries an
	// unrecognized relationship type.
	ErrUnknownRelType = errors.New("unknown relationship type")

	// ErrMaxNodesExceeded is returned when the graph has reached its
	// configured maximum node capacity.
	ErrMaxNodesExceeded = errors.New("maximum node count exceeded")

	// ErrMaxRelationshipsExceeded is returned when the graph has reached
	// its configured maximum relationship capacity.
	ErrMaxRelationshipsExceeded = errors.New("maximum relationship count exceeded")

	// ErrLabelMismatch is returned when an upsert addresses an existing
	// node key with a different label. Identity keys are global, so a key
	// can never change label.
	ErrLabelMismatch = errors.New("node label mismatch for existing key")
)
