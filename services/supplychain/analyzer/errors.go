// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer computes resiliency and risk metrics over the supply
// graph: path diversity toward critical counterparties, single points of
// failure, weighted risk scoring, and what-if disruption simulation.
//
// All analysis is read-only against the store adapter. Hop, path, and work
// limits are hard caps: when a cap is hit the affected metric is explicitly
// marked as a lower bound instead of being silently truncated.
package analyzer

import "errors"

// Sentinel errors for analysis operations.
var (
	// ErrInvalidConfiguration indicates invalid weights, thresholds, or
	// limits. Rejected before any traversal begins.
	ErrInvalidConfiguration = errors.New("invalid analyzer configuration")

	// ErrUnknownOrganization indicates the requested organization node
	// does not exist in the graph.
	ErrUnknownOrganization = errors.New("unknown organization")

	// ErrInvariantViolation indicates the graph references a node that
	// does not exist. This is an ingestion bug and is surfaced loudly
	// rather than ignored.
	ErrInvariantViolation = errors.New("graph invariant violation")
)

// Failure reasons carried on FAILED reports.
const (
	// FailureTimeout marks reports that failed on a traversal timeout.
	// The orchestrator retries these once; the analyzer itself does not.
	FailureTimeout = "timeout"

	// FailureStoreUnavailable marks reports that failed on a store error.
	FailureStoreUnavailable = "store_unavailable"

	// FailureInvariantViolation marks reports that failed because the
	// graph returned data that breaks its own invariants. Retrying will
	// not help; the graph needs repair.
	FailureInvariantViolation = "invariant_violation"
)
