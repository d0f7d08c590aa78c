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
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// EventType classifies a traceability observation.
type EventType int

const (
	// EventUnknown indicates an unrecognized event type.
	EventUnknown EventType = iota

	// EventObject is a plain observation of assets at a location.
	EventObject

	// EventAggregation records assets being packed into a parent asset.
	EventAggregation

	// EventTransaction records a business transaction between two
	// organizations. Transactions drive SUPPLIES relationship weights.
	EventTransaction

	// EventTransformation records input assets being consumed to produce
	// output assets.
	EventTransformation
)

// eventTypeNames maps EventType values to their wire names.
var eventTypeNames = map[EventType]string{
	EventUnknown:        "unknown",
	EventObject:         "object",
	EventAggregation:    "aggregation",
	EventTransaction:    "transaction",
	EventTransformation: "transformation",
}

// String returns the wire name of the EventType.
func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseEventType converts a wire name to its EventType value.
// Returns EventUnknown for unrecognized names.
func ParseEventType(s string) EventType {
	for t, name := range eventTypeNames {
		if name == s {
			return t
		}
	}
	return EventUnknown
}

// RawEvent is a single traceability observation as delivered by an external
// source. Field names follow the EPCIS-like source format.
//
// Unknown source fields arrive in Extra and are preserved on the stored
// event node without interpretation.
type RawEvent struct {
	// EventType is one of object, aggregation, transaction, transformation.
	EventType string `json:"event_type" validate:"required"`

	// Timestamp is the observation time in ISO 8601 / RFC 3339.
	Timestamp string `json:"timestamp" validate:"required"`

	// LocationRef identifies the facility where the observation happened.
	LocationRef string `json:"location_ref" validate:"required"`

	// AssetRefs are the products or logistics units participating.
	AssetRefs []string `json:"asset_refs" validate:"required,min=1,dive,required"`

	// OrganizationRef identifies the observing organization.
	OrganizationRef string `json:"organization_ref" validate:"required"`

	// CounterpartyRef identifies the receiving organization. Required for
	// transaction events, ignored otherwise.
	CounterpartyRef string `json:"counterparty_ref,omitempty"`

	// BusinessStep is the EPCIS business step (shipping, receiving, ...).
	BusinessStep string `json:"business_step,omitempty"`

	// Disposition is the EPCIS disposition (in_transit, sellable, ...).
	Disposition string `json:"disposition,omitempty"`

	// Quantity is the transaction volume. Defaults to 1 when absent.
	Quantity float64 `json:"quantity,omitempty"`

	// ParentAssetRef is the aggregation target for aggregation events.
	ParentAssetRef string `json:"parent_asset_ref,omitempty"`

	// InputAssetRefs are the consumed assets for transformation events.
	InputAssetRefs []string `json:"input_asset_refs,omitempty"`

	// OrganizationProps carries optional static organization attributes
	// (name, country, role, risk factors like geopolitical score).
	OrganizationProps map[string]any `json:"organization_props,omitempty"`

	// LocationProps carries optional location attributes (coordinates).
	LocationProps map[string]any `json:"location_props,omitempty"`

	// Extra preserves unrecognized source fields.
	Extra map[string]any `json:"extra,omitempty"`
}

// EventID derives the deterministic event identity from the id-forming
// source fields. Re-ingesting the same source event always yields the same
// ID, which is what makes replay idempotent.
func (e *RawEvent) EventID() string {
	assets := make([]string, len(e.AssetRefs))
	copy(assets, e.AssetRefs)
	sort.Strings(assets)

	h := sha256.New()
	for _, part := range []string{
		e.EventType,
		e.Timestamp,
		e.LocationRef,
		e.OrganizationRef,
		e.CounterpartyRef,
		e.BusinessStep,
		strings.Join(assets, ","),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "evt:" + hex.EncodeToString(h.Sum(nil))[:32]
}

// Rejection explains why a single record was not ingested.
type Rejection struct {
	// Index is the record's position in the submitted batch.
	Index int `json:"index"`

	// EventID is the derived event ID, when the record carried enough
	// fields to derive one.
	EventID string `json:"event_id,omitempty"`

	// Reason is a machine-readable rejection reason.
	Reason string `json:"reason"`
}

// Rejection reasons.
const (
	// ReasonStoreUnavailable marks records whose sub-batch could not be
	// committed after all retry attempts.
	ReasonStoreUnavailable = "store_unavailable"

	// ReasonCommitRejected marks records whose sub-batch the graph model
	// rejected outright. Retrying cannot help these.
	ReasonCommitRejected = "commit_rejected"

	// ReasonUnknownEventType marks records with an unrecognized event type.
	ReasonUnknownEventType = "unknown_event_type"

	// ReasonBadTimestamp marks records whose timestamp is not valid
	// ISO 8601.
	ReasonBadTimestamp = "bad_timestamp"

	// ReasonMissingCounterparty marks transaction events without a
	// counterparty organization.
	ReasonMissingCounterparty = "missing_counterparty"

	// ReasonMissingField prefixes records missing a required id-forming
	// field, e.g. "missing_field:location_ref".
	ReasonMissingField = "missing_field"
)

// IngestResult reports the outcome of one batch.
type IngestResult struct {
	// Accepted is the number of records committed to the graph.
	Accepted int `json:"accepted"`

	// Rejected is the number of records that were not committed.
	Rejected int `json:"rejected"`

	// Rejections itemizes every rejected record.
	Rejections []Rejection `json:"rejections,omitempty"`

	// GraphVersion is the graph version after the batch. Unchanged from
	// the pre-batch version if no mutation committed.
	GraphVersion int64 `json:"graph_version"`
}

// Config configures the ingestion pipeline.
type Config struct {
	// BatchSize is the maximum number of mutations per write transaction.
	// Default: 1000.
	BatchSize int

	// Workers is the number of concurrent sub-batch writers. Default: 4.
	Workers int

	// Retry controls transaction-commit retries. Default: 3 attempts with
	// exponential backoff.
	Retry RetryConfig

	// WriteRate throttles write transactions per second against the store.
	// Zero disables throttling.
	WriteRate rate.Limit

	// WriteBurst is the throttle burst size. Default: 1 when WriteRate is
	// set.
	WriteBurst int
}

// DefaultConfig returns sensible pipeline defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize: 1000,
		Workers:   4,
		Retry:     DefaultRetryConfig(),
	}
}

// parsedEvent is a validated record ready for mutation mapping.
type parsedEvent struct {
	index   int
	id      string
	typ     EventType
	time    time.Time
	raw     *RawEvent
}
