// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"time"
)

// Default configuration values.
const (
	// DefaultMaxNodes is the default maximum number of nodes a graph can hold.
	DefaultMaxNodes = 1_000_000

	// DefaultMaxRelationships is the default maximum number of relationships
	// a graph can hold.
	DefaultMaxRelationships = 10_000_000
)

// NodeLabel classifies the kind of entity a node represents.
type NodeLabel int

const (
	// LabelUnknown indicates an unrecognized node label.
	LabelUnknown NodeLabel = iota

	// LabelOrganization is a supply-chain party (supplier, manufacturer,
	// distributor, retailer).
	LabelOrganization

	// LabelLocation is a physical facility owned by an organization.
	LabelLocation

	// LabelAsset is a product or logistics unit observed in events.
	LabelAsset

	// LabelEvent is an immutable traceability observation.
	LabelEvent

	// NumNodeLabels is the total number of node labels (for array sizing).
	NumNodeLabels
)

// nodeLabelNames maps NodeLabel values to their string representations.
var nodeLabelNames = map[NodeLabel]string{
	LabelUnknown:      "unknown",
	LabelOrganization: "organization",
	LabelLocation:     "location",
	LabelAsset:        "asset",
	LabelEvent:        "event",
}

// String returns the string representation of the NodeLabel.
func (l NodeLabel) String() string {
	if name, ok := nodeLabelNames[l]; ok {
		return name
	}
	return "unknown"
}

// ParseNodeLabel converts a label name to its NodeLabel value.
// Returns LabelUnknown for unrecognized names.
func ParseNodeLabel(s string) NodeLabel {
	for label, name := range nodeLabelNames {
		if name == s {
			return label
		}
	}
	return LabelUnknown
}

// RelType defines the type of relationship between nodes.
type RelType int

const (
	// RelUnknown indicates an unrecognized relationship type.
	RelUnknown RelType = iota

	// RelSupplies indicates one organization supplies another, weighted by
	// observed transaction volume.
	RelSupplies

	// RelLocatedAt indicates a location belongs to an organization.
	RelLocatedAt

	// RelObservedAt indicates an asset or event was observed at a location.
	RelObservedAt

	// RelPartOf indicates an asset was aggregated into another asset.
	RelPartOf

	// RelDerivedFrom indicates an asset was transformed from another asset.
	RelDerivedFrom

	// NumRelTypes is the total number of relationship types (for array sizing).
	NumRelTypes
)

// relTypeNames maps RelType values to their string representations.
var relTypeNames = map[RelType]string{
	RelUnknown:     "unknown",
	RelSupplies:    "supplies",
	RelLocatedAt:   "located_at",
	RelObservedAt:  "observed_at",
	RelPartOf:      "part_of",
	RelDerivedFrom: "derived_from",
}

// String returns the string representation of the RelType.
func (t RelType) String() string {
	if name, ok := relTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseRelType converts a relationship type name to its RelType value.
// Returns RelUnknown for unrecognized names.
func ParseRelType(s string) RelType {
	for t, name := range relTypeNames {
		if name == s {
			return t
		}
	}
	return RelUnknown
}

// Direction selects which adjacency to traverse.
type Direction int

const (
	// DirOutgoing follows relationships where the node is the source.
	DirOutgoing Direction = iota

	// DirIncoming follows relationships where the node is the target.
	DirIncoming

	// DirBoth follows relationships in either direction.
	DirBoth
)

// String returns the string representation of the Direction.
func (d Direction) String() string {
	switch d {
	case DirOutgoing:
		return "outgoing"
	case DirIncoming:
		return "incoming"
	case DirBoth:
		return "both"
	default:
		return "unknown"
	}
}

// Node represents a supply-chain entity.
//
// Nodes are created lazily on first reference during ingestion and updated,
// never hard-deleted. Props hold entity attributes (name, country, role,
// static risk factors); unknown attributes from the source are preserved
// but not interpreted.
type Node struct {
	// Label classifies the entity.
	Label NodeLabel `json:"label"`

	// Key is the globally unique, deterministic identity key.
	Key string `json:"key"`

	// Props holds entity attributes. Values are JSON-compatible.
	Props map[string]any `json:"props,omitempty"`

	// CreatedAtMilli is when the node was first created (Unix milliseconds).
	CreatedAtMilli int64 `json:"created_at_milli"`

	// UpdatedAtMilli is when the node was last updated (Unix milliseconds).
	UpdatedAtMilli int64 `json:"updated_at_milli"`
}

// Observation records a single traceability event's contribution to a
// relationship. Observations are keyed by event ID so that replaying the
// same event is a no-op.
type Observation struct {
	// EventID is the deterministic ID of the contributing event.
	EventID string `json:"event_id"`

	// TimeMilli is the event timestamp (Unix milliseconds), used for
	// optional weight decay.
	TimeMilli int64 `json:"time_milli"`

	// Quantity is the observed volume contribution. Defaults to 1 when the
	// source event carries no quantity.
	Quantity float64 `json:"quantity"`
}

// Relationship represents a directed, typed relationship between two nodes.
//
// At most one relationship exists per (Type, FromKey, ToKey) triple. The
// Weight field is derived from the union of Observations and must not be
// written directly.
type Relationship struct {
	// Type is the relationship type.
	Type RelType `json:"type"`

	// FromKey is the identity key of the source node.
	FromKey string `json:"from_key"`

	// ToKey is the identity key of the target node.
	ToKey string `json:"to_key"`

	// Props holds relationship attributes.
	Props map[string]any `json:"props,omitempty"`

	// Weight is the derived weight. Zero for relationship types that carry
	// no volume semantics.
	Weight float64 `json:"weight"`

	// Observations maps event ID to the observation that contributed it.
	Observations map[string]Observation `json:"observations,omitempty"`
}

// ID returns the deterministic identity of the relationship.
func (r *Relationship) ID() string {
	return r.Type.String() + "|" + r.FromKey + "|" + r.ToKey
}

// NodeUpsert describes an idempotent node mutation.
type NodeUpsert struct {
	Label NodeLabel      `json:"label"`
	Key   string         `json:"key"`
	Props map[string]any `json:"props,omitempty"`
}

// RelationshipUpsert describes an idempotent relationship mutation.
//
// If Observation is non-nil it is merged into the relationship's observation
// set (keyed by event ID) and the weight is recomputed from the full set.
type RelationshipUpsert struct {
	Type        RelType        `json:"type"`
	FromKey     string         `json:"from_key"`
	ToKey       string         `json:"to_key"`
	Props       map[string]any `json:"props,omitempty"`
	Observation *Observation   `json:"observation,omitempty"`
}

// Mutation is a single graph mutation: exactly one of Node or Relationship
// is set. Within a write transaction, node upserts are applied before
// relationship upserts so a relationship can never reference a missing node.
type Mutation struct {
	Node         *NodeUpsert         `json:"node,omitempty"`
	Relationship *RelationshipUpsert `json:"relationship,omitempty"`
}

// Options configures Graph behavior and limits.
type Options struct {
	// MaxNodes is the maximum number of nodes the graph can hold.
	// Default: 1,000,000
	MaxNodes int

	// MaxRelationships is the maximum number of relationships the graph
	// can hold. Default: 10,000,000
	MaxRelationships int

	// DecayHalfLife is the half-life applied to observation quantities when
	// recomputing relationship weights. Zero disables decay (the default):
	// every observation contributes its full quantity regardless of age.
	DecayHalfLife time.Duration

	// Now returns the current time. Overridable for tests.
	Now func() time.Time
}

// DefaultOptions returns sensible defaults for graph configuration.
func DefaultOptions() Options {
	return Options{
		MaxNodes:         DefaultMaxNodes,
		MaxRelationships: DefaultMaxRelationships,
		Now:              time.Now,
	}
}

// Option is a functional option for configuring Graph.
type Option func(*Options)

// WithMaxNodes sets the maximum number of nodes the graph can hold.
func WithMaxNodes(n int) Option {
	return func(o *Options) {
		o.MaxNodes = n
	}
}

// WithMaxRelationships sets the maximum number of relationships the graph
// can hold.
func WithMaxRelationships(n int) Option {
	return func(o *Options) {
		o.MaxRelationships = n
	}
}

// WithDecayHalfLife enables exponential weight decay with the given
// half-life. Observations older than several half-lives contribute almost
// nothing to the derived weight.
func WithDecayHalfLife(d time.Duration) Option {
	return func(o *Options) {
		o.DecayHalfLife = d
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}
