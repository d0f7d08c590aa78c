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
	"math"
	"reflect"
	"sync"
	"time"
)

// Graph is the in-memory supply-chain graph.
//
// Description:
//
//	Graph stores nodes keyed by their global identity key and at most one
//	relationship per (type, from, to) triple. All mutations are idempotent
//	upserts; applying the same mutation twice leaves the graph unchanged.
//	The graph carries a monotonic version that advances once per write
//	transaction that changed state.
//
// Thread Safety:
//
//	Graph is safe for concurrent use. ApplyMutations serializes writers;
//	read methods take a shared lock and return copies.
type Graph struct {
	mu sync.RWMutex

	nodes map[string]*Node
	rels  map[string]*Relationship

	// outgoing and incoming index relationship IDs per node key.
	outgoing map[string][]*Relationship
	incoming map[string][]*Relationship

	// nodesByLabel indexes node keys per label.
	nodesByLabel [NumNodeLabels][]string

	version int64
	options Options
}

// New creates an empty graph with the given options.
func New(opts ...Option) *Graph {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.Now == nil {
		options.Now = DefaultOptions().Now
	}
	return &Graph{
		nodes:    make(map[string]*Node),
		rels:     make(map[string]*Relationship),
		outgoing: make(map[string][]*Relationship),
		incoming: make(map[string][]*Relationship),
		options:  options,
	}
}

// Version returns the current graph version. The version starts at zero and
// advances by one for every write transaction that changed node or
// relationship state.
func (g *Graph) Version() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// RelationshipCount returns the number of relationships in the graph.
func (g *Graph) RelationshipCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rels)
}

// GetNode returns a copy of the node with the given key, or false if absent.
func (g *Graph) GetNode(key string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[key]
	if !ok {
		return Node{}, false
	}
	return copyNode(n), true
}

// NodeKeysByLabel returns the keys of all nodes with the given label.
func (g *Graph) NodeKeysByLabel(label NodeLabel) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if label < 0 || label >= NumNodeLabels {
		return nil
	}
	out := make([]string, len(g.nodesByLabel[label]))
	copy(out, g.nodesByLabel[label])
	return out
}

// GetRelationship returns a copy of the relationship for the given triple,
// or false if absent.
func (g *Graph) GetRelationship(t RelType, from, to string) (Relationship, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rels[relID(t, from, to)]
	if !ok {
		return Relationship{}, false
	}
	return copyRelationship(r), true
}

// Neighbors returns copies of the relationships adjacent to the given node,
// filtered by direction and (optionally) relationship types. A nil types
// slice matches every type.
func (g *Graph) Neighbors(key string, dir Direction, types []RelType) []Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Relationship
	match := func(t RelType) bool {
		if len(types) == 0 {
			return true
		}
		for _, want := range types {
			if t == want {
				return true
			}
		}
		return false
	}

	if dir == DirOutgoing || dir == DirBoth {
		for _, r := range g.outgoing[key] {
			if match(r.Type) {
				out = append(out, copyRelationship(r))
			}
		}
	}
	if dir == DirIncoming || dir == DirBoth {
		for _, r := range g.incoming[key] {
			if match(r.Type) {
				out = append(out, copyRelationship(r))
			}
		}
	}
	return out
}

// ApplyMutations applies a write transaction.
//
// Description:
//
//	All mutations are validated before any is applied, so a transaction
//	either applies fully or not at all. Node upserts are applied before
//	relationship upserts regardless of input order, which guarantees a
//	relationship can never reference a node missing from the same
//	transaction. The graph version advances by one if at least one mutation
//	changed state; a fully redundant transaction leaves the version
//	untouched.
//
// Inputs:
//
//	muts - The mutations to apply. May be empty.
//
// Outputs:
//
//	changed - Number of mutations that changed state.
//	version - The graph version after the transaction.
//	error - Non-nil if validation failed. The graph is unmodified on error.
func (g *Graph) ApplyMutations(muts []Mutation) (changed int, version int64, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.validateMutations(muts); err != nil {
		return 0, g.version, err
	}

	for _, m := range muts {
		if m.Node != nil && g.applyNode(m.Node) {
			changed++
		}
	}
	for _, m := range muts {
		if m.Relationship != nil && g.applyRelationship(m.Relationship) {
			changed++
		}
	}

	if changed > 0 {
		g.version++
	}
	return changed, g.version, nil
}

// validateMutations checks the whole transaction before anything is applied.
func (g *Graph) validateMutations(muts []Mutation) error {
	// Node keys introduced by this transaction count as existing for
	// relationship validation.
	pending := make(map[string]NodeLabel)

	for _, m := range muts {
		n := m.Node
		if n == nil {
			continue
		}
		if n.Key == "" {
			return ErrInvalidKey
		}
		if n.Label <= LabelUnknown || n.Label >= NumNodeLabels {
			return ErrUnknownLabel
		}
		if existing, ok := g.nodes[n.Key]; ok && existing.Label != n.Label {
			return ErrLabelMismatch
		}
		pending[n.Key] = n.Label
	}

	newNodes := 0
	for key := range pending {
		if _, ok := g.nodes[key]; !ok {
			newNodes++
		}
	}
	if len(g.nodes)+newNodes > g.options.MaxNodes {
		return ErrMaxNodesExceeded
	}

	newRels := 0
	for _, m := range muts {
		r := m.Relationship
		if r == nil {
			continue
		}
		if r.FromKey == "" || r.ToKey == "" {
			return ErrInvalidKey
		}
		if r.Type <= RelUnknown || r.Type >= NumRelTypes {
			return ErrUnknownRelType
		}
		if !g.nodeWillExist(r.FromKey, pending) || !g.nodeWillExist(r.ToKey, pending) {
			return ErrNodeNotFound
		}
		if _, ok := g.rels[relID(r.Type, r.FromKey, r.ToKey)]; !ok {
			newRels++
		}
	}
	if len(g.rels)+newRels > g.options.MaxRelationships {
		return ErrMaxRelationshipsExceeded
	}
	return nil
}

func (g *Graph) nodeWillExist(key string, pending map[string]NodeLabel) bool {
	if _, ok := g.nodes[key]; ok {
		return true
	}
	_, ok := pending[key]
	return ok
}

// applyNode upserts a node and reports whether state changed.
func (g *Graph) applyNode(u *NodeUpsert) bool {
	nowMilli := g.options.Now().UnixMilli()

	n, ok := g.nodes[u.Key]
	if !ok {
		n = &Node{
			Label:          u.Label,
			Key:            u.Key,
			Props:          copyProps(u.Props),
			CreatedAtMilli: nowMilli,
			UpdatedAtMilli: nowMilli,
		}
		g.nodes[u.Key] = n
		g.nodesByLabel[u.Label] = append(g.nodesByLabel[u.Label], u.Key)
		return true
	}

	changed := MergeProps(&n.Props, u.Props)
	if changed {
		n.UpdatedAtMilli = nowMilli
	}
	return changed
}

// applyRelationship upserts a relationship and reports whether state changed.
func (g *Graph) applyRelationship(u *RelationshipUpsert) bool {
	id := relID(u.Type, u.FromKey, u.ToKey)

	r, ok := g.rels[id]
	changed := false
	if !ok {
		r = &Relationship{
			Type:    u.Type,
			FromKey: u.FromKey,
			ToKey:   u.ToKey,
			Props:   copyProps(u.Props),
		}
		g.rels[id] = r
		g.outgoing[u.FromKey] = append(g.outgoing[u.FromKey], r)
		g.incoming[u.ToKey] = append(g.incoming[u.ToKey], r)
		changed = true
	} else if MergeProps(&r.Props, u.Props) {
		changed = true
	}

	if u.Observation != nil {
		if _, seen := r.Observations[u.Observation.EventID]; !seen {
			if r.Observations == nil {
				r.Observations = make(map[string]Observation)
			}
			r.Observations[u.Observation.EventID] = *u.Observation
			r.Weight = DeriveWeight(r.Observations, g.options.DecayHalfLife, g.options.Now())
			changed = true
		}
	}
	return changed
}

// MergeProps merges src into *dst non-destructively (same keys overwrite,
// other keys are preserved) and reports whether anything changed. A nil *dst
// map is allocated on first write. Values are compared with
// reflect.DeepEqual: property values can be nested maps or slices, which
// the == operator panics on.
func MergeProps(dst *map[string]any, src map[string]any) bool {
	changed := false
	for k, v := range src {
		if cur, ok := (*dst)[k]; !ok || !reflect.DeepEqual(cur, v) {
			if *dst == nil {
				*dst = make(map[string]any)
			}
			(*dst)[k] = v
			changed = true
		}
	}
	return changed
}

// DeriveWeight computes a relationship weight as a pure function of the
// accumulated observation set. With halfLife <= 0 (decay disabled) this is
// the plain sum of quantities; otherwise each observation contributes
// quantity * 2^(-age/halfLife).
func DeriveWeight(obs map[string]Observation, halfLife time.Duration, now time.Time) float64 {
	if len(obs) == 0 {
		return 0
	}
	if halfLife <= 0 {
		total := 0.0
		for _, o := range obs {
			total += o.Quantity
		}
		return total
	}

	nowMilli := now.UnixMilli()
	total := 0.0
	for _, o := range obs {
		ageMilli := float64(nowMilli - o.TimeMilli)
		if ageMilli < 0 {
			ageMilli = 0
		}
		total += o.Quantity * math.Exp2(-ageMilli/float64(halfLife.Milliseconds()))
	}
	return total
}

func relID(t RelType, from, to string) string {
	return t.String() + "|" + from + "|" + to
}

func copyProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func copyNode(n *Node) Node {
	out := *n
	out.Props = copyProps(n.Props)
	return out
}

func copyRelationship(r *Relationship) Relationship {
	out := *r
	out.Props = copyProps(r.Props)
	if r.Observations != nil {
		out.Observations = make(map[string]Observation, len(r.Observations))
		for k, v := range r.Observations {
			out.Observations[k] = v
		}
	}
	return out
}
