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
	"github.com/AleutianAI/chaintrace/services/supplychain/graph"
)

// Node key prefixes. Keys are globally unique across labels because every
// label gets its own prefix.
const (
	orgKeyPrefix   = "org:"
	locKeyPrefix   = "loc:"
	assetKeyPrefix = "asset:"
)

// OrgKey returns the node key for an organization reference.
func OrgKey(ref string) string { return orgKeyPrefix + ref }

// LocationKey returns the node key for a location reference.
func LocationKey(ref string) string { return locKeyPrefix + ref }

// AssetKey returns the node key for an asset reference.
func AssetKey(ref string) string { return assetKeyPrefix + ref }

// mapEvent translates one validated event into its graph mutations.
//
// Description:
//
//	Every event produces upserts for the entities it references
//	(organization, location, assets, the event node itself) plus the
//	relationships its type implies. Referenced entities are always upserted
//	in the same transaction as the relationships that point at them, which
//	is what keeps the no-orphan invariant.
//
//	Relationship weight contributions are expressed as observations keyed
//	by the deterministic event ID, so the store can reconcile weights from
//	the full observed set rather than incrementing blindly.
func mapEvent(ev parsedEvent) []graph.Mutation {
	e := ev.raw
	timeMilli := ev.time.UnixMilli()
	obs := func() *graph.Observation {
		qty := e.Quantity
		if qty <= 0 {
			qty = 1
		}
		return &graph.Observation{EventID: ev.id, TimeMilli: timeMilli, Quantity: qty}
	}

	var muts []graph.Mutation
	node := func(label graph.NodeLabel, key string, props map[string]any) {
		muts = append(muts, graph.Mutation{Node: &graph.NodeUpsert{Label: label, Key: key, Props: props}})
	}
	rel := func(t graph.RelType, from, to string, o *graph.Observation) {
		muts = append(muts, graph.Mutation{Relationship: &graph.RelationshipUpsert{
			Type: t, FromKey: from, ToKey: to, Observation: o,
		}})
	}

	orgKey := OrgKey(e.OrganizationRef)
	locKey := LocationKey(e.LocationRef)

	node(graph.LabelOrganization, orgKey, e.OrganizationProps)
	node(graph.LabelLocation, locKey, e.LocationProps)
	rel(graph.RelLocatedAt, locKey, orgKey, nil)

	for _, ref := range e.AssetRefs {
		key := AssetKey(ref)
		node(graph.LabelAsset, key, nil)
		rel(graph.RelObservedAt, key, locKey, nil)
	}

	// The event itself is a write-once node. Props include the source
	// fields plus any unrecognized extras, preserved uninterpreted.
	eventProps := map[string]any{
		"event_type":    ev.typ.String(),
		"time_milli":    timeMilli,
		"business_step": e.BusinessStep,
		"disposition":   e.Disposition,
	}
	for k, v := range e.Extra {
		eventProps[k] = v
	}
	node(graph.LabelEvent, ev.id, eventProps)
	rel(graph.RelObservedAt, ev.id, locKey, nil)

	switch ev.typ {
	case EventTransaction:
		counterKey := OrgKey(e.CounterpartyRef)
		node(graph.LabelOrganization, counterKey, nil)
		rel(graph.RelSupplies, orgKey, counterKey, obs())

	case EventAggregation:
		if e.ParentAssetRef != "" {
			parentKey := AssetKey(e.ParentAssetRef)
			node(graph.LabelAsset, parentKey, nil)
			for _, ref := range e.AssetRefs {
				rel(graph.RelPartOf, AssetKey(ref), parentKey, nil)
			}
		}

	case EventTransformation:
		for _, in := range e.InputAssetRefs {
			inKey := AssetKey(in)
			node(graph.LabelAsset, inKey, nil)
			for _, out := range e.AssetRefs {
				rel(graph.RelDerivedFrom, AssetKey(out), inKey, nil)
			}
		}
	}

	return muts
}
