// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Stage identifies a step of the analysis state machine.
//
// Every request walks STARTED → PATH_ANALYSIS → CONCENTRATION_ANALYSIS →
// SCORING → (SIMULATION) → COMPLETED. FAILED is terminal and reachable from
// any stage on a traversal error.
type Stage int

const (
	// StageStarted is the initial stage.
	StageStarted Stage = iota

	// StagePathAnalysis enumerates vertex-disjoint supply paths.
	StagePathAnalysis

	// StageConcentrationAnalysis computes counterparty concentration.
	StageConcentrationAnalysis

	// StageScoring combines sub-scores into the final risk score.
	StageScoring

	// StageSimulation runs the optional disruption simulation.
	StageSimulation

	// StageCompleted is the successful terminal stage.
	StageCompleted

	// StageFailed is the failure terminal stage.
	StageFailed
)

// stageNames maps Stage values to their string representations.
var stageNames = map[Stage]string{
	StageStarted:               "STARTED",
	StagePathAnalysis:          "PATH_ANALYSIS",
	StageConcentrationAnalysis: "CONCENTRATION_ANALYSIS",
	StageScoring:               "SCORING",
	StageSimulation:            "SIMULATION",
	StageCompleted:             "COMPLETED",
	StageFailed:                "FAILED",
}

// String returns the string representation of the Stage.
func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// RiskTier is the discrete risk classification.
type RiskTier int

const (
	// TierUnknown means the organization has no discovered relationships.
	// Absence of data is never reported as low risk.
	TierUnknown RiskTier = iota

	// TierLow is the lowest risk tier.
	TierLow

	// TierMedium is elevated but manageable risk.
	TierMedium

	// TierHigh indicates significant structural risk.
	TierHigh

	// TierCritical indicates severe structural risk.
	TierCritical
)

// tierNames maps RiskTier values to their string representations.
var tierNames = map[RiskTier]string{
	TierUnknown:  "UNKNOWN",
	TierLow:      "LOW",
	TierMedium:   "MEDIUM",
	TierHigh:     "HIGH",
	TierCritical: "CRITICAL",
}

// String returns the string representation of the RiskTier.
func (t RiskTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// Params controls a single risk analysis request.
type Params struct {
	// Targets are the critical counterparty node keys to analyze paths
	// toward. Empty means the analyzer derives the top counterparties by
	// SUPPLIES weight.
	Targets []string `json:"targets,omitempty"`

	// MaxHops overrides the configured hop limit when positive.
	MaxHops int `json:"max_hops,omitempty"`

	// MaxPaths overrides the configured disjoint-path cap when positive.
	MaxPaths int `json:"max_paths,omitempty"`

	// IncludeSimulation additionally runs a disruption simulation for the
	// discovered single points of failure.
	IncludeSimulation bool `json:"include_simulation,omitempty"`
}

// Fingerprint returns a normalized, order-independent rendering of the
// params, suitable for cache keying.
func (p Params) Fingerprint() string {
	targets := make([]string, len(p.Targets))
	copy(targets, p.Targets)
	sort.Strings(targets)
	return fmt.Sprintf("targets=%s;hops=%d;paths=%d;sim=%t",
		strings.Join(targets, ","), p.MaxHops, p.MaxPaths, p.IncludeSimulation)
}

// PathDiversity describes the redundancy toward a single counterparty.
type PathDiversity struct {
	// TargetKey is the counterparty node key.
	TargetKey string `json:"target_key"`

	// DisjointPaths is the count of vertex-disjoint paths discovered.
	DisjointPaths int `json:"disjoint_paths"`

	// PathCountIsLowerBound is true when a hop, path, or work cap was hit
	// before the search exhausted the graph. The true count may be higher.
	PathCountIsLowerBound bool `json:"path_count_is_lower_bound"`
}

// SPOF describes a single point of failure.
type SPOF struct {
	// NodeKey is the node whose removal disconnects at least one target.
	NodeKey string `json:"node_key"`

	// Severity is proportional to the weighted importance of the affected
	// counterparties, in [0, 1].
	Severity float64 `json:"severity"`

	// AffectedTargets are the counterparties that become unreachable.
	AffectedTargets []string `json:"affected_targets"`
}

// SubScores itemizes the normalized risk components, each in [0, 1] with
// higher meaning riskier.
type SubScores struct {
	PathDiversity float64 `json:"path_diversity"`
	Concentration float64 `json:"concentration"`
	Geographic    float64 `json:"geographic"`
	SPOF          float64 `json:"spof"`
}

// RiskReport is the analysis result returned to callers.
type RiskReport struct {
	// OrgKey is the analyzed organization's node key.
	OrgKey string `json:"org_id"`

	// Score is the combined risk score in [0, 100].
	Score float64 `json:"risk_score"`

	// Tier is the discrete risk tier.
	Tier RiskTier `json:"-"`

	// TierName is the tier as a string, for serialization.
	TierName string `json:"risk_tier"`

	// SubScores itemizes the score components.
	SubScores SubScores `json:"sub_scores"`

	// PathDiversityByTarget maps counterparty key to its redundancy.
	PathDiversityByTarget map[string]PathDiversity `json:"path_diversity_by_target,omitempty"`

	// SPOFs lists discovered single points of failure, most severe first.
	SPOFs []SPOF `json:"spofs,omitempty"`

	// Forecast is present when the request included a simulation.
	Forecast *DisruptionForecast `json:"forecast,omitempty"`

	// Stage is the terminal stage (COMPLETED or FAILED).
	Stage Stage `json:"-"`

	// StageName is the terminal stage as a string, for serialization.
	StageName string `json:"stage"`

	// FailedStage names the stage where a failure occurred, if any.
	FailedStage string `json:"failed_stage,omitempty"`

	// FailureReason is a machine-readable failure reason, if any.
	FailureReason string `json:"failure_reason,omitempty"`

	// GeneratedAtGraphVersion is the graph version the analysis ran at.
	GeneratedAtGraphVersion int64 `json:"generated_at_graph_version"`

	// GeneratedAt is the wall-clock completion time.
	GeneratedAt time.Time `json:"generated_at"`
}

// EdgeRef identifies a SUPPLIES relationship by its endpoints.
type EdgeRef struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Scenario describes a what-if perturbation. The perturbation is applied to
// a read-only traversal view; the stored graph is never mutated.
type Scenario struct {
	// RemoveNodes are node keys excluded from the perturbed view.
	RemoveNodes []string `json:"remove_nodes,omitempty"`

	// RemoveEdges are SUPPLIES relationships excluded from the perturbed
	// view.
	RemoveEdges []EdgeRef `json:"remove_edges,omitempty"`

	// CapacityReductionPct degrades the removed nodes' throughput instead
	// of deleting them, in (0, 100). At 100 the nodes are fully removed.
	CapacityReductionPct float64 `json:"capacity_reduction_pct,omitempty"`
}

// Fingerprint returns a normalized rendering of the scenario for cache
// keying.
func (s Scenario) Fingerprint() string {
	nodes := make([]string, len(s.RemoveNodes))
	copy(nodes, s.RemoveNodes)
	sort.Strings(nodes)

	edges := make([]string, 0, len(s.RemoveEdges))
	for _, e := range s.RemoveEdges {
		edges = append(edges, e.From+">"+e.To)
	}
	sort.Strings(edges)

	return fmt.Sprintf("nodes=%s;edges=%s;cap=%.2f",
		strings.Join(nodes, ","), strings.Join(edges, ","), s.CapacityReductionPct)
}

// Metrics summarizes reachability under one graph view.
type Metrics struct {
	// ReachableTargets is how many analyzed counterparties have at least
	// one path.
	ReachableTargets int `json:"reachable_targets"`

	// TotalDisjointPaths sums disjoint path counts across counterparties.
	TotalDisjointPaths int `json:"total_disjoint_paths"`

	// TotalVolume is the summed SUPPLIES weight over the view's direct
	// relationships of the analyzed organization.
	TotalVolume float64 `json:"total_volume"`
}

// DisruptionForecast reports the delta between baseline and perturbed views.
type DisruptionForecast struct {
	// Scenario echoes the evaluated perturbation.
	Scenario Scenario `json:"scenario"`

	// Baseline holds the unperturbed metrics.
	Baseline Metrics `json:"baseline_metrics"`

	// Perturbed holds the metrics under the scenario.
	Perturbed Metrics `json:"perturbed_metrics"`

	// AffectedNodeCount is the number of downstream organizations that
	// depend on the perturbed elements.
	AffectedNodeCount int `json:"affected_node_count"`

	// AffectedPercentage is the share of dependent organizations that lose
	// every path under the scenario, in [0, 100].
	AffectedPercentage float64 `json:"affected_percentage"`

	// SeverityTier classifies the disruption.
	SeverityTier RiskTier `json:"-"`

	// SeverityTierName is the tier as a string, for serialization.
	SeverityTierName string `json:"severity_tier"`

	// BoundsFlags is true when any underlying path metric hit a cap and is
	// therefore a bound rather than an exact value.
	BoundsFlags bool `json:"bounds_flags"`
}
