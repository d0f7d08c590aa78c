// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supplychain

import (
	"github.com/AleutianAI/chaintrace/services/supplychain/analytics"
	"github.com/AleutianAI/chaintrace/services/supplychain/analyzer"
	"github.com/AleutianAI/chaintrace/services/supplychain/ingest"
)

// IngestRequest is the body of POST /v1/supplychain/ingest.
type IngestRequest struct {
	// Events is the batch of raw supply chain events.
	Events []ingest.RawEvent `json:"events" binding:"required"`
}

// AnalyzeRequest is the body of POST /v1/supplychain/analyze.
type AnalyzeRequest struct {
	// OrgKey is the organization node key, e.g. "org:acme".
	OrgKey string `json:"org_id" binding:"required"`

	// Params tunes the analysis.
	Params analyzer.Params `json:"params"`
}

// BatchAnalyzeRequest is the body of POST /v1/supplychain/analyze/batch.
type BatchAnalyzeRequest struct {
	// OrgKeys are the organization node keys to analyze.
	OrgKeys []string `json:"org_ids" binding:"required,min=1"`

	// Params tunes every analysis in the batch.
	Params analyzer.Params `json:"params"`
}

// BatchAnalyzeResponse maps each organization to its outcome.
type BatchAnalyzeResponse struct {
	Results map[string]*analytics.BatchItem `json:"results"`
}

// SimulateRequest is the body of POST /v1/supplychain/simulate.
type SimulateRequest struct {
	// OrgKey is the organization whose supply network is perturbed.
	OrgKey string `json:"org_id" binding:"required"`

	// Scenario describes the perturbation.
	Scenario analyzer.Scenario `json:"scenario"`
}

// StatsResponse is the body of GET /v1/supplychain/stats.
type StatsResponse struct {
	GraphVersion int64           `json:"graph_version"`
	Analytics    analytics.Stats `json:"analytics"`
}

// HealthResponse is the body of GET /v1/supplychain/health.
type HealthResponse struct {
	Status       string `json:"status"`
	StoreEngine  string `json:"store_engine"`
	GraphVersion int64  `json:"graph_version"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
