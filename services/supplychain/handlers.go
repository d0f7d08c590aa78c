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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/chaintrace/services/supplychain/analytics"
	"github.com/AleutianAI/chaintrace/services/supplychain/analyzer"
	"github.com/AleutianAI/chaintrace/services/supplychain/store"
)

// Handlers holds HTTP handlers for the supply chain service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the handler set.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleIngest handles POST /v1/supplychain/ingest.
//
// Description:
//
//	Validates and ingests a batch of raw supply chain events. Per-record
//	validation failures are reported in the response, not as an HTTP
//	error: a batch with some bad records still commits the good ones.
//
// Response:
//
//	200 OK: ingest.IngestResult
//	400 Bad Request: Malformed body
//	503 Service Unavailable: Store unavailable for the whole batch
func (h *Handlers) HandleIngest(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleIngest")

	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	result, err := h.svc.Ingest(c.Request.Context(), req.Events)
	if err != nil {
		logger.Error("Ingest aborted", "error", err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: err.Error(),
			Code:  "INGEST_ABORTED",
		})
		return
	}

	logger.Info("Batch ingested",
		"accepted", result.Accepted,
		"rejected", result.Rejected,
		"graph_version", result.GraphVersion)
	c.JSON(http.StatusOK, result)
}

// HandleAnalyze handles POST /v1/supplychain/analyze.
//
// Response:
//
//	200 OK: analyzer.RiskReport
//	400 Bad Request: Malformed body
//	404 Not Found: Unknown organization
//	504 Gateway Timeout: Analysis timed out
//	500 Internal Server Error: Analysis failed
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAnalyze")

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	report, err := h.svc.Analyze(c.Request.Context(), req.OrgKey, req.Params)
	if err != nil {
		h.renderAnalysisError(c, logger, report, err)
		return
	}

	logger.Info("Analysis served",
		"org", req.OrgKey,
		"score", report.Score,
		"tier", report.TierName)
	c.JSON(http.StatusOK, report)
}

// HandleBatchAnalyze handles POST /v1/supplychain/analyze/batch.
//
// Response:
//
//	200 OK: BatchAnalyzeResponse (individual failures inline)
//	400 Bad Request: Malformed body
func (h *Handlers) HandleBatchAnalyze(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleBatchAnalyze")

	var req BatchAnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	results := h.svc.BatchAnalyze(c.Request.Context(), req.OrgKeys, req.Params)

	failed := 0
	for _, item := range results {
		if item.Err != nil {
			failed++
		}
	}
	logger.Info("Batch analysis served", "organizations", len(results), "failed", failed)
	c.JSON(http.StatusOK, BatchAnalyzeResponse{Results: results})
}

// HandleSimulate handles POST /v1/supplychain/simulate.
//
// Response:
//
//	200 OK: analyzer.DisruptionForecast
//	400 Bad Request: Malformed body
//	404 Not Found: Unknown organization
//	504 Gateway Timeout: Simulation timed out
func (h *Handlers) HandleSimulate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSimulate")

	var req SimulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	forecast, err := h.svc.Simulate(c.Request.Context(), req.OrgKey, req.Scenario)
	if err != nil {
		h.renderAnalysisError(c, logger, nil, err)
		return
	}

	logger.Info("Simulation served",
		"org", req.OrgKey,
		"affected_pct", forecast.AffectedPercentage,
		"severity", forecast.SeverityTierName)
	c.JSON(http.StatusOK, forecast)
}

// HandleStats handles GET /v1/supplychain/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: err.Error(),
			Code:  "STORE_UNAVAILABLE",
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleHealth handles GET /v1/supplychain/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	health, err := h.svc.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: err.Error(),
			Code:  "STORE_UNAVAILABLE",
		})
		return
	}
	c.JSON(http.StatusOK, health)
}

// renderAnalysisError maps analyzer and orchestrator failures onto HTTP
// status codes. A FAILED report rides along in the body when available so
// callers can see which stage broke.
func (h *Handlers) renderAnalysisError(c *gin.Context, logger *slog.Logger, report *analyzer.RiskReport, err error) {
	statusCode := http.StatusInternalServerError
	errCode := "ANALYSIS_FAILED"

	switch {
	case errors.Is(err, analyzer.ErrUnknownOrganization):
		statusCode = http.StatusNotFound
		errCode = "ORG_NOT_FOUND"
	case errors.Is(err, store.ErrTraversalTimeout):
		statusCode = http.StatusGatewayTimeout
		errCode = "ANALYSIS_TIMEOUT"
	case errors.Is(err, analytics.ErrOrchestratorClosed):
		statusCode = http.StatusServiceUnavailable
		errCode = "SHUTTING_DOWN"
	case errors.Is(err, store.ErrStoreUnavailable):
		statusCode = http.StatusServiceUnavailable
		errCode = "STORE_UNAVAILABLE"
	}

	if report != nil && report.FailureReason == analyzer.FailureTimeout {
		statusCode = http.StatusGatewayTimeout
		errCode = "ANALYSIS_TIMEOUT"
	}

	logger.Error("Analysis failed", "error", err, "code", errCode)
	c.JSON(statusCode, ErrorResponse{
		Error: err.Error(),
		Code:  errCode,
	})
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
