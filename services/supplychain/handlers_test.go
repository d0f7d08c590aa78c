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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chaintrace/services/supplychain/analyzer"
	"github.com/AleutianAI/chaintrace/services/supplychain/config"
	"github.com/AleutianAI/chaintrace/services/supplychain/ingest"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, err := NewService(config.Default(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(svc))
	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func transactionEvent(supplier, buyer string, qty float64) ingest.RawEvent {
	return ingest.RawEvent{
		EventType:       "transaction",
		Timestamp:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
		LocationRef:     "port-of-oakland",
		OrganizationRef: supplier,
		CounterpartyRef: buyer,
		AssetRefs:       []string{fmt.Sprintf("lot-%s-%s", supplier, buyer)},
		BusinessStep:    "shipping",
		Quantity:        qty,
	}
}

func TestHandleIngest(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("accepts a clean batch", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/supplychain/ingest", IngestRequest{
			Events: []ingest.RawEvent{
				transactionEvent("acme", "globex", 10),
				transactionEvent("initech", "globex", 5),
			},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var result ingest.IngestResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, 2, result.Accepted)
		assert.Zero(t, result.Rejected)
		assert.Greater(t, result.GraphVersion, int64(0))
	})

	t.Run("reports per-record rejections with 200", func(t *testing.T) {
		bad := transactionEvent("acme", "globex", 1)
		bad.Timestamp = "not-a-timestamp"
		w := doJSON(t, router, http.MethodPost, "/v1/supplychain/ingest", IngestRequest{
			Events: []ingest.RawEvent{transactionEvent("acme", "globex", 1), bad},
		})
		require.Equal(t, http.StatusOK, w.Code)

		var result ingest.IngestResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, 1, result.Accepted)
		assert.Equal(t, 1, result.Rejected)
		require.Len(t, result.Rejections, 1)
		assert.Equal(t, "bad_timestamp", result.Rejections[0].Reason)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/supplychain/ingest", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleAnalyze(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/supplychain/ingest", IngestRequest{
		Events: []ingest.RawEvent{
			transactionEvent("acme", "hub", 10),
			transactionEvent("hub", "globex", 10),
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("serves a report", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/supplychain/analyze", AnalyzeRequest{
			OrgKey: "org:acme",
			Params: analyzer.Params{Targets: []string{"org:globex"}},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var report analyzer.RiskReport
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
		assert.Equal(t, "org:acme", report.OrgKey)
		assert.Equal(t, "COMPLETED", report.StageName)
		require.Contains(t, report.PathDiversityByTarget, "org:globex")
		assert.Equal(t, 1, report.PathDiversityByTarget["org:globex"].DisjointPaths)
		require.Len(t, report.SPOFs, 1)
		assert.Equal(t, "org:hub", report.SPOFs[0].NodeKey)
	})

	t.Run("unknown organization is 404", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/supplychain/analyze", AnalyzeRequest{
			OrgKey: "org:ghost",
		})
		require.Equal(t, http.StatusNotFound, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "ORG_NOT_FOUND", resp.Code)
	})

	t.Run("batch collects per-org outcomes", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/supplychain/analyze/batch", BatchAnalyzeRequest{
			OrgKeys: []string{"org:acme", "org:ghost"},
		})
		require.Equal(t, http.StatusOK, w.Code)

		var resp BatchAnalyzeResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Results, 2)
		assert.NotNil(t, resp.Results["org:acme"].Report)
		assert.NotEmpty(t, resp.Results["org:ghost"].Error)
	})
}

func TestHandleSimulate(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/supplychain/ingest", IngestRequest{
		Events: []ingest.RawEvent{
			transactionEvent("acme", "hub", 10),
			transactionEvent("hub", "globex", 10),
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/supplychain/simulate", SimulateRequest{
		OrgKey: "org:acme",
		Scenario: analyzer.Scenario{
			RemoveNodes: []string{"org:hub"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var forecast analyzer.DisruptionForecast
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &forecast))
	assert.Greater(t, forecast.AffectedPercentage, 0.0)
	assert.NotEmpty(t, forecast.SeverityTierName)
}

func TestHandleStatsAndHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/v1/supplychain/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "memory", health.StoreEngine)

	w = doJSON(t, router, http.MethodGet, "/v1/supplychain/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Zero(t, stats.GraphVersion)
}

func TestRequestIDPropagation(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/supplychain/ingest", bytes.NewBufferString(`{"events":[]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}
