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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all supply chain routes with the router group.
//
// Description:
//
//	Registers the /v1/supplychain/* endpoints. The group should already
//	carry any required middleware.
//
// Endpoints:
//
//	POST /v1/supplychain/ingest        - Ingest a batch of raw events
//	POST /v1/supplychain/analyze       - Analyze one organization's risk
//	POST /v1/supplychain/analyze/batch - Analyze many organizations
//	POST /v1/supplychain/simulate      - Evaluate a disruption scenario
//	GET  /v1/supplychain/stats         - Graph and orchestrator counters
//	GET  /v1/supplychain/health        - Liveness probe
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	sc := rg.Group("/supplychain")
	{
		sc.POST("/ingest", handlers.HandleIngest)
		sc.POST("/analyze", handlers.HandleAnalyze)
		sc.POST("/analyze/batch", handlers.HandleBatchAnalyze)
		sc.POST("/simulate", handlers.HandleSimulate)
		sc.GET("/stats", handlers.HandleStats)
		sc.GET("/health", handlers.HandleHealth)
	}
}
