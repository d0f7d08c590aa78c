// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// Package-level tracer for analytics spans.
var tracer = otel.Tracer("chaintrace.analytics")

var (
	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chaintrace_analytics_analyses_total",
		Help: "Risk analyses executed, by outcome",
	}, []string{"outcome"})

	analysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chaintrace_analytics_analysis_duration_seconds",
		Help:    "Duration of risk analyses, by analysis type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chaintrace_analytics_cache_hits_total",
		Help: "Report cache hits",
	})

	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chaintrace_analytics_cache_misses_total",
		Help: "Report cache misses",
	})

	sharedFlightsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chaintrace_analytics_shared_flights_total",
		Help: "Requests that piggybacked on an in-flight identical analysis",
	})
)
