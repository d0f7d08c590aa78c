// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command chaintrace starts the supply chain graph API server.
//
// Chaintrace ingests raw supply chain events into a property graph and
// serves structural risk analytics over it:
//   - Idempotent batched event ingestion
//   - Path diversity and single-point-of-failure analysis
//   - Weighted risk scoring with configurable tiers
//   - What-if disruption simulation on read-only graph views
//
// Usage:
//
//	go run ./cmd/chaintrace
//	go run ./cmd/chaintrace -config /etc/chaintrace/chaintrace.yaml
//	go run ./cmd/chaintrace -addr :9000 -debug
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8844/v1/supplychain/health
//
//	# Ingest a batch of events
//	curl -X POST http://localhost:8844/v1/supplychain/ingest \
//	  -H "Content-Type: application/json" \
//	  -d '{"events": [{"event_type": "transaction", ...}]}'
//
//	# Analyze an organization
//	curl -X POST http://localhost:8844/v1/supplychain/analyze \
//	  -H "Content-Type: application/json" \
//	  -d '{"org_id": "org:acme"}'
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/chaintrace/pkg/logging"
	"github.com/AleutianAI/chaintrace/services/supplychain"
	"github.com/AleutianAI/chaintrace/services/supplychain/config"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	addr := flag.String("addr", "", "Listen address override, e.g. :9000")
	debug := flag.Bool("debug", false, "Enable debug mode")
	watch := flag.Bool("watch", true, "Hot-reload the configuration file on change")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("Failed to load configuration", slog.String("error", err.Error()))
			os.Exit(1)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Server.ListenAddr = *addr
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}

	logger := logging.Setup(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: "chaintrace",
	})

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	svc, err := supplychain.NewService(cfg, logger)
	if err != nil {
		logger.Error("Failed to start service", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer svc.Close()

	// Hot reload: analyzer weights, thresholds, and limits apply live.
	if *watch && *configPath != "" {
		watcher, err := config.Watch(*configPath, svc.ApplyConfig, logger)
		if err != nil {
			logger.Warn("Config hot reload disabled", slog.String("error", err.Error()))
		} else {
			defer watcher.Stop()
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chaintrace"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	supplychain.RegisterRoutes(v1, supplychain.NewHandlers(svc))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	go func() {
		logger.Info("Starting chaintrace server",
			slog.String("address", cfg.Server.ListenAddr),
			slog.String("store", cfg.Store.Engine))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down chaintrace server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown", slog.String("error", err.Error()))
	}
}
