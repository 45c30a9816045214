// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command advisor starts the course advisor API server.
//
// The server loads the latest course relationship graph snapshot from
// BadgerDB at startup and serves chat, eligibility, and graph query
// endpoints over HTTP.
//
// Usage:
//
//	go run ./cmd/advisor
//	go run ./cmd/advisor -config advisor.yaml -debug
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8090/v1/advisor/health
//
//	# Eligibility
//	curl -X POST http://localhost:8090/v1/advisor/eligibility \
//	  -H "Content-Type: application/json" \
//	  -d '{"program": "COMPIH", "target_term": "2026T1", "completed": [{"course_code": "COMP1511", "term": "2025T1"}]}'
//
//	# Chat (requires an OpenAI-compatible gateway)
//	curl -X POST http://localhost:8090/v1/advisor/chat \
//	  -H "Content-Type: application/json" \
//	  -d '{"query": "What does COMP3231 cover and am I ready for it?", "profile": {"program": "COMPIH", "target_term": "2026T1"}}'
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
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/agent/grounding"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/config"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/graph"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/retrieval"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/llm"
)

func main() {
	configPath := flag.String("config", "advisor.yaml", "Path to the YAML config file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Open BadgerDB. The graph snapshot is the service's source of truth;
	// failing to load it is fatal.
	db, err := badger.Open(badger.DefaultOptions(cfg.Storage.Dir).WithLogger(nil))
	if err != nil {
		logger.Error("opening badger", slog.String("dir", cfg.Storage.Dir), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	snapshots, err := graph.NewSnapshotStore(db, logger)
	if err != nil {
		logger.Error("creating snapshot store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	g, meta, err := snapshots.LoadLatest(context.Background(), cfg.Storage.Dataset)
	if err != nil {
		logger.Error("loading graph snapshot; build one with 'advisorctl graph build'",
			slog.String("dataset", cfg.Storage.Dataset),
			slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("graph snapshot loaded",
		slog.String("snapshot_id", meta.SnapshotID),
		slog.Int("nodes", meta.NodeCount),
		slog.Int("edges", meta.EdgeCount),
	)

	searcher, err := retrieval.NewWeaviateSearcher(cfg.Weaviate.Host, cfg.Weaviate.Scheme, cfg.Weaviate.ClassName, logger)
	if err != nil {
		logger.Error("creating weaviate searcher", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var reranker retrieval.Reranker
	if cfg.Rerank.Endpoint != "" {
		reranker, err = retrieval.NewHTTPReranker(cfg.Rerank.Endpoint, logger)
		if err != nil {
			logger.Error("creating reranker", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		logger.Info("rerank endpoint not configured, using retrieval order")
	}

	retriever, err := retrieval.NewHybridRetriever(searcher, reranker, g, logger)
	if err != nil {
		logger.Error("creating retriever", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var clientOpts []llm.ClientOption
	if cfg.LLM.MaxConcurrent > 0 {
		clientOpts = append(clientOpts, llm.WithMaxConcurrent(cfg.LLM.MaxConcurrent))
	}
	if cfg.LLM.RequestsPerSecond > 0 {
		clientOpts = append(clientOpts, llm.WithRequestRate(cfg.LLM.RequestsPerSecond))
	}
	client, err := llm.NewOpenAIClient(cfg.APIKey(), cfg.LLM.Model, cfg.LLM.BaseURL, logger, clientOpts...)
	if err != nil {
		logger.Error("creating LLM client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	checker, err := grounding.NewChecker(client, db, 0, logger)
	if err != nil {
		logger.Error("creating grounding checker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	svc, err := advisor.NewService(advisor.Deps{
		Graph:                g,
		Retriever:            retriever,
		Client:               client,
		Checker:              checker,
		TopK:                 cfg.Agent.TopK,
		SufficiencyThreshold: cfg.Agent.SufficiencyThreshold,
		Logger:               logger,
	})
	if err != nil {
		logger.Error("creating service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("course-advisor"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	advisor.RegisterRoutes(v1, advisor.NewHandlers(svc))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting course advisor server", slog.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down course advisor server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
	}
}
