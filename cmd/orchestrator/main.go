// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the query orchestrator HTTP server.
//
// This is the main entry point for the containerized service. It reads
// configuration from environment variables and runs until SIGINT or
// SIGTERM.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12210)
//   - LLM_BACKEND_TYPE: LLM provider - openai, ollama (default: openai)
//   - EMBEDDING_BACKEND: embedding provider - openai, http, hash
//   - STORE_DB_PATH: BadgerDB directory (default: ./data/store)
//   - ANALYTICS_DB_PATH: SQLite analytics database (default: ./data/analytics.db)
//   - ARTIFACT_DIR: query result artifact directory (default: ./data/artifacts)
//   - KNOWLEDGE_SEED_PATH: optional YAML knowledge seed, hot-reloaded
//   - ADMIN_USER_IDS: comma-separated user IDs granted admin
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//   - OTEL_TRACING_ENABLED: "true" enables OTLP trace export
//   - METRICS_ENABLED: "false" disables Prometheus metrics
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_DIR: optional directory for daily log files alongside stderr
//
// # Usage
//
//	# Build
//	go build -o orchestrator ./cmd/orchestrator
//
//	# Run
//	./orchestrator
//
//	# Or via container
//	podman-compose up orchestrator
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianQuery/pkg/logging"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator"
)

func main() {
	// Setup structured logging: JSON to stderr, plus a daily file when
	// LOG_DIR is set.
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		LogDir:  os.Getenv("LOG_DIR"),
		Service: "orchestrator",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg := orchestrator.ConfigFromEnv()

	slog.Info("Starting orchestrator",
		"store_path", cfg.StorePath,
		"analytics_db", cfg.AnalyticsDBPath,
		"tracing", cfg.EnableTracing,
		"metrics", cfg.EnableMetrics,
	)

	// Create orchestrator with default (no-op) extension options
	// Enterprise builds will pass custom ServiceOptions here
	svc, err := orchestrator.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}
