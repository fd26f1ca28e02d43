// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles and runs the query service.
//
// The orchestrator wires the full pipeline: the BadgerDB knowledge
// store, the semantic analyzer with its hot-reloadable dictionaries,
// few-shot retrieval, prompt composition, the tool-calling agent loop
// over the SQLite analytics database, and the feedback learner. The
// HTTP surface is registered by the routes package; observability
// (OTLP tracing, Prometheus metrics, structured request logs) is set
// up here.
//
// # Enterprise Integration
//
// The orchestrator supports dependency injection via
// extensions.ServiceOptions, enabling custom implementations of:
//   - UserResolver: identity and permission-group mapping
//   - AuditLogger: compliance audit logging
//
// # Usage
//
// Open source (uses no-op defaults):
//
//	cfg := orchestrator.ConfigFromEnv()
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianQuery/pkg/extensions"
	"github.com/AleutianAI/AleutianQuery/services/embedding"
	"github.com/AleutianAI/AleutianQuery/services/executor"
	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/agent"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/analyzer"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/fewshot"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/learner"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/prompts"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/retention"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/store"
)

const serviceName = "query-orchestrator"

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the orchestrator lifecycle contract. Run blocks until
// shutdown; Router exposes the Gin engine for integration tests.
type Service interface {
	// Run starts the HTTP server plus the background loops (seed
	// watcher, learner sweep, rate limiter sweep) and blocks until a
	// termination signal or fatal error.
	Run() error

	// Router returns the configured Gin engine. Callers must not
	// modify routes after construction.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration. Zero values get defaults
// from New; ConfigFromEnv populates it from the environment.
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// StorePath is the BadgerDB directory for conversations,
	// knowledge, feedback, and profiles. Default: "./data/store"
	StorePath string

	// AnalyticsDBPath is the SQLite analytics database queried by the
	// agent. Default: "./data/analytics.db"
	AnalyticsDBPath string

	// ArtifactDir holds query result files served by hash.
	// Default: "./data/artifacts"
	ArtifactDir string

	// KnowledgeSeedPath is an optional YAML seed merged into the
	// knowledge dictionaries and hot-reloaded on change.
	KnowledgeSeedPath string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// EnableTracing turns on OTLP trace export. Off by default so
	// tests and local runs need no collector.
	EnableTracing bool

	// EnableMetrics registers Prometheus metrics and records pipeline
	// activity. Off by default for the same reason.
	EnableMetrics bool

	// AdminUserIDs lists user IDs granted the admin group.
	AdminUserIDs []string

	// RatePerSec and RateBurst bound requests per client on the /api
	// group. Defaults: 5 req/s, burst 20.
	RatePerSec float64
	RateBurst  int

	// EmbedRatePerSec throttles embedding calls so learner sweeps
	// cannot saturate the upstream API. 0 disables the wrapper.
	EmbedRatePerSec float64

	// SweepInterval is how often the learner evicts stale exemplars.
	// Default: 1 hour.
	SweepInterval time.Duration

	// ArtifactMaxAge is how long query result artifacts are retained.
	// Defaults to the retention package's 30 days.
	ArtifactMaxAge time.Duration

	// MaxAgentIterations caps tool-call rounds per question.
	// 0 uses the agent's default.
	MaxAgentIterations int
}

// ConfigFromEnv builds a Config from environment variables. Unset
// variables keep their defaults.
func ConfigFromEnv() Config {
	cfg := Config{
		StorePath:         os.Getenv("STORE_DB_PATH"),
		AnalyticsDBPath:   os.Getenv("ANALYTICS_DB_PATH"),
		ArtifactDir:       os.Getenv("ARTIFACT_DIR"),
		KnowledgeSeedPath: os.Getenv("KNOWLEDGE_SEED_PATH"),
		OTelEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		EnableTracing:     os.Getenv("OTEL_TRACING_ENABLED") == "true",
		EnableMetrics:     os.Getenv("METRICS_ENABLED") != "false",
	}
	if port, err := strconv.Atoi(os.Getenv("ORCHESTRATOR_PORT")); err == nil && port > 0 {
		cfg.Port = port
	}
	if admins := os.Getenv("ADMIN_USER_IDS"); admins != "" {
		for _, id := range strings.Split(admins, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.AdminUserIDs = append(cfg.AdminUserIDs, id)
			}
		}
	}
	if rps, err := strconv.ParseFloat(os.Getenv("EMBEDDING_RATE_PER_SEC"), 64); err == nil && rps > 0 {
		cfg.EmbedRatePerSec = rps
	}
	return cfg
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.StorePath == "" {
		cfg.StorePath = "./data/store"
	}
	if cfg.AnalyticsDBPath == "" {
		cfg.AnalyticsDBPath = "./data/analytics.db"
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = "./data/artifacts"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 20
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Hour
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use. All fields are
// read-only after New returns.
type service struct {
	config Config
	opts   extensions.ServiceOptions
	logger *slog.Logger

	router  *gin.Engine
	store   *store.Store
	dicts   *analyzer.Dictionaries
	exec    executor.QueryExecutor
	learner *learner.Learner
	limiter *middleware.RateLimiter
	sweeper *retention.Sweeper
	metrics *observability.PipelineMetrics

	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New assembles the full pipeline: storage, dictionaries, analyzer,
// retrieval, agent loop, learner, handlers, and the router. If opts is
// nil, DefaultOptions is used. Callers own the returned service until
// Run exits; on construction failure all partially opened resources
// are released.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
		logger: slog.Default(),
	}
	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}

	if s.config.EnableTracing {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	if s.config.EnableMetrics {
		if observability.DefaultMetrics == nil {
			observability.InitMetrics()
		}
		s.metrics = observability.DefaultMetrics
		s.logger.Info("Prometheus metrics enabled")
	}

	if err := s.initPipeline(); err != nil {
		s.cleanup()
		return nil, err
	}

	return s, nil
}

// initPipeline opens the stores and builds the component graph in
// dependency order.
func (s *service) initPipeline() error {
	st, err := store.Open(store.DefaultConfig(s.config.StorePath))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	s.store = st

	dicts, err := analyzer.NewDictionaries(st, s.config.KnowledgeSeedPath, s.logger)
	if err != nil {
		return fmt.Errorf("load knowledge dictionaries: %w", err)
	}
	s.dicts = dicts

	llmClient, err := llm.NewClientFromEnv()
	if err != nil {
		return fmt.Errorf("initialize LLM client: %w", err)
	}

	emb, err := embedding.NewFromEnv()
	if err != nil {
		return fmt.Errorf("initialize embedder: %w", err)
	}
	if s.config.EmbedRatePerSec > 0 {
		emb = embedding.NewRateLimited(emb, s.config.EmbedRatePerSec, 1)
	}

	exec, err := executor.NewSQLiteExecutor(s.config.AnalyticsDBPath)
	if err != nil {
		return fmt.Errorf("open analytics database: %w", err)
	}
	s.exec = exec

	artifacts, err := store.NewArtifactStore(s.config.ArtifactDir)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}

	retCfg := retention.DefaultConfig()
	if s.config.ArtifactMaxAge > 0 {
		retCfg.MaxAge = s.config.ArtifactMaxAge
	}
	s.sweeper, err = retention.NewSweeper(artifacts.Dir(), retCfg, s.logger)
	if err != nil {
		return fmt.Errorf("initialize artifact retention: %w", err)
	}

	var loopOpts []agent.LoopOption
	if s.config.MaxAgentIterations > 0 {
		loopOpts = append(loopOpts, agent.WithMaxIterations(s.config.MaxAgentIterations))
	}
	loop := agent.NewLoop(llmClient,
		agent.NewToolbox(exec, artifacts, s.logger),
		agent.NewPermissionManager(), s.logger, loopOpts...)

	lrn := learner.New(st, emb, s.logger)
	s.learner = lrn

	// Resolver defaults stay unless the config grants admins. Custom
	// resolvers from opts always win.
	if _, isDefault := s.opts.UserResolver.(*extensions.StaticUserResolver); isDefault && len(s.config.AdminUserIDs) > 0 {
		s.opts.UserResolver = extensions.NewStaticUserResolver(
			s.config.AdminUserIDs, s.expertiseFromProfile)
	}

	h := handlers.NewHandlers(handlers.Config{
		Store:    st,
		Dicts:    dicts,
		Analyzer: analyzer.New(dicts, llmClient, st, s.logger),
		Selector: fewshot.New(st, emb, s.logger),
		Composer: prompts.New(st, s.logger),
		Loop:     loop,
		Learner:  lrn,
		Options:  s.opts,
		Metrics:  s.metrics,
		Logger:   s.logger,
	})

	s.limiter = middleware.NewRateLimiter(s.config.RatePerSec, s.config.RateBurst)
	s.initRouter(h)
	return nil
}

// expertiseFromProfile reads the learner-maintained profile so repeat
// analysts get expert-level prompting automatically.
func (s *service) expertiseFromProfile(_ context.Context, userID string) (string, error) {
	profile, err := s.store.GetProfile(userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return profile.ExpertiseLevel, nil
}

func (s *service) initRouter(h *handlers.Handlers) {
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(s.router, h, s.limiter.Middleware())
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and background loops, blocking until
// SIGINT/SIGTERM or a fatal server error. Resources are released on
// return.
func (s *service) Run() error {
	defer s.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.dicts.Watch(ctx); err != nil {
		s.logger.Warn("knowledge seed watcher unavailable", "error", err)
	}
	if err := s.sweeper.Start(ctx); err != nil {
		s.logger.Warn("artifact retention sweeper not started", "error", err)
	}
	defer s.sweeper.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("starting orchestrator server", "port", s.config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		s.learner.Sweep(gctx, s.config.SweepInterval)
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.limiter.Sweep()
			}
		}
	})

	return g.Wait()
}

// Router returns the configured Gin engine for integration tests.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Observability
// =============================================================================

// initTracer sets up the OTLP trace exporter over an insecure gRPC
// channel, appropriate for internal collector networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}

// cleanup releases resources in reverse construction order. Safe to
// call with partially initialized state.
func (s *service) cleanup() {
	if s.dicts != nil {
		if err := s.dicts.Close(); err != nil {
			s.logger.Warn("dictionary watcher close error", "error", err)
		}
	}
	if s.exec != nil {
		if err := s.exec.Close(); err != nil {
			s.logger.Warn("analytics database close error", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
