// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis provides the analysis-agent service for GembaFlow.
//
// This package contains the main Service type that coordinates all
// components of the service: HTTP routing, the stage orchestrator, the run
// ledger and artifact store, the output cache, the reasoning provider, and
// observability infrastructure.
//
// # Usage
//
//	cfg := analysis.Config{Port: 12310}
//	svc, err := analysis.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run()
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/gembaworks/gembaflow/services/analysis/cache"
	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
	"github.com/gembaworks/gembaflow/services/analysis/engine"
	"github.com/gembaworks/gembaflow/services/analysis/observability"
	"github.com/gembaworks/gembaflow/services/analysis/routes"
	"github.com/gembaworks/gembaflow/services/analysis/store"
	"github.com/gembaworks/gembaflow/services/reasoning"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the analysis-agent service.
//
// # Description
//
// Service abstracts the service lifecycle, enabling testing and alternative
// implementations. Only essential lifecycle methods are exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds analysis service configuration options.
//
// # Description
//
// Config centralizes all configuration for the analysis service. Values can
// be populated from environment variables, the YAML config file, or
// programmatically for testing.
//
// # Required Fields
//
// None - all fields have sensible defaults.
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// ReasoningBackend specifies the reasoning provider.
	// Valid values: "openai", "claude", "anthropic"
	// Default: "openai"
	ReasoningBackend string

	// DBPath is the SQLite database file holding the run ledger and
	// artifacts. Default: "./data/gembaflow.db"
	DBPath string

	// CachePath is the Badger directory holding cached run outputs.
	// Default: "./data/output_cache"
	CachePath string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "gembaflow-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables Prometheus metrics endpoint.
	// Default: true
	EnableMetrics bool

	// EnableTracing enables OTLP trace export. Default: false, so embedded
	// use and tests need no collector; the serve command opts in.
	EnableTracing bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// ProviderQPS caps outbound reasoning-provider calls per second.
	// Default: 2
	ProviderQPS float64

	// RatePolicies overrides the per-stage run rate policy. Stages not
	// present use the service default of 10 runs per 10 minutes.
	RatePolicies map[datatypes.Stage]engine.RatePolicy
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Fields
//
//   - config: Service configuration
//   - router: Gin HTTP engine
//   - orchestrator: Stage run orchestrator
//   - store: SQLite run ledger and artifact store
//   - cache: Badger output cache
//   - tracerCleanup: Function to shutdown tracer on exit
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	orchestrator  *engine.Orchestrator
	store         *store.Store
	cache         *cache.OutputCache
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new analysis Service with the given configuration.
//
// # Description
//
// New initializes all service components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing (when enabled)
//  3. Initializes Prometheus metrics
//  4. Opens the SQLite ledger/artifact store and runs migrations
//  5. Opens the Badger output cache
//  6. Creates the reasoning provider for the configured backend
//  7. Wires the orchestrator and HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run analysis service
//   - error: Non-nil if initialization fails
//
// # Assumptions
//
//   - Environment variables are set for the reasoning provider (API keys)
//   - DBPath and CachePath parent directories exist and are writable
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	if s.config.EnableTracing {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for analysis runs")
	}

	var err error
	s.store, err = store.Open(s.config.DBPath)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open ledger store: %w", err)
	}

	s.cache, err = cache.Open(cache.DefaultConfig(s.config.CachePath))
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open output cache: %w", err)
	}

	provider, err := s.initProvider()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize reasoning provider: %w", err)
	}

	s.orchestrator = engine.NewOrchestrator(s.store, s.cache, provider, s.config.RatePolicies)

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
// Cleanup is automatic on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting analysis server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing. Callers must not
// modify routes after construction.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.ReasoningBackend == "" {
		cfg.ReasoningBackend = "openai"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./data/gembaflow.db"
	}
	if cfg.CachePath == "" {
		cfg.CachePath = "./data/output_cache"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "gembaflow-otel-collector:4317"
	}
	if cfg.ProviderQPS == 0 {
		cfg.ProviderQPS = 2
	}
	// EnableMetrics defaults to true (zero value is false, so we need explicit check)
	cfg.EnableMetrics = true

	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up OTLP trace exporter to send spans to the configured collector.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("analysis-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
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
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initProvider creates the reasoning provider for the configured backend and
// wraps it with the outbound QPS throttle.
func (s *service) initProvider() (reasoning.Provider, error) {
	p, err := reasoning.New(s.config.ReasoningBackend)
	if err != nil {
		return nil, err
	}
	slog.Info("Using reasoning backend", "backend", s.config.ReasoningBackend)

	return reasoning.NewThrottled(p, s.config.ProviderQPS), nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("analysis-service"))

	routes.SetupRoutes(s.router, s.orchestrator)
}

// cleanup releases all resources held by the service. Called when Run()
// exits or on initialization failure.
func (s *service) cleanup() {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			slog.Warn("Output cache close error", "error", err)
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Ledger store close error", "error", err)
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
