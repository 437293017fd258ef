// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package controlplane assembles the serving control plane: the load
// balancer, the experiment engine, and the monitoring registry, wired
// together behind one HTTP server.
//
// # Description
//
// The three engines compose through narrow interfaces:
//
//	HTTP ──► experiment.Engine ──Invoker──► Balancer ──► model pools
//	              │
//	              └──Telemetry──► monitoring.Registry ──► alerts
//
// The experiment engine routes predictions through the balancer and
// feeds every sample to the matching model monitor. Alerts fan out to
// the console, an optional webhook, and the websocket hub serving
// /v1/alerts/ws. Optional mirrors (Badger for assignments/outcomes,
// InfluxDB for health points) attach the same way and never sit on the
// request path.
//
// # Usage
//
//	svc, err := controlplane.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
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
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/modelplane/services/controlplane/balancer"
	"github.com/AleutianAI/modelplane/services/controlplane/datatypes"
	"github.com/AleutianAI/modelplane/services/controlplane/experiment"
	"github.com/AleutianAI/modelplane/services/controlplane/export"
	"github.com/AleutianAI/modelplane/services/controlplane/handlers"
	"github.com/AleutianAI/modelplane/services/controlplane/model"
	"github.com/AleutianAI/modelplane/services/controlplane/monitoring"
	"github.com/AleutianAI/modelplane/services/controlplane/observability"
	"github.com/AleutianAI/modelplane/services/controlplane/routes"
	"github.com/AleutianAI/modelplane/services/controlplane/store"
)

// serviceName labels traces and otelgin spans.
const serviceName = "controlplane-service"

// shutdownTimeout bounds the graceful HTTP drain.
const shutdownTimeout = 10 * time.Second

// Service is the assembled control plane.
//
// # Thread Safety
//
// Run is called at most once. The accessor methods are safe
// for concurrent use once New returns.
type Service interface {
	// Run starts the HTTP server and blocks until SIGINT/SIGTERM or a
	// server error, then drains connections and stops the background
	// loops.
	Run() error

	// Router exposes the configured Gin engine for integration tests.
	Router() *gin.Engine

	// Balancer exposes the pool manager so embedders can register
	// in-process models.
	Balancer() *balancer.Balancer

	// Monitoring exposes the monitor registry.
	Monitoring() *monitoring.Registry

	// Experiments exposes the experiment engine.
	Experiments() *experiment.Engine

	// Close stops background loops and releases resources. Run calls
	// it on exit; embedders that never call Run must call it
	// themselves.
	Close()
}

type service struct {
	cfg Config

	router   *gin.Engine
	balancer *balancer.Balancer
	engine   *experiment.Engine
	registry *monitoring.Registry
	hub      *handlers.AlertHub

	store   *store.Store
	influx  *export.InfluxExporter
	watcher *PolicyWatcher

	tracerCleanup func(context.Context)
	exportDone    chan struct{}
}

// New assembles a Service from cfg. Optional integrations (mirror
// store, Influx export, policy hot-reload, tracing) activate only when
// configured; a zero Config yields a working in-memory control plane.
func New(cfg Config) (Service, error) {
	s := &service{cfg: applyConfigDefaults(cfg)}

	if s.cfg.EnableTracing {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	var metrics *observability.Metrics
	if s.cfg.EnableMetrics {
		if observability.DefaultMetrics == nil {
			observability.InitMetrics()
		}
		metrics = observability.DefaultMetrics
		slog.Info("Initialized Prometheus metrics")
	}

	if err := s.initStore(); err != nil {
		return nil, err
	}

	s.balancer = balancer.New(balancer.Options{
		Metrics:            metrics,
		EvaluationInterval: s.cfg.ScalingInterval,
	})
	s.balancer.Start()

	s.hub = handlers.NewAlertHub(slog.Default(), datatypes.SeverityLow)
	dispatcher := monitoring.NewDispatcher(monitoring.DispatcherOptions{
		Channels:      s.alertChannels(),
		RatePerSecond: s.cfg.AlertRatePerSecond,
		Burst:         s.cfg.AlertBurst,
	})
	s.registry = monitoring.NewRegistry(monitoring.Options{
		Metrics:    metrics,
		Dispatcher: dispatcher,
	})

	engineOpts := experiment.Options{
		Invoker:   balancerInvoker{s.balancer},
		Metrics:   metrics,
		Telemetry: registryTelemetry{s.registry},
	}
	if s.store != nil {
		engineOpts.Mirror = s.store
	}
	s.engine = experiment.NewEngine(engineOpts)

	if err := s.initInflux(); err != nil {
		s.Close()
		return nil, err
	}

	if s.cfg.PolicyFile != "" {
		watcher, err := NewPolicyWatcher(s.cfg.PolicyFile, s.balancer)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("policy watcher: %w", err)
		}
		s.watcher = watcher
		s.watcher.Start()
	}

	s.initRouter()
	return s, nil
}

// =============================================================================
// Engine Adapters
// =============================================================================

// balancerInvoker routes experiment predictions through the balancer's
// pools, so experiment traffic gets the same instance selection,
// scaling pressure, and fault isolation as direct traffic.
type balancerInvoker struct {
	b *balancer.Balancer
}

func (i balancerInvoker) Invoke(ctx context.Context, modelName string, input any) (model.Output, error) {
	return i.b.Predict(ctx, modelName, input, balancer.PredictOptions{})
}

// registryTelemetry forwards prediction samples to the model's
// monitor, when one exists. Unmonitored models drop samples silently;
// monitoring is opt-in per model.
type registryTelemetry struct {
	r *monitoring.Registry
}

func (t registryTelemetry) Record(metric datatypes.MonitoringMetric) {
	mon, err := t.r.Monitor(metric.ModelName)
	if err != nil {
		return
	}
	mon.RecordPrediction(metric)
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown.
func (s *service) Run() error {
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting control plane server", "port", s.cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		slog.Info("Shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	}
}

func (s *service) Router() *gin.Engine { return s.router }

func (s *service) Balancer() *balancer.Balancer { return s.balancer }

func (s *service) Monitoring() *monitoring.Registry { return s.registry }

func (s *service) Experiments() *experiment.Engine { return s.engine }

// Close stops every background loop and releases held resources.
// Safe to call after a partial New failure.
func (s *service) Close() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.exportDone != nil {
		close(s.exportDone)
		s.exportDone = nil
	}
	if s.engine != nil {
		s.engine.Close()
	}
	if s.registry != nil {
		s.registry.Close()
	}
	if s.balancer != nil {
		s.balancer.Stop()
	}
	if s.influx != nil {
		s.influx.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// alertChannels builds the dispatcher's sink list: console always, the
// websocket hub always, a webhook for high-severity alerts when
// configured.
func (s *service) alertChannels() []monitoring.Channel {
	channels := []monitoring.Channel{
		monitoring.NewConsoleChannel(slog.Default(), datatypes.SeverityLow),
		s.hub,
	}
	if s.cfg.AlertWebhookURL != "" {
		channels = append(channels,
			monitoring.NewWebhookChannel(s.cfg.AlertWebhookURL, datatypes.SeverityHigh, nil))
	}
	return channels
}

func (s *service) initStore() error {
	if s.cfg.StorePath == "" && !s.cfg.StoreInMemory {
		return nil
	}

	storeCfg := store.DefaultConfig(s.cfg.StorePath)
	if s.cfg.StoreInMemory {
		storeCfg = store.InMemoryConfig()
	}
	st, err := store.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("open mirror store: %w", err)
	}
	s.store = st
	slog.Info("Assignment mirror store opened",
		"path", s.cfg.StorePath, "in_memory", s.cfg.StoreInMemory)
	return nil
}

// initInflux starts the periodic health export when configured.
func (s *service) initInflux() error {
	if !s.cfg.Influx.Enabled() {
		return nil
	}
	if s.cfg.Influx.Token == "" || s.cfg.Influx.Org == "" || s.cfg.Influx.Bucket == "" {
		return fmt.Errorf("influx export requires token, org, and bucket")
	}

	s.influx = export.NewInfluxExporter(s.cfg.Influx, slog.Default())
	s.exportDone = make(chan struct{})

	go func(done chan struct{}) {
		ticker := time.NewTicker(s.cfg.ExportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := s.influx.ExportHealth(ctx, s.registry.Health()); err != nil {
					slog.Warn("influx health export failed", "error", err)
				}
				cancel()
			}
		}
	}(s.exportDone)

	slog.Info("Influx health export started",
		"url", s.cfg.Influx.URL, "interval", s.cfg.ExportInterval)
	return nil
}

// initTracer sets up the OTLP trace exporter. Uses an insecure gRPC
// connection, appropriate for collectors on internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.cfg.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
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

func (s *service) initRouter() {
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	if s.cfg.EnableTracing {
		s.router.Use(otelgin.Middleware(serviceName))
	}

	routes.SetupRoutes(s.router, routes.Options{
		Engine:   s.engine,
		Balancer: s.balancer,
		Registry: s.registry,
		AlertHub: s.hub,
	})
}
