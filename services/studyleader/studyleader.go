// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package studyleader assembles the study session HTTP service.
//
// The service lets a student open a study session on a topic, ask
// questions that a remote AI assistant answers as a study leader, read
// back the conversation and finally tear the session down.
//
//	HTTP (gin) ──► handlers ──► session.Service ──► assistants.Client ──► remote API
//	                                 │
//	                                 └──► poller.Poller (one ticker per run)
//
// # Usage
//
//	cfg, err := studyleader.LoadConfig("studyleader.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := studyleader.New(ctx, cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = svc.Run(ctx)
package studyleader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/studyleader/services/studyleader/assistants"
	"github.com/AleutianAI/studyleader/services/studyleader/middleware"
	"github.com/AleutianAI/studyleader/services/studyleader/observability"
	"github.com/AleutianAI/studyleader/services/studyleader/poller"
	"github.com/AleutianAI/studyleader/services/studyleader/routes"
	"github.com/AleutianAI/studyleader/services/studyleader/session"
	"github.com/AleutianAI/studyleader/services/studyleader/telemetry"
)

// ServiceName identifies the service in logs, traces and metrics.
const ServiceName = "studyleader"

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the study leader HTTP service.
//
// # Thread Safety
//
// Run must be called at most once. Router is safe to call at any time.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the server fails. On
	// cancellation in-flight polls are cancelled first, then the server
	// drains for up to Config.ShutdownTimeout.
	Run(ctx context.Context) error

	// Router returns the configured gin engine, for tests.
	Router() *gin.Engine
}

// Options injects dependencies. Every field is optional.
type Options struct {
	// Client replaces the OpenAI-backed assistants client.
	Client assistants.Client

	// Registry receives all metrics and backs /metrics. Nil uses the
	// Prometheus default registry.
	Registry *prometheus.Registry

	// Listener replaces listening on Config.Port.
	Listener net.Listener
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config   Config
	opts     Options
	router   *gin.Engine
	poller   *poller.Poller
	sessions *session.Service

	telemetryShutdown func(context.Context) error
}

// New wires the service.
//
// # Description
//
//  1. Applies defaults to zero-valued config fields
//  2. Installs OpenTelemetry providers
//  3. Registers Prometheus session metrics
//  4. Builds the assistants client unless one is injected
//  5. Builds the poller, the session service and the router
//
// # Inputs
//
//   - ctx: Used while building exporters.
//   - cfg: Usually from LoadConfig.
//   - opts: May be nil.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Telemetry or client construction failure.
func New(ctx context.Context, cfg Config, opts *Options) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	if opts != nil {
		s.opts = *opts
	}

	var (
		registerer     prometheus.Registerer
		metrics        *observability.SessionMetrics
		metricsHandler http.Handler
	)
	if s.opts.Registry != nil {
		registerer = s.opts.Registry
		metrics = observability.NewSessionMetrics(s.opts.Registry)
		metricsHandler = promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{})
	} else {
		registerer = prometheus.DefaultRegisterer
		metrics = observability.InitMetrics()
		metricsHandler = promhttp.Handler()
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    ServiceName,
		ServiceVersion: Version,
		Environment:    s.config.Telemetry.Environment,
		TraceExporter:  s.config.Telemetry.TracesExporter,
		MetricExporter: s.config.Telemetry.MetricsExporter,
		OTLPEndpoint:   s.config.Telemetry.OTLPEndpoint,
		Registerer:     registerer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetryShutdown = shutdown

	client := s.opts.Client
	if client == nil {
		client, err = assistants.NewOpenAIClient(assistants.OpenAIConfig{
			APIKey:            s.config.OpenAI.APIKey,
			BaseURL:           s.config.OpenAI.BaseURL,
			RequestsPerSecond: s.config.OpenAI.RequestsPerSecond,
			Burst:             s.config.OpenAI.Burst,
		})
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to initialize assistants client: %w", err)
		}
	}

	s.poller = poller.New(client, poller.Config{
		Interval: s.config.Poll.Interval,
		Timeout:  s.config.Poll.Timeout,
	}, metrics)

	s.sessions = session.NewService(client, s.poller, session.Config{
		PublicURL:     s.config.PublicURL,
		AssistantName: s.config.Assistant.Name,
		Model:         s.config.Assistant.Model,
	}, metrics)

	s.initRouter(metricsHandler)

	slog.Info("Study leader service initialized",
		"model", s.config.Assistant.Model,
		"poll_interval", s.config.Poll.Interval.String(),
		"poll_timeout", s.config.Poll.Timeout.String(),
		"traces", s.config.Telemetry.TracesExporter,
	)
	return s, nil
}

func (s *service) initRouter(metricsHandler http.Handler) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		otelgin.Middleware(ServiceName),
		middleware.RequestLogger(),
	)
	routes.SetupRoutes(s.router, s.sessions, s.poller.Active, metricsHandler)
}

// =============================================================================
// Service Interface Methods
// =============================================================================

func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if s.opts.Listener != nil {
			slog.Info("Server is running", "addr", s.opts.Listener.Addr().String())
			err = srv.Serve(s.opts.Listener)
		} else {
			slog.Info("Server is running", "port", s.config.Port)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down", "active_polls", s.poller.Active())
		s.poller.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// cleanup flushes telemetry. Called when Run exits or New fails.
func (s *service) cleanup() {
	if s.telemetryShutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.telemetryShutdown(ctx); err != nil {
		slog.Warn("Telemetry shutdown error", "error", err)
	}
}
