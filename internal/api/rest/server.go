package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/infrastructure/config"
)

// Server is the HTTP surface of the platform: the JSON API, health probes,
// and the Prometheus scrape endpoint.
type Server struct {
	httpServer      *http.Server
	logger          *zap.Logger
	shutdownTimeout time.Duration
}

// Extra routes (the browser notification WebSocket, for instance) are mounted
// through this hook at construction time.
type RouteMount func(mux *http.ServeMux)

func NewServer(cfg *config.ServerConfig, handler *Handler, checkers []HealthChecker, logger *zap.Logger, extra ...RouteMount) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", livenessHandler)
	mux.HandleFunc("GET /readyz", readinessHandler(checkers, logger))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Experiment lifecycle
	mux.HandleFunc("POST /api/v1/experiments", handler.handleCreateExperiment)
	mux.HandleFunc("GET /api/v1/experiments", handler.handleListExperiments)
	mux.HandleFunc("GET /api/v1/experiments/{id}", handler.handleGetExperiment)
	mux.HandleFunc("POST /api/v1/experiments/{id}/start", handler.handleStartExperiment)
	mux.HandleFunc("POST /api/v1/experiments/{id}/stop", handler.handleStopExperiment)
	mux.HandleFunc("POST /api/v1/experiments/{id}/pause", handler.handlePauseExperiment)
	mux.HandleFunc("POST /api/v1/experiments/{id}/archive", handler.handleArchiveExperiment)

	// Assignment, events, results
	mux.HandleFunc("POST /api/v1/experiments/{id}/assign", handler.handleAssignUser)
	mux.HandleFunc("GET /api/v1/experiments/{id}/results", handler.handleGetResults)
	mux.HandleFunc("GET /api/v1/experiments/{id}/health", handler.handleGetHealth)
	mux.HandleFunc("POST /api/v1/events", handler.handleTrackEvent)
	mux.HandleFunc("GET /api/v1/reports/growth", handler.handleGrowthReport)

	// Automation
	mux.HandleFunc("POST /api/v1/automation/rules", handler.handleCreateRule)
	mux.HandleFunc("GET /api/v1/automation/rules", handler.handleListRules)
	mux.HandleFunc("GET /api/v1/automation/policy", handler.handleGetPolicy)
	mux.HandleFunc("PUT /api/v1/automation/policy", handler.handleUpdatePolicy)
	mux.HandleFunc("POST /api/v1/automation/queue", handler.handleEnqueue)

	// Alerts
	mux.HandleFunc("GET /api/v1/alerts", handler.handleListAlerts)
	mux.HandleFunc("POST /api/v1/alerts/{id}/acknowledge", handler.handleAcknowledgeAlert)

	// Integration
	mux.HandleFunc("POST /api/v1/features/resolve", handler.handleResolveFeature)
	mux.HandleFunc("POST /api/v1/conversions", handler.handleRecordConversion)

	for _, mount := range extra {
		mount(mux)
	}

	middlewares := []Middleware{
		requestIDMiddleware,
		loggingMiddleware(logger),
		metricsMiddleware,
		recoveryMiddleware(logger),
		timeoutMiddleware(30 * time.Second),
	}

	var h http.Handler = mux
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	return &Server{
		httpServer: &http.Server{
			Addr:           fmt.Sprintf(":%d", cfg.Port),
			Handler:        h,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			MaxHeaderBytes: 1 << 20,
		},
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
	}
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("http server draining")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
