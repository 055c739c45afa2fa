package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"exifquarter/ledger/pkg/config"
	"exifquarter/ledger/pkg/imaging"
	"exifquarter/ledger/pkg/quota"
	"exifquarter/ledger/pkg/quota/abuse"
	"exifquarter/ledger/pkg/quota/storage"
)

// Server is the HTTP front end of the credit ledger.
type Server struct {
	config       *config.ServerConfig
	metricsCfg   *config.MetricsConfig
	ledger       *quota.Ledger
	store        storage.Adapter
	guard        *abuse.Guard
	costs        imaging.CostTable
	webhookToken string

	httpServer   *http.Server
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// Options bundles the collaborators a Server needs.
type Options struct {
	// Ledger serves balance, deduct, and credit operations. Required.
	Ledger *quota.Ledger

	// Store is pinged by the health endpoint and queried for the
	// degraded flag. Required.
	Store storage.Adapter

	// Guard screens ledger routes. Optional; nil disables screening.
	Guard *abuse.Guard

	// Costs prices deductions that do not carry an explicit amount.
	// Defaults to imaging.DefaultCostTable.
	Costs imaging.CostTable

	// Metrics configures the Prometheus endpoint. Optional.
	Metrics *config.MetricsConfig
}

// NewServer creates a ledger server.
func NewServer(cfg *config.ServerConfig, opts Options) *Server {
	costs := opts.Costs
	if costs == nil {
		costs = imaging.DefaultCostTable()
	}

	return &Server{
		config:       cfg,
		metricsCfg:   opts.Metrics,
		ledger:       opts.Ledger,
		store:        opts.Store,
		guard:        opts.Guard,
		costs:        costs,
		webhookToken: cfg.WebhookToken,
		shutdownChan: make(chan struct{}),
	}
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.setupRoutes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting ledger server", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	case <-s.shutdownChan:
		slog.Info("shutdown requested")
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		slog.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		slog.Info("ledger server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures HTTP routes and the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	ledgerRoutes := func(h http.HandlerFunc) http.Handler {
		if s.guard == nil {
			return h
		}
		return GuardMiddleware(s.guard, identityFromRequest)(h)
	}

	mux.Handle("/v1/balance", ledgerRoutes(s.handleBalance))
	mux.Handle("/v1/deduct", ledgerRoutes(s.handleDeduct))
	mux.HandleFunc("/v1/credit", s.handleCredit)
	mux.HandleFunc("/healthz", s.handleHealthz)

	if s.metricsCfg == nil || s.metricsCfg.IsEnabled() {
		path := "/metrics"
		if s.metricsCfg != nil && s.metricsCfg.Path != "" {
			path = s.metricsCfg.Path
		}
		mux.Handle(path, promhttp.Handler())
	}

	var handler http.Handler = mux
	handler = ThrottleMiddleware(s.config.RequestsPerSecond, s.config.MaxConcurrent)(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	return handler
}

// degraded reports whether the store is serving from its fallback.
func (s *Server) degraded() bool {
	type degrader interface{ Degraded() bool }
	if d, ok := s.store.(degrader); ok {
		return d.Degraded()
	}
	return false
}
