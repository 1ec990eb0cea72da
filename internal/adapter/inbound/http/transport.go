package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transport is the inbound HTTP adapter tying together the dialect
// endpoints, the admin API, health, and metrics on one listener.
type Transport struct {
	gateway         *GatewayHandler
	adminHandler    http.Handler
	healthChecker   *HealthChecker
	server          *http.Server
	addr            string
	shutdownTimeout time.Duration
	logger          *slog.Logger
	registry        *prometheus.Registry
	metrics         *Metrics
}

// Option is a functional option for configuring Transport.
type Option func(*Transport)

// WithAddr sets the listen address.
// Default is "127.0.0.1:8989" (localhost only).
func WithAddr(addr string) Option {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithAdminHandler mounts the control-plane API under /admin/.
func WithAdminHandler(h http.Handler) Option {
	return func(t *Transport) {
		t.adminHandler = h
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *Transport) {
		t.healthChecker = hc
	}
}

// WithLogger sets the logger for the transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.shutdownTimeout = d
	}
}

// NewTransport creates the HTTP transport. The metrics registry is created
// here and shared with the gateway handler.
func NewTransport(gateway *GatewayHandler, metrics *Metrics, registry *prometheus.Registry, opts ...Option) *Transport {
	t := &Transport{
		gateway:         gateway,
		addr:            "127.0.0.1:8989",
		shutdownTimeout: 10 * time.Second,
		logger:          slog.Default(),
		registry:        registry,
		metrics:         metrics,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewMetricsRegistry creates a Prometheus registry with runtime collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Start begins accepting HTTP connections. It blocks until the context is
// cancelled or the server fails.
func (t *Transport) Start(ctx context.Context) error {
	m := http.NewServeMux()
	t.gateway.Routes(m)

	if t.adminHandler != nil {
		m.Handle("/admin/", t.adminHandler)
	}
	if t.healthChecker != nil {
		m.Handle("/health", t.healthChecker.Handler())
	}
	m.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))

	// Middleware order (outermost first): request id, then session
	// resolution. Per-dialect metrics are recorded inside the handlers.
	var handler http.Handler = m
	handler = SessionIDMiddleware(handler)
	handler = RequestIDMiddleware(t.logger)(handler)

	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("starting HTTP server", "addr", t.addr)
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *Transport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.shutdownTimeout)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}
	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *Transport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
