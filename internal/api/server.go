// SPDX-License-Identifier: MIT

// Package api provides the HTTP surface of the cultivator registry.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kundajelab/cultivator/internal/audit"
	"github.com/kundajelab/cultivator/internal/cache"
	"github.com/kundajelab/cultivator/internal/config"
	"github.com/kundajelab/cultivator/internal/export"
	"github.com/kundajelab/cultivator/internal/health"
	"github.com/kundajelab/cultivator/internal/log"
	"github.com/kundajelab/cultivator/internal/ratelimit"
	"github.com/kundajelab/cultivator/internal/registry"
	"github.com/kundajelab/cultivator/internal/telemetry"
)

// Server wires the registry store, cache and cross-cutting middleware into
// a chi router and owns the HTTP listener lifecycle.
type Server struct {
	holder    *config.Holder
	store     registry.Store
	cache     cache.Cache
	audit     *audit.Logger
	limiter   *ratelimit.Limiter
	health    *health.Manager
	exportJob *export.Job
	clientIP  func(*http.Request) string
	startTime time.Time

	httpSrv *http.Server
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithExportJob makes publish and yank trigger an index export.
func WithExportJob(job *export.Job) Option {
	return func(s *Server) { s.exportJob = job }
}

// WithRateLimiter installs a global token-bucket limiter.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// NewServer creates a Server. The audit logger and health manager are
// required; rate limiting and export are opt-in.
func NewServer(holder *config.Holder, store registry.Store, c cache.Cache, auditLogger *audit.Logger, healthMgr *health.Manager, opts ...Option) *Server {
	s := &Server{
		holder:    holder,
		store:     store,
		cache:     c,
		audit:     auditLogger,
		health:    healthMgr,
		startTime: time.Now(),
	}

	resolver, err := ratelimit.NewIPResolver(holder.Current().TrustedProxies)
	if err != nil {
		log.WithComponent("api").Warn().Err(err).Msg("invalid trusted proxy list, forwarding headers untrusted")
		resolver, _ = ratelimit.NewIPResolver("")
	}
	s.clientIP = resolver.ClientIP

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router. Middleware order matters: recovery outermost,
// then request ID so every later stage logs with one, rate limiting last
// so rejected requests still carry headers and metrics.
func (s *Server) Routes() http.Handler {
	cfg := s.holder.Current()

	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(requestID)
	r.Use(securityHeaders)
	r.Use(metricsMiddleware)
	if cfg.TelemetryEnabled {
		r.Use(telemetry.Middleware("cultivator.api"))
	}
	r.Use(log.Middleware())

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Get("/metrics", metricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitEnabled {
			if s.limiter != nil {
				r.Use(s.globalRateLimit)
			}
			r.Use(s.perIPRateLimit(cfg.RateLimitPerIP, cfg.RateLimitPerIPBurst))
		}

		r.Get("/status", s.handleStatus)
		r.Get("/packages", s.handleList)
		r.Get("/packages/{name}", s.handleSummary)
		r.Get("/packages/{name}/resolve", s.handleResolve)
		r.Get("/packages/{name}/{version}", s.handleGet)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.Post("/packages", s.handlePublish)
			r.Delete("/packages/{name}/{version}", s.handleYank)
			r.Get("/audit/recent", s.handleAuditRecent)
		})
	})

	return r
}

// Start runs the HTTP listener until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.holder.Current()

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger := log.WithComponent("api")
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info().Msg("http server shutting down")
	return s.httpSrv.Shutdown(shutdownCtx)
}

const shutdownTimeout = 10 * time.Second
