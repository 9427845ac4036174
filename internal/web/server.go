// Package web provides the HTTP API of the ledger service.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/horizon/portal-ledger/internal/config"
	"github.com/horizon/portal-ledger/internal/core"
	mw "github.com/horizon/portal-ledger/internal/web/middleware"
)

// Server is the HTTP server of the ledger service.
type Server struct {
	service *core.Service
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Metrics)
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(s.securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.cfg.Metrics.Enabled {
		s.router.Handle(s.cfg.Metrics.Path, promhttp.Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))
		r.Use(mw.Identity(&s.cfg.Auth))
		r.Use(s.withOrigin)
		if s.cfg.Rate.Enabled {
			r.Use(mw.NewRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute).Handler)
		}

		r.Get("/entities", s.handleListEntities)

		// Audit trail
		r.Route("/audit", func(r chi.Router) {
			r.Get("/", s.handleAuditLog)
			r.Get("/verify", s.handleVerifyStream)
			r.Post("/changes", s.handleRecordChange)
			r.Get("/{id}", s.handleAuditEntry)
			r.Get("/{id}/snapshot/{side}", s.handleAuditSnapshot)
		})

		r.Route("/{entityType}", func(r chi.Router) {
			r.Get("/template", s.handleDownloadTemplate)
			r.Post("/imports/preview", s.handlePreview)

			// Batch lifecycle; writes get a tighter rate limit
			r.Group(func(r chi.Router) {
				if s.cfg.Rate.Enabled {
					r.Use(mw.NewRateLimiter(s.cfg.Rate.ImportLimit, time.Minute).Handler)
				}
				r.Post("/imports", s.handleImport)
				r.Delete("/batches/{batchKey}", s.handleRevoke)
			})
			r.Get("/batches/revoked", s.handleRevokedBatches)
			r.Get("/batches/{batchKey}", s.handleGetBatch)
			r.Get("/batches/{batchKey}/records", s.handleBatchRecords)

			// Single records
			r.Get("/records/{id}", s.handleGetRecord)
			r.Put("/records/{id}", s.handleUpdateRecord)
			r.Delete("/records/{id}", s.handleDeleteRecord)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only rendered snapshots are HTML, and they need no scripts.
		if s.cfg.Security.EnableCSP {
			w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'self'; frame-ancestors 'none'")
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Encoding errors are only logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
