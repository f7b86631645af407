// Package server exposes the timeline and time-agnostic query engines
// over HTTP.
//
//	GET  /healthz
//	GET  /api/entities/history?uri=...&related=objects,merged&depth=2&prov=true
//	GET  /api/entities/state?uri=...&after=...&before=...
//	POST /api/query/version  {"query": "...", "after": "...", "before": "...", "fill_gaps": true}
//	POST /api/query/delta    {"query": "...", "properties": ["..."]}
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coolbeans/timeagnostic/pkg/agnostic"
	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/logger"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// DefaultQueryTimeout bounds a request when no timeout is configured.
const DefaultQueryTimeout = 5 * time.Minute

// Server holds the HTTP server dependencies.
type Server struct {
	engine  *agnostic.Engine
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// Option configures a Server.
type Option func(*Server)

// WithQueryTimeout bounds the work of each request. Zero disables the
// bound.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithLogger replaces the component logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates an API server over engine.
func New(engine *agnostic.Engine, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "server needs a query engine")
	}
	s := &Server{
		engine:  engine,
		timeout: DefaultQueryTimeout,
		logger:  logger.ComponentLogger("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Router returns the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.HealthCheck)
	r.Route("/api", func(r chi.Router) {
		r.Use(s.deadline)
		r.Get("/entities/history", s.EntityHistory)
		r.Get("/entities/state", s.EntityState)
		r.Post("/query/version", s.VersionQuery)
		r.Post("/query/delta", s.DeltaQuery)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Infow("Starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return errors.Wrapf(err, "listen on %s", addr)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Infow("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

// requestID propagates or assigns a request ID and stores it in the
// request context for logging.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.FromContext(r.Context(), s.logger).Infow("Request served",
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldStatus, ww.Status(),
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	})
}

func (s *Server) deadline(next http.Handler) http.Handler {
	if s.timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
