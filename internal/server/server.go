// Package server exposes the submission pipeline over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shineum/captionmail/internal/submission"
)

type submitter interface {
	Submit(ctx context.Context, sub submission.Submission) (*submission.Result, error)
}

// Server .
type Server struct {
	h         *chi.Mux
	srv       *http.Server
	logic     submitter
	maxUpload int64
	logger    *slog.Logger
}

// New creates a Server listening on addr. Request bodies larger than
// maxUpload bytes are rejected.
func New(addr string, logic submitter, maxUpload int64, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	h := chi.NewMux()
	s := &Server{
		h: h,
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logic:     logic,
		maxUpload: maxUpload,
		logger:    logger,
	}
	s.addRoutes()

	return s
}

func (s *Server) addRoutes() {
	s.h.Use(middleware.RequestID)
	s.h.Use(s.logRequests)
	s.h.Use(middleware.Recoverer)

	s.h.Get("/healthz", s.getHealth)
	s.h.Post("/api/submit", s.postSubmit)
}

// Handler returns the routed handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.h
}

// Start .
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Stop .
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
