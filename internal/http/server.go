// Package http serves the chat session over a small JSON API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	. "github.com/roelfdiedericks/chatrelay/internal/logging"
	"github.com/roelfdiedericks/chatrelay/internal/session"
	"github.com/roelfdiedericks/chatrelay/internal/turnlog"
)

// Service is the session surface the API drives. *session.Manager
// satisfies it.
type Service interface {
	Ask(ctx context.Context, req session.Request) (session.Answer, error)
	Status() session.Status
	Restart(ctx context.Context) error
}

// TurnLister returns recent turns. *turnlog.Store satisfies it.
type TurnLister interface {
	Recent(ctx context.Context, limit int) ([]turnlog.Turn, error)
}

// Server represents the HTTP server
type Server struct {
	server  *http.Server
	svc     Service
	turns   TurnLister
	cfg     ServerConfig
	limiter *RateLimiter
	authLim *FailureLimiter
	wg      sync.WaitGroup
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Listen            string  // Address to listen on (e.g., "127.0.0.1:8000")
	Token             string  // Bearer token; empty disables auth
	RequestsPerSecond float64 // 0 disables throttling
	Burst             int
	MaxImageBytes     int64
	UploadDir         string // Where base64 uploads are staged (empty = os.TempDir)

	// WriteTimeout applies to the quick endpoints; /v1/chat and /v1/restart
	// clear it and are bounded by the session instead.
	WriteTimeout time.Duration
}

// NewServer creates a new HTTP server instance. turns may be nil when turn
// history is disabled.
func NewServer(cfg ServerConfig, svc Service, turns TurnLister) (*Server, error) {
	if svc == nil {
		return nil, errors.New("http: service is required")
	}
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:8000"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	L_debug("http: NewServer", "listen", cfg.Listen, "auth", cfg.Token != "", "rps", cfg.RequestsPerSecond)

	s := &Server{
		svc:     svc,
		turns:   turns,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		authLim: NewFailureLimiter(10 * time.Second),
	}
	s.server = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(s.logRequest)
	r.Use(stripHeaders)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Use(s.limiter.Middleware)

		r.With(noWriteDeadline).Post("/chat", s.handleChat)
		r.Get("/health", s.handleHealth)
		r.With(noWriteDeadline).Post("/restart", s.handleRestart)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/turns", s.handleTurns)
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("http: server starting", "addr", s.server.Addr)

		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			L_error("http: server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server. In-flight turns get until
// ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		L_error("http: shutdown error", "error", err)
		return fmt.Errorf("http: shutdown: %w", err)
	}

	s.wg.Wait()
	L_info("http: server stopped")
	return nil
}

// logRequest wraps an HTTP handler to log requests
func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		L_debug("http: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"id", chiMiddleware.GetReqID(r.Context()),
			"duration", time.Since(start))
	})
}

// noWriteDeadline lifts the server write timeout for routes that wait on the
// session gate. A caller queued behind several turns would otherwise lose its
// response while its turn still runs; the turn's own budget bounds it instead.
func noWriteDeadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
			L_debug("http: cannot clear write deadline", "path", r.URL.Path, "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

// stripHeaders removes fingerprinting headers
func stripHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")
		next.ServeHTTP(w, r)
	})
}
