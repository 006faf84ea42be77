package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter assembles the chi router for the introspection surface,
// following the flowcatalyst teacher-adjacent middleware stack
// (RequestID/RealIP/Logger/Recoverer/Timeout, then CORS) found in
// cmd/flowcatalyst/main.go — the only chi server setup in the reference
// pack with a real middleware stack rather than a bare mux.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	h.Routes(r)
	return r
}

// Server wraps an *http.Server for fx lifecycle management.
type Server struct {
	addr   string
	server *http.Server
	logger *slog.Logger
}

// NewServer builds a Server bound to addr, serving h's routes.
func NewServer(addr string, h http.Handler, logger *slog.Logger) *Server {
	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving in the background; Stop gracefully shuts down.
func (s *Server) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("introspection http server exited", "err", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
