package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gantry/gantry/config"
	"github.com/gantry/gantry/pkg/gateway/middleware"
	"github.com/gantry/gantry/pkg/logger"
)

// Server wraps the HTTP listener in front of the dispatcher.
type Server struct {
	server *http.Server
	log    logger.Logger
}

// NewRouter assembles the chi shell: middleware chain, the reserved health
// endpoints, and the gateway dispatcher as catch-all. Declaration-order
// route precedence lives inside the dispatcher, not in chi's tree.
func NewRouter(handler *Handler, log logger.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler)

	r.Handle("/*", handler)

	return r
}

// NewServer creates the HTTP server bound per the server config.
func NewServer(cfg *config.Server, handler *Handler, log logger.Logger) *Server {
	router := NewRouter(handler, log)

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// Start blocks serving requests until Shutdown or a listener failure.
func (s *Server) Start() error {
	s.log.Info("starting gateway", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down gateway")
	return s.server.Shutdown(ctx)
}

// healthHandler reports liveness.
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// readyHandler reports readiness to accept traffic.
func readyHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}
