// Package server exposes the bot status and controls over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/weatherbot/internal/server/handler"
	"github.com/alanyoungcy/weatherbot/internal/server/middleware"
	"github.com/alanyoungcy/weatherbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port           int
	CORSOrigins    []string
	APIKey         string // guards POST /api/bot/*; empty disables auth
	RateLimitRPS   float64
	RateLimitBurst int
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Bot     *handler.BotHandler
	Audit   *handler.AuditHandler // optional
	Metrics http.Handler          // optional
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain
// (rate limit, logging, CORS).
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	auth := middleware.Auth(cfg.APIKey)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Bot.GetStatus)
	mux.HandleFunc("GET /api/scores", handlers.Bot.GetScores)
	mux.HandleFunc("GET /api/insights", handlers.Bot.GetInsights)
	mux.Handle("POST /api/bot/start", auth(http.HandlerFunc(handlers.Bot.Start)))
	mux.Handle("POST /api/bot/stop", auth(http.HandlerFunc(handlers.Bot.Stop)))

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var limiter *middleware.ClientLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = middleware.NewClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
