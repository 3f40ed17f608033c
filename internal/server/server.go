package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kifulabs/shinpan/internal/agent"
	"github.com/kifulabs/shinpan/internal/archive"
	"github.com/kifulabs/shinpan/internal/clock"
	"github.com/kifulabs/shinpan/internal/store"
)

// Server is the observer HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Launcher, Archive, Live, Broker, MCPServer.
type Config struct {
	Store  store.Store
	Agents *agent.Registry
	Logger *slog.Logger

	Launcher  MatchLauncher
	Archive   *archive.Archive
	Live      *clock.Live
	Broker    *Broker
	MCPServer *mcpserver.MCPServer

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates an HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		Agents:              cfg.Agents,
		Launcher:            cfg.Launcher,
		Archive:             cfg.Archive,
		Live:                cfg.Live,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/matches", h.HandleCreateMatch)
	mux.HandleFunc("GET /v1/matches/{match_id}", h.HandleGetMatch)
	mux.HandleFunc("GET /v1/matches/{match_id}/tick", h.HandleTick)
	mux.HandleFunc("POST /v1/matches/{match_id}/cancel", h.HandleCancelMatch)
	mux.HandleFunc("POST /v1/matches/{match_id}/reset", h.HandleResetMatch)

	mux.HandleFunc("GET /v1/agents", h.HandleListAgents)
	mux.HandleFunc("GET /v1/archive/results", h.HandleArchiveResults)

	// Event stream: long-lived connection, bypasses WriteTimeout per handler.
	mux.HandleFunc("GET /v1/events", h.HandleEvents)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
