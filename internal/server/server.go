// Package server implements the relay's HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Marshal-AM/fireglobe/internal/ratelimit"
)

// Server is the relay HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Limiter and MCPServer are optional.
type ServerConfig struct {
	Relay  RelayService
	Logger *slog.Logger

	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// OpenAPISpec is served at /openapi.yaml when non-empty.
	OpenAPISpec []byte

	// RouteRegistrars add routes after the built-in ones. Middlewares wrap
	// the whole chain; the first is outermost.
	RouteRegistrars []func(mux *http.ServeMux)
	Middlewares     []func(http.Handler) http.Handler

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a Server with all routes configured.
func New(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := NewHandlers(cfg.Relay, logger, cfg.MaxRequestBodyBytes)
	h.openapiSpec = cfg.OpenAPISpec

	mux := http.NewServeMux()

	// Routes keep the paths the SDKs and dashboard already call.
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.HandleFunc("POST /upload-kg", h.HandleUploadKG)
	mux.HandleFunc("POST /upload-metrics", h.HandleUploadMetrics)
	mux.HandleFunc("POST /upload-complete", h.HandleUploadComplete)
	mux.HandleFunc("GET /user/{access_token}/test-runs", h.HandleTestRuns)
	mux.HandleFunc("POST /update-wallet", h.HandleUpdateWallet)
	mux.HandleFunc("PATCH /test-runs/{run_id}/reward", h.HandleAttachReward)

	// MCP StreamableHTTP transport. Tools authenticate with the access
	// token passed as an argument.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	for _, register := range cfg.RouteRegistrars {
		register(mux)
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	rateLimited := ratelimit.Middleware(limiter, rateLimitKey, 1, writeRateLimited, logger)

	// Middleware chain (outermost executes first):
	// request ID → security headers → CORS → tracing → logging → rate limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(logger, handler)
	handler = rateLimited(handler)
	handler = loggingMiddleware(logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  logger,
	}
}

// rateLimitKey exempts /health so uptime probes never see 429.
func rateLimitKey(r *http.Request) string {
	if r.URL.Path == "/health" {
		return ""
	}
	return ratelimit.IPKeyFunc(r)
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
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
