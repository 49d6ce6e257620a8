package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/hirameki/internal/auth"
	"github.com/ashita-ai/hirameki/internal/broker"
	"github.com/ashita-ai/hirameki/internal/cache"
	"github.com/ashita-ai/hirameki/internal/catalog"
	"github.com/ashita-ai/hirameki/internal/dataset"
	"github.com/ashita-ai/hirameki/internal/embedding"
	"github.com/ashita-ai/hirameki/internal/orchestrator"
	"github.com/ashita-ai/hirameki/internal/planner"
	"github.com/ashita-ai/hirameki/internal/ratelimit"
	"github.com/ashita-ai/hirameki/internal/search"
	"github.com/ashita-ai/hirameki/internal/storage"
)

// Server is the hirameki HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional fields (nil = disabled): JWTMgr, Limiter, Searcher,
// Embedder, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Ledger  storage.Ledger
	Engine  *orchestrator.Engine
	Cache   cache.Store
	Catalog *catalog.Catalog
	Planner planner.Planner
	Spool   *dataset.Spool
	Broker  *broker.Broker
	Logger  *slog.Logger

	// Optional dependencies.
	JWTMgr    *auth.JWTManager
	Limiter   ratelimit.Limiter
	Searcher  search.Searcher
	Embedder  embedding.Provider
	MCPServer *mcpserver.MCPServer

	// APIKeyHash is verified by the token endpoint. Only meaningful
	// when JWTMgr is set.
	APIKeyHash string

	// HTTP server settings.
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	Version         string
	Workers         int
	MaxBodyBytes    int64
	MaxDatasetBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Ledger:          cfg.Ledger,
		Engine:          cfg.Engine,
		Cache:           cfg.Cache,
		Catalog:         cfg.Catalog,
		Planner:         cfg.Planner,
		Spool:           cfg.Spool,
		Broker:          cfg.Broker,
		JWTMgr:          cfg.JWTMgr,
		Searcher:        cfg.Searcher,
		Embedder:        cfg.Embedder,
		Logger:          cfg.Logger,
		APIKeyHash:      cfg.APIKeyHash,
		Version:         cfg.Version,
		Workers:         cfg.Workers,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		MaxDatasetBytes: cfg.MaxDatasetBytes,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Rate limit rules. Authenticated requests are keyed by the token
	// subject, anonymous ones by client IP.
	submitRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{Name: "submit"}, clientKeyFunc, reqIDFunc)
	queryRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{Name: "query"}, clientKeyFunc, reqIDFunc)
	searchRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{Name: "search"}, clientKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{Name: "auth"}, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Token exchange (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Dataset and run submission (rate limited).
	mux.Handle("POST /v1/datasets", submitRL(http.HandlerFunc(h.HandleUploadDataset)))
	mux.Handle("POST /v1/plan", submitRL(http.HandlerFunc(h.HandlePlan)))
	mux.Handle("POST /v1/runs", submitRL(http.HandlerFunc(h.HandleSubmitRun)))
	mux.Handle("POST /v1/runs/{run_id}/cancel", submitRL(http.HandlerFunc(h.HandleCancelRun)))

	// Query endpoints (rate limited).
	mux.Handle("GET /v1/runs", queryRL(http.HandlerFunc(h.HandleListRuns)))
	mux.Handle("GET /v1/runs/{run_id}", queryRL(http.HandlerFunc(h.HandleGetRun)))
	mux.Handle("GET /v1/runs/{run_id}/report", queryRL(http.HandlerFunc(h.HandleGetReport)))
	mux.Handle("GET /v1/agents/stats", queryRL(http.HandlerFunc(h.HandleAgentStats)))
	mux.Handle("GET /v1/cache/stats", queryRL(http.HandlerFunc(h.HandleCacheStats)))
	mux.Handle("POST /v1/cache/purge", queryRL(http.HandlerFunc(h.HandleCachePurge)))

	// Search endpoint (tighter rate limit; 503 when search is off).
	mux.Handle("POST /v1/search", searchRL(http.HandlerFunc(h.HandleSearch)))

	// Progress stream (no rate limit — long-lived connection).
	mux.Handle("GET /v1/subscribe", http.HandlerFunc(h.HandleSubscribe))

	// MCP StreamableHTTP transport (behind the auth middleware).
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
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
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// clientKeyFunc keys rate limits by the authenticated token subject,
// falling back to client IP for unauthenticated deployments.
func clientKeyFunc(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return ratelimit.IPKeyFunc(r)
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
