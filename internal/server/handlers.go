package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hirameki/internal/auth"
	"github.com/ashita-ai/hirameki/internal/broker"
	"github.com/ashita-ai/hirameki/internal/cache"
	"github.com/ashita-ai/hirameki/internal/catalog"
	"github.com/ashita-ai/hirameki/internal/dataset"
	"github.com/ashita-ai/hirameki/internal/embedding"
	"github.com/ashita-ai/hirameki/internal/model"
	"github.com/ashita-ai/hirameki/internal/orchestrator"
	"github.com/ashita-ai/hirameki/internal/planner"
	"github.com/ashita-ai/hirameki/internal/search"
	"github.com/ashita-ai/hirameki/internal/storage"
)

const (
	maxQueryLimit  = 1000
	maxQueryOffset = 100_000

	// sseKeepaliveInterval keeps idle SSE connections from being
	// reaped by intermediaries.
	sseKeepaliveInterval = 15 * time.Second
)

// HandlersDeps carries the dependencies for request handlers.
type HandlersDeps struct {
	Ledger   storage.Ledger
	Engine   *orchestrator.Engine
	Cache    cache.Store
	Catalog  *catalog.Catalog
	Planner  planner.Planner
	Spool    *dataset.Spool
	Broker   *broker.Broker
	JWTMgr   *auth.JWTManager
	Searcher search.Searcher
	Embedder embedding.Provider
	Logger   *slog.Logger

	// APIKeyHash is the argon2id hash the token endpoint verifies
	// presented keys against. Empty disables token issuance.
	APIKeyHash string
	// Version is reported by the health endpoint.
	Version string
	// Workers is the configured size of the engine's worker pool.
	Workers int
	// MaxBodyBytes bounds JSON request bodies.
	MaxBodyBytes int64
	// MaxDatasetBytes bounds dataset uploads.
	MaxDatasetBytes int64
}

// Handlers holds HTTP request handlers and their dependencies.
type Handlers struct {
	ledger   storage.Ledger
	engine   *orchestrator.Engine
	cache    cache.Store
	catalog  *catalog.Catalog
	planner  planner.Planner
	spool    *dataset.Spool
	broker   *broker.Broker
	jwtMgr   *auth.JWTManager
	searcher search.Searcher
	embedder embedding.Provider
	logger   *slog.Logger

	apiKeyHash      string
	version         string
	workers         int
	maxBodyBytes    int64
	maxDatasetBytes int64
	startedAt       time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}
	if deps.MaxDatasetBytes <= 0 {
		deps.MaxDatasetBytes = 32 << 20
	}
	return &Handlers{
		ledger:          deps.Ledger,
		engine:          deps.Engine,
		cache:           deps.Cache,
		catalog:         deps.Catalog,
		planner:         deps.Planner,
		spool:           deps.Spool,
		broker:          deps.Broker,
		jwtMgr:          deps.JWTMgr,
		searcher:        deps.Searcher,
		embedder:        deps.Embedder,
		logger:          deps.Logger,
		apiKeyHash:      deps.APIKeyHash,
		version:         deps.Version,
		workers:         deps.Workers,
		maxBodyBytes:    deps.MaxBodyBytes,
		maxDatasetBytes: deps.MaxDatasetBytes,
		startedAt:       time.Now(),
	}
}

// HandleAuthToken exchanges an API key for a short-lived JWT.
// POST /auth/token
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.jwtMgr == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "authentication is disabled")
		return
	}

	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "api_key is required")
		return
	}

	if h.apiKeyHash == "" {
		// Burn the same argon2id work as a real verification so a
		// probe cannot tell an unconfigured server from a bad key.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid api key")
		return
	}
	ok, err := auth.VerifyAPIKey(req.APIKey, h.apiKeyHash)
	if err != nil || !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid api key")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken("api-key")
	if err != nil {
		h.logger.Error("token issuance failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleHealth reports component health.
// GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:  "ok",
		Version: h.version,
		Ledger:  "ok",
		Cache:   "ok",
		Broker:  "ok",
		Workers: h.workers,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}

	if err := h.ledger.Ping(r.Context()); err != nil {
		resp.Ledger = "unreachable"
		resp.Status = "degraded"
	}
	if err := h.cache.Ping(r.Context()); err != nil {
		resp.Cache = "unreachable"
		resp.Status = "degraded"
	}
	if h.searcher != nil {
		resp.Search = "ok"
		if err := h.searcher.Healthy(r.Context()); err != nil {
			resp.Search = "unreachable"
			resp.Status = "degraded"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

// HandleSubscribe streams progress events over SSE. A run_id query
// parameter narrows the stream to one run.
// GET /v1/subscribe
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	var filter uuid.UUID
	if raw := r.URL.Query().Get("run_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid run_id")
			return
		}
		filter = id
	}

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The server's write timeout would kill long-lived streams.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ":keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-ch:
			if !open {
				return
			}
			if filter != uuid.Nil && event.RunID != filter {
				continue
			}
			if err := writeSSEEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event model.ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}

// parseRunID parses the run_id path parameter, writing a 400 on failure.
func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid run id")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

func queryLimit(r *http.Request, def int) int {
	v := queryInt(r, "limit", def, maxQueryLimit)
	if v == 0 {
		return def
	}
	return v
}

func queryOffset(r *http.Request) int {
	return queryInt(r, "offset", 0, maxQueryOffset)
}
