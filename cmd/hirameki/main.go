package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/hirameki/internal/auth"
	"github.com/ashita-ai/hirameki/internal/broker"
	"github.com/ashita-ai/hirameki/internal/cache"
	"github.com/ashita-ai/hirameki/internal/catalog"
	"github.com/ashita-ai/hirameki/internal/config"
	"github.com/ashita-ai/hirameki/internal/dataset"
	"github.com/ashita-ai/hirameki/internal/embedding"
	"github.com/ashita-ai/hirameki/internal/mcp"
	"github.com/ashita-ai/hirameki/internal/orchestrator"
	"github.com/ashita-ai/hirameki/internal/planner"
	"github.com/ashita-ai/hirameki/internal/ratelimit"
	"github.com/ashita-ai/hirameki/internal/runner"
	"github.com/ashita-ai/hirameki/internal/search"
	"github.com/ashita-ai/hirameki/internal/server"
	"github.com/ashita-ai/hirameki/internal/storage"
	"github.com/ashita-ai/hirameki/internal/telemetry"
	"github.com/ashita-ai/hirameki/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("HIRAMEKI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("hirameki starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}

	// Open the run ledger. DATABASE_URL selects Postgres; otherwise the
	// embedded SQLite file under the data dir.
	ledger, closeLedger, err := newLedger(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer closeLedger()

	// Open the memo cache.
	store, err := newCacheStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer func() { _ = store.Close() }()

	// Load the agent catalog (built-in set when no path is configured).
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	logger.Info("catalog loaded", "agents", len(cat.List()))

	spool, err := dataset.NewSpool(filepath.Join(cfg.DataDir, "spool"))
	if err != nil {
		return fmt.Errorf("spool: %w", err)
	}

	brk := broker.New(logger)
	defer brk.Close()

	// Planner: remote service when configured, else the catalog planner.
	// Without a codegen/sandbox pair only catalog agents with local
	// implementations are runnable, so the static planner filters to those.
	var plnr planner.Planner
	localOnly := cfg.CodegenURL == ""
	if cfg.PlannerURL != "" {
		plnr = planner.NewHTTPPlanner(cfg.PlannerURL)
		logger.Info("planner: remote", "url", cfg.PlannerURL)
	} else {
		plnr = planner.NewStaticPlanner(cat, localOnly)
		logger.Info("planner: catalog", "local_only", localOnly)
	}

	var rnr runner.Runner
	if cfg.CodegenURL != "" {
		rnr = runner.NewSandboxRunner(cfg.CodegenURL, cfg.SandboxURL)
		logger.Info("runner: sandbox", "codegen", cfg.CodegenURL, "sandbox", cfg.SandboxURL)
	} else {
		rnr = runner.NewLocalRunner(spool)
		logger.Info("runner: local")
	}

	engine := orchestrator.New(ledger, store, cat, plnr, rnr, brk, logger, orchestrator.Config{
		MaxWorkers:   cfg.MaxWorkers,
		AgentTimeout: cfg.AgentTimeout,
		PlanTimeout:  cfg.PlanTimeout,
	})

	embedder := newEmbeddingProvider(cfg, logger)

	// Initialize Qdrant insight index and outbox worker. Optional:
	// disabled if HIRAMEKI_QDRANT_URL is empty.
	var searcher search.Searcher
	var outboxWorker *search.OutboxWorker
	if cfg.QdrantURL != "" {
		qdrantIndex, err := search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		defer func() { _ = qdrantIndex.Close() }()

		if err := qdrantIndex.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}

		searcher = qdrantIndex
		outboxWorker = search.NewOutboxWorker(ledger, qdrantIndex, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		outboxWorker.Start(ctx)
		engine.EnableIndexing(embedder)
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no HIRAMEKI_QDRANT_URL)")
	}

	// Auth is enabled when an API key is configured. Without one every
	// endpoint is open, which is the intended single-tenant dev mode.
	var jwtMgr *auth.JWTManager
	var apiKeyHash string
	if cfg.APIKey != "" {
		jwtMgr, err = auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		apiKeyHash, err = auth.HashAPIKey(cfg.APIKey)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		logger.Info("auth: enabled")
	} else {
		logger.Warn("auth: disabled (no HIRAMEKI_API_KEY)")
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitPerMin > 0 {
		limiter = ratelimit.NewMemoryLimiter(float64(cfg.RateLimitPerMin)/60.0, cfg.RateLimitPerMin)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)", "per_min", cfg.RateLimitPerMin)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	var mcpSrv *mcp.Server
	if cfg.MCPEnabled {
		mcpSrv = mcp.New(mcp.Deps{
			Ledger:   ledger,
			Engine:   engine,
			Catalog:  cat,
			Spool:    spool,
			Searcher: searcher,
			Embedder: embedder,
			Logger:   logger,
		})
		logger.Info("mcp: enabled")
	}

	srvCfg := server.ServerConfig{
		Ledger:          ledger,
		Engine:          engine,
		Cache:           store,
		Catalog:         cat,
		Planner:         plnr,
		Spool:           spool,
		Broker:          brk,
		Logger:          logger,
		JWTMgr:          jwtMgr,
		Limiter:         limiter,
		Searcher:        searcher,
		Embedder:        embedder,
		APIKeyHash:      apiKeyHash,
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		Version:         version,
		Workers:         cfg.MaxWorkers,
		MaxDatasetBytes: cfg.MaxRequestBodyBytes,
	}
	if mcpSrv != nil {
		srvCfg.MCPServer = mcpSrv.MCPServer()
	}
	srv := server.New(srvCfg)

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown. Each phase gets its own timeout so early
	// completion doesn't steal budget from later phases. Order: (1) stop
	// accepting new HTTP requests and drain in-flight (they may still
	// submit runs), (2) let active runs settle, (3) sync remaining
	// outbox entries to Qdrant.
	slog.Info("hirameki shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	engineCtx, engineCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := engine.Drain(engineCtx); err != nil {
		slog.Warn("engine drain incomplete", "error", err)
	}
	engineCancel()

	if outboxWorker != nil {
		outboxCtx, outboxCancel := context.WithTimeout(context.Background(), 10*time.Second)
		outboxWorker.Drain(outboxCtx)
		outboxCancel()
	}

	slog.Info("hirameki stopped")
	return nil
}

// newLedger opens the configured ledger and applies migrations.
func newLedger(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Ledger, func(), error) {
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.RunMigrations(ctx, migrations.Postgres()); err != nil {
			pg.Close(ctx)
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		logger.Info("ledger: postgres")
		return pg, func() { pg.Close(context.Background()) }, nil
	}

	path := filepath.Join(cfg.DataDir, "hirameki.db")
	lite, err := storage.NewSQLite(ctx, path, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := lite.RunMigrations(ctx, migrations.SQLite()); err != nil {
		lite.Close(ctx)
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	logger.Info("ledger: sqlite", "path", path)
	return lite, func() { lite.Close(context.Background()) }, nil
}

// newCacheStore opens the configured memo cache. REDIS_URL selects the
// shared Redis store; otherwise results are memoized in process.
func newCacheStore(cfg config.Config, logger *slog.Logger) (cache.Store, error) {
	if cfg.RedisURL != "" {
		store, err := cache.NewRedisStore(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			return nil, err
		}
		logger.Info("cache: redis", "ttl", cfg.CacheTTL)
		return store, nil
	}
	logger.Info("cache: memory", "ttl", cfg.CacheTTL)
	return cache.NewMemoryStore(cfg.CacheTTL), nil
}

// newEmbeddingProvider creates an embedding provider based on configuration.
// Provider selection: "ollama", "openai", "noop", or "auto" (default).
// Auto mode tries Ollama if reachable, then OpenAI if key present, else noop.
// Ollama is preferred: embeddings stay on-premises with no external API costs.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when HIRAMEKI_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		p, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		if err != nil {
			logger.Error("openai provider init failed", "error", err)
			return embedding.NewNoopProvider(dims)
		}
		return p

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	case "noop":
		logger.Info("embedding provider: noop (semantic search disabled)")
		return embedding.NewNoopProvider(dims)

	case "auto":
		fallthrough
	default:
		// Auto-detect: prefer Ollama (on-premises, no cost), then OpenAI, else noop.
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			p, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
			if err != nil {
				logger.Error("openai provider init failed", "error", err)
				return embedding.NewNoopProvider(dims)
			}
			return p
		}
		logger.Warn("no embedding provider available, using noop (semantic search disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
