package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quorumhq/quorum/internal/agents"
	"github.com/quorumhq/quorum/internal/cache"
	"github.com/quorumhq/quorum/internal/config"
	"github.com/quorumhq/quorum/internal/embeddings"
	"github.com/quorumhq/quorum/internal/executor"
	"github.com/quorumhq/quorum/internal/experts"
	"github.com/quorumhq/quorum/internal/geo"
	"github.com/quorumhq/quorum/internal/health"
	"github.com/quorumhq/quorum/internal/httpapi"
	"github.com/quorumhq/quorum/internal/llm"
	"github.com/quorumhq/quorum/internal/mixer"
	"github.com/quorumhq/quorum/internal/monitor"
	"github.com/quorumhq/quorum/internal/orchestrator"
	"github.com/quorumhq/quorum/internal/selector"
	"github.com/quorumhq/quorum/internal/tracing"
)

func main() {
	configFlag := flag.String("config", "", "path to the configuration file")
	flag.Parse()
	configPath := config.ResolvePath(*configFlag)

	// Configuration errors are the only failures allowed to terminate the
	// process, and only here at startup.
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Configuration invalid: %v", err)
	}

	logger, err := newLogger(cfg.Observability.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := tracing.Initialize(cfg.Observability.Tracing, logger); err != nil {
		logger.Warn("Tracing initialization failed, continuing without export", zap.Error(err))
	}

	index, err := experts.NewIndex(cfg.Experts)
	if err != nil {
		logger.Fatal("Expert index construction failed", zap.Error(err))
	}

	// One remote agent handle per agent ID declared by the expert groups, all
	// sharing a single HTTP client.
	registry := agents.NewRegistry(logger)
	agentClient := &http.Client{Timeout: cfg.Agents.Timeout}
	for _, g := range index.Groups() {
		for _, id := range g.AgentIDs {
			a := agents.NewHTTPAgent(id, cfg.Agents.BaseURL, agentClient)
			if err := registry.Register(a); err != nil {
				logger.Fatal("Agent registration failed", zap.Error(err))
			}
		}
	}

	embedSvc := embeddings.NewService(cfg.Models.Embedding)
	completions := llm.NewClient(cfg.Models.Synthesis)

	capSel := selector.NewCapabilitySelector(index, cfg.Routing.KeywordGap, logger)
	var primary selector.Selector = capSel
	if cfg.Routing.Strategy == config.StrategyEmbedding {
		embSel := selector.NewEmbeddingSelector(index, embedSvc, cfg.Routing.EmbeddingGap, logger)
		warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := embSel.Warm(warmCtx); err != nil {
			// Selection also fails open per request; a cold start just means
			// capability routing until the next restart.
			logger.Warn("Embedding precompute failed, capability strategy active", zap.Error(err))
		} else {
			primary = embSel
		}
		cancel()
	}

	mon := monitor.New(monitor.Config{
		Threshold:  cfg.Breaker.Threshold,
		Cooldown:   cfg.Breaker.Cooldown,
		MinSamples: cfg.Breaker.MinSamples,
		WindowSize: cfg.Breaker.WindowSize,
	}, logger)

	exec := executor.New(executor.Config{
		MaxConcurrency: cfg.Executor.MaxConcurrency,
		AgentTimeout:   cfg.Executor.AgentTimeout,
		BatchTimeout:   cfg.Executor.BatchTimeout,
	}, logger)

	geocoder := geo.NewClient(cfg.Geocode.BaseURL, cfg.Geocode.Timeout, logger)
	mix := mixer.New(index, completions, geocoder, logger)

	hm := health.NewManager(30*time.Second, logger)
	resultCache, redisCache := buildCache(cfg.Cache, logger)
	if redisCache != nil {
		_ = hm.Register(health.NewRedisChecker(redisCache.Client()))
		defer redisCache.Close()
	}
	_ = hm.Register(health.NewServiceChecker("synthesis", cfg.Models.Synthesis.BaseURL, true))
	_ = hm.Register(health.NewServiceChecker("agents", cfg.Agents.BaseURL, true))
	if cfg.Models.Embedding.BaseURL != "" {
		_ = hm.Register(health.NewServiceChecker("embedding", cfg.Models.Embedding.BaseURL, false))
	}
	hm.Start()
	defer hm.Stop()

	orch := orchestrator.New(
		cfg.Routing, index, registry, primary, capSel, exec, mon, mix, resultCache, logger,
	)

	// Hot reload covers tuning knobs only; topology changes need a restart.
	if watcher, werr := config.NewWatcher(configPath, logger); werr == nil {
		watcher.OnChange(orch.ApplyKnobs)
		if serr := watcher.Start(); serr != nil {
			logger.Warn("Config watcher failed to start", zap.Error(serr))
		} else {
			defer watcher.Stop()
		}
	} else {
		logger.Warn("Config watcher unavailable", zap.Error(werr))
	}

	apiMux := http.NewServeMux()
	httpapi.NewRouteHandler(orch, logger).RegisterRoutes(apiMux)
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	adminMux := http.NewServeMux()
	hm.RegisterRoutes(adminMux)
	if cfg.Observability.Metrics.Enabled {
		adminMux.Handle("/metrics", promhttp.Handler())
	}
	adminServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Observability.Metrics.Port),
		Handler:           adminMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Admin server listening", zap.String("addr", adminServer.Addr))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin server stopped", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("API server listening", zap.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server stopped", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = adminServer.Shutdown(shutdownCtx)
}

// buildCache selects the cache backend: Redis when configured and reachable,
// in-memory otherwise, nil when disabled. A dead Redis downgrades to memory
// instead of failing startup.
func buildCache(cfg config.CacheConfig, logger *zap.Logger) (cache.ResultCache, *cache.Redis) {
	if !cfg.Enabled {
		logger.Info("Result cache disabled")
		return nil, nil
	}
	if cfg.RedisAddr != "" {
		r, err := cache.NewRedis(cfg.RedisAddr, cfg.TTL, cfg.MaxEntries, logger)
		if err == nil {
			logger.Info("Result cache backed by Redis", zap.String("addr", cfg.RedisAddr))
			return r, r
		}
		logger.Warn("Redis unreachable, using in-memory result cache", zap.Error(err))
	}
	return cache.NewMemory(cfg.TTL, cfg.MaxEntries, logger), nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
