package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lookalike/backend/config"
	httpDelivery "github.com/lookalike/backend/internal/delivery/http"
	"github.com/lookalike/backend/internal/domain"
	"github.com/lookalike/backend/internal/infrastructure/cache"
	"github.com/lookalike/backend/internal/infrastructure/catalog"
	"github.com/lookalike/backend/internal/infrastructure/embedding"
	"github.com/lookalike/backend/internal/infrastructure/imaging"
	"github.com/lookalike/backend/internal/infrastructure/logging"
	"github.com/lookalike/backend/internal/infrastructure/metrics"
	"github.com/lookalike/backend/internal/infrastructure/snapshot"
	"github.com/lookalike/backend/internal/usecase"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Environment, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting Lookalike backend",
		zap.String("version", "1.0.0"),
		zap.String("environment", cfg.Server.Environment),
		zap.String("port", cfg.Server.Port),
		zap.String("cache_type", cfg.Cache.Type),
	)

	m := metrics.NewMetrics()

	// Initialize infrastructure dependencies
	resultStore, closeResults, err := newResultStore(cfg)
	if err != nil {
		logger.Fatal("failed to initialize result cache", zap.Error(err))
	}
	defer closeResults()

	histogramCache := cache.NewMemoryCache()
	defer histogramCache.Close()

	catalogClient := catalog.NewClient(catalog.ClientConfig{
		Timeout:   cfg.Catalog.Timeout,
		RateLimit: cfg.Catalog.RateLimit,
		Debug:     cfg.Catalog.Debug || cfg.Server.Environment == "development",
	}, logger, m)
	snapshots := snapshot.NewFileStore(cfg.Catalog.SnapshotPath, logger)

	embedder, err := embedding.Shared(embedding.Config{
		VectorsPath: cfg.Embedding.VectorsPath,
		Dimension:   cfg.Embedding.Dimension,
	})
	if err != nil {
		logger.Fatal("failed to load text embedder", zap.Error(err))
	}
	defer embedder.Close()
	logger.Info("text embedder ready", zap.String("name", embedder.Name()), zap.Int("dimension", embedder.Dimension()))

	histograms := imaging.NewHistogramStore(
		imaging.NewHTTPFetcher(imaging.FetcherConfig{
			Timeout:   cfg.Images.Timeout,
			MaxBytes:  cfg.Images.MaxBytes,
			MaxPixels: cfg.Images.MaxPixels,
			RateLimit: cfg.Images.RateLimit,
		}),
		histogramCache,
		cfg.Images.CacheTTL,
		logger,
		m,
	)

	// Initialize usecase layer
	catalogService := usecase.NewCatalogService(
		catalogClient,
		snapshots,
		usecase.CatalogServiceConfig{TTL: cfg.Catalog.TTL},
		logger,
		m,
	)

	policy := usecase.RankPolicy{
		Mode:               usecase.RankMode(cfg.Ranking.Mode),
		K:                  cfg.Ranking.K,
		Threshold:          cfg.Ranking.Threshold,
		Weights:            usecase.Weights{Text: cfg.Ranking.TextWeight, Image: cfg.Ranking.ImageWeight},
		IncludeDescription: cfg.Ranking.IncludeDescription,
		CandidateFilter:    cfg.Ranking.CandidateFilter,
	}
	if _, err := usecase.CompileCandidateFilter(policy.CandidateFilter); err != nil {
		logger.Fatal("invalid candidate filter", zap.Error(err))
	}

	engine := usecase.NewSimilarityEngine(embedder, histograms, logger)
	ranker := usecase.NewRanker(engine, usecase.RankerConfig{Concurrency: cfg.Ranking.Concurrency}, logger)

	jobs := usecase.NewJobRunner(
		usecase.NewSimilarityPipeline(catalogService, ranker, policy),
		usecase.JobRunnerConfig{
			Workers:     cfg.Jobs.Workers,
			QueueSize:   cfg.Jobs.QueueSize,
			Retention:   cfg.Jobs.Retention,
			IdleTimeout: cfg.Jobs.IdleTimeout,
		},
		logger,
		m,
	)
	jobs.Start()

	recommendations := usecase.NewRecommendationService(
		catalogService,
		ranker,
		jobs,
		usecase.NewResultCache(resultStore, cfg.Cache.TTL, logger, m),
		usecase.RecommendationServiceConfig{
			SourceURL:   cfg.Catalog.SourceURL,
			PageSize:    cfg.Server.PageSize,
			PartialWait: cfg.Jobs.PartialWait,
			CacheTTL:    cfg.Cache.TTL,
			Policy:      policy,
		},
		logger,
	)

	// Create HTTP handler with dependencies
	handler := httpDelivery.NewHandler(recommendations, logger)
	router := httpDelivery.SetupRouter(cfg, handler, logger, m)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful Shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()
	logger.Info("server listening", zap.String("addr", server.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	jobs.Stop()

	logger.Info("server exiting")
}

// newResultStore builds the configured result cache backend
func newResultStore(cfg *config.Config) (domain.CacheRepository, func(), error) {
	switch cfg.Cache.Type {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return rc, func() { rc.Close() }, nil
	default:
		mc := cache.NewMemoryCache()
		return mc, func() { mc.Close() }, nil
	}
}
