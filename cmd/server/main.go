// Command server starts the resume matching HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/resume-matcher/internal/adapter/embedmodel"
	"github.com/fairyhunter13/resume-matcher/internal/adapter/httpserver"
	"github.com/fairyhunter13/resume-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/resume-matcher/internal/adapter/parser"
	"github.com/fairyhunter13/resume-matcher/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/resume-matcher/internal/adapter/standardizer"
	"github.com/fairyhunter13/resume-matcher/internal/adapter/vector/qdrant"
	"github.com/fairyhunter13/resume-matcher/internal/app"
	"github.com/fairyhunter13/resume-matcher/internal/config"
	"github.com/fairyhunter13/resume-matcher/internal/domain"
	"github.com/fairyhunter13/resume-matcher/internal/embedding"
	"github.com/fairyhunter13/resume-matcher/internal/matching"
	"github.com/fairyhunter13/resume-matcher/internal/pipeline"
	"github.com/fairyhunter13/resume-matcher/internal/queue"
	"github.com/fairyhunter13/resume-matcher/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	// Metadata store.
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("db migrate failed", slog.Any("error", err))
		os.Exit(1)
	}
	metaRepo := postgres.NewMetadataRepo(pool)

	// Vector store.
	qcli := qdrant.NewClient(cfg.QdrantURL, cfg.QdrantKey)
	store := qdrant.NewStore(qcli)
	if err := store.EnsureCollections(ctx); err != nil {
		slog.Error("qdrant bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Embedding engine: the backend probe runs at startup so a broken model
	// configuration fails fast.
	var backend embedding.Backend
	if cfg.EmbeddingsProvider == "stub" {
		backend = embedmodel.NewStub()
	} else {
		backend = embedmodel.NewOpenAI(cfg)
	}
	embedder, err := embedding.New(ctx, backend, cfg.EmbedCacheSize)
	if err != nil {
		slog.Error("embedding engine init failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("embedding engine ready", slog.String("backend", backend.Name()))

	// Matching.
	weights := domain.Weights{
		Skills:           cfg.WeightSkills,
		Responsibilities: cfg.WeightResponsibilities,
		Title:            cfg.WeightTitle,
		Experience:       cfg.WeightExperience,
	}
	engine := matching.NewEngine(weights, cfg.SkillReportThreshold, cfg.RespReportThreshold)
	matcher := matching.NewService(engine, store)

	// Ingestion pipeline.
	parserClient := parser.New(cfg.ParserURL, cfg.ParserTimeout)
	stdClient := standardizer.New(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMMaxPromptToken, cfg.LLMTimeout)
	pipe := pipeline.New(metaRepo, parserClient, stdClient, embedder, store)

	// Dead-letter producer is optional; without brokers, exhausted jobs are
	// only recorded in the status map.
	var dlq *queue.DeadLetterProducer
	if len(cfg.KafkaBrokers) > 0 {
		dlq, err = queue.NewDeadLetterProducer(cfg.KafkaBrokers, cfg.DLQTopic)
		if err != nil {
			slog.Error("dead letter producer init failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer dlq.Close()
	}

	manager := queue.NewManager(pipe, dlqOrNil(dlq), queue.Options{
		MinWorkers:       cfg.MinWorkers,
		MaxWorkers:       cfg.MaxWorkers,
		HighWatermark:    cfg.QueueHighWatermark,
		LowWatermark:     cfg.QueueLowWatermark,
		ScaleInterval:    cfg.ScaleInterval,
		MaxRetries:       cfg.JobMaxRetries,
		CircuitThreshold: cfg.CircuitThreshold,
		CircuitWindow:    cfg.CircuitWindow,
		CircuitRecovery:  cfg.CircuitRecovery,
		MemoryLimitMB:    cfg.MemoryLimitMB,
		CPULimitPercent:  cfg.CPULimitPercent,
		StatusTTL:        cfg.StatusTTL,
	})
	manager.SetPostingDirectory(metaRepo)
	manager.Start(ctx)

	// Admission limiter. Redis shares windows across replicas; without it
	// the in-memory store still enforces per-process limits.
	profiles, err := ratelimit.LoadProfiles(cfg.RateLimitProfilesPath)
	if err != nil {
		slog.Error("rate limit profiles invalid", slog.Any("error", err))
		os.Exit(1)
	}
	var window ratelimit.WindowStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		window = ratelimit.NewRedisWindow(rdb)
	} else {
		slog.Warn("no redis configured, rate limit windows are per-process")
		observability.RateLimitBackendDegraded.Set(1)
		window = ratelimit.NewMemoryWindow()
	}
	limiter := ratelimit.New(window, ratelimit.Options{
		Profiles:            profiles,
		MaxGlobalConcurrent: cfg.MaxGlobalConcurrent,
		DecayUp:             cfg.ReputationDecayUp,
		DecayDown:           cfg.ReputationDecayDown,
		MinReputation:       cfg.MinReputation,
		RecoveryTime:        cfg.LimiterRecoveryTime,
	})
	limiterCtx, stopLimiter := context.WithCancel(ctx)
	defer stopLimiter()
	go limiter.Run(limiterCtx)

	// HTTP surface.
	dbCheck, qdrantCheck := app.BuildReadinessChecks(cfg, pool)
	srv := httpserver.NewServer(cfg, manager, matcher, limiter, dbCheck, qdrantCheck)
	handler := app.BuildRouter(cfg, srv, limiter)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	// Stop intake first, then drain the queue within the grace period.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", slog.Any("error", err))
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancelDrain()
	if err := manager.Shutdown(drainCtx); err != nil {
		slog.Warn("queue drained incompletely", slog.Any("error", err))
	}
	slog.Info("server stopped")
}

// dlqOrNil keeps a nil producer from turning into a non-nil interface.
func dlqOrNil(p *queue.DeadLetterProducer) domain.DeadLetter {
	if p == nil {
		return nil
	}
	return p
}
