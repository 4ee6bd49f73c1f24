package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/cmd/mainconfig"
	"github.com/parleyhq/parley/internal/api/router"
	"github.com/parleyhq/parley/internal/chatws"
	appconfig "github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/forms"
	"github.com/parleyhq/parley/internal/generation"
	"github.com/parleyhq/parley/internal/intent"
	"github.com/parleyhq/parley/internal/observability/metrics"
	"github.com/parleyhq/parley/internal/outbox"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting parley dialogue engine",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	// Redis backs sessions, the outbox, and the form directory cache.
	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	brClient := bedrockruntime.NewFromConfig(awsCfg)
	embedder := intent.NewBedrockEmbedder(brClient, cfg.BedrockEmbeddingModelID)

	corpus, err := intent.OpenCorpus(cfg.CorpusDBPath)
	if err != nil {
		logger.Error("failed to open pattern corpus, run corpus-build first", "path", cfg.CorpusDBPath, "error", err)
		os.Exit(1)
	}
	defer corpus.Close()

	catalog, err := intent.LoadResponseCatalog(cfg.IntentsPath)
	if err != nil {
		logger.Error("failed to load intents", "path", cfg.IntentsPath, "error", err)
		os.Exit(1)
	}

	classifier := intent.NewClassifier(embedder, corpus, cfg.ClassifyTopK, cfg.MinConfidence, logger)

	formRepo := forms.NewRepository(pool)
	directory := forms.NewDirectory(formRepo, rdb, cfg.FormDirectoryTTL, logger)
	detector := forms.NewDetector(directory, embedder, cfg.FormMatchDistance, cfg.FormSectionMult, logger)

	var generator generation.Service
	if cfg.BedrockModelID != "" {
		var fallback generation.Service
		if cfg.GeminiAPIKey != "" {
			gemini, err := generation.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
			if err != nil {
				logger.Warn("gemini fallback unavailable", "error", err)
			} else {
				defer gemini.Close()
				fallback = gemini
			}
		}
		generator = generation.NewFallbackService(
			generation.NewBedrockGenerator(brClient, cfg.BedrockModelID),
			fallback,
			logger,
		)
	} else {
		logger.Warn("no generation model configured, free-form questions get the fallback reply")
	}

	dialogueMetrics := metrics.NewDialogueMetrics(nil)
	sessions := session.NewStore(rdb, cfg.SessionTTL, logger)
	locks := session.NewKeyedLock(rdb, cfg.DrainLockTTL)
	queue := outbox.NewQueue(rdb, cfg.DrainLockTTL, logger)

	eng, err := engine.New(engine.Options{
		Sessions:           sessions,
		Locks:              locks,
		Classifier:         classifier,
		Detector:           detector,
		Forms:              formRepo,
		Generator:          generator,
		Outbox:             queue,
		Responses:          catalog,
		Metrics:            dialogueMetrics,
		Logger:             logger,
		HistoryLimit:       cfg.HistoryLimit,
		MaxInvalidAttempts: cfg.MaxInvalidAttempts,
	})
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	chatHandler := chatws.NewHandler(eng, logger)
	formsHandler := forms.NewHandler(formRepo, directory, logger)

	r := router.New(&router.Config{
		Logger:         logger,
		ChatHandler:    chatHandler,
		FormsHandler:   formsHandler,
		MetricsHandler: promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
