// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-ingest/internal/archive"
	"voice-ingest/internal/config"
	pg "voice-ingest/internal/infra/db/postgres"
	"voice-ingest/internal/infra/logging"
	"voice-ingest/internal/infra/metrics"
	"voice-ingest/internal/infra/queue"
	red "voice-ingest/internal/infra/redis"
	"voice-ingest/internal/infra/sched"
	"voice-ingest/internal/infra/storage"
	"voice-ingest/internal/infra/web"
	"voice-ingest/internal/infra/worker"
	"voice-ingest/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, optional jwt secret)")
	mintToken := flag.Bool("mint-admin-token", false, "print a signed admin token and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	auth := web.NewAuthManager(cfg.Auth)
	if *mintToken {
		tok, err := auth.Sign(time.Now())
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second, logger)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Repositories ----
	messages := pg.NewMessageRepoCacheDecorator(pg.NewMessageRepo(pool), redisClient, cfg.Redis.TTL, logger)

	// ---- Gateways ----
	blobs, err := storage.NewMinioStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("minio")
	}
	producer, err := queue.NewProducer(cfg.Queue, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("rabbitmq")
	}
	defer producer.Close()

	// ---- Use cases ----
	parser := archive.NewParser(cfg.Ingest.AudioExts, cfg.Ingest.MaxEntryBytes, logger)
	ingestUC := usecase.NewIngestUseCase(
		messages, pg.NewTxManager(pool), blobs, producer, locker, parser,
		worker.NewPool(cfg.Ingest.BulkWorkers),
		usecase.IngestOptions{UploadConcurrency: cfg.Ingest.UploadConcurrency, LockTTL: cfg.Ingest.LockTTL},
		logger,
	)

	// ---- HTTP ----
	srv := web.NewServer(ingestUC, auth, cfg.Auth.WorkerToken, cfg.HTTP, cfg.Ingest.MaxArchiveBytes, rateLimiter, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Backlog sweeper (opt-in) ----
	if cfg.Scheduler.BacklogInterval > 0 && len(cfg.Scheduler.BacklogProjects) > 0 {
		sweeper := sched.NewBacklogWorker(cfg.Scheduler.BacklogInterval, cfg.Scheduler.BacklogProjects, ingestUC, logger)
		go func() { _ = sweeper.Run(ctx) }()
	}

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
}
