package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"facturx-batch/internal/config"
	"facturx-batch/internal/domain/ports/adapter"
	"facturx-batch/internal/infra/composer"
	pg "facturx-batch/internal/infra/db/postgres"
	"facturx-batch/internal/infra/logging"
	"facturx-batch/internal/infra/metrics"
	red "facturx-batch/internal/infra/redis"
	"facturx-batch/internal/infra/sched"
	"facturx-batch/internal/infra/web"
	"facturx-batch/internal/infra/worker"
	"facturx-batch/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop composer, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Working directories ----
	uploadDir := filepath.Join(cfg.Batch.WorkDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("create upload dir")
	}

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	jobRepo := pg.NewBatchJobRepo(pool)
	accountRepo := pg.NewAccountRepo(pool)
	usageRepo := pg.NewUsageLogRepo(pool)

	// ---- Document composer ----
	var comp adapter.DocumentComposer
	if cfg.Composer.BaseURL != "" {
		comp, err = composer.NewHTTPComposer(cfg.Composer.BaseURL, cfg.Composer.APIKey, cfg.Composer.Timeout)
		if err != nil {
			logger.Fatal().Err(err).Msg("composer")
		}
		logger.Info().Str("base_url", cfg.Composer.BaseURL).Msg("composer: http")
	} else {
		comp = composer.NewNoopComposer()
		logger.Warn().Msg("composer: noop (dev mode, documents pass through unchanged)")
	}

	// ---- Use cases ----
	jobUC := usecase.NewJobUseCase(jobRepo, cfg.Billing.UnitPriceCents, logger)
	batchUC := usecase.NewBatchUseCase(jobRepo, accountRepo, usageRepo, tm, comp, locker,
		cfg.Batch.WorkDir, cfg.Billing.UnitPriceCents, logger)
	convertUC := usecase.NewConvertUseCase(accountRepo, usageRepo, tm, comp, locker,
		cfg.Billing.UnitPriceCents, logger)

	// ---- Background runners ----
	pool2 := worker.NewPool(cfg.Batch.Workers, logger)
	pool2.Start(ctx)
	defer pool2.Stop()

	retention := sched.NewRetentionWorker(cfg.Retention.Interval, jobRepo, cfg.Batch.WorkDir, logger)
	go func() { _ = retention.Run(ctx) }()

	// ---- HTTP ----
	srv := web.NewServer(jobUC, batchUC, convertUC, pool2, rateLimiter, cfg.Server, uploadDir, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: srv.Router(),
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	cancel()
}
