/**
 * MRZ Worker - Main Entry Point
 *
 * Reads the machine readable zone of passports (TD3) and ID cards (TD1).
 *
 * Architecture:
 * - Redis list or Asynq consumer for queued scans
 * - OCR cascade: Tesseract first, MageAgent vision when Tesseract text
 *   holds no decodable MRZ
 * - PostgreSQL persistence for scan jobs and decoded records
 * - Qdrant fingerprint index for near-duplicate scans
 * - HTTP API for synchronous parsing, uploads and job status
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/mrz-worker/internal/api"
	"github.com/adverant/nexus/mrz-worker/internal/clients"
	"github.com/adverant/nexus/mrz-worker/internal/config"
	"github.com/adverant/nexus/mrz-worker/internal/logging"
	"github.com/adverant/nexus/mrz-worker/internal/metrics"
	"github.com/adverant/nexus/mrz-worker/internal/ocr"
	"github.com/adverant/nexus/mrz-worker/internal/ocr/tesseract"
	"github.com/adverant/nexus/mrz-worker/internal/processor"
	"github.com/adverant/nexus/mrz-worker/internal/queue"
	"github.com/adverant/nexus/mrz-worker/internal/storage"
)

// consumer is satisfied by both queue backends.
type consumer interface {
	queue.Producer
	Start() error
	Stop() error
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mrz-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load environment variables
	envErr := godotenv.Load(".env.nexus")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Configure(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	logger := logging.NewLogger("Main")
	if envErr != nil {
		logger.Warn(".env.nexus not found, using system environment variables")
	}

	logger.Info("MRZ worker starting",
		"env", cfg.Env,
		"queueBackend", cfg.QueueBackend,
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency,
		"qdrant", cfg.QdrantURL != "",
		"mageagent", cfg.MageAgentURL != "")

	// Storage (PostgreSQL + optional Qdrant)
	storageManager, err := storage.NewStorageManager(
		cfg.DatabaseURL,
		cfg.QdrantURL,
		cfg.QdrantCollection,
		cfg.DuplicateThreshold,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize storage manager: %w", err)
	}
	defer storageManager.Close()

	checks := map[string]api.HealthCheck{
		"storage": storageManager.Ping,
	}

	// OCR cascade
	engines := []ocr.Engine{tesseract.New(tesseract.Config{Language: cfg.OCRLanguage})}
	if cfg.MageAgentURL != "" {
		mageAgent := clients.NewMageAgentClient(cfg.MageAgentURL)
		engines = append(engines, ocr.NewRemoteEngine(mageAgent, 2*time.Second))
		checks["mageagent"] = mageAgent.HealthCheck
	}

	proc, err := processor.NewScanProcessor(&processor.ProcessorConfig{
		MaxFileSize:       cfg.MaxFileSize,
		MinImageWidth:     cfg.MinImageWidth,
		OCRLanguage:       cfg.OCRLanguage,
		ProcessingTimeout: time.Duration(cfg.ProcessingTimeout) * time.Millisecond,
		Engines:           engines,
		Store:             storageManager,
		Metrics:           metrics.New(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scan processor: %w", err)
	}

	queueConsumer, err := newConsumer(cfg, proc)
	if err != nil {
		return fmt.Errorf("failed to initialize queue consumer: %w", err)
	}

	stats := map[string]api.StatsSource{
		"queue":   queueConsumer.GetStats,
		"storage": storageManager.GetStats,
	}

	handler := api.New(api.Config{
		Processor:     proc,
		Producer:      queueConsumer,
		Jobs:          storageManager,
		Checks:        checks,
		Stats:         stats,
		MaxUploadSize: cfg.MaxFileSize,
		Logger:        logging.NewLogger("API").Slog(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := queueConsumer.Start(); err != nil {
			return fmt.Errorf("failed to start queue consumer: %w", err)
		}
		logger.Info("Queue consumer started", "backend", cfg.QueueBackend)
		<-gctx.Done()

		logger.Info("Stopping queue consumer")
		return queueConsumer.Stop()
	})

	g.Go(func() error {
		logger.Info("HTTP API listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP API")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("Shutdown complete")
	return err
}

func newConsumer(cfg *config.Config, proc processor.ScanProcessorInterface) (consumer, error) {
	timeoutMs := int64(cfg.ProcessingTimeout)

	if cfg.QueueBackend == config.QueueBackendAsynq {
		return queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: timeoutMs,
		})
	}

	return queue.NewRedisConsumer(&queue.RedisConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		ProcessingTimeout: timeoutMs,
	})
}
