// main package for the docspeech-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/docspeech/internal/config"
	"github.com/book-expert/docspeech/internal/metrics"
	"github.com/book-expert/docspeech/internal/objectstore"
	"github.com/book-expert/docspeech/internal/pipeline"
	"github.com/book-expert/docspeech/internal/server"
	"github.com/book-expert/docspeech/internal/worker"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	bootstrapLogFile = "docspeech-service-bootstrap.log"
	serviceLogFile   = "docspeech-service.log"
	shutdownTimeout  = 30 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func closeLogger(log *logger.Logger, name string) {
	closeErr := log.Close()
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "error closing %s logger: %v\n", name, closeErr)
	}
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}
	defer closeLogger(bootstrapLog, "bootstrap")

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}
	defer closeLogger(finalLog, "final")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	documents, err := objectstore.New(jetstreamContext, cfg.NATS.DocumentsBucket)
	if err != nil {
		return fmt.Errorf("failed to open documents bucket: %w", err)
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioBucket)
	if err != nil {
		return fmt.Errorf("failed to open audio bucket: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	recorder, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	docPipeline, pool, err := pipeline.Build(cfg, pipeline.Options{}, recorder, log)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	log.System("docspeech-service initialized with %d Gemini key(s)", pool.Len())

	natsWorker, err := worker.NewNatsWorker(natsConnection, worker.Settings{
		Subject:       cfg.NATS.DocumentUploadedSubject,
		QueueGroup:    cfg.NATS.QueueGroup,
		ResultSubject: cfg.NATS.SpeechGeneratedSubject,
		JobTimeout:    cfg.JobTimeout(),
	}, documents, audioStore, docPipeline, log)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	httpServer := server.New(cfg.HTTP.ListenAddr, server.Handler(audioStore, registry, log), log)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	serverErr := make(chan error, 1)

	go func() {
		serverErr <- httpServer.Start()

		cancelWorker()
	}()

	workerErr := natsWorker.Run(workerCtx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = errors.Join(workerErr, httpServer.Shutdown(shutdownCtx), <-serverErr)
	if err != nil {
		return err
	}

	log.System("docspeech-service stopped")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
