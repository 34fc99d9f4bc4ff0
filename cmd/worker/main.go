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

	"github.com/dontdude/imgconv/internal/config"
	"github.com/dontdude/imgconv/internal/convert"
	"github.com/dontdude/imgconv/internal/domain"
	"github.com/dontdude/imgconv/internal/metrics"
	"github.com/dontdude/imgconv/internal/platform/blob"
	"github.com/dontdude/imgconv/internal/platform/docker"
	"github.com/dontdude/imgconv/internal/platform/logging"
	"github.com/dontdude/imgconv/internal/platform/queue"
	"github.com/dontdude/imgconv/internal/platform/rdb"
	"github.com/dontdude/imgconv/internal/worker"
)

func main() {
	// 1. Configuration and logger
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.ValidateWorker(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	metrics.MustRegister()
	slog.Info("Starting imgconv worker...", "name", cfg.WorkerName, "executor", cfg.Executor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Redis and blob store
	client, err := rdb.Open(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Redis unavailable", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	blobs, closeBlobs, err := blob.Open(ctx, blob.Options{
		Backend:       cfg.BlobBackend,
		TTL:           cfg.BlobTTL,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
	}, client)
	if err != nil {
		slog.Error("Blob store unavailable", "error", err)
		os.Exit(1)
	}
	defer closeBlobs(context.Background())

	// 3. Conversion executor
	executor, closeExecutor, err := newExecutor(ctx, cfg, logger)
	if err != nil {
		slog.Error("Executor unavailable", "error", err)
		os.Exit(1)
	}
	defer closeExecutor()

	// 4. Worker pool
	jobQueue := queue.NewRedisQueue(client, domain.StreamName, domain.GroupName, cfg.StreamMaxLen)
	pool := worker.NewPool(worker.Config{
		Name:        cfg.WorkerName,
		Concurrency: cfg.WorkerConcurrency,
		ClaimBlock:  cfg.ClaimBlock,
	}, jobQueue, queue.NewResultBus(client), blobs, convert.WithTimeout(executor, cfg.ConvertTimeout), logger)
	pool.Start(ctx)

	monitor := queue.NewPendingMonitor(client, domain.StreamName, domain.GroupName, cfg.PendingMaxIdle, logger)
	go monitor.Run(ctx, cfg.PendingCheckInterval)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("Metrics server starting", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	// 5. Wait for shutdown signal
	<-ctx.Done()
	slog.Info("Shutdown signal received")

	pool.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	slog.Info("Worker exited")
}

// newExecutor builds the converter selected by EXECUTOR.
func newExecutor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Converter, func(), error) {
	noop := func() {}
	switch cfg.Executor {
	case "native":
		return convert.Native{}, noop, nil
	case "magick":
		m := convert.NewMagick()
		if err := m.Available(); err != nil {
			return nil, nil, err
		}
		return m, noop, nil
	case "docker":
		dc, err := docker.NewClient(ctx, cfg.DockerImage, logger)
		if err != nil {
			return nil, nil, err
		}
		return dc, func() { _ = dc.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown executor %q", cfg.Executor)
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
