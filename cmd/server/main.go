package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dontdude/imgconv/internal/config"
	"github.com/dontdude/imgconv/internal/domain"
	"github.com/dontdude/imgconv/internal/jobs"
	"github.com/dontdude/imgconv/internal/metrics"
	"github.com/dontdude/imgconv/internal/platform/blob"
	"github.com/dontdude/imgconv/internal/platform/logging"
	"github.com/dontdude/imgconv/internal/platform/queue"
	"github.com/dontdude/imgconv/internal/platform/rdb"
	"github.com/dontdude/imgconv/internal/platform/web"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// 1. Configuration and logger
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	metrics.MustRegister()

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

	// 3. Submitter
	jobQueue := queue.NewRedisQueue(client, domain.StreamName, domain.GroupName, cfg.StreamMaxLen)
	submitter := jobs.NewSubmitter(jobQueue, queue.NewResultBus(client), blobs, cfg.ResultTimeout, logger)
	if err := submitter.Init(ctx); err != nil {
		slog.Error("Failed to initialize job stream", "error", err)
		os.Exit(1)
	}

	a := &api{
		submitter:     submitter,
		blobs:         blobs,
		hub:           newResultHub(resultRetention),
		maxFileSize:   cfg.MaxFileSize,
		resultTimeout: cfg.ResultTimeout,
		baseCtx:       ctx,
		log:           logger.With("component", "api"),
	}

	// 4. Router
	limiter := web.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst)
	trusted, err := web.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		slog.Error("Invalid TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}
	limiter.TrustProxies(trusted)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           web.EnableCORS(newRouter(a, limiter)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("API Server starting", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}

func newRouter(a *api, limiter *web.RateLimiter) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/convert", limiter.Middleware(a.handleConvert))
	mux.HandleFunc("POST /api/jobs", limiter.Middleware(a.handleSubmit))
	mux.HandleFunc("GET /api/ws", a.handleWS)
	mux.HandleFunc("GET /api/files/{id}", a.handleDownload)
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}
