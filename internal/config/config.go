// Package config loads process settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by the server, worker and producer binaries.
type Config struct {
	// Redis
	RedisURL     string
	StreamMaxLen int64 // 0 keeps every entry

	// Blob store
	BlobBackend   string // redis | gridfs
	BlobTTL       time.Duration
	MongoURI      string
	MongoDatabase string

	// Worker
	WorkerName           string
	WorkerConcurrency    int
	ClaimBlock           time.Duration
	Executor             string // native | magick | docker
	ConvertTimeout       time.Duration
	DockerImage          string
	PendingCheckInterval time.Duration
	PendingMaxIdle       time.Duration

	// Producer side
	ResultTimeout time.Duration

	// HTTP
	HTTPAddr       string
	MetricsAddr    string
	MaxFileSize    int64
	RateLimitRPS   float64
	RateLimitBurst int
	TrustedProxies []string // CIDRs or IPs allowed to set X-Forwarded-For

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads .env (if present) and then the environment.
// It does not validate; call Validate or ValidateWorker for the running role.
func Load() *Config {
	loadEnvFile()

	return &Config{
		RedisURL:     getEnv("REDIS_URL", ""),
		StreamMaxLen: getEnvAsInt64("STREAM_MAX_LEN", 0),

		BlobBackend:   strings.ToLower(getEnv("BLOB_BACKEND", "redis")),
		BlobTTL:       getEnvAsDuration("BLOB_TTL", 24*time.Hour),
		MongoURI:      getEnv("MONGODB_URI", ""),
		MongoDatabase: getEnv("MONGODB_DATABASE", "imgconv"),

		WorkerName:           getEnv("WORKER_NAME", ""),
		WorkerConcurrency:    getEnvAsInt("WORKER_CONCURRENCY", 1),
		ClaimBlock:           getEnvAsDuration("CLAIM_BLOCK", 300*time.Millisecond),
		Executor:             strings.ToLower(getEnv("EXECUTOR", "native")),
		ConvertTimeout:       getEnvAsDuration("CONVERT_TIMEOUT", 30*time.Second),
		DockerImage:          getEnv("DOCKER_IMAGE", ""),
		PendingCheckInterval: getEnvAsDuration("PENDING_CHECK_INTERVAL", time.Minute),
		PendingMaxIdle:       getEnvAsDuration("PENDING_MAX_IDLE", 5*time.Minute),

		ResultTimeout: getEnvAsDuration("RESULT_TIMEOUT", 20*time.Minute),

		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),
		MaxFileSize:    getEnvAsInt64("MAX_FILE_SIZE", 50*1024*1024), // 50MB
		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 0.5),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 5),
		TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

func loadEnvFile() {
	if err := godotenv.Load(); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}
	_ = godotenv.Load(filepath.Join(parent, ".env"))
}

// Validate checks the settings every role needs.
func (c *Config) Validate() error {
	var errs []error
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	switch c.BlobBackend {
	case "redis":
	case "gridfs":
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGODB_URI is required when BLOB_BACKEND=gridfs"))
		}
	default:
		errs = append(errs, fmt.Errorf("BLOB_BACKEND must be redis or gridfs, got %q", c.BlobBackend))
	}
	if c.BlobTTL <= 0 {
		errs = append(errs, errors.New("BLOB_TTL must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateWorker additionally checks the worker-only settings.
func (c *Config) ValidateWorker() error {
	errs := []error{c.Validate()}
	if c.WorkerName == "" {
		errs = append(errs, errors.New("WORKER_NAME is required"))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be at least 1"))
	}
	switch c.Executor {
	case "native", "magick", "docker":
	default:
		errs = append(errs, fmt.Errorf("EXECUTOR must be native, magick or docker, got %q", c.Executor))
	}
	return errors.Join(errs...)
}

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	value, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s") and plain seconds ("90").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping empty items.
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
