package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("BLOB_BACKEND", "")
	t.Setenv("RESULT_TIMEOUT", "")
	t.Setenv("BLOB_TTL", "")
	t.Setenv("STREAM_MAX_LEN", "")
	t.Setenv("TRUSTED_PROXIES", "")

	cfg := Load()
	if cfg.BlobBackend != "redis" {
		t.Errorf("BlobBackend = %q", cfg.BlobBackend)
	}
	if cfg.BlobTTL != 24*time.Hour {
		t.Errorf("BlobTTL = %v", cfg.BlobTTL)
	}
	if cfg.ResultTimeout != 20*time.Minute {
		t.Errorf("ResultTimeout = %v", cfg.ResultTimeout)
	}
	if cfg.StreamMaxLen != 0 {
		t.Errorf("StreamMaxLen = %d, want 0 (no trimming)", cfg.StreamMaxLen)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Errorf("TrustedProxies = %v, want none", cfg.TrustedProxies)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestTrustedProxiesList(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", " 10.0.0.0/8, ,127.0.0.1 ")
	got := Load().TrustedProxies
	if len(got) != 2 || got[0] != "10.0.0.0/8" || got[1] != "127.0.0.1" {
		t.Fatalf("TrustedProxies = %q", got)
	}
}

func TestDurationParsing(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"90s", 90 * time.Second},
		{"45", 45 * time.Second},
		{"1h30m", 90 * time.Minute},
		{"soon", 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Setenv("CONVERT_TIMEOUT", tt.raw)
			if got := Load().ConvertTimeout; got != tt.want {
				t.Fatalf("ConvertTimeout = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"missing redis", func(c *Config) { c.RedisURL = "" }, "REDIS_URL"},
		{"gridfs without uri", func(c *Config) { c.BlobBackend = "gridfs" }, "MONGODB_URI"},
		{"gridfs with uri", func(c *Config) { c.BlobBackend = "gridfs"; c.MongoURI = "mongodb://db" }, ""},
		{"unknown backend", func(c *Config) { c.BlobBackend = "s3" }, "BLOB_BACKEND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{RedisURL: "redis://r", BlobBackend: "redis", BlobTTL: time.Hour}
			tt.mutate(cfg)
			checkErr(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestValidateWorker(t *testing.T) {
	base := func() *Config {
		return &Config{RedisURL: "redis://r", BlobBackend: "redis", BlobTTL: time.Hour,
			WorkerName: "worker-1", WorkerConcurrency: 1, Executor: "native"}
	}

	checkErr(t, base().ValidateWorker(), "")

	cfg := base()
	cfg.WorkerName = ""
	checkErr(t, cfg.ValidateWorker(), "WORKER_NAME")

	cfg = base()
	cfg.Executor = "gpu"
	checkErr(t, cfg.ValidateWorker(), "EXECUTOR")

	cfg = base()
	cfg.RedisURL = ""
	checkErr(t, cfg.ValidateWorker(), "REDIS_URL")
}

func checkErr(t *testing.T, err error, want string) {
	t.Helper()
	if want == "" {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return
	}
	if err == nil || !strings.Contains(err.Error(), want) {
		t.Fatalf("error = %v, want mention of %s", err, want)
	}
}
