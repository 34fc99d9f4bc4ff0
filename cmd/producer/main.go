package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dontdude/imgconv/internal/config"
	"github.com/dontdude/imgconv/internal/convert"
	"github.com/dontdude/imgconv/internal/domain"
	"github.com/dontdude/imgconv/internal/jobs"
	"github.com/dontdude/imgconv/internal/platform/blob"
	"github.com/dontdude/imgconv/internal/platform/logging"
	"github.com/dontdude/imgconv/internal/platform/queue"
	"github.com/dontdude/imgconv/internal/platform/rdb"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app().Run(ctx, os.Args); err != nil {
		slog.Error("Conversion failed", "error", err)
		os.Exit(1)
	}
}

func app() *cli.Command {
	return &cli.Command{
		Name:  "producer",
		Usage: "Submit a local image to the conversion workers and save the result",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "in",
				Aliases:  []string{"i"},
				Usage:    "Path of the image to convert",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "format",
				Aliases:  []string{"f"},
				Usage:    "Target format (" + strings.Join(convert.Names(), ", ") + ")",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "quality",
				Aliases: []string{"q"},
				Usage:   "Quality 1-100 for formats that support it",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output path (defaults to the input name with the new extension)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for a worker result",
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL",
				Sources: cli.EnvVars("REDIS_URL"),
			},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.Load()
	if v := cmd.String("redis-url"); v != "" {
		cfg.RedisURL = v
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		return err
	}

	format, ok := convert.Lookup(cmd.String("format"))
	if !ok {
		return fmt.Errorf("unsupported format %q (supported: %s)", cmd.String("format"), strings.Join(convert.Names(), ", "))
	}
	quality := int(cmd.Int("quality"))
	if quality != 0 && (quality < 1 || quality > 100) {
		return fmt.Errorf("quality must be between 1 and 100")
	}

	inPath := cmd.String("in")
	input, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	outPath := cmd.String("out")
	if outPath == "" {
		outPath = strings.TrimSuffix(inPath, filepath.Ext(inPath)) + "." + format.Value
	}

	client, err := rdb.Open(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	blobs, closeBlobs, err := blob.Open(ctx, blob.Options{
		Backend:       cfg.BlobBackend,
		TTL:           cfg.BlobTTL,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
	}, client)
	if err != nil {
		return err
	}
	defer closeBlobs(context.Background())

	submitter := jobs.NewSubmitter(
		queue.NewRedisQueue(client, domain.StreamName, domain.GroupName, cfg.StreamMaxLen),
		queue.NewResultBus(client), blobs, cfg.ResultTimeout, logger)
	if err := submitter.Init(ctx); err != nil {
		return err
	}

	slog.Info("Submitting conversion", "in", inPath, "format", format.Value)
	out, err := submitter.Convert(ctx, jobs.ConvertInput{
		Data:         input,
		Extension:    convert.SafeExtension(filepath.Ext(inPath), ""),
		OutputFormat: format.Value,
		Quality:      quality,
	}, cmd.Duration("timeout"))
	if err != nil {
		return err
	}

	if err := os.WriteFile(outPath, out.Data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	slog.Info("Conversion finished", "out", outPath, "mimeType", out.MimeType, "bytes", len(out.Data))
	return nil
}
