package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dontdude/imgconv/internal/convert"
	"github.com/dontdude/imgconv/internal/domain"
	"github.com/dontdude/imgconv/internal/metrics"
)

// Metadata keys attached to output blobs.
const (
	MetaMimeType = "mimeType"
	MetaJobID    = "jobId"
)

// handle drives one delivery through PROCESSING, PUBLISHING and ACKNOWLEDGING.
// Job failures end up in the result message, never in a return value.
func (p *Pool) handle(ctx context.Context, log *slog.Logger, d *domain.Delivery) {
	log = log.With("jobID", d.Job.ID, "entryID", d.EntryID)
	defer p.acknowledge(ctx, log, d.EntryID)

	if d.Job.ID == "" {
		// Without a job id there is no channel to report on.
		log.Error("Malformed job entry, acknowledging without result")
		metrics.IncProcessed("malformed")
		return
	}

	log.Info("Processing job", "format", d.Job.OutputFormat)
	result := p.process(ctx, log, d.Job)
	if result.Success {
		metrics.IncProcessed("succeeded")
		log.Info("Job completed successfully", "outputFileID", result.OutputFileID)
	} else {
		metrics.IncProcessed("failed")
		log.Warn("Job failed", "error", result.Error)
	}

	p.publish(ctx, log, d.Job.ID, result)
}

func (p *Pool) process(ctx context.Context, log *slog.Logger, job domain.Job) domain.JobResult {
	input, err := p.blobs.Get(ctx, job.InputFileID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Failed(fmt.Errorf("input file %s not found", job.InputFileID))
		}
		return domain.Failed(fmt.Errorf("failed to retrieve input: %w", err))
	}

	start := time.Now()
	out, err := p.converter.Convert(ctx, domain.ConvertRequest{
		Input:          input,
		InputExtension: job.InputExtension,
		OutputFormat:   job.OutputFormat,
		Quality:        job.Quality,
	})
	metrics.ObserveConversion(formatLabel(job.OutputFormat), time.Since(start))

	// Conversion is terminal either way, so the input is never read again.
	p.deleteBestEffort(ctx, log, job.InputFileID)
	if err != nil {
		return domain.Failed(err)
	}

	outputID, err := p.blobs.Put(ctx, out.Data, map[string]string{
		MetaMimeType: out.MimeType,
		MetaJobID:    job.ID,
	})
	if err != nil {
		return domain.Failed(fmt.Errorf("failed to store output: %w", err))
	}
	return domain.Succeeded(outputID, out.MimeType)
}

// publish retries infrastructure errors a bounded number of times. If every
// attempt fails the result is lost, exactly as if nobody had been listening.
func (p *Pool) publish(ctx context.Context, log *slog.Logger, jobID string, result domain.JobResult) {
	retry := newBackoff()
	for attempt := 1; ; attempt++ {
		err := p.results.Broadcast(ctx, jobID, result)
		if err == nil {
			return
		}
		log.Error("Failed to publish result", "attempt", attempt, "error", err)
		if attempt >= p.cfg.PublishAttempts || !retry.wait(ctx) {
			return
		}
	}
}

func (p *Pool) acknowledge(ctx context.Context, log *slog.Logger, entryID string) {
	if err := p.queue.Acknowledge(ctx, entryID); err != nil {
		// The entry stays pending; the pending monitor will report it.
		log.Error("Failed to acknowledge job", "error", err)
	}
}

// deleteBestEffort removes a blob and only logs failures: the store's expiry
// collects anything left behind.
func (p *Pool) deleteBestEffort(ctx context.Context, log *slog.Logger, id string) {
	if err := p.blobs.Delete(ctx, id); err != nil {
		log.Warn("Failed to delete blob", "blobID", id, "error", err)
	}
}

func formatLabel(format string) string {
	if f, ok := convert.Lookup(format); ok {
		return f.Value
	}
	return "unsupported"
}
