package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dontdude/imgconv/internal/domain"
)

// Defaults for Config fields left zero.
const (
	DefaultClaimBlock      = 300 * time.Millisecond
	DefaultPublishAttempts = 3
)

// Config tunes a Pool.
type Config struct {
	// Name is the consumer identity; it must be unique per worker process.
	Name string
	// Concurrency is the number of claim loops. Each gets its own consumer name.
	Concurrency int
	// ClaimBlock bounds each XREADGROUP wait.
	ClaimBlock time.Duration
	// PublishAttempts bounds result publishing on infrastructure errors.
	PublishAttempts int
}

// Pool runs a fixed number of worker loops in one process.
// Each loop claims one entry at a time, so an entry is never held by a loop
// that is busy with another job.
type Pool struct {
	cfg       Config
	queue     domain.JobQueue
	results   domain.ResultChannel
	blobs     domain.BlobStore
	converter domain.Converter
	log       *slog.Logger

	cancel context.CancelFunc
	// wg tracks active loops to ensure graceful shutdown.
	wg sync.WaitGroup
}

// NewPool wires the loops to their collaborators. converter should already be
// bounded by convert.WithTimeout.
func NewPool(cfg Config, queue domain.JobQueue, results domain.ResultChannel, blobs domain.BlobStore, converter domain.Converter, logger *slog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ClaimBlock <= 0 {
		cfg.ClaimBlock = DefaultClaimBlock
	}
	if cfg.PublishAttempts <= 0 {
		cfg.PublishAttempts = DefaultPublishAttempts
	}
	return &Pool{
		cfg:       cfg,
		queue:     queue,
		results:   results,
		blobs:     blobs,
		converter: converter,
		log:       logger.With("component", "worker"),
	}
}

// ConsumerNames returns the consumer identity of every loop.
func (p *Pool) ConsumerNames() []string {
	if p.cfg.Concurrency == 1 {
		return []string{p.cfg.Name}
	}
	names := make([]string, p.cfg.Concurrency)
	for i := range names {
		names[i] = fmt.Sprintf("%s-%d", p.cfg.Name, i+1)
	}
	return names
}

// Start spawns the loops. It returns immediately.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.log.Info("Starting worker pool", "name", p.cfg.Name, "concurrency", p.cfg.Concurrency)

	for _, consumer := range p.ConsumerNames() {
		p.wg.Add(1)
		go p.loop(ctx, consumer)
	}
}

// Stop stops claiming and blocks until in-flight jobs have been published and
// acknowledged. Nothing is acknowledged without having been processed.
func (p *Pool) Stop() {
	p.log.Info("Stopping worker pool, waiting for in-flight jobs...")
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info("Worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, consumer string) {
	defer p.wg.Done()
	log := p.log.With("consumer", consumer)

	// JOINING
	if !p.join(ctx, log) {
		return
	}
	log.Info("Worker started", "stream", domain.StreamName, "group", domain.GroupName)

	retry := newBackoff()
	for {
		// CLAIMING
		d, err := p.queue.Claim(ctx, consumer, p.cfg.ClaimBlock)
		if d != nil {
			retry.reset()
			// A claimed job runs to completion even if shutdown starts meanwhile.
			p.handle(context.WithoutCancel(ctx), log, d)
			continue
		}
		if ctx.Err() != nil {
			log.Info("Worker stopped")
			return
		}
		if errors.Is(err, domain.ErrNoGroup) {
			log.Warn("Consumer group missing, joining again", "error", err)
			if !p.join(ctx, log) {
				log.Info("Worker stopped")
				return
			}
			continue
		}
		if err != nil {
			log.Error("Failed to claim job", "error", err)
			if !retry.wait(ctx) {
				log.Info("Worker stopped")
				return
			}
			continue
		}
		retry.reset()
	}
}

// join creates the stream and group if needed, retrying until it succeeds.
// It returns false if ctx ends first.
func (p *Pool) join(ctx context.Context, log *slog.Logger) bool {
	retry := newBackoff()
	for {
		err := p.queue.Join(ctx)
		if err == nil {
			return true
		}
		log.Error("Failed to join consumer group", "error", err)
		if !retry.wait(ctx) {
			return false
		}
	}
}
