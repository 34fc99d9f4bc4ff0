package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dontdude/imgconv/internal/domain"
	"github.com/dontdude/imgconv/internal/metrics"
	"github.com/google/uuid"
)

// DefaultResultTimeout is how long WaitForJobResult waits when given no timeout.
const DefaultResultTimeout = 20 * time.Minute

// ConversionJobData is what a caller supplies to enqueue a conversion.
// The input bytes must already be in the BlobStore.
type ConversionJobData struct {
	InputFileID    string
	InputExtension string
	OutputFormat   string
	// Quality is 0 when absent.
	Quality int
}

// Submitter is the producer side: it appends jobs and waits for their results.
type Submitter struct {
	queue   domain.JobQueue
	results domain.ResultChannel
	blobs   domain.BlobStore
	timeout time.Duration
	log     *slog.Logger
}

// NewSubmitter builds a Submitter. timeout is the default result wait; zero means DefaultResultTimeout.
func NewSubmitter(queue domain.JobQueue, results domain.ResultChannel, blobs domain.BlobStore, timeout time.Duration, logger *slog.Logger) *Submitter {
	if timeout <= 0 {
		timeout = DefaultResultTimeout
	}
	return &Submitter{
		queue:   queue,
		results: results,
		blobs:   blobs,
		timeout: timeout,
		log:     logger.With("component", "submitter"),
	}
}

// Init makes sure the stream and consumer group exist so jobs appended before
// the first worker starts are not skipped.
func (s *Submitter) Init(ctx context.Context) error {
	if err := s.queue.Join(ctx); err != nil {
		return fmt.Errorf("failed to initialize job stream: %w", err)
	}
	return nil
}

// SubmitConversionJob appends a job under a fresh id and returns the id.
func (s *Submitter) SubmitConversionJob(ctx context.Context, data ConversionJobData) (string, error) {
	job := newJob(uuid.New().String(), data)
	if err := s.queue.Publish(ctx, job); err != nil {
		return "", fmt.Errorf("failed to submit job: %w", err)
	}
	metrics.IncSubmitted()
	s.log.Info("Job submitted", "jobID", job.ID, "format", job.OutputFormat)
	return job.ID, nil
}

func newJob(id string, data ConversionJobData) domain.Job {
	return domain.Job{
		ID:             id,
		InputFileID:    data.InputFileID,
		InputExtension: data.InputExtension,
		OutputFormat:   data.OutputFormat,
		Quality:        data.Quality,
	}
}

// WaitForJobResult subscribes to the job's channel and returns its first result.
// A result published before this call is not seen; use Dispatch to close that gap.
func (s *Submitter) WaitForJobResult(ctx context.Context, jobID string, timeout time.Duration) (domain.JobResult, error) {
	listener, err := s.results.Listen(ctx, jobID)
	if err != nil {
		metrics.IncResultWait("error")
		return domain.JobResult{}, err
	}
	p := &Pending{JobID: jobID, listener: listener, submitter: s}
	return p.Wait(ctx, timeout)
}

// Pending is a submitted job whose result subscription is already in place.
type Pending struct {
	JobID string

	listener  domain.ResultListener
	submitter *Submitter
}

// Dispatch subscribes to a new job's result channel and only then appends the job,
// so a fast worker cannot publish before anyone listens.
func (s *Submitter) Dispatch(ctx context.Context, data ConversionJobData) (*Pending, error) {
	jobID := uuid.New().String()
	listener, err := s.results.Listen(ctx, jobID)
	if err != nil {
		return nil, err
	}

	job := newJob(jobID, data)
	if err := s.queue.Publish(ctx, job); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}
	metrics.IncSubmitted()
	s.log.Info("Job submitted", "jobID", jobID, "format", job.OutputFormat)
	return &Pending{JobID: jobID, listener: listener, submitter: s}, nil
}

// Wait blocks for the job's result and always releases the subscription.
// It returns domain.ErrTimeout once timeout elapses; zero uses the submitter default.
func (p *Pending) Wait(ctx context.Context, timeout time.Duration) (domain.JobResult, error) {
	defer p.listener.Close()
	if timeout <= 0 {
		timeout = p.submitter.timeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := p.listener.Next(waitCtx)
	switch {
	case err == nil:
		metrics.IncResultWait("received")
		return result, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		metrics.IncResultWait("timeout")
		p.submitter.log.Warn("Gave up waiting for job result", "jobID", p.JobID, "timeout", timeout)
		return domain.JobResult{}, domain.ErrTimeout
	case ctx.Err() != nil:
		metrics.IncResultWait("canceled")
		return domain.JobResult{}, ctx.Err()
	default:
		metrics.IncResultWait("error")
		return domain.JobResult{}, fmt.Errorf("failed to receive result for job %s: %w", p.JobID, err)
	}
}

// Close drops the subscription without waiting.
func (p *Pending) Close() error {
	return p.listener.Close()
}

// ConvertInput is one synchronous conversion request.
type ConvertInput struct {
	Data         []byte
	Extension    string
	OutputFormat string
	Quality      int
}

// Convert runs a full round trip through the queue: it stores the input, submits
// the job, waits for the result and fetches the output. The output blob is
// removed once read. A failure result is returned as a *domain.ConversionError.
func (s *Submitter) Convert(ctx context.Context, in ConvertInput, timeout time.Duration) (domain.ConvertOutput, error) {
	inputID, err := s.blobs.Put(ctx, in.Data, nil)
	if err != nil {
		return domain.ConvertOutput{}, fmt.Errorf("failed to store input: %w", err)
	}

	pending, err := s.Dispatch(ctx, ConversionJobData{
		InputFileID:    inputID,
		InputExtension: in.Extension,
		OutputFormat:   in.OutputFormat,
		Quality:        in.Quality,
	})
	if err != nil {
		s.deleteBestEffort(ctx, inputID)
		return domain.ConvertOutput{}, err
	}

	result, err := pending.Wait(ctx, timeout)
	if err != nil {
		return domain.ConvertOutput{}, err
	}
	return s.Fetch(ctx, pending.JobID, result)
}

// Fetch turns a result into output bytes, deleting the output blob afterwards.
func (s *Submitter) Fetch(ctx context.Context, jobID string, result domain.JobResult) (domain.ConvertOutput, error) {
	if !result.Success {
		return domain.ConvertOutput{}, domain.NewConversionError(result.Error, nil)
	}
	data, err := s.blobs.Get(ctx, result.OutputFileID)
	if err != nil {
		return domain.ConvertOutput{}, fmt.Errorf("failed to fetch output of job %s: %w", jobID, err)
	}
	s.deleteBestEffort(ctx, result.OutputFileID)
	return domain.ConvertOutput{Data: data, MimeType: result.MimeType}, nil
}

func (s *Submitter) deleteBestEffort(ctx context.Context, id string) {
	if err := s.blobs.Delete(ctx, id); err != nil {
		s.log.Warn("Failed to delete blob", "blobID", id, "error", err)
	}
}
