package domain

import (
	"context"
	"time"
)

// Fixed naming shared by every submitter and worker.
const (
	StreamName = "image-converter"
	GroupName  = "workers"

	// ResultChannelPrefix prefixes the per-job pub/sub channel ("job:<jobId>").
	ResultChannelPrefix = "job:"
)

// ResultChannelName returns the pub/sub channel a job's outcome is published on.
func ResultChannelName(jobID string) string {
	return ResultChannelPrefix + jobID
}

// JobQueue defines the contract for the durable job stream.
// It decouples the submitter and workers from the underlying broker.
type JobQueue interface {
	// Publish appends a job record to the stream.
	Publish(ctx context.Context, job Job) error

	// Join registers the consumer group, creating the stream if needed.
	// Joining an existing group is not an error.
	Join(ctx context.Context) error

	// Claim blocks up to block for the next undelivered entry for the group.
	// It returns (nil, nil) when the wait elapsed without an entry.
	Claim(ctx context.Context, consumer string, block time.Duration) (*Delivery, error)

	// Acknowledge removes the entry from the group's Pending Entry List (PEL).
	Acknowledge(ctx context.Context, entryID string) error
}

// ResultChannel carries one-shot job outcomes from a worker back to the submitter.
type ResultChannel interface {
	// Broadcast publishes the outcome of a job. Nobody listening means the message is lost.
	Broadcast(ctx context.Context, jobID string, result JobResult) error

	// Listen subscribes to a job's channel. The subscription is active once Listen returns.
	Listen(ctx context.Context, jobID string) (ResultListener, error)
}

// ResultListener is a single-use subscription for one job id.
type ResultListener interface {
	// Next blocks until the first result arrives or ctx is done.
	Next(ctx context.Context) (JobResult, error)
	Close() error
}
