package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dontdude/imgconv/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements domain.JobQueue using Redis Streams.
type RedisQueue struct {
	client redis.UniversalClient
	stream string
	group  string
	// maxLen caps the stream (approximately) on every append. 0 disables trimming.
	maxLen int64
}

// Ensure RedisQueue satisfies the interface
var _ domain.JobQueue = (*RedisQueue)(nil)

// NewRedisQueue returns a Redis-backed queue adapter over an existing client.
func NewRedisQueue(client redis.UniversalClient, stream, group string, maxLen int64) *RedisQueue {
	return &RedisQueue{
		client: client,
		stream: stream,
		group:  group,
		maxLen: maxLen,
	}
}

// Publish appends a job to the stream using XADD (Producer).
func (r *RedisQueue) Publish(ctx context.Context, job domain.Job) error {
	// "*" lets Redis generate a timestamp-based entry id.
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: job.Fields(),
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Join creates the consumer group, and the stream with it (MKSTREAM).
// The group starts at "0" so entries appended before the first join are delivered.
func (r *RedisQueue) Join(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Claim reads at most one new entry for consumer using XREADGROUP (Consumer).
// The entry stays in the PEL until Acknowledge.
func (r *RedisQueue) Claim(ctx context.Context, consumer string, block time.Duration) (*domain.Delivery, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: consumer,
		Streams:  []string{r.stream, ">"}, // ">" means never delivered to this group
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // block elapsed
		}
		if isNoGroup(err) {
			return nil, fmt.Errorf("redis read failed: %w: %v", domain.ErrNoGroup, err)
		}
		return nil, fmt.Errorf("redis read failed: %w", err)
	}

	for _, s := range streams {
		for _, msg := range s.Messages {
			return &domain.Delivery{
				EntryID: msg.ID,
				Job:     domain.JobFromFields(msg.Values),
			}, nil
		}
	}
	return nil, nil
}

// Acknowledge confirms processing using XACK.
func (r *RedisQueue) Acknowledge(ctx context.Context, entryID string) error {
	if err := r.client.XAck(ctx, r.stream, r.group, entryID).Err(); err != nil {
		return fmt.Errorf("redis ack failed: %w", err)
	}
	return nil
}

// Redis answers "BUSYGROUP Consumer Group name already exists" for a second create.
func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Redis answers "NOGROUP No such key ... or consumer group ..." once the stream or group is gone.
func isNoGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "NOGROUP")
}
