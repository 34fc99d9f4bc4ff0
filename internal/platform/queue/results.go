package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dontdude/imgconv/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ResultBus implements domain.ResultChannel over Redis Pub/Sub.
type ResultBus struct {
	client redis.UniversalClient
}

var _ domain.ResultChannel = (*ResultBus)(nil)

// NewResultBus returns a result channel backed by the given client.
func NewResultBus(client redis.UniversalClient) *ResultBus {
	return &ResultBus{client: client}
}

// Broadcast publishes the job outcome to "job:<jobId>".
func (b *ResultBus) Broadcast(ctx context.Context, jobID string, result domain.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := b.client.Publish(ctx, domain.ResultChannelName(jobID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	return nil
}

// Listen subscribes to the job channel and waits for the subscription to be confirmed,
// so anything published after Listen returns is received.
func (b *ResultBus) Listen(ctx context.Context, jobID string) (domain.ResultListener, error) {
	pubsub := b.client.Subscribe(ctx, domain.ResultChannelName(jobID))

	// Wait for confirmation that we are subscribed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to job %s: %w", jobID, err)
	}
	return &listener{pubsub: pubsub}, nil
}

type listener struct {
	pubsub *redis.PubSub
	once   sync.Once
	err    error
}

func (l *listener) Next(ctx context.Context) (domain.JobResult, error) {
	ch := l.pubsub.Channel()
	select {
	case <-ctx.Done():
		return domain.JobResult{}, ctx.Err()
	case msg, ok := <-ch:
		if !ok {
			return domain.JobResult{}, fmt.Errorf("result subscription closed")
		}
		var result domain.JobResult
		if err := json.Unmarshal([]byte(msg.Payload), &result); err != nil {
			return domain.JobResult{}, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		return result, nil
	}
}

// Close unsubscribes and releases the connection. Safe to call more than once.
func (l *listener) Close() error {
	l.once.Do(func() {
		l.err = l.pubsub.Close()
	})
	return l.err
}
