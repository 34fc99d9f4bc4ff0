// Package blob implements domain.BlobStore with store-enforced expiry.
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dontdude/imgconv/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "blob:"
	fieldData = "data"
	fieldMeta = "meta"
)

// RedisStore keeps each blob in a hash that carries its own TTL, so Redis
// expires it even when no application code ever deletes it.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ domain.BlobStore = (*RedisStore)(nil)

// NewRedisStore returns a store expiring blobs after ttl (domain.BlobRetention when ttl <= 0).
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = domain.BlobRetention
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Put writes the payload and its expiry in one MULTI/EXEC.
func (s *RedisStore) Put(ctx context.Context, data []byte, meta map[string]string) (string, error) {
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal blob metadata: %w", err)
	}

	id := uuid.NewString()
	key := blobKey(id)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, fieldData, data, fieldMeta, rawMeta)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	return id, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := s.client.HGet(ctx, blobKey(id), fieldData).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("blob %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to retrieve blob %s: %w", id, err)
	}
	return data, nil
}

// Delete removes the blob. Deleting a missing id is a no-op.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, blobKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", id, err)
	}
	return nil
}

func blobKey(id string) string {
	return keyPrefix + id
}
