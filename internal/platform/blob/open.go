package blob

import (
	"context"
	"fmt"
	"time"

	"github.com/dontdude/imgconv/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Backends accepted by Open.
const (
	BackendRedis  = "redis"
	BackendGridFS = "gridfs"
)

// Options selects and configures a blob backend.
type Options struct {
	Backend       string
	TTL           time.Duration
	MongoURI      string
	MongoDatabase string
}

// Open builds the configured store. The returned close function releases any
// connection the store opened itself; the Redis client stays owned by the caller.
func Open(ctx context.Context, opts Options, rdb redis.UniversalClient) (domain.BlobStore, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch opts.Backend {
	case "", BackendRedis:
		return NewRedisStore(rdb, opts.TTL), noop, nil
	case BackendGridFS:
		client, err := mongo.Connect(options.Client().ApplyURI(opts.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("failed to ping mongodb: %w", err)
		}
		return NewGridFSStore(client.Database(opts.MongoDatabase), opts.TTL), client.Disconnect, nil
	default:
		return nil, nil, fmt.Errorf("unknown blob backend %q", opts.Backend)
	}
}
