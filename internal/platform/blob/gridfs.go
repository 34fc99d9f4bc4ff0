package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dontdude/imgconv/internal/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	// BucketName is the GridFS bucket shared with existing deployments.
	BucketName = "conversion_files"

	ttlIndexName = "uploadDate_1"

	codeIndexNotFound        = 27
	codeIndexOptionsConflict = 85
	codeIndexKeySpecConflict = 86
)

// GridFSStore stores blobs in a GridFS bucket. Expiry is a TTL index on the
// files collection's uploadDate; MongoDB removes expired file documents itself.
type GridFSStore struct {
	db     *mongo.Database
	bucket *mongo.GridFSBucket
	ttl    time.Duration

	mu         sync.Mutex
	indexReady bool
}

var _ domain.BlobStore = (*GridFSStore)(nil)

// NewGridFSStore returns a store over db. The TTL index is created on first use.
func NewGridFSStore(db *mongo.Database, ttl time.Duration) *GridFSStore {
	if ttl <= 0 {
		ttl = domain.BlobRetention
	}
	return &GridFSStore{
		db:     db,
		bucket: db.GridFSBucket(options.GridFSBucket().SetName(BucketName)),
		ttl:    ttl,
	}
}

// ensureTTLIndex configures expiry once per process. Other processes may race
// on the same index: an identical index is a no-op for MongoDB, and an index with
// a different TTL is dropped and recreated. A failed attempt is retried on next use.
func (s *GridFSStore) ensureTTLIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexReady {
		return nil
	}

	files := s.db.Collection(BucketName + ".files")
	model := mongo.IndexModel{
		Keys:    bson.D{{Key: "uploadDate", Value: 1}},
		Options: options.Index().SetName(ttlIndexName).SetExpireAfterSeconds(int32(s.ttl / time.Second)),
	}

	_, err := files.Indexes().CreateOne(ctx, model)
	if isIndexConflict(err) {
		if dropErr := files.Indexes().DropOne(ctx, ttlIndexName); dropErr != nil && !hasCode(dropErr, codeIndexNotFound) {
			return fmt.Errorf("failed to drop ttl index: %w", dropErr)
		}
		_, err = files.Indexes().CreateOne(ctx, model)
	}
	if err != nil && !isIndexConflict(err) {
		return fmt.Errorf("failed to create ttl index: %w", err)
	}

	s.indexReady = true
	return nil
}

func (s *GridFSStore) Put(ctx context.Context, data []byte, meta map[string]string) (string, error) {
	if err := s.ensureTTLIndex(ctx); err != nil {
		return "", err
	}
	id, err := s.bucket.UploadFromStream(ctx, "file", bytes.NewReader(data),
		options.GridFSUpload().SetMetadata(meta))
	if err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	return id.Hex(), nil
}

func (s *GridFSStore) Get(ctx context.Context, id string) ([]byte, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("blob %s: %w", id, domain.ErrNotFound)
	}
	if err := s.ensureTTLIndex(ctx); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := s.bucket.DownloadToStream(ctx, oid, &buf); err != nil {
		if errors.Is(err, mongo.ErrFileNotFound) {
			return nil, fmt.Errorf("blob %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to retrieve blob %s: %w", id, err)
	}
	return buf.Bytes(), nil
}

// Delete tolerates ids that were never stored, already deleted or expired.
func (s *GridFSStore) Delete(ctx context.Context, id string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}
	if err := s.ensureTTLIndex(ctx); err != nil {
		return err
	}
	if err := s.bucket.Delete(ctx, oid); err != nil && !errors.Is(err, mongo.ErrFileNotFound) {
		return fmt.Errorf("failed to delete blob %s: %w", id, err)
	}
	return nil
}

func isIndexConflict(err error) bool {
	return hasCode(err, codeIndexOptionsConflict) || hasCode(err, codeIndexKeySpecConflict)
}

func hasCode(err error, code int32) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == code
	}
	return false
}
