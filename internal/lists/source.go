package lists

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key RedisSource reads when none is configured.
const DefaultRedisKey = "privscan:lists"

// Source loads the raw JSON document holding both reference lists:
//
//	{"easyPrivacy": {"domains": [...]}, "whoTracks": {"fingerprinting": [...], "trackers": [...]}}
type Source interface {
	Load(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]byte, error)

// Load calls f.
func (f SourceFunc) Load(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// FileSource reads the list document from a file on disk.
type FileSource struct {
	Path string
}

// Load reads the file. A missing or blank file yields ErrSourceEmpty.
func (s FileSource) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSourceEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read list file %s: %w", s.Path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrSourceEmpty
	}
	return data, nil
}

// RedisSource reads the list document from a single Redis string key.
type RedisSource struct {
	client redis.UniversalClient
	key    string
}

// NewRedisSource returns a source reading key from client. An empty key
// selects DefaultRedisKey.
func NewRedisSource(client redis.UniversalClient, key string) *RedisSource {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSource{client: client, key: key}
}

// Load fetches the document. A missing key yields ErrSourceEmpty.
func (s *RedisSource) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSourceEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lists from redis key %s: %w", s.key, err)
	}
	return data, nil
}

// Store writes the document to Redis, replacing any previous value.
// Callers should pass a document produced by Validate or equivalent JSON.
func (s *RedisSource) Store(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write lists to redis key %s: %w", s.key, err)
	}
	return nil
}
