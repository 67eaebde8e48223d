package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "filestore:"

// RedisStore keeps entries in Redis so any replica can serve a token minted
// by another. Redis key expiry does the sweeping.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed store whose entries live for ttl.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func (s *RedisStore) key(token string) string { return redisKeyPrefix + token }

func (s *RedisStore) Put(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(Entry{
		Data:      data,
		Filename:  filename,
		MIMEType:  mimeType,
		ExpiresAt: s.now().Add(s.ttl).UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("filestore: encode entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(token), payload, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("filestore: store entry: %w", err)
	}
	return token, nil
}

func (s *RedisStore) Get(ctx context.Context, token string) (*Entry, error) {
	data, err := s.client.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: load entry: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("filestore: decode entry: %w", err)
	}
	if e.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return &e, nil
}
