package nonce

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares nonces between gateway replicas. Each nonce is a key
// holding its expiry; Redis expires keys on its own, so Sweep has nothing
// to do. Take relies on GETDEL, which requires Redis 6.2 or later.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisStore keeps keys and tombstones for retention past a nonce's
// expiry so late callers still see ErrExpired or ErrReplayDetected.
func NewRedisStore(client *redis.Client, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "nonce"
	}
	if retention <= 0 {
		retention = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) key(value string) string  { return s.prefix + ":" + value }
func (s *RedisStore) used(value string) string { return s.prefix + ":used:" + value }

func (s *RedisStore) Put(ctx context.Context, entry Entry) error {
	ttl := time.Until(entry.ExpiresAt) + s.retention
	ok, err := s.client.SetNX(ctx, s.key(entry.Value), entry.ExpiresAt.UnixNano(), ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return ErrDuplicate
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, value string) (Entry, error) {
	raw, err := s.client.GetDel(ctx, s.key(value)).Result()
	if errors.Is(err, redis.Nil) {
		n, existsErr := s.client.Exists(ctx, s.used(value)).Result()
		if existsErr != nil {
			return Entry{}, fmt.Errorf("redis exists: %w", existsErr)
		}
		if n > 0 {
			return Entry{}, ErrReplayDetected
		}
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("redis getdel: %w", err)
	}

	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("decode nonce expiry: %w", err)
	}
	entry := Entry{Value: value, ExpiresAt: time.Unix(0, nanos).UTC()}

	ttl := time.Until(entry.ExpiresAt) + s.retention
	if ttl > 0 {
		if err := s.client.Set(ctx, s.used(value), 1, ttl).Err(); err != nil {
			return Entry{}, fmt.Errorf("redis set tombstone: %w", err)
		}
	}
	return entry, nil
}

func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
