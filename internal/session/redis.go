package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Hash fields. "id" and "email" are mutually exclusive.
const (
	fieldAccountID = "id"
	fieldEmail     = "email"
	fieldCreatedAt = "created_at"
)

// RedisStore is a Redis-backed Store. Each session is a hash with a TTL.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg Config) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("session: parsing redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: pinging redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client (for testing).
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Set writes the record and its TTL in one MULTI/EXEC so a session never
// exists without an expiry.
func (s *RedisStore) Set(ctx context.Context, token string, rec Record, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("session: ttl must be positive, got %s", ttl)
	}

	values := map[string]any{
		fieldCreatedAt: rec.CreatedAt.Unix(),
	}
	if rec.AccountID != "" {
		values[fieldAccountID] = rec.AccountID
	}
	if rec.Email != "" {
		values[fieldEmail] = rec.Email
	}

	key := sessionKey(token)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: storing %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, token string) (*Record, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	values, err := s.client.HGetAll(ctx, sessionKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: reading: %w", err)
	}
	// HGETALL on a missing key is an empty map, not redis.Nil.
	if len(values) == 0 {
		return nil, ErrNotFound
	}

	rec := &Record{
		AccountID: values[fieldAccountID],
		Email:     values[fieldEmail],
	}
	if ts, err := strconv.ParseInt(values[fieldCreatedAt], 10, 64); err == nil {
		rec.CreatedAt = time.Unix(ts, 0).UTC()
	}
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("session: deleting: %w", err)
	}
	return nil
}

func (s *RedisStore) Expire(ctx context.Context, token string, ttl time.Duration) error {
	ok, err := s.client.Expire(ctx, sessionKey(token), ttl).Result()
	if err != nil {
		return fmt.Errorf("session: expiring: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
