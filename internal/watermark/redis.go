package watermark

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tphakala/ebirdsync/internal/errors"
)

const defaultKeyPrefix = "ebirdsync:state"

// RedisStore keeps state as plain string values.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to url (redis://...) and verifies the connection.
func NewRedisStore(ctx context.Context, url, keyPrefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Newf("parse redis URL: %w", err).
			Category(errors.CategoryConfiguration).
			Component("watermark").
			Build()
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Newf("redis ping failed: %w", err).
			Category(errors.CategoryDatabase).
			Component("watermark").
			Context("backend", "redis").
			Build()
	}

	return NewRedisStoreFromClient(client, keyPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client. The store owns it.
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (s *RedisStore) key(integrationID, actionID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, integrationID, actionID)
}

func (s *RedisStore) Get(ctx context.Context, integrationID, actionID string) ([]byte, bool, error) {
	blob, err := s.client.Get(ctx, s.key(integrationID, actionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError(err, "redis", "get", integrationID, actionID)
	}
	return blob, true, nil
}

func (s *RedisStore) Set(ctx context.Context, integrationID, actionID string, blob []byte) error {
	if err := s.client.Set(ctx, s.key(integrationID, actionID), blob, 0).Err(); err != nil {
		return storeError(err, "redis", "set", integrationID, actionID)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, integrationID, actionID string) error {
	if err := s.client.Del(ctx, s.key(integrationID, actionID)).Err(); err != nil {
		return storeError(err, "redis", "delete", integrationID, actionID)
	}
	return nil
}

// Health pings the server.
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func storeError(err error, backend, op, integrationID, actionID string) error {
	return errors.Newf("watermark %s failed: %w", op, err).
		Category(errors.CategoryDatabase).
		Component("watermark").
		Context("backend", backend).
		Context("operation", op).
		Context("integration_id", integrationID).
		Context("action_id", actionID).
		Build()
}
