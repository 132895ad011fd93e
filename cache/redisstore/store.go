// Package redisstore is a Redis-backed cache.Store, used where cached sessions
// must survive a host restart.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/wecom-session/cache"
	"github.com/redis/go-redis/v9"
)

// Store implements cache.Store on a Redis client.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

var _ cache.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTTL expires every written key after ttl. Zero keeps keys until removed.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// New constructs a Store over an existing client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Dial parses a redis:// URL, connects, and pings the server.
func Dial(ctx context.Context, url string, opts ...Option) (*Store, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return New(client, opts...), nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
