// Package cache wraps a reload-surviving key/value Store with prefixed keys and
// JSON values. Missing or corrupt entries read as absent rather than failing.
package cache

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Well-known keys, stored as "<prefix>_<key>".
const (
	KeyConfig          = "config"
	KeyUserInfo        = "user_info"
	KeyAccessToken     = "access_token"
	KeyRefreshToken    = "refresh_token"
	KeyTokenExpiration = "token_expiration"
	KeyOAuthState      = "oauth_state"
	KeyConsumedCodes   = "consumed_codes"
)

// Cache provides typed access to a Store.
type Cache struct {
	store  Store
	prefix string
	logger zerolog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for degraded reads and failed writes.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a Cache over store. Keys are namespaced with prefix.
func New(store Store, prefix string, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		prefix: prefix,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the namespaced key.
func (c *Cache) Key(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + "_" + key
}

// Get decodes the value stored at key into v. It reports false when the entry
// is missing, unreadable, or not valid JSON for v; corrupt entries are removed.
func (c *Cache) Get(ctx context.Context, key string, v any) bool {
	fullKey := c.Key(key)
	raw, ok, err := c.store.Get(ctx, fullKey)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", fullKey).Msg("cache read failed")
		return false
	}
	if !ok || raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		c.logger.Warn().Err(err).Str("key", fullKey).Msg("discarding corrupt cache entry")
		if rmErr := c.store.Remove(ctx, fullKey); rmErr != nil {
			c.logger.Warn().Err(rmErr).Str("key", fullKey).Msg("cache remove failed")
		}
		return false
	}
	return true
}

// Set encodes v as JSON and stores it at key.
func (c *Cache) Set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, c.Key(key), string(raw))
}

// Remove deletes every key, continuing past failures. The first error is returned.
func (c *Cache) Remove(ctx context.Context, keys ...string) error {
	var firstErr error
	for _, key := range keys {
		if err := c.store.Remove(ctx, c.Key(key)); err != nil {
			c.logger.Warn().Err(err).Str("key", c.Key(key)).Msg("cache remove failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
