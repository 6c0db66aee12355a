// Package tokencache holds the process-wide client-credentials token.
//
// The cache is a best-effort optimisation, not a source of truth: concurrent
// misses each acquire a token and overwrite the same key (at-least-once
// acquisition, last write wins). Any valid client token is interchangeable,
// so no coordination is attempted.
package tokencache

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/provider"
)

// Key is the single store key holding the serialized client token.
const Key = "sherpa:client_credentials"

// Store is the key-value backend behind the cache.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Acquirer obtains a fresh client token. The acquisition itself writes the
// token through to the store (see Writer).
type Acquirer interface {
	ClientCredentials(ctx context.Context) (provider.TokenPair, error)
}

type Cache struct {
	store    Store
	acquirer Acquirer
	logger   *zap.SugaredLogger
}

func New(store Store, acquirer Acquirer, logger *zap.SugaredLogger) *Cache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Cache{store: store, acquirer: acquirer, logger: logger}
}

// Get returns the cached client token, acquiring one on a miss.
func (c *Cache) Get(ctx context.Context) (provider.TokenPair, error) {
	raw, found, err := c.store.Get(ctx, Key)
	if err != nil {
		return provider.TokenPair{}, fmt.Errorf("tokencache: read: %w", err)
	}
	if found {
		var pair provider.TokenPair
		if err := json.Unmarshal([]byte(raw), &pair); err == nil && pair.AccessToken != "" {
			return pair, nil
		}
		c.logger.Warnw("discarding unreadable cached client token", "key", Key)
	}
	return c.Refresh(ctx)
}

// Refresh acquires a new client token regardless of what is cached.
func (c *Cache) Refresh(ctx context.Context) (provider.TokenPair, error) {
	pair, err := c.acquirer.ClientCredentials(ctx)
	if err != nil {
		return provider.TokenPair{}, fmt.Errorf("tokencache: acquire: %w", err)
	}
	return pair, nil
}

type writer struct {
	store  Store
	logger *zap.SugaredLogger
}

// Writer adapts store into the write-through hook used by provider.Grants.
// Write failures are logged and swallowed.
func Writer(store Store, logger *zap.SugaredLogger) provider.ClientTokenWriter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return writer{store: store, logger: logger}
}

func (w writer) Put(ctx context.Context, pair provider.TokenPair) {
	b, err := json.Marshal(pair)
	if err != nil {
		w.logger.Warnw("encode client token", "err", err)
		return
	}
	if err := w.store.Set(ctx, Key, string(b)); err != nil {
		w.logger.Warnw("cache client token", "key", Key, "err", err)
	}
}
