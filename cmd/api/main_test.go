package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/config"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/tokencache"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["client-token"])
	assert.True(t, names["stub-provider"])
}

func TestOpenStoreBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, backend := range []string{config.CacheMemory, config.CacheSQLite, config.CacheBolt} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Config{
				CacheBackend: backend,
				SQLitePath:   filepath.Join(dir, "cache.db"),
				BoltPath:     filepath.Join(dir, "cache.bolt"),
			}
			store, closeStore, err := openStore(ctx, cfg)
			require.NoError(t, err)
			defer closeStore()

			require.NoError(t, store.Set(ctx, tokencache.Key, `{"access_token":"x"}`))
			v, ok, err := store.Get(ctx, tokencache.Key)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `{"access_token":"x"}`, v)
		})
	}
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	_, _, err := openStore(context.Background(), config.Config{CacheBackend: "redis"})
	assert.ErrorIs(t, err, config.ErrUnknownBackend)
}

func TestClientTokenAgainstStub(t *testing.T) {
	ctx := context.Background()
	p, err := newStub(ctx, stubOptions{clientID: "cid", clientSecret: "secret", users: []string{"kari@example.com:pw"}}, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)

	t.Setenv("OAUTH_DOMAIN", srv.URL)
	t.Setenv("OAUTH_CLIENT_ID", "cid")
	t.Setenv("OAUTH_CLIENT_SECRET", "secret")
	t.Setenv("CACHE_BACKEND", "bolt")
	t.Setenv("CACHE_BOLT_PATH", filepath.Join(t.TempDir(), "cache.bolt"))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"client-token"})
	require.NoError(t, root.ExecuteContext(ctx))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.NotEmpty(t, got["access_token"])
	assert.Equal(t, "Bearer", got["token_type"])
	assert.NotEmpty(t, got["expiry"])
	assert.Equal(t, 1, p.Count("grant:client_credentials"))
}

func TestNewStubRejectsBadUser(t *testing.T) {
	_, err := newStub(context.Background(), stubOptions{clientID: "cid", clientSecret: "secret", users: []string{"no-colon"}}, zap.NewNop().Sugar())
	assert.Error(t, err)
}
