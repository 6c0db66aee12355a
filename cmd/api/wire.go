package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/broker"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/config"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/provider"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/tokencache"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/tokencache/repo"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/user"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/pkg/database"
)

// components is the wired broker. close releases the cache backend.
type components struct {
	broker   *broker.Broker
	sessions *user.SessionService
	close    func() error
}

// openStore returns the cache backend named by cfg.CacheBackend.
func openStore(ctx context.Context, cfg config.Config) (tokencache.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.CacheBackend {
	case config.CacheMemory:
		return repo.NewMemoryStore(), noop, nil
	case config.CachePostgres, config.CacheSQLite:
		dbCfg := database.SQLiteConfig(cfg.SQLitePath)
		if cfg.CacheBackend == config.CachePostgres {
			dbCfg = database.PostgresConfig(cfg.DatabaseURL, cfg.DatabaseTZ, cfg.DatabaseEnc)
		}
		sqlDB, err := database.Connect(dbCfg)
		if err != nil {
			return nil, noop, err
		}
		db := sqlx.NewDb(sqlDB, dbCfg.Driver)
		r := repo.NewSQLRepo(db)
		if err := r.EnsureTable(ctx); err != nil {
			db.Close()
			return nil, noop, fmt.Errorf("ensure token_cache table: %w", err)
		}
		return r, db.Close, nil
	case config.CacheBolt:
		r, err := repo.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, noop, err
		}
		return r, r.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.CacheBackend)
	}
}

// wire builds store, grants, cache, broker and session service. The cache
// and the grants share the store: grants write through, the cache reads.
func wire(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*components, error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	transport := provider.NewTransport(cfg.OAuthDomain,
		provider.ClientCredentials{ClientID: cfg.OAuthClientID, ClientSecret: cfg.OAuthClientSecret},
		provider.WithTimeout(cfg.ProviderTimeout),
		provider.WithLogger(logger),
	)
	grants := provider.NewGrants(transport, tokencache.Writer(store, logger), logger)
	cache := tokencache.New(store, grants, logger)
	b := broker.New(transport, cache, grants, logger)
	return &components{
		broker:   b,
		sessions: user.NewSessionService(b, grants, logger),
		close:    closeStore,
	}, nil
}
