package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"exifquarter/ledger/pkg/config"
	"exifquarter/ledger/pkg/quota/abuse"
	"exifquarter/ledger/pkg/quota/failover"
	"exifquarter/ledger/pkg/quota/storage"
)

// buildStore composes the quota record store from configuration: the
// selected primary backend, wrapped with the memory failover controller
// unless disabled.
func buildStore(ctx context.Context, cfg *config.StorageConfig) (storage.Adapter, error) {
	primary, err := buildPrimary(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Wrapping a memory primary in a memory fallback adds nothing.
	if !cfg.FailoverEnabled() || cfg.Backend == "memory" {
		return primary, nil
	}
	return failover.NewController(primary, failover.Config{}), nil
}

func buildPrimary(ctx context.Context, cfg *config.StorageConfig) (storage.Adapter, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryAdapterWithConfig(storage.MemoryAdapterConfig{
			MaxEntries: cfg.Memory.MaxEntries,
		}), nil

	case "sqlite":
		adapter, err := storage.NewSQLiteAdapterWithConfig(storage.SQLiteAdapterConfig{
			DBPath:      cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return adapter, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return storage.NewRedisAdapter(rdb,
			storage.WithRedisPrefix(cfg.Redis.KeyPrefix),
			storage.WithRedisTTL(cfg.Redis.TTL),
		), nil

	case "mongo":
		client, err := mongo.Connect(mongooptions.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		adapter := storage.NewMongoAdapter(client, cfg.Mongo.Database)
		if err := adapter.Migrate(ctx); err != nil {
			return nil, err
		}
		return adapter, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// buildGuard composes the abuse guard. A redis quota backend shares its
// server for counters so blocks survive restarts; everything else keeps
// counters in process.
func buildGuard(cfg *config.Config) *abuse.Guard {
	if !cfg.Abuse.IsEnabled() {
		return nil
	}

	var store abuse.CounterStore
	if cfg.Storage.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		store = abuse.NewRedisCounterStore(rdb,
			abuse.WithCounterTTL(2*cfg.Abuse.Window))
	} else {
		store = abuse.NewMemoryCounterStore()
	}

	return abuse.NewGuard(store, abuse.Config{
		Ceiling: cfg.Abuse.Ceiling,
		Window:  cfg.Abuse.Window,
	})
}
