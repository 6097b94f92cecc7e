package main

import (
	"context"
	"fmt"

	"vtopassist-backend/internal/components/telemetry"
	"vtopassist-backend/internal/sessionrecord"

	"github.com/redis/go-redis/v9"
)

// InitRecordStore opens the configured record backend. The returned func
// releases whatever the backend holds open.
func InitRecordStore(ctx context.Context, cfg RecordConfig, tel telemetry.API) (sessionrecord.Store, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case "", "file":
		return sessionrecord.NewFileStore(cfg.Path, tel), noop, nil
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "vtop_session.db"
		}
		store, err := sessionrecord.OpenSQLite(ctx, dsn, tel)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { store.Close() }, nil
	case "redis":
		ttl, err := parseDuration("record.redis.ttl", cfg.Redis.TTL)
		if err != nil {
			return nil, noop, err
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		err = client.Ping(ctx).Err()
		if err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("ping redis: %w", err)
		}
		return sessionrecord.NewRedisStore(client, cfg.Redis.Key, ttl, tel), func() { client.Close() }, nil
	case "none":
		return sessionrecord.NoopStore{}, noop, nil
	}
	return nil, noop, fmt.Errorf("unknown record backend %q", cfg.Backend)
}
