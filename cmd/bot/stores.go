package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"solana-wallet-tracker/internal/config"
	"solana-wallet-tracker/internal/storage"
	chstore "solana-wallet-tracker/internal/storage/clickhouse"
	"solana-wallet-tracker/internal/storage/jsonfile"
	"solana-wallet-tracker/internal/storage/memory"
	"solana-wallet-tracker/internal/storage/migrations"
	mongostore "solana-wallet-tracker/internal/storage/mongo"
	pgstore "solana-wallet-tracker/internal/storage/postgres"
)

// openStore opens the user and seen-transaction store selected by cfg.Backend.
func openStore(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		logger.Warn().Msg("using in-memory store, state is lost on restart")
		return memory.NewStore(), nil

	case config.BackendJSONFile:
		s, err := jsonfile.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open json store: %w", err)
		}
		logger.Info().Str("path", cfg.Path).Msg("using json file store")
		return s, nil

	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		logger.Info().Msg("using postgres store")
		return pgstore.NewStore(pool), nil

	case config.BackendMongo:
		s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("connect to mongo: %w", err)
		}
		logger.Info().Str("database", cfg.MongoDB).Msg("using mongo store")
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// openDeliveryLog returns the ClickHouse delivery log when dsn is set,
// otherwise an in-memory one.
func openDeliveryLog(ctx context.Context, dsn string, logger zerolog.Logger) (storage.DeliveryLogStore, func() error, error) {
	if dsn == "" {
		return memory.NewDeliveryLogStore(), func() error { return nil }, nil
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse delivery log: %w", err)
	}
	logger.Info().Msg("using clickhouse delivery log")
	return chstore.NewDeliveryLogStore(conn), conn.Close, nil
}
