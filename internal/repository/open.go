package repository

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tutor-llm/internal/config"
	"tutor-llm/internal/db"
	"tutor-llm/internal/domain"
)

// Drivers de almacenamiento soportados.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// OpenSessionRepository abre el backend configurado. Cualquier fallo se envuelve en
// domain.ErrStorageUnavailable para que el llamador degrade a memoria.
// El closer devuelto libera las conexiones subyacentes.
func OpenSessionRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (SessionRepository, func(), error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if driver == "" {
		driver = DriverSQLite
	}

	repo, closer, err := openDriver(ctx, driver, cfg)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open %s store: %w: %w", driver, domain.ErrStorageUnavailable, err)
	}
	logger.Info("session store opened", zap.String("driver", driver))
	return repo, closer, nil
}

func openDriver(ctx context.Context, driver string, cfg *config.Config) (SessionRepository, func(), error) {
	switch driver {
	case DriverSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		repo, err := NewSQLiteSessionRepository(ctx, sqlDB)
		if err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("sqlite schema: %w", err)
		}
		return repo, func() { sqlDB.Close() }, nil

	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL not configured")
		}
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		repo := NewPgSessionRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		return repo, pool.Close, nil

	case DriverRedis:
		if cfg.RedisAddr == "" {
			return nil, nil, fmt.Errorf("REDIS_ADDR not configured")
		}
		client, err := db.NewRedis(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisSessionRepository(client), func() { client.Close() }, nil

	case DriverMemory:
		return NewMemorySessionRepository(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", driver)
}
