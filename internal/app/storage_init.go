package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

// initStorage открывает хранилище согласно cfg.StorageDriver.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (domain.Store, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.NewStore(), nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres dsn is required for storage driver %q", StorageDriverPostgres)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}
		logger.Info("postgres storage initialized")
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
