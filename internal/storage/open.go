package storage

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Open returns the backend named by cfg.Driver.
func Open(cfg DatabaseConfig, logger *zap.Logger) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		logger.Info("Using in-memory storage")
		return NewMemoryStorage(), nil
	case "postgres", "postgresql":
		logger.Info("Using PostgreSQL storage")
		return NewPostgresStorage(cfg, logger)
	case "sqlite":
		logger.Info("Using SQLite storage", zap.String("dsn", cfg.DSN))
		return NewSQLiteStorage(cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}
