package services

import (
	"context"
	"fmt"

	"dockfleet/agent-svc/app/clients"
	"dockfleet/agent-svc/storage/memory"
	"dockfleet/agent-svc/storage/postgres"
	"dockfleet/pkg/logger"

	"go.uber.org/zap"
)

// StorageFactory creates storage adapters
type StorageFactory struct {
	log *logger.Logger
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(log *logger.Logger) *StorageFactory {
	return &StorageFactory{log: log}
}

// Create returns the store for driver. Postgres is migrated before use.
func (f *StorageFactory) Create(ctx context.Context, driver, connString string, maxConns int32) (clients.StorageAdapter, error) {
	switch driver {
	case "memory":
		f.log.Warn("using in-memory storage, state is lost on restart")
		return memory.NewStore(), nil
	case "postgres":
		return f.CreatePostgresStore(ctx, connString, maxConns)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// CreatePostgresStore migrates the schema and opens a pooled Postgres store
func (f *StorageFactory) CreatePostgresStore(ctx context.Context, connString string, maxConns int32) (clients.StorageAdapter, error) {
	version, err := postgres.Migrate(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate postgres: %w", err)
	}
	f.log.Info("postgres schema ready", zap.Uint("version", version))

	store, err := postgres.NewStore(ctx, connString, maxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres store: %w", err)
	}
	return store, nil
}
