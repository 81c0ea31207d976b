package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cyderes/social-feed/internal/apperr"
	"github.com/cyderes/social-feed/internal/config"
	"github.com/cyderes/social-feed/internal/models"
)

// Storage is the local post cache. Implementations replace their contents
// atomically and return rows ordered by ID ascending.
type Storage interface {
	// ReplaceAll removes every cached post and stores posts in their place.
	// On failure the previous contents remain readable.
	ReplaceAll(ctx context.Context, posts []models.CachedPost) error
	// FetchAll returns every cached post ordered by ID ascending.
	FetchAll(ctx context.Context) ([]models.CachedPost, error)
	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Storage, error) {
	switch cfg.Type {
	case config.StorageSQLite:
		return NewSQLiteStorage(ctx, cfg.SQLitePath)
	case config.StoragePostgreSQL:
		return NewPostgreSQLStorage(ctx, cfg.PostgresURI)
	case config.StorageMongoDB:
		return NewMongoDBStorage(ctx, cfg)
	case config.StorageDynamoDB:
		return NewDynamoDBStorage(ctx, cfg, logger)
	default:
		return nil, apperr.New(apperr.ErrUnsupportedStore, fmt.Sprintf("unsupported storage type: %s", cfg.Type), nil)
	}
}

func writeError(err error) error {
	return apperr.New(apperr.ErrCacheWrite, "failed to replace cached posts", err)
}

func readError(err error) error {
	return apperr.New(apperr.ErrCacheRead, "failed to fetch cached posts", err)
}
