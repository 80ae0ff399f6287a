// Package persistence selects the local batch repository from configuration.
package persistence

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"agri-trace-api-server/config"
	"agri-trace-api-server/internal/store"
	"agri-trace-api-server/internal/store/filestore"
	"agri-trace-api-server/internal/store/mongostore"
	"agri-trace-api-server/internal/store/s3store"
	"agri-trace-api-server/internal/store/sqlstore"
)

// Open returns the repository named by cfg.Store.Driver.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		repo store.Repository
		err  error
	)
	switch cfg.Store.Driver {
	case config.DriverFile, "":
		repo, err = filestore.New(cfg.Store.FilePath, logger)
	case config.DriverSQLite:
		repo, err = sqlstore.OpenSQLite(ctx, cfg.Store.SQLitePath, logger)
	case config.DriverPostgres:
		repo, err = sqlstore.OpenPostgres(ctx, cfg.Store.PostgresDSN, logger)
	case config.DriverS3:
		s3cfg := cfg.Store.S3
		repo, err = s3store.New(ctx, s3store.Config{
			Bucket:          s3cfg.Bucket,
			Key:             s3cfg.Key,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			PathStyle:       s3cfg.PathStyle,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		}, logger)
	case config.DriverMongo:
		repo, err = mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.DBName, logger)
	case config.DriverMemory:
		repo = store.NewMemory(logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	logger.Info("local store ready", zap.String("driver", cfg.Store.Driver))
	return repo, nil
}
