package kv

import (
	"context"
	"fmt"

	"github.com/whatsapp-ai/wabot/internal/config"
	"github.com/whatsapp-ai/wabot/internal/database"
	"github.com/zerodha/logf"
)

// Open connects the backend selected by storage.backend.
func Open(ctx context.Context, cfg *config.Config, lo logf.Logger) (Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageMemory, "":
		lo.Warn("Using in-memory storage, data will not survive restarts")
		return NewMemory(), nil

	case config.StorageRedis:
		rdb, err := database.NewRedis(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		lo.Info("Connected to Redis", "host", cfg.Redis.Host, "db", cfg.Redis.DB)
		return NewRedis(rdb), nil

	case config.StoragePostgres:
		db, err := database.NewPostgres(&cfg.Database, cfg.App.Debug)
		if err != nil {
			return nil, err
		}
		if err := database.AutoMigrate(db); err != nil {
			return nil, err
		}
		lo.Info("Connected to PostgreSQL")
		return NewPostgres(db), nil

	case config.StorageBolt:
		b, err := NewBolt(cfg.Storage.BoltPath)
		if err != nil {
			return nil, err
		}
		lo.Info("Opened BoltDB store", "path", cfg.Storage.BoltPath)
		return b, nil

	case config.StorageDynamoDB:
		d, err := NewDynamoDBFromEnv(ctx, cfg.Storage.DynamoTable, cfg.Storage.Region)
		if err != nil {
			return nil, err
		}
		lo.Info("Using DynamoDB store", "table", cfg.Storage.DynamoTable)
		return d, nil
	}

	return nil, fmt.Errorf("kv: unknown storage backend %q", cfg.Storage.Backend)
}
