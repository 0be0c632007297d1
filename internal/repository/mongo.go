package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/marcusv/ionbridge/internal/config"
	"github.com/marcusv/ionbridge/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Connect establishes the MongoDB connection and verifies it with a ping.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - cfg: mongo configuration (URI, database, pool size).
//
// Returns:
//   - *mongo.Client: connected client (caller owns Disconnect).
//   - *mongo.Database: handle for the configured database.
//   - error: non-nil if connect or ping fails.
func Connect(ctx context.Context, cfg *config.MongoConfig) (*mongo.Client, *mongo.Database, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetConnectTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, client.Database(cfg.Database), nil
}

// EnsureIndexes creates the indexes the service relies on:
//   - sync_jobs: unique job_id, TTL on created_at (retention window),
//     entity + created_at for job listing.
//   - settings: unique key.
//   - each entity collection: unique compound index on the natural key,
//     which is what makes upserts idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database, retention time.Duration) error {
	jobIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "job_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
		},
		{
			Keys: bson.D{{Key: "entity", Value: 1}, {Key: "created_at", Value: -1}},
		},
	}
	if _, err := db.Collection(domain.SyncJob{}.CollectionName()).Indexes().CreateMany(ctx, jobIndexes); err != nil {
		return fmt.Errorf("failed to create sync_jobs indexes: %w", err)
	}

	settingIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := db.Collection(domain.Setting{}.CollectionName()).Indexes().CreateOne(ctx, settingIndex); err != nil {
		return fmt.Errorf("failed to create settings index: %w", err)
	}

	for _, name := range domain.EntityNames() {
		entity, err := domain.LookupEntity(name)
		if err != nil {
			return err
		}
		keys := bson.D{}
		for _, field := range entity.KeyFields {
			keys = append(keys, bson.E{Key: field, Value: 1})
		}
		model := mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetUnique(true),
		}
		if _, err := db.Collection(entity.Collection).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("failed to create %s natural key index: %w", entity.Collection, err)
		}
	}

	return nil
}
