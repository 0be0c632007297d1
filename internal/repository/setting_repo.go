package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcusv/ionbridge/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrSettingNotFound is returned when no setting exists for a key.
var ErrSettingNotFound = errors.New("setting not found")

// SettingRepository is simple key-value CRUD for operator settings.
type SettingRepository struct {
	col *mongo.Collection
}

// NewSettingRepository creates a setting repository bound to db.
func NewSettingRepository(db *mongo.Database) *SettingRepository {
	return &SettingRepository{col: db.Collection(domain.Setting{}.CollectionName())}
}

// Get fetches a setting by key.
func (r *SettingRepository) Get(ctx context.Context, key string) (*domain.Setting, error) {
	var setting domain.Setting
	err := r.col.FindOne(ctx, bson.M{"key": key}).Decode(&setting)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSettingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return &setting, nil
}

// Set creates or replaces a setting value by key.
func (r *SettingRepository) Set(ctx context.Context, key, value string) error {
	update := bson.M{"$set": bson.M{
		"value":      value,
		"updated_at": time.Now(),
	}}
	opts := options.Update().SetUpsert(true)
	if _, err := r.col.UpdateOne(ctx, bson.M{"key": key}, update, opts); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// List returns all settings sorted by key.
func (r *SettingRepository) List(ctx context.Context) ([]domain.Setting, error) {
	opts := options.Find().SetSort(bson.D{{Key: "key", Value: 1}})
	cursor, err := r.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer cursor.Close(ctx)

	var settings []domain.Setting
	if err := cursor.All(ctx, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return settings, nil
}
