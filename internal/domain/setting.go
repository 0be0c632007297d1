package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Setting is a key-value configuration record editable from the dashboard
// (default warehouse, default batch size, and similar operator knobs).
type Setting struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	Key       string             `bson:"key" json:"key"`
	Value     string             `bson:"value" json:"value"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// CollectionName returns the MongoDB collection name for Setting.
func (Setting) CollectionName() string {
	return "settings"
}
