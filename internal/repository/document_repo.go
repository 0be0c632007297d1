package repository

import (
	"context"
	"fmt"

	"github.com/marcusv/ionbridge/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// WriteResult reports per-page insert vs. update counts. A matched document
// counts as updated even when its fields were already identical; what
// matters to the ledger is that the record was applied, not whether bytes
// changed.
type WriteResult struct {
	Inserted int64
	Updated  int64
}

// DocumentRepository writes transformed documents into entity collections
// using natural-key upserts.
type DocumentRepository struct {
	db *mongo.Database
}

// NewDocumentRepository creates a document repository bound to db.
func NewDocumentRepository(db *mongo.Database) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// BuildOperations converts documents into upsert write models. Each model
// matches on the composite natural key and $sets every field, so applying
// the same document twice is a no-op beyond refreshing fields.
// Parameters:
//   - docs: transformed documents.
//   - keyFields: composite natural key field names.
//
// Returns:
//   - []mongo.WriteModel: one UpdateOne upsert per document.
func BuildOperations(docs []domain.Document, keyFields []string) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, doc := range docs {
		filter := bson.M{}
		for _, field := range keyFields {
			filter[field] = doc[field]
		}
		model := mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$set": bson.M(doc)}).
			SetUpsert(true)
		models = append(models, model)
	}
	return models
}

// BulkUpsert applies one page of documents as a single unordered bulk write.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - collection: target collection name.
//   - docs: transformed documents.
//   - keyFields: composite natural key field names.
//
// Returns:
//   - *WriteResult: distinguishable insert/update counts for the ledger.
//   - error: non-nil if the bulk write failed outright; the caller counts
//     the whole page as errors in that case.
func (r *DocumentRepository) BulkUpsert(ctx context.Context, collection string, docs []domain.Document, keyFields []string) (*WriteResult, error) {
	if len(docs) == 0 {
		return &WriteResult{}, nil
	}

	models := BuildOperations(docs, keyFields)
	opts := options.BulkWrite().SetOrdered(false)

	result, err := r.db.Collection(collection).BulkWrite(ctx, models, opts)
	if err != nil {
		// Partial success: the driver still reports counts alongside a
		// BulkWriteException; use them when available.
		if result != nil {
			return &WriteResult{
				Inserted: result.UpsertedCount,
				Updated:  result.MatchedCount,
			}, err
		}
		return nil, fmt.Errorf("bulk upsert into %s failed: %w", collection, err)
	}

	return &WriteResult{
		Inserted: result.UpsertedCount,
		Updated:  result.MatchedCount,
	}, nil
}
