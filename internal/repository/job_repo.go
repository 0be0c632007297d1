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

// ErrJobNotFound is returned when no ledger entry exists for a job ID.
var ErrJobNotFound = errors.New("sync job not found")

// ErrInvalidTransition is returned when a status change does not follow the
// legal status graph.
var ErrInvalidTransition = errors.New("invalid status transition")

// Delta is one atomic progress increment applied after a page. Counters
// never decrement.
type Delta struct {
	Processed     int64
	Inserted      int64
	Updated       int64
	Errors        int64
	CurrentRecord int64
	CurrentBatch  int64
	Percent       float64
}

// SyncJobRepository persists the job ledger. Every mutation is a targeted
// atomic update ($inc / $set), never a read-modify-write of the whole entry,
// so concurrent progress and control writes cannot lose updates.
type SyncJobRepository struct {
	col *mongo.Collection
}

// NewSyncJobRepository creates a ledger repository bound to db.
func NewSyncJobRepository(db *mongo.Database) *SyncJobRepository {
	return &SyncJobRepository{col: db.Collection(domain.SyncJob{}.CollectionName())}
}

// Create inserts a new ledger entry.
func (r *SyncJobRepository) Create(ctx context.Context, job *domain.SyncJob) error {
	if _, err := r.col.InsertOne(ctx, job); err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}
	return nil
}

// Get fetches a ledger entry by job ID.
// Returns ErrJobNotFound if no entry exists.
func (r *SyncJobRepository) Get(ctx context.Context, jobID string) (*domain.SyncJob, error) {
	var job domain.SyncJob
	err := r.col.FindOne(ctx, bson.M{"job_id": jobID}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync job %s: %w", jobID, err)
	}
	return &job, nil
}

// SetTotal records the planned record total once the remote count is known.
func (r *SyncJobRepository) SetTotal(ctx context.Context, jobID string, total int64) error {
	update := bson.M{"$set": bson.M{
		"total_records": total,
		"last_updated":  time.Now(),
	}}
	return r.updateOne(ctx, jobID, bson.M{"job_id": jobID}, update)
}

// Advance applies one page's progress as a single atomic increment.
func (r *SyncJobRepository) Advance(ctx context.Context, jobID string, delta Delta) error {
	update := bson.M{
		"$inc": bson.M{
			"processed_records": delta.Processed,
			"inserted_records":  delta.Inserted,
			"updated_records":   delta.Updated,
			"error_records":     delta.Errors,
		},
		"$set": bson.M{
			"current_record":   delta.CurrentRecord,
			"current_batch":    delta.CurrentBatch,
			"percent_complete": delta.Percent,
			"last_updated":     time.Now(),
		},
	}
	return r.updateOne(ctx, jobID, bson.M{"job_id": jobID}, update)
}

// AppendError appends one error message to the ledger's error list.
// The list is append-only and never cleared.
func (r *SyncJobRepository) AppendError(ctx context.Context, jobID, msg string) error {
	update := bson.M{
		"$push": bson.M{"errors": msg},
		"$set":  bson.M{"last_updated": time.Now()},
	}
	return r.updateOne(ctx, jobID, bson.M{"job_id": jobID}, update)
}

// SetStatus transitions a job's status along the legal graph. The guard is
// expressed in the update filter so the check-and-set is a single atomic
// operation. Terminal statuses also set end_time.
// Returns ErrInvalidTransition if the current status does not allow the move,
// ErrJobNotFound if the job does not exist.
func (r *SyncJobRepository) SetStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	filter := bson.M{
		"job_id": jobID,
		"status": bson.M{"$in": legalSources(status)},
	}

	now := time.Now()
	set := bson.M{
		"status":       status,
		"last_updated": now,
	}
	if status.Terminal() {
		set["end_time"] = now
	}
	if status == domain.JobStatusRunning {
		set["pause_requested"] = false
	}

	result, err := r.col.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to set status of job %s: %w", jobID, err)
	}
	if result.MatchedCount == 0 {
		// Distinguish a missing job from an illegal transition.
		if _, getErr := r.Get(ctx, jobID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: job %s -> %s", ErrInvalidTransition, jobID, status)
	}
	return nil
}

// legalSources returns the statuses from which `to` may be entered.
func legalSources(to domain.JobStatus) []domain.JobStatus {
	var sources []domain.JobStatus
	for _, from := range []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusRunning,
		domain.JobStatusPaused,
	} {
		if domain.CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// RequestPause sets the pause flag on a non-terminal job. The engine
// observes the flag cooperatively between pages.
func (r *SyncJobRepository) RequestPause(ctx context.Context, jobID string) error {
	return r.setControlFlag(ctx, jobID, bson.M{"pause_requested": true})
}

// RequestResume clears the pause flag on a non-terminal job.
func (r *SyncJobRepository) RequestResume(ctx context.Context, jobID string) error {
	return r.setControlFlag(ctx, jobID, bson.M{"pause_requested": false})
}

// RequestStop sets the stop flag on a non-terminal job.
func (r *SyncJobRepository) RequestStop(ctx context.Context, jobID string) error {
	return r.setControlFlag(ctx, jobID, bson.M{"stop_requested": true})
}

func (r *SyncJobRepository) setControlFlag(ctx context.Context, jobID string, set bson.M) error {
	filter := bson.M{
		"job_id": jobID,
		"status": bson.M{"$nin": []domain.JobStatus{
			domain.JobStatusCompleted,
			domain.JobStatusFailed,
			domain.JobStatusStopped,
		}},
	}
	set["last_updated"] = time.Now()

	result, err := r.col.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to set control flag on job %s: %w", jobID, err)
	}
	if result.MatchedCount == 0 {
		// Terminal or missing; callers treat a terminal job as a no-op ack.
		if _, getErr := r.Get(ctx, jobID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// List returns recent jobs, newest first, optionally filtered by entity.
func (r *SyncJobRepository) List(ctx context.Context, entity string, limit int64) ([]domain.SyncJob, error) {
	filter := bson.M{}
	if entity != "" {
		filter["entity"] = entity
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var jobs []domain.SyncJob
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode sync jobs: %w", err)
	}
	return jobs, nil
}

func (r *SyncJobRepository) updateOne(ctx context.Context, jobID string, filter, update bson.M) error {
	result, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update sync job %s: %w", jobID, err)
	}
	if result.MatchedCount == 0 {
		return ErrJobNotFound
	}
	return nil
}
