package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JobStatus represents the lifecycle status of a sync job.
// Values include JobStatusPending, JobStatusRunning, JobStatusPaused,
// JobStatusCompleted, JobStatusFailed, and JobStatusStopped.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusStopped   JobStatus = "stopped"
)

// Terminal reports whether no further automatic transition can occur.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusStopped:
		return true
	}
	return false
}

// legalTransitions is the allowed status graph. Pending may start running,
// running and paused flip back and forth, and running/paused may finalize.
var legalTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusFailed, JobStatusStopped},
	JobStatusRunning: {JobStatusPaused, JobStatusCompleted, JobStatusFailed, JobStatusStopped},
	JobStatusPaused:  {JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusStopped},
}

// CanTransition reports whether moving from one status to another is legal.
// Parameters:
//   - from: current status.
//   - to: requested status.
//
// Returns:
//   - bool: true if the transition follows the legal status graph.
func CanTransition(from, to JobStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// JobFilters holds the immutable parameters a sync job was started with.
type JobFilters struct {
	WarehouseID string `bson:"warehouse_id" json:"warehouse_id"`
	DateFrom    string `bson:"date_from,omitempty" json:"date_from,omitempty"`
	DateTo      string `bson:"date_to,omitempty" json:"date_to,omitempty"`
	TaskType    string `bson:"task_type,omitempty" json:"task_type,omitempty"`
}

// SyncJob is the durable ledger entry for one sync run. It is the single
// source of truth read by the engine (control flags) and by status-polling
// clients, and is mutated only through targeted atomic updates.
type SyncJob struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	JobID            string             `bson:"job_id" json:"job_id"`
	Entity           string             `bson:"entity" json:"entity"`
	Status           JobStatus          `bson:"status" json:"status"`
	TotalRecords     int64              `bson:"total_records" json:"total_records"`
	ProcessedRecords int64              `bson:"processed_records" json:"processed_records"`
	InsertedRecords  int64              `bson:"inserted_records" json:"inserted_records"`
	UpdatedRecords   int64              `bson:"updated_records" json:"updated_records"`
	ErrorRecords     int64              `bson:"error_records" json:"error_records"`
	PercentComplete  float64            `bson:"percent_complete" json:"percent_complete"`
	PauseRequested   bool               `bson:"pause_requested" json:"pause_requested"`
	StopRequested    bool               `bson:"stop_requested" json:"stop_requested"`
	CurrentBatch     int64              `bson:"current_batch" json:"current_batch"`
	CurrentRecord    int64              `bson:"current_record" json:"current_record"`
	BatchSize        int64              `bson:"batch_size" json:"batch_size"`
	RecordCeiling    int64              `bson:"record_ceiling" json:"record_ceiling"`
	Filters          JobFilters         `bson:"filters" json:"filters"`
	Errors           []string           `bson:"errors,omitempty" json:"errors,omitempty"`
	StartTime        time.Time          `bson:"start_time" json:"start_time"`
	EndTime          *time.Time         `bson:"end_time,omitempty" json:"end_time,omitempty"`
	LastUpdated      time.Time          `bson:"last_updated" json:"last_updated"`
	CreatedAt        time.Time          `bson:"created_at" json:"created_at"`
}

// Percent derives completion from the counters, clamped to [0,100].
func (j *SyncJob) Percent() float64 {
	if j.TotalRecords <= 0 {
		return 0
	}
	pct := float64(j.ProcessedRecords) / float64(j.TotalRecords) * 100
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

// CollectionName returns the MongoDB collection name for SyncJob.
func (SyncJob) CollectionName() string {
	return "sync_jobs"
}
