package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcusv/ionbridge/internal/domain"
	"github.com/marcusv/ionbridge/internal/ion"
	"github.com/marcusv/ionbridge/internal/logger"
	"github.com/marcusv/ionbridge/internal/repository"
	"github.com/marcusv/ionbridge/internal/storage"
)

// ErrCountQuery marks a failed or unparseable remote count. It is the only
// remote failure that is fatal to a whole job: without a count no bounded
// paging loop can be planned.
var ErrCountQuery = errors.New("count query failed")

// RemoteClient is the engine's view of the async SQL service.
type RemoteClient interface {
	Count(ctx context.Context, sql string) (int64, error)
	RunQuery(ctx context.Context, sql string, offset, limit int64) ([]domain.RawRow, error)
}

// Ledger is the engine's view of the job ledger store.
type Ledger interface {
	Create(ctx context.Context, job *domain.SyncJob) error
	Get(ctx context.Context, jobID string) (*domain.SyncJob, error)
	SetTotal(ctx context.Context, jobID string, total int64) error
	Advance(ctx context.Context, jobID string, delta repository.Delta) error
	AppendError(ctx context.Context, jobID, msg string) error
	SetStatus(ctx context.Context, jobID string, status domain.JobStatus) error
	RequestPause(ctx context.Context, jobID string) error
	RequestResume(ctx context.Context, jobID string) error
	RequestStop(ctx context.Context, jobID string) error
}

// DocumentWriter applies one page of documents idempotently.
type DocumentWriter interface {
	BulkUpsert(ctx context.Context, collection string, docs []domain.Document, keyFields []string) (*repository.WriteResult, error)
}

// EngineConfig holds sync engine tuning.
type EngineConfig struct {
	DefaultBatchSize     int64
	DefaultRecordCeiling int64
	PageDelay            time.Duration
	PausePollInterval    time.Duration
}

// Engine drives a paginated remote-query job to completion with durable,
// pollable state. One generic engine serves every entity; the per-entity
// strategy (table, natural key, coercion lists) comes from the entity
// definition.
type Engine struct {
	client  RemoteClient
	ledger  Ledger
	writer  DocumentWriter
	archive storage.ObjectStorage // nil disables failed-page archiving
	logger  *logger.Logger
	cfg     EngineConfig
}

// NewEngine creates a sync engine.
// Parameters:
//   - client: remote query client.
//   - ledger: job ledger store.
//   - writer: document batch writer.
//   - archive: failed-page archive; nil disables it.
//   - log: logger instance.
//   - cfg: engine tuning.
//
// Returns:
//   - *Engine: initialized engine.
func NewEngine(
	client RemoteClient,
	ledger Ledger,
	writer DocumentWriter,
	archive storage.ObjectStorage,
	log *logger.Logger,
	cfg EngineConfig,
) *Engine {
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = 500
	}
	if cfg.DefaultRecordCeiling <= 0 {
		cfg.DefaultRecordCeiling = 10000
	}
	if cfg.PausePollInterval <= 0 {
		cfg.PausePollInterval = 2 * time.Second
	}
	return &Engine{
		client:  client,
		ledger:  ledger,
		writer:  writer,
		archive: archive,
		logger:  log,
		cfg:     cfg,
	}
}

// log returns a logger from context if available, otherwise the engine's own.
func (e *Engine) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return e.logger
}

// StartParams are the parameters a sync job is started with. They are
// stored verbatim on the ledger entry.
type StartParams struct {
	Entity        string
	WarehouseID   string
	DateFrom      string
	DateTo        string
	TaskType      string
	BatchSize     int64
	RecordCeiling int64
}

// StartResult is returned as soon as counting has completed and the paging
// loop has been launched.
type StartResult struct {
	JobID        string `json:"job_id"`
	TotalRecords int64  `json:"total_records"`
}

// Start validates parameters, creates the ledger entry, runs the count
// query, and launches the paging loop in the background. It returns without
// waiting for completion; clients poll Status independently.
// Parameters:
//   - ctx: request context; the paging loop runs on a detached context.
//   - params: job parameters.
//
// Returns:
//   - *StartResult: job ID and planned record total.
//   - error: validation failure, ledger failure, or ErrCountQuery.
func (e *Engine) Start(ctx context.Context, params StartParams) (*StartResult, error) {
	entity, err := domain.LookupEntity(params.Entity)
	if err != nil {
		return nil, err
	}
	if params.WarehouseID == "" {
		return nil, fmt.Errorf("warehouse id is required")
	}

	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = e.cfg.DefaultBatchSize
	}
	ceiling := params.RecordCeiling
	if ceiling <= 0 {
		ceiling = e.cfg.DefaultRecordCeiling
	}

	filters := ion.QueryFilters{
		WarehouseID: params.WarehouseID,
		DateFrom:    params.DateFrom,
		DateTo:      params.DateTo,
		TaskType:    params.TaskType,
	}

	now := time.Now()
	job := &domain.SyncJob{
		JobID:         uuid.New().String(),
		Entity:        entity.Name,
		Status:        domain.JobStatusRunning,
		BatchSize:     batchSize,
		RecordCeiling: ceiling,
		Filters: domain.JobFilters{
			WarehouseID: params.WarehouseID,
			DateFrom:    params.DateFrom,
			DateTo:      params.DateTo,
			TaskType:    params.TaskType,
		},
		StartTime:   now,
		LastUpdated: now,
		CreatedAt:   now,
	}

	if err := e.ledger.Create(ctx, job); err != nil {
		return nil, err
	}

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldJobID:       job.JobID,
		logger.FieldEntity:      entity.Name,
		logger.FieldWarehouseID: params.WarehouseID,
	})

	count, err := e.client.Count(ctx, ion.BuildCountQuery(entity, filters))
	if err != nil {
		countErr := fmt.Errorf("%w: %v", ErrCountQuery, err)
		if lerr := e.ledger.AppendError(ctx, job.JobID, countErr.Error()); lerr != nil {
			e.log(ctx).WithError(lerr).Error("Failed to record count error")
		}
		if serr := e.ledger.SetStatus(ctx, job.JobID, domain.JobStatusFailed); serr != nil {
			e.log(ctx).WithError(serr).Error("Failed to finalize job after count error")
		}
		return nil, countErr
	}

	total := count
	if total > ceiling {
		total = ceiling
	}
	if err := e.ledger.SetTotal(ctx, job.JobID, total); err != nil {
		if serr := e.ledger.SetStatus(ctx, job.JobID, domain.JobStatusFailed); serr != nil {
			e.log(ctx).WithError(serr).Error("Failed to finalize job after total update failure")
		}
		return nil, err
	}

	e.log(ctx).WithFields(logger.Fields{
		"remote_count": count,
		"total":        total,
		"batch_size":   batchSize,
	}).Info("Sync job starting")

	// The paging loop outlives the triggering request; detach it from the
	// request context but keep the logging fields, seeded from the engine's
	// own logger.
	runCtx := e.logger.WithFields(logger.Fields{
		logger.FieldJobID:       job.JobID,
		logger.FieldEntity:      entity.Name,
		logger.FieldWarehouseID: params.WarehouseID,
		logger.FieldComponent:   "sync-engine",
	}).WithContext(context.Background())
	go e.run(runCtx, entity, filters, job.JobID, total, batchSize)

	return &StartResult{JobID: job.JobID, TotalRecords: total}, nil
}

// run is the paging loop. Pages are processed strictly in increasing offset
// order; the offset advances by the requested window even for failed pages,
// so one poison page cannot stall the job. The loop never lets an error
// escape: every path ends in a finalized ledger.
func (e *Engine) run(ctx context.Context, entity domain.Entity, filters ion.QueryFilters, jobID string, total, batchSize int64) {
	start := time.Now()
	final := domain.JobStatusCompleted
	var offset, batch, processed int64

	for offset < total {
		proceed, status := e.checkControl(ctx, jobID)
		if !proceed {
			final = status
			break
		}

		window := batchSize
		if remaining := total - offset; remaining < window {
			window = remaining
		}
		batch++

		rows, err := e.client.RunQuery(ctx, ion.BuildPageQuery(entity, filters, offset, window), offset, window)
		if err != nil {
			e.recordPageFailure(ctx, entity, jobID, offset, window, batch, total, processed, err)
			offset += window
			e.pageDelay(ctx)
			continue
		}

		docs := make([]domain.Document, len(rows))
		transformedAt := time.Now()
		for i, row := range rows {
			doc, warnings := Transform(entity, row, jobID, transformedAt)
			for _, w := range warnings {
				e.log(ctx).WithField("offset", offset+int64(i)).Warn(w)
			}
			docs[i] = doc
		}

		result, err := e.writer.BulkUpsert(ctx, entity.Collection, docs, entity.KeyFields)
		if err != nil && result == nil {
			e.recordPageFailure(ctx, entity, jobID, offset, window, batch, total, processed, err)
			offset += window
			e.pageDelay(ctx)
			continue
		}
		var failed int64
		if err != nil {
			// Partial success: the store reported counts alongside the
			// error, so apply the finer-grained numbers. The remainder the
			// store could not apply counts as errors.
			failed = int64(len(rows)) - result.Inserted - result.Updated
			if failed < 0 {
				failed = 0
			}
			e.log(ctx).WithField("failed", failed).WithError(err).Warn("Bulk write partially failed")
			msg := fmt.Sprintf("page at offset %d: partial write, %d of %d records failed: %v",
				offset, failed, len(rows), err)
			if aerr := e.ledger.AppendError(ctx, jobID, msg); aerr != nil {
				e.log(ctx).WithError(aerr).Error("Failed to record partial write error")
			}
		}

		processed += int64(len(rows))
		delta := repository.Delta{
			Processed:     int64(len(rows)),
			Inserted:      result.Inserted,
			Updated:       result.Updated,
			Errors:        failed,
			CurrentRecord: offset + int64(len(rows)),
			CurrentBatch:  batch,
			Percent:       percent(processed, total),
		}
		if err := e.ledger.Advance(ctx, jobID, delta); err != nil {
			e.log(ctx).WithError(err).Error("Failed to advance ledger")
		}

		if int64(len(rows)) < window {
			// The authoritative data shrank since the count; end the loop
			// rather than spin on an unreachable target.
			e.log(ctx).WithFields(logger.Fields{
				"expected": window,
				"received": len(rows),
				"offset":   offset,
			}).Info("Short page received, ending sync early")
			break
		}

		offset += window
		if offset < total {
			e.pageDelay(ctx)
		}
	}

	if err := e.ledger.SetStatus(ctx, jobID, final); err != nil {
		e.log(ctx).WithError(err).Error("Failed to finalize sync job")
	}

	logger.With(logger.Fields{
		logger.FieldStatus:     string(final),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		logger.FieldCount:      processed,
	}).Info(ctx, "Sync job finished: batches=%d", batch)
}

// checkControl re-reads the ledger's control flags before a page. It blocks
// cooperatively while the job is paused. The first return value is false
// when the loop must finalize with the returned status.
func (e *Engine) checkControl(ctx context.Context, jobID string) (bool, domain.JobStatus) {
	job, err := e.ledger.Get(ctx, jobID)
	if err != nil {
		e.log(ctx).WithError(err).Error("Failed to read control flags")
		return false, domain.JobStatusFailed
	}
	if job.StopRequested {
		return false, domain.JobStatusStopped
	}
	if !job.PauseRequested {
		return true, domain.JobStatusRunning
	}

	if err := e.ledger.SetStatus(ctx, jobID, domain.JobStatusPaused); err != nil {
		e.log(ctx).WithError(err).Error("Failed to pause sync job")
		return false, domain.JobStatusFailed
	}
	e.log(ctx).Info("Sync job paused")

	for {
		select {
		case <-ctx.Done():
			return false, domain.JobStatusStopped
		case <-time.After(e.cfg.PausePollInterval):
		}

		job, err := e.ledger.Get(ctx, jobID)
		if err != nil {
			e.log(ctx).WithError(err).Error("Failed to read control flags while paused")
			return false, domain.JobStatusFailed
		}
		if job.StopRequested {
			return false, domain.JobStatusStopped
		}
		if !job.PauseRequested {
			if err := e.ledger.SetStatus(ctx, jobID, domain.JobStatusRunning); err != nil {
				e.log(ctx).WithError(err).Error("Failed to resume sync job")
				return false, domain.JobStatusFailed
			}
			e.log(ctx).Info("Sync job resumed")
			return true, domain.JobStatusRunning
		}
	}
}

// recordPageFailure applies the skip-and-continue policy: one error entry,
// the page's intended size counted as errors, and the page archived for
// later replay when the archive is enabled.
func (e *Engine) recordPageFailure(ctx context.Context, entity domain.Entity, jobID string, offset, window, batch, total, processed int64, cause error) {
	msg := fmt.Sprintf("page at offset %d (size %d): %v", offset, window, cause)
	e.log(ctx).WithFields(logger.Fields{
		"offset": offset,
		"window": window,
	}).WithError(cause).Error("Page failed, skipping")

	if err := e.ledger.AppendError(ctx, jobID, msg); err != nil {
		e.log(ctx).WithError(err).Error("Failed to record page error")
	}
	delta := repository.Delta{
		Errors:        window,
		CurrentRecord: offset + window,
		CurrentBatch:  batch,
		Percent:       percent(processed, total),
	}
	if err := e.ledger.Advance(ctx, jobID, delta); err != nil {
		e.log(ctx).WithError(err).Error("Failed to advance ledger after page failure")
	}

	e.archiveFailedPage(ctx, entity, jobID, offset, window, cause)
}

// failedPageRecord is the archive payload for one skipped page.
type failedPageRecord struct {
	JobID    string    `json:"job_id"`
	Entity   string    `json:"entity"`
	Offset   int64     `json:"offset"`
	Limit    int64     `json:"limit"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

func (e *Engine) archiveFailedPage(ctx context.Context, entity domain.Entity, jobID string, offset, window int64, cause error) {
	if e.archive == nil {
		return
	}

	record := failedPageRecord{
		JobID:    jobID,
		Entity:   entity.Name,
		Offset:   offset,
		Limit:    window,
		Error:    cause.Error(),
		FailedAt: time.Now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		e.log(ctx).WithError(err).Error("Failed to marshal failed-page record")
		return
	}

	key := fmt.Sprintf("failed-pages/%s/%012d.json", jobID, offset)
	if err := e.archive.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		e.log(ctx).WithField("key", key).WithError(err).Error("Failed to archive failed page")
	}
}

// pageDelay sleeps the configured inter-page delay, respecting cancellation.
func (e *Engine) pageDelay(ctx context.Context) {
	if e.cfg.PageDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(e.cfg.PageDelay):
	}
}

func percent(processed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(processed) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Status returns the ledger entry for a job. The read has no side effects.
func (e *Engine) Status(ctx context.Context, jobID string) (*domain.SyncJob, error) {
	return e.ledger.Get(ctx, jobID)
}

// ControlAction is a client-requested job control operation.
type ControlAction string

const (
	ActionPause  ControlAction = "pause"
	ActionResume ControlAction = "resume"
	ActionStop   ControlAction = "stop"
)

// Control applies a pause/resume/stop request. Control is cooperative: it
// sets a flag the engine observes between pages. A request against a job
// that is already terminal is a no-op acknowledged with the job's actual
// status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job to control.
//   - action: pause, resume, or stop.
//
// Returns:
//   - *domain.SyncJob: the ledger entry after the flag write.
//   - error: ErrJobNotFound or an unknown action.
func (e *Engine) Control(ctx context.Context, jobID string, action ControlAction) (*domain.SyncJob, error) {
	job, err := e.ledger.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	switch action {
	case ActionPause:
		err = e.ledger.RequestPause(ctx, jobID)
	case ActionResume:
		err = e.ledger.RequestResume(ctx, jobID)
	case ActionStop:
		err = e.ledger.RequestStop(ctx, jobID)
	default:
		return nil, fmt.Errorf("unknown control action: %q", action)
	}
	if err != nil {
		return nil, err
	}

	return e.ledger.Get(ctx, jobID)
}
