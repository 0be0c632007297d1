package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marcusv/ionbridge/internal/domain"
	"github.com/marcusv/ionbridge/internal/logger"
	"github.com/marcusv/ionbridge/internal/repository"
)

// fakeRemote serves a deterministic dataset of n rows, with optional
// per-offset failures.
type fakeRemote struct {
	count    int64
	countErr error
	pages    func(offset, limit int64) ([]domain.RawRow, error)
}

func (f *fakeRemote) Count(ctx context.Context, sql string) (int64, error) {
	return f.count, f.countErr
}

func (f *fakeRemote) RunQuery(ctx context.Context, sql string, offset, limit int64) ([]domain.RawRow, error) {
	return f.pages(offset, limit)
}

// datasetPages returns a page function over a dataset of size rows with
// sequential keys.
func datasetPages(size int64) func(offset, limit int64) ([]domain.RawRow, error) {
	return func(offset, limit int64) ([]domain.RawRow, error) {
		if offset >= size {
			return nil, nil
		}
		n := limit
		if remaining := size - offset; remaining < n {
			n = remaining
		}
		rows := make([]domain.RawRow, n)
		for i := int64(0); i < n; i++ {
			rows[i] = domain.RawRow{
				"WHSEID":        "wmwhse1",
				"TASKDETAILKEY": fmt.Sprintf("T%06d", offset+i),
			}
		}
		return rows, nil
	}
}

// fakeLedger is an in-memory job ledger. done closes when the job reaches a
// terminal status.
type fakeLedger struct {
	mu          sync.Mutex
	job         *domain.SyncJob
	done        chan struct{}
	finished    bool
	setTotalErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{done: make(chan struct{})}
}

func (l *fakeLedger) snapshot() domain.SyncJob {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.job
}

func (l *fakeLedger) Create(ctx context.Context, job *domain.SyncJob) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	copied := *job
	l.job = &copied
	return nil
}

func (l *fakeLedger) Get(ctx context.Context, jobID string) (*domain.SyncJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.job == nil || l.job.JobID != jobID {
		return nil, repository.ErrJobNotFound
	}
	copied := *l.job
	return &copied, nil
}

func (l *fakeLedger) SetTotal(ctx context.Context, jobID string, total int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.setTotalErr != nil {
		return l.setTotalErr
	}
	l.job.TotalRecords = total
	return nil
}

func (l *fakeLedger) Advance(ctx context.Context, jobID string, delta repository.Delta) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.job.ProcessedRecords += delta.Processed
	l.job.InsertedRecords += delta.Inserted
	l.job.UpdatedRecords += delta.Updated
	l.job.ErrorRecords += delta.Errors
	l.job.CurrentRecord = delta.CurrentRecord
	l.job.CurrentBatch = delta.CurrentBatch
	l.job.PercentComplete = delta.Percent
	l.job.LastUpdated = time.Now()
	return nil
}

func (l *fakeLedger) AppendError(ctx context.Context, jobID, msg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.job.Errors = append(l.job.Errors, msg)
	return nil
}

func (l *fakeLedger) SetStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.job.Status = status
	if status == domain.JobStatusRunning {
		l.job.PauseRequested = false
	}
	if status.Terminal() && !l.finished {
		l.finished = true
		close(l.done)
	}
	return nil
}

func (l *fakeLedger) RequestPause(ctx context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.job.PauseRequested = true
	return nil
}

func (l *fakeLedger) RequestResume(ctx context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.job.PauseRequested = false
	return nil
}

func (l *fakeLedger) RequestStop(ctx context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.job.StopRequested = true
	return nil
}

// fakeWriter records what was written and reports every document as an
// insert.
type fakeWriter struct {
	mu      sync.Mutex
	written int64
	err     error
}

func (w *fakeWriter) BulkUpsert(ctx context.Context, collection string, docs []domain.Document, keyFields []string) (*repository.WriteResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	w.written += int64(len(docs))
	return &repository.WriteResult{Inserted: int64(len(docs))}, nil
}

func (w *fakeWriter) total() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func newTestEngine(remote RemoteClient, ledger Ledger, writer DocumentWriter) *Engine {
	log := logger.New(&logger.Config{Level: "error", Output: io.Discard})
	return NewEngine(remote, ledger, writer, nil, log, EngineConfig{
		DefaultBatchSize:     500,
		DefaultRecordCeiling: 10000,
		PausePollInterval:    5 * time.Millisecond,
	})
}

func waitDone(t *testing.T, led *fakeLedger) {
	t.Helper()
	select {
	case <-led.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job to finish")
	}
}

func startParams(batch, ceiling int64) StartParams {
	return StartParams{
		Entity:        "taskdetail",
		WarehouseID:   "wmwhse1",
		BatchSize:     batch,
		RecordCeiling: ceiling,
	}
}

func TestEngineCompletesDataset(t *testing.T) {
	remote := &fakeRemote{count: 3, pages: datasetPages(3)}
	led := newFakeLedger()
	writer := &fakeWriter{}
	engine := newTestEngine(remote, led, writer)

	result, err := engine.Start(context.Background(), startParams(2, 100))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if result.TotalRecords != 3 {
		t.Errorf("TotalRecords = %d, want 3", result.TotalRecords)
	}

	waitDone(t, led)
	job := led.snapshot()

	if job.Status != domain.JobStatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.ProcessedRecords != 3 {
		t.Errorf("processed = %d, want 3", job.ProcessedRecords)
	}
	if job.InsertedRecords != 3 {
		t.Errorf("inserted = %d, want 3", job.InsertedRecords)
	}
	if job.ErrorRecords != 0 {
		t.Errorf("errors = %d, want 0", job.ErrorRecords)
	}
	if job.CurrentBatch != 2 {
		t.Errorf("batches = %d, want 2", job.CurrentBatch)
	}
	if job.PercentComplete != 100 {
		t.Errorf("percent = %v, want 100", job.PercentComplete)
	}
	if writer.total() != 3 {
		t.Errorf("written = %d, want 3", writer.total())
	}
}

func TestEngineCountFailureIsFatal(t *testing.T) {
	remote := &fakeRemote{countErr: errors.New("table offline")}
	led := newFakeLedger()
	engine := newTestEngine(remote, led, &fakeWriter{})

	_, err := engine.Start(context.Background(), startParams(2, 100))
	if !errors.Is(err, ErrCountQuery) {
		t.Fatalf("Start() error = %v, want ErrCountQuery", err)
	}

	job := led.snapshot()
	if job.Status != domain.JobStatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if len(job.Errors) != 1 {
		t.Errorf("errors recorded = %d, want 1", len(job.Errors))
	}
}

func TestEngineSkipsPoisonPage(t *testing.T) {
	pages := datasetPages(10)
	remote := &fakeRemote{
		count: 10,
		pages: func(offset, limit int64) ([]domain.RawRow, error) {
			if offset == 3 {
				return nil, errors.New("remote choked on this window")
			}
			return pages(offset, limit)
		},
	}
	led := newFakeLedger()
	writer := &fakeWriter{}
	engine := newTestEngine(remote, led, writer)

	if _, err := engine.Start(context.Background(), startParams(3, 100)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, led)
	job := led.snapshot()

	// Pages: 0-2 ok, 3-5 failed, 6-8 ok, 9 ok. The failed window is counted
	// as errors and the loop carries on past it.
	if job.Status != domain.JobStatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.ProcessedRecords != 7 {
		t.Errorf("processed = %d, want 7", job.ProcessedRecords)
	}
	if job.ErrorRecords != 3 {
		t.Errorf("error records = %d, want 3", job.ErrorRecords)
	}
	if len(job.Errors) != 1 {
		t.Errorf("error messages = %d, want 1", len(job.Errors))
	}
	if writer.total() != 7 {
		t.Errorf("written = %d, want 7", writer.total())
	}
}

func TestEngineShortPageEndsEarly(t *testing.T) {
	// The count said 1000 but the data shrank to 500 before paging caught up.
	remote := &fakeRemote{count: 1000, pages: datasetPages(500)}
	led := newFakeLedger()
	engine := newTestEngine(remote, led, &fakeWriter{})

	if _, err := engine.Start(context.Background(), startParams(500, 10000)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, led)
	job := led.snapshot()

	if job.Status != domain.JobStatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.ProcessedRecords != 500 {
		t.Errorf("processed = %d, want 500", job.ProcessedRecords)
	}
}

func TestEngineCeilingClampsTotal(t *testing.T) {
	remote := &fakeRemote{count: 100, pages: datasetPages(100)}
	led := newFakeLedger()
	engine := newTestEngine(remote, led, &fakeWriter{})

	result, err := engine.Start(context.Background(), startParams(4, 10))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if result.TotalRecords != 10 {
		t.Errorf("TotalRecords = %d, want 10", result.TotalRecords)
	}

	waitDone(t, led)
	job := led.snapshot()
	if job.ProcessedRecords != 10 {
		t.Errorf("processed = %d, want 10", job.ProcessedRecords)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
}

func TestEngineStopBetweenPages(t *testing.T) {
	led := newFakeLedger()
	pages := datasetPages(10)
	remote := &fakeRemote{count: 10}
	remote.pages = func(offset, limit int64) ([]domain.RawRow, error) {
		if offset == 0 {
			// Request a stop while the first page is in flight; it must be
			// honored before the next page.
			_ = led.RequestStop(context.Background(), led.snapshot().JobID)
		}
		return pages(offset, limit)
	}
	engine := newTestEngine(remote, led, &fakeWriter{})

	if _, err := engine.Start(context.Background(), startParams(2, 100)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, led)
	job := led.snapshot()

	if job.Status != domain.JobStatusStopped {
		t.Errorf("status = %s, want stopped", job.Status)
	}
	if job.ProcessedRecords != 2 {
		t.Errorf("processed = %d, want 2", job.ProcessedRecords)
	}
}

func TestEnginePauseAndResume(t *testing.T) {
	led := newFakeLedger()
	pages := datasetPages(10)
	remote := &fakeRemote{count: 10}
	remote.pages = func(offset, limit int64) ([]domain.RawRow, error) {
		if offset == 0 {
			_ = led.RequestPause(context.Background(), led.snapshot().JobID)
		}
		return pages(offset, limit)
	}
	engine := newTestEngine(remote, led, &fakeWriter{})

	if _, err := engine.Start(context.Background(), startParams(2, 100)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Wait for the engine to observe the pause flag.
	deadline := time.Now().Add(5 * time.Second)
	for led.snapshot().Status != domain.JobStatusPaused {
		if time.Now().After(deadline) {
			t.Fatal("job never paused")
		}
		time.Sleep(time.Millisecond)
	}

	paused := led.snapshot()
	if paused.ProcessedRecords != 2 {
		t.Errorf("processed while pausing = %d, want 2", paused.ProcessedRecords)
	}

	if err := led.RequestResume(context.Background(), paused.JobID); err != nil {
		t.Fatal(err)
	}

	waitDone(t, led)
	job := led.snapshot()
	if job.Status != domain.JobStatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.ProcessedRecords != 10 {
		t.Errorf("processed = %d, want 10", job.ProcessedRecords)
	}
}

func TestEngineWriterFailureCountsPageAsErrors(t *testing.T) {
	remote := &fakeRemote{count: 4, pages: datasetPages(4)}
	led := newFakeLedger()
	engine := newTestEngine(remote, led, &fakeWriter{err: errors.New("write concern unsatisfied")})

	if _, err := engine.Start(context.Background(), startParams(2, 100)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, led)
	job := led.snapshot()

	if job.Status != domain.JobStatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.ProcessedRecords != 0 {
		t.Errorf("processed = %d, want 0", job.ProcessedRecords)
	}
	if job.ErrorRecords != 4 {
		t.Errorf("error records = %d, want 4", job.ErrorRecords)
	}
	if len(job.Errors) != 2 {
		t.Errorf("error messages = %d, want 2", len(job.Errors))
	}
}

func TestStartValidation(t *testing.T) {
	engine := newTestEngine(&fakeRemote{count: 1, pages: datasetPages(1)}, newFakeLedger(), &fakeWriter{})

	if _, err := engine.Start(context.Background(), StartParams{Entity: "inventory", WarehouseID: "w1"}); err == nil {
		t.Error("expected error for unknown entity")
	}
	if _, err := engine.Start(context.Background(), StartParams{Entity: "orders"}); err == nil {
		t.Error("expected error for missing warehouse")
	}
}

func TestControlOnTerminalJobIsNoop(t *testing.T) {
	led := newFakeLedger()
	job := &domain.SyncJob{JobID: "job-done", Status: domain.JobStatusCompleted}
	if err := led.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	engine := newTestEngine(&fakeRemote{}, led, &fakeWriter{})

	got, err := engine.Control(context.Background(), "job-done", ActionStop)
	if err != nil {
		t.Fatalf("Control() error = %v", err)
	}
	if got.Status != domain.JobStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if led.snapshot().StopRequested {
		t.Error("stop flag set on a terminal job")
	}
}

func TestControlUnknownJob(t *testing.T) {
	engine := newTestEngine(&fakeRemote{}, newFakeLedger(), &fakeWriter{})
	if _, err := engine.Control(context.Background(), "missing", ActionPause); !errors.Is(err, repository.ErrJobNotFound) {
		t.Errorf("Control() error = %v, want ErrJobNotFound", err)
	}
}

// partialWriter applies all but one document per page and reports the rest
// through a bulk write error, the way the store surfaces a write exception
// with partial counts.
type partialWriter struct{}

func (w *partialWriter) BulkUpsert(ctx context.Context, collection string, docs []domain.Document, keyFields []string) (*repository.WriteResult, error) {
	if len(docs) == 0 {
		return &repository.WriteResult{}, nil
	}
	return &repository.WriteResult{Inserted: int64(len(docs)) - 1}, errors.New("duplicate key on one document")
}

func TestEnginePartialBulkWriteCountsFailedRemainder(t *testing.T) {
	remote := &fakeRemote{count: 2, pages: datasetPages(2)}
	led := newFakeLedger()
	engine := newTestEngine(remote, led, &partialWriter{})

	if _, err := engine.Start(context.Background(), startParams(2, 100)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, led)
	job := led.snapshot()

	if job.Status != domain.JobStatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.ProcessedRecords != 2 {
		t.Errorf("processed = %d, want 2", job.ProcessedRecords)
	}
	if job.InsertedRecords != 1 {
		t.Errorf("inserted = %d, want 1", job.InsertedRecords)
	}
	if job.ErrorRecords != 1 {
		t.Errorf("error records = %d, want 1", job.ErrorRecords)
	}
	if len(job.Errors) != 1 {
		t.Errorf("error messages = %d, want 1", len(job.Errors))
	}
}

func TestEngineTotalUpdateFailureFinalizesJob(t *testing.T) {
	led := newFakeLedger()
	led.setTotalErr = errors.New("ledger unavailable")
	engine := newTestEngine(&fakeRemote{count: 5, pages: datasetPages(5)}, led, &fakeWriter{})

	if _, err := engine.Start(context.Background(), startParams(2, 100)); err == nil {
		t.Fatal("expected error when the total cannot be recorded")
	}
	if got := led.snapshot().Status; got != domain.JobStatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
}

// monotonicLedger asserts on every Advance that counters only grow and that
// processed never exceeds the planned total.
type monotonicLedger struct {
	*fakeLedger
	t *testing.T
}

func (l *monotonicLedger) Advance(ctx context.Context, jobID string, delta repository.Delta) error {
	if delta.Processed < 0 || delta.Inserted < 0 || delta.Updated < 0 || delta.Errors < 0 {
		l.t.Errorf("negative delta: %+v", delta)
	}
	before := l.snapshot()
	err := l.fakeLedger.Advance(ctx, jobID, delta)
	after := l.snapshot()
	if after.ProcessedRecords < before.ProcessedRecords {
		l.t.Errorf("processed decreased: %d -> %d", before.ProcessedRecords, after.ProcessedRecords)
	}
	if after.ProcessedRecords > after.TotalRecords {
		l.t.Errorf("processed %d exceeds total %d", after.ProcessedRecords, after.TotalRecords)
	}
	return err
}

func TestEngineCountersMonotonicRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 25; i++ {
		batch := rng.Int63n(1000) + 1
		ceiling := rng.Int63n(10000) + 1
		count := rng.Int63n(3000) + 1
		size := rng.Int63n(count + 1) // data may shrink after counting
		failEvery := rng.Int63n(5)    // 0 disables page failures

		t.Run(fmt.Sprintf("batch=%d ceiling=%d count=%d size=%d", batch, ceiling, count, size), func(t *testing.T) {
			pages := datasetPages(size)
			remote := &fakeRemote{count: count}
			remote.pages = func(offset, limit int64) ([]domain.RawRow, error) {
				if failEvery > 0 && (offset/batch)%failEvery == failEvery-1 {
					return nil, errors.New("window unavailable")
				}
				return pages(offset, limit)
			}

			led := &monotonicLedger{fakeLedger: newFakeLedger(), t: t}
			engine := newTestEngine(remote, led, &fakeWriter{})

			if _, err := engine.Start(context.Background(), startParams(batch, ceiling)); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			waitDone(t, led.fakeLedger)
			job := led.snapshot()

			if !job.Status.Terminal() {
				t.Errorf("status = %s, want terminal", job.Status)
			}
			if job.ProcessedRecords > job.TotalRecords {
				t.Errorf("processed %d exceeds total %d", job.ProcessedRecords, job.TotalRecords)
			}
			if job.ProcessedRecords+job.ErrorRecords > job.TotalRecords {
				t.Errorf("processed %d + errors %d exceeds total %d",
					job.ProcessedRecords, job.ErrorRecords, job.TotalRecords)
			}
		})
	}
}

// syncBuffer is a goroutine-safe log capture target.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestEngineRunLogsThroughInjectedLogger(t *testing.T) {
	buf := &syncBuffer{}
	log := logger.New(&logger.Config{Level: "info", Format: "json", Output: buf})

	remote := &fakeRemote{count: 1, pages: datasetPages(1)}
	led := newFakeLedger()
	engine := NewEngine(remote, led, &fakeWriter{}, nil, log, EngineConfig{
		DefaultBatchSize:     10,
		DefaultRecordCeiling: 100,
		PausePollInterval:    5 * time.Millisecond,
	})

	result, err := engine.Start(context.Background(), startParams(1, 10))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, led)

	// The completion log lands just after the ledger finalizes.
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(buf.String(), "Sync job finished") {
		if time.Now().After(deadline) {
			t.Fatal("completion log never reached the injected logger")
		}
		time.Sleep(time.Millisecond)
	}
	if !strings.Contains(buf.String(), result.JobID) {
		t.Errorf("log output missing job id %s", result.JobID)
	}
}
