package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/MerlinStacks/overseek-sub004/internal/database"
	"github.com/MerlinStacks/overseek-sub004/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("Failed to access sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := gdb.AutoMigrate(&models.SyncJob{}, &models.SyncJobRun{}); err != nil {
		t.Fatalf("Failed to migrate test schema: %v", err)
	}

	db := &database.DB{DB: gdb}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// fixedCounter reports a constant work estimate.
type fixedCounter struct{ count int64 }

func (c fixedCounter) CountBOMsForAccount(ctx context.Context, accountID int64) (int64, error) {
	return c.count, nil
}

// stubExecutor lets tests script the run outcome and observe execution.
type stubExecutor struct {
	stats   *RunStats
	err     error
	started chan string
	release chan struct{}
	waitCtx bool
}

func (e *stubExecutor) Execute(ctx context.Context, job *models.SyncJob, progress ProgressFunc) (*RunStats, error) {
	if e.started != nil {
		e.started <- job.JobID
	}
	if e.waitCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.release != nil {
		<-e.release
	}
	return e.stats, e.err
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestBulkJobIDIsDeterministic(t *testing.T) {
	if BulkJobID(7) != "bulk_sync:7" {
		t.Errorf("Unexpected job id: %s", BulkJobID(7))
	}
	if BulkJobID(7) != BulkJobID(7) {
		t.Error("Job id must be stable per account")
	}
}

func TestEnqueueBulkSyncDeduplicates(t *testing.T) {
	db := newTestDB(t)
	// Workers never started: the job stays waiting in the DB.
	d := NewDispatcher(db, &stubExecutor{}, fixedCounter{count: 3}, nil, 1)
	ctx := context.Background()

	first, err := d.EnqueueBulkSync(ctx, 1)
	if err != nil {
		t.Fatalf("EnqueueBulkSync failed: %v", err)
	}
	if first.Status != StatusQueued {
		t.Fatalf("Expected queued, got %s", first.Status)
	}
	if first.EstimatedCount != 3 {
		t.Errorf("Expected estimate 3, got %d", first.EstimatedCount)
	}

	// Second enqueue while the first is live joins it instead of
	// double-queuing.
	second, err := d.EnqueueBulkSync(ctx, 1)
	if err != nil {
		t.Fatalf("EnqueueBulkSync failed: %v", err)
	}
	if second.Status != StatusAlreadyRunning {
		t.Errorf("Expected already_running, got %s", second.Status)
	}
	if second.JobID != first.JobID {
		t.Errorf("Dedup must return the same job id: %s vs %s", first.JobID, second.JobID)
	}

	// Exactly one row exists.
	var count int64
	db.Model(&models.SyncJob{}).Where("account_id = ?", 1).Count(&count)
	if count != 1 {
		t.Errorf("Expected 1 job row, got %d", count)
	}

	// A different account is unaffected.
	other, err := d.EnqueueBulkSync(ctx, 2)
	if err != nil {
		t.Fatalf("EnqueueBulkSync failed: %v", err)
	}
	if other.Status != StatusQueued {
		t.Errorf("Expected queued for other account, got %s", other.Status)
	}
}

func TestEnqueueBulkSyncSurfacesInsertFailure(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(db, &stubExecutor{}, fixedCounter{count: 1}, nil, 1)

	// Refuse every insert so the enqueue cannot create its row. That is a
	// real failure, not a lost race, and must come back as an error.
	if err := db.Exec(`CREATE TRIGGER refuse_job_insert BEFORE INSERT ON sync_jobs
		BEGIN SELECT RAISE(ABORT, 'insert refused'); END`).Error; err != nil {
		t.Fatalf("Failed to install trigger: %v", err)
	}

	result, err := d.EnqueueBulkSync(context.Background(), 1)
	if err == nil {
		t.Fatalf("Expected an error from a refused insert, got status %s", result.Status)
	}

	var count int64
	db.Model(&models.SyncJob{}).Where("account_id = ?", 1).Count(&count)
	if count != 0 {
		t.Errorf("Expected no job rows, got %d", count)
	}
}

func TestEnqueueBulkSyncReusesFinishedRow(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(db, &stubExecutor{}, fixedCounter{count: 1}, nil, 1)
	ctx := context.Background()

	if _, err := d.EnqueueBulkSync(ctx, 1); err != nil {
		t.Fatalf("EnqueueBulkSync failed: %v", err)
	}

	// Simulate a finished run.
	db.Model(&models.SyncJob{}).
		Where("job_id = ?", BulkJobID(1)).
		Update("state", models.JobStateCompleted)

	result, err := d.EnqueueBulkSync(ctx, 1)
	if err != nil {
		t.Fatalf("EnqueueBulkSync failed: %v", err)
	}
	if result.Status != StatusQueued {
		t.Errorf("A finished job must be re-enqueueable, got %s", result.Status)
	}

	var job models.SyncJob
	if err := db.First(&job, "job_id = ?", BulkJobID(1)).Error; err != nil {
		t.Fatalf("Failed to load job: %v", err)
	}
	if job.State != models.JobStateWaiting {
		t.Errorf("Expected waiting after re-enqueue, got %s", job.State)
	}
	if job.ItemsDone != 0 || job.Progress != 0 {
		t.Errorf("Progress must reset on re-enqueue: done=%d progress=%f", job.ItemsDone, job.Progress)
	}
}

func TestCancelWaitingJob(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(db, &stubExecutor{}, fixedCounter{}, nil, 1)
	ctx := context.Background()

	if _, err := d.EnqueueBulkSync(ctx, 1); err != nil {
		t.Fatalf("EnqueueBulkSync failed: %v", err)
	}

	result, err := d.CancelBulkSync(ctx, 1)
	if err != nil {
		t.Fatalf("CancelBulkSync failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("Expected cancellation to succeed: %s", result.Message)
	}

	status, err := d.GetBulkSyncStatus(ctx, 1)
	if err != nil {
		t.Fatalf("GetBulkSyncStatus failed: %v", err)
	}
	if status.IsSyncing {
		t.Error("Cancelled job must not report as syncing")
	}

	// Cancelling again reports the terminal state instead of succeeding.
	again, err := d.CancelBulkSync(ctx, 1)
	if err != nil {
		t.Fatalf("CancelBulkSync failed: %v", err)
	}
	if again.Success {
		t.Error("Second cancel must not succeed")
	}
}

func TestCancelWithoutJob(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(db, &stubExecutor{}, fixedCounter{}, nil, 1)

	result, err := d.CancelBulkSync(context.Background(), 42)
	if err != nil {
		t.Fatalf("CancelBulkSync failed: %v", err)
	}
	if result.Success {
		t.Error("Cancelling a nonexistent job must not succeed")
	}
}

func TestJobLifecycle(t *testing.T) {
	db := newTestDB(t)
	exec := &stubExecutor{stats: &RunStats{Synced: 2, Skipped: 1}}
	d := NewDispatcher(db, exec, fixedCounter{count: 3}, nil, 1)
	if err := d.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	if _, err := d.EnqueueBulkSync(context.Background(), 1); err != nil {
		t.Fatalf("EnqueueBulkSync failed: %v", err)
	}

	waitFor(t, "job completion", func() bool {
		var job models.SyncJob
		if err := db.First(&job, "job_id = ?", BulkJobID(1)).Error; err != nil {
			return false
		}
		return job.State == models.JobStateCompleted
	})

	// The execution left a history row.
	var runs []models.SyncJobRun
	if err := db.Where("account_id = ?", 1).Find(&runs).Error; err != nil {
		t.Fatalf("Failed to load runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}
	if runs[0].Status != "success" {
		t.Errorf("Expected success run, got %s", runs[0].Status)
	}
	if runs[0].Synced != 2 || runs[0].Skipped != 1 {
		t.Errorf("Run stats wrong: %+v", runs[0])
	}
}

func TestJobPartialFailure(t *testing.T) {
	db := newTestDB(t)
	exec := &stubExecutor{stats: &RunStats{
		Synced: 1,
		Errors: 1,
		ItemErrors: []ItemError{
			{BOMID: 9, Err: "remote refused"},
		},
	}}
	d := NewDispatcher(db, exec, fixedCounter{count: 2}, nil, 1)
	if err := d.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	if _, err := d.EnqueueBulkSync(context.Background(), 1); err != nil {
		t.Fatalf("EnqueueBulkSync failed: %v", err)
	}

	waitFor(t, "job completion", func() bool {
		var run models.SyncJobRun
		return db.First(&run, "account_id = ?", 1).Error == nil
	})

	var run models.SyncJobRun
	if err := db.First(&run, "account_id = ?", 1).Error; err != nil {
		t.Fatalf("Failed to load run: %v", err)
	}
	// One item failing does not fail the job.
	if run.Status != "partial" {
		t.Errorf("Expected partial run, got %s", run.Status)
	}
	if run.Errors != 1 {
		t.Errorf("Expected 1 item error, got %d", run.Errors)
	}
}

func TestCooperativeCancellation(t *testing.T) {
	db := newTestDB(t)
	exec := &stubExecutor{started: make(chan string, 1), waitCtx: true}
	d := NewDispatcher(db, exec, fixedCounter{count: 5}, nil, 1)
	if err := d.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	ctx := context.Background()
	if _, err := d.EnqueueBulkSync(ctx, 1); err != nil {
		t.Fatalf("EnqueueBulkSync failed: %v", err)
	}

	// Wait until the executor is actually running, then cancel mid-flight.
	select {
	case <-exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("Executor never started")
	}

	result, err := d.CancelBulkSync(ctx, 1)
	if err != nil {
		t.Fatalf("CancelBulkSync failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("Expected cancellation to succeed: %s", result.Message)
	}

	waitFor(t, "cancelled run row", func() bool {
		var run models.SyncJobRun
		return db.First(&run, "account_id = ?", 1).Error == nil
	})

	var run models.SyncJobRun
	if err := db.First(&run, "account_id = ?", 1).Error; err != nil {
		t.Fatalf("Failed to load run: %v", err)
	}
	if run.Status != "cancelled" {
		t.Errorf("Expected cancelled run, got %s", run.Status)
	}

	var job models.SyncJob
	if err := db.First(&job, "job_id = ?", BulkJobID(1)).Error; err != nil {
		t.Fatalf("Failed to load job: %v", err)
	}
	if job.State != models.JobStateCancelled {
		t.Errorf("Expected cancelled state, got %s", job.State)
	}
}

func TestFinishJobKeepsLateCancellation(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(db, &stubExecutor{}, fixedCounter{}, nil, 1)

	// The job was cancelled after the executor had already returned, so
	// the row is no longer active when finishJob runs. The cancellation
	// must win over the executor's clean result.
	job := models.SyncJob{
		JobID:     BulkJobID(1),
		AccountID: 1,
		Kind:      models.JobKindBulkSync,
		State:     models.JobStateCancelled,
	}
	if err := db.Create(&job).Error; err != nil {
		t.Fatalf("Failed to seed job: %v", err)
	}

	d.finishJob(&job, time.Now().UTC(), &RunStats{Synced: 3}, nil, nil)

	var current models.SyncJob
	if err := db.First(&current, "job_id = ?", job.JobID).Error; err != nil {
		t.Fatalf("Failed to load job: %v", err)
	}
	if current.State != models.JobStateCancelled {
		t.Errorf("Expected state to stay cancelled, got %s", current.State)
	}

	var run models.SyncJobRun
	if err := db.First(&run, "account_id = ?", 1).Error; err != nil {
		t.Fatalf("Failed to load run: %v", err)
	}
	if run.Status != "cancelled" {
		t.Errorf("Expected cancelled run, got %s", run.Status)
	}
}

func TestEnqueueBOMPushIsNotDeduplicated(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(db, &stubExecutor{}, fixedCounter{}, nil, 1)
	ctx := context.Background()

	id1, err := d.EnqueueBOMPush(ctx, 1, 10)
	if err != nil {
		t.Fatalf("EnqueueBOMPush failed: %v", err)
	}
	id2, err := d.EnqueueBOMPush(ctx, 1, 10)
	if err != nil {
		t.Fatalf("EnqueueBOMPush failed: %v", err)
	}
	if id1 == id2 {
		t.Error("Push jobs are cheap and retry-safe, each enqueue is its own job")
	}
}
