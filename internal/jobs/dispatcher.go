package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/MerlinStacks/overseek-sub004/internal/database"
	"github.com/MerlinStacks/overseek-sub004/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrJobNotFound is returned when no job exists for the requested scope.
var ErrJobNotFound = errors.New("sync job not found")

var deadStates = []models.SyncJobState{
	models.JobStateCompleted,
	models.JobStateFailed,
	models.JobStateCancelled,
}

var liveStates = []models.SyncJobState{
	models.JobStateWaiting,
	models.JobStateActive,
	models.JobStateDelayed,
}

// Broadcaster pushes job events to watching operators. Nil-safe via the
// dispatcher's broadcast helper.
type Broadcaster interface {
	BroadcastAccount(accountID int64, message interface{})
}

// WorkCounter estimates how many units a bulk job will process.
type WorkCounter interface {
	CountBOMsForAccount(ctx context.Context, accountID int64) (int64, error)
}

// ProgressFunc reports fractional job progress between units of work.
type ProgressFunc func(done, total int)

// ItemError is one failed unit inside a job run.
type ItemError struct {
	BOMID int64  `json:"bomId"`
	Err   string `json:"error"`
}

// RunStats summarizes one job execution for the persisted history.
type RunStats struct {
	Synced     int
	Skipped    int
	Errors     int
	ItemErrors []ItemError
}

// Executor performs the actual sync work for one job. It must check the
// context between units of work so cancellation takes effect mid-run.
type Executor interface {
	Execute(ctx context.Context, job *models.SyncJob, progress ProgressFunc) (*RunStats, error)
}

// BOMPushPayload is the payload of a single-BOM push job.
type BOMPushPayload struct {
	BOMID int64 `json:"bomId"`
}

// Enqueue statuses returned to callers.
const (
	StatusQueued         = "queued"
	StatusAlreadyRunning = "already_running"
)

// EnqueueResult reports the outcome of a bulk enqueue.
type EnqueueResult struct {
	Status         string `json:"status"`
	JobID          string `json:"jobId"`
	EstimatedCount int64  `json:"estimatedCount"`
}

// BulkStatus reports the state of an account's bulk sync.
type BulkStatus struct {
	IsSyncing bool            `json:"isSyncing"`
	State     string          `json:"state,omitempty"`
	Job       *models.SyncJob `json:"job,omitempty"`
}

// CancelResult reports the outcome of a cancellation request.
type CancelResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// JobEvent is broadcast to watching operators on every state or progress
// change.
type JobEvent struct {
	Type       string  `json:"type"`
	JobID      string  `json:"jobId"`
	AccountID  int64   `json:"accountId"`
	Kind       string  `json:"kind"`
	State      string  `json:"state"`
	ItemsDone  int     `json:"itemsDone"`
	ItemsTotal int     `json:"itemsTotal"`
	Progress   float64 `json:"progress"`
}

// BulkJobID is the deterministic job ID for an account's bulk sync. One
// live bulk job per account; dedup is a compare-and-swap on this row's
// state, not incidental queue behavior.
func BulkJobID(accountID int64) string {
	return fmt.Sprintf("bulk_sync:%d", accountID)
}

// Dispatcher persists sync jobs and runs them on a small worker pool.
// Bulk jobs are deduplicated per account; every execution leaves a
// SyncJobRun history row.
type Dispatcher struct {
	db       *database.DB
	executor Executor
	counter  WorkCounter
	hub      Broadcaster

	workers  int
	queue    chan string
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	running bool
}

func NewDispatcher(db *database.DB, executor Executor, counter WorkCounter, hub Broadcaster, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{
		db:       db,
		executor: executor,
		counter:  counter,
		hub:      hub,
		workers:  workers,
		queue:    make(chan string, 256),
		stopChan: make(chan struct{}),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start launches the worker pool and requeues jobs left waiting by a
// previous process.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	d.mu.Unlock()

	log.Printf("🔄 Sync dispatcher starting (%d workers)...", d.workers)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	go d.requeueOrphans()
	return nil
}

// Stop drains the workers. Active jobs are cancelled.
func (d *Dispatcher) Stop() {
	close(d.stopChan)

	d.mu.Lock()
	for _, cancel := range d.cancels {
		cancel()
	}
	d.mu.Unlock()

	d.wg.Wait()
	log.Println("🛑 Sync dispatcher stopped")
}

// requeueOrphans re-enqueues waiting jobs found in the DB at startup.
func (d *Dispatcher) requeueOrphans() {
	var jobs []models.SyncJob
	if err := d.db.Where("state = ?", models.JobStateWaiting).Find(&jobs).Error; err != nil {
		log.Printf("⚠️ Could not requeue waiting jobs: %v", err)
		return
	}
	for _, job := range jobs {
		d.enqueue(job.JobID)
	}
	if len(jobs) > 0 {
		log.Printf("🔄 Requeued %d waiting sync jobs", len(jobs))
	}
}

// EnqueueBOMPush schedules a single-BOM recompute-and-push. Cheap,
// retry-safe, not deduplicated.
func (d *Dispatcher) EnqueueBOMPush(ctx context.Context, accountID, bomID int64) (string, error) {
	payload, err := json.Marshal(BOMPushPayload{BOMID: bomID})
	if err != nil {
		return "", fmt.Errorf("marshal push payload: %w", err)
	}

	job := models.SyncJob{
		JobID:      "bom_push:" + uuid.New().String(),
		AccountID:  accountID,
		Kind:       models.JobKindBOMPush,
		State:      models.JobStateWaiting,
		Payload:    payload,
		ItemsTotal: 1,
	}
	if err := d.db.WithContext(ctx).Create(&job).Error; err != nil {
		return "", fmt.Errorf("persist push job: %w", err)
	}

	d.enqueue(job.JobID)
	return job.JobID, nil
}

// EnqueueBulkSync schedules a full account sync. While a bulk job for the
// account is waiting/active/delayed the existing job is returned with
// status already_running instead of double-enqueuing.
func (d *Dispatcher) EnqueueBulkSync(ctx context.Context, accountID int64) (*EnqueueResult, error) {
	estimate, err := d.counter.CountBOMsForAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("estimate bulk sync: %w", err)
	}

	jobID := BulkJobID(accountID)
	result := &EnqueueResult{JobID: jobID, EstimatedCount: estimate}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.SyncJob
		err := tx.First(&existing, "job_id = ?", jobID).Error
		switch {
		case err == nil:
			if existing.State.IsLive() {
				result.Status = StatusAlreadyRunning
				return nil
			}
			// Reset the finished row back to waiting. The state guard
			// makes this a compare-and-swap: if a concurrent enqueue
			// already flipped it, we join that job instead.
			res := tx.Model(&models.SyncJob{}).
				Where("job_id = ? AND state IN ?", jobID, deadStates).
				Updates(map[string]interface{}{
					"state":       models.JobStateWaiting,
					"items_total": estimate,
					"items_done":  0,
					"progress":    0,
					"last_error":  "",
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				result.Status = StatusAlreadyRunning
				return nil
			}
			result.Status = StatusQueued
			return nil

		case errors.Is(err, gorm.ErrRecordNotFound):
			job := models.SyncJob{
				JobID:      jobID,
				AccountID:  accountID,
				Kind:       models.JobKindBulkSync,
				State:      models.JobStateWaiting,
				ItemsTotal: int(estimate),
			}
			if err := tx.Create(&job).Error; err != nil {
				// A duplicate key means a concurrent enqueue won the
				// race; anything else is a real failure.
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					result.Status = StatusAlreadyRunning
					return nil
				}
				return fmt.Errorf("create bulk job: %w", err)
			}
			result.Status = StatusQueued
			return nil

		default:
			return err
		}
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue bulk sync: %w", err)
	}

	if result.Status == StatusQueued {
		d.enqueue(jobID)
	}
	return result, nil
}

// GetBulkSyncStatus reports whether an account's bulk sync is live.
func (d *Dispatcher) GetBulkSyncStatus(ctx context.Context, accountID int64) (*BulkStatus, error) {
	var job models.SyncJob
	err := d.db.WithContext(ctx).First(&job, "job_id = ?", BulkJobID(accountID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &BulkStatus{IsSyncing: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bulk job: %w", err)
	}
	return &BulkStatus{
		IsSyncing: job.State.IsLive(),
		State:     string(job.State),
		Job:       &job,
	}, nil
}

// CancelBulkSync cancels an account's bulk job regardless of state: a
// waiting job is dropped before execution, an active one is signalled and
// stops at its next cancellation check.
func (d *Dispatcher) CancelBulkSync(ctx context.Context, accountID int64) (*CancelResult, error) {
	jobID := BulkJobID(accountID)

	var job models.SyncJob
	err := d.db.WithContext(ctx).First(&job, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &CancelResult{Success: false, Message: "no bulk sync job for this account"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bulk job: %w", err)
	}
	if !job.State.IsLive() {
		return &CancelResult{Success: false, Message: fmt.Sprintf("job already %s", job.State)}, nil
	}

	res := d.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("job_id = ? AND state IN ?", jobID, liveStates).
		Update("state", models.JobStateCancelled)
	if res.Error != nil {
		return nil, fmt.Errorf("cancel bulk job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &CancelResult{Success: false, Message: "job finished before it could be cancelled"}, nil
	}

	d.mu.Lock()
	if cancel, ok := d.cancels[jobID]; ok {
		cancel()
	}
	d.mu.Unlock()

	job.State = models.JobStateCancelled
	d.broadcastJob(&job)
	return &CancelResult{Success: true, Message: "sync job cancelled"}, nil
}

// ListRuns returns an account's recent job history, newest first.
func (d *Dispatcher) ListRuns(ctx context.Context, accountID int64, limit int) ([]models.SyncJobRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var runs []models.SyncJobRun
	err := d.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	return runs, nil
}

func (d *Dispatcher) enqueue(jobID string) {
	select {
	case d.queue <- jobID:
	default:
		log.Printf("⚠️ Job queue full, dropping enqueue for %s (still waiting in DB)", jobID)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopChan:
			return
		case jobID := <-d.queue:
			d.runJob(jobID)
		}
	}
}

func (d *Dispatcher) runJob(jobID string) {
	var job models.SyncJob
	if err := d.db.First(&job, "job_id = ?", jobID).Error; err != nil {
		log.Printf("⚠️ Job %s vanished before execution: %v", jobID, err)
		return
	}

	// Claim the job: waiting -> active. Loses gracefully to a concurrent
	// worker or a cancellation that happened while queued.
	res := d.db.Model(&models.SyncJob{}).
		Where("job_id = ? AND state = ?", jobID, models.JobStateWaiting).
		Update("state", models.JobStateActive)
	if res.Error != nil || res.RowsAffected == 0 {
		return
	}
	job.State = models.JobStateActive
	d.broadcastJob(&job)

	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancels[jobID] = cancel
	d.mu.Unlock()
	defer func() {
		cancel()
		d.mu.Lock()
		delete(d.cancels, jobID)
		d.mu.Unlock()
	}()

	started := time.Now().UTC()
	progress := func(done, total int) {
		frac := 0.0
		if total > 0 {
			frac = float64(done) / float64(total)
		}
		d.db.Model(&models.SyncJob{}).
			Where("job_id = ?", jobID).
			Updates(map[string]interface{}{
				"items_done":  done,
				"items_total": total,
				"progress":    frac,
			})
		job.ItemsDone = done
		job.ItemsTotal = total
		job.Progress = frac
		d.broadcastJob(&job)
	}

	stats, execErr := d.executor.Execute(ctx, &job, progress)
	d.finishJob(&job, started, stats, execErr, ctx.Err())
}

func (d *Dispatcher) finishJob(job *models.SyncJob, started time.Time, stats *RunStats, execErr, ctxErr error) {
	if stats == nil {
		stats = &RunStats{}
	}

	finalState := models.JobStateCompleted
	runStatus := "success"
	lastError := ""

	switch {
	case ctxErr != nil || errors.Is(execErr, context.Canceled):
		finalState = models.JobStateCancelled
		runStatus = "cancelled"
	case execErr != nil:
		finalState = models.JobStateFailed
		runStatus = "error"
		lastError = execErr.Error()
	case stats.Errors > 0:
		runStatus = "partial"
	}

	completed := time.Now().UTC()
	// Mirror the claim CAS: only an active job may be finished. If a
	// cancellation flipped the row while Execute was returning, honor it
	// instead of overwriting it with a terminal success.
	res := d.db.Model(&models.SyncJob{}).
		Where("job_id = ? AND state = ?", job.JobID, models.JobStateActive).
		Updates(map[string]interface{}{
			"state":      finalState,
			"last_error": lastError,
		})
	if res.Error == nil && res.RowsAffected == 0 {
		var current models.SyncJob
		if err := d.db.First(&current, "job_id = ?", job.JobID).Error; err == nil &&
			current.State == models.JobStateCancelled {
			finalState = models.JobStateCancelled
			runStatus = "cancelled"
			lastError = ""
		}
	}
	job.State = finalState
	job.LastError = lastError

	itemErrors, _ := json.Marshal(stats.ItemErrors)
	run := models.SyncJobRun{
		JobID:       job.JobID,
		AccountID:   job.AccountID,
		Kind:        job.Kind,
		Status:      runStatus,
		StartedAt:   started,
		CompletedAt: &completed,
		Duration:    int(completed.Sub(started).Milliseconds()),
		Synced:      stats.Synced,
		Skipped:     stats.Skipped,
		Errors:      stats.Errors,
		ErrorDetail: lastError,
		ItemErrors:  itemErrors,
	}
	if err := d.db.Create(&run).Error; err != nil {
		log.Printf("⚠️ Failed to persist run history for %s: %v", job.JobID, err)
	}

	d.broadcastJob(job)
	log.Printf("✅ Job %s finished: %s (synced=%d errors=%d)", job.JobID, runStatus, stats.Synced, stats.Errors)
}

func (d *Dispatcher) broadcastJob(job *models.SyncJob) {
	if d.hub == nil {
		return
	}
	d.hub.BroadcastAccount(job.AccountID, JobEvent{
		Type:       "job_update",
		JobID:      job.JobID,
		AccountID:  job.AccountID,
		Kind:       string(job.Kind),
		State:      string(job.State),
		ItemsDone:  job.ItemsDone,
		ItemsTotal: job.ItemsTotal,
		Progress:   job.Progress,
	})
}
