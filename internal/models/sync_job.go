package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncJobState is the job state machine. Waiting/active/delayed jobs are
// "live": a second bulk enqueue for the same account while one is live is
// rejected with the existing job.
type SyncJobState string

const (
	JobStateWaiting   SyncJobState = "waiting"
	JobStateActive    SyncJobState = "active"
	JobStateDelayed   SyncJobState = "delayed"
	JobStateCompleted SyncJobState = "completed"
	JobStateFailed    SyncJobState = "failed"
	JobStateCancelled SyncJobState = "cancelled"
)

// IsLive reports whether the state blocks a new bulk job for the account.
func (s SyncJobState) IsLive() bool {
	return s == JobStateWaiting || s == JobStateActive || s == JobStateDelayed
}

// SyncJobKind distinguishes single-BOM pushes from bulk account syncs.
type SyncJobKind string

const (
	JobKindBOMPush  SyncJobKind = "bom_push"
	JobKindBulkSync SyncJobKind = "bulk_sync"
)

// SyncJob is the persisted state of a background storefront sync job.
// Bulk jobs use a deterministic JobID per account so re-submission before
// completion is a no-op.
type SyncJob struct {
	JobID     string       `gorm:"primaryKey;size:64" json:"jobId"`
	AccountID int64        `gorm:"index;not null" json:"accountId"`
	Kind      SyncJobKind  `gorm:"size:16;index;not null" json:"kind"`
	State     SyncJobState `gorm:"size:16;index;not null" json:"state"`

	Payload datatypes.JSON `json:"payload,omitempty"`

	ItemsTotal int     `gorm:"default:0" json:"itemsTotal"`
	ItemsDone  int     `gorm:"default:0" json:"itemsDone"`
	Progress   float64 `gorm:"default:0" json:"progress"`

	LastError string `gorm:"type:text" json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (SyncJob) TableName() string {
	return "sync_jobs"
}

// SyncJobRun is the structured history of one job execution: outcome,
// counts and per-item errors, kept for operator review. Distinct from the
// stock audit log.
type SyncJobRun struct {
	ID        int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID     string      `gorm:"size:64;index;not null" json:"jobId"`
	AccountID int64       `gorm:"index;not null" json:"accountId"`
	Kind      SyncJobKind `gorm:"size:16;not null" json:"kind"`
	Status    string      `gorm:"size:16;index;not null" json:"status"` // success, error, partial, cancelled

	StartedAt   time.Time  `gorm:"not null" json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Duration    int        `gorm:"default:0" json:"duration"` // milliseconds

	Synced  int `gorm:"default:0" json:"synced"`
	Skipped int `gorm:"default:0" json:"skipped"`
	Errors  int `gorm:"default:0" json:"errors"`

	ErrorDetail string         `gorm:"type:text" json:"errorDetail,omitempty"`
	ItemErrors  datatypes.JSON `json:"itemErrors,omitempty"`

	CreatedAt time.Time `json:"-"`
}

func (SyncJobRun) TableName() string {
	return "sync_job_runs"
}
