package models

import (
	"time"
)

// StockSource tags who caused a stock mutation. Mutations sourced from the
// BOM cascade never re-trigger the cascade.
type StockSource string

const (
	SourceUser         StockSource = "user"
	SourceBOMCascade   StockSource = "system_bom_cascade"
	SourceExternalSync StockSource = "system_external_sync"
)

// Validation outcomes recorded on audit entries.
const (
	OutcomeApplied = "applied"
	// OutcomeClamped marks a mutation that would have gone negative and
	// was floored at zero instead.
	OutcomeClamped = "clamped"
)

// StockAuditEntry is an append-only record of one quantity mutation.
// Entries are never updated or deleted by this service.
type StockAuditEntry struct {
	ID          int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID   int64       `gorm:"index:idx_audit_account_time;not null" json:"accountId"`
	ComponentID int64       `gorm:"index;not null" json:"componentId"`
	Source      StockSource `gorm:"size:32;index;not null" json:"source"`

	BeforeQuantity int64  `gorm:"not null" json:"beforeQuantity"`
	AfterQuantity  int64  `gorm:"not null" json:"afterQuantity"`
	Outcome        string `gorm:"size:16;not null" json:"outcome"`
	Reason         string `gorm:"type:text" json:"reason"`

	CreatedAt time.Time `gorm:"index:idx_audit_account_time" json:"createdAt"`
}

func (StockAuditEntry) TableName() string {
	return "stock_audit_entries"
}
