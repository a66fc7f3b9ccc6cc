package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/MerlinStacks/overseek-sub004/internal/database"
	"github.com/MerlinStacks/overseek-sub004/internal/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Filters narrows an audit history query. Zero values are ignored.
type Filters struct {
	ComponentID int64
	Source      models.StockSource
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}

// Log reads the append-only stock audit trail. Writes happen inside the
// mutator's transaction; this type only queries.
type Log struct {
	db *database.DB
}

func NewLog(db *database.DB) *Log {
	return &Log{db: db}
}

// History returns an account's audit entries, newest first, with the total
// count for pagination.
func (l *Log) History(ctx context.Context, accountID int64, f Filters) ([]models.StockAuditEntry, int64, error) {
	query := l.db.WithContext(ctx).
		Model(&models.StockAuditEntry{}).
		Where("account_id = ?", accountID)

	if f.ComponentID != 0 {
		query = query.Where("component_id = ?", f.ComponentID)
	}
	if f.Source != "" {
		query = query.Where("source = ?", f.Source)
	}
	if f.From != nil {
		query = query.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("created_at <= ?", *f.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var entries []models.StockAuditEntry
	err := query.
		Order("created_at DESC, id DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&entries).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, total, nil
}

// ForComponent returns the strictly ordered mutation history of one
// component.
func (l *Log) ForComponent(ctx context.Context, componentID int64, limit int) ([]models.StockAuditEntry, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	var entries []models.StockAuditEntry
	err := l.db.WithContext(ctx).
		Where("component_id = ?", componentID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("audit history for component %d: %w", componentID, err)
	}
	return entries, nil
}
