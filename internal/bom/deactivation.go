package bom

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/MerlinStacks/overseek-sub004/internal/database"
	"github.com/MerlinStacks/overseek-sub004/internal/models"
	"gorm.io/gorm"
)

// ErrItemActive is returned when reactivating an item that is not
// deactivated.
var ErrItemActive = errors.New("bom item is already active")

// DeactivationManager flips BOM items out of (and back into) the
// effective-stock computation when the storefront reports their component
// gone. Items are never deleted here; a broken mapping stays visible to
// operators until re-mapped or confirmed.
type DeactivationManager struct {
	db *database.DB
}

func NewDeactivationManager(db *database.DB) *DeactivationManager {
	return &DeactivationManager{db: db}
}

// Deactivate marks an item inactive with a reason. Idempotent: an already
// inactive item is returned as-is, keeping its original reason.
func (m *DeactivationManager) Deactivate(ctx context.Context, itemID int64, reason models.DeactivationReason) (*models.BOMItem, error) {
	item, err := m.item(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.Active {
		return item, nil
	}
	if reason == "" {
		reason = models.ReasonUnknown
	}

	item.Active = false
	item.DeactivationReason = reason
	err = m.db.WithContext(ctx).Model(item).
		Select("active", "deactivation_reason").
		Updates(map[string]interface{}{
			"active":              false,
			"deactivation_reason": reason,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("deactivate item %d: %w", itemID, err)
	}

	log.Printf("🔗 BOM item %d deactivated (%s)", itemID, reason)
	return item, nil
}

// Reactivate flips an inactive item back on and clears its reason. Only
// valid when the item is inactive; the caller is responsible for having
// verified or re-mapped the underlying component first.
func (m *DeactivationManager) Reactivate(ctx context.Context, itemID int64) (*models.BOMItem, error) {
	item, err := m.item(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Active {
		return nil, ErrItemActive
	}

	item.Active = true
	item.DeactivationReason = ""
	err = m.db.WithContext(ctx).Model(item).
		Select("active", "deactivation_reason").
		Updates(map[string]interface{}{
			"active":              true,
			"deactivation_reason": "",
		}).Error
	if err != nil {
		return nil, fmt.Errorf("reactivate item %d: %w", itemID, err)
	}

	log.Printf("🔗 BOM item %d reactivated", itemID)
	return item, nil
}

// ListDeactivated returns an account's inactive items grouped by reason,
// for operator visibility.
func (m *DeactivationManager) ListDeactivated(ctx context.Context, accountID int64) (map[models.DeactivationReason][]models.BOMItem, error) {
	var items []models.BOMItem
	err := m.db.WithContext(ctx).
		Joins("JOIN boms ON boms.id = bom_items.bom_id").
		Where("boms.account_id = ? AND bom_items.active = ?", accountID, false).
		Order("bom_items.id ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list deactivated items for account %d: %w", accountID, err)
	}

	grouped := make(map[models.DeactivationReason][]models.BOMItem)
	for _, it := range items {
		reason := it.DeactivationReason
		if reason == "" {
			reason = models.ReasonUnknown
		}
		grouped[reason] = append(grouped[reason], it)
	}
	return grouped, nil
}

func (m *DeactivationManager) item(ctx context.Context, itemID int64) (*models.BOMItem, error) {
	var item models.BOMItem
	err := m.db.WithContext(ctx).First(&item, itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load bom item %d: %w", itemID, err)
	}
	return &item, nil
}
