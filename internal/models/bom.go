package models

import (
	"errors"
	"time"
)

// DeactivationReason explains why a BOM item was taken out of the
// effective-stock computation.
type DeactivationReason string

const (
	ReasonComponentDeleted DeactivationReason = "component_deleted"
	ReasonVariationDeleted DeactivationReason = "variation_deleted"
	ReasonUnknown          DeactivationReason = "unknown"
)

// BOM item validation errors, rejected at write time.
var (
	ErrItemComponentRef     = errors.New("bom item must reference exactly one of product component or internal component")
	ErrItemQuantityPerUnit  = errors.New("bom item quantity per unit must be positive")
	ErrItemReasonWhenActive = errors.New("active bom item cannot carry a deactivation reason")
)

// BOM is a bill of materials for one (product, variation) pair. The
// parent's sellable stock is derived from the item components, not stored.
type BOM struct {
	ID        int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID int64 `gorm:"index;not null" json:"accountId"`

	// ProductComponentID is the parent product's component row.
	ProductComponentID int64 `gorm:"uniqueIndex:idx_bom_parent;not null" json:"productComponentId"`
	// VariationID scopes the BOM to one variation of the parent product.
	// Zero means the BOM applies to the product itself.
	VariationID int64 `gorm:"uniqueIndex:idx_bom_parent;not null;default:0" json:"variationId"`

	Items []BOMItem `gorm:"foreignKey:BOMID" json:"items,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (BOM) TableName() string {
	return "boms"
}

// ActiveItems returns the items currently included in stock derivation.
func (b *BOM) ActiveItems() []BOMItem {
	active := make([]BOMItem, 0, len(b.Items))
	for _, it := range b.Items {
		if it.Active {
			active = append(active, it)
		}
	}
	return active
}

// BOMItem is one line of a BOM. It references exactly one of a product
// component (sellable product/variation) or an internal component.
type BOMItem struct {
	ID       int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	BOMID    int64 `gorm:"index;not null" json:"bomId"`
	Position int   `gorm:"not null;default:0" json:"position"`

	ProductComponentID  *int64 `gorm:"index" json:"productComponentId,omitempty"`
	InternalComponentID *int64 `gorm:"index" json:"internalComponentId,omitempty"`

	QuantityPerUnit float64 `gorm:"not null" json:"quantityPerUnit"`

	Active             bool               `gorm:"default:true;index" json:"active"`
	DeactivationReason DeactivationReason `gorm:"size:32" json:"deactivationReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (BOMItem) TableName() string {
	return "bom_items"
}

// Validate enforces the item invariants: exactly one component reference,
// positive quantity per unit, no reason while active.
func (it *BOMItem) Validate() error {
	if (it.ProductComponentID == nil) == (it.InternalComponentID == nil) {
		return ErrItemComponentRef
	}
	if it.QuantityPerUnit <= 0 {
		return ErrItemQuantityPerUnit
	}
	if it.Active && it.DeactivationReason != "" {
		return ErrItemReasonWhenActive
	}
	return nil
}

// ComponentID returns whichever component reference is set.
func (it *BOMItem) ComponentID() int64 {
	if it.ProductComponentID != nil {
		return *it.ProductComponentID
	}
	if it.InternalComponentID != nil {
		return *it.InternalComponentID
	}
	return 0
}
