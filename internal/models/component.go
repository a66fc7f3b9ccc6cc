package models

import (
	"time"
)

// ComponentKind is the explicit product type, decided once at ingestion.
type ComponentKind string

const (
	// KindProduct is a sellable storefront product.
	KindProduct ComponentKind = "product"
	// KindVariation is a sellable variation of a storefront product.
	KindVariation ComponentKind = "variation"
	// KindInternal is a component that is never sold externally and
	// exists only as a BOM ingredient.
	KindInternal ComponentKind = "internal"
)

// Stock status values derived from quantity.
const (
	StockStatusInStock    = "instock"
	StockStatusOutOfStock = "outofstock"
)

// Component is a stock-bearing entity: a storefront product, a product
// variation, or an internal-only component. Its Quantity is mutated only
// through stock.Mutator.
type Component struct {
	ID        int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID int64         `gorm:"index;not null" json:"accountId"`
	Kind      ComponentKind `gorm:"size:16;index;not null" json:"kind"`

	// ExternalID is the storefront product/variation ID. Nil for internal
	// components, which exist only locally.
	ExternalID *int64 `gorm:"index" json:"externalId,omitempty"`
	// ExternalParentID is the storefront parent product ID when Kind is
	// variation.
	ExternalParentID *int64 `gorm:"index" json:"externalParentId,omitempty"`

	SKU  string `gorm:"index" json:"sku"`
	Name string `json:"name"`

	Quantity int64 `gorm:"not null;default:0" json:"quantity"`
	// ManageStock mirrors the storefront flag: when false the quantity is
	// externally unmanaged and not authoritative.
	ManageStock bool   `gorm:"default:true" json:"manageStock"`
	StockStatus string `gorm:"size:16;default:'outofstock'" json:"stockStatus"`

	// MiscCost is an optional per-unit cost (packaging, labor).
	MiscCost float64 `json:"miscCost"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Component) TableName() string {
	return "components"
}

// RefreshStockStatus recomputes the derived stock status from Quantity.
func (c *Component) RefreshStockStatus() {
	c.StockStatus = StockStatusFor(c.Quantity)
}

// StockStatusFor returns the stock status derived from a quantity.
func StockStatusFor(qty int64) string {
	if qty > 0 {
		return StockStatusInStock
	}
	return StockStatusOutOfStock
}

// IsExternal reports whether the component exists on the storefront.
func (c *Component) IsExternal() bool {
	return c.Kind != KindInternal && c.ExternalID != nil
}
