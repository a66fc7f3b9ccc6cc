package models

import (
	"time"
)

// Account is one connected storefront: the scope every sync job, BOM and
// component belongs to. Provider selects the storefront implementation
// from the registry ("woocommerce", "odoo").
type Account struct {
	ID       int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name     string `gorm:"not null" json:"name"`
	Provider string `gorm:"size:32;not null" json:"provider"`

	BaseURL string `gorm:"not null" json:"baseUrl"`

	// WooCommerce REST credentials.
	ConsumerKey    string `json:"-"`
	ConsumerSecret string `json:"-"`

	// Odoo XML-RPC credentials.
	OdooDatabase string `json:"-"`
	OdooUsername string `json:"-"`
	OdooPassword string `json:"-"`

	Active bool `gorm:"default:true" json:"active"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Account) TableName() string {
	return "accounts"
}
