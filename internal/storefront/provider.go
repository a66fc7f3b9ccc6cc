package storefront

import (
	"context"
	"errors"

	"github.com/MerlinStacks/overseek-sub004/internal/models"
)

// ErrNotFound means the storefront reports the product/variation gone.
// This is the trigger for BOM item deactivation and must never be conflated
// with a transport failure.
var ErrNotFound = errors.New("storefront: product not found")

// ErrUnreachable wraps timeouts and 5xx responses: retryable, logged, and
// distinct from "deleted".
var ErrUnreachable = errors.New("storefront: unreachable")

// ProductInfo is the storefront's view of a product or variation.
type ProductInfo struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	SKU           string `json:"sku"`
	StockQuantity *int64 `json:"stockQuantity,omitempty"`
	ManageStock   bool   `json:"manageStock"`
	Status        string `json:"status"`
}

// Provider is the storefront collaborator boundary. Implementations are
// stateless; credentials come from the account on every call. All calls
// must respect the context deadline.
type Provider interface {
	// Code returns the unique code for this provider (e.g. "woocommerce")
	Code() string

	// Name returns the human-readable name of the provider
	Name() string

	// GetProduct fetches one product by its storefront ID
	GetProduct(ctx context.Context, acct *models.Account, productID int64) (*ProductInfo, error)

	// GetVariation fetches one variation of a product
	GetVariation(ctx context.Context, acct *models.Account, productID, variationID int64) (*ProductInfo, error)

	// UpdateProductStock pushes a computed quantity to the storefront
	UpdateProductStock(ctx context.Context, acct *models.Account, productID, quantity int64, manageStock bool) error

	// UpdateVariationStock pushes a computed quantity for one variation
	UpdateVariationStock(ctx context.Context, acct *models.Account, productID, variationID, quantity int64, manageStock bool) error
}
