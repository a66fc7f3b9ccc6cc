package odoo

import (
	"context"
	"fmt"
	"sync"

	"github.com/MerlinStacks/overseek-sub004/internal/models"
	"github.com/MerlinStacks/overseek-sub004/internal/storefront"
	"github.com/kolo/xmlrpc"
)

// Provider implements storefront.Provider against an Odoo instance over
// XML-RPC. Variations map to product.product records whose template is the
// parent product.
type Provider struct {
	mu   sync.Mutex
	uids map[int64]int // authenticated uid per account
}

// NewProvider creates a new Odoo storefront provider
func NewProvider() *Provider {
	return &Provider{uids: make(map[int64]int)}
}

// Code returns the provider code
func (p *Provider) Code() string {
	return "odoo"
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "Odoo"
}

// odooProduct mirrors the product.product fields we read.
type odooProduct struct {
	ID           int64   `xmlrpc:"id"`
	Name         string  `xmlrpc:"name"`
	DefaultCode  string  `xmlrpc:"default_code"`
	QtyAvailable float64 `xmlrpc:"qty_available"`
	Active       bool    `xmlrpc:"active"`
}

// GetProduct fetches one product by its Odoo ID
func (p *Provider) GetProduct(ctx context.Context, acct *models.Account, productID int64) (*storefront.ProductInfo, error) {
	return p.readProduct(ctx, acct, productID)
}

// GetVariation fetches one variation. In Odoo a variation is itself a
// product.product record, so the parent ID is not needed for the lookup.
func (p *Provider) GetVariation(ctx context.Context, acct *models.Account, productID, variationID int64) (*storefront.ProductInfo, error) {
	return p.readProduct(ctx, acct, variationID)
}

// UpdateProductStock pushes a computed quantity via the
// stock.change.product.qty wizard, the supported way to set on-hand stock.
func (p *Provider) UpdateProductStock(ctx context.Context, acct *models.Account, productID, quantity int64, manageStock bool) error {
	uid, err := p.authenticate(acct)
	if err != nil {
		return err
	}

	wizardID, err := p.create(acct, uid, "stock.change.product.qty", map[string]interface{}{
		"product_id":   productID,
		"new_quantity": float64(quantity),
	})
	if err != nil {
		return fmt.Errorf("prepare stock change for product %d: %w", productID, err)
	}

	if err := p.callMethod(acct, uid, "stock.change.product.qty", "change_product_qty", []int64{wizardID}); err != nil {
		return fmt.Errorf("apply stock change for product %d: %w", productID, err)
	}
	return nil
}

// UpdateVariationStock pushes a computed quantity for one variation
func (p *Provider) UpdateVariationStock(ctx context.Context, acct *models.Account, productID, variationID, quantity int64, manageStock bool) error {
	return p.UpdateProductStock(ctx, acct, variationID, quantity, manageStock)
}

func (p *Provider) readProduct(ctx context.Context, acct *models.Account, productID int64) (*storefront.ProductInfo, error) {
	uid, err := p.authenticate(acct)
	if err != nil {
		return nil, err
	}

	var records []odooProduct
	err = p.execute(acct, uid, "product.product", "read",
		[]interface{}{[]int64{productID}},
		map[string]interface{}{
			"fields": []string{"name", "default_code", "qty_available", "active"},
		}, &records)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storefront.ErrUnreachable, err)
	}
	if len(records) == 0 || !records[0].Active {
		return nil, storefront.ErrNotFound
	}

	qty := int64(records[0].QtyAvailable)
	return &storefront.ProductInfo{
		ID:            records[0].ID,
		Name:          records[0].Name,
		SKU:           records[0].DefaultCode,
		StockQuantity: &qty,
		ManageStock:   true,
		Status:        "publish",
	}, nil
}

// authenticate returns the cached uid for the account, logging in once.
func (p *Provider) authenticate(acct *models.Account) (int, error) {
	p.mu.Lock()
	if uid, ok := p.uids[acct.ID]; ok {
		p.mu.Unlock()
		return uid, nil
	}
	p.mu.Unlock()

	client, err := xmlrpc.NewClient(acct.BaseURL+"/xmlrpc/2/common", nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", storefront.ErrUnreachable, err)
	}
	defer client.Close()

	args := []interface{}{acct.OdooDatabase, acct.OdooUsername, acct.OdooPassword, make([]interface{}, 0)}
	var uid int
	if err := client.Call("authenticate", args, &uid); err != nil {
		return 0, fmt.Errorf("%w: authentication failed: %v", storefront.ErrUnreachable, err)
	}
	if uid == 0 {
		return 0, fmt.Errorf("odoo: invalid credentials for account %d", acct.ID)
	}

	p.mu.Lock()
	p.uids[acct.ID] = uid
	p.mu.Unlock()
	return uid, nil
}

// execute runs execute_kw against the object endpoint.
func (p *Provider) execute(acct *models.Account, uid int, model, method string, posArgs []interface{}, kwArgs map[string]interface{}, result interface{}) error {
	client, err := xmlrpc.NewClient(acct.BaseURL+"/xmlrpc/2/object", nil)
	if err != nil {
		return fmt.Errorf("failed to create XML-RPC client: %w", err)
	}
	defer client.Close()

	args := []interface{}{acct.OdooDatabase, uid, acct.OdooPassword, model, method, posArgs}
	if kwArgs != nil {
		args = append(args, kwArgs)
	}
	return client.Call("execute_kw", args, result)
}

func (p *Provider) create(acct *models.Account, uid int, model string, values map[string]interface{}) (int64, error) {
	var id int64
	err := p.execute(acct, uid, model, "create", []interface{}{values}, nil, &id)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", storefront.ErrUnreachable, err)
	}
	return id, nil
}

func (p *Provider) callMethod(acct *models.Account, uid int, model, method string, ids []int64) error {
	var result interface{}
	err := p.execute(acct, uid, model, method, []interface{}{ids}, nil, &result)
	if err != nil {
		return fmt.Errorf("%w: %v", storefront.ErrUnreachable, err)
	}
	return nil
}
