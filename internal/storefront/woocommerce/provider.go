package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MerlinStacks/overseek-sub004/internal/models"
	"github.com/MerlinStacks/overseek-sub004/internal/storefront"
)

// Provider implements storefront.Provider against the WooCommerce REST
// API (wc/v3). Authentication is basic auth with the account's consumer
// key/secret.
type Provider struct {
	httpClient *http.Client
}

// NewProvider creates a new WooCommerce storefront provider
func NewProvider() *Provider {
	return &Provider{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Code returns the provider code
func (p *Provider) Code() string {
	return "woocommerce"
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "WooCommerce"
}

// wcProduct mirrors the fields of a wc/v3 product response we care about.
// WooCommerce returns stock_quantity as null when stock is unmanaged.
type wcProduct struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	SKU           string `json:"sku"`
	StockQuantity *int64 `json:"stock_quantity"`
	ManageStock   bool   `json:"manage_stock"`
	Status        string `json:"status"`
}

// GetProduct fetches one product by its WooCommerce ID
func (p *Provider) GetProduct(ctx context.Context, acct *models.Account, productID int64) (*storefront.ProductInfo, error) {
	path := fmt.Sprintf("/wp-json/wc/v3/products/%d", productID)
	var product wcProduct
	if err := p.do(ctx, acct, http.MethodGet, path, nil, &product); err != nil {
		return nil, err
	}
	return toProductInfo(&product), nil
}

// GetVariation fetches one variation of a product
func (p *Provider) GetVariation(ctx context.Context, acct *models.Account, productID, variationID int64) (*storefront.ProductInfo, error) {
	path := fmt.Sprintf("/wp-json/wc/v3/products/%d/variations/%d", productID, variationID)
	var variation wcProduct
	if err := p.do(ctx, acct, http.MethodGet, path, nil, &variation); err != nil {
		return nil, err
	}
	return toProductInfo(&variation), nil
}

// UpdateProductStock pushes a computed quantity to the storefront
func (p *Provider) UpdateProductStock(ctx context.Context, acct *models.Account, productID, quantity int64, manageStock bool) error {
	path := fmt.Sprintf("/wp-json/wc/v3/products/%d", productID)
	body := map[string]interface{}{
		"stock_quantity": quantity,
		"manage_stock":   manageStock,
	}
	return p.do(ctx, acct, http.MethodPut, path, body, nil)
}

// UpdateVariationStock pushes a computed quantity for one variation
func (p *Provider) UpdateVariationStock(ctx context.Context, acct *models.Account, productID, variationID, quantity int64, manageStock bool) error {
	path := fmt.Sprintf("/wp-json/wc/v3/products/%d/variations/%d", productID, variationID)
	body := map[string]interface{}{
		"stock_quantity": quantity,
		"manage_stock":   manageStock,
	}
	return p.do(ctx, acct, http.MethodPut, path, body, nil)
}

// do executes one authenticated request. 404 maps to storefront.ErrNotFound;
// network errors and 5xx map to storefront.ErrUnreachable so callers can
// tell "deleted" from "temporarily down".
func (p *Provider) do(ctx context.Context, acct *models.Account, method, path string, body, out interface{}) error {
	url := strings.TrimRight(acct.BaseURL, "/") + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(acct.ConsumerKey, acct.ConsumerSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", storefront.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return storefront.ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", storefront.ErrUnreachable, resp.StatusCode)
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("woocommerce: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func toProductInfo(p *wcProduct) *storefront.ProductInfo {
	return &storefront.ProductInfo{
		ID:            p.ID,
		Name:          p.Name,
		SKU:           p.SKU,
		StockQuantity: p.StockQuantity,
		ManageStock:   p.ManageStock,
		Status:        p.Status,
	}
}
