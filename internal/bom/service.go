package bom

import (
	"context"
	"errors"
	"fmt"

	"github.com/MerlinStacks/overseek-sub004/internal/database"
	"github.com/MerlinStacks/overseek-sub004/internal/models"
	"gorm.io/gorm"
)

var (
	ErrBOMNotFound       = errors.New("bom not found")
	ErrComponentNotFound = errors.New("component not found")
	ErrItemNotFound      = errors.New("bom item not found")
	// ErrNestedBOM rejects a BOM item whose component is itself a BOM
	// parent. The cascade is one hop; nesting is prevented at write time.
	ErrNestedBOM    = errors.New("component is itself a bom parent, nested boms are not supported")
	ErrDuplicateBOM = errors.New("a bom already exists for this product and variation")
)

// Service loads BOMs with their component stocks and exposes the
// effective-stock computation to the HTTP layer and the sync engine.
type Service struct {
	db *database.DB
}

func NewService(db *database.DB) *Service {
	return &Service{db: db}
}

// ComputeResult is the caller-facing effective stock report for one BOM.
type ComputeResult struct {
	BOMID          int64           `json:"bomId"`
	AccountID      int64           `json:"accountId"`
	CurrentStock   int64           `json:"currentStock"`
	EffectiveStock int64           `json:"effectiveStock"`
	Derived        bool            `json:"derived"`
	NeedsSync      bool            `json:"needsSync"`
	Breakdown      []ItemBreakdown `json:"perComponentBreakdown"`
	Diagnostics    []string        `json:"diagnostics,omitempty"`

	parentComponentID int64
}

// ParentComponentID identifies the component row holding the parent's
// recorded stock.
func (r *ComputeResult) ParentComponentID() int64 {
	return r.parentComponentID
}

// GetBOM loads a BOM with all of its items.
func (s *Service) GetBOM(ctx context.Context, bomID int64) (*models.BOM, error) {
	var b models.BOM
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&b, bomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBOMNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load bom %d: %w", bomID, err)
	}
	return &b, nil
}

// ComputeForBOM recomputes a BOM's effective stock from current component
// quantities. Read-only.
func (s *Service) ComputeForBOM(ctx context.Context, bomID int64) (*ComputeResult, error) {
	b, err := s.GetBOM(ctx, bomID)
	if err != nil {
		return nil, err
	}
	return s.compute(ctx, b)
}

func (s *Service) compute(ctx context.Context, b *models.BOM) (*ComputeResult, error) {
	parent, err := s.component(ctx, b.ProductComponentID)
	if err != nil {
		return nil, err
	}

	components, err := s.componentsForItems(ctx, b.ActiveItems())
	if err != nil {
		return nil, err
	}

	es := ComputeEffectiveStock(b, parent.Quantity, components)
	return &ComputeResult{
		BOMID:          b.ID,
		AccountID:      b.AccountID,
		CurrentStock:   parent.Quantity,
		EffectiveStock: es.Sellable(),
		Derived:        es.Derived,
		NeedsSync:      es.Derived && es.Quantity != parent.Quantity,
		Breakdown:      es.Breakdown,
		Diagnostics:    es.Diagnostics,

		parentComponentID: parent.ID,
	}, nil
}

func (s *Service) component(ctx context.Context, id int64) (*models.Component, error) {
	var c models.Component
	err := s.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("component %d: %w", id, ErrComponentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load component %d: %w", id, err)
	}
	return &c, nil
}

// componentsForItems resolves the components referenced by a set of items.
// Missing rows are simply absent from the map; the calculator turns them
// into diagnostics.
func (s *Service) componentsForItems(ctx context.Context, items []models.BOMItem) (map[int64]*models.Component, error) {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if id := it.ComponentID(); id != 0 {
			ids = append(ids, id)
		}
	}
	result := make(map[int64]*models.Component, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var comps []models.Component
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&comps).Error; err != nil {
		return nil, fmt.Errorf("load bom components: %w", err)
	}
	for i := range comps {
		result[comps[i].ID] = &comps[i]
	}
	return result, nil
}

// CreateBOMInput configures a new BOM with its initial items.
type CreateBOMInput struct {
	AccountID          int64                `json:"accountId"`
	ProductComponentID int64                `json:"productComponentId"`
	VariationID        int64                `json:"variationId"`
	Items              []CreateBOMItemInput `json:"items"`
}

// CreateBOMItemInput is one configured line of a new BOM.
type CreateBOMItemInput struct {
	ProductComponentID  *int64  `json:"productComponentId,omitempty"`
	InternalComponentID *int64  `json:"internalComponentId,omitempty"`
	QuantityPerUnit     float64 `json:"quantityPerUnit"`
}

// CreateBOM validates and persists a BOM. Item invariants (exactly one
// component reference, positive quantity per unit) are rejected here, never
// coerced. A child component that is itself a BOM parent is rejected to
// keep the component-usage graph one hop deep.
func (s *Service) CreateBOM(ctx context.Context, input *CreateBOMInput) (*models.BOM, error) {
	parent, err := s.component(ctx, input.ProductComponentID)
	if err != nil {
		return nil, err
	}
	if parent.AccountID != input.AccountID {
		return nil, fmt.Errorf("parent component %d: %w", input.ProductComponentID, ErrComponentNotFound)
	}

	b := &models.BOM{
		AccountID:          input.AccountID,
		ProductComponentID: input.ProductComponentID,
		VariationID:        input.VariationID,
	}

	for i, in := range input.Items {
		item := models.BOMItem{
			Position:            i,
			ProductComponentID:  in.ProductComponentID,
			InternalComponentID: in.InternalComponentID,
			QuantityPerUnit:     in.QuantityPerUnit,
			Active:              true,
		}
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if err := s.checkItemComponent(ctx, input.AccountID, input.ProductComponentID, &item); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		b.Items = append(b.Items, item)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		tx.Model(&models.BOM{}).
			Where("product_component_id = ? AND variation_id = ?", b.ProductComponentID, b.VariationID).
			Count(&count)
		if count > 0 {
			return ErrDuplicateBOM
		}

		// One-hop invariant, reverse direction: a component consumed as
		// an item by any BOM cannot become a BOM parent itself.
		if err := tx.Model(&models.BOMItem{}).
			Where("product_component_id = ? OR internal_component_id = ?", b.ProductComponentID, b.ProductComponentID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("nested bom check: %w", err)
		}
		if count > 0 {
			return ErrNestedBOM
		}

		return tx.Create(b).Error
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateBOM) || errors.Is(err, ErrNestedBOM) {
			return nil, err
		}
		return nil, fmt.Errorf("create bom: %w", err)
	}
	return b, nil
}

func (s *Service) checkItemComponent(ctx context.Context, accountID, parentComponentID int64, item *models.BOMItem) error {
	comp, err := s.component(ctx, item.ComponentID())
	if err != nil {
		return err
	}
	if comp.AccountID != accountID {
		return fmt.Errorf("component %d: %w", comp.ID, ErrComponentNotFound)
	}
	if comp.ID == parentComponentID {
		return ErrNestedBOM
	}
	if item.ProductComponentID != nil && comp.Kind == models.KindInternal {
		return fmt.Errorf("component %d is internal, use internalComponentId: %w", comp.ID, models.ErrItemComponentRef)
	}
	if item.InternalComponentID != nil && comp.Kind != models.KindInternal {
		return fmt.Errorf("component %d is not internal: %w", comp.ID, models.ErrItemComponentRef)
	}

	// One-hop invariant: the child must not be a BOM parent itself.
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.BOM{}).
		Where("product_component_id = ?", comp.ID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("nested bom check: %w", err)
	}
	if count > 0 {
		return ErrNestedBOM
	}
	return nil
}

// BOMsForAccount lists every BOM of an account, items included. Used by
// the bulk sync job.
func (s *Service) BOMsForAccount(ctx context.Context, accountID int64) ([]models.BOM, error) {
	var boms []models.BOM
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where("account_id = ?", accountID).
		Order("id ASC").
		Find(&boms).Error
	if err != nil {
		return nil, fmt.Errorf("list boms for account %d: %w", accountID, err)
	}
	return boms, nil
}

// CountBOMsForAccount returns the bulk-sync work estimate for an account.
func (s *Service) CountBOMsForAccount(ctx context.Context, accountID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.BOM{}).
		Where("account_id = ?", accountID).
		Count(&count).Error
	return count, err
}
