package bom

import (
	"fmt"
	"math"

	"github.com/MerlinStacks/overseek-sub004/internal/models"
)

// ItemBreakdown is the per-component contribution to an effective-stock
// computation, returned to callers for diagnosis.
type ItemBreakdown struct {
	ItemID          int64   `json:"itemId"`
	ComponentID     int64   `json:"componentId"`
	ComponentName   string  `json:"componentName,omitempty"`
	Available       int64   `json:"available"`
	QuantityPerUnit float64 `json:"quantityPerUnit"`
	Yield           int64   `json:"yield"`
	Missing         bool    `json:"missing,omitempty"`
}

// EffectiveStock is the computed (not persisted) sellable quantity of a
// BOM parent. When Derived is false the BOM has no active items and the
// parent's own recorded stock is authoritative.
type EffectiveStock struct {
	Derived        bool            `json:"derived"`
	Quantity       int64           `json:"quantity"`
	ParentQuantity int64           `json:"parentQuantity"`
	Breakdown      []ItemBreakdown `json:"breakdown"`
	Diagnostics    []string        `json:"diagnostics,omitempty"`
}

// Sellable returns the externally visible quantity: the derived quantity
// for a real BOM, the parent's own stock otherwise.
func (es *EffectiveStock) Sellable() int64 {
	if es.Derived {
		return es.Quantity
	}
	return es.ParentQuantity
}

// ComputeEffectiveStock derives the sellable quantity of a BOM parent from
// its active items: floor(min over items of component.Quantity / QuantityPerUnit),
// clamped to >= 0. Inactive items are skipped. An item whose component is
// missing from the lookup contributes zero and attaches a diagnostic
// instead of failing the whole computation.
//
// Pure: no I/O, no mutation of inputs, safe to call concurrently.
func ComputeEffectiveStock(b *models.BOM, parentQuantity int64, components map[int64]*models.Component) *EffectiveStock {
	result := &EffectiveStock{
		ParentQuantity: parentQuantity,
	}

	for _, it := range b.Items {
		if !it.Active {
			continue
		}

		bd := ItemBreakdown{
			ItemID:          it.ID,
			ComponentID:     it.ComponentID(),
			QuantityPerUnit: it.QuantityPerUnit,
		}

		comp, ok := components[bd.ComponentID]
		if !ok || comp == nil {
			bd.Missing = true
			bd.Yield = 0
			result.Diagnostics = append(result.Diagnostics,
				fmt.Sprintf("component %d referenced by item %d could not be resolved", bd.ComponentID, it.ID))
		} else {
			bd.ComponentName = comp.Name
			bd.Available = comp.Quantity
			bd.Yield = yieldFor(comp.Quantity, it.QuantityPerUnit)
		}

		if !result.Derived || bd.Yield < result.Quantity {
			result.Quantity = bd.Yield
		}
		result.Derived = true
		result.Breakdown = append(result.Breakdown, bd)
	}

	if !result.Derived {
		// Zero active items: not a BOM for stock-derivation purposes.
		result.Quantity = 0
	}
	return result
}

// yieldFor computes how many parent units a single component can supply.
func yieldFor(available int64, perUnit float64) int64 {
	if available <= 0 || perUnit <= 0 {
		return 0
	}
	y := int64(math.Floor(float64(available) / perUnit))
	if y < 0 {
		return 0
	}
	return y
}
