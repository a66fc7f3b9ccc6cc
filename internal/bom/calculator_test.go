package bom

import (
	"strings"
	"testing"

	"github.com/MerlinStacks/overseek-sub004/internal/models"
)

func compMap(comps ...*models.Component) map[int64]*models.Component {
	m := make(map[int64]*models.Component, len(comps))
	for _, c := range comps {
		m[c.ID] = c
	}
	return m
}

func TestComputeEffectiveStock_MinOverItems(t *testing.T) {
	// 10 screws at 2 per unit yields 5; 7 boards at 1 per unit yields 7.
	// The sellable quantity is the limiting component: 5.
	screws := &models.Component{ID: 1, Name: "Screws", Quantity: 10}
	boards := &models.Component{ID: 2, Name: "Boards", Quantity: 7}

	b := &models.BOM{Items: []models.BOMItem{
		productItem(1, 2),
		productItem(2, 1),
	}}

	es := ComputeEffectiveStock(b, 99, compMap(screws, boards))
	if !es.Derived {
		t.Fatal("Expected a derived result for a BOM with active items")
	}
	if es.Quantity != 5 {
		t.Errorf("Expected effective stock 5, got %d", es.Quantity)
	}
	if es.Sellable() != 5 {
		t.Errorf("Expected sellable 5, got %d", es.Sellable())
	}
	if len(es.Breakdown) != 2 {
		t.Fatalf("Expected 2 breakdown rows, got %d", len(es.Breakdown))
	}
	if es.Breakdown[0].Yield != 5 || es.Breakdown[1].Yield != 7 {
		t.Errorf("Unexpected yields: %d, %d", es.Breakdown[0].Yield, es.Breakdown[1].Yield)
	}
}

func TestComputeEffectiveStock_FractionalPerUnit(t *testing.T) {
	// 0.5 per unit: 7 available yields floor(7/0.5) = 14.
	comp := &models.Component{ID: 1, Quantity: 7}
	b := &models.BOM{Items: []models.BOMItem{productItem(1, 0.5)}}

	es := ComputeEffectiveStock(b, 0, compMap(comp))
	if es.Quantity != 14 {
		t.Errorf("Expected effective stock 14, got %d", es.Quantity)
	}
}

func TestComputeEffectiveStock_FlooringNeverRoundsUp(t *testing.T) {
	// 5 available at 3 per unit is 1 whole unit, never 2.
	comp := &models.Component{ID: 1, Quantity: 5}
	b := &models.BOM{Items: []models.BOMItem{productItem(1, 3)}}

	es := ComputeEffectiveStock(b, 0, compMap(comp))
	if es.Quantity != 1 {
		t.Errorf("Expected effective stock 1, got %d", es.Quantity)
	}
}

func TestComputeEffectiveStock_NegativeAvailableClampsToZero(t *testing.T) {
	comp := &models.Component{ID: 1, Quantity: -4}
	b := &models.BOM{Items: []models.BOMItem{productItem(1, 1)}}

	es := ComputeEffectiveStock(b, 0, compMap(comp))
	if es.Quantity != 0 {
		t.Errorf("Expected effective stock 0 for negative availability, got %d", es.Quantity)
	}
}

func TestComputeEffectiveStock_NoActiveItems(t *testing.T) {
	// Zero active items: the parent's own stock stays authoritative.
	inactive := productItem(1, 2)
	inactive.Active = false
	b := &models.BOM{Items: []models.BOMItem{inactive}}

	es := ComputeEffectiveStock(b, 42, compMap())
	if es.Derived {
		t.Error("Expected Derived=false with no active items")
	}
	if es.Sellable() != 42 {
		t.Errorf("Expected sellable to fall back to parent stock 42, got %d", es.Sellable())
	}
}

func TestComputeEffectiveStock_InactiveItemExcluded(t *testing.T) {
	// The deactivated zero-stock item must not drag the result to zero.
	plenty := &models.Component{ID: 1, Quantity: 100}
	gone := &models.Component{ID: 2, Quantity: 0}

	dead := productItem(2, 1)
	dead.Active = false
	dead.DeactivationReason = models.ReasonComponentDeleted

	b := &models.BOM{Items: []models.BOMItem{productItem(1, 1), dead}}

	es := ComputeEffectiveStock(b, 0, compMap(plenty, gone))
	if es.Quantity != 100 {
		t.Errorf("Expected effective stock 100 with inactive item excluded, got %d", es.Quantity)
	}
	if len(es.Breakdown) != 1 {
		t.Errorf("Expected 1 breakdown row, got %d", len(es.Breakdown))
	}
}

func TestComputeEffectiveStock_MissingComponentDiagnostic(t *testing.T) {
	// A resolvable item plus one pointing at a vanished component: the
	// computation survives, yields zero, and reports the gap.
	comp := &models.Component{ID: 1, Quantity: 50}
	b := &models.BOM{Items: []models.BOMItem{
		productItem(1, 1),
		productItem(999, 1),
	}}

	es := ComputeEffectiveStock(b, 0, compMap(comp))
	if es.Quantity != 0 {
		t.Errorf("Expected effective stock 0 with a missing component, got %d", es.Quantity)
	}
	if len(es.Diagnostics) != 1 {
		t.Fatalf("Expected 1 diagnostic, got %d", len(es.Diagnostics))
	}
	if !strings.Contains(es.Diagnostics[0], "999") {
		t.Errorf("Diagnostic should name the missing component: %q", es.Diagnostics[0])
	}
	if !es.Breakdown[1].Missing {
		t.Error("Expected breakdown row to be flagged missing")
	}
}

func TestComputeEffectiveStock_DoesNotMutateInputs(t *testing.T) {
	comp := &models.Component{ID: 1, Quantity: 9}
	b := &models.BOM{Items: []models.BOMItem{productItem(1, 2)}}

	_ = ComputeEffectiveStock(b, 3, compMap(comp))

	if comp.Quantity != 9 {
		t.Errorf("Component quantity mutated: %d", comp.Quantity)
	}
	if b.Items[0].QuantityPerUnit != 2 {
		t.Errorf("Item mutated: %v", b.Items[0])
	}
}
