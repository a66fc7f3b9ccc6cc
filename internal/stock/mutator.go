package stock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/MerlinStacks/overseek-sub004/internal/database"
	"github.com/MerlinStacks/overseek-sub004/internal/models"
	"gorm.io/gorm"
)

// ErrComponentNotFound is returned when the target component row is absent.
var ErrComponentNotFound = errors.New("component not found")

// CascadeTrigger is notified after a committed mutation so BOMs consuming
// the component can be recomputed. Notification happens outside the
// component lock and never for SourceBOMCascade mutations.
type CascadeTrigger interface {
	ComponentChanged(ctx context.Context, componentID int64)
}

// componentLocks serializes mutations per component ID. Entries are
// refcounted so the map does not grow with the component table.
type componentLocks struct {
	mu    sync.Mutex
	locks map[int64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newComponentLocks() *componentLocks {
	return &componentLocks{locks: make(map[int64]*lockEntry)}
}

func (cl *componentLocks) lock(id int64) {
	cl.mu.Lock()
	entry, ok := cl.locks[id]
	if !ok {
		entry = &lockEntry{}
		cl.locks[id] = entry
	}
	entry.refs++
	cl.mu.Unlock()

	entry.mu.Lock()
}

func (cl *componentLocks) unlock(id int64) {
	cl.mu.Lock()
	entry := cl.locks[id]
	entry.refs--
	if entry.refs == 0 {
		delete(cl.locks, id)
	}
	cl.mu.Unlock()

	entry.mu.Unlock()
}

// Mutator is the only path by which any actor changes a component's
// quantity. The read-modify-write is atomic per component: a keyed mutex
// serializes concurrent callers, and the quantity update plus its audit
// entry commit in one transaction.
type Mutator struct {
	db      *database.DB
	locks   *componentLocks
	cascade CascadeTrigger
}

func NewMutator(db *database.DB) *Mutator {
	return &Mutator{
		db:    db,
		locks: newComponentLocks(),
	}
}

// SetCascade wires the cascade propagator. Set after construction because
// the propagator itself writes through the mutator.
func (m *Mutator) SetCascade(c CascadeTrigger) {
	m.cascade = c
}

// Adjust applies a relative quantity change. A delta that would take the
// quantity negative is floored at zero and recorded as clamped, not
// rejected: physical inventory is never negative.
func (m *Mutator) Adjust(ctx context.Context, componentID, delta int64, reason string, source models.StockSource) (*models.Component, error) {
	return m.mutate(ctx, componentID, reason, source, func(current int64) int64 {
		return current + delta
	})
}

// SetAbsolute replaces the quantity outright, floored at zero.
func (m *Mutator) SetAbsolute(ctx context.Context, componentID, quantity int64, reason string, source models.StockSource) (*models.Component, error) {
	return m.mutate(ctx, componentID, reason, source, func(int64) int64 {
		return quantity
	})
}

func (m *Mutator) mutate(ctx context.Context, componentID int64, reason string, source models.StockSource, apply func(current int64) int64) (*models.Component, error) {
	m.locks.lock(componentID)
	defer m.locks.unlock(componentID)

	var component models.Component
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&component, componentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("component %d: %w", componentID, ErrComponentNotFound)
			}
			return fmt.Errorf("load component %d: %w", componentID, err)
		}

		before := component.Quantity
		after := apply(before)
		outcome := models.OutcomeApplied
		if after < 0 {
			after = 0
			outcome = models.OutcomeClamped
		}

		component.Quantity = after
		component.RefreshStockStatus()
		if err := tx.Model(&component).
			Select("quantity", "stock_status").
			Updates(map[string]interface{}{
				"quantity":     component.Quantity,
				"stock_status": component.StockStatus,
			}).Error; err != nil {
			return fmt.Errorf("update component %d: %w", componentID, err)
		}

		entry := models.StockAuditEntry{
			AccountID:      component.AccountID,
			ComponentID:    component.ID,
			Source:         source,
			BeforeQuantity: before,
			AfterQuantity:  after,
			Outcome:        outcome,
			Reason:         reason,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Cascade runs after the lock is released and never for mutations the
	// cascade itself caused — that suppression prevents feedback loops.
	if source != models.SourceBOMCascade && m.cascade != nil {
		go m.notifyCascade(component.ID)
	}

	return &component, nil
}

func (m *Mutator) notifyCascade(componentID int64) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("⚠️ Cascade panic for component %d: %v", componentID, r)
		}
	}()
	m.cascade.ComponentChanged(context.Background(), componentID)
}
