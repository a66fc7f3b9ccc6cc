package bom

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/MerlinStacks/overseek-sub004/internal/database"
	"github.com/MerlinStacks/overseek-sub004/internal/models"
)

// StockWriter is the write path for parent-component quantities. The
// propagator always writes with SourceBOMCascade, which the mutator does
// not cascade again — that suppression is the loop breaker.
type StockWriter interface {
	SetAbsolute(ctx context.Context, componentID int64, quantity int64, reason string, source models.StockSource) (*models.Component, error)
}

// PushEnqueuer schedules a storefront push for one BOM. Pushes run in the
// background so a slow remote call never blocks local mutations.
type PushEnqueuer interface {
	EnqueueBOMPush(ctx context.Context, accountID, bomID int64) (string, error)
}

// BOMError is a per-BOM failure inside a cascade. One BOM failing never
// aborts the siblings.
type BOMError struct {
	BOMID int64  `json:"bomId"`
	Err   string `json:"error"`
}

// Report summarizes one cascade run.
type Report struct {
	ComponentID int64      `json:"componentId"`
	Total       int        `json:"total"`
	Updated     int        `json:"updated"`
	Skipped     int        `json:"skipped"`
	Errors      []BOMError `json:"errors,omitempty"`
}

// Propagator reacts to a component quantity change: it finds every BOM
// consuming that component (one hop), recomputes each, writes the parent's
// derived quantity, and enqueues a storefront push for BOMs whose visible
// stock changed.
type Propagator struct {
	db     *database.DB
	svc    *Service
	writer StockWriter
	pusher PushEnqueuer
}

func NewPropagator(db *database.DB, svc *Service, writer StockWriter, pusher PushEnqueuer) *Propagator {
	return &Propagator{db: db, svc: svc, writer: writer, pusher: pusher}
}

// ComponentChanged satisfies stock.CascadeTrigger: it runs the cascade
// and logs the outcome. Cascade failures degrade to log lines; a later
// mutation or bulk sync converges the storefront.
func (p *Propagator) ComponentChanged(ctx context.Context, componentID int64) {
	if _, err := p.Run(ctx, componentID); err != nil {
		log.Printf("❌ Cascade for component %d failed: %v", componentID, err)
	}
}

// Run executes the cascade for one changed component. Affected BOMs have
// disjoint parents, so their recompute+push steps run concurrently.
// Errors are collected per BOM and returned as a partial-failure report.
func (p *Propagator) Run(ctx context.Context, componentID int64) (*Report, error) {
	bomIDs, err := p.affectedBOMs(ctx, componentID)
	if err != nil {
		return nil, err
	}

	report := &Report{ComponentID: componentID, Total: len(bomIDs)}
	if len(bomIDs) == 0 {
		return report, nil
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, bomID := range bomIDs {
		wg.Add(1)
		go func(bomID int64) {
			defer wg.Done()
			updated, err := p.propagateOne(ctx, bomID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors = append(report.Errors, BOMError{BOMID: bomID, Err: err.Error()})
				return
			}
			if updated {
				report.Updated++
			} else {
				report.Skipped++
			}
		}(bomID)
	}
	wg.Wait()

	if len(report.Errors) > 0 {
		log.Printf("⚠️ Cascade for component %d: %d/%d boms failed", componentID, len(report.Errors), report.Total)
	}
	return report, nil
}

// affectedBOMs finds the distinct BOMs with an active item referencing the
// component. Inactive (deactivated) items are excluded here, so a broken
// mapping never drags its BOM into the cascade.
func (p *Propagator) affectedBOMs(ctx context.Context, componentID int64) ([]int64, error) {
	var bomIDs []int64
	err := p.db.WithContext(ctx).
		Model(&models.BOMItem{}).
		Distinct("bom_id").
		Where("active = ?", true).
		Where("product_component_id = ? OR internal_component_id = ?", componentID, componentID).
		Pluck("bom_id", &bomIDs).Error
	if err != nil {
		return nil, fmt.Errorf("find boms for component %d: %w", componentID, err)
	}
	return bomIDs, nil
}

// propagateOne recomputes one BOM and, if the externally visible stock
// changed, records the new parent quantity and schedules a push. Returns
// whether the BOM needed an update.
func (p *Propagator) propagateOne(ctx context.Context, bomID int64) (bool, error) {
	result, err := p.svc.ComputeForBOM(ctx, bomID)
	if err != nil {
		return false, err
	}
	if !result.Derived || !result.NeedsSync {
		return false, nil
	}

	reason := fmt.Sprintf("bom %d recompute: effective stock %d", bomID, result.EffectiveStock)
	if _, err := p.writer.SetAbsolute(ctx, result.ParentComponentID(), result.EffectiveStock, reason, models.SourceBOMCascade); err != nil {
		return false, fmt.Errorf("write derived stock: %w", err)
	}

	if _, err := p.pusher.EnqueueBOMPush(ctx, result.AccountID, bomID); err != nil {
		return false, fmt.Errorf("enqueue push: %w", err)
	}
	return true, nil
}
