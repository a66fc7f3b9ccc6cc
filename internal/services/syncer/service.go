package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/MerlinStacks/overseek-sub004/internal/bom"
	"github.com/MerlinStacks/overseek-sub004/internal/database"
	"github.com/MerlinStacks/overseek-sub004/internal/jobs"
	"github.com/MerlinStacks/overseek-sub004/internal/models"
	"github.com/MerlinStacks/overseek-sub004/internal/storefront"
	"gorm.io/gorm"
)

// ErrAccountNotFound is returned when the account does not exist or is
// disabled.
var ErrAccountNotFound = errors.New("account not found")

// Service recomputes BOM stocks and pushes them to the storefront. It is
// the executor behind both job kinds: single-BOM pushes and bulk account
// syncs.
type Service struct {
	db       *database.DB
	boms     *bom.Service
	deact    *bom.DeactivationManager
	writer   bom.StockWriter
	registry *storefront.Registry

	pushTimeout time.Duration
}

func NewService(db *database.DB, boms *bom.Service, deact *bom.DeactivationManager, writer bom.StockWriter, registry *storefront.Registry, pushTimeout time.Duration) *Service {
	if pushTimeout <= 0 {
		pushTimeout = 15 * time.Second
	}
	return &Service{
		db:          db,
		boms:        boms,
		deact:       deact,
		writer:      writer,
		registry:    registry,
		pushTimeout: pushTimeout,
	}
}

// SyncResult is the outcome of one single-BOM sync. It is only returned
// alongside a nil error; failures come back as a plain error.
type SyncResult struct {
	Success  bool  `json:"success"`
	NewStock int64 `json:"newStock"`
	Skipped  bool  `json:"skipped,omitempty"`
}

// SyncOneBOM recomputes one BOM's effective stock, records the derived
// quantity locally (cascade-suppressed source) and pushes it to the
// storefront under a bounded timeout. Safe to retry; idempotent from the
// caller's perspective.
func (s *Service) SyncOneBOM(ctx context.Context, accountID, bomID int64) (*SyncResult, error) {
	acct, provider, err := s.accountProvider(ctx, accountID)
	if err != nil {
		return nil, err
	}

	result, err := s.boms.ComputeForBOM(ctx, bomID)
	if err != nil {
		return nil, err
	}
	if result.AccountID != accountID {
		return nil, bom.ErrBOMNotFound
	}

	// Record the derived quantity locally. SourceBOMCascade keeps this
	// write from spawning another cascade.
	if result.Derived && result.NeedsSync {
		reason := fmt.Sprintf("sync bom %d: effective stock %d", bomID, result.EffectiveStock)
		if _, err := s.writer.SetAbsolute(ctx, result.ParentComponentID(), result.EffectiveStock, reason, models.SourceBOMCascade); err != nil {
			return nil, fmt.Errorf("record derived stock: %w", err)
		}
	}

	parent, err := s.parentComponent(ctx, result.ParentComponentID())
	if err != nil {
		return nil, err
	}
	if !parent.IsExternal() {
		// Nothing to push for a purely local parent.
		return &SyncResult{Success: true, NewStock: result.EffectiveStock, Skipped: true}, nil
	}

	pushCtx, cancel := context.WithTimeout(ctx, s.pushTimeout)
	defer cancel()

	newStock := result.EffectiveStock
	if parent.Kind == models.KindVariation && parent.ExternalParentID != nil {
		err = provider.UpdateVariationStock(pushCtx, acct, *parent.ExternalParentID, *parent.ExternalID, newStock, parent.ManageStock)
	} else {
		err = provider.UpdateProductStock(pushCtx, acct, *parent.ExternalID, newStock, parent.ManageStock)
	}
	if err != nil {
		log.Printf("❌ Storefront push failed for bom %d (component %d): %v", bomID, parent.ID, err)
		return nil, err
	}

	return &SyncResult{Success: true, NewStock: newStock}, nil
}

// VerifyBOMComponents asks the storefront whether each active item's
// component still exists and deactivates the items whose component is
// gone. Transport failures are skipped: "unreachable" must never be read
// as "deleted".
func (s *Service) VerifyBOMComponents(ctx context.Context, acct *models.Account, provider storefront.Provider, b *models.BOM) {
	for _, item := range b.ActiveItems() {
		comp, err := s.parentComponent(ctx, item.ComponentID())
		if err != nil || !comp.IsExternal() {
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, s.pushTimeout)
		if comp.Kind == models.KindVariation && comp.ExternalParentID != nil {
			_, err = provider.GetVariation(checkCtx, acct, *comp.ExternalParentID, *comp.ExternalID)
		} else {
			_, err = provider.GetProduct(checkCtx, acct, *comp.ExternalID)
		}
		cancel()

		if errors.Is(err, storefront.ErrNotFound) {
			reason := models.ReasonComponentDeleted
			if comp.Kind == models.KindVariation {
				reason = models.ReasonVariationDeleted
			}
			if _, derr := s.deact.Deactivate(ctx, item.ID, reason); derr != nil {
				log.Printf("⚠️ Could not deactivate item %d: %v", item.ID, derr)
			}
		}
	}
}

// Execute implements jobs.Executor for both job kinds.
func (s *Service) Execute(ctx context.Context, job *models.SyncJob, progress jobs.ProgressFunc) (*jobs.RunStats, error) {
	switch job.Kind {
	case models.JobKindBOMPush:
		return s.executePush(ctx, job, progress)
	case models.JobKindBulkSync:
		return s.executeBulk(ctx, job, progress)
	default:
		return nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (s *Service) executePush(ctx context.Context, job *models.SyncJob, progress jobs.ProgressFunc) (*jobs.RunStats, error) {
	var payload jobs.BOMPushPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode push payload: %w", err)
	}

	stats := &jobs.RunStats{}
	res, err := s.SyncOneBOM(ctx, job.AccountID, payload.BOMID)
	if err != nil {
		return stats, err
	}
	if res.Skipped {
		stats.Skipped++
	} else {
		stats.Synced++
	}
	progress(1, 1)
	return stats, nil
}

// executeBulk syncs every BOM of the account, checking cancellation
// between BOMs. One BOM's failure is recorded and the loop continues.
func (s *Service) executeBulk(ctx context.Context, job *models.SyncJob, progress jobs.ProgressFunc) (*jobs.RunStats, error) {
	acct, provider, err := s.accountProvider(ctx, job.AccountID)
	if err != nil {
		return nil, err
	}

	boms, err := s.boms.BOMsForAccount(ctx, job.AccountID)
	if err != nil {
		return nil, err
	}

	stats := &jobs.RunStats{}
	total := len(boms)
	for i := range boms {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		b := &boms[i]
		s.VerifyBOMComponents(ctx, acct, provider, b)

		res, err := s.SyncOneBOM(ctx, job.AccountID, b.ID)
		switch {
		case err != nil:
			stats.Errors++
			stats.ItemErrors = append(stats.ItemErrors, jobs.ItemError{BOMID: b.ID, Err: err.Error()})
		case res.Skipped:
			stats.Skipped++
		default:
			stats.Synced++
		}

		progress(i+1, total)
	}
	return stats, nil
}

func (s *Service) accountProvider(ctx context.Context, accountID int64) (*models.Account, storefront.Provider, error) {
	var acct models.Account
	err := s.db.WithContext(ctx).First(&acct, accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load account %d: %w", accountID, err)
	}
	if !acct.Active {
		return nil, nil, fmt.Errorf("account %d: %w", accountID, ErrAccountNotFound)
	}

	provider, err := s.registry.Get(acct.Provider)
	if err != nil {
		return nil, nil, fmt.Errorf("account %d: %w", accountID, err)
	}
	return &acct, provider, nil
}

func (s *Service) parentComponent(ctx context.Context, id int64) (*models.Component, error) {
	var c models.Component
	err := s.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("component %d: %w", id, bom.ErrComponentNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
