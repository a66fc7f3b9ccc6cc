package bom

import (
	"testing"

	"github.com/MerlinStacks/overseek-sub004/internal/database"
	"github.com/MerlinStacks/overseek-sub004/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an isolated in-memory database with the inventory schema.
func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("Failed to access sql.DB: %v", err)
	}
	// A single connection keeps the in-memory database alive and shared.
	sqlDB.SetMaxOpenConns(1)

	err = gdb.AutoMigrate(
		&models.Account{},
		&models.Component{},
		&models.BOM{},
		&models.BOMItem{},
		&models.StockAuditEntry{},
		&models.SyncJob{},
		&models.SyncJobRun{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test schema: %v", err)
	}

	db := &database.DB{DB: gdb}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func seedComponent(t *testing.T, db *database.DB, accountID int64, kind models.ComponentKind, name string, qty int64) *models.Component {
	t.Helper()
	c := &models.Component{
		AccountID:   accountID,
		Kind:        kind,
		Name:        name,
		SKU:         name,
		Quantity:    qty,
		ManageStock: true,
	}
	c.RefreshStockStatus()
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("Failed to seed component %q: %v", name, err)
	}
	return c
}

func seedBOM(t *testing.T, db *database.DB, accountID int64, parent *models.Component, items ...models.BOMItem) *models.BOM {
	t.Helper()
	b := &models.BOM{
		AccountID:          accountID,
		ProductComponentID: parent.ID,
		Items:              items,
	}
	if err := db.Create(b).Error; err != nil {
		t.Fatalf("Failed to seed bom: %v", err)
	}
	return b
}

func productItem(componentID int64, perUnit float64) models.BOMItem {
	id := componentID
	return models.BOMItem{ProductComponentID: &id, QuantityPerUnit: perUnit, Active: true}
}

func internalItem(componentID int64, perUnit float64) models.BOMItem {
	id := componentID
	return models.BOMItem{InternalComponentID: &id, QuantityPerUnit: perUnit, Active: true}
}
