package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MerlinStacks/overseek-sub004/internal/audit"
	"github.com/MerlinStacks/overseek-sub004/internal/bom"
	"github.com/MerlinStacks/overseek-sub004/internal/config"
	"github.com/MerlinStacks/overseek-sub004/internal/database"
	"github.com/MerlinStacks/overseek-sub004/internal/handlers"
	"github.com/MerlinStacks/overseek-sub004/internal/jobs"
	"github.com/MerlinStacks/overseek-sub004/internal/models"
	"github.com/MerlinStacks/overseek-sub004/internal/services/syncer"
	"github.com/MerlinStacks/overseek-sub004/internal/stock"
	"github.com/MerlinStacks/overseek-sub004/internal/storefront"
	"github.com/MerlinStacks/overseek-sub004/internal/storefront/odoo"
	"github.com/MerlinStacks/overseek-sub004/internal/storefront/woocommerce"
	"github.com/MerlinStacks/overseek-sub004/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema (Critical for Zero-Config)
	log.Println("🚀 Synchronizing database schema...")
	err = db.AutoMigrate(
		&models.UserAuth{},
		&models.Account{},

		// Inventory core
		&models.Component{},
		&models.BOM{},
		&models.BOMItem{},
		&models.StockAuditEntry{},

		// Job tables
		&models.SyncJob{},
		&models.SyncJobRun{},
	)
	if err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	// 4. Storefront providers
	registry := storefront.NewRegistry()
	if err := registry.Register(woocommerce.NewProvider()); err != nil {
		log.Fatalf("Failed to register WooCommerce provider: %v", err)
	}
	if err := registry.Register(odoo.NewProvider()); err != nil {
		log.Fatalf("Failed to register Odoo provider: %v", err)
	}
	log.Printf("✅ Storefront providers registered: %v", registry.Codes())

	// 5. Job progress hub
	hub := websocket.NewHub()
	go hub.Run()

	// 6. Core services
	boms := bom.NewService(db)
	deact := bom.NewDeactivationManager(db)
	mutator := stock.NewMutator(db)
	auditLog := audit.NewLog(db)

	pushTimeout := time.Duration(cfg.Jobs.PushTimeoutSec) * time.Second
	syncSvc := syncer.NewService(db, boms, deact, mutator, registry, pushTimeout)

	dispatcher := jobs.NewDispatcher(db, syncSvc, boms, hub, cfg.Jobs.Workers)

	// The cascade writes through the mutator and enqueues pushes; the
	// mutator triggers the cascade on every non-cascade mutation. Wire
	// the cycle up after construction.
	propagator := bom.NewPropagator(db, boms, mutator, dispatcher)
	mutator.SetCascade(propagator)

	if err := dispatcher.Start(); err != nil {
		log.Fatalf("Failed to start job dispatcher: %v", err)
	}
	log.Printf("✅ Job dispatcher started (%d workers)", cfg.Jobs.Workers)

	// 7. HTTP router
	router := handlers.NewRouter(handlers.Deps{
		DB:         db,
		Cfg:        cfg,
		Mutator:    mutator,
		BOMs:       boms,
		Deact:      deact,
		Dispatcher: dispatcher,
		AuditLog:   auditLog,
		Syncer:     syncSvc,
		Hub:        hub,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ HTTP shutdown error: %v", err)
	}

	// Stop workers before closing the database so in-flight jobs can
	// persist their final state.
	dispatcher.Stop()

	if err := db.Close(); err != nil {
		log.Printf("⚠️ Database shutdown error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
