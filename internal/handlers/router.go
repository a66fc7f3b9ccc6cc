package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MerlinStacks/overseek-sub004/internal/audit"
	"github.com/MerlinStacks/overseek-sub004/internal/bom"
	"github.com/MerlinStacks/overseek-sub004/internal/config"
	"github.com/MerlinStacks/overseek-sub004/internal/database"
	"github.com/MerlinStacks/overseek-sub004/internal/jobs"
	"github.com/MerlinStacks/overseek-sub004/internal/middleware"
	"github.com/MerlinStacks/overseek-sub004/internal/services/syncer"
	"github.com/MerlinStacks/overseek-sub004/internal/stock"
	"github.com/MerlinStacks/overseek-sub004/internal/websocket"
	"github.com/gorilla/mux"
)

// Router wraps the mux router with the service dependencies
type Router struct {
	*mux.Router
	db         *database.DB
	cfg        *config.Config
	mutator    *stock.Mutator
	boms       *bom.Service
	deact      *bom.DeactivationManager
	dispatcher *jobs.Dispatcher
	auditLog   *audit.Log
	syncer     *syncer.Service
	hub        *websocket.Hub
}

// Deps bundles everything the HTTP surface needs.
type Deps struct {
	DB         *database.DB
	Cfg        *config.Config
	Mutator    *stock.Mutator
	BOMs       *bom.Service
	Deact      *bom.DeactivationManager
	Dispatcher *jobs.Dispatcher
	AuditLog   *audit.Log
	Syncer     *syncer.Service
	Hub        *websocket.Hub
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(d Deps) *Router {
	r := &Router{
		Router:     mux.NewRouter(),
		db:         d.DB,
		cfg:        d.Cfg,
		mutator:    d.Mutator,
		boms:       d.BOMs,
		deact:      d.Deact,
		dispatcher: d.Dispatcher,
		auditLog:   d.AuditLog,
		syncer:     d.Syncer,
		hub:        d.Hub,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Auth routes
	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", r.login).Methods("POST")

	// Job progress stream
	r.HandleFunc("/ws", r.serveWS).Methods("GET")

	// API routes (protected)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware(d.Cfg.JWTSecret))

	// BOM routes
	api.HandleFunc("/boms", r.createBOM).Methods("POST")
	api.HandleFunc("/boms/{id}/effective-stock", r.getEffectiveStock).Methods("GET")
	api.HandleFunc("/boms/{id}/sync", r.syncOneBOM).Methods("POST")
	api.HandleFunc("/bom-items/{id}/reactivate", r.reactivateItem).Methods("POST")

	// Stock routes
	api.HandleFunc("/stock/adjust", r.adjustStock).Methods("POST")

	// Account-scoped routes
	api.HandleFunc("/accounts/{accountId}/sync", r.enqueueBulkSync).Methods("POST")
	api.HandleFunc("/accounts/{accountId}/sync", r.getBulkSyncStatus).Methods("GET")
	api.HandleFunc("/accounts/{accountId}/sync", r.cancelBulkSync).Methods("DELETE")
	api.HandleFunc("/accounts/{accountId}/sync/history", r.listSyncHistory).Methods("GET")
	api.HandleFunc("/accounts/{accountId}/deactivated-items", r.listDeactivatedItems).Methods("GET")
	api.HandleFunc("/accounts/{accountId}/audit", r.getAuditHistory).Methods("GET")

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
