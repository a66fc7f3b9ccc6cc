package handlers

import (
	"errors"
	"net/http"

	"github.com/MerlinStacks/overseek-sub004/internal/bom"
	"github.com/MerlinStacks/overseek-sub004/internal/jobs"
	"github.com/MerlinStacks/overseek-sub004/internal/services/syncer"
	"github.com/MerlinStacks/overseek-sub004/internal/storefront"
	"github.com/gorilla/mux"
)

// syncOneBOM recomputes and pushes one BOM synchronously
func (r *Router) syncOneBOM(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	bomID, err := parseID(vars["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid BOM id")
		return
	}

	b, err := r.boms.GetBOM(req.Context(), bomID)
	if err != nil {
		if errors.Is(err, bom.ErrBOMNotFound) {
			respondError(w, http.StatusNotFound, "BOM not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load BOM")
		return
	}

	result, err := r.syncer.SyncOneBOM(req.Context(), b.AccountID, bomID)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, result)
	case errors.Is(err, syncer.ErrAccountNotFound):
		respondError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, storefront.ErrNotFound):
		respondError(w, http.StatusConflict, "Storefront reports the product gone")
	case errors.Is(err, storefront.ErrUnreachable):
		respondError(w, http.StatusBadGateway, "Storefront unreachable")
	default:
		respondError(w, http.StatusInternalServerError, "Sync failed")
	}
}

// enqueueBulkSync schedules a full account sync
func (r *Router) enqueueBulkSync(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	accountID, err := parseID(vars["accountId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	result, err := r.dispatcher.EnqueueBulkSync(req.Context(), accountID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue bulk sync")
		return
	}

	status := http.StatusAccepted
	if result.Status != jobs.StatusQueued {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

// getBulkSyncStatus reports whether a bulk sync is running
func (r *Router) getBulkSyncStatus(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	accountID, err := parseID(vars["accountId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	status, err := r.dispatcher.GetBulkSyncStatus(req.Context(), accountID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load sync status")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// cancelBulkSync cancels a bulk sync regardless of state
func (r *Router) cancelBulkSync(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	accountID, err := parseID(vars["accountId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	result, err := r.dispatcher.CancelBulkSync(req.Context(), accountID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to cancel sync")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// listSyncHistory returns the persisted job run history for an account
func (r *Router) listSyncHistory(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	accountID, err := parseID(vars["accountId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	limit := 0
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := parseID(v); err == nil {
			limit = int(n)
		}
	}

	runs, err := r.dispatcher.ListRuns(req.Context(), accountID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list sync history")
		return
	}
	respondJSON(w, http.StatusOK, runs)
}
