package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MerlinStacks/overseek-sub004/internal/bom"
	"github.com/MerlinStacks/overseek-sub004/internal/models"
	"github.com/gorilla/mux"
)

// createBOM validates and persists a new BOM with its items
func (r *Router) createBOM(w http.ResponseWriter, req *http.Request) {
	var input bom.CreateBOMInput
	if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	created, err := r.boms.CreateBOM(req.Context(), &input)
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, created)
	case errors.Is(err, bom.ErrComponentNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, bom.ErrNestedBOM),
		errors.Is(err, bom.ErrDuplicateBOM),
		errors.Is(err, models.ErrItemComponentRef),
		errors.Is(err, models.ErrItemQuantityPerUnit):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "Failed to create BOM")
	}
}

// getEffectiveStock recomputes one BOM's effective stock on demand
func (r *Router) getEffectiveStock(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	bomID, err := parseID(vars["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid BOM id")
		return
	}

	result, err := r.boms.ComputeForBOM(req.Context(), bomID)
	if err != nil {
		if errors.Is(err, bom.ErrBOMNotFound) {
			respondError(w, http.StatusNotFound, "BOM not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to compute effective stock")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// listDeactivatedItems returns an account's inactive BOM items grouped
// by deactivation reason
func (r *Router) listDeactivatedItems(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	accountID, err := parseID(vars["accountId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	grouped, err := r.deact.ListDeactivated(req.Context(), accountID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list deactivated items")
		return
	}

	respondJSON(w, http.StatusOK, grouped)
}

// reactivateItem flips a deactivated BOM item back into the computation.
// The operator is expected to have re-mapped or confirmed the component.
func (r *Router) reactivateItem(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	itemID, err := parseID(vars["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid item id")
		return
	}

	item, err := r.deact.Reactivate(req.Context(), itemID)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"item":    item,
		})
	case errors.Is(err, bom.ErrItemNotFound):
		respondError(w, http.StatusNotFound, "BOM item not found")
	case errors.Is(err, bom.ErrItemActive):
		respondError(w, http.StatusConflict, "BOM item is already active")
	default:
		respondError(w, http.StatusInternalServerError, "Failed to reactivate item")
	}
}
