package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MerlinStacks/overseek-sub004/internal/models"
	"github.com/MerlinStacks/overseek-sub004/internal/stock"
)

// adjustStock applies a relative quantity change through the atomic
// mutator. The cascade to consuming BOMs runs asynchronously.
func (r *Router) adjustStock(w http.ResponseWriter, req *http.Request) {
	var body struct {
		ComponentID int64              `json:"componentId"`
		Delta       int64              `json:"delta"`
		Reason      string             `json:"reason"`
		Source      models.StockSource `json:"source"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if body.ComponentID == 0 {
		respondError(w, http.StatusBadRequest, "componentId is required")
		return
	}

	source := body.Source
	switch source {
	case "":
		source = models.SourceUser
	case models.SourceUser, models.SourceExternalSync:
		// accepted from callers
	default:
		// Cascade-sourced mutations are internal only.
		respondError(w, http.StatusBadRequest, "invalid source")
		return
	}

	component, err := r.mutator.Adjust(req.Context(), body.ComponentID, body.Delta, body.Reason, source)
	if err != nil {
		if errors.Is(err, stock.ErrComponentNotFound) {
			respondError(w, http.StatusNotFound, "Component not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to adjust stock")
		return
	}

	respondJSON(w, http.StatusOK, component)
}

// parseID parses a decimal int64 path or query parameter.
func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
