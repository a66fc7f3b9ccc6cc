package handlers

import (
	"net/http"
	"time"

	"github.com/MerlinStacks/overseek-sub004/internal/audit"
	"github.com/MerlinStacks/overseek-sub004/internal/models"
	"github.com/gorilla/mux"
)

// getAuditHistory returns an account's stock mutation trail with
// component/source/time filters and pagination
func (r *Router) getAuditHistory(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	accountID, err := parseID(vars["accountId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	q := req.URL.Query()
	filters := audit.Filters{
		Source: models.StockSource(q.Get("source")),
	}
	if v := q.Get("componentId"); v != "" {
		if id, err := parseID(v); err == nil {
			filters.ComponentID = id
		}
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.From = &t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.To = &t
		}
	}
	if v := q.Get("page"); v != "" {
		if n, err := parseID(v); err == nil {
			filters.Page = int(n)
		}
	}
	if v := q.Get("pageSize"); v != "" {
		if n, err := parseID(v); err == nil {
			filters.PageSize = int(n)
		}
	}

	entries, total, err := r.auditLog.History(req.Context(), accountID, filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load audit history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":   total,
		"entries": entries,
	})
}
