package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zene/zenesync/internal/models"
	"github.com/zene/zenesync/internal/observability"
	"github.com/zene/zenesync/internal/repository"
)

// ChangeNotifier receives an event for every committed mutation
type ChangeNotifier interface {
	NotifyRowChanged(event models.ChangeEvent)
}

// TableHandler serves the generic /api/tables/{table} endpoints
type TableHandler struct {
	repo     repository.TableRepo
	notifier ChangeNotifier
	logger   *observability.Logger
}

// NewTableHandler creates a new TableHandler. notifier may be nil.
func NewTableHandler(repo repository.TableRepo, notifier ChangeNotifier) *TableHandler {
	return &TableHandler{
		repo:     repo,
		notifier: notifier,
		logger:   observability.GetLogger().WithField("component", "tables"),
	}
}

// reserved query parameters that are not equality filters
var reservedParams = map[string]bool{"order": true, "single": true}

func (h *TableHandler) table(w http.ResponseWriter, r *http.Request) (models.Table, bool) {
	table, err := models.LookupTable(chi.URLParam(r, "table"))
	if err != nil {
		respondError(w, http.StatusNotFound, "Unknown table.")
		return models.Table{}, false
	}
	return table, true
}

func matchFromQuery(r *http.Request) map[string]any {
	match := map[string]any{}
	for k, v := range r.URL.Query() {
		if reservedParams[k] || len(v) == 0 {
			continue
		}
		match[k] = v[0]
	}
	return match
}

// List handles GET /api/tables/{table}?field=value&order=field[&single=true]
func (h *TableHandler) List(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}

	rows, err := h.repo.Select(r.Context(), table, matchFromQuery(r), r.URL.Query().Get("order"))
	if err != nil {
		h.logger.WithContext(r.Context()).Errorf("Select %s failed: %v", table.Name, err)
		respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}

	if r.URL.Query().Get("single") == "true" {
		if len(rows) == 0 {
			respondError(w, http.StatusNotFound, "No matching row.")
			return
		}
		rows = rows[:1]
	}

	respondJSON(w, http.StatusOK, models.RowsResponse{Rows: rows})
}

// Insert handles POST /api/tables/{table}. With on_conflict set it upserts.
func (h *TableHandler) Insert(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	if table.ReadOnly {
		respondError(w, http.StatusForbidden, models.ErrReadOnlyTable.Error())
		return
	}

	var req models.InsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Row == nil {
		respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	var (
		row models.Row
		err error
	)
	op := models.OpCreate
	if len(req.OnConflict) > 0 {
		row, err = h.repo.Upsert(r.Context(), table, req.Row, req.OnConflict)
	} else {
		row, err = h.repo.Insert(r.Context(), table, req.Row)
	}
	if err != nil {
		h.respondRepoError(w, r, table, err)
		return
	}

	h.notify(table, op, row)
	respondJSON(w, http.StatusCreated, models.RowsResponse{Rows: []models.Row{row}})
}

// Update handles PATCH /api/tables/{table}?field=value with the changes as body
func (h *TableHandler) Update(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	if table.ReadOnly {
		respondError(w, http.StatusForbidden, models.ErrReadOnlyTable.Error())
		return
	}

	match := matchFromQuery(r)
	if len(match) == 0 {
		respondError(w, http.StatusBadRequest, "At least one filter is required.")
		return
	}

	var changes models.Row
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	rows, err := h.repo.Update(r.Context(), table, match, changes)
	if err != nil {
		h.respondRepoError(w, r, table, err)
		return
	}

	for _, row := range rows {
		h.notify(table, models.OpUpdate, row)
	}
	respondJSON(w, http.StatusOK, models.RowsResponse{Rows: rows})
}

// Delete handles DELETE /api/tables/{table}?field=value
func (h *TableHandler) Delete(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	if table.ReadOnly {
		respondError(w, http.StatusForbidden, models.ErrReadOnlyTable.Error())
		return
	}

	match := matchFromQuery(r)
	if len(match) == 0 {
		respondError(w, http.StatusBadRequest, "At least one filter is required.")
		return
	}

	rows, err := h.repo.Delete(r.Context(), table, match)
	if err != nil {
		h.respondRepoError(w, r, table, err)
		return
	}

	for _, row := range rows {
		h.notify(table, models.OpDelete, row)
	}
	respondJSON(w, http.StatusOK, models.RowsResponse{Rows: rows})
}

func (h *TableHandler) notify(table models.Table, op models.OpKind, row models.Row) {
	if h.notifier == nil || !table.UserScoped {
		return
	}
	h.notifier.NotifyRowChanged(models.ChangeEvent{
		Table:     table.Name,
		UserID:    row.UserID(),
		Operation: op,
	})
}

func (h *TableHandler) respondRepoError(w http.ResponseWriter, r *http.Request, table models.Table, err error) {
	switch {
	case errors.Is(err, repository.ErrDuplicateKey):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrTempID), errors.Is(err, models.ErrIncompleteKey):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.WithContext(r.Context()).Errorf("Write to %s failed: %v", table.Name, err)
		respondError(w, http.StatusInternalServerError, "Database error.")
	}
}

// Helper methods

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.ErrorResponse{Error: message})
}
