package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/dvloznov/offline-ledger/internal/api/middleware"
	"github.com/dvloznov/offline-ledger/internal/domain"
	"github.com/rs/zerolog"
)

// SettingsHandler serves the settings singleton and the budget map.
type SettingsHandler struct {
	ledger Ledger
	log    zerolog.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(ledger Ledger, log zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{ledger: ledger, log: log}
}

// GetSettings handles GET /api/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.ledger.Settings(r.Context())
	if err != nil {
		writeEngineError(w, h.log, err, "Failed to read settings")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, settings)
}

// UpdateSettings handles PUT /api/settings
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch domain.Record
	if err := decodeBody(r, &patch); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	settings, err := h.ledger.UpdateSettings(r.Context(), patch)
	if err != nil {
		writeEngineError(w, h.log, err, "Failed to update settings")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, settings)
}

// GetBudgets handles GET /api/budgets
func (h *SettingsHandler) GetBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := h.ledger.Budgets(r.Context())
	if err != nil {
		writeEngineError(w, h.log, err, "Failed to read budgets")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, budgets)
}

// SaveBudgets handles PUT /api/budgets
func (h *SettingsHandler) SaveBudgets(w http.ResponseWriter, r *http.Request) {
	var budgets map[string]any
	if err := decodeBody(r, &budgets); err != nil || budgets == nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	saved, err := h.ledger.SaveBudgets(r.Context(), budgets)
	if err != nil {
		writeEngineError(w, h.log, err, "Failed to save budgets")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, saved)
}

// DataHandler serves bulk export/import, sync and reset endpoints.
type DataHandler struct {
	ledger Ledger
	log    zerolog.Logger
}

// NewDataHandler creates a new data handler.
func NewDataHandler(ledger Ledger, log zerolog.Logger) *DataHandler {
	return &DataHandler{ledger: ledger, log: log}
}

// Export handles GET /api/export
func (h *DataHandler) Export(w http.ResponseWriter, r *http.Request) {
	blob, err := h.ledger.ExportData(r.Context())
	if err != nil {
		writeEngineError(w, h.log, err, "Failed to export data")
		return
	}

	name := "ledger-export-" + time.Now().UTC().Format("20060102T150405Z") + ".json"
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}

// Import handles POST /api/import
func (h *DataHandler) Import(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.ledger.ImportData(r.Context(), payload)
	if err != nil {
		writeEngineError(w, h.log, err, "Failed to import data")
		return
	}
	h.log.Info().Int("collections", len(res.Collections)).Msg("Data imported")
	middleware.WriteJSON(w, http.StatusOK, res)
}

// Pull handles POST /api/sync/pull
func (h *DataHandler) Pull(w http.ResponseWriter, r *http.Request) {
	res, err := h.ledger.PullAndMerge(r.Context())
	if err != nil {
		writeEngineError(w, h.log, err, "Failed to pull remote data")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// SyncStatus handles GET /api/sync/status
func (h *DataHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": h.ledger.Status()}
	last, ok, err := h.ledger.LastSync(r.Context())
	if err != nil {
		writeEngineError(w, h.log, err, "Failed to read sync status")
		return
	}
	if ok {
		resp["lastSync"] = last
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// ClearData handles POST /api/reset/clear
func (h *DataHandler) ClearData(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.ClearData(r.Context()); err != nil {
		writeEngineError(w, h.log, err, "Failed to clear data")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// FactoryReset handles POST /api/reset/factory
func (h *DataHandler) FactoryReset(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.FactoryReset(r.Context()); err != nil {
		writeEngineError(w, h.log, err, "Failed to reset")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
