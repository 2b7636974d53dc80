package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dvloznov/offline-ledger/internal/api/middleware"
	"github.com/dvloznov/offline-ledger/internal/domain"
	"github.com/dvloznov/offline-ledger/internal/engine"
	"github.com/dvloznov/offline-ledger/internal/localstore"
	"github.com/dvloznov/offline-ledger/internal/pullmerge"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds request bodies; imports are the largest payloads.
const maxBodyBytes = 32 << 20

// Ledger is the part of the engine the HTTP surface uses.
type Ledger interface {
	List(ctx context.Context, c domain.Collection) ([]domain.Record, error)
	Find(ctx context.Context, c domain.Collection, id string) (domain.Record, error)
	Add(ctx context.Context, c domain.Collection, rec domain.Record) (domain.Record, error)
	Update(ctx context.Context, c domain.Collection, id string, patch domain.Record) (domain.Record, error)
	Delete(ctx context.Context, c domain.Collection, id string) (bool, error)
	ReconcileTransaction(ctx context.Context, id string, reconciled bool) (domain.Record, error)

	Budgets(ctx context.Context) (map[string]any, error)
	SaveBudgets(ctx context.Context, budgets map[string]any) (map[string]any, error)
	Settings(ctx context.Context) (domain.Record, error)
	UpdateSettings(ctx context.Context, patch domain.Record) (domain.Record, error)

	ExportData(ctx context.Context) ([]byte, error)
	ImportData(ctx context.Context, payload []byte) (engine.ImportResult, error)
	PullAndMerge(ctx context.Context) (pullmerge.Result, error)
	LastSync(ctx context.Context) (time.Time, bool, error)
	ClearData(ctx context.Context) error
	FactoryReset(ctx context.Context) error
	Status() engine.Status
}

var _ Ledger = (*engine.Engine)(nil)

// writeEngineError maps engine and store errors to HTTP statuses.
func writeEngineError(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, localstore.ErrNotFound), errors.Is(err, engine.ErrUnknownOperation):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrMissingID), errors.Is(err, engine.ErrMalformedImport):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrNoSession):
		status = http.StatusConflict
	case errors.Is(err, localstore.ErrQuotaExceeded):
		status = http.StatusInsufficientStorage
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, status, msg)
		return
	}
	log.Debug().Err(err).Int("status", status).Msg(msg)
	middleware.WriteError(w, status, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// CollectionsHandler serves the generic record endpoints of every sequence
// collection.
type CollectionsHandler struct {
	ledger Ledger
	log    zerolog.Logger
}

// NewCollectionsHandler creates a new collections handler.
func NewCollectionsHandler(ledger Ledger, log zerolog.Logger) *CollectionsHandler {
	return &CollectionsHandler{
		ledger: ledger,
		log:    log,
	}
}

func (h *CollectionsHandler) collection(w http.ResponseWriter, name string) (domain.Collection, bool) {
	c, err := domain.ParseCollection(name)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Unknown collection")
		return "", false
	}
	return c, true
}

// List handles GET /api/collections/{name}
func (h *CollectionsHandler) List(w http.ResponseWriter, r *http.Request, name string) {
	c, ok := h.collection(w, name)
	if !ok {
		return
	}

	records, err := h.ledger.List(r.Context(), c)
	if err != nil {
		writeEngineError(w, h.log, err, "Failed to list records")
		return
	}
	if records == nil {
		records = []domain.Record{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// Get handles GET /api/collections/{name}/{id}
func (h *CollectionsHandler) Get(w http.ResponseWriter, r *http.Request, name, id string) {
	c, ok := h.collection(w, name)
	if !ok {
		return
	}

	rec, err := h.ledger.Find(r.Context(), c, id)
	if err != nil {
		writeEngineError(w, h.log, err, "Failed to get record")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

// Create handles POST /api/collections/{name}
func (h *CollectionsHandler) Create(w http.ResponseWriter, r *http.Request, name string) {
	c, ok := h.collection(w, name)
	if !ok {
		return
	}

	var rec domain.Record
	if err := decodeBody(r, &rec); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, err := h.ledger.Add(r.Context(), c, rec)
	if err != nil {
		writeEngineError(w, h.log, err, "Failed to add record")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, created)
}

// Update handles PUT /api/collections/{name}/{id}
func (h *CollectionsHandler) Update(w http.ResponseWriter, r *http.Request, name, id string) {
	c, ok := h.collection(w, name)
	if !ok {
		return
	}

	var patch domain.Record
	if err := decodeBody(r, &patch); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := h.ledger.Update(r.Context(), c, id, patch)
	if err != nil {
		writeEngineError(w, h.log, err, "Failed to update record")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/collections/{name}/{id}
func (h *CollectionsHandler) Delete(w http.ResponseWriter, r *http.Request, name, id string) {
	c, ok := h.collection(w, name)
	if !ok {
		return
	}

	existed, err := h.ledger.Delete(r.Context(), c, id)
	if err != nil {
		writeEngineError(w, h.log, err, "Failed to delete record")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"deleted": existed,
	})
}

// Reconcile handles POST /api/transactions/{id}/reconcile
func (h *CollectionsHandler) Reconcile(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Reconciled *bool `json:"reconciled"`
	}
	if err := decodeBody(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Reconciled == nil {
		middleware.WriteError(w, http.StatusBadRequest, "reconciled is required")
		return
	}

	rec, err := h.ledger.ReconcileTransaction(r.Context(), id, *req.Reconciled)
	if err != nil {
		writeEngineError(w, h.log, err, "Failed to reconcile transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}
