// Package api assembles the HTTP surface over the ledger engine.
package api

import (
	"net/http"
	"time"

	"github.com/dvloznov/offline-ledger/internal/api/handlers"
	"github.com/dvloznov/offline-ledger/internal/api/middleware"
	"github.com/rs/zerolog"
)

// Options configures NewHandler.
type Options struct {
	Ledger handlers.Ledger
	Events handlers.Subscriber
	// Token enables bearer authentication when non-empty.
	Token string
	Log   zerolog.Logger
}

// methods dispatches on the request method and answers 405 otherwise.
func methods(byMethod map[string]http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h, ok := byMethod[r.Method]; ok {
			h(w, r)
			return
		}
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// NewHandler builds the router wrapped in the middleware chain.
func NewHandler(opts Options) http.Handler {
	log := opts.Log
	collections := handlers.NewCollectionsHandler(opts.Ledger, log)
	settings := handlers.NewSettingsHandler(opts.Ledger, log)
	data := handlers.NewDataHandler(opts.Ledger, log)

	mux := http.NewServeMux()

	// Collection endpoints
	mux.HandleFunc("/api/collections/{name}", methods(map[string]http.HandlerFunc{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) {
			collections.List(w, r, r.PathValue("name"))
		},
		http.MethodPost: func(w http.ResponseWriter, r *http.Request) {
			collections.Create(w, r, r.PathValue("name"))
		},
	}))

	mux.HandleFunc("/api/collections/{name}/{id}", methods(map[string]http.HandlerFunc{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) {
			collections.Get(w, r, r.PathValue("name"), r.PathValue("id"))
		},
		http.MethodPut: func(w http.ResponseWriter, r *http.Request) {
			collections.Update(w, r, r.PathValue("name"), r.PathValue("id"))
		},
		http.MethodDelete: func(w http.ResponseWriter, r *http.Request) {
			collections.Delete(w, r, r.PathValue("name"), r.PathValue("id"))
		},
	}))

	mux.HandleFunc("/api/transactions/{id}/reconcile", methods(map[string]http.HandlerFunc{
		http.MethodPost: func(w http.ResponseWriter, r *http.Request) {
			collections.Reconcile(w, r, r.PathValue("id"))
		},
	}))

	// Settings and budgets
	mux.HandleFunc("/api/settings", methods(map[string]http.HandlerFunc{
		http.MethodGet: settings.GetSettings,
		http.MethodPut: settings.UpdateSettings,
	}))
	mux.HandleFunc("/api/budgets", methods(map[string]http.HandlerFunc{
		http.MethodGet: settings.GetBudgets,
		http.MethodPut: settings.SaveBudgets,
	}))

	// Bulk data, sync and reset
	mux.HandleFunc("/api/export", methods(map[string]http.HandlerFunc{http.MethodGet: data.Export}))
	mux.HandleFunc("/api/import", methods(map[string]http.HandlerFunc{http.MethodPost: data.Import}))
	mux.HandleFunc("/api/sync/pull", methods(map[string]http.HandlerFunc{http.MethodPost: data.Pull}))
	mux.HandleFunc("/api/sync/status", methods(map[string]http.HandlerFunc{http.MethodGet: data.SyncStatus}))
	mux.HandleFunc("/api/reset/clear", methods(map[string]http.HandlerFunc{http.MethodPost: data.ClearData}))
	mux.HandleFunc("/api/reset/factory", methods(map[string]http.HandlerFunc{http.MethodPost: data.FactoryReset}))

	if opts.Events != nil {
		stream := handlers.NewEventsHandler(opts.Events, log)
		mux.HandleFunc("/api/events", methods(map[string]http.HandlerFunc{http.MethodGet: stream.Stream}))
	}

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]any{
			"status": "healthy",
			"online": opts.Ledger.Status().Online,
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Auth(opts.Token)(mux),
				),
			),
		),
	)
}
