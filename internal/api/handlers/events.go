package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dvloznov/offline-ledger/internal/events"
	"github.com/rs/zerolog"
)

const keepAliveInterval = 25 * time.Second

// Subscriber is the event bus as seen by the stream handler.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan events.Event, string)
	Unsubscribe(id string)
}

// EventsHandler streams local change notifications as server-sent events.
type EventsHandler struct {
	bus       Subscriber
	log       zerolog.Logger
	keepAlive time.Duration
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(bus Subscriber, log zerolog.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, log: log, keepAlive: keepAliveInterval}
}

// Stream handles GET /api/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The server write timeout would cut long-lived streams.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.log.Debug().Err(err).Msg("cannot clear write deadline")
	}

	ctx := r.Context()
	ch, id := h.bus.Subscribe(ctx)
	defer h.bus.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		h.log.Error().Err(err).Msg("Streaming unsupported")
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

