package handler

import (
	"fmt"
	"net/http"
	"time"

	"session-guard/internal/stream"
	"session-guard/pkg/apierror"
)

type EventsHandler struct {
	hub       *stream.Hub
	heartbeat time.Duration
}

func NewEventsHandler(hub *stream.Hub, heartbeat time.Duration) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &EventsHandler{hub: hub, heartbeat: heartbeat}
}

// Stream relays diagnostics and repair progress as server-sent events.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierror.New(apierror.CodeInternal, "streaming unsupported", "", http.StatusInternalServerError))
		return
	}

	client := h.hub.Register(r.Context())
	if client == nil {
		writeError(w, apierror.New(apierror.CodeInternal, "event stream unavailable", "", http.StatusServiceUnavailable))
		return
	}
	defer h.hub.Unregister(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case message, open := <-client.Messages():
			if !open {
				return
			}
			if _, err := fmt.Fprintf(w, "event: session\ndata: %s\n\n", message); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
