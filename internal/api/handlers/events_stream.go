package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/narvanalabs/forge/internal/events"
)

// EventStreamHandler streams job progress via Server-Sent Events.
type EventStreamHandler struct {
	broker *events.Broker
	logger *slog.Logger
}

// NewEventStreamHandler creates a new event stream handler.
func NewEventStreamHandler(broker *events.Broker, logger *slog.Logger) *EventStreamHandler {
	return &EventStreamHandler{
		broker: broker,
		logger: logger,
	}
}

// Stream handles GET /v1/jobs/{jobID}/events. Phase transitions and build
// log lines arrive as SSE events until the client disconnects.
func (h *EventStreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		WriteBadRequest(w, "Job ID is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteInternalError(w, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	sub := h.broker.Subscribe(r.Context(), jobID)
	defer h.broker.Unsubscribe(sub)

	h.logger.Info("event stream started", "job_id", jobID, "subscriber_id", sub.ID)

	h.sendEvent(w, flusher, "connected", map[string]string{"job_id": jobID})

	pingTicker := time.NewTicker(15 * time.Second)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("event stream closed by client", "job_id", jobID)
			return
		case <-pingTicker.C:
			h.sendEvent(w, flusher, "ping", map[string]int64{"time": time.Now().Unix()})
		case event, open := <-sub.Ch:
			if !open {
				return
			}
			h.sendEvent(w, flusher, event.Type, event)
		}
	}
}

func (h *EventStreamHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal event", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
	flusher.Flush()
}
