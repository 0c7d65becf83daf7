package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/FocusCoin/internal/engine"
	"github.com/BTreeMap/FocusCoin/internal/models"
	"github.com/BTreeMap/FocusCoin/internal/pubsub"
)

// eventsHandler streams engine events as server-sent events. The stream
// opens with a state_changed event carrying the current state.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Streaming unsupported"))
		return
	}

	ctx := r.Context()
	events := s.engine.Subscribe(ctx)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, pubsub.StateChangedEvent, engine.Notification{State: s.engine.Snapshot()}); err != nil {
		return
	}
	flusher.Flush()
	slog.Debug("Server.eventsHandler: client subscribed", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Server.eventsHandler: client gone", "remote", r.RemoteAddr)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev.Type, ev.Payload); err != nil {
				slog.Debug("Server.eventsHandler: write failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, eventType pubsub.EventType, note engine.Notification) error {
	data, err := json.Marshal(note)
	if err != nil {
		slog.Error("Server.writeEvent: failed to marshal event", "type", eventType, "error", err)
		return nil
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	return err
}
