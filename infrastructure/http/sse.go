package http

import (
	"ephemeral-chat/auth"
	"ephemeral-chat/domain/event"
	"fmt"
	"io"
	"net/http"
	"time"
)

// writeEvent frames one event in text/event-stream format.
func writeEvent(w io.Writer, e event.DomainEvent) error {
	data, err := event.Marshal(e, "")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name(), data)
	return err
}

// GET /api/rooms/{id}/events
// The stream ends after room-destroyed, when the client goes away or when
// the subscription is closed. Natural expiry sends nothing: clients follow
// the TTL countdown instead.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming_unsupported"})
		return
	}
	roomID := roomIDParam(r)
	feed, err := h.svc.Subscribe(r.Context(), roomID, auth.TokenFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, "subscribe", err)
		return
	}
	defer feed.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-feed.Events():
			if !ok {
				return
			}
			if err := writeEvent(w, e); err != nil {
				h.log.Debug("Event stream write failed", "room_id", roomID, "error", err)
				return
			}
			flusher.Flush()
			if e.Name() == event.RoomDestroyedName {
				return
			}
		}
	}
}
