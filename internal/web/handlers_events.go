package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var eventsHeartbeatInterval = 15 * time.Second

// handleSessionEvents is the server-sent events flavor of /ws for clients
// that only read.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "stream unavailable")
		return
	}
	detail := wantDetail(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	changes := s.subscribe()
	defer s.unsubscribe(changes)

	var lastPass uint64
	emit := func() error {
		snap := s.snapshot()
		if snap == nil || (lastPass != 0 && snap.Pass == lastPass) {
			return nil
		}
		lastPass = snap.Pass
		return writeSSEEvent(w, flusher, "sessions", NewSessionsResponse(snap, detail))
	}
	if err := emit(); err != nil {
		return
	}

	heartbeat := time.NewTicker(eventsHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := writeSSEComment(w, flusher, "keepalive"); err != nil {
				return
			}
		case <-changes:
			if err := emit(); err != nil {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEComment(w http.ResponseWriter, flusher http.Flusher, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
