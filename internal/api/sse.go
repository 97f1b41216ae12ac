package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/charliek/stackscope/internal/domain"
)

// StreamRecords handles GET /api/v1/sessions/{name}/stream (SSE)
func (h *Handlers) StreamRecords(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	state, err := parseFilterState(r)
	if err != nil {
		writeError(w, err)
		return
	}

	// Check if flusher is available
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "streaming not supported",
			Code:  domain.ErrCodeStreamingNotSupported,
		})
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	store := s.Store()
	subID, ch := store.Subscribe(state)
	defer store.Unsubscribe(subID)

	// Send initial comment to establish connection
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	// Slow clients lose records: the subscription channel is buffered and
	// drops when full. Write errors end the handler.
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case record, ok := <-ch:
			if !ok {
				return
			}

			data, err := json.Marshal(ToRecordResponse(record, 1))
			if err != nil {
				continue
			}

			if _, err := fmt.Fprintf(w, "event: record\ndata: %s\n\n", data); err != nil {
				slog.Debug("SSE write error (client likely disconnected)", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
