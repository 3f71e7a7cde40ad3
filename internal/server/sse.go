package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dkoosis/cukedash/internal/execution"
)

// truncatedMessage ends a stream whose client could not keep up. The
// client can reconnect to replay the full transcript.
const truncatedMessage = "stream truncated, reconnect to replay"

// writeEvent writes one SSE data frame.
func writeEvent(w io.Writer, e execution.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

// stream serves an execution's events as server-sent events: a connected
// frame, the replayed history, then live events until the run completes,
// the client goes away, or the server shuts down.
func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	history, sub, err := h.deps.Service.Subscribe(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer h.deps.Service.Unsubscribe(sub)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, execution.Event{Type: execution.EventConnected, ExecutionID: id}); err != nil {
		return
	}
	for _, e := range history {
		if err := writeEvent(w, e); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(h.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				if sub.Dropped() {
					_ = writeEvent(w, execution.Event{
						Type:        execution.EventSystem,
						ExecutionID: id,
						Message:     truncatedMessage,
						Timestamp:   time.Now(),
					})
					flusher.Flush()
				}
				return
			}
			if err := writeEvent(w, e); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-h.quit:
			return
		}
	}
}
