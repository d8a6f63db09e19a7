package app

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// LogEntry is one log line attached to a progress event, per spec.md §6's
// progress push channel shape.
type LogEntry struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// ProgressEvent is the host -> UI event pushed over the SSE channel.
type ProgressEvent struct {
	Stage       string     `json:"stage"`
	Percentage  int        `json:"percentage"`
	CurrentTask string     `json:"current_task"`
	Logs        []LogEntry `json:"logs,omitempty"`
}

// progressHub is a per-run broadcast registry, the Go analogue of the
// teacher's per-id map+mutex ingester registry generalized from ingesters
// to subscriber channel lists.
type progressHub struct {
	mu   sync.Mutex
	subs map[string][]chan ProgressEvent
}

func newProgressHub() *progressHub {
	return &progressHub{subs: make(map[string][]chan ProgressEvent)}
}

// Subscribe registers a new listener for runID's events. The returned
// cancel func must be called once the listener is done.
func (h *progressHub) Subscribe(runID string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 16)
	h.mu.Lock()
	h.subs[runID] = append(h.subs[runID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		chans := h.subs[runID]
		for i, c := range chans {
			if c == ch {
				h.subs[runID] = append(chans[:i], chans[i+1:]...)
				close(c)
				break
			}
		}
		if len(h.subs[runID]) == 0 {
			delete(h.subs, runID)
		}
	}
	return ch, cancel
}

// Publish fans an event out to every current subscriber of runID,
// dropping it for any subscriber whose buffer is full rather than
// blocking the run.
func (h *progressHub) Publish(runID string, ev ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[runID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func logEntry(level, message string) LogEntry {
	return LogEntry{Level: level, Message: message, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// progressHandlerFunc streams a run's progress events as Server-Sent Events
// until the client disconnects or the request context ends.
func (s *Server) progressHandlerFunc(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, cancel := s.progress.Subscribe(runID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			raw, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(raw)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
