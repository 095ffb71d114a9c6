package readings

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"
	"tailscale.com/tsweb"
)

// Hub is a Sink that remembers the latest reading per sensor and fans every
// reading out to live subscribers.
type Hub struct {
	subscriberMu sync.Mutex
	subscribers  map[string]chan Reading
	closing      bool

	latestMu sync.RWMutex
	latest   map[string]Reading
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]chan Reading),
		latest:      make(map[string]Reading),
	}
}

// Subscribe creates a new channel for receiving readings. The ID is used to
// unsubscribe. After Close the returned channel is already closed.
func (h *Hub) Subscribe() (string, <-chan Reading) {
	id := uuid.NewString()
	ch := make(chan Reading, 16)

	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	if h.closing {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Publish records r as the sensor's latest reading and offers it to every
// subscriber. A subscriber that is not keeping up misses the reading rather
// than stalling the poll cycle.
func (h *Hub) Publish(r Reading) {
	h.latestMu.Lock()
	h.latest[r.Sensor] = r
	h.latestMu.Unlock()

	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	if h.closing {
		return
	}
	for _, ch := range h.subscribers {
		select {
		case ch <- r:
		default:
		}
	}
}

// Latest returns the most recent reading of every sensor, sorted by name.
func (h *Hub) Latest() []Reading {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()

	out := make([]Reading, 0, len(h.latest))
	for _, r := range h.latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sensor < out[j].Sensor })
	return out
}

// LatestFor returns the most recent reading of one sensor.
func (h *Hub) LatestFor(sensor string) (Reading, bool) {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	r, ok := h.latest[sensor]
	return r, ok
}

// Close closes all subscriber channels. Publishing after Close only updates
// the latest readings.
func (h *Hub) Close() error {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	h.closing = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
	return nil
}

// AttachAdminRoutes mounts a live tail of readings on the /debug/ page.
func (h *Hub) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("readings", "latest reading per sensor", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(h.Latest()); err != nil {
			http.Error(w, "Failed to encode readings", http.StatusInternalServerError)
		}
	})

	// Server-Sent Events stream of every reading as it is published.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := h.Subscribe()
		defer h.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case reading, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(reading)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
