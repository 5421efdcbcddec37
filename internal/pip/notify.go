package pip

import (
	"log/slog"
	"sync"
	"time"
)

// EventKind names a notification sent to the host.
type EventKind string

const (
	EventPIPStarting        EventKind = "pip_starting"
	EventPIPStarted         EventKind = "pip_started"
	EventPIPSourceChanged   EventKind = "pip_source_changed"
	EventPIPStopping        EventKind = "pip_stopping"
	EventPIPStopped         EventKind = "pip_stopped"
	EventPIPFailed          EventKind = "pip_failed"
	EventPlatform           EventKind = "pip_platform"
	EventAudioSessionFailed EventKind = "audio_session_failed"
	EventStreamFailed       EventKind = "stream_failed"
)

// Event is an asynchronous notification: anything that depends on a pipeline
// or platform completion is reported this way rather than as a return value.
type Event struct {
	Kind     EventKind `json:"kind"`
	StreamID StreamID  `json:"stream_id,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier receives controller events. Notify must not block.
type Notifier interface {
	Notify(e Event)
}

// Hub fans events out to subscribers. A subscriber that falls behind loses
// events rather than stalling the controller.
type Hub struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewHub returns an empty hub. If log is nil, slog.Default() is used.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:  log.With("component", "event-hub"),
		subs: make(map[int]chan Event),
	}
}

// Subscribe returns a channel of events and a function that closes it.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Notify implements Notifier.
func (h *Hub) Notify(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.log.Warn("subscriber behind, dropping event", "subscriber", id, "kind", string(e.Kind))
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
