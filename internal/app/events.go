package app

import (
	"sync"
	"time"
)

// EventType names a pipeline event.
type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventFrame       EventType = "frame"
	EventRunFinished EventType = "run_finished"
)

// Event reports pipeline progress to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Frame     int       `json:"frame,omitempty"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Ratio     float64   `json:"ratio,omitempty"`
	HasTarget bool      `json:"has_target,omitempty"`
	Status    string    `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// subscriberBuffer is how many events a slow subscriber may lag behind
// before further events are dropped for it.
const subscriberBuffer = 64

// Hub fans events out to subscribers. Publishing never blocks.
type Hub struct {
	subs map[chan Event]struct{}
	mu   sync.RWMutex
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release it; it closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber with room in its buffer.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
