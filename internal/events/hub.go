// Package events fans invocation lifecycle notifications out to live
// subscribers such as the SSE endpoint.
package events

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event type names published by Listener and the cluster master.
const (
	TypeRegistered       = "client.registered"
	TypeStarted          = "client.started"
	TypeCommandIncoming  = "command.incoming"
	TypeCommandSucceeded = "command.succeeded"
	TypeCommandFailed    = "command.failed"
	TypeEventIncoming    = "event.incoming"
	TypeEventSucceeded   = "event.succeeded"
	TypeEventFailed      = "event.failed"
	TypeMessageSent      = "message.sent"
	TypeBackoff          = "cluster.backoff"
	TypeWorkerExited     = "cluster.worker_exited"
)

const subscriberBuffer = 128

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Matches reports whether the event type starts with any of prefixes.
// No prefixes match everything.
func (e Event) Matches(prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(e.Type, p) {
			return true
		}
	}
	return false
}

type subscriber struct {
	ch       chan Event
	prefixes []string
}

// Hub keeps the most recent events for late subscribers and pushes new
// ones to live subscribers. Publishing never blocks: a subscriber whose
// buffer is full misses the event and Dropped is incremented.
type Hub struct {
	nextID  atomic.Int64
	dropped atomic.Int64

	mu       sync.Mutex
	capacity int
	recent   []Event
	subs     map[*subscriber]struct{}
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		capacity: capacity,
		recent:   make([]Event, 0, capacity),
		subs:     map[*subscriber]struct{}{},
	}
}

// Publish records an event with data encoded as JSON and returns it.
func (h *Hub) Publish(eventType string, data any) Event {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	if len(h.recent) == h.capacity {
		copy(h.recent, h.recent[1:])
		h.recent = h.recent[:h.capacity-1]
	}
	h.recent = append(h.recent, ev)

	for sub := range h.subs {
		if !ev.Matches(sub.prefixes) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
	return ev
}

// Subscribe returns a channel of events whose type starts with one of
// prefixes, or of every event when none are given. The returned func
// unsubscribes and closes the channel; it may be called more than once.
func (h *Hub) Subscribe(prefixes ...string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer), prefixes: prefixes}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
}

// SnapshotSince returns retained events with ID > lastID that match
// prefixes, oldest first.
func (h *Hub) SnapshotSince(lastID int64, prefixes ...string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, len(h.recent))
	for _, ev := range h.recent {
		if ev.ID > lastID && ev.Matches(prefixes) {
			out = append(out, ev)
		}
	}
	return out
}

// Dropped is the number of deliveries skipped because a subscriber was
// not keeping up.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
