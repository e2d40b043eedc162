// Package events fans ingest progress out to a principal's live connections.
package events

import (
	"sync"
	"time"

	"tunevault/logger"
)

// Kind names a progress event.
type Kind string

const (
	Stored     Kind = "stored"
	Skipped    Kind = "skipped"
	Failed     Kind = "failed"
	Segment    Kind = "segment"
	RolledBack Kind = "rolled_back"
)

// Event is one progress notification. Detail never carries store internals
// beyond an error code.
type Event struct {
	Kind    Kind      `json:"kind"`
	Name    string    `json:"name,omitempty"`
	TrackID string    `json:"trackId,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher accepts events for one principal.
type Publisher interface {
	Publish(principalID string, ev Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(string, Event) {}

// Subscription 订阅者，持有缓冲事件通道
type Subscription struct {
	principalID string
	ch          chan Event
	hub         *Hub
	once        sync.Once
}

// Events is closed when the subscription is closed.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close 取消订阅
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub 按用户维护进度订阅关系
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{} // principal id -> subscribers
	buffer int
}

// NewHub creates a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe registers a new listener for principalID.
func (h *Hub) Subscribe(principalID string) *Subscription {
	s := &Subscription{principalID: principalID, ch: make(chan Event, h.buffer), hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[principalID] == nil {
		h.subs[principalID] = make(map[*Subscription]struct{})
	}
	h.subs[principalID][s] = struct{}{}

	logger.Debug("progress subscriber added",
		logger.String("principalId", principalID),
		logger.Int("subscribers", len(h.subs[principalID])))
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[s.principalID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.subs, s.principalID)
		}
	}
	close(s.ch)
}

// Publish delivers ev to every subscriber of principalID without blocking.
// A subscriber whose buffer is full misses the event.
func (h *Hub) Publish(principalID string, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[principalID] {
		select {
		case s.ch <- ev:
		default:
			logger.Debug("progress event dropped, subscriber too slow",
				logger.String("principalId", principalID),
				logger.String("kind", string(ev.Kind)))
		}
	}
}

// Subscribers counts the live subscriptions of principalID.
func (h *Hub) Subscribers(principalID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[principalID])
}
