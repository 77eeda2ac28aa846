package link

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/ambisense/pkg/device"
	"github.com/urmzd/ambisense/pkg/settings"
)

// Client is the transport a Synchronizer drives. It performs no validation.
type Client interface {
	// Fetch reads the device's current settings
	Fetch(ctx context.Context) (settings.Snapshot, error)

	// Push writes a delta to the device. Must be safe to repeat.
	Push(ctx context.Context, delta settings.Delta) error

	// Distance returns the live radar reading in centimeters
	Distance(ctx context.Context) (int, error)

	// Host returns the device address
	Host() string
}

// EventType names what changed on a link.
type EventType string

const (
	EventSettingsChanged EventType = "settings_changed"
	EventStateChanged    EventType = "state_changed"
	EventDistance        EventType = "distance"
	EventLinkAdded       EventType = "link_added"
	EventLinkRemoved     EventType = "link_removed"
)

// Event is published whenever a link's observable state changes.
type Event struct {
	Type      EventType         `json:"type"`
	LinkID    string            `json:"link_id"`
	State     device.SyncState  `json:"state,omitempty"`
	Settings  settings.Snapshot `json:"settings,omitempty"`
	Distance  *int              `json:"distance,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// EventSubscriber defines the interface for subscribing to link events
type EventSubscriber interface {
	// Subscribe returns a channel that receives link events
	Subscribe() chan Event

	// Unsubscribe removes a subscription
	Unsubscribe(ch chan Event)
}

// Hub fans events out to subscribers. Slow subscribers miss events rather
// than stall the publishing link.
type Hub struct {
	mu          sync.Mutex
	subscribers []chan Event
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{}
}

// Subscribe returns a buffered channel receiving every published event.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, 32)
	h.mu.Lock()
	h.subscribers = append(h.subscribers, ch)
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, sub := range h.subscribers {
		if sub == ch {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish delivers ev to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("link_id", ev.LinkID).Str("type", string(ev.Type)).Msg("Event subscriber full, dropping event")
		}
	}
}

// Close closes every remaining subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subscribers {
		close(ch)
	}
	h.subscribers = nil
}
