package link

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/ambisense/pkg/device"
)

// ClientFactory builds the transport for a link.
type ClientFactory func(link device.Link) Client

// Manager is the registry of live device links. It implements
// EventSubscriber for the events of every link it holds.
type Manager struct {
	mu      sync.RWMutex
	links   map[string]*Synchronizer
	hub     *Hub
	factory ClientFactory
	opts    []Option
}

// NewManager creates an empty manager. opts are applied to every
// Synchronizer it starts.
func NewManager(factory ClientFactory, opts ...Option) *Manager {
	return &Manager{
		links:   make(map[string]*Synchronizer),
		hub:     NewHub(),
		factory: factory,
		opts:    opts,
	}
}

// Add starts a synchronizer for l. Links are unique by ID and by host.
func (m *Manager) Add(l device.Link) (*Synchronizer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.links[l.ID]; ok {
		return nil, fmt.Errorf("%w: link %s", device.ErrDuplicate, l.ID)
	}
	for _, s := range m.links {
		if strings.EqualFold(s.link.Host, l.Host) {
			return nil, fmt.Errorf("%w: host %s", device.ErrDuplicate, l.Host)
		}
	}

	opts := append([]Option{WithHub(m.hub)}, m.opts...)
	s := NewSynchronizer(l, m.factory(l), opts...)
	m.links[l.ID] = s

	log.Info().Str("link_id", l.ID).Str("name", l.Name).Str("host", l.Host).Msg("Device link added")
	m.hub.Publish(Event{Type: EventLinkAdded, LinkID: l.ID, State: s.State()})
	return s, nil
}

// Rename gives link id a new name. The synchronizer is replaced, keeping its
// cached settings and transport, and subscribers see the link removed and
// added again under its new entity ids.
func (m *Manager) Rename(id, name string) (*Synchronizer, error) {
	m.mu.Lock()
	old, ok := m.links[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: link %s", device.ErrNotFound, id)
	}
	l := old.link
	l.Name = name
	opts := append([]Option{WithHub(m.hub), seededFrom(old.current.Load())}, m.opts...)
	s := NewSynchronizer(l, old.client, opts...)
	m.links[id] = s
	m.mu.Unlock()

	old.Close()
	log.Info().Str("link_id", id).Str("name", name).Msg("Device link renamed")
	m.hub.Publish(Event{Type: EventLinkRemoved, LinkID: id, State: device.StateDisconnected})
	m.hub.Publish(Event{Type: EventLinkAdded, LinkID: id, State: s.State()})
	return s, nil
}

// Remove tears down the link and discards its snapshot.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.links[id]
	if ok {
		delete(m.links, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: link %s", device.ErrNotFound, id)
	}

	s.Close()
	log.Info().Str("link_id", id).Msg("Device link removed")
	m.hub.Publish(Event{Type: EventLinkRemoved, LinkID: id, State: device.StateDisconnected})
	return nil
}

// Get returns the synchronizer for id.
func (m *Manager) Get(id string) (*Synchronizer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.links[id]
	if !ok {
		return nil, fmt.Errorf("%w: link %s", device.ErrNotFound, id)
	}
	return s, nil
}

// List returns every synchronizer ordered by link name.
func (m *Manager) List() []*Synchronizer {
	m.mu.RLock()
	out := make([]*Synchronizer, 0, len(m.links))
	for _, s := range m.links {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].link.Name != out[j].link.Name {
			return out[i].link.Name < out[j].link.Name
		}
		return out[i].link.ID < out[j].link.ID
	})
	return out
}

// ResolveEntity finds the link that owns a light entity, e.g.
// "light.ambisense_kitchen_light". A bare link ID is accepted as well.
func (m *Manager) ResolveEntity(entityID string) (*Synchronizer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.links[entityID]; ok {
		return s, nil
	}
	if !strings.HasPrefix(entityID, "light.") {
		return nil, fmt.Errorf("%w: %s is not a light entity", device.ErrNotFound, entityID)
	}
	for _, s := range m.links {
		if s.link.EntityID("light", "light") == entityID {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: entity %s", device.ErrNotFound, entityID)
}

// Subscribe returns a channel receiving events of every link.
func (m *Manager) Subscribe() chan Event {
	return m.hub.Subscribe()
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(ch chan Event) {
	m.hub.Unsubscribe(ch)
}

// Close tears down every link and closes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	links := m.links
	m.links = make(map[string]*Synchronizer)
	m.mu.Unlock()

	for _, s := range links {
		s.Close()
	}
	m.hub.Close()
}
