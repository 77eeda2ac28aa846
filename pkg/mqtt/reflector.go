package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/ambisense/pkg/device"
	"github.com/urmzd/ambisense/pkg/entity"
	"github.com/urmzd/ambisense/pkg/link"
)

// commandTimeout bounds a device operation triggered by an MQTT command.
const commandTimeout = 30 * time.Second

// Source is the link registry the reflector mirrors. *link.Manager satisfies it.
type Source interface {
	link.EventSubscriber
	List() []*link.Synchronizer
	Get(id string) (*link.Synchronizer, error)
}

// Reflector mirrors every link onto the broker using Home Assistant MQTT
// discovery and routes command topics back to the services.
type Reflector struct {
	broker   Broker
	source   Source
	services *entity.Services
	cfg      Config

	mu        sync.Mutex
	announced map[string]device.Link
}

// NewReflector creates a reflector. cfg supplies the topic prefixes.
func NewReflector(broker Broker, source Source, services *entity.Services, cfg Config) *Reflector {
	return &Reflector{
		broker:    broker,
		source:    source,
		services:  services,
		cfg:       cfg.WithDefaults(),
		announced: make(map[string]device.Link),
	}
}

// Run announces every link and then follows link events until ctx is done.
func (r *Reflector) Run(ctx context.Context) error {
	events := r.source.Subscribe()
	defer r.source.Unsubscribe(events)

	r.AnnounceAll()
	log.Info().Str("discovery_prefix", r.cfg.DiscoveryPrefix).Str("base_topic", r.cfg.BaseTopic).Msg("MQTT reflection started")

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			links := make([]device.Link, 0, len(r.announced))
			for _, l := range r.announced {
				links = append(links, l)
			}
			r.mu.Unlock()
			for _, l := range links {
				r.publish(NewTopics(r.cfg.BaseTopic, l).Availability(), []byte(PayloadOffline), true)
			}
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.handleEvent(ev)
		}
	}
}

// AnnounceAll publishes discovery and state for every link. Used at startup
// and after the broker reconnects.
func (r *Reflector) AnnounceAll() {
	for _, s := range r.source.List() {
		if err := r.Announce(s); err != nil {
			log.Warn().Err(err).Str("link_id", s.Link().ID).Msg("Failed to announce link over MQTT")
		}
	}
}

// Announce publishes the discovery config of every entity of s, subscribes to
// its command topics and publishes its current state.
func (r *Reflector) Announce(s *link.Synchronizer) error {
	l := s.Link()
	t := NewTopics(r.cfg.BaseTopic, l)

	for _, e := range entity.Describe(l) {
		payload, err := json.Marshal(BuildDiscovery(r.cfg.BaseTopic, l, e))
		if err != nil {
			return fmt.Errorf("marshal discovery for %s: %w", e.ID, err)
		}
		if err := r.broker.Publish(DiscoveryTopic(r.cfg.DiscoveryPrefix, e, t.Node), payload, true); err != nil {
			return fmt.Errorf("publish discovery for %s: %w", e.ID, err)
		}
	}

	if err := r.broker.Subscribe(t.CommandWildcard(), r.commandHandler(l)); err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}

	r.mu.Lock()
	r.announced[l.ID] = l
	r.mu.Unlock()

	r.PublishState(s)
	log.Debug().Str("link_id", l.ID).Str("node", t.Node).Msg("Announced link over MQTT")
	return nil
}

// Withdraw removes the discovery configs of l and marks it offline.
func (r *Reflector) Withdraw(l device.Link) {
	t := NewTopics(r.cfg.BaseTopic, l)
	for _, e := range entity.Describe(l) {
		r.publish(DiscoveryTopic(r.cfg.DiscoveryPrefix, e, t.Node), nil, true)
	}
	r.publish(t.Availability(), []byte(PayloadOffline), true)
	if err := r.broker.Unsubscribe(t.CommandWildcard()); err != nil {
		log.Warn().Err(err).Str("link_id", l.ID).Msg("Failed to unsubscribe link commands")
	}

	r.mu.Lock()
	delete(r.announced, l.ID)
	r.mu.Unlock()
}

// PublishState publishes availability, the flat state and the light state.
func (r *Reflector) PublishState(s *link.Synchronizer) {
	l := s.Link()
	t := NewTopics(r.cfg.BaseTopic, l)

	availability := PayloadOnline
	if s.State() == device.StateDisconnected {
		availability = PayloadOffline
	}
	r.publish(t.Availability(), []byte(availability), true)

	snap := s.Snapshot()
	distance, hasDistance := s.Distance()
	if state, err := json.Marshal(BuildState(snap, distance, hasDistance)); err == nil {
		r.publish(t.State(), state, true)
	}
	if ls, ok := BuildLightState(snap); ok {
		if payload, err := json.Marshal(ls); err == nil {
			r.publish(t.Light(), payload, true)
		}
	}
}

func (r *Reflector) handleEvent(ev link.Event) {
	switch ev.Type {
	case link.EventLinkRemoved:
		r.mu.Lock()
		l, ok := r.announced[ev.LinkID]
		r.mu.Unlock()
		if ok {
			r.Withdraw(l)
		}
		return
	case link.EventLinkAdded:
		s, err := r.source.Get(ev.LinkID)
		if err != nil {
			return
		}
		if err := r.Announce(s); err != nil {
			log.Warn().Err(err).Str("link_id", ev.LinkID).Msg("Failed to announce link over MQTT")
		}
		return
	}

	s, err := r.source.Get(ev.LinkID)
	if err != nil {
		return
	}
	r.PublishState(s)
}

func (r *Reflector) commandHandler(l device.Link) MessageHandler {
	t := NewTopics(r.cfg.BaseTopic, l)
	return func(topic string, payload []byte) error {
		object, ok := t.ObjectFromCommand(topic)
		if !ok {
			return fmt.Errorf("unexpected command topic %s", topic)
		}

		var target *entity.Entity
		for _, e := range entity.Describe(l) {
			if e.Object == object {
				target = &e
				break
			}
		}
		if target == nil {
			return fmt.Errorf("%w: no entity %s on %s", device.ErrNotFound, object, l.Name)
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		if err := r.dispatch(ctx, *target, payload); err != nil {
			return fmt.Errorf("command %s: %w", target.ID, err)
		}
		log.Info().Str("entity_id", target.ID).Msg("Handled MQTT command")
		return nil
	}
}

func (r *Reflector) dispatch(ctx context.Context, e entity.Entity, payload []byte) error {
	text := strings.TrimSpace(string(payload))

	switch e.Domain {
	case entity.DomainLight:
		var cmd LightState
		if err := json.Unmarshal(payload, &cmd); err != nil {
			cmd.State = strings.ToUpper(text)
		}
		if strings.EqualFold(cmd.State, "OFF") {
			return r.services.TurnOff(ctx, e.ID)
		}
		req := entity.TurnOnRequest{Brightness: cmd.Brightness, Effect: cmd.Effect}
		if cmd.Color != nil {
			req.RGBColor = []int{cmd.Color.R, cmd.Color.G, cmd.Color.B}
		}
		return r.services.TurnOn(ctx, e.ID, req)

	case entity.DomainNumber:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return &device.ValidationError{Key: e.Key, Reason: fmt.Sprintf("not a number: %q", text)}
		}
		return r.services.Command(ctx, e.ID, f)

	default:
		return r.services.Command(ctx, e.ID, text)
	}
}

func (r *Reflector) publish(topic string, payload []byte, retained bool) {
	if err := r.broker.Publish(topic, payload, retained); err != nil {
		log.Debug().Err(err).Str("topic", topic).Msg("MQTT publish failed")
	}
}
