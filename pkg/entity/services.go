package entity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/ambisense/pkg/device"
	"github.com/urmzd/ambisense/pkg/link"
	"github.com/urmzd/ambisense/pkg/settings"
)

// Links is the registry the services operate on. *link.Manager satisfies it.
type Links interface {
	List() []*link.Synchronizer
	ResolveEntity(entityID string) (*link.Synchronizer, error)
}

// Services implements the update_settings and apply_settings services and
// the per-entity commands of the reflected entities.
type Services struct {
	links Links
}

// NewServices creates the service layer over links.
func NewServices(links Links) *Services {
	return &Services{links: links}
}

// UpdateSettings applies fields to every targeted light entity. Fields are
// validated once up front, so an invalid field fails before any device is
// contacted. Per-link failures are joined.
func (sv *Services) UpdateSettings(ctx context.Context, entityIDs []string, fields map[string]any) error {
	if _, err := settings.ValidateDelta(fields); err != nil {
		return err
	}
	targets, err := sv.resolve(entityIDs)
	if err != nil {
		return err
	}
	return fanOut(ctx, targets, func(ctx context.Context, s *link.Synchronizer) error {
		_, err := s.UpdateSettings(ctx, fields)
		return err
	})
}

// ApplySettings re-pushes the full snapshot of every targeted light entity.
func (sv *Services) ApplySettings(ctx context.Context, entityIDs []string) error {
	targets, err := sv.resolve(entityIDs)
	if err != nil {
		return err
	}
	return fanOut(ctx, targets, func(ctx context.Context, s *link.Synchronizer) error {
		return s.ApplySettings(ctx)
	})
}

// TurnOnRequest carries the optional light.turn_on attributes.
type TurnOnRequest struct {
	Brightness *int   `json:"brightness,omitempty"`
	RGBColor   []int  `json:"rgb_color,omitempty"`
	Effect     string `json:"effect,omitempty"`
}

// TurnOn turns a light on. Without a brightness a light that is off comes
// back at full brightness.
func (sv *Services) TurnOn(ctx context.Context, entityID string, req TurnOnRequest) error {
	s, err := sv.links.ResolveEntity(entityID)
	if err != nil {
		return err
	}

	fields := map[string]any{}
	if req.Brightness != nil {
		fields[settings.Brightness] = *req.Brightness
	} else if b, ok := s.Snapshot().Int(settings.Brightness); !ok || b == 0 {
		fields[settings.Brightness] = 255
	}
	if req.RGBColor != nil {
		fields[settings.RGBColor] = req.RGBColor
	}
	if req.Effect != "" {
		fields[settings.LightModeKey] = req.Effect
	}

	_, err = s.UpdateSettings(ctx, fields)
	return err
}

// TurnOff turns a light off by setting brightness to 0.
func (sv *Services) TurnOff(ctx context.Context, entityID string) error {
	s, err := sv.links.ResolveEntity(entityID)
	if err != nil {
		return err
	}
	_, err = s.UpdateSettings(ctx, map[string]any{settings.Brightness: 0})
	return err
}

// Command handles a write to a single reflected entity: a number value, a
// switch on/off, a select option or a button press.
func (sv *Services) Command(ctx context.Context, entityID string, value any) error {
	s, e, err := sv.Lookup(entityID)
	if err != nil {
		return err
	}

	switch e.Domain {
	case DomainLight:
		req, on, err := lightCommand(e, value)
		if err != nil {
			return err
		}
		if !on {
			return sv.TurnOff(ctx, entityID)
		}
		return sv.TurnOn(ctx, entityID, req)
	case DomainButton:
		return s.ApplySettings(ctx)
	case DomainSensor:
		return &device.ValidationError{Key: e.Object, Reason: "sensor is read-only"}
	default:
		_, err := s.UpdateSettings(ctx, map[string]any{e.Key: value})
		return err
	}
}

// lightCommand reads a light command value. false, 0 and "off" turn the
// light off; true, 1, "on" and a TurnOnRequest turn it on.
func lightCommand(e Entity, value any) (TurnOnRequest, bool, error) {
	switch v := value.(type) {
	case TurnOnRequest:
		return v, true, nil
	case *TurnOnRequest:
		if v != nil {
			return *v, true, nil
		}
	case bool:
		return TurnOnRequest{}, v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "on":
			return TurnOnRequest{}, true, nil
		case "off":
			return TurnOnRequest{}, false, nil
		}
	case int:
		if v == 0 || v == 1 {
			return TurnOnRequest{}, v == 1, nil
		}
	case float64:
		if v == 0 || v == 1 {
			return TurnOnRequest{}, v == 1, nil
		}
	}
	return TurnOnRequest{}, false, &device.ValidationError{
		Key:    e.Object,
		Reason: fmt.Sprintf("light command must be on, off or a turn_on request, got %v", value),
	}
}

// Lookup finds the link and entity description for any entity id.
func (sv *Services) Lookup(entityID string) (*link.Synchronizer, Entity, error) {
	for _, s := range sv.links.List() {
		for _, e := range Describe(s.Link()) {
			if e.ID == entityID {
				return s, e, nil
			}
		}
	}
	return nil, Entity{}, fmt.Errorf("%w: entity %s", device.ErrNotFound, entityID)
}

// resolve maps every target to its link, failing on the first unknown or
// non-light target. Duplicate targets collapse to one.
func (sv *Services) resolve(entityIDs []string) ([]*link.Synchronizer, error) {
	if len(entityIDs) == 0 {
		return nil, fmt.Errorf("%w: no target entities", device.ErrNotFound)
	}

	seen := make(map[string]bool, len(entityIDs))
	var targets []*link.Synchronizer
	for _, id := range entityIDs {
		s, err := sv.links.ResolveEntity(id)
		if err != nil {
			return nil, err
		}
		if seen[s.Link().ID] {
			continue
		}
		seen[s.Link().ID] = true
		targets = append(targets, s)
	}
	return targets, nil
}

// fanOut runs op on every target concurrently; each link serializes its own
// operations.
func fanOut(ctx context.Context, targets []*link.Synchronizer, op func(context.Context, *link.Synchronizer) error) error {
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, s := range targets {
		wg.Add(1)
		go func(i int, s *link.Synchronizer) {
			defer wg.Done()
			if err := op(ctx, s); err != nil {
				log.Warn().Err(err).Str("link_id", s.Link().ID).Msg("Service call failed")
				errs[i] = fmt.Errorf("%s: %w", s.Link().Name, err)
			}
		}(i, s)
	}
	wg.Wait()
	return errors.Join(errs...)
}
