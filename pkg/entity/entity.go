package entity

import (
	"github.com/urmzd/ambisense/pkg/device"
	"github.com/urmzd/ambisense/pkg/link"
	"github.com/urmzd/ambisense/pkg/settings"
)

// Domain is an automation-host entity platform.
type Domain string

const (
	DomainLight  Domain = "light"
	DomainSensor Domain = "sensor"
	DomainNumber Domain = "number"
	DomainSwitch Domain = "switch"
	DomainSelect Domain = "select"
	DomainButton Domain = "button"
)

// Object ids of the entities that are not a single setting.
const (
	ObjectLight         = "light"
	ObjectDistance      = "distance"
	ObjectApplySettings = "apply_settings"
)

// Entity is one observable facet of a device link.
type Entity struct {
	ID         string         `json:"entity_id"`
	Domain     Domain         `json:"domain"`
	Object     string         `json:"object_id"`
	LinkID     string         `json:"link_id"`
	Name       string         `json:"name"`
	Key        string         `json:"key,omitempty"`
	Icon       string         `json:"icon,omitempty"`
	Unit       string         `json:"unit,omitempty"`
	Available  bool           `json:"available"`
	State      any            `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Describe lists the entities of a link without state.
func Describe(l device.Link) []Entity {
	out := []Entity{
		{
			Domain: DomainLight,
			Object: ObjectLight,
			Name:   l.Name + " Light",
			Icon:   "mdi:led-strip-variant",
		},
		{
			Domain: DomainSensor,
			Object: ObjectDistance,
			Name:   "Distance",
			Icon:   "mdi:ruler",
			Unit:   "cm",
		},
		{
			Domain: DomainButton,
			Object: ObjectApplySettings,
			Name:   "Apply Settings",
			Icon:   "mdi:content-save-settings",
		},
	}

	for _, p := range settings.Parameters() {
		var domain Domain
		switch {
		case p.Key == settings.Brightness || p.Key == settings.RGBColor:
			continue // part of the light
		case p.Kind == settings.KindBoolean:
			domain = DomainSwitch
		case p.Kind == settings.KindEnum:
			domain = DomainSelect
		default:
			domain = DomainNumber
		}
		out = append(out, Entity{
			Domain: domain,
			Object: p.Key,
			Name:   p.Label,
			Key:    p.Key,
			Icon:   p.Icon,
			Unit:   p.Unit,
		})
	}

	for i := range out {
		out[i].LinkID = l.ID
		out[i].ID = l.EntityID(string(out[i].Domain), out[i].Object)
	}
	return out
}

// Reflect lists the entities of a link with their current state. Entities
// backed by a setting are unavailable until the snapshot holds that setting.
func Reflect(s *link.Synchronizer) []Entity {
	snap := s.Snapshot()
	distance, hasDistance := s.Distance()
	entities := Describe(s.Link())

	for i := range entities {
		e := &entities[i]
		switch e.Domain {
		case DomainLight:
			e.State, e.Attributes, e.Available = lightState(snap)
		case DomainSensor:
			e.Available = hasDistance
			if hasDistance {
				e.State = distance
			}
		case DomainButton:
			e.Available = s.State() != device.StateDisconnected
		case DomainSwitch:
			if v, ok := snap.Bool(e.Key); ok {
				e.State, e.Available = onOff(v), true
			}
		case DomainSelect:
			if m, ok := snap.Mode(); ok {
				e.State, e.Available = m.String(), true
				e.Attributes = map[string]any{"options": settings.LightModeNames()}
			}
		case DomainNumber:
			if v, ok := snap[e.Key]; ok {
				e.State, e.Available = v, true
			}
			if p, ok := settings.Lookup(e.Key); ok {
				e.Attributes = map[string]any{"min": p.Min, "max": p.Max, "step": p.Step}
			}
		}
	}
	return entities
}

// lightState maps brightness and color onto a light: brightness 0 is off.
func lightState(snap settings.Snapshot) (any, map[string]any, bool) {
	brightness, ok := snap.Int(settings.Brightness)
	if !ok {
		return nil, nil, false
	}
	attrs := map[string]any{
		"brightness":  brightness,
		"color_mode":  "rgb",
		"effect_list": settings.LightModeNames(),
	}
	if c, ok := snap.Color(); ok {
		attrs["rgb_color"] = []int{int(c[0]), int(c[1]), int(c[2])}
	}
	if m, ok := snap.Mode(); ok {
		attrs["effect"] = m.String()
	}
	return onOff(brightness > 0), attrs, true
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
