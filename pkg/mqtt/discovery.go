package mqtt

import (
	"fmt"
	"strings"

	"github.com/urmzd/ambisense/pkg/device"
	"github.com/urmzd/ambisense/pkg/entity"
	"github.com/urmzd/ambisense/pkg/settings"
)

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// StatusTopic is the bridge availability topic, also used as last will.
func StatusTopic(base string) string {
	return base + "/status"
}

// Topics builds the topics of one link.
type Topics struct {
	Base string
	Node string
}

// NewTopics returns the topic layout for l under base.
func NewTopics(base string, l device.Link) Topics {
	return Topics{Base: base, Node: l.Slug()}
}

// State is the retained JSON state of the link's settings and distance.
func (t Topics) State() string {
	return fmt.Sprintf("%s/%s/state", t.Base, t.Node)
}

// Light is the JSON-schema light state topic.
func (t Topics) Light() string {
	return fmt.Sprintf("%s/%s/light", t.Base, t.Node)
}

// Availability is the per-link availability topic.
func (t Topics) Availability() string {
	return fmt.Sprintf("%s/%s/availability", t.Base, t.Node)
}

// Command is the command topic of an entity object.
func (t Topics) Command(object string) string {
	return fmt.Sprintf("%s/%s/%s/set", t.Base, t.Node, object)
}

// CommandWildcard matches every command topic of the link.
func (t Topics) CommandWildcard() string {
	return fmt.Sprintf("%s/%s/+/set", t.Base, t.Node)
}

// ObjectFromCommand extracts the object id from a command topic.
func (t Topics) ObjectFromCommand(topic string) (string, bool) {
	prefix := fmt.Sprintf("%s/%s/", t.Base, t.Node)
	if !strings.HasPrefix(topic, prefix) || !strings.HasSuffix(topic, "/set") {
		return "", false
	}
	object := strings.TrimSuffix(strings.TrimPrefix(topic, prefix), "/set")
	if object == "" || strings.Contains(object, "/") {
		return "", false
	}
	return object, true
}

// DiscoveryTopic is where the config of one entity is announced.
func DiscoveryTopic(prefix string, e entity.Entity, node string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", prefix, e.Domain, node, e.Object)
}

// DeviceInfo groups the entities of one link into one device.
type DeviceInfo struct {
	Identifiers      []string `json:"identifiers"`
	Name             string   `json:"name"`
	Manufacturer     string   `json:"manufacturer"`
	Model            string   `json:"model"`
	ConfigurationURL string   `json:"configuration_url,omitempty"`
}

// Availability is one entry of a discovery availability list.
type Availability struct {
	Topic string `json:"topic"`
}

// DiscoveryConfig is the discovery payload of one entity.
type DiscoveryConfig struct {
	Name              string         `json:"name"`
	UniqueID          string         `json:"unique_id"`
	ObjectID          string         `json:"object_id"`
	Device            DeviceInfo     `json:"device"`
	Availability      []Availability `json:"availability"`
	AvailabilityMode  string         `json:"availability_mode"`
	StateTopic        string         `json:"state_topic,omitempty"`
	CommandTopic      string         `json:"command_topic,omitempty"`
	ValueTemplate     string         `json:"value_template,omitempty"`
	Icon              string         `json:"icon,omitempty"`
	UnitOfMeasurement string         `json:"unit_of_measurement,omitempty"`
	DeviceClass       string         `json:"device_class,omitempty"`
	StateClass        string         `json:"state_class,omitempty"`

	// number
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Step *float64 `json:"step,omitempty"`
	Mode string   `json:"mode,omitempty"`

	// switch
	PayloadOn  string `json:"payload_on,omitempty"`
	PayloadOff string `json:"payload_off,omitempty"`

	// select, light
	Options []string `json:"options,omitempty"`

	// light
	Schema              string   `json:"schema,omitempty"`
	Brightness          *bool    `json:"brightness,omitempty"`
	SupportedColorModes []string `json:"supported_color_modes,omitempty"`
	Effect              *bool    `json:"effect,omitempty"`
	EffectList          []string `json:"effect_list,omitempty"`

	// button
	PayloadPress string `json:"payload_press,omitempty"`
}

// BuildDiscovery returns the discovery payload for e.
func BuildDiscovery(base string, l device.Link, e entity.Entity) DiscoveryConfig {
	t := NewTopics(base, l)
	uid := "ambisense_" + device.Slugify(l.Host) + "_" + e.Object

	cfg := DiscoveryConfig{
		Name:     e.Name,
		UniqueID: uid,
		ObjectID: strings.TrimPrefix(e.ID, string(e.Domain)+"."),
		Device: DeviceInfo{
			Identifiers:      []string{"ambisense_" + device.Slugify(l.Host)},
			Name:             l.Name,
			Manufacturer:     l.Manufacturer,
			Model:            l.Model,
			ConfigurationURL: "http://" + l.Host,
		},
		Availability:     []Availability{{Topic: StatusTopic(base)}, {Topic: t.Availability()}},
		AvailabilityMode: "all",
		Icon:             e.Icon,
	}
	if cfg.Device.Manufacturer == "" {
		cfg.Device.Manufacturer = device.Manufacturer
	}
	if cfg.Device.Model == "" {
		cfg.Device.Model = device.Model
	}

	switch e.Domain {
	case entity.DomainLight:
		yes := true
		cfg.Name = "Light"
		cfg.Schema = "json"
		cfg.StateTopic = t.Light()
		cfg.CommandTopic = t.Command(e.Object)
		cfg.Brightness = &yes
		cfg.SupportedColorModes = []string{"rgb"}
		cfg.Effect = &yes
		cfg.EffectList = settings.LightModeNames()

	case entity.DomainSensor:
		cfg.StateTopic = t.State()
		cfg.ValueTemplate = "{{ value_json.distance }}"
		cfg.UnitOfMeasurement = e.Unit
		cfg.DeviceClass = "distance"
		cfg.StateClass = "measurement"

	case entity.DomainButton:
		cfg.CommandTopic = t.Command(e.Object)
		cfg.PayloadPress = "PRESS"

	case entity.DomainSwitch:
		cfg.StateTopic = t.State()
		cfg.CommandTopic = t.Command(e.Object)
		cfg.ValueTemplate = fmt.Sprintf("{{ 'ON' if value_json.%s else 'OFF' }}", e.Key)
		cfg.PayloadOn = "ON"
		cfg.PayloadOff = "OFF"

	case entity.DomainSelect:
		cfg.StateTopic = t.State()
		cfg.CommandTopic = t.Command(e.Object)
		cfg.ValueTemplate = fmt.Sprintf("{{ value_json.%s }}", e.Key)
		cfg.Options = settings.LightModeNames()

	case entity.DomainNumber:
		cfg.StateTopic = t.State()
		cfg.CommandTopic = t.Command(e.Object)
		cfg.ValueTemplate = fmt.Sprintf("{{ value_json.%s }}", e.Key)
		cfg.UnitOfMeasurement = e.Unit
		cfg.Mode = "slider"
		if p, ok := settings.Lookup(e.Key); ok {
			lo, hi, step := p.Min, p.Max, p.Step
			cfg.Min, cfg.Max, cfg.Step = &lo, &hi, &step
		}
	}
	return cfg
}

// LightState is the JSON-schema light state and command payload.
type LightState struct {
	State      string      `json:"state"`
	Brightness *int        `json:"brightness,omitempty"`
	ColorMode  string      `json:"color_mode,omitempty"`
	Color      *LightColor `json:"color,omitempty"`
	Effect     string      `json:"effect,omitempty"`
}

// LightColor is an rgb color in the light payload.
type LightColor struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// BuildLightState renders the light state from a snapshot.
func BuildLightState(snap settings.Snapshot) (LightState, bool) {
	b, ok := snap.Int(settings.Brightness)
	if !ok {
		return LightState{}, false
	}
	ls := LightState{State: "OFF", Brightness: &b}
	if b > 0 {
		ls.State = "ON"
	}
	if c, ok := snap.Color(); ok {
		ls.ColorMode = "rgb"
		ls.Color = &LightColor{R: int(c[0]), G: int(c[1]), B: int(c[2])}
	}
	if m, ok := snap.Mode(); ok {
		ls.Effect = m.String()
	}
	return ls, true
}

// BuildState renders the flat JSON state shared by numbers, switches,
// selects and the distance sensor.
func BuildState(snap settings.Snapshot, distance int, hasDistance bool) map[string]any {
	state := make(map[string]any, len(snap)+1)
	for k, v := range snap {
		switch x := v.(type) {
		case settings.RGB:
			state[k] = []int{int(x[0]), int(x[1]), int(x[2])}
		case settings.LightMode:
			state[k] = x.String()
		default:
			state[k] = v
		}
	}
	if hasDistance {
		state["distance"] = distance
	}
	return state
}
