package mcp

import (
	"encoding/json"
	"time"

	"github.com/urmzd/ambisense/pkg/discovery"
	"github.com/urmzd/ambisense/pkg/entity"
	"github.com/urmzd/ambisense/pkg/link"
	"github.com/urmzd/ambisense/pkg/settings"
)

// --- Health Tool ---

// GetHealthOutput is the output for the get_health tool
type GetHealthOutput struct {
	Status    string         `json:"status" jsonschema:"description=healthy, degraded or unavailable"`
	Links     int            `json:"links" jsonschema:"description=Number of configured device links"`
	States    map[string]int `json:"states" jsonschema:"description=Number of links per sync state"`
	Timestamp string         `json:"timestamp" jsonschema:"description=ISO8601 timestamp"`
}

// --- List Links Tool ---

// ListLinksOutput is the output for the list_links tool
type ListLinksOutput struct {
	Links []LinkInfo `json:"links" jsonschema:"description=Configured AmbiSense device links"`
	Count int        `json:"count" jsonschema:"description=Total number of links"`
}

// LinkInfo represents a device link in tool outputs
type LinkInfo struct {
	ID        string            `json:"id" jsonschema:"description=Link identifier"`
	Name      string            `json:"name" jsonschema:"description=User-facing device name"`
	Host      string            `json:"host" jsonschema:"description=Device IP address or hostname"`
	State     string            `json:"state" jsonschema:"description=Sync state (disconnected/syncing/synced/stale)"`
	LastError string            `json:"last_error,omitempty" jsonschema:"description=Last device error"`
	Distance  *int              `json:"distance_cm,omitempty" jsonschema:"description=Last radar distance in centimeters"`
	Settings  settings.Snapshot `json:"settings,omitempty" jsonschema:"description=Cached device settings"`
}

// LinkToInfo converts a synchronizer to its tool representation
func LinkToInfo(s *link.Synchronizer) LinkInfo {
	l := s.Link()
	state, lastErr, _ := s.Status()
	info := LinkInfo{
		ID:        l.ID,
		Name:      l.Name,
		Host:      l.Host,
		State:     string(state),
		LastError: lastErr,
	}
	if d, ok := s.Distance(); ok {
		info.Distance = &d
	}
	if snap := s.Snapshot(); len(snap) > 0 {
		info.Settings = snap
	}
	return info
}

// --- Settings Tools ---

// SettingsOutput is the output for the get_settings, update_settings,
// apply_settings and refresh_settings tools
type SettingsOutput struct {
	LinkID   string            `json:"link_id" jsonschema:"description=Link identifier"`
	State    string            `json:"state" jsonschema:"description=Sync state after the operation"`
	Settings settings.Snapshot `json:"settings" jsonschema:"description=Settings snapshot"`
}

// DescribeSchemaOutput is the output for the describe_schema tool
type DescribeSchemaOutput struct {
	Schema     json.RawMessage `json:"schema" jsonschema:"description=JSON Schema of a settings payload"`
	LightModes []string        `json:"light_modes" jsonschema:"description=Light mode names in device index order"`
}

// GetDistanceOutput is the output for the get_distance tool
type GetDistanceOutput struct {
	LinkID    string    `json:"link_id" jsonschema:"description=Link identifier"`
	Distance  int       `json:"distance" jsonschema:"description=Radar distance"`
	Unit      string    `json:"unit" jsonschema:"description=Always cm"`
	Timestamp time.Time `json:"timestamp" jsonschema:"description=Time of the reading"`
}

// --- Discovery Tool ---

// DiscoverDevicesOutput is the output for the discover_devices tool
type DiscoverDevicesOutput struct {
	Devices []discovery.Device `json:"devices" jsonschema:"description=Devices found on the local network"`
	Count   int                `json:"count" jsonschema:"description=Number of devices found"`
}

// --- Light Tools ---

// LightOutput is the output for the turn_on and turn_off tools
type LightOutput struct {
	EntityID string            `json:"entity_id" jsonschema:"description=Light entity that was commanded"`
	Settings settings.Snapshot `json:"settings" jsonschema:"description=Settings snapshot after the command"`
}

// --- Entities Tool ---

// ListEntitiesOutput is the output for the list_entities tool
type ListEntitiesOutput struct {
	LinkID   string          `json:"link_id" jsonschema:"description=Link identifier"`
	Entities []entity.Entity `json:"entities" jsonschema:"description=Entities with their current state"`
}
