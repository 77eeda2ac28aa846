package device

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// Link describes one configured AmbiSense device and the logical connection to it
type Link struct {
	ID           string          `json:"id"`           // Config entry identifier (uuid)
	Name         string          `json:"name"`         // User-friendly name, e.g. ambisense-livingroom
	Host         string          `json:"host"`         // IP address or hostname of the device web interface
	Protocol     string          `json:"protocol"`     // Always wifi for AmbiSense
	Manufacturer string          `json:"manufacturer"` // Device manufacturer/vendor
	Model        string          `json:"model"`        // Device model
	StateSchema  json.RawMessage `json:"state_schema"` // JSON Schema for settable settings
	CreatedAt    time.Time       `json:"created_at"`
}

// Slug returns the entity-id friendly form of the link name.
func (l *Link) Slug() string {
	return Slugify(l.Name)
}

// EntityID builds the automation-host entity id for one of the link's
// entities, e.g. EntityID("light", "light") gives "light.kitchen_light".
func (l *Link) EntityID(domain, object string) string {
	return domain + "." + l.Slug() + "_" + object
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses every run of non-alphanumerics into "_".
func Slugify(s string) string {
	s = nonSlug.ReplaceAllString(strings.ToLower(s), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "ambisense"
	}
	return s
}

// SyncState is the per-link synchronization state.
type SyncState string

const (
	StateDisconnected SyncState = "disconnected"
	StateSyncing      SyncState = "syncing"
	StateSynced       SyncState = "synced"
	StateStale        SyncState = "stale"
)

// Protocol constants
const (
	ProtocolWiFi = "wifi"
)

// Device identity reported to automation hosts
const (
	Manufacturer = "TechPosts Media"
	Model        = "AmbiSense Radar-Controlled LED System"
)

// DefaultName is used when a link is configured without a name
const DefaultName = "AmbiSense"

// MDNSPrefix is the hostname prefix AmbiSense firmware advertises
const MDNSPrefix = "ambisense-"
