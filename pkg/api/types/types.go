package types

import (
	"encoding/json"
	"time"

	"github.com/urmzd/ambisense/pkg/discovery"
)

// --- Request DTOs ---

// CreateLinkRequest is the request body for POST /links
type CreateLinkRequest struct {
	Name string `json:"name"`
	Host string `json:"host" binding:"required"`
	// Verify probes the device before the link is stored
	Verify bool `json:"verify"`
}

// ScanRequest is the request body for POST /discovery/scan
type ScanRequest struct {
	Verify bool `json:"verify"`
}

// UpdateSettingsServiceRequest is the request body for
// POST /services/ambisense/update_settings
type UpdateSettingsServiceRequest struct {
	EntityID []string       `json:"entity_id" binding:"required"`
	Fields   map[string]any `json:"fields" binding:"required"`
}

// ApplySettingsServiceRequest is the request body for
// POST /services/ambisense/apply_settings
type ApplySettingsServiceRequest struct {
	EntityID []string `json:"entity_id" binding:"required"`
}

// --- Response DTOs ---

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Key     string `json:"key,omitempty"`
}

// HealthResponse is returned from GET /health
type HealthResponse struct {
	Status    string         `json:"status"`
	Links     int            `json:"links"`
	States    map[string]int `json:"states"`
	Timezone  string         `json:"timezone,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// LinkResponse describes one device link and its sync status
type LinkResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Host      string         `json:"host"`
	Model     string         `json:"model"`
	State     string         `json:"state"`
	LastError string         `json:"last_error,omitempty"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
	Distance  *int           `json:"distance,omitempty"`
	EntityIDs []string       `json:"entity_ids"`
	Settings  map[string]any `json:"settings,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListLinksResponse is returned from GET /links
type ListLinksResponse struct {
	Links []LinkResponse `json:"links"`
	Count int            `json:"count"`
}

// SettingsResponse is returned from the settings endpoints
type SettingsResponse struct {
	LinkID    string         `json:"link_id"`
	State     string         `json:"state"`
	Settings  map[string]any `json:"settings"`
	Timestamp time.Time      `json:"timestamp"`
}

// DistanceResponse is returned from GET /links/:id/distance
type DistanceResponse struct {
	LinkID    string    `json:"link_id"`
	Distance  int       `json:"distance"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
}

// ScanResponse is returned from POST /discovery/scan
type ScanResponse struct {
	Devices []discovery.Device `json:"devices"`
	Count   int                `json:"count"`
}

// ServiceResponse is returned from the service endpoints
type ServiceResponse struct {
	Status   string   `json:"status"`
	EntityID []string `json:"entity_id"`
}

// SchemaResponse is returned from GET /schema
type SchemaResponse struct {
	Schema     json.RawMessage `json:"schema"`
	LightModes []string        `json:"light_modes"`
}

// RenameLinkRequest is the request body for PATCH /links/:id
type RenameLinkRequest struct {
	Name string `json:"name" binding:"required"`
}

// CommandRequest is the request body for POST /entities/:entity_id
type CommandRequest struct {
	Value  any            `json:"value"`
	TurnOn *TurnOnPayload `json:"turn_on,omitempty"`
}

// TurnOnPayload carries the optional light.turn_on attributes
type TurnOnPayload struct {
	Brightness *int   `json:"brightness,omitempty"`
	RGBColor   []int  `json:"rgb_color,omitempty"`
	Effect     string `json:"effect,omitempty"`
}
