package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/ambisense/pkg/api/types"
	"github.com/urmzd/ambisense/pkg/device"
	"github.com/urmzd/ambisense/pkg/device/schema"
	"github.com/urmzd/ambisense/pkg/discovery"
	"github.com/urmzd/ambisense/pkg/entity"
	"github.com/urmzd/ambisense/pkg/link"
	"github.com/urmzd/ambisense/pkg/settings"
)

// Links is the link registry the handlers operate on. *link.Manager satisfies it.
type Links interface {
	link.EventSubscriber
	Add(l device.Link) (*link.Synchronizer, error)
	Rename(id, name string) (*link.Synchronizer, error)
	Remove(id string) error
	Get(id string) (*link.Synchronizer, error)
	List() []*link.Synchronizer
}

// LinkStore persists link config entries. Without one, links live only in
// memory.
type LinkStore interface {
	CreateLink(ctx context.Context, name, host string) (device.Link, error)
	RenameLink(ctx context.Context, id, name string) error
	DeleteLink(ctx context.Context, id string) error
}

// LinksHandler handles device link and settings endpoints
type LinksHandler struct {
	links     Links
	store     LinkStore
	probe     discovery.ProbeFunc
	validator *schema.Validator
}

// NewLinksHandler creates a new links handler. store may be nil.
func NewLinksHandler(links Links, store LinkStore, probe discovery.ProbeFunc, validator *schema.Validator) *LinksHandler {
	if probe == nil {
		probe = discovery.Probe
	}
	return &LinksHandler{links: links, store: store, probe: probe, validator: validator}
}

// ListLinks handles GET /links
// @Summary      List device links
// @Description  Returns every configured AmbiSense link with its sync state and cached settings
// @Tags         links
// @Produce      json
// @Success      200  {object}  types.ListLinksResponse
// @Router       /links [get]
func (h *LinksHandler) ListLinks(c *gin.Context) {
	all := h.links.List()
	result := make([]types.LinkResponse, 0, len(all))
	for _, s := range all {
		result = append(result, linkResponse(s))
	}
	c.JSON(http.StatusOK, types.ListLinksResponse{
		Links: result,
		Count: len(result),
	})
}

// GetLink handles GET /links/:id
// @Summary      Get a device link
// @Tags         links
// @Produce      json
// @Param        id   path      string  true  "Link ID"
// @Success      200  {object}  types.LinkResponse
// @Failure      404  {object}  types.ErrorResponse  "Link not found"
// @Router       /links/{id} [get]
func (h *LinksHandler) GetLink(c *gin.Context) {
	s, err := h.links.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, linkResponse(s))
}

// CreateLink handles POST /links
// @Summary      Add a device link
// @Description  Configures a new AmbiSense device by host. A host can be configured once.
// @Tags         links
// @Accept       json
// @Produce      json
// @Param        request  body      types.CreateLinkRequest  true  "Device to add"
// @Success      201      {object}  types.LinkResponse
// @Failure      400      {object}  types.ErrorResponse  "Invalid request"
// @Failure      409      {object}  types.ErrorResponse  "Host already configured"
// @Failure      504      {object}  types.ErrorResponse  "Device unreachable"
// @Router       /links [post]
func (h *LinksHandler) CreateLink(c *gin.Context) {
	ctx := c.Request.Context()

	var req types.CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "host is required")
		return
	}
	req.Host = strings.TrimSpace(req.Host)
	if req.Name == "" {
		req.Name = device.DefaultName
	}

	if req.Verify {
		if err := h.probe(ctx, req.Host); err != nil {
			writeError(c, err)
			return
		}
	}

	l := device.Link{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Host:         req.Host,
		Protocol:     device.ProtocolWiFi,
		Manufacturer: device.Manufacturer,
		Model:        device.Model,
		CreatedAt:    time.Now(),
	}
	if h.store != nil {
		stored, err := h.store.CreateLink(ctx, req.Name, req.Host)
		if err != nil {
			writeError(c, err)
			return
		}
		l = stored
	}

	s, err := h.links.Add(l)
	if err != nil {
		if h.store != nil {
			if derr := h.store.DeleteLink(ctx, l.ID); derr != nil {
				log.Warn().Err(derr).Str("link_id", l.ID).Msg("Failed to roll back stored link")
			}
		}
		writeError(c, err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), link.DefaultOperationTimeout)
		defer cancel()
		if _, err := s.Refresh(ctx); err != nil {
			log.Warn().Err(err).Str("link_id", l.ID).Msg("Initial settings refresh failed")
		}
	}()

	c.JSON(http.StatusCreated, linkResponse(s))
}

// RenameLink handles PATCH /links/:id
// @Summary      Rename a device link
// @Description  Changes the display name of a link. Entity ids follow the new name; cached settings are kept.
// @Tags         links
// @Accept       json
// @Produce      json
// @Param        id       path      string                   true  "Link ID"
// @Param        request  body      types.RenameLinkRequest  true  "New name"
// @Success      200      {object}  types.LinkResponse
// @Failure      400      {object}  types.ErrorResponse  "Invalid request"
// @Failure      404      {object}  types.ErrorResponse  "Link not found"
// @Router       /links/{id} [patch]
func (h *LinksHandler) RenameLink(c *gin.Context) {
	id := c.Param("id")

	var req types.RenameLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		badRequest(c, "name is required")
		return
	}
	name := strings.TrimSpace(req.Name)

	if _, err := h.links.Get(id); err != nil {
		writeError(c, err)
		return
	}
	if h.store != nil {
		if err := h.store.RenameLink(c.Request.Context(), id, name); err != nil {
			writeError(c, err)
			return
		}
	}

	s, err := h.links.Rename(id, name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, linkResponse(s))
}

// DeleteLink handles DELETE /links/:id
// @Summary      Remove a device link
// @Description  Tears the link down and discards its cached settings
// @Tags         links
// @Param        id  path  string  true  "Link ID"
// @Success      204
// @Failure      404  {object}  types.ErrorResponse  "Link not found"
// @Router       /links/{id} [delete]
func (h *LinksHandler) DeleteLink(c *gin.Context) {
	id := c.Param("id")
	if err := h.links.Remove(id); err != nil {
		writeError(c, err)
		return
	}
	if h.store != nil {
		if err := h.store.DeleteLink(c.Request.Context(), id); err != nil {
			log.Warn().Err(err).Str("link_id", id).Msg("Failed to delete stored link")
		}
	}
	c.Status(http.StatusNoContent)
}

// GetSettings handles GET /links/:id/settings
// @Summary      Get cached settings
// @Description  Returns the last synchronized settings; refresh=true fetches from the device first
// @Tags         settings
// @Produce      json
// @Param        id       path      string  true   "Link ID"
// @Param        refresh  query     bool    false  "Fetch from the device first"
// @Success      200      {object}  types.SettingsResponse
// @Failure      404      {object}  types.ErrorResponse  "Link not found"
// @Failure      504      {object}  types.ErrorResponse  "Device unreachable"
// @Router       /links/{id}/settings [get]
func (h *LinksHandler) GetSettings(c *gin.Context) {
	s, err := h.links.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if c.Query("refresh") == "true" {
		if _, err := s.Refresh(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, settingsResponse(s, s.Snapshot()))
}

// UpdateSettings handles POST /links/:id/settings
// @Summary      Update settings
// @Description  Validates every field, then pushes the changed fields to the device. Nothing is applied if any field is invalid; a failed push is rolled back.
// @Tags         settings
// @Accept       json
// @Produce      json
// @Param        id       path      string  true  "Link ID"
// @Param        request  body      object  true  "Settings to change"
// @Success      200      {object}  types.SettingsResponse
// @Failure      400      {object}  types.ErrorResponse  "Validation error"
// @Failure      404      {object}  types.ErrorResponse  "Link not found"
// @Failure      502      {object}  types.ErrorResponse  "Device rejected the update"
// @Failure      504      {object}  types.ErrorResponse  "Device unreachable"
// @Router       /links/{id}/settings [post]
func (h *LinksHandler) UpdateSettings(c *gin.Context) {
	var fields map[string]any
	if err := json.NewDecoder(c.Request.Body).Decode(&fields); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	s, err := h.links.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	if h.validator != nil {
		if err := h.validator.Validate(settings.Document(), fields); err != nil {
			writeError(c, err)
			return
		}
	}

	snap, err := s.UpdateSettings(c.Request.Context(), fields)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsResponse(s, snap))
}

// ApplySettings handles POST /links/:id/apply
// @Summary      Re-apply settings
// @Description  Pushes the entire cached settings to the device, e.g. after a device reboot
// @Tags         settings
// @Produce      json
// @Param        id   path      string  true  "Link ID"
// @Success      200  {object}  types.SettingsResponse
// @Failure      404  {object}  types.ErrorResponse  "Link not found"
// @Failure      502  {object}  types.ErrorResponse  "Device rejected the update"
// @Failure      504  {object}  types.ErrorResponse  "Device unreachable"
// @Router       /links/{id}/apply [post]
func (h *LinksHandler) ApplySettings(c *gin.Context) {
	s, err := h.links.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.ApplySettings(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsResponse(s, s.Snapshot()))
}

// RefreshSettings handles POST /links/:id/refresh
// @Summary      Refresh settings
// @Description  Fetches the settings from the device and replaces the cache
// @Tags         settings
// @Produce      json
// @Param        id   path      string  true  "Link ID"
// @Success      200  {object}  types.SettingsResponse
// @Failure      404  {object}  types.ErrorResponse  "Link not found"
// @Failure      504  {object}  types.ErrorResponse  "Device unreachable"
// @Router       /links/{id}/refresh [post]
func (h *LinksHandler) RefreshSettings(c *gin.Context) {
	s, err := h.links.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	snap, err := s.Refresh(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsResponse(s, snap))
}

// GetDistance handles GET /links/:id/distance
// @Summary      Read the distance sensor
// @Tags         settings
// @Produce      json
// @Param        id   path      string  true  "Link ID"
// @Success      200  {object}  types.DistanceResponse
// @Failure      404  {object}  types.ErrorResponse  "Link not found"
// @Failure      504  {object}  types.ErrorResponse  "Device unreachable"
// @Router       /links/{id}/distance [get]
func (h *LinksHandler) GetDistance(c *gin.Context) {
	s, err := h.links.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	d, err := s.PollDistance(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.DistanceResponse{
		LinkID:    s.Link().ID,
		Distance:  d,
		Unit:      "cm",
		Timestamp: time.Now(),
	})
}

// GetEntities handles GET /links/:id/entities
// @Summary      List reflected entities
// @Description  Returns the light, sensor, number, switch, select and button entities of the link with their current state
// @Tags         links
// @Produce      json
// @Param        id   path      string  true  "Link ID"
// @Success      200  {array}   entity.Entity
// @Failure      404  {object}  types.ErrorResponse  "Link not found"
// @Router       /links/{id}/entities [get]
func (h *LinksHandler) GetEntities(c *gin.Context) {
	s, err := h.links.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entity.Reflect(s))
}

func linkResponse(s *link.Synchronizer) types.LinkResponse {
	l := s.Link()
	state, lastErr, updated := s.Status()

	resp := types.LinkResponse{
		ID:        l.ID,
		Name:      l.Name,
		Host:      l.Host,
		Model:     l.Model,
		State:     string(state),
		LastError: lastErr,
		CreatedAt: l.CreatedAt,
	}
	if !updated.IsZero() {
		resp.UpdatedAt = &updated
	}
	if d, ok := s.Distance(); ok {
		resp.Distance = &d
	}
	for _, e := range entity.Describe(l) {
		resp.EntityIDs = append(resp.EntityIDs, e.ID)
	}
	if snap := s.Snapshot(); len(snap) > 0 {
		resp.Settings = snap
	}
	return resp
}

func settingsResponse(s *link.Synchronizer, snap settings.Snapshot) types.SettingsResponse {
	if snap == nil {
		snap = settings.Snapshot{}
	}
	return types.SettingsResponse{
		LinkID:    s.Link().ID,
		State:     string(s.State()),
		Settings:  snap,
		Timestamp: time.Now(),
	}
}
