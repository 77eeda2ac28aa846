package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/ambisense/pkg/api/types"
	"github.com/urmzd/ambisense/pkg/device/schema"
	"github.com/urmzd/ambisense/pkg/entity"
	"github.com/urmzd/ambisense/pkg/settings"
)

// Services is the service layer the handlers call. *entity.Services
// satisfies it.
type Services interface {
	UpdateSettings(ctx context.Context, entityIDs []string, fields map[string]any) error
	ApplySettings(ctx context.Context, entityIDs []string) error
	Command(ctx context.Context, entityID string, value any) error
}

// ServicesHandler handles the ambisense.* service calls and entity commands
type ServicesHandler struct {
	services  Services
	validator *schema.Validator
}

// NewServicesHandler creates a new services handler
func NewServicesHandler(services Services, validator *schema.Validator) *ServicesHandler {
	return &ServicesHandler{services: services, validator: validator}
}

// UpdateSettings handles POST /services/ambisense/update_settings
// @Summary      Update settings of light entities
// @Description  Validates the fields once, then updates every targeted AmbiSense light. Failures of individual links are reported together.
// @Tags         services
// @Accept       json
// @Produce      json
// @Param        request  body      types.UpdateSettingsServiceRequest  true  "Targets and fields"
// @Success      200      {object}  types.ServiceResponse
// @Failure      400      {object}  types.ErrorResponse  "Validation error"
// @Failure      404      {object}  types.ErrorResponse  "Unknown or non-light target"
// @Failure      502      {object}  types.ErrorResponse  "Device rejected the update"
// @Failure      504      {object}  types.ErrorResponse  "Device unreachable"
// @Router       /services/ambisense/update_settings [post]
func (h *ServicesHandler) UpdateSettings(c *gin.Context) {
	var req types.UpdateSettingsServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "entity_id and fields are required")
		return
	}

	if h.validator != nil {
		if err := h.validator.Validate(settings.Document(), req.Fields); err != nil {
			writeError(c, err)
			return
		}
	}

	if err := h.services.UpdateSettings(c.Request.Context(), req.EntityID, req.Fields); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.ServiceResponse{Status: "ok", EntityID: req.EntityID})
}

// ApplySettings handles POST /services/ambisense/apply_settings
// @Summary      Re-apply settings of light entities
// @Description  Pushes the full cached settings of every targeted AmbiSense light
// @Tags         services
// @Accept       json
// @Produce      json
// @Param        request  body      types.ApplySettingsServiceRequest  true  "Targets"
// @Success      200      {object}  types.ServiceResponse
// @Failure      404      {object}  types.ErrorResponse  "Unknown or non-light target"
// @Failure      502      {object}  types.ErrorResponse  "Device rejected the update"
// @Failure      504      {object}  types.ErrorResponse  "Device unreachable"
// @Router       /services/ambisense/apply_settings [post]
func (h *ServicesHandler) ApplySettings(c *gin.Context) {
	var req types.ApplySettingsServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "entity_id is required")
		return
	}

	if err := h.services.ApplySettings(c.Request.Context(), req.EntityID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.ServiceResponse{Status: "ok", EntityID: req.EntityID})
}

// Command handles POST /entities/:entity_id
// @Summary      Command one entity
// @Description  Sets a number, switch or select entity, presses the apply button, or turns the light on ("on" or a turn_on object) or off
// @Tags         services
// @Accept       json
// @Produce      json
// @Param        entity_id  path      string                 true  "Entity ID"
// @Param        request    body      types.CommandRequest   true  "Value"
// @Success      200        {object}  types.ServiceResponse
// @Failure      400        {object}  types.ErrorResponse  "Validation error"
// @Failure      404        {object}  types.ErrorResponse  "Unknown entity"
// @Failure      504        {object}  types.ErrorResponse  "Device unreachable"
// @Router       /entities/{entity_id} [post]
func (h *ServicesHandler) Command(c *gin.Context) {
	var req types.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	id := c.Param("entity_id")
	value := req.Value
	if req.TurnOn != nil {
		value = entity.TurnOnRequest{
			Brightness: req.TurnOn.Brightness,
			RGBColor:   req.TurnOn.RGBColor,
			Effect:     req.TurnOn.Effect,
		}
	}

	if err := h.services.Command(c.Request.Context(), id, value); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.ServiceResponse{Status: "ok", EntityID: []string{id}})
}

// Schema handles GET /schema
// @Summary      Settings schema
// @Description  Returns the JSON Schema of a settings payload with per-field UI selectors, and the light mode names
// @Tags         services
// @Produce      json
// @Success      200  {object}  types.SchemaResponse
// @Router       /schema [get]
func (h *ServicesHandler) Schema(c *gin.Context) {
	c.JSON(http.StatusOK, types.SchemaResponse{
		Schema:     settings.Document(),
		LightModes: settings.LightModeNames(),
	})
}
