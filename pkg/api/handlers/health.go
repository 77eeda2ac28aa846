package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/ambisense/pkg/api/types"
	"github.com/urmzd/ambisense/pkg/device"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	links    Links
	timezone string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(links Links, timezone string) *HealthHandler {
	return &HealthHandler{links: links, timezone: timezone}
}

// Health handles GET /health
// @Summary      Health check
// @Description  Returns the bridge status and a count of links per sync state. Degraded when any link is not synced; unavailable when every link is disconnected.
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.HealthResponse  "Bridge is healthy or degraded"
// @Failure      503  {object}  types.HealthResponse  "No link is reachable"
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	all := h.links.List()
	states := map[string]int{
		string(device.StateDisconnected): 0,
		string(device.StateSyncing):      0,
		string(device.StateSynced):       0,
		string(device.StateStale):        0,
	}
	for _, s := range all {
		states[string(s.State())]++
	}

	status := "healthy"
	httpStatus := http.StatusOK
	switch {
	case len(all) > 0 && states[string(device.StateDisconnected)] == len(all):
		status = "unavailable"
		httpStatus = http.StatusServiceUnavailable
	case states[string(device.StateSynced)] < len(all):
		status = "degraded"
	}

	c.JSON(httpStatus, types.HealthResponse{
		Status:    status,
		Links:     len(all),
		States:    states,
		Timezone:  h.timezone,
		Timestamp: time.Now(),
	})
}
