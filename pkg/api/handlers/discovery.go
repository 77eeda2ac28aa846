package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/ambisense/pkg/api/types"
	"github.com/urmzd/ambisense/pkg/discovery"
)

// Scanner finds AmbiSense devices on the local network. *discovery.Scanner
// satisfies it.
type Scanner interface {
	Scan(ctx context.Context, verify bool) ([]discovery.Device, error)
}

// DiscoveryHandler handles device discovery endpoints
type DiscoveryHandler struct {
	scanner Scanner
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(scanner Scanner) *DiscoveryHandler {
	return &DiscoveryHandler{scanner: scanner}
}

// Scan handles POST /discovery/scan
// @Summary      Scan for devices
// @Description  Browses mDNS for ambisense-* web servers and tries the common ambisense-<location>.local names. With verify, each candidate is probed over HTTP.
// @Tags         discovery
// @Accept       json
// @Produce      json
// @Param        request  body      types.ScanRequest  false  "Scan options"
// @Success      200      {object}  types.ScanResponse
// @Failure      500      {object}  types.ErrorResponse  "Scan failed"
// @Router       /discovery/scan [post]
func (h *DiscoveryHandler) Scan(c *gin.Context) {
	var req types.ScanRequest
	// an empty body means defaults
	_ = c.ShouldBindJSON(&req)

	devices, err := h.scanner.Scan(c.Request.Context(), req.Verify)
	if err != nil {
		writeError(c, err)
		return
	}
	if devices == nil {
		devices = []discovery.Device{}
	}

	c.JSON(http.StatusOK, types.ScanResponse{
		Devices: devices,
		Count:   len(devices),
	})
}
