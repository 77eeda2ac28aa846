package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/ambisense/pkg/api/types"
	"github.com/urmzd/ambisense/pkg/device"
)

// writeError maps a device error to its HTTP status. Device rejections carry
// the device's reply verbatim.
func writeError(c *gin.Context, err error) {
	var (
		validation *device.ValidationError
		rejected   *device.RejectedError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "validation_error",
			Message: validation.Error(),
			Key:     validation.Key,
		})
	case errors.Is(err, device.ErrValidation):
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
	case errors.Is(err, device.ErrNotFound):
		c.JSON(http.StatusNotFound, types.ErrorResponse{
			Error:   "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, device.ErrDuplicate):
		c.JSON(http.StatusConflict, types.ErrorResponse{
			Error:   "already_configured",
			Message: err.Error(),
		})
	case errors.As(err, &rejected):
		msg := rejected.Body
		if msg == "" {
			msg = rejected.Error()
		}
		c.JSON(http.StatusBadGateway, types.ErrorResponse{
			Error:   "device_rejected",
			Message: msg,
		})
	case errors.Is(err, device.ErrDeviceRejected):
		c.JSON(http.StatusBadGateway, types.ErrorResponse{
			Error:   "device_rejected",
			Message: err.Error(),
		})
	case errors.Is(err, device.ErrDeviceUnreachable), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, types.ErrorResponse{
			Error:   "device_unreachable",
			Message: err.Error(),
		})
	case errors.Is(err, device.ErrLinkClosed):
		c.JSON(http.StatusGone, types.ErrorResponse{
			Error:   "link_closed",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, types.ErrorResponse{
		Error:   "invalid_request",
		Message: message,
	})
}
