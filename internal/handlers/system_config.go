package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/feedbackloop/internal/services"
	"github.com/huangang/feedbackloop/pkg/response"
)

type SystemConfigHandler struct {
	thresholds *services.ThresholdService
}

func NewSystemConfigHandler(thresholds *services.ThresholdService) *SystemConfigHandler {
	return &SystemConfigHandler{thresholds: thresholds}
}

func (h *SystemConfigHandler) GetRoutingSettings(c *gin.Context) {
	response.Success(c, h.thresholds.Settings())
}

func (h *SystemConfigHandler) UpdateRoutingSettings(c *gin.Context) {
	var req services.UpdateRoutingSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	settings, err := h.thresholds.Update(&req)
	if errors.Is(err, services.ErrInvalidSettings) {
		response.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	services.LogInfo("SystemConfig", "routing_settings_updated", "routing settings updated", "", settings)
	response.Success(c, settings)
}
