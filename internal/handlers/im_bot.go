package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/feedbackloop/internal/services"
	"github.com/huangang/feedbackloop/pkg/response"
)

type IMBotHandler struct {
	imBotService *services.IMBotService
}

func NewIMBotHandler(svc *services.IMBotService) *IMBotHandler {
	return &IMBotHandler{imBotService: svc}
}

func imBotError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrIMBotNotFound) {
		response.NotFound(c, "bot not found")
		return
	}
	response.ServerError(c, err.Error())
}

func (h *IMBotHandler) List(c *gin.Context) {
	var req services.IMBotListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.imBotService.List(&req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, resp)
}

func (h *IMBotHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c, "bot")
	if !ok {
		return
	}

	bot, err := h.imBotService.GetByID(id)
	if err != nil {
		imBotError(c, err)
		return
	}

	response.Success(c, bot)
}

func (h *IMBotHandler) Create(c *gin.Context) {
	var req services.CreateIMBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	bot, err := h.imBotService.Create(&req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Created(c, bot)
}

func (h *IMBotHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "bot")
	if !ok {
		return
	}

	var req services.UpdateIMBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	bot, err := h.imBotService.Update(id, &req)
	if err != nil {
		imBotError(c, err)
		return
	}

	response.Success(c, bot)
}

func (h *IMBotHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "bot")
	if !ok {
		return
	}

	if err := h.imBotService.Delete(id); err != nil {
		imBotError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "bot deleted successfully"})
}

func (h *IMBotHandler) GetAllActive(c *gin.Context) {
	bots, err := h.imBotService.GetAllActive()
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, bots)
}

// Test sends a sample escalation through the bot.
func (h *IMBotHandler) Test(c *gin.Context) {
	id, ok := parseID(c, "bot")
	if !ok {
		return
	}

	if err := h.imBotService.SendTest(c.Request.Context(), id); err != nil {
		if errors.Is(err, services.ErrIMBotNotFound) {
			imBotError(c, err)
			return
		}
		response.Error(c, response.NewBadGateway("test notification failed: "+err.Error()))
		return
	}

	response.Success(c, gin.H{"message": "test notification sent"})
}
