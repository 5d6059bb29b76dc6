package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/feedbackloop/internal/services"
	"github.com/huangang/feedbackloop/pkg/response"
)

type LLMConfigHandler struct {
	llmConfigService *services.LLMConfigService
}

func NewLLMConfigHandler(svc *services.LLMConfigService) *LLMConfigHandler {
	return &LLMConfigHandler{llmConfigService: svc}
}

func llmConfigError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrLLMConfigNotFound) {
		response.NotFound(c, "llm config not found")
		return
	}
	response.ServerError(c, err.Error())
}

func (h *LLMConfigHandler) List(c *gin.Context) {
	var req services.LLMConfigListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.llmConfigService.List(&req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, resp)
}

func (h *LLMConfigHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c, "config")
	if !ok {
		return
	}

	cfg, err := h.llmConfigService.GetByID(id)
	if err != nil {
		llmConfigError(c, err)
		return
	}

	response.Success(c, cfg)
}

func (h *LLMConfigHandler) Create(c *gin.Context) {
	var req services.CreateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	cfg, err := h.llmConfigService.Create(&req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Created(c, cfg)
}

func (h *LLMConfigHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "config")
	if !ok {
		return
	}

	var req services.UpdateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	cfg, err := h.llmConfigService.Update(id, &req)
	if err != nil {
		llmConfigError(c, err)
		return
	}

	response.Success(c, cfg)
}

func (h *LLMConfigHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "config")
	if !ok {
		return
	}

	if err := h.llmConfigService.Delete(id); err != nil {
		llmConfigError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "llm config deleted successfully"})
}

type testLLMConfigRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Test classifies a sample reply with one config and returns the verdict.
func (h *LLMConfigHandler) Test(c *gin.Context) {
	id, ok := parseID(c, "config")
	if !ok {
		return
	}

	var req testLLMConfigRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	if req.Language == "" {
		req.Language = "en"
	}

	verdict, err := h.llmConfigService.Test(c.Request.Context(), id, req.Text, req.Language)
	if err != nil {
		if errors.Is(err, services.ErrLLMConfigNotFound) {
			llmConfigError(c, err)
			return
		}
		response.Error(c, response.NewBadGateway(err.Error()))
		return
	}

	response.Success(c, verdict)
}
