package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
	"github.com/huangang/feedbackloop/internal/store"
	"github.com/huangang/feedbackloop/pkg/response"
)

// FeedbackHandler exposes read-only views of feedback requests.
type FeedbackHandler struct {
	repo store.Repository
}

func NewFeedbackHandler(repo store.Repository) *FeedbackHandler {
	return &FeedbackHandler{repo: repo}
}

type FeedbackListRequest struct {
	Page         int    `form:"page" binding:"omitempty,min=1"`
	PageSize     int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Status       string `form:"status"`
	RestaurantID string `form:"restaurant_id"`
}

type FeedbackListResponse struct {
	Total    int64                    `json:"total"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"page_size"`
	Items    []models.FeedbackRequest `json:"items"`
}

type ManualReviewListResponse struct {
	Total    int64                    `json:"total"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"page_size"`
	Items    []models.RoutingDecision `json:"items"`
}

// FeedbackDetail is the full history of one visit.
type FeedbackDetail struct {
	Request     *models.FeedbackRequest   `json:"request"`
	Attempts    []models.OutreachAttempt  `json:"attempts"`
	Responses   []models.CustomerResponse `json:"responses"`
	Sentiments  []models.SentimentResult  `json:"sentiments"`
	Decisions   []models.RoutingDecision  `json:"decisions"`
	Transitions []models.VisitTransition  `json:"transitions"`
}

func pageDefaults(page, pageSize int) (int, int) {
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = 20
	}
	return page, pageSize
}

func (h *FeedbackHandler) List(c *gin.Context) {
	var req FeedbackListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.Status != "" && !feedback.Status(req.Status).Valid() {
		response.BadRequest(c, "unknown status "+req.Status)
		return
	}
	req.Page, req.PageSize = pageDefaults(req.Page, req.PageSize)

	items, total, err := h.repo.ListRequests(c.Request.Context(), store.RequestFilter{
		Status:       req.Status,
		RestaurantID: req.RestaurantID,
		Page:         req.Page,
		PageSize:     req.PageSize,
	})
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, FeedbackListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: items})
}

func (h *FeedbackHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	visitID := c.Param("visit_id")

	fr, err := h.repo.GetRequest(ctx, visitID)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(c, response.NewNotFound("visit not found"))
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	detail := FeedbackDetail{Request: fr}
	if detail.Attempts, err = h.repo.ListAttempts(ctx, visitID); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	if detail.Responses, err = h.repo.ListResponses(ctx, visitID); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	if detail.Sentiments, err = h.repo.ListSentiments(ctx, visitID); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	if detail.Decisions, err = h.repo.ListDecisions(ctx, visitID); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	if detail.Transitions, err = h.repo.ListTransitions(ctx, visitID); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, detail)
}

// ManualReview lists visits that need a human to follow up.
func (h *FeedbackHandler) ManualReview(c *gin.Context) {
	var req struct {
		Page     int `form:"page" binding:"omitempty,min=1"`
		PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.Page, req.PageSize = pageDefaults(req.Page, req.PageSize)

	items, total, err := h.repo.ManualReviewQueue(c.Request.Context(), req.Page, req.PageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, ManualReviewListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: items})
}
