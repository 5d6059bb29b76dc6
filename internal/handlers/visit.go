package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
	"github.com/huangang/feedbackloop/internal/services"
	"github.com/huangang/feedbackloop/pkg/logger"
	"github.com/huangang/feedbackloop/pkg/response"
)

// VisitRecorder starts the feedback lifecycle for a completed visit.
type VisitRecorder interface {
	RecordVisit(ctx context.Context, in services.VisitInput) (*models.FeedbackRequest, bool, error)
}

type VisitHandler struct {
	visits VisitRecorder
}

func NewVisitHandler(visits VisitRecorder) *VisitHandler {
	return &VisitHandler{visits: visits}
}

type RecordVisitRequest struct {
	VisitID       string    `json:"visit_id" binding:"required,max=64"`
	CustomerRef   string    `json:"customer_ref" binding:"max=128"`
	CustomerPhone string    `json:"customer_phone" binding:"required"`
	RestaurantID  string    `json:"restaurant_id" binding:"required"`
	VisitedAt     time.Time `json:"visited_at" binding:"required"`
	Language      string    `json:"language"`
}

// Record handles POST /api/visits. Re-posting a known visit returns the
// existing request with 200.
func (h *VisitHandler) Record(c *gin.Context) {
	var req RecordVisitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	fr, created, err := h.visits.RecordVisit(c.Request.Context(), services.VisitInput{
		VisitID:       req.VisitID,
		CustomerRef:   req.CustomerRef,
		CustomerPhone: req.CustomerPhone,
		RestaurantID:  req.RestaurantID,
		VisitedAt:     req.VisitedAt,
		Language:      req.Language,
	})
	switch {
	case errors.Is(err, services.ErrInvalidVisit), errors.Is(err, feedback.ErrFutureVisit):
		response.Error(c, response.NewBadRequest(err.Error()))
		return
	case errors.Is(err, services.ErrShuttingDown):
		response.Error(c, response.NewUnavailable("shutting down, retry later"))
		return
	case err != nil:
		logger.Error().Err(err).Str("visit_id", req.VisitID).Msg("record visit failed")
		response.Error(c, response.NewServerError("failed to record visit"))
		return
	}

	if created {
		response.Created(c, fr)
		return
	}
	response.Success(c, fr)
}
