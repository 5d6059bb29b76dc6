package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
	"github.com/huangang/feedbackloop/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports the state of the service's dependencies.
type HealthHandler struct {
	db    *gorm.DB
	queue services.TaskQueue
}

func NewHealthHandler(db *gorm.DB, queue services.TaskQueue) *HealthHandler {
	return &HealthHandler{db: db, queue: queue}
}

// CheckHealth returns 503 when the database is unreachable.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall, status := "healthy", http.StatusOK

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
	}
	if dbStatus != "ok" {
		overall, status = "unhealthy", http.StatusServiceUnavailable
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	open := make([]string, 0, len(feedback.OpenStatuses))
	for _, s := range feedback.OpenStatuses {
		open = append(open, string(s))
	}
	var openCount int64
	if dbStatus == "ok" {
		h.db.WithContext(c.Request.Context()).Model(&models.FeedbackRequest{}).
			Where("status IN ?", open).
			Count(&openCount)
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "feedbackloop",
		"components": gin.H{
			"database":      dbStatus,
			"queue_mode":    queueMode,
			"open_requests": openCount,
		},
	})
}
