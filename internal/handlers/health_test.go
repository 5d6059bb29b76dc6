package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
	"github.com/huangang/feedbackloop/internal/services"
)

type healthBody struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	Components struct {
		Database     string `json:"database"`
		QueueMode    string `json:"queue_mode"`
		OpenRequests int64  `json:"open_requests"`
	} `json:"components"`
}

func TestHealthHandler(t *testing.T) {
	db := newTestDB(t)
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	db.Create(&models.FeedbackRequest{VisitID: "v1", RestaurantID: "r1", VisitedAt: at, Status: string(feedback.StatusAwaitingResponse)})
	db.Create(&models.FeedbackRequest{VisitID: "v2", RestaurantID: "r1", VisitedAt: at, Status: string(feedback.StatusRouted)})

	queue := services.NewSyncQueue()
	queue.SetProcessor(func(context.Context, *feedback.Envelope) error { return nil })

	r := gin.New()
	r.GET("/health", NewHealthHandler(db, queue).CheckHealth)

	w := performRequest(r, "GET", "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body healthBody
	decodeJSON(t, w.Body.Bytes(), &body)
	if body.Status != "healthy" || body.Components.Database != "ok" || body.Components.QueueMode != "sync" || body.Components.OpenRequests != 1 {
		t.Errorf("health = %+v", body)
	}

	sqlDB, _ := db.DB()
	sqlDB.Close()
	w = performRequest(r, "GET", "/health", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("closed db status = %d, want 503", w.Code)
	}
}
