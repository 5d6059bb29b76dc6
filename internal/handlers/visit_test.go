package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
	"github.com/huangang/feedbackloop/internal/services"
)

type fakeRecorder struct {
	got     services.VisitInput
	created bool
	err     error
}

func (f *fakeRecorder) RecordVisit(_ context.Context, in services.VisitInput) (*models.FeedbackRequest, bool, error) {
	f.got = in
	if f.err != nil {
		return nil, false, f.err
	}
	return &models.FeedbackRequest{VisitID: in.VisitID, Status: string(feedback.StatusCreated)}, f.created, nil
}

func TestVisitHandler_Record(t *testing.T) {
	valid := `{"visit_id":"v1","customer_phone":"+966501234567","restaurant_id":"r1","visited_at":"2025-03-10T12:00:00Z","language":"en"}`

	tests := []struct {
		name     string
		body     string
		created  bool
		err      error
		wantCode int
	}{
		{"created", valid, true, nil, http.StatusCreated},
		{"already known", valid, false, nil, http.StatusOK},
		{"missing phone", `{"visit_id":"v1","restaurant_id":"r1","visited_at":"2025-03-10T12:00:00Z"}`, false, nil, http.StatusBadRequest},
		{"bad json", `{"visit_id":`, false, nil, http.StatusBadRequest},
		{"future visit", valid, false, feedback.ErrFutureVisit, http.StatusBadRequest},
		{"invalid visit", valid, false, fmt.Errorf("%w: bad phone", services.ErrInvalidVisit), http.StatusBadRequest},
		{"store down", valid, false, errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{created: tt.created, err: tt.err}
			r := gin.New()
			r.POST("/api/visits", NewVisitHandler(rec).Record)

			w := performRequest(r, "POST", "/api/visits", []byte(tt.body), nil)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode < 300 {
				var fr models.FeedbackRequest
				decodeResponse(t, w, &fr)
				if fr.VisitID != "v1" || rec.got.Language != "en" || rec.got.VisitedAt.IsZero() {
					t.Errorf("request = %+v, input = %+v", fr, rec.got)
				}
			}
		})
	}
}
