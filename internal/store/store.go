// Package store is the single persistence boundary for feedback records.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/huangang/feedbackloop/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// RequestFilter narrows ListRequests.
type RequestFilter struct {
	Status       string
	RestaurantID string
	Page         int
	PageSize     int
}

// Repository is the canonical access path to feedback records. Other
// packages only see the models returned here.
type Repository interface {
	GetRestaurant(ctx context.Context, id string) (*models.Restaurant, error)

	// CreateRequest inserts a new request. It returns ErrDuplicate when the
	// visit is already known.
	CreateRequest(ctx context.Context, req *models.FeedbackRequest) error
	GetRequest(ctx context.Context, visitID string) (*models.FeedbackRequest, error)
	FindOpenRequestByPhone(ctx context.Context, phone string) (*models.FeedbackRequest, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]models.FeedbackRequest, int64, error)
	// SaveRequest persists the request and, when given, its transition log entry.
	SaveRequest(ctx context.Context, req *models.FeedbackRequest, tr *models.VisitTransition) error
	// DueActions returns open requests in status whose next_action_at <= now.
	DueActions(ctx context.Context, status string, now time.Time, limit int) ([]models.FeedbackRequest, error)
	// ExpiredDeadlines returns awaiting requests whose response_deadline <= now.
	ExpiredDeadlines(ctx context.Context, now time.Time, limit int) ([]models.FeedbackRequest, error)
	// UnconfirmedSends returns pending requests whose confirm_deadline <= now.
	UnconfirmedSends(ctx context.Context, now time.Time, limit int) ([]models.FeedbackRequest, error)
	ListTransitions(ctx context.Context, visitID string) ([]models.VisitTransition, error)

	CreateAttempt(ctx context.Context, a *models.OutreachAttempt) error
	UpdateAttempt(ctx context.Context, a *models.OutreachAttempt) error
	GetAttemptByChannelID(ctx context.Context, channelMessageID string) (*models.OutreachAttempt, error)
	ListAttempts(ctx context.Context, visitID string) ([]models.OutreachAttempt, error)

	// AddResponse stores a reply and assigns its per-visit sequence number.
	// It returns ErrDuplicate when the visit already has the reply's event id.
	AddResponse(ctx context.Context, r *models.CustomerResponse) error
	GetResponseByEvent(ctx context.Context, visitID, eventID string) (*models.CustomerResponse, error)
	GetResponse(ctx context.Context, id string) (*models.CustomerResponse, error)
	ListResponses(ctx context.Context, visitID string) ([]models.CustomerResponse, error)
	SetResponseState(ctx context.Context, id, state string) error

	// SaveSentiment returns ErrDuplicate if the response already has a result.
	SaveSentiment(ctx context.Context, s *models.SentimentResult) error
	GetSentiment(ctx context.Context, responseID string) (*models.SentimentResult, error)
	MarkSentimentSuperseded(ctx context.Context, responseID string) error
	ListSentiments(ctx context.Context, visitID string) ([]models.SentimentResult, error)

	// SuccessfulDecision returns ErrNotFound when no successful decision exists.
	SuccessfulDecision(ctx context.Context, visitID string) (*models.RoutingDecision, error)
	// RecordDecision returns ErrDuplicate when a second success is recorded.
	RecordDecision(ctx context.Context, d *models.RoutingDecision) error
	ListDecisions(ctx context.Context, visitID string) ([]models.RoutingDecision, error)
	ManualReviewQueue(ctx context.Context, page, pageSize int) ([]models.RoutingDecision, int64, error)

	// MarkEventProcessed returns false if the event id was seen before.
	MarkEventProcessed(ctx context.Context, eventID, visitID, kind string) (bool, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
}
