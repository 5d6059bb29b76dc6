package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
	"gorm.io/gorm"
)

// GormStore implements Repository on any gorm dialect.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) DB() *gorm.DB { return s.db }

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "duplicate key")
}

func openStatuses() []string {
	out := make([]string, 0, len(feedback.OpenStatuses))
	for _, s := range feedback.OpenStatuses {
		out = append(out, string(s))
	}
	return out
}

func (s *GormStore) GetRestaurant(ctx context.Context, id string) (*models.Restaurant, error) {
	var r models.Restaurant
	if err := s.conn(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *GormStore) CreateRequest(ctx context.Context, req *models.FeedbackRequest) error {
	if err := s.conn(ctx).Create(req).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *GormStore) GetRequest(ctx context.Context, visitID string) (*models.FeedbackRequest, error) {
	var req models.FeedbackRequest
	if err := s.conn(ctx).Where("visit_id = ?", visitID).First(&req).Error; err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

// lastSend is the creation time of the visit's latest outreach accepted by
// the gateway, NULL when nothing was sent yet.
const lastSend = "(SELECT MAX(a.created_at) FROM outreach_attempts a" +
	" WHERE a.visit_id = feedback_requests.visit_id AND a.channel_message_id IS NOT NULL)"

// FindOpenRequestByPhone picks the conversation a reply from phone answers:
// the open visit that most recently had an outreach sent. Visits that were
// never contacted cannot receive replies.
func (s *GormStore) FindOpenRequestByPhone(ctx context.Context, phone string) (*models.FeedbackRequest, error) {
	statuses := []string{
		string(feedback.StatusPendingOutreach),
		string(feedback.StatusAwaitingResponse),
		string(feedback.StatusClassifying),
	}
	var req models.FeedbackRequest
	err := s.conn(ctx).
		Where("customer_phone = ? AND status IN ?", phone, statuses).
		Where(lastSend + " IS NOT NULL").
		Order(lastSend + " DESC").
		First(&req).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

func (s *GormStore) ListRequests(ctx context.Context, f RequestFilter) ([]models.FeedbackRequest, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}

	query := s.conn(ctx).Model(&models.FeedbackRequest{})
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.RestaurantID != "" {
		query = query.Where("restaurant_id = ?", f.RestaurantID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []models.FeedbackRequest
	err := query.Order("created_at DESC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&items).Error
	return items, total, err
}

func (s *GormStore) SaveRequest(ctx context.Context, req *models.FeedbackRequest, tr *models.VisitTransition) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(req).Error; err != nil {
			return err
		}
		if tr != nil {
			return tx.Create(tr).Error
		}
		return nil
	})
}

func (s *GormStore) DueActions(ctx context.Context, status string, now time.Time, limit int) ([]models.FeedbackRequest, error) {
	var items []models.FeedbackRequest
	err := s.conn(ctx).
		Where("status = ? AND next_action_at IS NOT NULL AND next_action_at <= ?", status, now).
		Order("next_action_at").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (s *GormStore) ExpiredDeadlines(ctx context.Context, now time.Time, limit int) ([]models.FeedbackRequest, error) {
	var items []models.FeedbackRequest
	err := s.conn(ctx).
		Where("status = ? AND response_deadline IS NOT NULL AND response_deadline <= ?", string(feedback.StatusAwaitingResponse), now).
		Order("response_deadline").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (s *GormStore) UnconfirmedSends(ctx context.Context, now time.Time, limit int) ([]models.FeedbackRequest, error) {
	var items []models.FeedbackRequest
	err := s.conn(ctx).
		Where("status = ? AND confirm_deadline IS NOT NULL AND confirm_deadline <= ?", string(feedback.StatusPendingOutreach), now).
		Order("confirm_deadline").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (s *GormStore) ListTransitions(ctx context.Context, visitID string) ([]models.VisitTransition, error) {
	var items []models.VisitTransition
	err := s.conn(ctx).Where("visit_id = ?", visitID).Order("id").Find(&items).Error
	return items, err
}

func (s *GormStore) CreateAttempt(ctx context.Context, a *models.OutreachAttempt) error {
	if err := s.conn(ctx).Create(a).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *GormStore) UpdateAttempt(ctx context.Context, a *models.OutreachAttempt) error {
	return s.conn(ctx).Save(a).Error
}

func (s *GormStore) GetAttemptByChannelID(ctx context.Context, channelMessageID string) (*models.OutreachAttempt, error) {
	var a models.OutreachAttempt
	if err := s.conn(ctx).Where("channel_message_id = ?", channelMessageID).First(&a).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *GormStore) ListAttempts(ctx context.Context, visitID string) ([]models.OutreachAttempt, error) {
	var items []models.OutreachAttempt
	err := s.conn(ctx).Where("visit_id = ?", visitID).Order("retry_count").Find(&items).Error
	return items, err
}

func (s *GormStore) AddResponse(ctx context.Context, r *models.CustomerResponse) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Model(&models.CustomerResponse{}).
			Where("visit_id = ?", r.VisitID).
			Select("COALESCE(MAX(sequence), 0)").
			Row().Scan(&maxSeq); err != nil {
			return err
		}
		r.Sequence = maxSeq + 1
		if err := tx.Create(r).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		return nil
	})
}

func (s *GormStore) GetResponseByEvent(ctx context.Context, visitID, eventID string) (*models.CustomerResponse, error) {
	var r models.CustomerResponse
	if err := s.conn(ctx).Where("visit_id = ? AND event_id = ?", visitID, eventID).First(&r).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *GormStore) GetResponse(ctx context.Context, id string) (*models.CustomerResponse, error) {
	var r models.CustomerResponse
	if err := s.conn(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *GormStore) ListResponses(ctx context.Context, visitID string) ([]models.CustomerResponse, error) {
	var items []models.CustomerResponse
	err := s.conn(ctx).Where("visit_id = ?", visitID).Order("sequence").Find(&items).Error
	return items, err
}

func (s *GormStore) SetResponseState(ctx context.Context, id, state string) error {
	res := s.conn(ctx).Model(&models.CustomerResponse{}).Where("id = ?", id).Update("state", state)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) SaveSentiment(ctx context.Context, r *models.SentimentResult) error {
	if err := s.conn(ctx).Create(r).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *GormStore) GetSentiment(ctx context.Context, responseID string) (*models.SentimentResult, error) {
	var r models.SentimentResult
	if err := s.conn(ctx).Where("response_id = ?", responseID).First(&r).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *GormStore) MarkSentimentSuperseded(ctx context.Context, responseID string) error {
	return s.conn(ctx).Model(&models.SentimentResult{}).
		Where("response_id = ?", responseID).
		Update("superseded", true).Error
}

func (s *GormStore) ListSentiments(ctx context.Context, visitID string) ([]models.SentimentResult, error) {
	var items []models.SentimentResult
	err := s.conn(ctx).Where("visit_id = ?", visitID).Order("id").Find(&items).Error
	return items, err
}

func (s *GormStore) SuccessfulDecision(ctx context.Context, visitID string) (*models.RoutingDecision, error) {
	var d models.RoutingDecision
	err := s.conn(ctx).
		Where("visit_id = ? AND outcome = ?", visitID, string(feedback.OutcomeSuccess)).
		First(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (s *GormStore) RecordDecision(ctx context.Context, d *models.RoutingDecision) error {
	if d.Outcome == string(feedback.OutcomeSuccess) {
		key := d.VisitID
		d.SuccessKey = &key
	}
	if err := s.conn(ctx).Create(d).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *GormStore) ListDecisions(ctx context.Context, visitID string) ([]models.RoutingDecision, error) {
	var items []models.RoutingDecision
	err := s.conn(ctx).Where("visit_id = ?", visitID).Order("id").Find(&items).Error
	return items, err
}

func (s *GormStore) ManualReviewQueue(ctx context.Context, page, pageSize int) ([]models.RoutingDecision, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	query := s.conn(ctx).Model(&models.RoutingDecision{}).
		Where("decision = ? AND outcome = ?", string(feedback.DecisionManualReview), string(feedback.OutcomeSuccess))

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []models.RoutingDecision
	err := query.Order("executed_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&items).Error
	return items, total, err
}

func (s *GormStore) MarkEventProcessed(ctx context.Context, eventID, visitID, kind string) (bool, error) {
	ev := models.ProcessedEvent{EventID: eventID, VisitID: visitID, Kind: kind}
	if err := s.conn(ctx).Create(&ev).Error; err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *GormStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := s.conn(ctx).Model(&models.ProcessedEvent{}).Where("event_id = ?", eventID).Count(&count).Error
	return count > 0, err
}
