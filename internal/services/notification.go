package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
	"gorm.io/gorm"
)

// ErrNoEscalationBot means neither the restaurant nor the platform has an active IM bot.
var ErrNoEscalationBot = fmt.Errorf("%w: no active escalation bot", feedback.ErrConfiguration)

// EscalationNotice is what staff see when a customer is unhappy.
type EscalationNotice struct {
	VisitID        string
	RestaurantID   string
	RestaurantName string
	CustomerPhone  string
	Reason         string
	ResponseText   string
	Label          feedback.Label
	Confidence     float64
}

// EscalationNotifier alerts restaurant staff.
type EscalationNotifier interface {
	Notify(ctx context.Context, n *EscalationNotice) error
}

// NotificationService delivers escalation notices through the IM bot
// configured for the restaurant, or the default bot.
type NotificationService struct {
	db     *gorm.DB
	client *http.Client
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{
		db:     db,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify sends a single escalation notice. Retries are the caller's concern.
func (s *NotificationService) Notify(ctx context.Context, n *EscalationNotice) error {
	bot, err := s.resolveBot(ctx, n.RestaurantID)
	if err != nil {
		return err
	}
	return s.NotifyBot(ctx, bot, n)
}

// NotifyBot sends a notice through a specific bot.
func (s *NotificationService) NotifyBot(ctx context.Context, bot *models.IMBot, n *EscalationNotice) error {
	return getAdapter(bot.Type).SendEscalation(ctx, s.client, bot, n)
}

func (s *NotificationService) resolveBot(ctx context.Context, restaurantID string) (*models.IMBot, error) {
	db := s.db.WithContext(ctx)

	if restaurantID != "" {
		var restaurant models.Restaurant
		if err := db.First(&restaurant, "id = ?", restaurantID).Error; err == nil && restaurant.IMBotID != nil {
			var bot models.IMBot
			err := db.Where("id = ? AND is_active = ?", *restaurant.IMBotID, true).First(&bot).Error
			if err == nil {
				return &bot, nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
		}
	}

	var bot models.IMBot
	err := db.Where("is_active = ?", true).Order("is_default DESC, id ASC").First(&bot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoEscalationBot
	}
	if err != nil {
		return nil, err
	}
	return &bot, nil
}
