package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/feedbackloop/internal/config"
	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/gateway"
	"github.com/huangang/feedbackloop/internal/models"
	"github.com/huangang/feedbackloop/internal/store"
	"github.com/huangang/feedbackloop/pkg/logger"
)

// SendOutcome tells the orchestrator what happened to an outreach send.
type SendOutcome struct {
	// Sent is true when the gateway accepted the message.
	Sent bool
	// RetryAt is set when the send was deferred or must be retried.
	RetryAt *time.Time
	// Exhausted is true when the retry budget is spent.
	Exhausted bool
	Reason    string
}

// DeliveryManager owns OutreachAttempt records: it sends, tracks webhook
// status updates and decides on retries.
type DeliveryManager struct {
	repo       store.Repository
	gw         gateway.Gateway
	pacer      *Pacer
	scheduler  *OutreachScheduler
	renderer   *MessageRenderer
	maxRetries int
	baseDelay  time.Duration
	ratingMax  int
	now        func() time.Time
}

func NewDeliveryManager(repo store.Repository, gw gateway.Gateway, pacer *Pacer, scheduler *OutreachScheduler,
	renderer *MessageRenderer, cfg config.FeedbackConfig, now func() time.Time) *DeliveryManager {
	if now == nil {
		now = time.Now
	}
	return &DeliveryManager{
		repo:       repo,
		gw:         gw,
		pacer:      pacer,
		scheduler:  scheduler,
		renderer:   renderer,
		maxRetries: cfg.MaxDeliveryRetries,
		baseDelay:  cfg.RetryBaseDelay.Duration,
		ratingMax:  cfg.RatingScaleMax,
		now:        now,
	}
}

// Backoff returns the wait before retry n+1 after attempt n failed.
func (m *DeliveryManager) Backoff(retryCount int) time.Duration {
	return m.baseDelay * time.Duration(1<<uint(retryCount))
}

// Send delivers the outreach greeting for req. Sends outside permitted hours
// or over the restaurant's rate are deferred without creating an attempt.
func (m *DeliveryManager) Send(ctx context.Context, req *models.FeedbackRequest) (SendOutcome, error) {
	now := m.now().UTC()

	attempts, err := m.repo.ListAttempts(ctx, req.VisitID)
	if err != nil {
		return SendOutcome{}, err
	}
	retryCount := len(attempts)
	if retryCount > m.maxRetries {
		return SendOutcome{Exhausted: true, Reason: "retry budget spent"}, nil
	}
	for _, a := range attempts {
		if feedback.DeliveryStatus(a.DeliveryStatus).ReachedSent() {
			return SendOutcome{}, fmt.Errorf("visit %s already has a sent outreach", req.VisitID)
		}
	}
	if n := len(attempts); n > 0 && attempts[n-1].DeliveryStatus == string(feedback.DeliveryQueued) {
		// An earlier call stopped after creating the attempt. Sending again
		// could reach the customer twice.
		if attempts[n-1].ChannelMessageID != nil {
			return SendOutcome{Sent: true}, nil
		}
		return SendOutcome{Exhausted: true, Reason: "previous send outcome unknown"}, nil
	}

	restaurant, err := m.repo.GetRestaurant(ctx, req.RestaurantID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return SendOutcome{}, err
	}
	policy, err := m.scheduler.Policy(restaurant)
	if err != nil {
		return SendOutcome{Exhausted: true, Reason: err.Error()}, nil
	}

	if !policy.Permitted(now) {
		at, ok := policy.NextPermitted(now)
		if !ok {
			return SendOutcome{Exhausted: true, Reason: "no permitted contact time"}, nil
		}
		return SendOutcome{RetryAt: &at}, nil
	}
	if !m.pacer.Take(restaurant, now) {
		at := now.Add(m.pacer.Delay(restaurant, now))
		return SendOutcome{RetryAt: &at}, nil
	}

	text, err := m.renderer.Render(MsgOutreach, req.Language, MessageData{
		RestaurantName: restaurant.Name,
		MaxRating:      m.ratingMax,
	})
	if err != nil {
		return SendOutcome{}, err
	}

	attempt := &models.OutreachAttempt{
		ID:             uuid.New().String(),
		VisitID:        req.VisitID,
		DeliveryStatus: string(feedback.DeliveryQueued),
		RetryCount:     retryCount,
	}
	if err := m.repo.CreateAttempt(ctx, attempt); err != nil {
		return SendOutcome{}, err
	}

	messageID, sendErr := m.gw.Send(ctx, gateway.Message{VisitID: req.VisitID, To: req.CustomerPhone, Text: text})
	// The gateway call has happened; its outcome is recorded even when ctx
	// was cancelled meanwhile.
	wctx := context.WithoutCancel(ctx)
	if sendErr != nil {
		attempt.DeliveryStatus = string(feedback.DeliveryFailed)
		attempt.Error = sendErr.Error()
		if err := m.repo.UpdateAttempt(wctx, attempt); err != nil {
			return SendOutcome{}, err
		}
		logger.Warn().Err(sendErr).Str("visit_id", req.VisitID).Int("retry_count", retryCount).Msg("outreach send failed")
		return m.afterFailure(attempt, now), nil
	}

	attempt.ChannelMessageID = &messageID
	if err := m.repo.UpdateAttempt(wctx, attempt); err != nil {
		return SendOutcome{}, err
	}
	logger.Info().Str("visit_id", req.VisitID).Str("delivery_id", messageID).Int("retry_count", retryCount).Msg("outreach queued")
	return SendOutcome{Sent: true}, nil
}

// RecordStatus applies a webhook status to the attempt it belongs to. It
// returns advanced=false for stale or repeated statuses.
func (m *DeliveryManager) RecordStatus(ctx context.Context, ev feedback.DeliveryEvent) (*models.OutreachAttempt, bool, error) {
	attempt, err := m.repo.GetAttemptByChannelID(ctx, ev.DeliveryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("%w: delivery %s", feedback.ErrUnknownVisit, ev.DeliveryID)
	}
	if err != nil {
		return nil, false, err
	}
	if ev.VisitID != "" && attempt.VisitID != ev.VisitID {
		return nil, false, fmt.Errorf("%w: delivery %s belongs to visit %s, not %s",
			feedback.ErrUnknownVisit, ev.DeliveryID, attempt.VisitID, ev.VisitID)
	}

	current := feedback.DeliveryStatus(attempt.DeliveryStatus)
	if !current.Advances(ev.Status) {
		return attempt, false, nil
	}

	attempt.DeliveryStatus = string(ev.Status)
	if ev.Status.ReachedSent() && attempt.SentAt == nil {
		at := ev.At.UTC()
		if at.IsZero() {
			at = m.now().UTC()
		}
		attempt.SentAt = &at
	}
	if ev.Status == feedback.DeliveryFailed && attempt.Error == "" {
		attempt.Error = "reported failed by gateway"
	}
	if err := m.repo.UpdateAttempt(ctx, attempt); err != nil {
		return nil, false, err
	}
	return attempt, true, nil
}

// HandleFailure decides what follows a failed delivery. Failures of an
// attempt that is no longer the latest are ignored.
func (m *DeliveryManager) HandleFailure(ctx context.Context, visitID, deliveryID string) (SendOutcome, error) {
	attempts, err := m.repo.ListAttempts(ctx, visitID)
	if err != nil {
		return SendOutcome{}, err
	}
	if len(attempts) == 0 {
		return SendOutcome{}, nil
	}
	latest := attempts[len(attempts)-1]
	if latest.ChannelMessageID == nil || *latest.ChannelMessageID != deliveryID {
		return SendOutcome{}, nil
	}
	return m.afterFailure(&latest, m.now().UTC()), nil
}

func (m *DeliveryManager) afterFailure(a *models.OutreachAttempt, now time.Time) SendOutcome {
	if a.RetryCount >= m.maxRetries {
		return SendOutcome{Exhausted: true, Reason: fmt.Sprintf("delivery failed after %d attempts", a.RetryCount+1)}
	}
	at := now.Add(m.Backoff(a.RetryCount))
	return SendOutcome{RetryAt: &at, Reason: a.Error}
}
