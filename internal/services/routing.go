package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/feedbackloop/internal/config"
	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/gateway"
	"github.com/huangang/feedbackloop/internal/models"
	"github.com/huangang/feedbackloop/internal/store"
	"github.com/huangang/feedbackloop/pkg/logger"
)

// RouteInput is everything the engine needs to route one response.
type RouteInput struct {
	Request    *models.FeedbackRequest
	ResponseID string
	// Verdict is nil when classification failed.
	Verdict *feedback.Verdict
	Reason  string
}

// RoutingEngine turns a verdict into exactly one successful RoutingDecision
// per visit and executes its side effect.
type RoutingEngine struct {
	repo       store.Repository
	thresholds func() feedback.Thresholds
	notifier   EscalationNotifier
	gw         gateway.Gateway
	links      *ReviewLinkResolver
	renderer   *MessageRenderer
	retries    int
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

func NewRoutingEngine(repo store.Repository, thresholds func() feedback.Thresholds, notifier EscalationNotifier,
	gw gateway.Gateway, links *ReviewLinkResolver, renderer *MessageRenderer, cfg config.FeedbackConfig,
	now func() time.Time) *RoutingEngine {
	if now == nil {
		now = time.Now
	}
	return &RoutingEngine{
		repo:       repo,
		thresholds: thresholds,
		notifier:   notifier,
		gw:         gw,
		links:      links,
		renderer:   renderer,
		retries:    cfg.EscalationRetries,
		baseDelay:  cfg.EscalationBaseDelay.Duration,
		sleep:      sleepCtx,
		now:        now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Route returns the existing successful decision when there is one, without
// repeating any side effect.
func (e *RoutingEngine) Route(ctx context.Context, in RouteInput) (*models.RoutingDecision, error) {
	req := in.Request
	if existing, err := e.repo.SuccessfulDecision(ctx, req.VisitID); err == nil {
		logger.Info().Str("visit_id", req.VisitID).Str("decision", existing.Decision).Msg("routing already recorded")
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	decision := feedback.Decide(in.Verdict, e.thresholds())
	detail := in.Reason
	if in.Verdict == nil && detail == "" {
		detail = "classification failed"
	}

	var responseText string
	if resp, err := e.repo.GetResponse(ctx, in.ResponseID); err == nil {
		responseText = resp.Text
	}

	switch decision {
	case feedback.DecisionEscalate:
		if err := e.escalate(ctx, req, in.Verdict, responseText); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			e.recordFailure(ctx, in, decision, err)
			LogError("Routing", "escalation_failed", err.Error(), req.VisitID, nil)
			decision, detail = feedback.DecisionManualReview, "escalation failed: "+err.Error()
		}
	case feedback.DecisionRequestReview:
		if err := e.requestReview(ctx, req); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			e.recordFailure(ctx, in, decision, err)
			LogWarning("Routing", "review_request_failed", err.Error(), req.VisitID, nil)
			decision, detail = feedback.DecisionManualReview, "review request failed: "+err.Error()
		}
	}

	d := &models.RoutingDecision{
		VisitID:    req.VisitID,
		ResponseID: in.ResponseID,
		Decision:   string(decision),
		Outcome:    string(feedback.OutcomeSuccess),
		Detail:     detail,
		ExecutedAt: e.now().UTC(),
	}
	if err := e.repo.RecordDecision(ctx, d); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with another routing of the same visit.
			return e.repo.SuccessfulDecision(ctx, req.VisitID)
		}
		return nil, err
	}

	if decision == feedback.DecisionEscalate || decision == feedback.DecisionLogNeutral {
		e.acknowledge(ctx, req, decision)
	}
	logger.Info().Str("visit_id", req.VisitID).Str("decision", d.Decision).Msg("routing decision recorded")
	return d, nil
}

func (e *RoutingEngine) recordFailure(ctx context.Context, in RouteInput, decision feedback.Decision, cause error) {
	d := &models.RoutingDecision{
		VisitID:    in.Request.VisitID,
		ResponseID: in.ResponseID,
		Decision:   string(decision),
		Outcome:    string(feedback.OutcomeFailure),
		Detail:     cause.Error(),
		ExecutedAt: e.now().UTC(),
	}
	if err := e.repo.RecordDecision(ctx, d); err != nil {
		logger.Warn().Err(err).Str("visit_id", in.Request.VisitID).Msg("failed to record routing failure")
	}
}

// escalate notifies staff, retrying with exponential backoff.
func (e *RoutingEngine) escalate(ctx context.Context, req *models.FeedbackRequest, v *feedback.Verdict, text string) error {
	if e.notifier == nil {
		return ErrNoEscalationBot
	}

	notice := &EscalationNotice{
		VisitID:       req.VisitID,
		RestaurantID:  req.RestaurantID,
		CustomerPhone: req.CustomerPhone,
		Reason:        "negative feedback",
		ResponseText:  text,
	}
	if v != nil {
		notice.Label, notice.Confidence = v.Label, v.Confidence
	}
	if r, err := e.repo.GetRestaurant(ctx, req.RestaurantID); err == nil {
		notice.RestaurantName = r.Name
	}

	var err error
	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 {
			if serr := e.sleep(ctx, e.baseDelay*time.Duration(1<<uint(attempt-1))); serr != nil {
				return serr
			}
		}
		if err = e.notifier.Notify(ctx, notice); err == nil {
			return nil
		}
		if errors.Is(err, feedback.ErrConfiguration) {
			return err
		}
		logger.Warn().Err(err).Str("visit_id", req.VisitID).Int("attempt", attempt+1).Msg("escalation notify failed")
	}
	return fmt.Errorf("%w after %d attempts", err, e.retries+1)
}

func (e *RoutingEngine) requestReview(ctx context.Context, req *models.FeedbackRequest) error {
	link, err := e.links.Resolve(ctx, req.RestaurantID)
	if err != nil {
		return err
	}
	name := ""
	if r, err := e.repo.GetRestaurant(ctx, req.RestaurantID); err == nil {
		name = r.Name
	}
	text, err := e.renderer.Render(MsgReviewRequest, req.Language, MessageData{RestaurantName: name, ReviewURL: link})
	if err != nil {
		return err
	}
	if _, err := e.gw.Send(ctx, gateway.Message{VisitID: req.VisitID, To: req.CustomerPhone, Text: text}); err != nil {
		return fmt.Errorf("%w: %v", feedback.ErrDelivery, err)
	}
	return nil
}

// acknowledge sends a best-effort follow-up; failures do not change the decision.
func (e *RoutingEngine) acknowledge(ctx context.Context, req *models.FeedbackRequest, d feedback.Decision) {
	kind, ok := AcknowledgementKind(d)
	if !ok {
		return
	}
	name := ""
	if r, err := e.repo.GetRestaurant(ctx, req.RestaurantID); err == nil {
		name = r.Name
	}
	text, err := e.renderer.Render(kind, req.Language, MessageData{RestaurantName: name})
	if err != nil {
		return
	}
	if _, err := e.gw.Send(ctx, gateway.Message{VisitID: req.VisitID, To: req.CustomerPhone, Text: text}); err != nil {
		logger.Warn().Err(err).Str("visit_id", req.VisitID).Str("message", kind).Msg("acknowledgement not sent")
	}
}
