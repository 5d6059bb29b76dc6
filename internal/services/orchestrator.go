package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/feedbackloop/internal/config"
	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/gateway"
	"github.com/huangang/feedbackloop/internal/models"
	"github.com/huangang/feedbackloop/internal/store"
	"github.com/huangang/feedbackloop/pkg/logger"
	gocache "github.com/patrickmn/go-cache"
)

var (
	// ErrInvalidVisit rejects visit records missing required fields.
	ErrInvalidVisit = errors.New("invalid visit")

	// ErrShuttingDown rejects events submitted after Shutdown began.
	ErrShuttingDown = errors.New("orchestrator shutting down")
)

// recoverySaveTimeout bounds the write that parks a visit after a failed
// effect. It runs on a context detached from shutdown cancellation.
const recoverySaveTimeout = 5 * time.Second

// VisitInput is a visit as reported by the point of sale.
type VisitInput struct {
	VisitID       string
	CustomerRef   string
	CustomerPhone string
	RestaurantID  string
	VisitedAt     time.Time
	Language      string
}

// OrchestratorDeps wires the orchestrator's collaborators.
type OrchestratorDeps struct {
	Repo       store.Repository
	Scheduler  *OutreachScheduler
	Delivery   *DeliveryManager
	Classifier SentimentClassifier
	Router     *RoutingEngine
	Publisher  OutcomePublisher
	Events     *SSEHub
	Renderer   *MessageRenderer
	Config     config.FeedbackConfig
	Now        func() time.Time
}

type job struct {
	ev   feedback.Event
	done chan error
}

type visitQueue struct {
	pending []job
	running bool
}

// Orchestrator owns the per-visit lifecycle. Every visit has at most one
// running task that consumes its events in arrival order; different visits
// progress concurrently.
type Orchestrator struct {
	repo       store.Repository
	machine    feedback.Machine
	scheduler  *OutreachScheduler
	delivery   *DeliveryManager
	classifier SentimentClassifier
	router     *RoutingEngine
	publisher  OutcomePublisher
	events     *SSEHub
	renderer   *MessageRenderer
	cfg        config.FeedbackConfig
	now        func() time.Time
	seen       *gocache.Cache

	// lookupRetries covers webhooks that race the send call storing the
	// gateway message id.
	lookupRetries int
	lookupDelay   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	// drainTimeout is how long Shutdown lets running tasks finish before
	// cancelling them.
	drainTimeout time.Duration

	mu     sync.Mutex
	closed bool
	queues map[string]*visitQueue
	wg     sync.WaitGroup
}

func NewOrchestrator(d OrchestratorDeps) *Orchestrator {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	publisher := d.Publisher
	if publisher == nil {
		publisher = NopPublisher{}
	}
	renderer := d.Renderer
	if renderer == nil {
		renderer = NewMessageRenderer(d.Config.DefaultLanguage)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		repo:          d.Repo,
		machine:       feedback.Machine{MaxClassifyAttempts: d.Config.MaxClassifyAttempts},
		scheduler:     d.Scheduler,
		delivery:      d.Delivery,
		classifier:    d.Classifier,
		router:        d.Router,
		publisher:     publisher,
		events:        d.Events,
		renderer:      renderer,
		cfg:           d.Config,
		now:           func() time.Time { return now().UTC() },
		seen:          gocache.New(time.Hour, 10*time.Minute),
		lookupRetries: 3,
		lookupDelay:   200 * time.Millisecond,
		ctx:           ctx,
		cancel:        cancel,
		drainTimeout:  20 * time.Second,
		queues:        make(map[string]*visitQueue),
	}
}

// RecordVisit creates the FeedbackRequest for a visit. Recording the same
// visit again returns the existing request with created=false.
func (o *Orchestrator) RecordVisit(ctx context.Context, in VisitInput) (*models.FeedbackRequest, bool, error) {
	in.VisitID = strings.TrimSpace(in.VisitID)
	in.CustomerPhone = gateway.NormalizePhone(in.CustomerPhone)
	if in.VisitID == "" || in.RestaurantID == "" || in.CustomerPhone == "" || in.VisitedAt.IsZero() {
		return nil, false, fmt.Errorf("%w: visit_id, restaurant_id, customer_phone and visited_at are required", ErrInvalidVisit)
	}
	now := o.now()
	if in.VisitedAt.After(now) {
		return nil, false, feedback.ErrFutureVisit
	}

	if existing, err := o.repo.GetRequest(ctx, in.VisitID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	restaurant, err := o.repo.GetRestaurant(ctx, in.RestaurantID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}
	sendAt, planErr := o.scheduler.Plan(in.VisitedAt, restaurant, now)
	if planErr != nil && !errors.Is(planErr, feedback.ErrConfiguration) {
		return nil, false, planErr
	}

	req := &models.FeedbackRequest{
		VisitID:       in.VisitID,
		CustomerRef:   in.CustomerRef,
		CustomerPhone: in.CustomerPhone,
		RestaurantID:  in.RestaurantID,
		VisitedAt:     in.VisitedAt.UTC(),
		Language:      o.renderer.Language(in.Language),
		Status:        string(feedback.StatusCreated),
	}
	if planErr == nil {
		req.NextActionAt = &sendAt
	}
	if err := o.repo.CreateRequest(ctx, req); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			existing, gerr := o.repo.GetRequest(ctx, in.VisitID)
			return existing, false, gerr
		}
		return nil, false, err
	}
	logger.Info().Str("visit_id", req.VisitID).Str("restaurant_id", req.RestaurantID).Msg("visit recorded")

	var ev feedback.Event
	switch {
	case planErr != nil:
		LogWarning("Scheduler", "config_error", planErr.Error(), req.VisitID, map[string]string{"restaurant_id": req.RestaurantID})
		ev = feedback.ConfigInvalid{VisitID: req.VisitID, Reason: planErr.Error()}
	case !sendAt.After(now):
		ev = feedback.OutreachDue{VisitID: req.VisitID, At: now}
	}
	if ev != nil {
		if err := o.Handle(ctx, ev); err != nil && !applied(err) {
			return req, true, err
		}
		if fresh, err := o.repo.GetRequest(ctx, req.VisitID); err == nil {
			req = fresh
		}
	}
	return req, true, nil
}

// Ingest resolves an inbound gateway event to its visit and processes it.
func (o *Orchestrator) Ingest(ctx context.Context, ev feedback.Event) error {
	if seen, err := o.seenBefore(ctx, inboundID(ev)); err != nil {
		return err
	} else if seen {
		return feedback.ErrDuplicateEvent
	}

	switch e := ev.(type) {
	case feedback.DeliveryEvent:
		if e.VisitID == "" {
			attempt, err := o.lookupAttempt(ctx, e.DeliveryID)
			if err != nil {
				return err
			}
			e.VisitID = attempt.VisitID
		}
		ev = e
	case feedback.ResponseEvent:
		if e.VisitID == "" {
			req, err := o.repo.FindOpenRequestByPhone(ctx, gateway.NormalizePhone(e.CustomerPhone))
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: no open conversation for sender", feedback.ErrUnknownVisit)
			}
			if err != nil {
				return err
			}
			e.VisitID = req.VisitID
		}
		ev = e
	}
	return o.Handle(ctx, ev)
}

func (o *Orchestrator) lookupAttempt(ctx context.Context, deliveryID string) (*models.OutreachAttempt, error) {
	for i := 0; ; i++ {
		attempt, err := o.repo.GetAttemptByChannelID(ctx, deliveryID)
		if err == nil {
			return attempt, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if i >= o.lookupRetries {
			return nil, fmt.Errorf("%w: delivery %s", feedback.ErrUnknownVisit, deliveryID)
		}
		if err := sleepCtx(ctx, o.lookupDelay); err != nil {
			return nil, err
		}
	}
}

// Handle submits ev to its visit's task and waits for the result.
func (o *Orchestrator) Handle(ctx context.Context, ev feedback.Event) error {
	select {
	case err := <-o.Submit(ev):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues ev on its visit's task. The returned channel receives the
// processing result.
func (o *Orchestrator) Submit(ev feedback.Event) <-chan error {
	done := make(chan error, 1)
	visitID := ev.Visit()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		done <- ErrShuttingDown
		return done
	}
	q, ok := o.queues[visitID]
	if !ok {
		q = &visitQueue{}
		o.queues[visitID] = q
	}
	q.pending = append(q.pending, job{ev: ev, done: done})
	if !q.running {
		q.running = true
		o.wg.Add(1)
		go o.runVisit(visitID, q)
	}
	return done
}

func (o *Orchestrator) runVisit(visitID string, q *visitQueue) {
	defer o.wg.Done()
	for {
		o.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			delete(o.queues, visitID)
			o.mu.Unlock()
			return
		}
		j := q.pending[0]
		q.pending = q.pending[1:]
		o.mu.Unlock()

		j.done <- o.process(o.ctx, j.ev)
	}
}

// Wait blocks until every visit task is idle.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown stops accepting events and lets queued work finish. Tasks still
// running after the drain timeout are cancelled; an effect cut short that
// way is parked for the sweeper.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-time.After(o.drainTimeout):
		logger.Warn().Dur("timeout", o.drainTimeout).Msg("visit tasks still running, cancelling")
	}
	o.cancel()
	<-idle
}

// applied reports whether the event took effect on its visit despite err.
func applied(err error) bool {
	return err == nil || errors.Is(err, feedback.ErrIgnored) || errors.Is(err, feedback.ErrDeferred)
}

// inboundID returns the dedup key of gateway events. Internal events are
// guarded by the state machine alone.
func inboundID(ev feedback.Event) string {
	switch ev.(type) {
	case feedback.DeliveryEvent, feedback.ResponseEvent:
		return ev.ID()
	}
	return ""
}

func (o *Orchestrator) process(ctx context.Context, ev feedback.Event) error {
	id := inboundID(ev)
	if seen, err := o.seenBefore(ctx, id); err != nil {
		return err
	} else if seen {
		return feedback.ErrDuplicateEvent
	}

	err := o.apply(ctx, ev)
	if id != "" && applied(err) {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recoverySaveTimeout)
		_, merr := o.repo.MarkEventProcessed(mctx, id, ev.Visit(), string(ev.Kind()))
		cancel()
		if merr != nil {
			logger.Warn().Err(merr).Str("event_id", id).Msg("failed to mark event processed")
		}
		o.seen.SetDefault(id, struct{}{})
	}
	return err
}

func (o *Orchestrator) seenBefore(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	if _, ok := o.seen.Get(id); ok {
		return true, nil
	}
	done, err := o.repo.IsEventProcessed(ctx, id)
	if err != nil {
		return false, err
	}
	if done {
		o.seen.SetDefault(id, struct{}{})
	}
	return done, nil
}

func (o *Orchestrator) apply(ctx context.Context, ev feedback.Event) error {
	req, err := o.repo.GetRequest(ctx, ev.Visit())
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", feedback.ErrUnknownVisit, ev.Visit())
	}
	if err != nil {
		return err
	}

	switch e := ev.(type) {
	case feedback.DeliveryEvent:
		_, advanced, err := o.delivery.RecordStatus(ctx, e)
		if err != nil {
			return err
		}
		if !advanced {
			return feedback.ErrIgnored
		}
	case feedback.ResponseEvent:
		resp, fresh, err := o.storeResponse(ctx, req, e)
		if err != nil {
			return err
		}
		if !fresh && (resp.State != models.ResponseQueued || tracked(req, resp.ID)) {
			// The reply reached the machine before an earlier failure. Only
			// make sure the visit is not left without a timer.
			ev = feedback.Stalled{VisitID: req.VisitID, Reason: "response redelivered"}
			break
		}
		e.ResponseID = resp.ID
		ev = e
	}

	pending := []feedback.Event{ev}
	var result error
	for i := 0; len(pending) > 0; i++ {
		cur := pending[0]
		pending = pending[1:]

		follow, err := o.step(ctx, req, cur)
		if i == 0 {
			result = err
		}
		if err != nil {
			if errors.Is(err, feedback.ErrIgnored) {
				logger.Debug().Str("visit_id", req.VisitID).Str("event", string(cur.Kind())).Str("status", req.Status).Msg("event ignored")
				continue
			}
			return err
		}
		pending = append(pending, follow...)
	}
	return result
}

// storeResponse persists the reply once per event id. fresh is false when
// a redelivery found the row stored by an earlier attempt.
func (o *Orchestrator) storeResponse(ctx context.Context, req *models.FeedbackRequest, e feedback.ResponseEvent) (*models.CustomerResponse, bool, error) {
	if existing, err := o.repo.GetResponseByEvent(ctx, req.VisitID, e.EventID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	resp := &models.CustomerResponse{
		ID:         uuid.New().String(),
		VisitID:    req.VisitID,
		EventID:    e.EventID,
		Text:       e.Text,
		Language:   e.Language,
		State:      models.ResponseQueued,
		ReceivedAt: e.ReceivedAt.UTC(),
	}
	if resp.Language == "" {
		resp.Language = req.Language
	}
	if resp.ReceivedAt.IsZero() {
		resp.ReceivedAt = o.now()
	}
	if err := o.repo.AddResponse(ctx, resp); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, false, err
		}
		existing, gerr := o.repo.GetResponseByEvent(ctx, req.VisitID, e.EventID)
		return existing, false, gerr
	}
	return resp, true, nil
}

func tracked(req *models.FeedbackRequest, responseID string) bool {
	return req.ActiveResponseID == responseID || slices.Contains(req.QueuedResponseIDs, responseID)
}

func stateOf(req *models.FeedbackRequest) feedback.State {
	return feedback.State{
		Status:           feedback.Status(req.Status),
		Active:           req.ActiveResponseID,
		Queue:            req.QueuedResponseIDs,
		ClassifyAttempts: req.ClassifyAttempts,
		NextActionAt:     req.NextActionAt,
		ResponseDeadline: req.ResponseDeadline,
		ConfirmDeadline:  req.ConfirmDeadline,
	}
}

func setState(req *models.FeedbackRequest, st feedback.State) {
	req.Status = string(st.Status)
	req.ActiveResponseID = st.Active
	req.QueuedResponseIDs = st.Queue
	req.ClassifyAttempts = st.ClassifyAttempts
	req.NextActionAt = st.NextActionAt
	req.ResponseDeadline = st.ResponseDeadline
	req.ConfirmDeadline = st.ConfirmDeadline
}

// step applies one event. The new state is persisted before any effect runs
// so that a crash never repeats a side effect of an applied transition.
func (o *Orchestrator) step(ctx context.Context, req *models.FeedbackRequest, ev feedback.Event) ([]feedback.Event, error) {
	before := stateOf(req)
	next, effects, err := o.machine.Transition(before, ev)
	if err != nil {
		if r, ok := ev.(feedback.ResponseEvent); ok && errors.Is(err, feedback.ErrIgnored) {
			o.setResponseState(ctx, r.ResponseID, models.ResponseIgnored)
		}
		return nil, err
	}

	setState(req, next)
	var tr *models.VisitTransition
	if before.Status != next.Status {
		tr = &models.VisitTransition{
			VisitID:    req.VisitID,
			FromStatus: string(before.Status),
			ToStatus:   string(next.Status),
			EventKind:  string(ev.Kind()),
			EventID:    ev.ID(),
		}
	}
	if err := o.repo.SaveRequest(ctx, req, tr); err != nil {
		return nil, err
	}
	if tr != nil {
		logger.Info().Str("visit_id", req.VisitID).Str("from", tr.FromStatus).Str("to", tr.ToStatus).
			Str("event", tr.EventKind).Str("event_id", tr.EventID).Msg("visit transition")
		o.events.Publish(TransitionEvent{
			VisitID:      req.VisitID,
			RestaurantID: req.RestaurantID,
			From:         tr.FromStatus,
			To:           tr.ToStatus,
			Event:        tr.EventKind,
			At:           o.now(),
		})
	}

	var follow []feedback.Event
	for _, eff := range effects {
		f, err := o.execute(ctx, req, eff)
		if err != nil {
			return nil, o.recoverEffect(ctx, req, eff, err)
		}
		follow = append(follow, f...)
	}
	if len(effects) > 0 {
		if err := o.repo.SaveRequest(ctx, req, nil); err != nil {
			return nil, err
		}
	}

	if feedback.Status(req.Status) == feedback.StatusAwaitingResponse && len(req.QueuedResponseIDs) > 0 {
		follow = append(follow, feedback.DrainQueue{VisitID: req.VisitID})
	}
	return follow, nil
}

// recoverEffect parks the visit on a timer after eff failed, so the sweeper
// resumes it even when ctx was cancelled by shutdown. It returns an error
// wrapping ErrDeferred once the visit is parked.
func (o *Orchestrator) recoverEffect(ctx context.Context, req *models.FeedbackRequest, eff feedback.Effect, cause error) error {
	failed := fmt.Errorf("effect %s: %w", eff.Kind, cause)
	LogWarning("Orchestrator", "effect_failed", failed.Error(), req.VisitID, map[string]string{"status": req.Status})

	next, effects, err := o.machine.Transition(stateOf(req), feedback.Stalled{VisitID: req.VisitID, Reason: cause.Error()})
	if err == nil {
		setState(req, next)
		for _, e := range effects {
			if _, xerr := o.execute(ctx, req, e); xerr != nil {
				logger.Warn().Err(xerr).Str("visit_id", req.VisitID).Str("effect", string(e.Kind)).Msg("recovery effect failed")
			}
		}
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recoverySaveTimeout)
	defer cancel()
	if serr := o.repo.SaveRequest(sctx, req, nil); serr != nil {
		logger.Error().Err(serr).Str("visit_id", req.VisitID).Msg("failed to park request after effect error")
		return failed
	}
	if req.NextActionAt == nil && req.ResponseDeadline == nil && req.ConfirmDeadline == nil {
		return failed
	}
	return fmt.Errorf("%w: %v", feedback.ErrDeferred, failed)
}

func (o *Orchestrator) execute(ctx context.Context, req *models.FeedbackRequest, eff feedback.Effect) ([]feedback.Event, error) {
	now := o.now()

	switch eff.Kind {
	case feedback.EffectSendOutreach:
		out, err := o.delivery.Send(ctx, req)
		if err != nil {
			return nil, err
		}
		return o.afterSend(req, out), nil

	case feedback.EffectHandleDeliveryFailure:
		out, err := o.delivery.HandleFailure(ctx, req.VisitID, eff.DeliveryID)
		if err != nil {
			return nil, err
		}
		return o.afterSend(req, out), nil

	case feedback.EffectScheduleOutreachRetry:
		at := now.Add(o.cfg.RetryBaseDelay.Duration)
		req.NextActionAt = &at
		logger.Warn().Str("visit_id", req.VisitID).Time("retry_at", at).Str("reason", eff.Reason).Msg("outreach retry scheduled")
		return nil, nil

	case feedback.EffectArmTimeout:
		deadline := now.Add(o.cfg.ResponseTimeout.Duration)
		req.ResponseDeadline = &deadline
		return nil, nil

	case feedback.EffectClassify:
		return o.classify(ctx, req, eff)

	case feedback.EffectScheduleClassifyRetry:
		at := now.Add(o.cfg.ClassifyRetryDelay.Duration)
		req.NextActionAt = &at
		logger.Warn().Str("visit_id", req.VisitID).Int("attempts", req.ClassifyAttempts).Str("reason", eff.Reason).Msg("classification retry scheduled")
		return nil, nil

	case feedback.EffectSupersede:
		if err := o.repo.MarkSentimentSuperseded(ctx, eff.ResponseID); err != nil {
			return nil, err
		}
		o.setResponseState(ctx, eff.ResponseID, models.ResponseSuperseded)
		return nil, nil

	case feedback.EffectRoute:
		d, err := o.router.Route(ctx, RouteInput{
			Request:    req,
			ResponseID: eff.ResponseID,
			Verdict:    eff.Verdict,
			Reason:     eff.Reason,
		})
		if err != nil {
			return nil, err
		}
		o.setResponseState(ctx, eff.ResponseID, models.ResponseRouted)
		return []feedback.Event{feedback.RoutingCompleted{VisitID: req.VisitID, Decision: feedback.Decision(d.Decision)}}, nil

	case feedback.EffectFinalize:
		o.finalize(ctx, req, eff.Reason, now)
		return nil, nil
	}
	return nil, fmt.Errorf("unknown effect %q", eff.Kind)
}

func (o *Orchestrator) afterSend(req *models.FeedbackRequest, out SendOutcome) []feedback.Event {
	if out.Exhausted {
		return []feedback.Event{feedback.OutreachExhausted{VisitID: req.VisitID, Reason: out.Reason}}
	}
	if out.Sent {
		at := o.now().Add(o.confirmTimeout())
		req.ConfirmDeadline = &at
	}
	if out.RetryAt != nil {
		at := out.RetryAt.UTC()
		req.NextActionAt = &at
		req.ConfirmDeadline = nil
	}
	return nil
}

func (o *Orchestrator) confirmTimeout() time.Duration {
	if d := o.cfg.SendConfirmTimeout.Duration; d > 0 {
		return d
	}
	return 24 * time.Hour
}

func (o *Orchestrator) classify(ctx context.Context, req *models.FeedbackRequest, eff feedback.Effect) ([]feedback.Event, error) {
	responseID := eff.ResponseID
	resp, err := o.repo.GetResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	o.setResponseState(ctx, responseID, models.ResponseProcessing)

	if existing, err := o.repo.GetSentiment(ctx, responseID); err == nil {
		return []feedback.Event{classified(req.VisitID, existing)}, nil
	}
	if eff.BudgetSpent {
		return []feedback.Event{feedback.ClassifyFailed{VisitID: req.VisitID, ResponseID: responseID, Reason: "classification attempts exhausted"}}, nil
	}

	cctx, cancel := context.WithTimeout(ctx, o.cfg.ClassifyTimeout.Duration)
	verdict, err := o.classifier.Classify(cctx, resp.Text, resp.Language)
	cancel()
	if err == nil && (verdict == nil || !verdict.Label.Valid()) {
		err = fmt.Errorf("%w: empty verdict", feedback.ErrClassification)
	}
	if err != nil {
		logger.Warn().Err(err).Str("visit_id", req.VisitID).Str("response_id", responseID).Msg("classification failed")
		return []feedback.Event{feedback.ClassifyFailed{VisitID: req.VisitID, ResponseID: responseID, Reason: err.Error()}}, nil
	}

	result := &models.SentimentResult{
		VisitID:    req.VisitID,
		ResponseID: responseID,
		Label:      string(verdict.Label),
		Confidence: verdict.Confidence,
		Model:      verdict.Model,
		ComputedAt: o.now(),
	}
	if err := o.repo.SaveSentiment(ctx, result); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, err
		}
		if result, err = o.repo.GetSentiment(ctx, responseID); err != nil {
			return nil, err
		}
	}
	return []feedback.Event{classified(req.VisitID, result)}, nil
}

func classified(visitID string, r *models.SentimentResult) feedback.Classified {
	return feedback.Classified{
		VisitID:    visitID,
		ResponseID: r.ResponseID,
		Verdict: feedback.Verdict{
			Label:      feedback.Label(r.Label),
			Confidence: r.Confidence,
			Model:      r.Model,
		},
	}
}

func (o *Orchestrator) finalize(ctx context.Context, req *models.FeedbackRequest, reason string, now time.Time) {
	req.StatusReason = reason
	req.ArchivedAt = &now
	req.NextActionAt = nil
	req.ResponseDeadline = nil
	req.ConfirmDeadline = nil
	for _, id := range req.QueuedResponseIDs {
		o.setResponseState(ctx, id, models.ResponseIgnored)
	}

	switch feedback.Status(req.Status) {
	case feedback.StatusConfigError, feedback.StatusDeliveryFailed:
		LogWarning("Orchestrator", req.Status, reason, req.VisitID, nil)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := o.publisher.Publish(pctx, Outcome{
		VisitID:      req.VisitID,
		RestaurantID: req.RestaurantID,
		Status:       req.Status,
		Reason:       reason,
		At:           now,
	})
	if err != nil {
		logger.Warn().Err(err).Str("visit_id", req.VisitID).Msg("outcome not published")
	}
}

func (o *Orchestrator) setResponseState(ctx context.Context, id, state string) {
	if id == "" {
		return
	}
	if err := o.repo.SetResponseState(ctx, id, state); err != nil {
		logger.Warn().Err(err).Str("response_id", id).Str("state", state).Msg("failed to update response state")
	}
}
