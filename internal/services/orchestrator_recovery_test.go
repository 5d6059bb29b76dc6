package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
	"github.com/huangang/feedbackloop/internal/store"
	"gorm.io/gorm"
)

// hangingClassifier blocks until its deadline for the first hangs calls.
type hangingClassifier struct {
	mu      sync.Mutex
	hangs   int
	calls   int
	verdict feedback.Verdict
}

func (c *hangingClassifier) Classify(ctx context.Context, _, _ string) (*feedback.Verdict, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()
	if call <= c.hangs {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", feedback.ErrClassification, ctx.Err())
	}
	v := c.verdict
	return &v, nil
}

func TestOrchestrator_CancelledRoutingResumesAfterRestart(t *testing.T) {
	h := newHarness(t)
	h.visitAwaiting(t, "v1")
	ctx := context.Background()

	// The process is stopped while staff are being notified.
	h.notifier.err = func(int) error {
		h.orch.cancel()
		return errors.New("connection reset")
	}
	err := h.reply(t, "m1", "1")
	if !errors.Is(err, feedback.ErrDeferred) {
		t.Fatalf("reply err = %v, want ErrDeferred", err)
	}
	req := h.wantStatus(t, "v1", feedback.StatusClassifying)
	if req.NextActionAt == nil {
		t.Fatal("visit parked without a timer")
	}
	if _, err := h.repo.SuccessfulDecision(ctx, "v1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cancelled routing recorded a decision")
	}
	if processed, _ := h.repo.IsEventProcessed(ctx, "m1"); !processed {
		t.Errorf("applied reply not marked processed")
	}

	h.notifier.err = nil
	restarted := h.newOrchestrator(t, nil)
	sw := NewSweeper(h.db, h.repo, restarted, time.Minute, h.clock.Now)
	h.clock.Advance(30 * 24 * time.Hour)
	if fired, err := sw.Sweep(ctx); err != nil || fired != 1 {
		t.Fatalf("fired = %d, err = %v", fired, err)
	}

	h.wantStatus(t, "v1", feedback.StatusRouted)
	if d := h.decision(t, "v1"); d.Decision != string(feedback.DecisionEscalate) {
		t.Errorf("decision = %s", d.Decision)
	}
	if len(h.notifier.notices) != 1 {
		t.Errorf("notices = %d, want 1", len(h.notifier.notices))
	}
	sentiments, _ := h.repo.ListSentiments(ctx, "v1")
	if len(sentiments) != 1 {
		t.Errorf("sentiments = %d, want 1", len(sentiments))
	}
}

func TestOrchestrator_ShutdownDrainsRunningVisit(t *testing.T) {
	h := newHarness(t)
	h.visitAwaiting(t, "v1")

	entered, release := make(chan struct{}), make(chan struct{})
	h.notifier.err = func(call int) error {
		if call == 1 {
			close(entered)
			<-release
		}
		return nil
	}
	replied := make(chan error, 1)
	go func() { replied <- h.reply(t, "m1", "1") }()
	<-entered

	stopped := make(chan struct{})
	go func() {
		h.orch.Shutdown()
		close(stopped)
	}()
	close(release)
	<-stopped

	if err := <-replied; err != nil {
		t.Fatalf("reply err = %v", err)
	}
	h.wantStatus(t, "v1", feedback.StatusRouted)
	if d := h.decision(t, "v1"); d.Decision != string(feedback.DecisionEscalate) {
		t.Errorf("decision = %s", d.Decision)
	}
	if err := <-h.orch.Submit(feedback.DrainQueue{VisitID: "v1"}); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("submit after shutdown err = %v", err)
	}
}

func TestOrchestrator_ReplyGoesToContactedVisit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.visitAwaiting(t, "vA")

	// The same customer comes back before answering the first greeting.
	if _, _, err := h.orch.RecordVisit(ctx, VisitInput{VisitID: "vB", CustomerPhone: testPhone, RestaurantID: "r1", VisitedAt: h.clock.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := h.reply(t, "m1", "1"); err != nil {
		t.Fatal(err)
	}

	h.wantStatus(t, "vA", feedback.StatusRouted)
	if d := h.decision(t, "vA"); d.Decision != string(feedback.DecisionEscalate) {
		t.Errorf("decision = %s", d.Decision)
	}
	if vB := h.wantStatus(t, "vB", feedback.StatusCreated); len(vB.QueuedResponseIDs) != 0 {
		t.Errorf("reply queued on the uncontacted visit: %v", vB.QueuedResponseIDs)
	}
	if responses, _ := h.repo.ListResponses(ctx, "vB"); len(responses) != 0 {
		t.Errorf("vB responses = %d", len(responses))
	}
}

func TestOrchestrator_RedeliveredReplyStoredOnce(t *testing.T) {
	h := newHarness(t)
	h.visitAwaiting(t, "v1")
	ctx := context.Background()

	failSave := true
	err := h.db.Callback().Update().Before("gorm:update").Register("test:fail_request_save", func(tx *gorm.DB) {
		if failSave && tx.Statement.Table == "feedback_requests" {
			tx.AddError(errors.New("database is locked"))
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := h.reply(t, "m1", "4"); err == nil || applied(err) {
		t.Fatalf("first delivery err = %v, want a retryable error", err)
	}
	h.wantStatus(t, "v1", feedback.StatusAwaitingResponse)

	failSave = false
	if err := h.reply(t, "m1", "4"); err != nil {
		t.Fatalf("redelivery err = %v", err)
	}
	h.wantStatus(t, "v1", feedback.StatusRouted)

	responses, _ := h.repo.ListResponses(ctx, "v1")
	if len(responses) != 1 {
		t.Fatalf("stored %d responses for one event, want 1", len(responses))
	}
	if responses[0].State != models.ResponseRouted {
		t.Errorf("response state = %s", responses[0].State)
	}
	if d := h.decision(t, "v1"); d.ResponseID != responses[0].ID {
		t.Errorf("decision for %s, want %s", d.ResponseID, responses[0].ID)
	}
}

func TestOrchestrator_UnconfirmedSendFailsDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sw := NewSweeper(h.db, h.repo, h.orch, time.Minute, h.clock.Now)

	if _, _, err := h.orch.RecordVisit(ctx, VisitInput{VisitID: "v1", CustomerPhone: testPhone, RestaurantID: "r1", VisitedAt: h.clock.Now()}); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(2 * time.Hour)
	if err := h.orch.Handle(ctx, feedback.OutreachDue{VisitID: "v1", At: h.clock.Now()}); err != nil {
		t.Fatal(err)
	}
	req := h.wantStatus(t, "v1", feedback.StatusPendingOutreach)
	if want := h.clock.Now().Add(24 * time.Hour); req.ConfirmDeadline == nil || !req.ConfirmDeadline.Equal(want) {
		t.Fatalf("confirm deadline = %v, want %v", req.ConfirmDeadline, want)
	}

	// The sent receipt is lost.
	h.clock.Advance(24*time.Hour - time.Second)
	if fired, _ := sw.Sweep(ctx); fired != 0 {
		t.Fatalf("confirmation timed out early")
	}
	h.clock.Advance(time.Second)
	if fired, err := sw.Sweep(ctx); err != nil || fired != 1 {
		t.Fatalf("fired = %d, err = %v", fired, err)
	}
	req = h.wantStatus(t, "v1", feedback.StatusDeliveryFailed)
	if req.StatusReason != "delivery not confirmed" || req.ConfirmDeadline != nil || req.ArchivedAt == nil {
		t.Errorf("request = %+v", req)
	}
	if h.gw.Calls() != 1 {
		t.Errorf("gateway calls = %d, want 1", h.gw.Calls())
	}

	deliveryID := h.lastDeliveryID(t, "v1")
	err := h.orch.Ingest(ctx, feedback.DeliveryEvent{EventID: "late-status", DeliveryID: deliveryID, Status: feedback.DeliverySent})
	if !errors.Is(err, feedback.ErrIgnored) {
		t.Errorf("late receipt err = %v", err)
	}
}

func TestOrchestrator_ReplyConfirmsUnreceiptedSend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sw := NewSweeper(h.db, h.repo, h.orch, time.Minute, h.clock.Now)

	if _, _, err := h.orch.RecordVisit(ctx, VisitInput{VisitID: "v1", CustomerPhone: testPhone, RestaurantID: "r1", VisitedAt: h.clock.Now()}); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(2 * time.Hour)
	if err := h.orch.Handle(ctx, feedback.OutreachDue{VisitID: "v1", At: h.clock.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := h.reply(t, "m1", "4"); err != nil {
		t.Fatal(err)
	}
	h.wantStatus(t, "v1", feedback.StatusPendingOutreach)

	h.clock.Advance(24 * time.Hour)
	if fired, err := sw.Sweep(ctx); err != nil || fired != 1 {
		t.Fatalf("fired = %d, err = %v", fired, err)
	}
	h.wantStatus(t, "v1", feedback.StatusRouted)
	if d := h.decision(t, "v1"); d.Decision != string(feedback.DecisionRequestReview) {
		t.Errorf("decision = %s", d.Decision)
	}
}

func TestOrchestrator_ClassifierTimeoutsThenNeutral(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	slow := &hangingClassifier{hangs: 2, verdict: feedback.Verdict{Label: feedback.LabelNeutral, Confidence: 0.7, Model: "llm"}}
	h.orch = h.newOrchestrator(t, func(d *OrchestratorDeps) {
		d.Classifier = slow
		d.Config.ClassifyTimeout.Duration = 20 * time.Millisecond
	})
	h.visitAwaiting(t, "v1")

	if err := h.reply(t, "m1", "it was okay"); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 2; i++ {
		req := h.wantStatus(t, "v1", feedback.StatusClassifying)
		if req.ClassifyAttempts != i || req.NextActionAt == nil {
			t.Fatalf("after timeout %d: attempts = %d next = %v", i, req.ClassifyAttempts, req.NextActionAt)
		}
		h.clock.Advance(time.Minute)
		if err := h.orch.Handle(ctx, feedback.ClassifyRetryDue{VisitID: "v1", At: h.clock.Now()}); err != nil {
			t.Fatal(err)
		}
	}

	h.wantStatus(t, "v1", feedback.StatusRouted)
	if d := h.decision(t, "v1"); d.Decision != string(feedback.DecisionLogNeutral) {
		t.Errorf("decision = %s", d.Decision)
	}
	sentiments, _ := h.repo.ListSentiments(ctx, "v1")
	if len(sentiments) != 1 || sentiments[0].Label != string(feedback.LabelNeutral) {
		t.Errorf("sentiments = %+v", sentiments)
	}
	if slow.calls != 3 {
		t.Errorf("classifier calls = %d, want 3", slow.calls)
	}
}

func TestOrchestrator_DeliveryForAnotherVisitIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"v1", "v2"} {
		if _, _, err := h.orch.RecordVisit(ctx, VisitInput{VisitID: id, CustomerPhone: testPhone, RestaurantID: "r1", VisitedAt: h.clock.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	h.clock.Advance(2 * time.Hour)
	for _, id := range []string{"v1", "v2"} {
		if err := h.orch.Handle(ctx, feedback.OutreachDue{VisitID: id, At: h.clock.Now()}); err != nil {
			t.Fatal(err)
		}
	}

	first := h.lastDeliveryID(t, "v1")
	err := h.orch.Ingest(ctx, feedback.DeliveryEvent{EventID: "s1", VisitID: "v2", DeliveryID: first, Status: feedback.DeliveryFailed})
	if !errors.Is(err, feedback.ErrUnknownVisit) {
		t.Fatalf("err = %v, want ErrUnknownVisit", err)
	}

	a, err := h.repo.GetAttemptByChannelID(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if a.DeliveryStatus != string(feedback.DeliveryQueued) {
		t.Errorf("attempt status = %s, want queued", a.DeliveryStatus)
	}
	h.wantStatus(t, "v1", feedback.StatusPendingOutreach)
	h.wantStatus(t, "v2", feedback.StatusPendingOutreach)
	if h.gw.Calls() != 2 {
		t.Errorf("gateway calls = %d, want 2", h.gw.Calls())
	}
}
