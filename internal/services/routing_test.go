package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
	"github.com/huangang/feedbackloop/internal/store"
)

type routingFixture struct {
	engine   *RoutingEngine
	repo     *store.GormStore
	gw       *fakeGateway
	notifier *fakeNotifier
	slept    []time.Duration
}

func newRoutingFixture(t *testing.T, r models.Restaurant) *routingFixture {
	t.Helper()
	repo, db := newTestRepo(t)
	if err := db.Create(&r).Error; err != nil {
		t.Fatal(err)
	}
	cfg := testFeedbackConfig()
	f := &routingFixture{repo: repo, gw: &fakeGateway{}, notifier: &fakeNotifier{}}
	thresholds := func() feedback.Thresholds {
		return feedback.Thresholds{ConfidenceFloor: cfg.ConfidenceFloor, PositiveThreshold: cfg.PositiveThreshold}
	}
	clock := &fakeClock{t: utc(2025, 3, 10, 12, 0)}
	f.engine = NewRoutingEngine(repo, thresholds, f.notifier, f.gw, NewReviewLinkResolver(repo, time.Minute),
		NewMessageRenderer("en"), cfg, clock.Now)
	f.engine.sleep = func(_ context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}
	return f
}

func (f *routingFixture) route(t *testing.T, visitID string, v *feedback.Verdict) *models.RoutingDecision {
	t.Helper()
	d, err := f.engine.Route(context.Background(), RouteInput{Request: testRequest(visitID), ResponseID: "resp-" + visitID, Verdict: v})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	return d
}

func TestRoutingEngine_Decisions(t *testing.T) {
	tests := []struct {
		name     string
		verdict  *feedback.Verdict
		want     feedback.Decision
		messages int
		notices  int
	}{
		{"confident positive", &feedback.Verdict{Label: feedback.LabelPositive, Confidence: 0.9}, feedback.DecisionRequestReview, 1, 0},
		{"hesitant positive", &feedback.Verdict{Label: feedback.LabelPositive, Confidence: 0.5}, feedback.DecisionLogNeutral, 1, 0},
		{"neutral", &feedback.Verdict{Label: feedback.LabelNeutral, Confidence: 0.9}, feedback.DecisionLogNeutral, 1, 0},
		{"negative", &feedback.Verdict{Label: feedback.LabelNegative, Confidence: 0.6}, feedback.DecisionEscalate, 1, 1},
		{"below floor", &feedback.Verdict{Label: feedback.LabelNegative, Confidence: 0.2}, feedback.DecisionManualReview, 0, 0},
		{"classification failed", nil, feedback.DecisionManualReview, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRoutingFixture(t, testRestaurant())
			d := f.route(t, "v1", tt.verdict)
			if d.Decision != string(tt.want) || d.Outcome != string(feedback.OutcomeSuccess) {
				t.Errorf("decision = %s/%s, want %s", d.Decision, d.Outcome, tt.want)
			}
			if got := len(f.gw.Sent()); got != tt.messages {
				t.Errorf("messages = %d, want %d", got, tt.messages)
			}
			if f.notifier.calls != tt.notices {
				t.Errorf("notices = %d, want %d", f.notifier.calls, tt.notices)
			}
		})
	}
}

func TestRoutingEngine_ReplayDoesNotRepeatEffects(t *testing.T) {
	f := newRoutingFixture(t, testRestaurant())
	v := &feedback.Verdict{Label: feedback.LabelNegative, Confidence: 0.9}

	first := f.route(t, "v1", v)
	second := f.route(t, "v1", &feedback.Verdict{Label: feedback.LabelPositive, Confidence: 1})
	if second.ID != first.ID || second.Decision != string(feedback.DecisionEscalate) {
		t.Errorf("replay = %+v, want %+v", second, first)
	}
	if f.notifier.calls != 1 || len(f.gw.Sent()) != 1 {
		t.Errorf("replay repeated side effects: notices=%d messages=%d", f.notifier.calls, len(f.gw.Sent()))
	}
}

func TestRoutingEngine_EscalationRetriesWithBackoff(t *testing.T) {
	f := newRoutingFixture(t, testRestaurant())
	f.notifier.err = func(call int) error {
		if call < 3 {
			return errors.New("timeout")
		}
		return nil
	}

	d := f.route(t, "v1", &feedback.Verdict{Label: feedback.LabelNegative, Confidence: 0.9})
	if d.Decision != string(feedback.DecisionEscalate) {
		t.Errorf("decision = %s", d.Decision)
	}
	if got := fmt.Sprint(f.slept); got != "[2s 4s]" {
		t.Errorf("backoff = %s", got)
	}
}

func TestRoutingEngine_EscalationConfigErrorIsNotRetried(t *testing.T) {
	f := newRoutingFixture(t, testRestaurant())
	f.notifier.err = func(int) error { return ErrNoEscalationBot }

	d := f.route(t, "v1", &feedback.Verdict{Label: feedback.LabelNegative, Confidence: 0.9})
	if d.Decision != string(feedback.DecisionManualReview) || !strings.Contains(d.Detail, "escalation failed") {
		t.Errorf("decision = %+v", d)
	}
	if f.notifier.calls != 1 || len(f.slept) != 0 {
		t.Errorf("config error retried: calls=%d", f.notifier.calls)
	}
}

func TestRoutingEngine_ReviewRequestFailures(t *testing.T) {
	positive := &feedback.Verdict{Label: feedback.LabelPositive, Confidence: 0.95}

	t.Run("no review link", func(t *testing.T) {
		r := testRestaurant()
		r.ReviewURL = ""
		f := newRoutingFixture(t, r)
		d := f.route(t, "v1", positive)
		if d.Decision != string(feedback.DecisionManualReview) {
			t.Errorf("decision = %s", d.Decision)
		}
		decisions, _ := f.repo.ListDecisions(context.Background(), "v1")
		if len(decisions) != 2 || decisions[0].Decision != string(feedback.DecisionRequestReview) || decisions[0].Outcome != string(feedback.OutcomeFailure) {
			t.Errorf("decisions = %+v", decisions)
		}
	})

	t.Run("gateway down", func(t *testing.T) {
		f := newRoutingFixture(t, testRestaurant())
		f.gw.fail = func(int) error { return errors.New("503") }
		d := f.route(t, "v1", positive)
		if d.Decision != string(feedback.DecisionManualReview) || !strings.Contains(d.Detail, "review request failed") {
			t.Errorf("decision = %+v", d)
		}
	})

	t.Run("place id preferred", func(t *testing.T) {
		r := testRestaurant()
		r.GooglePlaceID = "ChIJ123"
		f := newRoutingFixture(t, r)
		f.route(t, "v1", positive)
		sent := f.gw.Sent()
		if len(sent) != 1 || !strings.Contains(sent[0].Text, "placeid=ChIJ123") {
			t.Errorf("sent = %+v", sent)
		}
	})
}
