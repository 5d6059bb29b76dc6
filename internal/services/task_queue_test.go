package services

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/huangang/feedbackloop/internal/feedback"
)

func TestTaskTypeFeedbackEvent_Constant(t *testing.T) {
	if TaskTypeFeedbackEvent != "feedback:event" {
		t.Errorf("TaskTypeFeedbackEvent = %q", TaskTypeFeedbackEvent)
	}
}

func TestSyncQueue(t *testing.T) {
	q := NewSyncQueue()
	if q.IsAsync() {
		t.Error("sync queue reports async")
	}
	if err := q.Enqueue(context.Background(), &feedback.Envelope{EventID: "e1"}); err != nil {
		t.Errorf("enqueue without processor: %v", err)
	}

	var got []string
	q.SetProcessor(func(_ context.Context, env *feedback.Envelope) error {
		got = append(got, env.EventID)
		if env.EventID == "bad" {
			return errors.New("boom")
		}
		return nil
	})
	if err := q.Enqueue(context.Background(), &feedback.Envelope{EventID: "e2"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(context.Background(), &feedback.Envelope{EventID: "bad"}); err == nil {
		t.Error("processor error not returned")
	}
	if len(got) != 2 || got[0] != "e2" {
		t.Errorf("processed = %v", got)
	}
	if err := q.Close(); err != nil {
		t.Error(err)
	}
}

func TestDecodeEventTask(t *testing.T) {
	env, err := decodeEventTask(asynq.NewTask(TaskTypeFeedbackEvent, []byte(`{"kind":"delivery","event_id":"e1","delivery_id":"wamid.1","status":"sent"}`)))
	if err != nil {
		t.Fatal(err)
	}
	if env.Kind != feedback.KindDelivery || env.DeliveryID != "wamid.1" || env.Status != feedback.DeliverySent {
		t.Errorf("envelope = %+v", env)
	}

	_, err = decodeEventTask(asynq.NewTask(TaskTypeFeedbackEvent, []byte(`{`)))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("err = %v, want SkipRetry", err)
	}
}

func TestOrchestrator_ProcessEnvelope(t *testing.T) {
	h := newHarness(t)
	h.visitAwaiting(t, "v1")
	ctx := context.Background()

	env := &feedback.Envelope{Kind: feedback.KindResponse, EventID: "m1", CustomerPhone: testPhone, Text: "4"}
	if err := h.orch.ProcessEnvelope(ctx, env); err != nil {
		t.Fatal(err)
	}
	h.wantStatus(t, "v1", feedback.StatusRouted)

	tests := []struct {
		name string
		env  *feedback.Envelope
	}{
		{"duplicate", env},
		{"invalid", &feedback.Envelope{Kind: feedback.KindDelivery, EventID: "s9"}},
		{"unknown sender", &feedback.Envelope{Kind: feedback.KindResponse, EventID: "m9", CustomerPhone: "1555"}},
		{"after routing", &feedback.Envelope{Kind: feedback.KindResponse, EventID: "m2", VisitID: "v1", Text: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.orch.ProcessEnvelope(ctx, tt.env); err != nil {
				t.Errorf("err = %v, want acknowledged", err)
			}
		})
	}
	if h.notifier.calls != 0 {
		t.Error("late negative reply escalated")
	}
}
