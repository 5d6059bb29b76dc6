package feedback

import (
	"fmt"
	"time"
)

// State is the part of a FeedbackRequest the machine reasons about.
type State struct {
	Status Status
	// Active is the response currently being classified.
	Active string
	// Queue holds response ids received while another one was in flight,
	// or before the outreach was confirmed as sent.
	Queue            []string
	ClassifyAttempts int
	NextActionAt     *time.Time
	ResponseDeadline *time.Time
	// ConfirmDeadline is set while an accepted send waits for its receipt.
	ConfirmDeadline *time.Time
}

// EffectKind names a side effect requested by a transition.
type EffectKind string

const (
	EffectSendOutreach          EffectKind = "send_outreach"
	EffectScheduleOutreachRetry EffectKind = "schedule_outreach_retry"
	EffectHandleDeliveryFailure EffectKind = "handle_delivery_failure"
	EffectArmTimeout            EffectKind = "arm_timeout"
	EffectClassify              EffectKind = "classify"
	EffectScheduleClassifyRetry EffectKind = "schedule_classify_retry"
	EffectSupersede             EffectKind = "supersede"
	EffectRoute                 EffectKind = "route"
	EffectFinalize              EffectKind = "finalize"
)

// Effect is executed by the runtime after the new state is persisted.
type Effect struct {
	Kind       EffectKind
	ResponseID string
	DeliveryID string
	// Verdict is nil when routing follows a classification failure.
	Verdict *Verdict
	Reason  string
	// BudgetSpent marks a classify effect whose attempts are used up. The
	// runtime fails it without calling the model.
	BudgetSpent bool
}

// Machine is the pure conversation state machine.
type Machine struct {
	MaxClassifyAttempts int
}

// Transition applies ev to st. It returns ErrIgnored, with st unchanged,
// when the event has no meaning in the current state.
func (m Machine) Transition(st State, ev Event) (State, []Effect, error) {
	if ev.Visit() == "" {
		return st, nil, fmt.Errorf("event %s without visit id", ev.Kind())
	}
	next := st
	next.Queue = append([]string(nil), st.Queue...)

	switch e := ev.(type) {
	case OutreachDue:
		if st.Status != StatusCreated || notYet(e.At, st.NextActionAt) {
			return st, nil, ErrIgnored
		}
		next.Status = StatusPendingOutreach
		next.NextActionAt = nil
		return next, []Effect{{Kind: EffectSendOutreach}}, nil

	case ConfigInvalid:
		if st.Status != StatusCreated {
			return st, nil, ErrIgnored
		}
		next.Status = StatusConfigError
		next.NextActionAt = nil
		return next, []Effect{{Kind: EffectFinalize, Reason: e.Reason}}, nil

	case RetryDue:
		if st.Status != StatusPendingOutreach || st.NextActionAt == nil || notYet(e.At, st.NextActionAt) {
			return st, nil, ErrIgnored
		}
		next.NextActionAt = nil
		return next, []Effect{{Kind: EffectSendOutreach}}, nil

	case DeliveryEvent:
		if st.Status != StatusPendingOutreach {
			return st, nil, ErrIgnored
		}
		switch {
		case e.Status.ReachedSent():
			next.Status = StatusAwaitingResponse
			next.NextActionAt = nil
			next.ConfirmDeadline = nil
			return next, []Effect{{Kind: EffectArmTimeout}}, nil
		case e.Status == DeliveryFailed:
			next.ConfirmDeadline = nil
			return next, []Effect{{Kind: EffectHandleDeliveryFailure, DeliveryID: e.DeliveryID}}, nil
		}
		return st, nil, ErrIgnored

	case OutreachExhausted:
		if st.Status != StatusPendingOutreach {
			return st, nil, ErrIgnored
		}
		next.Status = StatusDeliveryFailed
		next.NextActionAt = nil
		next.ConfirmDeadline = nil
		return next, []Effect{{Kind: EffectFinalize, Reason: e.Reason}}, nil

	case ConfirmationTimeout:
		if st.Status != StatusPendingOutreach || st.ConfirmDeadline == nil || notYet(e.At, st.ConfirmDeadline) {
			return st, nil, ErrIgnored
		}
		next.ConfirmDeadline = nil
		next.NextActionAt = nil
		if len(next.Queue) > 0 {
			// A reply proves the message arrived.
			next.Status = StatusAwaitingResponse
			return next, []Effect{{Kind: EffectArmTimeout}}, nil
		}
		next.Status = StatusDeliveryFailed
		return next, []Effect{{Kind: EffectFinalize, Reason: "delivery not confirmed"}}, nil

	case Stalled:
		switch {
		case st.Status == StatusPendingOutreach && st.NextActionAt == nil && st.ConfirmDeadline == nil:
			return next, []Effect{{Kind: EffectScheduleOutreachRetry, Reason: e.Reason}}, nil
		case st.Status == StatusClassifying && st.NextActionAt == nil:
			next.ClassifyAttempts++
			return next, []Effect{{Kind: EffectScheduleClassifyRetry, ResponseID: st.Active, Reason: e.Reason}}, nil
		}
		return st, nil, ErrIgnored

	case ResponseEvent:
		if e.ResponseID == "" {
			return st, nil, fmt.Errorf("response event %s not persisted", e.EventID)
		}
		switch st.Status {
		case StatusCreated, StatusPendingOutreach, StatusClassifying:
			next.Queue = append(next.Queue, e.ResponseID)
			return next, nil, nil
		case StatusAwaitingResponse:
			return m.startClassifying(next, e.ResponseID), []Effect{{Kind: EffectClassify, ResponseID: e.ResponseID}}, nil
		}
		return st, nil, ErrIgnored

	case DrainQueue:
		if st.Status != StatusAwaitingResponse || len(st.Queue) == 0 {
			return st, nil, ErrIgnored
		}
		head := next.Queue[0]
		next.Queue = next.Queue[1:]
		return m.startClassifying(next, head), []Effect{{Kind: EffectClassify, ResponseID: head}}, nil

	case ResponseTimeout:
		if st.Status != StatusAwaitingResponse || st.ResponseDeadline == nil || notYet(e.At, st.ResponseDeadline) {
			return st, nil, ErrIgnored
		}
		next.Status = StatusNoResponse
		next.ResponseDeadline = nil
		return next, []Effect{{Kind: EffectFinalize, Reason: "response timeout"}}, nil

	case Classified:
		if st.Status != StatusClassifying || st.Active != e.ResponseID {
			return st, nil, ErrIgnored
		}
		if len(next.Queue) > 0 {
			return m.advanceQueue(next)
		}
		v := e.Verdict
		return next, []Effect{{Kind: EffectRoute, ResponseID: st.Active, Verdict: &v}}, nil

	case ClassifyFailed:
		if st.Status != StatusClassifying || st.Active != e.ResponseID {
			return st, nil, ErrIgnored
		}
		next.ClassifyAttempts++
		if next.ClassifyAttempts < m.maxAttempts() {
			return next, []Effect{{Kind: EffectScheduleClassifyRetry, ResponseID: st.Active, Reason: e.Reason}}, nil
		}
		next.NextActionAt = nil
		if len(next.Queue) > 0 {
			return m.advanceQueue(next)
		}
		return next, []Effect{{Kind: EffectRoute, ResponseID: st.Active, Reason: e.Reason}}, nil

	case ClassifyRetryDue:
		if st.Status != StatusClassifying || st.NextActionAt == nil || notYet(e.At, st.NextActionAt) {
			return st, nil, ErrIgnored
		}
		next.NextActionAt = nil
		return next, []Effect{{
			Kind:        EffectClassify,
			ResponseID:  st.Active,
			BudgetSpent: st.ClassifyAttempts >= m.maxAttempts(),
		}}, nil

	case RoutingCompleted:
		if st.Status != StatusClassifying {
			return st, nil, ErrIgnored
		}
		next.Status = StatusRouted
		next.Active = ""
		next.NextActionAt = nil
		return next, []Effect{{Kind: EffectFinalize, Reason: string(e.Decision)}}, nil
	}
	return st, nil, fmt.Errorf("unknown event kind %q", ev.Kind())
}

func (m Machine) startClassifying(st State, responseID string) State {
	st.Status = StatusClassifying
	st.Active = responseID
	st.ClassifyAttempts = 0
	st.ResponseDeadline = nil
	st.NextActionAt = nil
	return st
}

// advanceQueue supersedes the active response and moves to the next one.
func (m Machine) advanceQueue(st State) (State, []Effect, error) {
	prev := st.Active
	head := st.Queue[0]
	st.Queue = st.Queue[1:]
	st = m.startClassifying(st, head)
	return st, []Effect{
		{Kind: EffectSupersede, ResponseID: prev},
		{Kind: EffectClassify, ResponseID: head},
	}, nil
}

func (m Machine) maxAttempts() int {
	if m.MaxClassifyAttempts < 1 {
		return 1
	}
	return m.MaxClassifyAttempts
}

// notYet reports whether at is strictly before the deadline.
func notYet(at time.Time, deadline *time.Time) bool {
	return deadline != nil && at.Before(*deadline)
}
