package feedback

import (
	"fmt"
	"time"
)

// EventKind tags the variant carried by an Event.
type EventKind string

const (
	// Inbound from the messaging gateway.
	KindDelivery EventKind = "delivery"
	KindResponse EventKind = "response"

	// Raised by the scheduler, sweeper and collaborators.
	KindOutreachDue       EventKind = "outreach_due"
	KindConfigInvalid     EventKind = "config_invalid"
	KindRetryDue          EventKind = "retry_due"
	KindOutreachExhausted EventKind = "outreach_exhausted"
	KindResponseTimeout   EventKind = "response_timeout"
	KindDrainQueue        EventKind = "drain_queue"
	KindClassified        EventKind = "classified"
	KindClassifyFailed    EventKind = "classify_failed"
	KindClassifyRetryDue  EventKind = "classify_retry_due"
	KindRouted            EventKind = "routed"
	KindStalled           EventKind = "stalled"
	KindConfirmTimeout    EventKind = "confirmation_timeout"
)

// Event is anything that can move a visit through its lifecycle.
type Event interface {
	Kind() EventKind
	// Visit returns the visit the event belongs to.
	Visit() string
	// ID is the idempotency key. Empty means the event is not deduplicated.
	ID() string
}

// DeliveryEvent is a delivery status report from the gateway, keyed by the
// gateway's message id. VisitID is filled in once the attempt is resolved.
type DeliveryEvent struct {
	EventID    string
	DeliveryID string
	Status     DeliveryStatus
	VisitID    string
	At         time.Time
}

func (e DeliveryEvent) Kind() EventKind { return KindDelivery }
func (e DeliveryEvent) Visit() string   { return e.VisitID }
func (e DeliveryEvent) ID() string      { return e.EventID }

// ResponseEvent is an inbound customer reply. Either VisitID or
// CustomerPhone identifies the conversation.
type ResponseEvent struct {
	EventID       string
	VisitID       string
	CustomerPhone string
	Text          string
	Language      string
	ReceivedAt    time.Time
	// ResponseID is assigned when the reply is persisted.
	ResponseID string
}

func (e ResponseEvent) Kind() EventKind { return KindResponse }
func (e ResponseEvent) Visit() string   { return e.VisitID }
func (e ResponseEvent) ID() string      { return e.EventID }

// OutreachDue is the scheduler's single "ready to contact" trigger.
type OutreachDue struct {
	VisitID string
	At      time.Time
}

func (e OutreachDue) Kind() EventKind { return KindOutreachDue }
func (e OutreachDue) Visit() string   { return e.VisitID }
func (e OutreachDue) ID() string      { return "outreach_due:" + e.VisitID }

// ConfigInvalid reports unusable restaurant configuration for a new visit.
type ConfigInvalid struct {
	VisitID string
	Reason  string
}

func (e ConfigInvalid) Kind() EventKind { return KindConfigInvalid }
func (e ConfigInvalid) Visit() string   { return e.VisitID }
func (e ConfigInvalid) ID() string      { return "config_invalid:" + e.VisitID }

// RetryDue fires when a failed or paced outreach may be sent again.
type RetryDue struct {
	VisitID string
	At      time.Time
}

func (e RetryDue) Kind() EventKind { return KindRetryDue }
func (e RetryDue) Visit() string   { return e.VisitID }
func (e RetryDue) ID() string      { return "" }

// OutreachExhausted is reported by the delivery manager when the retry
// budget is spent.
type OutreachExhausted struct {
	VisitID string
	Reason  string
}

func (e OutreachExhausted) Kind() EventKind { return KindOutreachExhausted }
func (e OutreachExhausted) Visit() string   { return e.VisitID }
func (e OutreachExhausted) ID() string      { return "outreach_exhausted:" + e.VisitID }

// ResponseTimeout is raised by the sweeper once the response deadline passes.
type ResponseTimeout struct {
	VisitID string
	At      time.Time
}

func (e ResponseTimeout) Kind() EventKind { return KindResponseTimeout }
func (e ResponseTimeout) Visit() string   { return e.VisitID }
func (e ResponseTimeout) ID() string      { return "" }

// DrainQueue starts classification of replies that arrived before the
// outreach was confirmed as sent.
type DrainQueue struct {
	VisitID string
}

func (e DrainQueue) Kind() EventKind { return KindDrainQueue }
func (e DrainQueue) Visit() string   { return e.VisitID }
func (e DrainQueue) ID() string      { return "" }

// Classified carries a verdict for the response being classified.
type Classified struct {
	VisitID    string
	ResponseID string
	Verdict    Verdict
}

func (e Classified) Kind() EventKind { return KindClassified }
func (e Classified) Visit() string   { return e.VisitID }
func (e Classified) ID() string      { return "" }

// ClassifyFailed reports a classifier error or timeout.
type ClassifyFailed struct {
	VisitID    string
	ResponseID string
	Reason     string
}

func (e ClassifyFailed) Kind() EventKind { return KindClassifyFailed }
func (e ClassifyFailed) Visit() string   { return e.VisitID }
func (e ClassifyFailed) ID() string      { return "" }

// ClassifyRetryDue fires when a parked classification may be retried.
type ClassifyRetryDue struct {
	VisitID string
	At      time.Time
}

func (e ClassifyRetryDue) Kind() EventKind { return KindClassifyRetryDue }
func (e ClassifyRetryDue) Visit() string   { return e.VisitID }
func (e ClassifyRetryDue) ID() string      { return "" }

// RoutingCompleted reports the successful routing decision for the visit.
type RoutingCompleted struct {
	VisitID  string
	Decision Decision
}

func (e RoutingCompleted) Kind() EventKind { return KindRouted }
func (e RoutingCompleted) Visit() string   { return e.VisitID }
func (e RoutingCompleted) ID() string      { return "" }

// Stalled reports that an effect could not run to completion. The machine
// parks the visit on a timer so the sweeper resumes it.
type Stalled struct {
	VisitID string
	Reason  string
}

func (e Stalled) Kind() EventKind { return KindStalled }
func (e Stalled) Visit() string   { return e.VisitID }
func (e Stalled) ID() string      { return "" }

// ConfirmationTimeout fires when an accepted send never produced a
// delivery receipt.
type ConfirmationTimeout struct {
	VisitID string
	At      time.Time
}

func (e ConfirmationTimeout) Kind() EventKind { return KindConfirmTimeout }
func (e ConfirmationTimeout) Visit() string   { return e.VisitID }
func (e ConfirmationTimeout) ID() string      { return "" }

// Envelope is the wire form of an inbound gateway event, used by the task
// queue and the generic webhook body.
type Envelope struct {
	Kind          EventKind      `json:"kind"`
	EventID       string         `json:"event_id"`
	VisitID       string         `json:"visit_id,omitempty"`
	DeliveryID    string         `json:"delivery_id,omitempty"`
	Status        DeliveryStatus `json:"status,omitempty"`
	CustomerPhone string         `json:"customer_phone,omitempty"`
	Text          string         `json:"response_text,omitempty"`
	Language      string         `json:"language,omitempty"`
	At            time.Time      `json:"at"`
}

// Wrap converts an inbound event to its envelope.
func Wrap(ev Event) (Envelope, error) {
	switch e := ev.(type) {
	case DeliveryEvent:
		return Envelope{Kind: KindDelivery, EventID: e.EventID, VisitID: e.VisitID, DeliveryID: e.DeliveryID, Status: e.Status, At: e.At}, nil
	case ResponseEvent:
		return Envelope{Kind: KindResponse, EventID: e.EventID, VisitID: e.VisitID, CustomerPhone: e.CustomerPhone, Text: e.Text, Language: e.Language, At: e.ReceivedAt}, nil
	}
	return Envelope{}, fmt.Errorf("event kind %q cannot be wrapped", ev.Kind())
}

// Event validates the envelope and returns the tagged variant.
func (e Envelope) Event() (Event, error) {
	if e.EventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}
	switch e.Kind {
	case KindDelivery:
		if e.DeliveryID == "" {
			return nil, fmt.Errorf("delivery_id is required")
		}
		if !e.Status.Valid() || e.Status == DeliveryQueued {
			return nil, fmt.Errorf("invalid delivery status %q", e.Status)
		}
		return DeliveryEvent{EventID: e.EventID, DeliveryID: e.DeliveryID, Status: e.Status, VisitID: e.VisitID, At: e.At}, nil
	case KindResponse:
		if e.VisitID == "" && e.CustomerPhone == "" {
			return nil, fmt.Errorf("visit_id or customer_phone is required")
		}
		return ResponseEvent{EventID: e.EventID, VisitID: e.VisitID, CustomerPhone: e.CustomerPhone, Text: e.Text, Language: e.Language, ReceivedAt: e.At}, nil
	}
	return nil, fmt.Errorf("unknown event kind %q", e.Kind)
}
