package feedback

// Status is the lifecycle state of a FeedbackRequest.
type Status string

const (
	StatusCreated          Status = "created"
	StatusPendingOutreach  Status = "pending_outreach"
	StatusAwaitingResponse Status = "awaiting_response"
	StatusClassifying      Status = "classifying"
	StatusRouted           Status = "routed"
	StatusNoResponse       Status = "no_response"
	StatusDeliveryFailed   Status = "delivery_failed"
	StatusConfigError      Status = "config_error"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRouted, StatusNoResponse, StatusDeliveryFailed, StatusConfigError:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPendingOutreach, StatusAwaitingResponse, StatusClassifying:
		return true
	}
	return s.IsTerminal()
}

// OpenStatuses lists every non-terminal status.
var OpenStatuses = []Status{
	StatusCreated,
	StatusPendingOutreach,
	StatusAwaitingResponse,
	StatusClassifying,
}

var AllStatuses = append(append([]Status(nil), OpenStatuses...),
	StatusRouted, StatusNoResponse, StatusDeliveryFailed, StatusConfigError)

// DeliveryStatus tracks a single outbound message attempt.
type DeliveryStatus string

const (
	DeliveryQueued    DeliveryStatus = "queued"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// rank orders non-failed statuses so that late webhooks never move an attempt backwards.
func (d DeliveryStatus) rank() int {
	switch d {
	case DeliveryQueued:
		return 0
	case DeliverySent:
		return 1
	case DeliveryDelivered:
		return 2
	case DeliveryRead:
		return 3
	}
	return -1
}

// Valid reports whether d is a known delivery status.
func (d DeliveryStatus) Valid() bool {
	return d == DeliveryFailed || d.rank() >= 0
}

// ReachedSent reports whether the message left the gateway (sent, delivered or read).
func (d DeliveryStatus) ReachedSent() bool {
	return d.rank() >= 1
}

// Advances reports whether moving from d to next is a forward step.
// Failed is final for an attempt.
func (d DeliveryStatus) Advances(next DeliveryStatus) bool {
	if d == DeliveryFailed || d == next || !next.Valid() {
		return false
	}
	if next == DeliveryFailed {
		return true
	}
	return next.rank() > d.rank()
}

// Label is a sentiment verdict.
type Label string

const (
	LabelPositive Label = "positive"
	LabelNeutral  Label = "neutral"
	LabelNegative Label = "negative"
)

// Valid reports whether l is one of the three known labels.
func (l Label) Valid() bool {
	return l == LabelPositive || l == LabelNeutral || l == LabelNegative
}

// Decision is the routing outcome for a visit.
type Decision string

const (
	DecisionRequestReview Decision = "request_review"
	DecisionEscalate      Decision = "escalate"
	DecisionLogNeutral    Decision = "log_neutral"
	DecisionManualReview  Decision = "manual_review"
)

// Outcome records whether a routing side effect completed.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Verdict is what the classifier returned for one response. A nil *Verdict
// means classification failed or timed out.
type Verdict struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
}
