package models

import "time"

// FeedbackRequest is the per-visit conversation record. Status is only
// written by the orchestrator.
type FeedbackRequest struct {
	VisitID           string     `gorm:"primaryKey;size:64" json:"visit_id"`
	CustomerRef       string     `gorm:"size:100;index" json:"customer_ref"`
	CustomerPhone     string     `gorm:"size:32;index" json:"customer_phone"`
	RestaurantID      string     `gorm:"size:64;index;not null" json:"restaurant_id"`
	VisitedAt         time.Time  `json:"visited_at"`
	Language          string     `gorm:"size:8" json:"language"`
	Status            string     `gorm:"size:32;index;not null" json:"status"`
	StatusReason      string     `gorm:"size:500" json:"status_reason,omitempty"`
	ActiveResponseID  string     `gorm:"size:64" json:"active_response_id,omitempty"`
	QueuedResponseIDs []string   `gorm:"serializer:json;type:text" json:"queued_response_ids,omitempty"`
	ClassifyAttempts  int        `gorm:"default:0" json:"classify_attempts"`
	NextActionAt      *time.Time `gorm:"index" json:"next_action_at,omitempty"`
	ResponseDeadline  *time.Time `gorm:"index" json:"response_deadline,omitempty"`
	ConfirmDeadline   *time.Time `gorm:"index" json:"confirm_deadline,omitempty"`
	ArchivedAt        *time.Time `gorm:"index" json:"archived_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (FeedbackRequest) TableName() string { return "feedback_requests" }

// OutreachAttempt is one outbound send. RetryCount is the attempt index,
// zero for the initial send.
type OutreachAttempt struct {
	ID               string     `gorm:"primaryKey;size:36" json:"attempt_id"`
	VisitID          string     `gorm:"size:64;index;not null" json:"visit_id"`
	ChannelMessageID *string    `gorm:"size:128;uniqueIndex" json:"channel_message_id"`
	SentAt           *time.Time `json:"sent_at"`
	DeliveryStatus   string     `gorm:"size:20;not null" json:"delivery_status"`
	RetryCount       int        `gorm:"default:0" json:"retry_count"`
	Error            string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (OutreachAttempt) TableName() string { return "outreach_attempts" }

// Response processing states.
const (
	ResponseQueued     = "queued"
	ResponseProcessing = "processing"
	ResponseRouted     = "routed"
	ResponseSuperseded = "superseded"
	ResponseIgnored    = "ignored"
)

// CustomerResponse is an inbound reply, ordered per visit by Sequence.
type CustomerResponse struct {
	ID         string    `gorm:"primaryKey;size:36" json:"response_id"`
	VisitID    string    `gorm:"size:64;uniqueIndex:idx_response_visit_seq;uniqueIndex:idx_response_visit_event;not null" json:"visit_id"`
	Sequence   int       `gorm:"uniqueIndex:idx_response_visit_seq" json:"sequence"`
	EventID    string    `gorm:"size:200;uniqueIndex:idx_response_visit_event" json:"event_id"`
	Text       string    `gorm:"type:text" json:"text"`
	Language   string    `gorm:"size:8" json:"language"`
	State      string    `gorm:"size:20;default:queued" json:"state"`
	ReceivedAt time.Time `json:"received_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func (CustomerResponse) TableName() string { return "customer_responses" }

// SentimentResult is written once per classified response and never updated
// except for the superseded flag.
type SentimentResult struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	VisitID    string    `gorm:"size:64;index;not null" json:"visit_id"`
	ResponseID string    `gorm:"size:36;uniqueIndex;not null" json:"response_id"`
	Label      string    `gorm:"size:20;not null" json:"label"`
	Confidence float64   `json:"confidence"`
	Model      string    `gorm:"size:100" json:"model"`
	Superseded bool      `gorm:"default:false" json:"superseded"`
	ComputedAt time.Time `json:"computed_at"`
}

func (SentimentResult) TableName() string { return "sentiment_results" }

// RoutingDecision records every routing attempt. SuccessKey is set to the
// visit id on success so the database rejects a second successful decision.
type RoutingDecision struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	VisitID    string    `gorm:"size:64;index;not null" json:"visit_id"`
	ResponseID string    `gorm:"size:36" json:"response_id"`
	Decision   string    `gorm:"size:32;not null" json:"decision"`
	Outcome    string    `gorm:"size:16;not null" json:"outcome"`
	Detail     string    `gorm:"type:text" json:"detail,omitempty"`
	SuccessKey *string   `gorm:"size:64;uniqueIndex" json:"-"`
	ExecutedAt time.Time `json:"executed_at"`
}

func (RoutingDecision) TableName() string { return "routing_decisions" }

// ProcessedEvent remembers handled event ids.
type ProcessedEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EventID   string    `gorm:"size:200;uniqueIndex;not null" json:"event_id"`
	VisitID   string    `gorm:"size:64;index" json:"visit_id"`
	Kind      string    `gorm:"size:32" json:"kind"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }

// VisitTransition is the audit trail of status changes.
type VisitTransition struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	VisitID    string    `gorm:"size:64;index;not null" json:"visit_id"`
	FromStatus string    `gorm:"size:32" json:"from_status"`
	ToStatus   string    `gorm:"size:32" json:"to_status"`
	EventKind  string    `gorm:"size:32" json:"event_kind"`
	EventID    string    `gorm:"size:200" json:"event_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (VisitTransition) TableName() string { return "visit_transitions" }
