package feedback

import "errors"

var (
	// ErrConfiguration marks missing or invalid restaurant/channel configuration.
	// Visits hitting it end in StatusConfigError and need a human fix.
	ErrConfiguration = errors.New("configuration error")

	// ErrDelivery is a transient messaging failure, retried with backoff.
	ErrDelivery = errors.New("delivery error")

	// ErrClassification covers classifier failures and timeouts. It always
	// resolves to manual review.
	ErrClassification = errors.New("classification error")

	// ErrRoutingConflict is returned internally when a successful decision
	// already exists. Callers absorb it as a no-op.
	ErrRoutingConflict = errors.New("routing decision already recorded")

	// ErrIgnored means the event does not apply to the visit's current state.
	ErrIgnored = errors.New("event ignored in current state")

	// ErrDuplicateEvent means the event id was already processed.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrFutureVisit rejects visits whose timestamp is in the future.
	ErrFutureVisit = errors.New("visit timestamp is in the future")

	// ErrUnknownVisit means no feedback request matches the event.
	ErrUnknownVisit = errors.New("unknown visit")

	// ErrDeferred means the event was applied but a follow-up effect failed
	// and was parked on a timer for the sweeper to resume.
	ErrDeferred = errors.New("effect deferred")
)
