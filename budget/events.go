package budget

import (
	"context"
	"time"
)

type EventType string

const (
	EventExpenditureSubmitted   EventType = "expenditure.submitted"
	EventExpenditureVerified    EventType = "expenditure.verified"
	EventExpenditureApproved    EventType = "expenditure.approved"
	EventExpenditureRejected    EventType = "expenditure.rejected"
	EventExpenditureResubmitted EventType = "expenditure.resubmitted"

	EventYearCreated      EventType = "financial_year.created"
	EventYearActivated    EventType = "financial_year.activated"
	EventYearLocked       EventType = "financial_year.locked"
	EventYearClosed       EventType = "financial_year.closed"
	EventYearRecalculated EventType = "financial_year.recalculated"

	EventAllocationCreated EventType = "allocation.created"
)

// Event is published after the transaction that produced it commits.
type Event struct {
	Type        EventType      `json:"type"`
	AggregateID string         `json:"aggregate_id"`
	OccurredAt  time.Time      `json:"occurred_at"`
	ActorID     string         `json:"actor_id"`
	Data        map[string]any `json:"data,omitempty"`
}

// EventPublisher delivers events to interested parties. Failures are logged
// by the service and never undo the committed change.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func decisionEvent(d Decision) EventType {
	switch d {
	case DecisionVerify:
		return EventExpenditureVerified
	case DecisionApprove:
		return EventExpenditureApproved
	default:
		return EventExpenditureRejected
	}
}
