package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/warp/budget-engine/budget"
)

// LogPublisher writes each event as one Info line.
type LogPublisher struct {
	Logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{Logger: logger.With("component", "events")}
}

func (p *LogPublisher) Publish(ctx context.Context, event budget.Event) error {
	p.Logger.InfoContext(ctx, "domain event",
		"type", event.Type,
		"aggregate_id", event.AggregateID,
		"actor_id", event.ActorID,
		"occurred_at", event.OccurredAt,
		"data", event.Data,
	)
	return nil
}

// Multi publishes to every publisher and joins their errors.
type Multi []budget.EventPublisher

func (m Multi) Publish(ctx context.Context, event budget.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
