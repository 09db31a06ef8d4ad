package budget

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service is the entry point for every budget operation. It is safe for
// concurrent use; serialization happens inside Repo.WithTx.
type Service struct {
	Repo   TxRepository
	Policy Policy
	Events EventPublisher
	Logger *slog.Logger

	// Clock and NewID are replaceable in tests.
	Clock func() time.Time
	NewID func() string
}

func NewService(repo TxRepository, policy Policy) *Service {
	return &Service{
		Repo:   repo,
		Policy: policy,
		Events: NopPublisher{},
		Logger: slog.Default(),
		Clock:  func() time.Time { return time.Now().UTC() },
		NewID:  uuid.NewString,
	}
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock()
}

func (s *Service) id() string {
	if s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}

func (s *Service) log(component string) *slog.Logger {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", component)
}

// publish delivers events produced by a committed transaction.
func (s *Service) publish(ctx context.Context, events ...Event) {
	if s.Events == nil {
		return
	}
	for _, ev := range events {
		if err := s.Events.Publish(ctx, ev); err != nil {
			s.log("events").Error("publish failed",
				"type", ev.Type, "aggregate_id", ev.AggregateID, "error", err)
		}
	}
}

func (s *Service) event(t EventType, aggregateID string, actor Actor, data map[string]any) Event {
	return Event{Type: t, AggregateID: aggregateID, OccurredAt: s.now(), ActorID: actor.ID, Data: data}
}

// =============================================================================
// LOOKUP HELPERS - Turn (nil, nil) into ErrNotFound
// =============================================================================

func mustYear(ctx context.Context, repo Repository, id YearID) (*FinancialYear, error) {
	y, err := repo.GetFinancialYear(ctx, id)
	if err != nil {
		return nil, err
	}
	if y == nil {
		return nil, notFound("financial year", id)
	}
	return y, nil
}

func mustAllocation(ctx context.Context, repo Repository, id AllocationID) (*Allocation, error) {
	a, err := repo.GetAllocation(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, notFound("allocation", id)
	}
	return a, nil
}

func mustExpenditure(ctx context.Context, repo Repository, id ExpenditureID) (*Expenditure, error) {
	e, err := repo.GetExpenditure(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, notFound("expenditure", id)
	}
	return e, nil
}

func mustDepartment(ctx context.Context, repo Repository, id DepartmentID) (*Department, error) {
	d, err := repo.GetDepartment(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, notFound("department", id)
	}
	return d, nil
}

func mustBudgetHead(ctx context.Context, repo Repository, id BudgetHeadID) (*BudgetHead, error) {
	h, err := repo.GetBudgetHead(ctx, id)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, notFound("budget head", id)
	}
	return h, nil
}
