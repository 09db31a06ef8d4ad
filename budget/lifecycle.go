/*
lifecycle.go - Financial year lifecycle manager

PURPOSE:
  Owns the status of each financial year:

    planning → active → locked → closed

  Status never moves backwards. Locking stops new allocations; closing
  freezes every total and records the carryforward, after which no
  allocation or expenditure of the year can change.

KEY CONCEPTS:
  Recalculate: Re-sums the cached totals from allocations and income.
               Idempotent; refused once the year is closed.
  Label:       Years are named "YYYY-YY" and mapped from dates with the
               configured fiscal start month (April by default).

SEE ALSO:
  - carryforward.go: Strategies evaluated on close
  - generic/period.go: Label <-> period mapping
*/
package budget

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/generic"
)

type CreateYearInput struct {
	Label string
	// StartDate and EndDate default to the period named by Label.
	StartDate time.Time
	EndDate   time.Time
	// Status defaults to planning. Only planning and active are accepted.
	Status  YearStatus
	Remarks string
}

// FinancialYearLabel names the April-March year containing now.
func FinancialYearLabel(now time.Time) string {
	return generic.IndianFinancialYear.Label(generic.DateOf(now))
}

// =============================================================================
// CREATE
// =============================================================================

func (s *Service) CreateFinancialYear(ctx context.Context, actor Actor, in CreateYearInput) (*FinancialYear, error) {
	if err := authorize(actor, s.Policy.LifecycleRoles, "create financial years"); err != nil {
		return nil, err
	}

	in.Label = strings.TrimSpace(in.Label)
	period, err := s.Policy.Periods.ParseLabel(in.Label)
	if err != nil {
		return nil, &ValidationError{Field: "label", Reason: err.Error(), Err: ErrInvalidLabel}
	}
	if in.StartDate.IsZero() {
		in.StartDate = period.Start.Time
	}
	if in.EndDate.IsZero() {
		in.EndDate = period.End.Time
	}
	if !in.EndDate.After(in.StartDate) {
		return nil, &ValidationError{Field: "end_date", Reason: "must be after start_date", Err: ErrInvalidRange}
	}
	if !period.Contains(generic.DateOf(in.StartDate)) || !period.Contains(generic.DateOf(in.EndDate)) {
		return nil, &ValidationError{Field: "start_date", Reason: "dates must fall within " + period.String(), Err: ErrInvalidRange}
	}
	if in.Status == "" {
		in.Status = YearPlanning
	}
	if in.Status != YearPlanning && in.Status != YearActive {
		return nil, &ValidationError{Field: "status", Reason: "new years start as planning or active", Err: ErrInvalidStatusChange}
	}

	var created FinancialYear
	err = s.Repo.WithTx(ctx, func(repo Repository) error {
		existing, err := repo.GetFinancialYearByLabel(ctx, in.Label)
		if err != nil {
			return err
		}
		if existing != nil {
			return &ValidationError{Field: "label", Reason: "year " + in.Label + " already exists", Err: ErrDuplicateYear}
		}
		if in.Status == YearActive {
			if err := s.checkNoActiveYear(ctx, repo, ""); err != nil {
				return err
			}
		}

		now := s.now()
		created = FinancialYear{
			ID:                    YearID(s.id()),
			Label:                 in.Label,
			StartDate:             in.StartDate,
			EndDate:               in.EndDate,
			Status:                in.Status,
			TotalIncomeReceived:   decimal.Zero,
			TotalAllocated:        decimal.Zero,
			TotalSpent:            decimal.Zero,
			UtilizationPercentage: decimal.Zero,
			Remarks:               in.Remarks,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if in.Status == YearActive {
			created.ActivatedBy = actor.ID
			created.ActivatedAt = &now
		}
		return repo.SaveFinancialYear(ctx, created)
	})
	if err != nil {
		s.log("lifecycle").Warn("create year rejected", "label", in.Label, "actor", actor.ID, "error", err)
		return nil, err
	}

	s.log("lifecycle").Info("financial year created", "year_id", created.ID, "label", created.Label, "status", created.Status)
	s.publish(ctx, s.event(EventYearCreated, string(created.ID), actor, map[string]any{
		"label":  created.Label,
		"status": created.Status,
	}))
	return &created, nil
}

func (s *Service) checkNoActiveYear(ctx context.Context, repo Repository, except YearID) error {
	if !s.Policy.SingleActiveYear {
		return nil
	}
	years, err := repo.ListFinancialYears(ctx)
	if err != nil {
		return err
	}
	for _, y := range years {
		if y.Status == YearActive && y.ID != except {
			return &YearStateError{YearID: y.ID, Label: y.Label, Status: y.Status, Operation: "activate year", Err: ErrActiveYearExists}
		}
	}
	return nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// ActivateFinancialYear moves a planning year to active.
func (s *Service) ActivateFinancialYear(ctx context.Context, actor Actor, id YearID, remarks string) (*FinancialYear, error) {
	return s.transitionYear(ctx, actor, id, "activate", EventYearActivated, remarks,
		func(repo Repository, y *FinancialYear, now time.Time) error {
			switch y.Status {
			case YearActive:
				return yearStateError(y, "activate", ErrInvalidStatusChange)
			case YearLocked:
				return yearStateError(y, "activate", ErrAlreadyLocked)
			case YearClosed:
				return yearStateError(y, "activate", ErrAlreadyClosed)
			}
			if err := s.checkNoActiveYear(ctx, repo, y.ID); err != nil {
				return err
			}
			y.Status = YearActive
			y.ActivatedBy = actor.ID
			y.ActivatedAt = &now
			return nil
		})
}

// LockFinancialYear stops new allocations for the year.
func (s *Service) LockFinancialYear(ctx context.Context, actor Actor, id YearID, remarks string) (*FinancialYear, error) {
	return s.transitionYear(ctx, actor, id, "lock", EventYearLocked, remarks,
		func(_ Repository, y *FinancialYear, now time.Time) error {
			switch y.Status {
			case YearLocked:
				return yearStateError(y, "lock", ErrAlreadyLocked)
			case YearClosed:
				return yearStateError(y, "lock", ErrAlreadyClosed)
			}
			y.Status = YearLocked
			y.LockedBy = actor.ID
			y.LockedAt = &now
			return nil
		})
}

// CloseFinancialYear freezes the totals of a locked year and records its
// carryforward.
func (s *Service) CloseFinancialYear(ctx context.Context, actor Actor, id YearID, remarks string) (*FinancialYear, error) {
	return s.transitionYear(ctx, actor, id, "close", EventYearClosed, remarks,
		func(repo Repository, y *FinancialYear, now time.Time) error {
			switch y.Status {
			case YearClosed:
				return yearStateError(y, "close", ErrAlreadyClosed)
			case YearPlanning, YearActive:
				return yearStateError(y, "close", ErrNotLocked)
			}
			if err := s.computeTotals(ctx, repo, y, now); err != nil {
				return err
			}
			carry, err := s.carryforward().Carryforward(CarryforwardInput{
				Allocated: y.TotalAllocated,
				Spent:     y.TotalSpent,
				Income:    y.TotalIncomeReceived,
			})
			if err != nil {
				return err
			}
			y.CarryforwardAmount = &carry
			y.Status = YearClosed
			y.ClosedBy = actor.ID
			y.ClosedAt = &now
			return nil
		})
}

// RecalculateFinancialYear overwrites the cached totals from current
// allocation and income records.
func (s *Service) RecalculateFinancialYear(ctx context.Context, actor Actor, id YearID) (*FinancialYear, error) {
	var updated FinancialYear
	if err := authorize(actor, s.Policy.RecalculateRoles, "recalculate financial years"); err != nil {
		return nil, err
	}
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		y, err := mustYear(ctx, repo, id)
		if err != nil {
			return err
		}
		if y.Status == YearClosed {
			return yearStateError(y, "recalculate", ErrYearClosed)
		}
		now := s.now()
		if err := s.computeTotals(ctx, repo, y, now); err != nil {
			return err
		}
		y.UpdatedAt = now
		updated = *y
		return repo.SaveFinancialYear(ctx, *y)
	})
	if err != nil {
		return nil, err
	}

	s.log("lifecycle").Debug("financial year recalculated",
		"year_id", updated.ID, "allocated", updated.TotalAllocated.StringFixed(2),
		"spent", updated.TotalSpent.StringFixed(2), "utilization", updated.UtilizationPercentage.StringFixed(2))
	s.publish(ctx, s.event(EventYearRecalculated, string(updated.ID), actor, map[string]any{
		"total_allocated": updated.TotalAllocated.StringFixed(2),
		"total_spent":     updated.TotalSpent.StringFixed(2),
	}))
	return &updated, nil
}

// RecalculateOpenYears recalculates every year that is not closed. It keeps
// going past failures and returns them joined.
func (s *Service) RecalculateOpenYears(ctx context.Context) (int, error) {
	years, err := s.Repo.ListFinancialYears(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	count := 0
	for _, y := range years {
		if y.Status == YearClosed {
			continue
		}
		if _, err := s.RecalculateFinancialYear(ctx, SystemActor, y.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		count++
	}
	return count, errors.Join(errs...)
}

func (s *Service) transitionYear(
	ctx context.Context,
	actor Actor,
	id YearID,
	op string,
	eventType EventType,
	remarks string,
	apply func(repo Repository, y *FinancialYear, now time.Time) error,
) (*FinancialYear, error) {
	if err := authorize(actor, s.Policy.LifecycleRoles, op+" financial years"); err != nil {
		return nil, err
	}

	var updated FinancialYear
	var from YearStatus
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		y, err := mustYear(ctx, repo, id)
		if err != nil {
			return err
		}
		from = y.Status
		now := s.now()
		if err := apply(repo, y, now); err != nil {
			return err
		}
		if remarks != "" {
			y.Remarks = remarks
		}
		y.UpdatedAt = now
		updated = *y
		return repo.SaveFinancialYear(ctx, *y)
	})
	if err != nil {
		s.log("lifecycle").Warn("year transition rejected", "year_id", id, "op", op, "actor", actor.ID, "error", err)
		return nil, err
	}

	s.log("lifecycle").Info("financial year transitioned",
		"year_id", updated.ID, "label", updated.Label, "from", from, "to", updated.Status, "actor", actor.ID)
	data := map[string]any{"label": updated.Label, "from": from, "to": updated.Status}
	if updated.CarryforwardAmount != nil {
		data["carryforward"] = updated.CarryforwardAmount.StringFixed(2)
	}
	s.publish(ctx, s.event(eventType, string(updated.ID), actor, data))
	return &updated, nil
}

func (s *Service) carryforward() CarryforwardStrategy {
	if s.Policy.Carryforward == nil {
		return RemainingCarryforward{}
	}
	return s.Policy.Carryforward
}

func (s *Service) computeTotals(ctx context.Context, repo Repository, y *FinancialYear, now time.Time) error {
	allocs, err := repo.ListAllocations(ctx, AllocationFilter{FinancialYearID: y.ID})
	if err != nil {
		return err
	}
	incomes, err := repo.ListIncome(ctx, y.ID)
	if err != nil {
		return err
	}
	allocated, spent, income := decimal.Zero, decimal.Zero, decimal.Zero
	for _, a := range allocs {
		allocated = allocated.Add(a.AllocatedAmount)
		spent = spent.Add(a.SpentAmount)
	}
	for _, in := range incomes {
		income = income.Add(in.Amount)
	}
	y.TotalAllocated = allocated
	y.TotalSpent = spent
	y.TotalIncomeReceived = income
	y.UtilizationPercentage = UtilizationPrecise(allocated, spent)
	y.RecalculatedAt = &now
	return nil
}

func yearStateError(y *FinancialYear, op string, err error) error {
	return &YearStateError{YearID: y.ID, Label: y.Label, Status: y.Status, Operation: op, Err: err}
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) GetFinancialYear(ctx context.Context, id YearID) (*FinancialYear, error) {
	return mustYear(ctx, s.Repo, id)
}

func (s *Service) ListFinancialYears(ctx context.Context) ([]FinancialYear, error) {
	return s.Repo.ListFinancialYears(ctx)
}

// CurrentFinancialYear returns the year whose label covers now.
func (s *Service) CurrentFinancialYear(ctx context.Context, now time.Time) (*FinancialYear, error) {
	label := s.Policy.Periods.Label(generic.DateOf(now))
	y, err := s.Repo.GetFinancialYearByLabel(ctx, label)
	if err != nil {
		return nil, err
	}
	if y == nil {
		return nil, notFound("financial year", label)
	}
	return y, nil
}
