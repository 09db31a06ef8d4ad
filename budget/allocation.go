package budget

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/generic"
)

// =============================================================================
// ALLOCATIONS
// =============================================================================

type CreateAllocationInput struct {
	DepartmentID    DepartmentID
	BudgetHeadID    BudgetHeadID
	FinancialYearID YearID
	Amount          decimal.Decimal
	Remarks         string
}

// UpdateAllocationInput changes the granted amount and/or remarks.
type UpdateAllocationInput struct {
	Amount  *decimal.Decimal
	Remarks *string
}

func grantKey(id AllocationID) string { return "allocation:" + string(id) + ":grant" }

// CreateAllocation grants amount to a department under a head. Fails with
// ErrYearLocked or ErrYearClosed once the year has been locked.
func (s *Service) CreateAllocation(ctx context.Context, actor Actor, in CreateAllocationInput) (*Allocation, error) {
	if err := authorize(actor, s.Policy.MasterDataRoles, "create allocations"); err != nil {
		return nil, err
	}
	if in.DepartmentID == "" || in.BudgetHeadID == "" || in.FinancialYearID == "" {
		return nil, invalid("allocation", "department_id, budget_head_id and financial_year_id are required")
	}
	if in.Amount.IsNegative() {
		return nil, &ValidationError{Field: "allocated_amount", Reason: "must not be negative", Err: ErrInvalidAmount}
	}

	var created Allocation
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		year, err := mustYear(ctx, repo, in.FinancialYearID)
		if err != nil {
			return err
		}
		switch year.Status {
		case YearLocked:
			return yearStateError(year, "create allocation", ErrYearLocked)
		case YearClosed:
			return yearStateError(year, "create allocation", ErrYearClosed)
		}
		dept, err := mustDepartment(ctx, repo, in.DepartmentID)
		if err != nil {
			return err
		}
		if !dept.Active {
			return &ValidationError{Field: "department_id", Reason: "department " + dept.Code + " is inactive", Err: ErrInactive}
		}
		head, err := mustBudgetHead(ctx, repo, in.BudgetHeadID)
		if err != nil {
			return err
		}
		if !head.Active {
			return &ValidationError{Field: "budget_head_id", Reason: "budget head " + head.Code + " is inactive", Err: ErrInactive}
		}
		existing, err := repo.ListAllocations(ctx, AllocationFilter{
			FinancialYearID: in.FinancialYearID, DepartmentID: in.DepartmentID, BudgetHeadID: in.BudgetHeadID,
		})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return &ValidationError{Field: "allocation", Reason: "allocation " + string(existing[0].ID) + " already covers this head", Err: ErrDuplicateAllocation}
		}

		now := s.now()
		created = Allocation{
			ID:              AllocationID(s.id()),
			DepartmentID:    in.DepartmentID,
			BudgetHeadID:    in.BudgetHeadID,
			FinancialYearID: in.FinancialYearID,
			AllocatedAmount: in.Amount,
			SpentAmount:     decimal.Zero,
			Remarks:         in.Remarks,
			CreatedBy:       actor.ID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		created.recompute()
		if err := repo.SaveAllocation(ctx, created); err != nil {
			return err
		}
		return generic.NewLedger(repo).Append(ctx, s.allocationEntry(created, generic.TxGrant, in.Amount, grantKey(created.ID), "allocation granted", actor, now))
	})
	if err != nil {
		s.log("allocation").Warn("allocation rejected",
			"department_id", in.DepartmentID, "budget_head_id", in.BudgetHeadID, "year_id", in.FinancialYearID, "error", err)
		return nil, err
	}

	s.log("allocation").Info("allocation created",
		"allocation_id", created.ID, "department_id", created.DepartmentID,
		"amount", created.AllocatedAmount.StringFixed(2), "actor", actor.ID)
	s.publish(ctx, s.event(EventAllocationCreated, string(created.ID), actor, map[string]any{
		"department_id":     created.DepartmentID,
		"budget_head_id":    created.BudgetHeadID,
		"financial_year_id": created.FinancialYearID,
		"allocated_amount":  created.AllocatedAmount.StringFixed(2),
	}))
	return &created, nil
}

// UpdateAllocation changes the granted amount or remarks. Amounts are frozen
// once the year is locked; nothing changes after close.
func (s *Service) UpdateAllocation(ctx context.Context, actor Actor, id AllocationID, in UpdateAllocationInput) (*Allocation, error) {
	if err := authorize(actor, s.Policy.MasterDataRoles, "update allocations"); err != nil {
		return nil, err
	}
	if in.Amount != nil && in.Amount.IsNegative() {
		return nil, &ValidationError{Field: "allocated_amount", Reason: "must not be negative", Err: ErrInvalidAmount}
	}

	var updated Allocation
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		alloc, err := mustAllocation(ctx, repo, id)
		if err != nil {
			return err
		}
		year, err := mustYear(ctx, repo, alloc.FinancialYearID)
		if err != nil {
			return err
		}
		if year.Status == YearClosed {
			return yearStateError(year, "update allocation", ErrYearClosed)
		}

		now := s.now()
		if in.Amount != nil && !in.Amount.Equal(alloc.AllocatedAmount) {
			if year.Status == YearLocked {
				return yearStateError(year, "change allocated amount", ErrYearLocked)
			}
			if !s.Policy.AllowOverspend && in.Amount.LessThan(alloc.SpentAmount) {
				return &OverspendError{AllocationID: alloc.ID, Remaining: in.Amount.Sub(alloc.SpentAmount), Requested: alloc.SpentAmount}
			}
			delta := in.Amount.Sub(alloc.AllocatedAmount)
			key := "allocation:" + string(alloc.ID) + ":adjust:" + s.id()
			entry := s.allocationEntry(*alloc, generic.TxAdjustment, delta, key, "allocation adjusted", actor, now)
			if err := generic.NewLedger(repo).Append(ctx, entry); err != nil {
				return err
			}
			alloc.AllocatedAmount = *in.Amount
			alloc.recompute()
		}
		if in.Remarks != nil {
			alloc.Remarks = *in.Remarks
		}
		alloc.UpdatedAt = now
		updated = *alloc
		return repo.SaveAllocation(ctx, *alloc)
	})
	if err != nil {
		s.log("allocation").Warn("allocation update rejected", "allocation_id", id, "error", err)
		return nil, err
	}
	s.log("allocation").Info("allocation updated",
		"allocation_id", updated.ID, "amount", updated.AllocatedAmount.StringFixed(2), "actor", actor.ID)
	return &updated, nil
}

func (s *Service) allocationEntry(a Allocation, t generic.TransactionType, delta decimal.Decimal, key, reason string, actor Actor, now time.Time) generic.Transaction {
	return generic.Transaction{
		ID:             generic.TransactionID(s.id()),
		AccountID:      generic.AccountID(a.ID),
		EffectiveAt:    generic.At(now),
		Delta:          generic.NewAmountFromDecimal(delta, s.Policy.Currency),
		Type:           t,
		ReferenceID:    string(a.ID),
		Reason:         reason,
		IdempotencyKey: key,
		Metadata: map[string]string{
			"department_id":  string(a.DepartmentID),
			"budget_head_id": string(a.BudgetHeadID),
		},
		CreatedBy: actor.ID,
		CreatedAt: generic.At(now),
	}
}

func (s *Service) GetAllocation(ctx context.Context, id AllocationID) (*Allocation, error) {
	return mustAllocation(ctx, s.Repo, id)
}

func (s *Service) ListAllocations(ctx context.Context, filter AllocationFilter) ([]Allocation, error) {
	return s.Repo.ListAllocations(ctx, filter)
}

// AllocationLedger returns the ledger history of an allocation and its
// replayed summary.
func (s *Service) AllocationLedger(ctx context.Context, id AllocationID) ([]generic.Transaction, generic.AccountSummary, error) {
	if _, err := mustAllocation(ctx, s.Repo, id); err != nil {
		return nil, generic.AccountSummary{}, err
	}
	ledger := generic.NewLedger(s.Repo)
	txs, err := ledger.Transactions(ctx, generic.AccountID(id))
	if err != nil {
		return nil, generic.AccountSummary{}, err
	}
	summary, err := generic.Summarize(generic.AccountID(id), txs, s.Policy.Currency)
	if err != nil {
		return nil, generic.AccountSummary{}, err
	}
	return txs, summary, nil
}

// =============================================================================
// INCOME
// =============================================================================

type RecordIncomeInput struct {
	FinancialYearID YearID
	Source          string
	Amount          decimal.Decimal
	ReceivedAt      time.Time
	Remarks         string
}

func (s *Service) RecordIncome(ctx context.Context, actor Actor, in RecordIncomeInput) (*Income, error) {
	if err := authorize(actor, s.Policy.MasterDataRoles, "record income"); err != nil {
		return nil, err
	}
	in.Source = strings.TrimSpace(in.Source)
	if in.Source == "" {
		return nil, invalid("source", "required")
	}
	if !in.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be greater than zero", Err: ErrInvalidAmount}
	}

	var created Income
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		year, err := mustYear(ctx, repo, in.FinancialYearID)
		if err != nil {
			return err
		}
		if year.Status == YearClosed {
			return yearStateError(year, "record income", ErrYearClosed)
		}
		now := s.now()
		if in.ReceivedAt.IsZero() {
			in.ReceivedAt = now
		}
		created = Income{
			ID:              IncomeID(s.id()),
			FinancialYearID: year.ID,
			Source:          in.Source,
			Amount:          in.Amount,
			ReceivedAt:      in.ReceivedAt,
			RecordedBy:      actor.ID,
			Remarks:         in.Remarks,
			CreatedAt:       now,
		}
		return repo.SaveIncome(ctx, created)
	})
	if err != nil {
		return nil, err
	}
	s.log("allocation").Info("income recorded",
		"income_id", created.ID, "year_id", created.FinancialYearID, "amount", created.Amount.StringFixed(2))
	return &created, nil
}

func (s *Service) ListIncome(ctx context.Context, yearID YearID) ([]Income, error) {
	if _, err := mustYear(ctx, s.Repo, yearID); err != nil {
		return nil, err
	}
	return s.Repo.ListIncome(ctx, yearID)
}
