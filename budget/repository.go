/*
repository.go - Persistence contract of the budget engine

PURPOSE:
  Repository stores the mutable entities (departments, heads, years,
  allocations, expenditures, income) and embeds generic.Store for the
  append-only spend ledger. TxRepository adds WithTx: every mutating
  service operation runs inside one transaction, so a step append, its
  status change and the spend increment commit or roll back together.

LOOKUPS:
  Get* methods return (nil, nil) when the record does not exist. The
  service turns that into ErrNotFound with the id attached.

ISOLATION:
  Implementations serialize transactions (single writer). Reads outside a
  transaction never observe uncommitted writes.

IMPLEMENTATIONS:
  - store/memory: maps + snapshot rollback
  - store/sqlite: SQLite with embedded migrations
*/
package budget

import (
	"context"
	"slices"

	"github.com/warp/budget-engine/generic"
)

type Repository interface {
	generic.Store

	SaveDepartment(ctx context.Context, d Department) error
	GetDepartment(ctx context.Context, id DepartmentID) (*Department, error)
	GetDepartmentByCode(ctx context.Context, code string) (*Department, error)
	ListDepartments(ctx context.Context, includeInactive bool) ([]Department, error)
	DeleteDepartment(ctx context.Context, id DepartmentID) error

	SaveBudgetHead(ctx context.Context, h BudgetHead) error
	GetBudgetHead(ctx context.Context, id BudgetHeadID) (*BudgetHead, error)
	GetBudgetHeadByCode(ctx context.Context, code string) (*BudgetHead, error)
	ListBudgetHeads(ctx context.Context, includeInactive bool) ([]BudgetHead, error)
	DeleteBudgetHead(ctx context.Context, id BudgetHeadID) error

	SaveFinancialYear(ctx context.Context, y FinancialYear) error
	GetFinancialYear(ctx context.Context, id YearID) (*FinancialYear, error)
	GetFinancialYearByLabel(ctx context.Context, label string) (*FinancialYear, error)
	ListFinancialYears(ctx context.Context) ([]FinancialYear, error)

	SaveAllocation(ctx context.Context, a Allocation) error
	GetAllocation(ctx context.Context, id AllocationID) (*Allocation, error)
	ListAllocations(ctx context.Context, filter AllocationFilter) ([]Allocation, error)

	SaveExpenditure(ctx context.Context, e Expenditure) error
	GetExpenditure(ctx context.Context, id ExpenditureID) (*Expenditure, error)
	ListExpenditures(ctx context.Context, filter ExpenditureFilter) ([]Expenditure, error)

	SaveIncome(ctx context.Context, in Income) error
	ListIncome(ctx context.Context, yearID YearID) ([]Income, error)
}

type TxRepository interface {
	Repository

	// WithTx runs fn in a serializable transaction. fn must use the
	// Repository it is given, never the outer one.
	WithTx(ctx context.Context, fn func(Repository) error) error
}

// =============================================================================
// FILTERS - Zero-valued fields match everything
// =============================================================================

type AllocationFilter struct {
	FinancialYearID YearID
	DepartmentID    DepartmentID
	BudgetHeadID    BudgetHeadID
}

func (f AllocationFilter) Matches(a Allocation) bool {
	return (f.FinancialYearID == "" || a.FinancialYearID == f.FinancialYearID) &&
		(f.DepartmentID == "" || a.DepartmentID == f.DepartmentID) &&
		(f.BudgetHeadID == "" || a.BudgetHeadID == f.BudgetHeadID)
}

type ExpenditureFilter struct {
	FinancialYearID YearID
	DepartmentID    DepartmentID
	BudgetHeadID    BudgetHeadID
	AllocationID    AllocationID
	BillNumber      string
	ResubmittedFrom ExpenditureID
	Statuses        []ExpenditureStatus
}

func (f ExpenditureFilter) Matches(e Expenditure) bool {
	if f.ResubmittedFrom != "" && (e.ResubmittedFrom == nil || *e.ResubmittedFrom != f.ResubmittedFrom) {
		return false
	}
	return (f.FinancialYearID == "" || e.FinancialYearID == f.FinancialYearID) &&
		(f.DepartmentID == "" || e.DepartmentID == f.DepartmentID) &&
		(f.BudgetHeadID == "" || e.BudgetHeadID == f.BudgetHeadID) &&
		(f.AllocationID == "" || e.AllocationID == f.AllocationID) &&
		(f.BillNumber == "" || e.BillNumber == f.BillNumber) &&
		(len(f.Statuses) == 0 || slices.Contains(f.Statuses, e.Status))
}
