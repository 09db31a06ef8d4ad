// Package budget implements college budget governance on top of the generic
// ledger: departments and budget heads, financial years with an irreversible
// planning → active → locked → closed lifecycle, allocations, and
// expenditures that move through a role-gated approval chain.
package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type DepartmentID string
type BudgetHeadID string
type YearID string
type AllocationID string
type ExpenditureID string
type IncomeID string

// =============================================================================
// ACTORS
// =============================================================================

// Role is supplied by the authentication collaborator. The engine never
// reads session state; every operation receives the acting Actor.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleOffice        Role = "office"
	RoleHOD           Role = "hod"
	RoleVicePrincipal Role = "vice_principal"
	RolePrincipal     Role = "principal"
	RoleDepartment    Role = "department"
	RoleSystem        Role = "system"
)

type Actor struct {
	ID           string
	Role         Role
	DepartmentID DepartmentID // set for department users and HODs
}

// SystemActor is used by background jobs.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// =============================================================================
// MASTER DATA
// =============================================================================

type Department struct {
	ID        DepartmentID
	Name      string
	Code      string
	HODID     string // user id of the head of department, optional
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type BudgetHead struct {
	ID          BudgetHeadID
	Name        string
	Code        string
	Description string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// =============================================================================
// FINANCIAL YEAR
// =============================================================================

type YearStatus string

const (
	YearPlanning YearStatus = "planning"
	YearActive   YearStatus = "active"
	YearLocked   YearStatus = "locked"
	YearClosed   YearStatus = "closed"
)

// Index orders the lifecycle. Transitions never decrease it.
func (s YearStatus) Index() int {
	switch s {
	case YearPlanning:
		return 0
	case YearActive:
		return 1
	case YearLocked:
		return 2
	case YearClosed:
		return 3
	default:
		return -1
	}
}

func (s YearStatus) Valid() bool { return s.Index() >= 0 }

type FinancialYear struct {
	ID        YearID
	Label     string // "2025-26"
	StartDate time.Time
	EndDate   time.Time
	Status    YearStatus

	// Cached totals, overwritten by recalculation and frozen on close.
	TotalIncomeReceived   decimal.Decimal
	TotalAllocated        decimal.Decimal
	TotalSpent            decimal.Decimal
	UtilizationPercentage decimal.Decimal
	CarryforwardAmount    *decimal.Decimal // set only on closure
	RecalculatedAt        *time.Time

	ActivatedBy string
	ActivatedAt *time.Time
	LockedBy    string
	LockedAt    *time.Time
	ClosedBy    string
	ClosedAt    *time.Time
	Remarks     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// ALLOCATION
// =============================================================================

// Allocation grants a department an amount under a budget head for one year.
// It owns SpentAmount; only approved expenditures increase it.
type Allocation struct {
	ID              AllocationID
	DepartmentID    DepartmentID
	BudgetHeadID    BudgetHeadID
	FinancialYearID YearID
	AllocatedAmount decimal.Decimal
	SpentAmount     decimal.Decimal
	RemainingAmount decimal.Decimal
	Remarks         string
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a *Allocation) recompute() {
	a.RemainingAmount = a.AllocatedAmount.Sub(a.SpentAmount)
}

// Utilization is the dashboard (integer) utilization of the allocation.
func (a Allocation) Utilization() int {
	return UtilizationPercentage(a.AllocatedAmount, a.SpentAmount)
}

// =============================================================================
// EXPENDITURE
// =============================================================================

type ExpenditureStatus string

const (
	StatusPending  ExpenditureStatus = "pending"
	StatusVerified ExpenditureStatus = "verified"
	StatusApproved ExpenditureStatus = "approved"
	StatusRejected ExpenditureStatus = "rejected"
)

type Decision string

const (
	DecisionVerify  Decision = "verify"
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == DecisionVerify || d == DecisionApprove || d == DecisionReject
}

// ApprovalStep is one immutable entry in an expenditure's history.
type ApprovalStep struct {
	Role      Role
	Decision  Decision
	ActorID   string
	Timestamp time.Time
	Remarks   string
}

type Expenditure struct {
	ID              ExpenditureID
	BillNumber      string
	BillDate        time.Time
	BillAmount      decimal.Decimal
	PartyName       string
	DepartmentID    DepartmentID
	BudgetHeadID    BudgetHeadID
	AllocationID    AllocationID
	FinancialYearID YearID
	ExpenseDetails  string
	Attachments     []string // opaque file references
	SubmittedBy     string
	SubmittedAt     time.Time
	Status          ExpenditureStatus
	ApprovalSteps   []ApprovalStep // append-only
	ResubmittedFrom *ExpenditureID
	UpdatedAt       time.Time
}

// =============================================================================
// INCOME
// =============================================================================

// Income is money received by the college during a financial year.
type Income struct {
	ID              IncomeID
	FinancialYearID YearID
	Source          string
	Amount          decimal.Decimal
	ReceivedAt      time.Time
	RecordedBy      string
	Remarks         string
	CreatedAt       time.Time
}
