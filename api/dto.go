/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the budget domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FORMATS:
  Money:      decimal strings with two places ("30000.00"). Requests accept
              either a JSON number or a string.
  Dates:      "2006-01-02" (bill dates, year boundaries)
  Timestamps: RFC 3339

VALIDATION:
  Validation is done by the budget service, not in DTOs. Handlers only
  parse dates and reject malformed JSON.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/generic"
)

const dateLayout = "2006-01-02"

// =============================================================================
// MASTER DATA
// =============================================================================

type DepartmentDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	HODID     string `json:"hod_id,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type CreateDepartmentRequest struct {
	Name  string `json:"name"`
	Code  string `json:"code"`
	HODID string `json:"hod_id,omitempty"`
}

type UpdateDepartmentRequest struct {
	Name  *string `json:"name,omitempty"`
	Code  *string `json:"code,omitempty"`
	HODID *string `json:"hod_id,omitempty"`
}

type BudgetHeadDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type CreateBudgetHeadRequest struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

type UpdateBudgetHeadRequest struct {
	Name        *string `json:"name,omitempty"`
	Code        *string `json:"code,omitempty"`
	Description *string `json:"description,omitempty"`
}

// =============================================================================
// FINANCIAL YEARS
// =============================================================================

type FinancialYearDTO struct {
	ID                    string  `json:"id"`
	Label                 string  `json:"label"`
	StartDate             string  `json:"start_date"`
	EndDate               string  `json:"end_date"`
	Status                string  `json:"status"`
	TotalIncomeReceived   string  `json:"total_income_received"`
	TotalAllocated        string  `json:"total_allocated"`
	TotalSpent            string  `json:"total_spent"`
	UtilizationPercentage string  `json:"utilization_percentage"`
	CarryforwardAmount    *string `json:"carryforward_amount,omitempty"`
	RecalculatedAt        *string `json:"recalculated_at,omitempty"`
	ActivatedBy           string  `json:"activated_by,omitempty"`
	ActivatedAt           *string `json:"activated_at,omitempty"`
	LockedBy              string  `json:"locked_by,omitempty"`
	LockedAt              *string `json:"locked_at,omitempty"`
	ClosedBy              string  `json:"closed_by,omitempty"`
	ClosedAt              *string `json:"closed_at,omitempty"`
	Remarks               string  `json:"remarks,omitempty"`
	CreatedAt             string  `json:"created_at"`
	UpdatedAt             string  `json:"updated_at"`
}

type CreateFinancialYearRequest struct {
	Label     string `json:"label"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Status    string `json:"status,omitempty"`
	Remarks   string `json:"remarks,omitempty"`
}

// TransitionRequest is the optional body of activate/lock/close.
type TransitionRequest struct {
	Remarks string `json:"remarks,omitempty"`
}

type IncomeDTO struct {
	ID              string `json:"id"`
	FinancialYearID string `json:"financial_year_id"`
	Source          string `json:"source"`
	Amount          string `json:"amount"`
	ReceivedAt      string `json:"received_at"`
	RecordedBy      string `json:"recorded_by,omitempty"`
	Remarks         string `json:"remarks,omitempty"`
}

type RecordIncomeRequest struct {
	Source     string          `json:"source"`
	Amount     decimal.Decimal `json:"amount"`
	ReceivedAt string          `json:"received_at,omitempty"`
	Remarks    string          `json:"remarks,omitempty"`
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

type AllocationDTO struct {
	ID              string `json:"id"`
	DepartmentID    string `json:"department_id"`
	BudgetHeadID    string `json:"budget_head_id"`
	FinancialYearID string `json:"financial_year_id"`
	AllocatedAmount string `json:"allocated_amount"`
	SpentAmount     string `json:"spent_amount"`
	RemainingAmount string `json:"remaining_amount"`
	Utilization     int    `json:"utilization"`
	Remarks         string `json:"remarks,omitempty"`
	CreatedBy       string `json:"created_by,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type CreateAllocationRequest struct {
	DepartmentID    string          `json:"department_id"`
	BudgetHeadID    string          `json:"budget_head_id"`
	FinancialYearID string          `json:"financial_year_id"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount"`
	Remarks         string          `json:"remarks,omitempty"`
}

type UpdateAllocationRequest struct {
	AllocatedAmount *decimal.Decimal `json:"allocated_amount,omitempty"`
	Remarks         *string          `json:"remarks,omitempty"`
}

// TransactionDTO represents a ledger entry of an allocation.
type TransactionDTO struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Delta       string `json:"delta"`
	Currency    string `json:"currency"`
	EffectiveAt string `json:"effective_at"`
	ReferenceID string `json:"reference_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	Balance     string `json:"balance"` // running balance after this entry
}

type AllocationLedgerDTO struct {
	AllocationID string           `json:"allocation_id"`
	Granted      string           `json:"granted"`
	Spent        string           `json:"spent"`
	Balance      string           `json:"balance"`
	Transactions []TransactionDTO `json:"transactions"`
}

// =============================================================================
// EXPENDITURES
// =============================================================================

type ApprovalStepDTO struct {
	Role      string `json:"role"`
	Decision  string `json:"decision"`
	ActorID   string `json:"actor_id"`
	Timestamp string `json:"timestamp"`
	Remarks   string `json:"remarks,omitempty"`
}

type ExpenditureDTO struct {
	ID              string            `json:"id"`
	BillNumber      string            `json:"bill_number"`
	BillDate        string            `json:"bill_date"`
	BillAmount      string            `json:"bill_amount"`
	PartyName       string            `json:"party_name"`
	DepartmentID    string            `json:"department_id"`
	BudgetHeadID    string            `json:"budget_head_id"`
	AllocationID    string            `json:"allocation_id"`
	FinancialYearID string            `json:"financial_year_id"`
	ExpenseDetails  string            `json:"expense_details,omitempty"`
	Attachments     []string          `json:"attachments"`
	SubmittedBy     string            `json:"submitted_by,omitempty"`
	SubmittedAt     string            `json:"submitted_at"`
	Status          string            `json:"status"`
	ApprovalSteps   []ApprovalStepDTO `json:"approval_steps"`
	ResubmittedFrom *string           `json:"resubmitted_from,omitempty"`
	UpdatedAt       string            `json:"updated_at"`
}

type SubmitExpenditureRequest struct {
	AllocationID   string          `json:"allocation_id"`
	DepartmentID   string          `json:"department_id,omitempty"`
	BillNumber     string          `json:"bill_number"`
	BillDate       string          `json:"bill_date"`
	BillAmount     decimal.Decimal `json:"bill_amount"`
	PartyName      string          `json:"party_name"`
	ExpenseDetails string          `json:"expense_details,omitempty"`
	Attachments    []string        `json:"attachments,omitempty"`
}

type DecisionRequest struct {
	Decision string `json:"decision"`
	Remarks  string `json:"remarks,omitempty"`
}

// ResubmitRequest overrides fields of the rejected expenditure.
type ResubmitRequest struct {
	BillNumber     *string          `json:"bill_number,omitempty"`
	BillDate       *string          `json:"bill_date,omitempty"`
	BillAmount     *decimal.Decimal `json:"bill_amount,omitempty"`
	PartyName      *string          `json:"party_name,omitempty"`
	ExpenseDetails *string          `json:"expense_details,omitempty"`
	Attachments    []string         `json:"attachments,omitempty"`
}

// =============================================================================
// REPORTS
// =============================================================================

type RollupDTO struct {
	Key                string `json:"key"`
	Name               string `json:"name,omitempty"`
	Allocated          string `json:"allocated"`
	Spent              string `json:"spent"`
	Remaining          string `json:"remaining"`
	AllocationCount    int    `json:"allocation_count"`
	ExpenditureCount   int    `json:"expenditure_count"`
	Utilization        int    `json:"utilization"`
	UtilizationPrecise string `json:"utilization_precise"`
}

type AllocationStatsDTO struct {
	FinancialYearID string      `json:"financial_year_id,omitempty"`
	DepartmentID    string      `json:"department_id,omitempty"`
	BudgetHeadID    string      `json:"budget_head_id,omitempty"`
	Totals          RollupDTO   `json:"totals"`
	ByDepartment    []RollupDTO `json:"by_department"`
	ByBudgetHead    []RollupDTO `json:"by_budget_head"`
}

type DashboardDTO struct {
	Year               *FinancialYearDTO `json:"year,omitempty"`
	Totals             RollupDTO         `json:"totals"`
	TotalIncome        string            `json:"total_income"`
	StatusCounts       map[string]int    `json:"status_counts"`
	StatusAmounts      map[string]string `json:"status_amounts"`
	AwaitingDecision   int               `json:"awaiting_decision"`
	ByDepartment       []RollupDTO       `json:"by_department"`
	ByBudgetHead       []RollupDTO       `json:"by_budget_head"`
	RecentExpenditures []ExpenditureDTO  `json:"recent_expenditures"`
}

type YearTotalsDTO struct {
	FinancialYearID string `json:"financial_year_id"`
	Label           string `json:"label"`
	Allocated       string `json:"allocated"`
	Spent           string `json:"spent"`
	Income          string `json:"income"`
}

type ChangeDTO struct {
	Metric           string `json:"metric"`
	Current          string `json:"current"`
	Previous         string `json:"previous"`
	Change           string `json:"change"`
	ChangePercentage string `json:"change_percentage"`
	NoData           bool   `json:"no_data,omitempty"`
}

type DepartmentComparisonDTO struct {
	DepartmentID string    `json:"department_id"`
	Name         string    `json:"name"`
	Allocated    ChangeDTO `json:"allocated"`
	Spent        ChangeDTO `json:"spent"`
	Utilization  ChangeDTO `json:"utilization"`
}

type YearComparisonDTO struct {
	Current     YearTotalsDTO             `json:"current"`
	Previous    *YearTotalsDTO            `json:"previous,omitempty"`
	Changes     []ChangeDTO               `json:"changes"`
	Departments []DepartmentComparisonDTO `json:"departments"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ScenarioUserDTO is a demo login created by a scenario.
type ScenarioUserDTO struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	DepartmentID string `json:"department_id,omitempty"`
	Token        string `json:"token,omitempty"`
}

type ScenarioResultDTO struct {
	ScenarioID string            `json:"scenario_id"`
	Users      []ScenarioUserDTO `json:"users"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toDepartmentDTO(d budget.Department) DepartmentDTO {
	return DepartmentDTO{
		ID:        string(d.ID),
		Name:      d.Name,
		Code:      d.Code,
		HODID:     d.HODID,
		Active:    d.Active,
		CreatedAt: formatTime(d.CreatedAt),
		UpdatedAt: formatTime(d.UpdatedAt),
	}
}

func toBudgetHeadDTO(h budget.BudgetHead) BudgetHeadDTO {
	return BudgetHeadDTO{
		ID:          string(h.ID),
		Name:        h.Name,
		Code:        h.Code,
		Description: h.Description,
		Active:      h.Active,
		CreatedAt:   formatTime(h.CreatedAt),
		UpdatedAt:   formatTime(h.UpdatedAt),
	}
}

func toFinancialYearDTO(y budget.FinancialYear) FinancialYearDTO {
	dto := FinancialYearDTO{
		ID:                    string(y.ID),
		Label:                 y.Label,
		StartDate:             y.StartDate.Format(dateLayout),
		EndDate:               y.EndDate.Format(dateLayout),
		Status:                string(y.Status),
		TotalIncomeReceived:   money(y.TotalIncomeReceived),
		TotalAllocated:        money(y.TotalAllocated),
		TotalSpent:            money(y.TotalSpent),
		UtilizationPercentage: y.UtilizationPercentage.StringFixed(2),
		RecalculatedAt:        formatTimePtr(y.RecalculatedAt),
		ActivatedBy:           y.ActivatedBy,
		ActivatedAt:           formatTimePtr(y.ActivatedAt),
		LockedBy:              y.LockedBy,
		LockedAt:              formatTimePtr(y.LockedAt),
		ClosedBy:              y.ClosedBy,
		ClosedAt:              formatTimePtr(y.ClosedAt),
		Remarks:               y.Remarks,
		CreatedAt:             formatTime(y.CreatedAt),
		UpdatedAt:             formatTime(y.UpdatedAt),
	}
	if y.CarryforwardAmount != nil {
		s := money(*y.CarryforwardAmount)
		dto.CarryforwardAmount = &s
	}
	return dto
}

func toIncomeDTO(in budget.Income) IncomeDTO {
	return IncomeDTO{
		ID:              string(in.ID),
		FinancialYearID: string(in.FinancialYearID),
		Source:          in.Source,
		Amount:          money(in.Amount),
		ReceivedAt:      in.ReceivedAt.Format(dateLayout),
		RecordedBy:      in.RecordedBy,
		Remarks:         in.Remarks,
	}
}

func toAllocationDTO(a budget.Allocation) AllocationDTO {
	return AllocationDTO{
		ID:              string(a.ID),
		DepartmentID:    string(a.DepartmentID),
		BudgetHeadID:    string(a.BudgetHeadID),
		FinancialYearID: string(a.FinancialYearID),
		AllocatedAmount: money(a.AllocatedAmount),
		SpentAmount:     money(a.SpentAmount),
		RemainingAmount: money(a.RemainingAmount),
		Utilization:     a.Utilization(),
		Remarks:         a.Remarks,
		CreatedBy:       a.CreatedBy,
		CreatedAt:       formatTime(a.CreatedAt),
		UpdatedAt:       formatTime(a.UpdatedAt),
	}
}

// toTransactionDTOs renders ledger entries with the running balance.
func toTransactionDTOs(txs []generic.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	balance := decimal.Zero
	for i, tx := range txs {
		balance = balance.Add(tx.Delta.Value)
		dtos[i] = TransactionDTO{
			ID:          string(tx.ID),
			Type:        string(tx.Type),
			Delta:       money(tx.Delta.Value),
			Currency:    string(tx.Delta.Currency),
			EffectiveAt: formatTime(tx.EffectiveAt.Time),
			ReferenceID: tx.ReferenceID,
			Reason:      tx.Reason,
			CreatedBy:   tx.CreatedBy,
			Balance:     money(balance),
		}
	}
	return dtos
}

func toExpenditureDTO(e budget.Expenditure) ExpenditureDTO {
	dto := ExpenditureDTO{
		ID:              string(e.ID),
		BillNumber:      e.BillNumber,
		BillDate:        e.BillDate.Format(dateLayout),
		BillAmount:      money(e.BillAmount),
		PartyName:       e.PartyName,
		DepartmentID:    string(e.DepartmentID),
		BudgetHeadID:    string(e.BudgetHeadID),
		AllocationID:    string(e.AllocationID),
		FinancialYearID: string(e.FinancialYearID),
		ExpenseDetails:  e.ExpenseDetails,
		Attachments:     e.Attachments,
		SubmittedBy:     e.SubmittedBy,
		SubmittedAt:     formatTime(e.SubmittedAt),
		Status:          string(e.Status),
		ApprovalSteps:   make([]ApprovalStepDTO, len(e.ApprovalSteps)),
		UpdatedAt:       formatTime(e.UpdatedAt),
	}
	if dto.Attachments == nil {
		dto.Attachments = []string{}
	}
	for i, s := range e.ApprovalSteps {
		dto.ApprovalSteps[i] = ApprovalStepDTO{
			Role:      string(s.Role),
			Decision:  string(s.Decision),
			ActorID:   s.ActorID,
			Timestamp: formatTime(s.Timestamp),
			Remarks:   s.Remarks,
		}
	}
	if e.ResubmittedFrom != nil {
		from := string(*e.ResubmittedFrom)
		dto.ResubmittedFrom = &from
	}
	return dto
}

func toExpenditureDTOs(exps []budget.Expenditure) []ExpenditureDTO {
	dtos := make([]ExpenditureDTO, len(exps))
	for i, e := range exps {
		dtos[i] = toExpenditureDTO(e)
	}
	return dtos
}

func toRollupDTO(r budget.Rollup) RollupDTO {
	return RollupDTO{
		Key:                r.Key,
		Name:               r.Name,
		Allocated:          money(r.Allocated),
		Spent:              money(r.Spent),
		Remaining:          money(r.Remaining),
		AllocationCount:    r.AllocationCount,
		ExpenditureCount:   r.ExpenditureCount,
		Utilization:        r.Utilization,
		UtilizationPrecise: r.UtilizationPrecise.StringFixed(2),
	}
}

func toRollupDTOs(rs []budget.Rollup) []RollupDTO {
	dtos := make([]RollupDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toRollupDTO(r)
	}
	return dtos
}

func toAllocationStatsDTO(s *budget.AllocationStats) AllocationStatsDTO {
	return AllocationStatsDTO{
		FinancialYearID: string(s.Filter.FinancialYearID),
		DepartmentID:    string(s.Filter.DepartmentID),
		BudgetHeadID:    string(s.Filter.BudgetHeadID),
		Totals:          toRollupDTO(s.Totals),
		ByDepartment:    toRollupDTOs(s.ByDepartment),
		ByBudgetHead:    toRollupDTOs(s.ByBudgetHead),
	}
}

func toDashboardDTO(d *budget.Dashboard) DashboardDTO {
	dto := DashboardDTO{
		Totals:             toRollupDTO(d.Totals),
		TotalIncome:        money(d.TotalIncome),
		StatusCounts:       make(map[string]int, len(d.StatusCounts)),
		StatusAmounts:      make(map[string]string, len(d.StatusAmounts)),
		AwaitingDecision:   d.AwaitingDecision,
		ByDepartment:       toRollupDTOs(d.ByDepartment),
		ByBudgetHead:       toRollupDTOs(d.ByBudgetHead),
		RecentExpenditures: toExpenditureDTOs(d.RecentExpenditures),
	}
	if d.Year != nil {
		y := toFinancialYearDTO(*d.Year)
		dto.Year = &y
	}
	for st, n := range d.StatusCounts {
		dto.StatusCounts[string(st)] = n
	}
	for st, amt := range d.StatusAmounts {
		dto.StatusAmounts[string(st)] = money(amt)
	}
	return dto
}

func toYearTotalsDTO(t budget.YearTotals) YearTotalsDTO {
	return YearTotalsDTO{
		FinancialYearID: string(t.YearID),
		Label:           t.Label,
		Allocated:       money(t.Allocated),
		Spent:           money(t.Spent),
		Income:          money(t.Income),
	}
}

func toChangeDTO(c budget.Change) ChangeDTO {
	return ChangeDTO{
		Metric:           string(c.Metric),
		Current:          c.Current.StringFixed(2),
		Previous:         c.Previous.StringFixed(2),
		Change:           c.Change.StringFixed(2),
		ChangePercentage: c.ChangePercentage.StringFixed(2),
		NoData:           c.NoData,
	}
}

func toYearComparisonDTO(c *budget.YearComparison) YearComparisonDTO {
	dto := YearComparisonDTO{
		Current:     toYearTotalsDTO(c.Current),
		Changes:     make([]ChangeDTO, len(c.Changes)),
		Departments: make([]DepartmentComparisonDTO, len(c.Departments)),
	}
	if c.Previous != nil {
		p := toYearTotalsDTO(*c.Previous)
		dto.Previous = &p
	}
	for i, ch := range c.Changes {
		dto.Changes[i] = toChangeDTO(ch)
	}
	for i, d := range c.Departments {
		dto.Departments[i] = DepartmentComparisonDTO{
			DepartmentID: string(d.DepartmentID),
			Name:         d.Name,
			Allocated:    toChangeDTO(d.Allocated),
			Spent:        toChangeDTO(d.Spent),
			Utilization:  toChangeDTO(d.Utilization),
		}
	}
	return dto
}
