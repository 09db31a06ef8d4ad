/*
handlers_test.go - HTTP tests for the budget API

Tests for:
- Expenditure submission and the verify/approve chain over HTTP
- Status code mapping (401, 403, 404, 409, 400)
- Year lifecycle endpoints and allocation gating
- Report caching and invalidation on writes
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/cache"
	"github.com/warp/budget-engine/store/memory"
)

var testNow = time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)

var (
	adminActor     = budget.Actor{ID: "admin-1", Role: budget.RoleAdmin}
	officeActor    = budget.Actor{ID: "office-1", Role: budget.RoleOffice}
	principalActor = budget.Actor{ID: "principal-1", Role: budget.RolePrincipal}
)

// fixture is one department with an allocation in an active 2025-26 year.
type fixture struct {
	t      *testing.T
	h      *Handler
	router http.Handler
	svc    *budget.Service

	dept  *budget.Department
	head  *budget.BudgetHead
	year  *budget.FinancialYear
	alloc *budget.Allocation
	hod   budget.Actor
	clerk budget.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	svc := budget.NewService(store, budget.DefaultPolicy())
	svc.Clock = func() time.Time { return testNow }

	h := NewHandler(svc, store)
	h.Cache = cache.NewMemory(time.Minute)

	f := &fixture{t: t, h: h, svc: svc, router: NewRouter(h, RouterOptions{EnableScenarios: true})}

	var err error
	f.dept, err = svc.CreateDepartment(ctx, adminActor, budget.DepartmentInput{Name: "Computer Science", Code: "CS"})
	require.NoError(t, err)
	f.head, err = svc.CreateBudgetHead(ctx, adminActor, budget.BudgetHeadInput{Name: "Equipment", Code: "EQP"})
	require.NoError(t, err)
	f.year, err = svc.CreateFinancialYear(ctx, adminActor, budget.CreateYearInput{Label: "2025-26", Status: budget.YearActive})
	require.NoError(t, err)
	f.alloc, err = svc.CreateAllocation(ctx, officeActor, budget.CreateAllocationInput{
		DepartmentID:    f.dept.ID,
		BudgetHeadID:    f.head.ID,
		FinancialYearID: f.year.ID,
		Amount:          decimal.NewFromInt(100000),
	})
	require.NoError(t, err)

	f.hod = budget.Actor{ID: "hod-cs", Role: budget.RoleHOD, DepartmentID: f.dept.ID}
	f.clerk = budget.Actor{ID: "clerk-cs", Role: budget.RoleDepartment, DepartmentID: f.dept.ID}
	return f
}

func (f *fixture) do(method, path string, actor budget.Actor, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if actor.ID != "" {
		req.Header.Set(headerActorID, actor.ID)
		req.Header.Set(headerActorRole, string(actor.Role))
		req.Header.Set(headerActorDepartment, string(actor.DepartmentID))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) submit(bill string, amount string) ExpenditureDTO {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/expenditures", f.clerk, map[string]any{
		"allocation_id": f.alloc.ID,
		"bill_number":   bill,
		"bill_date":     "2025-06-10",
		"bill_amount":   amount,
		"party_name":    "Dell India",
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ExpenditureDTO](f.t, rec)
}

func (f *fixture) decide(id string, actor budget.Actor, decision string) *httptest.ResponseRecorder {
	f.t.Helper()
	return f.do(http.MethodPost, "/api/expenditures/"+id+"/decision", actor, DecisionRequest{Decision: decision})
}

// =============================================================================
// APPROVAL FLOW
// =============================================================================

func TestExpenditure_SubmitVerifyApprove(t *testing.T) {
	// GIVEN: An allocation of 100000
	f := newFixture(t)

	// WHEN: A bill of 30000 is submitted, verified by the HOD and approved
	exp := f.submit("B-1", "30000")
	assert.Equal(t, "pending", exp.Status)
	assert.Equal(t, "30000.00", exp.BillAmount)

	rec := f.decide(exp.ID, f.hod, "verify")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "verified", decodeBody[ExpenditureDTO](t, rec).Status)

	rec = f.decide(exp.ID, principalActor, "approve")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeBody[ExpenditureDTO](t, rec)

	// THEN: The history has both steps and the allocation is charged once
	assert.Equal(t, "approved", approved.Status)
	require.Len(t, approved.ApprovalSteps, 2)
	assert.Equal(t, "hod", approved.ApprovalSteps[0].Role)
	assert.Equal(t, "approve", approved.ApprovalSteps[1].Decision)

	rec = f.do(http.MethodGet, "/api/allocations/"+string(f.alloc.ID), officeActor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	alloc := decodeBody[AllocationDTO](t, rec)
	assert.Equal(t, "30000.00", alloc.SpentAmount)
	assert.Equal(t, "70000.00", alloc.RemainingAmount)
	assert.Equal(t, 30, alloc.Utilization)

	rec = f.do(http.MethodGet, "/api/allocations/"+string(f.alloc.ID)+"/ledger", officeActor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ledger := decodeBody[AllocationLedgerDTO](t, rec)
	require.Len(t, ledger.Transactions, 2)
	assert.Equal(t, "grant", ledger.Transactions[0].Type)
	assert.Equal(t, "spend", ledger.Transactions[1].Type)
	assert.Equal(t, "70000.00", ledger.Transactions[1].Balance)
	assert.Equal(t, "70000.00", ledger.Balance)
}

func TestExpenditure_RejectAndResubmit(t *testing.T) {
	// GIVEN: A rejected bill
	f := newFixture(t)
	exp := f.submit("B-1", "5000")
	rec := f.decide(exp.ID, f.hod, "reject")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: It is resubmitted with a corrected amount
	rec = f.do(http.MethodPost, "/api/expenditures/"+exp.ID+"/resubmit", f.clerk, map[string]any{"bill_amount": "4500"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resubmitted := decodeBody[ExpenditureDTO](t, rec)

	// THEN: A new pending expenditure points back at the original
	assert.Equal(t, "pending", resubmitted.Status)
	assert.Equal(t, "4500.00", resubmitted.BillAmount)
	require.NotNil(t, resubmitted.ResubmittedFrom)
	assert.Equal(t, exp.ID, *resubmitted.ResubmittedFrom)

	// AND: A second resubmission of the same original is a conflict
	rec = f.do(http.MethodPost, "/api/expenditures/"+exp.ID+"/resubmit", f.clerk, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_resubmittable", decodeBody[ErrorResponse](t, rec).Code)
}

func TestPendingQueue_ByRole(t *testing.T) {
	// GIVEN: One pending and one verified bill
	f := newFixture(t)
	f.submit("B-1", "1000")
	second := f.submit("B-2", "2000")
	require.Equal(t, http.StatusOK, f.decide(second.ID, f.hod, "verify").Code)

	// WHEN / THEN: The HOD sees the pending one, the principal the verified one
	rec := f.do(http.MethodGet, "/api/expenditures/pending", f.hod, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hodQueue := decodeBody[[]ExpenditureDTO](t, rec)
	require.Len(t, hodQueue, 1)
	assert.Equal(t, "B-1", hodQueue[0].BillNumber)

	rec = f.do(http.MethodGet, "/api/expenditures/pending", principalActor, nil)
	principalQueue := decodeBody[[]ExpenditureDTO](t, rec)
	require.Len(t, principalQueue, 1)
	assert.Equal(t, "B-2", principalQueue[0].BillNumber)

	rec = f.do(http.MethodGet, "/api/expenditures?status=pending,verified", officeActor, nil)
	assert.Len(t, decodeBody[[]ExpenditureDTO](t, rec), 2)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrors_StatusCodes(t *testing.T) {
	f := newFixture(t)
	exp := f.submit("B-1", "1000")

	tests := []struct {
		name       string
		method     string
		path       string
		actor      budget.Actor
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing actor",
			method:     http.MethodGet,
			path:       "/api/departments",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong role for decision",
			method:     http.MethodPost,
			path:       "/api/expenditures/" + exp.ID + "/decision",
			actor:      f.clerk,
			body:       DecisionRequest{Decision: "verify"},
			wantStatus: http.StatusForbidden,
			wantCode:   "forbidden",
		},
		{
			name:       "approve before verify",
			method:     http.MethodPost,
			path:       "/api/expenditures/" + exp.ID + "/decision",
			actor:      principalActor,
			body:       DecisionRequest{Decision: "approve"},
			wantStatus: http.StatusConflict,
			wantCode:   "invalid_transition",
		},
		{
			name:       "unknown decision",
			method:     http.MethodPost,
			path:       "/api/expenditures/" + exp.ID + "/decision",
			actor:      principalActor,
			body:       DecisionRequest{Decision: "escalate"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_decision",
		},
		{
			name:       "unknown expenditure",
			method:     http.MethodGet,
			path:       "/api/expenditures/missing",
			actor:      officeActor,
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:   "duplicate bill",
			method: http.MethodPost,
			path:   "/api/expenditures",
			actor:  f.clerk,
			body: map[string]any{
				"allocation_id": f.alloc.ID, "bill_number": "B-1", "bill_date": "2025-06-10",
				"bill_amount": "10", "party_name": "Dell India",
			},
			wantStatus: http.StatusConflict,
			wantCode:   "duplicate_bill",
		},
		{
			name:   "overspend",
			method: http.MethodPost,
			path:   "/api/expenditures",
			actor:  f.clerk,
			body: map[string]any{
				"allocation_id": f.alloc.ID, "bill_number": "B-9", "bill_date": "2025-06-10",
				"bill_amount": "100000.01", "party_name": "Dell India",
			},
			wantStatus: http.StatusConflict,
			wantCode:   "overspend",
		},
		{
			name:   "malformed bill date",
			method: http.MethodPost,
			path:   "/api/expenditures",
			actor:  f.clerk,
			body: map[string]any{
				"allocation_id": f.alloc.ID, "bill_number": "B-10", "bill_date": "10/06/2025",
				"bill_amount": "10", "party_name": "Dell India",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			method:     http.MethodPost,
			path:       "/api/departments",
			actor:      adminActor,
			body:       map[string]any{"name": "Maths", "code": "MA", "budget": 5},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.actor, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeBody[ErrorResponse](t, rec).Code)
			}
		})
	}
}

// =============================================================================
// FINANCIAL YEARS
// =============================================================================

func TestFinancialYear_LockBlocksAllocationsAndCloseFreezesTotals(t *testing.T) {
	// GIVEN: An approved 40000 bill against the 100000 allocation
	f := newFixture(t)
	exp := f.submit("B-1", "40000")
	require.Equal(t, http.StatusOK, f.decide(exp.ID, f.hod, "verify").Code)
	require.Equal(t, http.StatusOK, f.decide(exp.ID, principalActor, "approve").Code)

	yearPath := "/api/financial-years/" + string(f.year.ID)

	// WHEN: The year is locked
	rec := f.do(http.MethodPost, yearPath+"/lock", principalActor, TransitionRequest{Remarks: "audit"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	locked := decodeBody[FinancialYearDTO](t, rec)
	assert.Equal(t, "locked", locked.Status)
	assert.Equal(t, "principal-1", locked.LockedBy)

	// THEN: New allocations are refused
	other, err := f.svc.CreateBudgetHead(context.Background(), adminActor, budget.BudgetHeadInput{Name: "Travel", Code: "TRV"})
	require.NoError(t, err)
	rec = f.do(http.MethodPost, "/api/allocations", officeActor, map[string]any{
		"department_id": f.dept.ID, "budget_head_id": other.ID,
		"financial_year_id": f.year.ID, "allocated_amount": "1000",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "year_locked", decodeBody[ErrorResponse](t, rec).Code)

	// AND: Closing freezes totals and carryforward
	rec = f.do(http.MethodPost, yearPath+"/close", principalActor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decodeBody[FinancialYearDTO](t, rec)
	assert.Equal(t, "closed", closed.Status)
	assert.Equal(t, "100000.00", closed.TotalAllocated)
	assert.Equal(t, "40000.00", closed.TotalSpent)
	require.NotNil(t, closed.CarryforwardAmount)
	assert.Equal(t, "60000.00", *closed.CarryforwardAmount)

	// AND: Closing twice is a conflict
	rec = f.do(http.MethodPost, yearPath+"/close", principalActor, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_closed", decodeBody[ErrorResponse](t, rec).Code)
}

func TestFinancialYear_Current(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/financial-years/current", officeActor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-26", decodeBody[FinancialYearDTO](t, rec).Label)

	rec = f.do(http.MethodGet, "/api/financial-years/current?date=2026-03-31", officeActor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-26", decodeBody[FinancialYearDTO](t, rec).Label)

	rec = f.do(http.MethodGet, "/api/financial-years/current?date=2026-04-01", officeActor, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/api/financial-years/current?date=tomorrow", officeActor, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFinancialYear_CreateValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/financial-years", adminActor, CreateFinancialYearRequest{Label: "2025-26"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_year", decodeBody[ErrorResponse](t, rec).Code)

	rec = f.do(http.MethodPost, "/api/financial-years", adminActor, CreateFinancialYearRequest{
		Label: "2026-27", StartDate: "2027-03-31", EndDate: "2026-04-01",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_range", decodeBody[ErrorResponse](t, rec).Code)

	rec = f.do(http.MethodPost, "/api/financial-years", officeActor, CreateFinancialYearRequest{Label: "2026-27"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/api/financial-years", adminActor, CreateFinancialYearRequest{Label: "2026-27"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "planning", decodeBody[FinancialYearDTO](t, rec).Status)
}

func TestIncome_RecordAndList(t *testing.T) {
	f := newFixture(t)
	path := "/api/financial-years/" + string(f.year.ID) + "/income"

	rec := f.do(http.MethodPost, path, officeActor, map[string]any{
		"source": "State grant", "amount": 250000, "received_at": "2025-05-02",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, path, officeActor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	incomes := decodeBody[[]IncomeDTO](t, rec)
	require.Len(t, incomes, 1)
	assert.Equal(t, "250000.00", incomes[0].Amount)
	assert.Equal(t, "2025-05-02", incomes[0].ReceivedAt)
}

// =============================================================================
// MASTER DATA
// =============================================================================

func TestDepartments_CRUD(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/departments", adminActor, CreateDepartmentRequest{Name: "Mathematics", Code: "ma"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dept := decodeBody[DepartmentDTO](t, rec)
	assert.Equal(t, "MA", dept.Code)
	assert.True(t, dept.Active)

	rec = f.do(http.MethodPost, "/api/departments", adminActor, CreateDepartmentRequest{Name: "Maths again", Code: "MA"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	name := "Applied Mathematics"
	rec = f.do(http.MethodPut, "/api/departments/"+dept.ID, adminActor, UpdateDepartmentRequest{Name: &name})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, name, decodeBody[DepartmentDTO](t, rec).Name)

	rec = f.do(http.MethodPost, "/api/departments/"+dept.ID+"/deactivate", adminActor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[DepartmentDTO](t, rec).Active)

	rec = f.do(http.MethodGet, "/api/departments", officeActor, nil)
	assert.Len(t, decodeBody[[]DepartmentDTO](t, rec), 1)
	rec = f.do(http.MethodGet, "/api/departments?include_inactive=true", officeActor, nil)
	assert.Len(t, decodeBody[[]DepartmentDTO](t, rec), 2)

	// Referenced departments cannot be deleted; unreferenced ones can
	rec = f.do(http.MethodDelete, "/api/departments/"+string(f.dept.ID), adminActor, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(http.MethodDelete, "/api/departments/"+dept.ID, adminActor, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestReports_CachedUntilNextWrite(t *testing.T) {
	// GIVEN: A dashboard rendered once
	f := newFixture(t)
	path := "/api/reports/dashboard?year_id=" + string(f.year.ID)

	rec := f.do(http.MethodGet, path, officeActor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
	first := decodeBody[DashboardDTO](t, rec)
	assert.Equal(t, 0, first.StatusCounts["pending"])

	// WHEN: The same report is requested again
	rec = f.do(http.MethodGet, path, officeActor, nil)

	// THEN: It is served from cache
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))

	// WHEN: A bill is submitted
	f.submit("B-1", "1000")

	// THEN: The next dashboard is rebuilt and sees it
	rec = f.do(http.MethodGet, path, officeActor, nil)
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
	after := decodeBody[DashboardDTO](t, rec)
	assert.Equal(t, 1, after.StatusCounts["pending"])
	assert.Equal(t, 1, after.AwaitingDecision)
	require.NotNil(t, after.Year)
	assert.Equal(t, "2025-26", after.Year.Label)
}

func TestReports_FailedWriteKeepsCache(t *testing.T) {
	f := newFixture(t)
	path := "/api/reports/allocation-stats"

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, path, officeActor, nil).Code)

	rec := f.do(http.MethodPost, "/api/departments", officeActor, CreateDepartmentRequest{Name: "Dup", Code: "CS"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodGet, path, officeActor, nil)
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))
	stats := decodeBody[AllocationStatsDTO](t, rec)
	assert.Equal(t, "100000.00", stats.Totals.Allocated)
	require.Len(t, stats.ByDepartment, 1)
	assert.Equal(t, "Computer Science", stats.ByDepartment[0].Name)
}

func TestReports_YearComparison(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/reports/year-comparison", officeActor, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No 2024-25 year exists, so every change reports no data
	rec = f.do(http.MethodGet, "/api/reports/year-comparison?current_year_id="+string(f.year.ID), officeActor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cmp := decodeBody[YearComparisonDTO](t, rec)
	assert.Nil(t, cmp.Previous)
	require.NotEmpty(t, cmp.Changes)
	for _, c := range cmp.Changes {
		assert.True(t, c.NoData, c.Metric)
	}
	assert.Equal(t, "100000.00", cmp.Current.Allocated)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/healthz", budget.Actor{}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
