package budget_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)

var (
	admin     = budget.Actor{ID: "admin-1", Role: budget.RoleAdmin}
	office    = budget.Actor{ID: "office-1", Role: budget.RoleOffice}
	principal = budget.Actor{ID: "principal-1", Role: budget.RolePrincipal}
	vp        = budget.Actor{ID: "vp-1", Role: budget.RoleVicePrincipal}
)

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []budget.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e budget.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []budget.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]budget.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// env is a service over a fresh memory store with one department (CS),
// one budget head (EQP) and an active 2025-26 year.
type env struct {
	t      *testing.T
	ctx    context.Context
	svc    *budget.Service
	events *recordingPublisher

	dept  *budget.Department
	head  *budget.BudgetHead
	year  *budget.FinancialYear
	hod   budget.Actor
	clerk budget.Actor
}

func newEnv(t *testing.T) *env {
	return newEnvWithPolicy(t, budget.DefaultPolicy())
}

func newEnvWithPolicy(t *testing.T, policy budget.Policy) *env {
	t.Helper()
	svc := budget.NewService(memory.New(), policy)
	svc.Clock = func() time.Time { return testNow }
	events := &recordingPublisher{}
	svc.Events = events

	e := &env{t: t, ctx: context.Background(), svc: svc, events: events}

	var err error
	e.dept, err = svc.CreateDepartment(e.ctx, admin, budget.DepartmentInput{Name: "Computer Science", Code: "cs", HODID: "hod-cs"})
	require.NoError(t, err)
	e.head, err = svc.CreateBudgetHead(e.ctx, admin, budget.BudgetHeadInput{Name: "Equipment", Code: "eqp"})
	require.NoError(t, err)
	e.year, err = svc.CreateFinancialYear(e.ctx, admin, budget.CreateYearInput{Label: "2025-26", Status: budget.YearActive})
	require.NoError(t, err)

	e.hod = budget.Actor{ID: "hod-cs", Role: budget.RoleHOD, DepartmentID: e.dept.ID}
	e.clerk = budget.Actor{ID: "clerk-cs", Role: budget.RoleDepartment, DepartmentID: e.dept.ID}
	events.reset()
	return e
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (e *env) allocate(amount string) *budget.Allocation {
	e.t.Helper()
	return e.allocateIn(e.year.ID, e.dept.ID, e.head.ID, amount)
}

func (e *env) allocateIn(year budget.YearID, dept budget.DepartmentID, head budget.BudgetHeadID, amount string) *budget.Allocation {
	e.t.Helper()
	a, err := e.svc.CreateAllocation(e.ctx, office, budget.CreateAllocationInput{
		DepartmentID:    dept,
		BudgetHeadID:    head,
		FinancialYearID: year,
		Amount:          dec(amount),
	})
	require.NoError(e.t, err)
	return a
}

var billSeq int

func (e *env) submit(alloc *budget.Allocation, amount string) *budget.Expenditure {
	e.t.Helper()
	billSeq++
	exp, err := e.svc.SubmitExpenditure(e.ctx, e.clerk, budget.SubmitExpenditureInput{
		AllocationID: alloc.ID,
		BillNumber:   fmt.Sprintf("BILL-%d", billSeq),
		BillDate:     testNow,
		BillAmount:   dec(amount),
		PartyName:    "Dell India",
	})
	require.NoError(e.t, err)
	return exp
}

func (e *env) approve(exp *budget.Expenditure) *budget.Expenditure {
	e.t.Helper()
	_, err := e.svc.ApplyDecision(e.ctx, exp.ID, e.hod, budget.DecisionVerify, "")
	require.NoError(e.t, err)
	out, err := e.svc.ApplyDecision(e.ctx, exp.ID, principal, budget.DecisionApprove, "")
	require.NoError(e.t, err)
	return out
}

func (e *env) allocation(id budget.AllocationID) *budget.Allocation {
	e.t.Helper()
	a, err := e.svc.GetAllocation(e.ctx, id)
	require.NoError(e.t, err)
	return a
}
