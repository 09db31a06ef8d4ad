package budget_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
)

func TestFinancialYearLabel(t *testing.T) {
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), "2025-26"},
		{time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC), "2025-26"},
		{time.Date(2026, time.March, 31, 23, 0, 0, 0, time.UTC), "2025-26"},
		{time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC), "2025-26"},
		{time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC), "2024-25"},
		{time.Date(2099, time.May, 1, 0, 0, 0, 0, time.UTC), "2099-00"},
	}
	for _, tt := range tests {
		t.Run(tt.want+"@"+tt.at.Format("2006-01-02"), func(t *testing.T) {
			assert.Equal(t, tt.want, budget.FinancialYearLabel(tt.at))
		})
	}
}

func TestCreateFinancialYear_DefaultsToLabelPeriod(t *testing.T) {
	e := newEnv(t)

	y, err := e.svc.CreateFinancialYear(e.ctx, principal, budget.CreateYearInput{Label: "2026-27"})
	require.NoError(t, err)

	assert.Equal(t, budget.YearPlanning, y.Status)
	assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), y.StartDate)
	assert.Equal(t, time.Date(2027, time.March, 31, 0, 0, 0, 0, time.UTC), y.EndDate.Truncate(24*time.Hour))
	assert.True(t, y.TotalAllocated.IsZero())
	assert.Nil(t, y.CarryforwardAmount)
	assert.Equal(t, []budget.EventType{budget.EventYearCreated}, e.events.types())
}

func TestCreateFinancialYear_ShorterYearWithinLabel(t *testing.T) {
	e := newEnv(t)

	y, err := e.svc.CreateFinancialYear(e.ctx, admin, budget.CreateYearInput{
		Label:     "2026-27",
		StartDate: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2027, 3, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, time.July, y.StartDate.Month())
}

func TestCreateFinancialYear_Validation(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name    string
		actor   budget.Actor
		in      budget.CreateYearInput
		wantErr error
	}{
		{"office may not create", office, budget.CreateYearInput{Label: "2026-27"}, budget.ErrUnauthorized},
		{"bad label", admin, budget.CreateYearInput{Label: "2026"}, budget.ErrInvalidLabel},
		{"non consecutive label", admin, budget.CreateYearInput{Label: "2026-28"}, budget.ErrInvalidLabel},
		{"duplicate label", admin, budget.CreateYearInput{Label: "2025-26"}, budget.ErrDuplicateYear},
		{"end before start", admin, budget.CreateYearInput{
			Label:     "2026-27",
			StartDate: time.Date(2027, 3, 31, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		}, budget.ErrInvalidRange},
		{"dates outside the labelled year", admin, budget.CreateYearInput{
			Label:     "2026-27",
			StartDate: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC),
		}, budget.ErrInvalidRange},
		{"cannot start locked", admin, budget.CreateYearInput{Label: "2026-27", Status: budget.YearLocked}, budget.ErrInvalidStatusChange},
		{"second active year", admin, budget.CreateYearInput{Label: "2026-27", Status: budget.YearActive}, budget.ErrActiveYearExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.CreateFinancialYear(e.ctx, tt.actor, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestYearLifecycle_ForwardOnly(t *testing.T) {
	// GIVEN: A planning year next to the active 2025-26
	e := newEnv(t)
	next, err := e.svc.CreateFinancialYear(e.ctx, admin, budget.CreateYearInput{Label: "2026-27"})
	require.NoError(t, err)

	// Only one year may be active
	_, err = e.svc.ActivateFinancialYear(e.ctx, principal, next.ID, "")
	assert.ErrorIs(t, err, budget.ErrActiveYearExists)

	// A planning year cannot be closed before it is locked
	_, err = e.svc.CloseFinancialYear(e.ctx, principal, next.ID, "")
	assert.ErrorIs(t, err, budget.ErrNotLocked)

	// WHEN: The current year is locked, closed and the next activated
	locked, err := e.svc.LockFinancialYear(e.ctx, principal, e.year.ID, "audit")
	require.NoError(t, err)
	assert.Equal(t, budget.YearLocked, locked.Status)
	assert.Equal(t, principal.ID, locked.LockedBy)
	assert.Equal(t, "audit", locked.Remarks)
	require.NotNil(t, locked.LockedAt)

	_, err = e.svc.ActivateFinancialYear(e.ctx, principal, e.year.ID, "")
	assert.ErrorIs(t, err, budget.ErrAlreadyLocked)
	_, err = e.svc.LockFinancialYear(e.ctx, principal, e.year.ID, "")
	assert.ErrorIs(t, err, budget.ErrAlreadyLocked)

	closed, err := e.svc.CloseFinancialYear(e.ctx, admin, e.year.ID, "")
	require.NoError(t, err)
	assert.Equal(t, budget.YearClosed, closed.Status)
	assert.Equal(t, admin.ID, closed.ClosedBy)

	activated, err := e.svc.ActivateFinancialYear(e.ctx, principal, next.ID, "")
	require.NoError(t, err)
	assert.Equal(t, budget.YearActive, activated.Status)

	// THEN: The closed year accepts no transition
	for name, op := range map[string]func() error{
		"activate": func() error { _, err := e.svc.ActivateFinancialYear(e.ctx, principal, e.year.ID, ""); return err },
		"lock":     func() error { _, err := e.svc.LockFinancialYear(e.ctx, principal, e.year.ID, ""); return err },
		"close":    func() error { _, err := e.svc.CloseFinancialYear(e.ctx, principal, e.year.ID, ""); return err },
	} {
		assert.ErrorIs(t, op(), budget.ErrAlreadyClosed, name)
	}

	assert.Equal(t, []budget.EventType{
		budget.EventYearCreated,
		budget.EventYearLocked,
		budget.EventYearClosed,
		budget.EventYearActivated,
	}, e.events.types())
}

func TestYearLifecycle_RolesEnforced(t *testing.T) {
	e := newEnv(t)

	for _, actor := range []budget.Actor{office, vp, e.hod, e.clerk} {
		_, err := e.svc.LockFinancialYear(e.ctx, actor, e.year.ID, "")
		assert.ErrorIs(t, err, budget.ErrUnauthorized, string(actor.Role))
	}
	y, err := e.svc.GetFinancialYear(e.ctx, e.year.ID)
	require.NoError(t, err)
	assert.Equal(t, budget.YearActive, y.Status)
}

func TestCloseFinancialYear_FreezesTotalsAndCarryforward(t *testing.T) {
	// GIVEN: 150000 allocated, 60000 approved, 20000 pending, 500000 income
	e := newEnv(t)
	eqp := e.allocate("100000")
	other, err := e.svc.CreateBudgetHead(e.ctx, office, budget.BudgetHeadInput{Name: "Travel", Code: "TRV"})
	require.NoError(t, err)
	trv := e.allocateIn(e.year.ID, e.dept.ID, other.ID, "50000")
	e.approve(e.submit(eqp, "60000"))
	e.submit(trv, "20000")
	_, err = e.svc.RecordIncome(e.ctx, office, budget.RecordIncomeInput{
		FinancialYearID: e.year.ID, Source: "Grant", Amount: dec("500000"),
	})
	require.NoError(t, err)

	// WHEN: The year is locked and closed
	_, err = e.svc.LockFinancialYear(e.ctx, principal, e.year.ID, "")
	require.NoError(t, err)
	closed, err := e.svc.CloseFinancialYear(e.ctx, principal, e.year.ID, "final")
	require.NoError(t, err)

	// THEN: Totals and carryforward are frozen from approved spend only
	assert.True(t, dec("150000").Equal(closed.TotalAllocated))
	assert.True(t, dec("60000").Equal(closed.TotalSpent))
	assert.True(t, dec("500000").Equal(closed.TotalIncomeReceived))
	assert.True(t, dec("40").Equal(closed.UtilizationPercentage), closed.UtilizationPercentage.String())
	require.NotNil(t, closed.CarryforwardAmount)
	assert.True(t, dec("90000").Equal(*closed.CarryforwardAmount))

	// AND: Recalculation no longer touches it
	_, err = e.svc.RecalculateFinancialYear(e.ctx, admin, e.year.ID)
	assert.ErrorIs(t, err, budget.ErrYearClosed)
}

func TestCloseFinancialYear_FormulaCarryforward(t *testing.T) {
	formula, err := budget.NewFormulaCarryforward("income > spent ? income - spent : 0")
	require.NoError(t, err)
	policy := budget.DefaultPolicy()
	policy.Carryforward = formula
	e := newEnvWithPolicy(t, policy)

	e.approve(e.submit(e.allocate("100000"), "30000"))
	_, err = e.svc.RecordIncome(e.ctx, office, budget.RecordIncomeInput{
		FinancialYearID: e.year.ID, Source: "Fees", Amount: dec("45000.50"),
	})
	require.NoError(t, err)

	_, err = e.svc.LockFinancialYear(e.ctx, principal, e.year.ID, "")
	require.NoError(t, err)
	closed, err := e.svc.CloseFinancialYear(e.ctx, principal, e.year.ID, "")
	require.NoError(t, err)

	require.NotNil(t, closed.CarryforwardAmount)
	assert.True(t, dec("15000.50").Equal(*closed.CarryforwardAmount), closed.CarryforwardAmount.String())
}

func TestNewFormulaCarryforward_RejectsUnknownVariables(t *testing.T) {
	_, err := budget.NewFormulaCarryforward("allocated - refunds")
	assert.ErrorIs(t, err, budget.ErrInvalidInput)

	_, err = budget.NewFormulaCarryforward("allocated -")
	assert.ErrorIs(t, err, budget.ErrInvalidInput)
}

func TestRecalculate(t *testing.T) {
	// GIVEN: An approved spend of 250 against 1000
	e := newEnv(t)
	e.approve(e.submit(e.allocate("1000"), "250"))

	before, err := e.svc.GetFinancialYear(e.ctx, e.year.ID)
	require.NoError(t, err)
	assert.True(t, before.TotalAllocated.IsZero())

	// WHEN: Open years are recalculated by the background job
	n, err := e.svc.RecalculateOpenYears(e.ctx)

	// THEN: Cached totals match the allocations
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	after, err := e.svc.GetFinancialYear(e.ctx, e.year.ID)
	require.NoError(t, err)
	assert.True(t, dec("1000").Equal(after.TotalAllocated))
	assert.True(t, dec("250").Equal(after.TotalSpent))
	assert.True(t, dec("25").Equal(after.UtilizationPercentage))
	require.NotNil(t, after.RecalculatedAt)
	assert.Equal(t, testNow, *after.RecalculatedAt)
	assert.Nil(t, after.CarryforwardAmount)

	// AND: Recalculating is idempotent
	again, err := e.svc.RecalculateFinancialYear(e.ctx, office, e.year.ID)
	require.NoError(t, err)
	assert.True(t, after.TotalSpent.Equal(again.TotalSpent))

	// AND: Department users may not trigger it
	_, err = e.svc.RecalculateFinancialYear(e.ctx, e.clerk, e.year.ID)
	assert.ErrorIs(t, err, budget.ErrUnauthorized)
}

func TestCurrentFinancialYear(t *testing.T) {
	e := newEnv(t)

	y, err := e.svc.CurrentFinancialYear(e.ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, e.year.ID, y.ID)

	_, err = e.svc.CurrentFinancialYear(e.ctx, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, budget.ErrNotFound)
}

func TestLockFinancialYear_FromPlanning(t *testing.T) {
	// GIVEN: A planning year
	e := newEnv(t)
	next, err := e.svc.CreateFinancialYear(e.ctx, admin, budget.CreateYearInput{Label: "2026-27"})
	require.NoError(t, err)

	// WHEN: It is locked straight away
	locked, err := e.svc.LockFinancialYear(e.ctx, principal, next.ID, "")
	require.NoError(t, err)
	assert.Equal(t, budget.YearLocked, locked.Status)

	// THEN: It accepts no new allocation
	_, err = e.svc.CreateAllocation(e.ctx, office, budget.CreateAllocationInput{
		DepartmentID: e.dept.ID, BudgetHeadID: e.head.ID, FinancialYearID: next.ID, Amount: dec("1000"),
	})
	assert.ErrorIs(t, err, budget.ErrYearLocked)
}

// =============================================================================
// CONCURRENT LIFECYCLE TRANSITIONS
// =============================================================================

func TestLockRacesCreateAllocation(t *testing.T) {
	// GIVEN: A lock and an allocation issued at the same moment, many times
	for i := 0; i < 50; i++ {
		e := newEnv(t)
		in := budget.CreateAllocationInput{
			DepartmentID: e.dept.ID, BudgetHeadID: e.head.ID, FinancialYearID: e.year.ID, Amount: dec("1000"),
		}

		var wg sync.WaitGroup
		var lockErr, createErr error
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, lockErr = e.svc.LockFinancialYear(e.ctx, principal, e.year.ID, "")
		}()
		go func() {
			defer wg.Done()
			<-start
			_, createErr = e.svc.CreateAllocation(e.ctx, office, in)
		}()
		close(start)
		wg.Wait()

		// THEN: The lock always wins once committed
		require.NoError(t, lockErr)
		allocs, err := e.svc.ListAllocations(e.ctx, budget.AllocationFilter{FinancialYearID: e.year.ID})
		require.NoError(t, err)
		if createErr == nil {
			// the allocation committed before the lock
			assert.Len(t, allocs, 1)
		} else {
			assert.ErrorIs(t, createErr, budget.ErrYearLocked)
			assert.Empty(t, allocs)
		}

		// AND: Every later creation is refused
		travel, err := e.svc.CreateBudgetHead(e.ctx, office, budget.BudgetHeadInput{Name: "Travel", Code: "TRV"})
		require.NoError(t, err)
		in.BudgetHeadID = travel.ID
		_, err = e.svc.CreateAllocation(e.ctx, office, in)
		assert.ErrorIs(t, err, budget.ErrYearLocked)
	}
}

func TestCloseRacesApplyDecision(t *testing.T) {
	// GIVEN: A verified bill of 300 in a locked year, closed while it is approved
	for i := 0; i < 50; i++ {
		e := newEnv(t)
		alloc := e.allocate("1000")
		exp := e.submit(alloc, "300")
		_, err := e.svc.ApplyDecision(e.ctx, exp.ID, e.hod, budget.DecisionVerify, "")
		require.NoError(t, err)
		_, err = e.svc.LockFinancialYear(e.ctx, principal, e.year.ID, "")
		require.NoError(t, err)

		var wg sync.WaitGroup
		var closeErr, decideErr error
		var closed *budget.FinancialYear
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			closed, closeErr = e.svc.CloseFinancialYear(e.ctx, principal, e.year.ID, "")
		}()
		go func() {
			defer wg.Done()
			<-start
			_, decideErr = e.svc.ApplyDecision(e.ctx, exp.ID, principal, budget.DecisionApprove, "")
		}()
		close(start)
		wg.Wait()

		// THEN: The frozen totals agree with whichever committed first
		require.NoError(t, closeErr)
		got, err := e.svc.GetExpenditure(e.ctx, exp.ID)
		require.NoError(t, err)
		if decideErr == nil {
			assert.Equal(t, budget.StatusApproved, got.Status)
			assert.True(t, dec("300").Equal(closed.TotalSpent), closed.TotalSpent.String())
			require.NotNil(t, closed.CarryforwardAmount)
			assert.True(t, dec("700").Equal(*closed.CarryforwardAmount))
		} else {
			assert.ErrorIs(t, decideErr, budget.ErrYearClosed)
			assert.Equal(t, budget.StatusVerified, got.Status)
			assert.True(t, closed.TotalSpent.IsZero(), closed.TotalSpent.String())
			assert.True(t, e.allocation(alloc.ID).SpentAmount.IsZero())
		}

		// AND: No decision is accepted afterwards
		_, err = e.svc.ApplyDecision(e.ctx, exp.ID, principal, budget.DecisionReject, "late")
		assert.ErrorIs(t, err, budget.ErrYearClosed)
	}
}
