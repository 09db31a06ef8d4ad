package budget_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/generic"
)

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestApproval_VerifyThenApproveChargesAllocationOnce(t *testing.T) {
	// GIVEN: A 100000 allocation and a pending bill of 25000
	e := newEnv(t)
	alloc := e.allocate("100000")
	exp := e.submit(alloc, "25000")
	assert.Equal(t, budget.StatusPending, exp.Status)
	assert.Empty(t, exp.ApprovalSteps)

	// WHEN: The HOD verifies
	verified, err := e.svc.ApplyDecision(e.ctx, exp.ID, e.hod, budget.DecisionVerify, "checked")
	require.NoError(t, err)

	// THEN: Status moves but nothing is spent yet
	assert.Equal(t, budget.StatusVerified, verified.Status)
	assert.True(t, e.allocation(alloc.ID).SpentAmount.IsZero())

	// WHEN: The vice principal approves
	approved, err := e.svc.ApplyDecision(e.ctx, exp.ID, vp, budget.DecisionApprove, "")
	require.NoError(t, err)

	// THEN: Spent grows by the bill amount and history records both steps
	assert.Equal(t, budget.StatusApproved, approved.Status)
	require.Len(t, approved.ApprovalSteps, 2)
	assert.Equal(t, budget.RoleHOD, approved.ApprovalSteps[0].Role)
	assert.Equal(t, "checked", approved.ApprovalSteps[0].Remarks)
	assert.Equal(t, budget.RoleVicePrincipal, approved.ApprovalSteps[1].Role)
	assert.Equal(t, testNow, approved.ApprovalSteps[1].Timestamp)

	a := e.allocation(alloc.ID)
	assert.True(t, dec("25000").Equal(a.SpentAmount), a.SpentAmount.String())
	assert.True(t, dec("75000").Equal(a.RemainingAmount), a.RemainingAmount.String())
	assert.Equal(t, 25, a.Utilization())

	// AND: The ledger replays to the same balance
	txs, summary, err := e.svc.AllocationLedger(e.ctx, alloc.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, generic.TxGrant, txs[0].Type)
	assert.Equal(t, generic.TxSpend, txs[1].Type)
	assert.Equal(t, string(exp.ID), txs[1].ReferenceID)
	assert.True(t, dec("75000").Equal(summary.Balance().Value))

	// AND: Events were published after each commit
	assert.Equal(t, []budget.EventType{
		budget.EventAllocationCreated,
		budget.EventExpenditureSubmitted,
		budget.EventExpenditureVerified,
		budget.EventExpenditureApproved,
	}, e.events.types())
}

func TestApproval_RejectAtEachStage(t *testing.T) {
	e := newEnv(t)
	alloc := e.allocate("50000")

	// Rejected while pending, by the HOD
	first := e.submit(alloc, "1000")
	rejected, err := e.svc.ApplyDecision(e.ctx, first.ID, e.hod, budget.DecisionReject, "missing invoice")
	require.NoError(t, err)
	assert.Equal(t, budget.StatusRejected, rejected.Status)

	// Rejected after verification, by the principal
	second := e.submit(alloc, "2000")
	_, err = e.svc.ApplyDecision(e.ctx, second.ID, e.hod, budget.DecisionVerify, "")
	require.NoError(t, err)
	rejected, err = e.svc.ApplyDecision(e.ctx, second.ID, principal, budget.DecisionReject, "")
	require.NoError(t, err)
	assert.Equal(t, budget.StatusRejected, rejected.Status)

	// Neither touched the allocation
	assert.True(t, e.allocation(alloc.ID).SpentAmount.IsZero())
}

// =============================================================================
// GUARDS
// =============================================================================

func TestApproval_Guards(t *testing.T) {
	e := newEnv(t)
	alloc := e.allocate("10000")

	pending := e.submit(alloc, "1000")
	approved := e.approve(e.submit(alloc, "500"))

	otherDept, err := e.svc.CreateDepartment(e.ctx, admin, budget.DepartmentInput{Name: "Physics", Code: "PHY"})
	require.NoError(t, err)
	foreignHOD := budget.Actor{ID: "hod-phy", Role: budget.RoleHOD, DepartmentID: otherDept.ID}

	tests := []struct {
		name     string
		id       budget.ExpenditureID
		actor    budget.Actor
		decision budget.Decision
		wantErr  error
	}{
		{"approve skips verification", pending.ID, principal, budget.DecisionApprove, budget.ErrInvalidTransition},
		{"office cannot verify", pending.ID, office, budget.DecisionVerify, budget.ErrUnauthorized},
		{"principal cannot verify", pending.ID, principal, budget.DecisionVerify, budget.ErrUnauthorized},
		{"foreign HOD cannot verify", pending.ID, foreignHOD, budget.DecisionVerify, budget.ErrUnauthorized},
		{"approved is terminal", approved.ID, principal, budget.DecisionReject, budget.ErrInvalidTransition},
		{"unknown decision", pending.ID, principal, budget.Decision("escalate"), budget.ErrInvalidDecision},
		{"unknown expenditure", "missing", principal, budget.DecisionVerify, budget.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.ApplyDecision(e.ctx, tt.id, tt.actor, tt.decision, "")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Failed decisions leave the record untouched
	got, err := e.svc.GetExpenditure(e.ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, budget.StatusPending, got.Status)
	assert.Empty(t, got.ApprovalSteps)
}

func TestApproval_TransitionErrorCarriesContext(t *testing.T) {
	e := newEnv(t)
	exp := e.submit(e.allocate("1000"), "10")

	_, err := e.svc.ApplyDecision(e.ctx, exp.ID, principal, budget.DecisionApprove, "")

	var te *budget.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, exp.ID, te.ExpenditureID)
	assert.Equal(t, budget.StatusPending, te.From)
}

func TestApproval_OverspendBlockedAtApproval(t *testing.T) {
	// GIVEN: Two bills that each fit but together exceed the allocation
	e := newEnv(t)
	alloc := e.allocate("1000")
	first := e.submit(alloc, "700")
	second := e.submit(alloc, "600")

	e.approve(first)
	_, err := e.svc.ApplyDecision(e.ctx, second.ID, e.hod, budget.DecisionVerify, "")
	require.NoError(t, err)

	// WHEN: The second is approved
	_, err = e.svc.ApplyDecision(e.ctx, second.ID, principal, budget.DecisionApprove, "")

	// THEN: It is refused and stays verified
	var oe *budget.OverspendError
	require.ErrorAs(t, err, &oe)
	assert.True(t, dec("300").Equal(oe.Remaining))
	got, err := e.svc.GetExpenditure(e.ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, budget.StatusVerified, got.Status)
	assert.True(t, dec("700").Equal(e.allocation(alloc.ID).SpentAmount))
}

func TestApproval_AllowOverspendPolicy(t *testing.T) {
	policy := budget.DefaultPolicy()
	policy.AllowOverspend = true
	e := newEnvWithPolicy(t, policy)
	alloc := e.allocate("1000")

	e.approve(e.submit(alloc, "1500"))

	a := e.allocation(alloc.ID)
	assert.True(t, dec("-500").Equal(a.RemainingAmount), a.RemainingAmount.String())
	assert.Equal(t, 150, a.Utilization())
}

func TestApproval_LockedYear(t *testing.T) {
	e := newEnv(t)
	exp := e.submit(e.allocate("1000"), "100")
	_, err := e.svc.LockFinancialYear(e.ctx, principal, e.year.ID, "")
	require.NoError(t, err)

	// Decisions continue on locked years by default
	_, err = e.svc.ApplyDecision(e.ctx, exp.ID, e.hod, budget.DecisionVerify, "")
	require.NoError(t, err)

	// ...unless the policy blocks them
	e.svc.Policy.BlockDecisionsWhenLocked = true
	_, err = e.svc.ApplyDecision(e.ctx, exp.ID, principal, budget.DecisionApprove, "")
	assert.ErrorIs(t, err, budget.ErrYearLocked)

	// Closed years always refuse
	e.svc.Policy.BlockDecisionsWhenLocked = false
	_, err = e.svc.CloseFinancialYear(e.ctx, principal, e.year.ID, "")
	require.NoError(t, err)
	_, err = e.svc.ApplyDecision(e.ctx, exp.ID, principal, budget.DecisionApprove, "")
	assert.ErrorIs(t, err, budget.ErrYearClosed)
}

// =============================================================================
// SUBMISSION
// =============================================================================

func TestSubmit_Validation(t *testing.T) {
	e := newEnv(t)
	alloc := e.allocate("1000")
	e.submit(alloc, "10") // BILL-n for duplicate check below
	existing, err := e.svc.ListExpenditures(e.ctx, budget.ExpenditureFilter{AllocationID: alloc.ID})
	require.NoError(t, err)
	require.Len(t, existing, 1)

	otherDept, err := e.svc.CreateDepartment(e.ctx, admin, budget.DepartmentInput{Name: "Physics", Code: "PHY"})
	require.NoError(t, err)

	valid := func() budget.SubmitExpenditureInput {
		return budget.SubmitExpenditureInput{
			AllocationID: alloc.ID,
			BillNumber:   "NEW-1",
			BillDate:     testNow,
			BillAmount:   dec("100"),
			PartyName:    "Vendor",
		}
	}

	tests := []struct {
		name    string
		actor   budget.Actor
		mutate  func(in *budget.SubmitExpenditureInput)
		wantErr error
	}{
		{"zero amount", e.clerk, func(in *budget.SubmitExpenditureInput) { in.BillAmount = dec("0") }, budget.ErrInvalidAmount},
		{"negative amount", e.clerk, func(in *budget.SubmitExpenditureInput) { in.BillAmount = dec("-5") }, budget.ErrInvalidAmount},
		{"missing party", e.clerk, func(in *budget.SubmitExpenditureInput) { in.PartyName = "  " }, budget.ErrInvalidInput},
		{"missing bill number", e.clerk, func(in *budget.SubmitExpenditureInput) { in.BillNumber = "" }, budget.ErrInvalidInput},
		{"exceeds remaining", e.clerk, func(in *budget.SubmitExpenditureInput) { in.BillAmount = dec("1000.01") }, budget.ErrOverspend},
		{"duplicate bill", e.clerk, func(in *budget.SubmitExpenditureInput) { in.BillNumber = existing[0].BillNumber }, budget.ErrDuplicateBill},
		{"other department's allocation", e.clerk, func(in *budget.SubmitExpenditureInput) { in.DepartmentID = otherDept.ID }, budget.ErrInvalidInput},
		{"principal cannot submit", principal, nil, budget.ErrUnauthorized},
		{"clerk of another department", budget.Actor{ID: "clerk-phy", Role: budget.RoleDepartment, DepartmentID: otherDept.ID}, nil, budget.ErrUnauthorized},
		{"unknown allocation", e.clerk, func(in *budget.SubmitExpenditureInput) { in.AllocationID = "missing" }, budget.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid()
			if tt.mutate != nil {
				tt.mutate(&in)
			}
			_, err := e.svc.SubmitExpenditure(e.ctx, tt.actor, in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSubmit_OfficeSubmitsForAnyDepartment(t *testing.T) {
	e := newEnv(t)
	alloc := e.allocate("1000")

	exp, err := e.svc.SubmitExpenditure(e.ctx, office, budget.SubmitExpenditureInput{
		AllocationID: alloc.ID,
		BillNumber:   " INV-77 ",
		BillDate:     testNow,
		BillAmount:   dec("99.50"),
		PartyName:    "Stationery Mart",
		Attachments:  []string{"files/inv-77.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, "INV-77", exp.BillNumber)
	assert.Equal(t, e.dept.ID, exp.DepartmentID)
	assert.Equal(t, e.head.ID, exp.BudgetHeadID)
	assert.Equal(t, e.year.ID, exp.FinancialYearID)
	assert.Equal(t, "office-1", exp.SubmittedBy)
	assert.Equal(t, []string{"files/inv-77.pdf"}, exp.Attachments)
}

func TestSubmit_InactiveDepartment(t *testing.T) {
	e := newEnv(t)
	alloc := e.allocate("1000")
	_, err := e.svc.SetDepartmentActive(e.ctx, admin, e.dept.ID, false)
	require.NoError(t, err)

	_, err = e.svc.SubmitExpenditure(e.ctx, office, budget.SubmitExpenditureInput{
		AllocationID: alloc.ID, BillNumber: "X", BillDate: testNow, BillAmount: dec("1"), PartyName: "P",
	})
	assert.ErrorIs(t, err, budget.ErrInactive)
}

// =============================================================================
// RESUBMISSION
// =============================================================================

func TestResubmit(t *testing.T) {
	// GIVEN: A rejected bill
	e := newEnv(t)
	alloc := e.allocate("1000")
	orig := e.submit(alloc, "400")
	_, err := e.svc.ApplyDecision(e.ctx, orig.ID, e.hod, budget.DecisionReject, "wrong amount")
	require.NoError(t, err)

	// WHEN: It is resubmitted with a new amount
	amount := dec("350")
	fresh, err := e.svc.ResubmitExpenditure(e.ctx, orig.ID, e.clerk, budget.ResubmitInput{BillAmount: &amount})
	require.NoError(t, err)

	// THEN: A new pending record links back and keeps the original bill number
	assert.NotEqual(t, orig.ID, fresh.ID)
	assert.Equal(t, budget.StatusPending, fresh.Status)
	assert.Equal(t, orig.BillNumber, fresh.BillNumber)
	assert.True(t, amount.Equal(fresh.BillAmount))
	require.NotNil(t, fresh.ResubmittedFrom)
	assert.Equal(t, orig.ID, *fresh.ResubmittedFrom)
	assert.Empty(t, fresh.ApprovalSteps)

	// AND: The original is unchanged
	got, err := e.svc.GetExpenditure(e.ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, budget.StatusRejected, got.Status)

	// AND: It cannot be resubmitted again
	_, err = e.svc.ResubmitExpenditure(e.ctx, orig.ID, e.clerk, budget.ResubmitInput{})
	assert.ErrorIs(t, err, budget.ErrNotResubmittable)
}

func TestResubmit_OnlyRejected(t *testing.T) {
	e := newEnv(t)
	exp := e.submit(e.allocate("1000"), "10")

	_, err := e.svc.ResubmitExpenditure(e.ctx, exp.ID, e.clerk, budget.ResubmitInput{})
	assert.ErrorIs(t, err, budget.ErrInvalidTransition)
}

// =============================================================================
// QUEUES
// =============================================================================

func TestPendingFor(t *testing.T) {
	e := newEnv(t)
	alloc := e.allocate("10000")
	pending := e.submit(alloc, "10")
	verified := e.submit(alloc, "20")
	_, err := e.svc.ApplyDecision(e.ctx, verified.ID, e.hod, budget.DecisionVerify, "")
	require.NoError(t, err)

	hodQueue, err := e.svc.PendingFor(e.ctx, e.hod)
	require.NoError(t, err)
	require.Len(t, hodQueue, 1)
	assert.Equal(t, pending.ID, hodQueue[0].ID)

	vpQueue, err := e.svc.PendingFor(e.ctx, vp)
	require.NoError(t, err)
	require.Len(t, vpQueue, 1)
	assert.Equal(t, verified.ID, vpQueue[0].ID)

	officeQueue, err := e.svc.PendingFor(e.ctx, office)
	require.NoError(t, err)
	assert.Empty(t, officeQueue)

	foreign := budget.Actor{ID: "hod-x", Role: budget.RoleHOD, DepartmentID: "elsewhere"}
	foreignQueue, err := e.svc.PendingFor(e.ctx, foreign)
	require.NoError(t, err)
	assert.Empty(t, foreignQueue)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestApproval_ConcurrentApprovalsNeverOverspend(t *testing.T) {
	// GIVEN: Ten verified bills of 100 against an allocation of 1000
	e := newEnv(t)
	alloc := e.allocate("1000")
	var ids []budget.ExpenditureID
	for i := 0; i < 10; i++ {
		exp := e.submit(alloc, "100")
		ids = append(ids, exp.ID)
	}
	for _, id := range ids {
		_, err := e.svc.ApplyDecision(e.ctx, id, e.hod, budget.DecisionVerify, "")
		require.NoError(t, err)
	}
	// Shrink the allocation so only half the bills fit
	half := dec("500")
	_, err := e.svc.UpdateAllocation(e.ctx, office, alloc.ID, budget.UpdateAllocationInput{Amount: &half})
	require.NoError(t, err)

	// WHEN: All are approved concurrently
	var wg sync.WaitGroup
	var mu sync.Mutex
	approved, refused := 0, 0
	for _, id := range ids {
		wg.Add(1)
		go func(id budget.ExpenditureID) {
			defer wg.Done()
			_, err := e.svc.ApplyDecision(e.ctx, id, principal, budget.DecisionApprove, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				approved++
			} else if errors.Is(err, budget.ErrOverspend) {
				refused++
			}
		}(id)
	}
	wg.Wait()

	// THEN: Exactly the amount that fits was approved
	assert.Equal(t, 5, approved)
	assert.Equal(t, 5, refused)
	a := e.allocation(alloc.ID)
	assert.True(t, dec("500").Equal(a.SpentAmount), a.SpentAmount.String())
	assert.True(t, a.RemainingAmount.IsZero())
}

func TestApproval_ConcurrentDuplicateDecisionAppliesOnce(t *testing.T) {
	e := newEnv(t)
	alloc := e.allocate("1000")
	exp := e.submit(alloc, "300")
	_, err := e.svc.ApplyDecision(e.ctx, exp.ID, e.hod, budget.DecisionVerify, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.svc.ApplyDecision(e.ctx, exp.ID, principal, budget.DecisionApprove, "")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, budget.ErrInvalidTransition)
	}
	assert.Equal(t, 1, ok)
	assert.True(t, dec("300").Equal(e.allocation(alloc.ID).SpentAmount))
}
