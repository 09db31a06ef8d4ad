/*
approval.go - Expenditure approval engine

PURPOSE:
  Moves expenditures through pending → verified → approved, or to
  rejected from either non-terminal state. Each decision appends one
  ApprovalStep and the status is re-derived from the full step list.

APPROVAL SIDE EFFECT:
  Reaching approved adds BillAmount to the allocation's SpentAmount in the
  same transaction. The spend is also written to the ledger under the key
  "expenditure:<id>:spend", so it can be counted at most once even if an
  approval is replayed.

CHECK ORDER (ApplyDecision):
  1. Expenditure exists
  2. Financial year not closed (or locked, when policy blocks decisions)
  3. Status accepts the decision       → ErrInvalidTransition
  4. Actor's role may take the decision → ErrUnauthorized
  5. Approval only: allocation can absorb the bill → ErrOverspend

RESUBMISSION:
  Rejected expenditures are never edited. ResubmitExpenditure creates a
  new pending expenditure pointing back at the rejected one.

SEE ALSO:
  - status.go: Transition table and DeriveStatus
  - policy.go: ApprovalChain
*/
package budget

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/generic"
)

type SubmitExpenditureInput struct {
	AllocationID AllocationID
	// DepartmentID defaults to the allocation's department.
	DepartmentID   DepartmentID
	BillNumber     string
	BillDate       time.Time
	BillAmount     decimal.Decimal
	PartyName      string
	ExpenseDetails string
	Attachments    []string
}

func (in *SubmitExpenditureInput) normalize() error {
	in.BillNumber = strings.TrimSpace(in.BillNumber)
	in.PartyName = strings.TrimSpace(in.PartyName)
	if in.AllocationID == "" {
		return invalid("allocation_id", "required")
	}
	if in.BillNumber == "" {
		return invalid("bill_number", "required")
	}
	if in.PartyName == "" {
		return invalid("party_name", "required")
	}
	if in.BillDate.IsZero() {
		return invalid("bill_date", "required")
	}
	if !in.BillAmount.IsPositive() {
		return &ValidationError{Field: "bill_amount", Reason: "must be greater than zero", Err: ErrInvalidAmount}
	}
	return nil
}

// ResubmitInput overrides fields of the rejected expenditure. Nil fields
// are copied from the original.
type ResubmitInput struct {
	BillNumber     *string
	BillDate       *time.Time
	BillAmount     *decimal.Decimal
	PartyName      *string
	ExpenseDetails *string
	Attachments    []string
}

func spendKey(id ExpenditureID) string {
	return "expenditure:" + string(id) + ":spend"
}

// =============================================================================
// SUBMIT
// =============================================================================

func (s *Service) SubmitExpenditure(ctx context.Context, actor Actor, in SubmitExpenditureInput) (*Expenditure, error) {
	if err := authorize(actor, s.Policy.SubmitRoles, "submit expenditures"); err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}

	var created Expenditure
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		alloc, err := mustAllocation(ctx, repo, in.AllocationID)
		if err != nil {
			return err
		}
		if in.DepartmentID == "" {
			in.DepartmentID = alloc.DepartmentID
		}
		if alloc.DepartmentID != in.DepartmentID {
			return invalid("allocation_id", "allocation belongs to another department")
		}
		if err := s.authorizeSubmitter(actor, in.DepartmentID); err != nil {
			return err
		}
		if err := s.checkSubmissionTarget(ctx, repo, alloc, in.BillAmount, "submit expenditure"); err != nil {
			return err
		}
		if err := checkBillUnique(ctx, repo, in.DepartmentID, in.BillNumber); err != nil {
			return err
		}

		now := s.now()
		created = Expenditure{
			ID:              ExpenditureID(s.id()),
			BillNumber:      in.BillNumber,
			BillDate:        in.BillDate,
			BillAmount:      in.BillAmount,
			PartyName:       in.PartyName,
			DepartmentID:    in.DepartmentID,
			BudgetHeadID:    alloc.BudgetHeadID,
			AllocationID:    alloc.ID,
			FinancialYearID: alloc.FinancialYearID,
			ExpenseDetails:  in.ExpenseDetails,
			Attachments:     slices.Clone(in.Attachments),
			SubmittedBy:     actor.ID,
			SubmittedAt:     now,
			Status:          StatusPending,
			UpdatedAt:       now,
		}
		return repo.SaveExpenditure(ctx, created)
	})
	if err != nil {
		s.log("approval").Warn("submission rejected",
			"allocation_id", in.AllocationID, "bill_number", in.BillNumber, "actor", actor.ID, "error", err)
		return nil, err
	}

	s.log("approval").Info("expenditure submitted",
		"expenditure_id", created.ID, "allocation_id", created.AllocationID,
		"amount", created.BillAmount.StringFixed(2), "actor", actor.ID)
	s.publish(ctx, s.event(EventExpenditureSubmitted, string(created.ID), actor, map[string]any{
		"department_id": created.DepartmentID,
		"allocation_id": created.AllocationID,
		"bill_amount":   created.BillAmount.StringFixed(2),
	}))
	return &created, nil
}

func (s *Service) authorizeSubmitter(actor Actor, dept DepartmentID) error {
	foreign := false
	switch actor.Role {
	case RoleDepartment:
		foreign = actor.DepartmentID != dept
	case RoleHOD:
		foreign = actor.DepartmentID != "" && actor.DepartmentID != dept
	}
	if foreign {
		return &AuthorizationError{Role: actor.Role, Operation: "submit for department " + string(dept), Allowed: s.Policy.SubmitRoles}
	}
	return nil
}

// checkSubmissionTarget verifies the year is open, the department is active
// and the allocation can still absorb amount.
func (s *Service) checkSubmissionTarget(ctx context.Context, repo Repository, alloc *Allocation, amount decimal.Decimal, op string) error {
	year, err := mustYear(ctx, repo, alloc.FinancialYearID)
	if err != nil {
		return err
	}
	if year.Status == YearClosed {
		return &YearStateError{YearID: year.ID, Label: year.Label, Status: year.Status, Operation: op, Err: ErrYearClosed}
	}
	dept, err := mustDepartment(ctx, repo, alloc.DepartmentID)
	if err != nil {
		return err
	}
	if !dept.Active {
		return &ValidationError{Field: "department_id", Reason: "department " + dept.Code + " is inactive", Err: ErrInactive}
	}
	if !s.Policy.AllowOverspend && amount.GreaterThan(alloc.RemainingAmount) {
		return &OverspendError{AllocationID: alloc.ID, Remaining: alloc.RemainingAmount, Requested: amount}
	}
	return nil
}

func checkBillUnique(ctx context.Context, repo Repository, dept DepartmentID, bill string) error {
	existing, err := repo.ListExpenditures(ctx, ExpenditureFilter{DepartmentID: dept, BillNumber: bill})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return &ValidationError{Field: "bill_number", Reason: "bill " + bill + " already submitted", Err: ErrDuplicateBill}
	}
	return nil
}

// =============================================================================
// DECIDE
// =============================================================================

// ApplyDecision appends one approval step. On approval the allocation's
// spent amount grows by the bill amount in the same transaction.
func (s *Service) ApplyDecision(ctx context.Context, id ExpenditureID, actor Actor, decision Decision, remarks string) (*Expenditure, error) {
	if !decision.Valid() {
		return nil, &ValidationError{Field: "decision", Reason: "unknown decision " + string(decision), Err: ErrInvalidDecision}
	}

	var updated Expenditure
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		exp, err := mustExpenditure(ctx, repo, id)
		if err != nil {
			return err
		}
		year, err := mustYear(ctx, repo, exp.FinancialYearID)
		if err != nil {
			return err
		}
		if err := s.checkDecisionYear(year); err != nil {
			return err
		}
		if _, ok := NextStatus(exp.Status, decision); !ok {
			return &TransitionError{ExpenditureID: exp.ID, From: exp.Status, Action: string(decision)}
		}
		if !s.Policy.Chain.Authorizes(exp.Status, decision, actor.Role) {
			return &AuthorizationError{
				Role:      actor.Role,
				Operation: string(decision) + " a " + string(exp.Status) + " expenditure",
				Allowed:   s.Policy.Chain.AllowedRoles(exp.Status, decision),
			}
		}
		if actor.Role == RoleHOD && actor.DepartmentID != "" && actor.DepartmentID != exp.DepartmentID {
			return &AuthorizationError{Role: actor.Role, Operation: "decide for department " + string(exp.DepartmentID), Allowed: s.Policy.Chain.AllowedRoles(exp.Status, decision)}
		}

		now := s.now()
		exp.ApprovalSteps = append(slices.Clone(exp.ApprovalSteps), ApprovalStep{
			Role:      actor.Role,
			Decision:  decision,
			ActorID:   actor.ID,
			Timestamp: now,
			Remarks:   remarks,
		})
		if exp.Status, err = DeriveStatus(exp.ApprovalSteps); err != nil {
			return err
		}
		exp.UpdatedAt = now

		if exp.Status == StatusApproved {
			if err := s.applySpend(ctx, repo, exp, actor, now); err != nil {
				return err
			}
		}
		if err := repo.SaveExpenditure(ctx, *exp); err != nil {
			return err
		}
		updated = *exp
		return nil
	})
	if err != nil {
		s.log("approval").Warn("decision rejected",
			"expenditure_id", id, "decision", decision, "role", actor.Role, "actor", actor.ID, "error", err)
		return nil, err
	}

	s.log("approval").Info("decision applied",
		"expenditure_id", updated.ID, "decision", decision, "role", actor.Role,
		"status", updated.Status, "actor", actor.ID)
	s.publish(ctx, s.event(decisionEvent(decision), string(updated.ID), actor, map[string]any{
		"status":        updated.Status,
		"role":          actor.Role,
		"allocation_id": updated.AllocationID,
		"bill_amount":   updated.BillAmount.StringFixed(2),
	}))
	return &updated, nil
}

func (s *Service) checkDecisionYear(year *FinancialYear) error {
	switch {
	case year.Status == YearClosed:
		return &YearStateError{YearID: year.ID, Label: year.Label, Status: year.Status, Operation: "decide expenditure", Err: ErrYearClosed}
	case year.Status == YearLocked && s.Policy.BlockDecisionsWhenLocked:
		return &YearStateError{YearID: year.ID, Label: year.Label, Status: year.Status, Operation: "decide expenditure", Err: ErrYearLocked}
	}
	return nil
}

// applySpend records the approved bill against its allocation exactly once.
func (s *Service) applySpend(ctx context.Context, repo Repository, exp *Expenditure, actor Actor, now time.Time) error {
	key := spendKey(exp.ID)
	counted, err := repo.Exists(ctx, key)
	if err != nil {
		return err
	}
	if counted {
		s.log("approval").Warn("spend already recorded", "expenditure_id", exp.ID, "key", key)
		return nil
	}

	alloc, err := mustAllocation(ctx, repo, exp.AllocationID)
	if err != nil {
		return err
	}
	spent := alloc.SpentAmount.Add(exp.BillAmount)
	if !s.Policy.AllowOverspend && spent.GreaterThan(alloc.AllocatedAmount) {
		return &OverspendError{AllocationID: alloc.ID, Remaining: alloc.RemainingAmount, Requested: exp.BillAmount}
	}

	err = generic.NewLedger(repo).Append(ctx, generic.Transaction{
		ID:             generic.TransactionID(s.id()),
		AccountID:      generic.AccountID(alloc.ID),
		EffectiveAt:    generic.At(now),
		Delta:          generic.NewAmountFromDecimal(exp.BillAmount.Neg(), s.Policy.Currency),
		Type:           generic.TxSpend,
		ReferenceID:    string(exp.ID),
		Reason:         "bill " + exp.BillNumber + " approved",
		IdempotencyKey: key,
		CreatedBy:      actor.ID,
		CreatedAt:      generic.At(now),
	})
	if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
		return nil
	}
	if err != nil {
		return err
	}

	alloc.SpentAmount = spent
	alloc.recompute()
	alloc.UpdatedAt = now
	return repo.SaveAllocation(ctx, *alloc)
}

// =============================================================================
// RESUBMIT
// =============================================================================

// ResubmitExpenditure creates a fresh pending expenditure from a rejected
// one. The original keeps its status and history.
func (s *Service) ResubmitExpenditure(ctx context.Context, originalID ExpenditureID, actor Actor, revised ResubmitInput) (*Expenditure, error) {
	if err := authorize(actor, s.Policy.SubmitRoles, "resubmit expenditures"); err != nil {
		return nil, err
	}

	var created Expenditure
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		orig, err := mustExpenditure(ctx, repo, originalID)
		if err != nil {
			return err
		}
		if orig.Status != StatusRejected {
			return &TransitionError{ExpenditureID: orig.ID, From: orig.Status, Action: "resubmit"}
		}
		if err := s.authorizeSubmitter(actor, orig.DepartmentID); err != nil {
			return err
		}
		children, err := repo.ListExpenditures(ctx, ExpenditureFilter{ResubmittedFrom: orig.ID})
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return fmt.Errorf("expenditure %s resubmitted as %s: %w", orig.ID, children[0].ID, ErrNotResubmittable)
		}

		in := SubmitExpenditureInput{
			AllocationID:   orig.AllocationID,
			DepartmentID:   orig.DepartmentID,
			BillNumber:     orig.BillNumber,
			BillDate:       orig.BillDate,
			BillAmount:     orig.BillAmount,
			PartyName:      orig.PartyName,
			ExpenseDetails: orig.ExpenseDetails,
			Attachments:    orig.Attachments,
		}
		revised.apply(&in)
		if err := in.normalize(); err != nil {
			return err
		}

		alloc, err := mustAllocation(ctx, repo, in.AllocationID)
		if err != nil {
			return err
		}
		if err := s.checkSubmissionTarget(ctx, repo, alloc, in.BillAmount, "resubmit expenditure"); err != nil {
			return err
		}
		if in.BillNumber != orig.BillNumber {
			if err := checkBillUnique(ctx, repo, in.DepartmentID, in.BillNumber); err != nil {
				return err
			}
		}

		now := s.now()
		from := orig.ID
		created = Expenditure{
			ID:              ExpenditureID(s.id()),
			BillNumber:      in.BillNumber,
			BillDate:        in.BillDate,
			BillAmount:      in.BillAmount,
			PartyName:       in.PartyName,
			DepartmentID:    in.DepartmentID,
			BudgetHeadID:    alloc.BudgetHeadID,
			AllocationID:    alloc.ID,
			FinancialYearID: alloc.FinancialYearID,
			ExpenseDetails:  in.ExpenseDetails,
			Attachments:     slices.Clone(in.Attachments),
			SubmittedBy:     actor.ID,
			SubmittedAt:     now,
			Status:          StatusPending,
			ResubmittedFrom: &from,
			UpdatedAt:       now,
		}
		return repo.SaveExpenditure(ctx, created)
	})
	if err != nil {
		s.log("approval").Warn("resubmission rejected", "original_id", originalID, "actor", actor.ID, "error", err)
		return nil, err
	}

	s.log("approval").Info("expenditure resubmitted",
		"expenditure_id", created.ID, "original_id", originalID, "actor", actor.ID)
	s.publish(ctx, s.event(EventExpenditureResubmitted, string(created.ID), actor, map[string]any{
		"resubmitted_from": originalID,
		"allocation_id":    created.AllocationID,
		"bill_amount":      created.BillAmount.StringFixed(2),
	}))
	return &created, nil
}

func (r ResubmitInput) apply(in *SubmitExpenditureInput) {
	if r.BillNumber != nil {
		in.BillNumber = *r.BillNumber
	}
	if r.BillDate != nil {
		in.BillDate = *r.BillDate
	}
	if r.BillAmount != nil {
		in.BillAmount = *r.BillAmount
	}
	if r.PartyName != nil {
		in.PartyName = *r.PartyName
	}
	if r.ExpenseDetails != nil {
		in.ExpenseDetails = *r.ExpenseDetails
	}
	if r.Attachments != nil {
		in.Attachments = r.Attachments
	}
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) GetExpenditure(ctx context.Context, id ExpenditureID) (*Expenditure, error) {
	return mustExpenditure(ctx, s.Repo, id)
}

func (s *Service) ListExpenditures(ctx context.Context, filter ExpenditureFilter) ([]Expenditure, error) {
	return s.Repo.ListExpenditures(ctx, filter)
}

// PendingFor returns the expenditures awaiting a decision the actor may
// take. HODs only see their own department.
func (s *Service) PendingFor(ctx context.Context, actor Actor) ([]Expenditure, error) {
	statuses := s.Policy.Chain.QueueStatuses(actor.Role)
	if len(statuses) == 0 {
		return []Expenditure{}, nil
	}
	filter := ExpenditureFilter{Statuses: statuses}
	if actor.Role == RoleHOD {
		filter.DepartmentID = actor.DepartmentID
	}
	return s.Repo.ListExpenditures(ctx, filter)
}
