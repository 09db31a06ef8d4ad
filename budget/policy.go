package budget

import (
	"slices"

	"github.com/warp/budget-engine/generic"
)

// =============================================================================
// APPROVAL CHAIN - Which roles may take which decision
// =============================================================================

// ApprovalChain maps each (status, decision) pair to the roles allowed to
// take it. The default chain is HOD verification followed by
// vice-principal or principal approval.
type ApprovalChain struct {
	VerifyRoles         []Role
	ApproveRoles        []Role
	RejectRolesPending  []Role
	RejectRolesVerified []Role
}

func DefaultApprovalChain() ApprovalChain {
	verify := []Role{RoleHOD}
	approve := []Role{RoleVicePrincipal, RolePrincipal}
	return ApprovalChain{
		VerifyRoles:         verify,
		ApproveRoles:        approve,
		RejectRolesPending:  append(slices.Clone(verify), approve...),
		RejectRolesVerified: slices.Clone(approve),
	}
}

// AllowedRoles lists the roles that may apply decision while the
// expenditure is in status from. Nil if the transition does not exist.
func (c ApprovalChain) AllowedRoles(from ExpenditureStatus, decision Decision) []Role {
	switch {
	case from == StatusPending && decision == DecisionVerify:
		return c.VerifyRoles
	case from == StatusPending && decision == DecisionReject:
		return c.RejectRolesPending
	case from == StatusVerified && decision == DecisionApprove:
		return c.ApproveRoles
	case from == StatusVerified && decision == DecisionReject:
		return c.RejectRolesVerified
	}
	return nil
}

func (c ApprovalChain) Authorizes(from ExpenditureStatus, decision Decision, role Role) bool {
	return slices.Contains(c.AllowedRoles(from, decision), role)
}

// QueueStatuses returns the statuses whose expenditures wait on role to move
// them forward: pending for verifiers, verified for approvers.
func (c ApprovalChain) QueueStatuses(role Role) []ExpenditureStatus {
	var statuses []ExpenditureStatus
	if slices.Contains(c.VerifyRoles, role) {
		statuses = append(statuses, StatusPending)
	}
	if slices.Contains(c.ApproveRoles, role) {
		statuses = append(statuses, StatusVerified)
	}
	return statuses
}

func (c ApprovalChain) Validate() error {
	if len(c.VerifyRoles) == 0 {
		return invalid("verify_roles", "at least one role required")
	}
	if len(c.ApproveRoles) == 0 {
		return invalid("approve_roles", "at least one role required")
	}
	return nil
}

// =============================================================================
// POLICY - Governance configuration
// =============================================================================

type Policy struct {
	Chain ApprovalChain

	// AllowOverspend lets approvals push SpentAmount past AllocatedAmount.
	AllowOverspend bool

	// BlockDecisionsWhenLocked rejects approval decisions on expenditures of
	// locked years. Closed years always reject.
	BlockDecisionsWhenLocked bool

	// SingleActiveYear forbids activating a second year.
	SingleActiveYear bool

	Carryforward CarryforwardStrategy
	Periods      generic.PeriodConfig
	Currency     generic.Currency

	LifecycleRoles   []Role
	RecalculateRoles []Role
	MasterDataRoles  []Role
	SubmitRoles      []Role
}

func DefaultPolicy() Policy {
	return Policy{
		Chain:            DefaultApprovalChain(),
		SingleActiveYear: true,
		Carryforward:     RemainingCarryforward{},
		Periods:          generic.IndianFinancialYear,
		Currency:         generic.CurrencyINR,
		LifecycleRoles:   []Role{RoleAdmin, RolePrincipal},
		RecalculateRoles: []Role{RoleAdmin, RolePrincipal, RoleOffice, RoleSystem},
		MasterDataRoles:  []Role{RoleAdmin, RoleOffice},
		SubmitRoles:      []Role{RoleDepartment, RoleHOD, RoleOffice},
	}
}

func (p Policy) Validate() error {
	if err := p.Chain.Validate(); err != nil {
		return err
	}
	if p.Carryforward == nil {
		return invalid("carryforward", "strategy required")
	}
	if m := p.Periods.FiscalYearStartMonth; p.Periods.Type == generic.PeriodFiscalYear && (m < 1 || m > 12) {
		return invalid("fiscal_year_start_month", "must be 1-12")
	}
	return nil
}

func authorize(actor Actor, allowed []Role, operation string) error {
	if slices.Contains(allowed, actor.Role) {
		return nil
	}
	return &AuthorizationError{Role: actor.Role, Operation: operation, Allowed: allowed}
}
