/*
Package factory provides JSON to Go governance policy conversion.

PURPOSE:
  Converts a JSON governance document into a budget.Policy. Colleges differ
  in who verifies bills, whether approvals may overspend an allocation and
  how a closed year's carryforward is computed; the factory lets them set
  those rules in a file instead of code.

JSON SCHEMA:
  {
    "verify_roles": ["hod"],
    "approve_roles": ["vice_principal", "principal"],
    "reject_roles_pending": ["hod", "vice_principal", "principal"],
    "reject_roles_verified": ["vice_principal", "principal"],
    "allow_overspend": false,
    "block_decisions_when_locked": false,
    "single_active_year": true,
    "fiscal_year_start_month": 4,
    "currency": "INR",
    "carryforward": {"strategy": "formula", "expression": "allocated - spent"},
    "lifecycle_roles": ["admin", "principal"],
    "master_data_roles": ["admin", "office"],
    "submit_roles": ["department", "hod", "office"]
  }

DEFAULTS:
  Every field is optional. Missing fields keep budget.DefaultPolicy().
  reject_roles_pending defaults to verify ∪ approve roles and
  reject_roles_verified to the approve roles.

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.ParsePolicy(jsonString)
  svc := budget.NewService(store, policy)

SEE ALSO:
  - budget/policy.go: Policy and ApprovalChain
  - budget/carryforward.go: Carryforward strategies
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a governance policy.
type PolicyJSON struct {
	VerifyRoles              []string          `json:"verify_roles,omitempty"`
	ApproveRoles             []string          `json:"approve_roles,omitempty"`
	RejectRolesPending       []string          `json:"reject_roles_pending,omitempty"`
	RejectRolesVerified      []string          `json:"reject_roles_verified,omitempty"`
	AllowOverspend           *bool             `json:"allow_overspend,omitempty"`
	BlockDecisionsWhenLocked *bool             `json:"block_decisions_when_locked,omitempty"`
	SingleActiveYear         *bool             `json:"single_active_year,omitempty"`
	FiscalYearStartMonth     int               `json:"fiscal_year_start_month,omitempty"` // 1-12
	Currency                 string            `json:"currency,omitempty"`
	Carryforward             *CarryforwardJSON `json:"carryforward,omitempty"`
	LifecycleRoles           []string          `json:"lifecycle_roles,omitempty"`
	RecalculateRoles         []string          `json:"recalculate_roles,omitempty"`
	MasterDataRoles          []string          `json:"master_data_roles,omitempty"`
	SubmitRoles              []string          `json:"submit_roles,omitempty"`
}

// CarryforwardJSON selects the strategy run when a year closes.
type CarryforwardJSON struct {
	Strategy   string `json:"strategy"`             // remaining, formula
	Expression string `json:"expression,omitempty"` // formula only
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to budget.Policy values.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON string into a validated Policy.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (budget.Policy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return budget.Policy{}, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// LoadFile reads a policy document from disk. An empty path yields the
// default policy.
func (f *PolicyFactory) LoadFile(path string) (budget.Policy, error) {
	if path == "" {
		return budget.DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return budget.Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return f.ParsePolicy(string(data))
}

// FromJSON converts PolicyJSON to budget.Policy, starting from the defaults.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (budget.Policy, error) {
	policy := budget.DefaultPolicy()

	var err error
	if len(pj.VerifyRoles) > 0 {
		if policy.Chain.VerifyRoles, err = parseRoles("verify_roles", pj.VerifyRoles); err != nil {
			return budget.Policy{}, err
		}
	}
	if len(pj.ApproveRoles) > 0 {
		if policy.Chain.ApproveRoles, err = parseRoles("approve_roles", pj.ApproveRoles); err != nil {
			return budget.Policy{}, err
		}
	}

	// reject roles follow the verify/approve roles unless set explicitly
	policy.Chain.RejectRolesPending = union(policy.Chain.VerifyRoles, policy.Chain.ApproveRoles)
	policy.Chain.RejectRolesVerified = slices.Clone(policy.Chain.ApproveRoles)
	if len(pj.RejectRolesPending) > 0 {
		if policy.Chain.RejectRolesPending, err = parseRoles("reject_roles_pending", pj.RejectRolesPending); err != nil {
			return budget.Policy{}, err
		}
	}
	if len(pj.RejectRolesVerified) > 0 {
		if policy.Chain.RejectRolesVerified, err = parseRoles("reject_roles_verified", pj.RejectRolesVerified); err != nil {
			return budget.Policy{}, err
		}
	}

	if pj.AllowOverspend != nil {
		policy.AllowOverspend = *pj.AllowOverspend
	}
	if pj.BlockDecisionsWhenLocked != nil {
		policy.BlockDecisionsWhenLocked = *pj.BlockDecisionsWhenLocked
	}
	if pj.SingleActiveYear != nil {
		policy.SingleActiveYear = *pj.SingleActiveYear
	}
	if pj.FiscalYearStartMonth != 0 {
		policy.Periods = parsePeriodConfig(pj.FiscalYearStartMonth)
	}
	if pj.Currency != "" {
		policy.Currency = generic.Currency(pj.Currency)
	}
	if pj.Carryforward != nil {
		if policy.Carryforward, err = parseCarryforward(*pj.Carryforward); err != nil {
			return budget.Policy{}, err
		}
	}

	for _, field := range []struct {
		name   string
		values []string
		target *[]budget.Role
	}{
		{"lifecycle_roles", pj.LifecycleRoles, &policy.LifecycleRoles},
		{"recalculate_roles", pj.RecalculateRoles, &policy.RecalculateRoles},
		{"master_data_roles", pj.MasterDataRoles, &policy.MasterDataRoles},
		{"submit_roles", pj.SubmitRoles, &policy.SubmitRoles},
	} {
		if len(field.values) == 0 {
			continue
		}
		if *field.target, err = parseRoles(field.name, field.values); err != nil {
			return budget.Policy{}, err
		}
	}

	if err := policy.Validate(); err != nil {
		return budget.Policy{}, err
	}
	return policy, nil
}

// ToJSON converts a Policy back to its JSON form.
func (f *PolicyFactory) ToJSON(policy budget.Policy) PolicyJSON {
	pj := PolicyJSON{
		VerifyRoles:              roleStrings(policy.Chain.VerifyRoles),
		ApproveRoles:             roleStrings(policy.Chain.ApproveRoles),
		RejectRolesPending:       roleStrings(policy.Chain.RejectRolesPending),
		RejectRolesVerified:      roleStrings(policy.Chain.RejectRolesVerified),
		AllowOverspend:           &policy.AllowOverspend,
		BlockDecisionsWhenLocked: &policy.BlockDecisionsWhenLocked,
		SingleActiveYear:         &policy.SingleActiveYear,
		FiscalYearStartMonth:     int(policy.Periods.FiscalYearStartMonth),
		Currency:                 string(policy.Currency),
		LifecycleRoles:           roleStrings(policy.LifecycleRoles),
		RecalculateRoles:         roleStrings(policy.RecalculateRoles),
		MasterDataRoles:          roleStrings(policy.MasterDataRoles),
		SubmitRoles:              roleStrings(policy.SubmitRoles),
	}
	if policy.Periods.Type == generic.PeriodCalendarYear {
		pj.FiscalYearStartMonth = int(time.January)
	}

	switch cf := policy.Carryforward.(type) {
	case *budget.FormulaCarryforward:
		pj.Carryforward = &CarryforwardJSON{Strategy: cf.Name(), Expression: cf.Expression()}
	case nil:
	default:
		pj.Carryforward = &CarryforwardJSON{Strategy: cf.Name()}
	}
	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

var knownRoles = []budget.Role{
	budget.RoleAdmin,
	budget.RoleOffice,
	budget.RoleHOD,
	budget.RoleVicePrincipal,
	budget.RolePrincipal,
	budget.RoleDepartment,
	budget.RoleSystem,
}

func parseRoles(field string, values []string) ([]budget.Role, error) {
	roles := make([]budget.Role, 0, len(values))
	for _, v := range values {
		r := budget.Role(v)
		if !slices.Contains(knownRoles, r) {
			return nil, &budget.ValidationError{Field: field, Reason: fmt.Sprintf("unknown role %q", v)}
		}
		if !slices.Contains(roles, r) {
			roles = append(roles, r)
		}
	}
	return roles, nil
}

func parsePeriodConfig(startMonth int) generic.PeriodConfig {
	if startMonth == int(time.January) {
		return generic.PeriodConfig{Type: generic.PeriodCalendarYear}
	}
	return generic.PeriodConfig{Type: generic.PeriodFiscalYear, FiscalYearStartMonth: time.Month(startMonth)}
}

func parseCarryforward(cj CarryforwardJSON) (budget.CarryforwardStrategy, error) {
	switch cj.Strategy {
	case "", "remaining":
		return budget.RemainingCarryforward{}, nil
	case "formula":
		if cj.Expression == "" {
			return nil, &budget.ValidationError{Field: "carryforward.expression", Reason: "required for formula strategy"}
		}
		return budget.NewFormulaCarryforward(cj.Expression)
	default:
		return nil, &budget.ValidationError{Field: "carryforward.strategy", Reason: fmt.Sprintf("unknown strategy %q", cj.Strategy)}
	}
}

func union(a, b []budget.Role) []budget.Role {
	out := slices.Clone(a)
	for _, r := range b {
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}

func roleStrings(roles []budget.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
