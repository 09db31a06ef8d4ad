package budget

import (
	"context"
	"strings"
)

// =============================================================================
// DEPARTMENTS
// =============================================================================

type DepartmentInput struct {
	Name  string
	Code  string
	HODID string
}

// DepartmentUpdate changes the named fields only.
type DepartmentUpdate struct {
	Name  *string
	Code  *string
	HODID *string
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Service) CreateDepartment(ctx context.Context, actor Actor, in DepartmentInput) (*Department, error) {
	if err := authorize(actor, s.Policy.MasterDataRoles, "manage departments"); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Code = normalizeCode(in.Code)
	if in.Name == "" {
		return nil, invalid("name", "required")
	}
	if in.Code == "" {
		return nil, invalid("code", "required")
	}

	var created Department
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		if err := checkDepartmentCode(ctx, repo, in.Code, ""); err != nil {
			return err
		}
		now := s.now()
		created = Department{
			ID:        DepartmentID(s.id()),
			Name:      in.Name,
			Code:      in.Code,
			HODID:     in.HODID,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return repo.SaveDepartment(ctx, created)
	})
	if err != nil {
		return nil, err
	}
	s.log("allocation").Info("department created", "department_id", created.ID, "code", created.Code)
	return &created, nil
}

func (s *Service) UpdateDepartment(ctx context.Context, actor Actor, id DepartmentID, in DepartmentUpdate) (*Department, error) {
	if err := authorize(actor, s.Policy.MasterDataRoles, "manage departments"); err != nil {
		return nil, err
	}
	var updated Department
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		d, err := mustDepartment(ctx, repo, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return invalid("name", "required")
			}
			d.Name = name
		}
		if in.Code != nil {
			code := normalizeCode(*in.Code)
			if code == "" {
				return invalid("code", "required")
			}
			if err := checkDepartmentCode(ctx, repo, code, d.ID); err != nil {
				return err
			}
			d.Code = code
		}
		if in.HODID != nil {
			d.HODID = *in.HODID
		}
		d.UpdatedAt = s.now()
		updated = *d
		return repo.SaveDepartment(ctx, *d)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// SetDepartmentActive deactivates or reactivates a department. Inactive
// departments keep their history but receive no new allocations or bills.
func (s *Service) SetDepartmentActive(ctx context.Context, actor Actor, id DepartmentID, active bool) (*Department, error) {
	if err := authorize(actor, s.Policy.MasterDataRoles, "manage departments"); err != nil {
		return nil, err
	}
	var updated Department
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		d, err := mustDepartment(ctx, repo, id)
		if err != nil {
			return err
		}
		d.Active = active
		d.UpdatedAt = s.now()
		updated = *d
		return repo.SaveDepartment(ctx, *d)
	})
	if err != nil {
		return nil, err
	}
	s.log("allocation").Info("department status changed", "department_id", id, "active", active)
	return &updated, nil
}

// DeleteDepartment removes a department that no allocation or expenditure
// references.
func (s *Service) DeleteDepartment(ctx context.Context, actor Actor, id DepartmentID) error {
	if err := authorize(actor, s.Policy.MasterDataRoles, "manage departments"); err != nil {
		return err
	}
	return s.Repo.WithTx(ctx, func(repo Repository) error {
		if _, err := mustDepartment(ctx, repo, id); err != nil {
			return err
		}
		allocs, err := repo.ListAllocations(ctx, AllocationFilter{DepartmentID: id})
		if err != nil {
			return err
		}
		exps, err := repo.ListExpenditures(ctx, ExpenditureFilter{DepartmentID: id})
		if err != nil {
			return err
		}
		if len(allocs) > 0 || len(exps) > 0 {
			return &ValidationError{Field: "department_id", Reason: "department has allocations or expenditures; deactivate it instead", Err: ErrReferenced}
		}
		return repo.DeleteDepartment(ctx, id)
	})
}

func (s *Service) GetDepartment(ctx context.Context, id DepartmentID) (*Department, error) {
	return mustDepartment(ctx, s.Repo, id)
}

func (s *Service) ListDepartments(ctx context.Context, includeInactive bool) ([]Department, error) {
	return s.Repo.ListDepartments(ctx, includeInactive)
}

func checkDepartmentCode(ctx context.Context, repo Repository, code string, self DepartmentID) error {
	existing, err := repo.GetDepartmentByCode(ctx, code)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != self {
		return &ValidationError{Field: "code", Reason: "department code " + code + " already in use", Err: ErrDuplicateCode}
	}
	return nil
}

// =============================================================================
// BUDGET HEADS
// =============================================================================

type BudgetHeadInput struct {
	Name        string
	Code        string
	Description string
}

type BudgetHeadUpdate struct {
	Name        *string
	Code        *string
	Description *string
}

func (s *Service) CreateBudgetHead(ctx context.Context, actor Actor, in BudgetHeadInput) (*BudgetHead, error) {
	if err := authorize(actor, s.Policy.MasterDataRoles, "manage budget heads"); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Code = normalizeCode(in.Code)
	if in.Name == "" {
		return nil, invalid("name", "required")
	}
	if in.Code == "" {
		return nil, invalid("code", "required")
	}

	var created BudgetHead
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		if err := checkBudgetHeadCode(ctx, repo, in.Code, ""); err != nil {
			return err
		}
		now := s.now()
		created = BudgetHead{
			ID:          BudgetHeadID(s.id()),
			Name:        in.Name,
			Code:        in.Code,
			Description: in.Description,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return repo.SaveBudgetHead(ctx, created)
	})
	if err != nil {
		return nil, err
	}
	s.log("allocation").Info("budget head created", "budget_head_id", created.ID, "code", created.Code)
	return &created, nil
}

func (s *Service) UpdateBudgetHead(ctx context.Context, actor Actor, id BudgetHeadID, in BudgetHeadUpdate) (*BudgetHead, error) {
	if err := authorize(actor, s.Policy.MasterDataRoles, "manage budget heads"); err != nil {
		return nil, err
	}
	var updated BudgetHead
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		h, err := mustBudgetHead(ctx, repo, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return invalid("name", "required")
			}
			h.Name = name
		}
		if in.Code != nil {
			code := normalizeCode(*in.Code)
			if code == "" {
				return invalid("code", "required")
			}
			if err := checkBudgetHeadCode(ctx, repo, code, h.ID); err != nil {
				return err
			}
			h.Code = code
		}
		if in.Description != nil {
			h.Description = *in.Description
		}
		h.UpdatedAt = s.now()
		updated = *h
		return repo.SaveBudgetHead(ctx, *h)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Service) SetBudgetHeadActive(ctx context.Context, actor Actor, id BudgetHeadID, active bool) (*BudgetHead, error) {
	if err := authorize(actor, s.Policy.MasterDataRoles, "manage budget heads"); err != nil {
		return nil, err
	}
	var updated BudgetHead
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		h, err := mustBudgetHead(ctx, repo, id)
		if err != nil {
			return err
		}
		h.Active = active
		h.UpdatedAt = s.now()
		updated = *h
		return repo.SaveBudgetHead(ctx, *h)
	})
	if err != nil {
		return nil, err
	}
	s.log("allocation").Info("budget head status changed", "budget_head_id", id, "active", active)
	return &updated, nil
}

func (s *Service) DeleteBudgetHead(ctx context.Context, actor Actor, id BudgetHeadID) error {
	if err := authorize(actor, s.Policy.MasterDataRoles, "manage budget heads"); err != nil {
		return err
	}
	return s.Repo.WithTx(ctx, func(repo Repository) error {
		if _, err := mustBudgetHead(ctx, repo, id); err != nil {
			return err
		}
		allocs, err := repo.ListAllocations(ctx, AllocationFilter{BudgetHeadID: id})
		if err != nil {
			return err
		}
		if len(allocs) > 0 {
			return &ValidationError{Field: "budget_head_id", Reason: "budget head has allocations; deactivate it instead", Err: ErrReferenced}
		}
		return repo.DeleteBudgetHead(ctx, id)
	})
}

func (s *Service) GetBudgetHead(ctx context.Context, id BudgetHeadID) (*BudgetHead, error) {
	return mustBudgetHead(ctx, s.Repo, id)
}

func (s *Service) ListBudgetHeads(ctx context.Context, includeInactive bool) ([]BudgetHead, error) {
	return s.Repo.ListBudgetHeads(ctx, includeInactive)
}

func checkBudgetHeadCode(ctx context.Context, repo Repository, code string, self BudgetHeadID) error {
	existing, err := repo.GetBudgetHeadByCode(ctx, code)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != self {
		return &ValidationError{Field: "code", Reason: "budget head code " + code + " already in use", Err: ErrDuplicateCode}
	}
	return nil
}
