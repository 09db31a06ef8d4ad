package budget

import (
	"cmp"
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/generic"
)

// ReportFilter narrows a report. Zero fields match everything.
type ReportFilter struct {
	FinancialYearID YearID
	DepartmentID    DepartmentID
	BudgetHeadID    BudgetHeadID
}

func (f ReportFilter) allocations() AllocationFilter {
	return AllocationFilter{FinancialYearID: f.FinancialYearID, DepartmentID: f.DepartmentID, BudgetHeadID: f.BudgetHeadID}
}

func (f ReportFilter) expenditures() ExpenditureFilter {
	return ExpenditureFilter{FinancialYearID: f.FinancialYearID, DepartmentID: f.DepartmentID, BudgetHeadID: f.BudgetHeadID}
}

type AllocationStats struct {
	Filter       ReportFilter
	Totals       Rollup
	ByDepartment []Rollup
	ByBudgetHead []Rollup
}

type Dashboard struct {
	Year               *FinancialYear
	Totals             Rollup
	TotalIncome        decimal.Decimal
	StatusCounts       map[ExpenditureStatus]int
	StatusAmounts      map[ExpenditureStatus]decimal.Decimal
	AwaitingDecision   int
	ByDepartment       []Rollup
	ByBudgetHead       []Rollup
	RecentExpenditures []Expenditure
}

type DepartmentComparison struct {
	DepartmentID DepartmentID
	Name         string
	Allocated    Change
	Spent        Change
	Utilization  Change
}

type YearComparison struct {
	Current     YearTotals
	Previous    *YearTotals
	Changes     []Change
	Departments []DepartmentComparison
}

const recentExpenditureLimit = 10

// =============================================================================
// ALLOCATION STATS
// =============================================================================

func (s *Service) AllocationStats(ctx context.Context, filter ReportFilter) (*AllocationStats, error) {
	allocs, exps, err := s.loadReportData(ctx, filter)
	if err != nil {
		return nil, err
	}
	byDept, byHead, err := s.namedRollups(ctx, allocs, exps)
	if err != nil {
		return nil, err
	}
	return &AllocationStats{
		Filter:       filter,
		Totals:       TotalRollup("total", allocs, exps),
		ByDepartment: byDept,
		ByBudgetHead: byHead,
	}, nil
}

// =============================================================================
// DASHBOARD
// =============================================================================

// DashboardReport summarizes one year. Without a year in the filter it uses
// the current financial year, falling back to all years when none exists.
func (s *Service) DashboardReport(ctx context.Context, filter ReportFilter) (*Dashboard, error) {
	var year *FinancialYear
	var err error
	if filter.FinancialYearID != "" {
		if year, err = mustYear(ctx, s.Repo, filter.FinancialYearID); err != nil {
			return nil, err
		}
	} else {
		year, err = s.CurrentFinancialYear(ctx, s.now())
		switch {
		case err == nil:
			filter.FinancialYearID = year.ID
		case IsNotFound(err):
			year = nil
		default:
			return nil, err
		}
	}

	allocs, exps, err := s.loadReportData(ctx, filter)
	if err != nil {
		return nil, err
	}
	byDept, byHead, err := s.namedRollups(ctx, allocs, exps)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		Year:          year,
		Totals:        TotalRollup("total", allocs, exps),
		TotalIncome:   decimal.Zero,
		StatusCounts:  make(map[ExpenditureStatus]int),
		StatusAmounts: make(map[ExpenditureStatus]decimal.Decimal),
		ByDepartment:  byDept,
		ByBudgetHead:  byHead,
	}
	for _, st := range []ExpenditureStatus{StatusPending, StatusVerified, StatusApproved, StatusRejected} {
		d.StatusAmounts[st] = decimal.Zero
		d.StatusCounts[st] = 0
	}
	for _, e := range exps {
		d.StatusCounts[e.Status]++
		d.StatusAmounts[e.Status] = d.StatusAmounts[e.Status].Add(e.BillAmount)
	}
	d.AwaitingDecision = d.StatusCounts[StatusPending] + d.StatusCounts[StatusVerified]

	if year != nil {
		incomes, err := s.Repo.ListIncome(ctx, year.ID)
		if err != nil {
			return nil, err
		}
		for _, in := range incomes {
			d.TotalIncome = d.TotalIncome.Add(in.Amount)
		}
	}

	recent := slices.Clone(exps)
	slices.SortFunc(recent, func(a, b Expenditure) int { return b.SubmittedAt.Compare(a.SubmittedAt) })
	if len(recent) > recentExpenditureLimit {
		recent = recent[:recentExpenditureLimit]
	}
	d.RecentExpenditures = recent
	return d, nil
}

// =============================================================================
// YEAR COMPARISON
// =============================================================================

// YearComparison compares two years metric by metric and per department.
// An empty previousID selects the year labelled just before the current
// one; if that year does not exist every change reports NoData.
func (s *Service) YearComparison(ctx context.Context, currentID, previousID YearID) (*YearComparison, error) {
	current, err := mustYear(ctx, s.Repo, currentID)
	if err != nil {
		return nil, err
	}
	previous, err := s.previousYear(ctx, current, previousID)
	if err != nil {
		return nil, err
	}

	curTotals, curAllocs, err := s.yearTotals(ctx, current)
	if err != nil {
		return nil, err
	}
	result := &YearComparison{Current: curTotals}

	var prevAllocs []Allocation
	if previous != nil {
		prevTotals, allocs, err := s.yearTotals(ctx, previous)
		if err != nil {
			return nil, err
		}
		result.Previous = &prevTotals
		prevAllocs = allocs
	}

	for _, m := range AllMetrics {
		c, err := YearOverYearChange(result.Current, result.Previous, m)
		if err != nil {
			return nil, err
		}
		result.Changes = append(result.Changes, c)
	}

	depts, err := s.Repo.ListDepartments(ctx, true)
	if err != nil {
		return nil, err
	}
	for _, d := range depts {
		cur := departmentTotals(d.ID, current, curAllocs)
		var prev *YearTotals
		if previous != nil {
			prev = departmentTotals(d.ID, previous, prevAllocs)
		}
		if cur == nil && prev == nil {
			continue
		}
		if cur == nil {
			cur = &YearTotals{YearID: current.ID, Label: current.Label, Allocated: decimal.Zero, Spent: decimal.Zero, Income: decimal.Zero}
		}
		dc := DepartmentComparison{DepartmentID: d.ID, Name: d.Name}
		dc.Allocated, _ = YearOverYearChange(*cur, prev, MetricAllocated)
		dc.Spent, _ = YearOverYearChange(*cur, prev, MetricSpent)
		dc.Utilization, _ = YearOverYearChange(*cur, prev, MetricUtilization)
		result.Departments = append(result.Departments, dc)
	}
	slices.SortFunc(result.Departments, func(a, b DepartmentComparison) int { return cmp.Compare(a.Name, b.Name) })
	return result, nil
}

func (s *Service) previousYear(ctx context.Context, current *FinancialYear, previousID YearID) (*FinancialYear, error) {
	if previousID != "" {
		return mustYear(ctx, s.Repo, previousID)
	}
	period, err := s.Policy.Periods.ParseLabel(current.Label)
	if err != nil {
		// labels that do not parse have no predecessor
		return nil, nil
	}
	prev := period.PreviousPeriod()
	return s.Repo.GetFinancialYearByLabel(ctx, s.Policy.Periods.Label(generic.DateOf(prev.Start.Time)))
}

func (s *Service) yearTotals(ctx context.Context, y *FinancialYear) (YearTotals, []Allocation, error) {
	allocs, err := s.Repo.ListAllocations(ctx, AllocationFilter{FinancialYearID: y.ID})
	if err != nil {
		return YearTotals{}, nil, err
	}
	incomes, err := s.Repo.ListIncome(ctx, y.ID)
	if err != nil {
		return YearTotals{}, nil, err
	}
	t := YearTotals{YearID: y.ID, Label: y.Label, Allocated: decimal.Zero, Spent: decimal.Zero, Income: decimal.Zero}
	for _, a := range allocs {
		t.Allocated = t.Allocated.Add(a.AllocatedAmount)
		t.Spent = t.Spent.Add(a.SpentAmount)
	}
	for _, in := range incomes {
		t.Income = t.Income.Add(in.Amount)
	}
	return t, allocs, nil
}

// departmentTotals returns nil when the department had no allocations in
// the year.
func departmentTotals(dept DepartmentID, y *FinancialYear, allocs []Allocation) *YearTotals {
	t := YearTotals{YearID: y.ID, Label: y.Label, Allocated: decimal.Zero, Spent: decimal.Zero, Income: decimal.Zero}
	found := false
	for _, a := range allocs {
		if a.DepartmentID != dept {
			continue
		}
		found = true
		t.Allocated = t.Allocated.Add(a.AllocatedAmount)
		t.Spent = t.Spent.Add(a.SpentAmount)
	}
	if !found {
		return nil
	}
	return &t
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) loadReportData(ctx context.Context, filter ReportFilter) ([]Allocation, []Expenditure, error) {
	allocs, err := s.Repo.ListAllocations(ctx, filter.allocations())
	if err != nil {
		return nil, nil, err
	}
	exps, err := s.Repo.ListExpenditures(ctx, filter.expenditures())
	if err != nil {
		return nil, nil, err
	}
	return allocs, exps, nil
}

func (s *Service) namedRollups(ctx context.Context, allocs []Allocation, exps []Expenditure) ([]Rollup, []Rollup, error) {
	byDept := GroupRollups(allocs, exps,
		func(a Allocation) string { return string(a.DepartmentID) },
		func(e Expenditure) string { return string(e.DepartmentID) })
	byHead := GroupRollups(allocs, exps,
		func(a Allocation) string { return string(a.BudgetHeadID) },
		func(e Expenditure) string { return string(e.BudgetHeadID) })

	depts, err := s.Repo.ListDepartments(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	heads, err := s.Repo.ListBudgetHeads(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	deptNames := make(map[string]string, len(depts))
	for _, d := range depts {
		deptNames[string(d.ID)] = d.Name
	}
	headNames := make(map[string]string, len(heads))
	for _, h := range heads {
		headNames[string(h.ID)] = h.Name
	}
	for i := range byDept {
		byDept[i].Name = deptNames[byDept[i].Key]
	}
	for i := range byHead {
		byHead[i].Name = headNames[byHead[i].Key]
	}
	return byDept, byHead, nil
}
