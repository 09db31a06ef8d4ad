/*
aggregate.go - Aggregation and comparison engine

PURPOSE:
  Pure, read-only functions over allocations and expenditures. They never
  touch a repository; reports.go loads the records and calls them.

UTILIZATION:
  spent / allocated × 100, or 0 when nothing is allocated. Dashboards show
  it rounded to an integer, comparison reports keep two decimals.

DIVISION GUARD:
  Every ratio goes through percentOf, which returns ErrDivisionGuard for a
  zero denominator. Callers map that to 0; the error never leaves this file.
*/
package budget

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

func percentOf(part, whole decimal.Decimal) (decimal.Decimal, error) {
	if whole.IsZero() {
		return decimal.Zero, ErrDivisionGuard
	}
	return part.Div(whole).Mul(hundred), nil
}

// guarded maps the division guard to zero.
func guarded(v decimal.Decimal, err error) decimal.Decimal {
	if errors.Is(err, ErrDivisionGuard) {
		return decimal.Zero
	}
	return v
}

// UtilizationPercentage is the rounded integer form used on dashboards.
func UtilizationPercentage(allocated, spent decimal.Decimal) int {
	if !allocated.IsPositive() {
		return 0
	}
	return int(guarded(percentOf(spent, allocated)).Round(0).IntPart())
}

// UtilizationPrecise is the two-decimal form used by comparisons and the
// cached year totals.
func UtilizationPrecise(allocated, spent decimal.Decimal) decimal.Decimal {
	if !allocated.IsPositive() {
		return decimal.Zero
	}
	return guarded(percentOf(spent, allocated)).Round(2)
}

// =============================================================================
// ROLLUPS
// =============================================================================

// Rollup sums allocations and counts expenditures for one grouping key.
type Rollup struct {
	Key                string
	Name               string
	Allocated          decimal.Decimal
	Spent              decimal.Decimal
	Remaining          decimal.Decimal
	AllocationCount    int
	ExpenditureCount   int
	Utilization        int
	UtilizationPrecise decimal.Decimal
}

func newRollup(key string) Rollup {
	return Rollup{Key: key, Allocated: decimal.Zero, Spent: decimal.Zero, Remaining: decimal.Zero, UtilizationPrecise: decimal.Zero}
}

func (r *Rollup) addAllocation(a Allocation) {
	r.Allocated = r.Allocated.Add(a.AllocatedAmount)
	r.Spent = r.Spent.Add(a.SpentAmount)
	r.AllocationCount++
}

func (r *Rollup) finish() {
	r.Remaining = r.Allocated.Sub(r.Spent)
	r.Utilization = UtilizationPercentage(r.Allocated, r.Spent)
	r.UtilizationPrecise = UtilizationPrecise(r.Allocated, r.Spent)
}

// DepartmentRollup sums the department's allocations for one year.
func DepartmentRollup(dept DepartmentID, year YearID, allocs []Allocation, exps []Expenditure) Rollup {
	r := newRollup(string(dept))
	for _, a := range allocs {
		if a.DepartmentID == dept && a.FinancialYearID == year {
			r.addAllocation(a)
		}
	}
	for _, e := range exps {
		if e.DepartmentID == dept && e.FinancialYearID == year {
			r.ExpenditureCount++
		}
	}
	r.finish()
	return r
}

// BudgetHeadRollup is DepartmentRollup grouped by budget head.
func BudgetHeadRollup(head BudgetHeadID, year YearID, allocs []Allocation, exps []Expenditure) Rollup {
	r := newRollup(string(head))
	for _, a := range allocs {
		if a.BudgetHeadID == head && a.FinancialYearID == year {
			r.addAllocation(a)
		}
	}
	for _, e := range exps {
		if e.BudgetHeadID == head && e.FinancialYearID == year {
			r.ExpenditureCount++
		}
	}
	r.finish()
	return r
}

// TotalRollup sums everything it is given under one key.
func TotalRollup(key string, allocs []Allocation, exps []Expenditure) Rollup {
	r := newRollup(key)
	for _, a := range allocs {
		r.addAllocation(a)
	}
	r.ExpenditureCount = len(exps)
	r.finish()
	return r
}

// GroupRollups builds one rollup per distinct key, sorted by key.
func GroupRollups(allocs []Allocation, exps []Expenditure, allocKey func(Allocation) string, expKey func(Expenditure) string) []Rollup {
	groups := make(map[string]*Rollup)
	get := func(k string) *Rollup {
		r, ok := groups[k]
		if !ok {
			nr := newRollup(k)
			r = &nr
			groups[k] = r
		}
		return r
	}
	for _, a := range allocs {
		get(allocKey(a)).addAllocation(a)
	}
	for _, e := range exps {
		get(expKey(e)).ExpenditureCount++
	}

	result := make([]Rollup, 0, len(groups))
	for _, r := range groups {
		r.finish()
		result = append(result, *r)
	}
	slices.SortFunc(result, func(a, b Rollup) int { return cmp.Compare(a.Key, b.Key) })
	return result
}

// =============================================================================
// YEAR OVER YEAR
// =============================================================================

type Metric string

const (
	MetricAllocated   Metric = "allocated"
	MetricSpent       Metric = "spent"
	MetricUtilization Metric = "utilization"
	MetricIncome      Metric = "income"
)

var AllMetrics = []Metric{MetricAllocated, MetricSpent, MetricUtilization, MetricIncome}

// YearTotals are the figures compared between two years.
type YearTotals struct {
	YearID    YearID
	Label     string
	Allocated decimal.Decimal
	Spent     decimal.Decimal
	Income    decimal.Decimal
}

func (t YearTotals) Value(m Metric) (decimal.Decimal, error) {
	switch m {
	case MetricAllocated:
		return t.Allocated, nil
	case MetricSpent:
		return t.Spent, nil
	case MetricUtilization:
		return UtilizationPrecise(t.Allocated, t.Spent), nil
	case MetricIncome:
		return t.Income, nil
	}
	return decimal.Zero, &ValidationError{Field: "metric", Reason: fmt.Sprintf("unknown metric %q", m)}
}

// Change compares one metric across two years.
type Change struct {
	Metric           Metric
	Current          decimal.Decimal
	Previous         decimal.Decimal
	Change           decimal.Decimal
	ChangePercentage decimal.Decimal
	// NoData is set when the previous year has no figures at all.
	NoData bool
}

// YearOverYearChange compares metric between current and previous. A nil
// previous yields NoData instead of an error; a zero previous value yields
// a zero change percentage.
func YearOverYearChange(current YearTotals, previous *YearTotals, metric Metric) (Change, error) {
	cur, err := current.Value(metric)
	if err != nil {
		return Change{}, err
	}
	c := Change{Metric: metric, Current: cur, Previous: decimal.Zero, Change: decimal.Zero, ChangePercentage: decimal.Zero}
	if previous == nil {
		c.NoData = true
		return c, nil
	}
	prev, err := previous.Value(metric)
	if err != nil {
		return Change{}, err
	}
	c.Previous = prev
	c.Change = cur.Sub(prev)
	c.ChangePercentage = guarded(percentOf(c.Change, prev)).Round(2)
	return c, nil
}
