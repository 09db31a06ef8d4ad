// Package memory provides an in-memory budget.TxRepository for tests and
// single-process development. Transactions are serialized behind one write
// lock and rolled back by restoring a snapshot.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/generic"
	ledgerstore "github.com/warp/budget-engine/generic/store"
)

// =============================================================================
// STATE - Unlocked record maps shared by Repository and txView
// =============================================================================

type state struct {
	departments  map[budget.DepartmentID]budget.Department
	heads        map[budget.BudgetHeadID]budget.BudgetHead
	years        map[budget.YearID]budget.FinancialYear
	allocations  map[budget.AllocationID]budget.Allocation
	expenditures map[budget.ExpenditureID]budget.Expenditure
	incomes      map[budget.IncomeID]budget.Income
}

func newState() *state {
	return &state{
		departments:  make(map[budget.DepartmentID]budget.Department),
		heads:        make(map[budget.BudgetHeadID]budget.BudgetHead),
		years:        make(map[budget.YearID]budget.FinancialYear),
		allocations:  make(map[budget.AllocationID]budget.Allocation),
		expenditures: make(map[budget.ExpenditureID]budget.Expenditure),
		incomes:      make(map[budget.IncomeID]budget.Income),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.departments {
		c.departments[k] = v
	}
	for k, v := range s.heads {
		c.heads[k] = v
	}
	for k, v := range s.years {
		c.years[k] = v
	}
	for k, v := range s.allocations {
		c.allocations[k] = v
	}
	for k, v := range s.expenditures {
		c.expenditures[k] = cloneExpenditure(v)
	}
	for k, v := range s.incomes {
		c.incomes[k] = v
	}
	return c
}

func cloneExpenditure(e budget.Expenditure) budget.Expenditure {
	e.Attachments = slices.Clone(e.Attachments)
	e.ApprovalSteps = slices.Clone(e.ApprovalSteps)
	if e.ResubmittedFrom != nil {
		from := *e.ResubmittedFrom
		e.ResubmittedFrom = &from
	}
	return e
}

func ptr[T any](v T, ok bool) *T {
	if !ok {
		return nil
	}
	return &v
}

func sortedValues[K comparable, V any](m map[K]V, keep func(V) bool, less func(a, b V) int) []V {
	result := make([]V, 0, len(m))
	for _, v := range m {
		if keep == nil || keep(v) {
			result = append(result, v)
		}
	}
	slices.SortFunc(result, less)
	return result
}

// =============================================================================
// REPOSITORY
// =============================================================================

var (
	_ budget.TxRepository = (*Repository)(nil)
	_ budget.Repository   = (*txView)(nil)
)

type Repository struct {
	mu     sync.RWMutex
	ledger *ledgerstore.Memory
	data   *state
}

func New() *Repository {
	return &Repository{ledger: ledgerstore.NewMemory(), data: newState()}
}

// WithTx runs fn while holding the write lock. Reads from other goroutines
// wait until the transaction commits or rolls back.
func (r *Repository) WithTx(ctx context.Context, fn func(budget.Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dataSnapshot := r.data.clone()
	ledgerSnapshot := r.ledger.Snapshot()
	if err := fn(&txView{data: r.data, ledger: r.ledger}); err != nil {
		r.data = dataSnapshot
		r.ledger.Restore(ledgerSnapshot)
		return err
	}
	return nil
}

func (r *Repository) read() *txView {
	return &txView{data: r.data, ledger: r.ledger}
}

func (r *Repository) Append(ctx context.Context, tx generic.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.Append(ctx, tx)
}

func (r *Repository) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.AppendBatch(ctx, txs)
}

func (r *Repository) Load(ctx context.Context, accountID generic.AccountID) ([]generic.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ledger.Load(ctx, accountID)
}

func (r *Repository) LoadRange(ctx context.Context, accountID generic.AccountID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ledger.LoadRange(ctx, accountID, from, to)
}

func (r *Repository) Exists(ctx context.Context, key string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ledger.Exists(ctx, key)
}

func (r *Repository) SaveDepartment(ctx context.Context, d budget.Department) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read().SaveDepartment(ctx, d)
}

func (r *Repository) GetDepartment(ctx context.Context, id budget.DepartmentID) (*budget.Department, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read().GetDepartment(ctx, id)
}

func (r *Repository) GetDepartmentByCode(ctx context.Context, code string) (*budget.Department, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read().GetDepartmentByCode(ctx, code)
}

func (r *Repository) ListDepartments(ctx context.Context, includeInactive bool) ([]budget.Department, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read().ListDepartments(ctx, includeInactive)
}

func (r *Repository) DeleteDepartment(ctx context.Context, id budget.DepartmentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read().DeleteDepartment(ctx, id)
}

func (r *Repository) SaveBudgetHead(ctx context.Context, h budget.BudgetHead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read().SaveBudgetHead(ctx, h)
}

func (r *Repository) GetBudgetHead(ctx context.Context, id budget.BudgetHeadID) (*budget.BudgetHead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read().GetBudgetHead(ctx, id)
}

func (r *Repository) GetBudgetHeadByCode(ctx context.Context, code string) (*budget.BudgetHead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read().GetBudgetHeadByCode(ctx, code)
}

func (r *Repository) ListBudgetHeads(ctx context.Context, includeInactive bool) ([]budget.BudgetHead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read().ListBudgetHeads(ctx, includeInactive)
}

func (r *Repository) DeleteBudgetHead(ctx context.Context, id budget.BudgetHeadID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read().DeleteBudgetHead(ctx, id)
}

func (r *Repository) SaveFinancialYear(ctx context.Context, y budget.FinancialYear) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read().SaveFinancialYear(ctx, y)
}

func (r *Repository) GetFinancialYear(ctx context.Context, id budget.YearID) (*budget.FinancialYear, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read().GetFinancialYear(ctx, id)
}

func (r *Repository) GetFinancialYearByLabel(ctx context.Context, label string) (*budget.FinancialYear, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read().GetFinancialYearByLabel(ctx, label)
}

func (r *Repository) ListFinancialYears(ctx context.Context) ([]budget.FinancialYear, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read().ListFinancialYears(ctx)
}

func (r *Repository) SaveAllocation(ctx context.Context, a budget.Allocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read().SaveAllocation(ctx, a)
}

func (r *Repository) GetAllocation(ctx context.Context, id budget.AllocationID) (*budget.Allocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read().GetAllocation(ctx, id)
}

func (r *Repository) ListAllocations(ctx context.Context, filter budget.AllocationFilter) ([]budget.Allocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read().ListAllocations(ctx, filter)
}

func (r *Repository) SaveExpenditure(ctx context.Context, e budget.Expenditure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read().SaveExpenditure(ctx, e)
}

func (r *Repository) GetExpenditure(ctx context.Context, id budget.ExpenditureID) (*budget.Expenditure, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read().GetExpenditure(ctx, id)
}

func (r *Repository) ListExpenditures(ctx context.Context, filter budget.ExpenditureFilter) ([]budget.Expenditure, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read().ListExpenditures(ctx, filter)
}

func (r *Repository) SaveIncome(ctx context.Context, in budget.Income) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read().SaveIncome(ctx, in)
}

func (r *Repository) ListIncome(ctx context.Context, yearID budget.YearID) ([]budget.Income, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read().ListIncome(ctx, yearID)
}

// Reset discards every record. Used by the demo scenario loader.
func (r *Repository) Reset(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = newState()
	r.ledger = ledgerstore.NewMemory()
	return nil
}

// =============================================================================
// TX VIEW - Lock-free access while WithTx (or a wrapper method) holds the lock
// =============================================================================

type txView struct {
	data   *state
	ledger *ledgerstore.Memory
}

func (v *txView) Append(ctx context.Context, tx generic.Transaction) error {
	return v.ledger.Append(ctx, tx)
}

func (v *txView) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	return v.ledger.AppendBatch(ctx, txs)
}

func (v *txView) Load(ctx context.Context, accountID generic.AccountID) ([]generic.Transaction, error) {
	return v.ledger.Load(ctx, accountID)
}

func (v *txView) LoadRange(ctx context.Context, accountID generic.AccountID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	return v.ledger.LoadRange(ctx, accountID, from, to)
}

func (v *txView) Exists(ctx context.Context, key string) (bool, error) {
	return v.ledger.Exists(ctx, key)
}

func (v *txView) SaveDepartment(_ context.Context, d budget.Department) error {
	v.data.departments[d.ID] = d
	return nil
}

func (v *txView) GetDepartment(_ context.Context, id budget.DepartmentID) (*budget.Department, error) {
	d, ok := v.data.departments[id]
	return ptr(d, ok), nil
}

func (v *txView) GetDepartmentByCode(_ context.Context, code string) (*budget.Department, error) {
	for _, d := range v.data.departments {
		if d.Code == code {
			return &d, nil
		}
	}
	return nil, nil
}

func (v *txView) ListDepartments(_ context.Context, includeInactive bool) ([]budget.Department, error) {
	return sortedValues(v.data.departments,
		func(d budget.Department) bool { return includeInactive || d.Active },
		func(a, b budget.Department) int { return cmp.Compare(a.Code, b.Code) }), nil
}

func (v *txView) DeleteDepartment(_ context.Context, id budget.DepartmentID) error {
	delete(v.data.departments, id)
	return nil
}

func (v *txView) SaveBudgetHead(_ context.Context, h budget.BudgetHead) error {
	v.data.heads[h.ID] = h
	return nil
}

func (v *txView) GetBudgetHead(_ context.Context, id budget.BudgetHeadID) (*budget.BudgetHead, error) {
	h, ok := v.data.heads[id]
	return ptr(h, ok), nil
}

func (v *txView) GetBudgetHeadByCode(_ context.Context, code string) (*budget.BudgetHead, error) {
	for _, h := range v.data.heads {
		if h.Code == code {
			return &h, nil
		}
	}
	return nil, nil
}

func (v *txView) ListBudgetHeads(_ context.Context, includeInactive bool) ([]budget.BudgetHead, error) {
	return sortedValues(v.data.heads,
		func(h budget.BudgetHead) bool { return includeInactive || h.Active },
		func(a, b budget.BudgetHead) int { return cmp.Compare(a.Code, b.Code) }), nil
}

func (v *txView) DeleteBudgetHead(_ context.Context, id budget.BudgetHeadID) error {
	delete(v.data.heads, id)
	return nil
}

func (v *txView) SaveFinancialYear(_ context.Context, y budget.FinancialYear) error {
	v.data.years[y.ID] = y
	return nil
}

func (v *txView) GetFinancialYear(_ context.Context, id budget.YearID) (*budget.FinancialYear, error) {
	y, ok := v.data.years[id]
	return ptr(y, ok), nil
}

func (v *txView) GetFinancialYearByLabel(_ context.Context, label string) (*budget.FinancialYear, error) {
	for _, y := range v.data.years {
		if y.Label == label {
			return &y, nil
		}
	}
	return nil, nil
}

func (v *txView) ListFinancialYears(_ context.Context) ([]budget.FinancialYear, error) {
	return sortedValues(v.data.years, nil,
		func(a, b budget.FinancialYear) int { return cmp.Compare(b.Label, a.Label) }), nil
}

func (v *txView) SaveAllocation(_ context.Context, a budget.Allocation) error {
	v.data.allocations[a.ID] = a
	return nil
}

func (v *txView) GetAllocation(_ context.Context, id budget.AllocationID) (*budget.Allocation, error) {
	a, ok := v.data.allocations[id]
	return ptr(a, ok), nil
}

func (v *txView) ListAllocations(_ context.Context, filter budget.AllocationFilter) ([]budget.Allocation, error) {
	return sortedValues(v.data.allocations, filter.Matches,
		func(a, b budget.Allocation) int {
			return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
		}), nil
}

func (v *txView) SaveExpenditure(_ context.Context, e budget.Expenditure) error {
	v.data.expenditures[e.ID] = cloneExpenditure(e)
	return nil
}

func (v *txView) GetExpenditure(_ context.Context, id budget.ExpenditureID) (*budget.Expenditure, error) {
	e, ok := v.data.expenditures[id]
	if !ok {
		return nil, nil
	}
	e = cloneExpenditure(e)
	return &e, nil
}

func (v *txView) ListExpenditures(_ context.Context, filter budget.ExpenditureFilter) ([]budget.Expenditure, error) {
	result := sortedValues(v.data.expenditures, filter.Matches,
		func(a, b budget.Expenditure) int {
			return cmp.Or(a.SubmittedAt.Compare(b.SubmittedAt), cmp.Compare(a.ID, b.ID))
		})
	for i := range result {
		result[i] = cloneExpenditure(result[i])
	}
	return result, nil
}

func (v *txView) SaveIncome(_ context.Context, in budget.Income) error {
	v.data.incomes[in.ID] = in
	return nil
}

func (v *txView) ListIncome(_ context.Context, yearID budget.YearID) ([]budget.Income, error) {
	return sortedValues(v.data.incomes,
		func(in budget.Income) bool { return in.FinancialYearID == yearID },
		func(a, b budget.Income) int {
			return cmp.Or(a.ReceivedAt.Compare(b.ReceivedAt), cmp.Compare(a.ID, b.ID))
		}), nil
}
