package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/generic"
)

// queries implements budget.Repository on either the database or an open
// transaction.
type queries struct {
	q querier
}

// =============================================================================
// TRANSACTION STORE (generic.Store interface)
// =============================================================================

const transactionColumns = `id, account_id, effective_at, delta_value, currency, tx_type,
	reference_id, reason, idempotency_key, metadata_json, created_by, created_at`

func (r *queries) Append(ctx context.Context, tx generic.Transaction) error {
	metadataJSON, _ := json.Marshal(tx.Metadata)
	createdAt := tx.CreatedAt.Time
	if createdAt.IsZero() {
		createdAt = tx.EffectiveAt.Time
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.AccountID,
		formatTime(tx.EffectiveAt.Time),
		tx.Delta.Value.String(),
		tx.Delta.Currency,
		tx.Type,
		nullString(tx.ReferenceID),
		nullString(tx.Reason),
		nullString(tx.IdempotencyKey),
		string(metadataJSON),
		nullString(tx.CreatedBy),
		formatTime(createdAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.DuplicateKeyError{Key: tx.IdempotencyKey, AccountID: tx.AccountID}
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// AppendBatch adds multiple transactions atomically.
func (r *queries) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	seen := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if seen[tx.IdempotencyKey] {
			return &generic.DuplicateKeyError{Key: tx.IdempotencyKey, AccountID: tx.AccountID}
		}
		seen[tx.IdempotencyKey] = true
	}

	db, standalone := r.q.(*sql.DB)
	if !standalone {
		for _, tx := range txs {
			if err := r.Append(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	}

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	inner := &queries{q: sqlTx}
	for _, tx := range txs {
		if err := inner.Append(ctx, tx); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func (r *queries) Load(ctx context.Context, accountID generic.AccountID) ([]generic.Transaction, error) {
	return r.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = ?
		ORDER BY effective_at ASC, rowid ASC`, accountID)
}

func (r *queries) LoadRange(ctx context.Context, accountID generic.AccountID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	return r.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = ? AND effective_at >= ? AND effective_at <= ?
		ORDER BY effective_at ASC, rowid ASC`,
		accountID, formatTime(from.Time), formatTime(to.Time))
}

func (r *queries) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func (r *queries) queryTransactions(ctx context.Context, query string, args ...any) ([]generic.Transaction, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []generic.Transaction
	for rows.Next() {
		var (
			tx             generic.Transaction
			effectiveAt    string
			deltaValue     string
			currency       string
			referenceID    sql.NullString
			reason         sql.NullString
			idempotencyKey sql.NullString
			metadataJSON   sql.NullString
			createdBy      sql.NullString
			createdAt      string
		)
		if err := rows.Scan(&tx.ID, &tx.AccountID, &effectiveAt, &deltaValue, &currency, &tx.Type,
			&referenceID, &reason, &idempotencyKey, &metadataJSON, &createdBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.EffectiveAt = generic.At(parseTime(effectiveAt))
		tx.Delta = generic.NewAmountFromDecimal(generic.MustParseDecimal(deltaValue), generic.Currency(currency))
		tx.ReferenceID = referenceID.String
		tx.Reason = reason.String
		tx.IdempotencyKey = idempotencyKey.String
		tx.CreatedBy = createdBy.String
		tx.CreatedAt = generic.At(parseTime(createdAt))
		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			_ = json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata)
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// =============================================================================
// DEPARTMENTS
// =============================================================================

const departmentColumns = `id, name, code, hod_id, active, created_at, updated_at`

func (r *queries) SaveDepartment(ctx context.Context, d budget.Department) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO departments (`+departmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			code = excluded.code,
			hod_id = excluded.hod_id,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		d.ID, d.Name, d.Code, nullString(d.HODID), d.Active,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("department code %s: %w", d.Code, budget.ErrDuplicateCode)
	}
	if err != nil {
		return fmt.Errorf("failed to save department: %w", err)
	}
	return nil
}

func scanDepartment(row scanner) (*budget.Department, error) {
	var (
		d       budget.Department
		hodID   sql.NullString
		created string
		updated string
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Code, &hodID, &d.Active, &created, &updated); err != nil {
		return nil, err
	}
	d.HODID = hodID.String
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return &d, nil
}

func (r *queries) GetDepartment(ctx context.Context, id budget.DepartmentID) (*budget.Department, error) {
	return getOne(r.q.QueryRowContext(ctx, `SELECT `+departmentColumns+` FROM departments WHERE id = ?`, id), scanDepartment)
}

func (r *queries) GetDepartmentByCode(ctx context.Context, code string) (*budget.Department, error) {
	return getOne(r.q.QueryRowContext(ctx, `SELECT `+departmentColumns+` FROM departments WHERE code = ?`, code), scanDepartment)
}

func (r *queries) ListDepartments(ctx context.Context, includeInactive bool) ([]budget.Department, error) {
	query := `SELECT ` + departmentColumns + ` FROM departments`
	if !includeInactive {
		query += ` WHERE active = 1`
	}
	return queryAll(ctx, r.q, query+` ORDER BY code`, nil, scanDepartment)
}

func (r *queries) DeleteDepartment(ctx context.Context, id budget.DepartmentID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM departments WHERE id = ?`, id)
	return err
}

// =============================================================================
// BUDGET HEADS
// =============================================================================

const budgetHeadColumns = `id, name, code, description, active, created_at, updated_at`

func (r *queries) SaveBudgetHead(ctx context.Context, h budget.BudgetHead) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO budget_heads (`+budgetHeadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			code = excluded.code,
			description = excluded.description,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		h.ID, h.Name, h.Code, nullString(h.Description), h.Active,
		formatTime(h.CreatedAt), formatTime(h.UpdatedAt))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("budget head code %s: %w", h.Code, budget.ErrDuplicateCode)
	}
	if err != nil {
		return fmt.Errorf("failed to save budget head: %w", err)
	}
	return nil
}

func scanBudgetHead(row scanner) (*budget.BudgetHead, error) {
	var (
		h           budget.BudgetHead
		description sql.NullString
		created     string
		updated     string
	)
	if err := row.Scan(&h.ID, &h.Name, &h.Code, &description, &h.Active, &created, &updated); err != nil {
		return nil, err
	}
	h.Description = description.String
	h.CreatedAt = parseTime(created)
	h.UpdatedAt = parseTime(updated)
	return &h, nil
}

func (r *queries) GetBudgetHead(ctx context.Context, id budget.BudgetHeadID) (*budget.BudgetHead, error) {
	return getOne(r.q.QueryRowContext(ctx, `SELECT `+budgetHeadColumns+` FROM budget_heads WHERE id = ?`, id), scanBudgetHead)
}

func (r *queries) GetBudgetHeadByCode(ctx context.Context, code string) (*budget.BudgetHead, error) {
	return getOne(r.q.QueryRowContext(ctx, `SELECT `+budgetHeadColumns+` FROM budget_heads WHERE code = ?`, code), scanBudgetHead)
}

func (r *queries) ListBudgetHeads(ctx context.Context, includeInactive bool) ([]budget.BudgetHead, error) {
	query := `SELECT ` + budgetHeadColumns + ` FROM budget_heads`
	if !includeInactive {
		query += ` WHERE active = 1`
	}
	return queryAll(ctx, r.q, query+` ORDER BY code`, nil, scanBudgetHead)
}

func (r *queries) DeleteBudgetHead(ctx context.Context, id budget.BudgetHeadID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM budget_heads WHERE id = ?`, id)
	return err
}

// =============================================================================
// FINANCIAL YEARS
// =============================================================================

const yearColumns = `id, label, start_date, end_date, status,
	total_income_received, total_allocated, total_spent, utilization_percentage,
	carryforward_amount, recalculated_at,
	activated_by, activated_at, locked_by, locked_at, closed_by, closed_at,
	remarks, created_at, updated_at`

func (r *queries) SaveFinancialYear(ctx context.Context, y budget.FinancialYear) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO financial_years (`+yearColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			status = excluded.status,
			total_income_received = excluded.total_income_received,
			total_allocated = excluded.total_allocated,
			total_spent = excluded.total_spent,
			utilization_percentage = excluded.utilization_percentage,
			carryforward_amount = excluded.carryforward_amount,
			recalculated_at = excluded.recalculated_at,
			activated_by = excluded.activated_by,
			activated_at = excluded.activated_at,
			locked_by = excluded.locked_by,
			locked_at = excluded.locked_at,
			closed_by = excluded.closed_by,
			closed_at = excluded.closed_at,
			remarks = excluded.remarks,
			updated_at = excluded.updated_at`,
		y.ID, y.Label, formatTime(y.StartDate), formatTime(y.EndDate), y.Status,
		y.TotalIncomeReceived.String(), y.TotalAllocated.String(), y.TotalSpent.String(), y.UtilizationPercentage.String(),
		formatDecimalPtr(y.CarryforwardAmount), formatTimePtr(y.RecalculatedAt),
		nullString(y.ActivatedBy), formatTimePtr(y.ActivatedAt),
		nullString(y.LockedBy), formatTimePtr(y.LockedAt),
		nullString(y.ClosedBy), formatTimePtr(y.ClosedAt),
		nullString(y.Remarks), formatTime(y.CreatedAt), formatTime(y.UpdatedAt))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("financial year %s: %w", y.Label, budget.ErrDuplicateYear)
	}
	if err != nil {
		return fmt.Errorf("failed to save financial year: %w", err)
	}
	return nil
}

func scanYear(row scanner) (*budget.FinancialYear, error) {
	var (
		y                                      budget.FinancialYear
		start, end, created, updated           string
		income, allocated, spent, utilization  string
		carryforward, recalculatedAt           sql.NullString
		activatedBy, activatedAt               sql.NullString
		lockedBy, lockedAt, closedBy, closedAt sql.NullString
		remarks                                sql.NullString
	)
	if err := row.Scan(&y.ID, &y.Label, &start, &end, &y.Status,
		&income, &allocated, &spent, &utilization,
		&carryforward, &recalculatedAt,
		&activatedBy, &activatedAt, &lockedBy, &lockedAt, &closedBy, &closedAt,
		&remarks, &created, &updated); err != nil {
		return nil, err
	}
	y.StartDate = parseTime(start)
	y.EndDate = parseTime(end)
	y.TotalIncomeReceived = generic.MustParseDecimal(income)
	y.TotalAllocated = generic.MustParseDecimal(allocated)
	y.TotalSpent = generic.MustParseDecimal(spent)
	y.UtilizationPercentage = generic.MustParseDecimal(utilization)
	y.CarryforwardAmount = parseDecimalPtr(carryforward)
	y.RecalculatedAt = parseTimePtr(recalculatedAt)
	y.ActivatedBy = activatedBy.String
	y.ActivatedAt = parseTimePtr(activatedAt)
	y.LockedBy = lockedBy.String
	y.LockedAt = parseTimePtr(lockedAt)
	y.ClosedBy = closedBy.String
	y.ClosedAt = parseTimePtr(closedAt)
	y.Remarks = remarks.String
	y.CreatedAt = parseTime(created)
	y.UpdatedAt = parseTime(updated)
	return &y, nil
}

func (r *queries) GetFinancialYear(ctx context.Context, id budget.YearID) (*budget.FinancialYear, error) {
	return getOne(r.q.QueryRowContext(ctx, `SELECT `+yearColumns+` FROM financial_years WHERE id = ?`, id), scanYear)
}

func (r *queries) GetFinancialYearByLabel(ctx context.Context, label string) (*budget.FinancialYear, error) {
	return getOne(r.q.QueryRowContext(ctx, `SELECT `+yearColumns+` FROM financial_years WHERE label = ?`, label), scanYear)
}

func (r *queries) ListFinancialYears(ctx context.Context) ([]budget.FinancialYear, error) {
	return queryAll(ctx, r.q, `SELECT `+yearColumns+` FROM financial_years ORDER BY label DESC`, nil, scanYear)
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

const allocationColumns = `id, department_id, budget_head_id, financial_year_id,
	allocated_amount, spent_amount, remaining_amount, remarks, created_by, created_at, updated_at`

func (r *queries) SaveAllocation(ctx context.Context, a budget.Allocation) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO allocations (`+allocationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			allocated_amount = excluded.allocated_amount,
			spent_amount = excluded.spent_amount,
			remaining_amount = excluded.remaining_amount,
			remarks = excluded.remarks,
			updated_at = excluded.updated_at`,
		a.ID, a.DepartmentID, a.BudgetHeadID, a.FinancialYearID,
		a.AllocatedAmount.String(), a.SpentAmount.String(), a.RemainingAmount.String(),
		nullString(a.Remarks), nullString(a.CreatedBy), formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("allocation %s: %w", a.ID, budget.ErrDuplicateAllocation)
	}
	if err != nil {
		return fmt.Errorf("failed to save allocation: %w", err)
	}
	return nil
}

func scanAllocation(row scanner) (*budget.Allocation, error) {
	var (
		a                           budget.Allocation
		allocated, spent, remaining string
		remarks, createdBy          sql.NullString
		created, updated            string
	)
	if err := row.Scan(&a.ID, &a.DepartmentID, &a.BudgetHeadID, &a.FinancialYearID,
		&allocated, &spent, &remaining, &remarks, &createdBy, &created, &updated); err != nil {
		return nil, err
	}
	a.AllocatedAmount = generic.MustParseDecimal(allocated)
	a.SpentAmount = generic.MustParseDecimal(spent)
	a.RemainingAmount = generic.MustParseDecimal(remaining)
	a.Remarks = remarks.String
	a.CreatedBy = createdBy.String
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}

func (r *queries) GetAllocation(ctx context.Context, id budget.AllocationID) (*budget.Allocation, error) {
	return getOne(r.q.QueryRowContext(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE id = ?`, id), scanAllocation)
}

func (r *queries) ListAllocations(ctx context.Context, filter budget.AllocationFilter) ([]budget.Allocation, error) {
	var w where
	w.eq("financial_year_id", string(filter.FinancialYearID))
	w.eq("department_id", string(filter.DepartmentID))
	w.eq("budget_head_id", string(filter.BudgetHeadID))
	return queryAll(ctx, r.q, `SELECT `+allocationColumns+` FROM allocations`+w.String()+` ORDER BY created_at, id`, w.args, scanAllocation)
}

// =============================================================================
// EXPENDITURES
// =============================================================================

const expenditureColumns = `id, bill_number, bill_date, bill_amount, party_name,
	department_id, budget_head_id, allocation_id, financial_year_id,
	expense_details, attachments_json, submitted_by, submitted_at, status,
	approval_steps_json, resubmitted_from, updated_at`

// stepRecord is the JSON form of an approval step.
type stepRecord struct {
	Role      budget.Role     `json:"role"`
	Decision  budget.Decision `json:"decision"`
	ActorID   string          `json:"actor_id"`
	Timestamp string          `json:"timestamp"`
	Remarks   string          `json:"remarks,omitempty"`
}

func (r *queries) SaveExpenditure(ctx context.Context, e budget.Expenditure) error {
	steps := make([]stepRecord, len(e.ApprovalSteps))
	for i, s := range e.ApprovalSteps {
		steps[i] = stepRecord{Role: s.Role, Decision: s.Decision, ActorID: s.ActorID, Timestamp: formatTime(s.Timestamp), Remarks: s.Remarks}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("failed to encode approval steps: %w", err)
	}
	attachments := e.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}
	var resubmittedFrom sql.NullString
	if e.ResubmittedFrom != nil {
		resubmittedFrom = nullString(string(*e.ResubmittedFrom))
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO expenditures (`+expenditureColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			approval_steps_json = excluded.approval_steps_json,
			updated_at = excluded.updated_at`,
		e.ID, e.BillNumber, formatTime(e.BillDate), e.BillAmount.String(), e.PartyName,
		e.DepartmentID, e.BudgetHeadID, e.AllocationID, e.FinancialYearID,
		nullString(e.ExpenseDetails), string(attachmentsJSON), nullString(e.SubmittedBy), formatTime(e.SubmittedAt), e.Status,
		string(stepsJSON), resubmittedFrom, formatTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save expenditure: %w", err)
	}
	return nil
}

func scanExpenditure(row scanner) (*budget.Expenditure, error) {
	var (
		e                                 budget.Expenditure
		billDate, amount                  string
		details, submittedBy, resubmitted sql.NullString
		attachmentsJSON, stepsJSON        string
		submittedAt, updatedAt            string
	)
	if err := row.Scan(&e.ID, &e.BillNumber, &billDate, &amount, &e.PartyName,
		&e.DepartmentID, &e.BudgetHeadID, &e.AllocationID, &e.FinancialYearID,
		&details, &attachmentsJSON, &submittedBy, &submittedAt, &e.Status,
		&stepsJSON, &resubmitted, &updatedAt); err != nil {
		return nil, err
	}
	e.BillDate = parseTime(billDate)
	e.BillAmount = generic.MustParseDecimal(amount)
	e.ExpenseDetails = details.String
	e.SubmittedBy = submittedBy.String
	e.SubmittedAt = parseTime(submittedAt)
	e.UpdatedAt = parseTime(updatedAt)
	if resubmitted.Valid {
		from := budget.ExpenditureID(resubmitted.String)
		e.ResubmittedFrom = &from
	}
	if err := json.Unmarshal([]byte(attachmentsJSON), &e.Attachments); err != nil {
		return nil, fmt.Errorf("failed to decode attachments of %s: %w", e.ID, err)
	}
	var steps []stepRecord
	if err := json.Unmarshal([]byte(stepsJSON), &steps); err != nil {
		return nil, fmt.Errorf("failed to decode approval steps of %s: %w", e.ID, err)
	}
	for _, s := range steps {
		e.ApprovalSteps = append(e.ApprovalSteps, budget.ApprovalStep{
			Role: s.Role, Decision: s.Decision, ActorID: s.ActorID, Timestamp: parseTime(s.Timestamp), Remarks: s.Remarks,
		})
	}
	return &e, nil
}

func (r *queries) GetExpenditure(ctx context.Context, id budget.ExpenditureID) (*budget.Expenditure, error) {
	return getOne(r.q.QueryRowContext(ctx, `SELECT `+expenditureColumns+` FROM expenditures WHERE id = ?`, id), scanExpenditure)
}

func (r *queries) ListExpenditures(ctx context.Context, filter budget.ExpenditureFilter) ([]budget.Expenditure, error) {
	var w where
	w.eq("financial_year_id", string(filter.FinancialYearID))
	w.eq("department_id", string(filter.DepartmentID))
	w.eq("budget_head_id", string(filter.BudgetHeadID))
	w.eq("allocation_id", string(filter.AllocationID))
	w.eq("bill_number", filter.BillNumber)
	w.eq("resubmitted_from", string(filter.ResubmittedFrom))
	statuses := make([]string, len(filter.Statuses))
	for i, s := range filter.Statuses {
		statuses[i] = string(s)
	}
	w.in("status", statuses)
	return queryAll(ctx, r.q, `SELECT `+expenditureColumns+` FROM expenditures`+w.String()+` ORDER BY submitted_at, id`, w.args, scanExpenditure)
}

// =============================================================================
// INCOME
// =============================================================================

const incomeColumns = `id, financial_year_id, source, amount, received_at, recorded_by, remarks, created_at`

func (r *queries) SaveIncome(ctx context.Context, in budget.Income) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO incomes (`+incomeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			amount = excluded.amount,
			received_at = excluded.received_at,
			remarks = excluded.remarks`,
		in.ID, in.FinancialYearID, in.Source, in.Amount.String(), formatTime(in.ReceivedAt),
		nullString(in.RecordedBy), nullString(in.Remarks), formatTime(in.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save income: %w", err)
	}
	return nil
}

func scanIncome(row scanner) (*budget.Income, error) {
	var (
		in                            budget.Income
		amount, receivedAt, createdAt string
		recordedBy, remarks           sql.NullString
	)
	if err := row.Scan(&in.ID, &in.FinancialYearID, &in.Source, &amount, &receivedAt, &recordedBy, &remarks, &createdAt); err != nil {
		return nil, err
	}
	in.Amount = generic.MustParseDecimal(amount)
	in.ReceivedAt = parseTime(receivedAt)
	in.RecordedBy = recordedBy.String
	in.Remarks = remarks.String
	in.CreatedAt = parseTime(createdAt)
	return &in, nil
}

func (r *queries) ListIncome(ctx context.Context, yearID budget.YearID) ([]budget.Income, error) {
	return queryAll(ctx, r.q, `SELECT `+incomeColumns+` FROM incomes WHERE financial_year_id = ? ORDER BY received_at, id`,
		[]any{yearID}, scanIncome)
}

// =============================================================================
// GENERIC SCANNING
// =============================================================================

func getOne[T any](row *sql.Row, scan func(scanner) (*T, error)) (*T, error) {
	v, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func queryAll[T any](ctx context.Context, q querier, query string, args []any, scan func(scanner) (*T, error)) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	return result, rows.Err()
}
