/*
handlers.go - HTTP API handlers for the budget governance engine

PURPOSE:
  Exposes the budget service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every rule to budget.Service.

ENDPOINTS:
  Master data:
    GET    /api/departments                    List (?include_inactive=true)
    POST   /api/departments                    Create
    GET    /api/departments/{id}               Get
    PUT    /api/departments/{id}               Update name/code/HOD
    DELETE /api/departments/{id}               Delete (unreferenced only)
    POST   /api/departments/{id}/activate      Re-activate
    POST   /api/departments/{id}/deactivate    Deactivate
    (same set under /api/budget-heads)

  Financial years:
    GET    /api/financial-years                List
    POST   /api/financial-years                Create (planning or active)
    GET    /api/financial-years/current        Year covering ?date= (default today)
    GET    /api/financial-years/{id}           Get
    POST   /api/financial-years/{id}/activate  planning -> active
    POST   /api/financial-years/{id}/lock      active -> locked
    POST   /api/financial-years/{id}/close     locked -> closed
    POST   /api/financial-years/{id}/recalculate
    GET    /api/financial-years/{id}/income    List income
    POST   /api/financial-years/{id}/income    Record income

  Allocations:
    GET    /api/allocations                    List (?year_id, department_id, budget_head_id)
    POST   /api/allocations                    Create
    GET    /api/allocations/{id}               Get
    PUT    /api/allocations/{id}               Change amount/remarks
    GET    /api/allocations/{id}/ledger        Ledger history

  Expenditures:
    GET    /api/expenditures                   List (?status=pending,verified ...)
    POST   /api/expenditures                   Submit
    GET    /api/expenditures/pending           Queue of the calling role
    GET    /api/expenditures/{id}              Get
    POST   /api/expenditures/{id}/decision     verify | approve | reject
    POST   /api/expenditures/{id}/resubmit     Resubmit a rejected bill

  Reports (cached):
    GET    /api/reports/allocation-stats
    GET    /api/reports/dashboard
    GET    /api/reports/year-comparison        ?current_year_id=&previous_year_id=

REQUEST FLOW:
  1. Resolve the actor (auth.go middleware)
  2. Parse the request
  3. Call budget.Service
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, malformed input
  - 401: Missing or invalid identity
  - 403: Role not allowed
  - 404: Record not found
  - 409: Conflict with the current state (locked year, duplicate, overspend)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/cache"
	"github.com/warp/budget-engine/generic"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears every stored record. Both stores implement it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *budget.Service
	Store   Resetter
	Cache   cache.ReportCache
	Logger  *slog.Logger

	// TokenSecret signs the demo user tokens returned by LoadScenario.
	TokenSecret []byte

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler with caching disabled.
func NewHandler(svc *budget.Service, store Resetter) *Handler {
	return &Handler{
		Service: svc,
		Store:   store,
		Cache:   cache.Nop{},
		Logger:  slog.Default(),
	}
}

func (h *Handler) log() *slog.Logger {
	l := h.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", "http")
}

func (h *Handler) now() time.Time {
	if h.Service.Clock != nil {
		return h.Service.Clock()
	}
	return time.Now().UTC()
}

// actor returns the authenticated actor or writes 401.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (budget.Actor, bool) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", errNoActor)
	}
	return actor, ok
}

// =============================================================================
// DEPARTMENT HANDLERS
// =============================================================================

func (h *Handler) ListDepartments(w http.ResponseWriter, r *http.Request) {
	depts, err := h.Service.ListDepartments(r.Context(), queryBool(r, "include_inactive"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list departments", err)
		return
	}
	dtos := make([]DepartmentDTO, len(depts))
	for i, d := range depts {
		dtos[i] = toDepartmentDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetDepartment(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.GetDepartment(r.Context(), budget.DepartmentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get department", err)
		return
	}
	writeJSON(w, http.StatusOK, toDepartmentDTO(*d))
}

func (h *Handler) CreateDepartment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateDepartmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	d, err := h.Service.CreateDepartment(r.Context(), actor, budget.DepartmentInput{
		Name:  req.Name,
		Code:  req.Code,
		HODID: req.HODID,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to create department", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDepartmentDTO(*d))
}

func (h *Handler) UpdateDepartment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req UpdateDepartmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	d, err := h.Service.UpdateDepartment(r.Context(), actor, budget.DepartmentID(chi.URLParam(r, "id")), budget.DepartmentUpdate{
		Name:  req.Name,
		Code:  req.Code,
		HODID: req.HODID,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to update department", err)
		return
	}
	writeJSON(w, http.StatusOK, toDepartmentDTO(*d))
}

func (h *Handler) ActivateDepartment(w http.ResponseWriter, r *http.Request) {
	h.setDepartmentActive(w, r, true)
}

func (h *Handler) DeactivateDepartment(w http.ResponseWriter, r *http.Request) {
	h.setDepartmentActive(w, r, false)
}

func (h *Handler) setDepartmentActive(w http.ResponseWriter, r *http.Request, active bool) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	d, err := h.Service.SetDepartmentActive(r.Context(), actor, budget.DepartmentID(chi.URLParam(r, "id")), active)
	if err != nil {
		h.writeServiceError(w, r, "Failed to change department status", err)
		return
	}
	writeJSON(w, http.StatusOK, toDepartmentDTO(*d))
}

func (h *Handler) DeleteDepartment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.Service.DeleteDepartment(r.Context(), actor, budget.DepartmentID(chi.URLParam(r, "id"))); err != nil {
		h.writeServiceError(w, r, "Failed to delete department", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BUDGET HEAD HANDLERS
// =============================================================================

func (h *Handler) ListBudgetHeads(w http.ResponseWriter, r *http.Request) {
	heads, err := h.Service.ListBudgetHeads(r.Context(), queryBool(r, "include_inactive"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list budget heads", err)
		return
	}
	dtos := make([]BudgetHeadDTO, len(heads))
	for i, bh := range heads {
		dtos[i] = toBudgetHeadDTO(bh)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetBudgetHead(w http.ResponseWriter, r *http.Request) {
	bh, err := h.Service.GetBudgetHead(r.Context(), budget.BudgetHeadID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get budget head", err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetHeadDTO(*bh))
}

func (h *Handler) CreateBudgetHead(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateBudgetHeadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	bh, err := h.Service.CreateBudgetHead(r.Context(), actor, budget.BudgetHeadInput{
		Name:        req.Name,
		Code:        req.Code,
		Description: req.Description,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to create budget head", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBudgetHeadDTO(*bh))
}

func (h *Handler) UpdateBudgetHead(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req UpdateBudgetHeadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	bh, err := h.Service.UpdateBudgetHead(r.Context(), actor, budget.BudgetHeadID(chi.URLParam(r, "id")), budget.BudgetHeadUpdate{
		Name:        req.Name,
		Code:        req.Code,
		Description: req.Description,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to update budget head", err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetHeadDTO(*bh))
}

func (h *Handler) ActivateBudgetHead(w http.ResponseWriter, r *http.Request) {
	h.setBudgetHeadActive(w, r, true)
}

func (h *Handler) DeactivateBudgetHead(w http.ResponseWriter, r *http.Request) {
	h.setBudgetHeadActive(w, r, false)
}

func (h *Handler) setBudgetHeadActive(w http.ResponseWriter, r *http.Request, active bool) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	bh, err := h.Service.SetBudgetHeadActive(r.Context(), actor, budget.BudgetHeadID(chi.URLParam(r, "id")), active)
	if err != nil {
		h.writeServiceError(w, r, "Failed to change budget head status", err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetHeadDTO(*bh))
}

func (h *Handler) DeleteBudgetHead(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.Service.DeleteBudgetHead(r.Context(), actor, budget.BudgetHeadID(chi.URLParam(r, "id"))); err != nil {
		h.writeServiceError(w, r, "Failed to delete budget head", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// FINANCIAL YEAR HANDLERS
// =============================================================================

func (h *Handler) ListFinancialYears(w http.ResponseWriter, r *http.Request) {
	years, err := h.Service.ListFinancialYears(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to list financial years", err)
		return
	}
	dtos := make([]FinancialYearDTO, len(years))
	for i, y := range years {
		dtos[i] = toFinancialYearDTO(y)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetFinancialYear(w http.ResponseWriter, r *http.Request) {
	y, err := h.Service.GetFinancialYear(r.Context(), budget.YearID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get financial year", err)
		return
	}
	writeJSON(w, http.StatusOK, toFinancialYearDTO(*y))
}

// CurrentFinancialYear returns the year whose label covers ?date= (default
// today).
func (h *Handler) CurrentFinancialYear(w http.ResponseWriter, r *http.Request) {
	at := h.now()
	if s := r.URL.Query().Get("date"); s != "" {
		d, err := parseDate("date", s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		at = d
	}
	y, err := h.Service.CurrentFinancialYear(r.Context(), at)
	if err != nil {
		h.writeServiceError(w, r, "No financial year covers this date", err)
		return
	}
	writeJSON(w, http.StatusOK, toFinancialYearDTO(*y))
}

func (h *Handler) CreateFinancialYear(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateFinancialYearRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := budget.CreateYearInput{
		Label:   req.Label,
		Status:  budget.YearStatus(req.Status),
		Remarks: req.Remarks,
	}
	var err error
	if req.StartDate != "" {
		if in.StartDate, err = parseDate("start_date", req.StartDate); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start date", err)
			return
		}
	}
	if req.EndDate != "" {
		if in.EndDate, err = parseDate("end_date", req.EndDate); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end date", err)
			return
		}
	}

	y, err := h.Service.CreateFinancialYear(r.Context(), actor, in)
	if err != nil {
		h.writeServiceError(w, r, "Failed to create financial year", err)
		return
	}
	writeJSON(w, http.StatusCreated, toFinancialYearDTO(*y))
}

type yearTransition func(ctx context.Context, actor budget.Actor, id budget.YearID, remarks string) (*budget.FinancialYear, error)

func (h *Handler) ActivateFinancialYear(w http.ResponseWriter, r *http.Request) {
	h.transitionYear(w, r, "activate", h.Service.ActivateFinancialYear)
}

func (h *Handler) LockFinancialYear(w http.ResponseWriter, r *http.Request) {
	h.transitionYear(w, r, "lock", h.Service.LockFinancialYear)
}

func (h *Handler) CloseFinancialYear(w http.ResponseWriter, r *http.Request) {
	h.transitionYear(w, r, "close", h.Service.CloseFinancialYear)
}

func (h *Handler) transitionYear(w http.ResponseWriter, r *http.Request, op string, fn yearTransition) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req TransitionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	y, err := fn(r.Context(), actor, budget.YearID(chi.URLParam(r, "id")), req.Remarks)
	if err != nil {
		h.writeServiceError(w, r, "Failed to "+op+" financial year", err)
		return
	}
	writeJSON(w, http.StatusOK, toFinancialYearDTO(*y))
}

func (h *Handler) RecalculateFinancialYear(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	y, err := h.Service.RecalculateFinancialYear(r.Context(), actor, budget.YearID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to recalculate financial year", err)
		return
	}
	writeJSON(w, http.StatusOK, toFinancialYearDTO(*y))
}

// =============================================================================
// INCOME HANDLERS
// =============================================================================

func (h *Handler) ListIncome(w http.ResponseWriter, r *http.Request) {
	incomes, err := h.Service.ListIncome(r.Context(), budget.YearID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list income", err)
		return
	}
	dtos := make([]IncomeDTO, len(incomes))
	for i, in := range incomes {
		dtos[i] = toIncomeDTO(in)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RecordIncome(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req RecordIncomeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in := budget.RecordIncomeInput{
		FinancialYearID: budget.YearID(chi.URLParam(r, "id")),
		Source:          req.Source,
		Amount:          req.Amount,
		Remarks:         req.Remarks,
	}
	if req.ReceivedAt != "" {
		d, err := parseDate("received_at", req.ReceivedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid received date", err)
			return
		}
		in.ReceivedAt = d
	}
	income, err := h.Service.RecordIncome(r.Context(), actor, in)
	if err != nil {
		h.writeServiceError(w, r, "Failed to record income", err)
		return
	}
	writeJSON(w, http.StatusCreated, toIncomeDTO(*income))
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

func (h *Handler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	allocs, err := h.Service.ListAllocations(r.Context(), budget.AllocationFilter{
		FinancialYearID: budget.YearID(q.Get("year_id")),
		DepartmentID:    budget.DepartmentID(q.Get("department_id")),
		BudgetHeadID:    budget.BudgetHeadID(q.Get("budget_head_id")),
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to list allocations", err)
		return
	}
	dtos := make([]AllocationDTO, len(allocs))
	for i, a := range allocs {
		dtos[i] = toAllocationDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	a, err := h.Service.GetAllocation(r.Context(), budget.AllocationID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(*a))
}

func (h *Handler) CreateAllocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateAllocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	a, err := h.Service.CreateAllocation(r.Context(), actor, budget.CreateAllocationInput{
		DepartmentID:    budget.DepartmentID(req.DepartmentID),
		BudgetHeadID:    budget.BudgetHeadID(req.BudgetHeadID),
		FinancialYearID: budget.YearID(req.FinancialYearID),
		Amount:          req.AllocatedAmount,
		Remarks:         req.Remarks,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to create allocation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(*a))
}

func (h *Handler) UpdateAllocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req UpdateAllocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	a, err := h.Service.UpdateAllocation(r.Context(), actor, budget.AllocationID(chi.URLParam(r, "id")), budget.UpdateAllocationInput{
		Amount:  req.AllocatedAmount,
		Remarks: req.Remarks,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to update allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(*a))
}

// GetAllocationLedger returns the allocation's ledger with running balances.
func (h *Handler) GetAllocationLedger(w http.ResponseWriter, r *http.Request) {
	id := budget.AllocationID(chi.URLParam(r, "id"))
	txs, summary, err := h.Service.AllocationLedger(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to load allocation ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, AllocationLedgerDTO{
		AllocationID: string(id),
		Granted:      money(summary.Granted.Value),
		Spent:        money(summary.Spent.Value),
		Balance:      money(summary.Balance().Value),
		Transactions: toTransactionDTOs(txs),
	})
}

// =============================================================================
// EXPENDITURE HANDLERS
// =============================================================================

func (h *Handler) ListExpenditures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := budget.ExpenditureFilter{
		FinancialYearID: budget.YearID(q.Get("year_id")),
		DepartmentID:    budget.DepartmentID(q.Get("department_id")),
		BudgetHeadID:    budget.BudgetHeadID(q.Get("budget_head_id")),
		AllocationID:    budget.AllocationID(q.Get("allocation_id")),
		BillNumber:      q.Get("bill_number"),
	}
	for _, s := range strings.Split(q.Get("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			filter.Statuses = append(filter.Statuses, budget.ExpenditureStatus(s))
		}
	}
	exps, err := h.Service.ListExpenditures(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list expenditures", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenditureDTOs(exps))
}

func (h *Handler) GetExpenditure(w http.ResponseWriter, r *http.Request) {
	e, err := h.Service.GetExpenditure(r.Context(), budget.ExpenditureID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get expenditure", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenditureDTO(*e))
}

// ListPendingExpenditures returns the queue awaiting the caller's decision.
func (h *Handler) ListPendingExpenditures(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	exps, err := h.Service.PendingFor(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list pending expenditures", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenditureDTOs(exps))
}

func (h *Handler) SubmitExpenditure(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req SubmitExpenditureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	billDate, err := parseDate("bill_date", req.BillDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid bill date", err)
		return
	}
	e, err := h.Service.SubmitExpenditure(r.Context(), actor, budget.SubmitExpenditureInput{
		AllocationID:   budget.AllocationID(req.AllocationID),
		DepartmentID:   budget.DepartmentID(req.DepartmentID),
		BillNumber:     req.BillNumber,
		BillDate:       billDate,
		BillAmount:     req.BillAmount,
		PartyName:      req.PartyName,
		ExpenseDetails: req.ExpenseDetails,
		Attachments:    req.Attachments,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to submit expenditure", err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenditureDTO(*e))
}

// DecideExpenditure applies verify, approve or reject.
func (h *Handler) DecideExpenditure(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req DecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	decision := budget.Decision(strings.ToLower(strings.TrimSpace(req.Decision)))
	e, err := h.Service.ApplyDecision(r.Context(), budget.ExpenditureID(chi.URLParam(r, "id")), actor, decision, req.Remarks)
	if err != nil {
		h.writeServiceError(w, r, "Failed to apply decision", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenditureDTO(*e))
}

func (h *Handler) ResubmitExpenditure(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req ResubmitRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in := budget.ResubmitInput{
		BillNumber:     req.BillNumber,
		BillAmount:     req.BillAmount,
		PartyName:      req.PartyName,
		ExpenseDetails: req.ExpenseDetails,
		Attachments:    req.Attachments,
	}
	if req.BillDate != nil {
		d, err := parseDate("bill_date", *req.BillDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid bill date", err)
			return
		}
		in.BillDate = &d
	}
	e, err := h.Service.ResubmitExpenditure(r.Context(), budget.ExpenditureID(chi.URLParam(r, "id")), actor, in)
	if err != nil {
		h.writeServiceError(w, r, "Failed to resubmit expenditure", err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenditureDTO(*e))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

func reportFilter(r *http.Request) budget.ReportFilter {
	q := r.URL.Query()
	return budget.ReportFilter{
		FinancialYearID: budget.YearID(q.Get("year_id")),
		DepartmentID:    budget.DepartmentID(q.Get("department_id")),
		BudgetHeadID:    budget.BudgetHeadID(q.Get("budget_head_id")),
	}
}

func (h *Handler) AllocationStats(w http.ResponseWriter, r *http.Request) {
	h.serveReport(w, r, "allocation-stats", func(ctx context.Context) (any, error) {
		stats, err := h.Service.AllocationStats(ctx, reportFilter(r))
		if err != nil {
			return nil, err
		}
		return toAllocationStatsDTO(stats), nil
	})
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.serveReport(w, r, "dashboard", func(ctx context.Context) (any, error) {
		d, err := h.Service.DashboardReport(ctx, reportFilter(r))
		if err != nil {
			return nil, err
		}
		return toDashboardDTO(d), nil
	})
}

func (h *Handler) YearComparison(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	current := budget.YearID(q.Get("current_year_id"))
	if current == "" {
		writeError(w, http.StatusBadRequest, "current_year_id is required", nil)
		return
	}
	previous := budget.YearID(q.Get("previous_year_id"))
	h.serveReport(w, r, "year-comparison", func(ctx context.Context) (any, error) {
		c, err := h.Service.YearComparison(ctx, current, previous)
		if err != nil {
			return nil, err
		}
		return toYearComparisonDTO(c), nil
	})
}

// serveReport answers from the report cache, or builds, caches and writes
// the report. Keys include the sorted query string. The report is cached
// under the generation seen before the build started.
func (h *Handler) serveReport(w http.ResponseWriter, r *http.Request, name string, build func(context.Context) (any, error)) {
	ctx := r.Context()
	key := name + "?" + r.URL.Query().Encode()

	body, gen, ok := h.Cache.Get(ctx, key)
	if ok {
		w.Header().Set("X-Cache", "hit")
		writeRawJSON(w, http.StatusOK, body)
		return
	}

	report, err := build(ctx)
	if err != nil {
		h.writeServiceError(w, r, "Failed to build report", err)
		return
	}
	body, err = json.Marshal(report)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode report", err)
		return
	}
	h.Cache.Set(ctx, gen, key, body)
	w.Header().Set("X-Cache", "miss")
	writeRawJSON(w, http.StatusOK, body)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// errorCodes gives clients a stable code per failure. First match wins.
var errorCodes = []struct {
	err  error
	code string
}{
	{budget.ErrNotFound, "not_found"},
	{budget.ErrUnauthorized, "forbidden"},
	{budget.ErrInvalidTransition, "invalid_transition"},
	{budget.ErrNotResubmittable, "not_resubmittable"},
	{budget.ErrInvalidDecision, "invalid_decision"},
	{budget.ErrYearLocked, "year_locked"},
	{budget.ErrYearClosed, "year_closed"},
	{budget.ErrAlreadyLocked, "already_locked"},
	{budget.ErrAlreadyClosed, "already_closed"},
	{budget.ErrNotLocked, "not_locked"},
	{budget.ErrActiveYearExists, "active_year_exists"},
	{budget.ErrInvalidStatusChange, "invalid_status_change"},
	{budget.ErrDuplicateYear, "duplicate_year"},
	{budget.ErrDuplicateCode, "duplicate_code"},
	{budget.ErrDuplicateBill, "duplicate_bill"},
	{budget.ErrDuplicateAllocation, "duplicate_allocation"},
	{budget.ErrReferenced, "referenced"},
	{budget.ErrOverspend, "overspend"},
	{budget.ErrInactive, "inactive"},
	{budget.ErrInvalidAmount, "invalid_amount"},
	{budget.ErrInvalidRange, "invalid_range"},
	{budget.ErrInvalidLabel, "invalid_label"},
	{budget.ErrInvalidInput, "invalid_input"},
	{generic.ErrDuplicateIdempotencyKey, "duplicate"},
}

// statusFor maps a service error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	code := "internal"
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			code = c.code
			break
		}
	}
	switch {
	case budget.IsNotFound(err):
		return http.StatusNotFound, code
	case budget.IsForbidden(err):
		return http.StatusForbidden, code
	case budget.IsClientError(err):
		return http.StatusBadRequest, code
	case budget.IsConflict(err), errors.Is(err, generic.ErrDuplicateIdempotencyKey):
		return http.StatusConflict, code
	}
	return http.StatusInternalServerError, "internal"
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log().ErrorContext(r.Context(), message,
			"error", err, "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()))
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, v any) error {
	if err := decodeJSON(r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD: %w", field, err)
	}
	return t, nil
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}
