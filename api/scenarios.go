/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	college data for demos and UI development. Every record is created
	through budget.Service, so scenarios obey the same rules as real use.

AVAILABLE SCENARIOS:

	college-basic: Three departments, an active year, allocations and
	               expenditures in every approval state
	year-end:      A closed previous year next to the active one, for
	               carryforward and year-over-year reports

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create departments and budget heads
 3. Create and activate financial years, record income
 4. Allocate budgets
 5. Submit expenditures and walk them through the approval chain
 6. Return the demo users (with bearer tokens when JWT is configured)

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "college-basic"}

NOTE:

	Scenarios reset the store. They are off unless ENABLE_SCENARIOS is
	set, and every route requires an authenticated admin.

SEE ALSO:
  - handlers.go: Handler and error mapping
  - budget/service.go: Operations used to seed data
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "college-basic",
		Name:        "College Basic",
		Description: "Active year with allocations and expenditures pending, verified, approved and rejected",
	},
	{
		ID:          "year-end",
		Name:        "Year-End Comparison",
		Description: "Closed previous year with carryforward next to the active year",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context) ([]budget.Actor, error)

var scenarioLoaders = map[string]scenarioLoader{
	"college-basic": (*Handler).loadCollegeBasicScenario,
	"year-end":      (*Handler).loadYearEndScenario,
}

const scenarioTokenTTL = 24 * time.Hour

var (
	scenarioAdmin         = budget.Actor{ID: "admin-1", Role: budget.RoleAdmin}
	scenarioOffice        = budget.Actor{ID: "office-1", Role: budget.RoleOffice}
	scenarioPrincipal     = budget.Actor{ID: "principal-1", Role: budget.RolePrincipal}
	scenarioVicePrincipal = budget.Actor{ID: "vp-1", Role: budget.RoleVicePrincipal}
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	loader, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q does not exist", req.ScenarioID))
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	users, err := loader(h, ctx)
	if err != nil {
		h.log().ErrorContext(ctx, "scenario load failed", "scenario", req.ScenarioID, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	result := ScenarioResultDTO{ScenarioID: req.ScenarioID, Users: make([]ScenarioUserDTO, len(users))}
	for i, u := range users {
		dto := ScenarioUserDTO{ID: u.ID, Role: string(u.Role), DepartmentID: string(u.DepartmentID)}
		if len(h.TokenSecret) > 0 {
			if dto.Token, err = IssueToken(h.TokenSecret, u, scenarioTokenTTL); err != nil {
				writeError(w, http.StatusInternalServerError, "Failed to issue demo token", err)
				return
			}
		}
		result.Users[i] = dto
	}
	h.log().InfoContext(ctx, "scenario loaded", "scenario", req.ScenarioID, "users", len(users))
	writeJSON(w, http.StatusOK, result)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadCollegeBasicScenario(ctx context.Context) ([]budget.Actor, error) {
	seed, err := h.seedMasterData(ctx)
	if err != nil {
		return nil, err
	}

	now := h.now()
	year, err := h.Service.CreateFinancialYear(ctx, scenarioAdmin, budget.CreateYearInput{
		Label:   h.Service.Policy.Periods.Label(generic.DateOf(now)),
		Status:  budget.YearActive,
		Remarks: "Demo year",
	})
	if err != nil {
		return nil, fmt.Errorf("create year: %w", err)
	}
	if err := h.seedIncome(ctx, year.ID, now, map[string]int64{
		"State government grant": 1500000,
		"Tuition fees":           800000,
	}); err != nil {
		return nil, err
	}

	allocs, err := h.seedAllocations(ctx, seed, year.ID, []allocSpec{
		{"CS", "EQP", 500000},
		{"CS", "CON", 100000},
		{"PHY", "EQP", 300000},
		{"PHY", "TRV", 50000},
		{"LIB", "CON", 80000},
	})
	if err != nil {
		return nil, err
	}

	err = h.seedExpenditures(ctx, seed, allocs, generic.DateOf(now).Time, []billSpec{
		{"CS/EQP", "CS-1001", 120000, "Dell India", "20 lab workstations", []budget.Decision{budget.DecisionVerify, budget.DecisionApprove}},
		{"CS/EQP", "CS-1002", 38000, "Cisco Systems", "Lab switch", []budget.Decision{budget.DecisionVerify, budget.DecisionApprove}},
		{"CS/CON", "CS-1003", 15000, "Stationery Mart", "Printer toner", []budget.Decision{budget.DecisionVerify}},
		{"PHY/EQP", "PHY-2001", 45000, "Scientific Instruments Co", "Oscilloscope", nil},
		{"PHY/TRV", "PHY-2002", 20000, "Travel Desk", "Conference travel", []budget.Decision{budget.DecisionReject}},
		{"LIB/CON", "LIB-3001", 5000, "Book Binders", "Binding of journals", nil},
	})
	if err != nil {
		return nil, err
	}
	return seed.users, nil
}

func (h *Handler) loadYearEndScenario(ctx context.Context) ([]budget.Actor, error) {
	seed, err := h.seedMasterData(ctx)
	if err != nil {
		return nil, err
	}

	now := h.now()
	periods := h.Service.Policy.Periods
	current := periods.PeriodFor(generic.DateOf(now))
	previous := current.PreviousPeriod()

	// Previous year: spend, then lock and close so carryforward is frozen.
	prevYear, err := h.Service.CreateFinancialYear(ctx, scenarioAdmin, budget.CreateYearInput{
		Label:  periods.Label(previous.Start),
		Status: budget.YearActive,
	})
	if err != nil {
		return nil, fmt.Errorf("create previous year: %w", err)
	}
	if err := h.seedIncome(ctx, prevYear.ID, previous.Start.AddMonths(1).Time, map[string]int64{
		"State government grant": 1200000,
	}); err != nil {
		return nil, err
	}
	prevAllocs, err := h.seedAllocations(ctx, seed, prevYear.ID, []allocSpec{
		{"CS", "EQP", 400000},
		{"PHY", "EQP", 250000},
		{"LIB", "CON", 60000},
	})
	if err != nil {
		return nil, err
	}
	err = h.seedExpenditures(ctx, seed, prevAllocs, previous.Start.AddMonths(3).Time, []billSpec{
		{"CS/EQP", "CS-P-101", 310000, "HP India", "Server rack", []budget.Decision{budget.DecisionVerify, budget.DecisionApprove}},
		{"PHY/EQP", "PHY-P-201", 90000, "Scientific Instruments Co", "Spectrometer", []budget.Decision{budget.DecisionVerify, budget.DecisionApprove}},
		{"LIB/CON", "LIB-P-301", 12000, "Book Binders", "Binding", nil},
	})
	if err != nil {
		return nil, err
	}
	if _, err := h.Service.LockFinancialYear(ctx, scenarioPrincipal, prevYear.ID, "Year-end audit"); err != nil {
		return nil, fmt.Errorf("lock previous year: %w", err)
	}
	if _, err := h.Service.CloseFinancialYear(ctx, scenarioPrincipal, prevYear.ID, "Accounts finalised"); err != nil {
		return nil, fmt.Errorf("close previous year: %w", err)
	}

	// Current year
	curYear, err := h.Service.CreateFinancialYear(ctx, scenarioAdmin, budget.CreateYearInput{
		Label:  periods.Label(current.Start),
		Status: budget.YearActive,
	})
	if err != nil {
		return nil, fmt.Errorf("create current year: %w", err)
	}
	if err := h.seedIncome(ctx, curYear.ID, current.Start.AddMonths(1).Time, map[string]int64{
		"State government grant": 1500000,
		"Tuition fees":           650000,
	}); err != nil {
		return nil, err
	}
	curAllocs, err := h.seedAllocations(ctx, seed, curYear.ID, []allocSpec{
		{"CS", "EQP", 450000},
		{"PHY", "EQP", 300000},
		{"PHY", "TRV", 40000},
		{"LIB", "CON", 75000},
	})
	if err != nil {
		return nil, err
	}
	err = h.seedExpenditures(ctx, seed, curAllocs, generic.DateOf(now).Time, []billSpec{
		{"CS/EQP", "CS-1001", 150000, "Dell India", "Laptops", []budget.Decision{budget.DecisionVerify, budget.DecisionApprove}},
		{"PHY/TRV", "PHY-2001", 18000, "Travel Desk", "Workshop travel", []budget.Decision{budget.DecisionVerify}},
		{"LIB/CON", "LIB-3001", 9000, "Book Binders", "Binding", nil},
	})
	if err != nil {
		return nil, err
	}
	return seed.users, nil
}

// =============================================================================
// SEEDING HELPERS
// =============================================================================

type collegeSeed struct {
	depts map[string]*budget.Department
	heads map[string]*budget.BudgetHead
	hods  map[budget.DepartmentID]budget.Actor
	users []budget.Actor
}

type allocSpec struct {
	dept   string
	head   string
	amount int64
}

type billSpec struct {
	alloc     string // "DEPT/HEAD"
	bill      string
	amount    int64
	party     string
	details   string
	decisions []budget.Decision
}

func (h *Handler) seedMasterData(ctx context.Context) (*collegeSeed, error) {
	seed := &collegeSeed{
		depts: make(map[string]*budget.Department),
		heads: make(map[string]*budget.BudgetHead),
		hods:  make(map[budget.DepartmentID]budget.Actor),
	}

	for _, in := range []budget.DepartmentInput{
		{Name: "Computer Science", Code: "CS", HODID: "hod-cs"},
		{Name: "Physics", Code: "PHY", HODID: "hod-phy"},
		{Name: "Library", Code: "LIB"},
	} {
		d, err := h.Service.CreateDepartment(ctx, scenarioAdmin, in)
		if err != nil {
			return nil, fmt.Errorf("create department %s: %w", in.Code, err)
		}
		seed.depts[d.Code] = d
		if d.HODID != "" {
			seed.hods[d.ID] = budget.Actor{ID: d.HODID, Role: budget.RoleHOD, DepartmentID: d.ID}
		}
	}

	for _, in := range []budget.BudgetHeadInput{
		{Name: "Equipment", Code: "EQP", Description: "Capital equipment and instruments"},
		{Name: "Consumables", Code: "CON", Description: "Stationery, chemicals, binding"},
		{Name: "Travel", Code: "TRV", Description: "Conference and field travel"},
	} {
		bh, err := h.Service.CreateBudgetHead(ctx, scenarioOffice, in)
		if err != nil {
			return nil, fmt.Errorf("create budget head %s: %w", in.Code, err)
		}
		seed.heads[bh.Code] = bh
	}

	seed.users = []budget.Actor{scenarioAdmin, scenarioOffice, scenarioPrincipal, scenarioVicePrincipal}
	for _, code := range []string{"CS", "PHY"} {
		seed.users = append(seed.users, seed.hods[seed.depts[code].ID])
	}
	seed.users = append(seed.users, budget.Actor{ID: "clerk-cs", Role: budget.RoleDepartment, DepartmentID: seed.depts["CS"].ID})
	return seed, nil
}

func (h *Handler) seedIncome(ctx context.Context, year budget.YearID, at time.Time, sources map[string]int64) error {
	for source, amount := range sources {
		_, err := h.Service.RecordIncome(ctx, scenarioOffice, budget.RecordIncomeInput{
			FinancialYearID: year,
			Source:          source,
			Amount:          decimal.NewFromInt(amount),
			ReceivedAt:      at,
		})
		if err != nil {
			return fmt.Errorf("record income %q: %w", source, err)
		}
	}
	return nil
}

func (h *Handler) seedAllocations(ctx context.Context, seed *collegeSeed, year budget.YearID, specs []allocSpec) (map[string]*budget.Allocation, error) {
	allocs := make(map[string]*budget.Allocation, len(specs))
	for _, s := range specs {
		a, err := h.Service.CreateAllocation(ctx, scenarioOffice, budget.CreateAllocationInput{
			DepartmentID:    seed.depts[s.dept].ID,
			BudgetHeadID:    seed.heads[s.head].ID,
			FinancialYearID: year,
			Amount:          decimal.NewFromInt(s.amount),
		})
		if err != nil {
			return nil, fmt.Errorf("allocate %s/%s: %w", s.dept, s.head, err)
		}
		allocs[s.dept+"/"+s.head] = a
	}
	return allocs, nil
}

// seedExpenditures submits each bill through the office and applies its
// decisions: verify by the department's HOD, approve and reject by the
// principal.
func (h *Handler) seedExpenditures(ctx context.Context, seed *collegeSeed, allocs map[string]*budget.Allocation, billDate time.Time, bills []billSpec) error {
	for _, b := range bills {
		a, ok := allocs[b.alloc]
		if !ok {
			return fmt.Errorf("bill %s: no allocation %s", b.bill, b.alloc)
		}
		e, err := h.Service.SubmitExpenditure(ctx, scenarioOffice, budget.SubmitExpenditureInput{
			AllocationID:   a.ID,
			BillNumber:     b.bill,
			BillDate:       billDate,
			BillAmount:     decimal.NewFromInt(b.amount),
			PartyName:      b.party,
			ExpenseDetails: b.details,
		})
		if err != nil {
			return fmt.Errorf("submit %s: %w", b.bill, err)
		}
		for _, d := range b.decisions {
			actor := scenarioPrincipal
			if d == budget.DecisionVerify {
				hod, ok := seed.hods[a.DepartmentID]
				if !ok {
					return fmt.Errorf("bill %s: department has no HOD to verify", b.bill)
				}
				actor = hod
			}
			if e, err = h.Service.ApplyDecision(ctx, e.ID, actor, d, "Demo "+string(d)); err != nil {
				return fmt.Errorf("%s %s: %w", d, b.bill, err)
			}
		}
	}
	return nil
}
