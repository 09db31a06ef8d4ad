/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard frontend
  5. Auth:       Actor identity on /api (auth.go)
  6. Invalidate: Successful writes drop every cached report

ROUTE GROUPS:
  /healthz                 Liveness
  /api/departments/*       Master data
  /api/budget-heads/*      Master data
  /api/financial-years/*   Lifecycle and income
  /api/allocations/*       Allocations and their ledger
  /api/expenditures/*      Submission and approval
  /api/reports/*           Dashboards and comparisons
  /api/scenarios/*         Demo scenarios (admin only, optional)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/budget-engine/budget"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins  []string
	Auth            *Authenticator
	EnableScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Auth == nil {
		opts.Auth = &Authenticator{}
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type",
			headerActorID, headerActorRole, headerActorDepartment},
		ExposedHeaders:   []string{"X-Cache"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		if opts.EnableScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Use(opts.Auth.Middleware)
				r.Use(RequireRole(budget.RoleAdmin))
				r.Use(h.invalidateOnWrite)
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(opts.Auth.Middleware)
			r.Use(h.invalidateOnWrite)

			r.Route("/departments", func(r chi.Router) {
				r.Get("/", h.ListDepartments)
				r.Post("/", h.CreateDepartment)
				r.Get("/{id}", h.GetDepartment)
				r.Put("/{id}", h.UpdateDepartment)
				r.Delete("/{id}", h.DeleteDepartment)
				r.Post("/{id}/activate", h.ActivateDepartment)
				r.Post("/{id}/deactivate", h.DeactivateDepartment)
			})

			r.Route("/budget-heads", func(r chi.Router) {
				r.Get("/", h.ListBudgetHeads)
				r.Post("/", h.CreateBudgetHead)
				r.Get("/{id}", h.GetBudgetHead)
				r.Put("/{id}", h.UpdateBudgetHead)
				r.Delete("/{id}", h.DeleteBudgetHead)
				r.Post("/{id}/activate", h.ActivateBudgetHead)
				r.Post("/{id}/deactivate", h.DeactivateBudgetHead)
			})

			r.Route("/financial-years", func(r chi.Router) {
				r.Get("/", h.ListFinancialYears)
				r.Post("/", h.CreateFinancialYear)
				r.Get("/current", h.CurrentFinancialYear)
				r.Get("/{id}", h.GetFinancialYear)
				r.Post("/{id}/activate", h.ActivateFinancialYear)
				r.Post("/{id}/lock", h.LockFinancialYear)
				r.Post("/{id}/close", h.CloseFinancialYear)
				r.Post("/{id}/recalculate", h.RecalculateFinancialYear)
				r.Get("/{id}/income", h.ListIncome)
				r.Post("/{id}/income", h.RecordIncome)
			})

			r.Route("/allocations", func(r chi.Router) {
				r.Get("/", h.ListAllocations)
				r.Post("/", h.CreateAllocation)
				r.Get("/{id}", h.GetAllocation)
				r.Put("/{id}", h.UpdateAllocation)
				r.Get("/{id}/ledger", h.GetAllocationLedger)
			})

			r.Route("/expenditures", func(r chi.Router) {
				r.Get("/", h.ListExpenditures)
				r.Post("/", h.SubmitExpenditure)
				r.Get("/pending", h.ListPendingExpenditures)
				r.Get("/{id}", h.GetExpenditure)
				r.Post("/{id}/decision", h.DecideExpenditure)
				r.Post("/{id}/resubmit", h.ResubmitExpenditure)
			})

			r.Route("/reports", func(r chi.Router) {
				r.Get("/allocation-stats", h.AllocationStats)
				r.Get("/dashboard", h.Dashboard)
				r.Get("/year-comparison", h.YearComparison)
			})
		})
	})

	return r
}

// invalidateOnWrite bumps the report cache generation after every
// successful non-GET request.
func (h *Handler) invalidateOnWrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if status := ww.Status(); status >= 200 && status < 300 {
			h.Cache.Invalidate(r.Context())
		}
	})
}
