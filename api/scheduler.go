/*
scheduler.go - Automated recalculation scheduler

PURPOSE:
  Periodically recomputes the cached totals (income, allocated, spent,
  utilization) of every financial year that is not closed, so dashboards
  reading those figures never drift far from the allocations.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Recalculation is idempotent; closed years are skipped by the service
  - Each run is logged with the number of years refreshed
  - A run that refreshed any year invalidates the report cache, since
    dashboards embed the cached year totals

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRecalculationScheduler(service, logger)
  scheduler.Cache = reportCache
  scheduler.Start(ctx)
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RecalculateFinancialYear endpoint (manual recalculation)
  - budget/lifecycle.go: RecalculateOpenYears
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/budget-engine/cache"
)

// Recalculator is the part of budget.Service the scheduler drives.
type Recalculator interface {
	RecalculateOpenYears(ctx context.Context) (int, error)
}

// RecalculationScheduler refreshes year totals in the background.
type RecalculationScheduler struct {
	Service       Recalculator
	Cache         cache.ReportCache
	CheckInterval time.Duration
	Enabled       bool
	Logger        *slog.Logger

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

// NewRecalculationScheduler creates a new scheduler.
func NewRecalculationScheduler(svc Recalculator, logger *slog.Logger) *RecalculationScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecalculationScheduler{
		Service:       svc,
		Cache:         cache.Nop{},
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Logger:        logger.With("component", "scheduler"),
	}
}

// Start begins the scheduler. Runs stop when ctx is cancelled or Stop is
// called.
func (rs *RecalculationScheduler) Start(ctx context.Context) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.Logger.Info("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(ctx, rs.ticker, rs.stop)

	rs.Logger.Info("scheduler started", "interval", rs.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight run.
func (rs *RecalculationScheduler) Stop() {
	rs.mu.Lock()
	ticker, stop := rs.ticker, rs.stop
	rs.ticker, rs.stop = nil, nil
	rs.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	rs.wg.Wait()
	rs.Logger.Info("scheduler stopped")
}

func (rs *RecalculationScheduler) run(ctx context.Context, ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			rs.RunNow(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunNow recalculates every open year immediately.
func (rs *RecalculationScheduler) RunNow(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := rs.Service.RecalculateOpenYears(ctx)

	rs.mu.Lock()
	rs.lastRun = start
	rs.mu.Unlock()

	if n > 0 && rs.Cache != nil {
		rs.Cache.Invalidate(ctx)
	}
	if err != nil {
		rs.Logger.ErrorContext(ctx, "recalculation failed", "refreshed", n, "error", err)
		return n, err
	}
	rs.Logger.InfoContext(ctx, "recalculation completed", "refreshed", n,
		"duration", time.Since(start), "next_run", rs.GetNextRunTime())
	return n, nil
}

// LastRun returns when the last run started; zero if it never ran.
func (rs *RecalculationScheduler) LastRun() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastRun
}

// GetNextRunTime returns when the next scheduled run will occur.
func (rs *RecalculationScheduler) GetNextRunTime() time.Time {
	last := rs.LastRun()
	if last.IsZero() {
		return time.Now().Add(rs.CheckInterval)
	}
	return last.Add(rs.CheckInterval)
}
