/*
scheduler.go - Automated year-end rollover scheduler

PURPOSE:
  Periodically checks whether a leave year has closed and carries each
  staff member's unused allowance into the next year without waiting for
  an administrator to call POST /api/admin/rollover.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - The closing year is the one before the current leave year
  - Only staff with an entitlement for the closing year and none for the
    next are rolled over (holiday.Directory.RolloverDue), so a manual
    rollover or a hand-set next-year allowance is never overwritten
  - The last check is kept in memory for the admin status endpoint

CONFIGURATION:
  - ROLLOVER_SCHEDULE_ENABLED: Whether the scheduler runs (default: true)
  - ROLLOVER_CHECK_INTERVAL:   How often to check (default: 1h)
  - ROLLOVER_MAX_CARRY:        Cap applied to every carry-over

USAGE:
  scheduler := NewRolloverScheduler(handler.Directory, cfg.Rollover, cfg.Leave, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerRollover endpoint (manual rollover)
  - holiday/directory.go: Rollover, RolloverDue
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/holiday-engine/config"
	"github.com/warp/holiday-engine/generic"
	"github.com/warp/holiday-engine/holiday"
)

const schedulerActor = "rollover-scheduler"

// RolloverScheduler handles automated year-end rollover.
type RolloverScheduler struct {
	Directory     *holiday.Directory
	CheckInterval time.Duration
	Enabled       bool
	MaxCarry      *decimal.Decimal
	Logger        *zap.Logger
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	statusMu sync.Mutex
	status   SchedulerStatus
}

// SchedulerStatus describes the most recent check.
type SchedulerStatus struct {
	Enabled       bool
	CheckInterval time.Duration
	Checks        int
	LastCheck     *time.Time
	ClosedYear    generic.LeaveYear
	Processed     int
	Failed        int
	LastError     string
}

// NewRolloverScheduler creates a new scheduler.
func NewRolloverScheduler(dir *holiday.Directory, cfg config.RolloverConfig, leave config.LeaveConfig, logger *zap.Logger) *RolloverScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &RolloverScheduler{
		Directory:     dir,
		CheckInterval: interval,
		Enabled:       cfg.Enabled,
		MaxCarry:      leave.RolloverMaxCarry,
		Logger:        logger.Named("scheduler"),
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (rs *RolloverScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run()

	rs.Logger.Info("started", zap.Duration("check_interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight check.
func (rs *RolloverScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("stopped")
	}
}

func (rs *RolloverScheduler) run() {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-rs.stop
		cancel()
	}()

	// Run immediately on start
	rs.RunNow(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.RunNow(ctx)
		case <-rs.stop:
			return
		}
	}
}

// RunNow rolls over the year that closed most recently. It is safe to
// call at any time; staff already rolled over are skipped.
func (rs *RolloverScheduler) RunNow(ctx context.Context) []holiday.RolloverResult {
	now := rs.Now()
	closed := rs.Directory.YearOf(generic.DateOf(now)) - 1

	results, err := rs.Directory.RolloverDue(ctx, "", closed, rs.MaxCarry, schedulerActor)

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}

	rs.statusMu.Lock()
	rs.status.Checks++
	rs.status.LastCheck = &now
	rs.status.ClosedYear = closed
	rs.status.Processed = len(results) - failed
	rs.status.Failed = failed
	rs.status.LastError = ""
	if err != nil {
		rs.status.LastError = err.Error()
	}
	rs.statusMu.Unlock()

	switch {
	case err != nil:
		rs.Logger.Error("rollover check failed", zap.Int("closed_year", int(closed)), zap.Error(err))
	case len(results) > 0:
		rs.Logger.Info("rollover check completed",
			zap.Int("closed_year", int(closed)),
			zap.Int("processed", len(results)-failed),
			zap.Int("failed", failed),
		)
	}
	return results
}

// Status returns a copy of the last check's outcome.
func (rs *RolloverScheduler) Status() SchedulerStatus {
	rs.statusMu.Lock()
	defer rs.statusMu.Unlock()

	s := rs.status
	s.Enabled = rs.Enabled
	s.CheckInterval = rs.CheckInterval
	return s
}

// =============================================================================
// HTTP
// =============================================================================

// GetRolloverSchedule reports the automatic rollover state.
// GET /api/admin/rollover/schedule
func (h *Handler) GetRolloverSchedule(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "Rollover scheduler not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, toSchedulerStatusDTO(h.Scheduler.Status()))
}

// RunRolloverSchedule triggers an immediate check.
// POST /api/admin/rollover/run
func (h *Handler) RunRolloverSchedule(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "Rollover scheduler not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRolloverResultDTOs(h.Scheduler.RunNow(r.Context())))
}
