/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the database with small, realistic practices so the API can
	be explored without a legacy import. Every scenario is built through
	the same services the API uses, so the ledger it leaves behind is one
	the workflow could have produced.

AVAILABLE SCENARIOS:

	eight-hour-week: 8h Mon-Fri nurse, 400h allowance, one approved week
	gp-sessions:     Session-based GP with carry-over and a pending request
	year-boundary:   A booking straddling two leave years
	approval-queue:  Several staff with pending requests at one site

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "eight-hour-week"}

NOTE:

	Scenarios reset the database. The routes are only mounted outside
	production.

SEE ALSO:
  - handlers.go: Handler
  - holiday/lifecycle.go: Manager
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/holiday-engine/generic"
	"github.com/warp/holiday-engine/holiday"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const (
	scenarioSite  = "demo-practice"
	scenarioActor = "scenario-loader"
)

var scenarios = []ScenarioDTO{
	{
		ID:          "eight-hour-week",
		Name:        "Eight-Hour Week",
		Description: "Nurse on 8h Mon-Fri with 400h; a Mon-Fri booking costs 40h",
	},
	{
		ID:          "gp-sessions",
		Name:        "GP Sessions",
		Description: "GP booked in sessions with 36 + 2.5 carried over and a pending request",
	},
	{
		ID:          "year-boundary",
		Name:        "Year Boundary",
		Description: "One request split across two leave years",
	},
	{
		ID:          "approval-queue",
		Name:        "Approval Queue",
		Description: "Three staff with pending requests waiting for a manager",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads one scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	loaders := map[string]func(context.Context) error{
		"eight-hour-week": h.loadEightHourWeekScenario,
		"gp-sessions":     h.loadGPSessionsScenario,
		"year-boundary":   h.loadYearBoundaryScenario,
		"approval-queue":  h.loadApprovalQueueScenario,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadEightHourWeekScenario(ctx context.Context) error {
	year := h.currentLeaveYear()
	if err := h.hire(ctx, "alice", "Alice Smith", holiday.RoleNurse, hoursWeek(8), year, 400, 0); err != nil {
		return err
	}

	monday := firstMondayFrom(h.leaveYearStart(year).AddMonths(2))
	req, err := h.Manager.Submit(ctx, holiday.SubmitInput{
		StaffID: "alice", Start: monday, End: monday.AddDays(4),
		Reason: "Half term", ActorID: "alice",
	})
	if err != nil {
		return err
	}
	_, err = h.Manager.Approve(ctx, req.ID, scenarioActor)
	return err
}

func (h *Handler) loadGPSessionsScenario(ctx context.Context) error {
	year := h.currentLeaveYear()
	pattern := map[time.Weekday]decimal.Decimal{
		time.Monday:   decimal.NewFromInt(2),
		time.Tuesday:  decimal.NewFromInt(2),
		time.Thursday: decimal.RequireFromString("1.5"),
	}
	if err := h.hire(ctx, "dr-patel", "Dr Patel", holiday.RoleGP, pattern, year, 36, 2.5); err != nil {
		return err
	}

	monday := firstMondayFrom(h.leaveYearStart(year).AddMonths(4))
	_, err := h.Manager.Submit(ctx, holiday.SubmitInput{
		StaffID: "dr-patel", Start: monday, End: monday.AddDays(6),
		Reason: "Conference", Destination: "Edinburgh", ActorID: "dr-patel",
	})
	return err
}

func (h *Handler) loadYearBoundaryScenario(ctx context.Context) error {
	year := h.currentLeaveYear()
	if err := h.hire(ctx, "bob", "Bob Jones", holiday.RoleReception, hoursWeek(7.5), year, 225, 0); err != nil {
		return err
	}
	if _, err := h.Directory.SetEntitlement(ctx, "bob", year+1, decimal.NewFromInt(225), decimal.Zero, scenarioActor); err != nil {
		return err
	}

	boundary := h.leaveYearStart(year + 1)
	_, err := h.Manager.Submit(ctx, holiday.SubmitInput{
		StaffID: "bob", Start: boundary.AddDays(-3), End: boundary.AddDays(3),
		Reason: "New year", ActorID: "bob",
	})
	return err
}

func (h *Handler) loadApprovalQueueScenario(ctx context.Context) error {
	year := h.currentLeaveYear()
	staff := []struct {
		id, name, role string
		perDay         float64
		annual         float64
	}{
		{"carol", "Carol Davis", holiday.RoleAdmin, 7.5, 187.5},
		{"dan", "Dan Brown", holiday.RolePharmacist, 8, 200},
		{"erin", "Erin White", holiday.RoleHealthCareAssistant, 6, 150},
	}

	monday := firstMondayFrom(h.leaveYearStart(year).AddMonths(5))
	for i, s := range staff {
		if err := h.hire(ctx, s.id, s.name, s.role, hoursWeek(s.perDay), year, s.annual, 0); err != nil {
			return err
		}
		start := monday.AddDays(7 * i)
		if _, err := h.Manager.Submit(ctx, holiday.SubmitInput{
			StaffID: generic.EntityID(s.id), Start: start, End: start.AddDays(2),
			Reason: "Summer", ActorID: s.id,
		}); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) hire(ctx context.Context, id, name, role string, pattern map[time.Weekday]decimal.Decimal, year generic.LeaveYear, annual, carried float64) error {
	staffID := generic.EntityID(id)
	if _, err := h.Directory.Provision(ctx, holiday.ProvisionInput{
		ID: staffID, SiteID: scenarioSite, Name: name, Role: role, ActorID: scenarioActor,
	}); err != nil {
		return fmt.Errorf("provision %s: %w", id, err)
	}
	if _, err := h.Directory.SetPattern(ctx, staffID, pattern, scenarioActor); err != nil {
		return fmt.Errorf("pattern %s: %w", id, err)
	}
	if _, err := h.Directory.SetEntitlement(ctx, staffID, year,
		decimal.NewFromFloat(annual), decimal.NewFromFloat(carried), scenarioActor); err != nil {
		return fmt.Errorf("entitlement %s: %w", id, err)
	}
	return nil
}

func hoursWeek(perDay float64) map[time.Weekday]decimal.Decimal {
	v := decimal.NewFromFloat(perDay)
	out := make(map[time.Weekday]decimal.Decimal, len(holiday.Weekdays))
	for _, wd := range holiday.Weekdays {
		out[wd] = v
	}
	return out
}

func (h *Handler) currentLeaveYear() generic.LeaveYear {
	return h.Manager.YearOf(generic.Today())
}

func (h *Handler) leaveYearStart(year generic.LeaveYear) generic.TimePoint {
	month := h.Leave.YearStartMonth
	if month == 0 {
		month = time.January
	}
	return generic.NewTimePoint(int(year), month, 1)
}

func firstMondayFrom(tp generic.TimePoint) generic.TimePoint {
	for tp.Weekday() != time.Monday {
		tp = tp.AddDays(1)
	}
	return tp
}
