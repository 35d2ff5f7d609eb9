package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/holiday-engine/config"
)

func newTestScheduler(s *testServer, now time.Time) *RolloverScheduler {
	sched := NewRolloverScheduler(s.h.Directory, config.RolloverConfig{Enabled: true, CheckInterval: time.Hour}, s.h.Leave, nil)
	sched.Now = func() time.Time { return now }
	s.h.Scheduler = sched
	return sched
}

func TestScheduler_RollsOverClosedYear(t *testing.T) {
	// GIVEN: alice with 400h in 2025 and 40h approved, in January 2026
	s := newTestServer(t)
	s.hireNurse(t)
	var created RequestDTO
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/staff/alice/requests",
		SubmitRequest{StartDate: "2025-03-03", EndDate: "2025-03-07"}, &created))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/requests/"+created.ID+"/approve", nil, nil))

	sched := newTestScheduler(s, time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC))
	limit := decimal.NewFromInt(100)
	sched.MaxCarry = &limit

	// WHEN
	results := sched.RunNow(context.Background())

	// THEN: 360h left, capped at 100 into 2026
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "100", results[0].Entitlement.CarriedOver.Value.String())

	status := sched.Status()
	assert.Equal(t, 1, status.Checks)
	assert.EqualValues(t, 2025, status.ClosedYear)
	assert.Equal(t, 1, status.Processed)

	// A second check leaves 2026 alone.
	assert.Empty(t, sched.RunNow(context.Background()))
	var bal BalanceDTO
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/staff/alice/balance?year=2026", nil, &bal))
	assert.Equal(t, "100", bal.CarriedOver)
	assert.Equal(t, "500", bal.Remaining)
}

func TestScheduler_StartRunsImmediately(t *testing.T) {
	s := newTestServer(t)
	s.hireNurse(t)
	sched := newTestScheduler(s, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC))

	sched.Start()
	require.Eventually(t, func() bool { return sched.Status().Checks >= 1 }, 2*time.Second, 10*time.Millisecond)
	sched.Stop()
	sched.Stop()

	assert.Equal(t, 1, sched.Status().Processed)
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	s := newTestServer(t)
	sched := newTestScheduler(s, time.Now())
	sched.Enabled = false

	sched.Start()
	sched.Stop()

	assert.Zero(t, sched.Status().Checks)
}

func TestScheduler_Endpoints(t *testing.T) {
	s := newTestServer(t)

	// Without a scheduler the routes answer 404.
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/admin/rollover/schedule", nil, nil))

	s.hireNurse(t)
	newTestScheduler(s, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))

	var results []RolloverResultDTO
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/admin/rollover/run", nil, &results))
	require.Len(t, results, 1)
	assert.Equal(t, "alice", results[0].StaffID)
	require.NotNil(t, results[0].Entitlement)
	assert.Equal(t, 2026, results[0].Entitlement.LeaveYear)

	var status SchedulerStatusDTO
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/admin/rollover/schedule", nil, &status))
	assert.True(t, status.Enabled)
	assert.Equal(t, "1h0m0s", status.CheckInterval)
	assert.Equal(t, 1, status.Checks)
	assert.Equal(t, 2025, status.ClosedYear)
	assert.NotNil(t, status.LastCheck)
}
