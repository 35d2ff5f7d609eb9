/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Each scenario must load cleanly through the real services and leave
	the balances it describes.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/holiday-engine/holiday"
)

func TestScenario_EightHourWeek(t *testing.T) {
	// GIVEN: the eight-hour-week scenario
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "eight-hour-week"}, nil))

	// THEN: 40h approved, 360h remaining
	year := s.h.currentLeaveYear()
	b, err := s.h.Manager.Balance(context.Background(), "alice", year)
	require.NoError(t, err)
	assert.Equal(t, "40", b.Approved.Value.String())
	assert.Equal(t, "360", b.Remaining().Value.String())

	var current ScenarioDTO
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/scenarios/current", nil, &current))
	assert.Equal(t, "eight-hour-week", current.ID)
}

func TestScenario_AllLoadAndReset(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			code := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: sc.ID}, nil)
			require.Equal(t, http.StatusOK, code)

			// Loading resets: only this scenario's staff remain.
			staff, err := s.h.Directory.List(ctx, "")
			require.NoError(t, err)
			assert.NotEmpty(t, staff)
			for _, m := range staff {
				assert.Equal(t, scenarioSite, m.SiteID)
			}
		})
	}
}

func TestScenario_YearBoundarySplits(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.h.loadYearBoundaryScenario(ctx))

	history, err := s.h.Manager.History(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Len(t, history[0].Segments, 2)

	year := s.h.currentLeaveYear()
	this, err := s.h.Manager.Balance(ctx, "bob", year)
	require.NoError(t, err)
	next, err := s.h.Manager.Balance(ctx, "bob", year+1)
	require.NoError(t, err)
	assert.True(t, this.Pending.Add(next.Pending).Equal(history[0].Total()))
}

func TestScenario_ApprovalQueue(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.h.loadApprovalQueueScenario(ctx))

	pending, err := s.h.Manager.Pending(ctx, scenarioSite)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for _, r := range pending {
		assert.Equal(t, holiday.StatusPending, r.Status)
	}
}

func TestScenario_Unknown(t *testing.T) {
	s := newTestServer(t)
	var resp ErrorResponse
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}, &resp))
	assert.Equal(t, "Unknown scenario", resp.Error)
}
