package holiday

import (
	"time"

	"github.com/warp/holiday-engine/generic"
)

// =============================================================================
// REQUEST - A holiday booking and its lifecycle state
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// transitions is the whole state machine:
//
//	pending  -> approved | rejected | cancelled
//	approved -> cancelled
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusCancelled},
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Segment is the part of a request charged to one leave-year. Live
// requests hold one reservation per segment; imported requests have none.
type Segment struct {
	LeaveYear     generic.LeaveYear
	Amount        generic.Amount
	ReservationID generic.ReservationID
}

type Request struct {
	ID          string
	StaffID     generic.EntityID
	SiteID      string
	Period      generic.Period
	Unit        generic.Unit
	Status      Status
	Reason      string
	Destination string

	// Days are frozen at submission and never revalued.
	Days     []DayValue
	Segments []Segment

	ApproverID      string
	RejectionReason string
	CancelledBy     string
	SourceRecordID  string

	RequestedAt time.Time
	ApprovedAt  *time.Time
	RejectedAt  *time.Time
	CancelledAt *time.Time
	UpdatedAt   time.Time
}

// Total is the sum of the frozen day values.
func (r Request) Total() generic.Amount {
	return sumDays(r.Unit, r.Days)
}

// IsImported reports whether the request came from legacy history.
func (r Request) IsImported() bool {
	return r.SourceRecordID != ""
}

func (r Request) key(year generic.LeaveYear) generic.LedgerKey {
	return generic.LedgerKey{EntityID: r.StaffID, LeaveYear: year}
}

func (r *Request) transition(next Status, at time.Time) error {
	if !r.Status.CanTransition(next) {
		return &TransitionError{RequestID: r.ID, From: r.Status, To: next}
	}
	r.Status = next
	r.UpdatedAt = at
	switch next {
	case StatusApproved:
		r.ApprovedAt = &at
	case StatusRejected:
		r.RejectedAt = &at
	case StatusCancelled:
		r.CancelledAt = &at
	}
	return nil
}

func segmentsFrom(years []YearValuation) []Segment {
	segments := make([]Segment, 0, len(years))
	for _, y := range years {
		segments = append(segments, Segment{LeaveYear: y.LeaveYear, Amount: y.Total})
	}
	return segments
}
