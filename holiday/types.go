/*
Package holiday implements leave booking for practice staff on top of the
generic entitlement ledger.

PURPOSE:
  This package holds the domain: who the staff are and which unit they
  book in, what each weekday is worth to them, and the request workflow
  that turns a date range into ledger movements.

KEY CONCEPTS:
  StaffMember     identity, site and the fixed unit (hours|sessions)
  WorkingPattern  weekday -> value in the staff member's unit
  Valuation       per-day values of a date range (zero days omitted)
  Request         a booking with its frozen day values and reservations
  Manager         submit / approve / reject / cancel
  Reconciler      idempotent import of legacy history

UNITS:
  Clinicians (GPs) are scheduled in half-day sessions; everyone else in
  clock hours. The unit is derived from the role when the staff member is
  provisioned and never changes implicitly afterwards.

SEE ALSO:
  - generic/ledger.go: EntitlementLedger
  - store/sqlite: Persistence
*/
package holiday

import (
	"strings"
	"time"

	"github.com/warp/holiday-engine/generic"
)

// =============================================================================
// STAFF
// =============================================================================

type StaffMember struct {
	ID        generic.EntityID
	SiteID    string
	Name      string
	Role      string
	Unit      generic.Unit
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Roles seen in practice rotas. Only GP is session-based.
const (
	RoleGP                  = "GP"
	RoleGPAssistant         = "GP Assistant"
	RoleNurse               = "Nurse"
	RoleManager             = "Manager"
	RoleAdmin               = "Admin"
	RoleReception           = "Reception"
	RolePharmacist          = "Pharmacist"
	RoleHealthCareAssistant = "Health Care Assistant"
)

// UnitForRole derives the booking unit from a role name.
func UnitForRole(role string) generic.Unit {
	r := strings.ToLower(strings.TrimSpace(role))
	switch {
	case r == "gp", r == "dr", r == "doctor", strings.HasPrefix(r, "gp partner"), strings.HasPrefix(r, "salaried gp"):
		return generic.UnitSessions
	default:
		return generic.UnitHours
	}
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}

// MaxReasonLength bounds the free-text reason on a request.
const MaxReasonLength = 500
