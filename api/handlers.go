/*
handlers.go - HTTP API handlers for the holiday ledger

PURPOSE:
  Exposes staff administration, the request workflow and the legacy
  import over REST. Handlers parse and validate input, call the holiday
  services and translate domain errors into status codes. They hold no
  leave rules of their own.

ENDPOINTS:
  Staff:
    GET    /api/staff                          List staff (?site_id=)
    GET    /api/staff/{id}                     Get staff member
    PUT    /api/staff/{id}                     Provision staff member
    GET    /api/staff/{id}/pattern             Working pattern
    PUT    /api/staff/{id}/pattern             Replace working pattern
    PUT    /api/staff/{id}/entitlements/{year} Set annual + carried over
    GET    /api/staff/{id}/balance             Balance (?year=)
    GET    /api/staff/{id}/requests            Request history
    POST   /api/staff/{id}/requests            Submit request

  Requests:
    GET    /api/requests/pending               Approval queue (?site_id=)
    GET    /api/requests/{id}                  One request
    POST   /api/requests/{id}/approve
    POST   /api/requests/{id}/reject
    POST   /api/requests/{id}/cancel

  Admin:
    POST   /api/admin/rollover                 Close a leave year
    POST   /api/admin/import                   Upload transfer workbook
    GET    /api/admin/rollover/schedule        Automatic rollover status
    POST   /api/admin/rollover/run             Run the automatic check now

ACTOR:
  The acting user comes from the X-Staff-ID header (see identity.go).
  Authorization is left to the gateway in front of this service.

ERROR HANDLING:
  Errors are returned as JSON (ErrorResponse) with:
  - 400: Validation errors, invalid pattern, range or duration
  - 404: Staff, request or entitlement not found
  - 409: Invalid state transition, import conflict
  - 422: Insufficient balance
  - 503: Ledger contention (retry later)
  - 500: Consistency failures and internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/holiday-engine/config"
	"github.com/warp/holiday-engine/generic"
	"github.com/warp/holiday-engine/holiday"
	"github.com/warp/holiday-engine/legacy"
	"github.com/warp/holiday-engine/store/sqlite"
)

// maxUploadBytes bounds a workbook upload.
const maxUploadBytes = 32 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Manager    *holiday.Manager
	Directory  *holiday.Directory
	Reconciler *holiday.Reconciler
	Leave      config.LeaveConfig
	Logger     *zap.Logger

	// Scheduler is optional; the schedule endpoints answer 404 without it.
	Scheduler *RolloverScheduler

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler builds the holiday services over store.
func NewHandler(store *sqlite.Store, opts holiday.Options, imp holiday.ImportOptions, leave config.LeaveConfig) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Calendar.StartMonth == 0 {
		opts.Calendar = leave.Calendar()
	}
	if opts.MaxRangeDays == 0 {
		opts.MaxRangeDays = leave.MaxRequestDays
	}
	if !imp.EffectiveDayHours.IsPositive() {
		imp.EffectiveDayHours = leave.EffectiveDayHours
	}
	return &Handler{
		Store:      store,
		Manager:    holiday.NewManager(store, opts),
		Directory:  holiday.NewDirectory(store, opts),
		Reconciler: holiday.NewReconciler(store, opts, imp),
		Leave:      leave,
		Logger:     opts.Logger,
		validate:   newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		_, ok := holiday.ParseWeekday(fl.Field().String())
		return ok
	})
	return v
}

// =============================================================================
// STAFF HANDLERS
// =============================================================================

// ListStaff returns staff ordered by name.
func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := h.Directory.List(r.Context(), r.URL.Query().Get("site_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]StaffDTO, len(staff))
	for i, s := range staff {
		dtos[i] = toStaffDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetStaff(w http.ResponseWriter, r *http.Request) {
	s, err := h.Directory.Staff(r.Context(), staffID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStaffDTO(*s))
}

// ProvisionStaff creates or updates a staff member.
// PUT /api/staff/{id}
func (h *Handler) ProvisionStaff(w http.ResponseWriter, r *http.Request) {
	var req ProvisionStaffRequest
	if !h.decode(w, r, &req) {
		return
	}
	siteID := req.SiteID
	if siteID == "" {
		siteID = h.siteFor(r)
	}
	s, err := h.Directory.Provision(r.Context(), holiday.ProvisionInput{
		ID:      staffID(r),
		SiteID:  siteID,
		Name:    req.Name,
		Role:    req.Role,
		ActorID: actorID(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStaffDTO(*s))
}

func (h *Handler) GetPattern(w http.ResponseWriter, r *http.Request) {
	p, err := h.Directory.Pattern(r.Context(), staffID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPatternDTO(p))
}

// SetPattern replaces the working pattern. Existing requests keep their
// frozen day values.
// PUT /api/staff/{id}/pattern
func (h *Handler) SetPattern(w http.ResponseWriter, r *http.Request) {
	var req PatternRequest
	if !h.decode(w, r, &req) {
		return
	}
	per := make(map[time.Weekday]decimal.Decimal, len(req.Weekdays))
	for name, raw := range req.Weekdays {
		wd, _ := holiday.ParseWeekday(name)
		v, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid pattern value", err)
			return
		}
		per[wd] = v
	}
	p, err := h.Directory.SetPattern(r.Context(), staffID(r), per, actorID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPatternDTO(p))
}

// SetEntitlement sets the allowance for one leave year.
// PUT /api/staff/{id}/entitlements/{year}
func (h *Handler) SetEntitlement(w http.ResponseWriter, r *http.Request) {
	year, err := parseYear(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid leave year", err)
		return
	}
	var req EntitlementRequest
	if !h.decode(w, r, &req) {
		return
	}
	annual, err := decimal.NewFromString(req.Annual)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid annual amount", err)
		return
	}
	carried := decimal.Zero
	if req.CarriedOver != "" {
		if carried, err = decimal.NewFromString(req.CarriedOver); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid carried over amount", err)
			return
		}
	}

	ent, err := h.Directory.SetEntitlement(r.Context(), staffID(r), year, annual, carried, actorID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntitlementDTO(ent))
}

// GetBalance returns the balance for ?year=, defaulting to the leave
// year containing today.
// GET /api/staff/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	year := h.Manager.YearOf(generic.Today())
	if raw := r.URL.Query().Get("year"); raw != "" {
		y, err := parseYear(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid leave year", err)
			return
		}
		year = y
	}
	b, err := h.Manager.Balance(r.Context(), staffID(r), year)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

func (h *Handler) ListStaffRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Manager.History(r.Context(), staffID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(reqs))
}

// SubmitRequest books a date range, reserving its value immediately.
// POST /api/staff/{id}/requests
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}
	// Both dates passed the datetime tag.
	start, _ := generic.ParseDate(req.StartDate)
	end, _ := generic.ParseDate(req.EndDate)

	created, err := h.Manager.Submit(r.Context(), holiday.SubmitInput{
		StaffID:     staffID(r),
		Start:       start,
		End:         end,
		Reason:      req.Reason,
		Destination: req.Destination,
		ActorID:     actorID(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(*created))
}

func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Manager.Pending(r.Context(), r.URL.Query().Get("site_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(reqs))
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Manager.Approve(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var body DecisionRequest
	if !h.decodeOptional(w, r, &body) {
		return
	}
	req, err := h.Manager.Reject(r.Context(), chi.URLParam(r, "id"), actorID(r), body.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// CancelRequest withdraws a pending request or reverses an approved one.
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Manager.Cancel(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerRollover carries unused allowance into the next leave year.
// Per-staff failures are reported in the body; the batch always runs to
// the end.
// POST /api/admin/rollover
func (h *Handler) TriggerRollover(w http.ResponseWriter, r *http.Request) {
	var req RolloverRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	ids := make([]generic.EntityID, 0, len(req.StaffIDs))
	for _, id := range req.StaffIDs {
		ids = append(ids, generic.EntityID(id))
	}
	if len(ids) == 0 {
		staff, err := h.Directory.List(ctx, req.SiteID)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		for _, s := range staff {
			ids = append(ids, s.ID)
		}
	}

	maxCarry := h.Leave.RolloverMaxCarry
	if req.MaxCarry != nil {
		c, err := decimal.NewFromString(*req.MaxCarry)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid max carry", err)
			return
		}
		maxCarry = &c
	}

	results := h.Directory.Rollover(ctx, ids, generic.LeaveYear(req.FromYear), maxCarry, actorID(r))
	writeJSON(w, http.StatusOK, toRolloverResultDTOs(results))
}

// ImportWorkbook ingests a legacy transfer workbook (multipart field
// "file"). Optional form fields: site_id, year (the entitlement year for
// provisioned staff).
// POST /api/admin/import
func (h *Handler) ImportWorkbook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file", err)
		return
	}
	defer file.Close()

	siteID := r.FormValue("site_id")
	if siteID == "" {
		siteID = h.siteFor(r)
	}
	year := h.Manager.YearOf(generic.Today())
	if raw := r.FormValue("year"); raw != "" {
		if year, err = parseYear(raw); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid leave year", err)
			return
		}
	}

	wb, err := legacy.Load(file, header.Filename, siteID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unreadable workbook", err)
		return
	}
	report, err := legacy.Apply(r.Context(), h.Reconciler, wb, year)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.Logger.Info("workbook imported",
		zap.String("file", header.Filename), zap.String("site_id", siteID),
		zap.Int("imported", report.Result.Imported), zap.Int("skipped", report.Result.Skipped))
	writeJSON(w, http.StatusOK, toImportReportDTO(report))
}

// Health pings the database.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DB().PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
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

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps the domain taxonomy onto HTTP. Insufficient balance is
// a client error too, so it is matched before the 400 group.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrContention), generic.IsRetryable(err):
		return http.StatusServiceUnavailable, "Ledger busy, retry later"
	case generic.IsConsistencyError(err):
		return http.StatusInternalServerError, "Ledger consistency failure"
	case errors.Is(err, generic.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "Insufficient balance"
	case holiday.IsNotFound(err):
		return http.StatusNotFound, "Not found"
	case holiday.IsConflict(err):
		return http.StatusConflict, "Conflict"
	case holiday.IsClientError(err):
		return http.StatusBadRequest, "Invalid request"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.Logger.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, message, err)
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return h.decode(w, r, dst)
}

func (h *Handler) siteFor(r *http.Request) string {
	if id := IdentityFrom(r.Context()); id.SiteID != "" {
		return id.SiteID
	}
	return h.Leave.DefaultSiteID
}

func staffID(r *http.Request) generic.EntityID {
	return generic.EntityID(chi.URLParam(r, "id"))
}

func parseYear(raw string) (generic.LeaveYear, error) {
	y, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || y < 1900 || y > 9999 {
		return 0, fmt.Errorf("year %q out of range", raw)
	}
	return generic.LeaveYear(y), nil
}
