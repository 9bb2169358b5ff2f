/*
handlers.go - HTTP API handlers for the shift and earnings engine

PURPOSE:
  Exposes the shift lifecycle, earnings reports, the deposit approval hook
  and the admin surface over REST. Handlers parse and authorize requests,
  delegate to the domain packages and serialize the result.

ENDPOINTS:
  Shifts (caller is the processor; admins may pass processor_id):
    POST   /api/shifts/start                       Start a shift
    POST   /api/shifts/end                         End the active shift
    GET    /api/shifts/current                     Active or today's shift
    GET    /api/shifts/{id}/earnings               Entries for one shift

  Processors:
    GET    /api/processors/{id}/shifts             ?from&to&status
    GET    /api/processors/{id}/earnings           ?from&to
    GET    /api/processors/{id}/earnings/breakdown ?from&to | ?period&at

  Deposits (admin/system):
    POST   /api/deposits/{id}/approved             Approval hook

  Admin:
    POST   /api/admin/sweep                        Force an overdue sweep
    POST   /api/admin/sweep/missed                 Force a missed sweep
    GET    /api/admin/sweep/runs                   Sweep history
    GET    /api/admin/settings                     Global settings
    PUT    /api/admin/settings
    GET    /api/admin/shift-types                  Shift definitions
    PUT    /api/admin/shift-types
    GET    /api/admin/eligibility                  Processor eligibility
    PUT    /api/admin/processors/{id}/shift-types
    GET    /api/admin/grid-rules                   Bonus grid
    POST   /api/admin/grid-rules
    GET    /api/admin/motivations
    POST   /api/admin/motivations
    PATCH  /api/admin/motivations/{id}             Toggle active

ERROR HANDLING:
  Errors are returned as {"error", "code", "details"} with:
  - 400: ValidationError (code carries the reason, e.g. outside_start_window)
  - 401: no caller identity
  - 403: caller may not act on this processor / not an admin
  - 404: NotFoundError
  - 409: ConflictError (lost the one-shift-per-day race)
  - 500: anything else

TIME:
  Handlers read the clock through Now so tests can pin it.

SEE ALSO:
  - dto.go: Request/response data structures
  - actor.go: caller identity
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/shift-engine/core"
	"github.com/warp/shift-engine/earnings"
	"github.com/warp/shift-engine/factory"
	"github.com/warp/shift-engine/settings"
	"github.com/warp/shift-engine/shift"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

type HandlerConfig struct {
	Machine     *shift.Machine
	Registry    *shift.Registry
	Ledger      *earnings.Ledger
	Commissions *earnings.Commissions
	Rules       *factory.RuleBook
	Settings    settings.Provider
	Sweeps      *SweepScheduler
	Actors      ActorResolver
	Now         func() time.Time
	Logger      zerolog.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	cfg HandlerConfig
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Actors == nil {
		cfg.Actors = HeaderActorResolver{}
	}
	if cfg.Sweeps == nil {
		cfg.Sweeps = NewSweepScheduler(SweepSchedulerConfig{
			Closer: cfg.Machine.AutoCloser(),
			Now:    cfg.Now,
			Logger: cfg.Logger,
		})
	}
	return &Handler{cfg: cfg}
}

// =============================================================================
// SHIFT HANDLERS
// =============================================================================

// StartShift starts a shift for the caller.
// POST /api/shifts/start
func (h *Handler) StartShift(w http.ResponseWriter, r *http.Request) {
	var req StartShiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	processorID, ok := h.processorFor(w, r, req.ProcessorID)
	if !ok {
		return
	}

	instance, err := h.cfg.Machine.Start(r.Context(), processorID, req.ShiftType, h.cfg.Now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toShiftDTO(instance))
}

// EndShift ends the caller's active shift.
// POST /api/shifts/end
func (h *Handler) EndShift(w http.ResponseWriter, r *http.Request) {
	var req EndShiftRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	processorID, ok := h.processorFor(w, r, req.ProcessorID)
	if !ok {
		return
	}

	t, err := h.cfg.Machine.End(r.Context(), processorID, h.cfg.Now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionDTO(t))
}

// CurrentShift returns the caller's active or today's shift.
// GET /api/shifts/current
func (h *Handler) CurrentShift(w http.ResponseWriter, r *http.Request) {
	processorID, ok := h.processorFor(w, r, r.URL.Query().Get("processor_id"))
	if !ok {
		return
	}
	ctx := r.Context()
	now := h.cfg.Now()

	current, err := h.cfg.Machine.Current(ctx, processorID, now)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	eligible, err := h.cfg.Registry.EligibleTypes(ctx, processorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dto := CurrentShiftDTO{EligibleTypes: eligible}
	if eligible == nil {
		dto.EligibleTypes = []core.ShiftType{}
	}
	if current != nil {
		s := toShiftDTO(*current)
		dto.Shift = &s
	}
	if t, ok := h.cfg.Registry.CurrentShiftType(now); ok {
		dto.CurrentShiftType = string(t)
	}
	writeJSON(w, http.StatusOK, dto)
}

// ShiftEarnings lists the ledger entries attributed to one shift.
// GET /api/shifts/{id}/earnings
func (h *Handler) ShiftEarnings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, err := h.cfg.Machine.Get(ctx, core.ShiftID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !actorFrom(ctx).CanActFor(s.ProcessorID) {
		writeForbidden(w)
		return
	}

	entries, err := h.cfg.Ledger.ShiftEntries(ctx, s.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// =============================================================================
// PROCESSOR HANDLERS
// =============================================================================

// ListShifts lists a processor's shifts.
// GET /api/processors/{id}/shifts?from=YYYY-MM-DD&to=YYYY-MM-DD&status=ACTIVE
func (h *Handler) ListShifts(w http.ResponseWriter, r *http.Request) {
	processorID, ok := h.pathProcessor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := core.ShiftFilter{ProcessorID: processorID, Status: core.ShiftStatus(q.Get("status"))}
	for name, dst := range map[string]*core.Day{"from": &filter.FromDay, "to": &filter.ToDay} {
		if v := q.Get(name); v != "" {
			d, err := core.ParseDay(v)
			if err != nil {
				h.fail(w, r, err)
				return
			}
			*dst = d
		}
	}

	shifts, err := h.cfg.Machine.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShiftDTOs(shifts))
}

// ListEarnings lists a processor's entries for a period.
// GET /api/processors/{id}/earnings
func (h *Handler) ListEarnings(w http.ResponseWriter, r *http.Request) {
	processorID, ok := h.pathProcessor(w, r)
	if !ok {
		return
	}
	period, err := h.periodFromQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	entries, err := h.cfg.Ledger.Entries(r.Context(), processorID, period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// EarningsBreakdown groups a processor's earnings by kind.
// GET /api/processors/{id}/earnings/breakdown
func (h *Handler) EarningsBreakdown(w http.ResponseWriter, r *http.Request) {
	processorID, ok := h.pathProcessor(w, r)
	if !ok {
		return
	}
	period, err := h.periodFromQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	b, err := h.cfg.Ledger.Breakdown(r.Context(), processorID, period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BreakdownDTO{
		ProcessorID: string(b.ProcessorID),
		From:        formatTime(period.Start),
		To:          formatTime(period.End),
		Total:       b.Total,
		Kinds:       b.Kinds,
	})
}

// periodFromQuery reads either from/to canonical days (inclusive) or a
// period type (day, week, month) around at. Default: the current day.
func (h *Handler) periodFromQuery(r *http.Request) (core.Period, error) {
	q := r.URL.Query()
	if from, to := q.Get("from"), q.Get("to"); from != "" || to != "" {
		start, err := core.ParseDay(from)
		if err != nil {
			return core.Period{}, err
		}
		end := start
		if to != "" {
			if end, err = core.ParseDay(to); err != nil {
				return core.Period{}, err
			}
		}
		if end.Before(start) {
			return core.Period{}, core.NewValidationError("invalid_period", "to %s is before from %s", end, start)
		}
		return core.Period{Start: start.Start(), End: end.End()}, nil
	}

	at := h.cfg.Now()
	if v := q.Get("at"); v != "" {
		d, err := core.ParseDay(v)
		if err != nil {
			return core.Period{}, err
		}
		at = d.Start()
	}
	switch pt := core.PeriodType(q.Get("period")); pt {
	case "":
		return core.DayPeriod(at), nil
	case core.PeriodDay, core.PeriodWeek, core.PeriodMonth:
		return core.PeriodFor(pt, at), nil
	default:
		return core.Period{}, core.NewValidationError("invalid_period", "unknown period %q", pt)
	}
}

// =============================================================================
// DEPOSIT HOOK
// =============================================================================

// DepositApproved computes and records the commission for an approved
// deposit. Safe to call more than once.
// POST /api/deposits/{id}/approved
func (h *Handler) DepositApproved(w http.ResponseWriter, r *http.Request) {
	c, err := h.cfg.Commissions.OnDepositApproved(r.Context(), core.DepositID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if c.AlreadyRecorded {
		status = http.StatusOK
	}
	writeJSON(w, status, toCommissionDTO(c))
}

// =============================================================================
// ADMIN: SWEEPS
// =============================================================================

// POST /api/admin/sweep
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Sweeps.RunSweep(r.Context(), "manual"))
}

// POST /api/admin/sweep/missed
func (h *Handler) SweepMissed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Sweeps.RunMissed(r.Context(), "manual"))
}

// GET /api/admin/sweep/runs
func (h *Handler) ListSweepRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Sweeps.Runs())
}

// =============================================================================
// ADMIN: SETTINGS AND SHIFT TYPES
// =============================================================================

// GET /api/admin/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	gs, err := h.cfg.Settings.Settings(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gs)
}

// PUT /api/admin/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var gs core.GlobalSettings
	if err := json.NewDecoder(r.Body).Decode(&gs); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.cfg.Settings.Update(r.Context(), gs); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gs)
}

// GET /api/admin/shift-types
func (h *Handler) ListShiftTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Registry.Definitions())
}

// PUT /api/admin/shift-types
func (h *Handler) UpdateShiftType(w http.ResponseWriter, r *http.Request) {
	var def core.ShiftTypeDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.cfg.Registry.Update(r.Context(), def); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// GET /api/admin/eligibility
func (h *Handler) ListEligibility(w http.ResponseWriter, r *http.Request) {
	all, err := h.cfg.Registry.Eligibility(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result := make(map[core.ProcessorID][]core.ShiftType, len(all))
	for _, e := range all {
		result[e.ProcessorID] = e.ShiftTypes
	}
	writeJSON(w, http.StatusOK, result)
}

// PUT /api/admin/processors/{id}/shift-types
func (h *Handler) SetEligibility(w http.ResponseWriter, r *http.Request) {
	var req EligibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	processorID := core.ProcessorID(chi.URLParam(r, "id"))
	if err := h.cfg.Registry.SetEligibility(r.Context(), processorID, req.ShiftTypes); err != nil {
		h.fail(w, r, err)
		return
	}
	types, err := h.cfg.Registry.EligibleTypes(r.Context(), processorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CurrentShiftDTO{EligibleTypes: types})
}

// =============================================================================
// ADMIN: BONUS RULES
// =============================================================================

// GET /api/admin/grid-rules
func (h *Handler) ListGridRules(w http.ResponseWriter, r *http.Request) {
	rules := h.cfg.Rules.AllGridRules()
	dtos := make([]GridRuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toGridRuleDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// POST /api/admin/grid-rules
func (h *Handler) SaveGridRule(w http.ResponseWriter, r *http.Request) {
	var req GridRuleDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rule, err := h.cfg.Rules.SaveGridRule(r.Context(), req.toRule())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGridRuleDTO(rule))
}

// GET /api/admin/motivations
func (h *Handler) ListMotivations(w http.ResponseWriter, r *http.Request) {
	records := h.cfg.Rules.Motivations()
	dtos := make([]MotivationDTO, len(records))
	for i, m := range records {
		dtos[i] = toMotivationDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// POST /api/admin/motivations
func (h *Handler) SaveMotivation(w http.ResponseWriter, r *http.Request) {
	var req MotivationDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	record := req.toRecord()
	record.CreatedAt = h.cfg.Now()

	saved, err := h.cfg.Rules.SaveMotivation(r.Context(), record)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMotivationDTO(saved))
}

// PATCH /api/admin/motivations/{id}
func (h *Handler) SetMotivationActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Active == nil {
		h.fail(w, r, core.NewValidationError("missing_field", "active is required"))
		return
	}
	id := core.MotivationID(chi.URLParam(r, "id"))
	if err := h.cfg.Rules.SetMotivationActive(r.Context(), id, *req.Active); err != nil {
		h.fail(w, r, err)
		return
	}
	for _, m := range h.cfg.Rules.Motivations() {
		if m.ID == id {
			writeJSON(w, http.StatusOK, toMotivationDTO(m))
			return
		}
	}
	h.fail(w, r, core.NotFound("motivation", id))
}

// =============================================================================
// HELPERS
// =============================================================================

// processorFor resolves which processor a shift request acts on: the
// caller, or for admins an explicit processor ID.
func (h *Handler) processorFor(w http.ResponseWriter, r *http.Request, requested string) (core.ProcessorID, bool) {
	actor := actorFrom(r.Context())
	if requested == "" {
		if actor.Role != core.RoleProcessor {
			h.fail(w, r, core.NewValidationError("missing_field", "processor_id is required for %s callers", actor.Role))
			return "", false
		}
		return core.ProcessorID(actor.UserID), true
	}
	processorID := core.ProcessorID(requested)
	if !actor.CanActFor(processorID) {
		writeForbidden(w)
		return "", false
	}
	return processorID, true
}

func (h *Handler) pathProcessor(w http.ResponseWriter, r *http.Request) (core.ProcessorID, bool) {
	processorID := core.ProcessorID(chi.URLParam(r, "id"))
	if !actorFrom(r.Context()).CanActFor(processorID) {
		writeForbidden(w)
		return "", false
	}
	return processorID, true
}

// fail maps domain errors to HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case core.IsClientError(err):
		status = http.StatusBadRequest
	case core.IsConflict(err):
		status = http.StatusConflict
	case core.IsNotFound(err):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		h.cfg.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, status, ErrorResponse{Error: "internal error", Code: "internal"})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: core.ErrorCode(err)})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: "invalid_request"}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeForbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "caller may not act for this processor", Code: "forbidden"})
}
