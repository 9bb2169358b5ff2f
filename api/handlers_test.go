/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Shift lifecycle over HTTP (start, current, end, history)
- Error mapping (400 with reason code, 401, 403, 404)
- Earnings reports and the deposit approval hook
- Admin surface (sweeps, settings, motivations)
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/shift-engine/bonus"
	"github.com/warp/shift-engine/core"
	"github.com/warp/shift-engine/core/store"
	"github.com/warp/shift-engine/earnings"
	"github.com/warp/shift-engine/factory"
	"github.com/warp/shift-engine/settings"
	"github.com/warp/shift-engine/shift"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	t      *testing.T
	store  *store.Memory
	router http.Handler
	now    time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()

	registry := shift.NewRegistry(st)
	require.NoError(t, registry.Load(ctx))
	book := factory.NewRuleBook(factory.RuleBookConfig{Store: st, Logger: zerolog.Nop()})
	require.NoError(t, book.Refresh(ctx))

	provider := settings.NewStoreProvider(st)
	engine := bonus.NewEngine(bonus.EngineConfig{Rules: book, Settings: provider, Logger: zerolog.Nop()})
	ledger := earnings.NewLedger(earnings.LedgerConfig{Store: st, Logger: zerolog.Nop()})
	commissions := earnings.NewCommissions(earnings.CommissionsConfig{Store: st, Engine: engine, Logger: zerolog.Nop()})
	machine := shift.NewMachine(shift.MachineConfig{
		Store:       st,
		Registry:    registry,
		Ledger:      ledger,
		Commissions: commissions,
		Settings:    provider,
		Logger:      zerolog.Nop(),
	})

	ts := &testServer{t: t, store: st, now: at(10, 6, 0)}
	h := NewHandler(HandlerConfig{
		Machine:     machine,
		Registry:    registry,
		Ledger:      ledger,
		Commissions: commissions,
		Rules:       book,
		Settings:    provider,
		Now:         func() time.Time { return ts.now },
		Logger:      zerolog.Nop(),
	})
	ts.router = NewRouter(h, []string{"http://localhost:5173"})
	return ts
}

// at builds a platform-local time on a day of March 2025.
func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, core.PlatformZone)
}

func (ts *testServer) do(method, path, userID string, role core.Role, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
		req.Header.Set(HeaderUserRole, string(role))
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) processor(method, path string, body any) *httptest.ResponseRecorder {
	return ts.do(method, path, "p1", core.RoleProcessor, body)
}

func (ts *testServer) admin(method, path string, body any) *httptest.ResponseRecorder {
	return ts.do(method, path, "ops", core.RoleAdmin, body)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// SHIFT LIFECYCLE
// =============================================================================

func TestShiftLifecycle_OverHTTP(t *testing.T) {
	// GIVEN: a processor at 06:00 on March 10
	ts := newTestServer(t)

	// WHEN: they start a MORNING shift
	rec := ts.processor(http.MethodPost, "/api/shifts/start", StartShiftRequest{ShiftType: core.ShiftMorning})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	started := decode[ShiftDTO](t, rec)
	assert.Equal(t, "ACTIVE", started.Status)
	assert.Equal(t, "2025-03-10", started.ShiftDate)
	assert.Equal(t, "2025-03-10T06:00:00+03:00", *started.ActualStart)

	// THEN: current reports it with the eligible types
	ts.now = at(10, 9, 0)
	rec = ts.processor(http.MethodGet, "/api/shifts/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decode[CurrentShiftDTO](t, rec)
	require.NotNil(t, current.Shift)
	assert.Equal(t, started.ID, current.Shift.ID)
	assert.Equal(t, "MORNING", current.CurrentShiftType)
	assert.ElementsMatch(t, []core.ShiftType{core.ShiftMorning, core.ShiftDay, core.ShiftNight}, current.EligibleTypes)

	// WHEN: they end at 14:00, eight hours at the default 2.00 rate
	ts.now = at(10, 14, 0)
	rec = ts.processor(http.MethodPost, "/api/shifts/end", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ended := decode[TransitionDTO](t, rec)
	assert.True(t, ended.Changed)
	assert.Equal(t, "COMPLETED", ended.Shift.Status)
	assert.Equal(t, "8.00", ended.Shift.WorkedHours)
	require.Len(t, ended.Earnings, 1)
	assert.Equal(t, "HOURLY", ended.Earnings[0].Kind)
	assert.True(t, decimal.NewFromInt(16).Equal(ended.Earnings[0].Amount))

	// THEN: ending again is a no-op and the shift's entries are listed
	rec = ts.processor(http.MethodPost, "/api/shifts/end", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[TransitionDTO](t, rec).Changed)

	rec = ts.processor(http.MethodGet, "/api/shifts/"+started.ID+"/earnings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]EntryDTO](t, rec), 1)

	rec = ts.processor(http.MethodGet, "/api/processors/p1/shifts?from=2025-03-01&to=2025-03-31&status=COMPLETED", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ShiftDTO](t, rec), 1)
}

func TestStartShift_RejectionsCarryReasonCode(t *testing.T) {
	tests := []struct {
		name   string
		now    time.Time
		req    StartShiftRequest
		status int
		code   string
	}{
		{"unknown type", at(10, 6, 0), StartShiftRequest{ShiftType: "EVENING"}, http.StatusBadRequest, "invalid_shift_type"},
		{"too early", at(10, 4, 0), StartShiftRequest{ShiftType: core.ShiftMorning}, http.StatusBadRequest, "outside_start_window"},
		{"processor acting for another", at(10, 6, 0), StartShiftRequest{ShiftType: core.ShiftMorning, ProcessorID: "p2"}, http.StatusForbidden, "forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.now = tt.now
			rec := ts.processor(http.MethodPost, "/api/shifts/start", tt.req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestStartShift_SecondStartSameDayRejected(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.processor(http.MethodPost, "/api/shifts/start", StartShiftRequest{ShiftType: core.ShiftMorning}).Code)

	rec := ts.processor(http.MethodPost, "/api/shifts/start", StartShiftRequest{ShiftType: core.ShiftMorning})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEndShift_NoActiveShiftIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.processor(http.MethodPost, "/api/shifts/end", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminStartsOnBehalfOfProcessor(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.admin(http.MethodPost, "/api/shifts/start", StartShiftRequest{ShiftType: core.ShiftMorning})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "admins must name the processor")

	rec = ts.admin(http.MethodPost, "/api/shifts/start", StartShiftRequest{ShiftType: core.ShiftMorning, ProcessorID: "p7"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "p7", decode[ShiftDTO](t, rec).ProcessorID)
}

// =============================================================================
// IDENTITY
// =============================================================================

func TestIdentity(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/api/shifts/current", "", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/api/shifts/current", "p1", "root", nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.processor(http.MethodGet, "/api/processors/p2/shifts", nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.processor(http.MethodGet, "/api/admin/settings", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", "", "", nil).Code)
}

// =============================================================================
// EARNINGS
// =============================================================================

func TestDepositApproved_IdempotentOverHTTP(t *testing.T) {
	// GIVEN: an approved deposit with no shift
	ts := newTestServer(t)
	approvedAt := at(10, 9, 0)
	require.NoError(t, ts.store.SaveDeposit(context.Background(), core.Deposit{
		ID:          "d1",
		ProcessorID: "p1",
		Amount:      decimal.NewFromInt(100),
		Currency:    "USD",
		Status:      core.DepositApproved,
		ApprovedAt:  &approvedAt,
		CreatedAt:   approvedAt,
	}))

	// WHEN: the hook fires twice
	first := ts.do(http.MethodPost, "/api/deposits/d1/approved", "payments", core.RoleSystem, nil)
	second := ts.do(http.MethodPost, "/api/deposits/d1/approved", "payments", core.RoleSystem, nil)

	// THEN: one entry is recorded and the second call reports it
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	assert.False(t, decode[CommissionDTO](t, first).AlreadyRecorded)
	assert.True(t, decode[CommissionDTO](t, second).AlreadyRecorded)

	ts.now = at(10, 12, 0)
	rec := ts.processor(http.MethodGet, "/api/processors/p1/earnings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]EntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "DEPOSIT_COMMISSION", entries[0].Kind)

	// processors cannot fire the hook
	assert.Equal(t, http.StatusForbidden, ts.processor(http.MethodPost, "/api/deposits/d1/approved", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.admin(http.MethodPost, "/api/deposits/missing/approved", nil).Code)
}

func TestEarningsBreakdown_PeriodSelection(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.processor(http.MethodPost, "/api/shifts/start", StartShiftRequest{ShiftType: core.ShiftMorning}).Code)
	ts.now = at(10, 10, 0)
	require.Equal(t, http.StatusOK, ts.processor(http.MethodPost, "/api/shifts/end", nil).Code)

	// GIVEN: 4 hours worked on March 10 (a Monday)
	// WHEN: the week containing it is requested
	rec := ts.processor(http.MethodGet, "/api/processors/p1/earnings/breakdown?period=week&at=2025-03-12", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: the week starts Monday 06:00 and holds the hourly pay
	b := decode[BreakdownDTO](t, rec)
	assert.Equal(t, "2025-03-10T06:00:00+03:00", b.From)
	assert.Equal(t, "2025-03-17T06:00:00+03:00", b.To)
	assert.True(t, decimal.NewFromInt(8).Equal(b.Total), b.Total.String())
	require.Len(t, b.Kinds, 1)
	assert.Equal(t, core.EarningKind("HOURLY"), b.Kinds[0].Kind)

	rec = ts.processor(http.MethodGet, "/api/processors/p1/earnings/breakdown?from=2025-03-11&to=2025-03-12", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[BreakdownDTO](t, rec).Total.IsZero())

	rec = ts.processor(http.MethodGet, "/api/processors/p1/earnings/breakdown?from=2025-03-12&to=2025-03-11", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.processor(http.MethodGet, "/api/processors/p1/earnings/breakdown?period=year", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAdminSweep_ClosesOverdueAndRecordsRun(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.processor(http.MethodPost, "/api/shifts/start", StartShiftRequest{ShiftType: core.ShiftMorning}).Code)

	ts.now = at(10, 15, 0)
	rec := ts.admin(http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[SweepRun](t, rec)
	assert.Equal(t, SweepOverdue, run.Kind)
	assert.Equal(t, 1, run.Result.Succeeded)

	rec = ts.admin(http.MethodGet, "/api/admin/sweep/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SweepRun](t, rec), 1)

	rec = ts.processor(http.MethodGet, "/api/processors/p1/shifts", nil)
	shifts := decode[[]ShiftDTO](t, rec)
	require.Len(t, shifts, 1)
	assert.Equal(t, "COMPLETED", shifts[0].Status)
	assert.Equal(t, shift.AutoCloseNote, shifts[0].Notes)
}

func TestAdminSettings_UpdateAndValidate(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.admin(http.MethodGet, "/api/admin/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decimal.NewFromInt(2).Equal(decode[core.GlobalSettings](t, rec).HourlyRate))

	updated := core.DefaultGlobalSettings()
	updated.HourlyRate = decimal.NewFromInt(3)
	require.Equal(t, http.StatusOK, ts.admin(http.MethodPut, "/api/admin/settings", updated).Code)

	rec = ts.admin(http.MethodGet, "/api/admin/settings", nil)
	assert.True(t, decimal.NewFromInt(3).Equal(decode[core.GlobalSettings](t, rec).HourlyRate))

	updated.HourlyRate = decimal.NewFromInt(-1)
	assert.Equal(t, http.StatusBadRequest, ts.admin(http.MethodPut, "/api/admin/settings", updated).Code)
}

func TestAdminMotivations(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: a motivation with a malformed condition
	rec := ts.admin(http.MethodPost, "/api/admin/motivations", map[string]any{
		"name": "broken", "type": "PERCENTAGE", "value": "1", "active": true,
		"condition": map[string]any{"kind": "nonsense"},
	})
	// THEN: it is rejected at save time
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "invalid_condition", decode[ErrorResponse](t, rec).Code)

	// GIVEN: a valid one
	rec = ts.admin(http.MethodPost, "/api/admin/motivations", map[string]any{
		"name": "flat", "type": "FIXED_AMOUNT", "value": "5", "active": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decode[MotivationDTO](t, rec)
	require.NotEmpty(t, saved.ID)

	// WHEN: it is deactivated
	off := false
	rec = ts.admin(http.MethodPatch, "/api/admin/motivations/"+saved.ID, SetActiveRequest{Active: &off})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[MotivationDTO](t, rec).Active)

	assert.Equal(t, http.StatusBadRequest, ts.admin(http.MethodPatch, "/api/admin/motivations/"+saved.ID, map[string]any{}).Code)
}

func TestAdminEligibility_RestrictsStart(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.admin(http.MethodPut, "/api/admin/processors/p1/shift-types", EligibilityRequest{ShiftTypes: []core.ShiftType{core.ShiftNight}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []core.ShiftType{core.ShiftNight}, decode[CurrentShiftDTO](t, rec).EligibleTypes)

	rec = ts.processor(http.MethodPost, "/api/shifts/start", StartShiftRequest{ShiftType: core.ShiftMorning})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "not_eligible", decode[ErrorResponse](t, rec).Code)
}
