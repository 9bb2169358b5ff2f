package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/shift-engine/core"
	"github.com/warp/shift-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func local(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, core.PlatformZone)
}

func morningShift(id core.ShiftID, pid core.ProcessorID) core.ShiftInstance {
	start := local(10, 6, 0)
	actual := local(10, 5, 35)
	return core.ShiftInstance{
		ID:             id,
		ProcessorID:    pid,
		ShiftType:      core.ShiftMorning,
		ShiftDate:      "2025-03-10",
		ScheduledStart: start,
		ScheduledEnd:   local(10, 14, 0),
		ActualStart:    &actual,
		Status:         core.StatusActive,
		CreatedAt:      actual,
		UpdatedAt:      actual,
	}
}

// =============================================================================
// SHIFTS
// =============================================================================

func TestStore_ShiftRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateShift(ctx, morningShift("s1", "p1")))

	got, err := store.GetShift(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.Day("2025-03-10"), got.ShiftDate)
	assert.True(t, got.ScheduledEnd.Equal(local(10, 14, 0)))
	require.NotNil(t, got.ActualStart)
	assert.True(t, got.ActualStart.Equal(local(10, 5, 35)))
	assert.Nil(t, got.ActualEnd)

	active, err := store.ActiveShift(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, core.ShiftID("s1"), active.ID)

	_, err = store.GetShift(ctx, "nope")
	assert.True(t, core.IsNotFound(err))
}

func TestStore_DuplicateProcessorDay_Conflict(t *testing.T) {
	// GIVEN: p1 already has a shift on 2025-03-10
	// WHEN: a second instance for the same day is inserted
	// THEN: the unique index rejects it with a ConflictError
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateShift(ctx, morningShift("s1", "p1")))
	err := store.CreateShift(ctx, morningShift("s2", "p1"))

	require.Error(t, err)
	assert.True(t, core.IsConflict(err))
	assert.True(t, errors.Is(err, core.ErrDuplicateShift))
	assert.Equal(t, "shift_already_started", core.ErrorCode(err))

	// other processors are unaffected
	assert.NoError(t, store.CreateShift(ctx, morningShift("s3", "p2")))
}

func TestStore_CompleteShift_OnlyOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateShift(ctx, morningShift("s1", "p1")))

	changed, err := store.CompleteShift(ctx, "s1", local(10, 14, 30), "auto-closed by system")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.CompleteShift(ctx, "s1", local(10, 16, 0), "")
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := store.GetShift(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status)
	assert.True(t, got.ActualEnd.Equal(local(10, 14, 30)))
	assert.Equal(t, "auto-closed by system", got.Notes)

	_, err = store.CompleteShift(ctx, "missing", local(10, 14, 30), "")
	assert.True(t, core.IsNotFound(err))
}

func TestStore_OverdueAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateShift(ctx, morningShift("s1", "p1")))

	overdue, err := store.OverdueShifts(ctx, local(10, 13, 30))
	require.NoError(t, err)
	assert.Empty(t, overdue)

	overdue, err = store.OverdueShifts(ctx, local(10, 14, 1))
	require.NoError(t, err)
	require.Len(t, overdue, 1)

	list, err := store.ListShifts(ctx, core.ShiftFilter{ProcessorID: "p1", FromDay: "2025-03-01", ToDay: "2025-03-10"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = store.ListShifts(ctx, core.ShiftFilter{ProcessorID: "p1", FromDay: "2025-03-11"})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_WithTx_Rollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx core.Store) error {
		if err := tx.CreateShift(ctx, morningShift("s1", "p1")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.ShiftForDay(ctx, "p1", "2025-03-10")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// DEPOSITS
// =============================================================================

func TestStore_ApprovedDeposits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	approvedAt := local(10, 9, 0)
	for i, amount := range []string{"400", "600"} {
		ts := approvedAt.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.SaveDeposit(ctx, core.Deposit{
			ID:          core.DepositID([]string{"d1", "d2"}[i]),
			ProcessorID: "p1",
			Amount:      decimal.RequireFromString(amount),
			Currency:    "USD",
			Status:      core.DepositApproved,
			ApprovedAt:  &ts,
			CreatedAt:   ts,
		}))
	}
	require.NoError(t, store.SaveDeposit(ctx, core.Deposit{
		ID: "d3", ProcessorID: "p1", Amount: decimal.NewFromInt(999), Status: core.DepositPending, CreatedAt: approvedAt,
	}))

	day := core.DayPeriod(approvedAt)
	volume, err := store.ApprovedVolume(ctx, "p1", day.Start, day.End)
	require.NoError(t, err)
	assert.True(t, volume.Equal(decimal.NewFromInt(1000)))

	count, err := store.CountApprovedDeposits(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, store.UpdateDepositEarnings(ctx, "d2",
		decimal.NewFromInt(30), decimal.NewFromInt(8), decimal.RequireFromString("48.00")))
	d, err := store.GetDeposit(ctx, "d2")
	require.NoError(t, err)
	assert.True(t, d.HasEarnings())
	assert.True(t, d.BonusRate.Decimal.Equal(decimal.NewFromInt(8)))

	assert.True(t, core.IsNotFound(store.UpdateDepositEarnings(ctx, "nope", decimal.Zero, decimal.Zero, decimal.Zero)))
}

// =============================================================================
// EARNINGS LEDGER
// =============================================================================

func TestStore_EarningsAppendOnlyAndAggregate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ledger := core.NewLedger(store)

	_, err := ledger.Append(ctx, core.EarningsEntry{
		ProcessorID:    "p1",
		ShiftID:        "s1",
		Kind:           core.KindHourly,
		Amount:         decimal.RequireFromString("17.83"),
		IdempotencyKey: core.HourlyKey("s1"),
		CreatedAt:      local(10, 14, 30),
	})
	require.NoError(t, err)

	_, err = ledger.Append(ctx, core.EarningsEntry{
		ProcessorID:    "p1",
		DepositID:      "d1",
		Kind:           core.KindDepositCommission,
		Amount:         decimal.RequireFromString("32"),
		IdempotencyKey: core.DepositKey("d1"),
		Metadata:       map[string]string{"bonus_rate": "8"},
		CreatedAt:      local(10, 9, 0),
	})
	require.NoError(t, err)

	// Bypassing the ledger pre-check still hits the unique index.
	err = store.AppendEntry(ctx, core.EarningsEntry{
		ID: "dup", ProcessorID: "p1", Kind: core.KindHourly, IdempotencyKey: core.HourlyKey("s1"), CreatedAt: local(10, 15, 0),
	})
	assert.ErrorIs(t, err, core.ErrDuplicateIdempotencyKey)

	entries, err := store.Entries(ctx, core.EntryFilter{ProcessorID: "p1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, core.KindDepositCommission, entries[0].Kind, "ordered by created_at")
	assert.Equal(t, "8", entries[0].Metadata["bonus_rate"])

	totals, err := store.SumByKind(ctx, core.EntryFilter{ProcessorID: "p1", From: local(10, 6, 0), To: local(11, 6, 0)})
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, core.KindDepositCommission, totals[0].Kind)
	assert.True(t, totals[0].Sum.Equal(decimal.NewFromInt(32)))
	assert.True(t, totals[1].Sum.Equal(decimal.RequireFromString("17.83")))

	perShift, err := store.Entries(ctx, core.EntryFilter{ShiftID: "s1"})
	require.NoError(t, err)
	assert.Len(t, perShift, 1)
}

// =============================================================================
// RULES, SETTINGS, REGISTRY
// =============================================================================

func TestStore_RulesAndSettings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	maxAmount := decimal.NewFromInt(1000)
	require.NoError(t, store.SaveGridRule(ctx, core.BonusGridRule{
		ID: "r2", ShiftType: core.ShiftMorning, MinAmount: decimal.NewFromInt(500), MaxAmount: &maxAmount,
		BonusPercentage: decimal.NewFromInt(8),
	}))
	require.NoError(t, store.SaveGridRule(ctx, core.BonusGridRule{
		ID: "r1", ShiftType: core.ShiftMorning, MinAmount: decimal.Zero, MaxAmount: &maxAmount,
		BonusPercentage: decimal.NewFromInt(6),
	}))

	rules, err := store.GridRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, core.RuleID("r1"), rules[0].ID)
	require.NotNil(t, rules[1].MaxAmount)
	assert.True(t, rules[1].MaxAmount.Equal(maxAmount))
	assert.Nil(t, rules[1].FixedBonus)

	require.NoError(t, store.SaveMotivation(ctx, core.MotivationRecord{
		ID: "m1", Name: "ten deposits", Type: core.MotivationFixedAmount, Value: decimal.NewFromInt(10),
		ConditionJSON: `{"type":"min_deposits_count","value":10}`, Active: true, CreatedAt: local(1, 0, 0),
	}))
	require.NoError(t, store.SetMotivationActive(ctx, "m1", false))
	motivations, err := store.Motivations(ctx)
	require.NoError(t, err)
	require.Len(t, motivations, 1)
	assert.False(t, motivations[0].Active)
	assert.True(t, core.IsNotFound(store.SetMotivationActive(ctx, "nope", true)))

	gs, err := store.GlobalSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, gs)

	require.NoError(t, store.SaveGlobalSettings(ctx, core.GlobalSettings{
		HourlyRate: decimal.NewFromInt(3), BaseCommissionRate: decimal.NewFromInt(25), BaseBonusRate: decimal.NewFromInt(4),
	}))
	gs, err = store.GlobalSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, gs)
	assert.True(t, gs.HourlyRate.Equal(decimal.NewFromInt(3)))
}

func TestStore_Registry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveShiftTypeDefinition(ctx, core.ShiftTypeDefinition{
		ShiftType: core.ShiftNight, StartHour: 22, EndHour: 30, Enabled: true,
	}))
	require.NoError(t, store.SaveShiftTypeDefinition(ctx, core.ShiftTypeDefinition{
		ShiftType: core.ShiftMorning, StartHour: 6, EndHour: 14, Enabled: false,
	}))

	defs, err := store.ShiftTypeDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, core.ShiftMorning, defs[0].ShiftType)
	assert.False(t, defs[0].Enabled)
	assert.Equal(t, 30, defs[1].EndHour)

	require.NoError(t, store.SetProcessorShiftTypes(ctx, "p1", []core.ShiftType{core.ShiftNight, core.ShiftMorning}))
	require.NoError(t, store.SetProcessorShiftTypes(ctx, "p1", []core.ShiftType{core.ShiftNight}))

	types, err := store.ProcessorShiftTypes(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []core.ShiftType{core.ShiftNight}, types)

	all, err := store.ProcessorEligibility(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, core.ProcessorID("p1"), all[0].ProcessorID)
}
