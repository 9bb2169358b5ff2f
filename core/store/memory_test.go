package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/shift-engine/core"
	"github.com/warp/shift-engine/core/store"
)

func activeShift(id core.ShiftID, pid core.ProcessorID, day core.Day, start time.Time) core.ShiftInstance {
	return core.ShiftInstance{
		ID:             id,
		ProcessorID:    pid,
		ShiftType:      core.ShiftMorning,
		ShiftDate:      day,
		ScheduledStart: start,
		ScheduledEnd:   start.Add(8 * time.Hour),
		ActualStart:    &start,
		Status:         core.StatusActive,
		CreatedAt:      start,
		UpdatedAt:      start,
	}
}

func TestMemory_ConcurrentCreateShift_OneWinner(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	start := time.Date(2025, time.March, 10, 6, 0, 0, 0, core.PlatformZone)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := mem.CreateShift(ctx, activeShift(core.ShiftID(rune('a'+i)), "p1", "2025-03-10", start))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if core.IsConflict(err) && errors.Is(err, core.ErrDuplicateShift) {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 19, conflicts)
}

func TestMemory_CompleteShiftIsGuarded(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	start := time.Date(2025, time.March, 10, 6, 0, 0, 0, core.PlatformZone)
	require.NoError(t, mem.CreateShift(ctx, activeShift("s1", "p1", "2025-03-10", start)))

	changed, err := mem.CompleteShift(ctx, "s1", start.Add(8*time.Hour), "")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = mem.CompleteShift(ctx, "s1", start.Add(9*time.Hour), "late")
	require.NoError(t, err)
	assert.False(t, changed)

	s, err := mem.GetShift(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, s.Status)
	assert.True(t, s.ActualEnd.Equal(start.Add(8*time.Hour)))
	assert.Empty(t, s.Notes)

	_, err = mem.CompleteShift(ctx, "missing", start, "")
	assert.True(t, core.IsNotFound(err))
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	start := time.Date(2025, time.March, 10, 6, 0, 0, 0, core.PlatformZone)
	boom := errors.New("boom")

	err := mem.WithTx(ctx, func(tx core.Store) error {
		require.NoError(t, tx.CreateShift(ctx, activeShift("s1", "p1", "2025-03-10", start)))
		require.NoError(t, tx.AppendEntry(ctx, core.EarningsEntry{ID: "e1", ProcessorID: "p1", IdempotencyKey: "k1"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := mem.ShiftForDay(ctx, "p1", "2025-03-10")
	require.NoError(t, err)
	assert.Nil(t, got)

	exists, err := mem.EntryExists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemory_OverdueShifts(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	start := time.Date(2025, time.March, 10, 6, 0, 0, 0, core.PlatformZone)
	require.NoError(t, mem.CreateShift(ctx, activeShift("s1", "p1", "2025-03-10", start)))
	require.NoError(t, mem.CreateShift(ctx, activeShift("s2", "p2", "2025-03-10", start.Add(8*time.Hour))))

	// s1 ends 14:00, s2 ends 22:00
	overdue, err := mem.OverdueShifts(ctx, start.Add(8*time.Hour+time.Minute))
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, core.ShiftID("s1"), overdue[0].ID)
}

func TestMemory_EligibilityAndSettings(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	gs, err := mem.GlobalSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, gs)

	require.NoError(t, mem.SetProcessorShiftTypes(ctx, "p2", []core.ShiftType{core.ShiftNight}))
	require.NoError(t, mem.SetProcessorShiftTypes(ctx, "p1", []core.ShiftType{core.ShiftMorning, core.ShiftDay}))

	all, err := mem.ProcessorEligibility(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, core.ProcessorID("p1"), all[0].ProcessorID)

	require.NoError(t, mem.SetProcessorShiftTypes(ctx, "p2", nil))
	types, err := mem.ProcessorShiftTypes(ctx, "p2")
	require.NoError(t, err)
	assert.Empty(t, types)

	assert.True(t, core.IsNotFound(mem.SetMotivationActive(ctx, "nope", false)))
}
