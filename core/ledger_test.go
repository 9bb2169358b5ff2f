package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/shift-engine/core"
	"github.com/warp/shift-engine/core/store"
)

func newLedger() (*core.DefaultLedger, *store.Memory) {
	mem := store.NewMemory()
	return core.NewLedger(mem), mem
}

func hourlyEntry(pid core.ProcessorID, shiftID core.ShiftID, amount string) core.EarningsEntry {
	return core.EarningsEntry{
		ProcessorID:    pid,
		ShiftID:        shiftID,
		Kind:           core.KindHourly,
		Amount:         core.MustParseDecimal(amount),
		IdempotencyKey: core.HourlyKey(shiftID),
		CreatedAt:      at(10, 14, 30),
	}
}

func TestLedger_AppendAssignsIDAndRoundsToCents(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()

	e, err := ledger.Append(ctx, hourlyEntry("p1", "s1", "17.8333333"))
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "17.83", e.Amount.StringFixed(2))

	entries, err := ledger.Entries(ctx, core.EntryFilter{ShiftID: "s1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Amount.Equal(decimal.RequireFromString("17.83")))
}

func TestLedger_DuplicateIdempotencyKeyRejected(t *testing.T) {
	// GIVEN: an hourly entry for shift s1
	// WHEN: the same shift is recorded again
	// THEN: the second append is rejected and the ledger holds one entry
	ledger, _ := newLedger()
	ctx := context.Background()

	_, err := ledger.Append(ctx, hourlyEntry("p1", "s1", "16"))
	require.NoError(t, err)

	_, err = ledger.Append(ctx, hourlyEntry("p1", "s1", "16"))
	assert.True(t, errors.Is(err, core.ErrDuplicateIdempotencyKey))

	entries, err := ledger.Entries(ctx, core.EntryFilter{ProcessorID: "p1"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedger_TotalsMatchEntrySum(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()

	_, err := ledger.Append(ctx, hourlyEntry("p1", "s1", "16"))
	require.NoError(t, err)
	_, err = ledger.Append(ctx, hourlyEntry("p1", "s2", "17.83"))
	require.NoError(t, err)
	for _, id := range []core.DepositID{"d1", "d2", "d3"} {
		_, err = ledger.Append(ctx, core.EarningsEntry{
			ProcessorID:    "p1",
			DepositID:      id,
			Kind:           core.KindDepositCommission,
			Amount:         core.MustParseDecimal("3.35"),
			IdempotencyKey: core.DepositKey(id),
			CreatedAt:      at(10, 12, 0),
		})
		require.NoError(t, err)
	}

	totals, err := ledger.Totals(ctx, core.EntryFilter{ProcessorID: "p1"})
	require.NoError(t, err)
	require.Len(t, totals, 2)

	entries, err := ledger.Entries(ctx, core.EntryFilter{ProcessorID: "p1"})
	require.NoError(t, err)

	entrySum := decimal.Zero
	for _, e := range entries {
		entrySum = entrySum.Add(e.Amount)
	}
	totalSum := decimal.Zero
	count := 0
	for _, kt := range totals {
		totalSum = totalSum.Add(kt.Sum)
		count += kt.Count
	}
	assert.True(t, entrySum.Equal(totalSum), "entries %s != totals %s", entrySum, totalSum)
	assert.Equal(t, len(entries), count)
}
