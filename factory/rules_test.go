package factory_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/shift-engine/bonus"
	"github.com/warp/shift-engine/core"
	"github.com/warp/shift-engine/core/store"
	"github.com/warp/shift-engine/factory"
)

func TestParseCondition(t *testing.T) {
	tests := []struct {
		payload string
		want    bonus.Condition
	}{
		{"", bonus.Unconditional{}},
		{"{}", bonus.Unconditional{}},
		{`{"type":"always"}`, bonus.Unconditional{}},
		{`{"type":"min_deposits_count","value":10}`, bonus.MinDepositsCount{N: 10}},
		{`{"type":"consecutive_days","value":5}`, bonus.ConsecutiveDays{N: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, err := factory.ParseCondition(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := factory.ParseCondition(`{"type":"min_daily_amount","value":"2500.50"}`)
	require.NoError(t, err)
	amount, ok := got.(bonus.MinDailyAmount)
	require.True(t, ok)
	assert.True(t, amount.Amount.Equal(decimal.RequireFromString("2500.50")))

	for _, bad := range []string{
		`{"type":"min_deposits_count"}`,
		`{"type":"min_deposits_count","value":"ten"}`,
		`{"type":"lunar_phase","value":1}`,
		`not json`,
	} {
		_, err := factory.ParseCondition(bad)
		assert.Error(t, err, bad)
	}
}

func TestRuleBook_MalformedConditionBecomesNoOp(t *testing.T) {
	// GIVEN: a stored motivation whose condition cannot be parsed
	// WHEN: the rule book loads
	// THEN: the motivation is kept as NoOp and never holds
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.SaveMotivation(ctx, core.MotivationRecord{
		ID: "m1", Name: "broken", Type: core.MotivationFixedAmount, Value: decimal.NewFromInt(10),
		ConditionJSON: `{"type":`, Active: true,
	}))
	require.NoError(t, mem.SaveMotivation(ctx, core.MotivationRecord{
		ID: "m2", Name: "inactive", Type: core.MotivationFixedAmount, Value: decimal.NewFromInt(10),
		Active: false,
	}))

	book := factory.NewRuleBook(factory.RuleBookConfig{Store: mem, Logger: log.Logger})
	require.NoError(t, book.Refresh(ctx))

	active := book.ActiveMotivations()
	require.Len(t, active, 1)
	assert.IsType(t, bonus.NoOp{}, active[0].Condition)
	assert.False(t, active[0].Condition.Holds(bonus.Input{Stats: bonus.Stats{LifetimeDeposits: 1000}}))
	assert.Len(t, book.Motivations(), 2)
}

func TestRuleBook_AdminWritesRefreshSnapshot(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	book := factory.NewRuleBook(factory.RuleBookConfig{Store: mem, Logger: log.Logger})
	require.NoError(t, book.Refresh(ctx))

	rule, err := book.SaveGridRule(ctx, core.BonusGridRule{
		ShiftType: core.ShiftNight, MinAmount: decimal.Zero, BonusPercentage: decimal.NewFromInt(7),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
	assert.Len(t, book.GridRules(core.ShiftNight), 1)
	assert.Empty(t, book.GridRules(core.ShiftMorning))

	_, err = book.SaveGridRule(ctx, core.BonusGridRule{
		ShiftType: core.ShiftNight, BonusPercentage: decimal.NewFromInt(150),
	})
	assert.Equal(t, "percentage_out_of_range", core.ErrorCode(err))

	_, err = book.SaveMotivation(ctx, core.MotivationRecord{
		Name: "bad", Type: core.MotivationPercentage, Value: decimal.NewFromInt(1), ConditionJSON: `{"type":"nope"}`,
	})
	assert.Equal(t, "invalid_condition", core.ErrorCode(err))

	m, err := book.SaveMotivation(ctx, core.MotivationRecord{
		Name: "streak", Type: core.MotivationPercentage, Value: decimal.NewFromInt(1),
		ConditionJSON: `{"type":"consecutive_days","value":3}`, Active: true,
	})
	require.NoError(t, err)
	require.Len(t, book.ActiveMotivations(), 1)

	require.NoError(t, book.SetMotivationActive(ctx, m.ID, false))
	assert.Empty(t, book.ActiveMotivations())
	assert.True(t, core.IsNotFound(book.SetMotivationActive(ctx, "missing", true)))
}
