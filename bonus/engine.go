/*
Package bonus computes the commission rate, tier bonus and stacked
motivation bonuses for one approved deposit.

ALGORITHM:
  1. Base rates come from GlobalSettings (defaults when absent).
  2. The grid rule for the shift type whose [min, max] holds the day's
     cumulative volume is selected. Both bounds are inclusive; when two
     tiers hold the volume the higher percentage wins, then the lower
     MinAmount, then the lower ID. No tier -> baseBonusRate.
  3. bonusAmount = depositAmount * pct / 100, plus the tier's FixedBonus
     when the deposit reaches FixedBonusThreshold (or no threshold is set).
  4. Every active motivation whose condition holds adds to bonusAmount.
     Motivations never replace each other and are not capped.

EXAMPLE:
  Grid [(0,1000,5%), (1000,5000,8%), (5000,-,10%)], volume 1000 -> 8%.
  5% tier on a $1000 deposit ($50) + FIXED_AMOUNT motivation $10 = $60.

SEE ALSO:
  - conditions.go: motivation condition variants
  - factory/rules.go: parses stored rules into a RuleSource
  - earnings/commissions.go: gathers the Input and persists the Result
*/
package bonus

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/shift-engine/core"
	"github.com/warp/shift-engine/settings"
)

// RuleSource supplies parsed rules. Implementations snapshot rules at load
// time so evaluation never parses.
type RuleSource interface {
	GridRules(shiftType core.ShiftType) []core.BonusGridRule
	ActiveMotivations() []Motivation
}

// AppliedMotivation records one motivation that contributed to a bonus.
type AppliedMotivation struct {
	ID     core.MotivationID `json:"id"`
	Name   string            `json:"name"`
	Amount decimal.Decimal   `json:"amount"`
}

// Result is the computed outcome plus its audit trail.
type Result struct {
	CommissionRate decimal.Decimal
	BonusRate      decimal.Decimal
	BonusAmount    decimal.Decimal

	// Tier is nil when no grid rule held the volume.
	Tier       *core.BonusGridRule
	TierAmount decimal.Decimal
	FixedBonus decimal.Decimal
	Applied    []AppliedMotivation
}

type EngineConfig struct {
	Rules    RuleSource
	Settings settings.Provider
	Logger   zerolog.Logger
}

type Engine struct {
	cfg EngineConfig
}

func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Compute evaluates the grid and motivations for one deposit.
func (e *Engine) Compute(ctx context.Context, in Input) (Result, error) {
	gs, err := e.cfg.Settings.Settings(ctx)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		CommissionRate: gs.BaseCommissionRate,
		BonusRate:      gs.BaseBonusRate,
		FixedBonus:     decimal.Zero,
	}

	if tier, ok := SelectTier(e.cfg.Rules.GridRules(in.ShiftType), in.CumulativeVolume); ok {
		res.Tier = &tier
		res.BonusRate = tier.BonusPercentage
		if tier.FixedBonus != nil &&
			(tier.FixedBonusThreshold == nil || in.DepositAmount.GreaterThanOrEqual(*tier.FixedBonusThreshold)) {
			res.FixedBonus = *tier.FixedBonus
		}
	}

	res.TierAmount = core.PercentOf(in.DepositAmount, res.BonusRate)
	total := res.TierAmount.Add(res.FixedBonus)

	for _, m := range e.cfg.Rules.ActiveMotivations() {
		if !m.Condition.Holds(in) {
			continue
		}
		amount := m.Amount(in.DepositAmount)
		total = total.Add(amount)
		res.Applied = append(res.Applied, AppliedMotivation{ID: m.ID, Name: m.Name, Amount: amount})
	}

	res.BonusAmount = core.RoundMoney(total)

	e.cfg.Logger.Debug().
		Str("shift_type", string(in.ShiftType)).
		Str("volume", in.CumulativeVolume.String()).
		Str("bonus_rate", res.BonusRate.String()).
		Str("bonus_amount", res.BonusAmount.String()).
		Int("motivations", len(res.Applied)).
		Msg("bonus computed")

	return res, nil
}

// SelectTier picks the grid rule holding volume.
func SelectTier(rules []core.BonusGridRule, volume decimal.Decimal) (core.BonusGridRule, bool) {
	var matches []core.BonusGridRule
	for _, r := range rules {
		if r.Matches(volume) {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return core.BonusGridRule{}, false
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.BonusPercentage.Equal(b.BonusPercentage) {
			return a.BonusPercentage.GreaterThan(b.BonusPercentage)
		}
		if !a.MinAmount.Equal(b.MinAmount) {
			return a.MinAmount.LessThan(b.MinAmount)
		}
		return a.ID < b.ID
	})
	return matches[0], true
}
