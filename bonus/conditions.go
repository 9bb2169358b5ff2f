package bonus

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/shift-engine/core"
)

// Input is everything a bonus computation looks at for one deposit.
type Input struct {
	DepositAmount decimal.Decimal
	ShiftType     core.ShiftType

	// CumulativeVolume is the processor's approved volume for the current
	// canonical day, including this deposit.
	CumulativeVolume decimal.Decimal

	Stats Stats
}

// Stats are processor-level facts motivation conditions can test.
type Stats struct {
	LifetimeDeposits int
	ConsecutiveDays  int
}

// =============================================================================
// CONDITIONS - parsed once when rules are loaded
// =============================================================================

// Condition gates a motivation. The set of implementations is closed.
type Condition interface {
	Holds(in Input) bool
	String() string
	condition()
}

// MinDepositsCount holds once the processor has N approved deposits.
type MinDepositsCount struct{ N int }

// MinDailyAmount holds once today's cumulative volume reaches Amount.
type MinDailyAmount struct{ Amount decimal.Decimal }

// ConsecutiveDays holds once the processor has approvals on N consecutive
// canonical days ending today.
type ConsecutiveDays struct{ N int }

// Unconditional always holds.
type Unconditional struct{}

// NoOp never holds. Unparseable conditions become NoOp so a bad payload
// disables its motivation instead of failing the deposit.
type NoOp struct{ Reason string }

func (c MinDepositsCount) Holds(in Input) bool { return in.Stats.LifetimeDeposits >= c.N }
func (c MinDailyAmount) Holds(in Input) bool { return in.CumulativeVolume.GreaterThanOrEqual(c.Amount) }
func (c ConsecutiveDays) Holds(in Input) bool { return in.Stats.ConsecutiveDays >= c.N }
func (Unconditional) Holds(Input) bool { return true }
func (NoOp) Holds(Input) bool { return false }

func (c MinDepositsCount) String() string { return fmt.Sprintf("min_deposits_count(%d)", c.N) }
func (c MinDailyAmount) String() string { return fmt.Sprintf("min_daily_amount(%s)", c.Amount) }
func (c ConsecutiveDays) String() string { return fmt.Sprintf("consecutive_days(%d)", c.N) }
func (Unconditional) String() string { return "unconditional" }
func (c NoOp) String() string { return "noop(" + c.Reason + ")" }

func (MinDepositsCount) condition() {}
func (MinDailyAmount) condition() {}
func (ConsecutiveDays) condition() {}
func (Unconditional) condition() {}
func (NoOp) condition() {}

// =============================================================================
// MOTIVATION
// =============================================================================

// Motivation is an active, parsed motivation ready for evaluation.
type Motivation struct {
	ID        core.MotivationID
	Name      string
	Type      core.MotivationType
	Value     decimal.Decimal
	Condition Condition
}

// Amount is what the motivation adds for a deposit of the given size.
func (m Motivation) Amount(depositAmount decimal.Decimal) decimal.Decimal {
	if m.Type == core.MotivationPercentage {
		return core.PercentOf(depositAmount, m.Value)
	}
	return m.Value
}
