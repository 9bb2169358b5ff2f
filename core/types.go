/*
Package core provides the domain types, error taxonomy, time arithmetic and
storage contract shared by the shift and earnings engine.

PURPOSE:
  Processors work fixed shifts (MORNING, DAY, NIGHT) and earn hourly wages
  plus per-deposit bonuses. Every other package builds on the types here:
  shift instances, deposits, bonus rules, settings and ledger entries.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal, rounded to cents when it enters the ledger
  - ShiftInstance: one worked (or missed) shift for one processor on one
    canonical day
  - EarningsEntry: an immutable ledger row (HOURLY or DEPOSIT_COMMISSION)
  - GlobalSettings: singleton rates with documented defaults

DESIGN PRINCIPLES:
  1. Immutability: earnings entries are never modified, only appended
  2. Precision: decimal.Decimal for every amount and rate
  3. Type Safety: distinct ID types so a shift ID can't be passed as a deposit ID

SEE ALSO:
  - time.go, period.go: canonical day and shift window arithmetic
  - store.go: persistence contract
  - ledger.go: append-only earnings ledger
*/
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of decimal places ledger amounts are rounded to.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

func NewMoney(value float64) decimal.Decimal { return decimal.NewFromFloat(value) }

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// PercentOf returns base * pct / 100.
func PercentOf(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

// RoundMoney rounds half-up to cents.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyPlaces) }

// ToMinorUnits converts an amount to integer cents.
func ToMinorUnits(d decimal.Decimal) int64 { return RoundMoney(d).Shift(MoneyPlaces).IntPart() }

// FromMinorUnits converts integer cents back to an amount.
func FromMinorUnits(minor int64) decimal.Decimal { return decimal.New(minor, -MoneyPlaces) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProcessorID string
type ShiftID string
type DepositID string
type EntryID string
type RuleID string
type MotivationID string

// =============================================================================
// SHIFTS
// =============================================================================

type ShiftType string

const (
	ShiftMorning ShiftType = "MORNING"
	ShiftDay     ShiftType = "DAY"
	ShiftNight   ShiftType = "NIGHT"
)

// ShiftTypes lists the shift types in registry order.
var ShiftTypes = []ShiftType{ShiftMorning, ShiftDay, ShiftNight}

func (t ShiftType) Valid() bool {
	switch t {
	case ShiftMorning, ShiftDay, ShiftNight:
		return true
	}
	return false
}

type ShiftStatus string

const (
	StatusActive    ShiftStatus = "ACTIVE"
	StatusCompleted ShiftStatus = "COMPLETED"
	StatusMissed    ShiftStatus = "MISSED"
)

// ShiftTypeDefinition is the configured time window for a shift type.
// EndHour may be >= 24 to denote the next day; CrossesMidnight is the
// alternative representation and both normalize to the same Window.
type ShiftTypeDefinition struct {
	ShiftType       ShiftType `json:"shift_type" yaml:"shift_type"`
	StartHour       int       `json:"start_hour" yaml:"start_hour"`
	StartMinute     int       `json:"start_minute" yaml:"start_minute"`
	EndHour         int       `json:"end_hour" yaml:"end_hour"`
	EndMinute       int       `json:"end_minute" yaml:"end_minute"`
	CrossesMidnight bool      `json:"crosses_midnight,omitempty" yaml:"crosses_midnight,omitempty"`
	Enabled         bool      `json:"enabled" yaml:"enabled"`
}

// Validate checks the window bounds.
func (d ShiftTypeDefinition) Validate() error {
	if !d.ShiftType.Valid() {
		return NewValidationError("invalid_shift_type", "unknown shift type %q", d.ShiftType)
	}
	if d.StartHour < 0 || d.StartHour > 23 || d.StartMinute < 0 || d.StartMinute > 59 {
		return NewValidationError("invalid_window_bounds", "start %02d:%02d out of range", d.StartHour, d.StartMinute)
	}
	if d.EndHour < 0 || d.EndHour > 47 || d.EndMinute < 0 || d.EndMinute > 59 {
		return NewValidationError("invalid_window_bounds", "end %02d:%02d out of range", d.EndHour, d.EndMinute)
	}
	if d.CrossesMidnight && d.EndHour >= 24 {
		return NewValidationError("invalid_window_bounds", "crosses_midnight and end hour >= 24 are exclusive")
	}
	w := d.Window()
	if w.Duration() <= 0 || w.Duration() > 24*time.Hour {
		return NewValidationError("invalid_window_bounds", "window duration %s out of range", w.Duration())
	}
	return nil
}

// ShiftInstance is one shift for one processor on one canonical day.
// Created on start (or by the missed sweep), never deleted.
type ShiftInstance struct {
	ID             ShiftID
	ProcessorID    ProcessorID
	ShiftType      ShiftType
	ShiftDate      Day
	ScheduledStart time.Time
	ScheduledEnd   time.Time
	ActualStart    *time.Time
	ActualEnd      *time.Time
	Status         ShiftStatus
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WorkedHours returns actualEnd - actualStart in hours, or zero when either
// bound is missing.
func (s ShiftInstance) WorkedHours() decimal.Decimal {
	if s.ActualStart == nil || s.ActualEnd == nil {
		return decimal.Zero
	}
	seconds := decimal.NewFromInt(int64(s.ActualEnd.Sub(*s.ActualStart) / time.Second))
	return seconds.Div(decimal.NewFromInt(3600))
}

// Eligibility lists the shift types a processor may start.
type Eligibility struct {
	ProcessorID ProcessorID
	ShiftTypes  []ShiftType
}

// =============================================================================
// DEPOSITS - external entity, only the earnings fields are written here
// =============================================================================

type DepositStatus string

const (
	DepositPending  DepositStatus = "pending"
	DepositApproved DepositStatus = "approved"
	DepositRejected DepositStatus = "rejected"
)

type Deposit struct {
	ID             DepositID
	ProcessorID    ProcessorID
	Amount         decimal.Decimal
	Currency       string
	Status         DepositStatus
	ApprovedAt     *time.Time
	CommissionRate decimal.NullDecimal
	BonusRate      decimal.NullDecimal
	BonusAmount    decimal.NullDecimal
	CreatedAt      time.Time
}

// HasEarnings reports whether the bonus fields were already computed.
func (d Deposit) HasEarnings() bool { return d.BonusAmount.Valid }

// =============================================================================
// BONUS RULES
// =============================================================================

// BonusGridRule is one tier of the bonus schedule. MaxAmount nil = unbounded.
type BonusGridRule struct {
	ID                  RuleID
	ShiftType           ShiftType
	MinAmount           decimal.Decimal
	MaxAmount           *decimal.Decimal
	BonusPercentage     decimal.Decimal
	FixedBonus          *decimal.Decimal
	FixedBonusThreshold *decimal.Decimal
}

// Matches reports min <= volume <= max (max nil = unbounded).
func (r BonusGridRule) Matches(volume decimal.Decimal) bool {
	if volume.LessThan(r.MinAmount) {
		return false
	}
	return r.MaxAmount == nil || volume.LessThanOrEqual(*r.MaxAmount)
}

func (r BonusGridRule) Validate() error {
	if !r.ShiftType.Valid() {
		return NewValidationError("invalid_shift_type", "unknown shift type %q", r.ShiftType)
	}
	if r.MinAmount.IsNegative() {
		return NewValidationError("invalid_window_bounds", "min amount must not be negative")
	}
	if r.MaxAmount != nil && r.MaxAmount.LessThan(r.MinAmount) {
		return NewValidationError("invalid_window_bounds", "max amount %s below min amount %s", r.MaxAmount, r.MinAmount)
	}
	if r.BonusPercentage.IsNegative() || r.BonusPercentage.GreaterThan(hundred) {
		return NewValidationError("percentage_out_of_range", "bonus percentage %s outside [0, 100]", r.BonusPercentage)
	}
	if r.FixedBonus != nil && r.FixedBonus.IsNegative() {
		return NewValidationError("invalid_fixed_bonus", "fixed bonus must not be negative")
	}
	return nil
}

type MotivationType string

const (
	MotivationPercentage  MotivationType = "PERCENTAGE"
	MotivationFixedAmount MotivationType = "FIXED_AMOUNT"
)

// MotivationRecord is the stored form of a motivation; ConditionJSON is
// parsed once at load time by the factory package.
type MotivationRecord struct {
	ID            MotivationID
	Name          string
	Type          MotivationType
	Value         decimal.Decimal
	ConditionJSON string
	Active        bool
	CreatedAt     time.Time
}

func (m MotivationRecord) Validate() error {
	switch m.Type {
	case MotivationPercentage:
		if m.Value.IsNegative() || m.Value.GreaterThan(hundred) {
			return NewValidationError("percentage_out_of_range", "motivation percentage %s outside [0, 100]", m.Value)
		}
	case MotivationFixedAmount:
		if m.Value.IsNegative() {
			return NewValidationError("invalid_motivation_value", "fixed amount must not be negative")
		}
	default:
		return NewValidationError("invalid_motivation_type", "unknown motivation type %q", m.Type)
	}
	return nil
}

// =============================================================================
// SETTINGS
// =============================================================================

type GlobalSettings struct {
	HourlyRate         decimal.Decimal `json:"hourly_rate"`
	BaseCommissionRate decimal.Decimal `json:"base_commission_rate"`
	BaseBonusRate      decimal.Decimal `json:"base_bonus_rate"`
}

// DefaultGlobalSettings is used whenever the singleton is absent.
func DefaultGlobalSettings() GlobalSettings {
	return GlobalSettings{
		HourlyRate:         decimal.NewFromFloat(2.0),
		BaseCommissionRate: decimal.NewFromFloat(30.0),
		BaseBonusRate:      decimal.NewFromFloat(5.0),
	}
}

func (s GlobalSettings) Validate() error {
	if s.HourlyRate.IsNegative() {
		return NewValidationError("invalid_hourly_rate", "hourly rate must not be negative")
	}
	for name, pct := range map[string]decimal.Decimal{
		"base commission rate": s.BaseCommissionRate,
		"base bonus rate":      s.BaseBonusRate,
	} {
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return NewValidationError("percentage_out_of_range", "%s %s outside [0, 100]", name, pct)
		}
	}
	return nil
}

// =============================================================================
// EARNINGS ENTRY - Immutable ledger row
// =============================================================================

type EarningKind string

const (
	KindHourly            EarningKind = "HOURLY"
	KindDepositCommission EarningKind = "DEPOSIT_COMMISSION"
)

type EarningsEntry struct {
	ID             EntryID
	ProcessorID    ProcessorID
	ShiftID        ShiftID   // empty when not tied to a shift
	DepositID      DepositID // empty for HOURLY
	Kind           EarningKind
	Amount         decimal.Decimal
	IdempotencyKey string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// KindTotal is one group of a breakdown aggregate.
type KindTotal struct {
	Kind  EarningKind
	Sum   decimal.Decimal
	Count int
}

// =============================================================================
// ACTOR - resolved by the authorization collaborator
// =============================================================================

type Role string

const (
	RoleProcessor Role = "processor"
	RoleAdmin     Role = "admin"
	RoleSystem    Role = "system"
)

type Actor struct {
	UserID string
	Role   Role
}

// CanActFor reports whether the actor may operate on the processor's data.
func (a Actor) CanActFor(processorID ProcessorID) bool {
	if a.Role == RoleAdmin || a.Role == RoleSystem {
		return true
	}
	return a.Role == RoleProcessor && a.UserID == string(processorID)
}
