/*
Package earnings turns shift closes and deposit approvals into ledger
entries and reports on them.

PURPOSE:
  Ledger:      HOURLY entries on shift close, breakdowns, per-shift lists
  Commissions: DEPOSIT_COMMISSION entries on deposit approval

HOURLY RULE:
  amount = (actualEnd - actualStart) in hours * hourlyRate, rounded to cents.
  Recorded only when 0 < hours <= 24; anything else is dropped with a
  warning. The idempotency key hourly:<shiftID> makes a second close a
  no-op.

BREAKDOWN:
  Always recomputed from stored entries: sum, count and share of total per
  kind. Shares are rounded to two places and are 0 when the total is 0.

SEE ALSO:
  - core/ledger.go: append-only ledger
  - commissions.go: deposit side
  - shift/machine.go: calls RecordHourly inside the close transaction
*/
package earnings

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/shift-engine/core"
)

// MaxShiftHours is the longest worked duration that earns hourly pay.
const MaxShiftHours = 24

type LedgerConfig struct {
	Store  core.EarningsStore
	Logger zerolog.Logger
}

type Ledger struct {
	cfg    LedgerConfig
	ledger core.Ledger
}

func NewLedger(cfg LedgerConfig) *Ledger {
	return &Ledger{cfg: cfg, ledger: core.NewLedger(cfg.Store)}
}

// =============================================================================
// HOURLY
// =============================================================================

// RecordHourly appends the HOURLY entry for a completed shift through the
// given (usually transactional) store. Returns nil when nothing was
// recorded: out-of-range hours or an entry that already exists.
func (l *Ledger) RecordHourly(ctx context.Context, tx core.EarningsStore, s core.ShiftInstance, hourlyRate decimal.Decimal) (*core.EarningsEntry, error) {
	hours := s.WorkedHours()
	if !hours.IsPositive() || hours.GreaterThan(decimal.NewFromInt(MaxShiftHours)) {
		l.cfg.Logger.Warn().
			Str("shift", string(s.ID)).
			Str("processor", string(s.ProcessorID)).
			Str("hours", hours.StringFixed(4)).
			Msg("hourly earnings dropped: worked hours out of range")
		return nil, nil
	}

	entry, err := core.NewLedger(tx).Append(ctx, core.EarningsEntry{
		ProcessorID:    s.ProcessorID,
		ShiftID:        s.ID,
		Kind:           core.KindHourly,
		Amount:         core.RoundMoney(hours.Mul(hourlyRate)),
		IdempotencyKey: core.HourlyKey(s.ID),
		Metadata: map[string]string{
			"hours":       hours.StringFixed(4),
			"hourly_rate": hourlyRate.String(),
			"shift_type":  string(s.ShiftType),
			"shift_date":  string(s.ShiftDate),
		},
		CreatedAt: *s.ActualEnd,
	})
	if errors.Is(err, core.ErrDuplicateIdempotencyKey) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// =============================================================================
// REPORTING
// =============================================================================

// KindBreakdown is one row of a breakdown.
type KindBreakdown struct {
	Kind       core.EarningKind `json:"kind"`
	Total      decimal.Decimal  `json:"total"`
	Count      int              `json:"count"`
	Percentage decimal.Decimal  `json:"percentage"`
}

type Breakdown struct {
	ProcessorID core.ProcessorID `json:"processor_id"`
	Period      core.Period      `json:"-"`
	Total       decimal.Decimal  `json:"total"`
	Kinds       []KindBreakdown  `json:"kinds"`
}

// Breakdown groups the processor's entries recorded in period by kind.
func (l *Ledger) Breakdown(ctx context.Context, processorID core.ProcessorID, period core.Period) (Breakdown, error) {
	totals, err := l.ledger.Totals(ctx, core.EntryFilter{
		ProcessorID: processorID,
		From:        period.Start,
		To:          period.End,
	})
	if err != nil {
		return Breakdown{}, err
	}

	b := Breakdown{ProcessorID: processorID, Period: period, Total: decimal.Zero, Kinds: []KindBreakdown{}}
	for _, t := range totals {
		b.Total = b.Total.Add(t.Sum)
	}
	for _, t := range totals {
		pct := decimal.Zero
		if !b.Total.IsZero() {
			pct = t.Sum.Div(b.Total).Mul(decimal.NewFromInt(100)).Round(2)
		}
		b.Kinds = append(b.Kinds, KindBreakdown{Kind: t.Kind, Total: t.Sum, Count: t.Count, Percentage: pct})
	}
	return b, nil
}

// ShiftEntries lists the raw entries attributed to one shift.
func (l *Ledger) ShiftEntries(ctx context.Context, shiftID core.ShiftID) ([]core.EarningsEntry, error) {
	return l.ledger.Entries(ctx, core.EntryFilter{ShiftID: shiftID})
}

// Entries lists the processor's entries recorded in period.
func (l *Ledger) Entries(ctx context.Context, processorID core.ProcessorID, period core.Period) ([]core.EarningsEntry, error) {
	return l.ledger.Entries(ctx, core.EntryFilter{ProcessorID: processorID, From: period.Start, To: period.End})
}
