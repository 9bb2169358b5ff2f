package earnings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/shift-engine/bonus"
	"github.com/warp/shift-engine/core"
)

// DefaultStreakLookback bounds how far back consecutive approval days are
// counted.
const DefaultStreakLookback = 60

type CommissionsConfig struct {
	Store  core.Store
	Engine *bonus.Engine
	Logger zerolog.Logger

	// StreakLookback is the number of canonical days scanned for the
	// consecutive-days statistic. Zero means DefaultStreakLookback.
	StreakLookback int
}

// Commission is the outcome of processing one approved deposit.
type Commission struct {
	Deposit core.Deposit
	Entry   *core.EarningsEntry

	// Result is nil when the deposit already carried computed earnings.
	Result *bonus.Result

	// AlreadyRecorded is set when the ledger held the deposit's entry before
	// this call.
	AlreadyRecorded bool
}

// Commissions computes deposit bonuses and records DEPOSIT_COMMISSION
// entries. Work for one (processor, canonical day) is serialized so the
// cumulative volume each deposit sees is stable.
type Commissions struct {
	cfg   CommissionsConfig
	locks [lockStripes]sync.Mutex
}

// lockStripes bounds the lock table; unrelated (processor, day) keys may
// share a stripe.
const lockStripes = 64

func NewCommissions(cfg CommissionsConfig) *Commissions {
	if cfg.StreakLookback <= 0 {
		cfg.StreakLookback = DefaultStreakLookback
	}
	return &Commissions{cfg: cfg}
}

// OnDepositApproved is the hook called once a deposit is approved. It is
// idempotent: a deposit whose entry exists is reported, not recomputed.
func (c *Commissions) OnDepositApproved(ctx context.Context, id core.DepositID) (Commission, error) {
	d, err := c.cfg.Store.GetDeposit(ctx, id)
	if err != nil {
		return Commission{}, err
	}
	if d.Status != core.DepositApproved || d.ApprovedAt == nil {
		return Commission{}, core.NewValidationError("deposit_not_approved", "deposit %s is %s", d.ID, d.Status)
	}
	return c.settle(ctx, d, nil)
}

// SettleShift records commissions for deposits approved during the shift's
// worked interval that have no ledger entry yet. One failing deposit does
// not stop the others; failures are joined into the returned error.
func (c *Commissions) SettleShift(ctx context.Context, s core.ShiftInstance) ([]core.EarningsEntry, error) {
	if s.ActualStart == nil || s.ActualEnd == nil {
		return nil, nil
	}
	deposits, err := c.cfg.Store.ApprovedDeposits(ctx, s.ProcessorID, *s.ActualStart, *s.ActualEnd)
	if err != nil {
		return nil, fmt.Errorf("listing deposits for shift %s: %w", s.ID, err)
	}

	var (
		entries []core.EarningsEntry
		errs    []error
	)
	for _, d := range deposits {
		res, err := c.settle(ctx, d, &s)
		if err != nil {
			c.cfg.Logger.Error().Err(err).
				Str("deposit", string(d.ID)).
				Str("shift", string(s.ID)).
				Msg("deposit commission failed")
			errs = append(errs, fmt.Errorf("deposit %s: %w", d.ID, err))
			continue
		}
		if res.Entry != nil && !res.AlreadyRecorded {
			entries = append(entries, *res.Entry)
		}
	}
	return entries, errors.Join(errs...)
}

func (c *Commissions) settle(ctx context.Context, d core.Deposit, shift *core.ShiftInstance) (Commission, error) {
	approvedAt := *d.ApprovedAt
	unlock := c.lock(d.ProcessorID, core.DayOf(approvedAt))
	defer unlock()

	key := core.DepositKey(d.ID)
	exists, err := c.cfg.Store.EntryExists(ctx, key)
	if err != nil {
		return Commission{}, err
	}
	if exists {
		return c.recorded(ctx, d)
	}

	if shift == nil {
		shift, err = c.cfg.Store.ActiveShift(ctx, d.ProcessorID)
		if err != nil {
			return Commission{}, err
		}
	}
	shiftType := core.ShiftTypeOf(approvedAt)
	var shiftID core.ShiftID
	if shift != nil {
		shiftType = shift.ShiftType
		shiftID = shift.ID
	}

	out := Commission{Deposit: d}
	if !d.HasEarnings() {
		in, err := c.input(ctx, d, shiftType)
		if err != nil {
			return Commission{}, err
		}
		res, err := c.cfg.Engine.Compute(ctx, in)
		if err != nil {
			return Commission{}, err
		}
		out.Result = &res
		out.Deposit.CommissionRate = decimal.NewNullDecimal(res.CommissionRate)
		out.Deposit.BonusRate = decimal.NewNullDecimal(res.BonusRate)
		out.Deposit.BonusAmount = decimal.NewNullDecimal(res.BonusAmount)
	}

	entry := core.EarningsEntry{
		ProcessorID:    d.ProcessorID,
		ShiftID:        shiftID,
		DepositID:      d.ID,
		Kind:           core.KindDepositCommission,
		Amount:         out.Deposit.BonusAmount.Decimal,
		IdempotencyKey: key,
		Metadata:       commissionMetadata(out.Deposit, shiftType, out.Result),
		CreatedAt:      approvedAt,
	}

	err = c.cfg.Store.WithTx(ctx, func(tx core.Store) error {
		if out.Result != nil {
			if err := tx.UpdateDepositEarnings(ctx, d.ID,
				out.Result.CommissionRate, out.Result.BonusRate, out.Result.BonusAmount); err != nil {
				return err
			}
		}
		appended, err := core.NewLedger(tx).Append(ctx, entry)
		if err != nil {
			return err
		}
		entry = appended
		return nil
	})
	if errors.Is(err, core.ErrDuplicateIdempotencyKey) {
		return c.recorded(ctx, d)
	}
	if err != nil {
		return Commission{}, err
	}
	out.Entry = &entry

	c.cfg.Logger.Info().
		Str("deposit", string(d.ID)).
		Str("processor", string(d.ProcessorID)).
		Str("shift_type", string(shiftType)).
		Str("amount", entry.Amount.String()).
		Msg("deposit commission recorded")
	return out, nil
}

// recorded reports a deposit whose entry is already in the ledger.
func (c *Commissions) recorded(ctx context.Context, d core.Deposit) (Commission, error) {
	entries, err := c.cfg.Store.Entries(ctx, core.EntryFilter{IdempotencyKey: core.DepositKey(d.ID)})
	if err != nil {
		return Commission{}, err
	}
	current, err := c.cfg.Store.GetDeposit(ctx, d.ID)
	if err != nil {
		return Commission{}, err
	}
	out := Commission{Deposit: current, AlreadyRecorded: true}
	if len(entries) > 0 {
		out.Entry = &entries[0]
	}
	return out, nil
}

// input gathers the bonus inputs for a deposit as of its approval time.
func (c *Commissions) input(ctx context.Context, d core.Deposit, shiftType core.ShiftType) (bonus.Input, error) {
	approvedAt := *d.ApprovedAt
	today := core.DayOf(approvedAt)

	volume, err := c.cfg.Store.ApprovedVolume(ctx, d.ProcessorID, today.Start(), approvedAt.Add(time.Nanosecond))
	if err != nil {
		return bonus.Input{}, fmt.Errorf("loading daily volume: %w", err)
	}
	count, err := c.cfg.Store.CountApprovedDeposits(ctx, d.ProcessorID)
	if err != nil {
		return bonus.Input{}, fmt.Errorf("counting deposits: %w", err)
	}
	streak, err := c.consecutiveDays(ctx, d.ProcessorID, today)
	if err != nil {
		return bonus.Input{}, err
	}

	return bonus.Input{
		DepositAmount:    d.Amount,
		ShiftType:        shiftType,
		CumulativeVolume: volume,
		Stats:            bonus.Stats{LifetimeDeposits: count, ConsecutiveDays: streak},
	}, nil
}

// consecutiveDays counts canonical days with at least one approval, walking
// back from today.
func (c *Commissions) consecutiveDays(ctx context.Context, processorID core.ProcessorID, today core.Day) (int, error) {
	from := today.AddDays(-c.cfg.StreakLookback).Start()
	deposits, err := c.cfg.Store.ApprovedDeposits(ctx, processorID, from, today.End())
	if err != nil {
		return 0, fmt.Errorf("loading deposit history: %w", err)
	}

	active := make(map[core.Day]bool, len(deposits))
	for _, d := range deposits {
		if d.ApprovedAt != nil {
			active[core.DayOf(*d.ApprovedAt)] = true
		}
	}

	streak := 0
	for day := today; active[day] && streak <= c.cfg.StreakLookback; day = day.AddDays(-1) {
		streak++
	}
	return streak, nil
}

func (c *Commissions) lock(processorID core.ProcessorID, day core.Day) func() {
	mu := &c.locks[lockStripe(processorID, day)]
	mu.Lock()
	return mu.Unlock
}

func lockStripe(processorID core.ProcessorID, day core.Day) uint64 {
	return xxhash.Sum64String(string(processorID)+"|"+string(day)) % lockStripes
}

func commissionMetadata(d core.Deposit, shiftType core.ShiftType, res *bonus.Result) map[string]string {
	md := map[string]string{
		"deposit_amount":  d.Amount.String(),
		"commission_rate": d.CommissionRate.Decimal.String(),
		"bonus_rate":      d.BonusRate.Decimal.String(),
		"shift_type":      string(shiftType),
	}
	if res == nil {
		md["source"] = "stored"
		return md
	}
	if res.Tier != nil {
		md["tier"] = string(res.Tier.ID)
	}
	if !res.FixedBonus.IsZero() {
		md["fixed_bonus"] = res.FixedBonus.String()
	}
	for _, m := range res.Applied {
		md["motivation:"+string(m.ID)] = m.Amount.String()
	}
	return md
}
