/*
autocloser.go - Overdue and missed shift sweeps

OVERDUE SWEEP:
  An ACTIVE shift is overdue once now > scheduledEnd + 30m. Each overdue
  shift is closed through Machine.AutoClose at scheduledEnd + 30m, so the
  result does not depend on when the sweep happens to run. One failing
  shift never stops the others: failures are itemized in SweepResult.

DEBOUNCE:
  MaybeSweep runs opportunistically ahead of Start, End and Current and
  returns immediately when the last sweep ran less than Debounce ago.
  The guarded ACTIVE -> COMPLETED update makes an overlapping sweep a
  harmless no-op; debouncing only bounds the query load.

MISSED SWEEP:
  For the current and previous canonical day, every processor with explicit
  eligibility rows whose eligible windows have all ended, and who has no
  instance for that day, gets a MISSED instance.

SEE ALSO:
  - machine.go: AutoClose and MarkMissed
  - cmd/server/main.go: scheduled sweep jobs
*/
package shift

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/warp/shift-engine/core"
)

// DefaultDebounce is the minimum gap between opportunistic sweeps.
const DefaultDebounce = 5 * time.Minute

// SweepFailure is one shift a sweep could not process.
type SweepFailure struct {
	ShiftID     core.ShiftID     `json:"shift_id,omitempty"`
	ProcessorID core.ProcessorID `json:"processor_id,omitempty"`
	Error       string           `json:"error"`
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Checked   int            `json:"checked"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Failures  []SweepFailure `json:"failures,omitempty"`
}

func (r *SweepResult) fail(f SweepFailure) {
	r.Failed++
	r.Failures = append(r.Failures, f)
}

type AutoCloser struct {
	machine   *Machine
	debounce  time.Duration
	lastCheck atomic.Int64 // unix nanos of the last sweep, 0 = never
}

func newAutoCloser(m *Machine, debounce time.Duration) *AutoCloser {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &AutoCloser{machine: m, debounce: debounce}
}

// MaybeSweep sweeps unless a sweep ran within the debounce interval.
// Reports whether a sweep ran. Errors are logged, never returned.
func (a *AutoCloser) MaybeSweep(ctx context.Context, now time.Time) bool {
	last := a.lastCheck.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < a.debounce {
		return false
	}
	// Only the caller that advances lastCheck sweeps.
	if !a.lastCheck.CompareAndSwap(last, now.UnixNano()) {
		return false
	}
	if _, err := a.sweep(ctx, now); err != nil {
		a.machine.cfg.Logger.Error().Err(err).Msg("opportunistic sweep failed")
	}
	return true
}

// Sweep closes every overdue shift now, ignoring the debounce.
func (a *AutoCloser) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	a.lastCheck.Store(now.UnixNano())
	return a.sweep(ctx, now)
}

// LastSweep returns when the last sweep started, zero if never.
func (a *AutoCloser) LastSweep() time.Time {
	last := a.lastCheck.Load()
	if last == 0 {
		return time.Time{}
	}
	return time.Unix(0, last)
}

func (a *AutoCloser) sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	log := a.machine.cfg.Logger

	overdue, err := a.machine.cfg.Store.OverdueShifts(ctx, now.Add(-core.AutoCloseGrace))
	if err != nil {
		return SweepResult{}, fmt.Errorf("listing overdue shifts: %w", err)
	}

	res := SweepResult{Checked: len(overdue)}
	for _, s := range overdue {
		if _, err := a.machine.AutoClose(ctx, s, now); err != nil {
			log.Error().Err(err).Str("shift", string(s.ID)).Msg("auto-close failed")
			res.fail(SweepFailure{ShiftID: s.ID, ProcessorID: s.ProcessorID, Error: err.Error()})
			continue
		}
		res.Succeeded++
	}

	if res.Checked > 0 {
		log.Info().
			Int("checked", res.Checked).
			Int("succeeded", res.Succeeded).
			Int("failed", res.Failed).
			Msg("overdue shifts swept")
	}
	return res, nil
}

// =============================================================================
// MISSED
// =============================================================================

// SweepMissed marks MISSED instances for the previous and current canonical
// day. Checked counts processor-days that were due for marking.
func (a *AutoCloser) SweepMissed(ctx context.Context, now time.Time) (SweepResult, error) {
	registry := a.machine.cfg.Registry

	eligibility, err := registry.Eligibility(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("listing eligibility: %w", err)
	}

	today := core.DayOf(now)
	var res SweepResult
	for _, e := range eligibility {
		defs := a.enabled(e.ShiftTypes)
		if len(defs) == 0 {
			continue
		}
		for _, day := range []core.Day{today.AddDays(-1), today} {
			if !allEnded(defs, day, now) {
				continue
			}
			existing, err := a.machine.cfg.Store.ShiftForDay(ctx, e.ProcessorID, day)
			if err != nil {
				res.fail(SweepFailure{ProcessorID: e.ProcessorID, Error: err.Error()})
				continue
			}
			if existing != nil {
				continue
			}

			res.Checked++
			created, err := a.machine.MarkMissed(ctx, e.ProcessorID, defs[0], day, now)
			if err != nil {
				a.machine.cfg.Logger.Error().Err(err).
					Str("processor", string(e.ProcessorID)).
					Str("shift_date", string(day)).
					Msg("marking missed shift failed")
				res.fail(SweepFailure{ProcessorID: e.ProcessorID, Error: err.Error()})
				continue
			}
			if created {
				res.Succeeded++
			}
		}
	}
	return res, nil
}

// enabled returns the enabled definitions among types, in registry order.
func (a *AutoCloser) enabled(types []core.ShiftType) []core.ShiftTypeDefinition {
	var defs []core.ShiftTypeDefinition
	for _, d := range a.machine.cfg.Registry.Definitions() {
		if !d.Enabled {
			continue
		}
		for _, t := range types {
			if t == d.ShiftType {
				defs = append(defs, d)
				break
			}
		}
	}
	return defs
}

func allEnded(defs []core.ShiftTypeDefinition, day core.Day, now time.Time) bool {
	for _, d := range defs {
		if now.Before(core.ScheduledPeriod(d, day).End) {
			return false
		}
	}
	return true
}
