/*
machine.go - Shift lifecycle: start, end, auto-close, missed

STATE MACHINE:

	          Start                End / AutoClose
	(none) ---------> ACTIVE ------------------------> COMPLETED
	   |
	   +--- SweepMissed ---> MISSED

  COMPLETED and MISSED are terminal. There is no transition out of them
  and no transition back to ACTIVE.

START PRECONDITIONS (checked in this order, nothing is written on failure):
  1. the shift type is configured and enabled      -> shift_type_disabled
  2. the processor is eligible for it              -> not_eligible
  3. now is inside the type's start window         -> outside_start_window
  4. the processor has no ACTIVE shift             -> shift_in_progress
  5. no instance exists for (processor, day)       -> shift_already_started
  The store's unique (processor, shift_date) index settles any race between
  steps 5 and the insert; the loser gets a ConflictError.

CLOSING:
  End closes at now. AutoClose closes at scheduledEnd + 30m regardless of
  when the sweep runs. Both use the guarded ACTIVE -> COMPLETED update and
  record HOURLY earnings in the same transaction, so a shift that is closed
  twice changes state and earns exactly once. Deposits approved during the
  worked interval are settled after the commit.

SEE ALSO:
  - autocloser.go: overdue and missed sweeps
  - registry.go: windows and eligibility
  - earnings/: ledger entries produced on close
*/
package shift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/shift-engine/core"
	"github.com/warp/shift-engine/earnings"
	"github.com/warp/shift-engine/settings"
)

const (
	AutoCloseNote = "auto-closed by system"
	MissedNote    = "no shift started"
)

type MachineConfig struct {
	Store       core.Store
	Registry    *Registry
	Ledger      *earnings.Ledger
	Commissions *earnings.Commissions
	Settings    settings.Provider
	Logger      zerolog.Logger

	// Debounce is the minimum gap between opportunistic sweeps.
	// Zero means DefaultDebounce.
	Debounce time.Duration
}

// Transition is the outcome of a close. Changed is false when the shift was
// already closed and nothing was written.
type Transition struct {
	Shift    core.ShiftInstance   `json:"shift"`
	Changed  bool                 `json:"changed"`
	Earnings []core.EarningsEntry `json:"earnings,omitempty"`
}

type Machine struct {
	cfg    MachineConfig
	closer *AutoCloser
}

func NewMachine(cfg MachineConfig) *Machine {
	m := &Machine{cfg: cfg}
	m.closer = newAutoCloser(m, cfg.Debounce)
	return m
}

// AutoCloser returns the sweeper owned by this machine.
func (m *Machine) AutoCloser() *AutoCloser { return m.closer }

// =============================================================================
// START
// =============================================================================

// Start opens a shift of the given type for the processor at now.
func (m *Machine) Start(ctx context.Context, processorID core.ProcessorID, shiftType core.ShiftType, now time.Time) (core.ShiftInstance, error) {
	m.closer.MaybeSweep(ctx, now)

	if !shiftType.Valid() {
		return core.ShiftInstance{}, core.NewValidationError("invalid_shift_type", "unknown shift type %q", shiftType)
	}
	def, ok := m.cfg.Registry.Definition(shiftType)
	if !ok || !def.Enabled {
		return core.ShiftInstance{}, core.NewValidationError("shift_type_disabled", "%s shifts are disabled", shiftType)
	}
	eligible, err := m.cfg.Registry.IsEligible(ctx, processorID, shiftType)
	if err != nil {
		return core.ShiftInstance{}, err
	}
	if !eligible {
		return core.ShiftInstance{}, core.NewValidationError("not_eligible", "processor %s may not work %s shifts", processorID, shiftType)
	}
	scheduled, ok := core.ResolveOccurrence(now, def)
	if !ok {
		return core.ShiftInstance{}, core.NewValidationError("outside_start_window",
			"%s shifts can not be started at %s", shiftType, now.In(core.PlatformZone).Format("15:04"))
	}

	active, err := m.cfg.Store.ActiveShift(ctx, processorID)
	if err != nil {
		return core.ShiftInstance{}, err
	}
	if active != nil {
		return core.ShiftInstance{}, core.NewValidationError("shift_in_progress",
			"shift %s is still active", active.ID)
	}

	day := core.DayOf(scheduled.Start)
	existing, err := m.cfg.Store.ShiftForDay(ctx, processorID, day)
	if err != nil {
		return core.ShiftInstance{}, err
	}
	if existing != nil {
		return core.ShiftInstance{}, core.NewValidationError("shift_already_started",
			"processor %s already has a %s shift on %s", processorID, existing.Status, day)
	}

	instance := core.ShiftInstance{
		ID:             core.ShiftID(uuid.NewString()),
		ProcessorID:    processorID,
		ShiftType:      shiftType,
		ShiftDate:      day,
		ScheduledStart: scheduled.Start,
		ScheduledEnd:   scheduled.End,
		ActualStart:    &now,
		Status:         core.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.cfg.Store.CreateShift(ctx, instance); err != nil {
		return core.ShiftInstance{}, err
	}

	m.cfg.Logger.Info().
		Str("shift", string(instance.ID)).
		Str("processor", string(processorID)).
		Str("shift_type", string(shiftType)).
		Str("shift_date", string(day)).
		Msg("shift started")
	return instance, nil
}

// =============================================================================
// END / AUTO-CLOSE
// =============================================================================

// End closes the processor's active shift at now. An overdue shift is
// auto-closed instead. Ending a shift that is already COMPLETED for today
// returns it unchanged.
func (m *Machine) End(ctx context.Context, processorID core.ProcessorID, now time.Time) (Transition, error) {
	m.closer.MaybeSweep(ctx, now)

	active, err := m.cfg.Store.ActiveShift(ctx, processorID)
	if err != nil {
		return Transition{}, err
	}
	if active == nil {
		today, err := m.cfg.Store.ShiftForDay(ctx, processorID, core.DayOf(now))
		if err != nil {
			return Transition{}, err
		}
		if today != nil && today.Status == core.StatusCompleted {
			return Transition{Shift: *today}, nil
		}
		return Transition{}, core.NotFound("active shift", processorID)
	}
	if now.After(active.ScheduledEnd.Add(core.AutoCloseGrace)) {
		// past the grace cap the close time is fixed, whether or not a sweep ran
		return m.AutoClose(ctx, *active, now)
	}
	return m.close(ctx, *active, now, "")
}

// AutoClose completes an overdue shift at scheduledEnd + grace. The close
// time does not depend on now, which is only logged.
func (m *Machine) AutoClose(ctx context.Context, s core.ShiftInstance, now time.Time) (Transition, error) {
	notes := AutoCloseNote
	if s.Notes != "" {
		notes = s.Notes + "; " + AutoCloseNote
	}
	m.cfg.Logger.Debug().
		Str("shift", string(s.ID)).
		Dur("late_by", now.Sub(s.ScheduledEnd)).
		Msg("auto-closing shift")
	return m.close(ctx, s, s.ScheduledEnd.Add(core.AutoCloseGrace), notes)
}

func (m *Machine) close(ctx context.Context, s core.ShiftInstance, actualEnd time.Time, notes string) (Transition, error) {
	// Settings are read before the transaction; the SQLite store serializes
	// on a single connection.
	gs, err := m.cfg.Settings.Settings(ctx)
	if err != nil {
		return Transition{}, err
	}

	var (
		changed bool
		closed  core.ShiftInstance
		hourly  *core.EarningsEntry
	)
	err = m.cfg.Store.WithTx(ctx, func(tx core.Store) error {
		var err error
		changed, err = tx.CompleteShift(ctx, s.ID, actualEnd, notes)
		if err != nil || !changed {
			return err
		}
		if closed, err = tx.GetShift(ctx, s.ID); err != nil {
			return err
		}
		hourly, err = m.cfg.Ledger.RecordHourly(ctx, tx, closed, gs.HourlyRate)
		return err
	})
	if err != nil {
		return Transition{}, fmt.Errorf("closing shift %s: %w", s.ID, err)
	}

	if !changed {
		current, err := m.cfg.Store.GetShift(ctx, s.ID)
		if err != nil {
			return Transition{}, err
		}
		return Transition{Shift: current}, nil
	}

	t := Transition{Shift: closed, Changed: true}
	if hourly != nil {
		t.Earnings = append(t.Earnings, *hourly)
	}
	deposits, err := m.cfg.Commissions.SettleShift(ctx, closed)
	if err != nil {
		m.cfg.Logger.Error().Err(err).Str("shift", string(s.ID)).Msg("settling deposits after close")
	}
	t.Earnings = append(t.Earnings, deposits...)

	m.cfg.Logger.Info().
		Str("shift", string(s.ID)).
		Str("processor", string(s.ProcessorID)).
		Time("actual_end", actualEnd).
		Bool("auto", notes != "").
		Int("entries", len(t.Earnings)).
		Msg("shift completed")
	return t, nil
}

// =============================================================================
// MISSED
// =============================================================================

// MarkMissed records a MISSED instance for a processor-day that never
// started a shift. Returns false when an instance already exists.
func (m *Machine) MarkMissed(ctx context.Context, processorID core.ProcessorID, def core.ShiftTypeDefinition, day core.Day, now time.Time) (bool, error) {
	scheduled := core.ScheduledPeriod(def, day)
	err := m.cfg.Store.CreateShift(ctx, core.ShiftInstance{
		ID:             core.ShiftID(uuid.NewString()),
		ProcessorID:    processorID,
		ShiftType:      def.ShiftType,
		ShiftDate:      day,
		ScheduledStart: scheduled.Start,
		ScheduledEnd:   scheduled.End,
		Status:         core.StatusMissed,
		Notes:          MissedNote,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if errors.Is(err, core.ErrDuplicateShift) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.cfg.Logger.Info().
		Str("processor", string(processorID)).
		Str("shift_date", string(day)).
		Msg("shift marked missed")
	return true, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Current returns the processor's active shift, or failing that the
// instance for the canonical day containing now. Nil when neither exists.
func (m *Machine) Current(ctx context.Context, processorID core.ProcessorID, now time.Time) (*core.ShiftInstance, error) {
	m.closer.MaybeSweep(ctx, now)

	active, err := m.cfg.Store.ActiveShift(ctx, processorID)
	if err != nil || active != nil {
		return active, err
	}
	return m.cfg.Store.ShiftForDay(ctx, processorID, core.DayOf(now))
}

func (m *Machine) Get(ctx context.Context, id core.ShiftID) (core.ShiftInstance, error) {
	return m.cfg.Store.GetShift(ctx, id)
}

func (m *Machine) List(ctx context.Context, filter core.ShiftFilter) ([]core.ShiftInstance, error) {
	return m.cfg.Store.ListShifts(ctx, filter)
}
