/*
store.go - Persistence contract for shifts, deposits, rules and earnings

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  ShiftStore:    Shift instances, one per (processor, canonical day)
  DepositStore:  Read approved deposits, write back the earnings fields
  EarningsStore: Append-only ledger rows with idempotency keys
  RuleStore:     Bonus grid rules and motivations
  SettingsStore: GlobalSettings singleton
  RegistryStore: Shift type definitions and processor eligibility
  Store:         All of the above plus WithTx

UNIQUENESS:
  CreateShift MUST reject a second instance for the same
  (processor, shift_date) with a ConflictError wrapping ErrDuplicateShift.
  This is the only guard against two concurrent starts; the state machine's
  pre-check is advisory.

GUARDED TRANSITIONS:
  CompleteShift only touches ACTIVE rows and reports whether it did. A
  second close (manual end racing the auto-closer) sees false and writes
  nothing else.

APPEND-ONLY:
  EarningsStore has no update or delete. A duplicate idempotency key is
  rejected with ErrDuplicateIdempotencyKey.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - core/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level interface over EarningsStore
*/
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FILTERS
// =============================================================================

// ShiftFilter selects shift instances. Zero fields match everything; the day
// range is inclusive on both ends.
type ShiftFilter struct {
	ProcessorID ProcessorID
	FromDay     Day
	ToDay       Day
	Status      ShiftStatus
}

func (f ShiftFilter) Match(s ShiftInstance) bool {
	if f.ProcessorID != "" && s.ProcessorID != f.ProcessorID {
		return false
	}
	if f.FromDay != "" && s.ShiftDate < f.FromDay {
		return false
	}
	if f.ToDay != "" && s.ShiftDate > f.ToDay {
		return false
	}
	return f.Status == "" || s.Status == f.Status
}

// EntryFilter selects ledger entries. From/To bound CreatedAt as [From, To);
// zero values leave that side open.
type EntryFilter struct {
	ProcessorID    ProcessorID
	ShiftID        ShiftID
	Kind           EarningKind
	IdempotencyKey string
	From           time.Time
	To             time.Time
}

func (f EntryFilter) Match(e EarningsEntry) bool {
	if f.ProcessorID != "" && e.ProcessorID != f.ProcessorID {
		return false
	}
	if f.ShiftID != "" && e.ShiftID != f.ShiftID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.IdempotencyKey != "" && e.IdempotencyKey != f.IdempotencyKey {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	return f.To.IsZero() || e.CreatedAt.Before(f.To)
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

type ShiftStore interface {
	// CreateShift inserts a new instance. Returns ConflictError wrapping
	// ErrDuplicateShift if (processor, shift_date) is taken.
	CreateShift(ctx context.Context, s ShiftInstance) error

	GetShift(ctx context.Context, id ShiftID) (ShiftInstance, error)

	// ShiftForDay returns nil, nil when the processor has no instance that day.
	ShiftForDay(ctx context.Context, processorID ProcessorID, day Day) (*ShiftInstance, error)

	// ActiveShift returns the processor's ACTIVE instance, or nil.
	ActiveShift(ctx context.Context, processorID ProcessorID) (*ShiftInstance, error)

	ListShifts(ctx context.Context, filter ShiftFilter) ([]ShiftInstance, error)

	// OverdueShifts returns ACTIVE instances with ScheduledEnd before cutoff.
	OverdueShifts(ctx context.Context, cutoff time.Time) ([]ShiftInstance, error)

	// CompleteShift moves an ACTIVE instance to COMPLETED. Returns false
	// without writing when the instance is not ACTIVE.
	CompleteShift(ctx context.Context, id ShiftID, actualEnd time.Time, notes string) (bool, error)
}

type DepositStore interface {
	GetDeposit(ctx context.Context, id DepositID) (Deposit, error)
	SaveDeposit(ctx context.Context, d Deposit) error

	// ApprovedDeposits returns deposits approved in [from, to), oldest first.
	ApprovedDeposits(ctx context.Context, processorID ProcessorID, from, to time.Time) ([]Deposit, error)

	// ApprovedVolume sums deposit amounts approved in [from, to).
	ApprovedVolume(ctx context.Context, processorID ProcessorID, from, to time.Time) (decimal.Decimal, error)

	// CountApprovedDeposits counts every approved deposit of the processor.
	CountApprovedDeposits(ctx context.Context, processorID ProcessorID) (int, error)

	UpdateDepositEarnings(ctx context.Context, id DepositID, commissionRate, bonusRate, bonusAmount decimal.Decimal) error
}

// EarningsStore is APPEND-ONLY. No Update, No Delete.
type EarningsStore interface {
	AppendEntry(ctx context.Context, e EarningsEntry) error
	EntryExists(ctx context.Context, idempotencyKey string) (bool, error)

	// Entries returns matching entries ordered by CreatedAt.
	Entries(ctx context.Context, filter EntryFilter) ([]EarningsEntry, error)

	// SumByKind aggregates matching entries per kind.
	SumByKind(ctx context.Context, filter EntryFilter) ([]KindTotal, error)
}

type RuleStore interface {
	GridRules(ctx context.Context) ([]BonusGridRule, error)
	SaveGridRule(ctx context.Context, r BonusGridRule) error
	Motivations(ctx context.Context) ([]MotivationRecord, error)
	SaveMotivation(ctx context.Context, m MotivationRecord) error
	SetMotivationActive(ctx context.Context, id MotivationID, active bool) error
}

type SettingsStore interface {
	// GlobalSettings returns nil, nil when the singleton was never saved.
	GlobalSettings(ctx context.Context) (*GlobalSettings, error)
	SaveGlobalSettings(ctx context.Context, s GlobalSettings) error
}

type RegistryStore interface {
	ShiftTypeDefinitions(ctx context.Context) ([]ShiftTypeDefinition, error)
	SaveShiftTypeDefinition(ctx context.Context, d ShiftTypeDefinition) error
	ProcessorShiftTypes(ctx context.Context, processorID ProcessorID) ([]ShiftType, error)
	SetProcessorShiftTypes(ctx context.Context, processorID ProcessorID, types []ShiftType) error

	// ProcessorEligibility lists every processor with at least one row.
	ProcessorEligibility(ctx context.Context) ([]Eligibility, error)
}

// Store is the full persistence contract.
type Store interface {
	ShiftStore
	DepositStore
	EarningsStore
	RuleStore
	SettingsStore
	RegistryStore

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
