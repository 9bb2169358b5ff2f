/*
ledger.go - Append-only earnings log

PURPOSE:
  The Ledger is the immutable source of truth for what a processor earned.
  Every hourly wage and every deposit commission is one entry. Totals and
  breakdowns are always recomputed from entries; there is no stored total
  that can drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IDEMPOTENT: Same idempotency key = same entry (no duplicates)
  3. CENTS: Amounts are rounded to cents on append so store sums are exact

IDEMPOTENCY KEYS:
  hourly:<shiftID>     one HOURLY entry per shift
  deposit:<depositID>  one DEPOSIT_COMMISSION entry per deposit

SEE ALSO:
  - store.go: EarningsStore
  - earnings/ledger.go: computes what to append on shift close
*/
package core

import (
	"context"

	"github.com/google/uuid"
)

func HourlyKey(shiftID ShiftID) string { return "hourly:" + string(shiftID) }
func DepositKey(depositID DepositID) string { return "deposit:" + string(depositID) }

// =============================================================================
// LEDGER
// =============================================================================

type Ledger interface {
	// Append adds an entry. Fails with ErrDuplicateIdempotencyKey if the key
	// exists. This is the ONLY write operation.
	Append(ctx context.Context, e EarningsEntry) (EarningsEntry, error)

	Entries(ctx context.Context, filter EntryFilter) ([]EarningsEntry, error)

	// Totals groups matching entries by kind.
	Totals(ctx context.Context, filter EntryFilter) ([]KindTotal, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using EarningsStore
// =============================================================================

type DefaultLedger struct {
	Store EarningsStore
}

func NewLedger(store EarningsStore) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, e EarningsEntry) (EarningsEntry, error) {
	if e.IdempotencyKey != "" {
		exists, err := l.Store.EntryExists(ctx, e.IdempotencyKey)
		if err != nil {
			return EarningsEntry{}, err
		}
		if exists {
			return EarningsEntry{}, ErrDuplicateIdempotencyKey
		}
	}
	if e.ID == "" {
		e.ID = EntryID(uuid.NewString())
	}
	e.Amount = RoundMoney(e.Amount)
	if err := l.Store.AppendEntry(ctx, e); err != nil {
		return EarningsEntry{}, err
	}
	return e, nil
}

func (l *DefaultLedger) Entries(ctx context.Context, filter EntryFilter) ([]EarningsEntry, error) {
	return l.Store.Entries(ctx, filter)
}

func (l *DefaultLedger) Totals(ctx context.Context, filter EntryFilter) ([]KindTotal, error) {
	return l.Store.SumByKind(ctx, filter)
}
