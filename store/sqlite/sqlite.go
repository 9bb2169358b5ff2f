/*
Package sqlite provides a SQLite-backed implementation of core.Store.

PURPOSE:
  Persists shift instances, deposits, the earnings ledger, bonus rules,
  settings and the shift registry. The same schema maps onto PostgreSQL
  with minor dialect changes.

KEY TABLES:
  shift_instances:        one row per (processor, canonical day)
  deposits:               external entity; only earnings columns are written
  earnings_entries:       append-only ledger
  bonus_grid_rules:       tier grid per shift type
  motivations:            stacking bonus rules with JSON conditions
  global_settings:        singleton row (id = 1)
  shift_type_definitions: registry windows
  processor_shift_types:  eligibility rows

INDEXES:
  - idx_unique_processor_day: enforces one shift per processor per day
  - idx_shifts_status_end: overdue scan for the auto-closer (hot path)
  - earnings_entries.idempotency_key UNIQUE: exactly-once ledger appends

MONEY:
  Ledger amounts are stored as integer cents (amount_minor) so SUM is
  exact. Rates and deposit amounts are stored as decimal strings.

TIME:
  Instants are stored as fixed-width UTC text (timeLayout) so string
  comparison orders them correctly.

CONNECTIONS:
  The pool is capped at one connection. ":memory:" databases are
  per-connection, and a single writer matches SQLite's locking anyway.
  Inside WithTx use the store handed to the callback; calling the parent
  store from the callback blocks on the pool.

USAGE:
  store, err := sqlite.New("./data/shifts.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - core/store.go: Interface definitions
  - core/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/shift-engine/core"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements core.Store using SQLite.
type Store struct {
	queries
	db *sql.DB
}

var _ core.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS shift_instances (
		id TEXT PRIMARY KEY,
		processor_id TEXT NOT NULL,
		shift_type TEXT NOT NULL,
		shift_date TEXT NOT NULL,
		scheduled_start TEXT NOT NULL,
		scheduled_end TEXT NOT NULL,
		actual_start TEXT,
		actual_end TEXT,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one shift per processor per canonical day
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_processor_day
		ON shift_instances(processor_id, shift_date);

	CREATE INDEX IF NOT EXISTS idx_shifts_status_end
		ON shift_instances(status, scheduled_end);

	CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		processor_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		approved_at TEXT,
		commission_rate TEXT,
		bonus_rate TEXT,
		bonus_amount TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deposits_processor_approved
		ON deposits(processor_id, status, approved_at);

	-- Append-only ledger
	CREATE TABLE IF NOT EXISTS earnings_entries (
		id TEXT PRIMARY KEY,
		processor_id TEXT NOT NULL,
		shift_id TEXT,
		deposit_id TEXT,
		kind TEXT NOT NULL,
		amount_minor INTEGER NOT NULL,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_earnings_processor_created
		ON earnings_entries(processor_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_earnings_shift
		ON earnings_entries(shift_id) WHERE shift_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS bonus_grid_rules (
		id TEXT PRIMARY KEY,
		shift_type TEXT NOT NULL,
		min_amount TEXT NOT NULL,
		max_amount TEXT,
		bonus_percentage TEXT NOT NULL,
		fixed_bonus TEXT,
		fixed_bonus_threshold TEXT
	);

	CREATE TABLE IF NOT EXISTS motivations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		condition_json TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS global_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		hourly_rate TEXT NOT NULL,
		base_commission_rate TEXT NOT NULL,
		base_bonus_rate TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shift_type_definitions (
		shift_type TEXT PRIMARY KEY,
		start_hour INTEGER NOT NULL,
		start_minute INTEGER NOT NULL,
		end_hour INTEGER NOT NULL,
		end_minute INTEGER NOT NULL,
		crosses_midnight INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS processor_shift_types (
		processor_id TEXT NOT NULL,
		shift_type TEXT NOT NULL,
		PRIMARY KEY (processor_id, shift_type)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store core.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries: queries{q: sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// SetProcessorShiftTypes replaces the processor's eligibility rows atomically.
func (s *Store) SetProcessorShiftTypes(ctx context.Context, processorID core.ProcessorID, types []core.ShiftType) error {
	return s.WithTx(ctx, func(tx core.Store) error {
		return tx.SetProcessorShiftTypes(ctx, processorID, types)
	})
}

type txStore struct {
	queries
}

// WithTx on a transactional view joins the running transaction.
func (ts *txStore) WithTx(_ context.Context, fn func(store core.Store) error) error {
	return fn(ts)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement; Store runs them on the pool, txStore on
// an open transaction.
type queries struct {
	q querier
}

// =============================================================================
// SHIFT STORE
// =============================================================================

const shiftColumns = `id, processor_id, shift_type, shift_date, scheduled_start, scheduled_end,
	actual_start, actual_end, status, notes, created_at, updated_at`

func (s queries) CreateShift(ctx context.Context, shift core.ShiftInstance) error {
	query := `INSERT INTO shift_instances (` + shiftColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.q.ExecContext(ctx, query,
		shift.ID,
		shift.ProcessorID,
		shift.ShiftType,
		shift.ShiftDate,
		formatTime(shift.ScheduledStart),
		formatTime(shift.ScheduledEnd),
		nullTime(shift.ActualStart),
		nullTime(shift.ActualEnd),
		shift.Status,
		shift.Notes,
		formatTime(shift.CreatedAt),
		formatTime(shift.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &core.ConflictError{
				Code:    "shift_already_started",
				Message: fmt.Sprintf("processor %s already has a shift on %s", shift.ProcessorID, shift.ShiftDate),
				Err:     core.ErrDuplicateShift,
			}
		}
		return fmt.Errorf("failed to create shift: %w", err)
	}
	return nil
}

func (s queries) GetShift(ctx context.Context, id core.ShiftID) (core.ShiftInstance, error) {
	shifts, err := s.queryShifts(ctx, `SELECT `+shiftColumns+` FROM shift_instances WHERE id = ?`, id)
	if err != nil {
		return core.ShiftInstance{}, err
	}
	if len(shifts) == 0 {
		return core.ShiftInstance{}, core.NotFound("shift", id)
	}
	return shifts[0], nil
}

func (s queries) ShiftForDay(ctx context.Context, processorID core.ProcessorID, day core.Day) (*core.ShiftInstance, error) {
	shifts, err := s.queryShifts(ctx,
		`SELECT `+shiftColumns+` FROM shift_instances WHERE processor_id = ? AND shift_date = ?`,
		processorID, day)
	if err != nil || len(shifts) == 0 {
		return nil, err
	}
	return &shifts[0], nil
}

func (s queries) ActiveShift(ctx context.Context, processorID core.ProcessorID) (*core.ShiftInstance, error) {
	shifts, err := s.queryShifts(ctx,
		`SELECT `+shiftColumns+` FROM shift_instances
		 WHERE processor_id = ? AND status = ?
		 ORDER BY shift_date DESC LIMIT 1`,
		processorID, core.StatusActive)
	if err != nil || len(shifts) == 0 {
		return nil, err
	}
	return &shifts[0], nil
}

func (s queries) ListShifts(ctx context.Context, filter core.ShiftFilter) ([]core.ShiftInstance, error) {
	query := `SELECT ` + shiftColumns + ` FROM shift_instances WHERE 1 = 1`
	var args []any
	if filter.ProcessorID != "" {
		query += ` AND processor_id = ?`
		args = append(args, filter.ProcessorID)
	}
	if filter.FromDay != "" {
		query += ` AND shift_date >= ?`
		args = append(args, filter.FromDay)
	}
	if filter.ToDay != "" {
		query += ` AND shift_date <= ?`
		args = append(args, filter.ToDay)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY scheduled_start ASC, processor_id ASC`
	return s.queryShifts(ctx, query, args...)
}

func (s queries) OverdueShifts(ctx context.Context, cutoff time.Time) ([]core.ShiftInstance, error) {
	return s.queryShifts(ctx,
		`SELECT `+shiftColumns+` FROM shift_instances
		 WHERE status = ? AND scheduled_end < ?
		 ORDER BY scheduled_start ASC, processor_id ASC`,
		core.StatusActive, formatTime(cutoff))
}

// CompleteShift is a conditional update: only ACTIVE rows transition.
func (s queries) CompleteShift(ctx context.Context, id core.ShiftID, actualEnd time.Time, notes string) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE shift_instances
		 SET status = ?, actual_end = ?, notes = COALESCE(NULLIF(?, ''), notes), updated_at = ?
		 WHERE id = ? AND status = ?`,
		core.StatusCompleted, formatTime(actualEnd), notes, formatTime(actualEnd), id, core.StatusActive)
	if err != nil {
		return false, fmt.Errorf("failed to complete shift: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetShift(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s queries) queryShifts(ctx context.Context, query string, args ...any) ([]core.ShiftInstance, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query shifts: %w", err)
	}
	defer rows.Close()

	var shifts []core.ShiftInstance
	for rows.Next() {
		var (
			shift                        core.ShiftInstance
			scheduledStart, scheduledEnd string
			actualStart, actualEnd       sql.NullString
			createdAt, updatedAt         string
		)
		if err := rows.Scan(
			&shift.ID, &shift.ProcessorID, &shift.ShiftType, &shift.ShiftDate,
			&scheduledStart, &scheduledEnd, &actualStart, &actualEnd,
			&shift.Status, &shift.Notes, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan shift: %w", err)
		}
		shift.ScheduledStart = parseTime(scheduledStart)
		shift.ScheduledEnd = parseTime(scheduledEnd)
		shift.ActualStart = parseNullTime(actualStart)
		shift.ActualEnd = parseNullTime(actualEnd)
		shift.CreatedAt = parseTime(createdAt)
		shift.UpdatedAt = parseTime(updatedAt)
		shifts = append(shifts, shift)
	}
	return shifts, rows.Err()
}

// =============================================================================
// DEPOSIT STORE
// =============================================================================

const depositColumns = `id, processor_id, amount, currency, status, approved_at,
	commission_rate, bonus_rate, bonus_amount, created_at`

func (s queries) GetDeposit(ctx context.Context, id core.DepositID) (core.Deposit, error) {
	deposits, err := s.queryDeposits(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = ?`, id)
	if err != nil {
		return core.Deposit{}, err
	}
	if len(deposits) == 0 {
		return core.Deposit{}, core.NotFound("deposit", id)
	}
	return deposits[0], nil
}

func (s queries) SaveDeposit(ctx context.Context, d core.Deposit) error {
	query := `
		INSERT OR REPLACE INTO deposits (` + depositColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.q.ExecContext(ctx, query,
		d.ID,
		d.ProcessorID,
		d.Amount.String(),
		d.Currency,
		d.Status,
		nullTime(d.ApprovedAt),
		nullDecimal(d.CommissionRate),
		nullDecimal(d.BonusRate),
		nullDecimal(d.BonusAmount),
		formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save deposit: %w", err)
	}
	return nil
}

func (s queries) ApprovedDeposits(ctx context.Context, processorID core.ProcessorID, from, to time.Time) ([]core.Deposit, error) {
	return s.queryDeposits(ctx,
		`SELECT `+depositColumns+` FROM deposits
		 WHERE processor_id = ? AND status = ? AND approved_at >= ? AND approved_at < ?
		 ORDER BY approved_at ASC, id ASC`,
		processorID, core.DepositApproved, formatTime(from), formatTime(to))
}

// ApprovedVolume sums in Go: amounts are decimal strings.
func (s queries) ApprovedVolume(ctx context.Context, processorID core.ProcessorID, from, to time.Time) (decimal.Decimal, error) {
	deposits, err := s.ApprovedDeposits(ctx, processorID, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, d := range deposits {
		total = total.Add(d.Amount)
	}
	return total, nil
}

func (s queries) CountApprovedDeposits(ctx context.Context, processorID core.ProcessorID) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deposits WHERE processor_id = ? AND status = ?`,
		processorID, core.DepositApproved,
	).Scan(&count)
	return count, err
}

func (s queries) UpdateDepositEarnings(ctx context.Context, id core.DepositID, commissionRate, bonusRate, bonusAmount decimal.Decimal) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE deposits SET commission_rate = ?, bonus_rate = ?, bonus_amount = ? WHERE id = ?`,
		commissionRate.String(), bonusRate.String(), bonusAmount.String(), id)
	if err != nil {
		return fmt.Errorf("failed to update deposit earnings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("deposit", id)
	}
	return nil
}

func (s queries) queryDeposits(ctx context.Context, query string, args ...any) ([]core.Deposit, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deposits: %w", err)
	}
	defer rows.Close()

	var deposits []core.Deposit
	for rows.Next() {
		var (
			d                                  core.Deposit
			amount, createdAt                  string
			approvedAt                         sql.NullString
			commissionRate, bonusRate, bonusAm sql.NullString
		)
		if err := rows.Scan(
			&d.ID, &d.ProcessorID, &amount, &d.Currency, &d.Status, &approvedAt,
			&commissionRate, &bonusRate, &bonusAm, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		d.Amount = core.MustParseDecimal(amount)
		d.ApprovedAt = parseNullTime(approvedAt)
		d.CommissionRate = parseNullDecimal(commissionRate)
		d.BonusRate = parseNullDecimal(bonusRate)
		d.BonusAmount = parseNullDecimal(bonusAm)
		d.CreatedAt = parseTime(createdAt)
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

// =============================================================================
// EARNINGS STORE (append-only)
// =============================================================================

func (s queries) AppendEntry(ctx context.Context, e core.EarningsEntry) error {
	metadataJSON, _ := json.Marshal(e.Metadata)

	query := `
		INSERT INTO earnings_entries
		(id, processor_id, shift_id, deposit_id, kind, amount_minor, idempotency_key, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.q.ExecContext(ctx, query,
		e.ID,
		e.ProcessorID,
		nullString(string(e.ShiftID)),
		nullString(string(e.DepositID)),
		e.Kind,
		core.ToMinorUnits(e.Amount),
		nullString(e.IdempotencyKey),
		string(metadataJSON),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append earnings entry: %w", err)
	}
	return nil
}

func (s queries) EntryExists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM earnings_entries WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func (s queries) Entries(ctx context.Context, filter core.EntryFilter) ([]core.EarningsEntry, error) {
	where, args := entryWhere(filter)
	query := `SELECT id, processor_id, shift_id, deposit_id, kind, amount_minor, idempotency_key, metadata_json, created_at
		FROM earnings_entries` + where + ` ORDER BY created_at ASC, id ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query earnings: %w", err)
	}
	defer rows.Close()

	var entries []core.EarningsEntry
	for rows.Next() {
		var (
			e                                      core.EarningsEntry
			shiftID, depositID, key, metadataJSON sql.NullString
			amountMinor                            int64
			createdAt                              string
		)
		if err := rows.Scan(&e.ID, &e.ProcessorID, &shiftID, &depositID, &e.Kind,
			&amountMinor, &key, &metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan earnings entry: %w", err)
		}
		e.ShiftID = core.ShiftID(shiftID.String)
		e.DepositID = core.DepositID(depositID.String)
		e.Amount = core.FromMinorUnits(amountMinor)
		e.IdempotencyKey = key.String
		e.CreatedAt = parseTime(createdAt)
		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of earnings entry %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SumByKind is a GROUP BY over integer cents.
func (s queries) SumByKind(ctx context.Context, filter core.EntryFilter) ([]core.KindTotal, error) {
	where, args := entryWhere(filter)
	query := `SELECT kind, SUM(amount_minor), COUNT(*) FROM earnings_entries` + where +
		` GROUP BY kind ORDER BY kind ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate earnings: %w", err)
	}
	defer rows.Close()

	var totals []core.KindTotal
	for rows.Next() {
		var (
			t   core.KindTotal
			sum int64
		)
		if err := rows.Scan(&t.Kind, &sum, &t.Count); err != nil {
			return nil, fmt.Errorf("failed to scan earnings total: %w", err)
		}
		t.Sum = core.FromMinorUnits(sum)
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func entryWhere(f core.EntryFilter) (string, []any) {
	where := ` WHERE 1 = 1`
	var args []any
	if f.ProcessorID != "" {
		where += ` AND processor_id = ?`
		args = append(args, f.ProcessorID)
	}
	if f.ShiftID != "" {
		where += ` AND shift_id = ?`
		args = append(args, f.ShiftID)
	}
	if f.Kind != "" {
		where += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	if f.IdempotencyKey != "" {
		where += ` AND idempotency_key = ?`
		args = append(args, f.IdempotencyKey)
	}
	if !f.From.IsZero() {
		where += ` AND created_at >= ?`
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where += ` AND created_at < ?`
		args = append(args, formatTime(f.To))
	}
	return where, args
}

// =============================================================================
// RULE STORE
// =============================================================================

func (s queries) GridRules(ctx context.Context) ([]core.BonusGridRule, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, shift_type, min_amount, max_amount, bonus_percentage, fixed_bonus, fixed_bonus_threshold
		FROM bonus_grid_rules
		ORDER BY shift_type ASC, CAST(min_amount AS REAL) ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query grid rules: %w", err)
	}
	defer rows.Close()

	var rules []core.BonusGridRule
	for rows.Next() {
		var (
			r                                  core.BonusGridRule
			minAmount, pct                     string
			maxAmount, fixedBonus, fixedThresh sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ShiftType, &minAmount, &maxAmount, &pct, &fixedBonus, &fixedThresh); err != nil {
			return nil, fmt.Errorf("failed to scan grid rule: %w", err)
		}
		r.MinAmount = core.MustParseDecimal(minAmount)
		r.BonusPercentage = core.MustParseDecimal(pct)
		r.MaxAmount = parseDecimalPtr(maxAmount)
		r.FixedBonus = parseDecimalPtr(fixedBonus)
		r.FixedBonusThreshold = parseDecimalPtr(fixedThresh)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s queries) SaveGridRule(ctx context.Context, r core.BonusGridRule) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO bonus_grid_rules
		(id, shift_type, min_amount, max_amount, bonus_percentage, fixed_bonus, fixed_bonus_threshold)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ShiftType, r.MinAmount.String(), decimalPtr(r.MaxAmount), r.BonusPercentage.String(),
		decimalPtr(r.FixedBonus), decimalPtr(r.FixedBonusThreshold))
	if err != nil {
		return fmt.Errorf("failed to save grid rule: %w", err)
	}
	return nil
}

func (s queries) Motivations(ctx context.Context) ([]core.MotivationRecord, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, type, value, condition_json, active, created_at
		FROM motivations
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query motivations: %w", err)
	}
	defer rows.Close()

	var records []core.MotivationRecord
	for rows.Next() {
		var (
			m                core.MotivationRecord
			value, createdAt string
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.Type, &value, &m.ConditionJSON, &m.Active, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan motivation: %w", err)
		}
		m.Value = core.MustParseDecimal(value)
		m.CreatedAt = parseTime(createdAt)
		records = append(records, m)
	}
	return records, rows.Err()
}

func (s queries) SaveMotivation(ctx context.Context, m core.MotivationRecord) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO motivations (id, name, type, value, condition_json, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Type, m.Value.String(), m.ConditionJSON, m.Active, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save motivation: %w", err)
	}
	return nil
}

func (s queries) SetMotivationActive(ctx context.Context, id core.MotivationID, active bool) error {
	res, err := s.q.ExecContext(ctx, `UPDATE motivations SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update motivation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("motivation", id)
	}
	return nil
}

// =============================================================================
// SETTINGS STORE
// =============================================================================

func (s queries) GlobalSettings(ctx context.Context) (*core.GlobalSettings, error) {
	var hourly, commission, bonus string
	err := s.q.QueryRowContext(ctx,
		`SELECT hourly_rate, base_commission_rate, base_bonus_rate FROM global_settings WHERE id = 1`,
	).Scan(&hourly, &commission, &bonus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return &core.GlobalSettings{
		HourlyRate:         core.MustParseDecimal(hourly),
		BaseCommissionRate: core.MustParseDecimal(commission),
		BaseBonusRate:      core.MustParseDecimal(bonus),
	}, nil
}

func (s queries) SaveGlobalSettings(ctx context.Context, gs core.GlobalSettings) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO global_settings (id, hourly_rate, base_commission_rate, base_bonus_rate)
		VALUES (1, ?, ?, ?)`,
		gs.HourlyRate.String(), gs.BaseCommissionRate.String(), gs.BaseBonusRate.String())
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// =============================================================================
// REGISTRY STORE
// =============================================================================

const shiftTypeOrder = `CASE shift_type WHEN 'MORNING' THEN 0 WHEN 'DAY' THEN 1 WHEN 'NIGHT' THEN 2 ELSE 3 END`

func (s queries) ShiftTypeDefinitions(ctx context.Context) ([]core.ShiftTypeDefinition, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT shift_type, start_hour, start_minute, end_hour, end_minute, crosses_midnight, enabled
		FROM shift_type_definitions
		ORDER BY `+shiftTypeOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to query shift types: %w", err)
	}
	defer rows.Close()

	var defs []core.ShiftTypeDefinition
	for rows.Next() {
		var d core.ShiftTypeDefinition
		if err := rows.Scan(&d.ShiftType, &d.StartHour, &d.StartMinute, &d.EndHour, &d.EndMinute,
			&d.CrossesMidnight, &d.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan shift type: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func (s queries) SaveShiftTypeDefinition(ctx context.Context, d core.ShiftTypeDefinition) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO shift_type_definitions
		(shift_type, start_hour, start_minute, end_hour, end_minute, crosses_midnight, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ShiftType, d.StartHour, d.StartMinute, d.EndHour, d.EndMinute, d.CrossesMidnight, d.Enabled)
	if err != nil {
		return fmt.Errorf("failed to save shift type: %w", err)
	}
	return nil
}

func (s queries) ProcessorShiftTypes(ctx context.Context, processorID core.ProcessorID) ([]core.ShiftType, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT shift_type FROM processor_shift_types WHERE processor_id = ? ORDER BY `+shiftTypeOrder,
		processorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligibility: %w", err)
	}
	defer rows.Close()

	var types []core.ShiftType
	for rows.Next() {
		var t core.ShiftType
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// SetProcessorShiftTypes replaces the rows; Store wraps it in a transaction.
func (s queries) SetProcessorShiftTypes(ctx context.Context, processorID core.ProcessorID, types []core.ShiftType) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM processor_shift_types WHERE processor_id = ?`, processorID); err != nil {
		return fmt.Errorf("failed to clear eligibility: %w", err)
	}
	for _, t := range types {
		if _, err := s.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO processor_shift_types (processor_id, shift_type) VALUES (?, ?)`,
			processorID, t); err != nil {
			return fmt.Errorf("failed to save eligibility: %w", err)
		}
	}
	return nil
}

func (s queries) ProcessorEligibility(ctx context.Context) ([]core.Eligibility, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT processor_id, shift_type FROM processor_shift_types ORDER BY processor_id ASC, `+shiftTypeOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligibility: %w", err)
	}
	defer rows.Close()

	var result []core.Eligibility
	for rows.Next() {
		var (
			pid core.ProcessorID
			t   core.ShiftType
		)
		if err := rows.Scan(&pid, &t); err != nil {
			return nil, err
		}
		if n := len(result); n > 0 && result[n-1].ProcessorID == pid {
			result[n-1].ShiftTypes = append(result[n-1].ShiftTypes, t)
			continue
		}
		result = append(result, core.Eligibility{ProcessorID: pid, ShiftTypes: []core.ShiftType{t}})
	}
	return result, rows.Err()
}

// Helper functions

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseNullDecimal(ns sql.NullString) decimal.NullDecimal {
	if !ns.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(core.MustParseDecimal(ns.String))
}

func decimalPtr(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseDecimalPtr(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid {
		return nil
	}
	d := core.MustParseDecimal(ns.String)
	return &d
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
