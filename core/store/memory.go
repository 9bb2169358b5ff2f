// Package store provides an in-memory core.Store.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/shift-engine/core"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory guards a memoryState with a RWMutex. Every method locks and then
// delegates to a memoryView over the state; WithTx holds the write lock for
// the whole callback and hands the view to fn directly.
type Memory struct {
	mu    sync.RWMutex
	state *memoryState
}

type shiftDayKey struct {
	ProcessorID core.ProcessorID
	Day         core.Day
}

type memoryState struct {
	shifts      map[core.ShiftID]core.ShiftInstance
	shiftDays   map[shiftDayKey]core.ShiftID
	deposits    map[core.DepositID]core.Deposit
	entries     []core.EarningsEntry
	idempotency map[string]bool
	gridRules   map[core.RuleID]core.BonusGridRule
	motivations map[core.MotivationID]core.MotivationRecord
	settings    *core.GlobalSettings
	definitions map[core.ShiftType]core.ShiftTypeDefinition
	eligibility map[core.ProcessorID][]core.ShiftType
}

func newMemoryState() *memoryState {
	return &memoryState{
		shifts:      make(map[core.ShiftID]core.ShiftInstance),
		shiftDays:   make(map[shiftDayKey]core.ShiftID),
		deposits:    make(map[core.DepositID]core.Deposit),
		idempotency: make(map[string]bool),
		gridRules:   make(map[core.RuleID]core.BonusGridRule),
		motivations: make(map[core.MotivationID]core.MotivationRecord),
		definitions: make(map[core.ShiftType]core.ShiftTypeDefinition),
		eligibility: make(map[core.ProcessorID][]core.ShiftType),
	}
}

func NewMemory() *Memory {
	return &Memory{state: newMemoryState()}
}

var _ core.Store = (*Memory)(nil)

func (m *Memory) view() *memoryView { return &memoryView{state: m.state} }

// =============================================================================
// TRANSACTIONS - snapshot + rollback on error
// =============================================================================

func (m *Memory) WithTx(ctx context.Context, fn func(core.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(m.view()); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.shifts {
		c.shifts[k] = v
	}
	for k, v := range s.shiftDays {
		c.shiftDays[k] = v
	}
	for k, v := range s.deposits {
		c.deposits[k] = v
	}
	c.entries = append([]core.EarningsEntry{}, s.entries...)
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range s.gridRules {
		c.gridRules[k] = v
	}
	for k, v := range s.motivations {
		c.motivations[k] = v
	}
	if s.settings != nil {
		settings := *s.settings
		c.settings = &settings
	}
	for k, v := range s.definitions {
		c.definitions[k] = v
	}
	for k, v := range s.eligibility {
		c.eligibility[k] = append([]core.ShiftType{}, v...)
	}
	return c
}

// =============================================================================
// LOCKING WRAPPERS
// =============================================================================

func (m *Memory) CreateShift(ctx context.Context, s core.ShiftInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().CreateShift(ctx, s)
}

func (m *Memory) GetShift(ctx context.Context, id core.ShiftID) (core.ShiftInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetShift(ctx, id)
}

func (m *Memory) ShiftForDay(ctx context.Context, processorID core.ProcessorID, day core.Day) (*core.ShiftInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ShiftForDay(ctx, processorID, day)
}

func (m *Memory) ActiveShift(ctx context.Context, processorID core.ProcessorID) (*core.ShiftInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ActiveShift(ctx, processorID)
}

func (m *Memory) ListShifts(ctx context.Context, filter core.ShiftFilter) ([]core.ShiftInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListShifts(ctx, filter)
}

func (m *Memory) OverdueShifts(ctx context.Context, cutoff time.Time) ([]core.ShiftInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().OverdueShifts(ctx, cutoff)
}

func (m *Memory) CompleteShift(ctx context.Context, id core.ShiftID, actualEnd time.Time, notes string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().CompleteShift(ctx, id, actualEnd, notes)
}

func (m *Memory) GetDeposit(ctx context.Context, id core.DepositID) (core.Deposit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetDeposit(ctx, id)
}

func (m *Memory) SaveDeposit(ctx context.Context, d core.Deposit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SaveDeposit(ctx, d)
}

func (m *Memory) ApprovedDeposits(ctx context.Context, processorID core.ProcessorID, from, to time.Time) ([]core.Deposit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ApprovedDeposits(ctx, processorID, from, to)
}

func (m *Memory) ApprovedVolume(ctx context.Context, processorID core.ProcessorID, from, to time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ApprovedVolume(ctx, processorID, from, to)
}

func (m *Memory) CountApprovedDeposits(ctx context.Context, processorID core.ProcessorID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().CountApprovedDeposits(ctx, processorID)
}

func (m *Memory) UpdateDepositEarnings(ctx context.Context, id core.DepositID, commissionRate, bonusRate, bonusAmount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdateDepositEarnings(ctx, id, commissionRate, bonusRate, bonusAmount)
}

func (m *Memory) AppendEntry(ctx context.Context, e core.EarningsEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().AppendEntry(ctx, e)
}

func (m *Memory) EntryExists(ctx context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().EntryExists(ctx, idempotencyKey)
}

func (m *Memory) Entries(ctx context.Context, filter core.EntryFilter) ([]core.EarningsEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().Entries(ctx, filter)
}

func (m *Memory) SumByKind(ctx context.Context, filter core.EntryFilter) ([]core.KindTotal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().SumByKind(ctx, filter)
}

func (m *Memory) GridRules(ctx context.Context) ([]core.BonusGridRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GridRules(ctx)
}

func (m *Memory) SaveGridRule(ctx context.Context, r core.BonusGridRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SaveGridRule(ctx, r)
}

func (m *Memory) Motivations(ctx context.Context) ([]core.MotivationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().Motivations(ctx)
}

func (m *Memory) SaveMotivation(ctx context.Context, r core.MotivationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SaveMotivation(ctx, r)
}

func (m *Memory) SetMotivationActive(ctx context.Context, id core.MotivationID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SetMotivationActive(ctx, id, active)
}

func (m *Memory) GlobalSettings(ctx context.Context) (*core.GlobalSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GlobalSettings(ctx)
}

func (m *Memory) SaveGlobalSettings(ctx context.Context, s core.GlobalSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SaveGlobalSettings(ctx, s)
}

func (m *Memory) ShiftTypeDefinitions(ctx context.Context) ([]core.ShiftTypeDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ShiftTypeDefinitions(ctx)
}

func (m *Memory) SaveShiftTypeDefinition(ctx context.Context, d core.ShiftTypeDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SaveShiftTypeDefinition(ctx, d)
}

func (m *Memory) ProcessorShiftTypes(ctx context.Context, processorID core.ProcessorID) ([]core.ShiftType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ProcessorShiftTypes(ctx, processorID)
}

func (m *Memory) SetProcessorShiftTypes(ctx context.Context, processorID core.ProcessorID, types []core.ShiftType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SetProcessorShiftTypes(ctx, processorID, types)
}

func (m *Memory) ProcessorEligibility(ctx context.Context) ([]core.Eligibility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ProcessorEligibility(ctx)
}

// =============================================================================
// MEMORY VIEW - unlocked operations on the state
// =============================================================================

type memoryView struct {
	state *memoryState
}

func (v *memoryView) WithTx(_ context.Context, fn func(core.Store) error) error {
	return fn(v)
}

// --- shifts ---

func (v *memoryView) CreateShift(_ context.Context, s core.ShiftInstance) error {
	k := shiftDayKey{ProcessorID: s.ProcessorID, Day: s.ShiftDate}
	if _, taken := v.state.shiftDays[k]; taken {
		return &core.ConflictError{
			Code:    "shift_already_started",
			Message: "processor " + string(s.ProcessorID) + " already has a shift on " + string(s.ShiftDate),
			Err:     core.ErrDuplicateShift,
		}
	}
	v.state.shifts[s.ID] = s
	v.state.shiftDays[k] = s.ID
	return nil
}

func (v *memoryView) GetShift(_ context.Context, id core.ShiftID) (core.ShiftInstance, error) {
	s, ok := v.state.shifts[id]
	if !ok {
		return core.ShiftInstance{}, core.NotFound("shift", id)
	}
	return s, nil
}

func (v *memoryView) ShiftForDay(_ context.Context, processorID core.ProcessorID, day core.Day) (*core.ShiftInstance, error) {
	id, ok := v.state.shiftDays[shiftDayKey{ProcessorID: processorID, Day: day}]
	if !ok {
		return nil, nil
	}
	s := v.state.shifts[id]
	return &s, nil
}

func (v *memoryView) ActiveShift(_ context.Context, processorID core.ProcessorID) (*core.ShiftInstance, error) {
	var found *core.ShiftInstance
	for _, s := range v.state.shifts {
		if s.ProcessorID != processorID || s.Status != core.StatusActive {
			continue
		}
		if found == nil || s.ShiftDate > found.ShiftDate {
			s := s
			found = &s
		}
	}
	return found, nil
}

func (v *memoryView) ListShifts(_ context.Context, filter core.ShiftFilter) ([]core.ShiftInstance, error) {
	var result []core.ShiftInstance
	for _, s := range v.state.shifts {
		if filter.Match(s) {
			result = append(result, s)
		}
	}
	sortShifts(result)
	return result, nil
}

func (v *memoryView) OverdueShifts(_ context.Context, cutoff time.Time) ([]core.ShiftInstance, error) {
	var result []core.ShiftInstance
	for _, s := range v.state.shifts {
		if s.Status == core.StatusActive && s.ScheduledEnd.Before(cutoff) {
			result = append(result, s)
		}
	}
	sortShifts(result)
	return result, nil
}

func (v *memoryView) CompleteShift(_ context.Context, id core.ShiftID, actualEnd time.Time, notes string) (bool, error) {
	s, ok := v.state.shifts[id]
	if !ok {
		return false, core.NotFound("shift", id)
	}
	if s.Status != core.StatusActive {
		return false, nil
	}
	s.Status = core.StatusCompleted
	s.ActualEnd = &actualEnd
	if notes != "" {
		s.Notes = notes
	}
	s.UpdatedAt = actualEnd
	v.state.shifts[id] = s
	return true, nil
}

func sortShifts(shifts []core.ShiftInstance) {
	sort.Slice(shifts, func(i, j int) bool {
		if !shifts[i].ScheduledStart.Equal(shifts[j].ScheduledStart) {
			return shifts[i].ScheduledStart.Before(shifts[j].ScheduledStart)
		}
		return shifts[i].ProcessorID < shifts[j].ProcessorID
	})
}

// --- deposits ---

func (v *memoryView) GetDeposit(_ context.Context, id core.DepositID) (core.Deposit, error) {
	d, ok := v.state.deposits[id]
	if !ok {
		return core.Deposit{}, core.NotFound("deposit", id)
	}
	return d, nil
}

func (v *memoryView) SaveDeposit(_ context.Context, d core.Deposit) error {
	v.state.deposits[d.ID] = d
	return nil
}

func (v *memoryView) ApprovedDeposits(_ context.Context, processorID core.ProcessorID, from, to time.Time) ([]core.Deposit, error) {
	period := core.Period{Start: from, End: to}
	var result []core.Deposit
	for _, d := range v.state.deposits {
		if d.ProcessorID == processorID && d.Status == core.DepositApproved &&
			d.ApprovedAt != nil && period.Contains(*d.ApprovedAt) {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ApprovedAt.Equal(*result[j].ApprovedAt) {
			return result[i].ApprovedAt.Before(*result[j].ApprovedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (v *memoryView) ApprovedVolume(ctx context.Context, processorID core.ProcessorID, from, to time.Time) (decimal.Decimal, error) {
	deposits, err := v.ApprovedDeposits(ctx, processorID, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, d := range deposits {
		total = total.Add(d.Amount)
	}
	return total, nil
}

func (v *memoryView) CountApprovedDeposits(_ context.Context, processorID core.ProcessorID) (int, error) {
	n := 0
	for _, d := range v.state.deposits {
		if d.ProcessorID == processorID && d.Status == core.DepositApproved {
			n++
		}
	}
	return n, nil
}

func (v *memoryView) UpdateDepositEarnings(_ context.Context, id core.DepositID, commissionRate, bonusRate, bonusAmount decimal.Decimal) error {
	d, ok := v.state.deposits[id]
	if !ok {
		return core.NotFound("deposit", id)
	}
	d.CommissionRate = decimal.NewNullDecimal(commissionRate)
	d.BonusRate = decimal.NewNullDecimal(bonusRate)
	d.BonusAmount = decimal.NewNullDecimal(bonusAmount)
	v.state.deposits[id] = d
	return nil
}

// --- earnings ---

func (v *memoryView) AppendEntry(_ context.Context, e core.EarningsEntry) error {
	if e.IdempotencyKey != "" {
		if v.state.idempotency[e.IdempotencyKey] {
			return core.ErrDuplicateIdempotencyKey
		}
		v.state.idempotency[e.IdempotencyKey] = true
	}

	// Keep entries ordered by CreatedAt.
	entries := v.state.entries
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].CreatedAt.After(e.CreatedAt)
	})
	entries = append(entries, core.EarningsEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	v.state.entries = entries
	return nil
}

func (v *memoryView) EntryExists(_ context.Context, idempotencyKey string) (bool, error) {
	return v.state.idempotency[idempotencyKey], nil
}

func (v *memoryView) Entries(_ context.Context, filter core.EntryFilter) ([]core.EarningsEntry, error) {
	var result []core.EarningsEntry
	for _, e := range v.state.entries {
		if filter.Match(e) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (v *memoryView) SumByKind(ctx context.Context, filter core.EntryFilter) ([]core.KindTotal, error) {
	entries, err := v.Entries(ctx, filter)
	if err != nil {
		return nil, err
	}
	index := make(map[core.EarningKind]int)
	var totals []core.KindTotal
	for _, e := range entries {
		i, ok := index[e.Kind]
		if !ok {
			i = len(totals)
			index[e.Kind] = i
			totals = append(totals, core.KindTotal{Kind: e.Kind, Sum: decimal.Zero})
		}
		totals[i].Sum = totals[i].Sum.Add(e.Amount)
		totals[i].Count++
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Kind < totals[j].Kind })
	return totals, nil
}

// --- rules ---

func (v *memoryView) GridRules(_ context.Context) ([]core.BonusGridRule, error) {
	result := make([]core.BonusGridRule, 0, len(v.state.gridRules))
	for _, r := range v.state.gridRules {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ShiftType != result[j].ShiftType {
			return result[i].ShiftType < result[j].ShiftType
		}
		if !result[i].MinAmount.Equal(result[j].MinAmount) {
			return result[i].MinAmount.LessThan(result[j].MinAmount)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (v *memoryView) SaveGridRule(_ context.Context, r core.BonusGridRule) error {
	v.state.gridRules[r.ID] = r
	return nil
}

func (v *memoryView) Motivations(_ context.Context) ([]core.MotivationRecord, error) {
	result := make([]core.MotivationRecord, 0, len(v.state.motivations))
	for _, m := range v.state.motivations {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (v *memoryView) SaveMotivation(_ context.Context, m core.MotivationRecord) error {
	v.state.motivations[m.ID] = m
	return nil
}

func (v *memoryView) SetMotivationActive(_ context.Context, id core.MotivationID, active bool) error {
	m, ok := v.state.motivations[id]
	if !ok {
		return core.NotFound("motivation", id)
	}
	m.Active = active
	v.state.motivations[id] = m
	return nil
}

// --- settings ---

func (v *memoryView) GlobalSettings(_ context.Context) (*core.GlobalSettings, error) {
	if v.state.settings == nil {
		return nil, nil
	}
	s := *v.state.settings
	return &s, nil
}

func (v *memoryView) SaveGlobalSettings(_ context.Context, s core.GlobalSettings) error {
	v.state.settings = &s
	return nil
}

// --- registry ---

func (v *memoryView) ShiftTypeDefinitions(_ context.Context) ([]core.ShiftTypeDefinition, error) {
	var result []core.ShiftTypeDefinition
	for _, t := range core.ShiftTypes {
		if d, ok := v.state.definitions[t]; ok {
			result = append(result, d)
		}
	}
	return result, nil
}

func (v *memoryView) SaveShiftTypeDefinition(_ context.Context, d core.ShiftTypeDefinition) error {
	v.state.definitions[d.ShiftType] = d
	return nil
}

func (v *memoryView) ProcessorShiftTypes(_ context.Context, processorID core.ProcessorID) ([]core.ShiftType, error) {
	return append([]core.ShiftType(nil), v.state.eligibility[processorID]...), nil
}

func (v *memoryView) SetProcessorShiftTypes(_ context.Context, processorID core.ProcessorID, types []core.ShiftType) error {
	if len(types) == 0 {
		delete(v.state.eligibility, processorID)
		return nil
	}
	v.state.eligibility[processorID] = append([]core.ShiftType{}, types...)
	return nil
}

func (v *memoryView) ProcessorEligibility(_ context.Context) ([]core.Eligibility, error) {
	result := make([]core.Eligibility, 0, len(v.state.eligibility))
	for pid, types := range v.state.eligibility {
		result = append(result, core.Eligibility{ProcessorID: pid, ShiftTypes: append([]core.ShiftType{}, types...)})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProcessorID < result[j].ProcessorID })
	return result, nil
}
