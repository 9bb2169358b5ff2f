/*
Package factory converts stored bonus rules into the typed forms the bonus
engine evaluates.

PURPOSE:
  Motivation conditions are stored as JSON. They are parsed exactly once,
  when the RuleBook loads, into a closed set of bonus.Condition variants.
  Evaluation never touches JSON.

JSON SCHEMA:
  {"type": "min_deposits_count", "value": 10}
  {"type": "min_daily_amount",   "value": "2500.00"}
  {"type": "consecutive_days",   "value": 5}
  {"type": "always"}
  ""  or  {}                     unconditional

MALFORMED PAYLOADS:
  A stored payload that fails to parse becomes bonus.NoOp and a warning is
  logged. The motivation stays listed but never applies. Admin writes are
  stricter: SaveMotivation rejects a payload it cannot parse.

USAGE:
  book := factory.NewRuleBook(factory.RuleBookConfig{Store: store, Logger: logger})
  if err := book.Refresh(ctx); err != nil {
      return err
  }
  engine := bonus.NewEngine(bonus.EngineConfig{Rules: book, ...})

SEE ALSO:
  - bonus/conditions.go: the Condition variants
  - bonus/engine.go: evaluation
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/shift-engine/bonus"
	"github.com/warp/shift-engine/core"
)

// =============================================================================
// CONDITION JSON
// =============================================================================

const (
	CondMinDepositsCount = "min_deposits_count"
	CondMinDailyAmount   = "min_daily_amount"
	CondConsecutiveDays  = "consecutive_days"
	CondAlways           = "always"
)

// ConditionJSON is the stored form of a motivation condition.
type ConditionJSON struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// ParseCondition decodes a stored payload into a bonus.Condition.
func ParseCondition(payload string) (bonus.Condition, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		return bonus.Unconditional{}, nil
	}

	var cj ConditionJSON
	if err := json.Unmarshal([]byte(trimmed), &cj); err != nil {
		return nil, fmt.Errorf("decoding condition: %w", err)
	}

	switch cj.Type {
	case CondAlways:
		return bonus.Unconditional{}, nil
	case CondMinDepositsCount:
		n, err := parseCount(cj.Value)
		if err != nil {
			return nil, err
		}
		return bonus.MinDepositsCount{N: n}, nil
	case CondConsecutiveDays:
		n, err := parseCount(cj.Value)
		if err != nil {
			return nil, err
		}
		return bonus.ConsecutiveDays{N: n}, nil
	case CondMinDailyAmount:
		var amount decimal.Decimal
		if len(cj.Value) == 0 {
			return nil, fmt.Errorf("%s requires a value", cj.Type)
		}
		if err := json.Unmarshal(cj.Value, &amount); err != nil {
			return nil, fmt.Errorf("decoding %s value: %w", cj.Type, err)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("%s must not be negative", cj.Type)
		}
		return bonus.MinDailyAmount{Amount: amount}, nil
	default:
		return nil, fmt.Errorf("unknown condition type %q", cj.Type)
	}
}

func parseCount(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("count condition requires a value")
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("decoding count: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("count must not be negative")
	}
	return n, nil
}

// =============================================================================
// RULE BOOK - bonus.RuleSource backed by a RuleStore
// =============================================================================

type RuleBookConfig struct {
	Store  core.RuleStore
	Logger zerolog.Logger
}

// RuleBook snapshots grid rules and parsed motivations. Admin writes go
// through it so the snapshot is refreshed after every change.
type RuleBook struct {
	cfg RuleBookConfig

	mu          sync.RWMutex
	grid        map[core.ShiftType][]core.BonusGridRule
	records     []core.MotivationRecord
	motivations []bonus.Motivation
}

var _ bonus.RuleSource = (*RuleBook)(nil)

func NewRuleBook(cfg RuleBookConfig) *RuleBook {
	return &RuleBook{cfg: cfg, grid: make(map[core.ShiftType][]core.BonusGridRule)}
}

// Refresh reloads every rule from the store and reparses conditions.
func (b *RuleBook) Refresh(ctx context.Context) error {
	rules, err := b.cfg.Store.GridRules(ctx)
	if err != nil {
		return fmt.Errorf("loading grid rules: %w", err)
	}
	records, err := b.cfg.Store.Motivations(ctx)
	if err != nil {
		return fmt.Errorf("loading motivations: %w", err)
	}

	grid := make(map[core.ShiftType][]core.BonusGridRule)
	for _, r := range rules {
		grid[r.ShiftType] = append(grid[r.ShiftType], r)
	}

	var motivations []bonus.Motivation
	for _, rec := range records {
		if !rec.Active {
			continue
		}
		cond, err := ParseCondition(rec.ConditionJSON)
		if err != nil {
			parseErr := &core.ConditionParseError{MotivationID: rec.ID, Payload: rec.ConditionJSON, Err: err}
			b.cfg.Logger.Warn().Err(parseErr).Str("motivation", string(rec.ID)).Msg("motivation disabled")
			cond = bonus.NoOp{Reason: err.Error()}
		}
		motivations = append(motivations, bonus.Motivation{
			ID:        rec.ID,
			Name:      rec.Name,
			Type:      rec.Type,
			Value:     rec.Value,
			Condition: cond,
		})
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.grid = grid
	b.records = records
	b.motivations = motivations
	return nil
}

func (b *RuleBook) GridRules(shiftType core.ShiftType) []core.BonusGridRule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]core.BonusGridRule(nil), b.grid[shiftType]...)
}

func (b *RuleBook) AllGridRules() []core.BonusGridRule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var result []core.BonusGridRule
	for _, t := range core.ShiftTypes {
		result = append(result, b.grid[t]...)
	}
	return result
}

func (b *RuleBook) ActiveMotivations() []bonus.Motivation {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]bonus.Motivation(nil), b.motivations...)
}

// Motivations returns every stored motivation, active or not.
func (b *RuleBook) Motivations() []core.MotivationRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]core.MotivationRecord(nil), b.records...)
}

// =============================================================================
// ADMIN WRITES
// =============================================================================

func (b *RuleBook) SaveGridRule(ctx context.Context, r core.BonusGridRule) (core.BonusGridRule, error) {
	if err := r.Validate(); err != nil {
		return core.BonusGridRule{}, err
	}
	if r.ID == "" {
		r.ID = core.RuleID(uuid.NewString())
	}
	if err := b.cfg.Store.SaveGridRule(ctx, r); err != nil {
		return core.BonusGridRule{}, err
	}
	return r, b.Refresh(ctx)
}

func (b *RuleBook) SaveMotivation(ctx context.Context, m core.MotivationRecord) (core.MotivationRecord, error) {
	if err := m.Validate(); err != nil {
		return core.MotivationRecord{}, err
	}
	if _, err := ParseCondition(m.ConditionJSON); err != nil {
		return core.MotivationRecord{}, core.NewValidationError("invalid_condition", "%v", err)
	}
	if m.ID == "" {
		m.ID = core.MotivationID(uuid.NewString())
	}
	if err := b.cfg.Store.SaveMotivation(ctx, m); err != nil {
		return core.MotivationRecord{}, err
	}
	return m, b.Refresh(ctx)
}

func (b *RuleBook) SetMotivationActive(ctx context.Context, id core.MotivationID, active bool) error {
	if err := b.cfg.Store.SetMotivationActive(ctx, id, active); err != nil {
		return err
	}
	return b.Refresh(ctx)
}
