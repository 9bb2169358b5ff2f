/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

CONVENTIONS:
  - Times are RFC 3339 in the platform zone (UTC+3)
  - Canonical days are YYYY-MM-DD strings
  - Amounts and rates are decimal strings ("17.83")

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/shift-engine/bonus"
	"github.com/warp/shift-engine/core"
	"github.com/warp/shift-engine/earnings"
	"github.com/warp/shift-engine/shift"
)

// =============================================================================
// SHIFTS
// =============================================================================

type StartShiftRequest struct {
	ShiftType core.ShiftType `json:"shift_type"`
	// ProcessorID lets an admin start a shift on a processor's behalf.
	ProcessorID string `json:"processor_id,omitempty"`
}

type EndShiftRequest struct {
	ProcessorID string `json:"processor_id,omitempty"`
}

type ShiftDTO struct {
	ID             string  `json:"id"`
	ProcessorID    string  `json:"processor_id"`
	ShiftType      string  `json:"shift_type"`
	ShiftDate      string  `json:"shift_date"`
	ScheduledStart string  `json:"scheduled_start"`
	ScheduledEnd   string  `json:"scheduled_end"`
	ActualStart    *string `json:"actual_start,omitempty"`
	ActualEnd      *string `json:"actual_end,omitempty"`
	Status         string  `json:"status"`
	Notes          string  `json:"notes,omitempty"`
	WorkedHours    string  `json:"worked_hours,omitempty"`
}

type TransitionDTO struct {
	Shift    ShiftDTO   `json:"shift"`
	Changed  bool       `json:"changed"`
	Earnings []EntryDTO `json:"earnings"`
}

type CurrentShiftDTO struct {
	Shift            *ShiftDTO        `json:"shift"`
	CurrentShiftType string           `json:"current_shift_type,omitempty"`
	EligibleTypes    []core.ShiftType `json:"eligible_types"`
}

// =============================================================================
// EARNINGS
// =============================================================================

type EntryDTO struct {
	ID          string            `json:"id"`
	ProcessorID string            `json:"processor_id"`
	ShiftID     string            `json:"shift_id,omitempty"`
	DepositID   string            `json:"deposit_id,omitempty"`
	Kind        string            `json:"kind"`
	Amount      decimal.Decimal   `json:"amount"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

type BreakdownDTO struct {
	ProcessorID string                   `json:"processor_id"`
	From        string                   `json:"from"`
	To          string                   `json:"to"`
	Total       decimal.Decimal          `json:"total"`
	Kinds       []earnings.KindBreakdown `json:"kinds"`
}

type CommissionDTO struct {
	DepositID       string                    `json:"deposit_id"`
	AlreadyRecorded bool                      `json:"already_recorded"`
	CommissionRate  decimal.Decimal           `json:"commission_rate"`
	BonusRate       decimal.Decimal           `json:"bonus_rate"`
	BonusAmount     decimal.Decimal           `json:"bonus_amount"`
	TierID          string                    `json:"tier_id,omitempty"`
	Motivations     []bonus.AppliedMotivation `json:"motivations,omitempty"`
	Entry           *EntryDTO                 `json:"entry,omitempty"`
}

// =============================================================================
// ADMIN
// =============================================================================

type GridRuleDTO struct {
	ID                  string           `json:"id,omitempty"`
	ShiftType           core.ShiftType   `json:"shift_type"`
	MinAmount           decimal.Decimal  `json:"min_amount"`
	MaxAmount           *decimal.Decimal `json:"max_amount,omitempty"`
	BonusPercentage     decimal.Decimal  `json:"bonus_percentage"`
	FixedBonus          *decimal.Decimal `json:"fixed_bonus,omitempty"`
	FixedBonusThreshold *decimal.Decimal `json:"fixed_bonus_threshold,omitempty"`
}

type MotivationDTO struct {
	ID        string              `json:"id,omitempty"`
	Name      string              `json:"name"`
	Type      core.MotivationType `json:"type"`
	Value     decimal.Decimal     `json:"value"`
	Condition json.RawMessage     `json:"condition,omitempty"`
	Active    bool                `json:"active"`
	CreatedAt string              `json:"created_at,omitempty"`
}

type SetActiveRequest struct {
	Active *bool `json:"active"`
}

type EligibilityRequest struct {
	ShiftTypes []core.ShiftType `json:"shift_types"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string { return t.In(core.PlatformZone).Format(time.RFC3339) }

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toShiftDTO(s core.ShiftInstance) ShiftDTO {
	dto := ShiftDTO{
		ID:             string(s.ID),
		ProcessorID:    string(s.ProcessorID),
		ShiftType:      string(s.ShiftType),
		ShiftDate:      string(s.ShiftDate),
		ScheduledStart: formatTime(s.ScheduledStart),
		ScheduledEnd:   formatTime(s.ScheduledEnd),
		ActualStart:    formatTimePtr(s.ActualStart),
		ActualEnd:      formatTimePtr(s.ActualEnd),
		Status:         string(s.Status),
		Notes:          s.Notes,
	}
	if s.ActualStart != nil && s.ActualEnd != nil {
		dto.WorkedHours = s.WorkedHours().StringFixed(2)
	}
	return dto
}

func toShiftDTOs(shifts []core.ShiftInstance) []ShiftDTO {
	dtos := make([]ShiftDTO, len(shifts))
	for i, s := range shifts {
		dtos[i] = toShiftDTO(s)
	}
	return dtos
}

func toEntryDTO(e core.EarningsEntry) EntryDTO {
	return EntryDTO{
		ID:          string(e.ID),
		ProcessorID: string(e.ProcessorID),
		ShiftID:     string(e.ShiftID),
		DepositID:   string(e.DepositID),
		Kind:        string(e.Kind),
		Amount:      e.Amount,
		Metadata:    e.Metadata,
		CreatedAt:   formatTime(e.CreatedAt),
	}
}

func toEntryDTOs(entries []core.EarningsEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toTransitionDTO(t shift.Transition) TransitionDTO {
	return TransitionDTO{Shift: toShiftDTO(t.Shift), Changed: t.Changed, Earnings: toEntryDTOs(t.Earnings)}
}

func toCommissionDTO(c earnings.Commission) CommissionDTO {
	dto := CommissionDTO{
		DepositID:       string(c.Deposit.ID),
		AlreadyRecorded: c.AlreadyRecorded,
		CommissionRate:  c.Deposit.CommissionRate.Decimal,
		BonusRate:       c.Deposit.BonusRate.Decimal,
		BonusAmount:     c.Deposit.BonusAmount.Decimal,
	}
	if c.Result != nil {
		if c.Result.Tier != nil {
			dto.TierID = string(c.Result.Tier.ID)
		}
		dto.Motivations = c.Result.Applied
	}
	if c.Entry != nil {
		e := toEntryDTO(*c.Entry)
		dto.Entry = &e
	}
	return dto
}

func toGridRuleDTO(r core.BonusGridRule) GridRuleDTO {
	return GridRuleDTO{
		ID:                  string(r.ID),
		ShiftType:           r.ShiftType,
		MinAmount:           r.MinAmount,
		MaxAmount:           r.MaxAmount,
		BonusPercentage:     r.BonusPercentage,
		FixedBonus:          r.FixedBonus,
		FixedBonusThreshold: r.FixedBonusThreshold,
	}
}

func (d GridRuleDTO) toRule() core.BonusGridRule {
	return core.BonusGridRule{
		ID:                  core.RuleID(d.ID),
		ShiftType:           d.ShiftType,
		MinAmount:           d.MinAmount,
		MaxAmount:           d.MaxAmount,
		BonusPercentage:     d.BonusPercentage,
		FixedBonus:          d.FixedBonus,
		FixedBonusThreshold: d.FixedBonusThreshold,
	}
}

func toMotivationDTO(m core.MotivationRecord) MotivationDTO {
	dto := MotivationDTO{
		ID:     string(m.ID),
		Name:   m.Name,
		Type:   m.Type,
		Value:  m.Value,
		Active: m.Active,
	}
	if json.Valid([]byte(m.ConditionJSON)) {
		dto.Condition = json.RawMessage(m.ConditionJSON)
	} else if m.ConditionJSON != "" {
		// stored payloads that are not JSON are still shown, as a string
		raw, _ := json.Marshal(m.ConditionJSON)
		dto.Condition = raw
	}
	if !m.CreatedAt.IsZero() {
		dto.CreatedAt = formatTime(m.CreatedAt)
	}
	return dto
}

func (d MotivationDTO) toRecord() core.MotivationRecord {
	return core.MotivationRecord{
		ID:            core.MotivationID(d.ID),
		Name:          d.Name,
		Type:          d.Type,
		Value:         d.Value,
		ConditionJSON: string(d.Condition),
		Active:        d.Active,
	}
}
