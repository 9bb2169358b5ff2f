package core

import "time"

// =============================================================================
// PERIOD - half-open reporting and cumulative-volume windows
// =============================================================================

// Period is the half-open interval [Start, End).
//
// Cumulative volume and "today / this week / this month" reports are always
// computed over a period anchored at the 06:00 UTC+3 cutover, never at
// midnight.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

func (p Period) Duration() time.Duration { return p.End.Sub(p.Start) }

func (p Period) Valid() bool { return p.End.After(p.Start) }

// Days returns every canonical day overlapping the period.
func (p Period) Days() []Day {
	var days []Day
	if !p.Valid() {
		return days
	}
	last := DayOf(p.End.Add(-time.Nanosecond))
	for d := DayOf(p.Start); d <= last; d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

func (p Period) String() string {
	return "[" + p.Start.In(PlatformZone).Format(time.RFC3339) + ", " + p.End.In(PlatformZone).Format(time.RFC3339) + ")"
}

// PeriodType selects a canonical reporting window.
type PeriodType string

const (
	PeriodDay   PeriodType = "day"
	PeriodWeek  PeriodType = "week"  // Monday 06:00 to Monday 06:00
	PeriodMonth PeriodType = "month" // 1st 06:00 to next 1st 06:00
)

// PeriodFor returns the canonical period of the given type containing t.
func PeriodFor(pt PeriodType, t time.Time) Period {
	switch pt {
	case PeriodWeek:
		return WeekPeriod(t)
	case PeriodMonth:
		return MonthPeriod(t)
	default:
		return DayPeriod(t)
	}
}

func DayPeriod(t time.Time) Period { return DayOf(t).Period() }

func WeekPeriod(t time.Time) Period {
	day := DayOf(t)
	offset := (int(day.Date().Weekday()) + 6) % 7 // Monday = 0
	first := day.AddDays(-offset)
	return Period{Start: first.Start(), End: first.AddDays(7).Start()}
}

func MonthPeriod(t time.Time) Period {
	date := DayOf(t).Date()
	first := time.Date(date.Year(), date.Month(), 1, CutoverHour, 0, 0, 0, PlatformZone)
	return Period{Start: first, End: first.AddDate(0, 1, 0)}
}
