package core

import (
	"time"
)

// =============================================================================
// PLATFORM CLOCK - UTC+3, canonical day starts at 06:00
// =============================================================================

const (
	// PlatformOffset is the fixed offset all shift arithmetic runs in.
	PlatformOffset = 3 * time.Hour

	// CutoverHour is the local hour a canonical day begins (03:00 UTC).
	CutoverHour = 6

	// StartLead is how early a shift may be started.
	StartLead = 30 * time.Minute

	// AutoCloseGrace is how long an ACTIVE shift may stay open after its
	// scheduled end before the auto-closer completes it.
	AutoCloseGrace = 30 * time.Minute

	minutesPerDay = 24 * 60
	cutoverMinute = CutoverHour * 60
	dayLayout     = "2006-01-02"
)

// PlatformZone is UTC+3 without daylight saving.
var PlatformZone = time.FixedZone("UTC+3", int(PlatformOffset/time.Second))

// ShiftTypeOf classifies the UTC+3 hour of t:
// MORNING [6,14), DAY [14,22), NIGHT [22,6).
func ShiftTypeOf(t time.Time) ShiftType {
	h := t.In(PlatformZone).Hour()
	switch {
	case h >= 6 && h < 14:
		return ShiftMorning
	case h >= 14 && h < 22:
		return ShiftDay
	default:
		return ShiftNight
	}
}

func minuteOfDay(t time.Time) int {
	local := t.In(PlatformZone)
	return local.Hour()*60 + local.Minute()
}

// =============================================================================
// DAY - canonical-day key
// =============================================================================

// Day is the canonical-day key ("2006-01-02"). Day d covers
// [d 06:00 UTC+3, d+1 06:00 UTC+3).
type Day string

// DayOf returns the canonical day containing t.
func DayOf(t time.Time) Day {
	shifted := t.In(PlatformZone).Add(-CutoverHour * time.Hour)
	return Day(shifted.Format(dayLayout))
}

func ParseDay(s string) (Day, error) {
	if _, err := time.ParseInLocation(dayLayout, s, PlatformZone); err != nil {
		return "", NewValidationError("invalid_day", "day %q must be YYYY-MM-DD", s)
	}
	return Day(s), nil
}

// Date returns local midnight of the day's calendar date.
func (d Day) Date() time.Time {
	t, _ := time.ParseInLocation(dayLayout, string(d), PlatformZone)
	return t
}

func (d Day) Start() time.Time { return d.Date().Add(CutoverHour * time.Hour) }
func (d Day) End() time.Time { return d.AddDays(1).Start() }
func (d Day) Period() Period { return Period{Start: d.Start(), End: d.End()} }
func (d Day) AddDays(n int) Day { return Day(d.Date().AddDate(0, 0, n).Format(dayLayout)) }
func (d Day) Before(o Day) bool { return d < o }
func (d Day) String() string { return string(d) }

// =============================================================================
// WINDOW - normalized shift window
// =============================================================================

// Window is a shift window in minutes since local midnight. End is always
// in [0, 1440); Crosses marks windows that end on the next calendar date.
type Window struct {
	Start   int
	End     int
	Crosses bool
}

// Window normalizes both "end hour >= 24" and the explicit CrossesMidnight
// flag into the same representation.
func (d ShiftTypeDefinition) Window() Window {
	start := d.StartHour*60 + d.StartMinute
	end := d.EndHour*60 + d.EndMinute
	crosses := d.CrossesMidnight
	if end >= minutesPerDay {
		end -= minutesPerDay
		crosses = true
	}
	if end < start {
		crosses = true
	}
	return Window{Start: start, End: end, Crosses: crosses}
}

func (w Window) Duration() time.Duration {
	mins := w.End - w.Start
	if w.Crosses {
		mins += minutesPerDay
	}
	return time.Duration(mins) * time.Minute
}

// Contains reports whether t falls inside the window (current-window check).
func (w Window) Contains(t time.Time) bool {
	m := minuteOfDay(t)
	if w.Crosses {
		return m >= w.Start || m < w.End
	}
	return m >= w.Start && m < w.End
}

// IsCurrent reports whether t is inside the definition's window.
func (d ShiftTypeDefinition) IsCurrent(t time.Time) bool { return d.Window().Contains(t) }

// isMidnightNight is the special case of a NIGHT shift starting at 00:00,
// which may be started from 23:30 the previous day.
func (d ShiftTypeDefinition) isMidnightNight(w Window) bool {
	return d.ShiftType == ShiftNight && w.Start == 0
}

// IsWithinStartWindow reports whether a processor may start the shift at now.
func IsWithinStartWindow(now time.Time, def ShiftTypeDefinition) bool {
	w := def.Window()
	m := minuteOfDay(now)
	lead := int(StartLead / time.Minute)

	switch {
	case def.isMidnightNight(w):
		return m >= minutesPerDay-lead || m < w.End
	case w.Crosses:
		return m >= w.Start || m < w.End
	default:
		return m >= max(0, w.Start-lead) && m < w.End
	}
}

func (d ShiftTypeDefinition) startLead(w Window) time.Duration {
	switch {
	case d.isMidnightNight(w):
		return StartLead
	case w.Crosses:
		return 0
	default:
		return min(StartLead, time.Duration(w.Start)*time.Minute)
	}
}

// ResolveOccurrence returns the scheduled bounds of the occurrence whose
// start window contains now. It agrees with IsWithinStartWindow.
func ResolveOccurrence(now time.Time, def ShiftTypeDefinition) (Period, bool) {
	w := def.Window()
	lead := def.startLead(w)
	local := now.In(PlatformZone)

	for _, offset := range []int{-1, 0, 1} {
		base := time.Date(local.Year(), local.Month(), local.Day()+offset, 0, 0, 0, 0, PlatformZone)
		start := base.Add(time.Duration(w.Start) * time.Minute)
		end := start.Add(w.Duration())
		if !now.Before(start.Add(-lead)) && now.Before(end) {
			return Period{Start: start, End: end}, true
		}
	}
	return Period{}, false
}

// ScheduledPeriod returns the occurrence of def that belongs to canonical
// day d. Windows starting before the cutover hour fall on the next calendar
// date so that DayOf(start) == d.
func ScheduledPeriod(def ShiftTypeDefinition, d Day) Period {
	w := def.Window()
	base := d.Date()
	if w.Start < cutoverMinute {
		base = base.AddDate(0, 0, 1)
	}
	start := base.Add(time.Duration(w.Start) * time.Minute)
	return Period{Start: start, End: start.Add(w.Duration())}
}
