package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/shift-engine/core"
)

// at builds a UTC+3 instant. 2025-03-10 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, core.PlatformZone)
}

var (
	morning = core.ShiftTypeDefinition{ShiftType: core.ShiftMorning, StartHour: 6, EndHour: 14, Enabled: true}
	dayDef  = core.ShiftTypeDefinition{ShiftType: core.ShiftDay, StartHour: 14, EndHour: 22, Enabled: true}
	night   = core.ShiftTypeDefinition{ShiftType: core.ShiftNight, StartHour: 22, EndHour: 30, Enabled: true}

	// midnightNight starts at 00:00 and may be started from 23:30.
	midnightNight = core.ShiftTypeDefinition{ShiftType: core.ShiftNight, StartHour: 0, EndHour: 6, Enabled: true}
)

// =============================================================================
// SHIFT TYPE CLASSIFICATION
// =============================================================================

func TestShiftTypeOf_PartitionsTheDay(t *testing.T) {
	// Every minute of the day maps to exactly the type whose hour range holds it.
	for m := 0; m < 24*60; m++ {
		instant := at(10, 0, 0).Add(time.Duration(m) * time.Minute)
		h := m / 60

		var want core.ShiftType
		switch {
		case h >= 6 && h < 14:
			want = core.ShiftMorning
		case h >= 14 && h < 22:
			want = core.ShiftDay
		default:
			want = core.ShiftNight
		}
		require.Equal(t, want, core.ShiftTypeOf(instant), "minute %d", m)
	}
}

func TestShiftTypeOf_UsesPlatformOffset(t *testing.T) {
	// 03:00 UTC is 06:00 UTC+3
	utc := time.Date(2025, time.March, 10, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, core.ShiftMorning, core.ShiftTypeOf(utc))
	assert.Equal(t, core.ShiftNight, core.ShiftTypeOf(utc.Add(-time.Minute)))
}

// =============================================================================
// CANONICAL DAY
// =============================================================================

func TestDayOf_CutoverAtSixLocal(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want core.Day
	}{
		{"just before cutover", at(10, 5, 59), "2025-03-09"},
		{"at cutover", at(10, 6, 0), "2025-03-10"},
		{"late evening", at(10, 23, 59), "2025-03-10"},
		{"after midnight", at(11, 3, 0), "2025-03-10"},
		{"cutover in UTC", time.Date(2025, time.March, 10, 3, 0, 0, 0, time.UTC), "2025-03-10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, core.DayOf(tt.at))
		})
	}
}

func TestDay_Bounds(t *testing.T) {
	d := core.Day("2025-03-10")
	assert.True(t, d.Start().Equal(at(10, 6, 0)))
	assert.True(t, d.End().Equal(at(11, 6, 0)))
	assert.Equal(t, core.Day("2025-03-09"), d.AddDays(-1))
	assert.Equal(t, core.Day("2025-04-01"), core.Day("2025-03-31").AddDays(1))

	_, err := core.ParseDay("10/03/2025")
	assert.True(t, core.IsClientError(err))
}

// =============================================================================
// WINDOWS
// =============================================================================

func TestWindow_CrossingRepresentationsNormalizeIdentically(t *testing.T) {
	flagged := core.ShiftTypeDefinition{ShiftType: core.ShiftNight, StartHour: 22, EndHour: 6, CrossesMidnight: true}
	implicit := core.ShiftTypeDefinition{ShiftType: core.ShiftNight, StartHour: 22, EndHour: 6}

	assert.Equal(t, night.Window(), flagged.Window())
	assert.Equal(t, night.Window(), implicit.Window())
	assert.Equal(t, 8*time.Hour, night.Window().Duration())
}

func TestWindow_NightMembership(t *testing.T) {
	w := night.Window()
	assert.True(t, w.Contains(at(10, 23, 0)))
	assert.True(t, w.Contains(at(11, 3, 0)))
	assert.True(t, w.Contains(at(10, 22, 0)))
	assert.False(t, w.Contains(at(11, 6, 0)))
	assert.False(t, w.Contains(at(10, 21, 59)))
}

func TestShiftTypeDefinition_Validate(t *testing.T) {
	assert.NoError(t, morning.Validate())
	assert.NoError(t, night.Validate())
	assert.NoError(t, midnightNight.Validate())

	tooLong := core.ShiftTypeDefinition{ShiftType: core.ShiftDay, StartHour: 6, EndHour: 31}
	assert.Equal(t, "invalid_window_bounds", core.ErrorCode(tooLong.Validate()))

	empty := core.ShiftTypeDefinition{ShiftType: core.ShiftDay, StartHour: 6, EndHour: 6}
	assert.Equal(t, "invalid_window_bounds", core.ErrorCode(empty.Validate()))

	unknown := core.ShiftTypeDefinition{ShiftType: "EVENING", StartHour: 18, EndHour: 20}
	assert.Equal(t, "invalid_shift_type", core.ErrorCode(unknown.Validate()))
}

// =============================================================================
// START WINDOW
// =============================================================================

func TestIsWithinStartWindow(t *testing.T) {
	tests := []struct {
		name string
		def  core.ShiftTypeDefinition
		now  time.Time
		want bool
	}{
		// same-day window opens 30 minutes early
		{"morning before lead", morning, at(10, 5, 29), false},
		{"morning lead opens", morning, at(10, 5, 30), true},
		{"morning last minute", morning, at(10, 13, 59), true},
		{"morning at end", morning, at(10, 14, 0), false},
		{"day lead", dayDef, at(10, 13, 30), true},

		// crossing window has no lead
		{"night before start", night, at(10, 21, 45), false},
		{"night at start", night, at(10, 22, 0), true},
		{"night after midnight", night, at(11, 3, 0), true},
		{"night at end", night, at(11, 6, 0), false},

		// midnight NIGHT may start from 23:30 the previous day
		{"midnight night early", midnightNight, at(10, 23, 29), false},
		{"midnight night lead", midnightNight, at(10, 23, 30), true},
		{"midnight night running", midnightNight, at(11, 5, 59), true},
		{"midnight night over", midnightNight, at(11, 6, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, core.IsWithinStartWindow(tt.now, tt.def))
		})
	}
}

func TestResolveOccurrence(t *testing.T) {
	t.Run("early morning start belongs to the same canonical day", func(t *testing.T) {
		p, ok := core.ResolveOccurrence(at(10, 5, 35), morning)
		require.True(t, ok)
		assert.True(t, p.Start.Equal(at(10, 6, 0)))
		assert.True(t, p.End.Equal(at(10, 14, 0)))
		assert.Equal(t, core.Day("2025-03-10"), core.DayOf(p.Start))
	})

	t.Run("night after midnight resolves to previous evening", func(t *testing.T) {
		p, ok := core.ResolveOccurrence(at(11, 3, 0), night)
		require.True(t, ok)
		assert.True(t, p.Start.Equal(at(10, 22, 0)))
		assert.True(t, p.End.Equal(at(11, 6, 0)))
		assert.Equal(t, core.Day("2025-03-10"), core.DayOf(p.Start))
	})

	t.Run("midnight night started at 23:40 resolves to next date", func(t *testing.T) {
		p, ok := core.ResolveOccurrence(at(10, 23, 40), midnightNight)
		require.True(t, ok)
		assert.True(t, p.Start.Equal(at(11, 0, 0)))
		assert.True(t, p.End.Equal(at(11, 6, 0)))
		assert.Equal(t, core.Day("2025-03-10"), core.DayOf(p.Start))
	})

	t.Run("outside any window", func(t *testing.T) {
		_, ok := core.ResolveOccurrence(at(10, 16, 0), morning)
		assert.False(t, ok)
	})
}

func TestResolveOccurrence_AgreesWithStartWindow(t *testing.T) {
	defs := []core.ShiftTypeDefinition{morning, dayDef, night, midnightNight}
	for _, def := range defs {
		for m := 0; m < 2*24*60; m += 5 {
			now := at(10, 0, 0).Add(time.Duration(m) * time.Minute)
			_, ok := core.ResolveOccurrence(now, def)
			require.Equal(t, core.IsWithinStartWindow(now, def), ok,
				"%s at %s", def.ShiftType, now.Format(time.RFC3339))
		}
	}
}

func TestScheduledPeriod(t *testing.T) {
	d := core.Day("2025-03-10")

	p := core.ScheduledPeriod(night, d)
	assert.True(t, p.Start.Equal(at(10, 22, 0)))
	assert.True(t, p.End.Equal(at(11, 6, 0)))

	p = core.ScheduledPeriod(midnightNight, d)
	assert.True(t, p.Start.Equal(at(11, 0, 0)))
	assert.Equal(t, d, core.DayOf(p.Start))

	p = core.ScheduledPeriod(morning, d)
	assert.True(t, p.Start.Equal(at(10, 6, 0)))
}
