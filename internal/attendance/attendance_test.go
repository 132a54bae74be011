package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/attendance/facepresence/internal/config"
)

func TestCalendarDayUsesConfiguredTimezone(t *testing.T) {
	g, err := New(nil, nil, config.AttendanceConfig{Min: 0.6, Timezone: "America/New_York"})
	require.NoError(t, err)

	// 2026-01-15 03:30 UTC is still 2026-01-14 evening in America/New_York.
	utc := time.Date(2026, 1, 15, 3, 30, 0, 0, time.UTC)
	require.Equal(t, "2026-01-14", g.CalendarDay(utc))
}

func TestCalendarDayMidnightRollsOverAtZoneBoundary(t *testing.T) {
	g, err := New(nil, nil, config.AttendanceConfig{Min: 0.6, Timezone: "UTC"})
	require.NoError(t, err)

	require.Equal(t, "2026-03-01", g.CalendarDay(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, "2026-02-28", g.CalendarDay(time.Date(2026, 2, 28, 23, 59, 59, 0, time.UTC)))
}

func TestNewRejectsUnknownTimezone(t *testing.T) {
	_, err := New(nil, nil, config.AttendanceConfig{Min: 0.6, Timezone: "Not/A_Zone"})
	require.Error(t, err)
}
