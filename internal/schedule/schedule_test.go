package schedule

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC) // a Saturday

func TestFixedIntervalAnchorsOnTickStart(t *testing.T) {
	s := FixedInterval(10 * time.Second)

	assert.Equal(t, t0.Add(10*time.Second), s.Next(t0, t0.Add(2*time.Second)))
	assert.Equal(t, t0, s.Next(time.Time{}, t0), "first tick fires immediately")
}

func TestFixedIntervalOverrunFiresOnceImmediately(t *testing.T) {
	s := FixedInterval(10 * time.Second)
	now := t0.Add(45 * time.Second)
	assert.Equal(t, now, s.Next(t0, now))
}

func TestContextSwitchingPicksIntervalAtSchedulingTime(t *testing.T) {
	gameDay := false
	s := ContextSwitching{
		GameDay:   15 * time.Second,
		OffDay:    5 * time.Minute,
		IsGameDay: func(time.Time) bool { return gameDay },
	}

	assert.Equal(t, t0.Add(5*time.Minute), s.Next(t0, t0))
	gameDay = true
	assert.Equal(t, t0.Add(15*time.Second), s.Next(t0, t0))
	assert.Equal(t, 5*time.Minute, s.Max())
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(FixedInterval(time.Second)))
	require.Error(t, Validate(nil))
	require.Error(t, Validate(FixedInterval(0)))
	require.Error(t, Validate(ContextSwitching{GameDay: time.Second, OffDay: time.Second}))
	require.NoError(t, Validate(ContextSwitching{GameDay: time.Second, OffDay: time.Second, IsGameDay: func(time.Time) bool { return false }}))
}

func TestGameDayCalendar(t *testing.T) {
	cal, err := NewGameDayCalendar([]string{"sat", "Sunday"}, []string{"2026-10-22"}, "America/Chicago")
	require.NoError(t, err)

	assert.True(t, cal.IsGameDay(t0))
	assert.False(t, cal.IsGameDay(time.Date(2026, time.October, 20, 18, 0, 0, 0, time.UTC)))
	assert.True(t, cal.IsGameDay(time.Date(2026, time.October, 22, 18, 0, 0, 0, time.UTC)))
	// 03:00 UTC Monday is still Sunday evening in Chicago.
	assert.True(t, cal.IsGameDay(time.Date(2026, time.October, 19, 3, 0, 0, 0, time.UTC)))

	_, err = NewGameDayCalendar([]string{"someday"}, nil, "")
	require.Error(t, err)
	_, err = NewGameDayCalendar(nil, []string{"22/10/2026"}, "")
	require.Error(t, err)
}
