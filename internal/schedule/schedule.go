// Package schedule computes when a source fires next.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Schedule produces the next fire time of a source.
type Schedule interface {
	// Next returns the next fire time given the start of the last tick and
	// the current time. The result is never before now.
	Next(lastStart, now time.Time) time.Time
	// Max is the longest interval the schedule can produce.
	Max() time.Duration
	fmt.Stringer
}

// FixedInterval fires every d, measured from the start of the previous tick.
// A tick that overran its interval is followed by one immediate fire.
type FixedInterval time.Duration

// Next implements Schedule.
func (f FixedInterval) Next(lastStart, now time.Time) time.Time {
	return clamp(lastStart, time.Duration(f), now)
}

// Max implements Schedule.
func (f FixedInterval) Max() time.Duration { return time.Duration(f) }

func (f FixedInterval) String() string { return "every " + time.Duration(f).String() }

// ContextSwitching fires every GameDay on game days and every OffDay
// otherwise. The choice is made at scheduling time.
type ContextSwitching struct {
	GameDay   time.Duration
	OffDay    time.Duration
	IsGameDay func(time.Time) bool
}

// Next implements Schedule.
func (c ContextSwitching) Next(lastStart, now time.Time) time.Time {
	return clamp(lastStart, c.Interval(now), now)
}

// Interval returns the interval in effect at now.
func (c ContextSwitching) Interval(now time.Time) time.Duration {
	if c.IsGameDay != nil && c.IsGameDay(now) {
		return c.GameDay
	}
	return c.OffDay
}

// Max implements Schedule.
func (c ContextSwitching) Max() time.Duration {
	if c.GameDay > c.OffDay {
		return c.GameDay
	}
	return c.OffDay
}

func (c ContextSwitching) String() string {
	return fmt.Sprintf("game day %s / off day %s", c.GameDay, c.OffDay)
}

func clamp(lastStart time.Time, d time.Duration, now time.Time) time.Time {
	if lastStart.IsZero() {
		return now
	}
	next := lastStart.Add(d)
	if next.Before(now) {
		return now
	}
	return next
}

// Validate reports a schedule that can never make progress.
func Validate(s Schedule) error {
	switch v := s.(type) {
	case nil:
		return fmt.Errorf("schedule is required")
	case FixedInterval:
		if v <= 0 {
			return fmt.Errorf("interval must be positive, got %s", time.Duration(v))
		}
	case ContextSwitching:
		if v.GameDay <= 0 || v.OffDay <= 0 {
			return fmt.Errorf("game day and off day intervals must be positive")
		}
		if v.IsGameDay == nil {
			return fmt.Errorf("game day predicate is required")
		}
	}
	return nil
}

// GameDayCalendar is the configuration-driven game day predicate: a day is
// a game day when its weekday is listed or its date is listed, evaluated in
// Location.
type GameDayCalendar struct {
	Weekdays map[time.Weekday]bool
	Dates    map[string]bool // YYYY-MM-DD
	Location *time.Location
}

// NewGameDayCalendar parses weekday names ("sat", "sunday") and ISO dates.
func NewGameDayCalendar(weekdays, dates []string, tz string) (*GameDayCalendar, error) {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", tz, err)
		}
		loc = l
	}
	cal := &GameDayCalendar{
		Weekdays: make(map[time.Weekday]bool, len(weekdays)),
		Dates:    make(map[string]bool, len(dates)),
		Location: loc,
	}
	for _, w := range weekdays {
		wd, ok := parseWeekday(w)
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", w)
		}
		cal.Weekdays[wd] = true
	}
	for _, d := range dates {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return nil, fmt.Errorf("invalid game date %q: %w", d, err)
		}
		cal.Dates[d] = true
	}
	return cal, nil
}

// IsGameDay reports whether t falls on a game day.
func (c *GameDayCalendar) IsGameDay(t time.Time) bool {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return c.Weekdays[local.Weekday()] || c.Dates[local.Format(time.DateOnly)]
}

func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}
