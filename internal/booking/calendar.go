package booking

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// TimeOfDay is a slot start time in canonical "HH:MM" 24h form.
type TimeOfDay string

const timeOfDayLayout = "15:04"

// ParseTimeOfDay validates s and returns it normalized to zero-padded "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(timeOfDayLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return TimeOfDay(t.Format(timeOfDayLayout)), nil
}

// ParseTimesOfDay parses every entry, dropping duplicates while keeping order.
func ParseTimesOfDay(values []string) ([]TimeOfDay, error) {
	seen := make(map[TimeOfDay]struct{}, len(values))
	out := make([]TimeOfDay, 0, len(values))
	for _, v := range values {
		t, err := ParseTimeOfDay(v)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

func (t TimeOfDay) String() string { return string(t) }

// Minutes returns the minute of day, or -1 if t is not canonical.
func (t TimeOfDay) Minutes() int {
	parsed, err := time.Parse(timeOfDayLayout, string(t))
	if err != nil {
		return -1
	}
	return parsed.Hour()*60 + parsed.Minute()
}

// ParseDate parses a "YYYY-MM-DD" calendar date.
func ParseDate(s string) (civil.Date, error) {
	d, err := civil.ParseDate(strings.TrimSpace(s))
	if err != nil || !d.IsValid() {
		return civil.Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// DatesFrom returns days consecutive dates starting at start.
func DatesFrom(start civil.Date, days int) []civil.Date {
	if days <= 0 {
		return nil
	}
	out := make([]civil.Date, days)
	for i := range out {
		out[i] = start.AddDays(i)
	}
	return out
}

// DefaultDailyTimes are the hourly onboarding slots, 09:00 through 16:00.
func DefaultDailyTimes() []TimeOfDay {
	out := make([]TimeOfDay, 0, 8)
	for h := 9; h < 17; h++ {
		out = append(out, TimeOfDay(fmt.Sprintf("%02d:00", h)))
	}
	return out
}

// Window is the rolling range of bookable dates: [Start, Start+Days).
type Window struct {
	Start civil.Date
	Days  int
}

// End returns the last date inside the window.
func (w Window) End() civil.Date {
	return w.Start.AddDays(w.Days - 1)
}

func (w Window) Contains(d civil.Date) bool {
	return !d.Before(w.Start) && !d.After(w.End())
}

// Calendar knows what "now" is for the clinic and how wide the booking window is.
type Calendar struct {
	Location   *time.Location
	WindowDays int
	Now        func() time.Time
}

// NewCalendar returns a calendar using the wall clock.
func NewCalendar(loc *time.Location, windowDays int) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	if windowDays <= 0 {
		windowDays = 7
	}
	return Calendar{Location: loc, WindowDays: windowDays, Now: time.Now}
}

func (c Calendar) now() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return now().In(loc)
}

// Today is the current clinic-local date.
func (c Calendar) Today() civil.Date {
	return civil.DateOf(c.now())
}

// Window returns the rolling window that starts today.
func (c Calendar) Window() Window {
	days := c.WindowDays
	if days <= 0 {
		days = 7
	}
	return Window{Start: c.Today(), Days: days}
}

// CheckBookable rejects slots in the past or beyond the rolling window.
// A slot today is bookable only if its start time is still ahead.
func (c Calendar) CheckBookable(date civil.Date, at TimeOfDay) error {
	w := c.Window()
	if !w.Contains(date) {
		return fmt.Errorf("%w: %s is outside %s..%s", ErrOutOfWindow, date, w.Start, w.End())
	}
	if c.Started(date, at) {
		return fmt.Errorf("%w: %s %s has already started", ErrOutOfWindow, date, at)
	}
	return nil
}

// Started reports whether the slot's start time has passed in clinic time.
func (c Calendar) Started(date civil.Date, at TimeOfDay) bool {
	now := c.now()
	today := civil.DateOf(now)
	if date != today {
		return date.Before(today)
	}
	return at.Minutes() <= now.Hour()*60+now.Minute()
}
