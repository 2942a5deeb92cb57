package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a time of day with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" in 24 hour notation.
func ParseClockTime(s string) (ClockTime, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || len(m) != 2 || minute < 0 || minute > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Kitchen renders the time as "6AM" or "9:30PM".
func (c ClockTime) Kitchen() string {
	suffix := "AM"
	if c.Hour >= 12 {
		suffix = "PM"
	}
	h := c.Hour % 12
	if h == 0 {
		h = 12
	}
	if c.Minute == 0 {
		return fmt.Sprintf("%d%s", h, suffix)
	}
	return fmt.Sprintf("%d:%02d%s", h, c.Minute, suffix)
}

func (c ClockTime) seconds() int { return c.Hour*3600 + c.Minute*60 }

// RestrictedHours is the half-open interval [Start, End) of the day during
// which time-restricted routes are closed. When Start is after End the
// interval wraps midnight; Start == End disables the restriction.
type RestrictedHours struct {
	Start ClockTime
	End   ClockTime
	// Location defaults to time.Local.
	Location *time.Location
}

// DefaultRestrictedHours closes the messaging routes from 21:00 to 06:00.
func DefaultRestrictedHours() RestrictedHours {
	return RestrictedHours{Start: ClockTime{Hour: 21}, End: ClockTime{Hour: 6}}
}

// Contains reports whether t falls in the restricted interval.
func (h RestrictedHours) Contains(t time.Time) bool {
	start, end := h.Start.seconds(), h.End.seconds()
	if start == end {
		return false
	}
	loc := h.Location
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	now := local.Hour()*3600 + local.Minute()*60 + local.Second()
	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}
