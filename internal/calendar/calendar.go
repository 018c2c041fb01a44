// Package calendar converts between wall-clock instants and the system's
// "logical day" — a 24-hour window anchored at a configurable transition
// hour rather than midnight.
//
// Every day is keyed by its start date in a single fixed zone
// (America/New_York). Changing the transition hour only changes how future
// instants are grouped into days; slot keys stay calendar-hour labelled so
// historical slots never change identity.
package calendar

import (
	"fmt"
	"time"
)

// ZoneName is the fixed IANA zone all day math is computed in.
const ZoneName = "America/New_York"

// HoursPerDay is the number of logical hours (and GPU slots) in a day.
const HoursPerDay = 24

// Calendar converts instants to/from logical day keys in the fixed zone.
type Calendar struct {
	zone *time.Location
}

// New loads the fixed zone and returns a Calendar. Falls back to a fixed
// -5h offset (standard Eastern Time, no DST) if the system's tzdata is
// unavailable — this keeps the daemon usable on minimal container images
// while still being wrong during DST in that degraded mode.
func New() *Calendar {
	loc, err := time.LoadLocation(ZoneName)
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	return &Calendar{zone: loc}
}

// Zone returns the fixed time.Location used for all day math.
func (c *Calendar) Zone() *time.Location { return c.zone }

// DayKeyFor returns the logical-day key (its start date "YYYY-MM-DD")
// containing instant t. The logical day begins at the most recent
// occurrence of wall-clock transitionHour:00:00 not after t.
func (c *Calendar) DayKeyFor(t time.Time, transitionHour int) string {
	local := t.In(c.zone)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), transitionHour, 0, 0, 0, c.zone)
	if candidate.After(local) {
		candidate = candidate.AddDate(0, 0, -1)
	}
	return candidate.Format(time.DateOnly)
}

// DayStart returns the instant a logical day begins.
func (c *Calendar) DayStart(dayKey string, transitionHour int) (time.Time, error) {
	d, err := time.ParseInLocation(time.DateOnly, dayKey, c.zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("calendar: invalid day key %q: %w", dayKey, err)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), transitionHour, 0, 0, 0, c.zone), nil
}

// DayClose returns the last instant of a logical day, i.e. start+24h-1s.
func (c *Calendar) DayClose(dayKey string, transitionHour int) (time.Time, error) {
	start, err := c.DayStart(dayKey, transitionHour)
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(HoursPerDay*time.Hour - time.Second), nil
}

// NextDayKey returns the key of the day n days after dayKey.
func (c *Calendar) NextDayKey(dayKey string, n int) (string, error) {
	start, err := c.DayStart(dayKey, 0)
	if err != nil {
		return "", err
	}
	return start.AddDate(0, 0, n).Format(time.DateOnly), nil
}

// SlotStart returns the instant at which logical hour h (0..23) of dayKey
// begins.
func (c *Calendar) SlotStart(dayKey string, transitionHour, logicalHour int) (time.Time, error) {
	start, err := c.DayStart(dayKey, transitionHour)
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(time.Duration(logicalHour) * time.Hour), nil
}

// SlotKey formats the stable, calendar-hour-labelled slot key
// "YYYY-MM-DDTHH:00" for logical hour h of dayKey.
func (c *Calendar) SlotKey(dayKey string, transitionHour, logicalHour int) (string, error) {
	t, err := c.SlotStart(dayKey, transitionHour, logicalHour)
	if err != nil {
		return "", err
	}
	return t.Format("2006-01-02T15:04"), nil
}

// SlotKeysForDay returns all 24 slot keys for dayKey in logical-hour order.
func (c *Calendar) SlotKeysForDay(dayKey string, transitionHour int) ([]string, error) {
	keys := make([]string, HoursPerDay)
	for h := 0; h < HoursPerDay; h++ {
		k, err := c.SlotKey(dayKey, transitionHour, h)
		if err != nil {
			return nil, err
		}
		keys[h] = k
	}
	return keys, nil
}

// LogicalHourToCalendar converts a logical hour (0..23, offset from the
// transition hour) to the calendar hour (0..23) at which it starts.
func LogicalHourToCalendar(transitionHour, logicalHour int) int {
	return mod(transitionHour+logicalHour, HoursPerDay)
}

// CalendarToLogical converts a calendar hour to its logical-hour offset.
// onCurrentDay distinguishes whether c falls on the logical day that
// started today (true) or yesterday (false) in wall-clock terms.
func CalendarToLogical(transitionHour, calendarHour int, onCurrentDay bool) int {
	if onCurrentDay {
		return mod(calendarHour-transitionHour, HoursPerDay)
	}
	return mod(calendarHour+HoursPerDay-transitionHour, HoursPerDay)
}

// mod returns the non-negative remainder of n/m (Go's % can be negative).
func mod(n, m int) int {
	r := n % m
	if r < 0 {
		r += m
	}
	return r
}
