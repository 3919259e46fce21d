package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// defaultZone is applied when a rule omits its timezone. Overridable once at
// startup via SetDefaultTimezone; not safe to change while evaluations run.
var defaultZone = DefaultTimezone

// SetDefaultTimezone overrides the zone applied to rules without one. The
// name must be a recognized IANA identifier.
func SetDefaultTimezone(name string) error {
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	defaultZone = name
	return nil
}

// loadZone resolves an IANA zone name, falling back to the default zone when
// the name is empty. Unknown zones return an error rather than UTC so the
// caller can decide how to degrade.
func loadZone(name string) (*time.Location, error) {
	if name == "" {
		name = defaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

// parseClock parses a 24-hour "HH:MM" value into minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return h*60 + m, nil
}

// SeasonalOccurrences returns the wall-clock start and end instants of a
// seasonal window for the given calendar year, in the window's zone. The
// start is midnight on the start day; the end is midnight after the end day,
// since applicability keeps the whole end day inside the window. For a
// year-wrapping window the end lands in year+1, so the pair is always
// ordered start before end.
func SeasonalOccurrences(w *SeasonalWindow, year int) (start, end time.Time, err error) {
	loc, err := loadZone(w.Timezone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start = time.Date(year, time.Month(w.StartMonth), w.StartDay, 0, 0, 0, 0, loc)
	endYear := year
	if wrapsYear(w) {
		endYear = year + 1
	}
	// Day+1 normalizes across month and year boundaries.
	end = time.Date(endYear, time.Month(w.EndMonth), w.EndDay+1, 0, 0, 0, 0, loc)
	return start, end, nil
}

// wrapsYear reports whether the window crosses Dec 31 (start sorts after end
// as a month/day pair).
func wrapsYear(w *SeasonalWindow) bool {
	return w.StartMonth > w.EndMonth ||
		(w.StartMonth == w.EndMonth && w.StartDay > w.EndDay)
}

// seasonalApplies reports whether the instant falls inside the window,
// comparing month/day in the window's zone. Both endpoints are inclusive at
// day granularity.
func seasonalApplies(w *SeasonalWindow, now time.Time) (bool, error) {
	loc, err := loadZone(w.Timezone)
	if err != nil {
		return false, err
	}
	local := now.In(loc)
	cur := int(local.Month())*100 + local.Day()
	start := w.StartMonth*100 + w.StartDay
	end := w.EndMonth*100 + w.EndDay
	if start <= end {
		return cur >= start && cur <= end, nil
	}
	// Year wrap: inside when at or past the start, or at or before the end.
	return cur >= start || cur <= end, nil
}

// timeWindowApplies reports whether the instant falls inside the weekly
// window: the local weekday must be allowed and the local time of day must
// be inside the (possibly midnight-wrapping) range, endpoints inclusive.
func timeWindowApplies(w *TimeWindow, now time.Time) (bool, error) {
	loc, err := loadZone(w.Timezone)
	if err != nil {
		return false, err
	}
	local := now.In(loc)

	allowed := false
	for _, d := range w.Weekdays {
		if d == int(local.Weekday()) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	start, err := parseClock(w.StartTime)
	if err != nil {
		return false, err
	}
	end, err := parseClock(w.EndTime)
	if err != nil {
		return false, err
	}
	cur := local.Hour()*60 + local.Minute()
	if start <= end {
		return cur >= start && cur <= end, nil
	}
	// Midnight wrap: inside when at or past the start, or at or before the end.
	return cur >= start || cur <= end, nil
}
