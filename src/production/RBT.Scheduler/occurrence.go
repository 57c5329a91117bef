package scheduler

import (
	"fmt"
	"strings"
	"time"
)

var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

var timeOfDayLayouts = []string{"15:04:05", "15:04"}

// NextOccurrence resolves a schedule time. A future absolute timestamp is kept
// as is. A past timestamp or a bare time of day rolls forward to the next
// occurrence of that wall-clock time in loc.
func NextOccurrence(value string, now time.Time, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: schedule time is required", ErrInvalidRequest)
	}

	for _, layout := range absoluteLayouts {
		at, err := time.ParseInLocation(layout, value, loc)
		if err != nil {
			continue
		}
		if at.After(now) {
			return at, nil
		}
		at = at.In(loc)
		return nextWallClock(now, loc, at.Hour(), at.Minute(), at.Second()), nil
	}

	for _, layout := range timeOfDayLayouts {
		at, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		return nextWallClock(now, loc, at.Hour(), at.Minute(), at.Second()), nil
	}

	return time.Time{}, fmt.Errorf("%w: unrecognised schedule time %q", ErrInvalidRequest, value)
}

func nextWallClock(now time.Time, loc *time.Location, hour, minute, second int) time.Time {
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, second, 0, loc)
	for !candidate.After(now) {
		candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day()+1, hour, minute, second, 0, loc)
	}
	return candidate
}
