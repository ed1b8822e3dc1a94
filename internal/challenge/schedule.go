package challenge

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimeOfDay parses "HH:MM" (24h) into hours and minutes.
func ParseTimeOfDay(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: time of day %q must be HH:MM", ErrInvalidChallenge, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("%w: invalid hour in %q", ErrInvalidChallenge, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("%w: invalid minute in %q", ErrInvalidChallenge, s)
	}
	return h, m, nil
}

// ScheduleAt resolves a wall-clock time of day to the next absolute instant:
// today at that time, or tomorrow when today's instant is not after now.
// loc defaults to now's location.
func ScheduleAt(timeOfDay string, now time.Time, loc *time.Location) (time.Time, error) {
	h, m, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = now.Location()
	}
	local := now.In(loc)
	target := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, loc)
	if !target.After(local) {
		target = time.Date(local.Year(), local.Month(), local.Day()+1, h, m, 0, 0, loc)
	}
	return target, nil
}
