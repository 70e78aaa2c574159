package maintenance

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseClock parses a 24 hour "HH:mm" wall-clock time.
func ParseClock(raw string) (hour, minute int, err error) {
	raw = strings.TrimSpace(raw)
	h, m, ok := strings.Cut(raw, ":")
	if !ok || len(h) == 0 || len(h) > 2 || len(m) != 2 {
		return 0, 0, fmt.Errorf("invalid clock time %q: want HH:mm", raw)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return hour, minute, nil
}

// NextReload returns the next instant strictly after now at which the wall
// clock in now's location reads at. If that time has been reached today,
// the result is tomorrow.
func NextReload(now time.Time, at string) (time.Time, error) {
	hour, minute, err := ParseClock(at)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := now.Date()
	next := time.Date(y, mo, d, hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(y, mo, d+1, hour, minute, 0, 0, now.Location())
	}
	return next, nil
}
