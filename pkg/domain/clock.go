package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the stored submission date format (day first, as the
// original deployment recorded it).
const DateLayout = "02/01/2006"

// DateKey formats t as a stored submission date.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseClock parses an "HH:MM" 24h wall-clock string into minutes since
// midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}

// MinutesOfDay returns t's time of day in minutes since midnight.
func MinutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
