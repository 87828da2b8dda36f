package track

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const secondsPerDay = 86400

var zuluPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})T(.+?)Z$`)

// SplitTimestamp separates an ISO "YYYY-MM-DDTHH:MM:SS[.fff]Z" value into date and clock.
// Values that are not Zulu timestamps are returned unchanged with an empty date.
func SplitTimestamp(v string) (date, clock string) {
	v = strings.TrimSpace(v)
	m := zuluPattern.FindStringSubmatch(v)
	if m == nil {
		return "", v
	}
	return m[1], m[2]
}

// ParseClock converts "HH:MM:SS" (seconds may carry a fraction) to seconds of day.
func ParseClock(v string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("clock %q: expected HH:MM:SS", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("clock %q: bad hour", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q: bad minute", v)
	}
	s, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || s < 0 || s >= 61 {
		return 0, fmt.Errorf("clock %q: bad second", v)
	}
	return float64(h*3600+m*60) + s, nil
}

// FormatClock renders seconds of day as HH:MM:SS, wrapping into a single day.
func FormatClock(sec float64) string {
	s := int(math.Floor(sec))
	s = ((s % secondsPerDay) + secondsPerDay) % secondsPerDay
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
}

// WrapDay folds seconds into [0, 86400).
func WrapDay(sec float64) float64 {
	w := math.Mod(sec, secondsPerDay)
	if w < 0 {
		w += secondsPerDay
	}
	return w
}
