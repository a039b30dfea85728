package admin

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration reads durations such as "5m", "1h" and "30s". A bare number
// is taken as minutes. Non-positive durations are rejected.
func ParseDuration(s string) (time.Duration, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	unit := time.Minute
	switch {
	case strings.HasSuffix(s, "h"):
		unit, s = time.Hour, strings.TrimSuffix(s, "h")
	case strings.HasSuffix(s, "m"):
		s = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "s"):
		unit, s = time.Second, strings.TrimSuffix(s, "s")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * unit, true
}

// FormatDuration renders d as "2h", "1h 30m" or "5m". Durations under a
// minute are shown in seconds.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	minutes := int(d / time.Minute)
	hours := minutes / 60
	switch {
	case hours > 0 && minutes%60 > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", minutes)
}
