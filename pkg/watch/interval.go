package watch

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// ParseInterval parses a Go duration with an optional leading day count: 30m, 6h, 7d, 1d12h
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	daysPart, rest, found := strings.Cut(s, "d")
	days, err := strconv.Atoi(daysPart)
	if !found || err != nil || days < 0 {
		return 0, fmt.Errorf("invalid interval format: %q (examples: 30m, 1h, 24h, 7d)", s)
	}
	d := time.Duration(days) * day
	if rest != "" {
		extra, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid interval format: %q", s)
		}
		d += extra
	}
	return d, nil
}

// FormatInterval renders d using the largest two units
func FormatInterval(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < day:
		hours, mins := int(d.Hours()), int(d.Minutes())%60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days, hours := int(d/day), int(d.Hours())%24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}
