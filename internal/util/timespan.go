// Package util holds small formatting helpers shared by the bot packages.
package util

import (
	"strconv"
	"strings"
	"time"
)

type unit struct {
	size     time.Duration
	singular string
	plural   string
}

var units = []unit{
	{52 * 7 * 24 * time.Hour, "year", "years"},
	{7 * 24 * time.Hour, "week", "weeks"},
	{24 * time.Hour, "day", "days"},
	{time.Hour, "hour", "hours"},
	{time.Minute, "minute", "minutes"},
	{time.Second, "second", "seconds"},
}

// maxUnits bounds how many components a formatted span carries.
const maxUnits = 3

// FormatTimespan renders d as "1 day, 2 hours and 3 minutes".
// Sub-second remainders are dropped; spans under a second read "0 seconds".
func FormatTimespan(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	d = d.Truncate(time.Second)
	if d < time.Second {
		return "0 seconds"
	}
	parts := make([]string, 0, maxUnits)
	for _, u := range units {
		if len(parts) == maxUnits {
			break
		}
		n := d / u.size
		if n == 0 {
			continue
		}
		d -= n * u.size
		parts = append(parts, pluralize(int64(n), u))
	}
	return joinWords(parts)
}

func pluralize(n int64, u unit) string {
	word := u.plural
	if n == 1 {
		word = u.singular
	}
	return strconv.FormatInt(n, 10) + " " + word
}

func joinWords(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}
