package match

import "time"

// TimeoutChoice is one selectable move timeout.
type TimeoutChoice struct {
	Label    string
	Duration time.Duration
}

// Timeouts lists the move timeouts offered when starting a match, in keyboard order.
var Timeouts = []TimeoutChoice{
	{"10 Minutes", 10 * time.Minute},
	{"30 Minutes", 30 * time.Minute},
	{"1 Hour", time.Hour},
	{"6 Hours", 6 * time.Hour},
	{"12 Hours", 12 * time.Hour},
	{"1 Day", 24 * time.Hour},
	{"2 Days", 48 * time.Hour},
	{"1 Week", 7 * 24 * time.Hour},
}

// LookupTimeout resolves a keyboard label.
func LookupTimeout(label string) (time.Duration, bool) {
	for _, c := range Timeouts {
		if c.Label == label {
			return c.Duration, true
		}
	}
	return 0, false
}

// TimeoutLabels returns the labels of Timeouts.
func TimeoutLabels() []string {
	out := make([]string, len(Timeouts))
	for i, c := range Timeouts {
		out[i] = c.Label
	}
	return out
}
