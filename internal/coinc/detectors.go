// Package coinc matches single-detector triggers across detectors, both at
// zero lag (foreground) and across time-slid copies of the trigger streams
// (background trials), and ranks the resulting coincident events.
package coinc

import (
	"fmt"
	"sort"
	"strings"
)

// lightTravel holds the light travel time in seconds between detector
// pairs, keyed with the two names in lexical order.
var lightTravel = map[string]float64{
	"H1L1": 0.010012846,
	"H1V1": 0.027287979,
	"L1V1": 0.026448341,
}

// TravelTime returns the light travel time between two detectors.
func TravelTime(a, b string) (float64, error) {
	if a == b {
		return 0, fmt.Errorf("coinc: travel time between %s and itself", a)
	}
	key := a + b
	if a > b {
		key = b + a
	}
	t, ok := lightTravel[key]
	if !ok {
		return 0, fmt.Errorf("coinc: unknown detector pair %s%s", a, b)
	}
	return t, nil
}

// ComboKey returns the canonical name of a detector combination: the
// detector names sorted and concatenated, e.g. "H1L1V1".
func ComboKey(dets []string) string {
	sorted := make([]string, len(dets))
	copy(sorted, dets)
	sort.Strings(sorted)
	return strings.Join(sorted, "")
}

// Combinations enumerates every detector subset of size two or more, in
// canonical order. Used to plan which statmaps exist for a detector set.
func Combinations(dets []string) [][]string {
	sorted := make([]string, len(dets))
	copy(sorted, dets)
	sort.Strings(sorted)

	var out [][]string
	n := len(sorted)
	for mask := 1; mask < 1<<n; mask++ {
		var combo []string
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				combo = append(combo, sorted[i])
			}
		}
		if len(combo) >= 2 {
			out = append(out, combo)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return ComboKey(out[i]) < ComboKey(out[j])
	})
	return out
}
