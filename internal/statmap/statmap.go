// Package statmap turns per-combination coincidence results into
// false-alarm-rate ranked event lists, merges the combinations, and applies
// hierarchical removal so one loud signal does not bury weaker ones in its
// own background contribution.
package statmap

import (
	"math"
	"sort"

	"github.com/banshee-data/gwsearch/internal/coinc"
	"github.com/banshee-data/gwsearch/internal/monitoring"
)

// Statmap holds the foreground and background events of one detector
// combination over one analysis epoch.
type Statmap struct {
	Combo string
	// ForegroundTime is the zero-lag analysis time in seconds.
	ForegroundTime float64
	// NumSlides is the total number of background trials.
	NumSlides  int
	Foreground []coinc.Event
	Background []coinc.Event
}

// FromResults splits coincidence results into per-combination statmaps.
// Slide zero events are foreground, everything else is background.
func FromResults(res *coinc.Results, foregroundTime float64, numSlides int) map[string]*Statmap {
	out := make(map[string]*Statmap, len(res.ByCombo))
	for combo, events := range res.ByCombo {
		m := &Statmap{Combo: combo, ForegroundTime: foregroundTime, NumSlides: numSlides}
		for _, e := range events {
			if e.Slide == 0 {
				m.Foreground = append(m.Foreground, e)
			} else {
				m.Background = append(m.Background, e)
			}
		}
		out[combo] = m
	}
	return out
}

// BackgroundTime is the effective noise-only livetime synthesized by the
// time slides.
func (s *Statmap) BackgroundTime() float64 {
	return s.ForegroundTime * float64(s.NumSlides)
}

// FAR estimates the false-alarm rate of a statistic value against this
// combination's background population: (1 + louder) / background time.
// With no background livetime the rate is unconstrained and reported as
// +Inf.
func (s *Statmap) FAR(stat float64) float64 {
	return farAgainst(stat, s.Background, s.BackgroundTime())
}

func farAgainst(stat float64, background []coinc.Event, backgroundTime float64) float64 {
	if backgroundTime <= 0 {
		return math.Inf(1)
	}
	louder := 0
	for _, b := range background {
		if b.Stat >= stat {
			louder++
		}
	}
	return float64(1+louder) / backgroundTime
}

// CombineConfig controls merging and hierarchical removal.
type CombineConfig struct {
	// MaxHierarchicalRemoval bounds the number of removal rounds.
	MaxHierarchicalRemoval int
	// RemovalThresholdFAR is the rate a foreground event must beat to be
	// removed from the background estimate, in Hz.
	RemovalThresholdFAR float64
	// SupersedeWindow is the time tolerance within which a higher-order
	// combination's event absorbs the same candidate seen by its
	// sub-combinations, in seconds.
	SupersedeWindow float64
}

// DefaultCombineConfig mirrors the production combiner tuning.
func DefaultCombineConfig() CombineConfig {
	return CombineConfig{
		MaxHierarchicalRemoval: 1,
		RemovalThresholdFAR:    1e-4,
		SupersedeWindow:        0.050,
	}
}

// RankedEvent is one foreground event in the merged statmap with its
// false-alarm rate. Removed marks events taken out of the background
// estimate by hierarchical removal; their FAR is the one computed at
// removal time.
type RankedEvent struct {
	Combo   string
	Event   coinc.Event
	FAR     float64
	Removed bool
}

// Combined is the merged, hierarchically cleaned statmap.
type Combined struct {
	// Events are all surviving foreground events ranked by FAR, the removed
	// ones first.
	Events []RankedEvent
	// Rounds is the number of removal rounds actually performed.
	Rounds int
}

// subsetOf reports whether every detector in a appears in b.
func subsetOf(a, b []string) bool {
	for _, d := range a {
		found := false
		for _, e := range b {
			if d == e {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Combine merges the per-combination statmaps into one ranked event list.
//
// An event seen by a higher-order combination supersedes the same candidate
// in its sub-combinations. Hierarchical removal then runs for up to
// MaxHierarchicalRemoval rounds: each round removes exactly the single most
// significant foreground event whose FAR beats the removal threshold,
// excludes that event's template from its combination's background pool,
// and recomputes the remaining FARs against the reduced pools.
func Combine(maps map[string]*Statmap, cfg CombineConfig) *Combined {
	type working struct {
		combo string
		event coinc.Event
	}

	// Higher-order combinations first so supersession is a single pass.
	combos := make([]string, 0, len(maps))
	for c := range maps {
		combos = append(combos, c)
	}
	sort.Slice(combos, func(i, j int) bool {
		a, b := maps[combos[i]], maps[combos[j]]
		na, nb := comboSize(a), comboSize(b)
		if na != nb {
			return na > nb
		}
		return combos[i] < combos[j]
	})

	var fg []working
	for _, c := range combos {
		for _, e := range maps[c].Foreground {
			superseded := false
			for _, kept := range fg {
				k := kept.event
				if len(k.Detectors) > len(e.Detectors) &&
					subsetOf(e.Detectors, k.Detectors) &&
					k.TemplateID == e.TemplateID &&
					math.Abs(k.Time-e.Time) <= cfg.SupersedeWindow {
					superseded = true
					break
				}
			}
			if !superseded {
				fg = append(fg, working{combo: c, event: e})
			}
		}
	}

	// Mutable background pools, one per combination.
	pools := make(map[string][]coinc.Event, len(maps))
	for c, m := range maps {
		pools[c] = append([]coinc.Event(nil), m.Background...)
	}

	out := &Combined{}
	remaining := fg
	for out.Rounds < cfg.MaxHierarchicalRemoval && len(remaining) > 0 {
		best := -1
		bestFAR := math.Inf(1)
		for i, w := range remaining {
			far := farAgainst(w.event.Stat, pools[w.combo], maps[w.combo].BackgroundTime())
			if far < bestFAR || (far == bestFAR && best >= 0 && w.event.Stat > remaining[best].event.Stat) {
				best, bestFAR = i, far
			}
		}
		if best < 0 || bestFAR >= cfg.RemovalThresholdFAR {
			break
		}

		w := remaining[best]
		out.Events = append(out.Events, RankedEvent{Combo: w.combo, Event: w.event, FAR: bestFAR, Removed: true})
		remaining = append(remaining[:best:best], remaining[best+1:]...)
		pools[w.combo] = excludeTemplate(pools[w.combo], w.event.TemplateID)
		out.Rounds++
		monitoring.Logf("statmap: removed %s event at %.3f (template %d, FAR %.3g Hz) from background estimate",
			w.combo, w.event.Time, w.event.TemplateID, bestFAR)
	}

	for _, w := range remaining {
		far := farAgainst(w.event.Stat, pools[w.combo], maps[w.combo].BackgroundTime())
		out.Events = append(out.Events, RankedEvent{Combo: w.combo, Event: w.event, FAR: far})
	}

	sort.SliceStable(out.Events, func(i, j int) bool {
		a, b := out.Events[i], out.Events[j]
		if a.Removed != b.Removed {
			return a.Removed
		}
		if a.FAR != b.FAR {
			return a.FAR < b.FAR
		}
		return a.Event.Stat > b.Event.Stat
	})
	return out
}

func comboSize(m *Statmap) int {
	if len(m.Foreground) > 0 {
		return len(m.Foreground[0].Detectors)
	}
	if len(m.Background) > 0 {
		return len(m.Background[0].Detectors)
	}
	// Two characters per detector name in the canonical key.
	return len(m.Combo) / 2
}

// excludeTemplate drops every background event of one template, the
// exclusive removal policy.
func excludeTemplate(pool []coinc.Event, templateID int) []coinc.Event {
	out := pool[:0]
	for _, e := range pool {
		if e.TemplateID != templateID {
			out = append(out, e)
		}
	}
	return out
}
