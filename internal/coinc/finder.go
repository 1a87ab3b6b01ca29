package coinc

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/gwsearch/internal/fitstat"
	"github.com/banshee-data/gwsearch/internal/monitoring"
	"github.com/banshee-data/gwsearch/internal/strain"
	"github.com/banshee-data/gwsearch/internal/triggers"
)

// State tracks the finder through one analysis epoch.
type State int

const (
	StateCollecting State = iota
	StateTimeSliding
	StateMatching
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateTimeSliding:
		return "timesliding"
	case StateMatching:
		return "matching"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config controls coincidence formation for one epoch.
type Config struct {
	// Detectors participating in the epoch, e.g. {"H1", "L1", "V1"}.
	Detectors []string
	// CoincThreshold is the timing tolerance added to the light travel
	// time of each pair, in seconds.
	CoincThreshold float64
	// TimeslideInterval is the background trial spacing in seconds.
	TimeslideInterval float64
	// NumSlides is the number of background slides in each direction;
	// slide 0 is always the zero-lag foreground.
	NumSlides int
	// LoudestKeepPos and LoudestKeepNeg cap how many coincidences are
	// retained per combination per slide, for positive and negative slide
	// offsets respectively. The caps may differ; zero means unlimited.
	// Slide 0 (foreground) is never truncated.
	LoudestKeepPos int
	LoudestKeepNeg int
	// Rank tunes the combined statistic.
	Rank RankParams
}

// Event is one coincident event: a tuple of triggers, one per participating
// detector, with the combined ranking statistic.
type Event struct {
	Slide      int
	Detectors  []string // canonical order, matches Triggers
	Triggers   []triggers.Trigger
	TemplateID int
	// Time is the trigger time in the first (canonical) detector.
	Time float64
	Stat float64
}

// RetentionOverflowError reports that a slide produced more coincidences
// than the retention cap. Recovered by truncation to the loudest; a
// warning, never an abort.
type RetentionOverflowError struct {
	Combo string
	Slide int
	Found int
	Kept  int
}

func (e *RetentionOverflowError) Error() string {
	return fmt.Sprintf("%s slide %d: %d coincidences found, kept loudest %d",
		e.Combo, e.Slide, e.Found, e.Kept)
}

// Results holds the coincident events grouped by detector combination.
type Results struct {
	ByCombo  map[string][]Event
	Warnings []error
}

// Finder runs the coincidence state machine for one analysis epoch.
// Not safe for concurrent use; the pipeline owns one per epoch.
type Finder struct {
	cfg   Config
	epoch strain.Segment
	state State
	trigs map[string][]triggers.Trigger
}

// NewFinder creates a finder in the Collecting state.
func NewFinder(cfg Config, epoch strain.Segment) *Finder {
	return &Finder{
		cfg:   cfg,
		epoch: epoch,
		state: StateCollecting,
		trigs: make(map[string][]triggers.Trigger),
	}
}

// State returns the current state.
func (f *Finder) State() State { return f.state }

// Add appends one detector's triggers for the epoch. Only legal while
// collecting. A detector that never reports simply contributes nothing:
// combinations requiring it yield zero coincidences.
func (f *Finder) Add(detector string, trigs []triggers.Trigger) error {
	if f.state != StateCollecting {
		return fmt.Errorf("coinc: Add in state %s", f.state)
	}
	known := false
	for _, d := range f.cfg.Detectors {
		if d == detector {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("coinc: detector %s not configured for this epoch", detector)
	}
	f.trigs[detector] = append(f.trigs[detector], trigs...)
	return nil
}

// byTemplate groups and time-sorts one detector's triggers.
func byTemplate(trigs []triggers.Trigger) map[int][]triggers.Trigger {
	out := make(map[int][]triggers.Trigger)
	for _, t := range trigs {
		out[t.TemplateID] = append(out[t.TemplateID], t)
	}
	for id := range out {
		sort.Slice(out[id], func(i, j int) bool { return out[id][i].Time < out[id][j].Time })
	}
	return out
}

// shifted returns a copy of triggers with the slide offset applied modulo
// the epoch duration, re-sorted by time. Shifting by a full epoch duration
// reproduces the zero-lag alignment.
func (f *Finder) shifted(trigs []triggers.Trigger, shift float64) []triggers.Trigger {
	if shift == 0 {
		return trigs
	}
	dur := f.epoch.Duration()
	out := make([]triggers.Trigger, len(trigs))
	copy(out, trigs)
	for i := range out {
		t := math.Mod(out[i].Time-f.epoch.Start+shift, dur)
		if t < 0 {
			t += dur
		}
		out[i].Time = f.epoch.Start + t
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// Run drives the state machine to completion: TimeSliding generates the
// shifted trigger streams, Matching forms coincidences for every slide and
// combination, applying the retention caps.
func (f *Finder) Run(fits fitstat.Multi) (*Results, error) {
	if f.state != StateCollecting {
		return nil, fmt.Errorf("coinc: Run in state %s", f.state)
	}

	f.state = StateTimeSliding
	byDet := make(map[string]map[int][]triggers.Trigger, len(f.cfg.Detectors))
	dets := make([]string, len(f.cfg.Detectors))
	copy(dets, f.cfg.Detectors)
	sort.Strings(dets)
	for _, d := range dets {
		byDet[d] = byTemplate(f.trigs[d])
	}

	f.state = StateMatching
	res := &Results{ByCombo: make(map[string][]Event)}
	combos := Combinations(dets)
	for _, combo := range combos {
		res.ByCombo[ComboKey(combo)] = nil
	}

	for slide := -f.cfg.NumSlides; slide <= f.cfg.NumSlides; slide++ {
		// Detector index scales the shift so every pair of streams moves
		// relative to every other; the first (reference) detector is fixed.
		shiftOf := func(det string) float64 {
			for i, d := range dets {
				if d == det {
					return float64(slide) * f.cfg.TimeslideInterval * float64(i)
				}
			}
			return 0
		}

		slid := make(map[string]map[int][]triggers.Trigger, len(dets))
		for _, d := range dets {
			shift := shiftOf(d)
			slid[d] = make(map[int][]triggers.Trigger)
			for id, ts := range byDet[d] {
				slid[d][id] = f.shifted(ts, shift)
			}
		}

		for _, combo := range combos {
			events := f.matchCombo(combo, slid, slide, fits)
			if len(events) == 0 {
				continue
			}
			keep := f.cfg.LoudestKeepPos
			if slide < 0 {
				keep = f.cfg.LoudestKeepNeg
			}
			if slide != 0 && keep > 0 && len(events) > keep {
				sort.Slice(events, func(i, j int) bool { return events[i].Stat > events[j].Stat })
				warn := &RetentionOverflowError{Combo: ComboKey(combo), Slide: slide, Found: len(events), Kept: keep}
				res.Warnings = append(res.Warnings, warn)
				monitoring.Logf("coinc: %v", warn)
				events = events[:keep]
			}
			key := ComboKey(combo)
			res.ByCombo[key] = append(res.ByCombo[key], events...)
		}
	}

	f.state = StateDone
	return res, nil
}

// matchCombo forms coincidences for one detector combination at one slide.
func (f *Finder) matchCombo(combo []string, slid map[string]map[int][]triggers.Trigger, slide int, fits fitstat.Multi) []Event {
	ref := combo[0]
	var events []Event

	for tmplID, refTrigs := range slid[ref] {
		for _, rt := range refTrigs {
			tuple := []triggers.Trigger{rt}
			ok := true
			for _, det := range combo[1:] {
				match, found := f.closestInWindow(rt, slid[det][tmplID], det)
				if !found {
					ok = false
					break
				}
				tuple = append(tuple, match)
			}
			if !ok {
				continue
			}
			// For triples, the non-reference pair must also be consistent.
			if len(tuple) == 3 {
				travel, err := TravelTime(tuple[1].Detector, tuple[2].Detector)
				if err != nil || math.Abs(tuple[1].Time-tuple[2].Time) > travel+f.cfg.CoincThreshold {
					continue
				}
			}
			events = append(events, Event{
				Slide:      slide,
				Detectors:  append([]string(nil), combo...),
				Triggers:   tuple,
				TemplateID: tmplID,
				Time:       rt.Time,
				Stat:       Rank(tuple, fits, f.cfg.Rank),
			})
		}
	}
	return events
}

// closestInWindow finds the loudest trigger within the coincidence window
// of the reference trigger in a time-sorted slice.
func (f *Finder) closestInWindow(ref triggers.Trigger, cands []triggers.Trigger, det string) (triggers.Trigger, bool) {
	if len(cands) == 0 {
		return triggers.Trigger{}, false
	}
	travel, err := TravelTime(ref.Detector, det)
	if err != nil {
		return triggers.Trigger{}, false
	}
	window := travel + f.cfg.CoincThreshold

	lo := sort.Search(len(cands), func(i int) bool { return cands[i].Time >= ref.Time-window })
	best := triggers.Trigger{}
	found := false
	for i := lo; i < len(cands) && cands[i].Time <= ref.Time+window; i++ {
		if !found || cands[i].NewSNR > best.NewSNR {
			best, found = cands[i], true
		}
	}
	return best, found
}
