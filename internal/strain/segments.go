package strain

import (
	"fmt"
	"math"
	"sort"
)

// Segment is a half-open GPS time interval [Start, End).
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 { return s.End - s.Start }

// Contains reports whether GPS time t falls inside the segment.
func (s Segment) Contains(t float64) bool { return t >= s.Start && t < s.End }

// Intersect returns the overlap of two segments, if any.
func (s Segment) Intersect(o Segment) (Segment, bool) {
	out := Segment{Start: math.Max(s.Start, o.Start), End: math.Min(s.End, o.End)}
	if out.End <= out.Start {
		return Segment{}, false
	}
	return out, true
}

// SegmentList is an ordered set of segments. Use Normalize to restore the
// sorted, non-overlapping invariant after ad-hoc construction.
type SegmentList []Segment

// Normalize sorts the list and merges overlapping or touching segments.
func (l SegmentList) Normalize() SegmentList {
	if len(l) == 0 {
		return nil
	}
	sorted := make(SegmentList, len(l))
	copy(sorted, l)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := SegmentList{sorted[0]}
	for _, s := range sorted[1:] {
		last := &out[len(out)-1]
		if s.Start <= last.End {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// Intersect returns the overlap of two normalized lists.
func (l SegmentList) Intersect(o SegmentList) SegmentList {
	var out SegmentList
	i, j := 0, 0
	for i < len(l) && j < len(o) {
		if seg, ok := l[i].Intersect(o[j]); ok {
			out = append(out, seg)
		}
		if l[i].End < o[j].End {
			i++
		} else {
			j++
		}
	}
	return out
}

// Subtract removes the coverage of o from l. Both lists must be normalized.
func (l SegmentList) Subtract(o SegmentList) SegmentList {
	var out SegmentList
	for _, s := range l {
		remaining := []Segment{s}
		for _, v := range o {
			var next []Segment
			for _, r := range remaining {
				if v.End <= r.Start || v.Start >= r.End {
					next = append(next, r)
					continue
				}
				if v.Start > r.Start {
					next = append(next, Segment{Start: r.Start, End: v.Start})
				}
				if v.End < r.End {
					next = append(next, Segment{Start: v.End, End: r.End})
				}
			}
			remaining = next
		}
		out = append(out, remaining...)
	}
	return out
}

// TotalDuration returns the summed length of all segments.
func (l SegmentList) TotalDuration() float64 {
	var d float64
	for _, s := range l {
		d += s.Duration()
	}
	return d
}

// DataGapError reports a science segment too short to analyse. The segment
// is skipped; the error is not fatal to the run.
type DataGapError struct {
	Detector string
	Segment  Segment
	Need     float64 // minimum analysis length, seconds
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("%s: science segment [%f, %f) is %fs, need %fs",
		e.Detector, e.Segment.Start, e.Segment.End, e.Segment.Duration(), e.Need)
}

// PlanParams controls how science time is cut into analysis segments.
type PlanParams struct {
	// SegmentLength is the full analysis segment duration in seconds,
	// including both pads.
	SegmentLength float64
	// StartPad and EndPad are excluded from trigger generation to avoid
	// filter wrap-around artifacts.
	StartPad float64
	EndPad   float64
	// MinAnalysisLength is the shortest acceptable science stretch in
	// seconds. Shorter stretches produce a DataGapError.
	MinAnalysisLength float64
	// SampleRate resolves the acceptance boundary at sample granularity.
	SampleRate float64
}

// AnalysisSegment is one unit of filtering work for one detector.
type AnalysisSegment struct {
	Detector string
	// Full is the span that is filtered, pads included.
	Full Segment
	// Valid is the span within Full where triggers may be generated.
	Valid Segment
}

// PlanSegments intersects the science list with the analysis range and cuts
// it into overlapping analysis segments. Science stretches shorter than the
// minimum are reported as DataGapErrors and skipped; they never abort
// planning. A stretch of exactly MinAnalysisLength (to the sample) is
// accepted.
func PlanSegments(detector string, science SegmentList, analysis Segment, p PlanParams) ([]AnalysisSegment, []error) {
	var segs []AnalysisSegment
	var errs []error

	// Step so consecutive valid regions tile the science stretch. A
	// non-positive step would never advance.
	step := p.SegmentLength - p.StartPad - p.EndPad
	if step <= 0 {
		return nil, []error{fmt.Errorf("segment pads (%g s) leave no step in a %g s segment",
			p.StartPad+p.EndPad, p.SegmentLength)}
	}

	needSamples := int(math.Round(p.MinAnalysisLength * p.SampleRate))
	usable := science.Normalize().Intersect(SegmentList{analysis})

	for _, sci := range usable {
		haveSamples := int(math.Round(sci.Duration() * p.SampleRate))
		if haveSamples < needSamples {
			errs = append(errs, &DataGapError{Detector: detector, Segment: sci, Need: p.MinAnalysisLength})
			continue
		}

		for start := sci.Start; start+p.MinAnalysisLength <= sci.End; start += step {
			full := Segment{Start: start, End: start + p.SegmentLength}
			if full.End > sci.End {
				// Final segment is pinned to the end of science time so the
				// filter always sees a full-length stretch.
				full = Segment{Start: sci.End - p.SegmentLength, End: sci.End}
				if full.Start < sci.Start {
					full.Start = sci.Start
				}
			}
			valid := Segment{Start: full.Start + p.StartPad, End: full.End - p.EndPad}
			if len(segs) > 0 && segs[len(segs)-1].Detector == detector {
				// Avoid double-counting trigger time across the overlap.
				prev := segs[len(segs)-1].Valid.End
				if valid.Start < prev {
					valid.Start = prev
				}
			}
			if valid.End > valid.Start {
				segs = append(segs, AnalysisSegment{Detector: detector, Full: full, Valid: valid})
			}
			if full.End >= sci.End {
				break
			}
		}
	}
	return segs, errs
}
