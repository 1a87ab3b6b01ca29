package statmap

import (
	"fmt"
	"math"
	"sort"
)

// Injection describes one simulated signal added to the foreground data.
type Injection struct {
	Time     float64
	Distance float64
	Mass1    float64
	Mass2    float64
}

func (inj Injection) chirpMass() float64 {
	return math.Pow(inj.Mass1*inj.Mass2, 3.0/5.0) / math.Pow(inj.Mass1+inj.Mass2, 1.0/5.0)
}

// SensitivityParams configures the found/missed classification and the
// volume estimate.
type SensitivityParams struct {
	// Tolerance is the maximum separation between an event time and an
	// injection time for the event to count as a true positive, seconds.
	Tolerance float64
	// Duration is the analyzed livetime used to convert louder-event counts
	// into rates; if zero it is inferred from the injection time span.
	Duration float64
	// ChirpDistance weights the volume estimate for injection sets drawn
	// uniformly in chirp distance rather than luminosity distance.
	ChirpDistance bool
}

// SensitivityPoint is the sensitive volume at one statistic threshold. The
// thresholds are the false-positive statistic values, so the points trace
// the sensitivity as a function of false-alarm rate.
type SensitivityPoint struct {
	Stat      float64
	FAR       float64
	Volume    float64
	VolumeErr float64
	Distance  float64
	Fraction  float64
}

// SensitivityResult classifies the search output against an injection set.
type SensitivityResult struct {
	// FoundStat maps injection index to the loudest true-positive
	// statistic associated with it.
	FoundStat map[int]float64
	// MissedIndices are injections with no associated true positive.
	MissedIndices  []int
	TruePositives  int
	FalsePositives int
	Curve          []SensitivityPoint
}

// EvaluateSensitivity classifies foreground events as true or false
// positives against the injection list and computes the sensitive volume
// and distance at each false-positive statistic threshold.
//
// Each event is paired with the closest injection in time; within the
// tolerance it is a true positive, otherwise a false positive whose
// statistic value contributes to the empirical false-alarm rate. The
// volume estimate assumes the injections sample distance uniformly in
// volume up to the loudest injected distance; with ChirpDistance set,
// injections are instead weighted by (M_max/M_c)^(5/2) to undo a
// uniform-in-chirp-distance draw.
func EvaluateSensitivity(events []RankedEvent, injections []Injection, p SensitivityParams) (*SensitivityResult, error) {
	if len(injections) == 0 {
		return nil, fmt.Errorf("statmap: no injections to evaluate against")
	}
	if p.Tolerance <= 0 {
		return nil, fmt.Errorf("statmap: non-positive injection time tolerance %g", p.Tolerance)
	}

	injTimes := make([]float64, len(injections))
	maxDistance := 0.0
	minT, maxT := math.Inf(1), math.Inf(-1)
	for i, inj := range injections {
		injTimes[i] = inj.Time
		if inj.Distance > maxDistance {
			maxDistance = inj.Distance
		}
		minT = math.Min(minT, inj.Time)
		maxT = math.Max(maxT, inj.Time)
	}
	order := make([]int, len(injections))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return injTimes[order[i]] < injTimes[order[j]] })
	sortedTimes := make([]float64, len(order))
	for i, idx := range order {
		sortedTimes[i] = injTimes[idx]
	}

	duration := p.Duration
	if duration <= 0 {
		duration = maxT - minT
	}
	if duration <= 0 {
		return nil, fmt.Errorf("statmap: cannot infer livetime from injection span")
	}

	res := &SensitivityResult{FoundStat: make(map[int]float64)}
	var falseStats []float64
	for _, ev := range events {
		idx := closestIndex(sortedTimes, ev.Event.Time)
		injIdx := order[idx]
		if math.Abs(sortedTimes[idx]-ev.Event.Time) <= p.Tolerance {
			res.TruePositives++
			if s, ok := res.FoundStat[injIdx]; !ok || ev.Event.Stat > s {
				res.FoundStat[injIdx] = ev.Event.Stat
			}
		} else {
			res.FalsePositives++
			falseStats = append(falseStats, ev.Event.Stat)
		}
	}
	for i := range injections {
		if _, ok := res.FoundStat[i]; !ok {
			res.MissedIndices = append(res.MissedIndices, i)
		}
	}
	sort.Float64s(falseStats)

	// One curve point per false-positive statistic threshold. With no false
	// positives a single point at threshold zero summarizes the search.
	thresholds := falseStats
	if len(thresholds) == 0 {
		thresholds = []float64{0}
	}

	vtot := (4.0 / 3.0) * math.Pi * maxDistance * maxDistance * maxDistance
	mcMax := 1.0
	if p.ChirpDistance {
		for _, inj := range injections {
			mcMax = math.Max(mcMax, inj.chirpMass())
		}
	}
	// Per-injection volume weight; unity for a uniform-in-volume draw,
	// (Mc/Mc_max)^(5/2) when the draw was uniform in chirp distance.
	weight := func(idx int) float64 {
		if !p.ChirpDistance {
			return 1
		}
		return math.Pow(injections[idx].chirpMass()/mcMax, 5.0/2.0)
	}
	nInj := float64(len(injections))
	nEff := 0.0
	for i := range injections {
		nEff += 1 / weight(i)
	}

	for i, thr := range thresholds {
		// Empirical FAR of this threshold: louder false positives per unit
		// livetime. The point itself counts toward its own rate.
		far := float64(len(thresholds)-i) / duration
		if len(falseStats) == 0 {
			far = 0
		}

		var sumW, sumW2 float64
		for idx, stat := range res.FoundStat {
			if stat <= thr {
				continue
			}
			w := weight(idx)
			sumW += w
			sumW2 += w * w
		}

		fraction := sumW / nInj
		variance := sumW2/nEff - (sumW/nEff)*(sumW/nEff)
		vol := vtot * fraction
		volErr := vtot / nInj * math.Sqrt(nEff*variance)
		res.Curve = append(res.Curve, SensitivityPoint{
			Stat:      thr,
			FAR:       far,
			Volume:    vol,
			VolumeErr: volErr,
			Distance:  math.Cbrt(3 * vol / (4 * math.Pi)),
			Fraction:  fraction,
		})
	}
	return res, nil
}

// closestIndex returns the index in a sorted slice whose value is nearest
// to v.
func closestIndex(sorted []float64, v float64) int {
	i := sort.SearchFloat64s(sorted, v)
	if i == 0 {
		return 0
	}
	if i == len(sorted) {
		return len(sorted) - 1
	}
	if v-sorted[i-1] <= sorted[i]-v {
		return i - 1
	}
	return i
}
