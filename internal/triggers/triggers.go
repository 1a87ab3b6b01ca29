// Package triggers turns SNR time series into discrete single-detector
// triggers: re-weighting by the signal-based vetoes, thresholding, and
// symmetric clustering.
package triggers

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/banshee-data/gwsearch/internal/mf"
	"github.com/banshee-data/gwsearch/internal/strain"
)

// Trigger is a single-detector candidate event.
type Trigger struct {
	Detector   string  `json:"detector"`
	TemplateID int     `json:"template_id"`
	Time       float64 `json:"time"` // GPS seconds of the SNR peak
	SNR        float64 `json:"snr"`
	Phase      float64 `json:"phase"`
	// NewSNR is the re-weighted ranking value after all vetoes.
	NewSNR       float64 `json:"newsnr"`
	ReducedChisq float64 `json:"chisq"`
	SGChisq      float64 `json:"sg_chisq"`
	PSDVar       float64 `json:"psd_var"`
}

// ScanParams controls thresholding and clustering.
type ScanParams struct {
	// SNRThreshold gates the raw SNR magnitude.
	SNRThreshold float64
	// NewSNRThreshold gates the re-weighted SNR.
	NewSNRThreshold float64
	// ClusterWindow is the symmetric deduplication radius in seconds.
	ClusterWindow float64
	// SGVetoThreshold is the sine-Gaussian value above which the ranking
	// is downweighted.
	SGVetoThreshold float64
}

// DefaultScanParams mirrors the production search settings.
func DefaultScanParams() ScanParams {
	return ScanParams{
		SNRThreshold:    4.5,
		NewSNRThreshold: 4.5,
		ClusterWindow:   1.0,
		SGVetoThreshold: 4.0,
	}
}

// NewSNR re-weights the SNR magnitude by the reduced chi-square. Values at
// or below one leave the SNR untouched.
func NewSNR(snr, reducedChisq float64) float64 {
	if reducedChisq <= 1 {
		return snr
	}
	return snr * math.Pow((1+math.Pow(reducedChisq, 3))/2, -1.0/6.0)
}

// ApplySGVeto downweights the ranking when the sine-Gaussian veto fires.
func ApplySGVeto(stat, sg, threshold float64) float64 {
	if threshold <= 0 || sg <= threshold {
		return stat
	}
	return stat * math.Sqrt(threshold/sg)
}

// ApplyPSDVar divides the ranking by the square root of the PSD-variation
// statistic when the local noise floor is elevated.
func ApplyPSDVar(stat, psdVar float64) float64 {
	if psdVar <= 1 {
		return stat
	}
	return stat / math.Sqrt(psdVar)
}

// Scan thresholds and clusters one SNR series into triggers. Only samples
// inside the valid (unpadded) span are eligible. psdVar may be nil when the
// variation statistic is disabled.
//
// Clustering is symmetric: a sample survives only if it is the maximum
// re-weighted SNR within a centred window of ClusterWindow seconds. Equal
// values are broken by earliest time, so the result is deterministic.
func Scan(res *mf.Result, detector string, valid strain.Segment, psdVar []float64, p ScanParams) []Trigger {
	lo := res.SampleAt(valid.Start)
	hi := res.SampleAt(valid.End)
	if lo < 0 {
		lo = 0
	}
	if hi > len(res.SNR) {
		hi = len(res.SNR)
	}

	// Pass 1: raw SNR threshold.
	type candidate struct {
		idx int
		t   Trigger
	}
	var cands []candidate
	for i := lo; i < hi; i++ {
		rho := cmplx.Abs(res.SNR[i])
		if rho < p.SNRThreshold {
			continue
		}
		cands = append(cands, candidate{idx: i, t: Trigger{
			Detector:   detector,
			TemplateID: res.Template.ID,
			Time:       res.TimeOf(i),
			SNR:        rho,
			Phase:      cmplx.Phase(res.SNR[i]),
		}})
	}
	if len(cands) == 0 {
		return nil
	}

	// Pass 2: vetoes and re-weighting, computed only at candidates.
	for c := range cands {
		t := &cands[c].t
		t.ReducedChisq = res.ReducedChisq(cands[c].idx)
		t.SGChisq = res.SGChisq(cands[c].idx)
		t.PSDVar = 1
		if psdVar != nil {
			t.PSDVar = psdVar[cands[c].idx]
		}
		stat := NewSNR(t.SNR, t.ReducedChisq)
		stat = ApplySGVeto(stat, t.SGChisq, p.SGVetoThreshold)
		stat = ApplyPSDVar(stat, t.PSDVar)
		t.NewSNR = stat
	}

	// Pass 3: re-weighted threshold.
	kept := cands[:0]
	for _, c := range cands {
		if c.t.NewSNR >= p.NewSNRThreshold {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	// Pass 4: symmetric clustering.
	var out []Trigger
	for i, c := range kept {
		best := true
		for j := i - 1; j >= 0; j-- {
			if c.t.Time-kept[j].t.Time > p.ClusterWindow {
				break
			}
			// An earlier equal or louder neighbour wins.
			if kept[j].t.NewSNR >= c.t.NewSNR {
				best = false
				break
			}
		}
		if !best {
			continue
		}
		for j := i + 1; j < len(kept); j++ {
			if kept[j].t.Time-c.t.Time > p.ClusterWindow {
				break
			}
			// A later neighbour must be strictly louder to displace us.
			if kept[j].t.NewSNR > c.t.NewSNR {
				best = false
				break
			}
		}
		if best {
			out = append(out, c.t)
		}
	}
	return out
}

// SortByTime orders triggers by time, then template, for deterministic
// downstream processing.
func SortByTime(trigs []Trigger) {
	sort.Slice(trigs, func(i, j int) bool {
		if trigs[i].Time != trigs[j].Time {
			return trigs[i].Time < trigs[j].Time
		}
		return trigs[i].TemplateID < trigs[j].TemplateID
	})
}
