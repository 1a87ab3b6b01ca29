package coinc

import (
	"math"

	"github.com/banshee-data/gwsearch/internal/fitstat"
	"github.com/banshee-data/gwsearch/internal/triggers"
)

// RankParams configures the combined ranking statistic.
type RankParams struct {
	// TimeSigma scales the arrival-time consistency term, seconds.
	TimeSigma float64
	// PhaseSigma scales the phase consistency term, radians.
	PhaseSigma float64
	// AmpSigma scales the relative SNR consistency term, in log units.
	AmpSigma float64
}

// DefaultRankParams mirrors the production statistic tuning.
func DefaultRankParams() RankParams {
	return RankParams{TimeSigma: 0.005, PhaseSigma: 1.2, AmpSigma: 0.5}
}

// Rank computes the combined ranking statistic for a set of coincident
// triggers: the quadrature-combined re-weighted SNRs, a time/phase/
// amplitude consistency term over each detector pair, and a normalization
// by the fitted per-template noise rates so a loud template is not ranked
// like a quiet one.
//
// Larger values are more significant. The statistic is expressed on an
// effective-SNR scale so thresholds are comparable to single-detector SNR.
func Rank(trigs []triggers.Trigger, fits fitstat.Multi, p RankParams) float64 {
	if len(trigs) < 2 {
		return 0
	}

	var quad float64
	for _, t := range trigs {
		quad += t.NewSNR * t.NewSNR
	}

	// Noise-rate normalization from the exponential fits. The reference
	// subtraction keeps the statistic near the quadrature sum when every
	// detector sits exactly at its fit threshold.
	var logRate float64
	for _, t := range trigs {
		set, ok := fits[t.Detector]
		if !ok {
			continue
		}
		logRate += set.LogNoiseRate(t.TemplateID, t.NewSNR) - set.LogNoiseRate(t.TemplateID, set.Threshold)
	}

	// Pairwise signal consistency. A real signal has arrival times within
	// the light travel time, correlated phases, and comparable amplitudes;
	// noise coincidences scatter uniformly.
	var consistency float64
	for i := 0; i < len(trigs); i++ {
		for j := i + 1; j < len(trigs); j++ {
			a, b := trigs[i], trigs[j]
			travel, err := TravelTime(a.Detector, b.Detector)
			if err != nil {
				continue
			}
			dt := math.Abs(a.Time - b.Time)
			if excess := dt - travel; excess > 0 {
				consistency += (excess / p.TimeSigma) * (excess / p.TimeSigma)
			}
			dphi := math.Abs(math.Mod(a.Phase-b.Phase+3*math.Pi, 2*math.Pi) - math.Pi)
			consistency += (dphi / p.PhaseSigma) * (dphi / p.PhaseSigma) / 4
			damp := math.Log(a.NewSNR / b.NewSNR)
			consistency += (damp / p.AmpSigma) * (damp / p.AmpSigma) / 4
		}
	}

	v := quad - 2*logRate - consistency
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
