package mf

import (
	"math"
	"math/cmplx"
)

// sgPlacements are the veto centre frequencies as multiples of the template
// final frequency. Power there belongs to no inspiral that ends at the
// template's ISCO, so a loud response marks a scattering-style glitch.
var sgPlacements = []float64{1.1, 1.25, 1.4}

// SGChisq computes the sine-Gaussian veto at SNR sample i. Active only for
// templates at or above the configured total-mass bucket; inactive templates
// report 1 (neutral). The value is the loudest reduced (2 degrees of
// freedom) single sine-Gaussian SNR above the template's final frequency.
func (r *Result) SGChisq(i int) float64 {
	e := r.engine
	if e.params.SGMassThreshold <= 0 || r.Template.TotalMass() < e.params.SGMassThreshold {
		return 1
	}
	q := e.params.SGVetoQ
	if q <= 0 {
		return 1
	}

	fFinal := r.Template.FinalFrequency()
	nyquist := e.sampleRate / 2
	nbins := e.n/2 + 1
	phase := 2 * math.Pi * float64(i) / float64(e.n)

	worst := 1.0
	for _, mult := range sgPlacements {
		f0 := fFinal * mult
		if f0 >= 0.9*nyquist {
			continue
		}

		// Gaussian frequency profile of width f0/q around the placement.
		sigmaF := f0 / q
		var num complex128
		var den float64
		kLo := int((f0 - 4*sigmaF) / e.deltaF)
		kHi := int((f0+4*sigmaF)/e.deltaF) + 1
		if kLo < 0 {
			kLo = 0
		}
		if kHi > nbins {
			kHi = nbins
		}
		for k := kLo; k < kHi; k++ {
			w := r.seg.Weight[k]
			if w == 0 {
				continue
			}
			f := float64(k) * e.deltaF
			g := math.Exp(-(f - f0) * (f - f0) / (2 * sigmaF * sigmaF))
			num += r.seg.FD[k] * complex(g*w, 0) * cmplx.Exp(complex(0, phase*float64(k)))
			den += g * g * w
		}
		if den == 0 {
			continue
		}
		sigmaG := math.Sqrt(4 * e.deltaF * den)
		z := 4 * e.deltaF * cmplx.Abs(num) / sigmaG
		if v := z * z / 2; v > worst {
			worst = v
		}
	}
	return worst
}
