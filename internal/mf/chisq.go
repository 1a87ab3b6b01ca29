package mf

import (
	"math"
	"math/cmplx"
)

// ReducedChisq computes the power chi-square at SNR sample i: the template
// band is split into equal-power sub-bands, each sub-band's SNR contribution
// is compared with its expected share, and the mismatch is reduced by the
// 2p-2 degrees of freedom. Gaussian noise and a matching signal both give
// values near one; glitches that pile power into a few bands give large
// values.
func (r *Result) ReducedChisq(i int) float64 {
	p := r.engine.params.ChisqBins
	if p < 2 {
		return 1
	}
	if math.Abs(cmplx.Abs(r.SNR[i])) < r.engine.params.ChisqSNRThreshold {
		return 1
	}

	e := r.engine
	nbins := e.n/2 + 1

	// Cumulative template power per bin sets the sub-band edges.
	var total float64
	power := make([]float64, nbins)
	for k := 0; k < nbins; k++ {
		if r.waveform[k] == 0 || r.seg.Weight[k] == 0 {
			continue
		}
		hv := r.waveform[k]
		power[k] = (real(hv)*real(hv) + imag(hv)*imag(hv)) * r.seg.Weight[k]
		total += power[k]
	}
	if total == 0 {
		return 1
	}

	rho := r.SNR[i]
	phase := 2 * math.Pi * float64(i) / float64(e.n)
	norm := complex(4*e.deltaF/r.Sigma, 0)

	var chisq float64
	var cum float64
	bin := 0
	var sub complex128
	expected := rho / complex(float64(p), 0)
	for k := 0; k < nbins && bin < p; k++ {
		if power[k] != 0 {
			y := r.seg.FD[k] * cmplx.Conj(r.waveform[k]) * complex(r.seg.Weight[k], 0)
			sub += y * cmplx.Exp(complex(0, phase*float64(k)))
			cum += power[k]
		}
		if cum >= total*float64(bin+1)/float64(p) || k == nbins-1 {
			d := sub*norm - expected
			chisq += real(d)*real(d) + imag(d)*imag(d)
			sub = 0
			bin++
		}
	}

	return chisq * float64(p) / float64(2*p-2)
}
