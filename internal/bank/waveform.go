package bank

import (
	"math"
	"math/cmplx"
)

// Waveform generates the frequency-domain template on a grid of n bins
// spaced deltaF, using the stationary phase approximation at leading
// (Newtonian) order. Bins below fLow and above the ISCO frequency are zero.
// The overall amplitude scale is arbitrary; matched filtering normalizes by
// sigma, so only the shape matters.
func (t Template) Waveform(n int, deltaF, fLow float64) []complex128 {
	h := make([]complex128, n)
	mcSec := t.ChirpMass() * MTSun
	fHigh := t.FinalFrequency()

	kmin := int(math.Ceil(fLow / deltaF))
	if kmin < 1 {
		kmin = 1
	}
	kmax := int(math.Floor(fHigh / deltaF))
	if kmax >= n {
		kmax = n - 1
	}

	ampScale := math.Pow(mcSec, 5.0/6.0)
	for k := kmin; k <= kmax; k++ {
		f := float64(k) * deltaF
		amp := ampScale * math.Pow(f, -7.0/6.0)
		// Newtonian SPA phase; coalescence time and phase are zero so the
		// filter output peaks at the signal's merger time.
		psi := 3.0/128.0*math.Pow(math.Pi*mcSec*f, -5.0/3.0) - math.Pi/4
		h[k] = complex(amp, 0) * cmplx.Exp(complex(0, -psi))
	}
	return h
}

// Duration estimates the time the template spends above fLow, from the
// Newtonian chirp time. Used to size analysis segment pads.
func (t Template) Duration(fLow float64) float64 {
	mcSec := t.ChirpMass() * MTSun
	return 5.0 / 256.0 * mcSec * math.Pow(math.Pi*mcSec*fLow, -8.0/3.0)
}
