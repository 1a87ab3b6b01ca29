package psd

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// InverseSpectrumTruncation bounds the effective length of the inverse-PSD
// whitening filter to maxFilterLen time samples. The inverse amplitude
// spectrum is taken to the time domain, zeroed outside the allowed filter
// span, Hann-tapered at the retained wings, and returned to the frequency
// domain. Content below lowCutoff keeps zero weight.
func (p *PSD) InverseSpectrumTruncation(maxFilterLen int, lowCutoff float64) *PSD {
	nbins := len(p.Data)
	n := 2 * (nbins - 1)
	if maxFilterLen <= 0 || maxFilterLen >= n {
		return p.Copy()
	}

	kmin := int(math.Ceil(lowCutoff / p.DeltaF))

	invASD := make([]complex128, nbins)
	for k := kmin; k < nbins; k++ {
		if p.Data[k] > 0 {
			invASD[k] = complex(1/math.Sqrt(p.Data[k]), 0)
		}
	}

	fft := fourier.NewFFT(n)
	q := fft.Sequence(nil, invASD)
	for i := range q {
		q[i] /= float64(n) // Sequence is unnormalized
	}

	// The filter impulse response is split across the start and end of the
	// buffer (it is symmetric about t=0). Keep half the allowed length on
	// each side, taper, and zero the rest.
	half := maxFilterLen / 2
	taper := hann(2 * half)
	for i := 0; i < half; i++ {
		q[half-1-i] *= taper[i] // falling edge of the leading wing
		q[n-half+i] *= taper[i] // rising edge of the trailing wing
	}
	for i := half; i < n-half; i++ {
		q[i] = 0
	}

	coeffs := fft.Coefficients(nil, q)
	out := &PSD{DeltaF: p.DeltaF, Data: make([]float64, nbins)}
	for k := kmin; k < nbins; k++ {
		m := real(coeffs[k])*real(coeffs[k]) + imag(coeffs[k])*imag(coeffs[k])
		if m > 0 {
			out.Data[k] = 1 / m
		}
	}
	return out
}
