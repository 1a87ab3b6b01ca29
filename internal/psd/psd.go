// Package psd estimates one-sided power spectral densities from strain and
// conditions them for matched filtering (inverse spectrum truncation,
// interpolation, whitening).
//
// Estimates are immutable once returned: the matched-filter engine consumes
// them read-only and every conditioning step returns a new PSD.
package psd

import (
	"fmt"
	"math"
)

// PSD is a one-sided noise power spectrum on a regular frequency grid.
// Data[k] is the power at frequency k*DeltaF; bins with zero value carry no
// weight downstream (treated as infinitely noisy).
type PSD struct {
	DeltaF float64
	Data   []float64
}

// Len returns the number of frequency bins.
func (p *PSD) Len() int { return len(p.Data) }

// Nyquist returns the highest frequency on the grid.
func (p *PSD) Nyquist() float64 { return float64(len(p.Data)-1) * p.DeltaF }

// FrequencyAt returns the frequency of bin k.
func (p *PSD) FrequencyAt(k int) float64 { return float64(k) * p.DeltaF }

// Copy returns a deep copy.
func (p *PSD) Copy() *PSD {
	out := &PSD{DeltaF: p.DeltaF, Data: make([]float64, len(p.Data))}
	copy(out.Data, p.Data)
	return out
}

// Interpolate resamples the spectrum linearly onto a grid of n bins spaced
// deltaF. Frequencies beyond the source Nyquist are zero.
func (p *PSD) Interpolate(deltaF float64, n int) *PSD {
	out := &PSD{DeltaF: deltaF, Data: make([]float64, n)}
	for k := 0; k < n; k++ {
		f := float64(k) * deltaF
		x := f / p.DeltaF
		i := int(math.Floor(x))
		if i >= len(p.Data)-1 {
			if i == len(p.Data)-1 && x == float64(i) {
				out.Data[k] = p.Data[i]
			}
			continue
		}
		frac := x - float64(i)
		out.Data[k] = p.Data[i]*(1-frac) + p.Data[i+1]*frac
	}
	return out
}

// EstimationError reports that a segment could not supply the configured
// number of sub-segments. It is fatal for that detector/segment only;
// downstream coincidence degrades to the remaining detectors.
type EstimationError struct {
	Detector string
	Have     int
	Need     int
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("%s: insufficient data for PSD estimate: %d sub-segments available, need %d",
		e.Detector, e.Have, e.Need)
}

// medianBias returns the expectation of the median of n independent
// exponentially distributed bins relative to the mean, used to debias the
// median-combined spectrum. n must be odd.
func medianBias(n int) float64 {
	var b float64
	for i := 1; i <= n; i++ {
		if i%2 == 1 {
			b += 1.0 / float64(i)
		} else {
			b -= 1.0 / float64(i)
		}
	}
	return b
}
