package mf

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/banshee-data/gwsearch/internal/psd"
	"github.com/banshee-data/gwsearch/internal/strain"
)

// PSDVarParams configures the PSD-variation statistic.
type PSDVarParams struct {
	// Short is the averaging window in seconds for the local power estimate.
	Short float64
	// BandLow and BandHigh bound the band whose power is tracked.
	BandLow  float64
	BandHigh float64
}

// DefaultPSDVarParams mirrors the production settings.
func DefaultPSDVarParams() PSDVarParams {
	return PSDVarParams{Short: 8, BandLow: 20, BandHigh: 240}
}

// PSDVariation measures local noise non-stationarity per time sample: the
// band-limited whitened power averaged over a short window, normalized by
// the segment-wide mean so quiet data sits at one. Triggers read the value
// at their peak sample; the ranking statistic downweights values above one.
func PSDVariation(ts *strain.TimeSeries, spec *psd.PSD, p PSDVarParams) ([]float64, error) {
	n := len(ts.Data)
	if n%2 != 0 {
		return nil, fmt.Errorf("psdvar: series length %d must be even", n)
	}
	deltaF := ts.SampleRate / float64(n)
	nbins := n/2 + 1
	interp := spec
	if spec.DeltaF != deltaF || spec.Len() != nbins {
		interp = spec.Interpolate(deltaF, nbins)
	}

	rfft := fourier.NewFFT(n)
	cfft := fourier.NewCmplxFFT(n)

	fd := rfft.Coefficients(nil, ts.Data)
	y := make([]complex128, n)
	kLo := int(math.Ceil(p.BandLow / deltaF))
	kHi := int(math.Floor(p.BandHigh / deltaF))
	if kHi >= nbins {
		kHi = nbins - 1
	}
	for k := kLo; k <= kHi; k++ {
		if interp.Data[k] > 0 {
			y[k] = fd[k] * complex(1/math.Sqrt(interp.Data[k]), 0)
		}
	}

	// Analytic band-limited whitened signal; |.|^2 is instantaneous power.
	z := cfft.Sequence(nil, y)
	power := make([]float64, n)
	for i := range z {
		a := cmplx.Abs(z[i])
		power[i] = a * a
	}

	// Moving average over the short window via a running sum.
	w := int(p.Short * ts.SampleRate)
	if w < 1 {
		w = 1
	}
	out := make([]float64, n)
	var running float64
	for i := 0; i < n; i++ {
		running += power[i]
		if i >= w {
			running -= power[i-w]
		}
		span := w
		if i < w {
			span = i + 1
		}
		out[i] = running / float64(span)
	}

	var mean float64
	for _, v := range out {
		mean += v
	}
	mean /= float64(n)
	if mean == 0 {
		return out, nil
	}
	for i := range out {
		out[i] /= mean
	}
	return out, nil
}
