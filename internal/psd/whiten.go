package psd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/banshee-data/gwsearch/internal/strain"
)

// WhitenParams configures strain whitening by the truncated inverse PSD.
type WhitenParams struct {
	// MaxFilterDuration bounds the whitening filter length in seconds.
	MaxFilterDuration float64
	// LowFrequencyCutoff excludes content below this frequency.
	LowFrequencyCutoff float64
	// RemoveCorrupted excises the half-filter-length regions at both ends
	// that are contaminated by filter wrap-around.
	RemoveCorrupted bool
}

// Whiten divides the series by the amplitude spectral density in the
// frequency domain, using the supplied PSD truncated to the configured
// filter length. If p is nil the PSD is estimated from the series itself.
func Whiten(ts *strain.TimeSeries, p *PSD, params WhitenParams, est EstimateParams) (*strain.TimeSeries, error) {
	n := len(ts.Data)
	if n%2 != 0 {
		return nil, fmt.Errorf("whiten: series length %d must be even", n)
	}

	if p == nil {
		var err error
		p, err = Estimate(ts, est)
		if err != nil {
			return nil, fmt.Errorf("whiten: %w", err)
		}
	}

	nbins := n/2 + 1
	deltaF := ts.SampleRate / float64(n)
	interp := p.Interpolate(deltaF, nbins)

	maxFilterLen := int(params.MaxFilterDuration * ts.SampleRate)
	trunc := interp.InverseSpectrumTruncation(maxFilterLen, params.LowFrequencyCutoff)

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, ts.Data)
	for k := range coeffs {
		if trunc.Data[k] > 0 {
			coeffs[k] *= complex(math.Sqrt(1/trunc.Data[k]), 0)
		} else {
			coeffs[k] = 0
		}
	}
	white := fft.Sequence(nil, coeffs)
	for i := range white {
		white[i] /= float64(n)
	}

	out := &strain.TimeSeries{Epoch: ts.Epoch, SampleRate: ts.SampleRate, Data: white}
	if params.RemoveCorrupted && maxFilterLen > 0 {
		kmin := maxFilterLen / 2
		kmax := n - maxFilterLen/2
		out = &strain.TimeSeries{
			Epoch:      ts.TimeOf(kmin),
			SampleRate: ts.SampleRate,
			Data:       white[kmin:kmax],
		}
	}
	return out, nil
}
