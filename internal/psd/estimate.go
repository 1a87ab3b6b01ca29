package psd

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/banshee-data/gwsearch/internal/strain"
)

// EstimateParams configures Welch estimation with median combining.
type EstimateParams struct {
	// Detector tags errors; it does not affect the estimate.
	Detector string
	// SegmentLength is the sub-segment FFT length in seconds.
	SegmentLength float64
	// NumSegments is the number of sub-segments combined by the median.
	// Odd counts are preferred; an even count is reduced by one.
	NumSegments int
	// Stride between sub-segment starts in seconds. Zero means half the
	// segment length (50% overlap).
	Stride float64
}

// Estimate computes a median-combined Welch PSD of the series. The median is
// robust to transient non-stationarity: a single glitch contaminates at most
// a few sub-segments and is voted out bin-wise. Deterministic: identical
// samples yield bit-identical output.
func Estimate(ts *strain.TimeSeries, p EstimateParams) (*PSD, error) {
	segLen := int(math.Round(p.SegmentLength * ts.SampleRate))
	stride := int(math.Round(p.Stride * ts.SampleRate))
	if stride <= 0 {
		stride = segLen / 2
	}
	num := p.NumSegments
	if num%2 == 0 {
		num--
	}
	if num < 1 || segLen < 2 {
		return nil, &EstimationError{Detector: p.Detector, Have: 0, Need: p.NumSegments}
	}

	available := 0
	if len(ts.Data) >= segLen {
		available = 1 + (len(ts.Data)-segLen)/stride
	}
	if available < num {
		return nil, &EstimationError{Detector: p.Detector, Have: available, Need: num}
	}

	window := hann(segLen)
	var winNorm float64
	for _, w := range window {
		winNorm += w * w
	}

	fft := fourier.NewFFT(segLen)
	nbins := segLen/2 + 1
	deltaT := ts.DeltaT()

	// Spread the sub-segments evenly across the series so the estimate sees
	// the whole segment even when more strides are available than needed.
	periodograms := make([][]float64, num)
	buf := make([]float64, segLen)
	coeffs := make([]complex128, nbins)
	for s := 0; s < num; s++ {
		start := 0
		if num > 1 {
			start = s * (available - 1) / (num - 1) * stride
		}
		for i := 0; i < segLen; i++ {
			buf[i] = ts.Data[start+i] * window[i]
		}
		coeffs = fft.Coefficients(coeffs, buf)

		pg := make([]float64, nbins)
		for k := 0; k < nbins; k++ {
			scale := 2.0
			if k == 0 || k == nbins-1 {
				scale = 1.0 // DC and Nyquist are not mirrored
			}
			c := coeffs[k]
			pg[k] = scale * deltaT / winNorm * (real(c)*real(c) + imag(c)*imag(c))
		}
		periodograms[s] = pg
	}

	bias := medianBias(num)
	out := &PSD{
		DeltaF: ts.SampleRate / float64(segLen),
		Data:   make([]float64, nbins),
	}
	column := make([]float64, num)
	for k := 0; k < nbins; k++ {
		for s := 0; s < num; s++ {
			column[s] = periodograms[s][k]
		}
		sort.Float64s(column)
		out.Data[k] = column[num/2] / bias
	}
	return out, nil
}

// hann returns a periodic Hann window of length n.
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}
