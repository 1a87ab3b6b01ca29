package strain

import (
	"fmt"
	"math"
)

// Resample decimates the series to targetRate, which must divide the input
// rate evenly. An anti-aliasing windowed-sinc low-pass is applied before
// decimation; the filter is zero-phase (symmetric, centred) so trigger times
// are not shifted.
func Resample(ts *TimeSeries, targetRate float64) (*TimeSeries, error) {
	if targetRate == ts.SampleRate {
		return ts.Copy(), nil
	}
	ratio := ts.SampleRate / targetRate
	factor := int(math.Round(ratio))
	if factor < 1 || math.Abs(ratio-float64(factor)) > 1e-9 {
		return nil, fmt.Errorf("resample: %g Hz is not an integer decimation of %g Hz",
			targetRate, ts.SampleRate)
	}

	taps := lowpassTaps(factor)
	half := len(taps) / 2

	n := len(ts.Data) / factor
	out := &TimeSeries{Epoch: ts.Epoch, SampleRate: targetRate, Data: make([]float64, n)}
	for i := 0; i < n; i++ {
		center := i * factor
		var acc float64
		for k, h := range taps {
			j := center + k - half
			if j < 0 || j >= len(ts.Data) {
				continue
			}
			acc += h * ts.Data[j]
		}
		out.Data[i] = acc
	}
	return out, nil
}

// lowpassTaps designs a Hann-windowed sinc low-pass with cutoff at 80% of
// the target Nyquist, expressed in input-sample units.
func lowpassTaps(factor int) []float64 {
	cutoff := 0.8 / (2 * float64(factor)) // cycles per input sample
	length := 10*factor + 1
	half := length / 2

	taps := make([]float64, length)
	var sum float64
	for i := range taps {
		x := float64(i - half)
		var s float64
		if x == 0 {
			s = 2 * cutoff
		} else {
			s = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
		}
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(length-1)))
		taps[i] = s * w
		sum += taps[i]
	}
	// Unity DC gain.
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}
