package strain

import (
	"math"

	"github.com/banshee-data/gwsearch/internal/monitoring"
)

// GateParams controls automatic glitch gating applied before filtering.
// Samples whose magnitude exceeds Threshold times the series RMS are zeroed
// over a window of Width seconds on each side, with half-Hann tapers of
// Taper seconds ramping in and out so the gate itself does not ring.
type GateParams struct {
	Threshold     float64 // in units of the running RMS
	Width         float64 // seconds zeroed either side of the glitch peak
	Taper         float64 // seconds of half-Hann ramp outside the zeroed span
	MaxIterations int     // rescan passes; a loud glitch can mask a quieter one
}

// DefaultGateParams mirrors the production search settings.
func DefaultGateParams() GateParams {
	return GateParams{Threshold: 50, Width: 0.25, Taper: 0.25, MaxIterations: 4}
}

// Gate records one applied gate, taper spans included.
type Gate struct {
	Center float64 // GPS time of the glitch peak
	Zeroed Segment // span forced to zero
	Taper  float64 // ramp length applied either side, seconds
}

// AutoGate locates transient high-amplitude glitches and excises them.
// It returns a gated copy of the input and the list of applied gates. The
// input is never modified. Passing zero-valued params disables gating.
func AutoGate(ts *TimeSeries, p GateParams) (*TimeSeries, []Gate) {
	if p.Threshold <= 0 {
		return ts.Copy(), nil
	}

	out := ts.Copy()
	var gates []Gate
	for iter := 0; iter < p.MaxIterations; iter++ {
		rms := out.RMS()
		if rms == 0 {
			break
		}
		peak, peakIdx := 0.0, -1
		for i, v := range out.Data {
			if a := math.Abs(v); a > peak {
				peak, peakIdx = a, i
			}
		}
		if peak < p.Threshold*rms {
			break
		}

		g := applyGate(out, peakIdx, p)
		gates = append(gates, g)
		monitoring.Logf("autogate: zeroed [%f, %f) (peak %.1fx RMS) pass %d",
			g.Zeroed.Start, g.Zeroed.End, peak/rms, iter+1)
	}
	return out, gates
}

// applyGate zeroes a window around sample idx and tapers the edges.
func applyGate(ts *TimeSeries, idx int, p GateParams) Gate {
	halfWidth := int(math.Round(p.Width * ts.SampleRate))
	taperLen := int(math.Round(p.Taper * ts.SampleRate))

	lo := idx - halfWidth
	hi := idx + halfWidth + 1
	if lo < 0 {
		lo = 0
	}
	if hi > len(ts.Data) {
		hi = len(ts.Data)
	}
	for i := lo; i < hi; i++ {
		ts.Data[i] = 0
	}

	// Half-Hann ramps: falling into the gate, rising out of it.
	for i := 0; i < taperLen; i++ {
		w := 0.5 * (1 + math.Cos(math.Pi*float64(taperLen-i)/float64(taperLen)))
		if j := lo - taperLen + i; j >= 0 {
			ts.Data[j] *= w
		}
		if j := hi + taperLen - 1 - i; j < len(ts.Data) {
			ts.Data[j] *= w
		}
	}

	return Gate{
		Center: ts.TimeOf(idx),
		Zeroed: Segment{Start: ts.TimeOf(lo), End: ts.TimeOf(hi)},
		Taper:  p.Taper,
	}
}
