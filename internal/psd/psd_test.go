package psd

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gwsearch/internal/strain"
	"github.com/banshee-data/gwsearch/internal/testutil"
)

func noiseSeries(t *testing.T, seconds float64, rate float64, seed int64) *strain.TimeSeries {
	t.Helper()
	return &strain.TimeSeries{
		Epoch:      0,
		SampleRate: rate,
		Data:       testutil.GaussianNoise(int(seconds*rate), seed),
	}
}

func TestEstimateWhiteNoiseLevel(t *testing.T) {
	const rate = 256.0
	ts := noiseSeries(t, 256, rate, 1)

	p, err := Estimate(ts, EstimateParams{
		Detector:      "H1",
		SegmentLength: 4,
		NumSegments:   31,
	})
	require.NoError(t, err)

	// Unit-variance white noise has one-sided PSD 2/fs in every bin.
	want := 2.0 / rate
	var mean float64
	for _, v := range p.Data[1 : len(p.Data)-1] {
		mean += v
	}
	mean /= float64(len(p.Data) - 2)
	assert.InDelta(t, want, mean, 0.15*want, "median Welch estimate should recover the white level")
}

func TestEstimateIdempotent(t *testing.T) {
	ts := noiseSeries(t, 64, 256, 2)
	params := EstimateParams{Detector: "L1", SegmentLength: 2, NumSegments: 15}

	a, err := Estimate(ts, params)
	require.NoError(t, err)
	b, err := Estimate(ts, params)
	require.NoError(t, err)

	// Bit-identical, not merely close.
	require.Equal(t, a.DeltaF, b.DeltaF)
	for k := range a.Data {
		if a.Data[k] != b.Data[k] {
			t.Fatalf("bin %d differs between identical runs: %g vs %g", k, a.Data[k], b.Data[k])
		}
	}
}

func TestEstimateInsufficientData(t *testing.T) {
	ts := noiseSeries(t, 8, 256, 3)
	_, err := Estimate(ts, EstimateParams{Detector: "V1", SegmentLength: 4, NumSegments: 31})
	require.Error(t, err)

	estErr, ok := err.(*EstimationError)
	require.True(t, ok, "expected *EstimationError, got %T", err)
	assert.Equal(t, "V1", estErr.Detector)
	assert.Less(t, estErr.Have, estErr.Need)
}

func TestEstimateMedianRejectsGlitch(t *testing.T) {
	const rate = 256.0
	clean := noiseSeries(t, 256, rate, 4)
	glitched := clean.Copy()
	// One enormous transient confined to a handful of sub-segments.
	for i := 0; i < 64; i++ {
		glitched.Data[len(glitched.Data)/2+i] += 1e3
	}

	params := EstimateParams{Detector: "H1", SegmentLength: 4, NumSegments: 31}
	a, err := Estimate(clean, params)
	require.NoError(t, err)
	b, err := Estimate(glitched, params)
	require.NoError(t, err)

	// The median estimate should barely move; a mean estimate would be
	// dominated by the transient.
	for k := 1; k < len(a.Data)-1; k++ {
		assert.InDelta(t, a.Data[k], b.Data[k], 0.5*a.Data[k],
			"bin %d blew up in the median estimate", k)
	}
}

func TestInterpolate(t *testing.T) {
	p := &PSD{DeltaF: 1, Data: []float64{1, 2, 3, 4, 5}}
	out := p.Interpolate(0.5, 9)
	want := []float64{1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5, 5}
	testutil.AssertSlicesInDelta(t, out.Data, want, 1e-12)
}

func TestInverseSpectrumTruncationFlatSpectrum(t *testing.T) {
	// A flat spectrum corresponds to a delta-function inverse filter, which
	// truncation must leave essentially unchanged.
	nbins := 513
	p := &PSD{DeltaF: 0.25, Data: make([]float64, nbins)}
	for k := range p.Data {
		p.Data[k] = 2.0
	}

	out := p.InverseSpectrumTruncation(128, 1.0)
	kmin := int(math.Ceil(1.0 / p.DeltaF))
	for k := kmin + 2; k < nbins-2; k++ {
		assert.InDelta(t, 2.0, out.Data[k], 0.2, "bin %d", k)
	}
	// Below the cutoff the weight must be zero.
	for k := 0; k < kmin; k++ {
		assert.Zero(t, out.Data[k], "bin %d below cutoff", k)
	}
}

func TestWhitenFlattensColoredNoise(t *testing.T) {
	const rate = 512.0
	ts := noiseSeries(t, 128, rate, 5)

	// Color the noise with a gentle low-frequency emphasis.
	state := 0.0
	for i, v := range ts.Data {
		state = 0.9*state + v
		ts.Data[i] = state
	}

	est := EstimateParams{Detector: "H1", SegmentLength: 4, NumSegments: 29}
	white, err := Whiten(ts, nil, WhitenParams{
		MaxFilterDuration:  2,
		LowFrequencyCutoff: 10,
		RemoveCorrupted:    true,
	}, est)
	require.NoError(t, err)
	require.Less(t, len(white.Data), len(ts.Data), "corrupted edges should be excised")

	// The whitened series should have a flat spectrum above the cutoff:
	// estimate its PSD and check low and high bands agree.
	wp, err := Estimate(white, EstimateParams{Detector: "H1", SegmentLength: 2, NumSegments: 21})
	require.NoError(t, err)

	band := func(fLo, fHi float64) float64 {
		var sum float64
		var n int
		for k := range wp.Data {
			f := wp.FrequencyAt(k)
			if f >= fLo && f < fHi {
				sum += wp.Data[k]
				n++
			}
		}
		return sum / float64(n)
	}
	low := band(20, 80)
	high := band(120, 220)
	ratio := low / high
	assert.InDelta(t, 1.0, ratio, 0.5, "whitened spectrum should be flat (low/high = %g)", ratio)
}
