package statmap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gwsearch/internal/coinc"
)

func ranked(time, stat float64) RankedEvent {
	return RankedEvent{Combo: "H1L1", Event: coinc.Event{Detectors: hl, Time: time, Stat: stat}}
}

func TestEvaluateSensitivity(t *testing.T) {
	injections := []Injection{
		{Time: 100, Distance: 100, Mass1: 1.4, Mass2: 1.4},
		{Time: 300, Distance: 200, Mass1: 1.4, Mass2: 1.4},
		{Time: 500, Distance: 300, Mass1: 1.4, Mass2: 1.4},
	}
	events := []RankedEvent{
		ranked(100.005, 20), // finds injection 0
		ranked(100.040, 12), // same injection, quieter; loudest wins
		ranked(300.020, 15), // finds injection 1
		ranked(412.000, 9),  // noise
	}

	res, err := EvaluateSensitivity(events, injections, SensitivityParams{Tolerance: 0.1})
	require.NoError(t, err)

	assert.Equal(t, 3, res.TruePositives)
	assert.Equal(t, 1, res.FalsePositives)
	assert.Equal(t, map[int]float64{0: 20, 1: 15}, res.FoundStat)
	assert.Equal(t, []int{2}, res.MissedIndices)

	require.Len(t, res.Curve, 1)
	pt := res.Curve[0]
	assert.Equal(t, 9.0, pt.Stat)
	// One false positive over the 400 s injection span.
	assert.InDelta(t, 1.0/400.0, pt.FAR, 1e-12)
	// Two of three injections found above the threshold.
	assert.InDelta(t, 2.0/3.0, pt.Fraction, 1e-12)
	vtot := 4.0 / 3.0 * math.Pi * math.Pow(300, 3)
	assert.InDelta(t, vtot*2.0/3.0, pt.Volume, 1e-6)
	assert.InDelta(t, 300*math.Cbrt(2.0/3.0), pt.Distance, 1e-9)
	assert.Greater(t, pt.VolumeErr, 0.0)
}

// With equal-mass injections the chirp-distance weighting degenerates to
// the plain uniform-in-volume estimate.
func TestEvaluateSensitivityChirpEqualMass(t *testing.T) {
	injections := []Injection{
		{Time: 100, Distance: 100, Mass1: 1.4, Mass2: 1.4},
		{Time: 300, Distance: 250, Mass1: 1.4, Mass2: 1.4},
	}
	events := []RankedEvent{
		ranked(100.0, 14),
		ranked(180.0, 8), // noise, sets the threshold
	}

	plain, err := EvaluateSensitivity(events, injections, SensitivityParams{Tolerance: 0.1})
	require.NoError(t, err)
	chirp, err := EvaluateSensitivity(events, injections, SensitivityParams{Tolerance: 0.1, ChirpDistance: true})
	require.NoError(t, err)

	require.Len(t, plain.Curve, 1)
	require.Len(t, chirp.Curve, 1)
	assert.InDelta(t, plain.Curve[0].Volume, chirp.Curve[0].Volume, 1e-6)
	assert.InDelta(t, plain.Curve[0].VolumeErr, chirp.Curve[0].VolumeErr, 1e-6)
}

func TestEvaluateSensitivityUnequalMassWeighting(t *testing.T) {
	// A heavy found injection carries more volume weight than a light one
	// under the chirp-distance correction.
	light := []Injection{
		{Time: 100, Distance: 100, Mass1: 1.4, Mass2: 1.4},
		{Time: 300, Distance: 100, Mass1: 30, Mass2: 30},
	}
	findLight := []RankedEvent{ranked(100, 12), ranked(200, 5)}
	findHeavy := []RankedEvent{ranked(300, 12), ranked(200, 5)}

	rl, err := EvaluateSensitivity(findLight, light, SensitivityParams{Tolerance: 0.1, ChirpDistance: true})
	require.NoError(t, err)
	rh, err := EvaluateSensitivity(findHeavy, light, SensitivityParams{Tolerance: 0.1, ChirpDistance: true})
	require.NoError(t, err)
	assert.Greater(t, rh.Curve[0].Volume, rl.Curve[0].Volume)
}

func TestEvaluateSensitivityErrors(t *testing.T) {
	_, err := EvaluateSensitivity(nil, nil, SensitivityParams{Tolerance: 0.1})
	assert.Error(t, err)

	injections := []Injection{{Time: 100, Distance: 100, Mass1: 1.4, Mass2: 1.4}}
	_, err = EvaluateSensitivity(nil, injections, SensitivityParams{Tolerance: 0})
	assert.Error(t, err)

	// Single injection: livetime cannot be inferred without Duration.
	_, err = EvaluateSensitivity(nil, injections, SensitivityParams{Tolerance: 0.1})
	assert.Error(t, err)
	res, err := EvaluateSensitivity(nil, injections, SensitivityParams{Tolerance: 0.1, Duration: 1000})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.MissedIndices)
}
