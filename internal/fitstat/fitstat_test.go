package fitstat

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gwsearch/internal/bank"
	"github.com/banshee-data/gwsearch/internal/triggers"
)

// testBank spans total masses 2.8 to 60 so log binning has real spread.
func testBank(t *testing.T) *bank.Bank {
	t.Helper()
	var templates []bank.Template
	masses := []float64{1.4, 2, 3, 5, 8, 12, 18, 30}
	id := 0
	for _, m := range masses {
		templates = append(templates, bank.Template{ID: id, Mass1: m, Mass2: m})
		id++
	}
	b, err := bank.New(templates)
	require.NoError(t, err)
	return b
}

// exponentialTriggers draws background newsnr values with decay rate alpha
// above the threshold for every template of the bank.
func exponentialTriggers(b *bank.Bank, alpha, threshold float64, perTemplate int, seed int64) []triggers.Trigger {
	rng := rand.New(rand.NewSource(seed))
	var out []triggers.Trigger
	for _, tmpl := range b.Templates {
		for i := 0; i < perTemplate; i++ {
			out = append(out, triggers.Trigger{
				Detector:   "H1",
				TemplateID: tmpl.ID,
				Time:       float64(i),
				NewSNR:     threshold + rng.ExpFloat64()/alpha,
			})
		}
	}
	return out
}

func TestFitRecoversExponentialRate(t *testing.T) {
	b := testBank(t)
	cfg := DefaultConfig()
	const alpha = 3.0
	trigs := exponentialTriggers(b, alpha, cfg.StatThreshold, 500, 1)

	set, soft, err := Fit("H1", trigs, b, 86400, cfg)
	require.NoError(t, err)
	assert.Empty(t, soft)

	for i, bin := range set.Bins {
		assert.InDelta(t, alpha, bin.Alpha, 0.5, "bin %d alpha", i)
	}
}

func TestFitUnknownFunctionIsFatal(t *testing.T) {
	b := testBank(t)
	cfg := DefaultConfig()
	cfg.FitFunction = "power-law"
	_, _, err := Fit("H1", nil, b, 86400, cfg)
	require.Error(t, err)
}

func TestFitSparseBinRecoveredBySmoothing(t *testing.T) {
	b := testBank(t)
	cfg := DefaultConfig()
	cfg.PruneNumber = 0
	const alpha = 4.0

	// Populate every template except the heaviest, whose bin then fails to
	// converge and must inherit smoothed parameters.
	var trigs []triggers.Trigger
	rng := rand.New(rand.NewSource(2))
	for _, tmpl := range b.Templates[:len(b.Templates)-1] {
		for i := 0; i < 400; i++ {
			trigs = append(trigs, triggers.Trigger{
				Detector:   "H1",
				TemplateID: tmpl.ID,
				NewSNR:     cfg.StatThreshold + rng.ExpFloat64()/alpha,
			})
		}
	}

	set, soft, err := Fit("H1", trigs, b, 86400, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, soft, "the empty bin must report a convergence error")

	var conv *ConvergenceError
	found := false
	for _, e := range soft {
		if ce, ok := e.(*ConvergenceError); ok {
			conv, found = ce, true
		}
	}
	require.True(t, found)
	assert.Less(t, conv.Count, cfg.MinTriggers)

	// The sparse bin still carries usable smoothed parameters.
	heavy := b.Templates[len(b.Templates)-1]
	rate := set.LogNoiseRate(heavy.ID, cfg.StatThreshold+1)
	assert.False(t, math.IsInf(rate, 0) || math.IsNaN(rate))
}

func TestFitNothingConvergesFallsBackToGlobal(t *testing.T) {
	b := testBank(t)
	cfg := DefaultConfig()

	// Two triggers per template, far below MinTriggers in every bin.
	rng := rand.New(rand.NewSource(5))
	var trigs []triggers.Trigger
	for _, tmpl := range b.Templates {
		for i := 0; i < 2; i++ {
			trigs = append(trigs, triggers.Trigger{
				Detector:   "L1",
				TemplateID: tmpl.ID,
				NewSNR:     cfg.StatThreshold + rng.ExpFloat64()/2,
			})
		}
	}

	set, soft, err := Fit("L1", trigs, b, 3600, cfg)
	require.NoError(t, err)

	global := false
	for _, e := range soft {
		if ce, ok := e.(*ConvergenceError); ok && ce.Bin == -1 {
			global = true
		}
	}
	require.True(t, global, "expected the global fallback convergence error")

	// Every bin carries the same global parameters and stays usable.
	for i, bin := range set.Bins {
		assert.Equal(t, set.Bins[0].Alpha, bin.Alpha, "bin %d alpha", i)
		assert.Greater(t, bin.Alpha, 0.0)
		assert.Greater(t, bin.Rate, 0.0)
	}
	v := set.LogNoiseRate(b.Templates[0].ID, cfg.StatThreshold+2)
	assert.False(t, math.IsInf(v, 0) || math.IsNaN(v))
}

func TestFitNoTriggersAtAll(t *testing.T) {
	b := testBank(t)
	set, soft, err := Fit("V1", nil, b, 3600, DefaultConfig())
	require.NoError(t, err)
	require.NotEmpty(t, soft)

	// Unit decay and the one-per-livetime floor keep the log finite.
	v := set.LogNoiseRate(b.Templates[0].ID, 10)
	assert.False(t, math.IsInf(v, 0) || math.IsNaN(v))
}

func TestLogNoiseRateMonotonicDecreasing(t *testing.T) {
	b := testBank(t)
	cfg := DefaultConfig()
	trigs := exponentialTriggers(b, 3.5, cfg.StatThreshold, 300, 3)

	set, _, err := Fit("H1", trigs, b, 86400, cfg)
	require.NoError(t, err)

	prev := set.LogNoiseRate(0, cfg.StatThreshold)
	for v := cfg.StatThreshold + 0.5; v < cfg.StatThreshold+6; v += 0.5 {
		cur := set.LogNoiseRate(0, v)
		assert.Less(t, cur, prev, "noise rate must fall as the statistic rises")
		prev = cur
	}
}

func TestPruneDemotesEmptiestBin(t *testing.T) {
	b := testBank(t)
	cfg := DefaultConfig()
	cfg.PruneNumber = 2

	// Uneven populations: light templates loud, heavy templates quiet.
	var trigs []triggers.Trigger
	rng := rand.New(rand.NewSource(4))
	for i, tmpl := range b.Templates {
		n := 600 - 70*i
		for j := 0; j < n; j++ {
			trigs = append(trigs, triggers.Trigger{
				Detector:   "H1",
				TemplateID: tmpl.ID,
				NewSNR:     cfg.StatThreshold + rng.ExpFloat64()/3,
			})
		}
	}

	set, _, err := Fit("H1", trigs, b, 86400, cfg)
	require.NoError(t, err)

	var direct, smoothedOnly int
	for _, bin := range set.Bins {
		if bin.Direct {
			direct++
		} else {
			smoothedOnly++
		}
	}
	assert.GreaterOrEqual(t, smoothedOnly, cfg.PruneNumber)
	assert.Greater(t, direct, 0, "pruning must never remove every direct bin")
}
