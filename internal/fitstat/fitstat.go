// Package fitstat fits the per-template noise trigger rate model used to
// normalize ranking statistics. Background single-detector triggers above a
// threshold are modelled with an exponential tail per parameter bin; fits
// are smoothed across bins so sparsely populated templates inherit
// parameters from their neighbours instead of overfitting.
package fitstat

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/gwsearch/internal/bank"
	"github.com/banshee-data/gwsearch/internal/monitoring"
	"github.com/banshee-data/gwsearch/internal/triggers"
)

// Config controls fitting, smoothing, and pruning.
type Config struct {
	// StatThreshold is the re-weighted SNR above which the tail is fitted.
	StatThreshold float64
	// FitFunction names the model family. Only "exponential" is
	// recognised; anything else is a startup configuration error.
	FitFunction string
	// NumBins is the number of logarithmic total-mass bins.
	NumBins int
	// SmoothingWidth is the Gaussian kernel bandwidth in log10-mass bin
	// units for fit_over_param smoothing.
	SmoothingWidth float64
	// PruneNumber bins with the fewest background triggers are excluded
	// from direct fitting and rely on smoothing alone. Zero disables
	// pruning.
	PruneNumber int
	// MinTriggers is the smallest background population for which a direct
	// fit converges.
	MinTriggers int
}

// DefaultConfig mirrors the production search settings.
func DefaultConfig() Config {
	return Config{
		StatThreshold:  6.0,
		FitFunction:    "exponential",
		NumBins:        8,
		SmoothingWidth: 0.4,
		PruneNumber:    1,
		MinTriggers:    10,
	}
}

// ConvergenceError reports a bin whose background population was too small
// for a direct fit. Recovered via smoothing; never fatal.
type ConvergenceError struct {
	Bin   int
	Count int
	Min   int
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("fit bin %d: %d background triggers, need %d for a direct fit",
		e.Bin, e.Count, e.Min)
}

// BinFit holds the fitted noise model for one parameter bin.
type BinFit struct {
	// LogCenter is the bin centre in log10 total mass.
	LogCenter float64
	// Alpha is the exponential decay rate of the statistic tail.
	Alpha float64
	// Rate is the per-template noise trigger rate above threshold, per
	// second of livetime.
	Rate float64
	// Count is the raw background population of the bin.
	Count int
	// Direct marks bins fitted from their own population; the rest carry
	// smoothed values only.
	Direct bool
}

// Set is the fitted noise-rate model for one detector.
type Set struct {
	Detector  string
	Threshold float64
	Livetime  float64
	Bins      []BinFit

	binOf map[int]int // template ID to bin index
}

// Fit builds the per-bin exponential fits for one detector's triggers.
// Convergence failures are recovered by smoothing and reported via the
// returned errors slice; the only fatal error is an unrecognised fit
// function or an empty bank.
func Fit(detector string, trigs []triggers.Trigger, b *bank.Bank, livetime float64, cfg Config) (*Set, []error, error) {
	if cfg.FitFunction != "exponential" {
		return nil, nil, fmt.Errorf("fitstat: unrecognised fit function %q", cfg.FitFunction)
	}
	if len(b.Templates) == 0 {
		return nil, nil, fmt.Errorf("fitstat: empty template bank")
	}
	if livetime <= 0 {
		return nil, nil, fmt.Errorf("fitstat: non-positive livetime %g", livetime)
	}
	nbins := cfg.NumBins
	if nbins < 1 {
		nbins = 1
	}

	// Logarithmic total-mass binning over the bank's span.
	loM, hiM := math.Inf(1), math.Inf(-1)
	for _, t := range b.Templates {
		m := math.Log10(t.TotalMass())
		loM = math.Min(loM, m)
		hiM = math.Max(hiM, m)
	}
	width := (hiM - loM) / float64(nbins)
	if width == 0 {
		width = 1
		nbins = 1
	}

	set := &Set{Detector: detector, Threshold: cfg.StatThreshold, Livetime: livetime, binOf: make(map[int]int)}
	set.Bins = make([]BinFit, nbins)
	tmplPerBin := make([]int, nbins)
	for i := range set.Bins {
		set.Bins[i].LogCenter = loM + (float64(i)+0.5)*width
	}
	binIndex := func(m float64) int {
		i := int((math.Log10(m) - loM) / width)
		if i < 0 {
			i = 0
		}
		if i >= nbins {
			i = nbins - 1
		}
		return i
	}
	for _, t := range b.Templates {
		i := binIndex(t.TotalMass())
		set.binOf[t.ID] = i
		tmplPerBin[i]++
	}

	// Collect tail statistics per bin.
	tails := make([][]float64, nbins)
	for _, tr := range trigs {
		i, ok := set.binOf[tr.TemplateID]
		if !ok {
			continue
		}
		if tr.NewSNR >= cfg.StatThreshold {
			tails[i] = append(tails[i], tr.NewSNR-cfg.StatThreshold)
		}
	}

	var softErrs []error
	for i := range set.Bins {
		set.Bins[i].Count = len(tails[i])
		if tmplPerBin[i] == 0 {
			// No templates land here; nothing to fit and nothing to report.
			continue
		}
		if len(tails[i]) < cfg.MinTriggers {
			softErrs = append(softErrs, &ConvergenceError{Bin: i, Count: len(tails[i]), Min: cfg.MinTriggers})
			continue
		}
		mean := stat.Mean(tails[i], nil)
		if mean <= 0 {
			softErrs = append(softErrs, &ConvergenceError{Bin: i, Count: len(tails[i]), Min: cfg.MinTriggers})
			continue
		}
		set.Bins[i].Alpha = 1 / mean // exponential tail MLE
		if tmplPerBin[i] > 0 {
			set.Bins[i].Rate = float64(len(tails[i])) / livetime / float64(tmplPerBin[i])
		}
		set.Bins[i].Direct = true
	}

	prune(set, cfg.PruneNumber)
	if !anyDirect(set) {
		// Nothing converged anywhere: a quiet detector or a short epoch.
		// Fall back to one global fit over whatever tail exists so the
		// ranking stays finite and conservative.
		var all []float64
		for i := range tails {
			all = append(all, tails[i]...)
		}
		alpha := 1.0
		if len(all) > 0 {
			if mean := stat.Mean(all, nil); mean > 0 {
				alpha = 1 / mean
			}
		}
		for i := range set.Bins {
			set.Bins[i].Alpha = alpha
			set.Bins[i].Rate = float64(len(all)) / livetime / float64(len(b.Templates))
		}
		softErrs = append(softErrs, &ConvergenceError{Bin: -1, Count: len(all), Min: cfg.MinTriggers})
	} else if err := smooth(set, cfg.SmoothingWidth, width); err != nil {
		return nil, softErrs, err
	}

	for _, e := range softErrs {
		monitoring.Logf("fitstat %s: %v (recovered by smoothing)", detector, e)
	}
	return set, softErrs, nil
}

func anyDirect(s *Set) bool {
	for i := range s.Bins {
		if s.Bins[i].Direct {
			return true
		}
	}
	return false
}

// prune demotes the n direct bins with the smallest background populations,
// leaving them to smoothing.
func prune(s *Set, n int) {
	if n <= 0 {
		return
	}
	var direct []int
	for i := range s.Bins {
		if s.Bins[i].Direct {
			direct = append(direct, i)
		}
	}
	// Keep at least one direct bin or smoothing has nothing to work from.
	if len(direct) <= n {
		n = len(direct) - 1
	}
	sort.Slice(direct, func(a, b int) bool { return s.Bins[direct[a]].Count < s.Bins[direct[b]].Count })
	for i := 0; i < n; i++ {
		s.Bins[direct[i]].Direct = false
	}
}

// smooth applies fit_over_param regularisation: every bin's parameters are
// replaced by a count-weighted Gaussian kernel average over the direct bins.
func smooth(s *Set, bandwidth, binWidth float64) error {
	if bandwidth <= 0 {
		bandwidth = 1
	}
	sigma := bandwidth * binWidth

	type src struct{ center, alpha, rate, weight float64 }
	var sources []src
	for _, b := range s.Bins {
		if b.Direct {
			sources = append(sources, src{b.LogCenter, b.Alpha, b.Rate, float64(b.Count)})
		}
	}
	if len(sources) == 0 {
		return fmt.Errorf("fitstat: no bin converged; cannot smooth")
	}

	for i := range s.Bins {
		var wSum, aSum, rSum float64
		for _, sc := range sources {
			d := (s.Bins[i].LogCenter - sc.center) / sigma
			w := sc.weight * math.Exp(-0.5*d*d)
			wSum += w
			aSum += w * sc.alpha
			rSum += w * sc.rate
		}
		s.Bins[i].Alpha = aSum / wSum
		s.Bins[i].Rate = rSum / wSum
	}
	return nil
}

// LogNoiseRate returns the natural log of the expected noise trigger rate
// density at the given statistic value for a template, from the smoothed
// exponential model. Statistics below the fit threshold are clamped to it.
func (s *Set) LogNoiseRate(templateID int, value float64) float64 {
	i, ok := s.binOf[templateID]
	if !ok {
		i = 0
	}
	b := s.Bins[i]
	if value < s.Threshold {
		value = s.Threshold
	}
	rate := b.Rate
	if rate <= 0 {
		// An empty background bin: fall back to one trigger per livetime
		// so the log stays finite and conservative.
		rate = 1 / s.Livetime
	}
	return math.Log(b.Alpha*rate) - b.Alpha*(value-s.Threshold)
}

// Multi maps detector names to their fitted sets.
type Multi map[string]*Set
