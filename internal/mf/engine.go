// Package mf implements the matched-filter engine: noise-weighted
// correlation of conditioned strain against bank templates, plus the
// signal-based vetoes computed at trigger peaks (power chi-square,
// sine-Gaussian veto, PSD-variation statistic).
//
// This is the dominant cost of the pipeline. The engine pre-plans FFTs for
// a fixed segment length and is reused across all templates in a bank
// partition; it is not safe for concurrent use, so each worker owns one.
package mf

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/banshee-data/gwsearch/internal/bank"
	"github.com/banshee-data/gwsearch/internal/psd"
	"github.com/banshee-data/gwsearch/internal/strain"
)

// Params configures the engine and its vetoes.
type Params struct {
	// LowFrequencyCutoff excludes spectral content below this frequency
	// from every inner product.
	LowFrequencyCutoff float64
	// ChisqBins is the number of equal-power sub-bands for the power
	// chi-square. Fewer than two disables the veto.
	ChisqBins int
	// ChisqSNRThreshold gates chi-square computation: peaks below it skip
	// the veto (value reported as 1, neutral).
	ChisqSNRThreshold float64
	// SGMassThreshold activates the sine-Gaussian veto for templates with
	// total mass at or above this value, in solar masses.
	SGMassThreshold float64
	// SGVetoQ is the quality factor of the veto sine-Gaussians.
	SGVetoQ float64
}

// DefaultParams mirrors the production search configuration.
func DefaultParams() Params {
	return Params{
		LowFrequencyCutoff: 20,
		ChisqBins:          16,
		ChisqSNRThreshold:  5.25,
		SGMassThreshold:    40,
		SGVetoQ:            20,
	}
}

// Engine holds the FFT plans and configuration for one segment length.
type Engine struct {
	n          int
	sampleRate float64
	deltaF     float64
	deltaT     float64
	rfft       *fourier.FFT
	cfft       *fourier.CmplxFFT
	params     Params
}

// NewEngine plans an engine for segments of n samples at the given rate.
// n must be even.
func NewEngine(n int, sampleRate float64, p Params) (*Engine, error) {
	if n%2 != 0 || n == 0 {
		return nil, fmt.Errorf("mf: segment length %d must be even and non-zero", n)
	}
	return &Engine{
		n:          n,
		sampleRate: sampleRate,
		deltaF:     sampleRate / float64(n),
		deltaT:     1 / sampleRate,
		rfft:       fourier.NewFFT(n),
		cfft:       fourier.NewCmplxFFT(n),
		params:     p,
	}, nil
}

// SegmentData is the per-segment state shared by all templates: the scaled
// frequency-domain strain and the inverse-PSD weights. Computing it once per
// segment is the main batching lever across a bank partition.
type SegmentData struct {
	Epoch  float64
	FD     []complex128 // deltaT-scaled one-sided data FFT, n/2+1 bins
	Weight []float64    // 1/S(f) above the cutoff, else 0
}

// Prepare transforms a conditioned strain segment and attaches inverse-PSD
// weights. Zero or negative PSD bins get zero weight: infinitely noisy, not
// a division by zero.
func (e *Engine) Prepare(ts *strain.TimeSeries, spec *psd.PSD) (*SegmentData, error) {
	if len(ts.Data) != e.n {
		return nil, fmt.Errorf("mf: segment has %d samples, engine planned for %d", len(ts.Data), e.n)
	}
	if ts.SampleRate != e.sampleRate {
		return nil, fmt.Errorf("mf: segment rate %g, engine planned for %g", ts.SampleRate, e.sampleRate)
	}

	nbins := e.n/2 + 1
	interp := spec
	if spec.DeltaF != e.deltaF || spec.Len() != nbins {
		interp = spec.Interpolate(e.deltaF, nbins)
	}

	fd := e.rfft.Coefficients(nil, ts.Data)
	for k := range fd {
		fd[k] *= complex(e.deltaT, 0)
	}

	weight := make([]float64, nbins)
	kmin := int(math.Ceil(e.params.LowFrequencyCutoff / e.deltaF))
	for k := kmin; k < nbins; k++ {
		if interp.Data[k] > 0 {
			weight[k] = 1 / interp.Data[k]
		}
	}
	return &SegmentData{Epoch: ts.Epoch, FD: fd, Weight: weight}, nil
}

// Result is the complex SNR series for one (template, segment) pair.
// Transient: consumed by trigger scanning and then discarded.
type Result struct {
	Template   bank.Template
	Epoch      float64
	SampleRate float64
	// SNR is normalized so |SNR[i]| is the matched-filter signal-to-noise
	// ratio at sample i.
	SNR   []complex128
	Sigma float64

	engine   *Engine
	seg      *SegmentData
	waveform []complex128
}

// Filter correlates the prepared segment with one template, returning the
// normalized complex SNR series.
func (e *Engine) Filter(seg *SegmentData, tmpl bank.Template) (*Result, error) {
	nbins := e.n/2 + 1
	h := tmpl.Waveform(nbins, e.deltaF, e.params.LowFrequencyCutoff)

	var sigma2 float64
	y := make([]complex128, e.n)
	for k := 0; k < nbins; k++ {
		if seg.Weight[k] == 0 || h[k] == 0 {
			continue
		}
		hv := h[k]
		sigma2 += (real(hv)*real(hv) + imag(hv)*imag(hv)) * seg.Weight[k]
		y[k] = seg.FD[k] * cmplx.Conj(hv) * complex(seg.Weight[k], 0)
	}
	sigma2 *= 4 * e.deltaF
	if sigma2 <= 0 {
		return nil, fmt.Errorf("mf: template %d has no spectral overlap with the analysis band", tmpl.ID)
	}
	sigma := math.Sqrt(sigma2)

	z := e.cfft.Sequence(nil, y)
	norm := complex(4*e.deltaF/sigma, 0)
	for i := range z {
		z[i] *= norm
	}

	return &Result{
		Template:   tmpl,
		Epoch:      seg.Epoch,
		SampleRate: e.sampleRate,
		SNR:        z,
		Sigma:      sigma,
		engine:     e,
		seg:        seg,
		waveform:   h,
	}, nil
}

// TimeOf returns the GPS time of SNR sample i.
func (r *Result) TimeOf(i int) float64 {
	return r.Epoch + float64(i)/r.SampleRate
}

// SampleAt returns the SNR index closest to GPS time t.
func (r *Result) SampleAt(t float64) int {
	return int(math.Round((t - r.Epoch) * r.SampleRate))
}
