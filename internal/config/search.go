// Package config loads and validates the search tuning parameters. All
// fields are pointers so a partial JSON file only overrides what it names;
// the Get* accessors supply the canonical defaults everywhere else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// knownDetectors are the instruments the coincidence tables cover.
var knownDetectors = map[string]bool{"H1": true, "L1": true, "V1": true}

// SearchConfig is the root configuration for one analysis run.
type SearchConfig struct {
	// Analysis scope
	Detectors        []string `json:"detectors,omitempty"`
	SampleRate       *int     `json:"sample_rate,omitempty"`
	SegmentLength    *float64 `json:"segment_length,omitempty"`
	SegmentStartPad  *float64 `json:"segment_start_pad,omitempty"`
	SegmentEndPad    *float64 `json:"segment_end_pad,omitempty"`
	MinAnalysisLength *float64 `json:"min_analysis_length,omitempty"`

	// Conditioning
	LowFrequencyCutoff   *float64 `json:"low_frequency_cutoff,omitempty"`
	AutogatingThreshold  *float64 `json:"autogating_threshold,omitempty"`
	AutogatingWidth      *float64 `json:"autogating_width,omitempty"`
	AutogatingTaper      *float64 `json:"autogating_taper,omitempty"`
	AutogatingIterations *int     `json:"autogating_iterations,omitempty"`

	// PSD estimation
	PSDSegmentLength  *float64 `json:"psd_segment_length,omitempty"`
	PSDNumSegments    *int     `json:"psd_num_segments,omitempty"`
	PSDSegmentStride  *float64 `json:"psd_segment_stride,omitempty"`
	MaxFilterDuration *float64 `json:"max_filter_duration,omitempty"`

	// Trigger generation
	SNRThreshold      *float64 `json:"snr_threshold,omitempty"`
	NewSNRThreshold   *float64 `json:"newsnr_threshold,omitempty"`
	ChisqBins         *int     `json:"chisq_bins,omitempty"`
	ChisqSNRThreshold *float64 `json:"chisq_snr_threshold,omitempty"`
	SGVetoThreshold   *float64 `json:"sg_veto_threshold,omitempty"`
	ClusterWindow     *float64 `json:"cluster_window,omitempty"`

	// Coincidence
	CoincThreshold    *float64 `json:"coinc_threshold,omitempty"`
	TimeslideInterval *float64 `json:"timeslide_interval,omitempty"`
	NumSlides         *int     `json:"num_slides,omitempty"`
	LoudestKeepPos    *int     `json:"loudest_keep_pos,omitempty"`
	LoudestKeepNeg    *int     `json:"loudest_keep_neg,omitempty"`
	// RankCombinations restricts which detector combinations are ranked.
	// Empty means every combination of the configured detectors.
	RankCombinations []string `json:"rank_combinations,omitempty"`

	// Statistic fitting
	FitFunction    *string  `json:"fit_function,omitempty"`
	FitThreshold   *float64 `json:"fit_threshold,omitempty"`
	FitBins        *int     `json:"fit_bins,omitempty"`
	SmoothingWidth *float64 `json:"smoothing_width,omitempty"`
	PruneNumber    *int     `json:"prune_number,omitempty"`

	// Combiner
	MaxHierarchicalRemoval *int     `json:"max_hierarchical_removal,omitempty"`
	RemovalThresholdFAR    *float64 `json:"hierarchical_removal_against_far,omitempty"`

	// Execution
	BankPartitions *int `json:"bank_partitions,omitempty"`
	Workers        *int `json:"workers,omitempty"`
}

// EmptySearchConfig returns a SearchConfig with every field unset, i.e.
// all defaults.
func EmptySearchConfig() *SearchConfig {
	return &SearchConfig{}
}

// LoadSearchConfig loads a SearchConfig from a JSON file. The file must
// have a .json extension and stay under the max file size. Fields omitted
// from the JSON keep their defaults, so partial configs are safe.
func LoadSearchConfig(path string) (*SearchConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySearchConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field contradictions. Anything
// rejected here is fatal at startup; recoverable conditions are handled
// downstream.
func (c *SearchConfig) Validate() error {
	for _, d := range c.Detectors {
		if !knownDetectors[d] {
			return fmt.Errorf("unknown detector %q", d)
		}
	}
	if len(c.Detectors) > 0 && len(c.Detectors) < 2 {
		return fmt.Errorf("at least two detectors required, got %v", c.Detectors)
	}

	if c.SampleRate != nil && *c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", *c.SampleRate)
	}
	if c.SegmentLength != nil && *c.SegmentLength <= 0 {
		return fmt.Errorf("segment_length must be positive, got %f", *c.SegmentLength)
	}
	if c.SegmentStartPad != nil && *c.SegmentStartPad < 0 {
		return fmt.Errorf("segment_start_pad must be non-negative, got %f", *c.SegmentStartPad)
	}
	if c.SegmentEndPad != nil && *c.SegmentEndPad < 0 {
		return fmt.Errorf("segment_end_pad must be non-negative, got %f", *c.SegmentEndPad)
	}
	// Effective values: an explicit pad can exceed the default length too.
	if pads := c.GetSegmentStartPad() + c.GetSegmentEndPad(); pads >= c.GetSegmentLength() {
		return fmt.Errorf("segment pads (%f s) consume the whole segment (%f s)", pads, c.GetSegmentLength())
	}
	if c.LowFrequencyCutoff != nil && *c.LowFrequencyCutoff <= 0 {
		return fmt.Errorf("low_frequency_cutoff must be positive, got %f", *c.LowFrequencyCutoff)
	}
	if c.SampleRate != nil && c.LowFrequencyCutoff != nil {
		if *c.LowFrequencyCutoff >= float64(*c.SampleRate)/2 {
			return fmt.Errorf("low_frequency_cutoff %f Hz at or above Nyquist for sample_rate %d",
				*c.LowFrequencyCutoff, *c.SampleRate)
		}
	}
	if c.PSDNumSegments != nil && *c.PSDNumSegments < 1 {
		return fmt.Errorf("psd_num_segments must be at least 1, got %d", *c.PSDNumSegments)
	}
	if c.SNRThreshold != nil && *c.SNRThreshold <= 0 {
		return fmt.Errorf("snr_threshold must be positive, got %f", *c.SNRThreshold)
	}
	if c.ClusterWindow != nil && *c.ClusterWindow < 0 {
		return fmt.Errorf("cluster_window must be non-negative, got %f", *c.ClusterWindow)
	}
	if c.CoincThreshold != nil && *c.CoincThreshold < 0 {
		return fmt.Errorf("coinc_threshold must be non-negative, got %f", *c.CoincThreshold)
	}
	if c.NumSlides != nil && *c.NumSlides < 0 {
		return fmt.Errorf("num_slides must be non-negative, got %d", *c.NumSlides)
	}
	if c.NumSlides != nil && *c.NumSlides > 0 && c.GetTimeslideInterval() <= 0 {
		return fmt.Errorf("timeslide_interval must be positive when num_slides is %d", *c.NumSlides)
	}

	if c.FitFunction != nil {
		switch *c.FitFunction {
		case "exponential":
		default:
			return fmt.Errorf("unknown fit_function %q", *c.FitFunction)
		}
	}
	if c.MaxHierarchicalRemoval != nil && *c.MaxHierarchicalRemoval < 0 {
		return fmt.Errorf("max_hierarchical_removal must be non-negative, got %d", *c.MaxHierarchicalRemoval)
	}

	// A ranked combination naming a detector outside the analysis is a
	// configuration contradiction, not something to degrade around.
	dets := c.GetDetectors()
	for _, combo := range c.RankCombinations {
		for _, d := range splitCombo(combo) {
			found := false
			for _, have := range dets {
				if d == have {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("rank combination %q references detector %q absent from the analysis", combo, d)
			}
		}
	}
	return nil
}

// splitCombo splits a canonical combination key like "H1L1V1" into
// detector names.
func splitCombo(combo string) []string {
	var out []string
	for i := 0; i+2 <= len(combo); i += 2 {
		out = append(out, combo[i:i+2])
	}
	if len(combo)%2 != 0 {
		out = append(out, combo[len(combo)-len(combo)%2:])
	}
	return out
}

// GetDetectors returns the configured detectors, sorted, or the default
// two-detector network.
func (c *SearchConfig) GetDetectors() []string {
	if len(c.Detectors) == 0 {
		return []string{"H1", "L1"}
	}
	out := make([]string, len(c.Detectors))
	copy(out, c.Detectors)
	sort.Strings(out)
	return out
}

// GetSampleRate returns the target sample rate in Hz.
func (c *SearchConfig) GetSampleRate() int {
	if c.SampleRate == nil {
		return 2048
	}
	return *c.SampleRate
}

// GetSegmentLength returns the analysis segment length in seconds.
func (c *SearchConfig) GetSegmentLength() float64 {
	if c.SegmentLength == nil {
		return 256
	}
	return *c.SegmentLength
}

// GetSegmentStartPad returns the leading pad excluded from triggers.
func (c *SearchConfig) GetSegmentStartPad() float64 {
	if c.SegmentStartPad == nil {
		return 32
	}
	return *c.SegmentStartPad
}

// GetSegmentEndPad returns the trailing pad excluded from triggers.
func (c *SearchConfig) GetSegmentEndPad() float64 {
	if c.SegmentEndPad == nil {
		return 16
	}
	return *c.SegmentEndPad
}

// GetMinAnalysisLength returns the shortest acceptable science stretch.
func (c *SearchConfig) GetMinAnalysisLength() float64 {
	if c.MinAnalysisLength == nil {
		return 64
	}
	return *c.MinAnalysisLength
}

// GetLowFrequencyCutoff returns the filtering cutoff in Hz.
func (c *SearchConfig) GetLowFrequencyCutoff() float64 {
	if c.LowFrequencyCutoff == nil {
		return 20
	}
	return *c.LowFrequencyCutoff
}

// GetAutogatingThreshold returns the gating threshold in RMS units.
func (c *SearchConfig) GetAutogatingThreshold() float64 {
	if c.AutogatingThreshold == nil {
		return 50
	}
	return *c.AutogatingThreshold
}

// GetAutogatingWidth returns the half-width zeroed around a glitch, seconds.
func (c *SearchConfig) GetAutogatingWidth() float64 {
	if c.AutogatingWidth == nil {
		return 0.25
	}
	return *c.AutogatingWidth
}

// GetAutogatingTaper returns the taper ramp duration in seconds.
func (c *SearchConfig) GetAutogatingTaper() float64 {
	if c.AutogatingTaper == nil {
		return 0.25
	}
	return *c.AutogatingTaper
}

// GetAutogatingIterations returns the maximum gating passes.
func (c *SearchConfig) GetAutogatingIterations() int {
	if c.AutogatingIterations == nil {
		return 4
	}
	return *c.AutogatingIterations
}

// GetPSDSegmentLength returns the Welch sub-segment length in seconds.
func (c *SearchConfig) GetPSDSegmentLength() float64 {
	if c.PSDSegmentLength == nil {
		return 16
	}
	return *c.PSDSegmentLength
}

// GetPSDNumSegments returns the number of Welch sub-segments.
func (c *SearchConfig) GetPSDNumSegments() int {
	if c.PSDNumSegments == nil {
		return 15
	}
	return *c.PSDNumSegments
}

// GetPSDSegmentStride returns the sub-segment stride in seconds.
func (c *SearchConfig) GetPSDSegmentStride() float64 {
	if c.PSDSegmentStride == nil {
		return 8
	}
	return *c.PSDSegmentStride
}

// GetMaxFilterDuration returns the inverse-spectrum truncation length in
// seconds.
func (c *SearchConfig) GetMaxFilterDuration() float64 {
	if c.MaxFilterDuration == nil {
		return 16
	}
	return *c.MaxFilterDuration
}

// GetSNRThreshold returns the raw SNR trigger gate.
func (c *SearchConfig) GetSNRThreshold() float64 {
	if c.SNRThreshold == nil {
		return 4.5
	}
	return *c.SNRThreshold
}

// GetNewSNRThreshold returns the re-weighted SNR trigger gate.
func (c *SearchConfig) GetNewSNRThreshold() float64 {
	if c.NewSNRThreshold == nil {
		return 4.5
	}
	return *c.NewSNRThreshold
}

// GetChisqBins returns the chi-square sub-band count.
func (c *SearchConfig) GetChisqBins() int {
	if c.ChisqBins == nil {
		return 16
	}
	return *c.ChisqBins
}

// GetChisqSNRThreshold returns the SNR above which chi-square is computed.
func (c *SearchConfig) GetChisqSNRThreshold() float64 {
	if c.ChisqSNRThreshold == nil {
		return 5.25
	}
	return *c.ChisqSNRThreshold
}

// GetSGVetoThreshold returns the sine-Gaussian veto gate.
func (c *SearchConfig) GetSGVetoThreshold() float64 {
	if c.SGVetoThreshold == nil {
		return 4.0
	}
	return *c.SGVetoThreshold
}

// GetClusterWindow returns the trigger deduplication radius in seconds.
func (c *SearchConfig) GetClusterWindow() float64 {
	if c.ClusterWindow == nil {
		return 1.0
	}
	return *c.ClusterWindow
}

// GetCoincThreshold returns the coincidence timing tolerance in seconds,
// added to the light travel time.
func (c *SearchConfig) GetCoincThreshold() float64 {
	if c.CoincThreshold == nil {
		return 0.005
	}
	return *c.CoincThreshold
}

// GetTimeslideInterval returns the background trial spacing in seconds.
func (c *SearchConfig) GetTimeslideInterval() float64 {
	if c.TimeslideInterval == nil {
		return 1.1
	}
	return *c.TimeslideInterval
}

// GetNumSlides returns the number of background slides per direction.
func (c *SearchConfig) GetNumSlides() int {
	if c.NumSlides == nil {
		return 50
	}
	return *c.NumSlides
}

// GetLoudestKeepPos returns the retention cap for positive slides.
func (c *SearchConfig) GetLoudestKeepPos() int {
	if c.LoudestKeepPos == nil {
		return 200
	}
	return *c.LoudestKeepPos
}

// GetLoudestKeepNeg returns the retention cap for negative slides.
func (c *SearchConfig) GetLoudestKeepNeg() int {
	if c.LoudestKeepNeg == nil {
		return 200
	}
	return *c.LoudestKeepNeg
}

// GetFitFunction returns the noise-rate model family.
func (c *SearchConfig) GetFitFunction() string {
	if c.FitFunction == nil {
		return "exponential"
	}
	return *c.FitFunction
}

// GetFitThreshold returns the statistic threshold for the tail fit.
func (c *SearchConfig) GetFitThreshold() float64 {
	if c.FitThreshold == nil {
		return 6.0
	}
	return *c.FitThreshold
}

// GetFitBins returns the number of log total-mass fit bins.
func (c *SearchConfig) GetFitBins() int {
	if c.FitBins == nil {
		return 8
	}
	return *c.FitBins
}

// GetSmoothingWidth returns the fit smoothing bandwidth in log bins.
func (c *SearchConfig) GetSmoothingWidth() float64 {
	if c.SmoothingWidth == nil {
		return 0.4
	}
	return *c.SmoothingWidth
}

// GetPruneNumber returns how many sparse bins are demoted to smoothed
// values.
func (c *SearchConfig) GetPruneNumber() int {
	if c.PruneNumber == nil {
		return 1
	}
	return *c.PruneNumber
}

// GetMaxHierarchicalRemoval returns the removal round budget.
func (c *SearchConfig) GetMaxHierarchicalRemoval() int {
	if c.MaxHierarchicalRemoval == nil {
		return 1
	}
	return *c.MaxHierarchicalRemoval
}

// GetRemovalThresholdFAR returns the FAR an event must beat to be removed
// from the background estimate, in Hz.
func (c *SearchConfig) GetRemovalThresholdFAR() float64 {
	if c.RemovalThresholdFAR == nil {
		return 1e-4
	}
	return *c.RemovalThresholdFAR
}

// GetBankPartitions returns how many slices the template bank is split
// into for parallel filtering.
func (c *SearchConfig) GetBankPartitions() int {
	if c.BankPartitions == nil {
		return 4
	}
	return *c.BankPartitions
}

// GetWorkers returns the worker pool size; zero means one per CPU.
func (c *SearchConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// Summary renders the effective configuration for run logs.
func (c *SearchConfig) Summary() string {
	return fmt.Sprintf("detectors=%s rate=%dHz seg=%gs flow=%gHz slides=%d fit=%s",
		strings.Join(c.GetDetectors(), ","), c.GetSampleRate(), c.GetSegmentLength(),
		c.GetLowFrequencyCutoff(), c.GetNumSlides(), c.GetFitFunction())
}
