// Package pipeline is the composition root: it dispatches the per-detector,
// per-segment, per-bank-partition filtering units to a worker pool, joins
// their trigger outputs per epoch, and drives coincidence, statistic
// fitting, and the statmap combiner over the joined results.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/banshee-data/gwsearch/internal/bank"
	"github.com/banshee-data/gwsearch/internal/coinc"
	"github.com/banshee-data/gwsearch/internal/config"
	"github.com/banshee-data/gwsearch/internal/db"
	"github.com/banshee-data/gwsearch/internal/fitstat"
	"github.com/banshee-data/gwsearch/internal/mf"
	"github.com/banshee-data/gwsearch/internal/monitoring"
	"github.com/banshee-data/gwsearch/internal/psd"
	"github.com/banshee-data/gwsearch/internal/statmap"
	"github.com/banshee-data/gwsearch/internal/strain"
	"github.com/banshee-data/gwsearch/internal/triggers"
)

// Stores bundles the optional persistence sinks. Any field may be nil; the
// search then runs in memory only.
type Stores struct {
	Runs     *db.RunManager
	Triggers *db.TriggerStore
	Events   *db.EventStore
	Gaps     *db.GapStore
}

// Search runs one full analysis over a time range. Construct with
// NewSearch; the configuration is immutable after that.
type Search struct {
	cfg    *config.SearchConfig
	bank   *bank.Bank
	stores Stores
}

// NewSearch validates the configuration against the bank and builds the
// search.
func NewSearch(cfg *config.SearchConfig, b *bank.Bank, stores Stores) (*Search, error) {
	if cfg == nil {
		cfg = config.EmptySearchConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if b == nil || len(b.Templates) == 0 {
		return nil, fmt.Errorf("pipeline: empty template bank")
	}
	return &Search{cfg: cfg, bank: b, stores: stores}, nil
}

// Input is the per-detector strain and science segments for one analysis
// range.
type Input struct {
	// Strain holds each detector's conditioned strain covering Analysis.
	Strain map[string]*strain.TimeSeries
	// Science lists the science-quality stretches per detector.
	Science map[string]strain.SegmentList
	// Analysis is the [start, end) range to search.
	Analysis strain.Segment
}

// UnitFailure labels one unit that produced no output.
type UnitFailure struct {
	Detector string
	Segment  strain.Segment
	Stage    string
	Reason   string
}

// Output is everything one run produces.
type Output struct {
	RunID    string
	Triggers map[string][]triggers.Trigger
	Fits     fitstat.Multi
	Statmaps map[string]*statmap.Statmap
	Combined *statmap.Combined
	Failures []UnitFailure
	Warnings []error
}

// prepared is the conditioned state of one (detector, segment) unit,
// immutable once built and shared read-only by the filtering units.
type prepared struct {
	seg    strain.AnalysisSegment
	series *strain.TimeSeries
	spec   *psd.PSD
	psdVar []float64
}

// Run executes the search. Unit-level failures degrade the result and are
// reported in Output.Failures; only input- and configuration-level
// contradictions return an error.
func (s *Search) Run(ctx context.Context, in Input) (*Output, error) {
	dets := s.cfg.GetDetectors()
	for _, d := range dets {
		if in.Strain[d] == nil {
			return nil, fmt.Errorf("pipeline: no strain for detector %s", d)
		}
		if len(in.Science[d]) == 0 {
			return nil, fmt.Errorf("pipeline: no science segments for detector %s", d)
		}
	}
	if in.Analysis.Duration() <= 0 {
		return nil, fmt.Errorf("pipeline: empty analysis range %v", in.Analysis)
	}

	out := &Output{Triggers: make(map[string][]triggers.Trigger)}

	if s.stores.Runs != nil {
		cfgJSON, _ := json.Marshal(s.cfg)
		runID, err := s.stores.Runs.StartRun(in.Analysis.Start, in.Analysis.End, dets, string(cfgJSON))
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		out.RunID = runID
	}
	monitoring.Logf("pipeline: run %s starting: %s", out.RunID, s.cfg.Summary())

	rate := float64(s.cfg.GetSampleRate())
	series := make(map[string]*strain.TimeSeries, len(dets))
	for _, d := range dets {
		ts := in.Strain[d]
		if ts.SampleRate != rate {
			resampled, err := strain.Resample(ts, rate)
			if err != nil {
				return nil, fmt.Errorf("pipeline: resample %s: %w", d, err)
			}
			ts = resampled
		}
		series[d] = ts
	}

	// Plan the analysis segments. Planning errors are per-stretch data
	// gaps, not fatal.
	plan := strain.PlanParams{
		SegmentLength:     s.cfg.GetSegmentLength(),
		StartPad:          s.cfg.GetSegmentStartPad(),
		EndPad:            s.cfg.GetSegmentEndPad(),
		MinAnalysisLength: s.cfg.GetMinAnalysisLength(),
		SampleRate:        rate,
	}
	segs := make(map[string][]strain.AnalysisSegment, len(dets))
	valid := make(map[string]strain.SegmentList, len(dets))
	for _, d := range dets {
		planned, gaps := strain.PlanSegments(d, in.Science[d], in.Analysis, plan)
		for _, gapErr := range gaps {
			s.recordFailure(out, d, in.Analysis, "plan", gapErr)
		}
		segs[d] = planned
		for _, a := range planned {
			valid[d] = append(valid[d], a.Valid)
		}
		valid[d] = valid[d].Normalize()
	}

	preps := s.conditionSegments(ctx, series, segs, out)
	if err := ctx.Err(); err != nil {
		return nil, s.abort(out, err)
	}

	s.filterSegments(ctx, preps, out)
	if err := ctx.Err(); err != nil {
		return nil, s.abort(out, err)
	}
	for _, d := range dets {
		triggers.SortByTime(out.Triggers[d])
		monitoring.Logf("pipeline: %s: %d triggers from %d segments", d, len(out.Triggers[d]), len(segs[d]))
	}

	if s.stores.Triggers != nil {
		for _, d := range dets {
			if err := s.stores.Triggers.InsertBatch(out.RunID, out.Triggers[d]); err != nil {
				return nil, s.abort(out, fmt.Errorf("pipeline: persist %s triggers: %w", d, err))
			}
		}
	}

	// Join barrier reached: every surviving unit has reported. The noise
	// fits come from the single-detector trigger populations.
	fitCfg := fitstat.Config{
		StatThreshold:  s.cfg.GetFitThreshold(),
		FitFunction:    s.cfg.GetFitFunction(),
		NumBins:        s.cfg.GetFitBins(),
		SmoothingWidth: s.cfg.GetSmoothingWidth(),
		PruneNumber:    s.cfg.GetPruneNumber(),
		MinTriggers:    fitstat.DefaultConfig().MinTriggers,
	}
	out.Fits = make(fitstat.Multi, len(dets))
	for _, d := range dets {
		livetime := valid[d].TotalDuration()
		if livetime <= 0 {
			monitoring.Logf("pipeline: %s: no valid livetime, skipping fits", d)
			continue
		}
		set, soft, err := fitstat.Fit(d, out.Triggers[d], s.bank, livetime, fitCfg)
		if err != nil {
			return nil, s.abort(out, fmt.Errorf("pipeline: fit %s: %w", d, err))
		}
		out.Warnings = append(out.Warnings, soft...)
		out.Fits[d] = set
	}

	finder := coinc.NewFinder(coinc.Config{
		Detectors:         dets,
		CoincThreshold:    s.cfg.GetCoincThreshold(),
		TimeslideInterval: s.cfg.GetTimeslideInterval(),
		NumSlides:         s.cfg.GetNumSlides(),
		LoudestKeepPos:    s.cfg.GetLoudestKeepPos(),
		LoudestKeepNeg:    s.cfg.GetLoudestKeepNeg(),
		Rank:              coinc.DefaultRankParams(),
	}, in.Analysis)
	for _, d := range dets {
		if err := finder.Add(d, out.Triggers[d]); err != nil {
			return nil, s.abort(out, fmt.Errorf("pipeline: %w", err))
		}
	}
	res, err := finder.Run(out.Fits)
	if err != nil {
		return nil, s.abort(out, fmt.Errorf("pipeline: %w", err))
	}
	out.Warnings = append(out.Warnings, res.Warnings...)

	if keep := s.cfg.RankCombinations; len(keep) > 0 {
		for combo := range res.ByCombo {
			found := false
			for _, k := range keep {
				if combo == k {
					found = true
					break
				}
			}
			if !found {
				delete(res.ByCombo, combo)
			}
		}
	}

	// Each combination's foreground livetime is the overlap of its
	// detectors' valid stretches.
	out.Statmaps = statmap.FromResults(res, in.Analysis.Duration(), 2*s.cfg.GetNumSlides())
	for combo, m := range out.Statmaps {
		overlap := comboLivetime(combo, valid)
		m.ForegroundTime = overlap
		fg, bg := len(m.Foreground), len(m.Background)
		monitoring.Logf("pipeline: %s: %d foreground, %d background, %.0f s livetime", combo, fg, bg, overlap)
	}

	out.Combined = statmap.Combine(out.Statmaps, statmap.CombineConfig{
		MaxHierarchicalRemoval: s.cfg.GetMaxHierarchicalRemoval(),
		RemovalThresholdFAR:    s.cfg.GetRemovalThresholdFAR(),
		SupersedeWindow:        statmap.DefaultCombineConfig().SupersedeWindow,
	})

	if s.stores.Events != nil {
		if err := s.stores.Events.InsertCombined(out.RunID, out.Combined); err != nil {
			return nil, s.abort(out, fmt.Errorf("pipeline: persist events: %w", err))
		}
	}
	if s.stores.Runs != nil {
		if err := s.stores.Runs.CompleteRun(out.RunID); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}
	monitoring.Logf("pipeline: run %s done: %d ranked events, %d failures, %d warnings",
		out.RunID, len(out.Combined.Events), len(out.Failures), len(out.Warnings))
	return out, nil
}

// conditionSegments gates each (detector, segment) unit, estimates its PSD,
// and computes the PSD-variation series, in parallel. Failed units are
// dropped from the join; siblings continue.
func (s *Search) conditionSegments(ctx context.Context, series map[string]*strain.TimeSeries, segs map[string][]strain.AnalysisSegment, out *Output) []prepared {
	type job struct {
		det string
		seg strain.AnalysisSegment
	}
	var jobs []job
	for det, list := range segs {
		for _, a := range list {
			jobs = append(jobs, job{det: det, seg: a})
		}
	}

	rate := float64(s.cfg.GetSampleRate())
	gate := strain.GateParams{
		Threshold:     s.cfg.GetAutogatingThreshold(),
		Width:         s.cfg.GetAutogatingWidth(),
		Taper:         s.cfg.GetAutogatingTaper(),
		MaxIterations: s.cfg.GetAutogatingIterations(),
	}
	est := psd.EstimateParams{
		SegmentLength: s.cfg.GetPSDSegmentLength(),
		NumSegments:   s.cfg.GetPSDNumSegments(),
		Stride:        s.cfg.GetPSDSegmentStride(),
	}
	maxFilterLen := int(s.cfg.GetMaxFilterDuration() * rate)
	cutoff := s.cfg.GetLowFrequencyCutoff()

	type result struct {
		prep *prepared
		fail *UnitFailure
	}
	results := make([]result, len(jobs))

	var wg sync.WaitGroup
	work := make(chan int)
	for w := 0; w < s.workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				if ctx.Err() != nil {
					continue
				}
				j := jobs[i]
				prep, fail := s.conditionOne(series[j.det], j.det, j.seg, gate, est, maxFilterLen, cutoff)
				results[i] = result{prep: prep, fail: fail}
			}
		}()
	}
	for i := range jobs {
		work <- i
	}
	close(work)
	wg.Wait()

	var preps []prepared
	for _, r := range results {
		if r.fail != nil {
			s.recordFailureStruct(out, *r.fail)
			continue
		}
		if r.prep != nil {
			preps = append(preps, *r.prep)
		}
	}
	return preps
}

func (s *Search) conditionOne(ts *strain.TimeSeries, det string, seg strain.AnalysisSegment, gate strain.GateParams, est psd.EstimateParams, maxFilterLen int, cutoff float64) (*prepared, *UnitFailure) {
	slice, err := ts.Slice(seg.Full.Start, seg.Full.End)
	if err != nil {
		return nil, &UnitFailure{Detector: det, Segment: seg.Full, Stage: "condition", Reason: err.Error()}
	}

	gated, gates := strain.AutoGate(slice, gate)
	if len(gates) > 0 {
		monitoring.Logf("pipeline: %s [%.0f, %.0f): %d autogates applied", det, seg.Full.Start, seg.Full.End, len(gates))
	}

	est.Detector = det
	spec, err := psd.Estimate(gated, est)
	if err != nil {
		return nil, &UnitFailure{Detector: det, Segment: seg.Full, Stage: "psd", Reason: err.Error()}
	}
	spec = spec.InverseSpectrumTruncation(maxFilterLen, cutoff)

	psdVar, err := mf.PSDVariation(gated, spec, mf.DefaultPSDVarParams())
	if err != nil {
		return nil, &UnitFailure{Detector: det, Segment: seg.Full, Stage: "psdvar", Reason: err.Error()}
	}
	return &prepared{seg: seg, series: gated, spec: spec, psdVar: psdVar}, nil
}

// filterSegments matched-filters every (prepared segment, bank partition)
// unit and scans the SNR series into triggers. Triggers are merged on join
// under a single writer.
func (s *Search) filterSegments(ctx context.Context, preps []prepared, out *Output) {
	parts := s.bank.Partitions(s.cfg.GetBankPartitions())
	type job struct {
		prep *prepared
		part []bank.Template
	}
	var jobs []job
	for i := range preps {
		for _, part := range parts {
			jobs = append(jobs, job{prep: &preps[i], part: part})
		}
	}

	mfParams := mf.Params{
		LowFrequencyCutoff: s.cfg.GetLowFrequencyCutoff(),
		ChisqBins:          s.cfg.GetChisqBins(),
		ChisqSNRThreshold:  s.cfg.GetChisqSNRThreshold(),
		SGMassThreshold:    mf.DefaultParams().SGMassThreshold,
		SGVetoQ:            mf.DefaultParams().SGVetoQ,
	}
	scan := triggers.ScanParams{
		SNRThreshold:    s.cfg.GetSNRThreshold(),
		NewSNRThreshold: s.cfg.GetNewSNRThreshold(),
		ClusterWindow:   s.cfg.GetClusterWindow(),
		SGVetoThreshold: s.cfg.GetSGVetoThreshold(),
	}
	rate := float64(s.cfg.GetSampleRate())

	type unitOut struct {
		det   string
		trigs []triggers.Trigger
		fail  *UnitFailure
	}
	results := make([]unitOut, len(jobs))

	var wg sync.WaitGroup
	work := make(chan int)
	for w := 0; w < s.workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Engines are keyed by sample count: clamped final segments are
			// shorter than the configured length. Plans are reused across
			// units and never shared between goroutines.
			engines := make(map[int]*mf.Engine)
			for i := range work {
				if ctx.Err() != nil {
					continue
				}
				j := jobs[i]
				n := len(j.prep.series.Data)
				engine, ok := engines[n]
				if !ok {
					e, err := mf.NewEngine(n, rate, mfParams)
					if err != nil {
						results[i] = unitOut{fail: &UnitFailure{Detector: j.prep.seg.Detector,
							Segment: j.prep.seg.Full, Stage: "filter", Reason: err.Error()}}
						continue
					}
					engines[n] = e
					engine = e
				}
				trigs, fail := s.filterOne(engine, j.prep, j.part, scan)
				results[i] = unitOut{det: j.prep.seg.Detector, trigs: trigs, fail: fail}
			}
		}()
	}
	for i := range jobs {
		work <- i
	}
	close(work)
	wg.Wait()

	for _, r := range results {
		if r.fail != nil {
			s.recordFailureStruct(out, *r.fail)
			continue
		}
		if r.det != "" {
			out.Triggers[r.det] = append(out.Triggers[r.det], r.trigs...)
		}
	}
}

func (s *Search) filterOne(engine *mf.Engine, prep *prepared, part []bank.Template, scan triggers.ScanParams) ([]triggers.Trigger, *UnitFailure) {
	det := prep.seg.Detector

	seg, err := engine.Prepare(prep.series, prep.spec)
	if err != nil {
		return nil, &UnitFailure{Detector: det, Segment: prep.seg.Full, Stage: "filter", Reason: err.Error()}
	}
	var trigs []triggers.Trigger
	for _, tmpl := range part {
		res, err := engine.Filter(seg, tmpl)
		if err != nil {
			// One degenerate template must not sink the partition.
			monitoring.Logf("pipeline: %s template %d: %v", det, tmpl.ID, err)
			continue
		}
		trigs = append(trigs, triggers.Scan(res, det, prep.seg.Valid, prep.psdVar, scan)...)
	}
	return trigs, nil
}

// comboLivetime is the overlap of the combination's detectors' valid
// stretches.
func comboLivetime(combo string, valid map[string]strain.SegmentList) float64 {
	var overlap strain.SegmentList
	first := true
	for i := 0; i+2 <= len(combo); i += 2 {
		det := combo[i : i+2]
		if first {
			overlap = valid[det]
			first = false
			continue
		}
		overlap = overlap.Intersect(valid[det])
	}
	return overlap.TotalDuration()
}

func (s *Search) workers() int {
	if n := s.cfg.GetWorkers(); n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func (s *Search) recordFailure(out *Output, det string, seg strain.Segment, stage string, err error) {
	s.recordFailureStruct(out, UnitFailure{Detector: det, Segment: seg, Stage: stage, Reason: err.Error()})
}

func (s *Search) recordFailureStruct(out *Output, f UnitFailure) {
	monitoring.Logf("pipeline: %s [%.0f, %.0f) %s: %s", f.Detector, f.Segment.Start, f.Segment.End, f.Stage, f.Reason)
	out.Failures = append(out.Failures, f)
	if s.stores.Gaps != nil && out.RunID != "" {
		if err := s.stores.Gaps.Insert(out.RunID, f.Detector, f.Segment, f.Stage, f.Reason); err != nil {
			monitoring.Logf("pipeline: record gap: %v", err)
		}
	}
	sortFailures(out.Failures)
}

func sortFailures(fails []UnitFailure) {
	sort.SliceStable(fails, func(i, j int) bool {
		if fails[i].Detector != fails[j].Detector {
			return fails[i].Detector < fails[j].Detector
		}
		return fails[i].Segment.Start < fails[j].Segment.Start
	})
}

func (s *Search) abort(out *Output, err error) error {
	if s.stores.Runs != nil && out.RunID != "" {
		if ferr := s.stores.Runs.FailRun(out.RunID, err); ferr != nil {
			monitoring.Logf("pipeline: fail run: %v", ferr)
		}
	}
	return err
}
