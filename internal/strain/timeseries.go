// Package strain provides the time-domain data model for detector strain:
// evenly sampled time series, science/veto segment arithmetic, analysis
// segmentation, glitch gating, and the binary strain-cache file format.
//
// All times are GPS seconds carried as float64. The analysis is offline and
// deterministic; nothing in this package touches the wall clock.
package strain

import (
	"fmt"
	"math"
)

// TimeSeries is an evenly sampled strain series for one detector.
type TimeSeries struct {
	// Epoch is the GPS time of the first sample, in seconds.
	Epoch float64
	// SampleRate is the sampling frequency in Hz.
	SampleRate float64
	// Data holds the strain samples.
	Data []float64
}

// NewTimeSeries allocates a zeroed series of n samples.
func NewTimeSeries(epoch, sampleRate float64, n int) *TimeSeries {
	return &TimeSeries{
		Epoch:      epoch,
		SampleRate: sampleRate,
		Data:       make([]float64, n),
	}
}

// DeltaT returns the sample spacing in seconds.
func (ts *TimeSeries) DeltaT() float64 {
	return 1.0 / ts.SampleRate
}

// Duration returns the series length in seconds.
func (ts *TimeSeries) Duration() float64 {
	return float64(len(ts.Data)) / ts.SampleRate
}

// EndTime returns the GPS time one sample past the last sample.
func (ts *TimeSeries) EndTime() float64 {
	return ts.Epoch + ts.Duration()
}

// SampleAt returns the index of the sample closest to GPS time t.
func (ts *TimeSeries) SampleAt(t float64) int {
	return int(math.Round((t - ts.Epoch) * ts.SampleRate))
}

// TimeOf returns the GPS time of sample index i.
func (ts *TimeSeries) TimeOf(i int) float64 {
	return ts.Epoch + float64(i)/ts.SampleRate
}

// Copy returns a deep copy of the series.
func (ts *TimeSeries) Copy() *TimeSeries {
	out := &TimeSeries{Epoch: ts.Epoch, SampleRate: ts.SampleRate}
	out.Data = make([]float64, len(ts.Data))
	copy(out.Data, ts.Data)
	return out
}

// Slice returns a copy of the samples covering [start, end) in GPS seconds.
// The bounds must lie within the series.
func (ts *TimeSeries) Slice(start, end float64) (*TimeSeries, error) {
	i := ts.SampleAt(start)
	j := ts.SampleAt(end)
	if i < 0 || j > len(ts.Data) || i >= j {
		return nil, fmt.Errorf("slice [%f, %f) outside series [%f, %f)",
			start, end, ts.Epoch, ts.EndTime())
	}
	out := &TimeSeries{
		Epoch:      ts.TimeOf(i),
		SampleRate: ts.SampleRate,
		Data:       make([]float64, j-i),
	}
	copy(out.Data, ts.Data[i:j])
	return out, nil
}

// RMS returns the root-mean-square of the samples, ignoring exact zeros so
// that already-gated stretches do not drag the estimate down.
func (ts *TimeSeries) RMS() float64 {
	var sum float64
	var n int
	for _, v := range ts.Data {
		if v == 0 {
			continue
		}
		sum += v * v
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}
