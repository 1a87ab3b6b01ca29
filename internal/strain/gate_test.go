package strain

import (
	"math"
	"testing"

	"github.com/banshee-data/gwsearch/internal/testutil"
)

func TestAutoGateRemovesGlitch(t *testing.T) {
	const rate = 256.0
	ts := &TimeSeries{Epoch: 1000, SampleRate: rate}
	ts.Data = testutil.GaussianNoise(int(16*rate), 7)

	// Plant a glitch well above any Gaussian excursion.
	glitchIdx := len(ts.Data) / 2
	ts.Data[glitchIdx] = 500

	gated, gates := AutoGate(ts, DefaultGateParams())
	if len(gates) != 1 {
		t.Fatalf("expected 1 gate, got %d", len(gates))
	}
	if gated.Data[glitchIdx] != 0 {
		t.Errorf("glitch sample not zeroed: %g", gated.Data[glitchIdx])
	}
	if !gates[0].Zeroed.Contains(ts.TimeOf(glitchIdx)) {
		t.Errorf("gate %v does not cover glitch at %f", gates[0].Zeroed, ts.TimeOf(glitchIdx))
	}

	// Original input untouched.
	if ts.Data[glitchIdx] != 500 {
		t.Error("AutoGate modified its input")
	}
}

func TestAutoGateMultiplePasses(t *testing.T) {
	const rate = 256.0
	ts := &TimeSeries{Epoch: 0, SampleRate: rate}
	ts.Data = testutil.GaussianNoise(int(32*rate), 11)
	ts.Data[1000] = 800
	ts.Data[5000] = 400

	_, gates := AutoGate(ts, DefaultGateParams())
	if len(gates) != 2 {
		t.Fatalf("expected 2 gates, got %d", len(gates))
	}
	// Loudest glitch gated first.
	if !gates[0].Zeroed.Contains(ts.TimeOf(1000)) {
		t.Errorf("first gate %v should cover the louder glitch", gates[0].Zeroed)
	}
}

func TestAutoGateCleanDataUntouched(t *testing.T) {
	ts := &TimeSeries{Epoch: 0, SampleRate: 256}
	ts.Data = testutil.GaussianNoise(4096, 3)

	gated, gates := AutoGate(ts, DefaultGateParams())
	if len(gates) != 0 {
		t.Fatalf("clean data produced %d gates", len(gates))
	}
	for i := range ts.Data {
		if gated.Data[i] != ts.Data[i] {
			t.Fatalf("sample %d changed on clean data", i)
		}
	}
}

func TestAutoGateDisabled(t *testing.T) {
	ts := &TimeSeries{Epoch: 0, SampleRate: 256, Data: []float64{0, 1e6, 0}}
	gated, gates := AutoGate(ts, GateParams{})
	if len(gates) != 0 || gated.Data[1] != 1e6 {
		t.Error("zero-valued params should disable gating")
	}
}

func TestResampleDecimatesSine(t *testing.T) {
	const inRate = 1024.0
	const outRate = 256.0
	const freq = 20.0 // well below both Nyquists

	n := int(8 * inRate)
	ts := &TimeSeries{Epoch: 0, SampleRate: inRate, Data: make([]float64, n)}
	for i := range ts.Data {
		ts.Data[i] = math.Sin(2 * math.Pi * freq * float64(i) / inRate)
	}

	out, err := Resample(ts, outRate)
	testutil.AssertNoError(t, err)
	if out.SampleRate != outRate {
		t.Fatalf("rate = %g, want %g", out.SampleRate, outRate)
	}
	if len(out.Data) != n/4 {
		t.Fatalf("len = %d, want %d", len(out.Data), n/4)
	}

	// Interior samples should still trace the sine (filter edges excluded).
	for i := 100; i < len(out.Data)-100; i++ {
		want := math.Sin(2 * math.Pi * freq * float64(i) / outRate)
		if math.Abs(out.Data[i]-want) > 0.05 {
			t.Fatalf("sample %d: got %g, want %g", i, out.Data[i], want)
		}
	}
}

func TestResampleRejectsNonIntegerFactor(t *testing.T) {
	ts := &TimeSeries{Epoch: 0, SampleRate: 1000, Data: make([]float64, 1000)}
	if _, err := Resample(ts, 256); err == nil {
		t.Fatal("expected error for non-integer decimation factor")
	}
}
