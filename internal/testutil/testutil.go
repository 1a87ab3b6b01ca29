// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common numerical test helpers to reduce code
// duplication across the analysis packages.
package testutil

import (
	"math"
	"math/rand"
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertInDelta checks that got is within delta of want.
func AssertInDelta(t *testing.T, got, want, delta float64) {
	t.Helper()
	if math.IsNaN(got) || math.Abs(got-want) > delta {
		t.Errorf("got %g, want %g ± %g", got, want, delta)
	}
}

// AssertSlicesInDelta checks two float64 slices element-wise within delta.
func AssertSlicesInDelta(t *testing.T, got, want []float64, delta float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range got {
		if math.IsNaN(got[i]) || math.Abs(got[i]-want[i]) > delta {
			t.Errorf("index %d: got %g, want %g ± %g", i, got[i], want[i], delta)
			return
		}
	}
}

// GaussianNoise returns n samples of unit-variance Gaussian noise from a
// seeded source, so fixtures are reproducible across runs.
func GaussianNoise(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64()
	}
	return out
}
