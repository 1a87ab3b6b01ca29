// Command gen-strain writes synthetic Gaussian strain caches, optionally
// with a compact-binary injection, for exercising the search end to end.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/cmplx"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/banshee-data/gwsearch/internal/bank"
	"github.com/banshee-data/gwsearch/internal/strain"
)

var (
	outDir     = flag.String("o", ".", "Output directory for the cache files")
	detectors  = flag.String("detectors", "H1,L1", "Comma-separated detector names")
	epoch      = flag.Float64("epoch", 1000000000, "GPS epoch of the first sample")
	duration   = flag.Float64("duration", 512, "Duration in seconds")
	rate       = flag.Float64("rate", 2048, "Sample rate in Hz")
	seed       = flag.Int64("seed", 1, "Base noise seed; each detector adds its index")
	mass1      = flag.Float64("m1", 10, "Injection primary mass in solar masses")
	mass2      = flag.Float64("m2", 10, "Injection secondary mass in solar masses")
	injectTime = flag.Float64("inject-time", 0, "Injection GPS time; 0 disables the injection")
	injectSNR  = flag.Float64("inject-snr", 12, "Injection optimal SNR in each detector")
	fLow       = flag.Float64("flow", 20, "Low frequency cutoff for the injected waveform")
)

func main() {
	flag.Parse()

	n := int(*duration * *rate)
	if n <= 0 {
		log.Fatal("duration and rate must be positive")
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	tmpl := bank.Template{ID: 0, Mass1: *mass1, Mass2: *mass2}
	dets := strings.Split(*detectors, ",")
	for i, det := range dets {
		det = strings.TrimSpace(det)
		ts := strain.NewTimeSeries(*epoch, *rate, n)
		rng := rand.New(rand.NewSource(*seed + int64(i)))
		for j := range ts.Data {
			ts.Data[j] = rng.NormFloat64()
		}

		if *injectTime > 0 {
			if *injectTime < ts.Epoch || *injectTime >= ts.Epoch+ts.Duration() {
				log.Fatalf("Injection time %.3f outside [%.0f, %.0f)", *injectTime, ts.Epoch, ts.Epoch+ts.Duration())
			}
			inject(ts, tmpl, *injectTime, *injectSNR, *fLow)
		}

		path := filepath.Join(*outDir, fmt.Sprintf("%s.gwsc", det))
		if err := strain.WriteCache(path, det, ts); err != nil {
			log.Fatalf("Failed to write %s: %v", path, err)
		}
		log.Printf("%s: %.0f s at %.0f Hz -> %s", det, ts.Duration(), ts.SampleRate, path)
	}
	if *injectTime > 0 {
		log.Printf("Injected m1=%.1f m2=%.1f at GPS %.3f with SNR %.1f", *mass1, *mass2, *injectTime, *injectSNR)
	}
}

// inject adds the template waveform scaled so its optimal SNR against the
// flat PSD of the unit-variance noise equals targetSNR, with the merger at
// GPS time t0.
func inject(ts *strain.TimeSeries, tmpl bank.Template, t0, targetSNR, fLow float64) {
	n := len(ts.Data)
	deltaF := ts.SampleRate / float64(n)
	nbins := n/2 + 1
	h := tmpl.Waveform(nbins, deltaF, fLow)

	var sigma2 float64
	for _, hv := range h {
		sigma2 += (real(hv)*real(hv) + imag(hv)*imag(hv)) * (ts.SampleRate / 2.0)
	}
	sigma2 *= 4 * deltaF
	if sigma2 <= 0 {
		log.Fatal("Injection waveform has zero norm; check masses and cutoff")
	}
	amp := targetSNR / math.Sqrt(sigma2)

	coeffs := make([]complex128, nbins)
	offset := t0 - ts.Epoch
	for k := range h {
		f := float64(k) * deltaF
		coeffs[k] = h[k] * complex(amp, 0) * cmplx.Exp(complex(0, -2*math.Pi*f*offset))
	}
	rfft := fourier.NewFFT(n)
	sig := rfft.Sequence(nil, coeffs)
	scale := 1.0 / (float64(n) * ts.DeltaT())
	for i := range ts.Data {
		ts.Data[i] += sig[i] * scale
	}
}
