// Package bank loads the pregenerated template bank and generates the
// frequency-domain waveform for each template.
package bank

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// MTSun is one solar mass expressed in seconds (G*Msun/c^3).
const MTSun = 4.925490947641267e-6

// Template is one waveform in the bank, identified by its intrinsic
// parameters and bank index. Immutable after loading.
type Template struct {
	ID     int     `json:"id"`
	Mass1  float64 `json:"mass1"`
	Mass2  float64 `json:"mass2"`
	Spin1z float64 `json:"spin1z"`
	Spin2z float64 `json:"spin2z"`
}

// TotalMass returns m1+m2 in solar masses.
func (t Template) TotalMass() float64 { return t.Mass1 + t.Mass2 }

// ChirpMass returns (m1*m2)^(3/5) / (m1+m2)^(1/5) in solar masses.
func (t Template) ChirpMass() float64 {
	return math.Pow(t.Mass1*t.Mass2, 3.0/5.0) / math.Pow(t.TotalMass(), 1.0/5.0)
}

// FinalFrequency returns the ISCO gravitational-wave frequency in Hz, where
// the template waveform terminates.
func (t Template) FinalFrequency() float64 {
	mSec := t.TotalMass() * MTSun
	return 1.0 / (math.Pow(6, 1.5) * math.Pi * mSec)
}

// Bank is an immutable, loaded template bank.
type Bank struct {
	Templates []Template
}

// Load reads a JSON bank file: an array of templates. Missing IDs are
// assigned from the array index; duplicate masses are allowed, duplicate
// IDs are not.
func Load(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load bank: %w", err)
	}
	var templates []Template
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("load bank %s: %w", path, err)
	}
	return New(templates)
}

// New validates and wraps a template slice.
func New(templates []Template) (*Bank, error) {
	allZero := true
	for _, t := range templates {
		if t.ID != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		for i := range templates {
			templates[i].ID = i
		}
	}

	seen := make(map[int]bool, len(templates))
	for i, t := range templates {
		if t.Mass1 <= 0 || t.Mass2 <= 0 {
			return nil, fmt.Errorf("bank: template %d has non-positive mass", i)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("bank: duplicate template id %d", t.ID)
		}
		seen[t.ID] = true
	}
	return &Bank{Templates: templates}, nil
}

// ByID returns the template with the given id.
func (b *Bank) ByID(id int) (Template, bool) {
	for _, t := range b.Templates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

// Partitions splits the bank into n contiguous partitions for parallel
// filtering. Partitions differ in size by at most one template.
func (b *Bank) Partitions(n int) [][]Template {
	if n < 1 {
		n = 1
	}
	if n > len(b.Templates) {
		n = len(b.Templates)
	}
	out := make([][]Template, 0, n)
	per := len(b.Templates) / n
	rem := len(b.Templates) % n
	idx := 0
	for i := 0; i < n; i++ {
		size := per
		if i < rem {
			size++
		}
		out = append(out, b.Templates[idx:idx+size])
		idx += size
	}
	return out
}
