// MODUL: features
// ZWECK: Rohsignal auf die feste Eingabelaenge der Audio-Modalitaet bringen
// INPUT: Samples, Ziel-Abtastrate, Ziel-Laenge
// OUTPUT: Merkmalsvektor der Laenge sampleRate*duration
// NEBENEFFEKTE: schreibt nur in dst bzw. in-place
// ABHAENGIGKEITEN: gonum.org/v1/gonum/dsp/fourier
// HINWEISE: Whiten ist laengenerhaltend (FFT, Betrag auf 1, inverse FFT)

package audio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// DefaultPreEmphasis ist der uebliche Koeffizient fuer Sprache
const DefaultPreEmphasis = 0.97

// Features beschreibt die Vorverarbeitung eines Audio-Signals
type Features struct {
	// PreEmphasis > 0 wendet y[n] = x[n] - a*x[n-1] an
	PreEmphasis float32
	// Whiten normiert das Betragsspektrum auf 1
	Whiten bool
}

// DefaultFeatures ist die Standard-Vorverarbeitung
var DefaultFeatures = Features{PreEmphasis: DefaultPreEmphasis, Whiten: true}

// Extract schreibt die Merkmale von samples nach dst.
// samples wird auf len(dst) gekuerzt oder mit Nullen aufgefuellt.
func (f Features) Extract(dst, samples []float32) error {
	if len(dst) == 0 {
		return fmt.Errorf("audio: leerer Ausgabepuffer")
	}

	Fit(dst, samples)

	if f.PreEmphasis > 0 {
		PreEmphasis(dst, f.PreEmphasis)
	}
	if f.Whiten {
		Whiten(dst)
	}
	return nil
}

// Fit kopiert samples nach dst und fuellt den Rest mit Nullen
func Fit(dst, samples []float32) {
	n := copy(dst, samples)
	clear(dst[n:])
}

// PreEmphasis wendet das Hochpass-Filter y[n] = x[n] - a*x[n-1] in-place an
func PreEmphasis(x []float32, a float32) {
	for i := len(x) - 1; i > 0; i-- {
		x[i] -= a * x[i-1]
	}
}

// Whiten normiert das Betragsspektrum von x auf 1 und skaliert das
// Ergebnis auf Effektivwert 1. Ein Null-Signal bleibt unveraendert.
func Whiten(x []float32) {
	n := len(x)
	if n < 2 {
		return
	}

	seq := make([]float64, n)
	for i, v := range x {
		seq[i] = float64(v)
	}

	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, seq)

	const eps = 1e-12
	var energy float64
	for k, c := range coeff {
		mag := math.Hypot(real(c), imag(c))
		energy += mag
		coeff[k] = c / complex(mag+eps, 0)
	}
	if energy == 0 {
		return
	}

	fft.Sequence(seq, coeff)

	var rms float64
	for _, v := range seq {
		rms += v * v
	}
	rms = math.Sqrt(rms / float64(n))
	if rms == 0 {
		return
	}

	for i, v := range seq {
		x[i] = float32(v / rms)
	}
}

// Resample wandelt einen Clip linear interpoliert auf eine neue Abtastrate
func Resample(c *Clip, rate int) (*Clip, error) {
	if rate <= 0 || c.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: ungueltige Abtastrate %d -> %d", c.SampleRate, rate)
	}
	if rate == c.SampleRate || len(c.Samples) == 0 {
		return &Clip{Samples: c.Samples, SampleRate: rate}, nil
	}

	n := int(int64(len(c.Samples)) * int64(rate) / int64(c.SampleRate))
	out := make([]float32, n)
	step := float64(c.SampleRate) / float64(rate)
	last := len(c.Samples) - 1

	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = c.Samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = c.Samples[j]*(1-frac) + c.Samples[j+1]*frac
	}

	return &Clip{Samples: out, SampleRate: rate}, nil
}
