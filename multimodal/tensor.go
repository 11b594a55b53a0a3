// MODUL: tensor
// ZWECK: Benannte Gewichtsmatrizen und Bias-Vektoren des Modells
// INPUT: float32-Werte (Init, Datei) oder bereits gepackte 4-Bit Blobs
// OUTPUT: quant.WeightBlob im Gewichtsbereich des Pools
// NEBENEFFEKTE: Allokation im Gewichtsbereich bei placed
// ABHAENGIGKEITEN: quant, pool, math/rand/v2
// HINWEISE: Bias-Vektoren werden nie quantisiert

package multimodal

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/ollama/edgefuse/pool"
	"github.com/ollama/edgefuse/quant"
)

type tensor struct {
	name       string
	rows, cols int
	bias       bool
	blob       *quant.WeightBlob
}

func newMatrix(name string, rows, cols int) *tensor {
	return &tensor{name: name, rows: rows, cols: cols}
}

func newBias(name string, n int) *tensor {
	return &tensor{name: name, rows: n, cols: 1, bias: true}
}

// values liefert die Werte eines Bias, nil fuer einen fehlenden Tensor.
func (t *tensor) values() []float32 {
	if t == nil || t.blob == nil {
		return nil
	}
	return t.blob.F32
}

// rowScratch ist der Scratch-Bedarf einer Projektion mit t.
func (t *tensor) rowScratch() int {
	if t == nil {
		return 0
	}
	return quant.RowScratch(t.blob)
}

// project berechnet dst = w*x + b. Die entpackte Zeile des 4-Bit
// SIMD-Kernels liegt im Arbeitsbereich von p und wird sofort freigegeben.
func project(p *pool.Pool, dst, x []float32, w, b *tensor, outDim int, useSIMD bool) error {
	var row []float32
	if n := w.rowScratch(); n > 0 && useSIMD && p != nil {
		mark := p.Mark()
		defer p.Release(mark)

		var err error
		if row, err = p.Scratch(n); err != nil {
			return err
		}
	}
	return quant.ProjectScratch(dst, x, w.blob, b.values(), outDim, useSIMD, row)
}

func (t *tensor) len() int {
	return t.rows * t.cols
}

// setFloat32 uebernimmt f (rows*cols Werte), 4-Bit gepackt wenn quantized.
func (t *tensor) setFloat32(f []float32, quantized bool) error {
	if len(f) != t.len() {
		return fmt.Errorf("%w: %s hat %d Werte, erwartet %d", ErrInvalidConfig, t.name, len(f), t.len())
	}

	var (
		b   *quant.WeightBlob
		err error
	)
	if quantized && !t.bias {
		b, err = quant.Quantize4Bit(t.rows, t.cols, f)
	} else {
		b, err = quant.NewF32(t.rows, t.cols, f)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", t.name, err)
	}
	t.blob = b
	return nil
}

// initXavier fuellt eine Matrix gleichverteilt in +-sqrt(6/(fanIn+fanOut)).
// Bias-Vektoren starten bei 0.
func (t *tensor) initXavier(rng *rand.Rand, quantized bool) error {
	f := make([]float32, t.len())
	if !t.bias {
		limit := math.Sqrt(6 / float64(t.rows+t.cols))
		for i := range f {
			f[i] = float32((2*rng.Float64() - 1) * limit)
		}
	}
	return t.setFloat32(f, quantized)
}

// plan vermerkt den Speicherbedarf im Gewichtsbereich.
func (t *tensor) plan(pl *pool.Plan) {
	if t.blob != nil && t.blob.Quantized() {
		pl.Add(len(t.blob.Packed))
		pl.AddFloat32(len(t.blob.Scales))
		return
	}
	pl.AddFloat32(t.len())
}

// placed kopiert den Blob in den Gewichtsbereich von p und liefert die Kopie.
// t selbst bleibt unveraendert.
func (t *tensor) placed(p *pool.Pool) (*quant.WeightBlob, error) {
	b := t.blob
	if b.Quantized() {
		packed, err := p.AllocBytes(len(b.Packed))
		if err != nil {
			return nil, err
		}
		scales, err := p.AllocFloat32(len(b.Scales))
		if err != nil {
			return nil, err
		}
		copy(packed, b.Packed)
		copy(scales, b.Scales)
		return &quant.WeightBlob{Format: quant.FormatQ4, Rows: b.Rows, Cols: b.Cols, Packed: packed, Scales: scales}, nil
	}

	f, err := p.AllocFloat32(len(b.F32))
	if err != nil {
		return nil, err
	}
	copy(f, b.F32)
	return &quant.WeightBlob{Format: quant.FormatF32, Rows: b.Rows, Cols: b.Cols, F32: f}, nil
}
