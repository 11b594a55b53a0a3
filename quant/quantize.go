// MODUL: quantize
// ZWECK: float32-Gewichte in das 4-Bit Blockformat packen und zurueckwandeln
// INPUT: row-major float32 Matrix bzw. WeightBlob
// OUTPUT: WeightBlob (FormatQ4) bzw. []float32
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: math (stdlib)
// HINWEISE: scale = maxAbs/7 pro Block, q = clamp(round(w/scale), -8, 7).
//           Ein Block mit maxAbs == 0 bekommt scale 0 und nur Null-Werte.

package quant

import (
	"fmt"
	"math"
)

// Quantize4Bit packt eine rows x cols Matrix in das 4-Bit Format.
func Quantize4Bit(rows, cols int, w []float32) (*WeightBlob, error) {
	if w == nil {
		return nil, ErrMissingBuffer
	}
	if rows <= 0 || cols <= 0 || len(w) != rows*cols {
		return nil, fmt.Errorf("%w: %dx%d mit %d Werten", ErrShape, rows, cols, len(w))
	}

	n := len(w)
	packed := make([]byte, PackedBytes(n))
	scales := make([]float32, NumBlocks(n))

	for blk := range scales {
		start := blk * BlockSize
		end := min(start+BlockSize, n)

		var maxAbs float32
		for _, v := range w[start:end] {
			maxAbs = max(maxAbs, float32(math.Abs(float64(v))))
		}

		scale := maxAbs / 7
		scales[blk] = scale

		for k := start; k < end; k++ {
			setNibble(packed, k, quantizeValue(w[k], scale))
		}
	}

	return &WeightBlob{Format: FormatQ4, Rows: rows, Cols: cols, Packed: packed, Scales: scales}, nil
}

func quantizeValue(v, scale float32) int8 {
	if scale == 0 {
		return 0
	}
	q := math.Round(float64(v / scale))
	return int8(max(-8, min(7, q)))
}

// Dequantize wandelt einen Blob in eine row-major float32 Matrix um.
// Fuer FormatF32 wird eine Kopie geliefert.
func Dequantize(b *WeightBlob) ([]float32, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	if b.Format == FormatF32 {
		out := make([]float32, len(b.F32))
		copy(out, b.F32)
		return out, nil
	}

	out := make([]float32, b.Len())
	dequantizeRange(out, b.Packed, b.Scales, 0)
	return out, nil
}

// dequantizeRange entpackt len(dst) Werte ab flachem Index start.
func dequantizeRange(dst []float32, packed []byte, scales []float32, start int) {
	for j := range dst {
		k := start + j
		dst[j] = float32(Nibble(packed, k)) * scales[k/BlockSize]
	}
}

// Pack baut einen 4-Bit Blob aus vorzeichenbehafteten Werten (-8..7) und
// Block-Scales, z.B. beim Umpacken fremder 4-Bit Formate.
func Pack(rows, cols int, q []int8, scales []float32) (*WeightBlob, error) {
	if q == nil || scales == nil {
		return nil, ErrMissingBuffer
	}
	if rows <= 0 || cols <= 0 || len(q) != rows*cols {
		return nil, fmt.Errorf("%w: %dx%d mit %d Werten", ErrShape, rows, cols, len(q))
	}

	packed := make([]byte, PackedBytes(len(q)))
	for k, v := range q {
		if v < -8 || v > 7 {
			return nil, fmt.Errorf("%w: Wert %d an Index %d ausserhalb -8..7", ErrShape, v, k)
		}
		setNibble(packed, k, v)
	}
	return NewQ4(rows, cols, packed, scales)
}

// Unpack liefert die vorzeichenbehafteten 4-Bit Werte eines Q4-Blobs.
func Unpack(b *WeightBlob) ([]int8, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if !b.Quantized() {
		return nil, fmt.Errorf("%w: %v ist nicht gepackt", ErrShape, b.Format)
	}

	q := make([]int8, b.Len())
	for k := range q {
		q[k] = Nibble(b.Packed, k)
	}
	return q, nil
}
