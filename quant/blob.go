// Package quant - Gewichts-Container und lineare Projektion fuer Edge-Modelle.
//
// MODUL: blob
// ZWECK: Gewichtsmatrizen in Full-Precision (float32) oder 4-Bit gepackt halten
// INPUT: Zeilen/Spalten (outDim x inputDim), Rohgewichte oder gepackte Nibbles + Scales
// OUTPUT: WeightBlob fuer Project, Dequantize
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: keine (nur Standardbibliothek)
// HINWEISE: Flacher Index k = i*inputDim + j. Byte k/2 haelt zwei Werte,
//           gerades k im oberen Nibble. Ein float32-Scale pro BlockSize Werte.
package quant

import (
	"errors"
	"fmt"
)

// BlockSize ist die Anzahl Gewichte pro Scale-Faktor im 4-Bit Format.
// Entspricht der Blockgroesse von GGML Q4_0.
const BlockSize = 32

// Format beschreibt die Speicherform eines WeightBlob.
type Format uint8

const (
	FormatF32 Format = iota
	FormatQ4
)

func (f Format) String() string {
	switch f {
	case FormatF32:
		return "f32"
	case FormatQ4:
		return "q4"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// Fehler
var (
	ErrMissingBuffer = errors.New("quant: buffer fehlt")
	ErrShape         = errors.New("quant: ungueltige Dimensionen")
	ErrInputLength   = errors.New("quant: Eingabelaenge passt nicht zu inputDim")
)

// WeightBlob ist eine row-major Matrix der Groesse Rows x Cols.
type WeightBlob struct {
	Format Format
	Rows   int // outDim
	Cols   int // inputDim

	// F32 haelt Rows*Cols Werte bei FormatF32.
	F32 []float32

	// Packed und Scales sind bei FormatQ4 gesetzt.
	Packed []byte
	Scales []float32
}

// NewF32 erstellt einen Full-Precision Blob. w wird nicht kopiert.
func NewF32(rows, cols int, w []float32) (*WeightBlob, error) {
	b := &WeightBlob{Format: FormatF32, Rows: rows, Cols: cols, F32: w}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// NewQ4 erstellt einen 4-Bit Blob aus gepackten Nibbles und Scales.
func NewQ4(rows, cols int, packed []byte, scales []float32) (*WeightBlob, error) {
	b := &WeightBlob{Format: FormatQ4, Rows: rows, Cols: cols, Packed: packed, Scales: scales}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Len gibt die Anzahl der Gewichte zurueck.
func (b *WeightBlob) Len() int {
	return b.Rows * b.Cols
}

// Quantized meldet ob der Blob 4-Bit gepackt ist.
func (b *WeightBlob) Quantized() bool {
	return b.Format == FormatQ4
}

// Validate prueft Dimensionen und Puffergroessen.
func (b *WeightBlob) Validate() error {
	if b == nil {
		return ErrMissingBuffer
	}
	if b.Rows <= 0 || b.Cols <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrShape, b.Rows, b.Cols)
	}

	n := b.Len()
	switch b.Format {
	case FormatF32:
		if b.F32 == nil {
			return ErrMissingBuffer
		}
		if len(b.F32) != n {
			return fmt.Errorf("%w: %d Werte, erwartet %d", ErrShape, len(b.F32), n)
		}
	case FormatQ4:
		if b.Packed == nil || b.Scales == nil {
			return ErrMissingBuffer
		}
		if len(b.Packed) != PackedBytes(n) {
			return fmt.Errorf("%w: %d Bytes, erwartet %d", ErrShape, len(b.Packed), PackedBytes(n))
		}
		if len(b.Scales) != NumBlocks(n) {
			return fmt.Errorf("%w: %d Scales, erwartet %d", ErrShape, len(b.Scales), NumBlocks(n))
		}
	default:
		return fmt.Errorf("%w: unbekanntes Format %v", ErrShape, b.Format)
	}
	return nil
}

// NumBytes gibt den Speicherbedarf der Gewichte ohne Scales zurueck.
func (b *WeightBlob) NumBytes() int {
	return WeightBytes(b.Len(), b.Quantized())
}

// ScaleBytes gibt den Speicherbedarf der Scale-Tabelle zurueck.
func (b *WeightBlob) ScaleBytes() int {
	if !b.Quantized() {
		return 0
	}
	return NumBlocks(b.Len()) * 4
}

// At liefert das (dequantisierte) Gewicht in Zeile i, Spalte j.
func (b *WeightBlob) At(i, j int) float32 {
	k := i*b.Cols + j
	if b.Format == FormatF32 {
		return b.F32[k]
	}
	return float32(Nibble(b.Packed, k)) * b.Scales[k/BlockSize]
}

// WeightBytes berechnet den Speicherbedarf fuer n Gewichte.
// Quantisiert: (n+1)/2 Bytes, sonst n*4.
func WeightBytes(n int, quantized bool) int {
	if quantized {
		return PackedBytes(n)
	}
	return n * 4
}

// PackedBytes gibt die Anzahl Bytes fuer n gepackte 4-Bit Werte zurueck.
func PackedBytes(n int) int {
	return (n + 1) / 2
}

// NumBlocks gibt die Anzahl Scale-Bloecke fuer n Werte zurueck.
func NumBlocks(n int) int {
	return (n + BlockSize - 1) / BlockSize
}

// Nibble liest den vorzeichenbehafteten Wert (-8..7) an flachem Index k.
func Nibble(packed []byte, k int) int8 {
	v := packed[k/2]
	if k%2 == 0 {
		return int8(v>>4) - 8
	}
	return int8(v&0x0F) - 8
}

// setNibble schreibt den Wert q (-8..7) an flachem Index k.
func setNibble(packed []byte, k int, q int8) {
	u := byte(q+8) & 0x0F
	if k%2 == 0 {
		packed[k/2] = packed[k/2]&0x0F | u<<4
	} else {
		packed[k/2] = packed[k/2]&0xF0 | u
	}
}
