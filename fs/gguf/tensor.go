// MODUL: tensor
// ZWECK: GGUF Tensor-Typen und Tensor-Metadaten
// INPUT: Typ-ID und Shape aus dem Datei-Header
// OUTPUT: TensorType, TensorInfo mit Groessenberechnung
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: keine (nur Standardbibliothek)
// HINWEISE: Nur die Typen, die edgefuse liest oder schreibt, haben Groessen.

package gguf

import "fmt"

// TensorType entspricht ggml_type.
type TensorType uint32

const (
	TensorTypeF32  TensorType = 0
	TensorTypeF16  TensorType = 1
	TensorTypeQ4_0 TensorType = 2
	TensorTypeQ8_0 TensorType = 8
	TensorTypeI8   TensorType = 24
	TensorTypeI16  TensorType = 25
	TensorTypeI32  TensorType = 26
	TensorTypeBF16 TensorType = 30
)

// Q4_0 Block: float16 Scale + 16 Bytes mit 32 Nibbles
const (
	Q4_0BlockSize  = 32
	Q4_0BlockBytes = 2 + Q4_0BlockSize/2
)

func (t TensorType) String() string {
	switch t {
	case TensorTypeF32:
		return "F32"
	case TensorTypeF16:
		return "F16"
	case TensorTypeQ4_0:
		return "Q4_0"
	case TensorTypeQ8_0:
		return "Q8_0"
	case TensorTypeI8:
		return "I8"
	case TensorTypeI16:
		return "I16"
	case TensorTypeI32:
		return "I32"
	case TensorTypeBF16:
		return "BF16"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// ParseTensorType parst einen Typnamen wie "F16" oder "Q4_0".
func ParseTensorType(s string) (TensorType, error) {
	for _, t := range []TensorType{TensorTypeF32, TensorTypeF16, TensorTypeQ4_0, TensorTypeQ8_0, TensorTypeI8, TensorTypeI16, TensorTypeI32, TensorTypeBF16} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w tensor type %q", ErrUnsupported, s)
}

// BlockSize ist die Anzahl Werte pro Block.
func (t TensorType) BlockSize() uint64 {
	switch t {
	case TensorTypeQ4_0, TensorTypeQ8_0:
		return 32
	default:
		return 1
	}
}

// TypeSize ist die Anzahl Bytes pro Block.
func (t TensorType) TypeSize() uint64 {
	switch t {
	case TensorTypeF32, TensorTypeI32:
		return 4
	case TensorTypeF16, TensorTypeBF16, TensorTypeI16:
		return 2
	case TensorTypeI8:
		return 1
	case TensorTypeQ4_0:
		return Q4_0BlockBytes
	case TensorTypeQ8_0:
		return 2 + 32
	default:
		return 0
	}
}

// TensorInfo beschreibt einen Tensor im Datenbereich.
// Shape[0] ist die innerste Dimension (Spalten).
type TensorInfo struct {
	Name   string
	Offset uint64
	Shape  []uint64
	Type   TensorType
}

// Valid meldet ob der Eintrag gefunden wurde.
func (ti TensorInfo) Valid() bool {
	return ti.Name != "" && ti.NumBytes() > 0
}

// NumValues ist das Produkt der Shape.
func (ti TensorInfo) NumValues() uint64 {
	if len(ti.Shape) == 0 {
		return 0
	}
	n := uint64(1)
	for _, d := range ti.Shape {
		n *= d
	}
	return n
}

// NumBytes ist die Groesse der Tensor-Daten.
func (ti TensorInfo) NumBytes() int64 {
	bs := ti.Type.BlockSize()
	return int64(ti.NumValues() / bs * ti.Type.TypeSize())
}

// Rows und Cols interpretieren einen 2D-Tensor als Matrix.
func (ti TensorInfo) Cols() int {
	if len(ti.Shape) == 0 {
		return 0
	}
	return int(ti.Shape[0])
}

func (ti TensorInfo) Rows() int {
	if len(ti.Shape) < 2 {
		return 1
	}
	return int(ti.NumValues()) / int(ti.Shape[0])
}
