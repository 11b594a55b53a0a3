package gguf

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Float32s liest einen F32-, F16-, BF16- oder Q4_0-Tensor als float32.
func (f *File) Float32s(name string) (TensorInfo, []float32, error) {
	t, bts, err := f.TensorBytes(name)
	if err != nil {
		return TensorInfo{}, nil, err
	}

	f32s, err := DecodeFloat32(t.Type, bts)
	if err != nil {
		return TensorInfo{}, nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return t, f32s, nil
}

// DecodeFloat32 wandelt Rohdaten eines Gleitkomma-Tensors in float32.
func DecodeFloat32(kind TensorType, bts []byte) ([]float32, error) {
	switch kind {
	case TensorTypeF32:
		f32s := make([]float32, len(bts)/4)
		for i := range f32s {
			f32s[i] = math.Float32frombits(binary.LittleEndian.Uint32(bts[i*4:]))
		}
		return f32s, nil
	case TensorTypeF16:
		f32s := make([]float32, len(bts)/2)
		for i := range f32s {
			f32s[i] = float16.Frombits(binary.LittleEndian.Uint16(bts[i*2:])).Float32()
		}
		return f32s, nil
	case TensorTypeBF16:
		return bfloat16.DecodeFloat32(bts), nil
	case TensorTypeQ4_0:
		return dequantizeQ4_0(bts)
	default:
		return nil, fmt.Errorf("%w conversion from %v to F32", ErrUnsupported, kind)
	}
}

// EncodeFloat32 wandelt float32-Werte in Rohdaten vom Typ kind.
func EncodeFloat32(kind TensorType, f32s []float32) ([]byte, error) {
	switch kind {
	case TensorTypeF32:
		bts := make([]byte, len(f32s)*4)
		for i, f := range f32s {
			binary.LittleEndian.PutUint32(bts[i*4:], math.Float32bits(f))
		}
		return bts, nil
	case TensorTypeF16:
		bts := make([]byte, len(f32s)*2)
		for i, f := range f32s {
			binary.LittleEndian.PutUint16(bts[i*2:], float16.Fromfloat32(f).Bits())
		}
		return bts, nil
	default:
		return nil, fmt.Errorf("%w conversion from F32 to %v", ErrUnsupported, kind)
	}
}
