package gguf

import (
	"encoding/binary"
	"fmt"

	"github.com/x448/float16"
)

// Q4_0 Block: float16 Scale d, danach 16 Bytes mit 32 Nibbles.
// Element e < 16 liegt im unteren Nibble von qs[e], Element e >= 16 im
// oberen Nibble von qs[e-16]. Wert = (nibble - 8) * d.

// UnpackQ4_0 liefert n Werte (-8..7) und n/32 Scales aus Q4_0-Rohdaten.
func UnpackQ4_0(bts []byte, n int) ([]int8, []float32, error) {
	if n%Q4_0BlockSize != 0 {
		return nil, nil, fmt.Errorf("%w: Q4_0 mit %d Werten", ErrUnsupported, n)
	}
	blocks := n / Q4_0BlockSize
	if len(bts) != blocks*Q4_0BlockBytes {
		return nil, nil, fmt.Errorf("Q4_0: %d bytes, expected %d", len(bts), blocks*Q4_0BlockBytes)
	}

	q := make([]int8, n)
	scales := make([]float32, blocks)
	for b := range blocks {
		blk := bts[b*Q4_0BlockBytes : (b+1)*Q4_0BlockBytes]
		scales[b] = float16.Frombits(binary.LittleEndian.Uint16(blk)).Float32()

		qs := blk[2:]
		out := q[b*Q4_0BlockSize:]
		for e := range Q4_0BlockSize / 2 {
			out[e] = int8(qs[e]&0x0F) - 8
			out[e+Q4_0BlockSize/2] = int8(qs[e]>>4) - 8
		}
	}
	return q, scales, nil
}

// PackQ4_0 ist die Umkehrung von UnpackQ4_0.
func PackQ4_0(q []int8, scales []float32) ([]byte, error) {
	if len(q)%Q4_0BlockSize != 0 || len(q)/Q4_0BlockSize != len(scales) {
		return nil, fmt.Errorf("%w: Q4_0 mit %d Werten und %d Scales", ErrUnsupported, len(q), len(scales))
	}

	bts := make([]byte, len(scales)*Q4_0BlockBytes)
	for b, d := range scales {
		blk := bts[b*Q4_0BlockBytes : (b+1)*Q4_0BlockBytes]
		binary.LittleEndian.PutUint16(blk, float16.Fromfloat32(d).Bits())

		in := q[b*Q4_0BlockSize:]
		for e := range Q4_0BlockSize / 2 {
			lo := byte(in[e]+8) & 0x0F
			hi := byte(in[e+Q4_0BlockSize/2]+8) & 0x0F
			blk[2+e] = lo | hi<<4
		}
	}
	return bts, nil
}

func dequantizeQ4_0(bts []byte) ([]float32, error) {
	n := len(bts) / Q4_0BlockBytes * Q4_0BlockSize
	q, scales, err := UnpackQ4_0(bts, n)
	if err != nil {
		return nil, err
	}

	f32s := make([]float32, n)
	for k, v := range q {
		f32s[k] = float32(v) * scales[k/Q4_0BlockSize]
	}
	return f32s, nil
}
