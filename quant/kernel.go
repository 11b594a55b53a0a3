package quant

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// MatMul4Bit ist die Signatur eines 4-Bit Matmul-Kernels.
type MatMul4Bit func(out []float32, packed []byte, input []float32, outDim, inputDim int, scales []float32)

var (
	_ MatMul4Bit = scalarMatMul4Bit
	_ MatMul4Bit = SIMDMatMul4Bit
)

func scalarMatMulF32(out, w, input []float32, outDim, inputDim int) {
	for i := range outDim {
		row := w[i*inputDim : (i+1)*inputDim]
		var sum float32
		for j, x := range input {
			sum += row[j] * x
		}
		out[i] = sum
	}
}

func scalarMatMul4Bit(out []float32, packed []byte, input []float32, outDim, inputDim int, scales []float32) {
	for i := range outDim {
		var sum float32
		for j, x := range input {
			k := i*inputDim + j
			sum += float32(Nibble(packed, k)) * scales[k/BlockSize] * x
		}
		out[i] = sum
	}
}

// simdMatMulF32 nutzt Gemv aus gonum, das auf amd64/arm64 Assembler-Kernel hat.
func simdMatMulF32(out, w, input []float32, outDim, inputDim int) {
	a := blas32.General{Rows: outDim, Cols: inputDim, Stride: inputDim, Data: w}
	x := blas32.Vector{N: inputDim, Inc: 1, Data: input}
	y := blas32.Vector{N: outDim, Inc: 1, Data: out}
	blas32.Gemv(blas.NoTrans, 1, a, x, 0, y)
}

// SIMDMatMul4Bit entpackt jeweils eine Zeile und bildet das Skalarprodukt
// mit dem vektorisierten Dot aus gonum.
func SIMDMatMul4Bit(out []float32, packed []byte, input []float32, outDim, inputDim int, scales []float32) {
	simdMatMul4Bit(out, packed, input, outDim, inputDim, scales, make([]float32, inputDim))
}

// simdMatMul4Bit wie SIMDMatMul4Bit, row (inputDim Werte) nimmt die entpackte Zeile auf.
func simdMatMul4Bit(out []float32, packed []byte, input []float32, outDim, inputDim int, scales, row []float32) {
	x := blas32.Vector{N: inputDim, Inc: 1, Data: input}
	r := blas32.Vector{N: inputDim, Inc: 1, Data: row[:inputDim]}
	for i := range outDim {
		dequantizeRange(r.Data, packed, scales, i*inputDim)
		out[i] = blas32.Dot(r, x)
	}
}
