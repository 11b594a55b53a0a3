// MODUL: project
// ZWECK: Lineare Projektion y = W*x + b ueber float32- oder 4-Bit Gewichte
// INPUT: Eingabevektor (inputDim), WeightBlob (outDim x inputDim), optionaler Bias
// OUTPUT: Ausgabevektor (outDim)
// NEBENEFFEKTE: schreibt nur in dst
// ABHAENGIGKEITEN: kernel.go (Skalar- und SIMD-Kernel)
// HINWEISE: Alle Eingaben werden vor dem ersten Schreibzugriff geprueft.

package quant

import "fmt"

// Project berechnet W*x + b in einen neuen Slice der Laenge outDim.
func Project(input []float32, w *WeightBlob, bias []float32, outDim int, useSIMD bool) ([]float32, error) {
	if err := check(input, w, bias, outDim); err != nil {
		return nil, err
	}

	out := make([]float32, outDim)
	run(out, input, w, bias, useSIMD, nil)
	return out, nil
}

// ProjectInto wie Project, schreibt aber in dst (len(dst) >= outDim).
func ProjectInto(dst, input []float32, w *WeightBlob, bias []float32, outDim int, useSIMD bool) error {
	return ProjectScratch(dst, input, w, bias, outDim, useSIMD, nil)
}

// ProjectScratch wie ProjectInto. row nimmt die entpackte Zeile des
// 4-Bit SIMD-Kernels auf und braucht RowScratch(w) Werte; ist row kuerzer,
// legt der Kernel den Puffer selbst an.
func ProjectScratch(dst, input []float32, w *WeightBlob, bias []float32, outDim int, useSIMD bool, row []float32) error {
	if dst == nil {
		return ErrMissingBuffer
	}
	if err := check(input, w, bias, outDim); err != nil {
		return err
	}
	if len(dst) < outDim {
		return fmt.Errorf("%w: Ausgabe hat %d Werte, erwartet %d", ErrShape, len(dst), outDim)
	}

	run(dst[:outDim], input, w, bias, useSIMD, row)
	return nil
}

// RowScratch ist die Zeilenlaenge, die ProjectScratch fuer w als Scratch braucht.
func RowScratch(w *WeightBlob) int {
	if w == nil || !w.Quantized() {
		return 0
	}
	return w.Cols
}

func check(input []float32, w *WeightBlob, bias []float32, outDim int) error {
	if input == nil {
		return ErrMissingBuffer
	}
	if err := w.Validate(); err != nil {
		return err
	}
	if w.Rows != outDim {
		return fmt.Errorf("%w: Gewichte haben %d Zeilen, outDim %d", ErrShape, w.Rows, outDim)
	}
	if len(input) != w.Cols {
		return fmt.Errorf("%w: %d, erwartet %d", ErrInputLength, len(input), w.Cols)
	}
	if bias != nil && len(bias) != outDim {
		return fmt.Errorf("%w: Bias hat %d Werte, erwartet %d", ErrShape, len(bias), outDim)
	}
	return nil
}

func run(out, input []float32, w *WeightBlob, bias []float32, useSIMD bool, row []float32) {
	switch {
	case w.Quantized() && useSIMD:
		if len(row) < w.Cols {
			row = make([]float32, w.Cols)
		}
		simdMatMul4Bit(out, w.Packed, input, w.Rows, w.Cols, w.Scales, row)
	case w.Quantized():
		scalarMatMul4Bit(out, w.Packed, input, w.Rows, w.Cols, w.Scales)
	case useSIMD:
		simdMatMulF32(out, w.F32, input, w.Rows, w.Cols)
	default:
		scalarMatMulF32(out, w.F32, input, w.Rows, w.Cols)
	}

	for i, b := range bias {
		out[i] += b
	}
}
