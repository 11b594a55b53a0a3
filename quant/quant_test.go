package quant

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func randomMatrix(r *rand.Rand, n int) []float32 {
	w := make([]float32, n)
	for i := range w {
		w[i] = r.Float32()*2 - 1
	}
	return w
}

func TestProjectF32(t *testing.T) {
	w, err := NewF32(2, 3, []float32{
		1, 2, 3,
		4, 5, 6,
	})
	require.NoError(t, err)

	for _, simd := range []bool{false, true} {
		got, err := Project([]float32{1, 0, -1}, w, []float32{0.5, -0.5}, 2, simd)
		require.NoError(t, err)

		if diff := cmp.Diff([]float32{-1.5, -2.5}, got, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
			t.Errorf("simd=%v Ergebnis falsch (-want +got):\n%s", simd, diff)
		}
	}
}

func TestProjectErrors(t *testing.T) {
	w, err := NewF32(2, 2, []float32{1, 0, 0, 1})
	require.NoError(t, err)

	cases := []struct {
		name   string
		input  []float32
		w      *WeightBlob
		bias   []float32
		outDim int
		want   error
	}{
		{"nil input", nil, w, nil, 2, ErrMissingBuffer},
		{"nil weights", []float32{1, 2}, nil, nil, 2, ErrMissingBuffer},
		{"falsche Laenge", []float32{1, 2, 3}, w, nil, 2, ErrInputLength},
		{"falsches outDim", []float32{1, 2}, w, nil, 3, ErrShape},
		{"falscher Bias", []float32{1, 2}, w, []float32{1}, 2, ErrShape},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Project(tt.input, tt.w, tt.bias, tt.outDim, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Project() error = %v, erwartet %v", err, tt.want)
			}
		})
	}
}

func TestProjectIntoNoPartialWrite(t *testing.T) {
	w, err := NewF32(2, 2, []float32{1, 0, 0, 1})
	require.NoError(t, err)

	dst := []float32{7, 7}
	err = ProjectInto(dst, []float32{1}, w, nil, 2, false)
	require.ErrorIs(t, err, ErrInputLength)

	if diff := cmp.Diff([]float32{7, 7}, dst); diff != "" {
		t.Errorf("dst wurde veraendert (-want +got):\n%s", diff)
	}
}

func TestNibbleLayout(t *testing.T) {
	// Wert 0 -> Nibble 8, gerader Index im oberen Nibble
	packed := []byte{0x8F, 0x07}
	want := []int8{0, 7, -8, -1}
	for k, w := range want {
		if got := Nibble(packed, k); got != w {
			t.Errorf("Nibble(%d) = %d, erwartet %d", k, got, w)
		}
	}
}

func TestQuantizeDequantize(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	rows, cols := 7, 45
	w := randomMatrix(r, rows*cols)

	b, err := Quantize4Bit(rows, cols, w)
	require.NoError(t, err)
	require.NoError(t, b.Validate())

	if got, want := len(b.Packed), (rows*cols+1)/2; got != want {
		t.Errorf("len(Packed) = %d, erwartet %d", got, want)
	}
	if got, want := len(b.Scales), (rows*cols+BlockSize-1)/BlockSize; got != want {
		t.Errorf("len(Scales) = %d, erwartet %d", got, want)
	}

	deq, err := Dequantize(b)
	require.NoError(t, err)

	for k := range w {
		// Fehler ist hoechstens ein halber Quantisierungsschritt
		limit := b.Scales[k/BlockSize]/2 + 1e-6
		if d := deq[k] - w[k]; d > limit || d < -limit {
			t.Fatalf("Wert %d: %v -> %v, Abweichung groesser %v", k, w[k], deq[k], limit)
		}
	}
}

func TestQuantizeIdempotent(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	w := randomMatrix(r, 16*33)

	first, err := Quantize4Bit(16, 33, w)
	require.NoError(t, err)

	deq, err := Dequantize(first)
	require.NoError(t, err)

	second, err := Quantize4Bit(16, 33, deq)
	require.NoError(t, err)

	if diff := cmp.Diff(first.Packed, second.Packed); diff != "" {
		t.Errorf("Nibbles nach Round-Trip verschieden (-first +second):\n%s", diff)
	}
}

func TestQuantizeZeroBlock(t *testing.T) {
	b, err := Quantize4Bit(1, 4, make([]float32, 4))
	require.NoError(t, err)

	if b.Scales[0] != 0 {
		t.Errorf("Scale = %v, erwartet 0", b.Scales[0])
	}
	for k := range 4 {
		if got := b.At(0, k); got != 0 {
			t.Errorf("At(0,%d) = %v, erwartet 0", k, got)
		}
	}
}

func TestScalarAndSIMDAgree(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	rows, cols := 24, 100

	q, err := Quantize4Bit(rows, cols, randomMatrix(r, rows*cols))
	require.NoError(t, err)

	input := randomMatrix(r, cols)
	bias := randomMatrix(r, rows)

	scalar, err := Project(input, q, bias, rows, false)
	require.NoError(t, err)
	simd, err := Project(input, q, bias, rows, true)
	require.NoError(t, err)

	if diff := cmp.Diff(scalar, simd, cmpopts.EquateApprox(1e-4, 1e-4)); diff != "" {
		t.Errorf("Skalar und SIMD weichen ab (-scalar +simd):\n%s", diff)
	}

	// Quantisierte Projektion entspricht der Projektion ueber dequantisierte Gewichte
	deq, err := Dequantize(q)
	require.NoError(t, err)
	f, err := NewF32(rows, cols, deq)
	require.NoError(t, err)
	dense, err := Project(input, f, bias, rows, true)
	require.NoError(t, err)

	if diff := cmp.Diff(dense, scalar, cmpopts.EquateApprox(1e-4, 1e-4)); diff != "" {
		t.Errorf("4-Bit und dequantisiert weichen ab (-dense +q4):\n%s", diff)
	}
}

func TestWeightBytesMonotonic(t *testing.T) {
	for _, n := range []int{1, 2, 31, 32, 1000, 1 << 20} {
		q, f := WeightBytes(n, true), WeightBytes(n, false)
		if q > f {
			t.Errorf("n=%d: quantisiert %d > float32 %d", n, q, f)
		}
	}
}

func TestProjectScratch(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	rows, cols := 4, 64
	blob, err := Quantize4Bit(rows, cols, randomMatrix(r, rows*cols))
	require.NoError(t, err)
	require.Equal(t, cols, RowScratch(blob))

	f32, err := NewF32(rows, cols, randomMatrix(r, rows*cols))
	require.NoError(t, err)
	require.Zero(t, RowScratch(f32))
	require.Zero(t, RowScratch(nil))

	input := randomMatrix(r, cols)
	want := make([]float32, rows)
	require.NoError(t, ProjectInto(want, input, blob, nil, rows, true))

	row := make([]float32, RowScratch(blob))
	got := make([]float32, rows)
	require.NoError(t, ProjectScratch(got, input, blob, nil, rows, true, row))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Scratch-Zeile aendert das Ergebnis (-want +got):\n%s", diff)
	}

	// zu kurze Zeile: der Kernel legt selbst an
	require.NoError(t, ProjectScratch(got, input, blob, nil, rows, true, row[:cols/2]))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("kurze Zeile (-want +got):\n%s", diff)
	}

	withRow := testing.AllocsPerRun(20, func() {
		_ = ProjectScratch(got, input, blob, nil, rows, true, row)
	})
	withoutRow := testing.AllocsPerRun(20, func() {
		_ = ProjectInto(got, input, blob, nil, rows, true)
	})
	if withRow >= withoutRow {
		t.Errorf("Allokationen mit Zeile %v, ohne %v", withRow, withoutRow)
	}
}

func benchmarkProject(b *testing.B, quantized, simd bool) {
	r := rand.New(rand.NewPCG(7, 8))
	rows, cols := 256, 1024
	w := randomMatrix(r, rows*cols)

	blob, err := NewF32(rows, cols, w)
	if err != nil {
		b.Fatal(err)
	}
	if quantized {
		if blob, err = Quantize4Bit(rows, cols, w); err != nil {
			b.Fatal(err)
		}
	}

	input := randomMatrix(r, cols)
	out := make([]float32, rows)

	b.ResetTimer()
	for range b.N {
		if err := ProjectInto(out, input, blob, nil, rows, simd); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkProjectF32Scalar(b *testing.B) { benchmarkProject(b, false, false) }
func BenchmarkProjectF32SIMD(b *testing.B)   { benchmarkProject(b, false, true) }
func BenchmarkProjectQ4Scalar(b *testing.B)  { benchmarkProject(b, true, false) }
func BenchmarkProjectQ4SIMD(b *testing.B)    { benchmarkProject(b, true, true) }
