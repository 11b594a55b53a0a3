// MODUL: fusion
// ZWECK: Concat, Add, Multiply, Attention und CrossAttention ueber Modalitaets-Vektoren
// INPUT: outputs (ein Slice pro Modalitaet), dims (deklarierte Laengen), dst
// OUTPUT: fusionierter Vektor in dst (outDim = len(dst))
// NEBENEFFEKTE: schreibt nur in dst, und nur nach erfolgreicher Validierung
// ABHAENGIGKEITEN: softmax.go
// HINWEISE: Keine Funktion schreibt teilweise. Bei Fehler bleibt dst unveraendert.

package fusion

import "fmt"

// Concat kopiert die Modalitaeten in Reihenfolge hintereinander nach dst.
func Concat(dst []float32, outputs [][]float32, dims []int) error {
	if err := validate(dst, outputs, dims); err != nil {
		return err
	}
	if total := sum(dims); total != len(dst) {
		return fmt.Errorf("%w: Summe %d, outDim %d", ErrDimension, total, len(dst))
	}

	offset := 0
	for i, out := range outputs {
		offset += copy(dst[offset:], out[:dims[i]])
	}
	return nil
}

// Add summiert die Modalitaeten elementweise.
func Add(dst []float32, outputs [][]float32, dims []int) error {
	if err := validateEqual(dst, outputs, dims); err != nil {
		return err
	}

	clear(dst)
	for _, out := range outputs {
		for j := range dst {
			dst[j] += out[j]
		}
	}
	return nil
}

// Multiply multipliziert die Modalitaeten elementweise.
func Multiply(dst []float32, outputs [][]float32, dims []int) error {
	if err := validateEqual(dst, outputs, dims); err != nil {
		return err
	}

	for j := range dst {
		dst[j] = 1
	}
	for _, out := range outputs {
		for j := range dst {
			dst[j] *= out[j]
		}
	}
	return nil
}

// Attention bildet die gewichtete Summe sum_i weights[i]*outputs[i].
//
// Ist weights nil, werden die Gewichte aus den Modalitaeten selbst berechnet:
// das quadrierte L2-Norm jedes Vektors ist der Logit, darauf folgt Softmax.
// Explizite Gewichte werden unveraendert verwendet, ohne Normalisierung.
func Attention(dst []float32, outputs [][]float32, dims []int, weights []float32) error {
	if err := validateEqual(dst, outputs, dims); err != nil {
		return err
	}
	if weights != nil && len(weights) != len(outputs) {
		return fmt.Errorf("%w: %d Gewichte fuer %d Modalitaeten", ErrDimension, len(weights), len(outputs))
	}

	if weights == nil {
		weights = AttentionWeights(outputs, dims)
	}

	clear(dst)
	for i, out := range outputs {
		w := weights[i]
		for j := range dst {
			dst[j] += w * out[j]
		}
	}
	return nil
}

// CrossAttention ist die parameterfreie bidirektionale Attention zweier
// Modalitaeten. Sie legt die zwei dim1 x dim2 Score-Matrizen selbst an.
func CrossAttention(dst []float32, outputs [][]float32, dims []int) error {
	if err := validateCross(dst, outputs, dims); err != nil {
		return err
	}
	return crossAttention(dst, outputs[0][:dims[0]], outputs[1][:dims[1]], make([]float32, 2*dims[0]*dims[1]))
}

// CrossAttentionScratch wie CrossAttention, nutzt aber scratch
// (mindestens 2*dim1*dim2 Werte) fuer die Score-Matrizen.
func CrossAttentionScratch(dst []float32, outputs [][]float32, dims []int, scratch []float32) error {
	if err := validateCross(dst, outputs, dims); err != nil {
		return err
	}
	if need := CrossScratchLen(dims[0], dims[1]); len(scratch) < need {
		return fmt.Errorf("%w: scratch hat %d Werte, benoetigt %d", ErrDimension, len(scratch), need)
	}
	return crossAttention(dst, outputs[0][:dims[0]], outputs[1][:dims[1]], scratch)
}

// CrossScratchLen gibt die benoetigte Scratch-Groesse fuer CrossAttention zurueck.
func CrossScratchLen(dim1, dim2 int) int {
	return 2 * dim1 * dim2
}

func crossAttention(dst, a, b, scratch []float32) error {
	d1, d2 := len(a), len(b)
	scores := scratch[:d1*d2]
	transposed := scratch[d1*d2 : 2*d1*d2]

	CrossScores(scores, transposed, a, b)

	// a attends to b
	for i := range d1 {
		row := scores[i*d2 : (i+1)*d2]
		var s float32
		for j, w := range row {
			s += w * b[j]
		}
		dst[i] = s
	}

	// b attends to a
	for j := range d2 {
		row := transposed[j*d1 : (j+1)*d1]
		var s float32
		for i, w := range row {
			s += w * a[i]
		}
		dst[d1+j] = s
	}
	return nil
}

// CrossScores fuellt scores (d1 x d2) mit dem zeilenweise normierten
// Aussenprodukt a[i]*b[j]. transposed (d2 x d1) ist die Transponierte der
// bereits normierten scores, danach selbst noch einmal zeilenweise normiert.
func CrossScores(scores, transposed, a, b []float32) {
	d1, d2 := len(a), len(b)
	for i := range d1 {
		for j := range d2 {
			scores[i*d2+j] = a[i] * b[j]
		}
	}
	RowSoftmax(scores, d1, d2)

	for i := range d1 {
		for j := range d2 {
			transposed[j*d1+i] = scores[i*d2+j]
		}
	}
	RowSoftmax(transposed, d2, d1)
}

func validate(dst []float32, outputs [][]float32, dims []int) error {
	if len(outputs) == 0 {
		return ErrEmpty
	}
	if dst == nil {
		return fmt.Errorf("%w: keine Ausgabe", ErrDimension)
	}
	if len(dims) != len(outputs) {
		return fmt.Errorf("%w: %d Dimensionen fuer %d Modalitaeten", ErrDimension, len(dims), len(outputs))
	}
	for i, out := range outputs {
		if dims[i] <= 0 || len(out) < dims[i] {
			return fmt.Errorf("%w: Modalitaet %d hat %d Werte, deklariert %d", ErrDimension, i, len(out), dims[i])
		}
	}
	return nil
}

func validateEqual(dst []float32, outputs [][]float32, dims []int) error {
	if err := validate(dst, outputs, dims); err != nil {
		return err
	}
	for i, d := range dims {
		if d != len(dst) {
			return fmt.Errorf("%w: Modalitaet %d hat Dimension %d, outDim %d", ErrDimension, i, d, len(dst))
		}
	}
	return nil
}

func validateCross(dst []float32, outputs [][]float32, dims []int) error {
	if err := validate(dst, outputs, dims); err != nil {
		return err
	}
	if len(outputs) != 2 {
		return fmt.Errorf("%w: CrossAttention verlangt 2 Modalitaeten, hat %d", ErrDimension, len(outputs))
	}
	if dims[0]+dims[1] != len(dst) {
		return fmt.Errorf("%w: %d+%d, outDim %d", ErrDimension, dims[0], dims[1], len(dst))
	}
	return nil
}
