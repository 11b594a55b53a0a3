package fusion

import "math"

// Softmax normiert v in-place. Der Maximalwert wird vorher abgezogen;
// ist die Summe nicht positiv, bleiben die exp-Werte unnormiert.
// Enthaelt v +Inf, teilen sich diese Eintraege das Gewicht gleichmaessig.
func Softmax(v []float32) {
	if len(v) == 0 {
		return
	}

	m := v[0]
	for _, x := range v[1:] {
		m = max(m, x)
	}
	if math.IsInf(float64(m), 1) {
		splitInf(v)
		return
	}

	var s float32
	for i, x := range v {
		v[i] = float32(math.Exp(float64(x - m)))
		s += v[i]
	}

	if s > 0 {
		for i := range v {
			v[i] /= s
		}
	}
}

// RowSoftmax wendet Softmax auf jede Zeile einer rows x cols Matrix an.
func RowSoftmax(m []float32, rows, cols int) {
	for i := range rows {
		Softmax(m[i*cols : (i+1)*cols])
	}
}

// AttentionWeights liefert die Softmax der quadrierten L2-Normen. Normen
// und Softmax laufen in float64, damit grosse Komponenten nicht nach +Inf
// ueberlaufen.
func AttentionWeights(outputs [][]float32, dims []int) []float32 {
	if len(outputs) == 0 {
		return nil
	}

	norms := make([]float64, len(outputs))
	for i, out := range outputs {
		for _, x := range out[:dims[i]] {
			norms[i] += float64(x) * float64(x)
		}
	}

	m := norms[0]
	for _, n := range norms[1:] {
		m = max(m, n)
	}

	w := make([]float32, len(outputs))
	if math.IsInf(m, 1) {
		for i, n := range norms {
			w[i] = float32(n)
		}
		splitInf(w)
		return w
	}

	var s float64
	for i, n := range norms {
		norms[i] = math.Exp(n - m)
		s += norms[i]
	}
	for i, n := range norms {
		w[i] = float32(n / s)
	}
	return w
}

func splitInf(v []float32) {
	var k int
	for _, x := range v {
		if math.IsInf(float64(x), 1) {
			k++
		}
	}
	for i, x := range v {
		if math.IsInf(float64(x), 1) {
			v[i] = 1 / float32(k)
		} else {
			v[i] = 0
		}
	}
}
