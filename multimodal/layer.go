// MODUL: layer
// ZWECK: Fusions-Layer: Methode, Eingabedimensionen, Ausgabedimension, optionale gelernte Gewichte
// INPUT: fusion.Method, Modalitaets-Dimensionen, fusionDim, useQuantization
// OUTPUT: FusionLayer, fusionierter Vektor ueber run
// NEBENEFFEKTE: Scratch-Allokation im Aktivierungsbereich waehrend run
// ABHAENGIGKEITEN: fusion, quant, pool, gonum blas32
// HINWEISE: Nur Attention deklariert Gewichte (totalInputDim x outputDim + Bias outputDim).
//           Die optionale Nachprojektion von CrossAttention zaehlt nur im Pool-Plan.

package multimodal

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/ollama/edgefuse/fusion"
	"github.com/ollama/edgefuse/pool"
	"github.com/ollama/edgefuse/quant"
)

// FusionLayer kombiniert die Encoder-Ausgaben zu einem Vektor.
type FusionLayer struct {
	Method    fusion.Method
	InputDims []int
	OutputDim int

	WeightBytes int
	BiasBytes   int
	OutputBytes int

	index int

	// Attention: Query-Projektion der konkatenierten Modalitaeten
	query, queryBias *tensor
	// CrossAttention: Nachprojektion outputDim x outputDim
	post, postBias *tensor
}

// NewFusionLayer prueft die Dimensionen fuer m und dimensioniert den Layer.
func NewFusionLayer(index int, m fusion.Method, dims []int, fusionDim int, quantized bool) (*FusionLayer, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, fusion.ErrMethod)
	}
	out, err := fusion.OutputDim(m, dims, fusionDim)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	l := &FusionLayer{
		Method:      m,
		InputDims:   slices.Clone(dims),
		OutputDim:   out,
		OutputBytes: out * 4,
		index:       index,
	}
	if m == fusion.MethodAttention {
		l.WeightBytes = quant.WeightBytes(l.TotalInputDim()*out, quantized)
		l.BiasBytes = out * 4
	}
	return l, nil
}

// TotalInputDim ist die Summe der Eingabedimensionen.
func (l *FusionLayer) TotalInputDim() int {
	var n int
	for _, d := range l.InputDims {
		n += d
	}
	return n
}

// Learned meldet ob der Layer gelernte Gewichte traegt.
func (l *FusionLayer) Learned() bool {
	return l.query != nil || l.post != nil
}

// learnable legt die Tensoren fuer gelernte Gewichte an (ohne Werte).
// Methoden ohne Parameter liefern nil.
func (l *FusionLayer) learnable() []*tensor {
	prefix := fmt.Sprintf("fusion.%d.", l.index)
	switch l.Method {
	case fusion.MethodAttention:
		return []*tensor{newMatrix(prefix+"w", l.OutputDim, l.TotalInputDim()), newBias(prefix+"b", l.OutputDim)}
	case fusion.MethodCrossAttention:
		return []*tensor{newMatrix(prefix+"w", l.OutputDim, l.OutputDim), newBias(prefix+"b", l.OutputDim)}
	default:
		return nil
	}
}

// setLearned uebernimmt die von learnable angelegten Tensoren.
func (l *FusionLayer) setLearned(ts []*tensor) {
	switch l.Method {
	case fusion.MethodAttention:
		l.query, l.queryBias = ts[0], ts[1]
	case fusion.MethodCrossAttention:
		l.post, l.postBias = ts[0], ts[1]
	}
}

func (l *FusionLayer) tensors() []*tensor {
	var ts []*tensor
	for _, t := range []*tensor{l.query, l.queryBias, l.post, l.postBias} {
		if t != nil {
			ts = append(ts, t)
		}
	}
	return ts
}

// planScratch vermerkt den Scratch-Bedarf von run zusaetzlich zu dst.
func (l *FusionLayer) planScratch(pl *pool.Plan) {
	switch {
	case l.Method == fusion.MethodAttention && l.query != nil:
		pl.AddFloat32(l.TotalInputDim())
		pl.AddFloat32(l.OutputDim)
		pl.AddFloat32(max(len(l.InputDims), l.query.rowScratch()))
	case l.Method == fusion.MethodCrossAttention:
		pl.AddFloat32(fusion.CrossScratchLen(l.InputDims[0], l.InputDims[1]))
		if l.post != nil {
			pl.AddFloat32(l.OutputDim)
			pl.AddFloat32(l.post.rowScratch())
		}
	}
}

// run fusioniert outputs nach dst (Laenge OutputDim). Zwischenergebnisse
// liegen im Aktivierungsbereich von p; der Aufrufer gibt sie frei.
func (l *FusionLayer) run(dst []float32, outputs [][]float32, p *pool.Pool, useSIMD bool) error {
	if len(outputs) != len(l.InputDims) {
		return fmt.Errorf("%w: %d Modalitaeten, Layer erwartet %d", fusion.ErrDimension, len(outputs), len(l.InputDims))
	}

	switch l.Method {
	case fusion.MethodConcat:
		return fusion.Concat(dst, outputs, l.InputDims)
	case fusion.MethodAdd:
		return fusion.Add(dst, outputs, l.InputDims)
	case fusion.MethodMultiply:
		return fusion.Multiply(dst, outputs, l.InputDims)
	case fusion.MethodAttention:
		var weights []float32
		if l.query != nil {
			var err error
			if weights, err = l.queryWeights(outputs, p, useSIMD); err != nil {
				return err
			}
		}
		return fusion.Attention(dst, outputs, l.InputDims, weights)
	case fusion.MethodCrossAttention:
		scratch, err := p.Scratch(fusion.CrossScratchLen(l.InputDims[0], l.InputDims[1]))
		if err != nil {
			return err
		}
		if l.post == nil {
			return fusion.CrossAttentionScratch(dst, outputs, l.InputDims, scratch)
		}

		attended, err := p.Scratch(l.OutputDim)
		if err != nil {
			return err
		}
		if err := fusion.CrossAttentionScratch(attended, outputs, l.InputDims, scratch); err != nil {
			return err
		}
		return project(p, dst, attended, l.post, l.postBias, l.OutputDim, useSIMD)
	default:
		return fmt.Errorf("%w: %v", fusion.ErrMethod, l.Method)
	}
}

// queryWeights berechnet die Attention-Gewichte aus der gelernten Query:
// q = W*concat(outputs) + b, logit_i = <q, output_i>/sqrt(outputDim), Softmax.
func (l *FusionLayer) queryWeights(outputs [][]float32, p *pool.Pool, useSIMD bool) ([]float32, error) {
	concat, err := p.Scratch(l.TotalInputDim())
	if err != nil {
		return nil, err
	}
	if err := fusion.Concat(concat, outputs, l.InputDims); err != nil {
		return nil, err
	}

	q, err := p.Scratch(l.OutputDim)
	if err != nil {
		return nil, err
	}
	if err := project(p, q, concat, l.query, l.queryBias, l.OutputDim, useSIMD); err != nil {
		return nil, err
	}

	weights, err := p.Scratch(len(outputs))
	if err != nil {
		return nil, err
	}
	scale := float32(1 / math.Sqrt(float64(l.OutputDim)))
	qv := blas32.Vector{N: l.OutputDim, Inc: 1, Data: q}
	for i, out := range outputs {
		weights[i] = scale * blas32.Dot(qv, blas32.Vector{N: l.OutputDim, Inc: 1, Data: out[:l.InputDims[i]]})
	}
	fusion.Softmax(weights)
	return weights, nil
}
