// MODUL: encoder
// ZWECK: Modalitaets-Encoder: Speicherdimensionierung und zweistufige Projektion
// INPUT: ModalityConfig, fusionDim, useQuantization
// OUTPUT: Encoder mit InputDim, WeightBytes, BiasBytes, OutputBytes
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: quant, pool (Zeilen-Scratch der 4-Bit Projektion)
// HINWEISE: Die Groessen sind eine deklarierte Schaetzung fuer die Speicherplanung
//           und haengen nicht davon ab, ob Gewichte geladen wurden.
//           Text:        maxTokens*embedDim + embedDim*fusionDim Gewichte, Bias fusionDim
//           Bild/Audio:  inputDim*64 + 64*fusionDim Gewichte, Bias 64 + fusionDim

package multimodal

import (
	"fmt"

	"github.com/ollama/edgefuse/pool"
	"github.com/ollama/edgefuse/quant"
)

// HiddenDim ist die Breite der Merkmalsstufe von Bild- und Audio-Encodern.
const HiddenDim = 64

// Encoder bildet den Merkmalsvektor einer Modalitaet auf fusionDim ab:
//
//	h   = W1*x (+ b1, ReLU bei Bild/Audio)
//	out = W2*h + b2
//
// Bei Text ist W1 die embedDim x maxTokens Embedding-Tabelle ohne Bias.
type Encoder struct {
	Config    ModalityConfig
	InputDim  int
	HiddenDim int
	OutputDim int

	WeightBytes int
	BiasBytes   int
	OutputBytes int

	w1, b1, w2, b2 *tensor
}

// NewEncoder dimensioniert einen Encoder. Gewichte werden separat geladen.
func NewEncoder(index int, cfg ModalityConfig, fusionDim int, quantized bool) (*Encoder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: modality %d fehlt", ErrInvalidConfig, index)
	}
	if fusionDim <= 0 {
		return nil, fmt.Errorf("%w: fusionDim %d", ErrInvalidConfig, fusionDim)
	}

	var hidden, hiddenBias int
	switch cfg := cfg.(type) {
	case TextConfig:
		hidden = cfg.EmbedDim
	case ImageConfig, AudioConfig:
		hidden, hiddenBias = HiddenDim, HiddenDim
	default:
		return nil, fmt.Errorf("%w: unbekannte modality %T", ErrInvalidConfig, cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Encoder{
		Config:    cfg,
		InputDim:  cfg.InputDim(),
		HiddenDim: hidden,
		OutputDim: fusionDim,
	}
	e.WeightBytes = quant.WeightBytes(e.NumWeights(), quantized)
	e.BiasBytes = (hiddenBias + fusionDim) * 4
	e.OutputBytes = fusionDim * 4

	prefix := fmt.Sprintf("enc.%d.", index)
	e.w1 = newMatrix(prefix+"w1", hidden, e.InputDim)
	if hiddenBias > 0 {
		e.b1 = newBias(prefix+"b1", hiddenBias)
	}
	e.w2 = newMatrix(prefix+"w2", fusionDim, hidden)
	e.b2 = newBias(prefix+"b2", fusionDim)
	return e, nil
}

// Kind ist die Art der Modalitaet.
func (e *Encoder) Kind() Kind {
	return e.Config.Kind()
}

// NumWeights ist die deklarierte Anzahl Gewichte beider Stufen.
func (e *Encoder) NumWeights() int {
	return e.InputDim*e.HiddenDim + e.HiddenDim*e.OutputDim
}

func (e *Encoder) tensors() []*tensor {
	ts := []*tensor{e.w1}
	if e.b1 != nil {
		ts = append(ts, e.b1)
	}
	return append(ts, e.w2, e.b2)
}

// rowScratch ist der groesste Zeilen-Scratch beider Projektionen.
func (e *Encoder) rowScratch() int {
	return max(e.w1.rowScratch(), e.w2.rowScratch())
}

// forward berechnet dst = W2*act(W1*x + b1) + b2. hidden ist Scratch der Laenge HiddenDim.
func (e *Encoder) forward(p *pool.Pool, dst, x, hidden []float32, useSIMD bool) error {
	if err := project(p, hidden, x, e.w1, e.b1, e.HiddenDim, useSIMD); err != nil {
		return err
	}
	if e.b1 != nil {
		for i, v := range hidden {
			hidden[i] = max(v, 0)
		}
	}
	return project(p, dst, hidden, e.w2, e.b2, e.OutputDim, useSIMD)
}
