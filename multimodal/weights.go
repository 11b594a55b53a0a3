// MODUL: weights
// ZWECK: Gewichte initialisieren, aus GGUF laden und als GGUF speichern
// INPUT: Seed bzw. GGUF-Datei (architecture "edgefuse")
// OUTPUT: Tensoren der Encoder und des aktiven Fusions-Layers
// NEBENEFFEKTE: Dateisystem-Zugriff bei loadWeights und SaveWeights
// ABHAENGIGKEITEN: fs/gguf, quant, math/rand/v2
// HINWEISE: Tensor-Namen enc.{i}.w1|b1|w2|b2 und fusion.{l}.w|b, Shape [cols, rows].
//           Q4_0 wird bei Quantisierung direkt umgepackt, sonst dequantisiert.
//           Q4_0 verlangt cols % 32 == 0; andere gepackte Matrizen werden als F16 gespeichert.

package multimodal

import (
	"fmt"
	"math/rand/v2"
	"os"
	"slices"

	"github.com/ollama/edgefuse/fs/gguf"
	"github.com/ollama/edgefuse/quant"
)

// Architecture ist general.architecture der Gewichtsdateien.
const Architecture = "edgefuse"

func (m *Model) initWeights(seed uint64, learned bool) error {
	for i, e := range m.encoders {
		rng := rand.New(rand.NewPCG(seed, uint64(i)))
		for _, t := range e.tensors() {
			if err := t.initXavier(rng, m.useQuantization); err != nil {
				return err
			}
		}
	}
	if learned {
		return m.initLearned(seed)
	}
	return nil
}

func (m *Model) initLearned(seed uint64) error {
	ts := m.active.learnable()
	if len(ts) == 0 {
		return nil
	}

	rng := rand.New(rand.NewPCG(seed, uint64(len(m.encoders))))
	for _, t := range ts {
		if err := t.initXavier(rng, m.useQuantization); err != nil {
			return err
		}
	}
	m.active.setLearned(ts)
	return nil
}

func (m *Model) loadWeights(path string, learned bool, seed uint64) error {
	f, err := gguf.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if arch := f.KeyValue("general.architecture").String(); arch != Architecture {
		return fmt.Errorf("%w: %s: architecture %q, erwartet %q", ErrInvalidConfig, path, arch, Architecture)
	}
	if d := f.KeyValue("fusion_dim").Uint(); d != uint64(m.fusionDim) {
		return fmt.Errorf("%w: %s: fusion_dim %d, erwartet %d", ErrInvalidConfig, path, d, m.fusionDim)
	}
	if s := f.KeyValue("fusion_method").String(); s != m.method.String() {
		return fmt.Errorf("%w: %s: fusion_method %q, erwartet %q", ErrInvalidConfig, path, s, m.method)
	}
	if got, want := f.KeyValue("modalities").Strings(), m.modalityNames(); !slices.Equal(got, want) {
		return fmt.Errorf("%w: %s: modalities %v, erwartet %v", ErrInvalidConfig, path, got, want)
	}

	for _, e := range m.encoders {
		for _, t := range e.tensors() {
			if err := loadTensor(f, t, m.useQuantization); err != nil {
				return err
			}
		}
	}

	ts := m.active.learnable()
	switch {
	case len(ts) > 0 && f.TensorInfo(ts[0].name).Valid():
		for _, t := range ts {
			if err := loadTensor(f, t, m.useQuantization); err != nil {
				return err
			}
		}
		m.active.setLearned(ts)
	case learned:
		return m.initLearned(seed)
	}
	return nil
}

func (t *tensor) shape() []uint64 {
	if t.bias {
		return []uint64{uint64(t.rows)}
	}
	return []uint64{uint64(t.cols), uint64(t.rows)}
}

func loadTensor(f *gguf.File, t *tensor, quantized bool) error {
	ti := f.TensorInfo(t.name)
	if !ti.Valid() {
		return fmt.Errorf("%w: tensor %s fehlt", ErrInvalidConfig, t.name)
	}
	if !slices.Equal(ti.Shape, t.shape()) {
		return fmt.Errorf("%w: tensor %s hat Shape %v, erwartet %v", ErrInvalidConfig, t.name, ti.Shape, t.shape())
	}

	if ti.Type == gguf.TensorTypeQ4_0 && quantized && !t.bias {
		_, bts, err := f.TensorBytes(t.name)
		if err != nil {
			return err
		}
		q, scales, err := gguf.UnpackQ4_0(bts, t.len())
		if err != nil {
			return fmt.Errorf("%w: tensor %s: %w", ErrInvalidConfig, t.name, err)
		}
		b, err := quant.Pack(t.rows, t.cols, q, scales)
		if err != nil {
			return fmt.Errorf("%w: tensor %s: %w", ErrInvalidConfig, t.name, err)
		}
		t.blob = b
		return nil
	}

	_, f32s, err := f.Float32s(t.name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return t.setFloat32(f32s, quantized)
}

// SaveWeights schreibt alle Gewichte als GGUF-Datei. Die Datei kann mit
// WithWeightsFile fuer ein Modell gleicher Konfiguration geladen werden.
func (m *Model) SaveWeights(path string) error {
	const op = "save weights"
	if m.closed {
		return newError(op, "", ErrInvalidConfig, errClosed)
	}

	kv := map[string]any{
		"general.architecture": Architecture,
		"general.name":         m.ID,
		"fusion_dim":           uint32(m.fusionDim),
		"fusion_method":        m.method.String(),
		"modalities":           m.modalityNames(),
		"quantized":            m.useQuantization,
	}

	var ts []*gguf.Tensor
	for _, t := range m.tensors() {
		gt, err := encodeTensor(t)
		if err != nil {
			return wrap(op, "", err, ErrInvalidConfig)
		}
		ts = append(ts, gt)
	}

	f, err := os.Create(path)
	if err != nil {
		return wrap(op, "", err, ErrInvalidConfig)
	}
	defer f.Close()

	if err := gguf.Write(f, kv, ts); err != nil {
		return wrap(op, "", err, ErrInvalidConfig)
	}

	m.logger.Debug("weights saved", "model", m.ID, "path", path, "tensors", len(ts))
	return f.Close()
}

func encodeTensor(t *tensor) (*gguf.Tensor, error) {
	gt := &gguf.Tensor{Name: t.name, Type: gguf.TensorTypeF32, Shape: t.shape()}

	b := t.blob
	if !b.Quantized() {
		data, err := gguf.EncodeFloat32(gguf.TensorTypeF32, b.F32)
		gt.Data = data
		return gt, err
	}

	if t.cols%gguf.Q4_0BlockSize == 0 {
		q, err := quant.Unpack(b)
		if err != nil {
			return nil, err
		}
		data, err := gguf.PackQ4_0(q, b.Scales)
		gt.Type, gt.Data = gguf.TensorTypeQ4_0, data
		return gt, err
	}

	f32s, err := quant.Dequantize(b)
	if err != nil {
		return nil, err
	}
	data, err := gguf.EncodeFloat32(gguf.TensorTypeF16, f32s)
	gt.Type, gt.Data = gguf.TensorTypeF16, data
	return gt, err
}
