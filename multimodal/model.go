// MODUL: model
// ZWECK: Multimodales Modell: Encoder, Fusions-Layer, Speicherpool und Process
// INPUT: Params bzw. Modalitaeten + Options, pro Aufruf Input und Output
// OUTPUT: fusionierter Vektor in Output.Embeddings
// NEBENEFFEKTE: Pool-Allokation bei Create und SetMemoryPool, Logging auf DEBUG/TRACE
// ABHAENGIGKEITEN: fusion, pool, quant, logutil, format, github.com/google/uuid
// HINWEISE: Process ist synchron und lockfrei. Ein Modell darf nicht von mehreren
//           Goroutinen gleichzeitig genutzt werden, ebenso wenig ein geliehener Pool.
//           Bei einem Fehler bleibt Output unveraendert.

package multimodal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ollama/edgefuse/format"
	"github.com/ollama/edgefuse/fusion"
	"github.com/ollama/edgefuse/logutil"
	"github.com/ollama/edgefuse/pool"
	"github.com/ollama/edgefuse/quant"
)

var errClosed = errors.New("model closed")

// Model ist ein fertig dimensioniertes multimodales Modell.
type Model struct {
	// ID unterscheidet Modelle in Logs.
	ID string

	encoders []*Encoder
	layers   []*FusionLayer
	// active ist der Layer, den Process ausfuehrt: layers[0] oder bei
	// NumFusionLayers == 0 ein parameterfreier Layer ausserhalb der Bilanz.
	active *FusionLayer

	method    fusion.Method
	fusionDim int
	outputDim int

	useQuantization bool
	useSIMD         bool

	pool      *pool.Pool
	ownsPool  bool
	poolLimit uint64

	backbone Backbone
	logger   *slog.Logger
	closed   bool
}

// New erstellt ein Modell aus DefaultParams und opts.
func New(modalities []ModalityConfig, method fusion.Method, fusionDim int, opts ...Option) (*Model, error) {
	p := DefaultParams(modalities, method, fusionDim)
	p.Apply(opts...)
	return Create(p)
}

// Create baut ein Modell. Bei einem Fehler wird nichts zurueckgegeben und
// alles bereits Angelegte wieder freigegeben.
func Create(p Params) (*Model, error) {
	const op = "create"

	if err := p.Validate(); err != nil {
		return nil, wrap(op, "", err, ErrInvalidConfig)
	}

	m := &Model{
		ID:              uuid.NewString(),
		method:          p.FusionMethod,
		fusionDim:       p.FusionDim,
		useQuantization: p.UseQuantization,
		useSIMD:         p.UseSIMD,
		poolLimit:       p.PoolLimit,
		backbone:        p.Backbone,
		logger:          p.Logger,
	}
	if m.backbone == nil {
		m.backbone = NewDefaultBackbone()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}

	dims := make([]int, len(p.Modalities))
	for i, cfg := range p.Modalities {
		e, err := NewEncoder(i, cfg, p.FusionDim, p.UseQuantization)
		if err != nil {
			return nil, wrap(op, cfg.Kind().String(), err, ErrInvalidConfig)
		}
		m.encoders = append(m.encoders, e)
		dims[i] = e.OutputDim
	}

	for i := range p.NumFusionLayers {
		l, err := NewFusionLayer(i, p.FusionMethod, dims, p.FusionDim, p.UseQuantization)
		if err != nil {
			return nil, wrap(op, "", err, ErrInvalidConfig)
		}
		m.layers = append(m.layers, l)
	}
	if len(m.layers) > 0 {
		m.active = m.layers[0]
	} else {
		l, err := NewFusionLayer(0, p.FusionMethod, dims, p.FusionDim, p.UseQuantization)
		if err != nil {
			return nil, wrap(op, "", err, ErrInvalidConfig)
		}
		m.active = l
	}
	m.outputDim = m.active.OutputDim

	var err error
	if p.WeightsFile != "" {
		err = m.loadWeights(p.WeightsFile, p.LearnedFusion, p.Seed)
	} else {
		err = m.initWeights(p.Seed, p.LearnedFusion)
	}
	if err != nil {
		return nil, wrap(op, "", err, ErrInvalidConfig)
	}

	if p.MemoryPool != nil {
		err = m.adopt(p.MemoryPool)
	} else {
		err = m.allocatePool()
	}
	if err != nil {
		return nil, wrap(op, "", err, ErrAllocationFailure)
	}

	weights, activations := m.MemoryUsage()
	m.logger.Debug("model created", "model", m.ID,
		"modalities", m.modalityNames(), "method", m.method, "fusion_dim", m.fusionDim, "output_dim", m.outputDim,
		"quantized", m.useQuantization, "simd", m.useSIMD, "learned_fusion", m.active.Learned(),
		"weights", format.HumanBytes(int64(weights)), "activations", format.HumanBytes(int64(activations)),
		"external_pool", !m.ownsPool)
	return m, nil
}

// Encoders liefert die Encoder in Konfigurationsreihenfolge.
func (m *Model) Encoders() []*Encoder { return m.encoders }

// Layers liefert die deklarierten Fusions-Layer.
func (m *Model) Layers() []*FusionLayer { return m.layers }

// FusionLayer liefert den Layer, den Process ausfuehrt.
func (m *Model) FusionLayer() *FusionLayer { return m.active }

func (m *Model) Method() fusion.Method { return m.method }
func (m *Model) FusionDim() int { return m.fusionDim }

// OutputDim ist die Laenge des fusionierten Vektors (Output.EmbedDim).
func (m *Model) OutputDim() int { return m.outputDim }

func (m *Model) Quantized() bool { return m.useQuantization }
func (m *Model) SIMD() bool { return m.useSIMD }

// Pool liefert den aktuellen Speicherpool.
func (m *Model) Pool() *pool.Pool { return m.pool }

// OwnsPool meldet ob das Modell den Pool selbst angelegt hat.
func (m *Model) OwnsPool() bool { return m.ownsPool }

func (m *Model) modalityNames() []string {
	names := make([]string, len(m.encoders))
	for i, e := range m.encoders {
		names[i] = e.Config.String()
	}
	return names
}

// tensors liefert alle materialisierten Gewichte in fester Reihenfolge.
func (m *Model) tensors() []*tensor {
	var ts []*tensor
	for _, e := range m.encoders {
		ts = append(ts, e.tensors()...)
	}
	return append(ts, m.active.tensors()...)
}

// MemoryUsage liefert die deklarierte Speicherbilanz: die Summe aller
// Gewichts- und Bias-Bytes sowie die groesste einzelne Ausgabe als
// gemeinsamen Aktivierungs-Slot.
func (m *Model) MemoryUsage() (weightBytes, activationBytes int) {
	for _, e := range m.encoders {
		weightBytes += e.WeightBytes + e.BiasBytes
		activationBytes = max(activationBytes, e.OutputBytes)
	}
	for _, l := range m.layers {
		weightBytes += l.WeightBytes + l.BiasBytes
		activationBytes = max(activationBytes, l.OutputBytes)
	}
	return weightBytes, activationBytes
}

// PoolSize liefert die tatsaechlich benoetigten Bereichsgroessen eines Pools
// (Gewichte inkl. Scales und Ausrichtung, Arbeitsbereich eines Process-Aufrufs).
func (m *Model) PoolSize() (weightBytes, activationBytes int) {
	var wp pool.Plan
	for _, t := range m.tensors() {
		t.plan(&wp)
	}

	embeddings := func() pool.Plan {
		var pl pool.Plan
		for _, e := range m.encoders {
			pl.AddFloat32(e.OutputDim)
		}
		return pl
	}

	for _, e := range m.encoders {
		pl := embeddings()
		pl.AddFloat32(e.InputDim)
		pl.AddFloat32(e.HiddenDim)
		pl.AddFloat32(e.rowScratch())
		activationBytes = max(activationBytes, pl.Bytes())
	}

	pl := embeddings()
	pl.AddFloat32(m.outputDim)
	m.active.planScratch(&pl)
	return wp.Bytes(), max(activationBytes, pl.Bytes())
}

func (m *Model) allocatePool() error {
	weights, activations := m.PoolSize()
	if m.poolLimit > 0 && uint64(weights+activations) > m.poolLimit {
		return fmt.Errorf("%w: Pool %s ueberschreitet Limit %s", ErrAllocationFailure,
			format.HumanBytes(int64(weights+activations)), format.HumanBytes(int64(m.poolLimit)))
	}

	p, err := pool.Create(weights, activations, m.useSIMD)
	if err != nil {
		return err
	}
	if err := m.place(p); err != nil {
		p.Free()
		return err
	}

	m.pool, m.ownsPool = p, true
	return nil
}

// fits prueft ob p die Gewichte und den Arbeitsbereich aufnehmen kann.
func (m *Model) fits(p *pool.Pool) error {
	if p.Freed() {
		return pool.ErrFreed
	}

	weights, activations := m.PoolSize()
	s := p.Stats()
	free := s.WeightBytes - s.WeightUsed
	if s.WeightUsed > 0 {
		free -= pool.SIMDAlignment
	}
	if free < weights {
		return fmt.Errorf("%w: Gewichte benoetigen %s, frei %s", pool.ErrExhausted,
			format.HumanBytes(int64(weights)), format.HumanBytes(int64(max(free, 0))))
	}
	if s.ActivationBytes < activations {
		return fmt.Errorf("%w: Aktivierungen benoetigen %s, vorhanden %s", pool.ErrExhausted,
			format.HumanBytes(int64(activations)), format.HumanBytes(int64(s.ActivationBytes)))
	}
	return nil
}

// adopt uebernimmt einen geliehenen Pool.
func (m *Model) adopt(p *pool.Pool) error {
	if err := m.fits(p); err != nil {
		return err
	}
	if err := m.place(p); err != nil {
		return err
	}
	m.pool, m.ownsPool = p, false
	return nil
}

// place kopiert alle Gewichte nach p. Schlaegt eine Allokation fehl,
// bleiben die bisherigen Gewichte gueltig und p wird auf den Stand vor
// dem Aufruf zurueckgesetzt.
func (m *Model) place(p *pool.Pool) error {
	ts := m.tensors()
	blobs := make([]*quant.WeightBlob, len(ts))
	mark := p.WeightMark()
	for i, t := range ts {
		b, err := t.placed(p)
		if err != nil {
			p.ResetWeights(mark)
			return fmt.Errorf("%s: %w", t.name, err)
		}
		blobs[i] = b
	}
	for i, t := range ts {
		t.blob = blobs[i]
	}
	return nil
}

// Process kodiert jede konfigurierte Modalitaet, fusioniert die Embeddings
// und schreibt das Ergebnis in Zeile 0 von out.Embeddings.
func (m *Model) Process(in *Input, out *Output) error {
	const op = "process"

	if m.closed {
		return newError(op, "", ErrInvalidConfig, errClosed)
	}
	if out == nil || out.Embeddings == nil {
		return newError(op, "", ErrInvalidConfig, errors.New("output nicht initialisiert"))
	}
	if out.EmbedDim != m.outputDim || len(out.Embeddings) < m.outputDim {
		return newError(op, "", ErrDimensionMismatch,
			fmt.Errorf("output embedDim %d mit %d Werten, fusion liefert %d", out.EmbedDim, len(out.Embeddings), m.outputDim))
	}
	for _, e := range m.encoders {
		if !in.Has(e.Kind()) {
			return newError(op, e.Kind().String(), ErrMissingModality, nil)
		}
	}

	ctx := context.Background()
	mark := m.pool.Mark()
	defer m.pool.Release(mark)

	embeddings := make([][]float32, len(m.encoders))
	for i, e := range m.encoders {
		emb, err := m.pool.Scratch(e.OutputDim)
		if err != nil {
			return wrap(op, e.Kind().String(), err, ErrAllocationFailure)
		}
		embeddings[i] = emb
	}

	for i, e := range m.encoders {
		if err := m.encode(e, embeddings[i], in); err != nil {
			return wrap(op, e.Kind().String(), err, ErrEncoderFailure)
		}
		logutil.TraceLogger(ctx, m.logger, "modality encoded", "model", m.ID, "modality", e.Kind(), "dim", e.OutputDim)
	}

	fused, err := m.pool.Scratch(m.outputDim)
	if err != nil {
		return wrap(op, "", err, ErrAllocationFailure)
	}
	if err := m.active.run(fused, embeddings, m.pool, m.useSIMD); err != nil {
		return wrap(op, "", err, ErrDimensionMismatch)
	}
	logutil.TraceLogger(ctx, m.logger, "fused", "model", m.ID, "method", m.method, "dim", m.outputDim)

	logits, features, err := m.produce(fused, out)
	if err != nil {
		return wrap(op, "", err, ErrEncoderFailure)
	}

	copy(out.Embeddings[:m.outputDim], fused)
	if logits != nil {
		copy(out.TextLogits, logits)
	}
	if features != nil {
		copy(out.ImageFeatures, features)
	}
	return nil
}

// encode fuehrt Backbone und Encoder einer Modalitaet aus. Eingabe- und
// Zwischenvektor werden vor der Rueckkehr wieder freigegeben.
func (m *Model) encode(e *Encoder, dst []float32, in *Input) error {
	mark := m.pool.Mark()
	defer m.pool.Release(mark)

	x, err := m.pool.Scratch(e.InputDim)
	if err != nil {
		return err
	}
	hidden, err := m.pool.Scratch(e.HiddenDim)
	if err != nil {
		return err
	}

	if err := m.backbone.Extract(x, e.Config, in); err != nil {
		return fmt.Errorf("%w: %w", ErrEncoderFailure, err)
	}
	return e.forward(m.pool, dst, x, hidden, m.useSIMD)
}

// produce berechnet die optionalen Ausgaben in eigene Puffer, damit out
// erst nach vollstaendigem Erfolg beschrieben wird.
func (m *Model) produce(fused []float32, out *Output) (logits, features []float32, err error) {
	if lp, ok := m.backbone.(LogitsProducer); ok && out.TextLogits != nil {
		logits = make([]float32, len(out.TextLogits))
		if err := lp.Logits(logits, fused); err != nil {
			return nil, nil, err
		}
	}
	if fp, ok := m.backbone.(FeatureProducer); ok && out.ImageFeatures != nil {
		features = make([]float32, len(out.ImageFeatures))
		if err := fp.ImageFeatures(features, fused); err != nil {
			return nil, nil, err
		}
	}
	return logits, features, nil
}

// EnableSIMD schaltet den Kernel um. Ein eigener Pool richtet kuenftige
// Allokationen entsprechend aus, ein geliehener bleibt unveraendert.
func (m *Model) EnableSIMD(enabled bool) {
	m.useSIMD = enabled
	if m.ownsPool && m.pool != nil {
		m.pool.SetSIMD(enabled)
	}
	m.logger.Debug("simd toggled", "model", m.ID, "enabled", enabled, "owned_pool", m.ownsPool)
}

// SetMemoryPool verlegt die Gewichte in den geliehenen Pool p. Ein selbst
// angelegter alter Pool wird freigegeben, ein geliehener nie. Passt das
// Modell nicht in p, bleibt der alte Pool aktiv.
func (m *Model) SetMemoryPool(p *pool.Pool) error {
	const op = "set memory pool"

	if m.closed {
		return newError(op, "", ErrInvalidConfig, errClosed)
	}
	if p == nil {
		return newError(op, "", ErrInvalidConfig, errors.New("pool fehlt"))
	}
	if p == m.pool {
		return nil
	}

	old, owned := m.pool, m.ownsPool
	if err := m.adopt(p); err != nil {
		return wrap(op, "", err, ErrAllocationFailure)
	}
	if owned {
		old.Free()
	}

	s := p.Stats()
	m.logger.Debug("memory pool replaced", "model", m.ID, "freed_previous", owned,
		"weights", format.HumanBytes(int64(s.WeightUsed)), "activations", format.HumanBytes(int64(s.ActivationBytes)))
	return nil
}

// Close gibt einen eigenen Pool und alle Gewichte frei. Mehrfacher Aufruf ist erlaubt.
func (m *Model) Close() error {
	if m.closed {
		return nil
	}

	if m.ownsPool {
		m.pool.Free()
	}
	for _, t := range m.tensors() {
		t.blob = nil
	}
	m.pool, m.ownsPool = nil, false
	m.closed = true

	m.logger.Debug("model closed", "model", m.ID)
	return nil
}
