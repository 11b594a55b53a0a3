// MODUL: options
// ZWECK: Parameter eines Modells und Functional Options
// INPUT: Modalitaeten, Fusionsmethode, fusionDim, optionale Einstellungen
// OUTPUT: Params fuer Create
// NEBENEFFEKTE: DefaultParams liest EDGEFUSE_* Umgebungsvariablen
// ABHAENGIGKEITEN: envconfig, quant (CPU-Erkennung), pool
// HINWEISE: Ein ueber WithMemoryPool gesetzter Pool wird vom Modell nie freigegeben

package multimodal

import (
	"fmt"
	"log/slog"

	"github.com/ollama/edgefuse/envconfig"
	"github.com/ollama/edgefuse/fusion"
	"github.com/ollama/edgefuse/pool"
	"github.com/ollama/edgefuse/quant"
)

// Params beschreibt ein Modell vollstaendig.
type Params struct {
	Modalities      []ModalityConfig
	FusionMethod    fusion.Method
	FusionDim       int
	NumFusionLayers int

	WeightsFile     string // GGUF-Datei, leer = deterministische Initialisierung
	UseQuantization bool
	UseSIMD         bool
	MemoryPool      *pool.Pool // geliehener Pool, nil = Modell legt eigenen an

	// LearnedFusion initialisiert gelernte Attention-Gewichte, wenn die
	// Gewichtsdatei keine enthaelt.
	LearnedFusion bool
	Seed          uint64
	PoolLimit     uint64 // maximale Groesse eines eigenen Pools, 0 = unbegrenzt

	Backbone Backbone
	Logger   *slog.Logger
}

// Option ist eine funktionale Option fuer Params.
type Option func(*Params)

// DefaultParams liefert die Standard-Parameter fuer die Modalitaeten.
// SIMD ist aktiv wenn die CPU es unterstuetzt und EDGEFUSE_SIMD nicht
// abschaltet, Quantisierung folgt EDGEFUSE_QUANTIZE, die Gewichtsdatei
// EDGEFUSE_WEIGHTS.
func DefaultParams(modalities []ModalityConfig, method fusion.Method, fusionDim int) Params {
	return Params{
		Modalities:      modalities,
		FusionMethod:    method,
		FusionDim:       fusionDim,
		NumFusionLayers: 1,
		UseQuantization: envconfig.Quantize(),
		UseSIMD:         envconfig.SIMD(true) && quant.HasSIMD(),
		PoolLimit:       envconfig.PoolLimit(),
		WeightsFile:     envconfig.ResolveWeights(envconfig.Weights()),
	}
}

// WithQuantization schaltet 4-Bit Gewichte ein oder aus.
func WithQuantization(enabled bool) Option {
	return func(p *Params) {
		p.UseQuantization = enabled
	}
}

// WithSIMD schaltet den vektorisierten Kernel ein oder aus.
func WithSIMD(enabled bool) Option {
	return func(p *Params) {
		p.UseSIMD = enabled
	}
}

// WithWeightsFile laedt die Gewichte aus einer GGUF-Datei.
// Namen ohne Verzeichnis werden zusaetzlich in EDGEFUSE_MODELS gesucht.
func WithWeightsFile(path string) Option {
	return func(p *Params) {
		p.WeightsFile = envconfig.ResolveWeights(path)
	}
}

// WithMemoryPool nutzt einen vom Aufrufer verwalteten Pool.
func WithMemoryPool(mp *pool.Pool) Option {
	return func(p *Params) {
		p.MemoryPool = mp
	}
}

// WithFusionLayers setzt die Anzahl der Fusions-Layer.
func WithFusionLayers(n int) Option {
	return func(p *Params) {
		p.NumFusionLayers = n
	}
}

// WithLearnedFusion initialisiert gelernte Fusionsgewichte.
func WithLearnedFusion(enabled bool) Option {
	return func(p *Params) {
		p.LearnedFusion = enabled
	}
}

// WithSeed setzt den Seed der Gewichts-Initialisierung.
func WithSeed(seed uint64) Option {
	return func(p *Params) {
		p.Seed = seed
	}
}

// WithPoolLimit begrenzt die Groesse eines eigenen Pools.
func WithPoolLimit(limit uint64) Option {
	return func(p *Params) {
		p.PoolLimit = limit
	}
}

// WithBackbone ersetzt den Standard-Backbone.
func WithBackbone(b Backbone) Option {
	return func(p *Params) {
		p.Backbone = b
	}
}

// WithLogger setzt den Logger, Default ist slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Params) {
		p.Logger = l
	}
}

// Apply wendet alle Options an.
func (p *Params) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(p)
	}
}

// Validate prueft die Parameter ohne etwas anzulegen.
func (p *Params) Validate() error {
	if len(p.Modalities) == 0 {
		return fmt.Errorf("%w: keine Modalitaeten", ErrInvalidConfig)
	}
	for i, m := range p.Modalities {
		if m == nil {
			return fmt.Errorf("%w: modality %d fehlt", ErrInvalidConfig, i)
		}
		if err := m.validate(); err != nil {
			return err
		}
	}
	if p.FusionDim <= 0 {
		return fmt.Errorf("%w: fusionDim %d", ErrInvalidConfig, p.FusionDim)
	}
	if p.NumFusionLayers < 0 {
		return fmt.Errorf("%w: %d Fusions-Layer", ErrInvalidConfig, p.NumFusionLayers)
	}
	if !p.FusionMethod.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, fusion.ErrMethod)
	}
	if p.MemoryPool != nil && p.MemoryPool.Freed() {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, pool.ErrFreed)
	}
	return nil
}
