// MODUL: backbone
// ZWECK: Rohdaten einer Modalitaet in den Merkmalsvektor des Encoders wandeln
// INPUT: Input-Payload, ModalityConfig
// OUTPUT: InputDim float32-Werte in einem Scratch-Puffer
// NEBENEFFEKTE: schreibt nur in dst
// ABHAENGIGKEITEN: vision (Resize, Normalize), audio (Resample, Features)
// HINWEISE: Text wird als Token-Histogramm ueber maxTokens Buckets kodiert,
//           W1*x ist damit die gemittelte Embedding-Summe.

package multimodal

import (
	"errors"
	"fmt"

	"github.com/ollama/edgefuse/audio"
	"github.com/ollama/edgefuse/vision"
)

// ErrTooManyTokens wird bei mehr als maxTokens Tokens zurueckgegeben.
var ErrTooManyTokens = errors.New("multimodal: zu viele Tokens")

// Backbone ist der externe Merkmalsextraktor pro Modalitaet.
type Backbone interface {
	// Extract schreibt cfg.InputDim() Werte nach dst.
	Extract(dst []float32, cfg ModalityConfig, in *Input) error
}

// LogitsProducer fuellt Output.TextLogits aus dem fusionierten Vektor.
type LogitsProducer interface {
	Logits(dst, fused []float32) error
}

// FeatureProducer fuellt Output.ImageFeatures aus dem fusionierten Vektor.
type FeatureProducer interface {
	ImageFeatures(dst, fused []float32) error
}

// DefaultBackbone ist der eingebaute Backbone.
type DefaultBackbone struct {
	Normalizer vision.Normalizer
	Audio      audio.Features
}

// NewDefaultBackbone nutzt ImageNet-Normalisierung und die Standard-Audio-Vorverarbeitung.
func NewDefaultBackbone() *DefaultBackbone {
	return &DefaultBackbone{Normalizer: vision.DefaultNormalizer, Audio: audio.DefaultFeatures}
}

func (b *DefaultBackbone) Extract(dst []float32, cfg ModalityConfig, in *Input) error {
	switch cfg := cfg.(type) {
	case TextConfig:
		return TokenHistogram(dst, in.Text, cfg.MaxTokens)
	case ImageConfig:
		img, err := vision.Resize(vision.FromImage(in.Image), cfg.Width, cfg.Height)
		if err != nil {
			return err
		}
		return b.Normalizer.NormalizeInto(dst, img, cfg.Channels)
	case AudioConfig:
		samples := in.Audio
		if in.AudioRate > 0 && in.AudioRate != cfg.SampleRate {
			clip, err := audio.Resample(&audio.Clip{Samples: samples, SampleRate: in.AudioRate}, cfg.SampleRate)
			if err != nil {
				return err
			}
			samples = clip.Samples
		}
		return b.Audio.Extract(dst, samples)
	default:
		return fmt.Errorf("%w: unbekannte modality %T", ErrInvalidConfig, cfg)
	}
}

// TokenHistogram verteilt die Tokens auf maxTokens Buckets (ID mod maxTokens)
// und normiert auf die Token-Anzahl.
func TokenHistogram(dst []float32, tokens []int32, maxTokens int) error {
	if len(dst) != maxTokens {
		return fmt.Errorf("%w: %d Buckets, erwartet %d", ErrDimensionMismatch, len(dst), maxTokens)
	}
	if len(tokens) > maxTokens {
		return fmt.Errorf("%w: %d > %d", ErrTooManyTokens, len(tokens), maxTokens)
	}

	clear(dst)
	w := 1 / float32(len(tokens))
	for _, tok := range tokens {
		dst[uint32(tok)%uint32(maxTokens)] += w
	}
	return nil
}
