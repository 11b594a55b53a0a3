// MODUL: modality
// ZWECK: Konfiguration der Modalitaeten Text, Bild und Audio
// INPUT: TextConfig, ImageConfig, AudioConfig oder Kurzform "text:512x128"
// OUTPUT: ModalityConfig mit Kind und InputDim
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: keine (nur Standardbibliothek)
// HINWEISE: ModalityConfig ist geschlossen; nur die drei Typen dieses Pakets erfuellen es

package multimodal

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind ist die Art einer Modalitaet.
type Kind int

const (
	KindText Kind = iota
	KindImage
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindAudio:
		return "audio"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ModalityConfig beschreibt eine Modalitaet. Unveraenderlich nach New.
type ModalityConfig interface {
	Kind() Kind
	// InputDim ist die Laenge des Merkmalsvektors, den der Backbone liefert.
	InputDim() int
	String() string

	validate() error
}

// TextConfig: Token-Eingabe mit Embedding-Tabelle.
type TextConfig struct {
	MaxTokens int
	EmbedDim  int
}

func (TextConfig) Kind() Kind { return KindText }
func (c TextConfig) InputDim() int { return c.MaxTokens }
func (c TextConfig) String() string { return fmt.Sprintf("text:%dx%d", c.MaxTokens, c.EmbedDim) }

func (c TextConfig) validate() error {
	if c.MaxTokens <= 0 || c.EmbedDim <= 0 {
		return fmt.Errorf("%w: text maxTokens=%d embedDim=%d", ErrInvalidConfig, c.MaxTokens, c.EmbedDim)
	}
	return nil
}

// ImageConfig: Bild-Eingabe, wird auf Width x Height skaliert.
type ImageConfig struct {
	Width    int
	Height   int
	Channels int // 1, 3 oder 4
}

func (ImageConfig) Kind() Kind { return KindImage }
func (c ImageConfig) InputDim() int { return c.Width * c.Height * c.Channels }
func (c ImageConfig) String() string { return fmt.Sprintf("image:%dx%dx%d", c.Width, c.Height, c.Channels) }

func (c ImageConfig) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: image %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	switch c.Channels {
	case 1, 3, 4:
		return nil
	default:
		return fmt.Errorf("%w: image mit %d Kanaelen", ErrInvalidConfig, c.Channels)
	}
}

// AudioConfig: Mono-Signal fester Laenge.
type AudioConfig struct {
	SampleRate  int
	DurationSec int
}

func (AudioConfig) Kind() Kind { return KindAudio }
func (c AudioConfig) InputDim() int { return c.SampleRate * c.DurationSec }
func (c AudioConfig) String() string { return fmt.Sprintf("audio:%dx%d", c.SampleRate, c.DurationSec) }

func (c AudioConfig) validate() error {
	if c.SampleRate <= 0 || c.DurationSec <= 0 {
		return fmt.Errorf("%w: audio %d Hz, %d s", ErrInvalidConfig, c.SampleRate, c.DurationSec)
	}
	return nil
}

// ParseModality parst die Kurzform einer Modalitaet:
//
//	text:<maxTokens>x<embedDim>
//	image:<width>x<height>x<channels>
//	audio:<sampleRate>x<durationSec>
func ParseModality(s string) (ModalityConfig, error) {
	kind, dims, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	if !ok {
		return nil, fmt.Errorf("%w: modality %q", ErrInvalidConfig, s)
	}

	var n []int
	for _, f := range strings.Split(dims, "x") {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%w: modality %q: %v", ErrInvalidConfig, s, err)
		}
		n = append(n, v)
	}

	var cfg ModalityConfig
	switch {
	case kind == "text" && len(n) == 2:
		cfg = TextConfig{MaxTokens: n[0], EmbedDim: n[1]}
	case kind == "image" && len(n) == 3:
		cfg = ImageConfig{Width: n[0], Height: n[1], Channels: n[2]}
	case kind == "audio" && len(n) == 2:
		cfg = AudioConfig{SampleRate: n[0], DurationSec: n[1]}
	default:
		return nil, fmt.Errorf("%w: modality %q", ErrInvalidConfig, s)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
