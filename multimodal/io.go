// MODUL: io
// ZWECK: Ein- und Ausgabecontainer eines Process-Aufrufs
// INPUT: Token-IDs, image.Image, Audio-Samples; Ausgabegroessen
// OUTPUT: Input, Output
// NEBENEFFEKTE: Free loescht eigene Payloads bzw. Ausgabepuffer
// ABHAENGIGKEITEN: image (stdlib)
// HINWEISE: Eine Payload ist entweder Owned (gehoert dem Input) oder Borrowed
//           (gehoert dem Aufrufer). Free(true) raeumt nur Owned-Payloads ab;
//           Bilder nur fuer die Pix-basierten Typen aus image.

package multimodal

import (
	"fmt"
	"image"
)

// Ownership beschreibt wem eine Payload gehoert.
type Ownership bool

const (
	Borrowed Ownership = false
	Owned    Ownership = true
)

// Input haelt die Rohdaten eines Aufrufs. Mindestens eine Payload pro
// konfigurierter Modalitaet muss gesetzt sein.
type Input struct {
	Text      []int32
	Image     image.Image
	Audio     []float32
	AudioRate int // Abtastrate von Audio, 0 = Rate der Konfiguration

	textOwned, imageOwned, audioOwned Ownership
}

// NewInput liefert einen leeren Input.
func NewInput() *Input {
	return &Input{}
}

// SetText setzt die Token-IDs.
func (in *Input) SetText(tokens []int32, o Ownership) {
	in.Text, in.textOwned = tokens, o
}

// SetImage setzt das Bild.
func (in *Input) SetImage(img image.Image, o Ownership) {
	in.Image, in.imageOwned = img, o
}

// SetAudio setzt die Samples und ihre Abtastrate.
func (in *Input) SetAudio(samples []float32, sampleRate int, o Ownership) {
	in.Audio, in.AudioRate, in.audioOwned = samples, sampleRate, o
}

// Has meldet ob eine Payload fuer k vorhanden ist. Leere Token- oder
// Sample-Puffer zaehlen als fehlend.
func (in *Input) Has(k Kind) bool {
	if in == nil {
		return false
	}
	switch k {
	case KindText:
		return len(in.Text) > 0
	case KindImage:
		if in.Image == nil {
			return false
		}
		return !in.Image.Bounds().Empty()
	case KindAudio:
		return len(in.Audio) > 0
	default:
		return false
	}
}

// Free setzt den Input zurueck. Mit freeContents werden eigene Payloads
// zusaetzlich geloescht; geliehene Payloads werden nie veraendert.
func (in *Input) Free(freeContents bool) {
	if in == nil {
		return
	}
	if freeContents {
		if in.textOwned {
			clear(in.Text)
		}
		if in.audioOwned {
			clear(in.Audio)
		}
		if in.imageOwned == Owned {
			clearImage(in.Image)
		}
	}
	*in = Input{}
}

// clearImage nullt die Pixel der Bildtypen aus image, die einen eigenen
// Pix-Puffer haben. Andere Implementierungen bleiben unveraendert.
func clearImage(img image.Image) {
	switch m := img.(type) {
	case *image.RGBA:
		clear(m.Pix)
	case *image.NRGBA:
		clear(m.Pix)
	case *image.RGBA64:
		clear(m.Pix)
	case *image.NRGBA64:
		clear(m.Pix)
	case *image.Gray:
		clear(m.Pix)
	case *image.Gray16:
		clear(m.Pix)
	case *image.Alpha:
		clear(m.Pix)
	case *image.Paletted:
		clear(m.Pix)
	case *image.YCbCr:
		clear(m.Y)
		clear(m.Cb)
		clear(m.Cr)
	}
}

// Output ist wiederverwendbar ueber mehrere Process-Aufrufe.
type Output struct {
	// Embeddings hat EmbedDim*Length Werte, Process schreibt Zeile 0.
	Embeddings []float32
	EmbedDim   int
	Length     int

	// Optional, nur von einem LogitsProducer bzw. FeatureProducer gefuellt.
	TextLogits    []float32
	ImageFeatures []float32
}

// NewOutput legt die Ausgabepuffer an. vocabSize und numClasses <= 0
// lassen TextLogits bzw. ImageFeatures weg.
func NewOutput(embedDim, length, vocabSize, numClasses int) (*Output, error) {
	if embedDim <= 0 || length <= 0 {
		return nil, &Error{Op: "output", Err: fmt.Errorf("%w: embedDim=%d length=%d", ErrInvalidConfig, embedDim, length)}
	}

	o := &Output{
		Embeddings: make([]float32, embedDim*length),
		EmbedDim:   embedDim,
		Length:     length,
	}
	if vocabSize > 0 {
		o.TextLogits = make([]float32, vocabSize)
	}
	if numClasses > 0 {
		o.ImageFeatures = make([]float32, numClasses)
	}
	return o, nil
}

// Embedding liefert Zeile i der Embeddings.
func (o *Output) Embedding(i int) []float32 {
	return o.Embeddings[i*o.EmbedDim : (i+1)*o.EmbedDim]
}

// Free gibt die Puffer frei. Der Output ist danach nicht mehr nutzbar.
func (o *Output) Free() {
	if o == nil {
		return
	}
	*o = Output{}
}
