// MODUL: normalize
// ZWECK: Bild in einen normalisierten float32-Vektor im CHW-Layout schreiben
// INPUT: Image, Kanalanzahl (1, 3 oder 4), mean/std pro Kanal
// OUTPUT: channels*height*width Werte in einem vom Aufrufer gestellten Puffer
// NEBENEFFEKTE: schreibt nur in dst
// ABHAENGIGKEITEN: keine (nur Standardbibliothek)
// HINWEISE: 1 Kanal = Luminanz (ITU-R BT.601), 4 Kanaele = RGB + Alpha

package vision

import (
	"errors"
	"fmt"
)

// Standard-Normalisierungswerte
var (
	// ImageNet Default (ResNet, MobileNet, etc.)
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}

	// Auf [-1, 1] skaliert
	StandardMean = [3]float32{0.5, 0.5, 0.5}
	StandardStd  = [3]float32{0.5, 0.5, 0.5}

	// Keine Normalisierung (nur Skalierung auf [0,1])
	NoNormMean = [3]float32{0.0, 0.0, 0.0}
	NoNormStd  = [3]float32{1.0, 1.0, 1.0}
)

// ErrChannels wird bei nicht unterstuetzter Kanalanzahl zurueckgegeben
var ErrChannels = errors.New("nicht unterstuetzte Kanalanzahl")

// Normalizer beschreibt die Vorverarbeitung fuer ein Modell
type Normalizer struct {
	Mean [3]float32
	Std  [3]float32
}

// DefaultNormalizer ist die ImageNet-Normalisierung
var DefaultNormalizer = Normalizer{Mean: ImageNetMean, Std: ImageNetStd}

// Len gibt die Vektorlaenge fuer ein Bild zurueck
func Len(width, height, channels int) int {
	return width * height * channels
}

// NormalizeInto schreibt img normalisiert im CHW-Layout nach dst.
// len(dst) muss Width*Height*channels sein.
func (n Normalizer) NormalizeInto(dst []float32, img *Image, channels int) error {
	if channels != 1 && channels != 3 && channels != 4 {
		return fmt.Errorf("%w: %d", ErrChannels, channels)
	}
	if want := Len(img.Width, img.Height, channels); len(dst) != want {
		return fmt.Errorf("ausgabe hat %d werte, erwartet %d", len(dst), want)
	}

	plane := img.Width * img.Height
	pix := img.RGBA.Pix
	stride := img.RGBA.Stride

	for y := range img.Height {
		for x := range img.Width {
			o := y*stride + x*4
			r := float32(pix[o]) / 255
			g := float32(pix[o+1]) / 255
			b := float32(pix[o+2]) / 255
			idx := y*img.Width + x

			switch channels {
			case 1:
				l := 0.299*r + 0.587*g + 0.114*b
				dst[idx] = (l - n.Mean[0]) / n.Std[0]
			default:
				dst[idx] = (r - n.Mean[0]) / n.Std[0]
				dst[plane+idx] = (g - n.Mean[1]) / n.Std[1]
				dst[2*plane+idx] = (b - n.Mean[2]) / n.Std[2]
				if channels == 4 {
					dst[3*plane+idx] = float32(pix[o+3]) / 255
				}
			}
		}
	}

	return nil
}

// Normalize wie NormalizeInto, legt den Puffer selbst an
func (n Normalizer) Normalize(img *Image, channels int) ([]float32, error) {
	dst := make([]float32, Len(img.Width, img.Height, channels))
	if err := n.NormalizeInto(dst, img, channels); err != nil {
		return nil, err
	}
	return dst, nil
}
