// MODUL: image
// ZWECK: Bilder laden und auf die konfigurierte Eingabegroesse der Bild-Modalitaet bringen
// INPUT: Dateipfad, Bytes, io.Reader oder image.Image
// OUTPUT: Image mit dekodiertem RGBA-Bild
// NEBENEFFEKTE: Dateisystem-Lesezugriff bei LoadImage
// ABHAENGIGKEITEN: golang.org/x/image/{draw,webp,bmp,tiff}, image/{jpeg,png,gif}
// HINWEISE: Alle Bilder werden intern als RGBA gehalten

package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"

	// Standard-Decoder registrieren
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image enthaelt ein dekodiertes Bild mit Metadaten
type Image struct {
	RGBA   *image.RGBA
	Width  int
	Height int
	Format ImageFormat
}

// LoadImage laedt ein Bild von einem Dateipfad
func LoadImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("datei lesen fehlgeschlagen: %w", err)
	}
	return LoadImageFromBytes(data)
}

// LoadImageFromBytes dekodiert ein Bild aus Byte-Daten
func LoadImageFromBytes(data []byte) (*Image, error) {
	format := DetectFormat(data)
	if err := ValidateFormat(format); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("bild dekodieren fehlgeschlagen: %w", err)
	}

	out := FromImage(img)
	out.Format = format
	return out, nil
}

// DecodeImage dekodiert ein Bild aus einem io.Reader
func DecodeImage(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("daten lesen fehlgeschlagen: %w", err)
	}
	return LoadImageFromBytes(data)
}

// FromImage uebernimmt ein bereits dekodiertes image.Image
func FromImage(img image.Image) *Image {
	rgba := toRGBA(img)
	bounds := rgba.Bounds()
	return &Image{RGBA: rgba, Width: bounds.Dx(), Height: bounds.Dy(), Format: FormatRaw}
}

// toRGBA konvertiert ein beliebiges image.Image zu *image.RGBA mit Ursprung (0,0)
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba
}

// Resize skaliert ein Bild bilinear auf die angegebene Groesse.
// Hat das Bild bereits die Zielgroesse, wird es unveraendert zurueckgegeben.
func Resize(img *Image, width, height int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("ungueltige Groesse: %dx%d", width, height)
	}
	if img.Width == width && img.Height == height {
		return img, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img.RGBA, img.RGBA.Bounds(), draw.Src, nil)

	return &Image{RGBA: dst, Width: width, Height: height, Format: img.Format}, nil
}

// Composite entfernt Alpha-Kanal durch weissen Hintergrund
func Composite(img *Image) *Image {
	return CompositeWithColor(img, color.White)
}

// CompositeWithColor entfernt Alpha-Kanal mit gegebener Hintergrundfarbe
func CompositeWithColor(img *Image, bg color.Color) *Image {
	bounds := img.RGBA.Bounds()
	dst := image.NewRGBA(bounds)

	draw.Draw(dst, bounds, &image.Uniform{bg}, image.Point{}, draw.Src)
	draw.Draw(dst, bounds, img.RGBA, bounds.Min, draw.Over)

	return &Image{RGBA: dst, Width: img.Width, Height: img.Height, Format: img.Format}
}

// CenterCrop schneidet einen zentrierten Bereich aus
func CenterCrop(img *Image, width, height int) (*Image, error) {
	if width > img.Width || height > img.Height {
		return nil, fmt.Errorf("crop groesser als bild: %dx%d > %dx%d", width, height, img.Width, img.Height)
	}

	offsetX := (img.Width - width) / 2
	offsetY := (img.Height - height) / 2

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), img.RGBA, image.Pt(offsetX, offsetY), draw.Src)

	return &Image{RGBA: dst, Width: width, Height: height, Format: img.Format}, nil
}
