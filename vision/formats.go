// MODUL: formats
// ZWECK: Bildformat-Erkennung und Validierung fuer die Bild-Modalitaet
// INPUT: Bild-Bytes
// OUTPUT: ImageFormat, Fehler bei ungueltigem Format
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: keine (nur Standardbibliothek)
// HINWEISE: Magic-Bytes-basierte Erkennung, JPEG/PNG/GIF/WebP/BMP/TIFF

package vision

import (
	"bytes"
	"errors"
)

// ImageFormat repraesentiert ein unterstuetztes Bildformat
type ImageFormat string

const (
	FormatJPEG    ImageFormat = "jpeg"
	FormatPNG     ImageFormat = "png"
	FormatGIF     ImageFormat = "gif"
	FormatWebP    ImageFormat = "webp"
	FormatBMP     ImageFormat = "bmp"
	FormatTIFF    ImageFormat = "tiff"
	FormatRaw     ImageFormat = "raw"
	FormatUnknown ImageFormat = "unknown"
)

// Magic-Byte-Signaturen, in Pruefreihenfolge
var signatures = []struct {
	format ImageFormat
	magic  []byte
}{
	{FormatJPEG, []byte{0xFF, 0xD8, 0xFF}},
	{FormatPNG, []byte{0x89, 0x50, 0x4E, 0x47}},
	{FormatGIF, []byte("GIF8")},
	{FormatBMP, []byte("BM")},
	{FormatTIFF, []byte{'I', 'I', 0x2A, 0x00}},
	{FormatTIFF, []byte{'M', 'M', 0x00, 0x2A}},
}

// ErrUnknownFormat wird zurueckgegeben wenn Format nicht erkannt wurde
var ErrUnknownFormat = errors.New("unbekanntes Bildformat")

// DetectFormat erkennt das Bildformat anhand der Magic-Bytes
func DetectFormat(data []byte) ImageFormat {
	if len(data) < 4 {
		return FormatUnknown
	}

	for _, s := range signatures {
		if bytes.HasPrefix(data, s.magic) {
			return s.format
		}
	}

	// RIFF....WEBP
	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return FormatWebP
	}

	return FormatUnknown
}

// ValidateFormat prueft ob ein Format dekodiert werden kann
func ValidateFormat(format ImageFormat) error {
	switch format {
	case FormatJPEG, FormatPNG, FormatGIF, FormatWebP, FormatBMP, FormatTIFF:
		return nil
	default:
		return ErrUnknownFormat
	}
}

// String implementiert Stringer Interface
func (f ImageFormat) String() string {
	return string(f)
}
