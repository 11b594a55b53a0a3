// Package audio - Audio-Eingaben fuer die Audio-Modalitaet.
//
// MODUL: wav
// ZWECK: RIFF/WAVE Dateien (PCM 8/16/24/32 Bit, IEEE float32) dekodieren
// INPUT: Dateipfad oder io.Reader
// OUTPUT: Clip mit Mono-Samples in [-1, 1] und Abtastrate
// NEBENEFFEKTE: Dateisystem-Lesezugriff bei LoadWAV
// ABHAENGIGKEITEN: encoding/binary (stdlib)
// HINWEISE: Mehrkanal-Audio wird auf Mono gemittelt, unbekannte Chunks uebersprungen
package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	formatPCM   = 1
	formatFloat = 3
	formatExt   = 0xFFFE
)

// Fehler
var (
	ErrNotWAV      = errors.New("audio: keine RIFF/WAVE Datei")
	ErrUnsupported = errors.New("audio: nicht unterstuetztes Sample-Format")
)

// Clip ist ein Mono-Signal mit Abtastrate
type Clip struct {
	Samples    []float32
	SampleRate int
}

// Duration gibt die Laenge in Sekunden zurueck
func (c *Clip) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

type fmtChunk struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// LoadWAV laedt eine WAV-Datei
func LoadWAV(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return DecodeWAV(bufio.NewReader(f))
}

// DecodeWAV dekodiert eine WAV-Datei aus r
func DecodeWAV(r io.Reader) (*Clip, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	var format *fmtChunk
	for {
		var id [4]byte
		var size uint32
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return nil, fmt.Errorf("%w: data chunk fehlt", ErrNotWAV)
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, err
		}

		switch string(id[:]) {
		case "fmt ":
			format = &fmtChunk{}
			if err := binary.Read(r, binary.LittleEndian, format); err != nil {
				return nil, err
			}
			if err := skip(r, int64(size)-16+int64(size%2)); err != nil {
				return nil, err
			}
		case "data":
			if format == nil {
				return nil, fmt.Errorf("%w: data vor fmt", ErrNotWAV)
			}
			data := make([]byte, size)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, err
			}
			return decodeSamples(format, data)
		default:
			if err := skip(r, int64(size)+int64(size%2)); err != nil {
				return nil, err
			}
		}
	}
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, r, n)
	return err
}

func decodeSamples(f *fmtChunk, data []byte) (*Clip, error) {
	channels := int(f.Channels)
	width := int(f.BitsPerSample) / 8
	if channels == 0 || width == 0 {
		return nil, fmt.Errorf("%w: %d Kanaele, %d Bit", ErrUnsupported, f.Channels, f.BitsPerSample)
	}

	var decode func([]byte) float32
	switch {
	case f.AudioFormat == formatFloat && width == 4:
		decode = func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }
	case f.AudioFormat == formatPCM || f.AudioFormat == formatExt:
		switch width {
		case 1:
			decode = func(b []byte) float32 { return (float32(b[0]) - 128) / 128 }
		case 2:
			decode = func(b []byte) float32 { return float32(int16(binary.LittleEndian.Uint16(b))) / (1 << 15) }
		case 3:
			decode = func(b []byte) float32 {
				v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
				return float32(v) / (1 << 23)
			}
		case 4:
			decode = func(b []byte) float32 { return float32(int32(binary.LittleEndian.Uint32(b))) / (1 << 31) }
		}
	}
	if decode == nil {
		return nil, fmt.Errorf("%w: format %d, %d Bit", ErrUnsupported, f.AudioFormat, f.BitsPerSample)
	}

	frame := channels * width
	samples := make([]float32, len(data)/frame)
	for i := range samples {
		var sum float32
		for c := range channels {
			o := i*frame + c*width
			sum += decode(data[o : o+width])
		}
		samples[i] = sum / float32(channels)
	}

	return &Clip{Samples: samples, SampleRate: int(f.SampleRate)}, nil
}

// EncodeWAV schreibt einen Clip als 16-Bit PCM Mono
func EncodeWAV(w io.Writer, c *Clip) error {
	size := uint32(len(c.Samples) * 2)
	header := []any{
		[4]byte{'R', 'I', 'F', 'F'}, 36 + size, [4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '}, uint32(16),
		fmtChunk{AudioFormat: formatPCM, Channels: 1, SampleRate: uint32(c.SampleRate), ByteRate: uint32(c.SampleRate) * 2, BlockAlign: 2, BitsPerSample: 16},
		[4]byte{'d', 'a', 't', 'a'}, size,
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	pcm := make([]int16, len(c.Samples))
	for i, s := range c.Samples {
		pcm[i] = int16(max(-1, min(1, s)) * math.MaxInt16)
	}
	return binary.Write(w, binary.LittleEndian, pcm)
}
