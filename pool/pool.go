// Package pool - Vorab dimensionierter Speicher fuer Gewichte und Aktivierungen.
//
// MODUL: pool
// ZWECK: Ein Gewichtsbereich (Bump-Allokation, lebt so lange wie das Modell)
//        und ein Aktivierungsbereich (Scratch, pro Aufruf per Mark/Release)
// INPUT: weightBytes, activationBytes, useSIMD
// OUTPUT: ausgerichtete []byte / []float32 Slices aus den Bereichen
// NEBENEFFEKTE: keine Heap-Allokation nach Create
// ABHAENGIGKEITEN: unsafe (float32-Sichten auf Bytes)
// HINWEISE: Nicht thread-sicher. Ein Pool darf nicht von mehreren gleichzeitig
//           laufenden Modellen genutzt werden ohne externe Synchronisation.
package pool

import (
	"errors"
	"fmt"
	"unsafe"
)

const (
	// SIMDAlignment ist die Ausrichtung mit SIMD (Cache-Line, AVX-512).
	SIMDAlignment = 64
	// DefaultAlignment ist die Ausrichtung ohne SIMD.
	DefaultAlignment = 16
)

// Fehler
var (
	ErrExhausted = errors.New("pool: Speicherbereich erschoepft")
	ErrFreed     = errors.New("pool: Pool wurde bereits freigegeben")
	ErrSize      = errors.New("pool: ungueltige Groesse")
)

// Pool haelt zwei zusammenhaengende Speicherbereiche.
type Pool struct {
	weights    []byte
	weightOff  int
	activation []byte
	actOff     int

	useSIMD bool
	align   int
	freed   bool
}

// Mark ist ein Sicherungspunkt im Aktivierungsbereich.
type Mark int

// Stats beschreibt Groesse und Belegung eines Pools.
type Stats struct {
	WeightBytes     int
	WeightUsed      int
	ActivationBytes int
	ActivationUsed  int
	Alignment       int
	SIMD            bool
}

// Create legt einen Pool mit den angegebenen Bereichsgroessen an.
func Create(weightBytes, activationBytes int, useSIMD bool) (*Pool, error) {
	if weightBytes < 0 || activationBytes < 0 {
		return nil, fmt.Errorf("%w: weights=%d activations=%d", ErrSize, weightBytes, activationBytes)
	}

	p := &Pool{
		weights:    alignedBytes(weightBytes),
		activation: alignedBytes(activationBytes),
	}
	p.SetSIMD(useSIMD)
	return p, nil
}

// alignedBytes liefert n Bytes, deren Anfang auf SIMDAlignment liegt.
func alignedBytes(n int) []byte {
	if n == 0 {
		return []byte{}
	}

	// []uint64 garantiert 8 Byte Ausrichtung, der Rest wird per Offset erreicht
	words := make([]uint64, (n+SIMDAlignment)/8+1)
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)

	addr := uintptr(unsafe.Pointer(&raw[0]))
	shift := int((SIMDAlignment - addr%SIMDAlignment) % SIMDAlignment)
	return raw[shift : shift+n : shift+n]
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// SetSIMD setzt das SIMD-Flag und damit die Ausrichtung kuenftiger Allokationen.
func (p *Pool) SetSIMD(useSIMD bool) {
	p.useSIMD = useSIMD
	p.align = DefaultAlignment
	if useSIMD {
		p.align = SIMDAlignment
	}
}

// SIMD meldet ob der Pool fuer SIMD ausgerichtet allokiert.
func (p *Pool) SIMD() bool {
	return p.useSIMD
}

// AllocBytes reserviert n Bytes im Gewichtsbereich.
func (p *Pool) AllocBytes(n int) ([]byte, error) {
	if p.freed {
		return nil, ErrFreed
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrSize, n)
	}

	start := alignUp(p.weightOff, p.align)
	if start+n > len(p.weights) {
		return nil, fmt.Errorf("%w: Gewichte, angefordert %d, frei %d", ErrExhausted, n, max(0, len(p.weights)-start))
	}

	p.weightOff = start + n
	return p.weights[start : start+n : start+n], nil
}

// AllocFloat32 reserviert n float32-Werte im Gewichtsbereich.
func (p *Pool) AllocFloat32(n int) ([]float32, error) {
	b, err := p.AllocBytes(n * 4)
	if err != nil {
		return nil, err
	}
	return float32s(b, n), nil
}

// Scratch reserviert n genullte float32-Werte im Aktivierungsbereich.
// Die Werte bleiben bis zum naechsten Release auf eine fruehere Mark gueltig.
func (p *Pool) Scratch(n int) ([]float32, error) {
	if p.freed {
		return nil, ErrFreed
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrSize, n)
	}

	start := alignUp(p.actOff, p.align)
	end := start + n*4
	if end > len(p.activation) {
		return nil, fmt.Errorf("%w: Aktivierungen, angefordert %d, frei %d", ErrExhausted, n*4, max(0, len(p.activation)-start))
	}

	p.actOff = end
	f := float32s(p.activation[start:end:end], n)
	clear(f)
	return f, nil
}

// Mark liefert den aktuellen Stand des Aktivierungsbereichs.
func (p *Pool) Mark() Mark {
	return Mark(p.actOff)
}

// Release gibt alle Scratch-Slices seit m frei.
func (p *Pool) Release(m Mark) {
	if int(m) < p.actOff {
		p.actOff = int(m)
	}
}

// WeightMark liefert den aktuellen Stand des Gewichtsbereichs.
func (p *Pool) WeightMark() Mark {
	return Mark(p.weightOff)
}

// ResetWeights verwirft alle Allokationen im Gewichtsbereich seit m.
func (p *Pool) ResetWeights(m Mark) {
	if int(m) < p.weightOff {
		p.weightOff = max(int(m), 0)
	}
}

// Stats liefert Groesse und Belegung.
func (p *Pool) Stats() Stats {
	return Stats{
		WeightBytes:     len(p.weights),
		WeightUsed:      p.weightOff,
		ActivationBytes: len(p.activation),
		ActivationUsed:  p.actOff,
		Alignment:       p.align,
		SIMD:            p.useSIMD,
	}
}

// Free gibt beide Bereiche frei. Weitere Allokationen schlagen fehl.
func (p *Pool) Free() {
	if p == nil || p.freed {
		return
	}
	p.weights, p.activation = nil, nil
	p.weightOff, p.actOff = 0, 0
	p.freed = true
}

// Freed meldet ob Free aufgerufen wurde.
func (p *Pool) Freed() bool {
	return p.freed
}

func float32s(b []byte, n int) []float32 {
	if n == 0 {
		return []float32{}
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n)
}

// Plan summiert ausgerichtete Allokationsgroessen, damit ein Pool vorab
// exakt dimensioniert werden kann.
type Plan struct {
	Align int
	bytes int
}

// Add vermerkt eine Allokation von n Bytes.
func (pl *Plan) Add(n int) {
	pl.bytes = alignUp(pl.bytes, pl.align()) + n
}

// AddFloat32 vermerkt eine Allokation von n float32-Werten.
func (pl *Plan) AddFloat32(n int) {
	pl.Add(n * 4)
}

// Bytes liefert die benoetigte Bereichsgroesse.
func (pl *Plan) Bytes() int {
	return alignUp(pl.bytes, pl.align())
}

func (pl *Plan) align() int {
	if pl.Align == 0 {
		return SIMDAlignment
	}
	return pl.Align
}
