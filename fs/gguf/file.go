// Package gguf - GGUF v3 Container fuer Gewichtsdateien.
//
// MODUL: file
// ZWECK: GGUF-Datei oeffnen, Header, Key-Values und Tensor-Infos parsen
// INPUT: Dateipfad
// OUTPUT: File mit Zugriff auf Metadaten und Tensor-Daten
// NEBENEFFEKTE: haelt die Datei offen bis Close
// ABHAENGIGKEITEN: file_read.go (Deserialisierung), keyvalue.go, tensor.go
// HINWEISE: Header wird vollstaendig beim Oeffnen gelesen, Tensor-Daten erst
//           bei Bedarf ueber TensorReader.
package gguf

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"slices"
	"strings"
)

// Type-Konstanten fuer GGUF-Werte
const (
	typeUint8 uint32 = iota
	typeInt8
	typeUint16
	typeInt16
	typeUint32
	typeInt32
	typeFloat32
	typeBool
	typeString
	typeArray
	typeUint64
	typeInt64
	typeFloat64
)

// Magic ist die Dateikennung am Anfang jeder GGUF-Datei.
var Magic = [4]byte{'G', 'G', 'U', 'F'}

// DefaultAlignment ist die Ausrichtung des Datenbereichs ohne general.alignment.
const DefaultAlignment = 32

// ErrUnsupported wird bei nicht unterstuetzten Formaten oder Versionen zurueckgegeben
var ErrUnsupported = errors.New("unsupported")

// ErrNotFound wird zurueckgegeben wenn ein Tensor fehlt
var ErrNotFound = errors.New("gguf: tensor not found")

// File repraesentiert eine geoeffnete GGUF-Datei
type File struct {
	Magic   [4]byte
	Version uint32

	keyValues []KeyValue
	tensors   []TensorInfo
	offset    int64

	file *os.File
}

// Open oeffnet eine GGUF-Datei und parst den Header
func Open(path string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	f, err := parse(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	f.file = file
	return f, nil
}

func parse(r io.Reader) (*File, error) {
	d := &decoder{r: bufio.NewReaderSize(r, 32<<10), bts: make([]byte, 4096)}
	f := &File{}

	if err := d.readRaw(f.Magic[:]); err != nil {
		return nil, err
	}
	if f.Magic != Magic {
		return nil, fmt.Errorf("%w file type %q", ErrUnsupported, f.Magic[:])
	}

	var err error
	if f.Version, err = read[uint32](d); err != nil {
		return nil, err
	}
	if f.Version < 2 {
		return nil, fmt.Errorf("%w version %v", ErrUnsupported, f.Version)
	}

	numTensors, err := read[uint64](d)
	if err != nil {
		return nil, err
	}
	numKeyValues, err := read[uint64](d)
	if err != nil {
		return nil, err
	}

	for range numKeyValues {
		kv, err := d.readKeyValue()
		if err != nil {
			return nil, err
		}
		f.keyValues = append(f.keyValues, kv)
	}

	for range numTensors {
		t, err := d.readTensor()
		if err != nil {
			return nil, err
		}
		f.tensors = append(f.tensors, t)
	}

	alignment := int64(cmp.Or(f.KeyValue("general.alignment").Uint(), DefaultAlignment))
	f.offset = d.offset + padding(d.offset, alignment)
	return f, nil
}

// Close schliesst die Datei
func (f *File) Close() error {
	return f.file.Close()
}

// KeyValue sucht ein Key-Value Paar nach Name.
// Ohne "general." Prefix wird der Architektur-Prefix vorangestellt.
func (f *File) KeyValue(key string) KeyValue {
	if !strings.HasPrefix(key, "general.") {
		key = f.architecture() + "." + key
	}

	if i := slices.IndexFunc(f.keyValues, func(kv KeyValue) bool { return kv.Key == key }); i >= 0 {
		return f.keyValues[i]
	}
	return KeyValue{}
}

func (f *File) architecture() string {
	for _, kv := range f.keyValues {
		if kv.Key == "general.architecture" {
			return kv.String()
		}
	}
	return ""
}

// NumKeyValues gibt die Anzahl der Key-Value Paare zurueck
func (f *File) NumKeyValues() int {
	return len(f.keyValues)
}

// KeyValues iteriert ueber alle Key-Value Paare in Datei-Reihenfolge
func (f *File) KeyValues() iter.Seq2[int, KeyValue] {
	return slices.All(f.keyValues)
}

// TensorInfo sucht Tensor-Info nach Name
func (f *File) TensorInfo(name string) TensorInfo {
	if i := slices.IndexFunc(f.tensors, func(t TensorInfo) bool { return t.Name == name }); i >= 0 {
		return f.tensors[i]
	}
	return TensorInfo{}
}

// NumTensors gibt die Anzahl der Tensors zurueck
func (f *File) NumTensors() int {
	return len(f.tensors)
}

// TensorInfos iteriert ueber alle Tensor-Infos
func (f *File) TensorInfos() iter.Seq2[int, TensorInfo] {
	return slices.All(f.tensors)
}

// TensorReader liefert Tensor-Info und einen Reader fuer die Tensor-Daten
func (f *File) TensorReader(name string) (TensorInfo, io.Reader, error) {
	t := f.TensorInfo(name)
	if !t.Valid() {
		return TensorInfo{}, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	return t, io.NewSectionReader(f.file, f.offset+int64(t.Offset), t.NumBytes()), nil
}

// TensorBytes liest die Rohdaten eines Tensors
func (f *File) TensorBytes(name string) (TensorInfo, []byte, error) {
	t, r, err := f.TensorReader(name)
	if err != nil {
		return TensorInfo{}, nil, err
	}

	bts := make([]byte, t.NumBytes())
	if _, err := io.ReadFull(r, bts); err != nil {
		return TensorInfo{}, nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return t, bts, nil
}

// padding berechnet das Padding fuer Alignment
func padding(offset, align int64) int64 {
	return (align - offset%align) % align
}
