// MODUL: write
// ZWECK: GGUF v3 Dateien schreiben (Header, Key-Values, Tensor-Infos, Daten)
// INPUT: Datei, Key-Value Map, Tensor-Liste
// OUTPUT: GGUF-Datei auf Platte
// NEBENEFFEKTE: schreibt in die Datei, Tensor-Daten parallel
// ABHAENGIGKEITEN: golang.org/x/sync/errgroup
// HINWEISE: Keys ohne "general." Prefix bekommen den Architektur-Prefix.

package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Tensor ist ein zu schreibender Tensor mit Rohdaten.
type Tensor struct {
	Name  string
	Type  TensorType
	Shape []uint64
	Data  []byte

	offset uint64
}

// Info liefert die Tensor-Metadaten.
func (t *Tensor) Info() TensorInfo {
	return TensorInfo{Name: t.Name, Offset: t.offset, Shape: t.Shape, Type: t.Type}
}

// WriteTo schreibt die Rohdaten.
func (t *Tensor) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(t.Data)
	return int64(n), err
}

// Write schreibt eine GGUF-Datei mit Key-Values und Tensors (V3 Format).
func Write(f *os.File, kv map[string]any, ts []*Tensor) error {
	arch, _ := kv["general.architecture"].(string)
	if arch == "" {
		return fmt.Errorf("architecture not set")
	}

	for _, t := range ts {
		if want := t.Info().NumBytes(); int64(len(t.Data)) != want {
			return fmt.Errorf("tensor %s: %d bytes, expected %d", t.Name, len(t.Data), want)
		}
	}

	for _, v := range []any{Magic, uint32(3), uint64(len(ts)), uint64(len(kv))} {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	for _, key := range slices.Sorted(maps.Keys(kv)) {
		if err := writeKeyValue(f, arch, key, kv[key]); err != nil {
			return err
		}
	}

	alignment := int64(DefaultAlignment)
	if a, ok := kv["general.alignment"].(uint32); ok && a > 0 {
		alignment = int64(a)
	}

	var s int64
	for _, t := range ts {
		t.offset = uint64(s)
		if err := writeTensorInfo(f, t); err != nil {
			return err
		}
		s += t.Info().NumBytes()
		s += padding(s, alignment)
	}

	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	offset += padding(offset, alignment)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, t := range ts {
		w := io.NewOffsetWriter(f, offset+int64(t.offset))
		g.Go(func() error {
			_, err := t.WriteTo(w)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Datei bis zum Ende des letzten Tensors inkl. Padding auffuellen
	return f.Truncate(offset + s)
}

func writeValue[V any](w io.Writer, t uint32, v V) error {
	if err := binary.Write(w, binary.LittleEndian, t); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, v)
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeArray[S ~[]E, E any](w io.Writer, t uint32, s S) error {
	for _, v := range []any{typeArray, t, uint64(len(s))} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	if t == typeString {
		for _, e := range any(s).([]string) {
			if err := writeString(w, e); err != nil {
				return err
			}
		}
		return nil
	}

	return binary.Write(w, binary.LittleEndian, s)
}

func writeKeyValue(w io.Writer, arch, k string, v any) error {
	if !strings.HasPrefix(k, arch+".") && !strings.HasPrefix(k, "general.") {
		k = arch + "." + k
	}

	slog.Debug(k, "type", fmt.Sprintf("%T", v))

	if err := writeString(w, k); err != nil {
		return err
	}

	switch v := v.(type) {
	case uint8:
		return writeValue(w, typeUint8, v)
	case int32:
		return writeValue(w, typeInt32, v)
	case int64:
		return writeValue(w, typeInt64, v)
	case uint32:
		return writeValue(w, typeUint32, v)
	case uint64:
		return writeValue(w, typeUint64, v)
	case float32:
		return writeValue(w, typeFloat32, v)
	case bool:
		return writeValue(w, typeBool, v)
	case string:
		if err := binary.Write(w, binary.LittleEndian, typeString); err != nil {
			return err
		}
		return writeString(w, v)
	case []int32:
		return writeArray(w, typeInt32, v)
	case []uint32:
		return writeArray(w, typeUint32, v)
	case []float32:
		return writeArray(w, typeFloat32, v)
	case []string:
		return writeArray(w, typeString, v)
	default:
		return fmt.Errorf("improper type for '%s'", k)
	}
}

func writeTensorInfo(w io.Writer, t *Tensor) error {
	slog.Debug(t.Name, "type", t.Type, "shape", t.Shape, "offset", t.offset)

	if err := writeString(w, t.Name); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(t.Shape))); err != nil {
		return err
	}
	for _, n := range t.Shape {
		if err := binary.Write(w, binary.LittleEndian, n); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(t.Type)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, t.offset)
}
