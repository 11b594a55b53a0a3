// MODUL: file_read
// ZWECK: Low-Level Deserialisierung des GGUF-Headers
// INPUT: gepufferter Reader ab Dateianfang
// OUTPUT: KeyValue, TensorInfo, typisierte Werte
// NEBENEFFEKTE: zaehlt gelesene Bytes fuer den Datenbereich-Offset
// ABHAENGIGKEITEN: encoding/binary (stdlib)
// HINWEISE: Strings werden ueber einen wiederverwendeten Puffer gelesen

package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// decoder liest Little-Endian Werte und zaehlt den Offset mit
type decoder struct {
	r      *bufio.Reader
	offset int64
	bts    []byte
}

func (d *decoder) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	d.offset += int64(n)
	return n, err
}

func (d *decoder) readRaw(p []byte) error {
	_, err := io.ReadFull(d, p)
	return err
}

// readTensor liest die Metadaten eines einzelnen Tensors
func (d *decoder) readTensor() (TensorInfo, error) {
	name, err := readString(d)
	if err != nil {
		return TensorInfo{}, err
	}

	dims, err := read[uint32](d)
	if err != nil {
		return TensorInfo{}, err
	}

	shape := make([]uint64, dims)
	for i := range shape {
		if shape[i], err = read[uint64](d); err != nil {
			return TensorInfo{}, err
		}
	}

	kind, err := read[uint32](d)
	if err != nil {
		return TensorInfo{}, err
	}

	offset, err := read[uint64](d)
	if err != nil {
		return TensorInfo{}, err
	}

	return TensorInfo{Name: name, Offset: offset, Shape: shape, Type: TensorType(kind)}, nil
}

// readKeyValue liest ein einzelnes Key-Value Paar
func (d *decoder) readKeyValue() (KeyValue, error) {
	key, err := readString(d)
	if err != nil {
		return KeyValue{}, err
	}

	t, err := read[uint32](d)
	if err != nil {
		return KeyValue{}, err
	}

	var v any
	if t == typeArray {
		v, err = readArray(d)
	} else {
		v, err = readScalar(d, t)
	}
	if err != nil {
		return KeyValue{}, fmt.Errorf("key %s: %w", key, err)
	}

	return KeyValue{Key: key, Value: Value{v}}, nil
}

func readScalar(d *decoder, t uint32) (any, error) {
	switch t {
	case typeUint8:
		return read[uint8](d)
	case typeInt8:
		return read[int8](d)
	case typeUint16:
		return read[uint16](d)
	case typeInt16:
		return read[int16](d)
	case typeUint32:
		return read[uint32](d)
	case typeInt32:
		return read[int32](d)
	case typeUint64:
		return read[uint64](d)
	case typeInt64:
		return read[int64](d)
	case typeFloat32:
		return read[float32](d)
	case typeFloat64:
		return read[float64](d)
	case typeBool:
		return read[bool](d)
	case typeString:
		return readString(d)
	default:
		return nil, fmt.Errorf("%w type %d", ErrUnsupported, t)
	}
}

// read liest einen typisierten Wert
func read[T any](d *decoder) (t T, err error) {
	err = binary.Read(d, binary.LittleEndian, &t)
	return t, err
}

// readString liest einen String mit uint64 Laengenprefix
func readString(d *decoder) (string, error) {
	n, err := read[uint64](d)
	if err != nil {
		return "", err
	}

	if int(n) > len(d.bts) {
		d.bts = make([]byte, n)
	}

	bts := d.bts[:n]
	if err := d.readRaw(bts); err != nil {
		return "", err
	}
	defer clear(bts)

	return string(bts), nil
}

// readArray liest ein typisiertes Array
func readArray(d *decoder) (any, error) {
	t, err := read[uint32](d)
	if err != nil {
		return nil, err
	}

	n, err := read[uint64](d)
	if err != nil {
		return nil, err
	}

	switch t {
	case typeUint8:
		return readArrayData[uint8](d, n)
	case typeInt8:
		return readArrayData[int8](d, n)
	case typeUint16:
		return readArrayData[uint16](d, n)
	case typeInt16:
		return readArrayData[int16](d, n)
	case typeUint32:
		return readArrayData[uint32](d, n)
	case typeInt32:
		return readArrayData[int32](d, n)
	case typeUint64:
		return readArrayData[uint64](d, n)
	case typeInt64:
		return readArrayData[int64](d, n)
	case typeFloat32:
		return readArrayData[float32](d, n)
	case typeFloat64:
		return readArrayData[float64](d, n)
	case typeBool:
		return readArrayData[bool](d, n)
	case typeString:
		s := make([]string, n)
		for i := range s {
			if s[i], err = readString(d); err != nil {
				return nil, err
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w array type %d", ErrUnsupported, t)
	}
}

// readArrayData liest n Werte in einem Stueck
func readArrayData[T any](d *decoder, n uint64) ([]T, error) {
	s := make([]T, n)
	if err := binary.Read(d, binary.LittleEndian, s); err != nil {
		return nil, err
	}
	return s, nil
}
