package gguf

import (
	"reflect"
	"slices"
)

// KeyValue ist ein Metadaten-Eintrag aus dem Header.
type KeyValue struct {
	Key string
	Value
}

// Valid meldet ob der Eintrag gefunden wurde.
func (kv KeyValue) Valid() bool {
	return kv.Key != "" && kv.Value.value != nil
}

// Value kapselt einen GGUF-Wert beliebigen Typs.
type Value struct {
	value any
}

// Raw liefert den ungewandelten Wert.
func (v Value) Raw() any {
	return v.value
}

func value[T any](v Value, kinds ...reflect.Kind) (t T) {
	vv := reflect.ValueOf(v.value)
	if slices.Contains(kinds, vv.Kind()) {
		t = vv.Convert(reflect.TypeOf(t)).Interface().(T)
	}
	return
}

func values[T any](v Value, kinds ...reflect.Kind) (ts []T) {
	switch vv := reflect.ValueOf(v.value); vv.Kind() {
	case reflect.Slice:
		if slices.Contains(kinds, vv.Type().Elem().Kind()) {
			ts = make([]T, vv.Len())
			for i := range vv.Len() {
				ts[i] = vv.Index(i).Convert(reflect.TypeOf(ts[i])).Interface().(T)
			}
		}
	}
	return
}

// Int liefert einen vorzeichenbehafteten Integer, sonst 0.
func (v Value) Int() int64 {
	return value[int64](v, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64)
}

// Uint liefert einen vorzeichenlosen Integer, sonst 0.
func (v Value) Uint() uint64 {
	return value[uint64](v, reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64)
}

// Uints liefert ein vorzeichenloses Integer-Array, sonst nil.
func (v Value) Uints() []uint64 {
	return values[uint64](v, reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64)
}

// Float liefert eine Gleitkommazahl, sonst 0.
func (v Value) Float() float64 {
	return value[float64](v, reflect.Float32, reflect.Float64)
}

// Bool liefert einen Wahrheitswert, sonst false.
func (v Value) Bool() bool {
	return value[bool](v, reflect.Bool)
}

// String liefert einen String, sonst "".
func (v Value) String() string {
	return value[string](v, reflect.String)
}

// Strings liefert ein String-Array, sonst nil.
func (v Value) Strings() []string {
	return values[string](v, reflect.String)
}
