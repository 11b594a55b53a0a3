// config_utils.go - Getter-Konstruktoren und Export der Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool/String/Uint/Uint64: Closures ueber eine Variable
// - EnvVar, AsMap: Name, aktueller Wert und Beschreibung je Variable
// - Values: Werte als Strings, fuer das Start-Log
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// BoolWithDefault liest k als Bool. Gesetzte, aber unlesbare Werte zaehlen als true.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		s := Var(k)
		if s == "" {
			return defaultValue
		}
		b, err := strconv.ParseBool(s)
		return err != nil || b
	}
}

// Bool liest k als Bool, Default false.
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// String liest k ohne Default.
func String(k string) func() string {
	return func() string {
		return Var(k)
	}
}

// Uint liest key als uint, ungueltige Werte fallen mit Warnung auf defaultValue zurueck.
func Uint(key string, defaultValue uint) func() uint {
	return unsigned(key, defaultValue)
}

// Uint64 wie Uint.
func Uint64(key string, defaultValue uint64) func() uint64 {
	return unsigned(key, defaultValue)
}

func unsigned[T uint | uint64](key string, defaultValue T) func() T {
	return func() T {
		s := Var(key)
		if s == "" {
			return defaultValue
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			return defaultValue
		}
		return T(n)
	}
}

// EnvVar beschreibt eine Umgebungsvariable fuer Hilfe-Texte und Logs.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap liefert alle Variablen mit ihrem aktuellen Wert.
func AsMap() map[string]EnvVar {
	vars := []EnvVar{
		{"EDGEFUSE_DEBUG", LogLevel(), "Show additional debug information (e.g. EDGEFUSE_DEBUG=1, 2 for trace)"},
		{"EDGEFUSE_MODELS", Models(), "The path to the weights directory"},
		{"EDGEFUSE_WEIGHTS", Weights(), "Default GGUF weights file (name or path)"},
		{"EDGEFUSE_SIMD", SIMD(true), "Use the vectorized projection kernel (default true)"},
		{"EDGEFUSE_QUANTIZE", Quantize(), "Hold weights in 4-bit blocks"},
		{"EDGEFUSE_POOL_LIMIT", PoolLimit(), "Maximum memory pool size in bytes (0 = unlimited)"},
		{"EDGEFUSE_NUM_PARALLEL", NumParallel(), "Number of concurrent models in bench"},
	}

	m := make(map[string]EnvVar, len(vars))
	for _, v := range vars {
		m[v.Name] = v
	}
	return m
}

// Values liefert alle Werte formatiert, z.B. fuer slog.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
