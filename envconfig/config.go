// config.go - Haupt-Konfigurationsfunktionen fuer edgefuse
//
// Dieses Modul enthaelt:
// - Models: Gibt das Gewichts-Verzeichnis zurueck (EDGEFUSE_MODELS)
// - LogLevel: Gibt Log-Level zurueck (EDGEFUSE_DEBUG)
// - SIMD / Quantize: Kernel- und Gewichts-Flags
// - PoolLimit: Obergrenze fuer Speicherpools
// - Weights: Standard-Gewichtsdatei (EDGEFUSE_WEIGHTS)
// - NumParallel: Parallelitaet fuer Benchmarks
//
// Weitere Konfigurationen sind ausgelagert:
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Models gibt das Verzeichnis fuer Gewichtsdateien zurueck
// Konfigurierbar via EDGEFUSE_MODELS
// Default: $HOME/.edgefuse/models
func Models() string {
	if s := Var("EDGEFUSE_MODELS"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "edgefuse", "models")
	}

	return filepath.Join(home, ".edgefuse", "models")
}

// ResolveWeights loest einen Gewichts-Dateinamen auf.
// Relative Namen ohne Verzeichnis werden in Models() gesucht, wenn sie dort existieren.
func ResolveWeights(name string) string {
	if name == "" || filepath.IsAbs(name) || strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}

	p := filepath.Join(Models(), name)
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return name
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via EDGEFUSE_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("EDGEFUSE_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

var (
	// SIMD aktiviert den vektorisierten Projektions-Kernel (Default: an)
	SIMD = BoolWithDefault("EDGEFUSE_SIMD")
	// Quantize laedt Gewichte im 4-Bit Format (Default: aus)
	Quantize = Bool("EDGEFUSE_QUANTIZE")
	// PoolLimit begrenzt die Groesse eines Speicherpools in Bytes (0 = unbegrenzt)
	PoolLimit = Uint64("EDGEFUSE_POOL_LIMIT", 0)
	// Weights ist die Standard-Gewichtsdatei, wenn kein --weights angegeben ist
	Weights = String("EDGEFUSE_WEIGHTS")
)

// NumParallel gibt die Anzahl gleichzeitiger Modelle im Benchmark zurueck
// Konfigurierbar via EDGEFUSE_NUM_PARALLEL
// Default: GOMAXPROCS
func NumParallel() uint {
	return Uint("EDGEFUSE_NUM_PARALLEL", uint(runtime.GOMAXPROCS(0)))()
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
