// Package multimodal - Fusions-Engine fuer Text-, Bild- und Audio-Modalitaeten.
//
// MODUL: errors
// ZWECK: Die fuenf Fehlerarten der Engine und ihre Abbildung aus den Unterpaketen
// INPUT: Fehler aus quant, fusion, pool, gguf und Backbones
// OUTPUT: *Error mit Op, Modalitaet und einer Sentinel-Fehlerart in der Kette
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: quant, fusion, pool, fs/gguf
// HINWEISE: errors.Is(err, ErrMissingModality) und der Ursprungsfehler bleiben beide pruefbar
package multimodal

import (
	"errors"
	"fmt"

	"github.com/ollama/edgefuse/fs/gguf"
	"github.com/ollama/edgefuse/fusion"
	"github.com/ollama/edgefuse/pool"
	"github.com/ollama/edgefuse/quant"
)

// Fehlerarten
var (
	ErrInvalidConfig     = errors.New("multimodal: invalid config")
	ErrAllocationFailure = errors.New("multimodal: allocation failure")
	ErrMissingModality   = errors.New("multimodal: missing modality")
	ErrDimensionMismatch = errors.New("multimodal: dimension mismatch")
	ErrEncoderFailure    = errors.New("multimodal: encoder failure")
)

// Error beschreibt einen fehlgeschlagenen Engine-Aufruf.
type Error struct {
	Op       string // Operation (z.B. "create", "process")
	Modality string // betroffene Modalitaet, leer wenn modellweit
	Err      error  // Fehlerart, ggf. mit Ursprungsfehler
}

// Error implementiert das error Interface.
func (e *Error) Error() string {
	if e.Modality == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Modality + ": " + e.Err.Error()
}

// Unwrap gibt den urspruenglichen Fehler zurueck.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError verknuepft die Fehlerart kind mit einer optionalen Ursache.
func newError(op, modality string, kind, cause error) *Error {
	err := kind
	if cause != nil {
		err = fmt.Errorf("%w: %w", kind, cause)
	}
	return &Error{Op: op, Modality: modality, Err: err}
}

// classify bildet Fehler der Unterpakete auf eine Fehlerart ab.
// Unbekannte Fehler bekommen fallback.
func classify(err, fallback error) error {
	switch {
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrAllocationFailure),
		errors.Is(err, ErrMissingModality), errors.Is(err, ErrDimensionMismatch),
		errors.Is(err, ErrEncoderFailure):
		return nil
	case errors.Is(err, fusion.ErrDimension), errors.Is(err, quant.ErrInputLength), errors.Is(err, quant.ErrShape):
		return ErrDimensionMismatch
	case errors.Is(err, fusion.ErrEmpty), errors.Is(err, fusion.ErrMethod), errors.Is(err, gguf.ErrUnsupported):
		return ErrInvalidConfig
	case errors.Is(err, pool.ErrExhausted), errors.Is(err, pool.ErrFreed), errors.Is(err, pool.ErrSize):
		return ErrAllocationFailure
	default:
		return fallback
	}
}

// wrap ist newError mit classify. Bereits eingeordnete Fehler bleiben unveraendert.
func wrap(op, modality string, err, fallback error) error {
	if err == nil {
		return nil
	}
	var mmErr *Error
	if errors.As(err, &mmErr) {
		return err
	}

	kind := classify(err, fallback)
	if kind == nil {
		return &Error{Op: op, Modality: modality, Err: err}
	}
	return newError(op, modality, kind, err)
}
