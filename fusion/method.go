// Package fusion - Fusionsalgorithmen fuer Modalitaets-Embeddings.
//
// MODUL: method
// ZWECK: Fusionsmethoden aufzaehlen, parsen und ihre Ausgabedimension ableiten
// INPUT: Methodenname, Modalitaets-Dimensionen, fusionDim
// OUTPUT: Method, Ausgabedimension
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: keine (nur Standardbibliothek)
// HINWEISE: Concat und CrossAttention liefern die Summe der Dimensionen,
//           alle anderen Methoden genau fusionDim.
package fusion

import (
	"errors"
	"fmt"
	"strings"
)

// Method ist die Strategie, mit der Modalitaets-Vektoren kombiniert werden.
type Method int

const (
	MethodConcat Method = iota
	MethodAdd
	MethodMultiply
	MethodAttention
	MethodCrossAttention
)

// Fehler
var (
	ErrDimension = errors.New("fusion: Dimensionen passen nicht")
	ErrMethod    = errors.New("fusion: unbekannte Methode")
	ErrEmpty     = errors.New("fusion: keine Modalitaeten")
)

var methodNames = map[Method]string{
	MethodConcat:         "concat",
	MethodAdd:            "add",
	MethodMultiply:       "multiply",
	MethodAttention:      "attention",
	MethodCrossAttention: "cross-attention",
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// Valid meldet ob m eine bekannte Methode ist.
func (m Method) Valid() bool {
	_, ok := methodNames[m]
	return ok
}

// Learnable meldet ob die Methode optionale gelernte Gewichte tragen kann.
func (m Method) Learnable() bool {
	return m == MethodAttention || m == MethodCrossAttention
}

// ParseMethod parst einen Methodennamen (case-insensitive).
func ParseMethod(s string) (Method, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	if s == "crossattention" || s == "cross" {
		s = "cross-attention"
	}
	for m, name := range methodNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrMethod, s)
}

// OutputDim prueft die Modalitaets-Dimensionen fuer m und liefert die
// Ausgabedimension der Fusion.
func OutputDim(m Method, dims []int, fusionDim int) (int, error) {
	if len(dims) == 0 {
		return 0, ErrEmpty
	}
	for i, d := range dims {
		if d <= 0 {
			return 0, fmt.Errorf("%w: Modalitaet %d hat Dimension %d", ErrDimension, i, d)
		}
	}

	switch m {
	case MethodConcat:
		return sum(dims), nil
	case MethodAdd, MethodMultiply, MethodAttention:
		for i, d := range dims {
			if d != fusionDim {
				return 0, fmt.Errorf("%w: %v verlangt Dimension %d, Modalitaet %d hat %d", ErrDimension, m, fusionDim, i, d)
			}
		}
		return fusionDim, nil
	case MethodCrossAttention:
		if len(dims) != 2 {
			return 0, fmt.Errorf("%w: %v verlangt genau 2 Modalitaeten, hat %d", ErrDimension, m, len(dims))
		}
		return dims[0] + dims[1], nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrMethod, int(m))
	}
}

func sum(dims []int) int {
	var n int
	for _, d := range dims {
		n += d
	}
	return n
}
