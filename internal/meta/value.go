// Package meta provides the typed metadata values attached to records.
package meta

import (
	"math"
	"strconv"
	"strings"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindNull represents an explicit null.
	KindNull Kind = iota
	// KindBool represents a boolean value.
	KindBool
	// KindInt represents an integer value.
	KindInt
	// KindFloat represents a float value.
	KindFloat
	// KindString represents a string value. YAML timestamps are kept as strings.
	KindString
	// KindSeq represents a list of values.
	KindSeq
	// KindMap represents a nested string-keyed mapping.
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindSeq:
		return "seq"
	case KindMap:
		return "map"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a tagged metadata value. Only the field matching Kind is meaningful.
type Value struct {
	Kind Kind
	B    bool
	I    int64
	F    float64
	S    string
	Seq  []Value
	Map  *Map
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// Bool wraps b.
func Bool(b bool) Value { return Value{Kind: KindBool, B: b} }

// Int wraps i.
func Int(i int64) Value { return Value{Kind: KindInt, I: i} }

// Float wraps f.
func Float(f float64) Value { return Value{Kind: KindFloat, F: f} }

// String wraps s.
func String(s string) Value { return Value{Kind: KindString, S: s} }

// Seq wraps a list of values.
func Seq(items ...Value) Value { return Value{Kind: KindSeq, Seq: items} }

// Nested wraps m as a mapping value. A nil m becomes an empty mapping.
func Nested(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{Kind: KindMap, Map: m}
}

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsNumber reports whether v is an int or a float. Booleans are not numbers.
func (v Value) IsNumber() bool { return v.Kind == KindInt || v.Kind == KindFloat }

// Number returns v as a float64. It is only meaningful when IsNumber is true.
func (v Value) Number() float64 {
	if v.Kind == KindInt {
		return float64(v.I)
	}
	return v.F
}

// Render returns the display form of v: scalars as plain text, null as the
// empty string, and lists and mappings as single-line flow YAML.
func (v Value) Render() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindInt:
		return strconv.FormatInt(v.I, 10)
	case KindFloat:
		return FormatFloat(v.F)
	case KindString:
		return v.S
	default:
		return renderFlow(v)
	}
}

// Equal reports deep equality. Numbers compare by value regardless of kind.
func (v Value) Equal(o Value) bool {
	if v.IsNumber() && o.IsNumber() {
		if v.Kind == KindInt && o.Kind == KindInt {
			return v.I == o.I
		}
		return v.Number() == o.Number()
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.B == o.B
	case KindString:
		return v.S == o.S
	case KindSeq:
		if len(v.Seq) != len(o.Seq) {
			return false
		}
		for i := range v.Seq {
			if !v.Seq[i].Equal(o.Seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.Map.Equal(o.Map)
	}
	return false
}

// FormatFloat renders f the way a float literal is usually shown: always with
// a fractional part or exponent so it cannot be mistaken for an integer.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs >= 1e16 || abs < 1e-4) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
