// Package filter evaluates boolean metadata expressions.
//
// An expression is a mapping. Each key is either a metadata field, whose value
// is the expected value or a single-operator mapping, or one of the compound
// keys $and / $or holding a list of sub-expressions. All keys at one level are
// AND-ed together.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/memo/internal/meta"
	"gopkg.in/yaml.v3"
)

// ErrInvalidExpr is returned when filter text does not parse to a mapping.
var ErrInvalidExpr = errors.New("invalid filter expression")

// Operators understood inside a field condition.
const (
	OpGte      = "$gte"
	OpLte      = "$lte"
	OpNe       = "$ne"
	OpPrefix   = "$prefix"
	OpContains = "$contains"

	KeyAnd = "$and"
	KeyOr  = "$or"
)

// Expr is a parsed filter expression. The zero Expr matches every record.
type Expr struct {
	root *meta.Map
}

// New wraps an already decoded mapping.
func New(m *meta.Map) Expr {
	if m == nil {
		m = meta.NewMap()
	}
	return Expr{root: m}
}

// Parse parses YAML (flow or block) or JSON text into an expression. Blank text
// or an explicit null yields an empty expression.
func Parse(text string) (Expr, error) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		return Expr{}, fmt.Errorf("%w: %v", ErrInvalidExpr, err)
	}
	v, err := meta.FromNode(&node)
	if err != nil {
		return Expr{}, fmt.Errorf("%w: %v", ErrInvalidExpr, err)
	}
	switch v.Kind {
	case meta.KindNull:
		return New(nil), nil
	case meta.KindMap:
		return New(v.Map), nil
	}
	return Expr{}, fmt.Errorf("%w: filter expression must parse to a YAML mapping", ErrInvalidExpr)
}

// Map returns the underlying mapping.
func (e Expr) Map() *meta.Map { return e.root }

// String renders the expression as flow YAML.
func (e Expr) String() string {
	return meta.Nested(e.root).Render()
}

// Matches reports whether md satisfies e. A nil md behaves as an empty mapping.
func (e Expr) Matches(md *meta.Map) bool {
	return matches(md, e.root)
}

// Matches is a convenience for New(expr).Matches(md).
func Matches(md *meta.Map, expr *meta.Map) bool {
	return matches(md, expr)
}

func matches(md *meta.Map, expr *meta.Map) bool {
	for _, key := range expr.Keys() {
		cond, _ := expr.Get(key)
		switch key {
		case KeyAnd:
			if cond.Kind != meta.KindSeq {
				return false
			}
			for _, sub := range cond.Seq {
				if sub.Kind != meta.KindMap || !matches(md, sub.Map) {
					return false
				}
			}
		case KeyOr:
			if cond.Kind != meta.KindSeq {
				return false
			}
			matched := false
			for _, sub := range cond.Seq {
				if sub.Kind == meta.KindMap && matches(md, sub.Map) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		default:
			if !evalCondition(md, key, cond) {
				return false
			}
		}
	}
	return true
}

func evalCondition(md *meta.Map, key string, cond meta.Value) bool {
	value, ok := md.Get(key)
	if !ok {
		return false
	}
	if cond.Kind != meta.KindMap {
		return bareEquals(value, cond)
	}
	// A malformed operator mapping is a non-match rather than an error.
	if cond.Map.Len() != 1 {
		return false
	}
	op := cond.Map.Keys()[0]
	operand, _ := cond.Map.Get(op)
	switch op {
	case OpGte:
		return compare(value, operand) >= 0
	case OpLte:
		return compare(value, operand) <= 0
	case OpNe:
		return !bareEquals(value, operand)
	case OpPrefix:
		return value.Kind == meta.KindString && strings.HasPrefix(value.S, operand.Render())
	case OpContains:
		return value.Kind == meta.KindSeq && member(value.Seq, operand)
	}
	return false
}

// compare orders numbers numerically and everything else by rendered form.
func compare(lhs, rhs meta.Value) int {
	if lhs.IsNumber() && rhs.IsNumber() {
		if lhs.Kind == meta.KindInt && rhs.Kind == meta.KindInt {
			switch {
			case lhs.I < rhs.I:
				return -1
			case lhs.I > rhs.I:
				return 1
			}
			return 0
		}
		l, r := lhs.Number(), rhs.Number()
		switch {
		case l < r:
			return -1
		case l > r:
			return 1
		}
		return 0
	}
	return strings.Compare(lhs.Render(), rhs.Render())
}

// bareEquals is equality with list membership for list-valued fields.
func bareEquals(value, expected meta.Value) bool {
	if value.Kind == meta.KindSeq {
		return member(value.Seq, expected)
	}
	return equals(value, expected)
}

func member(items []meta.Value, expected meta.Value) bool {
	for _, item := range items {
		if equals(item, expected) {
			return true
		}
	}
	return false
}

func equals(a, b meta.Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return compare(a, b) == 0
	}
	return a.Render() == b.Render()
}
