package meta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// Map is a string-keyed mapping that remembers insertion order.
type Map struct {
	keys   []string
	values map[string]Value
}

// NewMap returns an empty mapping.
func NewMap() *Map {
	return &Map{values: make(map[string]Value)}
}

// Set stores v under key, keeping the original position of an existing key.
func (m *Map) Set(key string, v Value) {
	if m.values == nil {
		m.values = make(map[string]Value)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Len returns the number of keys. A nil Map is empty.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Equal reports whether both mappings hold equal values under the same keys.
// Key order is ignored.
func (m *Map) Equal(o *Map) bool {
	if m.Len() != o.Len() {
		return false
	}
	for _, k := range m.Keys() {
		ov, ok := o.Get(k)
		if !ok {
			return false
		}
		mv, _ := m.Get(k)
		if !mv.Equal(ov) {
			return false
		}
	}
	return true
}

// MarshalJSON writes the mapping as a JSON object in key order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		v, _ := m.Get(k)
		vb, err := v.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object. JSON is parsed as YAML so key order and
// the int/float distinction survive.
func (m *Map) UnmarshalJSON(data []byte) error {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	v, err := FromNode(&node)
	if err != nil {
		return err
	}
	if v.Kind != KindMap {
		return fmt.Errorf("metadata must be an object, got %s", v.Kind)
	}
	*m = *v.Map
	return nil
}

// MarshalJSON writes v as plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.B)
	case KindInt:
		return json.Marshal(v.I)
	case KindFloat:
		if math.IsNaN(v.F) || math.IsInf(v.F, 0) {
			return json.Marshal(FormatFloat(v.F))
		}
		return json.Marshal(v.F)
	case KindString:
		return json.Marshal(v.S)
	case KindSeq:
		items := v.Seq
		if items == nil {
			items = []Value{}
		}
		return json.Marshal(items)
	case KindMap:
		if v.Map == nil {
			return []byte("{}"), nil
		}
		return v.Map.MarshalJSON()
	}
	return nil, fmt.Errorf("unknown metadata kind %s", v.Kind)
}
