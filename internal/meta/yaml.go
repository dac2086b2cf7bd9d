package meta

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromNode converts a decoded YAML node into a Value. Document nodes are
// unwrapped and aliases are followed. Timestamps, binary and unknown tags are
// kept as strings.
func FromNode(n *yaml.Node) (Value, error) {
	if n == nil {
		return Null(), nil
	}
	switch n.Kind {
	case 0:
		return Null(), nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return Null(), nil
		}
		return FromNode(n.Content[0])
	case yaml.AliasNode:
		return FromNode(n.Alias)
	case yaml.ScalarNode:
		return scalarFromNode(n)
	case yaml.SequenceNode:
		items := make([]Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := FromNode(c)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Seq(items...), nil
	case yaml.MappingNode:
		m := NewMap()
		if err := fillMap(m, n); err != nil {
			return Value{}, err
		}
		return Nested(m), nil
	}
	return Value{}, fmt.Errorf("line %d: unsupported yaml node kind %d", n.Line, n.Kind)
}

func scalarFromNode(n *yaml.Node) (Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return Null(), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return Value{}, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return Bool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err == nil {
			return Int(i), nil
		}
		var f float64
		if err := n.Decode(&f); err != nil {
			return Value{}, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return Float(f), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return Value{}, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return Float(f), nil
	default:
		return String(n.Value), nil
	}
}

func fillMap(m *Map, n *yaml.Node) error {
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, vn := n.Content[i], n.Content[i+1]
		if k.Kind == yaml.ScalarNode && k.ShortTag() == "!!merge" {
			if err := mergeInto(m, vn); err != nil {
				return err
			}
			continue
		}
		key, err := keyString(k)
		if err != nil {
			return err
		}
		v, err := FromNode(vn)
		if err != nil {
			return err
		}
		m.Set(key, v)
	}
	return nil
}

// mergeInto applies a "<<" merge: explicit keys win over merged ones.
func mergeInto(m *Map, n *yaml.Node) error {
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	sources := []*yaml.Node{n}
	if n.Kind == yaml.SequenceNode {
		sources = n.Content
	}
	for _, src := range sources {
		v, err := FromNode(src)
		if err != nil {
			return err
		}
		if v.Kind != KindMap {
			return fmt.Errorf("line %d: merge value must be a mapping", src.Line)
		}
		for _, k := range v.Map.Keys() {
			if _, ok := m.Get(k); ok {
				continue
			}
			mv, _ := v.Map.Get(k)
			m.Set(k, mv)
		}
	}
	return nil
}

func keyString(k *yaml.Node) (string, error) {
	if k.Kind == yaml.AliasNode {
		k = k.Alias
	}
	if k.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("line %d: mapping keys must be scalars", k.Line)
	}
	return k.Value, nil
}

// ToNode converts v into a YAML node suitable for encoding.
func ToNode(v Value) *yaml.Node {
	switch v.Kind {
	case KindNull:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	case KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v.B)}
	case KindInt:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(v.I, 10)}
	case KindFloat:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: yamlFloat(v.F)}
	case KindString:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.S}
	case KindSeq:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v.Seq {
			n.Content = append(n.Content, ToNode(item))
		}
		return n
	default:
		return v.Map.ToNode()
	}
}

// ToNode converts the mapping into a YAML mapping node. A nil Map yields {}.
func (m *Map) ToNode() *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			ToNode(v),
		)
	}
	return n
}

func yamlFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return ".nan"
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	}
	return FormatFloat(f)
}

// MarshalYAML implements yaml.Marshaler.
func (m *Map) MarshalYAML() (interface{}, error) {
	return m.ToNode(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *Map) UnmarshalYAML(n *yaml.Node) error {
	v, err := FromNode(n)
	if err != nil {
		return err
	}
	switch v.Kind {
	case KindMap:
		*m = *v.Map
		return nil
	case KindNull:
		*m = *NewMap()
		return nil
	}
	return fmt.Errorf("line %d: expected a mapping, got %s", n.Line, v.Kind)
}

// ParseMap parses YAML (or JSON) text holding one mapping. Blank text and an
// explicit null yield (nil, nil).
func ParseMap(text string) (*Map, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		return nil, err
	}
	v, err := FromNode(&node)
	if err != nil {
		return nil, err
	}
	switch v.Kind {
	case KindNull:
		return nil, nil
	case KindMap:
		return v.Map, nil
	}
	return nil, fmt.Errorf("expected a mapping, got %s", v.Kind)
}

// MapText encodes m as block YAML. A nil or empty Map encodes as the empty string.
func MapText(m *Map) (string, error) {
	if m.Len() == 0 {
		return "", nil
	}
	out, err := yaml.Marshal(m.ToNode())
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var flowBreak = regexp.MustCompile(`\n\s*`)

func renderFlow(v Value) string {
	n := ToNode(v)
	setFlow(n)
	out, err := yaml.Marshal(n)
	if err != nil {
		return ""
	}
	return flowBreak.ReplaceAllString(strings.TrimSpace(string(out)), " ")
}

func setFlow(n *yaml.Node) {
	if n.Kind == yaml.SequenceNode || n.Kind == yaml.MappingNode {
		n.Style = yaml.FlowStyle
	}
	for _, c := range n.Content {
		setFlow(c)
	}
}
