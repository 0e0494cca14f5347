package spec

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// orderedMap decodes a YAML mapping while preserving declaration order.
// Pod groups and plan phases are maps in the document format, but their
// declaration order is load-bearing: phases execute in it.
type orderedMap[V any] struct {
	keys   []string
	values map[string]V
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *orderedMap[V]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("expected a mapping at line %d", node.Line)
	}
	m.values = make(map[string]V, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key string
		if err := node.Content[i].Decode(&key); err != nil {
			return err
		}
		var value V
		if err := node.Content[i+1].Decode(&value); err != nil {
			return err
		}
		if _, dup := m.values[key]; dup {
			return fmt.Errorf("duplicate key %q at line %d", key, node.Content[i].Line)
		}
		m.keys = append(m.keys, key)
		m.values[key] = value
	}
	return nil
}

// Keys returns the keys in declaration order.
func (m *orderedMap[V]) Keys() []string {
	return m.keys
}

// Get returns the value for key.
func (m *orderedMap[V]) Get(key string) (V, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Len returns the number of entries.
func (m *orderedMap[V]) Len() int {
	return len(m.keys)
}
