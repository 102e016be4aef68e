package value

import (
	"bytes"
	"fmt"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// EncodeYAML serializes value as YAML keeping order of object keys and number
// literals.
func EncodeYAML(v Value) ([]byte, error) {
	node, err := toYAML(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, fmt.Errorf("unable to marshal YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("unable to marshal YAML: %w", err)
	}
	return buf.Bytes(), nil
}

func scalar(tag, val string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: val}
}

func toYAML(v Value) (*yaml.Node, error) {
	switch t := v.(type) {
	case nil, Null:
		return scalar("!!null", "null"), nil
	case Bool:
		if t {
			return scalar("!!bool", "true"), nil
		}
		return scalar("!!bool", "false"), nil
	case String:
		// tag forces quoting of strings which look like other types
		return scalar("!!str", string(t)), nil
	case Number:
		if strings.ContainsAny(string(t), ".eE") {
			return scalar("!!float", string(t)), nil
		}
		return scalar("!!int", string(t)), nil
	case Array:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for i, e := range t {
			c, err := toYAML(e)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			seq.Content = append(seq.Content, c)
		}
		return seq, nil
	case *Object:
		m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, mb := range t.Members() {
			c, err := toYAML(mb.Value)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", mb.Key, err)
			}
			m.Content = append(m.Content, scalar("!!str", mb.Key), c)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
