package template

import (
	"bytes"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Top-level keys written first so serialized templates diff cleanly;
// every other key follows alphabetically.
var headerKeys = []string{
	"template_type",
	"template_schema_url",
	"identifier",
	"idp_name",
	"included_accounts",
	"excluded_accounts",
	"included_orgs",
	"excluded_orgs",
	"properties",
}

// Marshal serializes a template deterministically: same content, same
// bytes, regardless of map iteration order.
func Marshal(t *Template) ([]byte, error) {
	node, err := encodeMapping(t.Content, headerKeys)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, fmt.Errorf("failed to encode template %s: %w", t.FilePath, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush template %s: %w", t.FilePath, err)
	}

	return buf.Bytes(), nil
}

func encodeMapping(m map[string]any, priority []string) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	seen := make(map[string]bool, len(priority))
	for _, key := range priority {
		v, ok := m[key]
		if !ok {
			continue
		}
		valueNode, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		setMappingValue(node, key, valueNode)
		seen[key] = true
	}

	rest := make([]string, 0, len(m))
	for key := range m {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)

	for _, key := range rest {
		valueNode, err := encodeValue(m[key])
		if err != nil {
			return nil, err
		}
		setMappingValue(node, key, valueNode)
	}

	return node, nil
}

func encodeValue(v any) (*yaml.Node, error) {
	switch val := v.(type) {
	case map[string]any:
		return encodeMapping(val, nil)
	case []any:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range val {
			itemNode, err := encodeValue(item)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, itemNode)
		}
		return node, nil
	default:
		node := &yaml.Node{}
		if err := node.Encode(val); err != nil {
			return nil, fmt.Errorf("failed to encode value: %w", err)
		}
		return node, nil
	}
}

// setMappingValue replaces the value for key when present, otherwise
// appends the pair.
func setMappingValue(mapping *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1] = value
			return
		}
	}

	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}
