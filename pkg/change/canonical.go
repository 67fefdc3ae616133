package change

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Fingerprint produces a canonical byte form of a rendered JSON
// fragment: object keys sorted (encoding/json already does), list
// elements sorted by their own canonical form. Two fragments are
// mergeable exactly when their fingerprints are equal.
func Fingerprint(v any) (string, error) {
	canonical, err := canonicalize(v)
	if err != nil {
		return "", err
	}

	encoded, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("failed to encode canonical form: %w", err)
	}

	return string(encoded), nil
}

func canonicalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			canonical, err := canonicalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = canonical
		}
		return out, nil
	case []any:
		type keyed struct {
			key  string
			item any
		}
		elems := make([]keyed, 0, len(val))
		for _, item := range val {
			canonical, err := canonicalize(item)
			if err != nil {
				return nil, err
			}
			encoded, err := json.Marshal(canonical)
			if err != nil {
				return nil, fmt.Errorf("failed to encode list element: %w", err)
			}
			elems = append(elems, keyed{key: string(encoded), item: canonical})
		}
		sort.Slice(elems, func(i, j int) bool { return elems[i].key < elems[j].key })

		out := make([]any, 0, len(elems))
		for _, e := range elems {
			out = append(out, e.item)
		}
		return out, nil
	default:
		return v, nil
	}
}
