package mutate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/permitops/gitgovern/pkg/change"
	"github.com/permitops/gitgovern/pkg/provider"
	"github.com/permitops/gitgovern/pkg/template"
)

// ErrNotImplemented marks an apply behavior the descriptor table does
// not support.
var ErrNotImplemented = errors.New("apply behavior not implemented")

// Apply mutates a template's content with one merged change.
//
// targeted holds the definitions the change covers;
// totalAssociated is the template's total associated definition count.
// When targeted is a strict subset, the change's own inclusion
// attribute is narrowed to just those definitions' identifiers; full
// coverage leaves it untouched (implicitly "all").
func Apply(tpl *template.Template, ch *change.Enriched, targeted []provider.Definition, totalAssociated int) error {
	schema, err := SchemaFor(tpl.TemplateType)
	if err != nil {
		return err
	}

	desc, ok := schema[ch.Attribute]
	if !ok {
		return fmt.Errorf("template type %s has no mutable attribute %s", tpl.TemplateType, ch.Attribute)
	}

	value := ch.Rendered

	if desc.InclusionAttr != "" && len(targeted) > 0 && len(targeted) < totalAssociated {
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("attribute %s: cannot narrow a non-object change to a definition subset", ch.Attribute)
		}
		identifiers := make([]any, 0, len(targeted))
		for i := range targeted {
			identifiers = append(identifiers, targeted[i].RuleIdentifier())
		}
		obj[desc.InclusionAttr] = identifiers
	}

	parent, key, err := resolveParent(tpl.Content, ch.Attribute)
	if err != nil {
		return err
	}

	switch ch.Behavior {
	case change.BehaviorAppend:
		existing, _ := parent[key].([]any)
		parent[key] = append(existing, value)
	case change.BehaviorReplace:
		parent[key] = value
	case change.BehaviorMerge:
		parent[key] = deepMerge(parent[key], value)
	default:
		return fmt.Errorf("%w: %s", ErrNotImplemented, ch.Behavior)
	}

	return nil
}

// resolveParent walks the dotted path, returning the map holding the
// final segment. Intermediate segments that are missing, or that hold
// a less structured alternative of a union-typed field, become maps.
func resolveParent(content map[string]any, attributePath string) (map[string]any, string, error) {
	segments := strings.Split(attributePath, ".")
	if len(segments) == 0 || attributePath == "" {
		return nil, "", fmt.Errorf("empty attribute path")
	}

	current := content
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[segment] = next
		}
		current = next
	}

	return current, segments[len(segments)-1], nil
}

// deepMerge combines an existing value with a rendered one: objects
// merge key-wise with the rendered side winning scalar conflicts,
// lists union with duplicates dropped by canonical form. Repeated
// application is idempotent.
func deepMerge(existing, value any) any {
	switch val := value.(type) {
	case map[string]any:
		obj, ok := existing.(map[string]any)
		if !ok {
			return val
		}
		for k, v := range val {
			obj[k] = deepMerge(obj[k], v)
		}
		return obj
	case []any:
		list, ok := existing.([]any)
		if !ok {
			return dedupeList(val)
		}
		return dedupeList(append(list, val...))
	default:
		return value
	}
}

func dedupeList(list []any) []any {
	seen := make(map[string]bool, len(list))
	out := make([]any, 0, len(list))
	for _, item := range list {
		fp, err := change.Fingerprint(item)
		if err != nil {
			out = append(out, item)
			continue
		}
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, item)
	}

	return out
}
