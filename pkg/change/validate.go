package change

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/google/uuid"
)

// ValidateFields checks a submission's field values against the change
// type's field rules: required/none-allowed, max length, format regex,
// single-vs-multiple cardinality and closed option sets.
func ValidateFields(ct *ChangeType, values map[string]any) error {
	known := make(map[string]bool, len(ct.Fields))
	for i := range ct.Fields {
		field := &ct.Fields[i]
		known[field.Key] = true

		v, ok := values[field.Key]
		if !ok || v == nil {
			if !field.AllowNone {
				return fmt.Errorf("field %s is required", field.Key)
			}
			continue
		}

		items, err := fieldItems(field, v)
		if err != nil {
			return err
		}

		if !field.AllowMultiple && len(items) > 1 {
			return fmt.Errorf("field %s accepts a single value, got %d", field.Key, len(items))
		}

		var pattern *regexp.Regexp
		if field.Pattern != "" {
			pattern, err = regexp.Compile(field.Pattern)
			if err != nil {
				return fmt.Errorf("field %s has an invalid pattern: %w", field.Key, err)
			}
		}

		allowed := field.allowedValues()

		for _, item := range items {
			if field.MaxLength > 0 && len(item) > field.MaxLength {
				return fmt.Errorf("field %s value exceeds %d characters", field.Key, field.MaxLength)
			}
			if pattern != nil && !pattern.MatchString(item) {
				return fmt.Errorf("field %s value %q does not match the required format", field.Key, item)
			}
			if allowed != nil && !allowed[item] {
				return fmt.Errorf("field %s value %q is not an allowed option", field.Key, item)
			}
		}
	}

	for key := range values {
		if !known[key] {
			return fmt.Errorf("field %s is not defined by change type %s", key, ct.Name)
		}
	}

	return nil
}

// allowedValues flattens and de-duplicates the option set; nil means
// the field is open.
func (f *ChangeField) allowedValues() map[string]bool {
	if f.Type != FieldChoice || len(f.Options) == 0 {
		return nil
	}

	allowed := make(map[string]bool)
	for _, opt := range f.Options {
		for _, v := range opt.Values {
			allowed[v] = true
		}
	}

	return allowed
}

func fieldItems(field *ChangeField, v any) ([]string, error) {
	switch val := v.(type) {
	case string:
		return []string{val}, nil
	case []string:
		return val, nil
	case []any:
		items := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("field %s has a non-string list element", field.Key)
			}
			items = append(items, s)
		}
		return items, nil
	default:
		return []string{fmt.Sprintf("%v", val)}, nil
	}
}

// ValidateCardinality enforces the change type's provider-definition
// policy on a submission.
func ValidateCardinality(ct *ChangeType, ids []uuid.UUID) error {
	switch ct.DefinitionPolicy {
	case AllowNone:
		if len(ids) != 0 {
			return fmt.Errorf("change type %s does not target provider definitions", ct.Name)
		}
	case AllowOne:
		if len(ids) != 1 {
			return fmt.Errorf("change type %s targets exactly one provider definition, got %d", ct.Name, len(ids))
		}
	default:
		if len(ids) == 0 {
			return fmt.Errorf("change type %s requires at least one provider definition", ct.Name)
		}
	}

	return nil
}

// templatize prepares a field value for string interpolation. Lists
// are de-duplicated, sorted and JSON-encoded so rendering is
// deterministic; scalars pass through as strings.
func templatize(v any) (string, error) {
	var items []string
	switch val := v.(type) {
	case []string:
		items = val
	case []any:
		for _, item := range val {
			items = append(items, fmt.Sprintf("%v", item))
		}
	case string:
		return val, nil
	default:
		return fmt.Sprintf("%v", val), nil
	}

	seen := make(map[string]bool, len(items))
	unique := make([]string, 0, len(items))
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		unique = append(unique, item)
	}
	sort.Strings(unique)

	encoded, err := json.Marshal(unique)
	if err != nil {
		return "", fmt.Errorf("failed to encode list value: %w", err)
	}

	return string(encoded), nil
}
