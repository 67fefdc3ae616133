package change

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cbroglie/mustache"

	"github.com/permitops/gitgovern/pkg/provider"
)

// Render evaluates a change type's template string against one
// provider definition, returning the parsed JSON fragment.
//
// The template sees a form namespace holding the definition's stable
// identifier plus one entry per validated field, and a var namespace
// with the definition's variables. Rendering is raw string
// substitution into a JSON-shaped result; no host state is reachable.
func Render(ct *ChangeType, values map[string]any, def *provider.Definition) (any, error) {
	if err := ValidateFields(ct, values); err != nil {
		return nil, err
	}

	form := map[string]string{}
	if def != nil {
		form["provider_definition"] = def.Identifier
	}
	for key, value := range values {
		if value == nil {
			continue
		}
		templatized, err := templatize(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		form[key] = templatized
	}

	ctx := map[string]any{"form": form}
	if def != nil {
		ctx["var"] = def.Variables
	}

	rendered, err := mustache.RenderRaw(ct.Template.Body, true, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to render change type %s: %w", ct.Name, err)
	}

	var parsed any
	dec := json.NewDecoder(strings.NewReader(rendered))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("change type %s rendered invalid JSON: %w", ct.Name, err)
	}

	return parsed, nil
}
