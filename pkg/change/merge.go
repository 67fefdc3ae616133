package change

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/permitops/gitgovern/pkg/provider"
)

// Merge runs the two-phase explode/merge reduction over a request's
// submissions.
//
// Explode renders every (submission x targeted definition) pair
// independently, because definition substitution can make otherwise
// identical user input diverge (an account name embedded in an ARN).
// Merge then regroups exploded results within a (template, change
// type, identifier) scope: results whose rendered bodies are
// deep-equal ignoring list order collapse into one, unioning their
// definition-ID sets. Results targeting different templates never
// collapse, even when they render identically. Sets are unioned,
// never split, so the output sets are non-empty and pairwise
// disjoint.
//
// The result is independent of submission and definition order.
func Merge(subs []Submission, types map[uuid.UUID]*ChangeType, defs map[uuid.UUID]*provider.Definition) ([]Enriched, error) {
	type groupKey struct {
		templateID   uuid.UUID
		changeTypeID uuid.UUID
		identifier   string
		fingerprint  string
	}

	merged := make(map[groupKey]*Enriched)

	for i := range subs {
		sub := &subs[i]

		ct, ok := types[sub.ChangeTypeID]
		if !ok {
			return nil, fmt.Errorf("unknown change type %s", sub.ChangeTypeID)
		}
		if err := ValidateCardinality(ct, sub.ProviderDefinitionIDs); err != nil {
			return nil, err
		}

		renderTargets := sub.ProviderDefinitionIDs
		if len(renderTargets) == 0 {
			// Allow None: a single render with no definition bound.
			renderTargets = []uuid.UUID{uuid.Nil}
		}

		for _, defID := range renderTargets {
			var def *provider.Definition
			if defID != uuid.Nil {
				def, ok = defs[defID]
				if !ok {
					return nil, fmt.Errorf("unknown provider definition %s", defID)
				}
			}

			rendered, err := Render(ct, sub.FieldValues, def)
			if err != nil {
				return nil, err
			}

			fingerprint, err := Fingerprint(rendered)
			if err != nil {
				return nil, err
			}

			key := groupKey{
				templateID:   sub.TemplateID,
				changeTypeID: sub.ChangeTypeID,
				identifier:   sub.Identifier,
				fingerprint:  fingerprint,
			}
			existing, ok := merged[key]
			if !ok {
				enriched := &Enriched{
					ChangeTypeID: sub.ChangeTypeID,
					TemplateID:   sub.TemplateID,
					Identifier:   sub.Identifier,
					Rendered:     rendered,
					Attribute:    ct.Template.Attribute,
					Behavior:     ct.Template.Behavior,
				}
				if defID != uuid.Nil {
					enriched.ProviderDefinitionIDs = []uuid.UUID{defID}
				}
				merged[key] = enriched
				continue
			}

			if defID != uuid.Nil && !containsID(existing.ProviderDefinitionIDs, defID) {
				existing.ProviderDefinitionIDs = append(existing.ProviderDefinitionIDs, defID)
			}
		}
	}

	out := make([]Enriched, 0, len(merged))
	for _, enriched := range merged {
		sort.Slice(enriched.ProviderDefinitionIDs, func(i, j int) bool {
			return enriched.ProviderDefinitionIDs[i].String() < enriched.ProviderDefinitionIDs[j].String()
		})
		out = append(out, *enriched)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Identifier != out[j].Identifier {
			return out[i].Identifier < out[j].Identifier
		}
		if out[i].TemplateID != out[j].TemplateID {
			return out[i].TemplateID.String() < out[j].TemplateID.String()
		}
		if out[i].ChangeTypeID != out[j].ChangeTypeID {
			return out[i].ChangeTypeID.String() < out[j].ChangeTypeID.String()
		}
		fpI, _ := Fingerprint(out[i].Rendered)
		fpJ, _ := Fingerprint(out[j].Rendered)
		return fpI < fpJ
	})

	return out, nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}

	return false
}
