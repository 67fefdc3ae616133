package provider

import (
	"path"
	"strings"

	"github.com/permitops/gitgovern/pkg/template"
)

// Resolve returns the definitions a template applies to.
//
// Org-scoped providers declare their single target inside the template
// (the idp_name field). Account-scoped providers declare inclusion and
// exclusion rules evaluated against every candidate: "*" matches all,
// exclusion beats inclusion, and an empty inclusion list means "all"
// (all except excluded when exclusions exist).
func Resolve(tpl *template.Template, defs []Definition) ([]Definition, error) {
	typeDef, err := template.ResolveType(tpl.TemplateType)
	if err != nil {
		return nil, err
	}

	if typeDef.OrgScoped {
		orgName := tpl.OrgName()
		for i := range defs {
			def := defs[i]
			if def.Provider != tpl.Provider {
				continue
			}
			if strings.EqualFold(def.Identifier, orgName) {
				return []Definition{def}, nil
			}
		}
		return nil, nil
	}

	included := tpl.IncludedAccounts()
	excluded := tpl.ExcludedAccounts()

	var matched []Definition
	for i := range defs {
		def := defs[i]
		if def.Provider != tpl.Provider {
			continue
		}
		if matchesAny(excluded, &def) {
			continue
		}
		if len(included) == 0 || matchesAny(included, &def) {
			matched = append(matched, def)
		}
	}

	return matched, nil
}

func matchesAny(rules []string, def *Definition) bool {
	for _, rule := range rules {
		if matchesRule(rule, def.Identifier) || matchesRule(rule, def.Name) {
			return true
		}
	}

	return false
}

func matchesRule(rule, value string) bool {
	if value == "" {
		return false
	}
	if rule == "*" {
		return true
	}

	rule = strings.ToLower(rule)
	value = strings.ToLower(value)

	if !strings.Contains(rule, "*") {
		return rule == value
	}

	ok, err := path.Match(rule, value)
	return err == nil && ok
}
