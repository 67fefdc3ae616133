// Package provider loads the repository's declarative provider
// configuration and resolves which concrete deployable targets a
// template applies to.
package provider

import "github.com/google/uuid"

// Definition is one concrete deployable target: an AWS account, an
// Okta/Azure/Google organization. Referenced, never mutated, by the
// merge engine.
type Definition struct {
	ID       uuid.UUID
	TenantID string
	Provider string
	SubType  string
	Name     string

	// Identifier is the stable identifier bound into render contexts:
	// the account ID for AWS accounts, the org name for identity
	// providers.
	Identifier string

	Definition map[string]any
	Variables  map[string]string
}

// RuleIdentifier is the value written into a template's inclusion list
// when a change is narrowed to a subset of definitions.
func (d *Definition) RuleIdentifier() string {
	if d.Name != "" {
		return d.Name
	}

	return d.Identifier
}
