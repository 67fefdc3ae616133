package template

import (
	"fmt"
	"strings"
)

// Providers recognized by the type registry.
const (
	ProviderAWS             = "aws"
	ProviderOkta            = "okta"
	ProviderAzureAD         = "azure_ad"
	ProviderGoogleWorkspace = "google_workspace"
)

// TypeDef describes how one template-type prefix maps onto a provider
// and how its applicability to provider definitions is declared.
type TypeDef struct {
	Prefix   string
	Provider string

	// OrgScoped templates name their single target organization;
	// otherwise applicability is inclusion/exclusion rules evaluated
	// per candidate definition.
	OrgScoped bool
}

// typeRegistry is ordered: the first matching prefix wins.
var typeRegistry = []TypeDef{
	{Prefix: "NOQ::AWS::", Provider: ProviderAWS},
	{Prefix: "NOQ::Okta::", Provider: ProviderOkta, OrgScoped: true},
	{Prefix: "NOQ::AzureAD::", Provider: ProviderAzureAD, OrgScoped: true},
	{Prefix: "NOQ::GoogleWorkspace::", Provider: ProviderGoogleWorkspace, OrgScoped: true},
}

// ResolveType maps a template_type value to its provider definition.
func ResolveType(templateType string) (TypeDef, error) {
	for _, def := range typeRegistry {
		if strings.HasPrefix(templateType, def.Prefix) {
			return def, nil
		}
	}

	return TypeDef{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, templateType)
}

// ResourceType derives the store-facing resource type from the full
// template_type, e.g. NOQ::AWS::IAM::Role -> aws:iam:role.
func (d TypeDef) ResourceType(templateType string) string {
	segments := strings.Split(templateType, "::")
	if len(segments) < 2 {
		return strings.ToLower(templateType)
	}

	return strings.ToLower(strings.Join(segments[1:], ":"))
}
