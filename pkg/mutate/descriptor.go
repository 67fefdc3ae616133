// Package mutate applies merged, rendered changes onto in-memory
// template objects by attribute path.
package mutate

import (
	"fmt"
	"strings"
)

type ContainerKind int

const (
	KindList ContainerKind = iota
	KindObject
	KindScalar
)

// Descriptor statically describes one mutable attribute path of a
// template type: its container kind and, for rule-scoped providers,
// the attribute on the rendered change that receives a narrowed
// inclusion list.
type Descriptor struct {
	Path          string
	Kind          ContainerKind
	InclusionAttr string
}

// Schema maps attribute paths to descriptors for one template-type
// prefix. Built at startup; no runtime type introspection.
type Schema map[string]Descriptor

func makeSchema(descriptors ...Descriptor) Schema {
	s := make(Schema, len(descriptors))
	for _, d := range descriptors {
		s[d.Path] = d
	}

	return s
}

var schemasByPrefix = map[string]Schema{
	"NOQ::AWS::IAM::Role": makeSchema(
		Descriptor{Path: "properties.inline_policies", Kind: KindList, InclusionAttr: "included_accounts"},
		Descriptor{Path: "properties.managed_policies", Kind: KindList, InclusionAttr: "included_accounts"},
		Descriptor{Path: "properties.tags", Kind: KindList, InclusionAttr: "included_accounts"},
		Descriptor{Path: "properties.permissions_boundary", Kind: KindObject, InclusionAttr: "included_accounts"},
	),
	"NOQ::AWS::IAM::ManagedPolicy": makeSchema(
		Descriptor{Path: "properties.policy_document", Kind: KindObject, InclusionAttr: "included_accounts"},
		Descriptor{Path: "properties.policy_document.Statement", Kind: KindList, InclusionAttr: "included_accounts"},
	),
	"NOQ::AWS::IdentityCenter::PermissionSet": makeSchema(
		Descriptor{Path: "properties.inline_policy", Kind: KindObject, InclusionAttr: "included_accounts"},
		Descriptor{Path: "properties.customer_managed_policy_references", Kind: KindList, InclusionAttr: "included_accounts"},
		Descriptor{Path: "access_rules", Kind: KindList, InclusionAttr: "included_accounts"},
	),
	"NOQ::Okta::Group": makeSchema(
		Descriptor{Path: "properties.members", Kind: KindList},
	),
	"NOQ::AzureAD::Group": makeSchema(
		Descriptor{Path: "properties.members", Kind: KindList},
	),
	"NOQ::GoogleWorkspace::Group": makeSchema(
		Descriptor{Path: "properties.members", Kind: KindList},
	),
}

// SchemaFor returns the descriptor table for a template type; the
// longest registered prefix wins.
func SchemaFor(templateType string) (Schema, error) {
	var (
		best    Schema
		bestLen int
	)
	for prefix, schema := range schemasByPrefix {
		if strings.HasPrefix(templateType, prefix) && len(prefix) > bestLen {
			best = schema
			bestLen = len(prefix)
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no attribute schema registered for template type %s", templateType)
	}

	return best, nil
}
