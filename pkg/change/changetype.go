// Package change turns a self-service request's change-type
// submissions into minimal, correctly-merged template mutations.
package change

import (
	"github.com/google/uuid"
)

type FieldType string

const (
	FieldTextBox   FieldType = "TextBox"
	FieldTypeAhead FieldType = "TypeAhead"
	FieldChoice    FieldType = "Choice"
)

type ApplyBehavior string

const (
	BehaviorAppend  ApplyBehavior = "Append"
	BehaviorMerge   ApplyBehavior = "Merge"
	BehaviorReplace ApplyBehavior = "Replace"
)

// CardinalityPolicy bounds how many provider definitions one
// submission of the change type may target.
type CardinalityPolicy string

const (
	AllowOne      CardinalityPolicy = "Allow One"
	AllowMultiple CardinalityPolicy = "Allow Multiple"
	AllowNone     CardinalityPolicy = "Allow None"
)

// FieldOption is one entry of a closed option set. List-valued options
// are flattened before membership checks.
type FieldOption struct {
	Label  string
	Values []string
}

type ChangeField struct {
	Key         string
	Name        string
	Description string
	Type        FieldType

	// AllowNone permits omitting the field entirely.
	AllowNone     bool
	AllowMultiple bool
	MaxLength     int
	Pattern       string
	Options       []FieldOption
}

// ChangeTypeTemplate is the render target: a template string producing
// a JSON fragment, the attribute path it lands on, and how it is
// applied there.
type ChangeTypeTemplate struct {
	Body      string
	Attribute string
	Behavior  ApplyBehavior
}

// ChangeType is a named, versioned unit of template mutation owned by
// tenant configuration. Immutable at request time.
type ChangeType struct {
	ID               uuid.UUID
	TenantID         string
	Name             string
	Description      string
	Version          int
	TemplateTypes    []string
	Fields           []ChangeField
	Template         ChangeTypeTemplate
	DefinitionPolicy CardinalityPolicy
}

// Submission is one change-type instantiation inside a request.
type Submission struct {
	ChangeTypeID uuid.UUID

	// TemplateID names the template the change mutates.
	TemplateID uuid.UUID

	// Identifier scopes merging: one request may submit the same
	// logical change multiple times for different definitions.
	Identifier string

	FieldValues           map[string]any
	ProviderDefinitionIDs []uuid.UUID
}

// Enriched is one rendered, merged change: the rendered JSON fragment
// plus every provider definition it covers. Ephemeral, never
// persisted.
type Enriched struct {
	ChangeTypeID          uuid.UUID
	TemplateID            uuid.UUID
	Identifier            string
	ProviderDefinitionIDs []uuid.UUID
	Rendered              any
	Attribute             string
	Behavior              ApplyBehavior
}
