package change_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permitops/gitgovern/pkg/change"
	"github.com/permitops/gitgovern/pkg/provider"
)

func s3AccessChangeType() *change.ChangeType {
	return &change.ChangeType{
		Name: "s3-access",
		Fields: []change.ChangeField{
			{
				Key:           "permissions",
				Type:          change.FieldChoice,
				AllowMultiple: true,
				Options: []change.FieldOption{
					{Label: "Read", Values: []string{"s3:GetObject", "s3:ListBucket"}},
					{Label: "Write", Values: []string{"s3:PutObject"}},
				},
			},
		},
		Template: change.ChangeTypeTemplate{
			Body:      `{"Effect": "Allow", "Action": {{form.permissions}}, "Resource": ["arn:aws:s3:::{{var.account_name}}-bucket"]}`,
			Attribute: "properties.inline_policies",
			Behavior:  change.BehaviorAppend,
		},
		DefinitionPolicy: change.AllowMultiple,
	}
}

func TestRenderSubstitutesFormAndVariables(t *testing.T) {
	ct := s3AccessChangeType()
	def := &provider.Definition{
		Identifier: "123456789012",
		Variables:  map[string]string{"account_name": "acct1"},
	}

	got, err := change.Render(ct, map[string]any{
		"permissions": []string{"s3:PutObject", "s3:GetObject"},
	}, def)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"Effect":   "Allow",
		"Action":   []any{"s3:GetObject", "s3:PutObject"},
		"Resource": []any{"arn:aws:s3:::acct1-bucket"},
	}, got)
}

func TestRenderIsDeterministic(t *testing.T) {
	ct := s3AccessChangeType()
	def := &provider.Definition{
		Identifier: "123456789012",
		Variables:  map[string]string{"account_name": "acct1"},
	}

	first, err := change.Render(ct, map[string]any{
		"permissions": []string{"s3:PutObject", "s3:GetObject"},
	}, def)
	require.NoError(t, err)

	// Reordered and duplicated list input renders the same fragment.
	second, err := change.Render(ct, map[string]any{
		"permissions": []string{"s3:GetObject", "s3:PutObject", "s3:GetObject"},
	}, def)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRenderRejectsInvalidFields(t *testing.T) {
	ct := s3AccessChangeType()
	def := &provider.Definition{Identifier: "123456789012"}

	_, err := change.Render(ct, map[string]any{
		"permissions": []string{"s3:DeleteBucket"},
	}, def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an allowed option")

	_, err = change.Render(ct, map[string]any{}, def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

func TestRenderWithoutDefinition(t *testing.T) {
	ct := &change.ChangeType{
		Name: "tag-note",
		Fields: []change.ChangeField{
			{Key: "note", Type: change.FieldTextBox},
		},
		Template: change.ChangeTypeTemplate{
			Body:      `{"Key": "note", "Value": "{{form.note}}"}`,
			Attribute: "properties.tags",
			Behavior:  change.BehaviorAppend,
		},
		DefinitionPolicy: change.AllowNone,
	}

	got, err := change.Render(ct, map[string]any{"note": "quarterly audit"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Key": "note", "Value": "quarterly audit"}, got)
}
