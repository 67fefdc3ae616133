package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permitops/gitgovern/pkg/provider"
	"github.com/permitops/gitgovern/pkg/template"
)

func awsAccounts() []provider.Definition {
	return []provider.Definition{
		{Provider: "aws", SubType: "account", Name: "dev", Identifier: "111111111111"},
		{Provider: "aws", SubType: "account", Name: "staging", Identifier: "222222222222"},
		{Provider: "aws", SubType: "account", Name: "prod", Identifier: "333333333333"},
		{Provider: "okta", SubType: "organization", Name: "corp", Identifier: "corp"},
	}
}

func roleTemplate(content map[string]any) *template.Template {
	content["template_type"] = "NOQ::AWS::IAM::Role"
	content["identifier"] = "engineer"
	return &template.Template{
		TemplateType: "NOQ::AWS::IAM::Role",
		Provider:     "aws",
		Content:      content,
	}
}

func TestResolveAccountScoped(t *testing.T) {
	defs := awsAccounts()

	tests := []struct {
		name    string
		content map[string]any
		want    []string
	}{
		{
			name:    "wildcard includes every account of the provider",
			content: map[string]any{"included_accounts": []any{"*"}},
			want:    []string{"111111111111", "222222222222", "333333333333"},
		},
		{
			name:    "empty inclusion means all",
			content: map[string]any{},
			want:    []string{"111111111111", "222222222222", "333333333333"},
		},
		{
			name: "exclusion beats inclusion",
			content: map[string]any{
				"included_accounts": []any{"*"},
				"excluded_accounts": []any{"prod"},
			},
			want: []string{"111111111111", "222222222222"},
		},
		{
			name:    "glob against account name",
			content: map[string]any{"included_accounts": []any{"sta*"}},
			want:    []string{"222222222222"},
		},
		{
			name:    "exact account id",
			content: map[string]any{"included_accounts": []any{"111111111111"}},
			want:    []string{"111111111111"},
		},
		{
			name:    "case-insensitive name match",
			content: map[string]any{"included_accounts": []any{"PROD"}},
			want:    []string{"333333333333"},
		},
		{
			name: "empty inclusion with exclusions means all except",
			content: map[string]any{
				"excluded_accounts": []any{"dev"},
			},
			want: []string{"222222222222", "333333333333"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, err := provider.Resolve(roleTemplate(tt.content), defs)
			require.NoError(t, err)

			got := make([]string, 0, len(matched))
			for _, def := range matched {
				got = append(got, def.Identifier)
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestResolveOrgScoped(t *testing.T) {
	defs := awsAccounts()

	tpl := &template.Template{
		TemplateType: "NOQ::Okta::Group",
		Provider:     "okta",
		Content: map[string]any{
			"template_type": "NOQ::Okta::Group",
			"idp_name":      "Corp",
			"properties":    map[string]any{"name": "engineering"},
		},
	}

	matched, err := provider.Resolve(tpl, defs)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "corp", matched[0].Identifier)

	// Unknown org resolves to nothing rather than erroring.
	tpl.Content["idp_name"] = "other"
	matched, err = provider.Resolve(tpl, defs)
	require.NoError(t, err)
	assert.Empty(t, matched)
}
