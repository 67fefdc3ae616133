package template_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permitops/gitgovern/pkg/template"
)

const roleBody = `template_type: NOQ::AWS::IAM::Role
identifier: engineer
included_accounts:
  - "*"
properties:
  role_name: engineer
  description: Engineering default role
`

func TestParse(t *testing.T) {
	tpl, err := template.Parse("tenant-1", "iam-templates", "roles/engineer.yaml", []byte(roleBody))
	require.NoError(t, err)

	assert.Equal(t, "tenant-1", tpl.TenantID)
	assert.Equal(t, "NOQ::AWS::IAM::Role", tpl.TemplateType)
	assert.Equal(t, "aws", tpl.Provider)
	assert.Equal(t, "aws:iam:role", tpl.ResourceType)
	assert.Equal(t, "engineer", tpl.ResourceID)
	assert.Equal(t, []string{"*"}, tpl.IncludedAccounts())
}

func TestParseResourceIDFallbacks(t *testing.T) {
	tpl, err := template.Parse("tenant-1", "repo", "g.yaml", []byte(`template_type: NOQ::Okta::Group
idp_name: corp
properties:
  name: engineering
`))
	require.NoError(t, err)
	assert.Equal(t, "engineering", tpl.ResourceID)
	assert.Equal(t, "corp", tpl.OrgName())
	assert.Equal(t, "okta", tpl.Provider)
}

func TestParseErrors(t *testing.T) {
	_, err := template.Parse("t", "r", "x.yaml", []byte(`properties: {name: x}`))
	require.ErrorIs(t, err, template.ErrTemplateNotFound)

	_, err = template.Parse("t", "r", "x.yaml", []byte(`template_type: NOQ::Unsupported::Thing
identifier: x
`))
	require.ErrorIs(t, err, template.ErrUnsupportedProvider)

	_, err = template.Parse("t", "r", "x.yaml", []byte(`template_type: NOQ::AWS::IAM::Role`))
	require.ErrorIs(t, err, template.ErrTemplateNotFound)

	_, err = template.Parse("t", "r", "x.yaml", []byte("\t not yaml"))
	require.ErrorIs(t, err, template.ErrTemplateNotFound)
}

func TestIsTemplateFile(t *testing.T) {
	assert.True(t, template.IsTemplateFile("roles/engineer.yaml"))
	assert.True(t, template.IsTemplateFile("groups/eng.yml"))
	assert.False(t, template.IsTemplateFile("iambic_config.yaml"))
	assert.False(t, template.IsTemplateFile("roles/.hidden.yaml"))
	assert.False(t, template.IsTemplateFile("README.md"))
	assert.False(t, template.IsTemplateFile(".github/workflows/ci.yaml"))
}

func TestMarshalIsDeterministicAndOrdersHeaderKeys(t *testing.T) {
	tpl, err := template.Parse("tenant-1", "repo", "roles/engineer.yaml", []byte(roleBody))
	require.NoError(t, err)

	first, err := template.Marshal(tpl)
	require.NoError(t, err)
	second, err := template.Marshal(tpl)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	lines := strings.Split(strings.TrimSpace(string(first)), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "template_type:"))
	assert.True(t, strings.HasPrefix(lines[1], "identifier:"))
}

func TestMarshalRoundTrips(t *testing.T) {
	tpl, err := template.Parse("tenant-1", "repo", "roles/engineer.yaml", []byte(roleBody))
	require.NoError(t, err)

	body, err := template.Marshal(tpl)
	require.NoError(t, err)

	again, err := template.Parse("tenant-1", "repo", "roles/engineer.yaml", body)
	require.NoError(t, err)
	assert.Equal(t, tpl.Content, again.Content)
}
