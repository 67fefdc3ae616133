// Package template models the typed resource files stored in a
// tenant's Git repository: one file per managed cloud resource (IAM
// role, group membership, permission set, ...).
package template

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var (
	// ErrTemplateNotFound covers both a missing file and a body that
	// does not parse as a template.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrUnsupportedProvider marks a template type no provider
	// resolver claims. Sync runs log and skip these.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// ConfigFileName is the declarative provider configuration at the
// repository root. It is not a template and is skipped by indexing.
const ConfigFileName = "iambic_config.yaml"

// Template is the indexed form of one repository file.
//
// (TenantID, Provider, ResourceType, ResourceID, TemplateType,
// RepoName) is unique.
type Template struct {
	ID           uuid.UUID
	TenantID     string
	RepoName     string
	FilePath     string
	TemplateType string
	Provider     string
	ResourceType string
	ResourceID   string
	Content      map[string]any
}

// IsTemplateFile reports whether a repository path may hold a
// template. The provider config and its fragments are not templates.
func IsTemplateFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if base == ConfigFileName {
		return false
	}

	ext := filepath.Ext(base)
	return ext == ".yaml" || ext == ".yml"
}

// Parse decodes a template file body into its indexed form.
func Parse(tenantID, repoName, filePath string, body []byte) (*Template, error) {
	var content map[string]any
	if err := yaml.Unmarshal(body, &content); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateNotFound, filePath, err)
	}

	templateType, _ := content["template_type"].(string)
	if templateType == "" {
		return nil, fmt.Errorf("%w: %s: missing template_type", ErrTemplateNotFound, filePath)
	}

	def, err := ResolveType(templateType)
	if err != nil {
		return nil, err
	}

	t := &Template{
		TenantID:     tenantID,
		RepoName:     repoName,
		FilePath:     filePath,
		TemplateType: templateType,
		Provider:     def.Provider,
		ResourceType: def.ResourceType(templateType),
		Content:      content,
	}
	t.ResourceID = t.resourceID()
	if t.ResourceID == "" {
		return nil, fmt.Errorf("%w: %s: missing identifier", ErrTemplateNotFound, filePath)
	}

	return t, nil
}

func (t *Template) resourceID() string {
	if id, ok := t.Content["identifier"].(string); ok && id != "" {
		return id
	}

	props, _ := t.Content["properties"].(map[string]any)
	if props != nil {
		if name, ok := props["name"].(string); ok && name != "" {
			return name
		}
		if arn, ok := props["arn"].(string); ok && arn != "" {
			return arn
		}
	}

	return ""
}

// IncludedAccounts returns the template's account inclusion rules.
// Absent means "all" for templates whose provider scopes by rules.
func (t *Template) IncludedAccounts() []string {
	return stringList(t.Content["included_accounts"])
}

func (t *Template) ExcludedAccounts() []string {
	return stringList(t.Content["excluded_accounts"])
}

// OrgName returns the identity-provider organization a template
// declares for org-scoped providers.
func (t *Template) OrgName() string {
	if v, ok := t.Content["idp_name"].(string); ok {
		return v
	}
	if props, ok := t.Content["properties"].(map[string]any); ok {
		if v, ok := props["idp_name"].(string); ok {
			return v
		}
	}

	return ""
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}

	return out
}
