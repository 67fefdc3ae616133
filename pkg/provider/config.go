package provider

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/permitops/gitgovern/pkg/template"
)

// ExtendsLocalFile includes another config fragment from the
// repository.
const ExtendsLocalFile = "LOCAL_FILE"

// Config is the declarative provider configuration at the repository
// root, plus any included fragments.
type Config struct {
	TemplateType    string         `yaml:"template_type"`
	Extends         []ExtendsRule  `yaml:"extends,omitempty"`
	AWS             *AWSConfig     `yaml:"aws,omitempty"`
	Okta            *OrgConfig     `yaml:"okta,omitempty"`
	AzureAD         *OrgConfig     `yaml:"azure_ad,omitempty"`
	GoogleWorkspace *OrgConfig     `yaml:"google_workspace,omitempty"`
	Variables       []ConfigVar    `yaml:"variables,omitempty"`
}

type ExtendsRule struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

type AWSConfig struct {
	Accounts []AWSAccount `yaml:"accounts"`
}

type AWSAccount struct {
	AccountID   string      `yaml:"account_id"`
	AccountName string      `yaml:"account_name"`
	Variables   []ConfigVar `yaml:"variables,omitempty"`
}

type OrgConfig struct {
	Organizations []Organization `yaml:"organizations"`
}

type Organization struct {
	IdpName   string      `yaml:"idp_name"`
	OrgURL    string      `yaml:"org_url,omitempty"`
	Variables []ConfigVar `yaml:"variables,omitempty"`
}

type ConfigVar struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// LoadConfig reads the root config file from a cloned repository and
// merges any LOCAL_FILE fragments it extends.
func LoadConfig(repoPath string) (*Config, error) {
	return loadConfigFile(repoPath, template.ConfigFileName, 0)
}

const maxExtendsDepth = 5

func loadConfigFile(repoPath, relPath string, depth int) (*Config, error) {
	if depth > maxExtendsDepth {
		return nil, fmt.Errorf("config extends nesting exceeds %d levels", maxExtendsDepth)
	}

	body, err := os.ReadFile(filepath.Join(repoPath, relPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read provider config %s: %w", relPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse provider config %s: %w", relPath, err)
	}

	for _, rule := range cfg.Extends {
		if rule.Key != ExtendsLocalFile {
			continue
		}
		fragment, err := loadConfigFile(repoPath, rule.Value, depth+1)
		if err != nil {
			return nil, err
		}
		cfg.merge(fragment)
	}

	return &cfg, nil
}

func (c *Config) merge(other *Config) {
	if other.AWS != nil {
		if c.AWS == nil {
			c.AWS = &AWSConfig{}
		}
		c.AWS.Accounts = append(c.AWS.Accounts, other.AWS.Accounts...)
	}
	mergeOrgs(&c.Okta, other.Okta)
	mergeOrgs(&c.AzureAD, other.AzureAD)
	mergeOrgs(&c.GoogleWorkspace, other.GoogleWorkspace)
	c.Variables = append(c.Variables, other.Variables...)
}

func mergeOrgs(dst **OrgConfig, src *OrgConfig) {
	if src == nil {
		return
	}
	if *dst == nil {
		*dst = &OrgConfig{}
	}
	(*dst).Organizations = append((*dst).Organizations, src.Organizations...)
}

// Definitions expands the config into provider definitions for a
// tenant. Global variables apply to every definition; per-definition
// variables win on conflict.
func (c *Config) Definitions(tenantID string) []Definition {
	global := varsToMap(c.Variables, nil)

	var defs []Definition

	if c.AWS != nil {
		for _, account := range c.AWS.Accounts {
			vars := varsToMap(account.Variables, global)
			vars["account_id"] = account.AccountID
			vars["account_name"] = account.AccountName
			defs = append(defs, Definition{
				TenantID:   tenantID,
				Provider:   template.ProviderAWS,
				SubType:    "account",
				Name:       account.AccountName,
				Identifier: account.AccountID,
				Variables:  vars,
				Definition: map[string]any{
					"account_id":   account.AccountID,
					"account_name": account.AccountName,
				},
			})
		}
	}

	defs = append(defs, orgDefinitions(tenantID, template.ProviderOkta, c.Okta, global)...)
	defs = append(defs, orgDefinitions(tenantID, template.ProviderAzureAD, c.AzureAD, global)...)
	defs = append(defs, orgDefinitions(tenantID, template.ProviderGoogleWorkspace, c.GoogleWorkspace, global)...)

	return defs
}

func orgDefinitions(tenantID, providerName string, cfg *OrgConfig, global map[string]string) []Definition {
	if cfg == nil {
		return nil
	}

	defs := make([]Definition, 0, len(cfg.Organizations))
	for _, org := range cfg.Organizations {
		vars := varsToMap(org.Variables, global)
		vars["idp_name"] = org.IdpName
		defs = append(defs, Definition{
			TenantID:   tenantID,
			Provider:   providerName,
			SubType:    "organization",
			Name:       org.IdpName,
			Identifier: org.IdpName,
			Variables:  vars,
			Definition: map[string]any{
				"idp_name": org.IdpName,
				"org_url":  org.OrgURL,
			},
		})
	}

	return defs
}

func varsToMap(vars []ConfigVar, base map[string]string) map[string]string {
	out := make(map[string]string, len(vars)+len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, v := range vars {
		out[v.Key] = v.Value
	}

	return out
}
