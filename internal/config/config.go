// Package config loads runtime configuration from the environment,
// with optional .env files for local development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// StorageRoot is the directory holding every tenant's clones and
	// request worktrees.
	StorageRoot string `env:"TENANT_STORAGE_ROOT" envDefault:"/var/lib/gitgovern/tenants"`

	// TenantRepos lists the governed repositories as
	// tenantID|name|cloneURL entries.
	TenantRepos []string `env:"TENANT_REPOS"`

	SyncInterval    time.Duration `env:"SYNC_INTERVAL" envDefault:"5m"`
	MergeOnApproval bool          `env:"MERGE_ON_APPROVAL" envDefault:"false"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	HealthAddr      string        `env:"HEALTH_ADDR" envDefault:":8080"`

	Database DatabaseOptions
	Git      GitOptions
	Review   ReviewOptions
}

type DatabaseOptions struct {
	Name     string `env:"DB_NAME" envDefault:"gitgovern"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type GitOptions struct {
	AuthorName  string `env:"GIT_AUTHOR_NAME" envDefault:"Self-Service"`
	AuthorEmail string `env:"GIT_AUTHOR_EMAIL" envDefault:"self-service@gitgovern.local"`
	Username    string `env:"GIT_USERNAME" envDefault:"oauth"`
	AccessToken string `env:"GIT_ACCESS_TOKEN"`

	// A non-zero App ID selects GitHub App installation tokens over
	// the static access token.
	GitHubAppID             int64  `env:"GITHUB_APP_ID"`
	GitHubAppInstallationID int64  `env:"GITHUB_APP_INSTALLATION_ID"`
	GitHubAppPrivateKeyFile string `env:"GITHUB_APP_PRIVATE_KEY_FILE"`
}

type ReviewOptions struct {
	// Provider selects the pull request backend: gitea or gitlab.
	Provider    string `env:"REVIEW_PROVIDER" envDefault:"gitea"`
	Host        string `env:"REVIEW_HOST"`
	Username    string `env:"REVIEW_USERNAME"`
	AccessToken string `env:"REVIEW_ACCESS_TOKEN"`
}

// TenantRepo is one parsed TENANT_REPOS entry.
type TenantRepo struct {
	TenantID string
	RepoName string
	CloneURL string
}

// Load reads .env files that exist, then parses the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env", ".env.local"}
	}

	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("failed to load env files: %w", err)
		}
	}

	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	return c, nil
}

// ParseTenantRepos splits the TENANT_REPOS entries into structured
// form.
func (c *Config) ParseTenantRepos() ([]TenantRepo, error) {
	repos := make([]TenantRepo, 0, len(c.TenantRepos))
	for _, entry := range c.TenantRepos {
		parts := strings.SplitN(entry, "|", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid TENANT_REPOS entry %q, want tenantID|name|cloneURL", entry)
		}
		repos = append(repos, TenantRepo{
			TenantID: parts[0],
			RepoName: parts[1],
			CloneURL: parts[2],
		})
	}

	return repos, nil
}

// SlogLevel parses LogLevel into a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid value for 'LOG_LEVEL': %w", err)
	}

	return level, nil
}
