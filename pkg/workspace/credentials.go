package workspace

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// CredentialProvider supplies a clone URL carrying short-lived
// credentials, of the form https://oauth:<token>@host/org/repo.
type CredentialProvider interface {
	AuthenticatedCloneURL(ctx context.Context, remote *url.URL) (*url.URL, error)
}

type StaticToken struct {
	Username string
	Token    string
}

func (s *StaticToken) AuthenticatedCloneURL(_ context.Context, remote *url.URL) (*url.URL, error) {
	// No token means anonymous access, including local file remotes.
	if s.Token == "" {
		return remote, nil
	}

	username := s.Username
	if username == "" {
		username = "oauth"
	}

	u := *remote
	u.User = url.UserPassword(username, s.Token)

	return &u, nil
}

// installationTokenTTL is shorter than the hour GitHub grants so a
// cached token is never handed out moments before it expires.
const installationTokenTTL = 45 * time.Minute

// GitHubApp mints installation access tokens for a GitHub App and
// caches them for installationTokenTTL.
type GitHubApp struct {
	AppID          int64
	InstallationID int64
	PrivateKey     *rsa.PrivateKey
	APIBaseURL     string
	HTTPClient     *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewGitHubApp builds a GitHubApp provider from a PEM-encoded RSA
// private key, as downloaded from the App's settings page.
func NewGitHubApp(appID, installationID int64, privateKeyPEM []byte) (*GitHubApp, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse App private key: %w", err)
	}

	return &GitHubApp{
		AppID:          appID,
		InstallationID: installationID,
		PrivateKey:     key,
	}, nil
}

func (g *GitHubApp) AuthenticatedCloneURL(ctx context.Context, remote *url.URL) (*url.URL, error) {
	token, err := g.installationToken(ctx)
	if err != nil {
		return nil, err
	}

	u := *remote
	u.User = url.UserPassword("oauth", token)

	return &u, nil
}

func (g *GitHubApp) installationToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" && time.Now().Before(g.expiresAt) {
		return g.token, nil
	}

	appJWT, err := g.appJWT()
	if err != nil {
		return "", fmt.Errorf("failed to sign app JWT: %w", err)
	}

	baseURL := g.APIBaseURL
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	endpoint := fmt.Sprintf("%s/app/installations/%d/access_tokens", strings.TrimSuffix(baseURL, "/"), g.InstallationID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	client := g.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("installation token request returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode installation token response: %w", err)
	}

	g.token = payload.Token
	g.expiresAt = time.Now().Add(installationTokenTTL)
	if payload.ExpiresAt.Before(g.expiresAt) {
		g.expiresAt = payload.ExpiresAt.Add(-time.Minute)
	}

	slog.Debug("minted installation token", "installationID", g.InstallationID, "expiresAt", g.expiresAt)

	return g.token, nil
}

func (g *GitHubApp) appJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    fmt.Sprintf("%d", g.AppID),
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(g.PrivateKey)
}
