package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/permitops/gitgovern/internal/config"
	"github.com/permitops/gitgovern/internal/gitx"
	"github.com/permitops/gitgovern/internal/health"
	"github.com/permitops/gitgovern/pkg/request"
	"github.com/permitops/gitgovern/pkg/request/reviewer"
	"github.com/permitops/gitgovern/pkg/store"
	"github.com/permitops/gitgovern/pkg/sync"
	"github.com/permitops/gitgovern/pkg/workspace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logLevel, err := cfg.SlogLevel()
	if err != nil {
		panic("Invalid value set for 'LOG_LEVEL'. Use a valid level string for unmarshalling with the log/slog package.")
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	slog.Info("logger initialised", "logLevel", logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("failed to create database pool: %v", err)
	}
	defer pool.Close()
	st := store.NewPostgres(pool)

	rev, err := newReviewer(cfg)
	if err != nil {
		log.Fatalf("failed to create review client: %v", err)
	}

	repos, err := cfg.ParseTenantRepos()
	if err != nil {
		log.Fatalf("failed to parse tenant repositories: %v", err)
	}

	wsStore := workspace.NewStore(cfg.StorageRoot)
	arena := workspace.NewArena()
	creds, err := newCredentials(cfg)
	if err != nil {
		log.Fatalf("failed to create git credentials: %v", err)
	}
	author := &gitx.Author{Name: cfg.Git.AuthorName, Email: cfg.Git.AuthorEmail}
	reporter := sync.NewReporter(logger)

	var syncers []*sync.Syncer
	registry := request.NewRegistry()
	for _, repo := range repos {
		remoteURL, err := url.Parse(repo.CloneURL)
		if err != nil {
			log.Fatalf("invalid clone URL for %s/%s: %v", repo.TenantID, repo.RepoName, err)
		}

		ws := workspace.New(wsStore, arena, creds, repo.TenantID, repo.RepoName, remoteURL, author)
		syncers = append(syncers, sync.NewSyncer(st, ws, reporter))
		registry.Add(repo.TenantID, repo.RepoName, request.NewOrchestrator(st, rev, ws, repo.CloneURL, cfg.MergeOnApproval))
	}
	slog.Info("workspaces configured", "repositories", registry.Repos())

	go func() {
		if err := http.ListenAndServe(cfg.HealthAddr, health.Routes(registry)); err != nil {
			slog.Error("health server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("scheduler starting", "interval", cfg.SyncInterval, "repositories", len(syncers))
	if err := sync.NewScheduler(syncers, cfg.SyncInterval).Start(ctx); err != nil && ctx.Err() == nil {
		slog.Error("scheduler failed", "error", err)
		os.Exit(1)
	}
}

func newCredentials(cfg *config.Config) (workspace.CredentialProvider, error) {
	if cfg.Git.GitHubAppID == 0 {
		return &workspace.StaticToken{Username: cfg.Git.Username, Token: cfg.Git.AccessToken}, nil
	}

	pem, err := os.ReadFile(cfg.Git.GitHubAppPrivateKeyFile)
	if err != nil {
		return nil, err
	}

	return workspace.NewGitHubApp(cfg.Git.GitHubAppID, cfg.Git.GitHubAppInstallationID, pem)
}

func newReviewer(cfg *config.Config) (request.Reviewer, error) {
	switch cfg.Review.Provider {
	case "gitlab":
		client, err := gitlab.NewClient(cfg.Review.AccessToken, gitlab.WithBaseURL(cfg.Review.Host))
		if err != nil {
			return nil, err
		}
		return reviewer.NewGitlab(client, nil), nil
	default:
		return reviewer.NewGitea(&reviewer.GiteaOptions{
			Host:        cfg.Review.Host,
			Username:    cfg.Review.Username,
			AccessToken: cfg.Review.AccessToken,
		})
	}
}
