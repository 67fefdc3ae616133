package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/permitops/gitgovern/internal/gitx"
)

const (
	// RequestBranchPrefix names the isolated branch backing one
	// self-service request.
	RequestBranchPrefix = "noq-self-service-"

	commitSystemName = "Self-Service"
)

var notesRefName = plumbing.ReferenceName("refs/notes/self-service")

// RepoWorkspace owns one cloned repository for one tenant: the shared
// default clone plus per-request worktree directories branched off it.
type RepoWorkspace struct {
	store  *Store
	arena  *Arena
	creds  CredentialProvider
	author *gitx.Author

	tenantID  string
	repoName  string
	remoteURL *url.URL

	repo          *git.Repository
	defaultBranch plumbing.ReferenceName
}

func New(store *Store, arena *Arena, creds CredentialProvider, tenantID, repoName string, remoteURL *url.URL, author *gitx.Author) *RepoWorkspace {
	return &RepoWorkspace{
		store:     store,
		arena:     arena,
		creds:     creds,
		author:    author,
		tenantID:  tenantID,
		repoName:  repoName,
		remoteURL: remoteURL,
	}
}

func (w *RepoWorkspace) TenantID() string { return w.tenantID }
func (w *RepoWorkspace) RepoName() string { return w.repoName }

func (w *RepoWorkspace) Path() string {
	return w.store.DefaultClonePath(w.tenantID, w.repoName)
}

// CloneOrPull brings the shared default clone to the tip of
// origin/<default>: a fresh clone on first use, otherwise checkout of
// the default branch, hard reset to origin and pull.
func (w *RepoWorkspace) CloneOrPull(ctx context.Context) error {
	unlock := w.arena.Lock(w.tenantID, w.repoName)
	defer unlock()

	path := w.Path()
	authURL, err := w.creds.AuthenticatedCloneURL(ctx, w.remoteURL)
	if err != nil {
		return classify("credential refresh", err)
	}

	if _, statErr := os.Stat(filepath.Join(path, ".git")); errors.Is(statErr, os.ErrNotExist) {
		repo, err := gitx.Clone(ctx, authURL, path, "")
		if err != nil {
			return classify("clone", err)
		}
		w.repo = repo
		return nil
	}

	repo, err := git.PlainOpen(path)
	if err != nil {
		return classify("open", err)
	}
	w.repo = repo

	if err := w.refreshOrigin(authURL); err != nil {
		return classify("remote update", err)
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{RemoteName: "origin", Force: true})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return classify("fetch", err)
	}

	defaultBranch, err := w.DefaultBranch(ctx)
	if err != nil {
		return err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return classify("worktree", err)
	}

	err = wt.Checkout(&git.CheckoutOptions{Branch: defaultBranch, Force: true})
	if err != nil {
		return classify("checkout", err)
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", defaultBranch.Short()), true)
	if err != nil {
		return classify("resolve origin ref", err)
	}

	err = wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: remoteRef.Hash()})
	if err != nil {
		return classify("reset", err)
	}

	err = wt.PullContext(ctx, &git.PullOptions{RemoteName: "origin", ReferenceName: defaultBranch, Force: true})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return classify("pull", err)
	}

	slog.Debug("default clone updated", "tenantID", w.tenantID, "repo", w.repoName, "branch", defaultBranch.Short())

	return nil
}

// DefaultBranch resolves the default branch from the remote HEAD
// symref, caching the answer for the workspace's lifetime. Falls back
// to the local HEAD when the remote does not advertise one.
func (w *RepoWorkspace) DefaultBranch(ctx context.Context) (plumbing.ReferenceName, error) {
	if w.defaultBranch != "" {
		return w.defaultBranch, nil
	}

	if err := w.ensureOpen(ctx); err != nil {
		return "", err
	}

	ref, err := gitx.RemoteHead(ctx, w.repo)
	if err != nil {
		head, headErr := w.repo.Head()
		if headErr != nil {
			return "", classify("resolve default branch", err)
		}
		ref = head.Name()
	}

	w.defaultBranch = ref

	return ref, nil
}

// HeadSHA returns the current commit of the default branch in the
// shared clone.
func (w *RepoWorkspace) HeadSHA(ctx context.Context) (string, error) {
	if err := w.ensureOpen(ctx); err != nil {
		return "", err
	}

	defaultBranch, err := w.DefaultBranch(ctx)
	if err != nil {
		return "", err
	}

	ref, err := w.repo.Reference(defaultBranch, true)
	if err != nil {
		return "", classify("resolve head", err)
	}

	return ref.Hash().String(), nil
}

// Repository exposes the underlying default clone for read-only
// history walks. Mutation must go through CloneOrPull and worktrees.
func (w *RepoWorkspace) Repository(ctx context.Context) (*git.Repository, error) {
	if err := w.ensureOpen(ctx); err != nil {
		return nil, err
	}

	return w.repo, nil
}

func (w *RepoWorkspace) ensureOpen(ctx context.Context) error {
	if w.repo != nil {
		return nil
	}

	path := w.Path()
	if _, err := os.Stat(filepath.Join(path, ".git")); errors.Is(err, os.ErrNotExist) {
		return w.CloneOrPull(ctx)
	}

	repo, err := git.PlainOpen(path)
	if err != nil {
		return classify("open", err)
	}
	w.repo = repo

	return nil
}

func (w *RepoWorkspace) refreshOrigin(authURL *url.URL) error {
	cfg, err := w.repo.Config()
	if err != nil {
		return err
	}

	remote, ok := cfg.Remotes["origin"]
	if !ok {
		remote = &gitconfig.RemoteConfig{Name: "origin"}
		cfg.Remotes["origin"] = remote
	}
	remote.URLs = []string{authURL.String()}

	return w.repo.SetConfig(cfg)
}

// RequestBranchName derives the branch backing a request.
func RequestBranchName(requestID string) plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(RequestBranchPrefix + requestID)
}

// OpenRequestWorktree recreates the isolated directory for a request
// and attaches it to branch noq-self-service-<requestID>. Any existing
// directory at the path is removed first. When the branch already
// exists on the remote (an idempotent retry) the worktree attaches to
// it instead of branching off the default tip again.
func (w *RepoWorkspace) OpenRequestWorktree(ctx context.Context, requestID, requesterID string) (*RequestWorktree, error) {
	branch := RequestBranchName(requestID)
	path := w.store.WorktreePath(w.tenantID, requesterID, w.repoName, branch.Short())

	if err := os.RemoveAll(path); err != nil {
		return nil, classify("worktree reset", err)
	}

	authURL, err := w.creds.AuthenticatedCloneURL(ctx, w.remoteURL)
	if err != nil {
		return nil, classify("credential refresh", err)
	}

	repo, err := gitx.Clone(ctx, authURL, path, "")
	if err != nil {
		return nil, classify("worktree clone", err)
	}

	defaultBranch, err := w.DefaultBranch(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := gitx.GetOrCreateBranch(repo, branch, defaultBranch); err != nil {
		return nil, classify("branch create", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, classify("worktree", err)
	}

	if err := wt.Checkout(&git.CheckoutOptions{Branch: branch, Force: true}); err != nil {
		return nil, classify("checkout", err)
	}

	slog.Debug("opened request worktree",
		"tenantID", w.tenantID, "repo", w.repoName, "branch", branch.Short(), "path", path)

	return &RequestWorktree{
		ws:          w,
		repo:        repo,
		path:        path,
		branch:      branch,
		requesterID: requesterID,
	}, nil
}

// DeleteRequestBranch removes a request's remote branch and worktree
// directory without materializing the worktree first. Used when a
// request settles and only teardown remains.
func (w *RepoWorkspace) DeleteRequestBranch(ctx context.Context, requestID, requesterID string) error {
	if err := w.ensureOpen(ctx); err != nil {
		return err
	}

	authURL, err := w.creds.AuthenticatedCloneURL(ctx, w.remoteURL)
	if err != nil {
		return classify("credential refresh", err)
	}
	if err := w.refreshOrigin(authURL); err != nil {
		return classify("remote update", err)
	}

	branch := RequestBranchName(requestID)
	if err := gitx.DeleteRemoteBranch(ctx, w.repo, branch); err != nil {
		return classify("branch delete", err)
	}

	path := w.store.WorktreePath(w.tenantID, requesterID, w.repoName, branch.Short())
	if err := os.RemoveAll(path); err != nil {
		return classify("worktree remove", err)
	}

	return nil
}

// FileEdit is one pending change to a worktree file. A nil Body
// deletes the file.
type FileEdit struct {
	Path string
	Body []byte
}

type CommitOptions struct {
	// ResetToDefaultFirst discards the branch's prior proposed diff
	// before applying edits, rebuilding it from the default tip.
	ResetToDefaultFirst bool
	// Notes attaches free-text justification to the commit as a
	// git-notes ref.
	Notes string
}

// RequestWorktree is the isolated checkout backing one request branch.
type RequestWorktree struct {
	ws          *RepoWorkspace
	repo        *git.Repository
	path        string
	branch      plumbing.ReferenceName
	requesterID string
}

func (t *RequestWorktree) Path() string { return t.path }

func (t *RequestWorktree) BranchName() string { return t.branch.Short() }

// CommitAndPush applies the edits, commits them as the configured
// author and force-pushes the request branch (and notes ref, when
// present) to origin.
func (t *RequestWorktree) CommitAndPush(ctx context.Context, edits []FileEdit, requester string, opts CommitOptions) (string, error) {
	wt, err := t.repo.Worktree()
	if err != nil {
		return "", classify("worktree", err)
	}

	if opts.ResetToDefaultFirst {
		if err := t.resetToDefault(ctx, wt); err != nil {
			return "", err
		}
	}

	for _, edit := range edits {
		if edit.Body == nil {
			full := filepath.Join(t.path, edit.Path)
			if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
				return "", classify("file delete", err)
			}
			if _, err := wt.Remove(edit.Path); err != nil && err != git.ErrGlobNoMatches {
				slog.Debug("file already absent from index", "path", edit.Path)
			}
			continue
		}

		full := filepath.Join(t.path, edit.Path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return "", classify("mkdir", err)
		}
		if err := os.WriteFile(full, edit.Body, 0o644); err != nil {
			return "", classify("file write", err)
		}
		if _, err := wt.Add(edit.Path); err != nil {
			return "", classify("stage", err)
		}
	}

	subject := fmt.Sprintf("%s Request created by: %s", commitSystemName, requester)
	hash, err := gitx.Commit(t.repo, wt, t.ws.author, subject, "")
	if err != nil {
		return "", classify("commit", err)
	}

	refs := []plumbing.ReferenceName{t.branch}
	if opts.Notes != "" {
		if err := gitx.WriteNote(t.repo, notesRefName, hash, opts.Notes, t.ws.author); err != nil {
			return "", classify("notes", err)
		}
		refs = append(refs, notesRefName)
	}

	if err := gitx.Push(ctx, t.repo, refs...); err != nil {
		return "", classify("push", err)
	}

	return hash.String(), nil
}

func (t *RequestWorktree) resetToDefault(ctx context.Context, wt *git.Worktree) error {
	err := t.repo.FetchContext(ctx, &git.FetchOptions{RemoteName: "origin", Force: true})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return classify("fetch", err)
	}

	defaultBranch, err := t.ws.DefaultBranch(ctx)
	if err != nil {
		return err
	}

	remoteRef, err := t.repo.Reference(plumbing.NewRemoteReferenceName("origin", defaultBranch.Short()), true)
	if err != nil {
		return classify("resolve origin ref", err)
	}

	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: remoteRef.Hash()}); err != nil {
		return classify("reset", err)
	}

	return nil
}

// DeleteBranch removes the remote request branch and tears down the
// worktree directory. A branch already gone on the remote is treated
// as success.
func (t *RequestWorktree) DeleteBranch(ctx context.Context) error {
	if err := gitx.DeleteRemoteBranch(ctx, t.repo, t.branch); err != nil {
		return classify("branch delete", err)
	}

	return t.Remove()
}

// Remove tears down the worktree directory without touching the
// remote.
func (t *RequestWorktree) Remove() error {
	if err := os.RemoveAll(t.path); err != nil {
		return classify("worktree remove", err)
	}

	return nil
}
