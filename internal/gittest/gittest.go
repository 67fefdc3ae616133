// Package gittest builds throwaway git fixtures for tests: a bare
// repository standing in for the hosted remote, plus helpers to
// commit to it.
package gittest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/stretchr/testify/require"
)

const DefaultBranch = "main"

// InitRemote creates a bare repository with one commit holding files
// on the default branch and returns its path, usable as a clone URL.
func InitRemote(t *testing.T, files map[string]string) string {
	t.Helper()

	remotePath := t.TempDir()
	repo, err := git.PlainInit(remotePath, true)
	require.NoError(t, err)

	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(DefaultBranch))
	require.NoError(t, repo.Storer.SetReference(head))

	Commit(t, remotePath, files, "initial import")

	return remotePath
}

// Commit clones the remote into a scratch directory, applies files
// (an empty body deletes the path), commits and pushes the default
// branch. Returns the commit SHA.
func Commit(t *testing.T, remotePath string, files map[string]string, message string) string {
	t.Helper()

	workDir := t.TempDir()
	repo, err := git.PlainClone(workDir, false, &git.CloneOptions{URL: remotePath})
	if err == transport.ErrEmptyRemoteRepository {
		repo, err = git.PlainInit(workDir, false)
		require.NoError(t, err)

		head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(DefaultBranch))
		require.NoError(t, repo.Storer.SetReference(head))

		_, err = repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{remotePath}})
	}
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	for path, body := range files {
		full := filepath.Join(workDir, path)
		if body == "" {
			require.NoError(t, os.Remove(full))
			_, err = wt.Remove(path)
			require.NoError(t, err)
			continue
		}

		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
		_, err = wt.Add(path)
		require.NoError(t, err)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  "Fixture",
			Email: "fixture@example.invalid",
			When:  time.Now(),
		},
	})
	require.NoError(t, err)

	refSpec := gitconfig.RefSpec("+refs/heads/" + DefaultBranch + ":refs/heads/" + DefaultBranch)
	err = repo.Push(&git.PushOptions{RemoteName: "origin", RefSpecs: []gitconfig.RefSpec{refSpec}})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		require.NoError(t, err)
	}

	return hash.String()
}

// Files reads the tree at a ref in the remote, keyed by path.
func Files(t *testing.T, remotePath string, ref plumbing.ReferenceName) map[string]string {
	t.Helper()

	repo, err := git.PlainOpen(remotePath)
	require.NoError(t, err)

	resolved, err := repo.Reference(ref, true)
	require.NoError(t, err)

	commit, err := repo.CommitObject(resolved.Hash())
	require.NoError(t, err)

	tree, err := commit.Tree()
	require.NoError(t, err)

	files := map[string]string{}
	err = tree.Files().ForEach(func(f *object.File) error {
		contents, err := f.Contents()
		if err != nil {
			return err
		}
		files[f.Name] = contents
		return nil
	})
	require.NoError(t, err)

	return files
}

// HasRef reports whether the remote has the ref.
func HasRef(t *testing.T, remotePath string, ref plumbing.ReferenceName) bool {
	t.Helper()

	repo, err := git.PlainOpen(remotePath)
	require.NoError(t, err)

	_, err = repo.Reference(ref, true)
	if err == plumbing.ErrReferenceNotFound {
		return false
	}
	require.NoError(t, err)

	return true
}
