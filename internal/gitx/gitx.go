package gitx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

type Author struct {
	Name  string
	Email string
}

func (a *Author) Signature() object.Signature {
	return object.Signature{
		Name:  a.Name,
		Email: a.Email,
		When:  time.Now(),
	}
}

func Clone(ctx context.Context, remoteURL *url.URL, directory string, ref plumbing.ReferenceName) (*git.Repository, error) {
	cloneOpts := &git.CloneOptions{
		URL:      remoteURL.String(),
		Progress: nil,
	}
	if ref != "" {
		cloneOpts.ReferenceName = ref
	}

	slog.Debug("cloning repository", "remoteURL", remoteURL.Redacted(), "directory", directory)

	return git.PlainCloneContext(ctx, directory, false, cloneOpts)
}

func Commit(repo *git.Repository, wt *git.Worktree, author *Author, commitSubject, commitBody string) (plumbing.Hash, error) {
	var err error

	if wt == nil {
		wt, err = repo.Worktree()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to get worktree: %w", err)
		}
	}

	commitMsg := commitSubject
	if commitBody != "" {
		commitMsg = fmt.Sprintf("%s\n\n%s", commitSubject, commitBody)
	}

	commit, err := wt.Commit(commitMsg, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            ptr(author.Signature()),
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to prepare commit: %w", err)
	}

	obj, err := repo.CommitObject(commit)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to commit object: %w", err)
	}

	slog.Debug("created commit object", "hash", obj.Hash.String(), "authorEmail", obj.Author.Email)

	return obj.Hash, nil
}

func ptr[T any](v T) *T {
	return &v
}

// Push force-pushes the given refs to origin. Each request branch is a
// mutable pointer to the latest proposed state, so a non-fast-forward
// update is the normal case, not an error.
func Push(ctx context.Context, repo *git.Repository, refNames ...plumbing.ReferenceName) error {
	refSpecs := make([]config.RefSpec, 0, len(refNames))
	for _, refName := range refNames {
		refSpecs = append(refSpecs, config.RefSpec(fmt.Sprintf("+%s:%s", refName, refName)))
	}

	remoteName := "origin"
	slog.Debug("pushing refs", "refs", refNames, "remote", remoteName)
	err := repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		Progress:   nil,
		RefSpecs:   refSpecs,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("failed to push: %w", err)
	}

	return nil
}

// DeleteRemoteBranch pushes an empty refspec to delete the branch on
// origin. A remote reporting the ref as already gone is a success.
func DeleteRemoteBranch(ctx context.Context, repo *git.Repository, branchRefName plumbing.ReferenceName) error {
	slog.Debug("deleting remote branch", "branch", branchRefName.Short())
	err := repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs: []config.RefSpec{
			config.RefSpec(fmt.Sprintf(":%s", branchRefName)),
		},
	})
	if err == nil || err == git.NoErrAlreadyUpToDate {
		return nil
	}
	if isMissingRefError(err) {
		return nil
	}

	return fmt.Errorf("failed to delete remote branch %s: %w", branchRefName.Short(), err)
}

func isMissingRefError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"ref does not exist",
		"remote ref does not exist",
		"couldn't find remote ref",
		"reference not found",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}

	return false
}

func GetOrCreateBranch(repo *git.Repository, branchName, sourceBranchName plumbing.ReferenceName) (*plumbing.Reference, error) {
	var branchRef *plumbing.Reference

	remoteRefName := plumbing.NewRemoteReferenceName("origin", branchName.Short())
	_, err := repo.Reference(remoteRefName, true)

	if err == plumbing.ErrReferenceNotFound {
		branchRef, err = CreateBranch(repo, branchName, sourceBranchName)
		if err != nil {
			return nil, fmt.Errorf("failed to create branch: %s: %w", branchName, err)
		}
	} else {
		branchRef, err = CreateBranch(repo, branchName, remoteRefName)
		if err != nil {
			return nil, fmt.Errorf("failed to create branch: %s: %w", branchName, err)
		}
	}

	return branchRef, nil
}

func CreateBranch(repo *git.Repository, branchRefName, headRefName plumbing.ReferenceName) (*plumbing.Reference, error) {
	slog.Debug("creating branch", "branchName", branchRefName, "from", headRefName)

	headRef, err := repo.Reference(headRefName, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get reference %s: %w", headRefName, err)
	}

	ref := plumbing.NewHashReference(branchRefName, headRef.Hash())

	err = repo.Storer.SetReference(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to save new branch: %w", err)
	}

	return ref, nil
}

// RemoteHead resolves the default branch from the remote's advertised
// HEAD symref.
func RemoteHead(ctx context.Context, repo *git.Repository) (plumbing.ReferenceName, error) {
	remote, err := repo.Remote("origin")
	if err != nil {
		return "", fmt.Errorf("failed to get origin remote: %w", err)
	}

	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to list remote refs: %w", err)
	}

	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD && ref.Type() == plumbing.SymbolicReference {
			return ref.Target(), nil
		}
	}

	return "", fmt.Errorf("remote did not advertise a HEAD symref")
}

// WriteNote attaches free-text to a commit under the given notes ref,
// preserving any prior notes commit as the parent.
func WriteNote(repo *git.Repository, notesRef plumbing.ReferenceName, target plumbing.Hash, note string, author *Author) error {
	blob := repo.Storer.NewEncodedObject()
	blob.SetType(plumbing.BlobObject)
	w, err := blob.Writer()
	if err != nil {
		return fmt.Errorf("failed to open blob writer: %w", err)
	}
	if _, err := w.Write([]byte(note)); err != nil {
		return fmt.Errorf("failed to write note blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close blob writer: %w", err)
	}
	blobHash, err := repo.Storer.SetEncodedObject(blob)
	if err != nil {
		return fmt.Errorf("failed to store note blob: %w", err)
	}

	tree := &object.Tree{
		Entries: []object.TreeEntry{{
			Name: target.String(),
			Mode: filemode.Regular,
			Hash: blobHash,
		}},
	}
	treeObj := repo.Storer.NewEncodedObject()
	if err := tree.Encode(treeObj); err != nil {
		return fmt.Errorf("failed to encode note tree: %w", err)
	}
	treeHash, err := repo.Storer.SetEncodedObject(treeObj)
	if err != nil {
		return fmt.Errorf("failed to store note tree: %w", err)
	}

	sig := author.Signature()
	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   "Notes added by self-service request",
		TreeHash:  treeHash,
	}
	if prior, err := repo.Reference(notesRef, true); err == nil {
		commit.ParentHashes = []plumbing.Hash{prior.Hash()}
	}
	commitObj := repo.Storer.NewEncodedObject()
	if err := commit.Encode(commitObj); err != nil {
		return fmt.Errorf("failed to encode note commit: %w", err)
	}
	commitHash, err := repo.Storer.SetEncodedObject(commitObj)
	if err != nil {
		return fmt.Errorf("failed to store note commit: %w", err)
	}

	return repo.Storer.SetReference(plumbing.NewHashReference(notesRef, commitHash))
}

// IsTransportError reports whether err is a network or authentication
// failure that a caller may retry with fresh credentials.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed) ||
		errors.Is(err, transport.ErrRepositoryNotFound) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"authentication required",
		"authorization failed",
		"connection reset",
		"connection refused",
		"could not resolve host",
		"i/o timeout",
		"unexpected eof",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}

	return false
}

type FileAction int

const (
	FileCreated FileAction = iota
	FileModified
	FileDeleted
)

type FileChange struct {
	Action FileAction
	Path   string
}

// DiffCommits lists the file changes between two commits. A zero from
// hash diffs against the empty tree, listing every file as created.
func DiffCommits(repo *git.Repository, from, to plumbing.Hash) ([]FileChange, error) {
	toCommit, err := repo.CommitObject(to)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve commit %s: %w", to, err)
	}
	toTree, err := toCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tree for %s: %w", to, err)
	}

	if from.IsZero() {
		var changes []FileChange
		err := toTree.Files().ForEach(func(f *object.File) error {
			changes = append(changes, FileChange{Action: FileCreated, Path: f.Name})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk tree for %s: %w", to, err)
		}
		return changes, nil
	}

	fromCommit, err := repo.CommitObject(from)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve commit %s: %w", from, err)
	}
	fromTree, err := fromCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tree for %s: %w", from, err)
	}

	diff, err := object.DiffTreeWithOptions(context.Background(), fromTree, toTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	changes := make([]FileChange, 0, len(diff))
	for _, ch := range diff {
		action, err := ch.Action()
		if err != nil {
			return nil, fmt.Errorf("failed to classify change: %w", err)
		}
		switch action {
		case merkletrie.Insert:
			changes = append(changes, FileChange{Action: FileCreated, Path: ch.To.Name})
		case merkletrie.Delete:
			changes = append(changes, FileChange{Action: FileDeleted, Path: ch.From.Name})
		case merkletrie.Modify:
			changes = append(changes, FileChange{Action: FileModified, Path: ch.To.Name})
		}
	}

	return changes, nil
}

// FileAtCommit returns a file's contents as of a commit, regardless
// of what any checkout currently holds.
func FileAtCommit(repo *git.Repository, sha plumbing.Hash, path string) ([]byte, error) {
	commit, err := repo.CommitObject(sha)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve commit %s: %w", sha, err)
	}

	file, err := commit.File(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s at %s: %w", path, sha, err)
	}

	contents, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s at %s: %w", path, sha, err)
	}

	return []byte(contents), nil
}
