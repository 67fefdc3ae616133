package workspace

import (
	"path/filepath"
	"sync"
)

const (
	defaultRepoDir   = "iambic_template_repos"
	userWorkspaceDir = "iambic_template_user_workspaces"
)

// Store maps tenants, repositories and requests onto the local
// filesystem layout. The default clone for a repository is shared and
// long-lived; per-request worktrees are isolated throwaway directories.
type Store struct {
	Root string
}

func NewStore(root string) *Store {
	return &Store{Root: root}
}

func (s *Store) DefaultClonePath(tenantID, repoName string) string {
	return filepath.Join(s.Root, tenantID, defaultRepoDir, repoName)
}

func (s *Store) WorktreePath(tenantID, requesterID, repoName, branchName string) string {
	return filepath.Join(s.Root, tenantID, userWorkspaceDir, requesterID, repoName, branchName)
}

// Arena serializes mutation of shared default-clone directories. Git
// working-tree state (checked-out branch, index) is global to a
// directory, so concurrent pulls and commits against the same default
// clone must take the same lock. Worktree directories are isolated and
// never locked here.
type Arena struct {
	locks sync.Map
}

func NewArena() *Arena {
	return &Arena{}
}

// Lock acquires the mutex for (tenantID, repoName) and returns its
// release function.
func (a *Arena) Lock(tenantID, repoName string) func() {
	key := tenantID + "/" + repoName
	v, _ := a.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()

	return mu.Unlock
}
