package request

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownRepository rejects lookups for repositories the service
// does not govern.
var ErrUnknownRepository = errors.New("unknown repository")

// Registry resolves the orchestrator governing a repository. The
// request transport in front of the engine looks orchestrators up
// here per incoming request.
type Registry struct {
	mu     sync.RWMutex
	byRepo map[string]*Orchestrator
}

func NewRegistry() *Registry {
	return &Registry{byRepo: map[string]*Orchestrator{}}
}

func registryKey(tenantID, repoName string) string {
	return tenantID + "/" + repoName
}

func (r *Registry) Add(tenantID, repoName string, o *Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byRepo[registryKey(tenantID, repoName)] = o
}

func (r *Registry) Get(tenantID, repoName string) (*Orchestrator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.byRepo[registryKey(tenantID, repoName)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownRepository, tenantID, repoName)
	}

	return o, nil
}

// Repos lists the governed tenant/repo keys in stable order.
func (r *Registry) Repos() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	repos := make([]string, 0, len(r.byRepo))
	for key := range r.byRepo {
		repos = append(repos, key)
	}
	sort.Strings(repos)

	return repos
}
