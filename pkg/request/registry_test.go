package request_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permitops/gitgovern/pkg/request"
)

func TestRegistryResolvesGovernedRepos(t *testing.T) {
	_, orchestrator := newFixture(t, false)

	registry := request.NewRegistry()
	registry.Add("tenant-1", "iam-templates", orchestrator)

	got, err := registry.Get("tenant-1", "iam-templates")
	require.NoError(t, err)
	assert.Same(t, orchestrator, got)

	_, err = registry.Get("tenant-1", "other-repo")
	require.ErrorIs(t, err, request.ErrUnknownRepository)
	assert.Contains(t, err.Error(), "tenant-1/other-repo")
}

func TestRegistryReposAreSorted(t *testing.T) {
	registry := request.NewRegistry()
	registry.Add("tenant-2", "zeta", nil)
	registry.Add("tenant-1", "alpha", nil)
	registry.Add("tenant-1", "beta", nil)

	assert.Equal(t, []string{"tenant-1/alpha", "tenant-1/beta", "tenant-2/zeta"}, registry.Repos())
}
