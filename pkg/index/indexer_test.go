package index_test

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permitops/gitgovern/internal/gittest"
	"github.com/permitops/gitgovern/internal/gitx"
	"github.com/permitops/gitgovern/pkg/index"
	"github.com/permitops/gitgovern/pkg/provider"
	"github.com/permitops/gitgovern/pkg/store"
	"github.com/permitops/gitgovern/pkg/workspace"
)

const engineerBody = `template_type: NOQ::AWS::IAM::Role
identifier: engineer
included_accounts:
  - "*"
properties:
  role_name: engineer
`

const analystBody = `template_type: NOQ::AWS::IAM::Role
identifier: analyst
included_accounts:
  - dev
properties:
  role_name: analyst
`

const configBody = `template_type: NOQ::Core::Config
aws:
  accounts:
    - account_id: "111111111111"
      account_name: dev
`

func newFixture(t *testing.T, files map[string]string) (store.Store, *workspace.RepoWorkspace, string) {
	t.Helper()
	ctx := context.Background()

	remote := gittest.InitRemote(t, files)
	remoteURL, err := url.Parse(remote)
	require.NoError(t, err)

	ws := workspace.New(
		workspace.NewStore(t.TempDir()),
		workspace.NewArena(),
		&workspace.StaticToken{},
		"tenant-1",
		"iam-templates",
		remoteURL,
		&gitx.Author{Name: "Self-Service", Email: "self-service@example.invalid"},
	)
	require.NoError(t, ws.CloneOrPull(ctx))

	s := store.NewMemory()
	_, err = s.ProviderDefinitions().Upsert(ctx, &provider.Definition{
		TenantID: "tenant-1", Provider: "aws", SubType: "account",
		Name: "dev", Identifier: "111111111111",
	})
	require.NoError(t, err)
	_, err = s.ProviderDefinitions().Upsert(ctx, &provider.Definition{
		TenantID: "tenant-1", Provider: "aws", SubType: "account",
		Name: "prod", Identifier: "222222222222",
	})
	require.NoError(t, err)

	return s, ws, remote
}

func TestFullIndex(t *testing.T) {
	ctx := context.Background()
	s, ws, _ := newFixture(t, map[string]string{
		"iambic_config.yaml":  configBody,
		"roles/engineer.yaml": engineerBody,
		"roles/analyst.yaml":  analystBody,
		"README.md":           "docs",
	})

	ix := index.New(s)
	require.NoError(t, ix.FullIndex(ctx, ws))

	templates, err := s.Templates().List(ctx, "tenant-1", "iam-templates")
	require.NoError(t, err)
	require.Len(t, templates, 2)

	engineer, err := s.Templates().GetByPath(ctx, "tenant-1", "iam-templates", "roles/engineer.yaml")
	require.NoError(t, err)
	refs, err := s.TemplateRefs().ListByTemplate(ctx, engineer.ID)
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	analyst, err := s.Templates().GetByPath(ctx, "tenant-1", "iam-templates", "roles/analyst.yaml")
	require.NoError(t, err)
	refs, err = s.TemplateRefs().ListByTemplate(ctx, analyst.ID)
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	head, err := ws.HeadSHA(ctx)
	require.NoError(t, err)
	watermark, err := s.Watermarks().Get(ctx, "tenant-1", "iam-templates")
	require.NoError(t, err)
	assert.Equal(t, head, watermark.CommitSHA)
}

func TestFullIndexIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, ws, _ := newFixture(t, map[string]string{
		"iambic_config.yaml":  configBody,
		"roles/engineer.yaml": engineerBody,
	})

	ix := index.New(s)
	require.NoError(t, ix.FullIndex(ctx, ws))

	first, err := s.Templates().GetByPath(ctx, "tenant-1", "iam-templates", "roles/engineer.yaml")
	require.NoError(t, err)

	require.NoError(t, ix.FullIndex(ctx, ws))

	second, err := s.Templates().GetByPath(ctx, "tenant-1", "iam-templates", "roles/engineer.yaml")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	templates, err := s.Templates().List(ctx, "tenant-1", "iam-templates")
	require.NoError(t, err)
	assert.Len(t, templates, 1)
}

func TestIncrementalIndex(t *testing.T) {
	ctx := context.Background()
	s, ws, remote := newFixture(t, map[string]string{
		"iambic_config.yaml":  configBody,
		"roles/engineer.yaml": engineerBody,
		"roles/analyst.yaml":  analystBody,
	})

	ix := index.New(s)
	require.NoError(t, ix.FullIndex(ctx, ws))

	analyst, err := s.Templates().GetByPath(ctx, "tenant-1", "iam-templates", "roles/analyst.yaml")
	require.NoError(t, err)

	// One template modified, one deleted.
	sha := gittest.Commit(t, remote, map[string]string{
		"roles/engineer.yaml": engineerBody + "  description: updated\n",
		"roles/analyst.yaml":  "",
	}, "tighten roles")
	require.NoError(t, ws.CloneOrPull(ctx))

	require.NoError(t, ix.IncrementalIndex(ctx, ws, "", ""))

	// The deletion cascades through its refs.
	_, err = s.Templates().GetByPath(ctx, "tenant-1", "iam-templates", "roles/analyst.yaml")
	require.ErrorIs(t, err, store.ErrNotFound)
	refs, err := s.TemplateRefs().ListByTemplate(ctx, analyst.ID)
	require.NoError(t, err)
	assert.Empty(t, refs)

	engineer, err := s.Templates().GetByPath(ctx, "tenant-1", "iam-templates", "roles/engineer.yaml")
	require.NoError(t, err)
	assert.Equal(t, "updated", engineer.Content["properties"].(map[string]any)["description"])

	watermark, err := s.Watermarks().Get(ctx, "tenant-1", "iam-templates")
	require.NoError(t, err)
	assert.Equal(t, sha, watermark.CommitSHA)
}

func TestIncrementalIndexAtHeadIsNoOp(t *testing.T) {
	ctx := context.Background()
	s, ws, _ := newFixture(t, map[string]string{
		"iambic_config.yaml":  configBody,
		"roles/engineer.yaml": engineerBody,
	})

	ix := index.New(s)
	require.NoError(t, ix.FullIndex(ctx, ws))

	watermark, err := s.Watermarks().Get(ctx, "tenant-1", "iam-templates")
	require.NoError(t, err)

	require.NoError(t, ix.IncrementalIndex(ctx, ws, "", ""))

	after, err := s.Watermarks().Get(ctx, "tenant-1", "iam-templates")
	require.NoError(t, err)
	assert.Equal(t, watermark.SyncedAt, after.SyncedAt)
}

func TestIncrementalIndexSkipsUnsupportedFiles(t *testing.T) {
	ctx := context.Background()
	s, ws, remote := newFixture(t, map[string]string{
		"iambic_config.yaml":  configBody,
		"roles/engineer.yaml": engineerBody,
	})

	ix := index.New(s)
	require.NoError(t, ix.FullIndex(ctx, ws))

	gittest.Commit(t, remote, map[string]string{
		"roles/other.yaml": "template_type: NOQ::Unsupported::Thing\nidentifier: x\n",
	}, "add unsupported template")
	require.NoError(t, ws.CloneOrPull(ctx))

	require.NoError(t, ix.IncrementalIndex(ctx, ws, "", ""))

	templates, err := s.Templates().List(ctx, "tenant-1", "iam-templates")
	require.NoError(t, err)
	assert.Len(t, templates, 1)
}

func TestIncrementalIndexHonoursExplicitToCommit(t *testing.T) {
	ctx := context.Background()
	s, ws, remote := newFixture(t, map[string]string{
		"roles/engineer.yaml": engineerBody,
	})

	idx := index.New(s)
	require.NoError(t, idx.FullIndex(ctx, ws))
	baseSHA, err := ws.HeadSHA(ctx)
	require.NoError(t, err)

	intermediate := `template_type: NOQ::AWS::IAM::Role
identifier: engineer
included_accounts:
  - dev
properties:
  role_name: engineer
`
	midSHA := gittest.Commit(t, remote, map[string]string{
		"roles/engineer.yaml": intermediate,
	}, "narrow engineer to dev")

	head := `template_type: NOQ::AWS::IAM::Role
identifier: engineer
included_accounts:
  - prod
properties:
  role_name: engineer
`
	gittest.Commit(t, remote, map[string]string{
		"roles/engineer.yaml": head,
	}, "move engineer to prod")

	// The checkout sits at head, two commits past the watermark.
	require.NoError(t, ws.CloneOrPull(ctx))

	// Index only up to the intermediate commit: stored content must
	// be that commit's version, not whatever the checkout holds.
	require.NoError(t, idx.IncrementalIndex(ctx, ws, baseSHA, midSHA))

	tpl, err := s.Templates().GetByPath(ctx, "tenant-1", "iam-templates", "roles/engineer.yaml")
	require.NoError(t, err)
	assert.Equal(t, []any{"dev"}, tpl.Content["included_accounts"])

	watermark, err := s.Watermarks().Get(ctx, "tenant-1", "iam-templates")
	require.NoError(t, err)
	assert.Equal(t, midSHA, watermark.CommitSHA)

	// Catching up to head moves the content forward again.
	require.NoError(t, idx.IncrementalIndex(ctx, ws, "", ""))
	tpl, err = s.Templates().GetByPath(ctx, "tenant-1", "iam-templates", "roles/engineer.yaml")
	require.NoError(t, err)
	assert.Equal(t, []any{"prod"}, tpl.Content["included_accounts"])
}

type countingTracker struct {
	total      int
	increments int
	done       bool
}

func (c *countingTracker) Increment(delta int) { c.increments += delta }
func (c *countingTracker) Done()               { c.done = true }

func TestFullIndexReportsProgress(t *testing.T) {
	ctx := context.Background()
	s, ws, _ := newFixture(t, map[string]string{
		"iambic_config.yaml":  configBody,
		"roles/engineer.yaml": engineerBody,
		"roles/analyst.yaml":  analystBody,
	})

	tracker := &countingTracker{}
	idx := index.NewWithProgress(s, func(_ context.Context, total int) index.ProgressTracker {
		tracker.total = total
		return tracker
	})

	require.NoError(t, idx.FullIndex(ctx, ws))

	// iambic_config.yaml is not a template file and must not count.
	assert.Equal(t, 2, tracker.total)
	assert.Equal(t, 2, tracker.increments)
	assert.True(t, tracker.done)
}
