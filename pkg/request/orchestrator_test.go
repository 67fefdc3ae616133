package request_test

import (
	"context"
	"net/url"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permitops/gitgovern/internal/gittest"
	"github.com/permitops/gitgovern/internal/gitx"
	"github.com/permitops/gitgovern/pkg/change"
	"github.com/permitops/gitgovern/pkg/provider"
	"github.com/permitops/gitgovern/pkg/request"
	"github.com/permitops/gitgovern/pkg/request/reviewer"
	"github.com/permitops/gitgovern/pkg/store"
	"github.com/permitops/gitgovern/pkg/template"
	"github.com/permitops/gitgovern/pkg/workspace"
)

const roleBody = `template_type: NOQ::AWS::IAM::Role
identifier: engineer
included_accounts:
  - "*"
properties:
  role_name: engineer
`

type fixture struct {
	remote   string
	store    store.Store
	reviewer *reviewer.Dummy
	ws       *workspace.RepoWorkspace

	template *template.Template
	ct       *change.ChangeType
	defA     *provider.Definition
	defB     *provider.Definition
}

func newFixture(t *testing.T, mergeOnApproval bool) (*fixture, *request.Orchestrator) {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		remote:   gittest.InitRemote(t, map[string]string{"roles/engineer.yaml": roleBody}),
		store:    store.NewMemory(),
		reviewer: reviewer.NewDummy(),
	}

	remoteURL, err := url.Parse(f.remote)
	require.NoError(t, err)
	f.ws = workspace.New(
		workspace.NewStore(t.TempDir()),
		workspace.NewArena(),
		&workspace.StaticToken{},
		"tenant-1",
		"iam-templates",
		remoteURL,
		&gitx.Author{Name: "Self-Service", Email: "self-service@example.invalid"},
	)
	require.NoError(t, f.ws.CloneOrPull(ctx))

	f.defA, err = f.store.ProviderDefinitions().Upsert(ctx, &provider.Definition{
		TenantID: "tenant-1", Provider: "aws", SubType: "account",
		Name: "dev", Identifier: "111111111111",
	})
	require.NoError(t, err)
	f.defB, err = f.store.ProviderDefinitions().Upsert(ctx, &provider.Definition{
		TenantID: "tenant-1", Provider: "aws", SubType: "account",
		Name: "prod", Identifier: "222222222222",
	})
	require.NoError(t, err)

	tpl, err := template.Parse("tenant-1", "iam-templates", "roles/engineer.yaml", []byte(roleBody))
	require.NoError(t, err)
	f.template, _, err = f.store.Templates().Upsert(ctx, tpl)
	require.NoError(t, err)
	require.NoError(t, f.store.TemplateRefs().Add(ctx, f.template.ID, []uuid.UUID{f.defA.ID, f.defB.ID}))

	f.ct = &change.ChangeType{
		TenantID: "tenant-1",
		Name:     "attach-managed-policy",
		Fields: []change.ChangeField{
			{Key: "policy_arn", Type: change.FieldTextBox},
		},
		Template: change.ChangeTypeTemplate{
			Body:      `{"PolicyArn": "{{form.policy_arn}}"}`,
			Attribute: "properties.managed_policies",
			Behavior:  change.BehaviorAppend,
		},
		DefinitionPolicy: change.AllowMultiple,
	}
	require.NoError(t, f.store.ChangeTypes().Upsert(ctx, f.ct))

	return f, request.NewOrchestrator(f.store, f.reviewer, f.ws, f.remote, mergeOnApproval)
}

func (f *fixture) submission(targets ...uuid.UUID) change.Submission {
	return change.Submission{
		ChangeTypeID:          f.ct.ID,
		TemplateID:            f.template.ID,
		Identifier:            "attach-readonly",
		FieldValues:           map[string]any{"policy_arn": "arn:aws:iam::aws:policy/ReadOnlyAccess"},
		ProviderDefinitionIDs: targets,
	}
}

func createParams(f *fixture) *request.CreateParams {
	return &request.CreateParams{
		Actor:            request.Actor{ID: "alice"},
		Justification:    "on-call needs read access",
		AllowedApprovers: []string{"approvers"},
		Submissions:      []change.Submission{f.submission(f.defA.ID, f.defB.ID)},
	}
}

func TestCreateOpensBranchAndReview(t *testing.T) {
	ctx := context.Background()
	f, orch := newFixture(t, false)

	r, err := orch.Create(ctx, createParams(f))
	require.NoError(t, err)

	assert.Equal(t, request.StatusPending, r.Status)
	assert.Equal(t, "alice", r.CreatedBy)
	assert.NotZero(t, r.PullRequestID)
	assert.NotEmpty(t, r.PullRequestURL)

	branchRef := plumbing.NewBranchReferenceName(workspace.RequestBranchPrefix + r.ID.String())
	require.True(t, gittest.HasRef(t, f.remote, branchRef))

	branchFiles := gittest.Files(t, f.remote, branchRef)
	assert.Contains(t, branchFiles["roles/engineer.yaml"], "ReadOnlyAccess")

	// Default branch stays untouched until merge.
	mainFiles := gittest.Files(t, f.remote, plumbing.NewBranchReferenceName(gittest.DefaultBranch))
	assert.NotContains(t, mainFiles["roles/engineer.yaml"], "ReadOnlyAccess")

	// Justification travels as a git note.
	assert.True(t, gittest.HasRef(t, f.remote, plumbing.ReferenceName("refs/notes/self-service")))
}

func TestCreateNarrowsSubsetChanges(t *testing.T) {
	ctx := context.Background()
	f, orch := newFixture(t, false)

	params := createParams(f)
	params.Submissions = []change.Submission{f.submission(f.defA.ID)}

	r, err := orch.Create(ctx, params)
	require.NoError(t, err)

	branchRef := plumbing.NewBranchReferenceName(workspace.RequestBranchPrefix + r.ID.String())
	branchFiles := gittest.Files(t, f.remote, branchRef)
	// One of two associated accounts targeted: the change carries a
	// narrowed inclusion list.
	body := branchFiles["roles/engineer.yaml"]
	assert.Contains(t, body, "managed_policies:")
	assert.Contains(t, body, "- dev")
}

func TestUpdateRejectsUnauthorizedActorWithoutMutating(t *testing.T) {
	ctx := context.Background()
	f, orch := newFixture(t, false)

	r, err := orch.Create(ctx, createParams(f))
	require.NoError(t, err)

	branchRef := plumbing.NewBranchReferenceName(workspace.RequestBranchPrefix + r.ID.String())
	before := gittest.Files(t, f.remote, branchRef)

	_, err = orch.Update(ctx, r.ID, request.Actor{ID: "mallory"}, &request.UpdateParams{
		Submissions: []change.Submission{f.submission(f.defA.ID)},
	})
	require.ErrorIs(t, err, request.ErrUnauthorized)

	// Nothing moved: status still Pending, branch still at the same
	// tree.
	got, err := f.store.Requests().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusPending, got.Status)
	assert.Equal(t, before, gittest.Files(t, f.remote, branchRef))
}

func TestUpdateRecommits(t *testing.T) {
	ctx := context.Background()
	f, orch := newFixture(t, false)

	r, err := orch.Create(ctx, createParams(f))
	require.NoError(t, err)

	sub := f.submission(f.defA.ID, f.defB.ID)
	sub.FieldValues = map[string]any{"policy_arn": "arn:aws:iam::aws:policy/PowerUserAccess"}

	updated, err := orch.Update(ctx, r.ID, request.Actor{ID: "alice"}, &request.UpdateParams{
		Submissions:         []change.Submission{sub},
		ResetToDefaultFirst: true,
	})
	require.NoError(t, err)
	assert.Equal(t, request.StatusPending, updated.Status)

	branchRef := plumbing.NewBranchReferenceName(workspace.RequestBranchPrefix + r.ID.String())
	branchFiles := gittest.Files(t, f.remote, branchRef)
	assert.Contains(t, branchFiles["roles/engineer.yaml"], "PowerUserAccess")
	assert.NotContains(t, branchFiles["roles/engineer.yaml"], "ReadOnlyAccess")
}

func TestApproveMergesWhenConfigured(t *testing.T) {
	ctx := context.Background()
	f, orch := newFixture(t, true)

	r, err := orch.Create(ctx, createParams(f))
	require.NoError(t, err)

	approved, err := orch.Approve(ctx, r.ID, request.Actor{ID: "boss", Groups: []string{"approvers"}})
	require.NoError(t, err)
	assert.Equal(t, request.StatusApproved, approved.Status)
	assert.Equal(t, "boss", approved.ApprovedBy)

	review, err := f.reviewer.GetReview(ctx, f.remote, r.PullRequestID)
	require.NoError(t, err)
	assert.True(t, review.Merged)

	branchRef := plumbing.NewBranchReferenceName(workspace.RequestBranchPrefix + r.ID.String())
	assert.False(t, gittest.HasRef(t, f.remote, branchRef))
}

func TestApproveRecordsOutOfBandMerge(t *testing.T) {
	ctx := context.Background()
	f, orch := newFixture(t, true)

	r, err := orch.Create(ctx, createParams(f))
	require.NoError(t, err)

	// A reviewer merged through the provider UI before approval ran.
	f.reviewer.MarkMerged(r.PullRequestID)

	approved, err := orch.Approve(ctx, r.ID, request.Actor{ID: "boss", Groups: []string{"approvers"}})
	require.NoError(t, err)
	assert.Equal(t, request.StatusApproved, approved.Status)
	assert.Equal(t, "boss", approved.ApprovedBy)
}

func TestApproveExpiresClosedReview(t *testing.T) {
	ctx := context.Background()
	f, orch := newFixture(t, true)

	r, err := orch.Create(ctx, createParams(f))
	require.NoError(t, err)

	require.NoError(t, f.reviewer.CloseReview(ctx, f.remote, r.PullRequestID))

	got, err := orch.Approve(ctx, r.ID, request.Actor{ID: "boss", Groups: []string{"approvers"}})
	require.NoError(t, err)
	assert.Equal(t, request.StatusExpired, got.Status)
}

func TestApproveRequiresApproverGroup(t *testing.T) {
	ctx := context.Background()
	f, orch := newFixture(t, true)

	r, err := orch.Create(ctx, createParams(f))
	require.NoError(t, err)

	// The creator is not an approver by default.
	_, err = orch.Approve(ctx, r.ID, request.Actor{ID: "alice"})
	require.ErrorIs(t, err, request.ErrUnauthorized)

	got, err := f.store.Requests().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusPending, got.Status)
}

func TestRejectClosesReviewAndDeletesBranch(t *testing.T) {
	ctx := context.Background()
	f, orch := newFixture(t, false)

	r, err := orch.Create(ctx, createParams(f))
	require.NoError(t, err)

	rejected, err := orch.Reject(ctx, r.ID, request.Actor{ID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, request.StatusRejected, rejected.Status)

	review, err := f.reviewer.GetReview(ctx, f.remote, r.PullRequestID)
	require.NoError(t, err)
	assert.True(t, review.Closed)

	branchRef := plumbing.NewBranchReferenceName(workspace.RequestBranchPrefix + r.ID.String())
	assert.False(t, gittest.HasRef(t, f.remote, branchRef))

	// A settled request cannot be rejected again.
	_, err = orch.Reject(ctx, r.ID, request.Actor{ID: "alice"})
	require.ErrorIs(t, err, request.ErrUnauthorized)
}
