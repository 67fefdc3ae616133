package request

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/permitops/gitgovern/pkg/change"
	"github.com/permitops/gitgovern/pkg/mutate"
	"github.com/permitops/gitgovern/pkg/provider"
	"github.com/permitops/gitgovern/pkg/store"
	"github.com/permitops/gitgovern/pkg/template"
	"github.com/permitops/gitgovern/pkg/workspace"
)

// Actor identifies who is driving a transition and which groups they
// belong to.
type Actor struct {
	ID     string
	Groups []string
}

// Orchestrator drives a request's lifecycle against one governed
// repository: branch, commit, pull request, and the status state
// machine. Every transition holds only while the request is Pending,
// enforced by compare-and-swap on the stored status.
type Orchestrator struct {
	store    store.Store
	reviewer Reviewer
	ws       *workspace.RepoWorkspace
	repoURL  string

	// mergeOnApproval merges the pull request as part of approval;
	// otherwise approval is recorded and merging stays manual.
	mergeOnApproval bool
}

func NewOrchestrator(s store.Store, reviewer Reviewer, ws *workspace.RepoWorkspace, repoURL string, mergeOnApproval bool) *Orchestrator {
	return &Orchestrator{
		store:           s,
		reviewer:        reviewer,
		ws:              ws,
		repoURL:         repoURL,
		mergeOnApproval: mergeOnApproval,
	}
}

type CreateParams struct {
	Actor            Actor
	Justification    string
	AllowedApprovers []string
	Submissions      []change.Submission
}

type UpdateParams struct {
	Submissions   []change.Submission
	Justification string

	// ResetToDefaultFirst discards the previously proposed diff
	// before recommitting.
	ResetToDefaultFirst bool
}

// Create renders the request's changes, pushes them to an isolated
// branch and opens the pull request.
func (o *Orchestrator) Create(ctx context.Context, params *CreateParams) (*Request, error) {
	r := &Request{
		ID:               uuid.New(),
		TenantID:         o.ws.TenantID(),
		RepoName:         o.ws.RepoName(),
		Status:           StatusRunning,
		CreatedBy:        params.Actor.ID,
		AllowedApprovers: params.AllowedApprovers,
		Justification:    params.Justification,
	}
	if err := o.store.Requests().Create(ctx, r); err != nil {
		return nil, err
	}

	review, err := o.pushAndReview(ctx, r, params.Submissions, params.Justification, false)
	if err != nil {
		o.settle(ctx, r.ID, StatusFailed)
		return nil, err
	}

	r.PullRequestID = review.ID
	r.PullRequestURL = review.URL
	r.Status = StatusPending
	if err := o.store.Requests().Update(ctx, r); err != nil {
		return nil, err
	}

	return r, nil
}

// Update recommits a pending request's proposed diff. Only the
// creator or an allowed approver may update, and only while Pending.
func (o *Orchestrator) Update(ctx context.Context, requestID uuid.UUID, actor Actor, params *UpdateParams) (*Request, error) {
	r, err := o.store.Requests().Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actor.ID != r.CreatedBy && !r.ActorIsApprover(actor.Groups) {
		return nil, fmt.Errorf("%w: %s may not update request %s", ErrUnauthorized, actor.ID, r.ID)
	}

	if err := o.claim(ctx, r); err != nil {
		return nil, err
	}

	if params.Justification != "" {
		r.Justification = params.Justification
	}

	review, err := o.pushAndReview(ctx, r, params.Submissions, r.Justification, params.ResetToDefaultFirst)
	if err != nil {
		o.settle(ctx, r.ID, StatusFailed)
		return nil, err
	}

	r.PullRequestID = review.ID
	r.PullRequestURL = review.URL
	r.Status = StatusPending

	if err := o.store.Requests().Update(ctx, r); err != nil {
		return nil, err
	}

	return r, nil
}

// Approve records an approval. When the repo merges on approval and
// the pull request is mergeable it is merged and the branch deleted.
// A pull request already merged out of band only records the approver;
// one closed without merging expires the request.
func (o *Orchestrator) Approve(ctx context.Context, requestID uuid.UUID, actor Actor) (*Request, error) {
	r, err := o.store.Requests().Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !r.ActorIsApprover(actor.Groups) {
		return nil, fmt.Errorf("%w: %s may not approve request %s", ErrUnauthorized, actor.ID, r.ID)
	}

	if err := o.claim(ctx, r); err != nil {
		return nil, err
	}

	review, err := o.reviewer.GetReview(ctx, o.repoURL, r.PullRequestID)
	if err != nil {
		o.settle(ctx, r.ID, StatusPending)
		return nil, err
	}

	switch {
	case review.Merged:
		r.ApprovedBy = actor.ID
		r.Status = StatusApproved
		o.teardownBranch(ctx, r)
	case review.Closed:
		r.Status = StatusExpired
	case o.mergeOnApproval && review.Mergeable:
		if _, err := o.reviewer.MergeReview(ctx, o.repoURL, r.PullRequestID); err != nil {
			o.settle(ctx, r.ID, StatusPending)
			return nil, err
		}
		o.teardownBranch(ctx, r)
		if err := o.ws.CloneOrPull(ctx); err != nil {
			slog.Warn("failed to refresh default clone after merge", "error", err)
		}
		r.ApprovedBy = actor.ID
		r.Status = StatusApproved
	default:
		r.ApprovedBy = actor.ID
		r.Status = StatusApproved
	}

	if err := o.store.Requests().Update(ctx, r); err != nil {
		return nil, err
	}

	return r, nil
}

// Reject closes the pull request and deletes the branch. Only the
// creator or an allowed approver may reject, and only while Pending.
func (o *Orchestrator) Reject(ctx context.Context, requestID uuid.UUID, actor Actor) (*Request, error) {
	r, err := o.store.Requests().Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actor.ID != r.CreatedBy && !r.ActorIsApprover(actor.Groups) {
		return nil, fmt.Errorf("%w: %s may not reject request %s", ErrUnauthorized, actor.ID, r.ID)
	}

	if err := o.claim(ctx, r); err != nil {
		return nil, err
	}

	if err := o.reviewer.CloseReview(ctx, o.repoURL, r.PullRequestID); err != nil {
		o.settle(ctx, r.ID, StatusPending)
		return nil, err
	}
	o.teardownBranch(ctx, r)

	r.Status = StatusRejected
	if err := o.store.Requests().Update(ctx, r); err != nil {
		return nil, err
	}

	return r, nil
}

// claim moves Pending to Running, closing the check-then-act window:
// exactly one caller wins the swap.
func (o *Orchestrator) claim(ctx context.Context, r *Request) error {
	ok, err := o.store.Requests().CompareAndSwapStatus(ctx, r.ID, StatusPending, StatusRunning)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: request %s is not pending", ErrUnauthorized, r.ID)
	}
	r.Status = StatusRunning

	return nil
}

func (o *Orchestrator) settle(ctx context.Context, id uuid.UUID, status Status) {
	if ok, err := o.store.Requests().CompareAndSwapStatus(ctx, id, StatusRunning, status); err != nil || !ok {
		slog.Warn("failed to settle request status", "requestID", id, "status", status, "error", err)
	}
}

func (o *Orchestrator) teardownBranch(ctx context.Context, r *Request) {
	if err := o.ws.DeleteRequestBranch(ctx, r.ID.String(), r.CreatedBy); err != nil {
		slog.Warn("failed to delete request branch", "requestID", r.ID, "error", err)
	}
}

func (o *Orchestrator) pushAndReview(ctx context.Context, r *Request, subs []change.Submission, justification string, reset bool) (*Review, error) {
	edits, err := o.renderEdits(ctx, subs)
	if err != nil {
		return nil, err
	}

	wt, err := o.ws.OpenRequestWorktree(ctx, r.ID.String(), r.CreatedBy)
	if err != nil {
		return nil, err
	}

	if _, err := wt.CommitAndPush(ctx, edits, r.CreatedBy, workspace.CommitOptions{
		ResetToDefaultFirst: reset,
		Notes:               justification,
	}); err != nil {
		return nil, err
	}

	defaultBranch, err := o.ws.DefaultBranch(ctx)
	if err != nil {
		return nil, err
	}

	spec := &ReviewSpec{
		RepoURL:     o.repoURL,
		HeadBranch:  wt.BranchName(),
		BaseBranch:  defaultBranch.Short(),
		Title:       fmt.Sprintf("Self-service request by %s", r.CreatedBy),
		Description: reviewDescription(r),
	}

	if r.PullRequestID == 0 {
		return o.reviewer.CreateReview(ctx, spec)
	}

	return o.reviewer.UpdateReview(ctx, o.repoURL, r.PullRequestID, spec.Description)
}

// renderEdits runs the full merge pipeline: validate and explode the
// submissions, merge renders, mutate the affected templates and
// serialize them back to file bodies.
func (o *Orchestrator) renderEdits(ctx context.Context, subs []change.Submission) ([]workspace.FileEdit, error) {
	types := map[uuid.UUID]*change.ChangeType{}
	defs := map[uuid.UUID]*provider.Definition{}
	for i := range subs {
		sub := &subs[i]
		if _, ok := types[sub.ChangeTypeID]; !ok {
			ct, err := o.store.ChangeTypes().Get(ctx, sub.ChangeTypeID)
			if err != nil {
				return nil, fmt.Errorf("change type %s: %w", sub.ChangeTypeID, err)
			}
			types[sub.ChangeTypeID] = ct
		}
		for _, defID := range sub.ProviderDefinitionIDs {
			if _, ok := defs[defID]; !ok {
				def, err := o.store.ProviderDefinitions().Get(ctx, defID)
				if err != nil {
					return nil, fmt.Errorf("provider definition %s: %w", defID, err)
				}
				defs[defID] = def
			}
		}
	}

	merged, err := change.Merge(subs, types, defs)
	if err != nil {
		return nil, err
	}

	byTemplate := map[uuid.UUID][]change.Enriched{}
	for _, enriched := range merged {
		byTemplate[enriched.TemplateID] = append(byTemplate[enriched.TemplateID], enriched)
	}

	var edits []workspace.FileEdit
	for templateID, changes := range byTemplate {
		tpl, err := o.store.Templates().Get(ctx, templateID)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", templateID, err)
		}

		associated, err := o.store.TemplateRefs().ListByTemplate(ctx, templateID)
		if err != nil {
			return nil, err
		}

		for i := range changes {
			ch := &changes[i]
			targeted := make([]provider.Definition, 0, len(ch.ProviderDefinitionIDs))
			for _, defID := range ch.ProviderDefinitionIDs {
				targeted = append(targeted, *defs[defID])
			}
			if err := mutate.Apply(tpl, ch, targeted, len(associated)); err != nil {
				return nil, err
			}
		}

		body, err := template.Marshal(tpl)
		if err != nil {
			return nil, err
		}
		edits = append(edits, workspace.FileEdit{Path: tpl.FilePath, Body: body})
	}

	return edits, nil
}

func reviewDescription(r *Request) string {
	return fmt.Sprintf(`<table>
  <tr>
    <td><strong>Requester</strong></td>
    <td>%s</td>
  </tr>
  <tr>
    <td><strong>Repository</strong></td>
    <td>%s</td>
  </tr>
  <tr>
    <td><strong>Request ID</strong></td>
    <td>%s</td>
  </tr>
  <tr>
    <td><strong>Justification</strong></td>
    <td>%s</td>
  </tr>
</table>`, r.CreatedBy, r.RepoName, r.ID, r.Justification)
}
