package request

import (
	"context"
	"time"
)

// ReviewSpec keys an external pull request by repository, head and
// base branch, plus the text shown to reviewers.
type ReviewSpec struct {
	RepoURL     string
	HeadBranch  string
	BaseBranch  string
	Title       string
	Description string
}

// Review is the provider-neutral view of one pull request.
type Review struct {
	ID        int64
	URL       string
	Merged    bool
	Mergeable bool
	Closed    bool
	MergedAt  *time.Time
	ClosedAt  *time.Time
}

// Reviewer drives pull requests on an external provider.
type Reviewer interface {
	CreateReview(ctx context.Context, spec *ReviewSpec) (*Review, error)
	UpdateReview(ctx context.Context, repoURL string, id int64, description string) (*Review, error)
	GetReview(ctx context.Context, repoURL string, id int64) (*Review, error)
	MergeReview(ctx context.Context, repoURL string, id int64) (bool, error)
	CloseReview(ctx context.Context, repoURL string, id int64) error
}
