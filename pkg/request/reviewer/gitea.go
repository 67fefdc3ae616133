package reviewer

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"code.gitea.io/sdk/gitea"

	"github.com/permitops/gitgovern/pkg/request"
)

// Gitea drives pull requests through the Gitea API.
type Gitea struct {
	client     *gitea.Client
	mergeStyle gitea.MergeStyle
}

type GiteaOptions struct {
	Host        string
	Username    string
	AccessToken string
	// MergeStyle defaults to squash.
	MergeStyle gitea.MergeStyle
}

func NewGitea(opts *GiteaOptions) (*Gitea, error) {
	client, err := gitea.NewClient(opts.Host, gitea.SetBasicAuth(opts.Username, opts.AccessToken))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gitea client: %w", err)
	}

	style := opts.MergeStyle
	if style == "" {
		style = gitea.MergeStyleSquash
	}

	return &Gitea{client: client, mergeStyle: style}, nil
}

func (g *Gitea) CreateReview(ctx context.Context, spec *request.ReviewSpec) (*request.Review, error) {
	owner, repo, err := splitOwnerRepo(spec.RepoURL)
	if err != nil {
		return nil, err
	}

	// A retried create reuses the open pull request for the same
	// head and base instead of erroring.
	for page := 1; ; page++ {
		pullRequests, _, err := g.client.ListRepoPullRequests(owner, repo, gitea.ListPullRequestsOptions{
			State: gitea.StateOpen,
			ListOptions: gitea.ListOptions{
				Page:     page,
				PageSize: 100,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list repository pull requests: %w", err)
		}
		if len(pullRequests) == 0 {
			break
		}
		for _, pr := range pullRequests {
			if pr.Head.Name == spec.HeadBranch && pr.Base.Name == spec.BaseBranch {
				return giteaReview(pr), nil
			}
		}
	}

	pr, response, err := g.client.CreatePullRequest(owner, repo, gitea.CreatePullRequestOption{
		Head:  spec.HeadBranch,
		Base:  spec.BaseBranch,
		Title: spec.Title,
		Body:  spec.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}
	if response.StatusCode != 201 {
		return nil, fmt.Errorf("did not receive 201 CREATED status code, got %d", response.StatusCode)
	}

	return giteaReview(pr), nil
}

func (g *Gitea) UpdateReview(ctx context.Context, repoURL string, id int64, description string) (*request.Review, error) {
	owner, repo, err := splitOwnerRepo(repoURL)
	if err != nil {
		return nil, err
	}

	pr, _, err := g.client.EditPullRequest(owner, repo, id, gitea.EditPullRequestOption{Body: description})
	if err != nil {
		return nil, fmt.Errorf("failed to edit pull request: %w", err)
	}

	return giteaReview(pr), nil
}

func (g *Gitea) GetReview(ctx context.Context, repoURL string, id int64) (*request.Review, error) {
	owner, repo, err := splitOwnerRepo(repoURL)
	if err != nil {
		return nil, err
	}

	pr, _, err := g.client.GetPullRequest(owner, repo, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request: %w", err)
	}

	return giteaReview(pr), nil
}

func (g *Gitea) MergeReview(ctx context.Context, repoURL string, id int64) (bool, error) {
	owner, repo, err := splitOwnerRepo(repoURL)
	if err != nil {
		return false, err
	}

	merged, response, err := g.client.MergePullRequest(owner, repo, id, gitea.MergePullRequestOption{
		Style: g.mergeStyle,
	})
	if err != nil {
		return false, fmt.Errorf("failed to merge pull request: %w", err)
	}
	if response.StatusCode != 200 {
		return false, fmt.Errorf("did not receive 200 OK status code, got %d", response.StatusCode)
	}

	return merged, nil
}

func (g *Gitea) CloseReview(ctx context.Context, repoURL string, id int64) error {
	owner, repo, err := splitOwnerRepo(repoURL)
	if err != nil {
		return err
	}

	state := gitea.StateClosed
	if _, _, err := g.client.EditPullRequest(owner, repo, id, gitea.EditPullRequestOption{State: &state}); err != nil {
		return fmt.Errorf("failed to close pull request: %w", err)
	}

	return nil
}

// A merged Gitea pull request reports state closed, so Closed is
// reserved for closed-without-merge.
func giteaReview(pr *gitea.PullRequest) *request.Review {
	return &request.Review{
		ID:        pr.Index,
		URL:       pr.URL,
		Merged:    pr.HasMerged,
		Mergeable: pr.Mergeable,
		Closed:    pr.State == gitea.StateClosed && !pr.HasMerged,
		MergedAt:  pr.Merged,
		ClosedAt:  pr.Closed,
	}
}

func splitOwnerRepo(repositoryURL string) (string, string, error) {
	parsed, err := url.Parse(repositoryURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse repository URL: %w", err)
	}

	path := strings.TrimSuffix(strings.Trim(parsed.Path, "/"), ".git")
	segments := strings.Split(path, "/")
	if len(segments) < 2 {
		return "", "", fmt.Errorf("repository URL %q has no owner/repo path", repositoryURL)
	}
	ownerRepo := segments[len(segments)-2:]

	return ownerRepo[0], ownerRepo[1], nil
}
