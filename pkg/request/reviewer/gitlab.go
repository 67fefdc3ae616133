package reviewer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/permitops/gitgovern/pkg/request"
)

// Gitlab drives merge requests through the GitLab API.
type Gitlab struct {
	Client       *gitlab.Client
	MergeOptions *GitlabMergeOptions
}

type GitlabMergeOptions struct {
	Squash        bool
	CommitMessage string
	DeleteBranch  bool
}

func NewGitlab(client *gitlab.Client, mergeOptions *GitlabMergeOptions) *Gitlab {
	if mergeOptions == nil {
		mergeOptions = &GitlabMergeOptions{DeleteBranch: true}
	}

	return &Gitlab{Client: client, MergeOptions: mergeOptions}
}

func (g *Gitlab) CreateReview(ctx context.Context, spec *request.ReviewSpec) (*request.Review, error) {
	projectID, err := getProjectID(spec.RepoURL)
	if err != nil {
		return nil, err
	}

	mergeRequests, _, err := g.Client.MergeRequests.ListProjectMergeRequests(projectID, &gitlab.ListProjectMergeRequestsOptions{
		State:        gitlab.Ptr("opened"),
		SourceBranch: gitlab.Ptr(spec.HeadBranch),
		TargetBranch: gitlab.Ptr(spec.BaseBranch),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list repository merge requests: %w", err)
	}

	if len(mergeRequests) != 0 {
		return g.GetReview(ctx, spec.RepoURL, int64(mergeRequests[0].IID))
	}

	mr, response, err := g.Client.MergeRequests.CreateMergeRequest(projectID, &gitlab.CreateMergeRequestOptions{
		SourceBranch: gitlab.Ptr(spec.HeadBranch),
		TargetBranch: gitlab.Ptr(spec.BaseBranch),
		Title:        gitlab.Ptr(spec.Title),
		Description:  gitlab.Ptr(spec.Description),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create merge request: %w", err)
	}
	if response.StatusCode != 201 {
		return nil, fmt.Errorf("did not receive 201 CREATED status code, got %d", response.StatusCode)
	}

	return gitlabReview(mr), nil
}

func (g *Gitlab) UpdateReview(ctx context.Context, repoURL string, id int64, description string) (*request.Review, error) {
	projectID, err := getProjectID(repoURL)
	if err != nil {
		return nil, err
	}

	mr, _, err := g.Client.MergeRequests.UpdateMergeRequest(projectID, int(id), &gitlab.UpdateMergeRequestOptions{
		Description: gitlab.Ptr(description),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to update merge request: %w", err)
	}

	return gitlabReview(mr), nil
}

func (g *Gitlab) GetReview(ctx context.Context, repoURL string, id int64) (*request.Review, error) {
	projectID, err := getProjectID(repoURL)
	if err != nil {
		return nil, err
	}

	mr, _, err := g.Client.MergeRequests.GetMergeRequest(projectID, int(id), &gitlab.GetMergeRequestsOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get merge request: %w", err)
	}

	return gitlabReview(mr), nil
}

func (g *Gitlab) MergeReview(ctx context.Context, repoURL string, id int64) (bool, error) {
	projectID, err := getProjectID(repoURL)
	if err != nil {
		return false, err
	}

	acceptOptions := &gitlab.AcceptMergeRequestOptions{
		Squash:                   gitlab.Ptr(g.MergeOptions.Squash),
		ShouldRemoveSourceBranch: gitlab.Ptr(g.MergeOptions.DeleteBranch),
	}
	if g.MergeOptions.CommitMessage != "" {
		if g.MergeOptions.Squash {
			acceptOptions.SquashCommitMessage = gitlab.Ptr(g.MergeOptions.CommitMessage)
		} else {
			acceptOptions.MergeCommitMessage = gitlab.Ptr(g.MergeOptions.CommitMessage)
		}
	}

	retries := 0
	retryLimit := 1
Merge:
	mergeRequest, response, err := g.Client.MergeRequests.AcceptMergeRequest(projectID, int(id), acceptOptions, gitlab.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to merge merge request: %w", err)
	}
	if response.StatusCode != 200 {
		// GitLab returns 405 while the merge status check is still
		// running.
		if response.StatusCode == 405 && retries < retryLimit {
			time.Sleep(1 * time.Second)
			retries++
			goto Merge
		}
		return false, fmt.Errorf("did not receive 200 OK status code, got %d", response.StatusCode)
	}

	return mergeRequest.State == "merged", nil
}

func (g *Gitlab) CloseReview(ctx context.Context, repoURL string, id int64) error {
	projectID, err := getProjectID(repoURL)
	if err != nil {
		return err
	}

	_, _, err = g.Client.MergeRequests.UpdateMergeRequest(projectID, int(id), &gitlab.UpdateMergeRequestOptions{
		StateEvent: gitlab.Ptr("close"),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to close merge request: %w", err)
	}

	return nil
}

func gitlabReview(mr *gitlab.MergeRequest) *request.Review {
	return &request.Review{
		ID:        int64(mr.IID),
		URL:       mr.WebURL,
		Merged:    mr.State == "merged",
		Mergeable: mr.DetailedMergeStatus == "mergeable",
		Closed:    mr.State == "closed",
		MergedAt:  mr.MergedAt,
		ClosedAt:  mr.ClosedAt,
	}
}

func getProjectID(repositoryURL string) (string, error) {
	parsed, err := url.Parse(repositoryURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse repository URL: %w", err)
	}

	projectID := strings.TrimSuffix(strings.Trim(parsed.Path, "/"), ".git")

	return projectID, nil
}
