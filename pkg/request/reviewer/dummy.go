package reviewer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/permitops/gitgovern/pkg/request"
)

// Dummy is an in-memory Reviewer for tests and local development.
type Dummy struct {
	// MergeableByDefault sets the Mergeable flag on new reviews.
	MergeableByDefault bool

	mu      sync.Mutex
	nextID  int64
	reviews map[int64]*request.Review
}

func NewDummy() *Dummy {
	return &Dummy{
		MergeableByDefault: true,
		reviews:            map[int64]*request.Review{},
	}
}

func (d *Dummy) CreateReview(ctx context.Context, spec *request.ReviewSpec) (*request.Review, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	review := &request.Review{
		ID:        d.nextID,
		URL:       fmt.Sprintf("https://git.example.invalid/pulls/%d", d.nextID),
		Mergeable: d.MergeableByDefault,
	}
	d.reviews[review.ID] = review

	copied := *review
	return &copied, nil
}

func (d *Dummy) UpdateReview(ctx context.Context, repoURL string, id int64, description string) (*request.Review, error) {
	return d.GetReview(ctx, repoURL, id)
}

func (d *Dummy) GetReview(ctx context.Context, repoURL string, id int64) (*request.Review, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	review, ok := d.reviews[id]
	if !ok {
		return nil, fmt.Errorf("no review with id %d", id)
	}

	copied := *review
	return &copied, nil
}

func (d *Dummy) MergeReview(ctx context.Context, repoURL string, id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	review, ok := d.reviews[id]
	if !ok {
		return false, fmt.Errorf("no review with id %d", id)
	}
	if review.Closed {
		return false, fmt.Errorf("review %d is closed", id)
	}

	now := time.Now()
	review.Merged = true
	review.MergedAt = &now

	return true, nil
}

func (d *Dummy) CloseReview(ctx context.Context, repoURL string, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	review, ok := d.reviews[id]
	if !ok {
		return fmt.Errorf("no review with id %d", id)
	}

	now := time.Now()
	review.Closed = true
	review.ClosedAt = &now

	return nil
}

// MarkMerged flips a review to merged without going through
// MergeReview, as a reviewer merging through the provider UI would.
func (d *Dummy) MarkMerged(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if review, ok := d.reviews[id]; ok {
		now := time.Now()
		review.Merged = true
		review.MergedAt = &now
	}
}
