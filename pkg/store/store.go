// Package store defines the transactional persistence surface the
// engine consumes. The storage engine itself is a collaborator; the
// engine only needs entity CRUD plus chunked bulk writes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/permitops/gitgovern/pkg/change"
	"github.com/permitops/gitgovern/pkg/provider"
	request "github.com/permitops/gitgovern/pkg/request/entity"
	"github.com/permitops/gitgovern/pkg/template"
)

var ErrNotFound = errors.New("record not found")

// BulkChunkSize bounds a single bulk write transaction. Chunks within
// one sync run are not atomic with each other; the watermark write is
// the run's commit point.
const BulkChunkSize = 40

// Chunk splits items into slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = BulkChunkSize
	}

	var chunks [][]T
	for len(items) > size {
		chunks = append(chunks, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		chunks = append(chunks, items)
	}

	return chunks
}

// SyncWatermark records the last commit a tenant repo was indexed to.
// Written only after a run succeeds, so a crash mid-sync is retried.
type SyncWatermark struct {
	TenantID  string
	RepoName  string
	CommitSHA string
	SyncedAt  time.Time
}

type Store interface {
	Templates() TemplateStore
	ProviderDefinitions() ProviderDefinitionStore
	TemplateRefs() RefStore
	ChangeTypes() ChangeTypeStore
	Requests() RequestStore
	Watermarks() WatermarkStore
}

type TemplateStore interface {
	// Upsert writes the template keyed by its uniqueness tuple,
	// assigning an ID when new. The bool reports whether a row
	// actually changed, letting re-runs of the same commit range stay
	// idempotent.
	Upsert(ctx context.Context, t *template.Template) (*template.Template, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*template.Template, error)
	GetByPath(ctx context.Context, tenantID, repoName, filePath string) (*template.Template, error)
	List(ctx context.Context, tenantID, repoName string) ([]*template.Template, error)
	DeleteByPath(ctx context.Context, tenantID, repoName, filePath string) error
}

type ProviderDefinitionStore interface {
	Upsert(ctx context.Context, d *provider.Definition) (*provider.Definition, error)
	Get(ctx context.Context, id uuid.UUID) (*provider.Definition, error)
	List(ctx context.Context, tenantID string) ([]*provider.Definition, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RefStore is the many-to-many join between templates and the
// provider definitions they apply to.
type RefStore interface {
	ListByTemplate(ctx context.Context, templateID uuid.UUID) ([]uuid.UUID, error)
	Add(ctx context.Context, templateID uuid.UUID, definitionIDs []uuid.UUID) error
	Remove(ctx context.Context, templateID uuid.UUID, definitionIDs []uuid.UUID) error
	DeleteByTemplate(ctx context.Context, templateID uuid.UUID) error
}

type ChangeTypeStore interface {
	Get(ctx context.Context, id uuid.UUID) (*change.ChangeType, error)
	List(ctx context.Context, tenantID string) ([]*change.ChangeType, error)
	Upsert(ctx context.Context, ct *change.ChangeType) error
}

type RequestStore interface {
	Create(ctx context.Context, r *request.Request) error
	Get(ctx context.Context, id uuid.UUID) (*request.Request, error)
	Update(ctx context.Context, r *request.Request) error
	// CompareAndSwapStatus atomically moves a request from one status
	// to another, reporting false when the precondition failed.
	CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to request.Status) (bool, error)
}

type WatermarkStore interface {
	Get(ctx context.Context, tenantID, repoName string) (*SyncWatermark, error)
	Set(ctx context.Context, w *SyncWatermark) error
}
