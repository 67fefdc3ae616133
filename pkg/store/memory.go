package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/permitops/gitgovern/pkg/change"
	"github.com/permitops/gitgovern/pkg/provider"
	request "github.com/permitops/gitgovern/pkg/request/entity"
	"github.com/permitops/gitgovern/pkg/template"
)

// Memory is an in-process Store for tests and single-node
// development.
type Memory struct {
	mu sync.RWMutex

	templates   map[uuid.UUID]*template.Template
	definitions map[uuid.UUID]*provider.Definition
	refs        map[uuid.UUID]map[uuid.UUID]bool
	changeTypes map[uuid.UUID]*change.ChangeType
	requests    map[uuid.UUID]*request.Request
	watermarks  map[string]*SyncWatermark
}

func NewMemory() *Memory {
	return &Memory{
		templates:   map[uuid.UUID]*template.Template{},
		definitions: map[uuid.UUID]*provider.Definition{},
		refs:        map[uuid.UUID]map[uuid.UUID]bool{},
		changeTypes: map[uuid.UUID]*change.ChangeType{},
		requests:    map[uuid.UUID]*request.Request{},
		watermarks:  map[string]*SyncWatermark{},
	}
}

func (m *Memory) Templates() TemplateStore                     { return (*memoryTemplates)(m) }
func (m *Memory) ProviderDefinitions() ProviderDefinitionStore { return (*memoryDefinitions)(m) }
func (m *Memory) TemplateRefs() RefStore                       { return (*memoryRefs)(m) }
func (m *Memory) ChangeTypes() ChangeTypeStore                 { return (*memoryChangeTypes)(m) }
func (m *Memory) Requests() RequestStore                       { return (*memoryRequests)(m) }
func (m *Memory) Watermarks() WatermarkStore                   { return (*memoryWatermarks)(m) }

type memoryTemplates Memory

func (m *memoryTemplates) Upsert(_ context.Context, t *template.Template) (*template.Template, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.templates {
		if !sameTemplateKey(existing, t) {
			continue
		}
		t.ID = existing.ID
		if templatesEqual(existing, t) {
			return existing, false, nil
		}
		clone := *t
		m.templates[existing.ID] = &clone
		return &clone, true, nil
	}

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	clone := *t
	m.templates[t.ID] = &clone

	return &clone, true, nil
}

func sameTemplateKey(a, b *template.Template) bool {
	return a.TenantID == b.TenantID &&
		a.Provider == b.Provider &&
		a.ResourceType == b.ResourceType &&
		a.ResourceID == b.ResourceID &&
		a.TemplateType == b.TemplateType &&
		a.RepoName == b.RepoName
}

func templatesEqual(a, b *template.Template) bool {
	if a.FilePath != b.FilePath {
		return false
	}
	fpA, errA := change.Fingerprint(a.Content)
	fpB, errB := change.Fingerprint(b.Content)

	return errA == nil && errB == nil && fpA == fpB
}

func (m *memoryTemplates) Get(_ context.Context, id uuid.UUID) (*template.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *t

	return &clone, nil
}

func (m *memoryTemplates) GetByPath(_ context.Context, tenantID, repoName, filePath string) (*template.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.templates {
		if t.TenantID == tenantID && t.RepoName == repoName && t.FilePath == filePath {
			clone := *t
			return &clone, nil
		}
	}

	return nil, ErrNotFound
}

func (m *memoryTemplates) List(_ context.Context, tenantID, repoName string) ([]*template.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*template.Template
	for _, t := range m.templates {
		if t.TenantID == tenantID && t.RepoName == repoName {
			clone := *t
			out = append(out, &clone)
		}
	}

	return out, nil
}

func (m *memoryTemplates) DeleteByPath(_ context.Context, tenantID, repoName, filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, t := range m.templates {
		if t.TenantID == tenantID && t.RepoName == repoName && t.FilePath == filePath {
			delete(m.templates, id)
			delete(m.refs, id)
			return nil
		}
	}

	return ErrNotFound
}

type memoryDefinitions Memory

func (m *memoryDefinitions) Upsert(_ context.Context, d *provider.Definition) (*provider.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.definitions {
		if existing.TenantID == d.TenantID && existing.Provider == d.Provider && existing.Identifier == d.Identifier {
			d.ID = existing.ID
			clone := *d
			m.definitions[existing.ID] = &clone
			return &clone, nil
		}
	}

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	clone := *d
	m.definitions[d.ID] = &clone

	return &clone, nil
}

func (m *memoryDefinitions) Get(_ context.Context, id uuid.UUID) (*provider.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.definitions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *d

	return &clone, nil
}

func (m *memoryDefinitions) List(_ context.Context, tenantID string) ([]*provider.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*provider.Definition
	for _, d := range m.definitions {
		if d.TenantID == tenantID {
			clone := *d
			out = append(out, &clone)
		}
	}

	return out, nil
}

func (m *memoryDefinitions) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.definitions, id)
	for templateID := range m.refs {
		delete(m.refs[templateID], id)
	}

	return nil
}

type memoryRefs Memory

func (m *memoryRefs) ListByTemplate(_ context.Context, templateID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []uuid.UUID
	for id := range m.refs[templateID] {
		out = append(out, id)
	}

	return out, nil
}

func (m *memoryRefs) Add(_ context.Context, templateID uuid.UUID, definitionIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.refs[templateID]
	if !ok {
		set = map[uuid.UUID]bool{}
		m.refs[templateID] = set
	}
	for _, id := range definitionIDs {
		set[id] = true
	}

	return nil
}

func (m *memoryRefs) Remove(_ context.Context, templateID uuid.UUID, definitionIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range definitionIDs {
		delete(m.refs[templateID], id)
	}

	return nil
}

func (m *memoryRefs) DeleteByTemplate(_ context.Context, templateID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.refs, templateID)

	return nil
}

type memoryChangeTypes Memory

func (m *memoryChangeTypes) Get(_ context.Context, id uuid.UUID) (*change.ChangeType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ct, ok := m.changeTypes[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *ct

	return &clone, nil
}

func (m *memoryChangeTypes) List(_ context.Context, tenantID string) ([]*change.ChangeType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*change.ChangeType
	for _, ct := range m.changeTypes {
		if ct.TenantID == tenantID {
			clone := *ct
			out = append(out, &clone)
		}
	}

	return out, nil
}

func (m *memoryChangeTypes) Upsert(_ context.Context, ct *change.ChangeType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ct.ID == uuid.Nil {
		ct.ID = uuid.New()
	}
	clone := *ct
	m.changeTypes[ct.ID] = &clone

	return nil
}

type memoryRequests Memory

func (m *memoryRequests) Create(_ context.Context, r *request.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	clone := *r
	m.requests[r.ID] = &clone

	return nil
}

func (m *memoryRequests) Get(_ context.Context, id uuid.UUID) (*request.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r

	return &clone, nil
}

func (m *memoryRequests) Update(_ context.Context, r *request.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[r.ID]; !ok {
		return ErrNotFound
	}
	r.UpdatedAt = time.Now()
	clone := *r
	m.requests[r.ID] = &clone

	return nil
}

func (m *memoryRequests) CompareAndSwapStatus(_ context.Context, id uuid.UUID, from, to request.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = time.Now()

	return true, nil
}

type memoryWatermarks Memory

func (m *memoryWatermarks) Get(_ context.Context, tenantID, repoName string) (*SyncWatermark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.watermarks[tenantID+"/"+repoName]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *w

	return &clone, nil
}

func (m *memoryWatermarks) Set(_ context.Context, w *SyncWatermark) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *w
	m.watermarks[w.TenantID+"/"+w.RepoName] = &clone

	return nil
}
