package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/permitops/gitgovern/pkg/change"
	"github.com/permitops/gitgovern/pkg/provider"
	request "github.com/permitops/gitgovern/pkg/request/entity"
	"github.com/permitops/gitgovern/pkg/template"
)

// Postgres implements Store on a pgx connection pool. Schema
// migrations are owned by the deployment, not this package.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Templates() TemplateStore                     { return &pgTemplates{pool: p.pool} }
func (p *Postgres) ProviderDefinitions() ProviderDefinitionStore { return &pgDefinitions{pool: p.pool} }
func (p *Postgres) TemplateRefs() RefStore                       { return &pgRefs{pool: p.pool} }
func (p *Postgres) ChangeTypes() ChangeTypeStore                 { return &pgChangeTypes{pool: p.pool} }
func (p *Postgres) Requests() RequestStore                       { return &pgRequests{pool: p.pool} }
func (p *Postgres) Watermarks() WatermarkStore                   { return &pgWatermarks{pool: p.pool} }

type pgTemplates struct {
	pool *pgxpool.Pool
}

func (s *pgTemplates) Upsert(ctx context.Context, t *template.Template) (*template.Template, bool, error) {
	content, err := json.Marshal(t.Content)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode template content: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO templates (id, tenant_id, repo_name, file_path, template_type, provider, resource_type, resource_id, content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, provider, resource_type, resource_id, template_type, repo_name)
		DO UPDATE SET file_path = EXCLUDED.file_path, content = EXCLUDED.content
		WHERE templates.file_path IS DISTINCT FROM EXCLUDED.file_path
		   OR templates.content IS DISTINCT FROM EXCLUDED.content
		RETURNING id`,
		newID(t.ID), t.TenantID, t.RepoName, t.FilePath, t.TemplateType, t.Provider, t.ResourceType, t.ResourceID, content,
	)

	var id uuid.UUID
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict with no change; fetch the surviving row's ID.
			existing, getErr := s.GetByPath(ctx, t.TenantID, t.RepoName, t.FilePath)
			if getErr != nil {
				return nil, false, getErr
			}
			t.ID = existing.ID
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to upsert template: %w", err)
	}

	t.ID = id

	return t, true, nil
}

func (s *pgTemplates) Get(ctx context.Context, id uuid.UUID) (*template.Template, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, repo_name, file_path, template_type, provider, resource_type, resource_id, content
		FROM templates WHERE id = $1`, id,
	)

	return scanTemplate(row)
}

func (s *pgTemplates) GetByPath(ctx context.Context, tenantID, repoName, filePath string) (*template.Template, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, repo_name, file_path, template_type, provider, resource_type, resource_id, content
		FROM templates
		WHERE tenant_id = $1 AND repo_name = $2 AND file_path = $3`,
		tenantID, repoName, filePath,
	)

	return scanTemplate(row)
}

func (s *pgTemplates) List(ctx context.Context, tenantID, repoName string) ([]*template.Template, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, repo_name, file_path, template_type, provider, resource_type, resource_id, content
		FROM templates
		WHERE tenant_id = $1 AND repo_name = $2`,
		tenantID, repoName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []*template.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	return out, rows.Err()
}

func (s *pgTemplates) DeleteByPath(ctx context.Context, tenantID, repoName, filePath string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM templates WHERE tenant_id = $1 AND repo_name = $2 AND file_path = $3`,
		tenantID, repoName, filePath,
	)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*template.Template, error) {
	var (
		t       template.Template
		content []byte
	)
	err := row.Scan(&t.ID, &t.TenantID, &t.RepoName, &t.FilePath, &t.TemplateType, &t.Provider, &t.ResourceType, &t.ResourceID, &content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}
	if err := json.Unmarshal(content, &t.Content); err != nil {
		return nil, fmt.Errorf("failed to decode template content: %w", err)
	}

	return &t, nil
}

type pgDefinitions struct {
	pool *pgxpool.Pool
}

func (s *pgDefinitions) Upsert(ctx context.Context, d *provider.Definition) (*provider.Definition, error) {
	definition, err := json.Marshal(d.Definition)
	if err != nil {
		return nil, fmt.Errorf("failed to encode definition: %w", err)
	}
	variables, err := json.Marshal(d.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to encode variables: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO provider_definitions (id, tenant_id, provider, sub_type, name, identifier, definition, variables)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, provider, identifier)
		DO UPDATE SET sub_type = EXCLUDED.sub_type, name = EXCLUDED.name,
		              definition = EXCLUDED.definition, variables = EXCLUDED.variables
		RETURNING id`,
		newID(d.ID), d.TenantID, d.Provider, d.SubType, d.Name, d.Identifier, definition, variables,
	)
	if err := row.Scan(&d.ID); err != nil {
		return nil, fmt.Errorf("failed to upsert provider definition: %w", err)
	}

	return d, nil
}

func (s *pgDefinitions) Get(ctx context.Context, id uuid.UUID) (*provider.Definition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, provider, sub_type, name, identifier, definition, variables
		FROM provider_definitions WHERE id = $1`, id,
	)

	return scanDefinition(row)
}

func (s *pgDefinitions) List(ctx context.Context, tenantID string) ([]*provider.Definition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, provider, sub_type, name, identifier, definition, variables
		FROM provider_definitions WHERE tenant_id = $1`, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider definitions: %w", err)
	}
	defer rows.Close()

	var out []*provider.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	return out, rows.Err()
}

func (s *pgDefinitions) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM provider_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete provider definition: %w", err)
	}

	return nil
}

func scanDefinition(row rowScanner) (*provider.Definition, error) {
	var (
		d          provider.Definition
		definition []byte
		variables  []byte
	)
	err := row.Scan(&d.ID, &d.TenantID, &d.Provider, &d.SubType, &d.Name, &d.Identifier, &definition, &variables)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan provider definition: %w", err)
	}
	if err := json.Unmarshal(definition, &d.Definition); err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}
	if err := json.Unmarshal(variables, &d.Variables); err != nil {
		return nil, fmt.Errorf("failed to decode variables: %w", err)
	}

	return &d, nil
}

type pgRefs struct {
	pool *pgxpool.Pool
}

func (s *pgRefs) ListByTemplate(ctx context.Context, templateID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT provider_definition_id FROM template_provider_definition_refs WHERE template_id = $1`,
		templateID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list template refs: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan template ref: %w", err)
		}
		out = append(out, id)
	}

	return out, rows.Err()
}

func (s *pgRefs) Add(ctx context.Context, templateID uuid.UUID, definitionIDs []uuid.UUID) error {
	for _, chunk := range Chunk(definitionIDs, BulkChunkSize) {
		batch := &pgx.Batch{}
		for _, id := range chunk {
			batch.Queue(`
				INSERT INTO template_provider_definition_refs (template_id, provider_definition_id)
				VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				templateID, id,
			)
		}
		if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to add template refs: %w", err)
		}
	}

	return nil
}

func (s *pgRefs) Remove(ctx context.Context, templateID uuid.UUID, definitionIDs []uuid.UUID) error {
	for _, chunk := range Chunk(definitionIDs, BulkChunkSize) {
		_, err := s.pool.Exec(ctx, `
			DELETE FROM template_provider_definition_refs
			WHERE template_id = $1 AND provider_definition_id = ANY($2)`,
			templateID, chunk,
		)
		if err != nil {
			return fmt.Errorf("failed to remove template refs: %w", err)
		}
	}

	return nil
}

func (s *pgRefs) DeleteByTemplate(ctx context.Context, templateID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM template_provider_definition_refs WHERE template_id = $1`, templateID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete template refs: %w", err)
	}

	return nil
}

type pgChangeTypes struct {
	pool *pgxpool.Pool
}

func (s *pgChangeTypes) Get(ctx context.Context, id uuid.UUID) (*change.ChangeType, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, body FROM change_types WHERE id = $1`, id,
	)

	return scanChangeType(row)
}

func (s *pgChangeTypes) List(ctx context.Context, tenantID string) ([]*change.ChangeType, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, body FROM change_types WHERE tenant_id = $1`, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list change types: %w", err)
	}
	defer rows.Close()

	var out []*change.ChangeType
	for rows.Next() {
		ct, err := scanChangeType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ct)
	}

	return out, rows.Err()
}

func (s *pgChangeTypes) Upsert(ctx context.Context, ct *change.ChangeType) error {
	if ct.ID == uuid.Nil {
		ct.ID = uuid.New()
	}
	body, err := json.Marshal(ct)
	if err != nil {
		return fmt.Errorf("failed to encode change type: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO change_types (id, tenant_id, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body`,
		ct.ID, ct.TenantID, body,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert change type: %w", err)
	}

	return nil
}

func scanChangeType(row rowScanner) (*change.ChangeType, error) {
	var (
		id       uuid.UUID
		tenantID string
		body     []byte
	)
	if err := row.Scan(&id, &tenantID, &body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan change type: %w", err)
	}

	var ct change.ChangeType
	if err := json.Unmarshal(body, &ct); err != nil {
		return nil, fmt.Errorf("failed to decode change type: %w", err)
	}
	ct.ID = id
	ct.TenantID = tenantID

	return &ct, nil
}

type pgRequests struct {
	pool *pgxpool.Pool
}

func (s *pgRequests) Create(ctx context.Context, r *request.Request) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now

	approvers, err := json.Marshal(r.AllowedApprovers)
	if err != nil {
		return fmt.Errorf("failed to encode approvers: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO requests (id, tenant_id, repo_name, pull_request_id, pull_request_url, status,
		                      allowed_approvers, created_by, approved_by, justification, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.TenantID, r.RepoName, r.PullRequestID, r.PullRequestURL, string(r.Status),
		approvers, r.CreatedBy, r.ApprovedBy, r.Justification, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return nil
}

func (s *pgRequests) Get(ctx context.Context, id uuid.UUID) (*request.Request, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, repo_name, pull_request_id, pull_request_url, status,
		       allowed_approvers, created_by, approved_by, justification, created_at, updated_at
		FROM requests WHERE id = $1`, id,
	)

	var (
		r         request.Request
		status    string
		approvers []byte
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.RepoName, &r.PullRequestID, &r.PullRequestURL, &status,
		&approvers, &r.CreatedBy, &r.ApprovedBy, &r.Justification, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}
	r.Status = request.Status(status)
	if err := json.Unmarshal(approvers, &r.AllowedApprovers); err != nil {
		return nil, fmt.Errorf("failed to decode approvers: %w", err)
	}

	return &r, nil
}

func (s *pgRequests) Update(ctx context.Context, r *request.Request) error {
	r.UpdatedAt = time.Now()
	approvers, err := json.Marshal(r.AllowedApprovers)
	if err != nil {
		return fmt.Errorf("failed to encode approvers: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE requests SET pull_request_id = $2, pull_request_url = $3, status = $4,
		       allowed_approvers = $5, approved_by = $6, justification = $7, updated_at = $8
		WHERE id = $1`,
		r.ID, r.PullRequestID, r.PullRequestURL, string(r.Status), approvers, r.ApprovedBy, r.Justification, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *pgRequests) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to request.Status) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE requests SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, fmt.Errorf("failed to swap request status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

type pgWatermarks struct {
	pool *pgxpool.Pool
}

func (s *pgWatermarks) Get(ctx context.Context, tenantID, repoName string) (*SyncWatermark, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, repo_name, commit_sha, synced_at
		FROM sync_watermarks WHERE tenant_id = $1 AND repo_name = $2`,
		tenantID, repoName,
	)

	var w SyncWatermark
	if err := row.Scan(&w.TenantID, &w.RepoName, &w.CommitSHA, &w.SyncedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan watermark: %w", err)
	}

	return &w, nil
}

func (s *pgWatermarks) Set(ctx context.Context, w *SyncWatermark) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_watermarks (tenant_id, repo_name, commit_sha, synced_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, repo_name)
		DO UPDATE SET commit_sha = EXCLUDED.commit_sha, synced_at = EXCLUDED.synced_at`,
		w.TenantID, w.RepoName, w.CommitSHA, w.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set watermark: %w", err)
	}

	return nil
}

func newID(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}

	return id
}
