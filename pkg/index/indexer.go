// Package index keeps the relational template index consistent with
// repository contents, driven by commit history.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/uuid"

	"github.com/permitops/gitgovern/internal/gitx"
	"github.com/permitops/gitgovern/pkg/provider"
	"github.com/permitops/gitgovern/pkg/store"
	"github.com/permitops/gitgovern/pkg/template"
	"github.com/permitops/gitgovern/pkg/workspace"
)

// ProgressTracker counts indexed files over a long full-index run.
type ProgressTracker interface {
	Increment(delta int)
	Done()
}

type Indexer struct {
	store store.Store

	// progress, when set, is started once per FullIndex run with the
	// number of template files the walk found.
	progress func(ctx context.Context, total int) ProgressTracker
}

func New(s store.Store) *Indexer {
	return &Indexer{store: s}
}

// NewWithProgress builds an Indexer whose full-index runs report
// progress through trackers started by start.
func NewWithProgress(s store.Store, start func(ctx context.Context, total int) ProgressTracker) *Indexer {
	return &Indexer{store: s, progress: start}
}

// FullIndex walks every template file in the workspace's default
// clone and reconciles the index against it. The watermark moves to
// the current head only after everything else succeeded.
func (ix *Indexer) FullIndex(ctx context.Context, ws *workspace.RepoWorkspace) error {
	defs, err := ix.definitions(ctx, ws.TenantID())
	if err != nil {
		return err
	}

	root := ws.Path()
	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if template.IsTemplateFile(rel) {
			paths = append(paths, rel)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("full index of %s failed: %w", ws.RepoName(), err)
	}

	var tracker ProgressTracker
	if ix.progress != nil {
		tracker = ix.progress(ctx, len(paths))
		defer tracker.Done()
	}

	for _, rel := range paths {
		body, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		if err := ix.indexFile(ctx, ws, rel, body, defs); err != nil {
			return fmt.Errorf("full index of %s failed: %w", ws.RepoName(), err)
		}
		if tracker != nil {
			tracker.Increment(1)
		}
	}

	return ix.commitWatermark(ctx, ws)
}

// IncrementalIndex reconciles the index over the commit range
// (from, to]. An empty from falls back to the tenant's last
// watermark; no watermark degrades to a diff against the empty tree.
// An empty to means the current head. Re-running the same range is a
// no-op.
func (ix *Indexer) IncrementalIndex(ctx context.Context, ws *workspace.RepoWorkspace, fromSHA, toSHA string) error {
	repo, err := ws.Repository(ctx)
	if err != nil {
		return err
	}

	if toSHA == "" {
		toSHA, err = ws.HeadSHA(ctx)
		if err != nil {
			return err
		}
	}

	if fromSHA == "" {
		watermark, err := ix.store.Watermarks().Get(ctx, ws.TenantID(), ws.RepoName())
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if watermark != nil {
			fromSHA = watermark.CommitSHA
		}
	}

	if fromSHA == toSHA {
		slog.Debug("index already at head", "tenantID", ws.TenantID(), "repo", ws.RepoName(), "sha", toSHA)
		return nil
	}

	var fromHash plumbing.Hash
	if fromSHA != "" {
		fromHash = plumbing.NewHash(fromSHA)
	}
	toHash := plumbing.NewHash(toSHA)

	changes, err := gitx.DiffCommits(repo, fromHash, toHash)
	if err != nil {
		return fmt.Errorf("incremental index of %s failed: %w", ws.RepoName(), err)
	}

	defs, err := ix.definitions(ctx, ws.TenantID())
	if err != nil {
		return err
	}

	// Bodies come from the to commit's trees, not the checkout: an
	// explicit to older than head must index that commit's content.
	for _, fileChange := range changes {
		if !template.IsTemplateFile(fileChange.Path) {
			continue
		}

		switch fileChange.Action {
		case gitx.FileDeleted:
			if err := ix.removeFile(ctx, ws, fileChange.Path); err != nil {
				return err
			}
		default:
			body, err := gitx.FileAtCommit(repo, toHash, fileChange.Path)
			if err != nil {
				return err
			}
			if err := ix.indexFile(ctx, ws, fileChange.Path, body, defs); err != nil {
				return err
			}
		}
	}

	return ix.store.Watermarks().Set(ctx, &store.SyncWatermark{
		TenantID:  ws.TenantID(),
		RepoName:  ws.RepoName(),
		CommitSHA: toSHA,
		SyncedAt:  time.Now(),
	})
}

func (ix *Indexer) indexFile(ctx context.Context, ws *workspace.RepoWorkspace, rel string, body []byte, defs []provider.Definition) error {
	tpl, err := template.Parse(ws.TenantID(), ws.RepoName(), rel, body)
	if err != nil {
		// Unknown provider or an unparseable file fails that file,
		// not the run.
		if errors.Is(err, template.ErrUnsupportedProvider) || errors.Is(err, template.ErrTemplateNotFound) {
			slog.Warn("skipping file", "path", rel, "error", err)
			return nil
		}
		return err
	}

	stored, changed, err := ix.store.Templates().Upsert(ctx, tpl)
	if err != nil {
		return err
	}
	if changed {
		slog.Debug("indexed template", "path", rel, "resourceID", stored.ResourceID)
	}

	return ix.reconcileRefs(ctx, stored, defs)
}

func (ix *Indexer) removeFile(ctx context.Context, ws *workspace.RepoWorkspace, rel string) error {
	tpl, err := ix.store.Templates().GetByPath(ctx, ws.TenantID(), ws.RepoName(), rel)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := ix.store.TemplateRefs().DeleteByTemplate(ctx, tpl.ID); err != nil {
		return err
	}
	if err := ix.store.Templates().DeleteByPath(ctx, ws.TenantID(), ws.RepoName(), rel); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	slog.Debug("removed template", "path", rel, "resourceID", tpl.ResourceID)

	return nil
}

// reconcileRefs diffs the stored ref set against the freshly resolved
// one, adding what is missing and dropping what no longer passes.
// Surviving refs keep their identity for anything referencing them
// concurrently.
func (ix *Indexer) reconcileRefs(ctx context.Context, tpl *template.Template, defs []provider.Definition) error {
	matched, err := provider.Resolve(tpl, defs)
	if err != nil {
		return err
	}

	desired := make(map[uuid.UUID]bool, len(matched))
	for i := range matched {
		desired[matched[i].ID] = true
	}

	existing, err := ix.store.TemplateRefs().ListByTemplate(ctx, tpl.ID)
	if err != nil {
		return err
	}
	existingSet := make(map[uuid.UUID]bool, len(existing))
	for _, id := range existing {
		existingSet[id] = true
	}

	var toAdd, toRemove []uuid.UUID
	for id := range desired {
		if !existingSet[id] {
			toAdd = append(toAdd, id)
		}
	}
	for _, id := range existing {
		if !desired[id] {
			toRemove = append(toRemove, id)
		}
	}

	for _, chunk := range store.Chunk(toAdd, store.BulkChunkSize) {
		if err := ix.store.TemplateRefs().Add(ctx, tpl.ID, chunk); err != nil {
			return err
		}
	}
	for _, chunk := range store.Chunk(toRemove, store.BulkChunkSize) {
		if err := ix.store.TemplateRefs().Remove(ctx, tpl.ID, chunk); err != nil {
			return err
		}
	}

	return nil
}

func (ix *Indexer) definitions(ctx context.Context, tenantID string) ([]provider.Definition, error) {
	stored, err := ix.store.ProviderDefinitions().List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	defs := make([]provider.Definition, 0, len(stored))
	for _, d := range stored {
		defs = append(defs, *d)
	}

	return defs, nil
}

func (ix *Indexer) commitWatermark(ctx context.Context, ws *workspace.RepoWorkspace) error {
	head, err := ws.HeadSHA(ctx)
	if err != nil {
		return err
	}

	return ix.store.Watermarks().Set(ctx, &store.SyncWatermark{
		TenantID:  ws.TenantID(),
		RepoName:  ws.RepoName(),
		CommitSHA: head,
		SyncedAt:  time.Now(),
	})
}
