package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/permitops/gitgovern/pkg/index"
	"github.com/permitops/gitgovern/pkg/provider"
	"github.com/permitops/gitgovern/pkg/store"
	"github.com/permitops/gitgovern/pkg/workspace"
)

// Syncer brings one tenant repo's index up to date: refresh the
// default clone, reconcile provider definitions from the repo config,
// then index templates forward from the watermark.
type Syncer struct {
	store    store.Store
	indexer  *index.Indexer
	ws       *workspace.RepoWorkspace
	reporter *Reporter
}

func NewSyncer(s store.Store, ws *workspace.RepoWorkspace, reporter *Reporter) *Syncer {
	indexer := index.NewWithProgress(s, func(ctx context.Context, total int) index.ProgressTracker {
		return reporter.StartProcess(ctx, total, ProcessTemplate{
			PresentAction: "indexing",
			PastAction:    "indexed",
			Subject:       "templates",
		})
	})

	return &Syncer{
		store:    s,
		indexer:  indexer,
		ws:       ws,
		reporter: reporter,
	}
}

func (s *Syncer) Run(ctx context.Context) error {
	s.reporter.Heading(fmt.Sprintf("syncing %s/%s", s.ws.TenantID(), s.ws.RepoName()))

	err := s.ws.CloneOrPull(ctx)
	s.reporter.Result(err, Result{
		Success: "repository up to date",
		Failure: "failed to update repository",
	})
	if err != nil {
		return fmt.Errorf("update of %s/%s failed: %w", s.ws.TenantID(), s.ws.RepoName(), err)
	}

	err = s.syncProviders(ctx)
	s.reporter.Result(err, Result{
		Success: "provider definitions reconciled",
		Failure: "failed to reconcile provider definitions",
	})
	if err != nil {
		return fmt.Errorf("provider sync of %s/%s failed: %w", s.ws.TenantID(), s.ws.RepoName(), err)
	}

	err = s.syncTemplates(ctx)
	s.reporter.Result(err, Result{
		Success: "templates indexed",
		Failure: "failed to index templates",
	})
	if err != nil {
		return fmt.Errorf("template sync of %s/%s failed: %w", s.ws.TenantID(), s.ws.RepoName(), err)
	}

	return nil
}

// syncProviders reconciles stored provider definitions against the
// repo's config. Definitions that survive keep their identity so
// template refs stay valid.
func (s *Syncer) syncProviders(ctx context.Context) error {
	cfg, err := provider.LoadConfig(s.ws.Path())
	if err != nil {
		return err
	}

	tenantID := s.ws.TenantID()
	desired := cfg.Definitions(tenantID)

	existing, err := s.store.ProviderDefinitions().List(ctx, tenantID)
	if err != nil {
		return err
	}
	existingByKey := make(map[string]*provider.Definition, len(existing))
	for _, def := range existing {
		existingByKey[definitionKey(def)] = def
	}

	seen := make(map[string]bool, len(desired))
	for i := range desired {
		def := &desired[i]
		key := definitionKey(def)
		if prev, ok := existingByKey[key]; ok {
			def.ID = prev.ID
		}
		if _, err := s.store.ProviderDefinitions().Upsert(ctx, def); err != nil {
			return err
		}
		seen[key] = true
	}

	for key, def := range existingByKey {
		if seen[key] {
			continue
		}
		if err := s.store.ProviderDefinitions().Delete(ctx, def.ID); err != nil {
			return err
		}
	}

	return nil
}

func (s *Syncer) syncTemplates(ctx context.Context) error {
	_, err := s.store.Watermarks().Get(ctx, s.ws.TenantID(), s.ws.RepoName())
	if errors.Is(err, store.ErrNotFound) {
		return s.indexer.FullIndex(ctx, s.ws)
	}
	if err != nil {
		return err
	}

	return s.indexer.IncrementalIndex(ctx, s.ws, "", "")
}

func definitionKey(d *provider.Definition) string {
	return d.Provider + "|" + d.SubType + "|" + d.Identifier
}
