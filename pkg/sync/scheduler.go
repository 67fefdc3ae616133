package sync

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Scheduler runs every registered syncer on a fixed interval. Tenants
// fan out concurrently; one repo failing is logged and skipped so the
// rest of the fleet keeps syncing.
type Scheduler struct {
	syncers  []*Syncer
	interval time.Duration
	// MaxConcurrent bounds tenant fan-out; zero means unbounded.
	MaxConcurrent int
}

func NewScheduler(syncers []*Syncer, interval time.Duration) *Scheduler {
	return &Scheduler{syncers: syncers, interval: interval}
}

// Start blocks, running one sweep immediately and then one per
// interval until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs all syncers once, waiting for them to finish.
func (s *Scheduler) Sweep(ctx context.Context) {
	group, ctx := errgroup.WithContext(ctx)
	if s.MaxConcurrent > 0 {
		group.SetLimit(s.MaxConcurrent)
	}

	for _, syncer := range s.syncers {
		group.Go(func() error {
			if err := syncer.Run(ctx); err != nil {
				slog.Error("sync run failed",
					"tenantID", syncer.ws.TenantID(), "repo", syncer.ws.RepoName(), "error", err)
			}
			// Failures are isolated per repo; never cancel siblings.
			return nil
		})
	}

	_ = group.Wait()
}
