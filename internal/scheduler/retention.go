package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

const retentionSpec = "@hourly"

// startRetention schedules Prune on the cron spec and returns a function
// that stops the job and waits for a running prune to finish.
func (s *Scheduler) startRetention(ctx context.Context) func() {
	if s.cfg.ListingRetention <= 0 && s.cfg.NotificationRetention <= 0 {
		return func() {}
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(retentionSpec, func() {
		if err := s.Prune(ctx); err != nil {
			s.log.Error("prune", "error", err)
		}
	}); err != nil {
		s.log.Error("schedule retention", "spec", retentionSpec, "error", err)
		return func() {}
	}
	c.Start()
	s.log.Debug("retention scheduled", "spec", retentionSpec,
		"listings", s.cfg.ListingRetention, "notifications", s.cfg.NotificationRetention)

	return func() { <-c.Stop().Done() }
}

// Prune deletes listings and notifications older than their retention
// windows.
func (s *Scheduler) Prune(ctx context.Context) error {
	now := s.now().UTC()

	if s.cfg.NotificationRetention > 0 {
		n, err := s.store.PruneNotifications(ctx, now.Add(-s.cfg.NotificationRetention))
		if err != nil {
			return fmt.Errorf("prune notifications: %w", err)
		}
		if n > 0 {
			s.log.Info("pruned notifications", "count", n)
		}
	}

	if s.cfg.ListingRetention > 0 {
		n, err := s.store.PruneListings(ctx, now.Add(-s.cfg.ListingRetention))
		if err != nil {
			return fmt.Errorf("prune listings: %w", err)
		}
		if n > 0 {
			s.log.Info("pruned listings", "count", n)
		}
	}
	return nil
}
