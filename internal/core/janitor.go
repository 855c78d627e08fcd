package core

// janitor.go removes uploads nobody started.
//
// An operator who uploads a file and walks away from the preview leaves a
// record with every row in it. The janitor periodically deletes records
// that never ran and are older than the retention window. Records that
// were started are left to the runner, which deletes them on completion.

import (
	"context"
	"time"
)

// JanitorConfig holds the purge settings. Zero values use defaults.
type JanitorConfig struct {
	Retention     time.Duration // Age after which idle uploads go (default: 7 days)
	CheckInterval time.Duration // How often to run (default: 1h)
}

func (c JanitorConfig) withDefaults() JanitorConfig {
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Hour
	}
	return c
}

// StartJanitor purges idle uploads immediately and then every
// CheckInterval until ctx is cancelled.
func (s *Service) StartJanitor(ctx context.Context, cfg JanitorConfig) {
	cfg = cfg.withDefaults()
	logger := s.logger.With("component", "janitor")
	logger.Info("janitor started",
		"retention", cfg.Retention,
		"interval", cfg.CheckInterval,
	)

	s.PurgeStale(ctx, cfg.Retention)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("janitor stopped")
			return
		case <-ticker.C:
			s.PurgeStale(ctx, cfg.Retention)
		}
	}
}

// PurgeStale deletes never-started records older than retention and
// returns how many went. Failures are logged.
func (s *Service) PurgeStale(ctx context.Context, retention time.Duration) int64 {
	start := time.Now()
	cutoff := s.now().Add(-retention).UTC()

	n, err := s.store.PurgeStale(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "purge stale uploads failed", "error", err)
		}
		return 0
	}

	s.metrics.purge(n)
	if n > 0 {
		s.logger.InfoContext(ctx, "purged stale uploads",
			"records_purged", n,
			"cutoff", cutoff,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return n
}
