// Package retention enforces age and count bounds on the stored post
// corpus. Sweeps are best-effort housekeeping: failures are logged and
// retried on the next scheduled run, never surfaced to the ingestion path.
package retention

import (
	"context"
	"log/slog"
	"time"

	"newsmon/internal/store"
)

type Manager struct {
	store      *store.Store
	maxAgeDays int
	maxPosts   int
	logger     *slog.Logger
}

// New creates a retention manager. maxAgeDays and maxPosts of zero disable
// the corresponding sweep step.
func New(st *store.Store, maxAgeDays, maxPosts int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      st,
		maxAgeDays: maxAgeDays,
		maxPosts:   maxPosts,
		logger:     logger,
	}
}

// Sweep deletes posts older than the age bound, then trims the corpus down
// to the count bound. The count is re-read after the age step so the cap
// applies to what actually remains.
func (m *Manager) Sweep(ctx context.Context) {
	if m.maxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -m.maxAgeDays)
		deleted, err := m.store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			m.logger.Error("retention age sweep failed", "error", err)
			return
		}
		if deleted > 0 {
			m.logger.Info("deleted posts past the age bound",
				"deleted", deleted, "max_age_days", m.maxAgeDays)
		}
	}

	if m.maxPosts > 0 {
		count, err := m.store.CountPosts(ctx)
		if err != nil {
			m.logger.Error("retention count check failed", "error", err)
			return
		}
		if count <= m.maxPosts {
			return
		}

		deleted, err := m.store.DeleteOldest(ctx, count-m.maxPosts)
		if err != nil {
			m.logger.Error("retention count sweep failed", "error", err)
			return
		}
		m.logger.Info("deleted oldest posts past the count bound",
			"deleted", deleted, "max_posts", m.maxPosts)
	}
}

// Run sweeps on the given interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}
