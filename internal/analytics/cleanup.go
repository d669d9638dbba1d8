package analytics

import (
	"context"
	"time"

	"kashee-notify/internal/common/logger"
	"kashee-notify/internal/repository"
)

// CleanupConfig sets the retention windows. Zero values fall back to the
// defaults below.
type CleanupConfig struct {
	NotificationRetention time.Duration
	DeepLinkRetention     time.Duration
	SweepBatchSize        int
}

func (c CleanupConfig) withDefaults() CleanupConfig {
	if c.NotificationRetention == 0 {
		c.NotificationRetention = 90 * 24 * time.Hour
	}
	if c.DeepLinkRetention == 0 {
		c.DeepLinkRetention = 30 * 24 * time.Hour
	}
	if c.SweepBatchSize == 0 {
		c.SweepBatchSize = 1000
	}
	return c
}

// CleanupJob expires stale deep links and purges rows past their
// retention window.
type CleanupJob struct {
	repos *repository.Repositories
	cfg   CleanupConfig
	log   logger.Logger
	now   func() time.Time
}

func NewCleanupJob(repos *repository.Repositories, cfg CleanupConfig, log logger.Logger) *CleanupJob {
	return &CleanupJob{repos: repos, cfg: cfg.withDefaults(), log: log, now: time.Now}
}

// Run performs one cleanup pass. Each step is independent; a failing step
// is logged and the rest still run.
func (j *CleanupJob) Run(ctx context.Context) {
	now := j.now().UTC()

	swept, err := j.repos.DeepLinks.SweepExpired(ctx, j.cfg.SweepBatchSize)
	if err != nil {
		j.log.WithError(err).Error("Deep link expiry sweep failed", nil)
	}

	linksPurged, err := j.repos.DeepLinks.DeleteOld(ctx, now.Add(-j.cfg.DeepLinkRetention))
	if err != nil {
		j.log.WithError(err).Error("Deep link purge failed", nil)
	}

	notifsPurged, err := j.repos.Notifications.DeleteOld(ctx, now.Add(-j.cfg.NotificationRetention))
	if err != nil {
		j.log.WithError(err).Error("Notification purge failed", nil)
	}

	j.log.Info("Cleanup pass complete", map[string]interface{}{
		"links_expired":        swept,
		"links_purged":         linksPurged,
		"notifications_purged": notifsPurged,
		"notification_cutoff":  now.Add(-j.cfg.NotificationRetention).Format(time.RFC3339),
	})
}
