package delivery

import (
	"context"
	"time"

	"kashee-notify/internal/common/logger"
	"kashee-notify/internal/repository"
)

// Enqueuer is the producing side of the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, notificationIDs []int64) error
}

// RetryDriver re-queues notifications whose failed channel deliveries are
// due for another attempt. Channels already delivered, and failures marked
// permanent, are left alone by the pipeline's prior-delivery check.
type RetryDriver struct {
	repos *repository.Repositories
	queue Enqueuer
	batch int
	log   logger.Logger
	now   func() time.Time
}

func NewRetryDriver(repos *repository.Repositories, queue Enqueuer, batch int, log logger.Logger) *RetryDriver {
	if batch <= 0 {
		batch = 500
	}
	return &RetryDriver{repos: repos, queue: queue, batch: batch, log: log, now: time.Now}
}

// RunOnce performs one scan and returns how many notifications were
// re-queued. Driven by the cron scheduler.
func (d *RetryDriver) RunOnce(ctx context.Context) (int, error) {
	due, err := d.repos.Deliveries.DueRetries(ctx, d.now().UTC(), d.batch)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	seen := make(map[int64]bool, len(due))
	var ids []int64
	for _, row := range due {
		if seen[row.NotificationID] {
			continue
		}
		seen[row.NotificationID] = true
		ids = append(ids, row.NotificationID)
	}

	if err := d.repos.Notifications.MarkQueued(ctx, ids); err != nil {
		return 0, err
	}
	if err := d.queue.Enqueue(ctx, ids); err != nil {
		return 0, err
	}
	d.log.Info("Requeued notifications for retry", map[string]interface{}{
		"count": len(ids),
	})
	return len(ids), nil
}

// ReclaimStuck re-queues notifications abandoned mid-send by a dead worker:
// rows that sat in sending past the stale lease are flipped back to queued
// and put on the queue again. The pipeline's prior-delivery check keeps the
// channels that already went out from being re-sent.
func (d *RetryDriver) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := d.repos.Notifications.ReclaimStale(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := d.queue.Enqueue(ctx, ids); err != nil {
		return 0, err
	}
	d.log.Warn("Reclaimed notifications stuck in sending", map[string]interface{}{
		"count": len(ids),
	})
	return len(ids), nil
}
