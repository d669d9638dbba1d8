package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kashee-notify/internal/common/logger"
	"kashee-notify/internal/common/metrics"
	"kashee-notify/internal/models"
	"kashee-notify/internal/queue"
	"kashee-notify/internal/repository"
)

// ChunkSource is the consuming side of the work queue.
type ChunkSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Chunk, error)
	Ack(ctx context.Context, chunk *queue.Chunk) error
}

// Pipeline delivers queued notifications through the registered channel
// adapters. It also implements the inline Deliverer used by developer
// tooling.
type Pipeline struct {
	repos    *repository.Repositories
	adapters map[models.Channel]Adapter
	source   ChunkSource
	cfg      Config
	log      logger.Logger
	now      func() time.Time
}

func NewPipeline(repos *repository.Repositories, adapters []Adapter, source ChunkSource, cfg Config, log logger.Logger) *Pipeline {
	byChannel := make(map[models.Channel]Adapter, len(adapters))
	for _, a := range adapters {
		byChannel[a.Channel()] = a
	}
	return &Pipeline{
		repos:    repos,
		adapters: byChannel,
		source:   source,
		cfg:      cfg.withDefaults(),
		log:      log,
		now:      time.Now,
	}
}

// Run is the worker loop: pull a chunk, deliver it, ack. It returns when the
// context is cancelled; the chunk in flight is drained first.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		chunk, err := p.source.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.WithError(err).Error("Queue dequeue failed", nil)
			time.Sleep(time.Second)
			continue
		}
		if chunk == nil {
			continue
		}

		// drain the chunk even when shutdown arrives mid-way; unfinished
		// notifications are reclaimed by the stale sweep otherwise
		p.deliverChunk(ctx, chunk.NotificationIDs)

		if err := p.source.Ack(context.WithoutCancel(ctx), chunk); err != nil {
			p.log.WithError(err).Warn("Chunk ack failed; lease reclaim will re-run it", map[string]interface{}{
				"chunk_id": chunk.ID,
			})
		}
	}
}

// DeliverNow delivers the given notifications inline, bypassing the queue.
func (p *Pipeline) DeliverNow(ctx context.Context, notificationIDs []int64) error {
	for start := 0; start < len(notificationIDs); start += p.cfg.ChunkSize {
		end := start + p.cfg.ChunkSize
		if end > len(notificationIDs) {
			end = len(notificationIDs)
		}
		p.deliverChunk(ctx, notificationIDs[start:end])
	}
	return nil
}

func (p *Pipeline) deliverChunk(ctx context.Context, ids []int64) {
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		p.deliverOne(ctx, id)
	}
}

// deliverOne runs the per-notification fan-out: claim, dispatch every
// channel concurrently, fold, persist. It never returns an error; failures
// land on the delivery rows.
func (p *Pipeline) deliverOne(ctx context.Context, id int64) {
	n, err := p.repos.Notifications.GetByID(ctx, id)
	if err != nil {
		p.log.WithError(err).Error("Notification load failed", map[string]interface{}{"notification_id": id})
		return
	}

	claimed, err := p.repos.Notifications.ClaimSending(ctx, n.ID)
	if err != nil {
		p.log.WithError(err).Error("Claim failed", map[string]interface{}{"notification_id": n.ID})
		return
	}
	if !claimed {
		// another worker owns it, or it is already terminal
		return
	}

	user, err := p.repos.Users.GetByID(ctx, n.RecipientID)
	if err != nil {
		p.finishAllFailed(ctx, n, "recipient load failed: "+err.Error())
		return
	}
	job := &Job{Notification: n, User: user}

	prior := p.priorDeliveries(ctx, n.ID)
	results := make(map[models.Channel]models.ChannelResult, len(n.Channels))
	var mu sync.Mutex

	// settle terminal channels before any goroutine starts so that every
	// concurrent map write goes through the mutex
	var live []models.Channel
	for _, ch := range n.Channels {
		if d, ok := prior[ch]; ok {
			// delivered channels stay delivered across retries; exhausted
			// failures keep their terminal result
			if d.Status == models.StatusDelivered || d.Status == models.StatusSent {
				results[ch] = models.ChannelResult{Status: models.StatusDelivered, DeliveredAt: d.DeliveredAt}
				continue
			}
			if d.Status == models.StatusFailed && !d.CanRetry() {
				results[ch] = models.ChannelResult{Status: models.StatusFailed, FailedAt: d.FailedAt, Error: d.ErrorMessage}
				continue
			}
		}
		if _, ok := p.adapters[ch]; !ok {
			now := p.now().UTC()
			results[ch] = models.ChannelResult{Status: models.StatusFailed, FailedAt: &now, Error: "no adapter for channel " + string(ch)}
			continue
		}
		live = append(live, ch)
	}

	deadline := 2 * p.cfg.ChannelTimeout
	gctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	g, gctx := errgroup.WithContext(gctx)
	g.SetLimit(p.cfg.ChannelParallelism)

	for _, ch := range live {
		ch := ch
		adapter := p.adapters[ch]
		g.Go(func() error {
			res := p.dispatch(gctx, adapter, job, prior[ch])
			mu.Lock()
			results[ch] = p.toChannelResult(res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	p.finish(ctx, n, results)
}

// dispatch runs one adapter call with its own deadline and records the
// attempt on the delivery row.
func (p *Pipeline) dispatch(ctx context.Context, adapter Adapter, job *Job, prior *models.Delivery) models.SendResult {
	ch := adapter.Channel()
	n := job.Notification

	row := &models.Delivery{
		NotificationID: n.ID,
		Channel:        ch,
		Recipient:      recipientHandle(ch, job.User),
		Status:         models.StatusSending,
		MaxAttempts:    p.cfg.MaxAttempts,
	}
	if err := p.repos.Deliveries.Upsert(ctx, row); err != nil {
		p.log.WithError(err).Warn("Delivery row upsert failed", map[string]interface{}{
			"notification_id": n.ID,
			"channel":         ch,
		})
	}

	cctx, cancel := context.WithTimeout(ctx, p.cfg.ChannelTimeout)
	start := p.now()
	res := adapter.Send(cctx, job)
	cancel()

	metrics.ChannelSendDuration.WithLabelValues(string(ch)).Observe(time.Since(start).Seconds())
	metrics.ChannelSends.WithLabelValues(string(ch), string(res.Status)).Inc()

	var nextAttempt *time.Time
	if res.Status == models.StatusFailed && !res.Permanent {
		attempt := 0
		if prior != nil {
			attempt = prior.AttemptCount
		}
		t := p.now().UTC().Add(backoff(p.cfg.RetryBackoffBase, attempt))
		nextAttempt = &t
		metrics.RetriesScheduled.Inc()
	}

	// bookkeeping survives an expired channel deadline
	rctx := context.WithoutCancel(ctx)
	if err := p.repos.Deliveries.RecordAttempt(rctx, n.ID, ch, res, nextAttempt); err != nil {
		p.log.WithError(err).Error("Delivery attempt record failed", map[string]interface{}{
			"notification_id": n.ID,
			"channel":         ch,
		})
	}
	return res
}

func (p *Pipeline) finish(ctx context.Context, n *models.Notification, results map[models.Channel]models.ChannelResult) {
	status := models.FoldStatus(results)
	sentAt := p.now().UTC()
	deliveredAt := models.MaxDeliveredAt(results)

	rctx := context.WithoutCancel(ctx)
	if err := p.repos.Notifications.FinishDelivery(rctx, n.ID, status, results, sentAt, deliveredAt); err != nil {
		p.log.WithError(err).Error("Status fold persist failed", map[string]interface{}{
			"notification_id": n.ID,
			"status":          status,
		})
		return
	}
	p.log.Info("Notification delivered", map[string]interface{}{
		"notification_id": n.ID,
		"status":          status,
		"channels":        len(results),
	})
}

func (p *Pipeline) finishAllFailed(ctx context.Context, n *models.Notification, reason string) {
	now := p.now().UTC()
	results := make(map[models.Channel]models.ChannelResult, len(n.Channels))
	for _, ch := range n.Channels {
		results[ch] = models.ChannelResult{Status: models.StatusFailed, FailedAt: &now, Error: reason}
	}
	p.finish(ctx, n, results)
}

func (p *Pipeline) priorDeliveries(ctx context.Context, notificationID int64) map[models.Channel]*models.Delivery {
	rows, err := p.repos.Deliveries.ForNotification(ctx, notificationID)
	if err != nil {
		p.log.WithError(err).Warn("Prior delivery lookup failed", map[string]interface{}{
			"notification_id": notificationID,
		})
		return nil
	}
	out := make(map[models.Channel]*models.Delivery, len(rows))
	for _, d := range rows {
		out[d.Channel] = d
	}
	return out
}

func (p *Pipeline) toChannelResult(res models.SendResult) models.ChannelResult {
	now := p.now().UTC()
	switch res.Status {
	case models.StatusDelivered, models.StatusSent:
		return models.ChannelResult{Status: models.StatusDelivered, DeliveredAt: &now}
	case models.StatusSkipped:
		return models.ChannelResult{Status: models.StatusSkipped, Error: res.Error}
	default:
		return models.ChannelResult{Status: models.StatusFailed, FailedAt: &now, Error: res.Error}
	}
}

func recipientHandle(ch models.Channel, user *models.User) string {
	switch ch {
	case models.ChannelEmail:
		return user.Email
	case models.ChannelSMS, models.ChannelWhatsApp:
		return user.Phone
	default:
		return fmt.Sprintf("user:%d", user.ID)
	}
}
