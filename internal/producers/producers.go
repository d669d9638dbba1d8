// Package producers turns domain events from the ERP source tables into
// notifications with at-most-once semantics, driven by the tracking ledger.
package producers

import (
	"context"
	"time"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/common/logger"
	"kashee-notify/internal/common/metrics"
	"kashee-notify/internal/models"
	"kashee-notify/internal/notify"
	"kashee-notify/internal/repository"
)

// SourceEvent is one source row ready for composition. Either UserID or
// MemberCode identifies the recipient.
type SourceEvent struct {
	SourceKey  string // ledger key, e.g. the collection code
	MemberCode string
	UserID     int64
	Context    map[string]interface{}
	Related    *models.RelatedObject
}

// Producer supplies events for one source table.
type Producer interface {
	Name() string
	TemplateName() string
	Events(ctx context.Context, ref time.Time) ([]SourceEvent, error)
}

// Composer is the slice of the notification service producers need.
type Composer interface {
	Compose(ctx context.Context, req notify.CreateRequest) (*models.Notification, error)
}

// Report summarises one producer run.
type Report struct {
	Producer     string
	Scanned      int
	Duplicates   int
	Unresolvable int
	Created      int
	Requeued     int
}

// Runner drives any producer through the idempotent flow: ledger read,
// compose, atomic batch insert with ledger rows, retry sweep, enqueue.
type Runner struct {
	repos    *repository.Repositories
	composer Composer
	queue    notify.Enqueuer
	log      logger.Logger
	now      func() time.Time
}

func NewRunner(repos *repository.Repositories, composer Composer, queue notify.Enqueuer, log logger.Logger) *Runner {
	return &Runner{repos: repos, composer: composer, queue: queue, log: log, now: time.Now}
}

// Run executes one producer pass for the reference time (usually today).
// A missing template or an unreachable database aborts the run; per-row
// problems are logged and skipped.
func (r *Runner) Run(ctx context.Context, p Producer, ref time.Time) (*Report, error) {
	report := &Report{Producer: p.Name()}

	tpl, err := r.loadTemplate(ctx, p.TemplateName())
	if err != nil {
		return nil, err
	}

	dayStart := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	ledger, err := r.repos.Analytics.LedgerKeys(ctx, p.Name(), dayStart.AddDate(0, -1, 0))
	if err != nil {
		return nil, err
	}

	events, err := p.Events(ctx, ref)
	if err != nil {
		return nil, err
	}
	report.Scanned = len(events)

	var batch []*models.Notification
	var entries []*models.LedgerEntry
	for _, ev := range events {
		if ledger[ev.SourceKey] {
			report.Duplicates++
			metrics.ProducerRows.WithLabelValues(p.Name(), "duplicate").Inc()
			continue
		}

		user, err := r.resolveUser(ctx, ev)
		if err != nil {
			report.Unresolvable++
			metrics.ProducerRows.WithLabelValues(p.Name(), "unresolvable").Inc()
			r.log.WithError(err).Warn("Skipping source row without resolvable user", map[string]interface{}{
				"producer":   p.Name(),
				"source_key": ev.SourceKey,
			})
			continue
		}

		n, err := r.composer.Compose(ctx, notify.CreateRequest{
			TemplateName: p.TemplateName(),
			Recipient:    notify.Recipient{User: user},
			Context:      ev.Context,
			Related:      ev.Related,
		})
		if err != nil {
			r.log.WithError(err).Warn("Compose failed for source row", map[string]interface{}{
				"producer":   p.Name(),
				"source_key": ev.SourceKey,
			})
			continue
		}

		batch = append(batch, n)
		entries = append(entries, &models.LedgerEntry{
			Producer:  p.Name(),
			SourceKey: ev.SourceKey,
			UserID:    user.ID,
			IsSent:    true,
		})
	}

	var createdIDs []int64
	if len(batch) > 0 {
		createdIDs, err = r.repos.Notifications.CreateBatchWithLedger(ctx, batch, entries)
		if err != nil {
			return nil, err
		}
		report.Created = len(createdIDs)
		metrics.ProducerRows.WithLabelValues(p.Name(), "created").Add(float64(len(createdIDs)))
	}

	// same-day pending/failed notifications from earlier runs ride along
	retryIDs, err := r.repos.Notifications.PendingForTemplate(ctx, tpl.ID, dayStart)
	if err != nil {
		return nil, err
	}
	created := make(map[int64]bool, len(createdIDs))
	for _, id := range createdIDs {
		created[id] = true
	}
	all := createdIDs
	for _, id := range retryIDs {
		if !created[id] {
			all = append(all, id)
			report.Requeued++
		}
	}

	if len(all) == 0 {
		r.log.Info("Producer run found nothing to enqueue", map[string]interface{}{
			"producer": p.Name(),
			"scanned":  report.Scanned,
		})
		return report, nil
	}

	if err := r.repos.Notifications.MarkQueued(ctx, all); err != nil {
		return nil, err
	}
	if err := r.queue.Enqueue(ctx, all); err != nil {
		return nil, err
	}

	r.log.Info("Producer run complete", map[string]interface{}{
		"producer":     p.Name(),
		"scanned":      report.Scanned,
		"created":      report.Created,
		"duplicates":   report.Duplicates,
		"unresolvable": report.Unresolvable,
		"requeued":     report.Requeued,
	})
	return report, nil
}

// loadTemplate requires the producer's template to exist in some locale.
func (r *Runner) loadTemplate(ctx context.Context, name string) (*models.Template, error) {
	tpl, err := r.repos.Templates.GetActive(ctx, name, "hi")
	if err == nil {
		return tpl, nil
	}
	if !errors.IsCode(err, errors.ErrCodeTemplateNotFound) {
		return nil, err
	}
	locales, err := r.repos.Templates.ActiveLocales(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(locales) == 0 {
		return nil, errors.NewTemplateNotFoundError(name, "")
	}
	return r.repos.Templates.GetActive(ctx, name, locales[0])
}

func (r *Runner) resolveUser(ctx context.Context, ev SourceEvent) (*models.User, error) {
	if ev.UserID != 0 {
		return r.repos.Users.GetByID(ctx, ev.UserID)
	}
	if ev.MemberCode != "" {
		return r.repos.Users.GetByMemberCode(ctx, ev.MemberCode)
	}
	return nil, errors.NewRecipientUnresolvableError(ev.SourceKey)
}
