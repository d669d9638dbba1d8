// Package notify is the composition kernel: it loads templates, resolves
// recipients and channels, mints deep links and persists notifications ready
// for the delivery pipeline.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/common/logger"
	"kashee-notify/internal/common/metrics"
	"kashee-notify/internal/contextdata"
	"kashee-notify/internal/deeplink"
	"kashee-notify/internal/models"
	"kashee-notify/internal/repository"
	"kashee-notify/internal/templates"
)

// Recipient identifies a notification target by id, email or resolved user.
type Recipient struct {
	ID    int64
	Email string
	User  *models.User
}

// CreateRequest carries the caller's compose parameters.
type CreateRequest struct {
	TemplateName string
	Recipient    Recipient
	Context      map[string]interface{}
	Related      *models.RelatedObject
	SenderID     *int64
	Channels     []models.Channel // optional; intersected with template and preferences
	Priority     models.Priority  // optional; defaults to the template's
	ScheduledAt  *time.Time
	ExpiresAt    *time.Time
}

// Enqueuer hands notification ids to the delivery queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, notificationIDs []int64) error
}

// Deliverer runs the delivery pipeline inline, bypassing the queue.
type Deliverer interface {
	DeliverNow(ctx context.Context, notificationIDs []int64) error
}

// Config tunes composition behaviour.
type Config struct {
	BaseURL       string
	DefaultLocale string
	BulkThreshold int
}

// Service composes notifications.
type Service struct {
	repos    *repository.Repositories
	engine   *templates.Engine
	links    *deeplink.Service
	queue    Enqueuer
	delivery Deliverer
	cfg      Config
	log      logger.Logger
	now      func() time.Time
}

func NewService(repos *repository.Repositories, engine *templates.Engine, links *deeplink.Service, queue Enqueuer, delivery Deliverer, cfg Config, log logger.Logger) *Service {
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = "en"
	}
	if cfg.BulkThreshold <= 0 {
		cfg.BulkThreshold = 200
	}
	return &Service{
		repos:    repos,
		engine:   engine,
		links:    links,
		queue:    queue,
		delivery: delivery,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Compose runs every create step short of persistence: recipient and
// template resolution, rendering, channel selection, and deep-link minting.
// Batch producers use it to build rows for a single atomic insert.
func (s *Service) Compose(ctx context.Context, req CreateRequest) (*models.Notification, error) {
	n, _, _, err := s.compose(ctx, req)
	return n, err
}

// Create composes and persists one notification. Template and recipient
// problems are hard errors; deep-link and optional channel render failures
// degrade by dropping the affected channel.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Notification, error) {
	n, tpl, user, err := s.compose(ctx, req)
	if err != nil {
		return nil, err
	}

	if throttled, reason := s.checkThrottle(ctx, tpl, user.ID); throttled {
		n.Status = models.StatusCancelled
		n.StatusReason = reason
		if err := s.repos.Notifications.Create(ctx, n); err != nil {
			return nil, err
		}
		metrics.NotificationsComposed.WithLabelValues(tpl.Name, "throttled").Inc()
		s.log.Info("Notification throttled", map[string]interface{}{
			"template": tpl.Name,
			"user_id":  user.ID,
			"reason":   reason,
		})
		return n, nil
	}

	if len(n.Channels) == 0 {
		n.Status = models.StatusCancelled
		n.StatusReason = "no_channels"
		if err := s.repos.Notifications.Create(ctx, n); err != nil {
			return nil, err
		}
		metrics.NotificationsComposed.WithLabelValues(tpl.Name, "no_channels").Inc()
		return n, nil
	}

	if err := s.repos.Notifications.Create(ctx, n); err != nil {
		return nil, err
	}
	metrics.NotificationsComposed.WithLabelValues(tpl.Name, "created").Inc()

	if !n.ScheduledAt.After(s.now().UTC()) {
		if err := s.enqueue(ctx, []int64{n.ID}); err != nil {
			s.log.WithError(err).Error("Enqueue failed; scheduler sweep will retry", map[string]interface{}{
				"notification_id": n.ID,
			})
		}
	}
	return n, nil
}

func (s *Service) compose(ctx context.Context, req CreateRequest) (*models.Notification, *models.Template, *models.User, error) {
	user, err := s.resolveRecipient(ctx, req.Recipient)
	if err != nil {
		return nil, nil, nil, err
	}

	tpl, err := s.loadTemplate(ctx, req.TemplateName, user.Language)
	if err != nil {
		return nil, nil, nil, err
	}

	renderCtx := s.buildContext(req, user, tpl)

	if missing := s.engine.ValidateContext(tpl, renderCtx); len(missing) > 0 {
		s.log.Warn("Context missing required variables", map[string]interface{}{
			"template": tpl.Name,
			"missing":  missing,
		})
	}

	// title and body are required; their failure fails the create
	title, err := s.engine.RenderText(tpl.TitleTemplate, renderCtx)
	if err != nil {
		metrics.NotificationsComposed.WithLabelValues(tpl.Name, "render_failed").Inc()
		return nil, nil, nil, err
	}
	body, err := s.engine.RenderText(tpl.BodyTemplate, renderCtx)
	if err != nil {
		metrics.NotificationsComposed.WithLabelValues(tpl.Name, "render_failed").Inc()
		return nil, nil, nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = tpl.DefaultPriority
	}

	channels := s.resolveChannels(ctx, req.Channels, tpl, user, priority)

	// optional channel content renders degrade to channel drops
	emailSubject, emailBody := "", ""
	if containsChannel(channels, models.ChannelEmail) {
		emailSubject, err = s.engine.RenderText(tpl.EmailSubject, renderCtx)
		if err == nil {
			emailBody, err = s.engine.RenderText(tpl.EmailBody, renderCtx)
		}
		if err != nil {
			s.log.WithError(err).Warn("Dropping email channel after render failure", map[string]interface{}{
				"template": tpl.Name,
			})
			channels = removeChannel(channels, models.ChannelEmail)
			emailSubject, emailBody = "", ""
		}
	}

	deepLinkURL, appRoute := s.mintDeepLink(ctx, tpl, renderCtx, user)

	n := &models.Notification{
		UUID:         uuid.NewString(),
		TemplateID:   tpl.ID,
		TemplateName: tpl.Name,
		Category:     tpl.Category,
		RecipientID:  user.ID,
		SenderID:     req.SenderID,
		Related:      req.Related,
		Title:        title,
		Body:         body,
		EmailSubject: emailSubject,
		EmailBody:    emailBody,
		DeepLinkURL:  deepLinkURL,
		AppRoute:     appRoute,
		Channels:     channels,
		Priority:     priority,
		Type:         tpl.Type,
		Context:      renderCtx,
		Status:       models.StatusPending,
		ScheduledAt:  s.scheduleTime(req.ScheduledAt),
		ExpiresAt:    req.ExpiresAt,
	}
	return n, tpl, user, nil
}

// CreateBulk composes one notification per recipient. A bad recipient is
// logged and skipped. Up to BulkThreshold recipients go through the normal
// per-row create; larger fan-outs switch to the batch path: chunked atomic
// inserts with one enqueue per chunk instead of one per notification.
func (s *Service) CreateBulk(ctx context.Context, templateName string, recipients []Recipient, contextFor func(Recipient) map[string]interface{}, opts CreateRequest) ([]*models.Notification, error) {
	if len(recipients) <= s.cfg.BulkThreshold {
		var created []*models.Notification
		for _, recipient := range recipients {
			n, err := s.Create(ctx, s.bulkRequest(templateName, recipient, contextFor, opts))
			if err != nil {
				s.log.WithError(err).Warn("Skipping recipient in bulk create", map[string]interface{}{
					"template":  templateName,
					"recipient": recipient.ID,
				})
				continue
			}
			created = append(created, n)
		}
		return created, nil
	}

	var created []*models.Notification
	for start := 0; start < len(recipients); start += s.cfg.BulkThreshold {
		end := start + s.cfg.BulkThreshold
		if end > len(recipients) {
			end = len(recipients)
		}
		chunk, err := s.createBulkChunk(ctx, templateName, recipients[start:end], contextFor, opts)
		if err != nil {
			return created, err
		}
		created = append(created, chunk...)
	}
	return created, nil
}

// createBulkChunk composes one chunk in memory, persists it in a single
// transaction, and enqueues the due ids with one queue call.
func (s *Service) createBulkChunk(ctx context.Context, templateName string, recipients []Recipient, contextFor func(Recipient) map[string]interface{}, opts CreateRequest) ([]*models.Notification, error) {
	batch := make([]*models.Notification, 0, len(recipients))
	for _, recipient := range recipients {
		n, tpl, user, err := s.compose(ctx, s.bulkRequest(templateName, recipient, contextFor, opts))
		if err != nil {
			s.log.WithError(err).Warn("Skipping recipient in bulk create", map[string]interface{}{
				"template":  templateName,
				"recipient": recipient.ID,
			})
			continue
		}
		if throttled, reason := s.checkThrottle(ctx, tpl, user.ID); throttled {
			n.Status = models.StatusCancelled
			n.StatusReason = reason
			metrics.NotificationsComposed.WithLabelValues(tpl.Name, "throttled").Inc()
		} else if len(n.Channels) == 0 {
			n.Status = models.StatusCancelled
			n.StatusReason = "no_channels"
			metrics.NotificationsComposed.WithLabelValues(tpl.Name, "no_channels").Inc()
		} else {
			metrics.NotificationsComposed.WithLabelValues(tpl.Name, "created").Inc()
		}
		batch = append(batch, n)
	}
	if len(batch) == 0 {
		return nil, nil
	}

	if _, err := s.repos.Notifications.CreateBatchWithLedger(ctx, batch, nil); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var due []int64
	for _, n := range batch {
		if n.Status == models.StatusPending && !n.ScheduledAt.After(now) {
			due = append(due, n.ID)
		}
	}
	if len(due) > 0 {
		if err := s.enqueue(ctx, due); err != nil {
			s.log.WithError(err).Error("Bulk enqueue failed; scheduler sweep will retry", map[string]interface{}{
				"count": len(due),
			})
		}
	}
	return batch, nil
}

func (s *Service) bulkRequest(templateName string, recipient Recipient, contextFor func(Recipient) map[string]interface{}, opts CreateRequest) CreateRequest {
	req := opts
	req.TemplateName = templateName
	req.Recipient = recipient
	if contextFor != nil {
		req.Context = contextFor(recipient)
	}
	return req
}

// Schedule composes a notification for future delivery.
func (s *Service) Schedule(ctx context.Context, req CreateRequest, at time.Time) (*models.Notification, error) {
	req.ScheduledAt = &at
	return s.Create(ctx, req)
}

// SendImmediate composes and delivers inline, bypassing the queue. Developer
// tooling only.
func (s *Service) SendImmediate(ctx context.Context, req CreateRequest) (*models.Notification, error) {
	n, err := s.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	if n.Status == models.StatusCancelled {
		return n, nil
	}
	if s.delivery == nil {
		return n, nil
	}
	if err := s.delivery.DeliverNow(ctx, []int64{n.ID}); err != nil {
		return n, err
	}
	return s.repos.Notifications.GetByID(ctx, n.ID)
}

// EnqueueDueScheduled moves pending notifications whose schedule arrived
// onto the queue. Driven by the cron scheduler.
func (s *Service) EnqueueDueScheduled(ctx context.Context, limit int) (int, error) {
	ids, err := s.repos.Notifications.DueScheduled(ctx, s.now().UTC(), limit)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.enqueue(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *Service) enqueue(ctx context.Context, ids []int64) error {
	if err := s.repos.Notifications.MarkQueued(ctx, ids); err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, ids)
}

func (s *Service) scheduleTime(at *time.Time) time.Time {
	if at != nil {
		return at.UTC()
	}
	return s.now().UTC()
}

func (s *Service) resolveRecipient(ctx context.Context, r Recipient) (*models.User, error) {
	switch {
	case r.User != nil:
		return r.User, nil
	case r.ID != 0:
		return s.repos.Users.GetByID(ctx, r.ID)
	case r.Email != "":
		return s.repos.Users.GetByEmail(ctx, r.Email)
	default:
		return nil, errors.NewRecipientUnresolvableError("")
	}
}

// loadTemplate prefers the recipient's language, then the default locale,
// then the first active locale.
func (s *Service) loadTemplate(ctx context.Context, name, language string) (*models.Template, error) {
	tried := map[string]bool{}
	for _, locale := range []string{language, s.cfg.DefaultLocale} {
		if locale == "" || tried[locale] {
			continue
		}
		tried[locale] = true
		tpl, err := s.repos.Templates.GetActive(ctx, name, locale)
		if err == nil {
			return tpl, nil
		}
		if !errors.IsCode(err, errors.ErrCodeTemplateNotFound) {
			return nil, err
		}
	}

	locales, err := s.repos.Templates.ActiveLocales(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, locale := range locales {
		if tried[locale] {
			continue
		}
		return s.repos.Templates.GetActive(ctx, name, locale)
	}
	return nil, errors.NewTemplateNotFoundError(name, language)
}

func (s *Service) buildContext(req CreateRequest, user *models.User, tpl *models.Template) map[string]interface{} {
	merged := make(map[string]interface{}, len(req.Context)+6)
	for k, v := range req.Context {
		merged[k] = v
	}
	merged["recipient"] = map[string]interface{}{
		"id":   user.ID,
		"name": user.FullName,
	}
	if req.SenderID != nil {
		merged["sender"] = *req.SenderID
	}
	if req.Related != nil {
		app, model := splitKind(req.Related.Kind)
		merged["object"] = map[string]interface{}{
			"id":    req.Related.ID,
			"model": model,
			"str":   req.Related.Label,
		}
		merged["object_id"] = req.Related.ID
		merged["model_name"] = model
		merged["app_label"] = app
	}
	merged["base_url"] = s.cfg.BaseURL
	return contextdata.Sanitize(merged)
}

// splitKind reads an optionally namespaced related-object kind. "app.model"
// yields both parts; a flat kind has no namespace.
func splitKind(kind string) (app, model string) {
	if i := strings.IndexByte(kind, '.'); i >= 0 {
		return kind[:i], kind[i+1:]
	}
	return "", kind
}

func (s *Service) mintDeepLink(ctx context.Context, tpl *models.Template, renderCtx map[string]interface{}, user *models.User) (string, string) {
	resolved, err := s.engine.ResolveDeepLink(tpl, renderCtx)
	if err != nil {
		s.log.WithError(err).Warn("Deep link resolution failed; sending without link", map[string]interface{}{
			"template": tpl.Name,
		})
		return "", ""
	}
	if resolved == nil {
		return "", ""
	}

	meta := resolved.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["template_name"] = tpl.Name

	link, err := s.links.Mint(ctx, deeplink.MintRequest{
		UserID:        &user.ID,
		Module:        resolved.Module,
		URLName:       resolved.URLName,
		RouteTemplate: resolved.RouteTemplate,
		RouteParams:   resolved.RouteParams,
		FallbackURL:   resolved.FallbackURL,
		ExpiresInDays: resolved.ExpiresAfterDays,
		MaxUses:       resolved.MaxUses,
		Metadata:      meta,
	})
	if err != nil {
		s.log.WithError(err).Warn("Deep link mint failed; sending without link", map[string]interface{}{
			"template": tpl.Name,
			"user_id":  user.ID,
		})
		return "", resolved.InAppRoute
	}
	return s.links.SmartURL(link), resolved.InAppRoute
}

// checkThrottle applies the template's per-user rate limits.
func (s *Service) checkThrottle(ctx context.Context, tpl *models.Template, userID int64) (bool, string) {
	if !tpl.Throttle.Enabled() {
		return false, ""
	}
	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	count, lastAt, err := s.repos.Notifications.CountSince(ctx, userID, tpl.ID, dayStart)
	if err != nil {
		s.log.WithError(err).Warn("Throttle check failed; allowing send", map[string]interface{}{
			"template": tpl.Name,
		})
		return false, ""
	}
	if tpl.Throttle.MaxPerUserPerDay > 0 && count >= tpl.Throttle.MaxPerUserPerDay {
		return true, "throttled"
	}
	if tpl.Throttle.MinIntervalMinutes > 0 && lastAt != nil {
		if now.Sub(*lastAt) < time.Duration(tpl.Throttle.MinIntervalMinutes)*time.Minute {
			return true, "throttled"
		}
	}
	return false, ""
}

func containsChannel(channels []models.Channel, ch models.Channel) bool {
	for _, c := range channels {
		if c == ch {
			return true
		}
	}
	return false
}

func removeChannel(channels []models.Channel, ch models.Channel) []models.Channel {
	out := channels[:0]
	for _, c := range channels {
		if c != ch {
			out = append(out, c)
		}
	}
	return out
}
