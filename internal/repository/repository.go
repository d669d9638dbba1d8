// Package repository holds the PostgreSQL persistence layer. Each repo wraps
// one table family; all methods take a context and return wrapped errors.
package repository

import (
	"context"
	"database/sql"
	"time"

	"kashee-notify/internal/models"
)

// TemplateRepository loads and stores notification templates.
type TemplateRepository interface {
	GetActive(ctx context.Context, name, locale string) (*models.Template, error)
	ActiveLocales(ctx context.Context, name string) ([]string, error)
	GetByID(ctx context.Context, id int64) (*models.Template, error)
	Upsert(ctx context.Context, tpl *models.Template) error
	IsReferenced(ctx context.Context, id int64) (bool, error)
}

// NotificationRepository owns notification rows and the inbox surface.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	CreateBatchWithLedger(ctx context.Context, batch []*models.Notification, ledger []*models.LedgerEntry) ([]int64, error)
	GetByID(ctx context.Context, id int64) (*models.Notification, error)
	GetByUUID(ctx context.Context, uuid string) (*models.Notification, error)
	ClaimSending(ctx context.Context, id int64) (bool, error)
	FinishDelivery(ctx context.Context, id int64, status models.Status, results map[models.Channel]models.ChannelResult, sentAt time.Time, deliveredAt *time.Time) error
	MarkQueued(ctx context.Context, ids []int64) error
	CountSince(ctx context.Context, userID, templateID int64, since time.Time) (int, *time.Time, error)
	PendingForTemplate(ctx context.Context, templateID int64, day time.Time) ([]int64, error)
	ReclaimStale(ctx context.Context, olderThan time.Duration) ([]int64, error)
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]int64, error)

	ListInbox(ctx context.Context, userID int64, limit, offset int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, userID int64, uuid string) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	Archive(ctx context.Context, userID int64, uuid string) error
	UnreadCount(ctx context.Context, userID int64) (int, error)
	Stats(ctx context.Context, userID int64) (*models.InboxStats, error)

	DeleteOld(ctx context.Context, olderThan time.Time) (int64, error)
}

// DeepLinkRepository owns deep-link token rows.
type DeepLinkRepository interface {
	Create(ctx context.Context, d *models.DeepLink) error
	GetByToken(ctx context.Context, token string) (*models.DeepLink, error)
	UpdateStatus(ctx context.Context, id int64, status models.DeepLinkStatus) error
	ExtendExpiry(ctx context.Context, id int64, until time.Time) error
	IncrementUse(ctx context.Context, id int64) (*models.DeepLink, error)
	SweepExpired(ctx context.Context, batchSize int) (int64, error)
	DeleteOld(ctx context.Context, olderThan time.Time) (int64, error)
}

// PreferenceRepository resolves per-user channel allow-lists.
type PreferenceRepository interface {
	GetForTemplate(ctx context.Context, userID, templateID int64) (*models.Preferences, error)
	GetForCategory(ctx context.Context, userID int64, category string) (*models.Preferences, error)
	Upsert(ctx context.Context, p *models.Preferences) error
}

// DeliveryRepository owns per-(notification, channel) attempt rows.
type DeliveryRepository interface {
	Upsert(ctx context.Context, d *models.Delivery) error
	RecordAttempt(ctx context.Context, notificationID int64, channel models.Channel, result models.SendResult, nextAttemptAt *time.Time) error
	DueRetries(ctx context.Context, now time.Time, limit int) ([]*models.Delivery, error)
	ForNotification(ctx context.Context, notificationID int64) ([]*models.Delivery, error)
}

// DeviceRepository reads registered push targets.
type DeviceRepository interface {
	ActiveToken(ctx context.Context, userID int64) (string, error)
	LatestModule(ctx context.Context, userID int64) (string, error)
	Register(ctx context.Context, d *models.UserDevice) error
}

// UserRepository resolves recipients.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByMemberCode(ctx context.Context, code string) (*models.User, error)
}

// AnalyticsRepository owns rollups, the producer ledger and click events.
type AnalyticsRepository interface {
	LedgerKeys(ctx context.Context, producer string, since time.Time) (map[string]bool, error)
	UpsertRollups(ctx context.Context, rollups []*models.AnalyticsRollup) error
	CollectDay(ctx context.Context, day time.Time) ([]*models.AnalyticsRollup, error)
	InsertClick(ctx context.Context, c *models.ClickEvent) error
	ClickCounts(ctx context.Context, day time.Time) (map[string]int64, error)
}

// Repositories bundles every repo over one shared connection pool.
type Repositories struct {
	Templates     TemplateRepository
	Notifications NotificationRepository
	DeepLinks     DeepLinkRepository
	Preferences   PreferenceRepository
	Deliveries    DeliveryRepository
	Devices       DeviceRepository
	Users         UserRepository
	Analytics     AnalyticsRepository
}

func New(db *sql.DB) *Repositories {
	return &Repositories{
		Templates:     NewTemplateRepo(db),
		Notifications: NewNotificationRepo(db),
		DeepLinks:     NewDeepLinkRepo(db),
		Preferences:   NewPreferenceRepo(db),
		Deliveries:    NewDeliveryRepo(db),
		Devices:       NewDeviceRepo(db),
		Users:         NewUserRepo(db),
		Analytics:     NewAnalyticsRepo(db),
	}
}
