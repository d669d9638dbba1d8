package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	stderrors "errors"

	"github.com/lib/pq"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/models"
)

const notificationColumns = `
	id, uuid, template_id, template_name, category, recipient_id, sender_id,
	related_kind, related_id, related_label, title, body, email_subject, email_body,
	deep_link_url, app_route, channels, priority, type, context,
	status, status_reason, delivery_status, scheduled_at, sent_at, delivered_at,
	read_at, expires_at, is_read, is_archived, created_at, updated_at`

type NotificationRepo struct {
	db *sql.DB
}

func NewNotificationRepo(db *sql.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

func (r *NotificationRepo) Create(ctx context.Context, n *models.Notification) error {
	channels, _ := json.Marshal(n.Channels)
	contextJSON, _ := json.Marshal(n.Context)
	deliveryStatus, _ := json.Marshal(n.DeliveryStatus)

	var relatedKind, relatedLabel sql.NullString
	var relatedID sql.NullInt64
	if n.Related != nil {
		relatedKind = sql.NullString{String: n.Related.Kind, Valid: true}
		relatedID = sql.NullInt64{Int64: n.Related.ID, Valid: true}
		relatedLabel = sql.NullString{String: n.Related.Label, Valid: n.Related.Label != ""}
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO notifications (
			uuid, template_id, template_name, category, recipient_id, sender_id,
			related_kind, related_id, related_label, title, body, email_subject, email_body,
			deep_link_url, app_route, channels, priority, type, context,
			status, status_reason, delivery_status, scheduled_at, expires_at,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,NOW(),NOW())
		RETURNING id, created_at`,
		n.UUID, n.TemplateID, n.TemplateName, n.Category, n.RecipientID, n.SenderID,
		relatedKind, relatedID, relatedLabel, n.Title, n.Body, n.EmailSubject, n.EmailBody,
		n.DeepLinkURL, n.AppRoute, channels, string(n.Priority), string(n.Type), contextJSON,
		string(n.Status), n.StatusReason, deliveryStatus, n.ScheduledAt, n.ExpiresAt,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return errors.NewQueryExecutionFailedError("notification create", err)
	}
	return nil
}

// CreateBatchWithLedger inserts a producer batch and its ledger rows in one
// transaction. Ledger inserts are conflict-ignore so a producer re-run is
// harmless.
func (r *NotificationRepo) CreateBatchWithLedger(ctx context.Context, batch []*models.Notification, ledger []*models.LedgerEntry) ([]int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(batch))
	for _, n := range batch {
		channels, _ := json.Marshal(n.Channels)
		contextJSON, _ := json.Marshal(n.Context)
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO notifications (
				uuid, template_id, template_name, category, recipient_id,
				title, body, email_subject, email_body, deep_link_url, app_route,
				channels, priority, type, context, status, scheduled_at,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW(),NOW())
			RETURNING id`,
			n.UUID, n.TemplateID, n.TemplateName, n.Category, n.RecipientID,
			n.Title, n.Body, n.EmailSubject, n.EmailBody, n.DeepLinkURL, n.AppRoute,
			channels, string(n.Priority), string(n.Type), contextJSON, string(n.Status), n.ScheduledAt,
		).Scan(&id)
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError("batch notification insert", err)
		}
		n.ID = id
		ids = append(ids, id)
	}

	for _, entry := range ledger {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notification_ledger (producer, source_key, user_id, is_sent, notified_at, created_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW())
			ON CONFLICT (producer, source_key) DO NOTHING`,
			entry.Producer, entry.SourceKey, entry.UserID, entry.IsSent)
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError("ledger insert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("batch commit", err)
	}
	return ids, nil
}

func (r *NotificationRepo) GetByID(ctx context.Context, id int64) (*models.Notification, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications WHERE id = $1`, id)
	return r.scanOne(row)
}

func (r *NotificationRepo) GetByUUID(ctx context.Context, uuid string) (*models.Notification, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications WHERE uuid = $1`, uuid)
	return r.scanOne(row)
}

// ClaimSending performs the queued-to-sending compare-and-set. Returns false
// when another worker already owns the notification or the status moved on.
func (r *NotificationRepo) ClaimSending(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'sending', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'queued')`, id)
	if err != nil {
		return false, errors.NewQueryExecutionFailedError("claim sending", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewQueryExecutionFailedError("claim sending rows", err)
	}
	return n == 1, nil
}

// FinishDelivery atomically writes the folded status and the per-channel
// delivery_status map after all channel adapters returned.
func (r *NotificationRepo) FinishDelivery(ctx context.Context, id int64, status models.Status, results map[models.Channel]models.ChannelResult, sentAt time.Time, deliveredAt *time.Time) error {
	deliveryStatus, _ := json.Marshal(results)
	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = $2, delivery_status = $3, sent_at = $4, delivered_at = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'sending'`,
		id, string(status), deliveryStatus, sentAt, deliveredAt)
	if err != nil {
		return errors.NewQueryExecutionFailedError("finish delivery", err)
	}
	return nil
}

func (r *NotificationRepo) MarkQueued(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'queued', updated_at = NOW()
		WHERE id = ANY($1) AND status IN ('pending', 'failed', 'partially_sent')`, pq.Int64Array(ids))
	if err != nil {
		return errors.NewQueryExecutionFailedError("mark queued", err)
	}
	return nil
}

// CountSince returns how many notifications a user received from one
// template since the given instant, plus the most recent send time. Used by
// throttle evaluation; cancelled rows do not count.
func (r *NotificationRepo) CountSince(ctx context.Context, userID, templateID int64, since time.Time) (int, *time.Time, error) {
	var count int
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(created_at)
		FROM notifications
		WHERE recipient_id = $1 AND template_id = $2 AND created_at >= $3
		  AND status <> 'cancelled'`, userID, templateID, since).Scan(&count, &last)
	if err != nil {
		return 0, nil, errors.NewQueryExecutionFailedError("throttle count", err)
	}
	if !last.Valid {
		return count, nil, nil
	}
	return count, &last.Time, nil
}

// PendingForTemplate collects same-day notifications still pending or failed
// for a template, used by the producer retry sweep.
func (r *NotificationRepo) PendingForTemplate(ctx context.Context, templateID int64, day time.Time) ([]int64, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM notifications
		WHERE template_id = $1 AND created_at >= $2 AND created_at < $3
		  AND status IN ('pending', 'failed')
		ORDER BY id`, templateID, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("pending sweep", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ReclaimStale returns notifications stuck in sending longer than the lease
// and resets them to queued so another worker can pick them up.
func (r *NotificationRepo) ReclaimStale(ctx context.Context, olderThan time.Duration) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE notifications
		SET status = 'queued', updated_at = NOW()
		WHERE status = 'sending' AND updated_at < $1
		RETURNING id`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("reclaim stale", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// DueScheduled returns pending notifications whose scheduled_at has passed.
func (r *NotificationRepo) DueScheduled(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM notifications
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("due scheduled", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ListInbox returns the recipient-visible notifications, newest first.
// Cancelled and failed rows never surface; partial sends surface only when
// in_app itself was delivered.
func (r *NotificationRepo) ListInbox(ctx context.Context, userID int64, limit, offset int) ([]*models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id = $1 AND is_archived = FALSE
		  AND (status IN ('sent', 'delivered')
		       OR (status = 'partially_sent' AND delivery_status->'in_app'->>'status' IN ('sent', 'delivered')))
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("inbox list", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError("inbox scan", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NotificationRepo) MarkRead(ctx context.Context, userID int64, uuid string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = NOW(), updated_at = NOW()
		WHERE uuid = $1 AND recipient_id = $2 AND is_read = FALSE`, uuid, userID)
	if err != nil {
		return errors.NewQueryExecutionFailedError("mark read", err)
	}
	return nil
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = NOW(), updated_at = NOW()
		WHERE recipient_id = $1 AND is_read = FALSE`, userID)
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("mark all read", err)
	}
	return res.RowsAffected()
}

func (r *NotificationRepo) Archive(ctx context.Context, userID int64, uuid string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET is_archived = TRUE, updated_at = NOW()
		WHERE uuid = $1 AND recipient_id = $2`, uuid, userID)
	if err != nil {
		return errors.NewQueryExecutionFailedError("archive", err)
	}
	return nil
}

func (r *NotificationRepo) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND is_read = FALSE AND is_archived = FALSE
		  AND status IN ('sent', 'delivered', 'partially_sent')`, userID).Scan(&count)
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("unread count", err)
	}
	return count, nil
}

// Stats aggregates the visible inbox: totals, unread, and per-category
// counts in one scan.
func (r *NotificationRepo) Stats(ctx context.Context, userID int64) (*models.InboxStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category, COUNT(*), COUNT(*) FILTER (WHERE is_read = FALSE)
		FROM notifications
		WHERE recipient_id = $1 AND is_archived = FALSE
		  AND status IN ('sent', 'delivered', 'partially_sent')
		GROUP BY category`, userID)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("inbox stats", err)
	}
	defer rows.Close()

	stats := &models.InboxStats{ByCategory: map[string]int{}}
	for rows.Next() {
		var category string
		var total, unread int
		if err := rows.Scan(&category, &total, &unread); err != nil {
			return nil, errors.NewQueryExecutionFailedError("inbox stats scan", err)
		}
		stats.ByCategory[category] = total
		stats.Total += total
		stats.Unread += unread
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("inbox stats rows", err)
	}
	return stats, nil
}

func (r *NotificationRepo) DeleteOld(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE created_at < $1 AND status IN ('delivered', 'failed', 'cancelled', 'partially_sent')`, olderThan)
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("notification cleanup", err)
	}
	return res.RowsAffected()
}

func (r *NotificationRepo) scanOne(row rowScanner) (*models.Notification, error) {
	n, err := scanNotification(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("notification get", err)
	}
	return n, nil
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var n models.Notification
	var senderID, relatedID sql.NullInt64
	var relatedKind, relatedLabel, statusReason sql.NullString
	var channels, contextJSON, deliveryStatus []byte
	var priority, typ, status string
	var sentAt, deliveredAt, readAt, expiresAt sql.NullTime

	err := row.Scan(
		&n.ID, &n.UUID, &n.TemplateID, &n.TemplateName, &n.Category, &n.RecipientID, &senderID,
		&relatedKind, &relatedID, &relatedLabel, &n.Title, &n.Body, &n.EmailSubject, &n.EmailBody,
		&n.DeepLinkURL, &n.AppRoute, &channels, &priority, &typ, &contextJSON,
		&status, &statusReason, &deliveryStatus, &n.ScheduledAt, &sentAt, &deliveredAt,
		&readAt, &expiresAt, &n.IsRead, &n.IsArchived, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.Priority = models.Priority(priority)
	n.Type = models.NotificationType(typ)
	n.Status = models.Status(status)
	if statusReason.Valid {
		n.StatusReason = statusReason.String
	}
	if senderID.Valid {
		n.SenderID = &senderID.Int64
	}
	if relatedKind.Valid {
		n.Related = &models.RelatedObject{Kind: relatedKind.String, ID: relatedID.Int64, Label: relatedLabel.String}
	}
	unmarshalInto(channels, &n.Channels)
	unmarshalInto(contextJSON, &n.Context)
	unmarshalInto(deliveryStatus, &n.DeliveryStatus)
	n.SentAt = timePtr(sentAt)
	n.DeliveredAt = timePtr(deliveredAt)
	n.ReadAt = timePtr(readAt)
	n.ExpiresAt = timePtr(expiresAt)
	return &n, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
