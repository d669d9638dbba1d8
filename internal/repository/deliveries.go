package repository

import (
	"context"
	"database/sql"
	"time"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/models"
)

type DeliveryRepo struct {
	db *sql.DB
}

func NewDeliveryRepo(db *sql.DB) *DeliveryRepo {
	return &DeliveryRepo{db: db}
}

const deliveryColumns = `
	id, notification_id, channel, recipient, status, attempt_count, max_attempts,
	next_attempt_at, external_id, vendor_response, error_message,
	sent_at, delivered_at, failed_at, created_at, updated_at`

// Upsert creates the (notification, channel) row if absent. The unique pair
// keeps concurrent adapters from contending.
func (r *DeliveryRepo) Upsert(ctx context.Context, d *models.Delivery) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO notification_deliveries (
			notification_id, channel, recipient, status, attempt_count, max_attempts,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,0,$5,NOW(),NOW())
		ON CONFLICT (notification_id, channel) DO UPDATE SET
			recipient = EXCLUDED.recipient,
			updated_at = NOW()
		RETURNING id`,
		d.NotificationID, string(d.Channel), d.Recipient, string(d.Status), d.MaxAttempts,
	).Scan(&d.ID)
	if err != nil {
		return errors.NewQueryExecutionFailedError("delivery upsert", err)
	}
	return nil
}

// RecordAttempt writes one adapter outcome onto the delivery row. Permanent
// failures exhaust the attempt budget so the retry driver skips them.
func (r *DeliveryRepo) RecordAttempt(ctx context.Context, notificationID int64, channel models.Channel, result models.SendResult, nextAttemptAt *time.Time) error {
	var query string
	switch result.Status {
	case models.StatusDelivered, models.StatusSent:
		query = `
			UPDATE notification_deliveries
			SET status = 'delivered', attempt_count = attempt_count + 1,
			    external_id = $3, vendor_response = $4, error_message = '',
			    next_attempt_at = NULL, sent_at = NOW(), delivered_at = NOW(), updated_at = NOW()
			WHERE notification_id = $1 AND channel = $2`
		_, err := r.db.ExecContext(ctx, query, notificationID, string(channel), result.ExternalID, result.Response)
		if err != nil {
			return errors.NewQueryExecutionFailedError("delivery success", err)
		}
		return nil
	case models.StatusSkipped:
		query = `
			UPDATE notification_deliveries
			SET status = 'skipped', error_message = $3, updated_at = NOW()
			WHERE notification_id = $1 AND channel = $2`
		_, err := r.db.ExecContext(ctx, query, notificationID, string(channel), result.Error)
		if err != nil {
			return errors.NewQueryExecutionFailedError("delivery skip", err)
		}
		return nil
	default:
		if result.Permanent {
			query = `
				UPDATE notification_deliveries
				SET status = 'failed', attempt_count = max_attempts,
				    error_message = $3, vendor_response = $4,
				    next_attempt_at = NULL, failed_at = NOW(), updated_at = NOW()
				WHERE notification_id = $1 AND channel = $2`
			_, err := r.db.ExecContext(ctx, query, notificationID, string(channel), result.Error, result.Response)
			if err != nil {
				return errors.NewQueryExecutionFailedError("delivery permanent failure", err)
			}
			return nil
		}
		query = `
			UPDATE notification_deliveries
			SET status = 'failed', attempt_count = attempt_count + 1,
			    error_message = $3, vendor_response = $4,
			    next_attempt_at = $5, failed_at = NOW(), updated_at = NOW()
			WHERE notification_id = $1 AND channel = $2`
		_, err := r.db.ExecContext(ctx, query, notificationID, string(channel), result.Error, result.Response, nextAttemptAt)
		if err != nil {
			return errors.NewQueryExecutionFailedError("delivery failure", err)
		}
		return nil
	}
}

// DueRetries returns failed deliveries whose backoff elapsed and whose
// attempt budget remains.
func (r *DeliveryRepo) DueRetries(ctx context.Context, now time.Time, limit int) ([]*models.Delivery, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM notification_deliveries
		WHERE status = 'failed' AND attempt_count < max_attempts
		  AND next_attempt_at IS NOT NULL AND next_attempt_at <= $1
		ORDER BY next_attempt_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("due retries", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

func (r *DeliveryRepo) ForNotification(ctx context.Context, notificationID int64) ([]*models.Delivery, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM notification_deliveries
		WHERE notification_id = $1
		ORDER BY channel`, notificationID)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("deliveries for notification", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

func scanDeliveries(rows *sql.Rows) ([]*models.Delivery, error) {
	var out []*models.Delivery
	for rows.Next() {
		var d models.Delivery
		var channel, status string
		var nextAttempt, sentAt, deliveredAt, failedAt sql.NullTime
		var externalID, vendorResponse, errorMessage sql.NullString
		err := rows.Scan(
			&d.ID, &d.NotificationID, &channel, &d.Recipient, &status, &d.AttemptCount, &d.MaxAttempts,
			&nextAttempt, &externalID, &vendorResponse, &errorMessage,
			&sentAt, &deliveredAt, &failedAt, &d.CreatedAt, &d.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		d.Channel = models.Channel(channel)
		d.Status = models.Status(status)
		d.NextAttemptAt = timePtr(nextAttempt)
		d.SentAt = timePtr(sentAt)
		d.DeliveredAt = timePtr(deliveredAt)
		d.FailedAt = timePtr(failedAt)
		d.ExternalID = externalID.String
		d.VendorResponse = vendorResponse.String
		d.ErrorMessage = errorMessage.String
		out = append(out, &d)
	}
	return out, rows.Err()
}
